package pipeline

import "sync"

// projectLocks is the per-project advisory lock table. Two concurrent stage
// executions for the same project are mutually excluded here; the
// UNIQUE(project_id, stage_number) constraint on stages is the backstop for
// separate processes sharing a database file.
type projectLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newProjectLocks() *projectLocks {
	return &projectLocks{held: make(map[string]bool)}
}

// acquire returns false if the project is already locked.
func (l *projectLocks) acquire(projectID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[projectID] {
		return false
	}
	l.held[projectID] = true
	return true
}

func (l *projectLocks) release(projectID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, projectID)
}
