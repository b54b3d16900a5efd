package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/narratex/loom/internal/composer"
	"github.com/narratex/loom/internal/pipeline"
	"github.com/narratex/loom/internal/provider"
	"github.com/narratex/loom/internal/storage"
)

type stubProvider struct {
	responses []string
	err       error
	calls     int
}

func (p *stubProvider) GenerateCompletion(_ context.Context, _ string, _ provider.Options) (provider.Completion, error) {
	p.calls++
	if p.err != nil {
		return provider.Completion{}, p.err
	}
	if len(p.responses) == 0 {
		return provider.Completion{}, errors.New("no stub response left")
	}
	next := p.responses[0]
	p.responses = p.responses[1:]
	return provider.Completion{Content: next}, nil
}

func (p *stubProvider) Name() string { return "stub" }

type testServer struct {
	handler http.Handler
	store   *storage.Store
	orch    *pipeline.Orchestrator
	prov    *stubProvider
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	prov := &stubProvider{}
	orch := pipeline.New(store,
		func(string) (provider.Provider, error) { return prov, nil },
		composer.NewFull(store),
		composer.NewCompact(store, nil, 0),
		pipeline.Defaults{Provider: "stub", Model: "test-model"},
	)

	return &testServer{
		handler: NewHandler(Deps{Orchestrator: orch, Store: store, Token: token}),
		store:   store,
		orch:    orch,
		prov:    prov,
	}
}

func (ts *testServer) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return m
}

func errType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("response has no error object: %q", rec.Body.String())
	}
	typ, _ := errObj["type"].(string)
	return typ
}

func (ts *testServer) createProject(t *testing.T) string {
	t.Helper()
	p, err := ts.orch.CreateProject(pipeline.ProjectSpec{
		Name:        "The Lighthouse",
		ContentType: "novel",
		Topic:       "isolation",
	})
	if err != nil {
		t.Fatalf("creating project: %v", err)
	}
	return p.ID
}

const stubStage1 = `{"title": "T", "premise": "p", "synopsis": "s", "themes": ["a"]}`

func TestHealthIsOpen(t *testing.T) {
	ts := newTestServer(t, "secret")
	rec := ts.request(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("health body = %q", rec.Body.String())
	}
}

func TestBearerAuth(t *testing.T) {
	ts := newTestServer(t, "secret")

	rec := ts.request(t, http.MethodGet, "/list-projects", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}
	if got := errType(t, rec); got != "authentication_error" {
		t.Errorf("error type = %q", got)
	}

	rec = ts.request(t, http.MethodGet, "/list-projects", "wrong", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}

	rec = ts.request(t, http.MethodGet, "/list-projects", "secret", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rec.Code)
	}
}

func TestAuthDisabledWithoutToken(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.request(t, http.MethodGet, "/list-projects", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", rec.Code)
	}
}

func TestCreateProjectEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.request(t, http.MethodPost, "/create-project", "", map[string]any{
		"project_name": "The Lighthouse",
		"content_type": "novel",
		"topic":        "isolation",
		"genre":        "literary",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Error("success flag missing")
	}
	project, ok := body["project"].(map[string]any)
	if !ok {
		t.Fatalf("no project in response: %q", rec.Body.String())
	}
	id, _ := project["id"].(string)
	if id == "" {
		t.Fatalf("project has no id: %q", rec.Body.String())
	}
	if _, ok := project["ID"]; ok {
		t.Error("response leaks Go-cased keys")
	}
	if project["content_type"] != "novel" {
		t.Errorf("content_type = %v", project["content_type"])
	}
	if _, err := ts.store.GetProject(id); err != nil {
		t.Errorf("project not persisted: %v", err)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.request(t, http.MethodPost, "/create-project", "", map[string]any{
		"project_name": "incomplete",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if got := errType(t, rec); got != "invalid_request_error" {
		t.Errorf("error type = %q", got)
	}

	rec = ts.request(t, http.MethodPost, "/create-project", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty body: status = %d, want 400", rec.Code)
	}
}

func TestExecuteStageEndpoint(t *testing.T) {
	ts := newTestServer(t, "")
	projectID := ts.createProject(t)
	ts.prov.responses = []string{stubStage1}

	rec := ts.request(t, http.MethodPost, "/execute-stage", "", map[string]any{
		"project_id":   projectID,
		"stage_number": 1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	stage, ok := body["stage"].(map[string]any)
	if !ok {
		t.Fatalf("no stage in response: %q", rec.Body.String())
	}
	if stage["stage_number"] != float64(1) || stage["next_stage"] != float64(2) {
		t.Errorf("stage = %v", stage)
	}
}

func TestExecuteStageErrorMapping(t *testing.T) {
	ts := newTestServer(t, "")
	projectID := ts.createProject(t)

	tests := []struct {
		name     string
		body     map[string]any
		wantCode int
		wantType string
	}{
		{
			name:     "unknown project",
			body:     map[string]any{"project_id": uuid.NewString(), "stage_number": 1},
			wantCode: http.StatusNotFound,
			wantType: "not_found",
		},
		{
			name:     "invalid stage number",
			body:     map[string]any{"project_id": projectID, "stage_number": 9},
			wantCode: http.StatusBadRequest,
			wantType: "invalid_request_error",
		},
		{
			name:     "previous stage incomplete",
			body:     map[string]any{"project_id": projectID, "stage_number": 2},
			wantCode: http.StatusBadRequest,
			wantType: "invalid_request_error",
		},
		{
			name:     "missing project id",
			body:     map[string]any{"stage_number": 1},
			wantCode: http.StatusBadRequest,
			wantType: "invalid_request_error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.request(t, http.MethodPost, "/execute-stage", "", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %q)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if got := errType(t, rec); got != tt.wantType {
				t.Errorf("error type = %q, want %q", got, tt.wantType)
			}
		})
	}
}

func TestExecuteStageConflicts(t *testing.T) {
	ts := newTestServer(t, "")
	projectID := ts.createProject(t)
	ts.prov.responses = []string{stubStage1}

	rec := ts.request(t, http.MethodPost, "/execute-stage", "", map[string]any{
		"project_id": projectID, "stage_number": 1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("first run: status = %d", rec.Code)
	}

	rec = ts.request(t, http.MethodPost, "/execute-stage", "", map[string]any{
		"project_id": projectID, "stage_number": 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("rerun of completed stage: status = %d, want 400", rec.Code)
	}

	// A stage row stuck in progress maps to a conflict.
	other := ts.createProject(t)
	err := ts.store.CreateStage(storage.Stage{
		ID: uuid.NewString(), ProjectID: other, StageNumber: 1,
		StageName: "big_picture", Status: storage.StageInProgress,
	})
	if err != nil {
		t.Fatalf("creating stage row: %v", err)
	}
	rec = ts.request(t, http.MethodPost, "/execute-stage", "", map[string]any{
		"project_id": other, "stage_number": 1,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("in-progress stage: status = %d, want 409", rec.Code)
	}
	if got := errType(t, rec); got != "conflict" {
		t.Errorf("error type = %q", got)
	}
}

func TestProjectStatusEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.request(t, http.MethodGet, "/project-status/"+uuid.NewString(), "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown project: status = %d, want 404", rec.Code)
	}

	projectID := ts.createProject(t)
	rec = ts.request(t, http.MethodGet, "/project-status/"+projectID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	project, ok := body["project"].(map[string]any)
	if !ok {
		t.Fatalf("no project in status: %q", rec.Body.String())
	}
	if project["status"] != "pending" {
		t.Errorf("project status = %v", project["status"])
	}
	if project["id"] != projectID {
		t.Errorf("project id = %v, want %s", project["id"], projectID)
	}
	stats, ok := body["statistics"].(map[string]any)
	if !ok {
		t.Fatalf("no statistics in status: %q", rec.Body.String())
	}
	if stats["completed_stages"] != float64(0) {
		t.Errorf("completed_stages = %v", stats["completed_stages"])
	}
}

func TestListProjectsEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	rec := ts.request(t, http.MethodGet, "/list-projects", "", nil)
	body := decodeBody(t, rec)
	if body["count"] != float64(0) {
		t.Errorf("empty list count = %v", body["count"])
	}
	if _, ok := body["projects"].([]any); !ok {
		t.Errorf("projects is not an array: %q", rec.Body.String())
	}

	ts.createProject(t)
	if _, err := ts.orch.CreateProject(pipeline.ProjectSpec{
		Name: "Course", ContentType: "course", Topic: "go",
	}); err != nil {
		t.Fatalf("creating project: %v", err)
	}

	rec = ts.request(t, http.MethodGet, "/list-projects?content_type=course", "", nil)
	body = decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Errorf("filtered count = %v, want 1", body["count"])
	}
	projects, _ := body["projects"].([]any)
	if len(projects) != 1 {
		t.Fatalf("projects = %v", body["projects"])
	}
	// The CLI decodes these exact keys.
	p, _ := projects[0].(map[string]any)
	if p["name"] != "Course" || p["content_type"] != "course" || p["status"] != "pending" {
		t.Errorf("project fields = %v", p)
	}
	if p["current_stage"] != float64(0) {
		t.Errorf("current_stage = %v", p["current_stage"])
	}
}

func TestAddReferenceText(t *testing.T) {
	ts := newTestServer(t, "")
	projectID := ts.createProject(t)

	rec := ts.request(t, http.MethodPost, "/reference", "", map[string]any{
		"project_id": projectID,
		"title":      "Manual",
		"type":       "text",
		"content":    "Lamps   must be trimmed\nevery four hours.",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["reference_id"] == "" {
		t.Errorf("body = %v", body)
	}

	docs, err := ts.store.ListReferenceDocs(projectID)
	if err != nil {
		t.Fatalf("listing docs: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("doc count = %d", len(docs))
	}
	if docs[0].Source != "text" || !strings.Contains(docs[0].Content, "trimmed every four hours") {
		t.Errorf("doc = %+v", docs[0])
	}
}

func TestAddReferenceValidation(t *testing.T) {
	ts := newTestServer(t, "")
	projectID := ts.createProject(t)

	rec := ts.request(t, http.MethodPost, "/reference", "", map[string]any{
		"project_id": uuid.NewString(), "content": "x",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown project: status = %d, want 404", rec.Code)
	}

	rec = ts.request(t, http.MethodPost, "/reference", "", map[string]any{
		"project_id": projectID,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no content: status = %d, want 400", rec.Code)
	}

	rec = ts.request(t, http.MethodPost, "/reference", "", map[string]any{
		"project_id": projectID, "type": "file", "content": "not-base64!!!",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad base64: status = %d, want 400", rec.Code)
	}
}

func TestAddReferenceURL(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><head><script>junk()</script></head><body><p>Keeper logbook, page one.</p></body></html>")
	}))
	defer origin.Close()

	ts := newTestServer(t, "")
	projectID := ts.createProject(t)

	rec := ts.request(t, http.MethodPost, "/reference", "", map[string]any{
		"project_id": projectID,
		"type":       "url",
		"url":        origin.URL,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}

	docs, err := ts.store.ListReferenceDocs(projectID)
	if err != nil {
		t.Fatalf("listing docs: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("doc count = %d", len(docs))
	}
	if docs[0].Title != origin.URL {
		t.Errorf("title = %q, want the source url", docs[0].Title)
	}
	if !strings.Contains(docs[0].Content, "Keeper logbook") {
		t.Errorf("content = %q", docs[0].Content)
	}
	if strings.Contains(docs[0].Content, "junk()") {
		t.Error("script content leaked into extracted text")
	}
}
