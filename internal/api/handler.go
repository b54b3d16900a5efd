// Package api exposes the generation pipeline over HTTP and MCP.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/narratex/loom/internal/ingest"
	"github.com/narratex/loom/internal/pipeline"
	"github.com/narratex/loom/internal/storage"
)

const maxRequestBodySize = 1 << 20  // 1MB
const maxReferenceBodySize = 15 << 20
const maxURLFetchSize = 5 << 20

type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Store        *storage.Store
	Token        string // optional; empty disables auth
	HTTPClient   *http.Client
}

// NewHandler returns the HTTP API router.
func NewHandler(deps Deps) http.Handler {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/create-project", handleCreateProject(deps))
		r.Post("/execute-stage", handleExecuteStage(deps))
		r.Get("/project-status/{id}", handleProjectStatus(deps))
		r.Get("/list-projects", handleListProjects(deps))
		r.Post("/reference", handleAddReference(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleCreateProject(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var spec pipeline.ProjectSpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if spec.Name == "" || spec.ContentType == "" || spec.Topic == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "project_name, content_type, and topic are required")
			return
		}

		p, err := deps.Orchestrator.CreateProject(spec)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create project: %v", err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"success": true,
			"project": p,
		})
	}
}

type executeStageRequest struct {
	ProjectID   string            `json:"project_id"`
	StageNumber int               `json:"stage_number"`
	AIConfig    pipeline.AIConfig `json:"ai_config"`
}

func handleExecuteStage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req executeStageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ProjectID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "project_id is required")
			return
		}

		result, err := deps.Orchestrator.ExecuteStage(r.Context(), req.ProjectID, req.StageNumber, req.AIConfig)
		if err != nil {
			writePipelineError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"stage":   result,
		})
	}
}

func handleProjectStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		status, err := deps.Orchestrator.Status(id)
		if errors.Is(err, pipeline.ErrProjectNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get project status: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, status)
	}
}

func handleListProjects(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)
		status := r.URL.Query().Get("status")
		contentType := r.URL.Query().Get("content_type")

		projects, err := deps.Orchestrator.List(status, contentType, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list projects: %v", err)
			return
		}
		if projects == nil {
			projects = []storage.Project{}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"projects": projects,
			"count":    len(projects),
		})
	}
}

type referenceRequest struct {
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Type      string `json:"type"` // "text", "file", or "url"
	Content   string `json:"content"`
	URL       string `json:"url"`
	MimeType  string `json:"mime_type"`
}

// handleAddReference attaches background material to a project. File content
// arrives base64-encoded; URLs are fetched server-side.
func handleAddReference(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxReferenceBodySize)
		defer r.Body.Close()

		var req referenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ProjectID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "project_id is required")
			return
		}
		if req.Content == "" && req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of content or url is required")
			return
		}
		if req.Type == "" {
			req.Type = "text"
		}

		if _, err := deps.Store.GetProject(req.ProjectID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "project not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load project: %v", err)
			return
		}

		var payload []byte
		switch req.Type {
		case "url":
			body, err := fetchURL(r.Context(), deps.HTTPClient, req.URL)
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "failed to fetch url: %v", err)
				return
			}
			payload = body
			if req.Title == "" {
				req.Title = req.URL
			}
			if req.MimeType == "" {
				req.MimeType = "text/html"
			}
		case "file":
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			payload = decoded
		default:
			payload = []byte(req.Content)
		}

		text, err := ingest.ExtractText(req.Title, req.MimeType, payload)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "could not extract text: %v", err)
			return
		}

		doc := storage.ReferenceDoc{
			ID:        uuid.NewString(),
			ProjectID: req.ProjectID,
			Title:     req.Title,
			Source:    req.Type,
			Content:   text,
		}
		if err := deps.Store.SaveReferenceDoc(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save reference: %v", err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"success":      true,
			"reference_id": doc.ID,
			"chars":        len(text),
		})
	}
}

func fetchURL(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("url returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxURLFetchSize))
}

// writePipelineError maps orchestrator sentinels to HTTP status codes.
func writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrProjectNotFound):
		httpError(w, http.StatusNotFound, "not_found", "project not found")
	case errors.Is(err, pipeline.ErrInvalidStage),
		errors.Is(err, pipeline.ErrPreviousStageIncomplete),
		errors.Is(err, pipeline.ErrStageAlreadyCompleted):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, pipeline.ErrStageInProgress):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"success": false,
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
