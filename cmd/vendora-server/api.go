// cmd/vendora-server/api.go
package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	stderrors "vendora/internal/common/errors"
	"vendora/internal/common/logger"
	"vendora/internal/flow"
	"vendora/internal/ingest"
)

type apiServer struct {
	manager *flow.Manager
	ingest  *ingest.Handler
	logger  logger.Logger
}

func newAPIServer(manager *flow.Manager, ingestHandler *ingest.Handler, log logger.Logger) *apiServer {
	return &apiServer{
		manager: manager,
		ingest:  ingestHandler,
		logger:  log,
	}
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/query", s.handleQuery)
	mux.HandleFunc("/api/v1/task/", s.handleTaskStatus)
	mux.HandleFunc("/api/v1/system/metrics", s.handleSystemMetrics)
	if s.ingest != nil {
		mux.HandleFunc("/api/v1/ingest/report", s.handleIngest)
	}
	return mux
}

type queryRequest struct {
	DealershipID string                 `json:"dealership_id"`
	Query        string                 `json:"query"`
	Context      map[string]interface{} `json:"context,omitempty"`
}

func (s *apiServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "MALFORMED_REQUEST", err.Error())
		return
	}

	ctx, span := otel.Tracer("vendora-server").Start(r.Context(), "process_query")
	defer span.End()

	resp, err := s.manager.ProcessUserQuery(ctx, req.DealershipID, req.Query, req.Context)
	if err != nil {
		s.writeStandardError(w, err)
		return
	}

	span.SetAttributes(
		attribute.String("task.id", resp.TaskID),
		attribute.String("task.complexity", string(resp.Complexity)),
		attribute.Int("task.revisions", resp.RevisionCount),
	)
	s.writeJSON(w, http.StatusOK, resp)
}

// handleTaskStatus serves GET /api/v1/task/{id}/status.
func (s *apiServer) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/task/")
	if !strings.HasSuffix(rest, "/status") {
		s.writeError(w, http.StatusNotFound, "NOT_FOUND", "expected /api/v1/task/{id}/status")
		return
	}
	taskID := strings.TrimSuffix(rest, "/status")
	if taskID == "" {
		s.writeError(w, http.StatusNotFound, "NOT_FOUND", "expected /api/v1/task/{id}/status")
		return
	}

	status, err := s.manager.GetFlowStatus(taskID)
	if err != nil {
		s.writeStandardError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}
	s.writeJSON(w, http.StatusOK, s.manager.GetMetrics())
}

type ingestRequest struct {
	ingest.Request
	Attachments []struct {
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
		Data        []byte `json:"data"`
	} `json:"attachments"`
}

func (s *apiServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "MALFORMED_REQUEST", err.Error())
		return
	}

	attachments := make([]ingest.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, ingest.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Data:        a.Data,
		})
	}

	result, err := s.ingest.Process(r.Context(), req.Request, attachments)
	if err != nil {
		s.writeStandardError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, result)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (s *apiServer) writeStandardError(w http.ResponseWriter, err error) {
	if stdErr, ok := stderrors.AsStandardError(err); ok {
		s.writeJSON(w, stderrors.HTTPStatus(stdErr.Code), errorBody{
			Code:    string(stdErr.Code),
			Message: stdErr.Message,
			Details: stdErr.Details,
		})
		return
	}
	s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorBody{Code: code, Message: message})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
