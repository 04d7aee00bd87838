// Package api is the HTTP shell over the conversation service and the
// knowledge base.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"labrag/internal/agent"
	"labrag/internal/config"
	"labrag/internal/ledger"
	"labrag/internal/util"
	"labrag/internal/vector"
	"labrag/internal/workflows"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
)

// WorkflowClient is the part of the Temporal client the server uses.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options tclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (tclient.WorkflowRun, error)
	QueryWorkflow(ctx context.Context, workflowID string, runID string, queryType string, args ...interface{}) (converter.EncodedValue, error)
}

type Server struct {
	cfg      config.Config
	agent    *agent.Service
	ledger   ledger.Ledger
	index    vector.Index
	temporal WorkflowClient
	log      *slog.Logger
}

// NewServer builds the handler set. temporal may be nil, in which case the
// build endpoints answer 503.
func NewServer(cfg config.Config, svc *agent.Service, led ledger.Ledger, idx vector.Index, temporal WorkflowClient, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, agent: svc, ledger: led, index: idx, temporal: temporal, log: log}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/chat/", s.handleChat)
	mux.HandleFunc("/api/ledger", s.handleLedger)
	mux.HandleFunc("/api/sources", s.handleSources)
	mux.HandleFunc("/api/knowledge-base/builds", s.handleBuilds)
	mux.HandleFunc("/api/knowledge-base/builds/{id}", s.handleBuildProgress)
	return withCORS(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("message is required"))
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = uuid.NewString()
	}

	res, err := s.agent.RunTurn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.log.ErrorContext(r.Context(), "chat turn failed", "session_id", req.SessionID, "err", err)
		writeErr(w, turnStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: res.Reply, SessionID: req.SessionID})
}

func turnStatus(err error) int {
	switch {
	case errors.Is(err, agent.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, util.ErrMalformedAnswer), errors.Is(err, util.ErrCallFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	entries, err := s.ledger.ListAll(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": entries})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	sources, err := s.index.Sources(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (s *Server) handleBuilds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	if s.temporal == nil {
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("workflow engine not configured"))
		return
	}
	var req struct {
		Force bool `json:"force"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
	}
	sf, err := config.LoadSources(s.cfg.SourcesFile)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	buildID := uuid.NewString()
	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                    "kb-build-" + buildID,
		TaskQueue:             s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}, workflows.KnowledgeBaseBuildWorkflow, workflows.KnowledgeBaseBuildInput{
		BuildID:           buildID,
		PapersDir:         sf.DataSources.PapersDir,
		URLs:              sf.DataSources.MediaURLs,
		Force:             req.Force,
		MaxConcurrentURLs: s.cfg.IngestMaxConcurrency,
	})
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"build_id": buildID, "workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func (s *Server) handleBuildProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	if s.temporal == nil {
		writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("workflow engine not configured"))
		return
	}
	id := r.PathValue("id")
	resp, err := s.temporal.QueryWorkflow(r.Context(), "kb-build-"+id, "", workflows.QueryGetProgress)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	var prog workflows.KnowledgeBaseBuildProgress
	if err := resp.Get(&prog); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "LR-API-4000"

	switch {
	case status == http.StatusBadGateway:
		if errors.Is(err, util.ErrMalformedAnswer) {
			return apiError{Code: "LR-LLM-5021", Message: "The model returned a malformed answer. Please retry."}
		}
		return apiError{Code: "LR-LLM-5020", Message: "Upstream model provider unavailable. Retry shortly."}
	case status == http.StatusServiceUnavailable:
		return apiError{Code: "LR-API-5030", Message: "Knowledge base builds need a workflow engine. Start the worker and retry."}
	case status == http.StatusGatewayTimeout:
		return apiError{Code: "LR-API-5040", Message: "The request took too long. Please retry."}
	case status >= 500:
		if errors.Is(err, util.ErrStorage) {
			return apiError{Code: "LR-DB-5001", Message: "Storage is unavailable. Check local services and retry."}
		}
		if errors.Is(err, util.ErrConfiguration) {
			return apiError{Code: "LR-CFG-5002", Message: "Server configuration is invalid. Check service logs."}
		}
		return apiError{Code: "LR-API-5000", Message: "Internal server error. Please retry or check service logs."}
	case status == http.StatusBadRequest:
		code = "LR-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "LR-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "LR-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusMethodNotAllowed:
		code = "LR-API-4005"
		msg = "This endpoint does not support the requested method."
	}

	// For 4xx, keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		low := strings.ToLower(err.Error())
		switch {
		case strings.Contains(low, "message is required"), errors.Is(err, agent.ErrEmptyMessage):
			msg = "A non-empty message is required."
		case strings.Contains(low, "invalid json"):
			msg = "Malformed JSON request body."
		}
	}
	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
