package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/cors"

	"github.com/joescharf/cqi/internal/engine"
	"github.com/joescharf/cqi/internal/orchestrator"
	"github.com/joescharf/cqi/internal/output"
	"github.com/joescharf/cqi/internal/report"
	"github.com/joescharf/cqi/internal/schema"
	"github.com/joescharf/cqi/internal/store"
)

// maxBodyBytes bounds request bodies; prior analyses sent with chat requests
// are the largest payloads.
const maxBodyBytes = 4 << 20

// Runner executes analyses, chats and indexing. *engine.Service implements it.
type Runner interface {
	Analyze(ctx context.Context, req engine.AnalyzeRequest) (*report.Report, error)
	Ask(ctx context.Context, req engine.AskRequest) (*engine.AskResult, error)
	Index(ctx context.Context, path string) (*store.IndexInfo, error)
	Tools(ctx context.Context, path string) ([]schema.Tool, error)
}

// Server provides the REST API handlers.
type Server struct {
	runner Runner
	store  store.Store
	logger *slog.Logger
}

// NewServer creates a new API server.
func NewServer(runner Runner, s store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{runner: runner, store: s, logger: logger}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/tools", s.listTools)

	mux.HandleFunc("POST /api/v1/analyze", s.analyze)
	mux.HandleFunc("POST /api/v1/chat", s.chat)
	mux.HandleFunc("POST /api/v1/index", s.index)

	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", s.listMessages)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.deleteSession)

	mux.HandleFunc("GET /api/v1/cache/stats", s.cacheStats)
	mux.HandleFunc("DELETE /api/v1/cache", s.clearCache)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	})
	return c.Handler(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// runError maps run failures to status codes. Invalid requests are the
// caller's fault; everything else is reported as a server error.
func (s *Server) runError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrNoQuestion),
		errors.Is(err, orchestrator.ErrInvalidMode),
		errors.Is(err, engine.ErrNoChanges):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Warn("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Tools ---

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.runner.Tools(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tools)
}

// --- Runs ---

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req engine.AnalyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	format, err := output.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rep, err := s.runner.Analyze(r.Context(), req)
	if err != nil {
		s.runError(w, err)
		return
	}

	switch format {
	case output.FormatMarkdown:
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = output.WriteReport(w, rep, format)
	case output.FormatYAML:
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_ = output.WriteReport(w, rep, format)
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req engine.AskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.SessionID != "" {
		if _, err := s.store.GetSession(r.Context(), req.SessionID); err != nil {
			s.runError(w, err)
			return
		}
	}

	res, err := s.runner.Ask(r.Context(), req)
	if err != nil {
		s.runError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	info, err := s.runner.Index(r.Context(), req.Path)
	if err != nil {
		s.runError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// --- Sessions ---

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	sessions, err := s.store.ListSessions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.runError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetSession(r.Context(), id); err != nil {
		s.runError(w, err)
		return
	}
	msgs, err := s.store.ListMessages(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		s.runError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Cache ---

func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.CacheStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.CacheClear(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": n})
}
