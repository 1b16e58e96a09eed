// Package webui serves a read-only HTTP dashboard over the task graph.
// Everything here is a view; all mutations go through the MCP tools.
package webui

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/untoldecay/taskgraph/internal/engine"
	"github.com/untoldecay/taskgraph/internal/storage"
)

//go:embed index.html
var indexHTML []byte

// Server is the dashboard HTTP server.
type Server struct {
	httpServer *http.Server
	engine     *engine.Engine
	log        *slog.Logger
}

// New builds the server on the given port.
func New(eng *engine.Engine, port int, log *slog.Logger) *Server {
	s := &Server{engine: eng, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/projects", s.handleProjects)
	mux.HandleFunc("GET /api/tree", s.handleTreeQuery)
	mux.HandleFunc("GET /api/projects/{name}/tree", s.handleTree)
	mux.HandleFunc("GET /api/projects/{name}/onboard", s.handleOnboard)
	mux.HandleFunc("GET /api/projects/{name}/knowledge", s.handleKnowledge)
	mux.HandleFunc("GET /api/projects/{name}/continuity", s.handleContinuity)
	mux.HandleFunc("GET /api/projects/{name}/integrity", s.handleIntegrity)
	mux.HandleFunc("GET /api/nodes/{id}", s.handleNode)
	mux.HandleFunc("GET /api/nodes/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleIndex)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      s.logging(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.log.Info("dashboard listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.engine.Store().ListProjects(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	tree, err := s.engine.Tree(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// handleTreeQuery is the ?project= variant of the tree view.
func (s *Server) handleTreeQuery(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "project query parameter is required", "code": engine.CodeValidation,
		})
		return
	}
	tree, err := s.engine.Tree(r.Context(), project)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// handleOnboard is the orientation bundle narrowed to one project. The
// optional agent query parameter scopes the claims list.
func (s *Server) handleOnboard(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	res, err := s.engine.Onboard(r.Context(), r.URL.Query().Get("agent"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var summary any
	for _, p := range res.Projects {
		if p.Project == name {
			summary = p
		}
	}
	if summary == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "project " + name + " not found", "code": engine.CodeProjectNotFound,
		})
		return
	}
	var claims []any
	for _, n := range res.YourClaims {
		if n.Project == name {
			claims = append(claims, n)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project":          summary,
		"claims":           claims,
		"recent_knowledge": res.RecentKnowledge[name],
	})
}

func (s *Server) handleKnowledge(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.KnowledgeSearch(r.Context(), r.PathValue("name"),
		r.URL.Query().Get("q"), r.URL.Query().Get("category"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleContinuity(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Continuity(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Integrity(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Context(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	before, _ := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	result, err := s.engine.History(r.Context(), r.PathValue("id"), before, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := engine.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case engine.CodeNotFound, engine.CodeProjectNotFound:
		status = http.StatusNotFound
	case engine.CodeValidation, engine.CodeInvalidCategory:
		status = http.StatusBadRequest
	}
	if errors.Is(err, storage.ErrNotFound) {
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.log.Error("dashboard request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
