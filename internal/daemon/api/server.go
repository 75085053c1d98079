// Copyright 2025 The Draftforge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api exposes the draftforged HTTP API: starting pipeline
// runs, polling their status, persona chat, schedules, health, and
// Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/draftforge/draftforge/internal/daemon/scheduler"
	forgelog "github.com/draftforge/draftforge/internal/log"
	"github.com/draftforge/draftforge/internal/store"
	"github.com/draftforge/draftforge/pkg/pipeline"
)

// Submitter starts a pipeline run and returns its run ID.
type Submitter interface {
	Submit(ctx context.Context, pipeline string, inputs map[string]interface{}, priority int) (string, error)
}

// Chatter handles persona chat turns.
type Chatter interface {
	Chat(ctx context.Context, persona map[string]interface{}, message string, history []pipeline.ChatMessage) (*pipeline.ChatReply, error)
}

// ScheduleLister reports schedule status.
type ScheduleLister interface {
	List() []scheduler.Status
}

// Config assembles the server's collaborators.
type Config struct {
	Version   string
	Submitter Submitter
	Store     *store.Store
	Registry  *pipeline.Registry
	Chatter   Chatter
	Schedules ScheduleLister
	Auth      AuthConfig
	Logger    *slog.Logger
}

// Server is the daemon HTTP API.
type Server struct {
	cfg    Config
	logger *slog.Logger
	router chi.Router
}

// NewServer builds the router with all endpoints registered.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{cfg: cfg, logger: logger.With("component", "api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	// Health and metrics stay unauthenticated for probes and scrapers.
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(cfg.Auth.middleware)

		r.Post("/auth/session", s.handleSession)

		r.Get("/pipelines", s.handlePipelines)
		r.Post("/runs", s.handleStartRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Post("/chat", s.handleChat)
		r.Get("/schedules", s.handleSchedules)
	})

	s.router = r
	return s
}

// Handler returns the http.Handler for the API.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			forgelog.DurationKey, time.Since(start).Milliseconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

// handleSession exchanges a long-lived API token for a session JWT.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Auth.Enabled {
		writeError(w, http.StatusBadRequest, "authentication is disabled")
		return
	}

	token, err := s.cfg.Auth.issueSession(time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_in": int(s.cfg.Auth.SessionTTL.Seconds()),
	})
}

func (s *Server) handlePipelines(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}

	var out []entry
	for _, p := range s.cfg.Registry.List() {
		out = append(out, entry{Name: p.Name(), Description: p.Description()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pipelines": out})
}

type startRunRequest struct {
	Pipeline string                 `json:"pipeline"`
	Inputs   map[string]interface{} `json:"inputs"`
	Priority int                    `json:"priority"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Pipeline == "" {
		writeError(w, http.StatusBadRequest, "pipeline is required")
		return
	}
	if _, ok := s.cfg.Registry.Get(req.Pipeline); !ok {
		writeError(w, http.StatusNotFound, "unknown pipeline: "+req.Pipeline)
		return
	}

	runID, err := s.cfg.Submitter.Submit(r.Context(), req.Pipeline, req.Inputs, req.Priority)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_id": runID,
		"status": store.StatusQueued,
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		Status:   r.URL.Query().Get("status"),
		Pipeline: r.URL.Query().Get("pipeline"),
		Limit:    50,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	runs, err := s.cfg.Store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.cfg.Store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	stages, err := s.cfg.Store.GetStages(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":    run,
		"stages": stages,
	})
}

type chatRequest struct {
	RunID   string                 `json:"run_id,omitempty"`
	Persona map[string]interface{} `json:"persona"`
	Message string                 `json:"message"`
	History []pipeline.ChatMessage `json:"history,omitempty"`
}

// handleChat relays one interviewer message to a persona. When run_id
// is set the exchange is appended to that run's transcript.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if len(req.Persona) == 0 {
		writeError(w, http.StatusBadRequest, "persona is required")
		return
	}

	reply, err := s.cfg.Chatter.Chat(r.Context(), req.Persona, req.Message, req.History)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.RunID != "" {
		persona, _ := req.Persona["name"].(string)
		for _, msg := range []store.ChatMessage{
			{RunID: req.RunID, Persona: persona, Role: "user", Content: req.Message},
			{RunID: req.RunID, Persona: persona, Role: "persona", Content: reply.Response},
		} {
			if err := s.cfg.Store.AppendChatMessage(r.Context(), msg); err != nil {
				s.logger.Error("failed to persist chat turn", forgelog.Error(err))
			}
		}
	}

	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Schedules == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": []scheduler.Status{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": s.cfg.Schedules.List()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": message})
}
