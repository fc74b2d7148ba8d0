package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Zerg00s/captions-relay/internal/export"
	"github.com/Zerg00s/captions-relay/internal/session"
	"github.com/Zerg00s/captions-relay/internal/settings"
	"github.com/Zerg00s/captions-relay/internal/store"
	"github.com/Zerg00s/captions-relay/internal/transcript"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	transcript *transcript.Store
	sessions   *store.SessionStore
	machine    *session.Machine
	settings   *settings.Store
	router     chi.Router
	port       int
}

func NewServer(ts *transcript.Store, sessions *store.SessionStore, machine *session.Machine, prefs *settings.Store, port int) *Server {
	srv := &Server{
		transcript: ts,
		sessions:   sessions,
		machine:    machine,
		settings:   prefs,
		port:       port,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", srv.handleHealth)
		r.Get("/live", srv.handleLive)
		r.Get("/transcript", srv.handleTranscript)
		r.Get("/attendees", srv.handleAttendees)
		r.Get("/export", srv.handleExport)
		r.Get("/sessions", srv.handleListSessions)
		r.Get("/sessions/{sessionID}", srv.handleGetSession)
		r.Delete("/sessions/{sessionID}", srv.handleDeleteSession)
		r.Delete("/sessions", srv.handleClearSessions)
		r.Get("/storage/stats", srv.handleStorageStats)
		r.Get("/settings", srv.handleGetSettings)
		r.Put("/settings/{name}", srv.handlePutSetting)
		r.Put("/aliases/{speaker}", srv.handlePutAlias)
	})

	srv.router = r
	return srv
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("starting HTTP API", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "captions-relay",
		"state":   s.machine.State().String(),
	})
}

// handleLive is the viewer attach handshake.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	streaming, count := s.machine.Streaming()
	writeJSON(w, http.StatusOK, map[string]any{
		"streaming": streaming,
		"count":     count,
	})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.transcript.Snapshot())
}

func (s *Server) handleAttendees(w http.ResponseWriter, r *http.Request) {
	report := s.machine.AttendeeReport()
	if report == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no meeting observed"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = s.settings.String(r.Context(), settings.KeyDefaultSaveFormat)
	}

	req := export.Request{
		Title:           s.machine.MeetingTitle(),
		StartedAt:       time.Now(),
		Entries:         s.transcript.Snapshot(),
		Report:          s.machine.AttendeeReport(),
		TimestampFormat: s.settings.String(r.Context(), settings.KeyTimestampFormat),
	}

	body, err := export.Render(format, req)
	if err != nil {
		if errors.Is(err, export.ErrEmptyTranscript) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	pattern := s.settings.String(r.Context(), settings.KeyFilenamePattern)
	filename := export.Filename(pattern, req.Title, format, time.Now())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(body))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	index, err := s.sessions.Index(r.Context())
	if err != nil {
		slog.Error("session index read failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if index == nil {
		index = []store.SessionMetadata{}
	}
	writeJSON(w, http.StatusOK, index)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.sessions.LoadSession(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.sessions.DeleteSession(r.Context(), sessionID); err != nil {
		slog.Error("session delete failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": sessionID})
}

func (s *Server) handleClearSessions(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.ClearAllSessions(r.Context()); err != nil {
		slog.Error("session clear failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleStorageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sessions.Stats(r.Context())
	if err != nil {
		slog.Error("storage stats read failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.All(r.Context()))
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	if err := s.settings.Set(r.Context(), name, body.Value); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{name: body.Value})
}

// handlePutAlias renames a speaker retroactively. An empty alias restores
// the original name.
func (s *Server) handlePutAlias(w http.ResponseWriter, r *http.Request) {
	speaker := chi.URLParam(r, "speaker")

	var body struct {
		Alias string `json:"alias"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	s.transcript.SetAlias(speaker, body.Alias)
	writeJSON(w, http.StatusOK, map[string]string{speaker: body.Alias})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
