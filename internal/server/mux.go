// Package server exposes the sync façade over HTTP for the UI: login,
// per-table CRUD, server-sent change events, the document catalog, the
// diagnostic log, and the sync self-test.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/auth"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/catalog"
	roxerrors "github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/errors"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/logging"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/models"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/selftest"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/store"
	roxsync "github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/sync"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Store     *store.Store
	Remote    roxsync.RemoteStore
	Realtime  roxsync.RealtimeChannel
	Whitelist []auth.Credential
	Recorder  *logging.Recorder
	Logger    *slog.Logger
}

// session is one logged-in user: their façade, catalog and self-test
// runner, all namespaced to the username.
type session struct {
	user   string
	svc    *roxsync.Service
	cat    *catalog.Catalog
	runner *selftest.Runner
}

// Server routes UI requests to per-session façades.
type Server struct {
	cfg MuxConfig

	mu       sync.Mutex
	sessions map[string]*session
}

// NewMux builds the HTTP mux. Everything under /api except login
// requires a Bearer token from a prior login.
func NewMux(cfg MuxConfig) *http.ServeMux {
	s := &Server{cfg: cfg, sessions: make(map[string]*session)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/tables/{table}", s.withSession(s.handleList))
	mux.HandleFunc("PUT /api/tables/{table}", s.withSession(s.handleUpsert))
	mux.HandleFunc("DELETE /api/tables/{table}", s.withSession(s.handleRemove))
	mux.HandleFunc("GET /api/tables/{table}/{id}", s.withSession(s.handleGet))
	mux.HandleFunc("GET /api/events/{table}", s.withSession(s.handleEvents))
	mux.HandleFunc("GET /api/documents", s.withSession(s.handleDocuments))
	mux.HandleFunc("POST /api/documents", s.withSession(s.handleDocSaved))
	mux.HandleFunc("PATCH /api/documents/{id}", s.withSession(s.handleDocRenamed))
	mux.HandleFunc("DELETE /api/documents/{id}", s.withSession(s.handleDocRemoved))
	mux.HandleFunc("GET /api/log", s.withSession(s.handleLog))
	mux.HandleFunc("POST /api/selftest", s.withSession(s.handleSelfTest))

	return mux
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := auth.Login(req.Username, req.Password, s.cfg.Whitelist, s.cfg.Recorder)
	if err != nil {
		jsonError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	svc := roxsync.New(roxsync.Config{
		Local:    s.cfg.Store.Namespace(sess.Username),
		Remote:   s.cfg.Remote,
		Realtime: s.cfg.Realtime,
		Owner:    sess.Username,
		Recorder: s.cfg.Recorder,
		Logger:   s.cfg.Logger,
	})

	cat := catalog.New(svc, s.cfg.Recorder)
	cat.Hydrate(r.Context())

	token := uuid.Must(uuid.NewV4()).String()

	s.mu.Lock()
	s.sessions[token] = &session{
		user:   sess.Username,
		svc:    svc,
		cat:    cat,
		runner: selftest.New(svc, s.cfg.Recorder),
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"token": token, "username": sess.Username})
}

// handleLogout drops the session for the presented token. The token is
// unusable afterwards; a new login issues a fresh one.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	s.mu.Lock()
	sess, ok := s.sessions[token]
	delete(s.sessions, token)
	s.mu.Unlock()

	if token == "" || !ok {
		jsonError(w, http.StatusUnauthorized, "missing or invalid token")
		return
	}

	s.cfg.Recorder.Event("auth", "logout", map[string]any{"username": sess.user})
	w.WriteHeader(http.StatusNoContent)
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session)

func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		s.mu.Lock()
		sess, ok := s.sessions[token]
		s.mu.Unlock()

		if token == "" || !ok {
			jsonError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}

		next(w, r, sess)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, sess *session) {
	recs := sess.svc.List(r.Context(), r.PathValue("table"))
	if recs == nil {
		recs = []models.Record{}
	}

	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request, sess *session) {
	recs, err := decodeRecords(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	merged := sess.svc.Upsert(r.Context(), r.PathValue("table"), recs...)
	writeJSON(w, http.StatusOK, merged)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request, sess *session) {
	m := roxsync.Match{
		ID:  r.URL.Query().Get("id"),
		All: r.URL.Query().Get("all") == "true",
	}

	if m.ID == "" && !m.All {
		jsonError(w, http.StatusBadRequest, "id or all=true required")
		return
	}

	if err := sess.svc.Remove(r.Context(), r.PathValue("table"), m); err != nil {
		if errors.Is(err, roxerrors.ErrDeleteAllRefused) {
			jsonError(w, http.StatusForbidden, err.Error())
			return
		}

		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, sess *session) {
	rec := sess.svc.GetByID(r.Context(), r.PathValue("table"), r.PathValue("id"))
	if rec == nil {
		jsonError(w, http.StatusNotFound, "not found")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleEvents streams filtered change events for one table as
// server-sent events. A comment ping goes out periodically so proxies
// do not reap the idle connection.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, sess *session) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan roxsync.Event, 16)

	unsub := sess.svc.Subscribe(r.Context(), r.PathValue("table"), func(ev roxsync.Event) {
		select {
		case events <- ev:
		default:
			// A stalled client drops events rather than blocking the feed.
		}
	})
	defer unsub()

	ping := time.NewTicker(25 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}

			if _, err := w.Write([]byte("event: change\ndata: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case <-ping.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleDocuments(w http.ResponseWriter, _ *http.Request, sess *session) {
	writeJSON(w, http.StatusOK, sess.cat.Entries())
}

func (s *Server) handleDocSaved(w http.ResponseWriter, r *http.Request, sess *session) {
	var req struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Type  string `json:"type"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" || req.Title == "" {
		jsonError(w, http.StatusBadRequest, "id and title required")
		return
	}

	created := sess.cat.DocSaved(r.Context(), req.ID, req.Title, req.Type)
	writeJSON(w, http.StatusOK, map[string]bool{"created": created})
}

func (s *Server) handleDocRenamed(w http.ResponseWriter, r *http.Request, sess *session) {
	var req struct {
		Title string `json:"title"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		jsonError(w, http.StatusBadRequest, "title required")
		return
	}

	sess.cat.DocRenamed(r.Context(), r.PathValue("id"), req.Title)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDocRemoved(w http.ResponseWriter, r *http.Request, sess *session) {
	if err := sess.cat.DocRemoved(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, roxerrors.ErrFixedDocument) {
			jsonError(w, http.StatusForbidden, err.Error())
			return
		}

		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLog(w http.ResponseWriter, _ *http.Request, _ *session) {
	entries := s.cfg.Recorder.Entries()
	if entries == nil {
		entries = []logging.Entry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSelfTest(w http.ResponseWriter, r *http.Request, sess *session) {
	writeJSON(w, http.StatusOK, sess.runner.Run(r.Context()))
}

// decodeRecords accepts either a single record object or an array.
func decodeRecords(r *http.Request) ([]models.Record, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, errors.New("invalid request body")
	}

	if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		var recs []models.Record
		if err := json.Unmarshal(raw, &recs); err != nil {
			return nil, errors.New("invalid record array")
		}

		return recs, nil
	}

	var rec models.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.New("invalid record")
	}

	return []models.Record{rec}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
