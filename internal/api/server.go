// internal/api/server.go
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/user/remixsync/internal/collab"
	"github.com/user/remixsync/internal/gateway"
	"github.com/user/remixsync/internal/remix"
	"github.com/user/remixsync/internal/render"
	"github.com/user/remixsync/internal/state"
	"github.com/user/remixsync/internal/transport"
	"github.com/user/remixsync/internal/types"
)

// Server is the HTTP control API for the sessions hosted by a Gateway. When
// a Relay is attached, its websocket endpoint is served alongside.
type Server struct {
	gw       *gateway.Gateway
	sessions types.SessionStore
	journal  types.Journal
	catalog  render.Catalog
	relay    *transport.Relay
	router   chi.Router
}

// NewServer creates a Server. relay may be nil.
func NewServer(gw *gateway.Gateway, sessions types.SessionStore, journal types.Journal, catalog render.Catalog, relay *transport.Relay) *Server {
	if catalog == nil {
		catalog = render.Builtin()
	}
	s := &Server{
		gw:       gw,
		sessions: sessions,
		journal:  journal,
		catalog:  catalog,
		relay:    relay,
		router:   chi.NewRouter(),
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/filters", s.handleFilters)
	s.router.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Post("/", s.handleStartSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Get("/events", s.handleSessionEvents)
			r.Post("/filters", s.handleApplyFilter)
			r.Post("/clips", s.handleAddClip)
			r.Post("/cursor", s.handleMoveCursor)
			r.Post("/end", s.handleEndSession)
		})
	})
	if relay != nil {
		s.router.Get("/api/relay", s.handleRelay)
		relay.Mount(s.router)
	}
	return s
}

// ServeHTTP delegates to the internal router, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case collab.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrUnknownSession), errors.Is(err, state.ErrNotFound),
		errors.Is(err, collab.ErrUnknownParticipant):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrAlreadyHosted), errors.Is(err, remix.ErrAlreadyStarted),
		errors.Is(err, remix.ErrNotStarted), errors.Is(err, collab.ErrRosterFull):
		return http.StatusConflict
	case errors.Is(err, collab.ErrSessionEnded):
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", "error", err)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func (s *Server) studio(w http.ResponseWriter, r *http.Request) (*remix.Studio, bool) {
	st, err := s.gw.Studio(types.SessionID(chi.URLParam(r, "sessionID")))
	if err != nil {
		s.fail(w, "lookup session", err)
		return nil, false
	}
	return st, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.gw.Studios()),
	})
}

type roomResponse struct {
	SessionID types.SessionID `json:"session_id"`
	Clients   int             `json:"clients"`
}

type relayResponse struct {
	Rooms     []roomResponse `json:"rooms"`
	Delivered uint64         `json:"delivered"`
	Dropped   uint64         `json:"dropped"`
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	rooms := s.relay.Rooms()
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	resp := relayResponse{Rooms: make([]roomResponse, 0, len(rooms))}
	for _, id := range rooms {
		resp.Rooms = append(resp.Rooms, roomResponse{SessionID: id, Clients: s.relay.ClientCount(id)})
	}
	stats := s.relay.Stats()
	resp.Delivered, resp.Dropped = stats.Delivered, stats.Dropped
	writeJSON(w, http.StatusOK, resp)
}

type filterResponse struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Defaults    types.Params `json:"defaults"`
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	out := make([]filterResponse, 0, len(s.catalog))
	for _, name := range s.catalog.Names() {
		f := s.catalog[name]
		out = append(out, filterResponse{Name: f.Name, Description: f.Description, Defaults: f.Defaults})
	}
	writeJSON(w, http.StatusOK, out)
}

type startRequest struct {
	SessionID   string   `json:"session_id"`
	Participant string   `json:"participant"`
	DisplayName string   `json:"display_name"`
	ClipIDs     []string `json:"clip_ids"`
}

type startResponse struct {
	SessionID   types.SessionID     `json:"session_id"`
	Participant types.ParticipantID `json:"participant"`
	remix.StartResult
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decode(w, r, &req) {
		return
	}
	clips := make([]types.ClipID, 0, len(req.ClipIDs))
	for _, id := range req.ClipIDs {
		clips = append(clips, types.ClipID(id))
	}
	st, res, err := s.gw.StartSession(r.Context(), gateway.StartRequest{
		SessionID:   types.SessionID(req.SessionID),
		Participant: types.ParticipantID(req.Participant),
		DisplayName: req.DisplayName,
		ClipIDs:     clips,
	})
	if err != nil {
		s.fail(w, "start session", err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{SessionID: st.ID(), Participant: st.Self(), StartResult: res})
}

type sessionResponse struct {
	SessionID  types.SessionID     `json:"session_id"`
	Owner      types.ParticipantID `json:"owner"`
	Status     types.SessionStatus `json:"status"`
	Offline    bool                `json:"offline"`
	Version    int64               `json:"version"`
	Hosted     bool                `json:"hosted"`
	FinalURL   string              `json:"final_url,omitempty"`
	CreatedAt  string              `json:"created_at"`
	UpdatedAt  string              `json:"updated_at"`
	EventCount int64               `json:"event_count"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		s.fail(w, "list sessions", err)
		return
	}
	result := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		resp := sessionResponse{
			SessionID: sess.SessionID,
			Owner:     sess.Owner,
			Status:    sess.Status,
			Offline:   sess.Offline,
			Version:   sess.Version,
			FinalURL:  sess.FinalURL,
			CreatedAt: sess.CreatedAt.Format(time.RFC3339),
			UpdatedAt: sess.UpdatedAt.Format(time.RFC3339),
		}
		if st, err := s.gw.Studio(sess.SessionID); err == nil {
			info := st.Info()
			resp.Hosted = true
			resp.Status = info.Status
			resp.Offline = info.Offline
			resp.Version = info.Version
		}
		if s.journal != nil {
			count, err := s.journal.Count(ctx, sess.SessionID)
			if err != nil {
				slog.Warn("count journal failed", "session_id", string(sess.SessionID), "error", err)
			}
			resp.EventCount = count
		}
		result = append(result, resp)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(chi.URLParam(r, "sessionID"))
	if st, err := s.gw.Studio(id); err == nil {
		writeJSON(w, http.StatusOK, st.Info())
		return
	}
	// Sessions no longer hosted are served from the index.
	index, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		s.fail(w, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, index)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}
	id := types.SessionID(chi.URLParam(r, "sessionID"))
	limit := 200
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.journal.Tail(r.Context(), id, limit)
	if err != nil {
		s.fail(w, "tail journal", err)
		return
	}
	if entries == nil {
		entries = []*types.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type filterRequest struct {
	Name    string       `json:"name"`
	Params  types.Params `json:"params"`
	Enabled *bool        `json:"enabled"`
}

func (s *Server) handleApplyFilter(w http.ResponseWriter, r *http.Request) {
	st, ok := s.studio(w, r)
	if !ok {
		return
	}
	var req filterRequest
	if !decode(w, r, &req) {
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	version, err := st.ApplyFilter(r.Context(), req.Name, req.Params, enabled)
	if err != nil {
		s.fail(w, "apply filter", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"version": version})
}

func (s *Server) handleAddClip(w http.ResponseWriter, r *http.Request) {
	st, ok := s.studio(w, r)
	if !ok {
		return
	}
	var clip types.Clip
	if !decode(w, r, &clip) {
		return
	}
	if clip.CreatedAt.IsZero() {
		clip.CreatedAt = time.Now().UTC()
	}
	version, err := st.AddClip(r.Context(), clip)
	if err != nil {
		s.fail(w, "add clip", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"version": version})
}

func (s *Server) handleMoveCursor(w http.ResponseWriter, r *http.Request) {
	st, ok := s.studio(w, r)
	if !ok {
		return
	}
	var cursor types.Cursor
	if !decode(w, r, &cursor) {
		return
	}
	if err := st.MoveCursor(r.Context(), cursor.X, cursor.Y); err != nil {
		s.fail(w, "move cursor", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type endRequest struct {
	Save bool `json:"save"`
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(chi.URLParam(r, "sessionID"))
	var req endRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	res, err := s.gw.EndSession(r.Context(), id, req.Save)
	if err != nil && res.Status != types.SessionEnded {
		s.fail(w, "end session", err)
		return
	}
	if err != nil {
		// The session ended but its result could not be saved.
		slog.Warn("end session save failed", "session_id", string(id), "error", err)
	}
	writeJSON(w, http.StatusOK, res)
}
