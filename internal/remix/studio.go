// Package remix runs one participant's side of a collaborative remix
// session: it drives the session Store from user actions, broadcasts the
// results, merges what other participants send, and feeds the render surface.
package remix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/remixsync/internal/collab"
	"github.com/user/remixsync/internal/render"
	"github.com/user/remixsync/internal/transport"
	"github.com/user/remixsync/internal/types"
)

var (
	// ErrNotStarted is returned for edits before StartSession.
	ErrNotStarted = errors.New("session not started")

	// ErrAlreadyStarted is returned when StartSession is called twice.
	ErrAlreadyStarted = errors.New("session already started")
)

// OfflineName is the display name of the synthetic participant registered
// when the channel cannot be reached.
const OfflineName = "You"

// Journal directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// StartResult describes a session that has been started.
type StartResult struct {
	Status  types.SessionStatus `json:"status"`
	Offline bool                `json:"offline"`
	Version int64               `json:"version"`
}

// EndResult describes a finished session. Duration is wall-clock seconds
// since StartSession.
type EndResult struct {
	Status   types.SessionStatus `json:"status"`
	FinalURL string              `json:"final_url,omitempty"`
	Duration float64             `json:"duration"`
	Version  int64               `json:"version"`
}

// Info is a point-in-time view of a studio.
type Info struct {
	SessionID    types.SessionID     `json:"session_id"`
	Self         types.ParticipantID `json:"self"`
	Status       types.SessionStatus `json:"status"`
	Offline      bool                `json:"offline"`
	Version      int64               `json:"version"`
	Participants []types.Participant `json:"participants"`
	Document     types.Document      `json:"document"`
	Stats        collab.Stats        `json:"stats"`
	StartedAt    time.Time           `json:"started_at"`
}

// Studio is one participant's view of a session.
type Studio struct {
	id    types.SessionID
	self  types.ParticipantID
	store *collab.Store
	dial  transport.Dialer

	surface         render.Surface
	catalog         render.Catalog
	clips           ClipSource
	saver           types.ResultSaver
	journal         types.Journal
	retry           Retrier
	dispatch        func(types.Envelope) error
	displayName     string
	maxParticipants int
	autoSave        bool
	connectTimeout  time.Duration
	now             func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	unsub  []func()

	renderMu sync.Mutex
	rendered int64

	mu        sync.Mutex
	status    types.SessionStatus
	starting  bool
	offline   bool
	tr        transport.Transport
	stopLoop  context.CancelFunc
	startedAt time.Time
}

// New creates a studio for participant self in session id. dial builds the
// channel the studio connects through on StartSession.
func New(id types.SessionID, self types.ParticipantID, dial transport.Dialer, opts ...Option) *Studio {
	s := &Studio{
		id:             id,
		self:           self,
		dial:           dial,
		surface:        render.Nop{},
		catalog:        render.Builtin(),
		clips:          PlaceholderClips{},
		retry:          once{},
		displayName:    string(self),
		autoSave:       true,
		connectTimeout: DefaultConnectTimeout,
		now:            time.Now,
		status:         types.SessionCreated,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.store = collab.NewStore(self,
		collab.WithMaxParticipants(s.maxParticipants),
		collab.WithClock(s.now),
	)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for _, kind := range []types.EventKind{types.KindFilterChange, types.KindClipAdded, types.KindStateUpdate} {
		s.unsub = append(s.unsub, s.store.Subscribe(kind, s.onDocument))
	}
	for _, kind := range []types.EventKind{types.KindParticipantJoin, types.KindParticipantLeave, types.KindCursorMove} {
		s.unsub = append(s.unsub, s.store.Subscribe(kind, s.onPresence))
	}
	return s
}

// ID returns the session id.
func (s *Studio) ID() types.SessionID { return s.id }

// Self returns the local participant id.
func (s *Studio) Self() types.ParticipantID { return s.self }

// Store exposes the session store, mainly for inspection.
func (s *Studio) Store() *collab.Store { return s.store }

// Status returns the lifecycle state.
func (s *Studio) Status() types.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Offline reports whether the studio runs without a channel.
func (s *Studio) Offline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offline
}

// Info returns a snapshot of the studio.
func (s *Studio) Info() Info {
	s.mu.Lock()
	status, offline, started := s.status, s.offline, s.startedAt
	s.mu.Unlock()
	doc := s.store.Snapshot()
	return Info{
		SessionID:    s.id,
		Self:         s.self,
		Status:       status,
		Offline:      offline,
		Version:      doc.Version,
		Participants: s.store.Participants(),
		Document:     doc,
		Stats:        s.store.Stats(),
		StartedAt:    started,
	}
}

// StartSession connects to the channel and seeds the timeline with
// initialClipIDs. If the channel cannot be reached within the connect
// timeout the session continues offline with the local participant alone on
// the roster. Repeated ids are added once.
func (s *Studio) StartSession(ctx context.Context, initialClipIDs []types.ClipID) (StartResult, error) {
	s.mu.Lock()
	if s.status != types.SessionCreated || s.starting {
		status := s.status
		s.mu.Unlock()
		if status == types.SessionEnded {
			return StartResult{}, collab.ErrSessionEnded
		}
		return StartResult{}, ErrAlreadyStarted
	}
	s.starting = true
	s.mu.Unlock()

	clips := make([]types.Clip, 0, len(initialClipIDs))
	seen := make(map[types.ClipID]bool, len(initialClipIDs))
	for _, id := range initialClipIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		clip, err := s.clips.Resolve(ctx, id)
		if err != nil {
			s.abortStart()
			return StartResult{}, fmt.Errorf("resolve clip %s: %w", id, err)
		}
		clips = append(clips, clip)
	}

	s.mu.Lock()
	s.startedAt = s.now()
	s.mu.Unlock()

	if err := s.connect(ctx); errors.Is(err, collab.ErrSessionEnded) {
		s.abortStart()
		return StartResult{}, err
	} else if err != nil {
		slog.Warn("channel unavailable, continuing offline", "session_id", string(s.id), "participant_id", string(s.self), "error", err)
		s.goOffline()
	}

	for _, clip := range clips {
		if _, err := s.store.AddClip(clip); err != nil {
			s.abortStart()
			if errors.Is(err, collab.ErrSessionEnded) {
				return StartResult{}, err
			}
			return StartResult{}, fmt.Errorf("add clip %s: %w", clip.ID, err)
		}
	}

	s.mu.Lock()
	s.starting = false
	if s.status == types.SessionEnded {
		// EndSession ran while connecting.
		s.mu.Unlock()
		return StartResult{}, collab.ErrSessionEnded
	}
	s.status = types.SessionActive
	res := StartResult{Status: s.status, Offline: s.offline, Version: s.store.Version()}
	s.mu.Unlock()

	slog.Info("session started", "session_id", string(s.id), "participant_id", string(s.self), "offline", res.Offline, "clips", len(clips))
	return res, nil
}

func (s *Studio) abortStart() {
	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()
}

func (s *Studio) connect(ctx context.Context) error {
	tr := s.dial(s.id, s.self)

	cctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()
	err := s.retry.ExecuteContext(cctx, func(ctx context.Context) error {
		return tr.Connect(ctx)
	})
	if err != nil {
		tr.Disconnect()
		return err
	}

	s.mu.Lock()
	if s.status == types.SessionEnded {
		s.mu.Unlock()
		tr.Disconnect()
		return collab.ErrSessionEnded
	}
	loopCtx, stop := context.WithCancel(s.ctx)
	s.tr = tr
	s.stopLoop = stop
	s.wg.Add(1)
	s.mu.Unlock()

	go s.receiveLoop(loopCtx, tr)

	return s.store.JoinParticipant(types.Participant{ID: s.self, Name: s.displayName})
}

// goOffline drops the channel and reduces the roster to the synthetic local
// participant. It is used both when connecting fails and when a send finds
// the channel gone.
func (s *Studio) goOffline() {
	s.mu.Lock()
	if s.offline {
		s.mu.Unlock()
		return
	}
	s.offline = true
	tr, stop := s.tr, s.stopLoop
	s.tr, s.stopLoop = nil, nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if tr != nil {
		if err := tr.Disconnect(); err != nil {
			slog.Debug("disconnect failed", "session_id", string(s.id), "error", err)
		}
	}

	for _, p := range s.store.Participants() {
		if p.ID != s.self {
			s.store.LeaveParticipant(p.ID)
		}
	}
	self := types.Participant{ID: s.self, Name: OfflineName, Offline: true}
	if err := s.store.JoinParticipant(self); err != nil {
		slog.Warn("register offline participant failed", "session_id", string(s.id), "error", err)
	}
}

func (s *Studio) receiveLoop(ctx context.Context, tr transport.Transport) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-tr.Receive():
			if s.dispatch != nil {
				if err := s.dispatch(env); err != nil {
					slog.Warn("dispatch inbound envelope failed", "session_id", string(s.id), "envelope_id", string(env.ID), "error", err)
				}
				continue
			}
			if _, err := s.HandleEnvelope(ctx, env); err != nil {
				slog.Warn("inbound envelope rejected", "session_id", string(s.id), "envelope_id", string(env.ID), "type", string(env.Type), "error", err)
			}
		}
	}
}

// HandleEnvelope merges one inbound envelope. Envelopes that arrive after
// the session ended or while offline are dropped without error.
func (s *Studio) HandleEnvelope(ctx context.Context, env types.Envelope) (collab.Outcome, error) {
	s.mu.Lock()
	status, offline := s.status, s.offline
	s.mu.Unlock()
	if status == types.SessionEnded || offline {
		return collab.OutcomeIgnored, nil
	}
	if env.SessionID != "" && env.SessionID != s.id {
		return collab.OutcomeIgnored, fmt.Errorf("envelope for session %s delivered to %s", env.SessionID, s.id)
	}

	newcomer := env.Type == types.KindParticipantJoin &&
		env.Participant != nil &&
		env.Participant.ID != s.self &&
		!s.store.Has(env.Participant.ID)

	outcome, err := s.store.Receive(env)
	if errors.Is(err, collab.ErrSessionEnded) {
		return collab.OutcomeIgnored, nil
	}
	if err != nil {
		s.record(env, DirectionIn, "rejected")
		return outcome, fmt.Errorf("receive %s: %w", env.Type, err)
	}
	s.record(env, DirectionIn, string(outcome))

	switch {
	case outcome == collab.OutcomeStale:
		slog.Debug("stale update discarded", "session_id", string(s.id), "origin", string(env.Origin), "version", env.Version, "local_version", s.store.Version())
	case newcomer && outcome == collab.OutcomePresence:
		// Introduce ourselves so the newcomer learns the roster and catches
		// up with the Document.
		s.announce(ctx)
	}
	return outcome, nil
}

func (s *Studio) announce(ctx context.Context) {
	for _, p := range s.store.Participants() {
		if p.ID != s.self {
			continue
		}
		env := types.NewEnvelope(types.KindParticipantJoin, s.id, s.self, 0)
		env.Participant = &p
		s.send(ctx, env)
	}
	if doc := s.store.Snapshot(); doc.Version > 0 {
		s.send(ctx, collab.StateEnvelope(s.id, s.self, doc))
	}
}

// ApplyFilter enables or disables a filter and returns the new version.
// Enabling with no parameters uses the catalogue defaults.
func (s *Studio) ApplyFilter(ctx context.Context, name string, params types.Params, enabled bool) (int64, error) {
	if err := s.editable(ctx); err != nil {
		return 0, err
	}
	if enabled && len(params) == 0 {
		params = s.catalog.DefaultParams(name)
	}
	version, err := s.store.ApplyLocalFilterChange(name, params, enabled)
	if err != nil {
		return 0, fmt.Errorf("apply filter %s: %w", name, err)
	}
	return version, nil
}

// AddClip appends clip to the timeline and returns the new version.
func (s *Studio) AddClip(ctx context.Context, clip types.Clip) (int64, error) {
	if err := s.editable(ctx); err != nil {
		return 0, err
	}
	version, err := s.store.AddClip(clip)
	if err != nil {
		return 0, fmt.Errorf("add clip %s: %w", clip.ID, err)
	}
	return version, nil
}

// MoveCursor updates the local participant's cursor.
func (s *Studio) MoveCursor(ctx context.Context, x, y float64) error {
	if err := s.editable(ctx); err != nil {
		return err
	}
	if err := s.store.MoveCursor(s.self, types.Cursor{X: x, Y: y}); err != nil {
		return fmt.Errorf("move cursor: %w", err)
	}
	return nil
}

func (s *Studio) editable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case types.SessionCreated:
		return ErrNotStarted
	case types.SessionEnded:
		return collab.ErrSessionEnded
	}
	return nil
}

// Resync rebroadcasts the full Document at its current version so peers that
// missed an update converge. It is a no-op offline or before any edit.
func (s *Studio) Resync(ctx context.Context) error {
	if err := s.editable(ctx); err != nil {
		return err
	}
	if s.Offline() {
		return nil
	}
	doc := s.store.Snapshot()
	if doc.Version == 0 {
		return nil
	}
	return s.send(ctx, collab.StateEnvelope(s.id, s.self, doc))
}

// EndSession stops local edits, optionally saves the final remix, leaves the
// channel and clears the Document. The result is saved only when save is
// requested and auto-save is enabled. A failed save still ends the session.
func (s *Studio) EndSession(ctx context.Context, save bool) (EndResult, error) {
	s.mu.Lock()
	if s.status == types.SessionEnded {
		s.mu.Unlock()
		return EndResult{}, collab.ErrSessionEnded
	}
	s.status = types.SessionEnded
	final, err := s.store.End()
	if err != nil {
		slog.Warn("store already ended", "session_id", string(s.id), "error", err)
	}
	tr, stop, started := s.tr, s.stopLoop, s.startedAt
	s.tr, s.stopLoop = nil, nil
	s.mu.Unlock()

	res := EndResult{Status: types.SessionEnded, Version: final.Version}
	if !started.IsZero() {
		res.Duration = s.now().Sub(started).Seconds()
	}

	if tr != nil {
		leave := types.NewEnvelope(types.KindParticipantLeave, s.id, s.self, 0)
		if err := tr.Send(ctx, leave); err != nil {
			slog.Debug("leave not sent", "session_id", string(s.id), "error", err)
		} else {
			s.record(leave, DirectionOut, "sent")
		}
	}
	if stop != nil {
		stop()
	}
	s.wg.Wait()
	if tr != nil {
		if err := tr.Disconnect(); err != nil {
			slog.Warn("disconnect failed", "session_id", string(s.id), "error", err)
		}
	}
	for _, unsub := range s.unsub {
		unsub()
	}
	s.cancel()

	var saveErr error
	if save && s.autoSave && s.saver != nil {
		url, err := s.saver.Save(ctx, s.id, final)
		if err != nil {
			saveErr = fmt.Errorf("save result: %w", err)
		} else {
			res.FinalURL = url
		}
	}

	slog.Info("session ended", "session_id", string(s.id), "version", res.Version, "duration_s", res.Duration, "final_url", res.FinalURL)
	return res, saveErr
}

// onDocument renders Document changes and broadcasts local ones. Events are
// delivered on the goroutine that made the change, so two of them can race;
// a snapshot older than the last one rendered is skipped.
func (s *Studio) onDocument(ev collab.Event) {
	s.render(ev)
	if ev.Remote {
		return
	}
	s.send(s.ctx, collab.EnvelopeFor(s.id, ev))
}

func (s *Studio) render(ev collab.Event) {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	if ev.Version < s.rendered {
		slog.Debug("superseded snapshot not rendered", "session_id", string(s.id), "version", ev.Version, "rendered", s.rendered)
		return
	}
	s.rendered = ev.Version
	snap := ev.Document.Clone()
	if err := s.surface.Render(s.ctx, types.FilterSnapshot{ActiveFilters: snap.ActiveFilters, Version: ev.Version}); err != nil {
		slog.Warn("render failed", "session_id", string(s.id), "version", ev.Version, "error", err)
	}
}

// onPresence broadcasts the local participant's own presence changes.
func (s *Studio) onPresence(ev collab.Event) {
	if ev.Remote || ev.Origin != s.self {
		return
	}
	s.send(s.ctx, collab.EnvelopeFor(s.id, ev))
}

// send publishes env. Offline sends are skipped; a send that finds the
// channel gone switches the studio to offline mode.
func (s *Studio) send(ctx context.Context, env types.Envelope) error {
	s.mu.Lock()
	tr, offline := s.tr, s.offline
	s.mu.Unlock()
	if offline || tr == nil {
		s.record(env, DirectionOut, "offline")
		return nil
	}

	err := tr.Send(ctx, env)
	switch {
	case err == nil:
		s.record(env, DirectionOut, "sent")
		return nil
	case errors.Is(err, transport.ErrNotConnected):
		s.record(env, DirectionOut, "failed")
		slog.Warn("channel lost, continuing offline", "session_id", string(s.id), "error", err)
		s.goOffline()
		return nil
	default:
		s.record(env, DirectionOut, "failed")
		slog.Warn("send failed", "session_id", string(s.id), "type", string(env.Type), "error", err)
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
}

func (s *Studio) record(env types.Envelope, direction, outcome string) {
	if s.journal == nil {
		return
	}
	entry := &types.JournalEntry{
		SessionID:  s.id,
		EnvelopeID: env.ID,
		Kind:       env.Type,
		Origin:     env.Origin,
		Version:    env.Version,
		Direction:  direction,
		Outcome:    outcome,
		At:         s.now().UTC(),
	}
	if err := s.journal.Append(context.Background(), entry); err != nil {
		slog.Warn("journal append failed", "session_id", string(s.id), "error", err)
	}
}
