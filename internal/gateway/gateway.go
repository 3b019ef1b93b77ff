package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/user/remixsync/internal/remix"
	"github.com/user/remixsync/internal/render"
	"github.com/user/remixsync/internal/transport"
	"github.com/user/remixsync/internal/types"
)

var (
	// ErrUnknownSession is returned for sessions this gateway does not host.
	ErrUnknownSession = errors.New("unknown session")

	// ErrAlreadyHosted is returned when a session is started twice.
	ErrAlreadyHosted = errors.New("session already hosted")
)

// Settings tunes the studios a Gateway creates.
type Settings struct {
	MaxConcurrent   int64
	DisplayName     string
	MaxParticipants int
	AutoSave        bool
	ConnectTimeout  time.Duration
	Retry           *RetryPolicy
	Clips           remix.ClipSource
	Surface         render.Surface
}

// StartRequest describes a session to host.
type StartRequest struct {
	// SessionID joins an existing session; empty creates a new one.
	SessionID types.SessionID
	// Participant is the local participant; empty generates one.
	Participant types.ParticipantID
	DisplayName string
	ClipIDs     []types.ClipID
}

// Gateway hosts the studios of this process. It records each session in
// the session index, routes inbound envelopes through per-session lanes,
// and ends studios on shutdown.
type Gateway struct {
	sessions types.SessionStore
	journal  types.Journal
	results  types.ResultSaver
	dial     transport.Dialer
	settings Settings
	Queue    *Queue
	retry    *RetryPolicy

	mu      sync.RWMutex
	studios map[types.SessionID]*remix.Studio

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway wired to the provided stores. dial connects hosted
// studios to their session channel.
func New(sessions types.SessionStore, journal types.Journal, results types.ResultSaver, dial transport.Dialer, settings Settings) *Gateway {
	concurrency := settings.MaxConcurrent
	if concurrency <= 0 {
		concurrency = 2
	}
	retry := settings.Retry
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	g := &Gateway{
		sessions: sessions,
		journal:  journal,
		results:  results,
		dial:     dial,
		settings: settings,
		Queue:    NewQueue(concurrency),
		retry:    retry,
		studios:  make(map[types.SessionID]*remix.Studio),
	}
	g.Queue.SetProcessor(g.process)
	return g
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop ends every hosted studio without saving, stops the queue and
// cancels the gateway context.
func (g *Gateway) Stop() {
	g.mu.RLock()
	ids := make([]types.SessionID, 0, len(g.studios))
	for id := range g.studios {
		ids = append(ids, id)
	}
	g.mu.RUnlock()

	for _, id := range ids {
		if _, err := g.EndSession(context.Background(), id, false); err != nil {
			slog.Warn("end session on shutdown failed", "session_id", string(id), "error", err)
		}
	}
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
}

func (g *Gateway) process(in *Inbound) error {
	st, err := g.Studio(in.SessionID)
	if err != nil {
		return err
	}
	_, err = st.HandleEnvelope(in.Ctx, in.Envelope)
	return err
}

// StartSession creates a studio, records it in the session index and
// starts it. A session whose channel is unreachable starts offline.
func (g *Gateway) StartSession(ctx context.Context, req StartRequest) (*remix.Studio, remix.StartResult, error) {
	id := req.SessionID
	if id == "" {
		id = types.NewSessionID()
	}
	self := req.Participant
	if self == "" {
		self = types.NewParticipantID()
	}
	name := req.DisplayName
	if name == "" {
		name = g.settings.DisplayName
	}

	opts := []remix.Option{
		remix.WithRetry(g.retry),
		remix.WithDispatch(func(env types.Envelope) error {
			return g.Queue.Enqueue(NewInbound(id, env))
		}),
		remix.WithMaxParticipants(g.settings.MaxParticipants),
		remix.WithAutoSave(g.settings.AutoSave),
		remix.WithConnectTimeout(g.settings.ConnectTimeout),
	}
	if name != "" {
		opts = append(opts, remix.WithDisplayName(name))
	}
	if g.journal != nil {
		opts = append(opts, remix.WithJournal(g.journal))
	}
	if g.results != nil {
		opts = append(opts, remix.WithSaver(g.results))
	}
	if g.settings.Clips != nil {
		opts = append(opts, remix.WithClips(g.settings.Clips))
	}
	if g.settings.Surface != nil {
		opts = append(opts, remix.WithSurface(g.settings.Surface))
	}
	st := remix.New(id, self, g.dial, opts...)

	g.mu.Lock()
	if _, exists := g.studios[id]; exists {
		g.mu.Unlock()
		return nil, remix.StartResult{}, fmt.Errorf("session %s: %w", id, ErrAlreadyHosted)
	}
	g.studios[id] = st
	g.mu.Unlock()

	index := &types.SessionIndex{SessionID: id, Owner: self, Status: types.SessionCreated}
	if err := g.sessions.Create(ctx, index); err != nil {
		g.forget(id)
		return nil, remix.StartResult{}, fmt.Errorf("create session: %w", err)
	}

	res, err := st.StartSession(ctx, req.ClipIDs)
	if err != nil {
		g.forget(id)
		index.Status = types.SessionEnded
		if uerr := g.sessions.Update(ctx, index); uerr != nil {
			slog.Warn("update session index failed", "session_id", string(id), "error", uerr)
		}
		return nil, remix.StartResult{}, fmt.Errorf("start session: %w", err)
	}

	index.Status = res.Status
	index.Offline = res.Offline
	index.Version = res.Version
	if err := g.sessions.Update(ctx, index); err != nil {
		slog.Warn("update session index failed", "session_id", string(id), "error", err)
	}
	slog.Info("session hosted", "session_id", string(id), "participant_id", string(self), "offline", res.Offline)
	return st, res, nil
}

func (g *Gateway) forget(id types.SessionID) {
	g.mu.Lock()
	delete(g.studios, id)
	g.mu.Unlock()
	g.Queue.Close(id)
}

// Studio returns the hosted studio for id.
func (g *Gateway) Studio(id types.SessionID) (*remix.Studio, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st, ok := g.studios[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrUnknownSession)
	}
	return st, nil
}

// Studios returns the hosted studios ordered by session id.
func (g *Gateway) Studios() []*remix.Studio {
	g.mu.RLock()
	out := make([]*remix.Studio, 0, len(g.studios))
	for _, st := range g.studios {
		out = append(out, st)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// EndSession ends a hosted studio, releases its lane and records the final
// state in the session index.
func (g *Gateway) EndSession(ctx context.Context, id types.SessionID, save bool) (remix.EndResult, error) {
	st, err := g.Studio(id)
	if err != nil {
		return remix.EndResult{}, err
	}
	res, endErr := st.EndSession(ctx, save)
	g.forget(id)
	if res.Status != types.SessionEnded {
		return res, endErr
	}

	index, err := g.sessions.Get(ctx, id)
	if err != nil {
		slog.Warn("load session index failed", "session_id", string(id), "error", err)
		return res, endErr
	}
	index.Status = types.SessionEnded
	index.Version = res.Version
	index.FinalURL = res.FinalURL
	if err := g.sessions.Update(ctx, index); err != nil {
		slog.Warn("update session index failed", "session_id", string(id), "error", err)
	}
	return res, endErr
}

// Resync rebroadcasts the Document of every active, online studio and
// refreshes its version in the session index. It returns how many studios
// were resynced.
func (g *Gateway) Resync(ctx context.Context) int {
	n := 0
	for _, st := range g.Studios() {
		if st.Status() != types.SessionActive || st.Offline() {
			continue
		}
		if err := st.Resync(ctx); err != nil {
			slog.Warn("resync failed", "session_id", string(st.ID()), "error", err)
			continue
		}
		n++
		g.syncIndex(ctx, st)
	}
	return n
}

func (g *Gateway) syncIndex(ctx context.Context, st *remix.Studio) {
	index, err := g.sessions.Get(ctx, st.ID())
	if err != nil {
		return
	}
	info := st.Info()
	if index.Version == info.Version && index.Offline == info.Offline {
		return
	}
	index.Version = info.Version
	index.Offline = info.Offline
	if err := g.sessions.Update(ctx, index); err != nil {
		slog.Warn("update session index failed", "session_id", string(st.ID()), "error", err)
	}
}
