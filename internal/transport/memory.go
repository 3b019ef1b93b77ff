package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/user/remixsync/internal/types"
)

// DefaultBuffer is the per-subscriber inbound buffer of an in-process hub.
const DefaultBuffer = 64

// ErrHubClosed is returned when operations are attempted on a closed hub.
var ErrHubClosed = errors.New("hub is closed")

// HubStats counts envelopes that went through a hub.
type HubStats struct {
	Published uint64
	Delivered uint64
	Dropped   uint64
}

// Hub is an in-process channel shared by every participant of every
// session it hosts. Publish fans an envelope out to all subscribers of the
// session, the sender included, and drops it for subscribers whose buffer is
// full rather than blocking.
type Hub struct {
	mu       sync.RWMutex
	sessions map[types.SessionID]map[types.ParticipantID]chan types.Envelope
	refuse   map[types.ParticipantID]bool
	closed   bool

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[types.SessionID]map[types.ParticipantID]chan types.Envelope),
		refuse:   make(map[types.ParticipantID]bool),
	}
}

// Refuse makes Connect fail for participant, simulating an unreachable
// channel.
func (h *Hub) Refuse(participant types.ParticipantID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refuse[participant] = true
}

// Dial returns a transport for participant in session. It satisfies Dialer.
func (h *Hub) Dial(session types.SessionID, participant types.ParticipantID) Transport {
	return &MemoryTransport{
		hub:         h,
		session:     session,
		participant: participant,
		recv:        make(chan types.Envelope, DefaultBuffer),
	}
}

// Stats returns the hub counters.
func (h *Hub) Stats() HubStats {
	return HubStats{
		Published: h.published.Load(),
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
	}
}

// Close disconnects every subscriber. Later Connect calls fail.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.closed = true
	h.sessions = make(map[types.SessionID]map[types.ParticipantID]chan types.Envelope)
	return nil
}

func (h *Hub) subscribe(session types.SessionID, participant types.ParticipantID, ch chan types.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	if h.refuse[participant] {
		return ErrUnreachable
	}
	subs := h.sessions[session]
	if subs == nil {
		subs = make(map[types.ParticipantID]chan types.Envelope)
		h.sessions[session] = subs
	}
	subs[participant] = ch
	return nil
}

func (h *Hub) unsubscribe(session types.SessionID, participant types.ParticipantID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.sessions[session]
	delete(subs, participant)
	if len(subs) == 0 {
		delete(h.sessions, session)
	}
}

func (h *Hub) publish(env types.Envelope) {
	h.published.Add(1)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.sessions[env.SessionID] {
		select {
		case ch <- env:
			h.delivered.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
}

// MemoryTransport is one participant's attachment to a Hub.
type MemoryTransport struct {
	hub         *Hub
	session     types.SessionID
	participant types.ParticipantID
	recv        chan types.Envelope

	mu        sync.Mutex
	connected bool
}

func (m *MemoryTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "connect", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return nil
	}
	if err := m.hub.subscribe(m.session, m.participant, m.recv); err != nil {
		return &Error{Op: "connect", Err: err}
	}
	m.connected = true
	return nil
}

func (m *MemoryTransport) Send(_ context.Context, env types.Envelope) error {
	m.mu.Lock()
	connected := m.connected
	m.mu.Unlock()
	if !connected {
		return &Error{Op: "send", Err: ErrNotConnected}
	}
	env.SessionID = m.session
	m.hub.publish(env)
	return nil
}

func (m *MemoryTransport) Receive() <-chan types.Envelope {
	return m.recv
}

func (m *MemoryTransport) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil
	}
	m.connected = false
	m.hub.unsubscribe(m.session, m.participant)
	// Tell the rest of the session the participant is gone, as the relay
	// does when a socket drops.
	m.hub.publish(types.NewEnvelope(types.KindParticipantLeave, m.session, m.participant, 0))
	return nil
}

func (m *MemoryTransport) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}
