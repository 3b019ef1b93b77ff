package gateway

import (
	"context"
	"time"

	"github.com/user/remixsync/internal/types"
)

// InboundStatus represents the lifecycle state of an Inbound.
type InboundStatus string

const (
	InboundQueued  InboundStatus = "queued"
	InboundRunning InboundStatus = "running"
	InboundDone    InboundStatus = "done"
	InboundFailed  InboundStatus = "failed"
)

// Inbound tracks one envelope received for a hosted session on its way
// through the session's lane.
type Inbound struct {
	ID        types.EnvelopeID
	SessionID types.SessionID
	Envelope  types.Envelope
	Status    InboundStatus
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Error     error
	Ctx       context.Context
}

// NewInbound creates an Inbound in the Queued state for the given session.
func NewInbound(sessionID types.SessionID, env types.Envelope) *Inbound {
	return &Inbound{
		ID:        env.ID,
		SessionID: sessionID,
		Envelope:  env,
		Status:    InboundQueued,
		CreatedAt: time.Now(),
	}
}
