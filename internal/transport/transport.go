// Package transport carries session envelopes between participants.
//
// A Transport is an unreliable publish/subscribe channel scoped to one
// session: Send is fire-and-forget and neither delivery nor ordering is
// guaranteed. Receivers rely on document versions to discard duplicates and
// stale updates.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/user/remixsync/internal/types"
)

// Transport is the channel one participant uses to reach the others.
type Transport interface {
	// Connect joins the channel. It may fail or time out.
	Connect(ctx context.Context) error

	// Send publishes env without waiting for delivery.
	Send(ctx context.Context, env types.Envelope) error

	// Receive returns the stream of envelopes from the channel.
	Receive() <-chan types.Envelope

	// Disconnect releases the channel. It is safe to call more than once and
	// before Connect.
	Disconnect() error

	// Connected reports whether the channel is currently usable.
	Connected() bool
}

var (
	// ErrNotConnected is returned by Send before Connect or after Disconnect.
	ErrNotConnected = errors.New("transport not connected")

	// ErrBufferFull is returned when an outbound envelope was dropped because
	// the send buffer is full.
	ErrBufferFull = errors.New("send buffer full")

	// ErrUnreachable is returned by Connect when the channel refuses the
	// participant.
	ErrUnreachable = errors.New("channel unreachable")
)

// Error wraps a failure of a transport operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Dialer builds the transport a participant uses for a session.
type Dialer func(session types.SessionID, participant types.ParticipantID) Transport
