// internal/types/envelope.go
package types

import "time"

// EventKind names a message on the session channel.
type EventKind string

const (
	KindFilterChange     EventKind = "filterChange"
	KindClipAdded        EventKind = "clipAdded"
	KindStateUpdate      EventKind = "stateUpdate"
	KindCursorMove       EventKind = "cursorMove"
	KindParticipantJoin  EventKind = "participantJoin"
	KindParticipantLeave EventKind = "participantLeave"
)

// Versioned reports whether k carries a Document revision.
func (k EventKind) Versioned() bool {
	switch k {
	case KindFilterChange, KindClipAdded, KindStateUpdate:
		return true
	}
	return false
}

// FilterEvent is the logical filter action exchanged between participants.
type FilterEvent struct {
	FilterName string        `json:"filter_name"`
	Parameters Params        `json:"parameters"`
	Enabled    bool          `json:"enabled"`
	Origin     ParticipantID `json:"origin"`
	Version    int64         `json:"version"`
}

// Envelope is one message on the session channel. Versioned kinds always
// carry the full Document at Version.
type Envelope struct {
	ID          EnvelopeID    `json:"id"`
	Type        EventKind     `json:"type"`
	SessionID   SessionID     `json:"session_id"`
	Origin      ParticipantID `json:"origin"`
	Version     int64         `json:"version"`
	At          time.Time     `json:"at"`
	Document    *Document     `json:"document,omitempty"`
	Filter      *FilterEvent  `json:"filter,omitempty"`
	Clip        *Clip         `json:"clip,omitempty"`
	Participant *Participant  `json:"participant,omitempty"`
	Cursor      *Cursor       `json:"cursor,omitempty"`
}

// NewEnvelope stamps a fresh id and time on an envelope of the given kind.
func NewEnvelope(kind EventKind, session SessionID, origin ParticipantID, version int64) Envelope {
	return Envelope{
		ID:        NewEnvelopeID(),
		Type:      kind,
		SessionID: session,
		Origin:    origin,
		Version:   version,
		At:        time.Now().UTC(),
	}
}
