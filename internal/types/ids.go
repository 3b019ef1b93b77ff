// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type SessionID string
type ParticipantID string
type ClipID string
type EnvelopeID string
type ResultID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.New().String())
}

func NewResultID() ResultID {
	return ResultID(uuid.New().String())
}

// NewEnvelopeID returns a lexically sortable id so journal entries and relay
// logs order by creation time.
func NewEnvelopeID() EnvelopeID {
	return EnvelopeID(ulid.Make().String())
}
