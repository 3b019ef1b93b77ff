package collab

import (
	"fmt"

	"github.com/user/remixsync/internal/types"
)

// Outcome says what Receive did with an inbound envelope.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeStale    Outcome = "stale"
	OutcomeEcho     Outcome = "echo"
	OutcomePresence Outcome = "presence"
	OutcomeIgnored  Outcome = "ignored"
)

// Receive merges an envelope that arrived from the channel.
//
// Envelopes originated by the local participant are dropped, so a change that
// loops back through the channel is never applied twice. Versioned envelopes
// replace the whole Document when newer than the local version; a missing
// Document is treated as an empty one. Presence envelopes update the roster
// entry of their origin only.
func (s *Store) Receive(env types.Envelope) (Outcome, error) {
	if env.Origin == s.self {
		s.echoDrops.Add(1)
		return OutcomeEcho, nil
	}

	if env.Type.Versioned() {
		var doc types.Document
		if env.Document != nil {
			doc = *env.Document
		}
		applied, err := s.applyRemote(Event{
			Kind:    env.Type,
			Version: env.Version,
			Remote:  true,
			Origin:  env.Origin,
			Filter:  env.Filter,
			Clip:    env.Clip,
		}, doc)
		if err != nil {
			return OutcomeIgnored, err
		}
		if !applied {
			return OutcomeStale, nil
		}
		return OutcomeApplied, nil
	}

	switch env.Type {
	case types.KindParticipantJoin:
		if env.Participant == nil {
			return OutcomeIgnored, invalid("participant", "join without participant")
		}
		if env.Participant.ID != env.Origin {
			return OutcomeIgnored, invalid("participant", fmt.Sprintf("join for %q sent by %q", env.Participant.ID, env.Origin))
		}
		if err := s.join(*env.Participant, true); err != nil {
			return OutcomeIgnored, err
		}
	case types.KindParticipantLeave:
		if !s.leave(env.Origin, true) {
			return OutcomeIgnored, nil
		}
	case types.KindCursorMove:
		if env.Cursor == nil {
			return OutcomeIgnored, invalid("cursor", "cursor move without position")
		}
		if err := s.moveCursor(env.Origin, *env.Cursor, true); err != nil {
			return OutcomeIgnored, err
		}
	default:
		return OutcomeIgnored, fmt.Errorf("unknown envelope type %q", env.Type)
	}
	return OutcomePresence, nil
}

// EnvelopeFor converts a local store event into the envelope that announces
// it on the channel.
func EnvelopeFor(session types.SessionID, ev Event) types.Envelope {
	env := types.NewEnvelope(ev.Kind, session, ev.Origin, ev.Version)
	if ev.Kind.Versioned() {
		doc := ev.Document.Clone()
		env.Document = &doc
	}
	if ev.Filter != nil {
		f := *ev.Filter
		f.Parameters = f.Parameters.Clone()
		env.Filter = &f
	}
	if ev.Clip != nil {
		c := *ev.Clip
		env.Clip = &c
	}
	if ev.Participant != nil {
		p := ev.Participant.Clone()
		env.Participant = &p
		if ev.Kind == types.KindCursorMove {
			env.Cursor = p.Cursor
		}
	}
	return env
}

// StateEnvelope announces the full Document at its current version.
func StateEnvelope(session types.SessionID, origin types.ParticipantID, doc types.Document) types.Envelope {
	env := types.NewEnvelope(types.KindStateUpdate, session, origin, doc.Version)
	cp := doc.Clone()
	env.Document = &cp
	return env
}
