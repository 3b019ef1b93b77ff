// internal/types/models.go
package types

import (
	"sort"
	"time"
)

// Clip is an immutable timeline entry. Duration is in seconds.
type Clip struct {
	ID        ClipID    `json:"id"`
	Title     string    `json:"title"`
	Duration  float64   `json:"duration"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// Params maps a filter parameter name to its numeric value.
type Params map[string]float64

// Clone returns a copy of p. A nil map clones to an empty one.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

type FilterSettings struct {
	Name      string        `json:"name"`
	Params    Params        `json:"params"`
	Enabled   bool          `json:"enabled"`
	AppliedBy ParticipantID `json:"applied_by,omitempty"`
	AppliedAt time.Time     `json:"applied_at"`
}

type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Participant struct {
	ID      ParticipantID `json:"id"`
	Name    string        `json:"name"`
	Cursor  *Cursor       `json:"cursor,omitempty"`
	Offline bool          `json:"offline,omitempty"`
}

// Clone returns a deep copy of p.
func (p Participant) Clone() Participant {
	if p.Cursor != nil {
		c := *p.Cursor
		p.Cursor = &c
	}
	return p
}

// Document is the versioned state shared by every participant of a session.
type Document struct {
	Timeline      []Clip                    `json:"timeline"`
	ActiveFilters map[string]FilterSettings `json:"active_filters"`
	Version       int64                     `json:"version"`
}

// Clone returns a deep copy of d with non-nil collections.
func (d Document) Clone() Document {
	out := Document{
		Timeline:      make([]Clip, len(d.Timeline)),
		ActiveFilters: make(map[string]FilterSettings, len(d.ActiveFilters)),
		Version:       d.Version,
	}
	copy(out.Timeline, d.Timeline)
	for name, fs := range d.ActiveFilters {
		fs.Params = fs.Params.Clone()
		out.ActiveFilters[name] = fs
	}
	return out
}

// FilterNames returns the active filter names in sorted order.
func (d Document) FilterNames() []string {
	names := make([]string, 0, len(d.ActiveFilters))
	for name := range d.ActiveFilters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FilterSnapshot is the read-only view handed to a rendering surface.
type FilterSnapshot struct {
	ActiveFilters map[string]FilterSettings `json:"active_filters"`
	Version       int64                     `json:"version"`
}

type SessionStatus string

const (
	SessionCreated SessionStatus = "created"
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
)

type SessionIndex struct {
	SessionID SessionID     `json:"session_id"`
	Owner     ParticipantID `json:"owner"`
	Status    SessionStatus `json:"status"`
	Offline   bool          `json:"offline"`
	Version   int64         `json:"version"`
	FinalURL  string        `json:"final_url,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// JournalEntry records what happened to one envelope in one session.
type JournalEntry struct {
	Seq        int64         `json:"seq"`
	SessionID  SessionID     `json:"session_id"`
	EnvelopeID EnvelopeID    `json:"envelope_id"`
	Kind       EventKind     `json:"kind"`
	Origin     ParticipantID `json:"origin"`
	Version    int64         `json:"version"`
	Direction  string        `json:"direction"`
	Outcome    string        `json:"outcome"`
	At         time.Time     `json:"at"`
}

type ResultMeta struct {
	ID        ResultID  `json:"id"`
	SessionID SessionID `json:"session_id"`
	Version   int64     `json:"version"`
	Clips     int       `json:"clips"`
	Filters   []string  `json:"filters"`
	CreatedAt time.Time `json:"created_at"`
}
