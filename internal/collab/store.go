// Package collab holds the shared remix Document of one session and the
// rules for changing it locally and merging changes from other participants.
package collab

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/remixsync/internal/types"
)

// DefaultMaxParticipants caps the roster when no option overrides it.
const DefaultMaxParticipants = 4

// Stats counts how inbound updates were resolved.
type Stats struct {
	Applied    uint64 `json:"applied"`
	Stale      uint64 `json:"stale"`
	EchoDrops  uint64 `json:"echo_drops"`
	Malformed  uint64 `json:"malformed"`
	LocalEdits uint64 `json:"local_edits"`
}

// Store is the single source of truth for one session's Document and
// roster. Every mutation is serialized by the store lock and every change is
// published to listeners after the lock is released.
type Store struct {
	mu              sync.Mutex
	self            types.ParticipantID
	doc             types.Document
	roster          map[types.ParticipantID]*types.Participant
	joinOrder       []types.ParticipantID
	maxParticipants int
	ended           bool
	now             func() time.Time

	listeners *listeners

	applied    atomic.Uint64
	stale      atomic.Uint64
	echoDrops  atomic.Uint64
	malformed  atomic.Uint64
	localEdits atomic.Uint64
}

// Option configures a Store.
type Option func(*Store)

// WithMaxParticipants sets the roster cap. Values below 1 are ignored.
func WithMaxParticipants(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxParticipants = n
		}
	}
}

// WithClock overrides the time source used for filter attribution.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store owned by the local participant self.
func NewStore(self types.ParticipantID, opts ...Option) *Store {
	s := &Store{
		self:            self,
		doc:             types.Document{}.Clone(),
		roster:          make(map[types.ParticipantID]*types.Participant),
		maxParticipants: DefaultMaxParticipants,
		now:             time.Now,
		listeners:       newListeners(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn for events of the given kind and returns a func
// that removes it.
func (s *Store) Subscribe(kind types.EventKind, fn Listener) func() {
	return s.listeners.add(kind, fn)
}

// Self returns the local participant id.
func (s *Store) Self() types.ParticipantID {
	return s.self
}

// Version returns the current Document version.
func (s *Store) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Version
}

// Snapshot returns a deep copy of the Document.
func (s *Store) Snapshot() types.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// FilterSnapshot returns a copy of the active filters with the version they
// belong to.
func (s *Store) FilterSnapshot() types.FilterSnapshot {
	doc := s.Snapshot()
	return types.FilterSnapshot{ActiveFilters: doc.ActiveFilters, Version: doc.Version}
}

// Participants returns copies of the roster in join order.
func (s *Store) Participants() []types.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Participant, 0, len(s.joinOrder))
	for _, id := range s.joinOrder {
		out = append(out, s.roster[id].Clone())
	}
	return out
}

// Has reports whether id is on the roster.
func (s *Store) Has(id types.ParticipantID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.roster[id]
	return ok
}

// Ended reports whether End has been called.
func (s *Store) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Stats returns a snapshot of the merge counters.
func (s *Store) Stats() Stats {
	return Stats{
		Applied:    s.applied.Load(),
		Stale:      s.stale.Load(),
		EchoDrops:  s.echoDrops.Load(),
		Malformed:  s.malformed.Load(),
		LocalEdits: s.localEdits.Load(),
	}
}

// ApplyLocalFilterChange enables (insert or replace) or disables (delete) the
// named filter, bumps the version and returns it. The parameter map is
// replaced wholesale, never merged.
func (s *Store) ApplyLocalFilterChange(name string, params types.Params, enabled bool) (int64, error) {
	if name == "" {
		return 0, invalid("filter name", "must not be empty")
	}
	if err := validateParams(params); err != nil {
		return 0, err
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return 0, ErrSessionEnded
	}
	if enabled {
		s.doc.ActiveFilters[name] = types.FilterSettings{
			Name:      name,
			Params:    params.Clone(),
			Enabled:   true,
			AppliedBy: s.self,
			AppliedAt: s.now().UTC(),
		}
	} else {
		delete(s.doc.ActiveFilters, name)
	}
	s.doc.Version++
	version := s.doc.Version
	doc := s.doc.Clone()
	s.mu.Unlock()

	s.localEdits.Add(1)
	s.listeners.emit(Event{
		Kind:     types.KindFilterChange,
		Version:  version,
		Origin:   s.self,
		Document: doc,
		Filter: &types.FilterEvent{
			FilterName: name,
			Parameters: params.Clone(),
			Enabled:    enabled,
			Origin:     s.self,
			Version:    version,
		},
	})
	return version, nil
}

// AddClip appends clip to the timeline, bumps the version and returns it.
func (s *Store) AddClip(clip types.Clip) (int64, error) {
	if err := validateClip(clip); err != nil {
		return 0, err
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return 0, ErrSessionEnded
	}
	for _, existing := range s.doc.Timeline {
		if existing.ID == clip.ID {
			s.mu.Unlock()
			return 0, invalid("clip id", "duplicate clip "+string(clip.ID))
		}
	}
	if clip.CreatedAt.IsZero() {
		clip.CreatedAt = s.now().UTC()
	}
	s.doc.Timeline = append(s.doc.Timeline, clip)
	s.doc.Version++
	version := s.doc.Version
	doc := s.doc.Clone()
	s.mu.Unlock()

	s.localEdits.Add(1)
	s.listeners.emit(Event{
		Kind:     types.KindClipAdded,
		Version:  version,
		Origin:   s.self,
		Document: doc,
		Clip:     &clip,
	})
	return version, nil
}

// ApplyRemoteUpdate replaces the whole Document with doc when incoming is
// newer than the local version. Older or equal versions are discarded and
// reported as not applied, so duplicate and out-of-order delivery is safe.
// Fields absent from doc reset to empty. A doc that no local edit could have
// produced is rejected with a ValidationError and leaves the version alone.
func (s *Store) ApplyRemoteUpdate(incoming int64, doc types.Document) (bool, error) {
	return s.applyRemote(Event{Kind: types.KindStateUpdate, Version: incoming, Remote: true}, doc)
}

func (s *Store) applyRemote(ev Event, doc types.Document) (bool, error) {
	if err := validateDocument(doc); err != nil {
		s.malformed.Add(1)
		return false, err
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false, ErrSessionEnded
	}
	if ev.Version <= s.doc.Version {
		s.mu.Unlock()
		s.stale.Add(1)
		return false, nil
	}
	next := doc.Clone()
	next.Version = ev.Version
	s.doc = next
	ev.Document = next.Clone()
	s.mu.Unlock()

	s.applied.Add(1)
	s.listeners.emit(ev)
	return true, nil
}

// JoinParticipant adds p to the roster. Presence is not versioned.
func (s *Store) JoinParticipant(p types.Participant) error {
	return s.join(p, false)
}

func (s *Store) join(p types.Participant, remote bool) error {
	if p.ID == "" {
		return invalid("participant id", "must not be empty")
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	if existing, ok := s.roster[p.ID]; ok {
		// Rejoin refreshes the profile but keeps the roster slot.
		cp := p.Clone()
		if cp.Cursor == nil {
			cp.Cursor = existing.Cursor
		}
		s.roster[p.ID] = &cp
		s.mu.Unlock()
		return nil
	}
	if len(s.roster) >= s.maxParticipants {
		s.mu.Unlock()
		return ErrRosterFull
	}
	cp := p.Clone()
	s.roster[p.ID] = &cp
	s.joinOrder = append(s.joinOrder, p.ID)
	out := cp.Clone()
	s.mu.Unlock()

	s.listeners.emit(Event{
		Kind:        types.KindParticipantJoin,
		Remote:      remote,
		Origin:      p.ID,
		Participant: &out,
	})
	return nil
}

// LeaveParticipant removes id from the roster and reports whether it was
// present.
func (s *Store) LeaveParticipant(id types.ParticipantID) bool {
	return s.leave(id, false)
}

func (s *Store) leave(id types.ParticipantID, remote bool) bool {
	s.mu.Lock()
	p, ok := s.roster[id]
	if !ok || s.ended {
		s.mu.Unlock()
		return false
	}
	delete(s.roster, id)
	for i, pid := range s.joinOrder {
		if pid == id {
			s.joinOrder = append(s.joinOrder[:i], s.joinOrder[i+1:]...)
			break
		}
	}
	out := p.Clone()
	s.mu.Unlock()

	s.listeners.emit(Event{
		Kind:        types.KindParticipantLeave,
		Remote:      remote,
		Origin:      id,
		Participant: &out,
	})
	return true
}

// MoveCursor records a cursor position for a participant on the roster.
func (s *Store) MoveCursor(id types.ParticipantID, pos types.Cursor) error {
	return s.moveCursor(id, pos, false)
}

func (s *Store) moveCursor(id types.ParticipantID, pos types.Cursor, remote bool) error {
	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) {
		return invalid("cursor", "coordinates must be numbers")
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	p, ok := s.roster[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownParticipant
	}
	c := pos
	p.Cursor = &c
	out := p.Clone()
	s.mu.Unlock()

	s.listeners.emit(Event{
		Kind:        types.KindCursorMove,
		Remote:      remote,
		Origin:      id,
		Participant: &out,
	})
	return nil
}

// End stops the store from accepting mutations, clears the Document and
// roster, and returns the Document as it was. Calling End again returns an
// empty Document and ErrSessionEnded.
func (s *Store) End() (types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return types.Document{}, ErrSessionEnded
	}
	s.ended = true
	final := s.doc.Clone()
	s.doc = types.Document{}.Clone()
	s.roster = make(map[types.ParticipantID]*types.Participant)
	s.joinOrder = nil
	return final, nil
}

func validateClip(clip types.Clip) error {
	if clip.ID == "" {
		return invalid("clip id", "must not be empty")
	}
	if !(clip.Duration > 0) || math.IsInf(clip.Duration, 0) {
		return invalid("clip duration", "must be a positive number of seconds")
	}
	return nil
}

// validateDocument checks a snapshot received from another participant.
// Disabled filters are deleted locally, so an entry with Enabled false never
// appears in a well-formed Document.
func validateDocument(doc types.Document) error {
	seen := make(map[types.ClipID]bool, len(doc.Timeline))
	for _, clip := range doc.Timeline {
		if err := validateClip(clip); err != nil {
			return err
		}
		if seen[clip.ID] {
			return invalid("clip id", "duplicate clip "+string(clip.ID))
		}
		seen[clip.ID] = true
	}
	for name, f := range doc.ActiveFilters {
		if name == "" || f.Name != name {
			return invalid("filter name", "entry "+name+" is named "+f.Name)
		}
		if !f.Enabled {
			return invalid("filter "+name, "disabled filters must be removed")
		}
		if err := validateParams(f.Params); err != nil {
			return err
		}
	}
	return nil
}

func validateParams(params types.Params) error {
	for k, v := range params {
		if k == "" {
			return invalid("filter params", "parameter names must not be empty")
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return invalid("filter params", "parameter "+k+" must be a finite number")
		}
	}
	return nil
}
