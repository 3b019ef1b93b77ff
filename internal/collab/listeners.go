package collab

import (
	"sync"

	"github.com/user/remixsync/internal/types"
)

// Event describes a change the Store made, local or remote.
type Event struct {
	Kind        types.EventKind
	Version     int64
	Remote      bool
	Origin      types.ParticipantID
	Document    types.Document
	Filter      *types.FilterEvent
	Clip        *types.Clip
	Participant *types.Participant
}

// Listener receives store events. It runs on the goroutine that made the
// change, after the store lock is released.
type Listener func(Event)

// listeners routes events to the listeners registered for their kind.
// Listeners of one kind fire in registration order.
type listeners struct {
	mu     sync.RWMutex
	next   int
	byKind map[types.EventKind][]registration
}

type registration struct {
	id int
	fn Listener
}

func newListeners() *listeners {
	return &listeners{byKind: make(map[types.EventKind][]registration)}
}

func (l *listeners) add(kind types.EventKind, fn Listener) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.next
	l.next++
	l.byKind[kind] = append(l.byKind[kind], registration{id: id, fn: fn})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		regs := l.byKind[kind]
		for i, r := range regs {
			if r.id == id {
				l.byKind[kind] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

func (l *listeners) emit(ev Event) {
	l.mu.RLock()
	regs := l.byKind[ev.Kind]
	l.mu.RUnlock()
	for _, r := range regs {
		r.fn(ev)
	}
}
