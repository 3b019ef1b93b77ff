// internal/types/interfaces.go
package types

import (
	"context"
)

type SessionStore interface {
	Create(ctx context.Context, index *SessionIndex) error
	Get(ctx context.Context, id SessionID) (*SessionIndex, error)
	List(ctx context.Context) ([]*SessionIndex, error)
	Update(ctx context.Context, index *SessionIndex) error
}

type Journal interface {
	Append(ctx context.Context, entry *JournalEntry) error
	Tail(ctx context.Context, sessionID SessionID, limit int) ([]*JournalEntry, error)
	Count(ctx context.Context, sessionID SessionID) (int64, error)
}

// ResultSaver persists a finished remix and returns an opaque URL for it.
type ResultSaver interface {
	Save(ctx context.Context, sessionID SessionID, doc Document) (string, error)
}
