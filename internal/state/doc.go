// Package state provides filesystem-backed storage implementations.
package state

import (
	"errors"

	"github.com/user/remixsync/internal/types"
)

// ErrNotFound is wrapped by lookups that find nothing.
var ErrNotFound = errors.New("not found")

// Compile-time interface compliance checks.
var _ types.SessionStore = (*SessionStore)(nil)
var _ types.Journal = (*JournalStore)(nil)
var _ types.ResultSaver = (*ResultStore)(nil)
