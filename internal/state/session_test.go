// internal/state/session_test.go
package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/user/remixsync/internal/types"
)

func TestSessionStore(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	ctx := context.Background()

	id := types.NewSessionID()
	if err := store.Create(ctx, &types.SessionIndex{SessionID: id, Owner: "alice"}); err != nil {
		t.Fatal(err)
	}

	// Test get
	session, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if session.Owner != "alice" {
		t.Errorf("expected owner alice, got %s", session.Owner)
	}
	if session.Status != types.SessionCreated {
		t.Errorf("expected status created, got %s", session.Status)
	}

	// Test duplicate create
	if err := store.Create(ctx, &types.SessionIndex{SessionID: id}); err == nil {
		t.Error("expected error creating duplicate session")
	}

	// Test update
	session.Status = types.SessionEnded
	session.Version = 7
	session.FinalURL = "file:///tmp/result.json"
	if err := store.Update(ctx, session); err != nil {
		t.Fatal(err)
	}
	reloaded := NewSessionStore(dir)
	got, err := reloaded.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.SessionEnded || got.Version != 7 || got.FinalURL == "" {
		t.Errorf("update not persisted: %+v", got)
	}
}

func TestSessionStoreNotFound(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.Update(ctx, &types.SessionIndex{SessionID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on update, got %v", err)
	}
}

func TestSessionStoreListOrdered(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []types.SessionID{"c", "a", "b"} {
		idx := &types.SessionIndex{SessionID: id, CreatedAt: base.Add(time.Duration(2-i) * time.Minute)}
		if err := store.Create(ctx, idx); err != nil {
			t.Fatal(err)
		}
	}

	sessions, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	if sessions[0].SessionID != "b" || sessions[2].SessionID != "c" {
		t.Errorf("expected oldest first, got %s %s %s", sessions[0].SessionID, sessions[1].SessionID, sessions[2].SessionID)
	}
}
