package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/user/remixsync/internal/types"
)

func recvWithin(t *testing.T, ch <-chan types.Envelope, d time.Duration) types.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(d):
		t.Fatalf("no envelope within %s", d)
		return types.Envelope{}
	}
}

func expectSilence(t *testing.T, ch <-chan types.Envelope, d time.Duration) {
	t.Helper()
	select {
	case env := <-ch:
		t.Fatalf("unexpected envelope %s from %s", env.Type, env.Origin)
	case <-time.After(d):
	}
}

func TestHubFanOutIncludesSender(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	alice := hub.Dial("s1", "alice")
	bob := hub.Dial("s1", "bob")
	other := hub.Dial("s2", "carol")
	for _, tr := range []Transport{alice, bob, other} {
		assert.Equal(t, tr.Connect(ctx), nil)
	}

	env := types.NewEnvelope(types.KindStateUpdate, "ignored", "alice", 1)
	assert.Equal(t, alice.Send(ctx, env), nil)

	got := recvWithin(t, bob.Receive(), time.Second)
	assert.Equal(t, got.ID, env.ID)
	assert.Equal(t, got.SessionID, types.SessionID("s1"))

	echo := recvWithin(t, alice.Receive(), time.Second)
	assert.Equal(t, echo.Origin, types.ParticipantID("alice"))

	expectSilence(t, other.Receive(), 50*time.Millisecond)
	assert.Equal(t, hub.Stats().Published, uint64(1))
	assert.Equal(t, hub.Stats().Delivered, uint64(2))
}

func TestHubRefuse(t *testing.T) {
	hub := NewHub()
	hub.Refuse("alice")

	tr := hub.Dial("s1", "alice")
	err := tr.Connect(context.Background())
	assert.Equal(t, errors.Is(err, ErrUnreachable), true)

	var te *Error
	assert.Equal(t, errors.As(err, &te), true)
	assert.Equal(t, te.Op, "connect")
	assert.Equal(t, tr.Connected(), false)
}

func TestMemorySendBeforeConnect(t *testing.T) {
	tr := NewHub().Dial("s1", "alice")
	err := tr.Send(context.Background(), types.NewEnvelope(types.KindCursorMove, "s1", "alice", 0))
	assert.Equal(t, errors.Is(err, ErrNotConnected), true)
}

func TestMemoryDisconnectIdempotentAndAnnouncesLeave(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	alice := hub.Dial("s1", "alice")
	bob := hub.Dial("s1", "bob")

	assert.Equal(t, alice.Disconnect(), nil)

	assert.Equal(t, alice.Connect(ctx), nil)
	assert.Equal(t, bob.Connect(ctx), nil)

	assert.Equal(t, alice.Disconnect(), nil)
	assert.Equal(t, alice.Disconnect(), nil)
	assert.Equal(t, alice.Connected(), false)

	leave := recvWithin(t, bob.Receive(), time.Second)
	assert.Equal(t, leave.Type, types.KindParticipantLeave)
	assert.Equal(t, leave.Origin, types.ParticipantID("alice"))
	expectSilence(t, bob.Receive(), 50*time.Millisecond)
}

func TestHubDropsWhenSubscriberFull(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	alice := hub.Dial("s1", "alice")
	assert.Equal(t, alice.Connect(ctx), nil)

	for i := 0; i < DefaultBuffer+5; i++ {
		assert.Equal(t, alice.Send(ctx, types.NewEnvelope(types.KindCursorMove, "s1", "alice", 0)), nil)
	}
	assert.Equal(t, hub.Stats().Delivered, uint64(DefaultBuffer))
	assert.Equal(t, hub.Stats().Dropped, uint64(5))
}

func TestHubClose(t *testing.T) {
	hub := NewHub()
	assert.Equal(t, hub.Close(), nil)
	assert.Equal(t, errors.Is(hub.Close(), ErrHubClosed), true)

	err := hub.Dial("s1", "alice").Connect(context.Background())
	assert.Equal(t, errors.Is(err, ErrHubClosed), true)
}
