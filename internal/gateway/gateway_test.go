package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/user/remixsync/internal/state"
	"github.com/user/remixsync/internal/transport"
	"github.com/user/remixsync/internal/types"
)

func fastRetry() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
}

func newGateway(t *testing.T, hub *transport.Hub) (*Gateway, *state.SessionStore) {
	t.Helper()
	dir := t.TempDir()
	sessions := state.NewSessionStore(dir)
	gw := New(sessions, state.NewJournalStore(dir), state.NewResultStore(dir), hub.Dial, Settings{
		AutoSave:       true,
		ConnectTimeout: time.Second,
		Retry:          fastRetry(),
	})
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)
	return gw, sessions
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGatewayStartSession(t *testing.T) {
	gw, sessions := newGateway(t, transport.NewHub())
	ctx := context.Background()

	st, res, err := gw.StartSession(ctx, StartRequest{Participant: "alice", ClipIDs: []types.ClipID{"a", "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != types.SessionActive || res.Offline || res.Version != 2 {
		t.Errorf("unexpected start result %+v", res)
	}

	index, err := sessions.Get(ctx, st.ID())
	if err != nil {
		t.Fatal(err)
	}
	if index.Owner != "alice" || index.Status != types.SessionActive || index.Version != 2 {
		t.Errorf("unexpected index %+v", index)
	}

	if _, _, err := gw.StartSession(ctx, StartRequest{SessionID: st.ID(), Participant: "alice"}); !errors.Is(err, ErrAlreadyHosted) {
		t.Errorf("expected ErrAlreadyHosted, got %v", err)
	}
}

func TestGatewayOfflineSession(t *testing.T) {
	hub := transport.NewHub()
	hub.Refuse("alice")
	gw, sessions := newGateway(t, hub)
	ctx := context.Background()

	st, res, err := gw.StartSession(ctx, StartRequest{Participant: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Offline {
		t.Fatal("expected offline session")
	}
	index, err := sessions.Get(ctx, st.ID())
	if err != nil {
		t.Fatal(err)
	}
	if !index.Offline {
		t.Error("offline flag not recorded in the index")
	}
	if v, err := st.ApplyFilter(ctx, "blur", nil, true); err != nil || v != 1 {
		t.Errorf("offline edit failed: version %d err %v", v, err)
	}
}

func TestGatewayRoutesInboundThroughLanes(t *testing.T) {
	hub := transport.NewHub()
	gwA, _ := newGateway(t, hub)
	gwB, _ := newGateway(t, hub)
	ctx := context.Background()

	alice, _, err := gwA.StartSession(ctx, StartRequest{SessionID: "shared", Participant: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	bob, _, err := gwB.StartSession(ctx, StartRequest{SessionID: "shared", Participant: "bob"})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "rosters", func() bool { return alice.Store().Has("bob") && bob.Store().Has("alice") })

	if _, err := alice.ApplyFilter(ctx, "glitch", nil, true); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "bob to merge", func() bool { return bob.Store().Version() == 1 })

	if n, _ := gwB.Queue.Processed(); n == 0 {
		t.Error("expected inbound envelopes to go through the queue")
	}
	if gwB.Queue.Lanes() != 1 {
		t.Errorf("expected 1 lane, got %d", gwB.Queue.Lanes())
	}
}

func TestGatewayEndSession(t *testing.T) {
	gw, sessions := newGateway(t, transport.NewHub())
	ctx := context.Background()

	st, _, err := gw.StartSession(ctx, StartRequest{Participant: "alice", ClipIDs: []types.ClipID{"a"}})
	if err != nil {
		t.Fatal(err)
	}
	res, err := gw.EndSession(ctx, st.ID(), true)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.FinalURL, "file://") {
		t.Errorf("expected saved result URL, got %q", res.FinalURL)
	}

	index, err := sessions.Get(ctx, st.ID())
	if err != nil {
		t.Fatal(err)
	}
	if index.Status != types.SessionEnded || index.FinalURL != res.FinalURL || index.Version != 1 {
		t.Errorf("unexpected index after end %+v", index)
	}

	if _, err := gw.Studio(st.ID()); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession, got %v", err)
	}
	if _, err := gw.EndSession(ctx, st.ID(), true); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession on second end, got %v", err)
	}
}

func TestGatewayResync(t *testing.T) {
	hub := transport.NewHub()
	hub.Refuse("carol")
	gw, _ := newGateway(t, hub)
	ctx := context.Background()

	alice, _, err := gw.StartSession(ctx, StartRequest{Participant: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := gw.StartSession(ctx, StartRequest{Participant: "carol"}); err != nil {
		t.Fatal(err)
	}
	if n := gw.Resync(ctx); n != 1 {
		t.Errorf("expected 1 online session resynced, got %d", n)
	}
	if _, err := alice.ApplyFilter(ctx, "vhs", nil, true); err != nil {
		t.Fatal(err)
	}
	if n := gw.Resync(ctx); n != 1 {
		t.Errorf("expected 1 resync, got %d", n)
	}
}

func TestGatewayStopEndsStudios(t *testing.T) {
	dir := t.TempDir()
	sessions := state.NewSessionStore(dir)
	gw := New(sessions, nil, nil, transport.NewHub().Dial, Settings{Retry: fastRetry()})
	ctx := context.Background()
	gw.Start(ctx)

	st, _, err := gw.StartSession(ctx, StartRequest{Participant: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	gw.Stop()

	if st.Status() != types.SessionEnded {
		t.Errorf("expected studio ended on stop, got %s", st.Status())
	}
	if len(gw.Studios()) != 0 {
		t.Error("expected no hosted studios after stop")
	}
	index, err := sessions.Get(ctx, st.ID())
	if err != nil {
		t.Fatal(err)
	}
	if index.Status != types.SessionEnded {
		t.Errorf("expected ended in index, got %s", index.Status)
	}
}
