package transport

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/assert/v2"

	"github.com/user/remixsync/internal/types"
)

func startRelay(t *testing.T, cfg RelayConfig) (*Relay, string) {
	t.Helper()
	relay := NewRelay(cfg)
	r := chi.NewRouter()
	relay.Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		relay.Close()
		srv.Close()
	})
	return relay, srv.URL
}

func waitForClients(t *testing.T, relay *Relay, session types.SessionID, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for relay.ClientCount(session) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients in %s, have %d", n, session, relay.ClientCount(session))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dialWS(t *testing.T, cfg WebSocketConfig, session types.SessionID, participant types.ParticipantID) *WebSocket {
	t.Helper()
	ws := NewWebSocket(cfg, session, participant)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ws.Connect(ctx); err != nil {
		t.Fatalf("connect %s: %v", participant, err)
	}
	t.Cleanup(func() { ws.Disconnect() })
	return ws
}

func TestRelayStampsOriginAndFansOut(t *testing.T) {
	relay, url := startRelay(t, RelayConfig{})
	alice := dialWS(t, WebSocketConfig{URL: url}, "s1", "alice")
	bob := dialWS(t, WebSocketConfig{URL: url, Codec: CBORCodec{}}, "s1", "bob")
	waitForClients(t, relay, "s1", 2)

	env := sampleEnvelope()
	env.Origin = "mallory"
	assert.Equal(t, alice.Send(context.Background(), env), nil)

	got := recvWithin(t, bob.Receive(), 2*time.Second)
	assert.Equal(t, got.ID, env.ID)
	assert.Equal(t, got.Origin, types.ParticipantID("alice"))
	assert.Equal(t, got.SessionID, types.SessionID("s1"))
	assert.Equal(t, got.Document.ActiveFilters["blur"].Params["radius"], 5.0)

	echo := recvWithin(t, alice.Receive(), 2*time.Second)
	assert.Equal(t, echo.ID, env.ID)
}

func TestRelayIsolatesSessions(t *testing.T) {
	relay, url := startRelay(t, RelayConfig{})
	alice := dialWS(t, WebSocketConfig{URL: url}, "s1", "alice")
	carol := dialWS(t, WebSocketConfig{URL: url}, "s2", "carol")
	waitForClients(t, relay, "s1", 1)
	waitForClients(t, relay, "s2", 1)

	assert.Equal(t, alice.Send(context.Background(), types.NewEnvelope(types.KindCursorMove, "s1", "alice", 0)), nil)
	recvWithin(t, alice.Receive(), 2*time.Second)
	expectSilence(t, carol.Receive(), 100*time.Millisecond)
}

func TestRelayReplaysLatestStateToLateJoiner(t *testing.T) {
	relay, url := startRelay(t, RelayConfig{})
	alice := dialWS(t, WebSocketConfig{URL: url}, "s1", "alice")
	waitForClients(t, relay, "s1", 1)

	ctx := context.Background()
	older := types.NewEnvelope(types.KindStateUpdate, "s1", "alice", 1)
	older.Document = &types.Document{Version: 1}
	newer := sampleEnvelope()
	assert.Equal(t, alice.Send(ctx, newer), nil)
	recvWithin(t, alice.Receive(), 2*time.Second)
	assert.Equal(t, alice.Send(ctx, older), nil)
	recvWithin(t, alice.Receive(), 2*time.Second)

	bob := dialWS(t, WebSocketConfig{URL: url}, "s1", "bob")
	got := recvWithin(t, bob.Receive(), 2*time.Second)
	assert.Equal(t, got.ID, newer.ID)
	assert.Equal(t, got.Version, int64(3))
}

func TestRelayAnnouncesLeave(t *testing.T) {
	relay, url := startRelay(t, RelayConfig{})
	alice := dialWS(t, WebSocketConfig{URL: url}, "s1", "alice")
	bob := dialWS(t, WebSocketConfig{URL: url}, "s1", "bob")
	waitForClients(t, relay, "s1", 2)

	assert.Equal(t, alice.Disconnect(), nil)
	assert.Equal(t, alice.Connected(), false)

	leave := recvWithin(t, bob.Receive(), 2*time.Second)
	assert.Equal(t, leave.Type, types.KindParticipantLeave)
	assert.Equal(t, leave.Origin, types.ParticipantID("alice"))
	waitForClients(t, relay, "s1", 1)
}

func TestRelayRequiresToken(t *testing.T) {
	_, url := startRelay(t, RelayConfig{Token: "secret"})

	ws := NewWebSocket(WebSocketConfig{URL: url, Token: "wrong"}, "s1", "alice")
	err := ws.Connect(context.Background())
	var te *Error
	assert.Equal(t, errors.As(err, &te), true)
	assert.Equal(t, ws.Connected(), false)

	ok := dialWS(t, WebSocketConfig{URL: url, Token: "secret"}, "s1", "alice")
	assert.Equal(t, ok.Connected(), true)
}

func TestWebSocketSendAfterDisconnect(t *testing.T) {
	_, url := startRelay(t, RelayConfig{})
	ws := dialWS(t, WebSocketConfig{URL: url}, "s1", "alice")
	assert.Equal(t, ws.Disconnect(), nil)
	assert.Equal(t, ws.Disconnect(), nil)

	err := ws.Send(context.Background(), sampleEnvelope())
	assert.Equal(t, errors.Is(err, ErrNotConnected), true)
}

func TestWebSocketUnreachable(t *testing.T) {
	ws := NewWebSocket(WebSocketConfig{URL: "ws://127.0.0.1:1"}, "s1", "alice")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NotEqual(t, ws.Connect(ctx), nil)
	assert.Equal(t, ws.Disconnect(), nil)
}
