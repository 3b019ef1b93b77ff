package transport

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/user/remixsync/internal/types"
)

// RelayConfig configures the websocket relay server.
type RelayConfig struct {
	// Token, when set, must be presented as a bearer token or ?token=.
	Token        string
	Buffer       int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.ReadTimeout {
		c.PingInterval = c.ReadTimeout * 9 / 10
	}
	return c
}

// Relay fans envelopes out to every socket of a session. It stamps the
// session and origin of each inbound envelope from the socket it arrived on,
// so a client cannot speak for another participant. The newest versioned
// envelope of each session is replayed to late joiners.
type Relay struct {
	cfg      RelayConfig
	upgrader websocket.Upgrader

	mu     sync.Mutex
	rooms  map[types.SessionID]*room
	closed bool

	relayed atomic.Uint64
	dropped atomic.Uint64
}

type room struct {
	clients map[*relayClient]struct{}
	latest  *types.Envelope
}

type relayClient struct {
	session     types.SessionID
	participant types.ParticipantID
	codec       Codec
	conn        *websocket.Conn
	send        chan types.Envelope
	done        chan struct{}
	closeOnce   sync.Once
}

func (c *relayClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// NewRelay creates a relay with no rooms.
func NewRelay(cfg RelayConfig) *Relay {
	return &Relay{
		cfg: cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rooms: make(map[types.SessionID]*room),
	}
}

// Mount registers the websocket endpoint on r.
func (rl *Relay) Mount(r chi.Router) {
	r.Get("/sessions/{sessionID}/ws", rl.ServeWS)
}

// ServeWS upgrades the request and attaches the socket to its session room.
func (rl *Relay) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !rl.authorized(r) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	session := types.SessionID(chi.URLParam(r, "sessionID"))
	participant := types.ParticipantID(r.URL.Query().Get("participant"))
	if session == "" || participant == "" {
		http.Error(w, `{"error":"session and participant are required"}`, http.StatusBadRequest)
		return
	}
	codec, err := CodecByName(r.URL.Query().Get("codec"))
	if err != nil {
		http.Error(w, `{"error":"unknown codec"}`, http.StatusBadRequest)
		return
	}

	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("relay upgrade failed", "session_id", string(session), "error", err)
		return
	}

	c := &relayClient{
		session:     session,
		participant: participant,
		codec:       codec,
		conn:        conn,
		send:        make(chan types.Envelope, rl.cfg.Buffer),
		done:        make(chan struct{}),
	}
	if !rl.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay closed"),
			time.Now().Add(rl.cfg.WriteTimeout))
		conn.Close()
		return
	}
	slog.Info("relay client joined", "session_id", string(session), "participant_id", string(participant), "codec", codec.Name())

	go rl.writePump(c)
	rl.readPump(c)
}

func (rl *Relay) authorized(r *http.Request) bool {
	if rl.cfg.Token == "" {
		return true
	}
	token := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(rl.cfg.Token)) == 1
}

func (rl *Relay) register(c *relayClient) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.closed {
		return false
	}
	rm := rl.rooms[c.session]
	if rm == nil {
		rm = &room{clients: make(map[*relayClient]struct{})}
		rl.rooms[c.session] = rm
	}
	rm.clients[c] = struct{}{}
	if rm.latest != nil {
		c.send <- *rm.latest
	}
	return true
}

func (rl *Relay) unregister(c *relayClient) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rm := rl.rooms[c.session]
	if rm == nil {
		return false
	}
	if _, ok := rm.clients[c]; !ok {
		return false
	}
	delete(rm.clients, c)
	if len(rm.clients) == 0 {
		delete(rl.rooms, c.session)
	}
	return true
}

// broadcast delivers env to every socket in the session, the sender
// included. Sockets with a full buffer miss the envelope.
func (rl *Relay) broadcast(env types.Envelope) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rm := rl.rooms[env.SessionID]
	if rm == nil {
		return
	}
	if env.Type.Versioned() && (rm.latest == nil || env.Version > rm.latest.Version) {
		latest := env
		rm.latest = &latest
	}
	for c := range rm.clients {
		select {
		case c.send <- env:
			rl.relayed.Add(1)
		default:
			rl.dropped.Add(1)
			slog.Debug("relay dropped envelope", "session_id", string(env.SessionID), "participant_id", string(c.participant))
		}
	}
}

func (rl *Relay) readPump(c *relayClient) {
	defer func() {
		c.close()
		c.conn.Close()
		if rl.unregister(c) {
			slog.Info("relay client left", "session_id", string(c.session), "participant_id", string(c.participant))
			rl.broadcast(types.NewEnvelope(types.KindParticipantLeave, c.session, c.participant, 0))
		}
	}()

	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(rl.cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(rl.cfg.ReadTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(rl.cfg.ReadTimeout))

		var env types.Envelope
		if err := c.codec.Unmarshal(data, &env); err != nil {
			slog.Warn("relay dropped undecodable frame", "session_id", string(c.session), "participant_id", string(c.participant), "error", err)
			continue
		}
		env.SessionID = c.session
		env.Origin = c.participant
		rl.broadcast(env)
	}
}

func (rl *Relay) writePump(c *relayClient) {
	ticker := time.NewTicker(rl.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(rl.cfg.WriteTimeout))
			return
		case env := <-c.send:
			data, err := c.codec.Marshal(env)
			if err != nil {
				slog.Warn("relay encode failed", "session_id", string(c.session), "error", err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(rl.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(c.codec.MessageType(), data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(rl.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// ClientCount returns the number of sockets attached to session.
func (rl *Relay) ClientCount(session types.SessionID) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rm := rl.rooms[session]; rm != nil {
		return len(rm.clients)
	}
	return 0
}

// Rooms returns the sessions that have at least one socket attached.
func (rl *Relay) Rooms() []types.SessionID {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	out := make([]types.SessionID, 0, len(rl.rooms))
	for id := range rl.rooms {
		out = append(out, id)
	}
	return out
}

// Stats returns relay counters.
func (rl *Relay) Stats() HubStats {
	return HubStats{Delivered: rl.relayed.Load(), Dropped: rl.dropped.Load()}
}

// Close detaches every socket and refuses new ones.
func (rl *Relay) Close() error {
	rl.mu.Lock()
	rooms := rl.rooms
	rl.rooms = make(map[types.SessionID]*room)
	rl.closed = true
	rl.mu.Unlock()

	for _, rm := range rooms {
		for c := range rm.clients {
			c.close()
		}
	}
	return nil
}
