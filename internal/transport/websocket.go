package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/remixsync/internal/types"
)

// WebSocketConfig configures a websocket client transport.
type WebSocketConfig struct {
	// URL is the relay base, e.g. ws://localhost:8420. The session path is
	// appended.
	URL          string
	Token        string
	Codec        Codec
	Buffer       int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	if c.Codec == nil {
		c.Codec = JSONCodec{}
	}
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.ReadTimeout {
		c.PingInterval = c.ReadTimeout * 9 / 10
	}
	return c
}

// WebSocketDialer returns a Dialer that connects participants to the relay
// at cfg.URL.
func WebSocketDialer(cfg WebSocketConfig) Dialer {
	return func(session types.SessionID, participant types.ParticipantID) Transport {
		return NewWebSocket(cfg, session, participant)
	}
}

// WebSocket is a client transport to a Relay.
type WebSocket struct {
	cfg         WebSocketConfig
	session     types.SessionID
	participant types.ParticipantID
	recv        chan types.Envelope
	send        chan []byte

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connected atomic.Bool
}

// NewWebSocket creates an unconnected websocket transport.
func NewWebSocket(cfg WebSocketConfig, session types.SessionID, participant types.ParticipantID) *WebSocket {
	cfg = cfg.withDefaults()
	return &WebSocket{
		cfg:         cfg,
		session:     session,
		participant: participant,
		recv:        make(chan types.Envelope, cfg.Buffer),
		send:        make(chan []byte, cfg.Buffer),
	}
}

func (w *WebSocket) endpoint() (string, error) {
	u, err := url.Parse(w.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = path.Join(u.Path, "sessions", string(w.session), "ws")
	q := u.Query()
	q.Set("participant", string(w.participant))
	q.Set("codec", w.cfg.Codec.Name())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		if w.connected.Load() {
			return nil
		}
		// The previous connection dropped; reap it before dialing again.
		w.cancel()
		w.conn.Close()
		w.wg.Wait()
		w.conn, w.cancel = nil, nil
	}

	endpoint, err := w.endpoint()
	if err != nil {
		return &Error{Op: "connect", Err: err}
	}
	header := http.Header{}
	if w.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+w.cfg.Token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return &Error{Op: "connect", Err: err}
	}
	conn.SetReadLimit(1 << 20)

	loopCtx, cancel := context.WithCancel(context.Background())
	w.conn = conn
	w.cancel = cancel
	w.connected.Store(true)

	w.wg.Add(2)
	go w.readPump(loopCtx, cancel, conn)
	go w.writePump(loopCtx, cancel, conn)
	return nil
}

// readPump decodes inbound frames until the connection fails or is closed.
// A full receive buffer drops the frame, like any lossy channel.
func (w *WebSocket) readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer w.wg.Done()
	defer w.markDown(cancel)

	_ = conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Info("relay read failed", "session_id", string(w.session), "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))

		var env types.Envelope
		if err := w.cfg.Codec.Unmarshal(data, &env); err != nil {
			slog.Warn("drop undecodable frame", "session_id", string(w.session), "error", err)
			continue
		}
		select {
		case w.recv <- env:
		case <-ctx.Done():
			return
		default:
			slog.Debug("drop inbound envelope, buffer full", "session_id", string(w.session), "envelope_id", string(env.ID))
		}
	}
}

func (w *WebSocket) writePump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer w.wg.Done()
	defer w.markDown(cancel)

	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(w.cfg.WriteTimeout))
			return
		case data := <-w.send:
			_ = conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
			if err := conn.WriteMessage(w.cfg.Codec.MessageType(), data); err != nil {
				slog.Info("relay write failed", "session_id", string(w.session), "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// markDown flags the transport unusable and stops the sibling pump.
func (w *WebSocket) markDown(cancel context.CancelFunc) {
	w.connected.Store(false)
	cancel()
}

func (w *WebSocket) Send(_ context.Context, env types.Envelope) error {
	if !w.connected.Load() {
		return &Error{Op: "send", Err: ErrNotConnected}
	}
	env.SessionID = w.session
	data, err := w.cfg.Codec.Marshal(env)
	if err != nil {
		return &Error{Op: "send", Err: fmt.Errorf("encode envelope: %w", err)}
	}
	select {
	case w.send <- data:
		return nil
	default:
		return &Error{Op: "send", Err: ErrBufferFull}
	}
}

func (w *WebSocket) Receive() <-chan types.Envelope {
	return w.recv
}

func (w *WebSocket) Disconnect() error {
	w.mu.Lock()
	conn, cancel := w.conn, w.cancel
	w.conn, w.cancel = nil, nil
	w.mu.Unlock()
	if conn == nil {
		return nil
	}

	w.connected.Store(false)
	cancel()
	// Let the write pump send the close frame before the socket goes away.
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(w.cfg.WriteTimeout):
	}
	err := conn.Close()
	<-done
	if err != nil {
		return &Error{Op: "disconnect", Err: err}
	}
	return nil
}

func (w *WebSocket) Connected() bool {
	return w.connected.Load()
}
