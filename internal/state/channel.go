package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cadencehq/cadence/internal/wire"
	"github.com/coder/websocket"
)

// ConnectionState is the lifecycle state of the realtime channel.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// Reconnect policy: five attempts with capped backoff, then the channel
// settles in StateError until an explicit Retry.
var defaultChannelPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    4 * time.Second,
}

const dialTimeout = 10 * time.Second

// connStableAfter is how long an established connection must survive
// before a later drop restarts the attempt count. Connections dropped
// sooner keep counting toward the ceiling, so a server that accepts
// and immediately closes cannot hold the channel in an endless
// reconnect loop.
const connStableAfter = 5 * time.Second

// Conn is the transport used by the channel. Abstracted so tests can
// inject scripted connections.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer establishes transport connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// EventSink receives decoded server events and connection state
// transitions. Events are delivered in arrival order; events from a
// torn-down binding are never delivered.
type EventSink interface {
	HandleEvent(ev wire.Event)
	ConnectionChanged(state ConnectionState, status string)
}

// Channel owns the single live realtime connection bound to the active
// session. Switching sessions tears the binding down, including any
// pending reconnect timer, before establishing a new one.
type Channel struct {
	url    string
	dialer Dialer
	clock  Clock
	policy RetryPolicy
	sink   EventSink

	mu      sync.Mutex
	state   ConnectionState
	status  string
	gen     int
	session string
	conn    Conn
	cancel  context.CancelFunc
}

// ChannelOption customizes a Channel.
type ChannelOption func(*Channel)

// WithDialer injects a transport dialer.
func WithDialer(d Dialer) ChannelOption {
	return func(c *Channel) { c.dialer = d }
}

// WithClock injects a clock for reconnect backoff.
func WithClock(clk Clock) ChannelOption {
	return func(c *Channel) { c.clock = clk }
}

// WithRetryPolicy overrides the reconnect policy.
func WithRetryPolicy(p RetryPolicy) ChannelOption {
	return func(c *Channel) { c.policy = p }
}

// NewChannel creates a channel manager. url is the websocket endpoint.
func NewChannel(url string, sink EventSink, opts ...ChannelOption) *Channel {
	c := &Channel{
		url:    url,
		dialer: wsDialer{},
		clock:  SystemClock{},
		policy: defaultChannelPolicy,
		sink:   sink,
		state:  StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state and status string.
func (c *Channel) State() (ConnectionState, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.status
}

// Connected reports whether the transport is currently open.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// Bind tears down any existing binding and connects for the given
// session. The join handshake carries the session id so the server
// routes session-scoped events to this connection.
func (c *Channel) Bind(sessionID string) {
	c.mu.Lock()
	c.teardownLocked()
	c.gen++
	gen := c.gen
	c.session = sessionID
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx, gen, sessionID)
}

// Close tears down the current binding.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.gen++
	c.setStateLocked(StateDisconnected, "")
}

// Retry restarts the connect loop after the retry ceiling was reached.
func (c *Channel) Retry() {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session != "" {
		c.Bind(session)
	}
}

// Send transmits an event over the live connection. Returns an error
// when not connected; callers use the request/response fallback then.
func (c *Channel) Send(ev wire.Event) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("channel not connected")
	}
	data, err := wire.Encode(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return conn.Write(ctx, data)
}

// teardownLocked cancels the running binding: the connect loop, any
// pending reconnect timer, and the open connection.
func (c *Channel) teardownLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			slog.Debug("Failed to close channel connection", "error", err)
		}
		c.conn = nil
	}
}

// run is the connect/reconnect loop for one binding generation.
func (c *Channel) run(ctx context.Context, gen int, sessionID string) {
	for attempt := 1; ; attempt++ {
		if delay := c.policy.Delay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-c.clock.After(delay):
			}
		}

		if !c.setState(gen, StateConnecting, fmt.Sprintf("Connecting (attempt %d/%d)...", attempt, c.policy.MaxAttempts)) {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Channel connect failed", "session_id", sessionID, "attempt", attempt, "error", err)
			if c.policy.Exhausted(attempt) {
				c.setState(gen, StateError, fmt.Sprintf("Connection failed after %d attempts. Please refresh the page or retry.", c.policy.MaxAttempts))
				return
			}
			c.setState(gen, StateDisconnected, fmt.Sprintf("Connection failed (attempt %d/%d), retrying...", attempt, c.policy.MaxAttempts))
			continue
		}

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		if !c.setState(gen, StateConnected, "") {
			return
		}
		stableCh := c.clock.After(connStableAfter)

		// Join handshake. Writes are accepted as soon as the transport
		// is open; consumers do not wait for room_joined before issuing
		// their initial fetches.
		if err := c.Send(wire.Join{SessionID: sessionID}); err != nil {
			slog.Warn("Join handshake send failed", "session_id", sessionID, "error", err)
		}

		readErr := c.readLoop(ctx, gen, conn)
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		if gen == c.gen && c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()

		slog.Info("Channel disconnected", "session_id", sessionID, "error", readErr)
		select {
		case <-stableCh:
			// A stable connection's drop starts a fresh attempt sequence.
			attempt = 0
		default:
			if c.policy.Exhausted(attempt) {
				c.setState(gen, StateError, fmt.Sprintf("Connection failed after %d attempts. Please refresh the page or retry.", c.policy.MaxAttempts))
				return
			}
		}
		if !c.setState(gen, StateDisconnected, "Connection lost, reconnecting...") {
			return
		}
	}
}

func (c *Channel) dial(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	return c.dialer.Dial(dialCtx, c.url)
}

// readLoop delivers inbound events in arrival order until the
// connection fails or the binding is torn down.
func (c *Channel) readLoop(ctx context.Context, gen int, conn Conn) error {
	for {
		raw, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		ev, err := wire.DecodeServer(raw)
		if err != nil {
			slog.Warn("Dropping malformed server event", "error", err)
			continue
		}

		c.mu.Lock()
		current := gen == c.gen
		c.mu.Unlock()
		if !current {
			return nil
		}
		c.sink.HandleEvent(ev)
	}
}

// setState updates state for a binding generation; returns false when
// the binding is stale so the caller can stop.
func (c *Channel) setState(gen int, state ConnectionState, status string) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.setStateLocked(state, status)
	c.mu.Unlock()
	c.sink.ConnectionChanged(state, status)
	return true
}

func (c *Channel) setStateLocked(state ConnectionState, status string) {
	c.state = state
	c.status = status
}

// wsDialer is the production Dialer, backed by coder/websocket.
type wsDialer struct{}

type wsConn struct {
	conn *websocket.Conn
}

func (wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "binding closed")
}
