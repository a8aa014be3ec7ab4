// Package channel maintains the persistent duplex connection to the video
// generation server. It owns the reconnect state machine, the liveness
// protocol, and the classification of inbound frames; everything it learns is
// surfaced through caller-provided callbacks so the conversation layer stays
// transport-agnostic.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/catchat-dev/catchat/internal/identity"
	"github.com/catchat-dev/catchat/internal/logging"
)

// ErrNotConnected is returned by Send when the channel has no open
// connection. Callers surface this to the user rather than queueing.
var ErrNotConnected = errors.New("channel: not connected")

// State is the connection lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
	StateFaulted    State = "faulted"
)

// Config controls endpoint selection, keepalive cadence, and the reconnect
// backoff schedule. Zero fields take the defaults from the config package.
type Config struct {
	Endpoint             string
	KeepaliveInterval    time.Duration
	ReconnectBase        time.Duration
	ReconnectMultiplier  float64
	MaxReconnectAttempts int
}

func (c *Config) applyDefaults() {
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 3 * time.Second
	}
	if c.ReconnectMultiplier <= 0 {
		c.ReconnectMultiplier = 1.5
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
}

// Callbacks are the hooks the channel fires as the connection and inbound
// traffic evolve. All fields are optional. Callbacks are invoked without any
// channel lock held, so they may call back into the channel.
type Callbacks struct {
	// OnStateChange fires on every lifecycle transition.
	OnStateChange func(State)
	// OnProgress fires for each decoded task-progress event.
	OnProgress func(ProgressEvent)
	// OnUserEcho fires after a user message was written to the wire, with
	// the timestamp that was sent. The conversation layer uses it to echo
	// the message locally.
	OnUserEcho func(content string, timestamp int64)
	// OnNotice fires for connection lifecycle notices meant for the user
	// (established, lost, retrying, gave up).
	OnNotice func(text string)
	// OnRawText fires for inbound payloads that did not parse as JSON.
	OnRawText func(text string)
}

// Channel is a persistent auto-reconnecting duplex channel. Connect, Send and
// Disconnect are safe for concurrent use.
type Channel struct {
	cfg    Config
	ident  *identity.Provider
	cb     Callbacks
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	attempts  int
	retry     *time.Timer
	keepStop  chan struct{}
	dialer    *websocket.Dialer
	// gen invalidates read loops and keepalive goroutines that belong to a
	// connection the channel has already replaced or torn down.
	gen int
}

// New returns a channel in StateIdle. No connection is attempted until
// Connect is called.
func New(cfg Config, ident *identity.Provider, cb Callbacks) *Channel {
	cfg.applyDefaults()
	return &Channel{
		cfg:    cfg,
		ident:  ident,
		cb:     cb,
		logger: logging.Channel(),
		state:  StateIdle,
		dialer: websocket.DefaultDialer,
	}
}

// State reports the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the connection. A fresh client identity is generated
// for every attempt and carried as the `code` query parameter. Any existing
// connection and any pending reconnect are torn down first. On dial failure
// the channel transitions to StateFaulted and, while attempts remain,
// schedules a reconnect on the backoff schedule.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.cancelRetryLocked()
	c.teardownLocked()

	token, err := c.ident.Refresh()
	if err != nil {
		c.setStateLocked(StateFaulted)
		c.mu.Unlock()
		c.emitState(StateFaulted)
		return fmt.Errorf("channel: refresh identity: %w", err)
	}

	endpoint := c.cfg.Endpoint + "?code=" + url.QueryEscape(token)
	c.setStateLocked(StateConnecting)
	dialer := c.dialer
	dialGen := c.gen
	c.mu.Unlock()
	c.emitState(StateConnecting)

	c.logger.Debug("dialing", "endpoint", c.cfg.Endpoint)
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)

	c.mu.Lock()
	// A Disconnect (or a newer Connect) while the handshake was in flight
	// invalidated this attempt; the resulting handle is closed, not opened.
	if c.gen != dialGen || c.state != StateConnecting {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		c.logger.Debug("dial superseded, discarding result")
		return nil
	}
	if err != nil {
		c.setStateLocked(StateFaulted)
		notice := c.scheduleRetryLocked()
		c.mu.Unlock()
		c.emitState(StateFaulted)
		c.emitNotice(notice)
		c.logger.Warn("dial failed", "error", err)
		return fmt.Errorf("channel: dial %s: %w", c.cfg.Endpoint, err)
	}

	c.conn = conn
	c.attempts = 0
	c.gen++
	gen := c.gen
	c.setStateLocked(StateOpen)
	c.startKeepaliveLocked(gen)
	c.mu.Unlock()

	c.emitState(StateOpen)
	c.emitNotice("connection established")
	c.logger.Info("connected")
	go c.readLoop(conn, gen)
	return nil
}

// Disconnect tears the connection down deliberately. Pending reconnect timers
// are cancelled and no new attempt is scheduled. Safe to call in any state.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.cancelRetryLocked()
	if c.conn != nil {
		c.setStateLocked(StateClosing)
	}
	c.teardownLocked()
	c.attempts = 0
	c.setStateLocked(StateClosed)
	c.mu.Unlock()
	c.emitState(StateClosed)
	c.logger.Info("disconnected")
}

// Send writes a user message to the wire. It fails with ErrNotConnected
// unless the channel is open; nothing is queued for later delivery. On
// success the OnUserEcho callback fires with the timestamp that was sent.
func (c *Channel) Send(content string) error {
	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	ts := time.Now().UnixMilli()
	err := c.conn.WriteJSON(outboundMessage{Content: content, Timestamp: ts})
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("channel: send: %w", err)
	}
	if c.cb.OnUserEcho != nil {
		c.cb.OnUserEcho(content, ts)
	}
	return nil
}

// backoffDelay returns the delay before reconnect attempt n (1-based):
// base * multiplier^(n-1).
func (c *Channel) backoffDelay(attempt int) time.Duration {
	scale := math.Pow(c.cfg.ReconnectMultiplier, float64(attempt-1))
	return time.Duration(float64(c.cfg.ReconnectBase) * scale)
}

// scheduleRetryLocked consumes one reconnect attempt and arms the retry
// timer, or reports that the attempt budget is exhausted. It returns the
// user-facing notice describing what was decided.
func (c *Channel) scheduleRetryLocked() string {
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.logger.Warn("reconnect attempts exhausted", "attempts", c.attempts)
		return fmt.Sprintf("connection lost, giving up after %d attempts", c.attempts)
	}
	c.attempts++
	delay := c.backoffDelay(c.attempts)
	c.retry = time.AfterFunc(delay, func() {
		// Connect handles its own failure path, so errors here have
		// already been scheduled or reported.
		_ = c.Connect(context.Background())
	})
	c.logger.Info("reconnect scheduled",
		"attempt", c.attempts,
		"max", c.cfg.MaxReconnectAttempts,
		"delay", delay)
	return fmt.Sprintf("connection lost, retrying in %s (attempt %d/%d)",
		delay.Round(time.Millisecond), c.attempts, c.cfg.MaxReconnectAttempts)
}

func (c *Channel) cancelRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

// teardownLocked closes the live connection, stops the keepalive, and bumps
// the generation so the old read loop cannot trigger a reconnect.
func (c *Channel) teardownLocked() {
	c.gen++
	c.stopKeepaliveLocked()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Channel) setStateLocked(s State) {
	c.state = s
}

func (c *Channel) emitState(s State) {
	if c.cb.OnStateChange != nil {
		c.cb.OnStateChange(s)
	}
}

func (c *Channel) emitNotice(text string) {
	if text != "" && c.cb.OnNotice != nil {
		c.cb.OnNotice(text)
	}
}

// readLoop drains inbound frames until the connection fails. gen identifies
// the connection this loop belongs to.
func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(gen, err)
			return
		}
		c.handleFrame(data)
	}
}

// handleClosed runs when the read loop observes a connection failure. Stale
// loops from connections the channel already replaced are ignored.
func (c *Channel) handleClosed(gen int, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.stopKeepaliveLocked()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.setStateLocked(StateClosed)
	notice := c.scheduleRetryLocked()
	c.mu.Unlock()

	c.logger.Warn("connection closed", "error", cause)
	c.emitState(StateClosed)
	c.emitNotice(notice)
}

// handleFrame classifies one inbound payload and routes it.
func (c *Channel) handleFrame(data []byte) {
	frame := Classify(data)
	switch frame.Kind {
	case FrameLiveness:
		c.logger.Debug("liveness probe received")
		if err := c.writeControl(controlFrame{Type: frameTypePong}); err != nil {
			c.logger.Warn("liveness response failed", "error", err)
		}
	case FrameProgress:
		c.logger.Debug("progress event",
			"task", frame.Progress.TaskID,
			"progress", frame.Progress.Progress,
			"stage", frame.Progress.Stage)
		if c.cb.OnProgress != nil {
			c.cb.OnProgress(frame.Progress)
		}
	case FrameRaw:
		c.logger.Warn("undecodable frame", "payload", frame.Text)
		if c.cb.OnRawText != nil {
			c.cb.OnRawText(frame.Text)
		}
	default:
		c.logger.Debug("unclassified frame dropped")
	}
}

// writeControl serializes a control frame onto the wire under the channel
// lock, which also keeps wire writes from interleaving.
func (c *Channel) writeControl(f controlFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(f)
}

// startKeepaliveLocked launches the periodic liveness sender for the
// connection identified by gen.
func (c *Channel) startKeepaliveLocked(gen int) {
	stop := make(chan struct{})
	c.keepStop = stop
	interval := c.cfg.KeepaliveInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				stale := gen != c.gen
				c.mu.Unlock()
				if stale {
					return
				}
				if err := c.writeControl(controlFrame{Type: frameTypePing}); err != nil {
					c.logger.Debug("keepalive send failed", "error", err)
				}
			}
		}
	}()
}

func (c *Channel) stopKeepaliveLocked() {
	if c.keepStop != nil {
		close(c.keepStop)
		c.keepStop = nil
	}
}
