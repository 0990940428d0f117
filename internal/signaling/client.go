// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package signaling

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/jobportal/videocall/internal/constants"
)

var (
	ErrNotConnected = errors.New("signaling channel not connected")
	ErrClosed       = errors.New("signaling channel closed")
)

// InboundTypes lists the events a call session subscribes to.
var InboundTypes = []Type{
	TypeOffer,
	TypeAnswer,
	TypeICECandidate,
	TypeRequestOffer,
	TypeCallAccepted,
	TypeCallRejected,
	TypeCallEnded,
	TypeScreenShareStarted,
	TypeScreenShareStopped,
}

type Status int

const (
	StatusConnected Status = iota
	StatusDisconnected
	StatusConnectError
	// StatusOffline is reported once the reconnection budget is exhausted.
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connect"
	case StatusDisconnected:
		return "disconnect"
	case StatusConnectError:
		return "connect_error"
	case StatusOffline:
		return "offline"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Room identifies the participant joining an application's call room.
type Room struct {
	ApplicationID string
	UserID        string
	Role          string
}

type Config struct {
	URL   string
	Token string
	Room  Room

	ReconnectAttempts  int
	ReconnectDelay     time.Duration
	HandshakeTimeout   time.Duration
	PingInterval       time.Duration
	PongWait           time.Duration
	InsecureSkipVerify bool
}

func (c *Config) applyDefaults() {
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = constants.DefaultReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = constants.DefaultReconnectDelay
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = constants.HandshakeTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = constants.PingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = constants.PongWait
	}
}

type handlerEntry struct {
	id uint64
	fn func(Message)
}

type statusEntry struct {
	id uint64
	fn func(Status)
}

// Channel is a websocket event channel bound to one call room. A Channel is
// owned by a single session and is not reused once closed.
type Channel struct {
	cfg Config

	// mu guards conn, running and cancel, and serializes writes.
	mu      sync.Mutex
	conn    *websocket.Conn
	running bool
	cancel  context.CancelFunc

	handlersMu     sync.RWMutex
	handlers       map[Type][]handlerEntry
	statusHandlers []statusEntry
	nextID         uint64

	closed atomic.Bool
	wg     sync.WaitGroup

	logger *slog.Logger
}

func NewChannel(cfg Config) *Channel {
	cfg.applyDefaults()
	return &Channel{
		cfg:      cfg,
		handlers: make(map[Type][]handlerEntry),
		logger: slog.With(
			"component", "signaling",
			"application_id", cfg.Room.ApplicationID,
		),
	}
}

// On registers fn for inbound events of type t. The returned func removes it.
func (c *Channel) On(t Type, fn func(Message)) func() {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	if c.closed.Load() {
		return func() {}
	}
	c.nextID++
	id := c.nextID
	c.handlers[t] = append(c.handlers[t], handlerEntry{id: id, fn: fn})

	return func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		entries := c.handlers[t]
		for i, e := range entries {
			if e.id == id {
				c.handlers[t] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

func (c *Channel) OnStatus(fn func(Status)) func() {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	if c.closed.Load() {
		return func() {}
	}
	c.nextID++
	id := c.nextID
	c.statusHandlers = append(c.statusHandlers, statusEntry{id: id, fn: fn})

	return func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		for i, e := range c.statusHandlers {
			if e.id == id {
				c.statusHandlers = append(c.statusHandlers[:i:i], c.statusHandlers[i+1:]...)
				return
			}
		}
	}
}

// Connect starts the connection loop in the background. Failures are
// reported through status handlers, never returned. Calling Connect while
// the loop runs is a no-op; calling it after StatusOffline starts over.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return
	}
	if c.running {
		c.logger.Debug("connection loop already running, skipping")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.wg.Add(1)
	go c.run(runCtx)
}

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// JoinRoom announces this participant to the room. Safe to repeat.
func (c *Channel) JoinRoom() error {
	return c.Send(JoinRoom{
		ApplicationID: c.cfg.Room.ApplicationID,
		UserID:        c.cfg.Room.UserID,
		Role:          c.cfg.Room.Role,
	})
}

// Send writes m without waiting for any acknowledgement.
func (c *Channel) Send(m Message) error {
	if c.closed.Load() {
		return ErrClosed
	}
	data, err := Encode(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(data)
}

func (c *Channel) writeLocked(data []byte) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Error("failed to send message", "error", err)
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// Close removes every handler before closing the socket, so no callback
// fires after it returns. Only the first call has an effect.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.handlersMu.Lock()
	c.handlers = make(map[Type][]handlerEntry)
	c.statusHandlers = nil
	c.handlersMu.Unlock()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"),
			time.Now().Add(time.Second))
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("signaling channel closed")
	return nil
}

func (c *Channel) run(ctx context.Context) {
	defer c.wg.Done()

	retries := uint64(max(c.cfg.ReconnectAttempts-1, 0))

	for {
		backoff := retry.WithMaxRetries(retries, retry.NewConstant(c.cfg.ReconnectDelay))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := c.dial(ctx); err != nil {
				if errors.Is(err, ErrClosed) {
					return err
				}
				c.logger.Warn("signaling dial failed", "error", err)
				c.emitStatus(StatusConnectError)
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			c.stopped()
			if ctx.Err() != nil || c.closed.Load() {
				return
			}
			c.logger.Error("signaling reconnection attempts exhausted",
				"attempts", c.cfg.ReconnectAttempts, "error", err)
			// Connect must start a new loop once offline is reported.
			c.emitStatus(StatusOffline)
			return
		}

		if err := c.JoinRoom(); err != nil {
			c.logger.Warn("failed to join room", "error", err)
		}
		c.logger.Info("connected to signaling server")
		c.emitStatus(StatusConnected)

		err = c.readLoop(ctx)
		c.dropConn()
		if ctx.Err() != nil || c.closed.Load() {
			c.stopped()
			return
		}
		c.logger.Warn("signaling connection lost", "error", err)
		c.emitStatus(StatusDisconnected)
	}
}

func (c *Channel) stopped() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

func (c *Channel) dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	if c.cfg.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	pongWait := c.cfg.PongWait
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	return nil
}

func (c *Channel) dropConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Channel) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	stop := make(chan struct{})
	defer close(stop)
	go c.keepalive(ctx, conn, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		msg, err := Decode(data)
		if err != nil {
			c.logger.Debug("dropping signaling frame", "error", err)
			continue
		}
		if room := msg.Room(); room != "" && room != c.cfg.Room.ApplicationID {
			c.logger.Debug("dropping event for another room", "event", msg.Type(), "room", room)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Channel) keepalive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(constants.WriteTimeout)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				conn.Close()
				return
			}
		}
	}
}

func (c *Channel) dispatch(msg Message) {
	c.handlersMu.RLock()
	entries := make([]handlerEntry, len(c.handlers[msg.Type()]))
	copy(entries, c.handlers[msg.Type()])
	c.handlersMu.RUnlock()

	if len(entries) == 0 {
		c.logger.Debug("no handler for event", "event", msg.Type())
		return
	}
	for _, e := range entries {
		e.fn(msg)
	}
}

func (c *Channel) emitStatus(s Status) {
	c.handlersMu.RLock()
	entries := make([]statusEntry, len(c.statusHandlers))
	copy(entries, c.statusHandlers)
	c.handlersMu.RUnlock()

	for _, e := range entries {
		e.fn(s)
	}
}
