// Package client implements the presence core a document viewer embeds: the
// signaling channel, per-document room membership, the live collaborator
// roster and the edit-intent signal, plus the gateway to the content API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"mdlive/internal/models"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var ErrChannelClosed = errors.New("channel closed")

// Handler receives the data payload of one inbound event. Handlers run on
// the channel's single dispatch goroutine and never concurrently with each
// other.
type Handler func(data json.RawMessage)

// Channel is a long-lived bidirectional event connection to the signaling
// endpoint. It is constructed explicitly and injected into sessions; one
// channel is shared by every document session of a process.
//
// Emits issued while the connection is down are queued and flushed on
// reconnect, in emission order. Connection drops trigger automatic redial
// with exponential backoff; OnConnect callbacks fire after every successful
// (re)connect so sessions can re-establish room membership.
type Channel struct {
	endpoint string
	logger   zerolog.Logger
	dialer   *websocket.Dialer

	minDelay time.Duration
	maxDelay time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	epoch     int
	queue     [][]byte
	subs      map[subKey][]*subscription
	nextSubID int
	onConnect map[int]func()
	nextCbID  int
	opened    bool
	closed    bool
	done      chan struct{}
}

type subKey struct {
	event string
	room  string
}

type subscription struct {
	id int
	fn Handler
}

// ChannelOptions tune the reconnect policy.
type ChannelOptions struct {
	MinReconnectDelay time.Duration
	MaxReconnectDelay time.Duration
}

// NewChannel builds a channel for the given websocket endpoint. The channel
// is inert until Open is called.
func NewChannel(endpoint string, logger zerolog.Logger, opts ChannelOptions) *Channel {
	if opts.MinReconnectDelay <= 0 {
		opts.MinReconnectDelay = 500 * time.Millisecond
	}
	if opts.MaxReconnectDelay <= 0 {
		opts.MaxReconnectDelay = 30 * time.Second
	}
	return &Channel{
		endpoint:  endpoint,
		logger:    logger.With().Str("component", "channel").Logger(),
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		minDelay:  opts.MinReconnectDelay,
		maxDelay:  opts.MaxReconnectDelay,
		subs:      make(map[subKey][]*subscription),
		onConnect: make(map[int]func()),
		done:      make(chan struct{}),
	}
}

// Open dials the endpoint. A failed first dial is reported to the caller
// rather than swallowed; once Open has succeeded, later drops are handled
// internally by the reconnect loop.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if c.opened {
		c.mu.Unlock()
		return errors.New("channel already open")
	}
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.endpoint, err)
	}

	c.mu.Lock()
	c.opened = true
	c.conn = conn
	c.epoch++
	c.flushQueueLocked()
	callbacks := c.connectCallbacksLocked()
	c.mu.Unlock()

	go c.readLoop(conn)
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

// Close tears the channel down. Queued emits are dropped.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.queue = nil
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}

// Emit sends a fire-and-forget event. While disconnected the frame is
// queued, preserving emission order relative to other emits from this
// process; no cross-process ordering is implied.
func (c *Channel) Emit(event string, data any) error {
	_, err := c.emit(event, data)
	return err
}

// emit additionally reports the connection epoch the frame is delivered on:
// the current epoch for a direct write, the next one for a frame left in
// the queue. Sessions use the epoch to avoid re-sending a join the queue
// flush has already delivered.
func (c *Channel) emit(event string, data any) (int, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(models.Envelope{Event: event, Data: payload})
	if err != nil {
		return 0, fmt.Errorf("marshal %s envelope: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrChannelClosed
	}
	if c.conn == nil {
		c.queue = append(c.queue, frame)
		return c.epoch + 1, nil
	}
	if err := c.writeFrameLocked(frame); err != nil {
		// The frame is requeued ahead of the teardown so it survives into
		// the next connection.
		c.queue = append(c.queue, frame)
		c.dropConnLocked()
		return c.epoch + 1, nil
	}
	return c.epoch, nil
}

// On registers a handler for an event scoped to a room key. An empty room
// matches frames for any room. The returned function removes the
// registration.
func (c *Channel) On(event, room string, fn Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := subKey{event: event, room: room}
	c.nextSubID++
	sub := &subscription{id: c.nextSubID, fn: fn}
	c.subs[key] = append(c.subs[key], sub)

	id := sub.id
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.subs[key]
		for i, s := range list {
			if s.id == id {
				c.subs[key] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// OnConnect registers a callback invoked after every successful connect,
// including the first. Sessions use it to re-emit their room join after a
// reconnect. The returned function removes the registration.
func (c *Channel) OnConnect(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextCbID++
	id := c.nextCbID
	c.onConnect[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.onConnect, id)
	}
}

// Connected reports whether a live connection is up.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// currentEpoch counts successful connects; 0 means never connected.
func (c *Channel) currentEpoch() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// readLoop reads and dispatches inbound frames until the connection fails,
// then hands off to the reconnect loop. It is the only goroutine invoking
// handlers, which serializes all inbound processing.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Warn().Err(err).Msg("malformed frame dropped")
			continue
		}
		c.dispatch(env)
	}

	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	c.logger.Warn().Msg("connection lost, reconnecting")
	go c.reconnectLoop()
}

func (c *Channel) dispatch(env models.Envelope) {
	c.mu.Lock()
	var handlers []Handler
	for _, sub := range c.subs[subKey{event: env.Event, room: env.Room}] {
		handlers = append(handlers, sub.fn)
	}
	if env.Room != "" {
		for _, sub := range c.subs[subKey{event: env.Event, room: ""}] {
			handlers = append(handlers, sub.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(env.Data)
	}
}

// reconnectLoop redials with exponential backoff until it succeeds or the
// channel closes. On success the queued frames flush in order and every
// OnConnect callback fires.
func (c *Channel) reconnectLoop() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.minDelay
	bo.MaxInterval = c.maxDelay
	bo.MaxElapsedTime = 0

	for {
		select {
		case <-c.done:
			return
		case <-time.After(bo.NextBackOff()):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
		cancel()
		if err != nil {
			c.logger.Debug().Err(err).Msg("redial failed")
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.epoch++
		c.flushQueueLocked()
		callbacks := c.connectCallbacksLocked()
		c.mu.Unlock()

		c.logger.Info().Msg("reconnected")
		go c.readLoop(conn)
		for _, fn := range callbacks {
			fn()
		}
		return
	}
}

func (c *Channel) flushQueueLocked() {
	for len(c.queue) > 0 {
		frame := c.queue[0]
		if err := c.writeFrameLocked(frame); err != nil {
			c.dropConnLocked()
			return
		}
		c.queue = c.queue[1:]
	}
}

func (c *Channel) writeFrameLocked(frame []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Channel) dropConnLocked() {
	if c.conn == nil {
		return
	}
	conn := c.conn
	c.conn = nil
	conn.Close()
	go c.reconnectLoop()
}

func (c *Channel) connectCallbacksLocked() []func() {
	callbacks := make([]func(), 0, len(c.onConnect))
	for _, fn := range c.onConnect {
		callbacks = append(callbacks, fn)
	}
	return callbacks
}
