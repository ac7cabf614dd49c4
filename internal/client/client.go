// Package client is a Go client for the estimation WebSocket protocol. It
// reconnects with exponential backoff, re-joins its session on every
// connect and keeps a reduced State of the session.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dkeye/Estimate/internal/core"
	"github.com/dkeye/Estimate/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	// ErrReconnectFailed is returned by Run once every reconnect attempt
	// has been used up.
	ErrReconnectFailed = errors.New("reconnect failed")
	ErrUnauthorized    = errors.New("handshake unauthorized")
	ErrSessionEnded    = errors.New("session ended")
	ErrNotConnected    = errors.New("not connected")
)

// Wildcard subscribes to every event type.
const Wildcard = "*"

type Handler func(core.Envelope)

type Options struct {
	URL       string
	Token     string
	SessionID domain.SessionID

	InitialInterval     time.Duration
	MaxInterval         time.Duration
	RandomizationFactor float64
	MaxAttempts         uint

	// Resync runs after every successful (re)connect, e.g. to refetch the
	// session over REST.
	Resync func(ctx context.Context) error
	Dialer *websocket.Dialer
}

func (o Options) withDefaults() Options {
	if o.InitialInterval <= 0 {
		o.InitialInterval = 500 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 30 * time.Second
	}
	if o.RandomizationFactor <= 0 {
		o.RandomizationFactor = 0.5
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 10
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	return o
}

type Client struct {
	opts Options

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	handlers map[string]map[uint64]Handler
	nextSub  uint64

	writeMu sync.Mutex
}

func New(opts Options) *Client {
	return &Client{
		opts:     opts.withDefaults(),
		state:    State{SessionID: opts.SessionID},
		handlers: make(map[string]map[uint64]Handler),
	}
}

// Subscribe registers fn for events of type typ (or Wildcard). The returned
// func removes the subscription; calling it twice is harmless.
func (c *Client) Subscribe(typ string, fn Handler) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	if c.handlers[typ] == nil {
		c.handlers[typ] = make(map[uint64]Handler)
	}
	c.handlers[typ][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[typ], id)
	}
}

// State returns the latest reduced snapshot.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Send writes an intent and returns its request id.
func (c *Client) Send(typ string, payload any) (string, error) {
	c.mu.Lock()
	conn := c.conn
	session := c.opts.SessionID
	c.mu.Unlock()
	if conn == nil {
		return "", ErrNotConnected
	}
	ev := core.Event{Type: typ, SessionID: session, RequestID: uuid.NewString(), Payload: payload}
	if err := c.write(conn, ev); err != nil {
		return "", err
	}
	return ev.RequestID, nil
}

func (c *Client) write(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxInterval = c.opts.MaxInterval
	b.RandomizationFactor = c.opts.RandomizationFactor
	b.Multiplier = 2
	return b
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	op := func() (*websocket.Conn, error) {
		conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return nil, backoff.Permanent(ErrUnauthorized)
			}
			return nil, err
		}
		return conn, nil
	}
	conn, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.opts.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Str("module", "client").Dur("retry_in", next).Msg("dial failed")
		}),
	)
	switch {
	case err == nil:
		return conn, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, ErrUnauthorized):
		return nil, ErrUnauthorized
	default:
		return nil, fmt.Errorf("%w: %w", ErrReconnectFailed, err)
	}
}

// Run connects and serves events until ctx is done, the session ends, the
// credential is refused or reconnecting fails.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}
		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrSessionEnded) {
			return err
		}
		log.Info().Err(err).Str("module", "client").Msg("connection lost, reconnecting")
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	session := c.opts.SessionID
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	if session != "" {
		join := core.Event{Type: core.IntentJoin, SessionID: session, RequestID: uuid.NewString()}
		if err := c.write(conn, join); err != nil {
			return err
		}
	}
	if c.opts.Resync != nil {
		if err := c.opts.Resync(ctx); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("resync failed")
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env core.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Debug().Err(err).Str("module", "client").Msg("bad frame")
			continue
		}
		c.apply(env)
		if env.Type == core.EventSessionEnded {
			return ErrSessionEnded
		}
	}
}

func (c *Client) apply(env core.Envelope) {
	c.mu.Lock()
	c.state = Reduce(c.state, env)
	var fns []Handler
	for _, typ := range []string{env.Type, Wildcard} {
		for _, fn := range c.handlers[typ] {
			fns = append(fns, fn)
		}
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(env)
	}
}
