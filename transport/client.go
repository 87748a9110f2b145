package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"charging_station/common"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultEventBuffer      = 256
)

// Client owns at most one live WebSocket connection to the central system.
type Client struct {
	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	cancelDial context.CancelFunc
	// gen identifies the current connection attempt; events of older
	// attempts are never emitted
	gen uint64
	// emitMu is held from the generation check until the event is queued,
	// and while Open moves to a new generation
	emitMu sync.Mutex

	writeMu      sync.Mutex
	dialer       websocket.Dialer
	writeTimeout time.Duration

	events   chan Event
	quit     chan struct{}
	quitOnce sync.Once

	log *logrus.Entry
}

type Option func(*Client)

func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.dialer.HandshakeTimeout = timeout
	}
}

func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.writeTimeout = timeout
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(c *Client) {
		c.log = log
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		writeTimeout: defaultWriteTimeout,
		events:       make(chan Event, defaultEventBuffer),
		quit:         make(chan struct{}),
		log:          logrus.NewEntry(logrus.StandardLogger()),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.log = c.log.WithField("context", "transport")

	return c
}

func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open dials the central system offering exactly one subprotocol and blocks
// until the connection is established or failed. An existing connection or
// connection attempt is dropped first. Exactly one EventOpen or EventError is
// emitted unless the attempt is superseded by another Open.
func (c *Client) Open(ctx context.Context, address string, subprotocol string) error {
	c.emitMu.Lock()
	c.mu.Lock()
	c.dropLocked()
	c.gen++
	gen := c.gen
	c.state = Connecting
	dialCtx, cancel := context.WithCancel(ctx)
	c.cancelDial = cancel
	c.mu.Unlock()
	c.emitMu.Unlock()

	c.log.WithFields(logrus.Fields{"address": address, "subprotocol": subprotocol}).Debug("connecting")

	conn, err := c.dial(dialCtx, address, subprotocol)
	cancel()

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()

	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return common.ErrConnection.New("connection attempt to %s was superseded", address)
	}

	c.cancelDial = nil

	if err != nil {
		c.state = Disconnected
		c.mu.Unlock()

		err = common.ErrConnection.Wrap(err, "failed to connect to %s", address)
		c.emit(Event{Kind: EventError, Err: err, Reason: err.Error()})
		return err
	}

	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	// A newer Open waits for emitMu, so this open is queued before anything it supersedes
	c.emit(Event{Kind: EventOpen})

	go c.readLoop(conn, gen)

	return nil
}

func (c *Client) dial(ctx context.Context, address string, subprotocol string) (*websocket.Conn, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, err
	}

	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid address %q: scheme must be ws or wss", address)
	}

	dialer := c.dialer
	dialer.Subprotocols = []string{subprotocol}

	conn, resp, err := dialer.DialContext(ctx, address, nil)

	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err != nil {
		return nil, err
	}

	if conn.Subprotocol() != subprotocol {
		conn.Close()
		return nil, fmt.Errorf("central system did not accept subprotocol %s", subprotocol)
	}

	return conn, nil
}

// Send writes a text frame. It fails with a not_connected error unless the
// connection is open.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != Connected || conn == nil {
		return common.ErrNotConnected.New("not connected to CSMS")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}

	w, err := conn.NextWriter(websocket.TextMessage)

	if err != nil {
		return err
	}

	if _, err = w.Write(data); err != nil {
		return err
	}

	return w.Close()
}

// Close requests a graceful shutdown of the connection. Calling it without a
// connection is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}

	if c.conn == nil {
		return nil
	}

	conn := c.conn
	c.conn = nil
	c.state = Disconnected

	return closeWithReason(conn, websocket.CloseNormalClosure, "")
}

// Shutdown closes the connection and stops emitting events.
func (c *Client) Shutdown() {
	c.quitOnce.Do(func() { close(c.quit) })
	c.Close() // nolint: errcheck
}

// dropLocked force-closes the current connection or attempt without emitting
// events for it.
func (c *Client) dropLocked() {
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}

	if c.conn != nil {
		c.log.Debug("dropping existing connection")
		closeWithReason(c.conn, websocket.CloseNormalClosure, "reconnecting") // nolint: errcheck
		c.conn = nil
	}

	c.state = Disconnected
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, msg, err := conn.ReadMessage()

		if err != nil {
			conn.Close()
			c.closed(conn, gen, err)
			return
		}

		if !c.emitIfCurrent(gen, Event{Kind: EventMessage, Data: msg}) {
			return
		}
	}
}

// closed reports the end of conn unless a newer Open superseded it.
func (c *Client) closed(conn *websocket.Conn, gen uint64, err error) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	current := gen == c.gen
	if current {
		c.state = Disconnected
		if c.conn == conn {
			c.conn = nil
		}
	}
	c.mu.Unlock()

	if current {
		reason := closeReason(err)
		c.log.WithField("reason", reason).Debug("connection closed")
		c.emit(Event{Kind: EventClose, Reason: reason})
	}
}

// emitIfCurrent emits ev only while gen is the current generation.
func (c *Client) emitIfCurrent(gen uint64, ev Event) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	current := gen == c.gen
	c.mu.Unlock()

	if current {
		c.emit(ev)
	}

	return current
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}

func closeWithReason(conn *websocket.Conn, code int, reason string) error {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, deadline) //nolint:errcheck
	return conn.Close()
}

func closeReason(err error) string {
	var closeErr *websocket.CloseError

	switch {
	case errors.As(err, &closeErr):
		if closeErr.Text != "" {
			return fmt.Sprintf("%d: %s", closeErr.Code, closeErr.Text)
		}
		return fmt.Sprintf("%d", closeErr.Code)
	case errors.Is(err, net.ErrClosed):
		return "closed by client"
	default:
		return err.Error()
	}
}
