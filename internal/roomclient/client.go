// Package roomclient is a reconnecting websocket client for the realtime room
// protocol.
package roomclient

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-chess-server/pkg/chessdto"
)

var ErrNotConnected = errors.New("room client not connected")

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

type (
	MessageFunc    func(msg chessdto.ServerMessage)
	StateFunc      func(state State)
	HeaderProvider func() map[string]string
)

type Option func(*Client)

// WithReconnect retries a dropped connection up to max times; 0 disables.
func WithReconnect(max int, delay time.Duration) Option {
	return func(c *Client) {
		c.maxReconnect = max
		c.reconnectDelay = delay
	}
}

// WithHeaders injects handshake headers, e.g. Authorization.
func WithHeaders(h HeaderProvider) Option { return func(c *Client) { c.headers = h } }

func WithPingInterval(d time.Duration) Option { return func(c *Client) { c.pingInterval = d } }

type Client struct {
	url            string
	maxReconnect   int
	reconnectDelay time.Duration
	pingInterval   time.Duration
	headers        HeaderProvider

	mu    sync.Mutex
	conn  *websocket.Conn
	state State
	rooms map[string]struct{}

	cbMu     sync.RWMutex
	msgCbs   []MessageFunc
	stateCbs []StateFunc

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(wsURL string, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:            wsURL,
		maxReconnect:   5,
		reconnectDelay: time.Second,
		pingInterval:   30 * time.Second,
		state:          StateDisconnected,
		rooms:          make(map[string]struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// OnMessage registers cb for every server frame. Callbacks run on the read
// goroutine and must not block.
func (c *Client) OnMessage(cb MessageFunc) {
	c.cbMu.Lock()
	c.msgCbs = append(c.msgCbs, cb)
	c.cbMu.Unlock()
}

func (c *Client) OnStateChange(cb StateFunc) {
	c.cbMu.Lock()
	c.stateCbs = append(c.stateCbs, cb)
	c.cbMu.Unlock()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials once; later drops are retried in the background.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.setState(StateConnecting)
	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateFailed)
		return err
	}
	c.attach(conn)
	c.wg.Add(1)
	go c.run(conn)
	return nil
}

// Join subscribes to roomID now and again after every reconnect.
func (c *Client) Join(ctx context.Context, roomID string) error {
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()
	return c.write(ctx, chessdto.ClientMessage{Type: chessdto.TypeJoinRoom, RoomID: roomID})
}

func (c *Client) Leave(ctx context.Context, roomID string) error {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
	return c.write(ctx, chessdto.ClientMessage{Type: chessdto.TypeLeaveRoom, RoomID: roomID})
}

func (c *Client) SubmitMove(ctx context.Context, roomID, from, to, promotion string) error {
	return c.write(ctx, chessdto.ClientMessage{
		Type:      chessdto.TypeSubmitMove,
		RoomID:    roomID,
		MoveFrom:  from,
		MoveTo:    to,
		Promotion: promotion,
	})
}

// Close stops reconnecting and waits for the read loop to exit.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "close")
		}
	})

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		c.setState(StateDisconnected)
		return nil
	}
}

func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()
	for conn != nil {
		c.serve(conn)
		if c.ctx.Err() != nil {
			return
		}
		c.setState(StateDisconnected)
		conn = c.reconnect()
	}
}

// serve reads frames until the connection fails.
func (c *Client) serve(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	go c.pingLoop(ctx, cancel, conn)

	for {
		var msg chessdto.ServerMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			c.detach(conn)
			_ = conn.Close(websocket.StatusGoingAway, "reconnect")
			return
		}
		c.cbMu.RLock()
		cbs := append([]MessageFunc(nil), c.msgCbs...)
		c.cbMu.RUnlock()
		for _, cb := range cbs {
			cb(msg)
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, pcancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			pcancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				cancel()
				return
			}
		}
	}
}

func (c *Client) reconnect() *websocket.Conn {
	if c.maxReconnect <= 0 {
		c.setState(StateFailed)
		return nil
	}
	c.setState(StateReconnecting)
	for attempt := 1; attempt <= c.maxReconnect; attempt++ {
		select {
		case <-c.ctx.Done():
			return nil
		case <-time.After(c.backoff(attempt)):
		}
		conn, err := c.dial(c.ctx)
		if err != nil {
			continue
		}
		c.attach(conn)
		return conn
	}
	c.setState(StateFailed)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.buildHeaders(),
	})
	return conn, err
}

// attach makes conn current and re-joins every remembered room.
func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()

	c.setState(StateConnected)
	for _, r := range rooms {
		ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
		_ = wsjson.Write(ctx, conn, chessdto.ClientMessage{Type: chessdto.TypeJoinRoom, RoomID: r})
		cancel()
	}
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *Client) write(ctx context.Context, msg chessdto.ClientMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return wsjson.Write(ctx, conn, msg)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.cbMu.RLock()
	cbs := append([]StateFunc(nil), c.stateCbs...)
	c.cbMu.RUnlock()
	for _, cb := range cbs {
		cb(s)
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.reconnectDelay
	for i := 1; i < attempt && d < 10*c.reconnectDelay; i++ {
		d *= 2
	}
	return d
}

func (c *Client) buildHeaders() http.Header {
	hdr := http.Header{}
	if c.headers == nil {
		return hdr
	}
	for k, v := range c.headers() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
