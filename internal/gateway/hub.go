// Package gateway bridges realtime client connections to game sessions and
// fans committed state out to every connection watching a room.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/chess"
	"github.com/park285/cheese-chess-server/internal/faults"
	"github.com/park285/cheese-chess-server/internal/msgcat"
	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/rules"
	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
)

const (
	defaultSendBuffer = 32
	publishTimeout    = 3 * time.Second
)

// MoveComputer produces an engine move for a position. Both the local engine
// broker and the remote engine client satisfy it.
type MoveComputer interface {
	Compute(ctx context.Context, req chess.Request) (rules.Move, error)
}

type Option func(*Hub)

// WithMoveComputer enables automated-opponent replies.
func WithMoveComputer(m MoveComputer) Option { return func(h *Hub) { h.mover = m } }

func WithCatalog(c *msgcat.Catalog) Option { return func(h *Hub) { h.catalog = c } }

func WithHubLogger(l *zap.Logger) Option { return func(h *Hub) { h.logger = l } }

// WithCloseOnDisconnect removes a session once none of its seated players
// has a live connection in the room.
func WithCloseOnDisconnect(on bool) Option { return func(h *Hub) { h.closeOnDisconnect = on } }

func WithSendBuffer(n int) Option { return func(h *Hub) { h.sendBuffer = n } }

type room struct {
	sub   Subscription
	conns map[*Conn]struct{}
}

// Hub owns room membership. It never holds a session lock.
type Hub struct {
	registry          *session.Registry
	broker            Broker
	mover             MoveComputer
	catalog           *msgcat.Catalog
	logger            *zap.Logger
	closeOnDisconnect bool
	sendBuffer        int

	mu       sync.Mutex
	rooms    map[string]*room
	presence map[string]map[session.Identity]int
	thinking map[string]string // session id to the FEN being computed
	closed   bool

	wg sync.WaitGroup
}

func NewHub(reg *session.Registry, broker Broker, opts ...Option) *Hub {
	h := &Hub{
		registry:   reg,
		broker:     broker,
		logger:     obslog.L(),
		sendBuffer: defaultSendBuffer,
		rooms:      make(map[string]*room),
		presence:   make(map[string]map[session.Identity]int),
		thinking:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.catalog == nil {
		h.catalog = msgcat.MustDefault()
	}
	reg.OnCommit(h.onCommit)
	reg.OnRemove(h.onRemove)
	return h
}

// Conn is one client connection. Frames for it are queued on Outbound; a
// full queue drops frames instead of stalling the room.
type Conn struct {
	ID       string
	Identity session.Identity

	out    chan []byte
	mu     sync.Mutex
	closed bool

	// guarded by Hub.mu
	rooms map[string]struct{}
}

func (h *Hub) NewConn(id session.Identity) *Conn {
	return &Conn{
		ID:       uuid.NewString(),
		Identity: id,
		out:      make(chan []byte, h.sendBuffer),
		rooms:    make(map[string]struct{}),
	}
}

func (c *Conn) Outbound() <-chan []byte { return c.out }

func (c *Conn) send(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- b:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

// Dispatch routes one inbound frame.
func (h *Hub) Dispatch(ctx context.Context, c *Conn, msg chessdto.ClientMessage) error {
	switch strings.TrimSpace(msg.Type) {
	case chessdto.TypeJoinRoom:
		return h.JoinRoom(ctx, c, msg.RoomID)
	case chessdto.TypeLeaveRoom:
		h.LeaveRoom(ctx, c, msg.RoomID)
		return nil
	case chessdto.TypeSubmitMove, chessdto.TypeSendMove:
		return h.SubmitMove(ctx, c, msg)
	default:
		err := faults.ErrBadRequest
		h.sendError(c, msg.RoomID, err)
		return err
	}
}

// JoinRoom subscribes c to a session's broadcasts and sends it the current
// state. It does not seat the connection's identity.
func (h *Hub) JoinRoom(ctx context.Context, c *Conn, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	sess, err := h.registry.Get(ctx, roomID)
	if err != nil {
		h.sendError(c, roomID, err)
		return err
	}

	if err := h.attach(ctx, c, roomID); err != nil {
		h.sendError(c, roomID, err)
		return err
	}

	snap := sess.Snapshot()
	if _, seated := sess.ColorOf(c.Identity); seated {
		sess.Touch()
	}
	h.sendState(c, snap)
	h.logger.Info("room_joined",
		zap.String("session_id", roomID),
		zap.String("conn_id", c.ID),
		zap.String("identity", string(c.Identity)),
	)
	h.maybeScheduleEngine(snap)
	return nil
}

func (h *Hub) attach(ctx context.Context, c *Conn, roomID string) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrBrokerClosed
	}
	if _, ok := c.rooms[roomID]; ok {
		h.mu.Unlock()
		return nil
	}
	rm, ok := h.rooms[roomID]
	h.mu.Unlock()

	var fresh Subscription
	if !ok {
		sub, err := h.broker.Subscribe(ctx, roomID)
		if err != nil {
			return err
		}
		fresh = sub
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		if fresh != nil {
			_ = fresh.Close()
		}
		return ErrBrokerClosed
	}
	if rm, ok = h.rooms[roomID]; !ok {
		if fresh == nil {
			// the room went away between the two critical sections
			sub, err := h.broker.Subscribe(ctx, roomID)
			if err != nil {
				return err
			}
			fresh = sub
		}
		rm = &room{sub: fresh, conns: make(map[*Conn]struct{})}
		h.rooms[roomID] = rm
		h.wg.Add(1)
		go h.pump(rm)
	} else if fresh != nil {
		_ = fresh.Close()
	}
	rm.conns[c] = struct{}{}
	c.rooms[roomID] = struct{}{}
	if c.Identity != "" {
		p := h.presence[roomID]
		if p == nil {
			p = make(map[session.Identity]int)
			h.presence[roomID] = p
		}
		p[c.Identity]++
	}
	return nil
}

func (h *Hub) pump(rm *room) {
	defer h.wg.Done()
	for payload := range rm.sub.C() {
		h.mu.Lock()
		conns := make([]*Conn, 0, len(rm.conns))
		for c := range rm.conns {
			conns = append(conns, c)
		}
		h.mu.Unlock()
		for _, c := range conns {
			if !c.send(payload) {
				h.logger.Debug("ws_frame_dropped", zap.String("conn_id", c.ID))
			}
		}
	}
}

// LeaveRoom cancels c's subscription to a room. It never touches game state
// unless the close-on-disconnect policy applies.
func (h *Hub) LeaveRoom(ctx context.Context, c *Conn, roomID string) {
	roomID = strings.TrimSpace(roomID)
	h.mu.Lock()
	sub, idle := h.detachLocked(c, roomID)
	h.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
	if idle {
		h.closeIfAbandoned(ctx, roomID)
	}
}

// Disconnect drops every subscription held by c and closes its queue.
func (h *Hub) Disconnect(ctx context.Context, c *Conn) {
	h.mu.Lock()
	var subs []Subscription
	var idleRooms []string
	for roomID := range c.rooms {
		sub, idle := h.detachLocked(c, roomID)
		if sub != nil {
			subs = append(subs, sub)
		}
		if idle {
			idleRooms = append(idleRooms, roomID)
		}
	}
	h.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	c.close()
	for _, roomID := range idleRooms {
		h.closeIfAbandoned(ctx, roomID)
	}
	h.logger.Info("ws_disconnected", zap.String("conn_id", c.ID), zap.String("identity", string(c.Identity)))
}

// detachLocked removes c from a room. It returns the room subscription when
// the room emptied, and whether c's identity has no connection left there.
func (h *Hub) detachLocked(c *Conn, roomID string) (Subscription, bool) {
	if _, ok := c.rooms[roomID]; !ok {
		return nil, false
	}
	delete(c.rooms, roomID)

	var sub Subscription
	if rm, ok := h.rooms[roomID]; ok {
		delete(rm.conns, c)
		if len(rm.conns) == 0 {
			delete(h.rooms, roomID)
			sub = rm.sub
		}
	}

	idle := false
	if p := h.presence[roomID]; p != nil && c.Identity != "" {
		p[c.Identity]--
		if p[c.Identity] <= 0 {
			delete(p, c.Identity)
			idle = true
		}
		if len(p) == 0 {
			delete(h.presence, roomID)
		}
	}
	return sub, idle
}

func (h *Hub) closeIfAbandoned(ctx context.Context, roomID string) {
	if !h.closeOnDisconnect {
		return
	}
	sess, err := h.registry.Get(ctx, roomID)
	if err != nil {
		return
	}
	snap := sess.Snapshot()
	var engine session.Identity
	if snap.Opponent != nil {
		engine = snap.Opponent.Identity
	}

	h.mu.Lock()
	p := h.presence[roomID]
	for _, seat := range []session.Identity{snap.White, snap.Black} {
		if seat != "" && seat != engine && p[seat] > 0 {
			h.mu.Unlock()
			return
		}
	}
	h.mu.Unlock()

	if h.registry.Remove(ctx, roomID) {
		h.logger.Info("session_closed_on_disconnect", zap.String("session_id", roomID))
	}
}

// SubmitMove applies a move for c's identity. Success is broadcast to the
// room by the commit listener; failure goes to c alone.
func (h *Hub) SubmitMove(ctx context.Context, c *Conn, msg chessdto.ClientMessage) error {
	roomID := strings.TrimSpace(msg.RoomID)
	mv, err := rules.NewMove(msg.MoveFrom, msg.MoveTo, msg.Promotion)
	if err != nil {
		h.sendError(c, roomID, err)
		return err
	}
	sess, err := h.registry.Get(ctx, roomID)
	if err != nil {
		h.sendError(c, roomID, err)
		return err
	}
	if _, err := sess.ApplyMove(c.Identity, mv); err != nil {
		h.logger.Debug("move_rejected",
			zap.String("session_id", roomID),
			zap.String("identity", string(c.Identity)),
			zap.String("move", mv.UCI()),
			zap.Error(err),
		)
		h.sendError(c, roomID, err)
		return err
	}
	return nil
}

func (h *Hub) onCommit(snap session.Snapshot) {
	st := NewGameState(snap)
	h.publish(snap.ID, chessdto.ServerMessage{Type: chessdto.TypeGameState, RoomID: snap.ID, GameState: &st})
	h.maybeScheduleEngine(snap)
}

func (h *Hub) onRemove(id string) {
	msg, err := h.catalog.Render("room.closed", map[string]any{"SessionID": id})
	if err != nil {
		msg = "room closed"
	}
	h.publish(id, chessdto.ServerMessage{Type: chessdto.TypeRoomClosed, RoomID: id, Message: msg})
}

func (h *Hub) publish(roomID string, msg chessdto.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("ws_encode_failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.broker.Publish(ctx, roomID, payload); err != nil {
		h.logger.Warn("room_publish_failed", zap.String("session_id", roomID), zap.Error(err))
	}
}

func (h *Hub) sendState(c *Conn, snap session.Snapshot) {
	st := NewGameState(snap)
	h.sendTo(c, chessdto.ServerMessage{Type: chessdto.TypeGameState, RoomID: snap.ID, GameState: &st})
}

func (h *Hub) sendError(c *Conn, roomID string, err error) {
	h.sendTo(c, h.errorMessage(roomID, err))
}

func (h *Hub) errorMessage(roomID string, err error) chessdto.ServerMessage {
	code, _ := faults.Code(err)
	return chessdto.ServerMessage{
		Type:    chessdto.TypeError,
		RoomID:  roomID,
		Code:    code,
		Message: h.catalog.Error(code, map[string]any{"SessionID": roomID}),
	}
}

func (h *Hub) sendTo(c *Conn, msg chessdto.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("ws_encode_failed", zap.Error(err))
		return
	}
	c.send(payload)
}

// maybeScheduleEngine starts an engine reply when it is the automated
// opponent's turn. The computation is scoped to the session context.
func (h *Hub) maybeScheduleEngine(snap session.Snapshot) {
	op := snap.Opponent
	if h.mover == nil || op == nil || snap.Status.Terminal() {
		return
	}
	if !strings.EqualFold(snap.Turn.String(), op.Color) {
		return
	}
	// 같은 국면은 한 번만 계산
	h.mu.Lock()
	if h.closed || h.thinking[snap.ID] == snap.FEN {
		h.mu.Unlock()
		return
	}
	h.thinking[snap.ID] = snap.FEN
	h.wg.Add(1)
	h.mu.Unlock()

	go h.engineReply(snap)
}

func (h *Hub) engineReply(snap session.Snapshot) {
	defer h.wg.Done()
	// a newer position may already be scheduled; only clear our own entry
	defer func() {
		h.mu.Lock()
		if h.thinking[snap.ID] == snap.FEN {
			delete(h.thinking, snap.ID)
		}
		h.mu.Unlock()
	}()

	sess, err := h.registry.Get(context.Background(), snap.ID)
	if err != nil {
		return
	}
	ctx := sess.Context()
	op := snap.Opponent
	mv, err := h.mover.Compute(ctx, chess.Request{
		FEN:        snap.FEN,
		Difficulty: op.Difficulty,
		TimeLimit:  op.TimeLimit,
		DepthLimit: op.DepthLimit,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		h.logger.Warn("engine_reply_failed", zap.String("session_id", snap.ID), zap.Error(err))
		h.publish(snap.ID, h.errorMessage(snap.ID, err))
		return
	}
	if _, err := sess.ApplyMove(op.Identity, mv); err != nil {
		if errors.Is(err, session.ErrGameOver) || errors.Is(err, session.ErrSessionNotFound) {
			return
		}
		h.logger.Warn("engine_reply_rejected",
			zap.String("session_id", snap.ID),
			zap.String("move", mv.UCI()),
			zap.Error(err),
		)
	}
}

// Close stops every room pump and waits for engine replies to finish.
// Session contexts should be cancelled first so replies return promptly.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	rooms := h.rooms
	h.rooms = make(map[string]*room)
	h.mu.Unlock()
	for _, rm := range rooms {
		_ = rm.sub.Close()
	}
	h.wg.Wait()
}
