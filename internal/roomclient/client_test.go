package roomclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-chess-server/internal/auth"
	"github.com/park285/cheese-chess-server/internal/gateway"
	"github.com/park285/cheese-chess-server/internal/rules"
	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func collect(c *Client) <-chan chessdto.ServerMessage {
	ch := make(chan chessdto.ServerMessage, 16)
	c.OnMessage(func(msg chessdto.ServerMessage) {
		select {
		case ch <- msg:
		default:
		}
	})
	return ch
}

func recv(t *testing.T, ch <-chan chessdto.ServerMessage) chessdto.ServerMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatalf("no frame received")
		return chessdto.ServerMessage{}
	}
}

func TestPlaysAgainstGateway(t *testing.T) {
	reg := session.NewRegistry(rules.New(), session.WithLogger(zap.NewNop()))
	hub := gateway.NewHub(reg, gateway.NewMemoryBroker(0), gateway.WithHubLogger(zap.NewNop()))
	t.Cleanup(func() {
		reg.Close()
		hub.Close()
	})
	srv := httptest.NewServer(gateway.NewServer(hub, auth.Header{Name: auth.DefaultHeader}, gateway.ServerConfig{}))
	t.Cleanup(srv.Close)

	sess, err := reg.Create(context.Background(), session.CreateOptions{})
	require.NoError(t, err)
	_, err = sess.Join("alice")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := New(wsURL(srv), WithHeaders(func() map[string]string {
		return map[string]string{auth.DefaultHeader: "alice", "": "ignored"}
	}))
	frames := collect(c)
	require.ErrorIs(t, c.SubmitMove(ctx, sess.ID(), "e2", "e4", ""), ErrNotConnected)
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	require.Equal(t, StateConnected, c.State())

	require.NoError(t, c.Join(ctx, sess.ID()))
	msg := recv(t, frames)
	require.Equal(t, chessdto.TypeGameState, msg.Type)
	require.Equal(t, "alice", msg.GameState.PlayerForWhite)

	require.NoError(t, c.SubmitMove(ctx, sess.ID(), "e2", "e4", ""))
	msg = recv(t, frames)
	require.Equal(t, chessdto.TypeGameState, msg.Type)
	require.Equal(t, []string{"e2e4"}, msg.GameState.MoveHistory)

	require.NoError(t, c.SubmitMove(ctx, sess.ID(), "e7", "e5", ""))
	msg = recv(t, frames)
	require.Equal(t, chessdto.TypeError, msg.Type)
	require.Equal(t, chessdto.CodeNotYourTurn, msg.Code)
}

func TestReconnectRejoinsRooms(t *testing.T) {
	var accepts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		n := accepts.Add(1)
		ctx := r.Context()
		var in chessdto.ClientMessage
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return
		}
		if n == 1 {
			_ = conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		_ = wsjson.Write(ctx, conn, chessdto.ServerMessage{Type: chessdto.TypeGameState, RoomID: in.RoomID})
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	var mu sync.Mutex
	var states []State
	c := New(wsURL(srv), WithReconnect(3, 10*time.Millisecond))
	c.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	frames := collect(c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Join(ctx, "room-1"))

	msg := recv(t, frames)
	require.Equal(t, "room-1", msg.RoomID)
	require.EqualValues(t, 2, accepts.Load())

	require.NoError(t, c.Close(ctx))
	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, states, StateReconnecting)
	require.Equal(t, StateDisconnected, states[len(states)-1])
}

func TestConnectFailure(t *testing.T) {
	c := New("ws://127.0.0.1:1/v1/ws", WithReconnect(0, 0))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Error(t, c.Connect(ctx))
	require.Equal(t, StateFailed, c.State())
	require.NoError(t, c.Close(ctx))
}

func TestBackoffIsCapped(t *testing.T) {
	c := New("ws://unused", WithReconnect(5, 100*time.Millisecond))
	require.Equal(t, 100*time.Millisecond, c.backoff(1))
	require.Equal(t, 200*time.Millisecond, c.backoff(2))
	require.Equal(t, 1600*time.Millisecond, c.backoff(5))
	require.LessOrEqual(t, c.backoff(20), 1600*time.Millisecond)
}
