package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/park285/cheese-chess-server/internal/engineclient"
	"github.com/park285/cheese-chess-server/internal/roomclient"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func main() {
	baseURL := os.Getenv("CHESS_BASE_URL")
	wsURL := os.Getenv("CHESS_WS_URL")
	room := os.Getenv("CHESS_ROOM")
	token := os.Getenv("CHESS_TOKEN")
	userID := os.Getenv("X_USER_ID")

	if baseURL == "" {
		log.Fatal("CHESS_BASE_URL is required")
	}

	client := engineclient.New(baseURL, engineclient.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Health(ctx); err != nil {
		log.Printf("/healthz error: %v", err)
	} else {
		log.Println("/healthz ok")
	}

	req := chessdto.MoveRequest{FEN: envDefault("CHESS_FEN", startFEN)}
	if v, err := strconv.Atoi(os.Getenv("CHESS_DIFFICULTY")); err == nil {
		req.Difficulty = &v
	}
	if v, err := strconv.ParseFloat(os.Getenv("CHESS_TIME_LIMIT"), 64); err == nil {
		req.TimeLimit = &v
	}
	mctx, mcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer mcancel()
	start := time.Now()
	res, err := client.Move(mctx, req)
	if err != nil {
		log.Printf("/v1/engine/move error: %v", err)
	} else {
		move := "null"
		if res.Move != nil {
			move = *res.Move
		}
		log.Printf("/v1/engine/move ok in %s: move=%s gameover=%t check=%t fen=%q",
			time.Since(start).Round(time.Millisecond), move, res.IsGameOver, res.IsCheck, res.FENAfter)
	}

	if wsURL == "" || room == "" {
		log.Println("CHESS_WS_URL or CHESS_ROOM not set; skipping WS check")
		return
	}

	headers := func() map[string]string {
		m := map[string]string{}
		if token != "" {
			m["Authorization"] = "Bearer " + token
		}
		if userID != "" {
			m["X-User-Id"] = userID
		}
		return m
	}
	ws := roomclient.New(wsURL, roomclient.WithHeaders(headers), roomclient.WithReconnect(5, time.Second))
	ws.OnStateChange(func(state roomclient.State) {
		log.Printf("WS state: %s", state)
	})
	ws.OnMessage(func(msg chessdto.ServerMessage) {
		switch {
		case msg.GameState != nil:
			st := msg.GameState
			fmt.Printf("WS %s room=%s v=%d turn=%s status=%s moves=%s\n",
				msg.Type, msg.RoomID, st.Version, st.Turn, st.Status, strings.Join(st.MoveHistory, " "))
		default:
			fmt.Printf("WS %s room=%s code=%s message=%q\n", msg.Type, msg.RoomID, msg.Code, msg.Message)
		}
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := ws.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}
	if err := ws.Join(cctx, room); err != nil {
		log.Printf("WS join error: %v", err)
	}

	watch := 10 * time.Second
	if d, err := time.ParseDuration(os.Getenv("CHESS_WATCH")); err == nil && d > 0 {
		watch = d
	}
	t := time.NewTimer(watch)
	<-t.C

	_ = ws.Close(context.Background())
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
