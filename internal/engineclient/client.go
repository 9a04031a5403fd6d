// Package engineclient calls the move service of another instance.
package engineclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/cheese-chess-server/internal/chess"
	"github.com/park285/cheese-chess-server/internal/rules"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
)

const movePath = "/v1/engine/move"

type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

// WithRetry sets the attempt count for transport failures and 502/504.
func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithDial replaces the dialer, e.g. with an in-memory listener.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 30 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 30 * time.Second,
		retryMax:       2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Move posts a raw move request.
func (c *Client) Move(ctx context.Context, in chessdto.MoveRequest) (chessdto.MoveResponse, error) {
	var out chessdto.MoveResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, movePath, in, &out); err != nil {
		return chessdto.MoveResponse{}, err
	}
	return out, nil
}

// Compute asks the remote service for a move. A terminal position yields
// chess.ErrNoMoveProduced, as with the local broker.
func (c *Client) Compute(ctx context.Context, req chess.Request) (rules.Move, error) {
	in := chessdto.MoveRequest{FEN: req.FEN}
	if req.Difficulty != 0 {
		d := req.Difficulty
		in.Difficulty = &d
	}
	if req.TimeLimit > 0 {
		secs := req.TimeLimit.Seconds()
		in.TimeLimit = &secs
	}
	if req.DepthLimit > 0 {
		depth := req.DepthLimit
		in.DepthLimit = &depth
	}
	resp, err := c.Move(ctx, in)
	if err != nil {
		return rules.Move{}, err
	}
	if resp.Move == nil {
		return rules.Move{}, chess.ErrNoMoveProduced
	}
	mv, err := rules.ParseMove(*resp.Move)
	if err != nil {
		return rules.Move{}, &chess.EngineError{Detail: "remote returned " + *resp.Move, Err: err}
	}
	return mv, nil
}

// Health reports whether the remote answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodGet, "/healthz", nil, nil)
}

// problem is the error body the move service writes.
type problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// RemoteError is a non-2xx answer that maps to no engine sentinel.
type RemoteError struct {
	Status int
	Code   string
	Detail string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("move service error: status=%d code=%s detail=%s", e.Status, e.Code, e.Detail)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			if errors.Is(err, fasthttp.ErrTimeout) {
				return fmt.Errorf("%w: remote move service: %v", chess.ErrEngineTimeout, err)
			}
			lastErr = fmt.Errorf("%w: remote move service: %v", chess.ErrEngineUnavailable, err)
			if attempt == attempts || sleepWithContext(ctx, backoffDuration(attempt)) != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = decodeProblem(status, resp.Body())
			if attempt == attempts || !shouldRetryStatus(status) || sleepWithContext(ctx, backoffDuration(attempt)) != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

// decodeProblem turns an error body back into the sentinel it came from.
func decodeProblem(status int, body []byte) error {
	var p problem
	_ = json.Unmarshal(body, &p)
	detail := p.Detail
	if detail == "" {
		detail = truncate(string(body), 256)
	}
	switch p.Code {
	case chessdto.CodeInvalidFEN:
		return fmt.Errorf("%w: %s", rules.ErrInvalidFEN, detail)
	case chessdto.CodeEngineUnavailable:
		return fmt.Errorf("%w: %s", chess.ErrEngineUnavailable, detail)
	case chessdto.CodeEngineCrashed:
		return fmt.Errorf("%w: %s", chess.ErrEngineCrashed, detail)
	case chessdto.CodeEngineTimeout:
		return fmt.Errorf("%w: %s", chess.ErrEngineTimeout, detail)
	case chessdto.CodeEngineNoMove:
		return chess.ErrNoMoveProduced
	case chessdto.CodeEngineError:
		return &chess.EngineError{Detail: detail}
	}
	return &RemoteError{Status: status, Code: p.Code, Detail: detail}
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

// 503 is not retried: it carries an engine verdict.
func shouldRetryStatus(code int) bool {
	switch code {
	case 502, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
