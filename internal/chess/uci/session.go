package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultReadyTimeout = 4 * time.Second
	lineBuffer          = 64
	waitDelay           = time.Second
	quitGrace           = 200 * time.Millisecond
)

var (
	ErrBinaryNotFound    = errors.New("uci: engine binary not found")
	ErrProcessExited     = errors.New("uci: engine process exited")
	ErrNoMove            = errors.New("uci: engine returned no move")
	ErrUnsupportedOption = errors.New("uci: option not supported by engine")
	ErrNoLimits          = errors.New("uci: no search limits specified")
	errSessionClosed     = errors.New("uci: session closed")
)

// OptionSpec is one "option name ..." line advertised during the uci handshake.
type OptionSpec struct {
	Name     string
	Type     string
	Min      int
	Max      int
	HasRange bool
}

type Search struct {
	FEN      string
	MoveTime time.Duration
	Depth    int
}

// Session is one running engine process. It is owned by exactly one caller
// between Start and Close.
type Session struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	lines   chan string
	done    chan struct{}
	options map[string]OptionSpec
	name    string

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Start spawns the engine and completes the uci/isready handshake.
func Start(ctx context.Context, binaryPath string) (*Session, error) {
	if strings.TrimSpace(binaryPath) == "" {
		return nil, ErrBinaryNotFound
	}
	if _, err := os.Stat(binaryPath); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, binaryPath, err)
	}

	cmd := exec.CommandContext(ctx, binaryPath)
	cmd.WaitDelay = waitDelay
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrBinaryNotFound, err)
		}
		return nil, fmt.Errorf("start engine: %w", err)
	}

	s := &Session{
		cmd:     cmd,
		stdin:   stdin,
		lines:   make(chan string, lineBuffer),
		done:    make(chan struct{}),
		options: make(map[string]OptionSpec),
	}
	go s.readLoop(stdoutPipe)

	if err := s.handshake(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Name is the engine's self-reported "id name".
func (s *Session) Name() string {
	return s.name
}

// Supports reports whether the engine advertised the named option.
func (s *Session) Supports(name string) bool {
	_, ok := s.options[strings.ToLower(name)]
	return ok
}

// SetOption sends one setoption command. Spin values are clamped into the
// advertised range.
func (s *Session) SetOption(name, value string) error {
	spec, ok := s.options[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedOption, name)
	}
	if spec.Type == "spin" && spec.HasRange {
		if v, err := strconv.Atoi(value); err == nil {
			value = strconv.Itoa(clamp(v, spec.Min, spec.Max))
		}
	}
	return s.send(fmt.Sprintf("setoption name %s value %s\n", spec.Name, value))
}

// Ready blocks until the engine answers readyok.
func (s *Session) Ready(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(readyCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

// Compute runs one search and returns the bestmove token in UCI notation.
func (s *Session) Compute(ctx context.Context, req Search) (string, error) {
	tokens, err := buildGoTokens(req)
	if err != nil {
		return "", err
	}
	if err := s.send(buildPositionCommand(req.FEN)); err != nil {
		return "", fmt.Errorf("send position: %w", err)
	}
	if err := s.send(strings.Join(tokens, " ") + "\n"); err != nil {
		return "", fmt.Errorf("send go: %w", err)
	}

	for {
		line, err := s.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				_ = s.send("stop\n")
			}
			return "", err
		}
		if !strings.HasPrefix(line, "bestmove") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 || parts[1] == "(none)" || parts[1] == "0000" {
			return "", ErrNoMove
		}
		return parts[1], nil
	}
}

// Close asks the engine to quit, kills it if it has not exited within
// quitGrace and reaps it. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		_ = s.send("quit\n")

		s.mu.Lock()
		if s.stdin != nil {
			s.stdin.Close()
		}
		s.mu.Unlock()

		if s.cmd != nil {
			waited := make(chan error, 1)
			go func() { waited <- s.cmd.Wait() }()

			var err error
			timer := time.NewTimer(quitGrace)
			select {
			case err = <-waited:
				timer.Stop()
			case <-timer.C:
				if s.cmd.Process != nil {
					_ = s.cmd.Process.Kill()
				}
				err = <-waited
			}
			var exitErr *exec.ExitError
			if err != nil && !errors.As(err, &exitErr) {
				s.closeErr = err
			}
		}
		close(s.done)
	})
	return s.closeErr
}

func (s *Session) handshake(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	for {
		line, err := s.next(initCtx)
		if err != nil {
			return fmt.Errorf("wait uciok: %w", err)
		}
		switch {
		case strings.HasPrefix(line, "id name "):
			s.name = strings.TrimSpace(strings.TrimPrefix(line, "id name "))
		case strings.HasPrefix(line, "option name "):
			if spec, ok := parseOption(line); ok {
				s.options[strings.ToLower(spec.Name)] = spec
			}
		case line == "uciok":
			return s.Ready(ctx)
		}
	}
}

func (s *Session) readLoop(r io.Reader) {
	defer close(s.lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		select {
		case s.lines <- strings.TrimSpace(sc.Text()):
		case <-s.done:
			return
		}
	}
}

func (s *Session) next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-s.lines:
		if !ok {
			return "", ErrProcessExited
		}
		return line, nil
	}
}

func (s *Session) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := s.next(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (s *Session) send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		return errSessionClosed
	}
	if _, err := io.WriteString(s.stdin, msg); err != nil {
		if errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || strings.Contains(err.Error(), "broken pipe") {
			return fmt.Errorf("%w: %v", ErrProcessExited, err)
		}
		return err
	}
	return nil
}

func buildPositionCommand(fen string) string {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return "position startpos\n"
	}
	return "position fen " + fen + "\n"
}

func buildGoTokens(req Search) ([]string, error) {
	args := []string{"go"}
	if req.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(req.Depth))
	}
	if ms := req.MoveTime.Milliseconds(); ms > 0 {
		args = append(args, "movetime", strconv.FormatInt(ms, 10))
	} else if req.MoveTime > 0 {
		args = append(args, "movetime", "1")
	}
	if len(args) == 1 {
		return nil, ErrNoLimits
	}
	return args, nil
}

// parseOption reads "option name <name...> type <t> [default x] [min a] [max b] ...".
func parseOption(line string) (OptionSpec, bool) {
	parts := strings.Fields(line)
	if len(parts) < 4 || parts[0] != "option" || parts[1] != "name" {
		return OptionSpec{}, false
	}
	var (
		nameParts []string
		spec      OptionSpec
		haveMin   bool
		haveMax   bool
	)
	i := 2
	for ; i < len(parts) && parts[i] != "type"; i++ {
		nameParts = append(nameParts, parts[i])
	}
	if len(nameParts) == 0 {
		return OptionSpec{}, false
	}
	spec.Name = strings.Join(nameParts, " ")
	for ; i < len(parts); i++ {
		if i+1 >= len(parts) {
			break
		}
		switch parts[i] {
		case "type":
			spec.Type = parts[i+1]
			i++
		case "min":
			if v, err := strconv.Atoi(parts[i+1]); err == nil {
				spec.Min = v
				haveMin = true
			}
			i++
		case "max":
			if v, err := strconv.Atoi(parts[i+1]); err == nil {
				spec.Max = v
				haveMax = true
			}
			i++
		}
	}
	spec.HasRange = haveMin && haveMax && spec.Min <= spec.Max
	return spec, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
