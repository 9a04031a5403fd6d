package uci

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/hashicorp/go-multierror"
)

type LauncherConfig struct {
	BinaryPath string
	MaxProcs   int
}

// Launcher starts a fresh engine process per caller and caps how many run at
// once. Processes are never handed to a second caller.
type Launcher struct {
	binaryPath string
	slots      chan struct{}

	mu   sync.Mutex
	live map[*Session]struct{}
}

func NewLauncher(cfg LauncherConfig) (*Launcher, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("binary path required")
	}
	capacity := cfg.MaxProcs
	if capacity <= 0 {
		capacity = defaultMaxProcs()
	}
	return &Launcher{
		binaryPath: cfg.BinaryPath,
		slots:      make(chan struct{}, capacity),
		live:       make(map[*Session]struct{}),
	}, nil
}

func (l *Launcher) BinaryPath() string {
	return l.binaryPath
}

// Launch waits for a free slot and starts an engine. Every successful Launch
// must be paired with Release.
func (l *Launcher) Launch(ctx context.Context) (*Session, error) {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	session, err := Start(ctx, l.binaryPath)
	if err != nil {
		<-l.slots
		return nil, err
	}

	l.mu.Lock()
	l.live[session] = struct{}{}
	l.mu.Unlock()
	return session, nil
}

// Release stops the engine and frees its slot.
func (l *Launcher) Release(session *Session) error {
	if session == nil {
		return nil
	}
	l.mu.Lock()
	_, tracked := l.live[session]
	delete(l.live, session)
	l.mu.Unlock()

	err := session.Close()
	if tracked {
		<-l.slots
	}
	return err
}

// InUse reports the number of engine processes currently running.
func (l *Launcher) InUse() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live)
}

// Close stops every process still running.
func (l *Launcher) Close() error {
	l.mu.Lock()
	sessions := make([]*Session, 0, len(l.live))
	for s := range l.live {
		sessions = append(sessions, s)
	}
	l.mu.Unlock()

	var result *multierror.Error
	for _, s := range sessions {
		if err := l.Release(s); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func defaultMaxProcs() int {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		return 2
	}
	if cpu > 4 {
		return 4
	}
	return cpu
}
