package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/obslog"
)

const (
	persistTimeout  = 3 * time.Second
	defaultLeaseTTL = 30 * time.Second
)

var (
	// ErrRecordNotFound is returned by a Store that has no record for an id.
	ErrRecordNotFound = errors.New("session record not found")
	// ErrOwnedElsewhere means another registry holds the session's lease.
	ErrOwnedElsewhere = errors.New("session is served by another instance")
)

// Store persists session snapshots so a registry miss can be rehydrated.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
}

// Leaser grants one registry at a time the right to serve a session id.
// Acquire renews a lease the owner already holds.
type Leaser interface {
	Acquire(ctx context.Context, id, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, id, owner string) error
}

// Archiver receives each game once, when it reaches a terminal status.
type Archiver interface {
	Archive(ctx context.Context, snap Snapshot) error
}

type Option func(*Registry)

func WithStore(s Store) Option { return func(r *Registry) { r.store = s } }

func WithArchiver(a Archiver) Option { return func(r *Registry) { r.archiver = a } }

// WithLease makes the registry serve only sessions whose lease it holds. Run
// renews leases every ttl/3; a session whose lease is lost is dropped locally.
func WithLease(l Leaser, ttl time.Duration) Option {
	return func(r *Registry) {
		r.leaser = l
		r.leaseTTL = ttl
	}
}

// WithIdleTimeout enables abandoning and evicting sessions with no activity
// for d. Zero disables it.
func WithIdleTimeout(d time.Duration) Option { return func(r *Registry) { r.idleTimeout = d } }

func WithLogger(l *zap.Logger) Option { return func(r *Registry) { r.logger = l } }

func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

func WithIDGenerator(gen func() string) Option { return func(r *Registry) { r.newID = gen } }

// Registry is the table of live sessions. The map lock only guards the
// table; game state is guarded per session.
type Registry struct {
	rules       Rules
	store       Store
	archiver    Archiver
	leaser      Leaser
	leaseTTL    time.Duration
	owner       string
	idleTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string

	mu       sync.RWMutex
	sessions map[string]*Session

	lmu       sync.RWMutex
	listeners []func(Snapshot)
	removers  []func(id string)
}

func NewRegistry(r Rules, opts ...Option) *Registry {
	reg := &Registry{
		rules:    r,
		logger:   obslog.L(),
		now:      time.Now,
		newID:    uuid.NewString,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(reg)
	}
	if reg.leaseTTL <= 0 {
		reg.leaseTTL = defaultLeaseTTL
	}
	reg.owner = uuid.NewString()
	return reg
}

// OnCommit registers fn to run after every committed change, outside the
// session lock.
func (r *Registry) OnCommit(fn func(Snapshot)) {
	r.lmu.Lock()
	r.listeners = append(r.listeners, fn)
	r.lmu.Unlock()
}

// OnRemove registers fn to run after a session leaves the table.
func (r *Registry) OnRemove(fn func(id string)) {
	r.lmu.Lock()
	r.removers = append(r.removers, fn)
	r.lmu.Unlock()
}

type CreateOptions struct {
	Opponent *Opponent
}

// Create allocates a fresh session with empty slots (or one engine slot).
// An engine opponent is always seated under a fresh reserved identity.
func (r *Registry) Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	if op := opts.Opponent; op != nil {
		seated := *op
		seated.Identity = NewEngineIdentity()
		opts.Opponent = &seated
	}
	var s *Session
	for attempt := 0; attempt < 4 && s == nil; attempt++ {
		id := r.newID()
		r.mu.RLock()
		_, exists := r.sessions[id]
		r.mu.RUnlock()
		if exists {
			continue
		}
		held, err := r.acquire(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lease session %s: %w", id, err)
		}
		if !held {
			continue
		}
		r.mu.Lock()
		if _, exists := r.sessions[id]; !exists {
			s = newSession(id, r.rules, r.now, opts.Opponent)
			s.setOnCommit(r.handleCommit)
			r.sessions[id] = s
		}
		r.mu.Unlock()
	}
	if s == nil {
		return nil, fmt.Errorf("allocate session id: exhausted attempts")
	}

	snap := s.Snapshot()
	r.persist(ctx, snap)
	fields := []zap.Field{zap.String("session_id", s.ID())}
	if op := snap.Opponent; op != nil {
		fields = append(fields, zap.String("opponent", string(op.Identity)), zap.Int("difficulty", op.Difficulty))
	}
	r.logger.Info("session_created", fields...)
	return s, nil
}

// Get returns a live session, rehydrating it from the store on a miss.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrSessionNotFound
	}
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		// a closed entry is mid-Remove; its store record is on the way out
		if s.isClosed() {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return s, nil
	}
	if r.store == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	held, err := r.acquire(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lease session %s: %w", id, err)
	}
	if !held {
		return nil, fmt.Errorf("%w: %s", ErrOwnedElsewhere, id)
	}
	rec, err := r.store.Load(ctx, id)
	if err != nil {
		r.release(ctx, id)
		if errors.Is(err, ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	restored, err := restore(rec, r.rules, r.now)
	if err != nil {
		r.release(ctx, id)
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		restored.close()
		return existing, nil
	}
	restored.setOnCommit(r.handleCommit)
	r.sessions[id] = restored
	r.mu.Unlock()

	r.logger.Info("session_restored", zap.String("session_id", id), zap.Int("moves", len(rec.Moves)))
	return restored, nil
}

// Remove evicts a session and cancels work scoped to it. It reports whether
// the session was present. The session is closed before its store record is
// deleted and stays in the table until then, so neither a late commit nor a
// concurrent Get can bring it back.
func (r *Registry) Remove(ctx context.Context, id string) bool {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		s.close()
	}

	if r.store != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		if err := r.store.Delete(pctx, id); err != nil {
			r.logger.Warn("session_store_delete_failed", zap.String("session_id", id), zap.Error(err))
		}
		cancel()
	}
	if !ok {
		return false
	}
	r.release(ctx, id)

	r.mu.Lock()
	removed := r.sessions[id] == s
	if removed {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !removed {
		return false
	}

	r.lmu.RLock()
	removers := append([]func(string){}, r.removers...)
	r.lmu.RUnlock()
	for _, fn := range removers {
		fn(id)
	}
	r.logger.Info("session_removed", zap.String("session_id", id))
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep abandons and evicts sessions idle longer than the idle timeout.
func (r *Registry) Sweep(ctx context.Context) int {
	if r.idleTimeout <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idleTimeout)

	r.mu.RLock()
	var idle []*Session
	for _, s := range r.sessions {
		if s.LastActivity().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range idle {
		s.expire()
		r.Remove(ctx, s.ID())
		r.logger.Info("session_idle_evicted", zap.String("session_id", s.ID()), zap.Duration("idle_timeout", r.idleTimeout))
	}
	return len(idle)
}

// Renew extends the lease of every local session and drops the ones whose
// lease went to another registry. It returns the number dropped.
func (r *Registry) Renew(ctx context.Context) int {
	if r.leaser == nil {
		return 0
	}
	r.mu.RLock()
	local := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		local = append(local, s)
	}
	r.mu.RUnlock()

	lost := 0
	for _, s := range local {
		held, err := r.acquire(ctx, s.ID())
		if err != nil {
			r.logger.Warn("session_lease_renew_failed", zap.String("session_id", s.ID()), zap.Error(err))
			continue
		}
		if held {
			continue
		}
		s.close()
		r.mu.Lock()
		if r.sessions[s.ID()] == s {
			delete(r.sessions, s.ID())
		}
		r.mu.Unlock()
		lost++
		r.logger.Warn("session_lease_lost", zap.String("session_id", s.ID()))
	}
	return lost
}

// Run sweeps idle sessions every interval and renews leases until ctx is
// done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	var sweepC, renewC <-chan time.Time
	if r.idleTimeout > 0 && interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		sweepC = t.C
	}
	if r.leaser != nil {
		t := time.NewTicker(r.leaseTTL / 3)
		defer t.Stop()
		renewC = t.C
	}
	if sweepC == nil && renewC == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-sweepC:
			r.Sweep(ctx)
		case <-renewC:
			r.Renew(ctx)
		}
	}
}

// Close cancels every live session and hands back their leases without
// touching the stored snapshots.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for id, s := range sessions {
		s.close()
		r.release(context.Background(), id)
	}
}

func (r *Registry) acquire(ctx context.Context, id string) (bool, error) {
	if r.leaser == nil {
		return true, nil
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	return r.leaser.Acquire(lctx, id, r.owner, r.leaseTTL)
}

func (r *Registry) release(ctx context.Context, id string) {
	if r.leaser == nil {
		return
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := r.leaser.Release(lctx, id, r.owner); err != nil {
		r.logger.Warn("session_lease_release_failed", zap.String("session_id", id), zap.Error(err))
	}
}

func (r *Registry) handleCommit(c commit) {
	ctx := context.Background()
	r.persist(ctx, c.snap)
	if c.finished {
		r.logger.Info("session_finished",
			zap.String("session_id", c.snap.ID),
			zap.String("status", c.snap.Status.String()),
			zap.String("method", c.snap.Method),
			zap.Int("moves", len(c.snap.MovesUCI)),
		)
		if r.archiver != nil {
			actx, cancel := context.WithTimeout(ctx, persistTimeout)
			if err := r.archiver.Archive(actx, c.snap); err != nil {
				r.logger.Warn("session_archive_failed", zap.String("session_id", c.snap.ID), zap.Error(err))
			}
			cancel()
		}
	}

	r.lmu.RLock()
	listeners := append([]func(Snapshot){}, r.listeners...)
	r.lmu.RUnlock()
	for _, fn := range listeners {
		fn(c.snap)
	}
}

func (r *Registry) persist(ctx context.Context, snap Snapshot) {
	if r.store == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := r.store.Save(pctx, snap.Record()); err != nil {
		r.logger.Warn("session_store_save_failed", zap.String("session_id", snap.ID), zap.Error(err))
	}
}
