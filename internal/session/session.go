package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-chess-server/internal/rules"
)

// Rules is the rules capability a session needs.
type Rules interface {
	Initial() rules.Position
	Apply(pos rules.Position, mv rules.Move) (rules.Position, rules.Report, error)
	Inspect(pos rules.Position) rules.Report
	LegalMoves(pos rules.Position) []rules.Move
	History(pos rules.Position) (uci []string, san []string)
}

type commit struct {
	snap     Snapshot
	finished bool
}

// Session is one game. Every mutation runs under mu so submissions from the
// two participants are totally ordered.
type Session struct {
	id    string
	rules Rules
	now   func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	position     rules.Position
	report       rules.Report
	slots        [2]Identity
	history      []rules.Move
	status       Status
	version      int
	opponent     *Opponent
	createdAt    time.Time
	updatedAt    time.Time
	endedAt      time.Time
	lastActivity time.Time
	closed       bool

	onCommit func(commit)
	inflight sync.WaitGroup
}

func newSession(id string, r Rules, now func() time.Time, opponent *Opponent) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	ts := now()
	pos := r.Initial()
	s := &Session{
		id:           id,
		rules:        r,
		now:          now,
		ctx:          ctx,
		cancel:       cancel,
		position:     pos,
		report:       r.Inspect(pos),
		createdAt:    ts,
		updatedAt:    ts,
		lastActivity: ts,
	}
	if opponent != nil {
		op := *opponent
		s.opponent = &op
		s.slots[colorIndex(op.Color)] = op.Identity
	}
	return s
}

// restore rebuilds a session by replaying a persisted move list.
func restore(rec Record, r Rules, now func() time.Time) (*Session, error) {
	s := newSession(rec.ID, r, now, rec.Opponent)
	s.slots[0] = Identity(rec.White)
	s.slots[1] = Identity(rec.Black)
	for i, raw := range rec.Moves {
		mv, err := rules.ParseMove(raw)
		if err != nil {
			return nil, fmt.Errorf("restore %s move %d: %w", rec.ID, i+1, err)
		}
		next, rep, err := r.Apply(s.position, mv)
		if err != nil {
			return nil, fmt.Errorf("restore %s move %d: %w", rec.ID, i+1, err)
		}
		s.position, s.report = next, rep
		s.history = append(s.history, mv)
	}
	if rec.FEN != "" && rec.FEN != s.report.FEN {
		return nil, fmt.Errorf("restore %s: replayed position %q does not match stored %q", rec.ID, s.report.FEN, rec.FEN)
	}
	s.status = statusFromRules(s.report.Status)
	if ParseStatus(rec.Status) == Abandoned && !s.status.Terminal() {
		s.status = Abandoned
	}
	s.version = rec.Version
	if !rec.CreatedAt.IsZero() {
		s.createdAt = rec.CreatedAt
	}
	if !rec.UpdatedAt.IsZero() {
		s.updatedAt = rec.UpdatedAt
		s.lastActivity = rec.UpdatedAt
	}
	if s.status.Terminal() {
		s.endedAt = s.updatedAt
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Context is cancelled when the session is torn down.
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) Opponent() *Opponent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opponent == nil {
		return nil
	}
	op := *s.opponent
	return &op
}

// Join seats identity in the first empty slot, white before black. A player
// already seated gets its colour back.
func (s *Session) Join(id Identity) (Joined, error) {
	id = id.Normalize()
	if id == "" {
		return Joined{}, ErrInvalidIdentity
	}
	if id.IsEngine() {
		return Joined{}, ErrReservedIdentity
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Joined{}, ErrSessionNotFound
	}
	if c, ok := s.colorOfLocked(id); ok {
		s.lastActivity = s.now()
		s.mu.Unlock()
		return Joined{Color: c, Rejoined: true}, nil
	}
	idx := -1
	for i := range s.slots {
		if s.slots[i] == "" {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return Joined{}, ErrSessionFull
	}
	s.slots[idx] = id
	s.touchLocked()
	c := commit{snap: s.snapshotLocked()}
	hook := s.commitHookLocked()
	s.mu.Unlock()

	s.publish(hook, c)
	return Joined{Color: colorAt(idx)}, nil
}

// ApplyMove validates and commits one move. On any error the session is left
// exactly as it was.
func (s *Session) ApplyMove(id Identity, mv rules.Move) (Snapshot, error) {
	id = id.Normalize()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrSessionNotFound
	}
	color, ok := s.colorOfLocked(id)
	if !ok {
		s.mu.Unlock()
		return Snapshot{}, ErrNotAParticipant
	}
	if s.status.Terminal() {
		s.mu.Unlock()
		return Snapshot{}, ErrGameOver
	}
	if color != s.report.Turn {
		s.mu.Unlock()
		return Snapshot{}, ErrNotYourTurn
	}
	next, rep, err := s.rules.Apply(s.position, mv)
	if err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}

	s.position = next
	s.report = rep
	s.history = append(s.history, mv)
	s.status = statusFromRules(rep.Status)
	s.touchLocked()
	if s.status.Terminal() {
		s.endedAt = s.updatedAt
	}
	c := commit{snap: s.snapshotLocked(), finished: s.status.Terminal()}
	hook := s.commitHookLocked()
	s.mu.Unlock()

	s.publish(hook, c)
	return c.snap, nil
}

// Abandon ends the game for a participant. Calling it on a finished game is a
// no-op.
func (s *Session) Abandon(id Identity) (Snapshot, error) {
	id = id.Normalize()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrSessionNotFound
	}
	if _, ok := s.colorOfLocked(id); !ok {
		s.mu.Unlock()
		return Snapshot{}, ErrNotAParticipant
	}
	c, changed := s.abandonLocked()
	var hook func(commit)
	if changed {
		hook = s.commitHookLocked()
	}
	s.mu.Unlock()

	s.publish(hook, c)
	return c.snap, nil
}

// expire abandons an idle game on behalf of the registry.
func (s *Session) expire() (Snapshot, bool) {
	s.mu.Lock()
	c, changed := s.abandonLocked()
	var hook func(commit)
	if changed {
		hook = s.commitHookLocked()
	}
	s.mu.Unlock()

	s.publish(hook, c)
	return c.snap, changed
}

func (s *Session) abandonLocked() (commit, bool) {
	if s.status.Terminal() {
		return commit{snap: s.snapshotLocked()}, false
	}
	s.status = Abandoned
	s.touchLocked()
	s.endedAt = s.updatedAt
	return commit{snap: s.snapshotLocked(), finished: true}, true
}

// Snapshot returns a consistent copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// ColorOf reports the colour identity plays, if seated.
func (s *Session) ColorOf(id Identity) (rules.Color, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.colorOfLocked(id.Normalize())
}

// Touch records activity without changing game state.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = s.now()
	s.mu.Unlock()
}

// LastActivity is the idle-timeout hook.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// close marks the session destroyed, cancels work scoped to it and waits for
// commit hooks already running. No hook starts after close returns.
func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.onCommit = nil
	s.mu.Unlock()
	s.cancel()
	s.inflight.Wait()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) setOnCommit(fn func(commit)) {
	s.mu.Lock()
	s.onCommit = fn
	s.mu.Unlock()
}

// commitHookLocked returns the hook for a commit made under mu and keeps
// close waiting until publish has run it.
func (s *Session) commitHookLocked() func(commit) {
	fn := s.onCommit
	if fn != nil {
		s.inflight.Add(1)
	}
	return fn
}

func (s *Session) publish(fn func(commit), c commit) {
	if fn == nil {
		return
	}
	defer s.inflight.Done()
	fn(c)
}

func (s *Session) touchLocked() {
	ts := s.now()
	s.version++
	s.updatedAt = ts
	s.lastActivity = ts
}

func (s *Session) colorOfLocked(id Identity) (rules.Color, bool) {
	if id == "" {
		return rules.White, false
	}
	for i, occupant := range s.slots {
		if occupant == id {
			return colorAt(i), true
		}
	}
	return rules.White, false
}

func (s *Session) snapshotLocked() Snapshot {
	uci, san := s.rules.History(s.position)
	legal := []string{}
	if !s.status.Terminal() {
		for _, mv := range s.rules.LegalMoves(s.position) {
			legal = append(legal, mv.UCI())
		}
	}
	var op *Opponent
	if s.opponent != nil {
		cp := *s.opponent
		op = &cp
	}
	return Snapshot{
		ID:         s.id,
		Version:    s.version,
		Position:   s.position,
		FEN:        s.report.FEN,
		Turn:       s.report.Turn,
		White:      s.slots[0],
		Black:      s.slots[1],
		Status:     s.status,
		Method:     s.report.Method,
		InCheck:    s.report.InCheck,
		MovesUCI:   uci,
		MovesSAN:   san,
		LegalMoves: legal,
		Opponent:   op,
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
		EndedAt:    s.endedAt,
	}
}

func colorAt(idx int) rules.Color {
	if idx == 1 {
		return rules.Black
	}
	return rules.White
}

func colorIndex(c string) int {
	if strings.EqualFold(strings.TrimSpace(c), rules.Black.String()) {
		return 1
	}
	return 0
}
