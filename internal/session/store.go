// Package session holds the per-browser state of the map tool in memory.
//
// A session owns one loaded coordinate table and the palette the user picked
// for it. Sessions live only as long as the process and expire after a period
// of inactivity. Uploading a new file replaces the previous session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/geomap/internal/core"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	cmap "github.com/orcaman/concurrent-map/v2"
)

var (
	// ErrSessionNotFound is returned for unknown or expired session IDs.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStoreFull is returned when MaxSessions live sessions already exist.
	ErrStoreFull = fmt.Errorf("session limit reached: %w", core.ErrTooManyUploads)
)

// Session is a snapshot of one user's loaded table and colors.
type Session struct {
	ID        string
	Filename  string
	Table     *core.Table
	Palette   core.Palette
	CreatedAt time.Time
	LastSeen  time.Time
}

// entry guards a session against concurrent updates and removal.
type entry struct {
	mu      sync.Mutex
	s       Session
	removed bool
}

// Options configures a Store.
type Options struct {
	TTL         time.Duration
	MaxSessions int
	Clock       clockwork.Clock
	Logger      *slog.Logger

	// OnChange is called with the live session count after it changes.
	OnChange func(active int)
}

// Store is a concurrent in-memory session map.
type Store struct {
	sessions cmap.ConcurrentMap[string, *entry]
	ttl      time.Duration
	max      int
	clock    clockwork.Clock
	logger   *slog.Logger
	onChange func(int)
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		sessions: cmap.New[*entry](),
		ttl:      opts.TTL,
		max:      opts.MaxSessions,
		clock:    opts.Clock,
		logger:   opts.Logger,
		onChange: opts.OnChange,
	}
}

// Create stores a new session for table and returns its snapshot.
func (s *Store) Create(filename string, table *core.Table, palette core.Palette) (Session, error) {
	if s.max > 0 && s.sessions.Count() >= s.max {
		s.Sweep()
		if s.sessions.Count() >= s.max {
			return Session{}, ErrStoreFull
		}
	}

	now := s.clock.Now()
	sess := Session{
		ID:        uuid.NewString(),
		Filename:  filename,
		Table:     table,
		Palette:   palette.Clone(),
		CreatedAt: now,
		LastSeen:  now,
	}
	s.sessions.Set(sess.ID, &entry{s: sess})
	s.changed()

	return snapshot(sess), nil
}

// Replace creates a session for a new upload and drops oldID, if any.
func (s *Store) Replace(oldID, filename string, table *core.Table, palette core.Palette) (Session, error) {
	if oldID != "" {
		s.Delete(oldID)
	}
	return s.Create(filename, table, palette)
}

// Get returns the session and marks it as used.
func (s *Store) Get(id string) (Session, error) {
	e, ok := s.sessions.Get(id)
	if !ok {
		return Session{}, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return Session{}, ErrSessionNotFound
	}
	now := s.clock.Now()
	if s.expired(e.s, now) {
		e.removed = true
		s.sessions.Remove(id)
		s.changed()
		return Session{}, ErrSessionNotFound
	}

	e.s.LastSeen = now
	return snapshot(e.s), nil
}

// SetPalette replaces the palette of a live session.
func (s *Store) SetPalette(id string, palette core.Palette) (Session, error) {
	e, ok := s.sessions.Get(id)
	if !ok {
		return Session{}, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.clock.Now()
	if e.removed || s.expired(e.s, now) {
		return Session{}, ErrSessionNotFound
	}

	e.s.Palette = palette.Clone()
	e.s.LastSeen = now
	return snapshot(e.s), nil
}

// Delete removes a session. Unknown IDs are ignored.
func (s *Store) Delete(id string) {
	e, ok := s.sessions.Pop(id)
	if !ok {
		return
	}
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	s.changed()
}

// Len returns the number of sessions held, including expired ones not yet swept.
func (s *Store) Len() int {
	return s.sessions.Count()
}

// Sweep removes expired sessions and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.clock.Now()
	removed := 0

	for item := range s.sessions.IterBuffered() {
		e := item.Val
		e.mu.Lock()
		if !e.removed && s.expired(e.s, now) {
			e.removed = true
			s.sessions.RemoveCb(item.Key, func(_ string, v *entry, exists bool) bool {
				return exists && v == e
			})
			removed++
		}
		e.mu.Unlock()
	}

	if removed > 0 {
		s.changed()
	}
	return removed
}

// Run sweeps expired sessions every interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("expired sessions removed", "count", n, "remaining", s.Len())
			}
		}
	}
}

func (s *Store) expired(sess Session, now time.Time) bool {
	return now.Sub(sess.LastSeen) > s.ttl
}

func (s *Store) changed() {
	if s.onChange != nil {
		s.onChange(s.sessions.Count())
	}
}

// snapshot copies the mutable parts of a session for callers.
func snapshot(sess Session) Session {
	sess.Palette = sess.Palette.Clone()
	return sess
}
