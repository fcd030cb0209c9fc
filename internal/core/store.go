package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// SnapshotStore durably persists sessions across process restarts and
// between instances. Load and Touch return ErrSessionNotFound for unknown ids.
type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot, ttl time.Duration) error
	Load(ctx context.Context, id string) (*Snapshot, error)
	Delete(ctx context.Context, id string) error
	// Touch extends the expiry of id to ttl and returns its stored revision.
	Touch(ctx context.Context, id string, ttl time.Duration) (int64, error)
	// Lock claims id for one mutation across every instance sharing the
	// store. It fails with ErrSessionBusy while another holder has it.
	Lock(ctx context.Context, id string, ttl time.Duration) (unlock func(), err error)
}

// SessionStore maps import ids to live sessions. It holds no lock while an
// operation runs on a session; sessions lock themselves.
//
// With a SnapshotStore the snapshot is authoritative. The in-memory session
// is a cache that is rebuilt whenever the stored revision is newer, and
// mutations hold the store's lock so that only one instance changes a
// session at a time.
type SessionStore struct {
	schema    *Schema
	snapshots SnapshotStore
	ttl       time.Duration
	lockTTL   time.Duration
	workers   int

	mu       sync.RWMutex
	sessions map[string]*Session

	loads singleflight.Group
}

// StoreOptions configures a SessionStore.
type StoreOptions struct {
	// Snapshots is optional. Without it sessions live only in memory.
	Snapshots SnapshotStore
	// TTL is the idle time after which a session expires.
	TTL time.Duration
	// LockTTL bounds how long a mutation may hold the snapshot lock.
	LockTTL time.Duration
	// Workers bounds parallel revalidation.
	Workers int
}

// NewSessionStore creates an empty store.
func NewSessionStore(schema *Schema, opts StoreOptions) *SessionStore {
	if opts.TTL <= 0 {
		opts.TTL = DefaultSessionTTL
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &SessionStore{
		schema:    schema,
		snapshots: opts.Snapshots,
		ttl:       opts.TTL,
		lockTTL:   opts.LockTTL,
		workers:   opts.Workers,
		sessions:  make(map[string]*Session),
	}
}

const (
	// DefaultSessionTTL is the idle lifetime of a session.
	DefaultSessionTTL = 2 * time.Hour
	// DefaultLockTTL is how long a mutation may hold a session's snapshot lock.
	DefaultLockTTL = 15 * time.Minute
)

// Add registers a new session, persisting it first when durable storage is
// configured.
func (st *SessionStore) Add(ctx context.Context, s *Session) error {
	if st.snapshots != nil {
		snap := s.snapshot(s.records, s.mapping, s.revision, s.state)
		if err := st.snapshots.Save(ctx, snap, st.ttl); err != nil {
			return fmt.Errorf("save session snapshot: %w", err)
		}
	}

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return nil
}

// Get returns the session for id. With durable storage the session is
// rebuilt from its snapshot when it is not in memory or another instance has
// stored a newer revision, and the snapshot's expiry is extended.
func (st *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()

	if st.snapshots == nil {
		if !ok {
			return nil, ErrSessionNotFound
		}
		s.touch()
		return s, nil
	}

	if ok {
		rev, err := st.snapshots.Touch(ctx, id, st.ttl)
		switch {
		case errors.Is(err, ErrSessionNotFound):
			st.evict(s)
			return nil, ErrSessionNotFound
		case err != nil:
			return nil, fmt.Errorf("touch session %s: %w", id, err)
		case rev <= s.Revision():
			// A lower stored revision means a committed state failed to persist;
			// the local copy is the newer one.
			s.touch()
			return s, nil
		}
	}
	return st.load(ctx, id)
}

// load rebuilds the session from its snapshot unless the cached copy is
// already at least as new. Concurrent loads of one id share a single read.
func (st *SessionStore) load(ctx context.Context, id string) (*Session, error) {
	v, err, _ := st.loads.Do(id, func() (any, error) {
		snap, err := st.snapshots.Load(ctx, id)
		if err != nil {
			return nil, err
		}

		st.mu.RLock()
		cached, ok := st.sessions[id]
		st.mu.RUnlock()
		if ok && cached.Revision() >= snap.Revision {
			cached.touch()
			return cached, nil
		}

		restored := restoreSession(st.schema, snap, st.workers)
		st.mu.Lock()
		st.sessions[id] = restored
		st.mu.Unlock()
		slog.Debug("import session restored", "import_id", id, "rows", len(snap.Records), "revision", snap.Revision)
		return restored, nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			st.mu.Lock()
			delete(st.sessions, id)
			st.mu.Unlock()
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return v.(*Session), nil
}

// Acquire returns the session for id together with the durable lock that
// guards a mutation of it. The session is current as of the moment the lock
// was taken. release must be called once the mutation is done.
func (st *SessionStore) Acquire(ctx context.Context, id string) (s *Session, release func(), err error) {
	if st.snapshots == nil {
		s, err := st.Get(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}

	unlock, err := st.snapshots.Lock(ctx, id, st.lockTTL)
	if err != nil {
		if errors.Is(err, ErrSessionBusy) {
			return nil, nil, ErrSessionBusy
		}
		return nil, nil, fmt.Errorf("lock session %s: %w", id, err)
	}
	s, err = st.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return s, unlock, nil
}

// Remove drops a session from memory and durable storage.
func (st *SessionStore) Remove(ctx context.Context, id string) error {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()

	if st.snapshots != nil {
		if err := st.snapshots.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete session snapshot: %w", err)
		}
	}
	return nil
}

// evict drops s from memory if it is still the cached copy for its id.
func (st *SessionStore) evict(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.sessions[s.ID] == s {
		delete(st.sessions, s.ID)
	}
}

// persister returns a persistFunc bound to ctx, or nil without durable storage.
func (st *SessionStore) persister(ctx context.Context) persistFunc {
	if st.snapshots == nil {
		return nil
	}
	return func(snap *Snapshot) error {
		if err := st.snapshots.Save(ctx, snap, st.ttl); err != nil {
			return fmt.Errorf("save session snapshot: %w", err)
		}
		return nil
	}
}

// Len returns the number of sessions held in memory.
func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep expires sessions idle for longer than the TTL. Sessions with a
// mutation in flight, or touched after the sweep began, are skipped and
// reconsidered on the next sweep.
//
// With durable storage only the in-memory copy is dropped. The snapshot
// expires on its own TTL, which every access from any instance extends.
func (st *SessionStore) Sweep(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-st.ttl)

	st.mu.RLock()
	var idle []*Session
	for _, s := range st.sessions {
		if s.LastActivity().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	st.mu.RUnlock()

	expired := 0
	for _, s := range idle {
		if !s.tryExpire(cutoff) {
			continue
		}
		st.evict(s)
		expired++
	}
	return expired
}
