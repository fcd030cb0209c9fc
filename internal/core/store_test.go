package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSnapshots is a SnapshotStore that round-trips through JSON.
type memSnapshots struct {
	mu      sync.Mutex
	data    map[string][]byte
	revs    map[string]int64
	locks   map[string]bool
	touches map[string]int
	loads   atomic.Int32
	fail    error
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{
		data:    map[string][]byte{},
		revs:    map[string]int64{},
		locks:   map[string]bool{},
		touches: map[string]int{},
	}
}

func (m *memSnapshots) Save(_ context.Context, snap *Snapshot, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	m.data[snap.ID] = b
	m.revs[snap.ID] = snap.Revision
	return nil
}

func (m *memSnapshots) Load(_ context.Context, id string) (*Snapshot, error) {
	m.loads.Add(1)
	m.mu.Lock()
	b, ok := m.data[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (m *memSnapshots) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	delete(m.revs, id)
	return nil
}

func (m *memSnapshots) Touch(_ context.Context, id string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rev, ok := m.revs[id]
	if !ok {
		return 0, ErrSessionNotFound
	}
	m.touches[id]++
	return rev, nil
}

func (m *memSnapshots) Lock(_ context.Context, id string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[id] {
		return nil, ErrSessionBusy
	}
	m.locks[id] = true
	return func() {
		m.mu.Lock()
		delete(m.locks, id)
		m.mu.Unlock()
	}, nil
}

func (m *memSnapshots) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[id]
	return ok
}

func TestSessionStore_InMemory(t *testing.T) {
	ctx := context.Background()
	st := NewSessionStore(CatalogItemSchema(), StoreOptions{})
	s := stageSession(t, sessionCSV)

	require.NoError(t, st.Add(ctx, s))
	got, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, 1, st.Len())

	require.NoError(t, st.Remove(ctx, s.ID))
	_, err = st.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStore_RestoresFromSnapshot(t *testing.T) {
	ctx := context.Background()
	snaps := newMemSnapshots()
	schema := CatalogItemSchema()

	first := NewSessionStore(schema, StoreOptions{Snapshots: snaps})
	s := stageSession(t, sessionCSV)
	require.NoError(t, first.Add(ctx, s))
	_, err := s.Remap(Mapping{KeyTitle, KeyPrice, "", ""}, 1, first.persister(ctx))
	require.NoError(t, err)

	// A second instance sharing the snapshot store sees the remapped session.
	second := NewSessionStore(schema, StoreOptions{Snapshots: snaps})
	var wg sync.WaitGroup
	results := make([]*Session, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := second.Get(ctx, s.ID)
			assert.NoError(t, err)
			results[i] = r
		}()
	}
	wg.Wait()

	restored := results[0]
	require.NotNil(t, restored)
	for _, r := range results {
		assert.Same(t, restored, r)
	}
	assert.Equal(t, s.Mapping(), restored.Mapping())
	assert.Equal(t, s.Stats(), restored.Stats())
	assert.Equal(t, int64(1), restored.Summary().Revision)
}

func TestSessionStore_AddFailsWhenSnapshotFails(t *testing.T) {
	snaps := newMemSnapshots()
	snaps.fail = errors.New("connection refused")
	st := NewSessionStore(CatalogItemSchema(), StoreOptions{Snapshots: snaps})

	err := st.Add(context.Background(), stageSession(t, sessionCSV))
	require.Error(t, err)
	assert.Zero(t, st.Len())
}

func TestSessionStore_CommittedStateSurvivesRestore(t *testing.T) {
	ctx := context.Background()
	snaps := newMemSnapshots()
	schema := CatalogItemSchema()
	first := NewSessionStore(schema, StoreOptions{Snapshots: snaps})

	s := stageSession(t, "Title,Price\nDune,9.99\n")
	require.NoError(t, first.Add(ctx, s))
	engine := NewCommitEngine(schema, newFakeCatalog(), nil)
	_, err := engine.Commit(ctx, s, CommitOptions{Mode: ModeCreate}, first.persister(ctx))
	require.NoError(t, err)

	second := NewSessionStore(schema, StoreOptions{Snapshots: snaps})
	restored, err := second.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, restored.State())

	_, err = engine.Commit(ctx, restored, CommitOptions{Mode: ModeCreate}, second.persister(ctx))
	assert.ErrorIs(t, err, ErrAlreadyCommitted)
}

func TestSessionStore_Sweep(t *testing.T) {
	ctx := context.Background()
	st := NewSessionStore(CatalogItemSchema(), StoreOptions{TTL: time.Minute})

	idle := stageSession(t, sessionCSV)
	busy := stageSession(t, sessionCSV)
	busy.ID = "imp-busy"
	require.NoError(t, st.Add(ctx, idle))
	require.NoError(t, st.Add(ctx, busy))

	release, err := busy.beginMutation()
	require.NoError(t, err)

	expired := st.Sweep(ctx, time.Now().Add(2*time.Minute))
	assert.Equal(t, 1, expired)
	assert.Equal(t, 1, st.Len())

	_, err = st.Get(ctx, idle.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = idle.Remap(Mapping{KeyTitle, KeyPrice, "", ""}, 1, nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	release()
	assert.Equal(t, 1, st.Sweep(ctx, time.Now().Add(2*time.Minute)))
	assert.Zero(t, st.Len())
}

func TestSessionStore_SweepSkipsRecentlyRead(t *testing.T) {
	ctx := context.Background()
	st := NewSessionStore(CatalogItemSchema(), StoreOptions{TTL: time.Minute})
	s := stageSession(t, sessionCSV)
	require.NoError(t, st.Add(ctx, s))

	// The session was read after the sweep's cutoff.
	assert.Zero(t, st.Sweep(ctx, time.Now().Add(30*time.Second)))
	assert.Equal(t, 1, st.Len())
}

func TestSessionStore_SweepKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	snaps := newMemSnapshots()
	st := NewSessionStore(CatalogItemSchema(), StoreOptions{Snapshots: snaps, TTL: time.Minute})

	s := stageSession(t, sessionCSV)
	require.NoError(t, st.Add(ctx, s))
	assert.Equal(t, 1, st.Sweep(ctx, time.Now().Add(2*time.Minute)))
	assert.Zero(t, st.Len())

	// The snapshot expires on its own TTL, so another instance may still be
	// serving the session.
	assert.True(t, snaps.has(s.ID))
	restored, err := st.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.NotSame(t, s, restored)
}

func TestSessionStore_GetExtendsSnapshotExpiry(t *testing.T) {
	ctx := context.Background()
	snaps := newMemSnapshots()
	st := NewSessionStore(CatalogItemSchema(), StoreOptions{Snapshots: snaps})
	s := stageSession(t, sessionCSV)
	require.NoError(t, st.Add(ctx, s))

	for range 3 {
		_, err := st.Get(ctx, s.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, snaps.touches[s.ID])
	assert.Zero(t, snaps.loads.Load())
}

func TestSessionStore_GetReloadsNewerRevision(t *testing.T) {
	ctx := context.Background()
	snaps := newMemSnapshots()
	schema := CatalogItemSchema()
	first := NewSessionStore(schema, StoreOptions{Snapshots: snaps})
	second := NewSessionStore(schema, StoreOptions{Snapshots: snaps})

	s := stageSession(t, sessionCSV)
	require.NoError(t, first.Add(ctx, s))
	other, err := second.Get(ctx, s.ID)
	require.NoError(t, err)

	_, _, err = s.EditRow(2, map[string]string{KeyTitle: "Emma", KeyPrice: "4.50"}, first.persister(ctx))
	require.NoError(t, err)

	got, err := second.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.NotSame(t, other, got)
	assert.Equal(t, int64(1), got.Revision())
	assert.Equal(t, s.Stats(), got.Stats())
}

func TestSessionStore_GetDropsSessionDeletedElsewhere(t *testing.T) {
	ctx := context.Background()
	snaps := newMemSnapshots()
	st := NewSessionStore(CatalogItemSchema(), StoreOptions{Snapshots: snaps})
	s := stageSession(t, sessionCSV)
	require.NoError(t, st.Add(ctx, s))

	require.NoError(t, snaps.Delete(ctx, s.ID))
	_, err := st.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Zero(t, st.Len())
}

func TestSessionStore_AcquireHoldsLock(t *testing.T) {
	ctx := context.Background()
	snaps := newMemSnapshots()
	st := NewSessionStore(CatalogItemSchema(), StoreOptions{Snapshots: snaps})
	s := stageSession(t, sessionCSV)
	require.NoError(t, st.Add(ctx, s))

	got, release, err := st.Acquire(ctx, s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, _, err = st.Acquire(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionBusy)

	release()
	_, release, err = st.Acquire(ctx, s.ID)
	require.NoError(t, err)
	release()

	_, _, err = st.Acquire(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Empty(t, snaps.locks)
}
