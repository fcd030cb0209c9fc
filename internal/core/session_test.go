package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionCSV = `Title,Price,Qty,Warehouse
Dune,9.99,2,A
,4.50,1,B
Emma,abc,1,C
Ulysses,12.00,,D
`

func TestSession_Stage(t *testing.T) {
	s := stageSession(t, sessionCSV)

	assert.Equal(t, Mapping{KeyTitle, KeyPrice, KeyQuantity, ""}, s.Mapping())
	assert.Equal(t, ImportStats{TotalRows: 4, ValidRows: 2, InvalidRows: 2}, s.Stats())
	assert.Equal(t, StateOpen, s.State())
}

func TestSession_ListRows(t *testing.T) {
	s := stageSession(t, sessionCSV)

	t.Run("pagination", func(t *testing.T) {
		p := s.ListRows(2, 3, FilterAll)
		assert.Equal(t, 4, p.TotalRows)
		assert.Equal(t, 2, p.TotalPages)
		require.Len(t, p.Rows, 1)
		assert.Equal(t, 4, p.Rows[0].Index)
	})

	t.Run("filter before paginate", func(t *testing.T) {
		p := s.ListRows(1, 10, FilterInvalid)
		assert.Equal(t, 2, p.TotalRows)
		require.Len(t, p.Rows, 2)
		assert.Equal(t, 2, p.Rows[0].Index)
		assert.Equal(t, 3, p.Rows[1].Index)
	})

	t.Run("page past end is empty", func(t *testing.T) {
		p := s.ListRows(9, 10, FilterValid)
		assert.Empty(t, p.Rows)
		assert.Equal(t, 2, p.TotalRows)
	})
}

func TestSession_Remap(t *testing.T) {
	s := stageSession(t, sessionCSV)

	t.Run("revalidates every row", func(t *testing.T) {
		next := Mapping{KeyTitle, KeyPrice, "", ""}
		stats, err := s.Remap(next, 2, nil)
		require.NoError(t, err)

		assert.Equal(t, ImportStats{TotalRows: 4, ValidRows: 2, InvalidRows: 2}, stats)
		assert.Equal(t, next, s.Mapping())
		assert.Equal(t, int64(1), s.Summary().Revision)

		// Every row equals a fresh validation under the new mapping.
		v := s.view()
		for i, rec := range v.records {
			assert.True(t, Validate(s.schema, next, rec).Equal(v.rows[i]), "row %d", rec.Index)
		}
	})

	t.Run("rejected mapping leaves state untouched", func(t *testing.T) {
		before := s.Summary()
		_, err := s.Remap(Mapping{KeyTitle, KeyTitle, "", ""}, 2, nil)
		require.ErrorIs(t, err, ErrMappingConflict)
		assert.Equal(t, before, s.Summary())
	})

	t.Run("persist failure aborts", func(t *testing.T) {
		before := s.Summary()
		boom := errors.New("redis down")
		_, err := s.Remap(Mapping{"", KeyPrice, "", ""}, 2, func(*Snapshot) error { return boom })
		require.ErrorIs(t, err, boom)
		assert.Equal(t, before, s.Summary())
	})
}

func TestSession_RemapLargeParallel(t *testing.T) {
	var b []byte
	b = append(b, "Title,Price\n"...)
	for i := range 2000 {
		if i%3 == 0 {
			b = append(b, ",1\n"...)
		} else {
			b = append(b, "Book,2\n"...)
		}
	}
	s := stageSession(t, string(b))
	stats, err := s.Remap(Mapping{"", KeyPrice}, 4, nil)
	require.NoError(t, err)
	assert.Equal(t, 2000, stats.InvalidRows)

	stats, err = s.Remap(Mapping{KeyTitle, KeyPrice}, 4, nil)
	require.NoError(t, err)
	assert.Equal(t, 667, stats.InvalidRows)
	assert.Equal(t, 1333, stats.ValidRows)

	v := s.view()
	for i := range v.rows {
		assert.Equal(t, v.records[i].Index, v.rows[i].Index)
	}
}

func TestSession_EditRow(t *testing.T) {
	t.Run("fixes an invalid row and adjusts stats", func(t *testing.T) {
		s := stageSession(t, sessionCSV)

		row, stats, err := s.EditRow(3, map[string]string{KeyTitle: "Emma", KeyPrice: "7.25", KeyQuantity: "1"}, nil)
		require.NoError(t, err)
		assert.True(t, row.Valid)
		assert.Equal(t, ImportStats{TotalRows: 4, ValidRows: 3, InvalidRows: 1}, stats)
		assert.Equal(t, stats, s.Stats())

		got, err := s.Row(3)
		require.NoError(t, err)
		assert.True(t, got.Equal(row))
	})

	t.Run("omitted mapped fields are cleared", func(t *testing.T) {
		s := stageSession(t, sessionCSV)

		row, stats, err := s.EditRow(1, map[string]string{KeyPrice: "9.99"}, nil)
		require.NoError(t, err)
		assert.False(t, row.Valid)
		require.Len(t, row.Errors, 1)
		assert.Equal(t, CodeRequired, row.Errors[0].Code)
		assert.True(t, row.Values[KeyQuantity].Defaulted)
		assert.Equal(t, 1, stats.ValidRows)
	})

	t.Run("unmapped column cells kept", func(t *testing.T) {
		s := stageSession(t, sessionCSV)
		_, _, err := s.EditRow(2, map[string]string{KeyTitle: "Persuasion", KeyPrice: "4.50"}, nil)
		require.NoError(t, err)
		v := s.view()
		assert.Equal(t, []string{"Persuasion", "4.50", "", "B"}, v.records[1].Cells)
	})

	t.Run("rejects fields outside the mapping", func(t *testing.T) {
		s := stageSession(t, sessionCSV)
		before := s.Summary()

		_, _, err := s.EditRow(1, map[string]string{KeyAuthor: "Herbert"}, nil)
		assert.ErrorIs(t, err, ErrFieldNotMapped)
		_, _, err = s.EditRow(1, map[string]string{"publisher": "Ace"}, nil)
		assert.ErrorIs(t, err, ErrUnknownField)
		_, _, err = s.EditRow(1, map[string]string{KeyID: "x"}, nil)
		assert.ErrorIs(t, err, ErrReservedField)

		assert.Equal(t, before, s.Summary())
	})

	t.Run("unknown row", func(t *testing.T) {
		s := stageSession(t, sessionCSV)
		_, _, err := s.EditRow(99, map[string]string{}, nil)
		assert.ErrorIs(t, err, ErrRowNotFound)
		_, err = s.Row(0)
		assert.ErrorIs(t, err, ErrRowNotFound)
	})
}

func TestSession_StatsConsistency(t *testing.T) {
	s := stageSession(t, sessionCSV)

	check := func() {
		t.Helper()
		st := s.Stats()
		all := s.ListRows(1, 100, FilterAll)
		valid := s.ListRows(1, 100, FilterValid)
		invalid := s.ListRows(1, 100, FilterInvalid)
		assert.Equal(t, st.TotalRows, all.TotalRows)
		assert.Equal(t, st.ValidRows, valid.TotalRows)
		assert.Equal(t, st.InvalidRows, invalid.TotalRows)
		assert.Equal(t, st.TotalRows, st.ValidRows+st.InvalidRows)
	}

	check()
	_, _, err := s.EditRow(2, map[string]string{KeyTitle: "Sense", KeyPrice: "1", KeyQuantity: "1"}, nil)
	require.NoError(t, err)
	check()
	_, err = s.Remap(Mapping{KeyTitle, "", KeyQuantity, ""}, 1, nil)
	require.NoError(t, err)
	check()
	_, _, err = s.EditRow(4, map[string]string{KeyTitle: "", KeyQuantity: "x"}, nil)
	require.NoError(t, err)
	check()
}

func TestSession_Busy(t *testing.T) {
	s := stageSession(t, sessionCSV)

	release, err := s.beginMutation()
	require.NoError(t, err)

	_, err = s.Remap(Mapping{KeyTitle, KeyPrice, "", ""}, 1, nil)
	assert.ErrorIs(t, err, ErrSessionBusy)
	_, _, err = s.EditRow(1, map[string]string{KeyTitle: "x"}, nil)
	assert.ErrorIs(t, err, ErrSessionBusy)
	assert.False(t, s.tryExpire(time.Time{}))

	// Reads are not blocked by an in-flight mutation.
	assert.Equal(t, 4, s.ListRows(1, 10, FilterAll).TotalRows)

	release()
	_, err = s.Remap(Mapping{KeyTitle, KeyPrice, "", ""}, 1, nil)
	assert.NoError(t, err)
}

func TestSession_ConcurrentMutations(t *testing.T) {
	s := stageSession(t, sessionCSV)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := Mapping{KeyTitle, KeyPrice, "", ""}
			if i%2 == 0 {
				m = Mapping{KeyTitle, KeyPrice, KeyQuantity, ""}
			}
			_, err := s.Remap(m, 1, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	applied := 0
	for err := range errs {
		if err == nil {
			applied++
			continue
		}
		assert.ErrorIs(t, err, ErrSessionBusy)
	}
	assert.Equal(t, int64(applied), s.Summary().Revision)

	st := s.Stats()
	assert.Equal(t, st.TotalRows, st.ValidRows+st.InvalidRows)
}

func TestSession_ExpiredAndCommitted(t *testing.T) {
	s := stageSession(t, sessionCSV)
	require.True(t, s.tryExpire(time.Time{}))
	_, err := s.Remap(Mapping{KeyTitle, KeyPrice, "", ""}, 1, nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	s = stageSession(t, sessionCSV)
	s.markCommitted()
	_, err = s.Remap(Mapping{KeyTitle, KeyPrice, "", ""}, 1, nil)
	assert.ErrorIs(t, err, ErrAlreadyCommitted)
	_, _, err = s.EditRow(1, map[string]string{KeyTitle: "x"}, nil)
	assert.ErrorIs(t, err, ErrAlreadyCommitted)
}

func TestRestoreSession(t *testing.T) {
	s := stageSession(t, sessionCSV)
	_, _, err := s.EditRow(3, map[string]string{KeyTitle: "Emma", KeyPrice: "3", KeyQuantity: "1"}, nil)
	require.NoError(t, err)

	v := s.view()
	snap := s.snapshot(v.records, s.Mapping(), s.Summary().Revision, s.State())
	restored := restoreSession(CatalogItemSchema(), snap, 1)

	assert.Equal(t, s.Stats(), restored.Stats())
	assert.Equal(t, s.Mapping(), restored.Mapping())
	rv := restored.view()
	require.Len(t, rv.rows, len(v.rows))
	for i := range v.rows {
		assert.True(t, v.rows[i].Equal(rv.rows[i]), "row %d", v.rows[i].Index)
	}
}

func TestSession_EditRowKeepsLeadingEquals(t *testing.T) {
	s := stageSession(t, sessionCSV)

	row, _, err := s.EditRow(2, map[string]string{KeyTitle: "  =MC2 ", KeyPrice: "4.50"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "=MC2", row.Values[KeyTitle].Str)

	v := s.view()
	assert.Equal(t, "=MC2", v.records[1].Cells[0])
}

func TestSession_TryExpireSkipsRecentActivity(t *testing.T) {
	s := stageSession(t, sessionCSV)
	cutoff := time.Now().Add(-time.Minute)

	assert.False(t, s.tryExpire(cutoff))
	_, err := s.Remap(Mapping{KeyTitle, KeyPrice, "", ""}, 1, nil)
	assert.NoError(t, err)

	assert.True(t, s.tryExpire(time.Now().Add(time.Minute)))
}
