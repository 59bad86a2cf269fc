// internal/store/sqlite_test.go
package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/layout-breaker/internal/mutation"
)

func openTempSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "manifest.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTempSQLite(t)

	first := sampleRecord()
	second := sampleRecord()
	second.ID = "rec-2"
	second.Manipulation = mutation.KindUntouched
	second.Captures = nil
	second.Error = "context deadline exceeded"
	second.StartedAt = first.StartedAt.Add(time.Second)
	other := sampleRecord()
	other.ID = "rec-3"
	other.ExecutionID = "10-18-ffffff"

	for _, rec := range []Record{second, first, other} {
		require.NoError(t, s.Save(ctx, rec))
	}

	records, err := s.ByExecution(ctx, first.ExecutionID)
	require.NoError(t, err)
	if diff := cmp.Diff([]Record{first, second}, records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	none, err := s.ByExecution(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteDuplicateIsRolledBack(t *testing.T) {
	ctx := context.Background()
	s := openTempSQLite(t)

	rec := sampleRecord()
	rec.Captures = append(rec.Captures, Capture{Index: 0, Path: "dup.png"})
	require.Error(t, s.Save(ctx, rec), "duplicate capture index violates the primary key")

	records, err := s.ByExecution(ctx, rec.ExecutionID)
	require.NoError(t, err)
	assert.Empty(t, records, "the record insert was rolled back with the capture")
}

func TestSQLiteConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	s := openTempSQLite(t)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := sampleRecord()
			rec.ID = rec.ID + "-" + string(rune('a'+i))
			assert.NoError(t, s.Save(ctx, rec))
		}()
	}
	wg.Wait()

	records, err := s.ByExecution(ctx, sampleRecord().ExecutionID)
	require.NoError(t, err)
	assert.Len(t, records, 8)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("empty url discards", func(t *testing.T) {
		s, err := Open(ctx, "", zap.NewNop())
		require.NoError(t, err)
		assert.IsType(t, Discard{}, s)
		assert.NoError(t, s.Save(ctx, sampleRecord()))
		records, err := s.ByExecution(ctx, "x")
		assert.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("sqlite scheme", func(t *testing.T) {
		s, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "m.sqlite"), zap.NewNop())
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &SQLite{}, s)
	})

	t.Run("db suffix", func(t *testing.T) {
		s, err := Open(ctx, filepath.Join(t.TempDir(), "m.db"), zap.NewNop())
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &SQLite{}, s)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := Open(ctx, "mysql://localhost/db", zap.NewNop())
		assert.Error(t, err)
	})
}

func TestRecordIndices(t *testing.T) {
	assert.Equal(t, []int{0, 3}, sampleRecord().Indices())
	assert.Empty(t, Record{}.Indices())
}
