package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rvconform/internal/check"
	"github.com/roach88/rvconform/internal/signal"
	"github.com/roach88/rvconform/internal/testutil"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(id, batch, scenario string) Run {
	return Run{
		ID:        id,
		Batch:     batch,
		Scenario:  scenario,
		Model:     "pipereg",
		Seed:      ^uint64(0) - 1,
		Pass:      false,
		Invariant: "no-loss",
		FirstEdge: 7,
		Edges:     20,
		Timeout:   true,
		Digest:    "abc123",
		Sent: []signal.Transfer{
			{Index: 0, Value: 0xA5, Edge: 5},
			{Index: 1, Value: ^uint64(0), Edge: 7},
		},
		Received: []signal.Transfer{
			{Index: 0, Value: 0xA5, Edge: 6},
		},
		Violations: []check.Violation{
			{Kind: check.KindLoss, Invariant: "no-loss", Edge: 7, Message: "value lost"},
		},
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"foreign_keys", "1"},
		{"busy_timeout", "5000"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		if err := s.verifyPragma(tt.name, tt.expected); err != nil {
			t.Error(err)
		}
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	s.Close()

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestWriteRun_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	want := sampleRun("run-1", "batch-1", "backpressure")

	seq, err := s.WriteRun(ctx, want)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	got, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	want.Seq = seq
	assert.Equal(t, want, got)
}

func TestWriteRun_EmptyChildren(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	r := Run{ID: "r", Batch: "b", Scenario: "basic_flow", Model: "pipereg", Pass: true, Edges: 10, Digest: "d"}

	_, err := s.WriteRun(ctx, r)
	require.NoError(t, err)

	got, err := s.ReadRun(ctx, "r")
	require.NoError(t, err)
	assert.True(t, got.Pass)
	assert.NotNil(t, got.Sent, "empty slice, not nil")
	assert.Empty(t, got.Sent)
	assert.Empty(t, got.Violations)
}

func TestWriteRun_DuplicateIDIsAtomic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.WriteRun(ctx, sampleRun("dup", "b", "x"))
	require.NoError(t, err)

	_, err = s.WriteRun(ctx, sampleRun("dup", "b", "y"))
	require.Error(t, err)

	got, err := s.ReadRun(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, "x", got.Scenario)
	assert.Len(t, got.Sent, 2, "failed write left no partial rows")
}

func TestReadRun_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadRun(context.Background(), "missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestListRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ids := testutil.NewSequenceIDGenerator("run")

	for _, sc := range []string{"basic_flow", "stress", "basic_flow"} {
		_, err := s.WriteRun(ctx, sampleRun(ids.Generate(), "batch-1", sc))
		require.NoError(t, err)
	}
	_, err := s.WriteRun(ctx, sampleRun(ids.Generate(), "batch-2", "stress"))
	require.NoError(t, err)

	all, err := s.ListRuns(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "run-4", all[0].ID, "most recent first")
	assert.Nil(t, all[0].Sent, "summaries carry no transfers")

	flows, err := s.ListRuns(ctx, ListFilter{Scenario: "basic_flow"})
	require.NoError(t, err)
	assert.Len(t, flows, 2)

	batch, err := s.ListRuns(ctx, ListFilter{Batch: "batch-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "run-3", batch[0].ID)

	none, err := s.ListRuns(ctx, ListFilter{Scenario: "nope"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestUUIDv7Generator(t *testing.T) {
	var gen IDGenerator = UUIDv7Generator{}
	a, b := gen.Generate(), gen.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
	assert.Equal(t, byte('7'), a[14], "version nibble")
}
