package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/rvconform/internal/check"
	"github.com/roach88/rvconform/internal/signal"
)

// Run is the persisted outcome of one scenario execution.
type Run struct {
	Seq        int64
	ID         string
	Batch      string
	Scenario   string
	Model      string
	Seed       uint64
	Pass       bool
	Invariant  string
	FirstEdge  int64
	Edges      int64
	Timeout    bool
	Digest     string
	Sent       []signal.Transfer
	Received   []signal.Transfer
	Violations []check.Violation
}

// WriteRun inserts a run with its violations and transfers in one
// transaction. Writing a run whose ID already exists is an error.
// The assigned seq is returned.
func (s *Store) WriteRun(ctx context.Context, r Run) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, batch, scenario, model, seed, pass, invariant, first_edge, edges, timeout, digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		r.Batch,
		r.Scenario,
		r.Model,
		int64(r.Seed),
		r.Pass,
		r.Invariant,
		r.FirstEdge,
		r.Edges,
		r.Timeout,
		r.Digest,
	)
	if err != nil {
		return 0, fmt.Errorf("write run: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("write run: seq: %w", err)
	}

	for i, v := range r.Violations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO violations (run_id, ordinal, kind, invariant, edge, message)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.ID, i, string(v.Kind), v.Invariant, v.Edge, v.Message)
		if err != nil {
			return 0, fmt.Errorf("write run: violation %d: %w", i, err)
		}
	}

	if err := writeTransfers(ctx, tx, r.ID, "in", r.Sent); err != nil {
		return 0, err
	}
	if err := writeTransfers(ctx, tx, r.ID, "out", r.Received); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write run: commit: %w", err)
	}
	return seq, nil
}

// writeTransfers stores one boundary's transfers. Payloads are stored as
// the int64 with the same bits, since SQLite integers are signed.
func writeTransfers(ctx context.Context, tx *sql.Tx, runID, boundary string, ts []signal.Transfer) error {
	for _, t := range ts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transfers (run_id, boundary, idx, value, edge)
			VALUES (?, ?, ?, ?, ?)
		`, runID, boundary, t.Index, int64(t.Value), t.Edge)
		if err != nil {
			return fmt.Errorf("write run: %s transfer %d: %w", boundary, t.Index, err)
		}
	}
	return nil
}
