package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/rvconform/internal/check"
	"github.com/roach88/rvconform/internal/signal"
)

const runColumns = `seq, id, batch, scenario, model, seed, pass, invariant, first_edge, edges, timeout, digest`

// ReadRun retrieves a run with its violations and transfers.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		return Run{}, err
	}

	if r.Violations, err = s.readViolations(ctx, id); err != nil {
		return Run{}, err
	}
	if r.Sent, err = s.readTransfers(ctx, id, "in"); err != nil {
		return Run{}, err
	}
	if r.Received, err = s.readTransfers(ctx, id, "out"); err != nil {
		return Run{}, err
	}
	return r, nil
}

// ListFilter narrows ListRuns.
type ListFilter struct {
	// Scenario restricts to one scenario name when non-empty.
	Scenario string
	// Batch restricts to one batch when non-empty.
	Batch string
	// Limit caps the number of runs returned (most recent first); 0 means
	// no limit.
	Limit int
}

// ListRuns returns run summaries without violations or transfers, most
// recent first. Returns an empty slice (not nil) when nothing matches.
func (s *Store) ListRuns(ctx context.Context, f ListFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1 = 1`
	var args []any
	if f.Scenario != "" {
		query += ` AND scenario = ?`
		args = append(args, f.Scenario)
	}
	if f.Batch != "" {
		query += ` AND batch = ?`
		args = append(args, f.Batch)
	}
	query += ` ORDER BY seq DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var seed int64
	err := sc.Scan(&r.Seq, &r.ID, &r.Batch, &r.Scenario, &r.Model, &seed,
		&r.Pass, &r.Invariant, &r.FirstEdge, &r.Edges, &r.Timeout, &r.Digest)
	if err == sql.ErrNoRows {
		return Run{}, err
	}
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.Seed = uint64(seed)
	return r, nil
}

func (s *Store) readViolations(ctx context.Context, runID string) ([]check.Violation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, invariant, edge, message
		FROM violations
		WHERE run_id = ?
		ORDER BY ordinal ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	vs := []check.Violation{}
	for rows.Next() {
		var v check.Violation
		var kind string
		if err := rows.Scan(&kind, &v.Invariant, &v.Edge, &v.Message); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		v.Kind = check.Kind(kind)
		vs = append(vs, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violations: %w", err)
	}
	return vs, nil
}

func (s *Store) readTransfers(ctx context.Context, runID, boundary string) ([]signal.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, value, edge
		FROM transfers
		WHERE run_id = ? AND boundary = ?
		ORDER BY idx ASC
	`, runID, boundary)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	ts := []signal.Transfer{}
	for rows.Next() {
		var t signal.Transfer
		var value int64
		if err := rows.Scan(&t.Index, &value, &t.Edge); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		t.Value = uint64(value)
		ts = append(ts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return ts, nil
}
