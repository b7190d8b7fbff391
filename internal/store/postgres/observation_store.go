package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
)

// querier is the subset of pgxpool.Pool used by the stores.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ObservationStore implements domain.ObservationStore and doubles as a
// monitor sink.
type ObservationStore struct {
	db querier
}

var (
	_ domain.ObservationStore = (*ObservationStore)(nil)
	_ domain.ObservationSink  = (*ObservationStore)(nil)
)

// NewObservationStore creates an ObservationStore backed by the given pool.
func NewObservationStore(db querier) *ObservationStore {
	return &ObservationStore{db: db}
}

const observationSelectCols = `id::text, observed_at,
	kalshi_a_yes, kalshi_a_no, kalshi_b_yes, kalshi_b_no,
	polymarket_a_yes, polymarket_a_no, polymarket_b_yes, polymarket_b_no,
	no_spread_return_pct, yes_no_spread_return_pct`

const insertObservationSQL = `
	INSERT INTO observations (
		id, observed_at,
		kalshi_a_yes, kalshi_a_no, kalshi_b_yes, kalshi_b_no,
		polymarket_a_yes, polymarket_a_no, polymarket_b_yes, polymarket_b_no,
		no_spread_return_pct, yes_no_spread_return_pct
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO NOTHING`

// Insert writes one observation. Re-inserting the same ID is a no-op.
func (s *ObservationStore) Insert(ctx context.Context, obs domain.Observation) error {
	_, err := s.db.Exec(ctx, insertObservationSQL, insertArgs(obs)...)
	if err != nil {
		return fmt.Errorf("postgres: insert observation %s: %w", obs.ID, err)
	}
	return nil
}

func insertArgs(obs domain.Observation) []any {
	return []any{
		obs.ID, obs.Timestamp,
		obs.Kalshi.AYes, obs.Kalshi.ANo, obs.Kalshi.BYes, obs.Kalshi.BNo,
		obs.Polymarket.AYes, obs.Polymarket.ANo, obs.Polymarket.BYes, obs.Polymarket.BNo,
		obs.NoSpreadReturnPct, obs.YesNoSpreadReturnPct,
	}
}

// ListRecent returns up to limit observations, newest first. A non-positive
// limit returns all rows.
func (s *ObservationStore) ListRecent(ctx context.Context, limit int) ([]domain.Observation, error) {
	query := `SELECT ` + observationSelectCols + ` FROM observations ORDER BY observed_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent observations: %w", err)
	}
	return scanObservations(rows)
}

// ListSince returns observations at or after since, oldest first.
func (s *ObservationStore) ListSince(ctx context.Context, since time.Time) ([]domain.Observation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+observationSelectCols+` FROM observations WHERE observed_at >= $1 ORDER BY observed_at ASC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list observations since %s: %w", since.Format(time.RFC3339), err)
	}
	return scanObservations(rows)
}

func scanObservations(rows pgx.Rows) ([]domain.Observation, error) {
	defer rows.Close()

	var out []domain.Observation
	for rows.Next() {
		var o domain.Observation
		if err := rows.Scan(
			&o.ID, &o.Timestamp,
			&o.Kalshi.AYes, &o.Kalshi.ANo, &o.Kalshi.BYes, &o.Kalshi.BNo,
			&o.Polymarket.AYes, &o.Polymarket.ANo, &o.Polymarket.BYes, &o.Polymarket.BNo,
			&o.NoSpreadReturnPct, &o.YesNoSpreadReturnPct,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan observation: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: observation rows: %w", err)
	}
	return out, nil
}

// Name identifies the store in sink logs.
func (s *ObservationStore) Name() string { return "postgres" }

// Publish mirrors the observation into the observations table.
func (s *ObservationStore) Publish(ctx context.Context, obs domain.Observation) error {
	return s.Insert(ctx, obs)
}
