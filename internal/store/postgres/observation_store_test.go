package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
)

type fakeRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.data[r.idx-1], nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		case *time.Time:
			*p = row[i].(time.Time)
		case *float64:
			*p = row[i].(float64)
		default:
			return errors.New("unexpected scan target")
		}
	}
	return nil
}

type fakeQuerier struct {
	execSQL   string
	execArgs  []any
	execErr   error
	querySQL  string
	queryArgs []any
	rows      *fakeRows
	queryErr  error
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.execSQL, q.execArgs = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), q.execErr
}

func (q *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.querySQL, q.queryArgs = sql, args
	if q.queryErr != nil {
		return nil, q.queryErr
	}
	return q.rows, nil
}

func sampleObservation() domain.Observation {
	return domain.Observation{
		ID:         "5f0c3c1e-8a38-4a5c-9d43-0d1f6f0b9a11",
		Timestamp:  time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC),
		Kalshi:     domain.QuotePair{AYes: 0.52, ANo: 0.48, BYes: 0.49, BNo: 0.51},
		Polymarket: domain.QuotePair{AYes: 0.51, ANo: 0.49, BYes: 0.48, BNo: 0.52},
		Spreads:    domain.Spreads{NoSpreadReturnPct: 3.09, YesNoSpreadReturnPct: 1.01},
	}
}

func rowOf(o domain.Observation) []any {
	return []any{
		o.ID, o.Timestamp,
		o.Kalshi.AYes, o.Kalshi.ANo, o.Kalshi.BYes, o.Kalshi.BNo,
		o.Polymarket.AYes, o.Polymarket.ANo, o.Polymarket.BYes, o.Polymarket.BNo,
		o.NoSpreadReturnPct, o.YesNoSpreadReturnPct,
	}
}

func TestObservationStore_InsertArgsOrder(t *testing.T) {
	q := &fakeQuerier{}
	s := NewObservationStore(q)
	obs := sampleObservation()

	require.NoError(t, s.Insert(context.Background(), obs))
	assert.Contains(t, q.execSQL, "INSERT INTO observations")
	assert.Contains(t, q.execSQL, "ON CONFLICT (id) DO NOTHING")
	require.Len(t, q.execArgs, 12)
	assert.Equal(t, obs.ID, q.execArgs[0])
	assert.Equal(t, obs.Timestamp, q.execArgs[1])
	assert.Equal(t, 0.48, q.execArgs[3])
	assert.Equal(t, 0.49, q.execArgs[7])
	assert.Equal(t, 3.09, q.execArgs[10])
	assert.Equal(t, 1.01, q.execArgs[11])
}

func TestObservationStore_InsertErrorWrapped(t *testing.T) {
	boom := errors.New("connection reset")
	s := NewObservationStore(&fakeQuerier{execErr: boom})

	err := s.Publish(context.Background(), sampleObservation())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "postgres: insert observation")
	assert.Equal(t, "postgres", s.Name())
}

func TestObservationStore_ListRecent(t *testing.T) {
	obs := sampleObservation()
	rows := &fakeRows{data: [][]any{rowOf(obs), rowOf(obs)}}
	q := &fakeQuerier{rows: rows}
	s := NewObservationStore(q)

	got, err := s.ListRecent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, obs, got[0])
	assert.True(t, rows.closed)
	assert.True(t, strings.HasSuffix(q.querySQL, "LIMIT $1"))
	assert.Equal(t, []any{2}, q.queryArgs)
}

func TestObservationStore_ListRecentUnlimited(t *testing.T) {
	q := &fakeQuerier{rows: &fakeRows{}}
	s := NewObservationStore(q)

	got, err := s.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotContains(t, q.querySQL, "LIMIT")
	assert.Empty(t, q.queryArgs)
}

func TestObservationStore_ListSinceRowsError(t *testing.T) {
	boom := errors.New("stream aborted")
	q := &fakeQuerier{rows: &fakeRows{err: boom}}
	s := NewObservationStore(q)

	since := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.ListSince(context.Background(), since)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, q.querySQL, "observed_at >= $1")
	assert.Equal(t, []any{since}, q.queryArgs)
}

func TestObservationStore_QueryError(t *testing.T) {
	boom := errors.New("no route")
	s := NewObservationStore(&fakeQuerier{queryErr: boom})

	_, err := s.ListRecent(context.Background(), 5)
	require.ErrorIs(t, err, boom)
}

func TestDSN(t *testing.T) {
	t.Run("explicit dsn wins", func(t *testing.T) {
		dsn := "postgres://u:p@db:5433/x?sslmode=require"
		assert.Equal(t, dsn, DSN(ClientConfig{DSN: dsn, Host: "ignored"}))
	})

	t.Run("built from fields with defaults", func(t *testing.T) {
		got := DSN(ClientConfig{Host: "db", Database: "arb", User: "mon", Password: "p@ss"})
		assert.Equal(t, "postgres://mon:p%40ss@db:5432/arb?application_name=arbmonitor&sslmode=disable", got)
	})

	t.Run("custom port and ssl", func(t *testing.T) {
		got := DSN(ClientConfig{Host: "db", Port: 6432, Database: "arb", User: "mon", SSLMode: "verify-full"})
		assert.Contains(t, got, "@db:6432/arb")
		assert.Contains(t, got, "sslmode=verify-full")
	})
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/002_b.sql":  {Data: []byte("SELECT 2;")},
		"m/001_a.sql":  {Data: []byte("SELECT 1;")},
		"m/README.txt": {Data: []byte("skip")},
	}

	got, err := loadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "001_a.sql", got[0].name)
	assert.Equal(t, "SELECT 1;", got[0].sql)
	assert.Equal(t, "002_b.sql", got[1].name)
}

func TestEmbeddedMigrationsCreateObservations(t *testing.T) {
	got, err := loadMigrations(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Contains(t, got[0].sql, "CREATE TABLE IF NOT EXISTS observations")
}
