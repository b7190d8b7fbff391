package timeseries

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
)

func sampleObservation(i int) domain.Observation {
	return domain.Observation{
		Timestamp:  time.Date(2024, 10, 1, 12, 0, i, 123456000, time.Local),
		Kalshi:     domain.QuotePair{AYes: 0.52, ANo: 0.48, BYes: 0.49, BNo: 0.51},
		Polymarket: domain.QuotePair{AYes: 0.51, ANo: 0.49, BYes: 0.48, BNo: 0.52},
		Spreads:    domain.Spreads{NoSpreadReturnPct: 3.09, YesNoSpreadReturnPct: float64(i)},
	}
}

func TestOpenCreatesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbitrage_data.csv")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, headerLine, string(data))
	assert.Equal(t, 0, s.Len())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestAppendPreservesPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbitrage_data.csv")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	var prev []byte
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, sampleObservation(i)))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, prev), "append %d rewrote earlier bytes", i)
		assert.Equal(t, i+2, bytes.Count(data, []byte{'\n'}))
		prev = data
	}
	assert.Equal(t, 5, s.Len())
}

func TestRowFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(context.Background(), sampleObservation(7)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "2024-10-01 12:00:07.123456,0.52,0.48,0.49,0.51,0.51,0.49,0.48,0.52,3.09,7", lines[1])
}

func TestReadAllAndTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Append(ctx, sampleObservation(i)))
	}

	all, err := s.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, obs := range all {
		want := sampleObservation(i)
		assert.True(t, want.Timestamp.Equal(obs.Timestamp))
		assert.Equal(t, want.Kalshi, obs.Kalshi)
		assert.Equal(t, want.Polymarket, obs.Polymarket)
		assert.Equal(t, want.Spreads, obs.Spreads)
	}

	tail, err := s.Tail(2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, 2.0, tail[0].YesNoSpreadReturnPct)
	assert.Equal(t, 3.0, tail[1].YesNoSpreadReturnPct)

	tail, err = s.Tail(10)
	require.NoError(t, err)
	assert.Len(t, tail, 4)
}

func TestReopenContinuesAppending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, sampleObservation(0)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 1, s.Len())
	require.NoError(t, s.Append(ctx, sampleObservation(1)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "timestamp,"), "header written once")

	all, err := s.ReadAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestOpenTruncatesTornRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, sampleObservation(0)))
	require.NoError(t, s.Close())

	good, err := os.ReadFile(path)
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("2024-10-01 12:00:09.000000,0.5,0.")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, good, data)
	assert.Equal(t, 1, s.Len())
}

func TestOpenRejectsForeignHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b,c\n1,2,3\n"), 0o644))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestOpenRepairsPartialHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("timestamp,kalshi_ka"), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, headerLine, string(data))
}

func TestAppendAfterCloseFails(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "data.csv"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Append(context.Background(), sampleObservation(0))
	assert.ErrorIs(t, err, domain.ErrPersist)
}

func TestAppendCancelledContext(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "data.csv"))
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Append(ctx, sampleObservation(0)), domain.ErrPersist)
	assert.Equal(t, 0, s.Len())
}

func TestSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(context.Background(), sampleObservation(i)))
	}

	var buf bytes.Buffer
	n, err := s.Snapshot(&buf)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, string(data), buf.String())
}

func TestConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	done := make(chan error)
	for i := 0; i < 8; i++ {
		go func(i int) {
			done <- s.Append(context.Background(), sampleObservation(i))
		}(i)
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}

	all, err := s.ReadAll()
	require.NoError(t, err)
	assert.Len(t, all, 8, fmt.Sprintf("rows: %d", s.Len()))
}
