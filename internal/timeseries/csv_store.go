// Package timeseries persists arbitrage observations as an append-only CSV
// file that external tools (the plotter) read directly.
package timeseries

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
)

// TimestampLayout is the timestamp column format, in local time.
const TimestampLayout = "2006-01-02 15:04:05.000000"

// Columns is the fixed CSV header.
var Columns = []string{
	"timestamp",
	"kalshi_kamala_yes",
	"kalshi_kamala_no",
	"kalshi_trump_yes",
	"kalshi_trump_no",
	"polymarket_kamala_yes",
	"polymarket_kamala_no",
	"polymarket_trump_yes",
	"polymarket_trump_no",
	"arbitrage_no_spread_percent_return",
	"arbitrage_yes_no_spread_percent_return",
}

var headerLine = strings.Join(Columns, ",") + "\n"

// CSVStore appends one row per observation. Rows already on disk are never
// rewritten. The store is safe for concurrent use.
type CSVStore struct {
	path string

	mu   sync.Mutex
	f    *os.File
	size int64
	rows int
}

// Open opens the time series at path, creating it with the header row when
// it does not exist. An existing file must start with the expected header. A
// trailing row without its newline, left by an interrupted write, is
// truncated away.
func Open(path string) (*CSVStore, error) {
	if err := ensureHeader(path); err != nil {
		return nil, fmt.Errorf("timeseries: open %s: %w", path, err)
	}

	size, rows, err := recoverTail(path)
	if err != nil {
		return nil, fmt.Errorf("timeseries: open %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("timeseries: open %s: %w", path, err)
	}

	return &CSVStore{path: path, f: f, size: size, rows: rows}, nil
}

// ensureHeader creates path holding only the header row via a temp file,
// fsync, and rename, so a crash never leaves a partial header behind. A file
// that exists but holds only a prefix of the header is replaced the same way.
func ensureHeader(path string) error {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(data) >= len(headerLine) {
			if string(data[:len(headerLine)]) != headerLine {
				return fmt.Errorf("unexpected header %q", firstLine(data))
			}
			return nil
		}
		if !strings.HasPrefix(headerLine, string(data)) {
			return fmt.Errorf("unexpected header %q", firstLine(data))
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(headerLine); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems do not support fsync on directories.
	_ = d.Sync()
	return nil
}

// recoverTail truncates the file after its last newline and returns the
// resulting size and the number of data rows.
func recoverTail(path string) (int64, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}

	keep := bytes.LastIndexByte(data, '\n') + 1
	if keep < len(data) {
		if err := os.Truncate(path, int64(keep)); err != nil {
			return 0, 0, fmt.Errorf("truncate torn row: %w", err)
		}
		data = data[:keep]
	}

	rows := bytes.Count(data, []byte{'\n'}) - 1
	if rows < 0 {
		rows = 0
	}
	return int64(keep), rows, nil
}

func firstLine(data []byte) string {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return string(data[:i])
	}
	return string(data)
}

// Path returns the file location.
func (s *CSVStore) Path() string {
	return s.path
}

// Len returns the number of data rows.
func (s *CSVStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Append writes obs as one row with a single write followed by fsync.
// Errors wrap domain.ErrPersist. If the write fails part way, the file is
// cut back to its previous length.
func (s *CSVStore) Append(ctx context.Context, obs domain.Observation) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("timeseries: append: %w: %v", domain.ErrPersist, err)
	}

	line, err := encodeRow(obs)
	if err != nil {
		return fmt.Errorf("timeseries: append: %w: %v", domain.ErrPersist, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return fmt.Errorf("timeseries: append: %w: store closed", domain.ErrPersist)
	}

	n, err := s.f.Write(line)
	if err == nil {
		err = s.f.Sync()
	}
	if err != nil {
		if n > 0 {
			_ = s.f.Truncate(s.size)
		}
		return fmt.Errorf("timeseries: append: %w: %v", domain.ErrPersist, err)
	}

	s.size += int64(n)
	s.rows++
	return nil
}

func encodeRow(obs domain.Observation) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	record := []string{
		obs.Timestamp.Local().Format(TimestampLayout),
		formatFloat(obs.Kalshi.AYes),
		formatFloat(obs.Kalshi.ANo),
		formatFloat(obs.Kalshi.BYes),
		formatFloat(obs.Kalshi.BNo),
		formatFloat(obs.Polymarket.AYes),
		formatFloat(obs.Polymarket.ANo),
		formatFloat(obs.Polymarket.BYes),
		formatFloat(obs.Polymarket.BNo),
		formatFloat(obs.NoSpreadReturnPct),
		formatFloat(obs.YesNoSpreadReturnPct),
	}
	if err := w.Write(record); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ReadAll returns every row in insertion order.
func (s *CSVStore) ReadAll() ([]domain.Observation, error) {
	s.mu.Lock()
	size := s.size
	s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("timeseries: read: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(io.NewSectionReader(f, 0, size)))
	r.FieldsPerRecord = len(Columns)
	r.ReuseRecord = true

	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("timeseries: read header: %w", err)
	}

	var out []domain.Observation
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("timeseries: read: %w", err)
		}
		obs, err := decodeRow(rec)
		if err != nil {
			line, _ := r.FieldPos(0)
			return nil, fmt.Errorf("timeseries: read line %d: %w", line, err)
		}
		out = append(out, obs)
	}
	return out, nil
}

// Tail returns the last n rows, oldest first.
func (s *CSVStore) Tail(n int) ([]domain.Observation, error) {
	all, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	if n >= 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func decodeRow(rec []string) (domain.Observation, error) {
	ts, err := time.ParseInLocation(TimestampLayout, rec[0], time.Local)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("timestamp: %w", err)
	}

	vals := make([]float64, len(rec)-1)
	for i, field := range rec[1:] {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return domain.Observation{}, fmt.Errorf("%s: %w", Columns[i+1], err)
		}
		vals[i] = v
	}

	return domain.Observation{
		Timestamp:  ts,
		Kalshi:     domain.QuotePair{AYes: vals[0], ANo: vals[1], BYes: vals[2], BNo: vals[3]},
		Polymarket: domain.QuotePair{AYes: vals[4], ANo: vals[5], BYes: vals[6], BNo: vals[7]},
		Spreads: domain.Spreads{
			NoSpreadReturnPct:    vals[8],
			YesNoSpreadReturnPct: vals[9],
		},
	}, nil
}

// Snapshot copies the file as of the last completed append to w.
func (s *CSVStore) Snapshot(w io.Writer) (int64, error) {
	s.mu.Lock()
	size := s.size
	s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return 0, fmt.Errorf("timeseries: snapshot: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(w, io.NewSectionReader(f, 0, size))
	if err != nil {
		return n, fmt.Errorf("timeseries: snapshot: %w", err)
	}
	return n, nil
}

// Close releases the file handle.
func (s *CSVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
