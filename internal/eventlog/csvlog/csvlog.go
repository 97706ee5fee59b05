// Package csvlog provides an [eventlog.Sink] that appends detections to one
// CSV file per local calendar day:
//
//	sound_logs/sound_log_2026-03-02.csv
//
//	timestamp,sound,confidence,priority,date
//	23:14:05,Fire alarm,0.8200,10,2026-03-02
//
// The day is taken from each record's own timestamp, so records are always
// filed under the day they were detected on even around midnight.
package csvlog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/soundalert/internal/alert"
	"github.com/MrWong99/soundalert/internal/eventlog"
)

// DefaultDir is the directory used when none is configured.
const DefaultDir = "sound_logs"

const dateLayout = "2006-01-02"

var header = []string{"timestamp", "sound", "confidence", "priority", "date"}

// fileName matches the names this package produces and nothing else.
var fileName = regexp.MustCompile(`^sound_log_\d{4}-\d{2}-\d{2}\.csv$`)

// Compile-time interface checks.
var (
	_ eventlog.Sink    = (*Log)(nil)
	_ eventlog.Archive = (*Log)(nil)
)

// Log is a directory of daily CSV detection logs. It is safe for concurrent
// use; appends are serialised.
type Log struct {
	dir string
	mu  sync.Mutex
}

// New returns a Log writing into dir, creating the directory if needed. An
// empty dir selects DefaultDir.
func New(dir string) (*Log, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("csvlog: create dir: %w", err)
	}
	return &Log{dir: dir}, nil
}

// Dir returns the log directory.
func (l *Log) Dir() string { return l.dir }

// Append implements eventlog.Sink. The header row is written when the day's
// file is created.
func (l *Log) Append(_ context.Context, rec eventlog.Record) error {
	day := rec.Timestamp.Format(dateLayout)
	path := filepath.Join(l.dir, "sound_log_"+day+".csv")

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("csvlog: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("csvlog: stat %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		_ = w.Write(header)
	}
	_ = w.Write([]string{
		rec.Timestamp.Format(alert.ClockLayout),
		rec.Label,
		strconv.FormatFloat(float64(rec.Confidence), 'f', 4, 32),
		strconv.Itoa(rec.Priority),
		day,
	})
	w.Flush()

	if err := errors.Join(w.Error(), f.Close()); err != nil {
		return fmt.Errorf("csvlog: write %s: %w", path, err)
	}
	return nil
}

// Files implements eventlog.Archive, listing log files newest first.
func (l *Log) Files() ([]eventlog.FileInfo, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("csvlog: list: %w", err)
	}
	var files []eventlog.FileInfo
	for _, e := range entries {
		if e.IsDir() || !fileName.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed between ReadDir and Info
		}
		files = append(files, eventlog.FileInfo{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	// Date-stamped names sort chronologically.
	slices.SortFunc(files, func(a, b eventlog.FileInfo) int { return strings.Compare(b.Name, a.Name) })
	return files, nil
}

// Open implements eventlog.Archive. Only bare names produced by this package
// are accepted, so a caller-supplied name can never escape the directory.
func (l *Log) Open(name string) (io.ReadSeekCloser, eventlog.FileInfo, error) {
	if !fileName.MatchString(name) {
		return nil, eventlog.FileInfo{}, eventlog.ErrNotFound
	}
	f, err := os.Open(filepath.Join(l.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, eventlog.FileInfo{}, eventlog.ErrNotFound
		}
		return nil, eventlog.FileInfo{}, fmt.Errorf("csvlog: open %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, eventlog.FileInfo{}, fmt.Errorf("csvlog: stat %s: %w", name, err)
	}
	return f, eventlog.FileInfo{Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}
