// Package eventlog defines the durable detection log written once per
// accepted detection. Implementations live in sub-packages: csvlog writes one
// CSV file per day, postgres inserts rows into a table.
package eventlog

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by [Archive.Open] for names that do not identify a
// log file.
var ErrNotFound = errors.New("eventlog: log file not found")

// Record is one line of the detection log.
type Record struct {
	Label      string
	Confidence float32
	Priority   int
	Timestamp  time.Time
}

// Sink persists detection records. Append is called synchronously from the
// monitoring loop, so implementations should return promptly. A returned
// error means the record was not persisted.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// FileInfo describes one downloadable log file.
type FileInfo struct {
	Name    string    `json:"filename"`
	Size    int64     `json:"size_bytes"`
	ModTime time.Time `json:"-"`
}

// Archive is implemented by sinks whose output can be listed and downloaded
// as files.
type Archive interface {
	// Files lists log files, newest first.
	Files() ([]FileInfo, error)

	// Open returns the named log file. Names that are not log files produced
	// by this archive yield ErrNotFound.
	Open(name string) (io.ReadSeekCloser, FileInfo, error)
}

// Pinger is implemented by sinks backed by a remote store that can report
// readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}
