package csvlog_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/soundalert/internal/eventlog"
	"github.com/MrWong99/soundalert/internal/eventlog/csvlog"
)

func newLog(t *testing.T) *csvlog.Log {
	t.Helper()
	l, err := csvlog.New(filepath.Join(t.TempDir(), "sound_logs"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func TestAppend_WritesHeaderOnceAndFormatsRows(t *testing.T) {
	t.Parallel()

	l := newLog(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 2, 23, 14, 5, 0, time.Local)

	if err := l.Append(ctx, eventlog.Record{Label: "Fire alarm", Confidence: 0.82, Priority: 10, Timestamp: ts}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(ctx, eventlog.Record{Label: "Baby cry, infant cry", Confidence: 0.33333, Priority: 7, Timestamp: ts.Add(time.Second)}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(l.Dir(), "sound_log_2026-03-02.csv"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	want := "timestamp,sound,confidence,priority,date\n" +
		"23:14:05,Fire alarm,0.8200,10,2026-03-02\n" +
		"23:14:06,\"Baby cry, infant cry\",0.3333,7,2026-03-02\n"
	if string(b) != want {
		t.Errorf("log contents:\n%s\nwant:\n%s", b, want)
	}
}

func TestAppend_SplitsByDay(t *testing.T) {
	t.Parallel()

	l := newLog(t)
	ctx := context.Background()
	_ = l.Append(ctx, eventlog.Record{Label: "Knock", Confidence: 0.5, Priority: 3, Timestamp: time.Date(2026, 3, 2, 23, 59, 59, 0, time.Local)})
	_ = l.Append(ctx, eventlog.Record{Label: "Knock", Confidence: 0.5, Priority: 3, Timestamp: time.Date(2026, 3, 3, 0, 0, 1, 0, time.Local)})

	files, err := l.Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	if files[0].Name != "sound_log_2026-03-03.csv" || files[1].Name != "sound_log_2026-03-02.csv" {
		t.Errorf("files not newest first: %v", files)
	}
	if files[0].Size == 0 {
		t.Error("file size not reported")
	}
}

func TestFiles_IgnoresForeignFiles(t *testing.T) {
	t.Parallel()

	l := newLog(t)
	_ = os.WriteFile(filepath.Join(l.Dir(), "notes.csv"), []byte("x"), 0o644)
	_ = os.Mkdir(filepath.Join(l.Dir(), "sound_log_2026-01-01.csv"), 0o755)

	files, err := l.Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("Files = %v, want none", files)
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	l := newLog(t)
	ts := time.Date(2026, 3, 2, 8, 0, 0, 0, time.Local)
	_ = l.Append(context.Background(), eventlog.Record{Label: "Doorbell", Confidence: 0.9, Priority: 3, Timestamp: ts})

	rc, info, err := l.Open("sound_log_2026-03-02.csv")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if !strings.Contains(string(b), "Doorbell") {
		t.Errorf("unexpected contents %q", b)
	}
	if info.Size != int64(len(b)) {
		t.Errorf("Size = %d, want %d", info.Size, len(b))
	}
}

func TestOpen_RejectsTraversalAndMissing(t *testing.T) {
	t.Parallel()

	l := newLog(t)
	for _, name := range []string{
		"../secret.csv",
		"sound_log_2026-03-02.csv/../../etc/passwd",
		"/etc/passwd",
		"notes.csv",
		"sound_log_2026-03-02.csv",
	} {
		if _, _, err := l.Open(name); !errors.Is(err, eventlog.ErrNotFound) {
			t.Errorf("Open(%q) err = %v, want ErrNotFound", name, err)
		}
	}
}

func TestAppend_Concurrent(t *testing.T) {
	t.Parallel()

	l := newLog(t)
	ts := time.Date(2026, 3, 2, 12, 0, 0, 0, time.Local)
	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			_ = l.Append(context.Background(), eventlog.Record{Label: "Dog", Confidence: 0.4, Priority: 1, Timestamp: ts})
		})
	}
	wg.Wait()

	b, _ := os.ReadFile(filepath.Join(l.Dir(), "sound_log_2026-03-02.csv"))
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 21 {
		t.Errorf("got %d lines, want header + 20 rows", len(lines))
	}
	if lines[0] != "timestamp,sound,confidence,priority,date" {
		t.Errorf("first line = %q, want header", lines[0])
	}
}

func TestNew_DefaultDir(t *testing.T) {
	// Not parallel: changes the working directory.
	t.Chdir(t.TempDir())
	l, err := csvlog.New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.Dir() != csvlog.DefaultDir {
		t.Errorf("Dir = %q, want %q", l.Dir(), csvlog.DefaultDir)
	}
	if _, err := os.Stat(csvlog.DefaultDir); err != nil {
		t.Errorf("default dir not created: %v", err)
	}
}
