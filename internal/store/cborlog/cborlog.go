// Package cborlog stores audit events as a CBOR sequence in a single
// append-only file. An item torn by an interrupted write is cut off by the
// next Record before it appends.
package cborlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sys/unix"

	"github.com/hay-kot/warren/internal/core/codec"
	"github.com/hay-kot/warren/internal/core/events"
)

// DefaultRetain is the number of events Compact keeps by default.
const DefaultRetain = 10_000

// Log implements events.Recorder and events.Reader.
type Log struct {
	path string
	mu   sync.Mutex
	now  func() time.Time

	// tail is the file identity and size after this Log's last append.
	// A matching file needs no rescan before the next append.
	tail fileMark
}

type fileMark struct {
	ino  uint64
	size int64
}

func markOf(info os.FileInfo) fileMark {
	m := fileMark{size: info.Size()}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		m.ino = st.Ino
	}
	return m
}

// New creates a log writing to path. The file and its directory are
// created on first write.
func New(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

func (l *Log) lockPath() string {
	return l.path + ".lock"
}

// withFileLock runs fn while holding the log's flock in the given mode.
func (l *Log) withFileLock(how int, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create event directory: %w", err)
	}

	f, err := os.OpenFile(l.lockPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	if err := unix.Flock(int(f.Fd()), how); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN) //nolint:errcheck

	return fn()
}

// Record appends e. Missing ids and timestamps are filled in.
func (l *Log) Record(ctx context.Context, e events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}

	data, err := codec.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.withFileLock(unix.LOCK_EX, func() error {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer f.Close() //nolint:errcheck

		end, err := l.repairTail(f)
		if err != nil {
			return err
		}

		if _, err := f.WriteAt(data, end); err != nil {
			l.tail = fileMark{}
			return fmt.Errorf("write event: %w", err)
		}

		info, err := f.Stat()
		if err != nil {
			l.tail = fileMark{}
			return nil
		}
		l.tail = markOf(info)
		return nil
	})
}

// repairTail returns the offset just past the last complete event and
// truncates anything after it. Call it under the exclusive file lock.
func (l *Log) repairTail(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat event log: %w", err)
	}
	if info.Size() == 0 || markOf(info) == l.tail {
		return info.Size(), nil
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return 0, fmt.Errorf("read event log: %w", err)
	}

	_, end, _ := decodeAll(data)
	if end < info.Size() {
		if err := f.Truncate(end); err != nil {
			return 0, fmt.Errorf("truncate torn event: %w", err)
		}
	}
	return end, nil
}

// List returns events matching f, newest first.
func (l *Log) List(ctx context.Context, f events.Filter) ([]events.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var all []events.Event
	err := l.withFileLock(unix.LOCK_SH, func() error {
		var err error
		all, err = l.readAll()
		return err
	})
	if err != nil {
		return nil, err
	}

	var out []events.Event
	for i := len(all) - 1; i >= 0; i-- {
		if !f.Match(all[i]) {
			continue
		}
		out = append(out, all[i])
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// Compact rewrites the log keeping only the newest retain events and
// returns how many were dropped.
func (l *Log) Compact(ctx context.Context, retain int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if retain <= 0 {
		retain = DefaultRetain
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var dropped int
	err := l.withFileLock(unix.LOCK_EX, func() error {
		all, err := l.readAll()
		if err != nil {
			return err
		}
		if len(all) <= retain {
			return nil
		}
		dropped = len(all) - retain
		l.tail = fileMark{}
		return l.writeAll(all[dropped:])
	})
	return dropped, err
}

// readAll decodes the sequence. A truncated trailing item from an
// interrupted write ends the read without an error.
func (l *Log) readAll() ([]events.Event, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read event log: %w", err)
	}

	out, _, err := decodeAll(data)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// decodeAll decodes events from data and reports the offset just past the
// last complete one. A truncated final item is not an error.
func decodeAll(data []byte) ([]events.Event, int64, error) {
	var (
		out []events.Event
		end int64
	)

	dec := codec.NewDecoder(bytes.NewReader(data))
	for {
		var e events.Event
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return out, end, nil
		}
		if err != nil {
			return out, end, fmt.Errorf("decode event %d: %w", len(out), err)
		}
		out = append(out, e)
		end = int64(dec.NumBytesRead())
	}
}

func (l *Log) writeAll(all []events.Event) error {
	tmpPath := l.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	enc := codec.NewEncoder(f)
	for _, e := range all {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("write event: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
