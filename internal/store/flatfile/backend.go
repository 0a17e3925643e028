// Package flatfile provides a storage.Backend over newline-delimited JSON
// files, one file per table, guarded by flock advisory locks.
package flatfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/hay-kot/warren/internal/core/storage"
)

const (
	tableExt     = ".jsonl"
	identityFile = "store_id"
)

// Backend implements storage.Backend using JSONL files under dir.
type Backend struct {
	dir string

	idMu sync.Mutex
	id   string
}

// New creates a flat-file backend rooted at dir. The directory is created
// lazily on first write.
func New(dir string) *Backend {
	return &Backend{dir: dir}
}

// Kind implements storage.Backend.
func (b *Backend) Kind() string { return "flatfile" }

// Dir returns the root directory.
func (b *Backend) Dir() string { return b.dir }

// Identity reads the store ID file, creating it on first use. The file is
// published with a hard link so concurrent creators agree on one ID.
func (b *Backend) Identity(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.idMu.Lock()
	defer b.idMu.Unlock()

	if b.id != "" {
		return b.id, nil
	}

	path := filepath.Join(b.dir, identityFile)

	id, err := readIdentity(path)
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}

	if id == "" {
		if err := os.MkdirAll(b.dir, 0o755); err != nil {
			return "", fmt.Errorf("create data directory: %w", err)
		}

		tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString())
		if err := os.WriteFile(tmp, []byte(uuid.NewString()+"\n"), 0o644); err != nil {
			return "", fmt.Errorf("write store id: %w", err)
		}
		linkErr := os.Link(tmp, path)
		_ = os.Remove(tmp)
		if linkErr != nil && !os.IsExist(linkErr) {
			return "", fmt.Errorf("publish store id: %w", linkErr)
		}

		if id, err = readIdentity(path); err != nil {
			return "", err
		}
	}

	b.id = id
	return id, nil
}

func readIdentity(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", err
		}
		return "", fmt.Errorf("read store id: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// tablePath returns the file path for a table.
func (b *Backend) tablePath(table storage.Table) string {
	return filepath.Join(b.dir, string(table)+tableExt)
}

// lockPath returns the lock file path for a resource.
func (b *Backend) lockPath(resource string) string {
	return filepath.Join(b.dir, "locks", storage.LockFileName(resource))
}

// Append writes records to the end of the table file in a single write so
// concurrent appenders never interleave partial lines.
func (b *Backend) Append(ctx context.Context, table storage.Table, records ...[]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.CheckTable(table); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	f, err := os.OpenFile(b.tablePath(table), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open table file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	var buf bytes.Buffer

	// A crashed writer can leave a line without its terminator. Start on a
	// fresh line so the torn fragment stays isolated and is skipped on read.
	torn, err := endsTorn(f)
	if err != nil {
		return err
	}
	if torn {
		buf.WriteByte('\n')
	}

	for i, rec := range records {
		if bytes.IndexByte(rec, '\n') >= 0 {
			return fmt.Errorf("record %d contains a newline", i)
		}
		buf.Write(rec)
		buf.WriteByte('\n')
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append to table file: %w", err)
	}

	return nil
}

// endsTorn reports whether a non-empty file lacks a trailing newline.
func endsTorn(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat table file: %w", err)
	}
	if info.Size() == 0 {
		return false, nil
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read table tail: %w", err)
	}
	return last[0] != '\n', nil
}

// ReadAll returns every complete record in the table file. A trailing line
// without a terminator belongs to a write still in flight (or a crashed
// one) and is not returned.
func (b *Backend) ReadAll(ctx context.Context, table storage.Table) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.CheckTable(table); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(b.tablePath(table))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read table file: %w", err)
	}

	var records [][]byte
	for len(data) > 0 {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := data[:idx]
		data = data[idx+1:]

		// Skip blank lines and torn fragments
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		records = append(records, line)
	}

	return records, nil
}

// Replace writes the table to disk atomically.
// Uses write-to-temp-then-rename so readers never see a half-written file.
func (b *Backend) Replace(ctx context.Context, table storage.Table, records [][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.CheckTable(table); err != nil {
		return err
	}

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	var buf bytes.Buffer
	for i, rec := range records {
		if bytes.IndexByte(rec, '\n') >= 0 {
			return fmt.Errorf("record %d contains a newline", i)
		}
		buf.Write(rec)
		buf.WriteByte('\n')
	}

	path := b.tablePath(table)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

// Version derives a change token from the file's size, modification time,
// and inode. Append changes the size; Replace swaps the inode.
func (b *Backend) Version(ctx context.Context, table storage.Table) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := storage.CheckTable(table); err != nil {
		return "", err
	}

	info, err := os.Stat(b.tablePath(table))
	if err != nil {
		if os.IsNotExist(err) {
			return "absent", nil
		}
		return "", fmt.Errorf("stat table file: %w", err)
	}

	var ino uint64
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		ino = st.Ino
	}

	return fmt.Sprintf("%d-%d-%d", info.Size(), info.ModTime().UnixNano(), ino), nil
}

// TryLock takes a non-blocking flock on the resource's lock file. Each call
// opens its own descriptor, so goroutines in one process contend exactly
// like separate processes do.
func (b *Backend) TryLock(ctx context.Context, resource string, mode storage.LockMode) (storage.Release, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	path := b.lockPath(resource)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open lock file: %w", err)
	}

	how := unix.LOCK_SH
	if mode == storage.Exclusive {
		how = unix.LOCK_EX
	}

	if err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire file lock: %w", err)
	}

	release := func() error {
		defer f.Close() //nolint:errcheck
		if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
			return fmt.Errorf("release file lock: %w", err)
		}
		return nil
	}

	return release, true, nil
}

// Close implements storage.Backend. Flat files hold no open handles
// between calls.
func (b *Backend) Close() error { return nil }
