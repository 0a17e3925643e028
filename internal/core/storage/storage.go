// Package storage defines the persistence contract every warren backend
// satisfies. Components are written once against Backend; the flat-file,
// SQLite, and PostgreSQL adapters are interchangeable.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Table names a logical record set.
type Table string

const (
	TableChannels      Table = "channels"
	TableMessages      Table = "messages"
	TableQueuedFiles   Table = "queued_files"
	TableChannelMemory Table = "channel_memory"
	TableAgentStates   Table = "agent_states"
)

// Tables lists every logical table in creation order.
var Tables = []Table{
	TableChannels,
	TableMessages,
	TableQueuedFiles,
	TableChannelMemory,
	TableAgentStates,
}

// Valid reports whether t is one of the known tables. Adapters that build
// SQL identifiers from table names must check this first.
func (t Table) Valid() bool {
	for _, known := range Tables {
		if t == known {
			return true
		}
	}
	return false
}

// LockMode selects shared or exclusive advisory locking.
type LockMode int

const (
	Shared LockMode = iota
	Exclusive
)

func (m LockMode) String() string {
	switch m {
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("LockMode(%d)", int(m))
	}
}

// Release gives up a lock obtained from TryLock.
type Release func() error

// Backend is a pluggable persistence provider. Records are opaque encoded
// documents; ordering of ReadAll matches append order, with Replace
// defining a new order.
type Backend interface {
	// Kind names the adapter (flatfile, sqlite, postgres).
	Kind() string

	// Identity returns an ID generated when the store was first used. It
	// is stable for the store's lifetime and differs between stores, so
	// shared caches can tell stores apart.
	Identity(ctx context.Context) (string, error)

	// Append adds records to the end of table.
	Append(ctx context.Context, table Table, records ...[]byte) error

	// ReadAll returns every record of table in order. A table that was
	// never written reads as empty.
	ReadAll(ctx context.Context, table Table) ([][]byte, error)

	// Replace atomically swaps the contents of table for records.
	Replace(ctx context.Context, table Table, records [][]byte) error

	// Version returns a token that changes whenever table is written.
	Version(ctx context.Context, table Table) (string, error)

	// TryLock attempts to take an advisory lock without waiting. When the
	// lock is held in a conflicting mode it returns ok=false and a nil
	// error.
	TryLock(ctx context.Context, resource string, mode LockMode) (release Release, ok bool, err error)

	// Close releases backend resources.
	Close() error
}

// ErrUnknownTable is returned by adapters for tables outside Tables.
var ErrUnknownTable = errors.New("unknown table")

// CheckTable returns ErrUnknownTable when t is not a known table.
func CheckTable(t Table) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTable, string(t))
	}
	return nil
}
