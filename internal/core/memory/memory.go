// Package memory provides the per-channel key/value context store that
// agents use to share decisions and artifacts.
package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hay-kot/warren/internal/core/channel"
	"github.com/hay-kot/warren/internal/core/errs"
	"github.com/hay-kot/warren/internal/core/guard"
	"github.com/hay-kot/warren/internal/core/storage"
	"github.com/hay-kot/warren/internal/core/validate"
)

// Lock is the resource guarding the channel_memory table.
const Lock = "channel_memory"

// Kind classifies a memory entry.
type Kind string

const (
	KindContext  Kind = "context"
	KindDecision Kind = "decision"
	KindArtifact Kind = "artifact"
)

// ParseKind returns the Kind named by s. An empty string is KindContext.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "":
		return KindContext, nil
	case KindContext, KindDecision, KindArtifact:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q (want context, decision, or artifact)", errs.ErrInvalidKind, s)
	}
}

// Entry is one key of a channel's memory. (ChannelID, Key) is unique.
type Entry struct {
	ChannelID string    `json:"channel_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Channels resolves channels while the caller holds channel.Lock.
type Channels interface {
	Lookup(ctx context.Context, id string) (channel.Channel, error)
}

// Store reads and writes channel memory.
type Store struct {
	guard    *guard.Guard
	channels Channels
	now      func() time.Time
}

// NewStore creates a Store over g.
func NewStore(g *guard.Guard, channels Channels) *Store {
	return &Store{guard: g, channels: channels, now: time.Now}
}

// Set creates or updates the entry for key. Updating keeps the original
// CreatedAt.
func (s *Store) Set(ctx context.Context, channelID, key, value, kind string) (Entry, error) {
	const op = "memory.set"

	k, err := ParseKind(kind)
	if err != nil {
		return Entry{}, errs.E(op, Lock, channelID, err)
	}
	if err := validate.Identifier("key", key); err != nil {
		return Entry{}, errs.E(op, Lock, channelID, err)
	}
	if err := validate.MemoryValue(value); err != nil {
		return Entry{}, errs.E(op, Lock, channelID, err)
	}

	locks := []guard.Lock{
		{Resource: channel.Lock, Mode: storage.Shared},
		{Resource: Lock, Mode: storage.Exclusive},
	}

	var saved Entry
	err = s.guard.WithLocks(ctx, locks, func() error {
		if _, err := s.channels.Lookup(ctx, channelID); err != nil {
			return err
		}

		entries, err := s.load(ctx)
		if err != nil {
			return err
		}

		now := s.now()
		idx := indexOf(entries, channelID, key)
		if idx < 0 {
			saved = Entry{
				ChannelID: channelID,
				Key:       key,
				Value:     value,
				Kind:      k,
				CreatedAt: now,
				UpdatedAt: now,
			}
			rec, err := storage.EncodeOne(saved)
			if err != nil {
				return errs.Storage(err)
			}
			return s.guard.Append(ctx, storage.TableChannelMemory, rec)
		}

		entries[idx].Value = value
		entries[idx].Kind = k
		entries[idx].UpdatedAt = now
		saved = entries[idx]
		return s.save(ctx, entries)
	})
	if err != nil {
		return Entry{}, errs.E(op, Lock, channelID, err)
	}
	return saved, nil
}

// Get returns one entry.
func (s *Store) Get(ctx context.Context, channelID, key string) (Entry, error) {
	var found Entry
	err := s.read(ctx, func(entries []Entry) error {
		idx := indexOf(entries, channelID, key)
		if idx < 0 {
			return errs.NotFound("memory key", key)
		}
		found = entries[idx]
		return nil
	})
	if err != nil {
		return Entry{}, errs.E("memory.get", Lock, channelID, err)
	}
	return found, nil
}

// All returns every entry of a channel keyed by Key.
func (s *Store) All(ctx context.Context, channelID string) (map[string]Entry, error) {
	out := make(map[string]Entry)
	err := s.read(ctx, func(entries []Entry) error {
		for _, e := range entries {
			if e.ChannelID == channelID {
				out[e.Key] = e
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.E("memory.all", Lock, channelID, err)
	}
	return out, nil
}

// Counts returns the number of entries per channel.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := s.read(ctx, func(entries []Entry) error {
		for _, e := range entries {
			counts[e.ChannelID]++
		}
		return nil
	})
	if err != nil {
		return nil, errs.E("memory.counts", Lock, "", err)
	}
	return counts, nil
}

// Delete removes one entry.
func (s *Store) Delete(ctx context.Context, channelID, key string) error {
	err := s.guard.WithLock(ctx, Lock, storage.Exclusive, func() error {
		entries, err := s.load(ctx)
		if err != nil {
			return err
		}
		idx := indexOf(entries, channelID, key)
		if idx < 0 {
			return errs.NotFound("memory key", key)
		}
		return s.save(ctx, slices.Delete(entries, idx, idx+1))
	})
	return errs.E("memory.delete", Lock, channelID, err)
}

// DeleteChannel removes every entry of a channel and returns how many
// were removed.
func (s *Store) DeleteChannel(ctx context.Context, channelID string) (int, error) {
	var removed int
	err := s.guard.WithLock(ctx, Lock, storage.Exclusive, func() error {
		entries, err := s.load(ctx)
		if err != nil {
			return err
		}
		before := len(entries)
		entries = slices.DeleteFunc(entries, func(e Entry) bool { return e.ChannelID == channelID })
		removed = before - len(entries)
		if removed == 0 {
			return nil
		}
		return s.save(ctx, entries)
	})
	if err != nil {
		return 0, errs.E("memory.delete_channel", Lock, channelID, err)
	}
	return removed, nil
}

func (s *Store) read(ctx context.Context, fn func([]Entry) error) error {
	return s.guard.WithLock(ctx, Lock, storage.Shared, func() error {
		entries, err := s.load(ctx)
		if err != nil {
			return err
		}
		return fn(entries)
	})
}

func (s *Store) load(ctx context.Context) ([]Entry, error) {
	records, err := s.guard.Load(ctx, storage.TableChannelMemory)
	if err != nil {
		return nil, err
	}
	entries, err := storage.Decode[Entry](records)
	if err != nil {
		return nil, errs.Storage(err)
	}
	return entries, nil
}

func (s *Store) save(ctx context.Context, entries []Entry) error {
	records, err := storage.Encode(entries)
	if err != nil {
		return errs.Storage(err)
	}
	return s.guard.Replace(ctx, storage.TableChannelMemory, records)
}

func indexOf(entries []Entry, channelID, key string) int {
	return slices.IndexFunc(entries, func(e Entry) bool {
		return e.ChannelID == channelID && e.Key == key
	})
}
