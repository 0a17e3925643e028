package messaging

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hay-kot/warren/internal/core/channel"
	"github.com/hay-kot/warren/internal/core/errs"
	"github.com/hay-kot/warren/internal/core/guard"
	"github.com/hay-kot/warren/internal/core/storage"
	"github.com/hay-kot/warren/internal/core/validate"
)

// Lock is the table-wide resource. Appends hold it shared; retention and
// purge hold it exclusive.
const Lock = "messages"

// HardSearchLimit caps search results regardless of configuration.
const HardSearchLimit = 100

// ChannelLock returns the resource serializing appends to one channel.
func ChannelLock(channelID string) string {
	return Lock + "/" + channelID
}

// Channels resolves channels while the caller holds channel.Lock.
type Channels interface {
	Lookup(ctx context.Context, id string) (channel.Channel, error)
}

// Limits bounds message input and search cost.
type Limits struct {
	MaxMessageLength int
	SearchLimit      int
}

// Log appends and reads channel messages.
type Log struct {
	guard    *guard.Guard
	channels Channels
	limits   Limits
	now      func() time.Time
}

// NewLog creates a Log over g.
func NewLog(g *guard.Guard, channels Channels, limits Limits) *Log {
	if limits.SearchLimit <= 0 || limits.SearchLimit > HardSearchLimit {
		limits.SearchLimit = HardSearchLimit
	}
	return &Log{guard: g, channels: channels, limits: limits, now: time.Now}
}

// Append adds a message to a channel. The author must be a member of an
// active channel. The sequence key is one past the highest key already
// persisted for the channel, computed under the channel's exclusive lock,
// so keys are strictly increasing without a lock spanning all channels.
func (l *Log) Append(ctx context.Context, channelID, authorID, body, kind string) (Message, error) {
	const op = "message.append"

	k, err := ParseKind(kind)
	if err != nil {
		return Message{}, errs.E(op, Lock, channelID, err)
	}
	if err := validate.Identifier("author_id", authorID); err != nil {
		return Message{}, errs.E(op, Lock, channelID, err)
	}
	if err := validate.MessageBody(body, l.limits.MaxMessageLength); err != nil {
		return Message{}, errs.E(op, Lock, channelID, err)
	}
	if err := checkBody(k, body); err != nil {
		return Message{}, errs.E(op, Lock, channelID, err)
	}

	locks := []guard.Lock{
		{Resource: channel.Lock, Mode: storage.Shared},
		{Resource: Lock, Mode: storage.Shared},
		{Resource: ChannelLock(channelID), Mode: storage.Exclusive},
	}

	var msg Message
	err = l.guard.WithLocks(ctx, locks, func() error {
		ch, err := l.channels.Lookup(ctx, channelID)
		if err != nil {
			return err
		}
		if !ch.IsActive() {
			return errs.Validation("channel %q is archived", ch.Name)
		}
		if !ch.HasMember(authorID) {
			return errs.Validation("%q is not a member of channel %q", authorID, ch.Name)
		}

		messages, err := l.load(ctx)
		if err != nil {
			return err
		}

		var last int64
		for _, m := range messages {
			if m.ChannelID == channelID && m.Sequence > last {
				last = m.Sequence
			}
		}

		msg = Message{
			ID:        ulid.Make().String(),
			ChannelID: channelID,
			AuthorID:  authorID,
			Body:      body,
			Kind:      k,
			Sequence:  last + 1,
			CreatedAt: l.now(),
		}

		rec, err := storage.EncodeOne(msg)
		if err != nil {
			return errs.Storage(err)
		}
		return l.guard.Append(ctx, storage.TableMessages, rec)
	})
	if err != nil {
		return Message{}, errs.E(op, Lock, channelID, err)
	}

	return msg, nil
}

// Since returns the channel's messages with a sequence key greater than
// cursor, ascending. A cursor of 0 returns the whole log.
func (l *Log) Since(ctx context.Context, channelID string, cursor int64) ([]Message, error) {
	var out []Message
	err := l.withChannelRead(ctx, channelID, func(messages []Message) {
		for _, m := range messages {
			if m.ChannelID == channelID && m.Sequence > cursor {
				out = append(out, m)
			}
		}
	})
	if err != nil {
		return nil, errs.E("message.since", Lock, channelID, err)
	}

	slices.SortFunc(out, func(a, b Message) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	return out, nil
}

// Search returns messages whose body contains text, case-insensitively,
// newest first. An empty channelID searches every channel. The limit is
// clamped to [1, SearchLimit].
func (l *Log) Search(ctx context.Context, text, channelID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > l.limits.SearchLimit {
		limit = l.limits.SearchLimit
	}
	needle := strings.ToLower(text)

	var matches []Message
	err := l.guard.WithLock(ctx, Lock, storage.Shared, func() error {
		messages, err := l.load(ctx)
		if err != nil {
			return err
		}
		for _, m := range messages {
			if channelID != "" && m.ChannelID != channelID {
				continue
			}
			if strings.Contains(strings.ToLower(m.Body), needle) {
				matches = append(matches, m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.E("message.search", Lock, channelID, err)
	}

	slices.SortStableFunc(matches, func(a, b Message) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.Sequence, a.Sequence)
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Stats returns per-channel counts for every channel with messages.
func (l *Log) Stats(ctx context.Context) (map[string]Stats, error) {
	stats := make(map[string]Stats)
	err := l.guard.WithLock(ctx, Lock, storage.Shared, func() error {
		messages, err := l.load(ctx)
		if err != nil {
			return err
		}
		for _, m := range messages {
			s := stats[m.ChannelID]
			s.Count++
			if m.Sequence > s.LastSequence {
				s.LastSequence = m.Sequence
				s.LastAt = m.CreatedAt
			}
			stats[m.ChannelID] = s
		}
		return nil
	})
	if err != nil {
		return nil, errs.E("message.stats", Lock, "", err)
	}
	return stats, nil
}

// ChannelStats returns the counts for one channel.
func (l *Log) ChannelStats(ctx context.Context, channelID string) (Stats, error) {
	var s Stats
	err := l.withChannelRead(ctx, channelID, func(messages []Message) {
		for _, m := range messages {
			if m.ChannelID != channelID {
				continue
			}
			s.Count++
			if m.Sequence > s.LastSequence {
				s.LastSequence = m.Sequence
				s.LastAt = m.CreatedAt
			}
		}
	})
	if err != nil {
		return Stats{}, errs.E("message.stats", Lock, channelID, err)
	}
	return s, nil
}

// Prune removes messages older than olderThan across all channels and
// returns how many were removed. The newest message of each channel is
// always kept so its sequence key remains the channel's high-water mark.
func (l *Log) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := l.now().Add(-olderThan)
	removed, err := l.removeWhere(ctx, func(messages []Message) func(Message) bool {
		last := make(map[string]int64)
		for _, m := range messages {
			if m.Sequence > last[m.ChannelID] {
				last[m.ChannelID] = m.Sequence
			}
		}
		return func(m Message) bool {
			return !m.CreatedAt.After(cutoff) && m.Sequence != last[m.ChannelID]
		}
	})
	if err != nil {
		return 0, errs.E("message.prune", Lock, "", err)
	}
	return removed, nil
}

// DeleteChannel removes every message of a channel.
func (l *Log) DeleteChannel(ctx context.Context, channelID string) (int, error) {
	removed, err := l.removeWhere(ctx, func([]Message) func(Message) bool {
		return func(m Message) bool { return m.ChannelID == channelID }
	})
	if err != nil {
		return 0, errs.E("message.delete_channel", Lock, channelID, err)
	}
	return removed, nil
}

func (l *Log) removeWhere(ctx context.Context, selector func([]Message) func(Message) bool) (int, error) {
	var removed int
	err := l.guard.WithLock(ctx, Lock, storage.Exclusive, func() error {
		messages, err := l.load(ctx)
		if err != nil {
			return err
		}

		drop := selector(messages)
		kept := make([]Message, 0, len(messages))
		for _, m := range messages {
			if drop(m) {
				removed++
				continue
			}
			kept = append(kept, m)
		}
		if removed == 0 {
			return nil
		}

		records, err := storage.Encode(kept)
		if err != nil {
			return errs.Storage(err)
		}
		return l.guard.Replace(ctx, storage.TableMessages, records)
	})
	return removed, err
}

func (l *Log) withChannelRead(ctx context.Context, channelID string, fn func([]Message)) error {
	locks := []guard.Lock{
		{Resource: Lock, Mode: storage.Shared},
		{Resource: ChannelLock(channelID), Mode: storage.Shared},
	}
	return l.guard.WithLocks(ctx, locks, func() error {
		messages, err := l.load(ctx)
		if err != nil {
			return err
		}
		fn(messages)
		return nil
	})
}

func (l *Log) load(ctx context.Context) ([]Message, error) {
	records, err := l.guard.Load(ctx, storage.TableMessages)
	if err != nil {
		return nil, err
	}
	messages, err := storage.Decode[Message](records)
	if err != nil {
		return nil, errs.Storage(err)
	}
	return messages, nil
}
