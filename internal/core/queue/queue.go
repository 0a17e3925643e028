package queue

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hay-kot/warren/internal/core/channel"
	"github.com/hay-kot/warren/internal/core/errs"
	"github.com/hay-kot/warren/internal/core/guard"
	"github.com/hay-kot/warren/internal/core/storage"
	"github.com/hay-kot/warren/internal/core/validate"
)

// Lock is the resource guarding the queued_files table. Claims scan and
// transition under one exclusive hold.
const Lock = "queued_files"

// DefaultMaxPending bounds QUEUED plus PROCESSING files per channel.
const DefaultMaxPending = 100

// Channels resolves channels while the caller holds channel.Lock.
type Channels interface {
	Lookup(ctx context.Context, id string) (channel.Channel, error)
}

// Depth counts a channel's files by status.
type Depth struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Done       int `json:"done"`
	Failed     int `json:"failed"`
}

func (d *Depth) add(s Status) {
	switch s {
	case StatusQueued:
		d.Queued++
	case StatusProcessing:
		d.Processing++
	case StatusDone:
		d.Done++
	case StatusFailed:
		d.Failed++
	}
}

// Queue manages queued files for every channel.
type Queue struct {
	guard      *guard.Guard
	channels   Channels
	maxPending int
	now        func() time.Time
}

// New creates a Queue over g. maxPending <= 0 uses DefaultMaxPending.
func New(g *guard.Guard, channels Channels, maxPending int) *Queue {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Queue{guard: g, channels: channels, maxPending: maxPending, now: time.Now}
}

// Enqueue adds path to the channel's queue. Size is read from the file
// when it exists locally and is 0 otherwise. A non-empty assignedTo
// reserves the file for that agent.
func (q *Queue) Enqueue(ctx context.Context, channelID, path string, priority int, assignedTo string) (File, error) {
	const op = "queue.enqueue"

	path = strings.TrimSpace(path)
	if path == "" {
		return File{}, errs.E(op, Lock, channelID, errs.Validation("path is required"))
	}
	if assignedTo != "" {
		if err := validate.Identifier("assigned_to", assignedTo); err != nil {
			return File{}, errs.E(op, Lock, channelID, err)
		}
	}

	var size int64
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		size = info.Size()
	}

	locks := []guard.Lock{
		{Resource: channel.Lock, Mode: storage.Shared},
		{Resource: Lock, Mode: storage.Exclusive},
	}

	var file File
	err := q.guard.WithLocks(ctx, locks, func() error {
		ch, err := q.channels.Lookup(ctx, channelID)
		if err != nil {
			return err
		}
		if !ch.IsActive() {
			return errs.Validation("channel %q is archived", ch.Name)
		}

		files, err := q.load(ctx)
		if err != nil {
			return err
		}

		var pending int
		for i := range files {
			if files[i].ChannelID == channelID && files[i].Pending() {
				pending++
			}
		}
		if pending >= q.maxPending {
			return errs.Validation("channel %q already has %d pending files, limit is %d", ch.Name, pending, q.maxPending)
		}

		file = File{
			ID:         "file_" + uuid.NewString(),
			ChannelID:  channelID,
			Path:       path,
			Name:       filepath.Base(path),
			Type:       strings.TrimPrefix(filepath.Ext(path), "."),
			Size:       size,
			Priority:   priority,
			Status:     StatusQueued,
			AssignedTo: assignedTo,
			CreatedAt:  q.now(),
		}

		rec, err := storage.EncodeOne(file)
		if err != nil {
			return errs.Storage(err)
		}
		return q.guard.Append(ctx, storage.TableQueuedFiles, rec)
	})
	if err != nil {
		return File{}, errs.E(op, Lock, channelID, err)
	}
	return file, nil
}

// ClaimNext moves the channel's next claimable file to PROCESSING for
// agentID and returns it. It returns nil when nothing is claimable.
func (q *Queue) ClaimNext(ctx context.Context, channelID, agentID string) (*File, error) {
	const op = "queue.claim"

	locks := []guard.Lock{
		{Resource: channel.Lock, Mode: storage.Shared},
		{Resource: Lock, Mode: storage.Exclusive},
	}

	var claimed *File
	err := q.guard.WithLocks(ctx, locks, func() error {
		if _, err := q.channels.Lookup(ctx, channelID); err != nil {
			return err
		}

		files, err := q.load(ctx)
		if err != nil {
			return err
		}

		// Index order is insertion order, which breaks exact ties.
		candidates := make([]int, 0, len(files))
		for i := range files {
			if files[i].ChannelID == channelID && files[i].claimableBy(agentID) {
				candidates = append(candidates, i)
			}
		}
		if len(candidates) == 0 {
			return nil
		}
		slices.SortStableFunc(candidates, func(a, b int) int {
			return compareClaimOrder(files[a], files[b])
		})

		f := &files[candidates[0]]
		f.Status = StatusProcessing
		f.AssignedTo = agentID
		f.ClaimedAt = q.now()

		if err := q.save(ctx, files); err != nil {
			return err
		}
		out := *f
		claimed = &out
		return nil
	})
	if err != nil {
		return nil, errs.E(op, Lock, channelID, err)
	}
	return claimed, nil
}

// Finish moves a PROCESSING file to DONE or FAILED. A non-empty agentID
// must match the claimer.
func (q *Queue) Finish(ctx context.Context, fileID string, outcome Status, agentID string) (File, error) {
	var file File
	err := q.guard.WithLock(ctx, Lock, storage.Exclusive, func() error {
		files, err := q.load(ctx)
		if err != nil {
			return err
		}
		idx := slices.IndexFunc(files, func(f File) bool { return f.ID == fileID })
		if idx < 0 {
			return errs.NotFound("file", fileID)
		}
		if err := files[idx].finish(outcome, agentID, q.now()); err != nil {
			return err
		}
		file = files[idx]
		return q.save(ctx, files)
	})
	if err != nil {
		return File{}, errs.E("queue.finish", Lock, fileID, err)
	}
	return file, nil
}

// Get returns a file by id.
func (q *Queue) Get(ctx context.Context, fileID string) (File, error) {
	var file File
	err := q.read(ctx, func(files []File) error {
		idx := slices.IndexFunc(files, func(f File) bool { return f.ID == fileID })
		if idx < 0 {
			return errs.NotFound("file", fileID)
		}
		file = files[idx]
		return nil
	})
	if err != nil {
		return File{}, errs.E("queue.get", Lock, fileID, err)
	}
	return file, nil
}

// List returns a channel's files in claim order. An empty channelID or
// status matches every file.
func (q *Queue) List(ctx context.Context, channelID string, status Status) ([]File, error) {
	var out []File
	err := q.read(ctx, func(files []File) error {
		for _, f := range files {
			if channelID != "" && f.ChannelID != channelID {
				continue
			}
			if status != "" && f.Status != status {
				continue
			}
			out = append(out, f)
		}
		return nil
	})
	if err != nil {
		return nil, errs.E("queue.list", Lock, channelID, err)
	}
	slices.SortStableFunc(out, compareClaimOrder)
	return out, nil
}

// Depths returns per-channel status counts.
func (q *Queue) Depths(ctx context.Context) (map[string]Depth, error) {
	depths := make(map[string]Depth)
	err := q.read(ctx, func(files []File) error {
		for _, f := range files {
			d := depths[f.ChannelID]
			d.add(f.Status)
			depths[f.ChannelID] = d
		}
		return nil
	})
	if err != nil {
		return nil, errs.E("queue.depth", Lock, "", err)
	}
	return depths, nil
}

// ReclaimExpired returns files stuck in PROCESSING for longer than timeout
// to QUEUED. The assignment is kept so the same agent can pick the file
// up again, and nobody else can.
func (q *Queue) ReclaimExpired(ctx context.Context, timeout time.Duration) ([]File, error) {
	var reclaimed []File
	err := q.guard.WithLock(ctx, Lock, storage.Exclusive, func() error {
		files, err := q.load(ctx)
		if err != nil {
			return err
		}
		cutoff := q.now().Add(-timeout)
		for i := range files {
			f := &files[i]
			if f.Status != StatusProcessing || f.ClaimedAt.After(cutoff) {
				continue
			}
			f.Status = StatusQueued
			f.ClaimedAt = time.Time{}
			reclaimed = append(reclaimed, *f)
		}
		if len(reclaimed) == 0 {
			return nil
		}
		return q.save(ctx, files)
	})
	if err != nil {
		return nil, errs.E("queue.reclaim", Lock, "", err)
	}
	return reclaimed, nil
}

// DeleteChannel removes every file of a channel.
func (q *Queue) DeleteChannel(ctx context.Context, channelID string) (int, error) {
	var removed int
	err := q.guard.WithLock(ctx, Lock, storage.Exclusive, func() error {
		files, err := q.load(ctx)
		if err != nil {
			return err
		}
		before := len(files)
		files = slices.DeleteFunc(files, func(f File) bool { return f.ChannelID == channelID })
		removed = before - len(files)
		if removed == 0 {
			return nil
		}
		return q.save(ctx, files)
	})
	if err != nil {
		return 0, errs.E("queue.delete_channel", Lock, channelID, err)
	}
	return removed, nil
}

func (q *Queue) read(ctx context.Context, fn func([]File) error) error {
	return q.guard.WithLock(ctx, Lock, storage.Shared, func() error {
		files, err := q.load(ctx)
		if err != nil {
			return err
		}
		return fn(files)
	})
}

func (q *Queue) load(ctx context.Context) ([]File, error) {
	records, err := q.guard.Load(ctx, storage.TableQueuedFiles)
	if err != nil {
		return nil, err
	}
	files, err := storage.Decode[File](records)
	if err != nil {
		return nil, errs.Storage(err)
	}
	return files, nil
}

func (q *Queue) save(ctx context.Context, files []File) error {
	records, err := storage.Encode(files)
	if err != nil {
		return errs.Storage(err)
	}
	return q.guard.Replace(ctx, storage.TableQueuedFiles, records)
}
