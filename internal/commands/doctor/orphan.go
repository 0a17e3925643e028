package doctor

import (
	"context"
	"fmt"

	"github.com/hay-kot/warren/internal/core/channel"
	"github.com/hay-kot/warren/internal/core/guard"
	"github.com/hay-kot/warren/internal/core/storage"
)

// channelScoped lists the tables whose rows belong to a channel.
var channelScoped = []storage.Table{
	storage.TableMessages,
	storage.TableQueuedFiles,
	storage.TableChannelMemory,
}

type channelRow struct {
	ID string `json:"id"`
}

type scopedRow struct {
	ChannelID string `json:"channel_id"`
}

// OrphanCheck detects messages, queued files, and memory entries whose
// channel no longer exists, as left behind by an interrupted purge.
type OrphanCheck struct {
	guard *guard.Guard
	fix   bool
}

// NewOrphanCheck creates a new orphan row check.
// If fix is true, orphaned rows are removed.
func NewOrphanCheck(g *guard.Guard, fix bool) *OrphanCheck {
	return &OrphanCheck{guard: g, fix: fix}
}

func (c *OrphanCheck) Name() string {
	return "Orphaned Records"
}

func (c *OrphanCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	found := 0
	for _, table := range channelScoped {
		var orphans int
		locks := []guard.Lock{
			{Resource: channel.Lock, Mode: storage.Shared},
			{Resource: string(table), Mode: storage.Exclusive},
		}
		err := c.guard.WithLocks(ctx, locks, func() error {
			known, err := c.channelIDs(ctx)
			if err != nil {
				return err
			}

			records, err := c.guard.Load(ctx, table)
			if err != nil {
				return err
			}

			kept := make([][]byte, 0, len(records))
			for i, rec := range records {
				rows, err := storage.Decode[scopedRow]([][]byte{rec})
				if err != nil {
					return fmt.Errorf("%s record %d: %w", table, i, err)
				}
				if len(rows) == 1 && !known[rows[0].ChannelID] {
					orphans++
					continue
				}
				kept = append(kept, rec)
			}

			if orphans == 0 || !c.fix {
				return nil
			}
			return c.guard.Replace(ctx, table, kept)
		})

		switch {
		case err != nil:
			result.Items = append(result.Items, CheckItem{
				Label:  string(table),
				Status: StatusFail,
				Detail: err.Error(),
			})
		case orphans == 0:
			continue
		case c.fix:
			result.Items = append(result.Items, CheckItem{
				Label:  string(table),
				Status: StatusPass,
				Detail: fmt.Sprintf("removed %d orphaned records", orphans),
			})
		default:
			result.Items = append(result.Items, CheckItem{
				Label:   string(table),
				Status:  StatusWarn,
				Detail:  fmt.Sprintf("%d records reference a missing channel", orphans),
				Fixable: true,
			})
		}
		found += orphans
	}

	if found == 0 && len(result.Items) == 0 {
		result.Items = append(result.Items, CheckItem{
			Label:  "No orphans",
			Status: StatusPass,
			Detail: "all records belong to a channel",
		})
	}

	return result
}

func (c *OrphanCheck) channelIDs(ctx context.Context) (map[string]bool, error) {
	records, err := c.guard.Load(ctx, storage.TableChannels)
	if err != nil {
		return nil, err
	}
	rows, err := storage.Decode[channelRow](records)
	if err != nil {
		return nil, fmt.Errorf("channels: %w", err)
	}
	known := make(map[string]bool, len(rows))
	for _, r := range rows {
		known[r.ID] = true
	}
	return known, nil
}
