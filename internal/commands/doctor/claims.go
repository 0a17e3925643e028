package doctor

import (
	"context"
	"fmt"
	"time"

	"github.com/hay-kot/warren/internal/core/queue"
)

// ClaimsCheck finds files left processing past the processing timeout.
type ClaimsCheck struct {
	queue   *queue.Queue
	timeout time.Duration
	fix     bool
}

// NewClaimsCheck creates a stale claim check. If fix is true, stale files
// go back to the queue.
func NewClaimsCheck(q *queue.Queue, timeout time.Duration, fix bool) *ClaimsCheck {
	return &ClaimsCheck{queue: q, timeout: timeout, fix: fix}
}

func (c *ClaimsCheck) Name() string {
	return "Work Queue"
}

func (c *ClaimsCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	if c.fix {
		reclaimed, err := c.queue.ReclaimExpired(ctx, c.timeout)
		if err != nil {
			result.Items = append(result.Items, CheckItem{
				Label:  "Reclaim stale claims",
				Status: StatusFail,
				Detail: err.Error(),
			})
			return result
		}
		for _, f := range reclaimed {
			result.Items = append(result.Items, CheckItem{
				Label:  f.Path,
				Status: StatusPass,
				Detail: "returned to queue",
			})
		}
		if len(reclaimed) == 0 {
			result.Items = append(result.Items, CheckItem{
				Label:  "No stale claims",
				Status: StatusPass,
			})
		}
		return result
	}

	processing, err := c.queue.List(ctx, "", queue.StatusProcessing)
	if err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "List processing files",
			Status: StatusFail,
			Detail: err.Error(),
		})
		return result
	}

	cutoff := time.Now().Add(-c.timeout)
	for _, f := range processing {
		if f.ClaimedAt.After(cutoff) {
			continue
		}
		result.Items = append(result.Items, CheckItem{
			Label:   f.Path,
			Status:  StatusWarn,
			Detail:  fmt.Sprintf("claimed by %s %s ago", f.AssignedTo, time.Since(f.ClaimedAt).Round(time.Second)),
			Fixable: true,
		})
	}

	if len(result.Items) == 0 {
		result.Items = append(result.Items, CheckItem{
			Label:  "No stale claims",
			Status: StatusPass,
			Detail: fmt.Sprintf("%d files processing", len(processing)),
		})
	}
	return result
}
