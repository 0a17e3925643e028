package doctor

import (
	"context"
	"fmt"

	"github.com/hay-kot/warren/internal/core/events"
	"github.com/hay-kot/warren/internal/core/storage"
)

// StorageCheck reads every table and probes its advisory lock.
type StorageCheck struct {
	backend storage.Backend
}

// NewStorageCheck creates a check over backend.
func NewStorageCheck(backend storage.Backend) *StorageCheck {
	return &StorageCheck{backend: backend}
}

func (c *StorageCheck) Name() string {
	return "Storage (" + c.backend.Kind() + ")"
}

func (c *StorageCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	for _, table := range storage.Tables {
		records, err := c.backend.ReadAll(ctx, table)
		if err != nil {
			result.Items = append(result.Items, CheckItem{
				Label:  string(table),
				Status: StatusFail,
				Detail: err.Error(),
			})
			continue
		}

		if _, err := c.backend.Version(ctx, table); err != nil {
			result.Items = append(result.Items, CheckItem{
				Label:  string(table),
				Status: StatusFail,
				Detail: "version: " + err.Error(),
			})
			continue
		}

		// Lock resources share the table names.
		release, ok, err := c.backend.TryLock(ctx, string(table), storage.Exclusive)
		switch {
		case err != nil:
			result.Items = append(result.Items, CheckItem{
				Label:  string(table),
				Status: StatusFail,
				Detail: "lock: " + err.Error(),
			})
		case !ok:
			result.Items = append(result.Items, CheckItem{
				Label:  string(table),
				Status: StatusWarn,
				Detail: fmt.Sprintf("%d records, lock held by another process", len(records)),
			})
		default:
			if err := release(); err != nil {
				result.Items = append(result.Items, CheckItem{
					Label:  string(table),
					Status: StatusFail,
					Detail: "release lock: " + err.Error(),
				})
				continue
			}
			result.Items = append(result.Items, CheckItem{
				Label:  string(table),
				Status: StatusPass,
				Detail: fmt.Sprintf("%d records", len(records)),
			})
		}
	}

	return result
}

// EventLogCheck confirms the audit log can be read.
type EventLogCheck struct {
	log events.Reader
}

// NewEventLogCheck creates a check over log.
func NewEventLogCheck(log events.Reader) *EventLogCheck {
	return &EventLogCheck{log: log}
}

func (c *EventLogCheck) Name() string {
	return "Event Log"
}

func (c *EventLogCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	all, err := c.log.List(ctx, events.Filter{})
	if err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "Read events",
			Status: StatusFail,
			Detail: err.Error(),
		})
		return result
	}

	result.Items = append(result.Items, CheckItem{
		Label:  "Read events",
		Status: StatusPass,
		Detail: fmt.Sprintf("%d events", len(all)),
	})
	return result
}
