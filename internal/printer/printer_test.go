package printer

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"

	"github.com/hay-kot/warren/internal/core/errs"
)

func TestFatalError_TitlesByClass(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		title string
		retry bool
	}{
		{"not found", errs.E("channel.get", "channels", "ops", errs.NotFound("channel", "ops")), "Not Found", false},
		{"validation", errs.Validation("name is empty"), "Invalid Input", false},
		{"duplicate", fmt.Errorf("create: %w", errs.ErrDuplicateName), "Already Exists", false},
		{"lock timeout", errs.E("queue.claim", "queued_files", "", errs.ErrLockTimeout), "Lock Timeout", true},
		{"storage", errs.Storage(errors.New("disk full")), "Storage Error", false},
		{"plain", errors.New("boom"), "Error", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			New(&buf).FatalError(tt.err)

			out := buf.String()
			assert.Contains(t, out, "╭ "+tt.title+ColorReset)
			assert.Contains(t, out, tt.err.Error())
			if tt.retry {
				assert.Contains(t, out, "retry")
			} else {
				assert.NotContains(t, out, "retry")
			}
		})
	}
}

func TestFatalError_FieldErrors(t *testing.T) {
	var b criterio.FieldErrorsBuilder
	b = b.Append("backend.kind", errors.New("unknown backend"))
	err := fmt.Errorf("load config: invalid config: %w", b.ToError())

	var buf bytes.Buffer
	New(&buf).FatalError(err)

	out := buf.String()
	assert.Contains(t, out, "Validation Error")
	assert.Contains(t, out, "backend.kind: ")
	assert.Contains(t, out, "unknown backend")
}

func TestFatalError_Nil(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).FatalError(nil)
	assert.Zero(t, buf.Len())
}
