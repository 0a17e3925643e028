package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/hay-kot/warren/internal/core/errs"
)

func TestChannelName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid name", "ops", false},
		{"valid with spaces", "build team", false},
		{"valid with separators", "release_2-final", false},
		{"empty string", "", true},
		{"punctuation", "ops!", true},
		{"slash", "a/b", true},
		{"newline", "a\nb", true},
		{"unicode letters", "équipe", true},
		{"at limit", strings.Repeat("a", 100), false},
		{"over limit", strings.Repeat("a", 101), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ChannelName(tt.input, 0)
			if (err != nil) != tt.wantErr {
				t.Errorf("ChannelName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestDescription(t *testing.T) {
	if err := Description(strings.Repeat("d", 500), 0); err != nil {
		t.Errorf("Description at limit: %v", err)
	}
	if err := Description(strings.Repeat("d", 501), 0); err == nil {
		t.Error("Description over limit should fail")
	}
	if err := Description("short", 3); err == nil {
		t.Error("Description should honour a custom limit")
	}
}

func TestMessageBody(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid", "hello", nil},
		{"at limit", strings.Repeat("x", 1000), nil},
		{"multibyte at limit", strings.Repeat("é", 1000), nil},
		{"over limit", strings.Repeat("x", 1001), errs.ErrMessageTooLong},
		{"empty", "", errs.ErrValidation},
		{"whitespace", "  \n", errs.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MessageBody(tt.input, 0)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("MessageBody() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("MessageBody() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "agent-1", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"control character", "agent\x00", true},
		{"too long", strings.Repeat("a", 256), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Identifier("agent_id", tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Identifier(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errs.ErrValidation) {
				t.Errorf("Identifier(%q) error should be a validation error", tt.input)
			}
		})
	}
}
