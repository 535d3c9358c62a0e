package store

import (
	"strings"
	"testing"
	"time"
)

func TestNormalizeSessionName(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already valid", "bases-1", "bases-1"},
		{"upper case", "Bases", "bases"},
		{"spaces", "  first base run ", "first-base-run"},
		{"symbols", "--1B/2B/3B!!", "1b-2b-3b"},
		{"empty", "", "session-20260301-123000"},
		{"only symbols", "!!!", "session-20260301-123000"},
		{"too long", strings.Repeat("ab ", 40), strings.TrimSuffix(strings.Repeat("ab-", 22)[:64], "-")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeSessionName(tt.in, now)
			if got != tt.want {
				t.Errorf("NormalizeSessionName(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if len(got) > MaxSessionNameLength {
				t.Errorf("length %d exceeds max", len(got))
			}
		})
	}
}

func TestValidateDimensions(t *testing.T) {
	tests := []struct {
		name    string
		dims    []string
		wantErr bool
	}{
		{"bases", []string{"1B", "2B", "3B"}, false},
		{"single", []string{"runner"}, false},
		{"blank", []string{"1B", " "}, true},
		{"duplicate", []string{"1B", "1B"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDimensions(tt.dims)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDimensions(%v) error = %v, wantErr %v", tt.dims, err, tt.wantErr)
			}
		})
	}
}
