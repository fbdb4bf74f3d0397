package kalshi

import (
	"testing"
	"time"
)

func TestParseEventDate(t *testing.T) {
	now := time.Date(2026, 7, 15, 16, 30, 0, 0, time.UTC)

	tests := []struct {
		title string
		want  time.Time
		ok    bool
	}{
		{"Highest temperature in Phoenix on Jul 16?", time.Date(2026, 7, 16, 0, 0, 0, 0, time.UTC), true},
		{"Highest temperature in Boston on August 2?", time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC), true},
		// A month before the current one belongs to next year.
		{"Highest temperature in Seattle on Jan 5?", time.Date(2027, 1, 5, 0, 0, 0, 0, time.UTC), true},
		{"Highest temperature today?", time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC), true},
		{"Highest temperature tomorrow?", time.Date(2026, 7, 16, 0, 0, 0, 0, time.UTC), true},
		{"Will it rain?", time.Time{}, false},
		// Normalizing dates like Feb 30 must not produce March.
		{"Highest temperature on Feb 30?", time.Time{}, false},
	}

	for _, tt := range tests {
		got, ok := ParseEventDate(tt.title, now)
		if ok != tt.ok {
			t.Errorf("ParseEventDate(%q) ok = %v, want %v", tt.title, ok, tt.ok)
			continue
		}
		if ok && !got.Equal(tt.want) {
			t.Errorf("ParseEventDate(%q) = %s, want %s", tt.title, got, tt.want)
		}
	}
}
