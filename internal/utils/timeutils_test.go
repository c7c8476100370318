package utils

import (
	"testing"
	"time"
)

func TestParseWindow(t *testing.T) {
	cases := []struct {
		input string
		want  time.Duration
	}{
		{"30m", 30 * time.Minute},
		{"2h", 2 * time.Hour},
		{"1d", 24 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"", DefaultWindow},
		{"garbage", DefaultWindow},
		{"-5m", DefaultWindow},
		{"0h", DefaultWindow},
		{"10x", DefaultWindow},
	}

	for _, tc := range cases {
		if got := ParseWindow(tc.input); got != tc.want {
			t.Fatalf("ParseWindow(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestWindowStart(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	got := WindowStart("2h", now)
	want := now.Add(-2 * time.Hour)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestParseInterval(t *testing.T) {
	if got := ParseInterval("1m"); got != time.Minute {
		t.Fatalf("expected 1m, got %v", got)
	}
	if got := ParseInterval("bogus"); got != 5*time.Minute {
		t.Fatalf("expected 5m fallback, got %v", got)
	}
}
