package security

import (
	"testing"
	"time"
)

func TestExpiredAtInstant(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"one second in the past", now.Add(-time.Second), true},
		{"one second in the future", now.Add(time.Second), false},
		{"exactly now", now, true},
		{"zero means no expiry", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpiredAtInstant(now, tt.expiresAt); got != tt.want {
				t.Errorf("ExpiredAtInstant(%v, %v) = %v, want %v", now, tt.expiresAt, got, tt.want)
			}
		})
	}

	// Purity: repeated calls with identical inputs give identical answers
	for i := 0; i < 3; i++ {
		if !ExpiredAtInstant(now, now.Add(-time.Second)) {
			t.Fatal("ExpiredAtInstant is not deterministic")
		}
	}
}

func TestIsExpiringSoon(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		threshold time.Duration
		want      bool
	}{
		{"zero time", time.Time{}, time.Minute, false},
		{"expires within threshold", time.Now().Add(30 * time.Second), time.Minute, true},
		{"expires beyond threshold", time.Now().Add(time.Hour), time.Minute, false},
		{"already expired", time.Now().Add(-time.Minute), time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpiringSoon(tt.expiresAt, tt.threshold); got != tt.want {
				t.Errorf("IsExpiringSoon() = %v, want %v", got, tt.want)
			}
		})
	}
}
