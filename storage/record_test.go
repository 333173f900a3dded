package storage

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewTokenRecordDerivesExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	record := NewTokenRecord("access", "Bearer", 3600, "refresh", "playlist-read", now)

	want := now.Add(time.Hour)
	if !record.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", record.ExpiresAt, want)
	}
	if record.AccessToken != "access" || record.RefreshToken != "refresh" {
		t.Error("record fields not populated")
	}
}

func TestTokenRecordExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"one second past", now.Add(-time.Second), true},
		{"one second ahead", now.Add(time.Second), false},
		{"exactly now", now, true},
		{"zero expiry", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := &TokenRecord{AccessToken: "a", ExpiresAt: tt.expiresAt}
			if got := record.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}

	var nilRecord *TokenRecord
	if !nilRecord.Expired(now) {
		t.Error("nil record should report expired")
	}
}

func TestTokenRecordMerge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := NewTokenRecord("old-access", "Bearer", 3600, "R1", "playlist-read", now)

	t.Run("provider omits refresh token", func(t *testing.T) {
		refreshed := NewTokenRecord("new-access", "Bearer", 3600, "", "", now.Add(time.Hour))

		merged := old.Merge(refreshed)

		if merged.RefreshToken != "R1" {
			t.Errorf("RefreshToken = %q, want retained R1", merged.RefreshToken)
		}
		if merged.AccessToken != "new-access" {
			t.Errorf("AccessToken = %q, want new-access", merged.AccessToken)
		}
		if merged.Scope != "playlist-read" {
			t.Errorf("Scope = %q, want retained scope", merged.Scope)
		}
		if !merged.ExpiresAt.Equal(now.Add(2 * time.Hour)) {
			t.Errorf("ExpiresAt = %v, want refreshed expiry", merged.ExpiresAt)
		}
	})

	t.Run("provider rotates refresh token", func(t *testing.T) {
		refreshed := NewTokenRecord("new-access", "Bearer", 3600, "R2", "", now)

		merged := old.Merge(refreshed)

		if merged.RefreshToken != "R2" {
			t.Errorf("RefreshToken = %q, want rotated R2", merged.RefreshToken)
		}
	})

	t.Run("old record unchanged", func(t *testing.T) {
		refreshed := NewTokenRecord("new-access", "Bearer", 3600, "R2", "", now)
		old.Merge(refreshed)

		if old.AccessToken != "old-access" || old.RefreshToken != "R1" {
			t.Error("Merge mutated the receiver")
		}
	})

	t.Run("nil refreshed", func(t *testing.T) {
		if merged := old.Merge(nil); merged != old {
			t.Error("Merge(nil) should return receiver")
		}
	})
}

func TestForceExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := NewTokenRecord("access", "Bearer", 3600, "R1", "", now)

	expired := record.ForceExpired(now)

	if !expired.Expired(now) {
		t.Error("ForceExpired record should be expired at now")
	}
	if record.Expired(now) {
		t.Error("ForceExpired mutated the original")
	}
	if expired.RefreshToken != "R1" {
		t.Error("ForceExpired dropped the refresh token")
	}
}

func TestTokenTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	grace := 30 * time.Minute

	tests := []struct {
		name      string
		expiresAt time.Time
		want      time.Duration
	}{
		{"one hour ahead", now.Add(time.Hour), time.Hour + grace},
		{"zero expiry", time.Time{}, 0},
		{"long past", now.Add(-2 * grace), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := &TokenRecord{ExpiresAt: tt.expiresAt}
			if got := TokenTTL(record, now, grace); got != tt.want {
				t.Errorf("TokenTTL() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenRecordJSONUsesRFC3339(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := NewTokenRecord("access", "Bearer", 3600, "refresh", "scope", now)

	data, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	if !strings.Contains(string(data), `"expires_at":"2026-03-01T13:00:00Z"`) {
		t.Errorf("expires_at not serialized as RFC 3339: %s", data)
	}

	var decoded TokenRecord
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !decoded.ExpiresAt.Equal(record.ExpiresAt) {
		t.Errorf("round-trip ExpiresAt = %v, want %v", decoded.ExpiresAt, record.ExpiresAt)
	}
}
