package ratelimit

import (
	"strings"
	"testing"
)

// ── Config validation ─────────────────────────────────────────────────

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string // empty means valid
	}{
		{"zero config is unlimited", Config{}, ""},
		{"typical limits", Config{TokensPerMinute: 90000, RequestsPerMinute: 3500, MaxConcurrent: 10}, ""},
		{"full margin keeps small limits usable", Config{MaxConcurrent: 1, SafetyMargin: 1.0}, ""},
		{"negative limit", Config{RequestsPerMinute: -1}, "negative"},
		{"margin above one", Config{SafetyMargin: 1.5}, "safety margin"},
		{"margin below zero", Config{SafetyMargin: -0.1}, "safety margin"},
		{"concurrency floors to zero", Config{MaxConcurrent: 1}, "floors to 0"},
		{"rps floors to zero", Config{RequestsPerSecond: 1, SafetyMargin: 0.5}, "floors to 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
