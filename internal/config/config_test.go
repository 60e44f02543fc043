package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.SilenceTimeout != 800*time.Millisecond {
		t.Fatalf("SilenceTimeout = %s, want 800ms", cfg.SilenceTimeout)
	}
	if cfg.HotStateWindow != 300*time.Millisecond {
		t.Fatalf("HotStateWindow = %s, want 300ms", cfg.HotStateWindow)
	}
	if cfg.VoiceThreshold != 0.30 {
		t.Fatalf("VoiceThreshold = %v, want 0.30", cfg.VoiceThreshold)
	}
	if cfg.RetryMaxAttempts != 2 {
		t.Fatalf("RetryMaxAttempts = %d, want 2", cfg.RetryMaxAttempts)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("TURN_VOICE_THRESHOLD", "1.5")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() with out-of-range threshold should fail")
	}
	t.Setenv("TURN_VOICE_THRESHOLD", "")
	t.Setenv("APP_SESSION_INACTIVITY_TIMEOUT", "1s")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() with tiny inactivity timeout should fail")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("TURN_SILENCE_TIMEOUT", "650ms")
	t.Setenv("RETRY_MAX_ATTEMPTS", "3")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SilenceTimeout != 650*time.Millisecond {
		t.Fatalf("SilenceTimeout = %s, want 650ms", cfg.SilenceTimeout)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Fatalf("RetryMaxAttempts = %d, want 3", cfg.RetryMaxAttempts)
	}
}
