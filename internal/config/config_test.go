package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"SUMMARIZE_SIZE_THRESHOLD", "MAX_CONVERSATION_SIZE", "CHANNEL_SIZE_THRESHOLD",
		"QUICK_RESPONSE_TIME_SECONDS", "DEFAULT_ACTIVITY",
	} {
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.History.SummarizeSizeThreshold != 4000 {
		t.Errorf("expected default SummarizeSizeThreshold 4000, got %d", cfg.History.SummarizeSizeThreshold)
	}
	if cfg.History.MaxConversationSize != 50000 {
		t.Errorf("expected default MaxConversationSize 50000, got %d", cfg.History.MaxConversationSize)
	}
	if cfg.Runtime.DefaultActivity != "conversing" {
		t.Errorf("expected default activity 'conversing', got %q", cfg.Runtime.DefaultActivity)
	}
	if cfg.Wakeup.QuickResponseTime != 2*time.Second {
		t.Errorf("expected default quick response time 2s, got %s", cfg.Wakeup.QuickResponseTime)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	os.Setenv("SUMMARIZE_SIZE_THRESHOLD", "9000")
	os.Setenv("DEFAULT_ACTIVITY", "sleeping")
	defer os.Unsetenv("SUMMARIZE_SIZE_THRESHOLD")
	defer os.Unsetenv("DEFAULT_ACTIVITY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.History.SummarizeSizeThreshold != 9000 {
		t.Errorf("expected overridden threshold 9000, got %d", cfg.History.SummarizeSizeThreshold)
	}
	if cfg.Runtime.DefaultActivity != "sleeping" {
		t.Errorf("expected overridden activity 'sleeping', got %q", cfg.Runtime.DefaultActivity)
	}
}

func TestIntFromEnvInvalidFallsBackToDefault(t *testing.T) {
	os.Setenv("CHANNEL_SIZE_THRESHOLD", "not-a-number")
	defer os.Unsetenv("CHANNEL_SIZE_THRESHOLD")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.History.ChannelSizeThreshold != 20000 {
		t.Errorf("expected fallback to default 20000, got %d", cfg.History.ChannelSizeThreshold)
	}
}
