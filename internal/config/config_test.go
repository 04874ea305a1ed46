package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFromEnv_RequiredAndDefaults(t *testing.T) {
	t.Setenv("STATE_BUCKET", "wf-state")
	t.Setenv("STATE_PREFIX", "")
	t.Setenv("QUEUE_URL", "https://queue.example/q1")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.StateBucket != "wf-state" {
		t.Fatalf("bucket = %q", cfg.StateBucket)
	}
	if cfg.StatePrefix != "wf/" {
		t.Fatalf("prefix default = %q", cfg.StatePrefix)
	}
	if cfg.QueueURL != "https://queue.example/q1" {
		t.Fatalf("queue = %q", cfg.QueueURL)
	}
}

func TestFromEnv_PrefixNormalizedToTrailingSlash(t *testing.T) {
	t.Setenv("STATE_BUCKET", "wf-state")
	t.Setenv("STATE_PREFIX", "flows")
	t.Setenv("QUEUE_URL", "https://queue.example/q1")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.StatePrefix != "flows/" {
		t.Fatalf("prefix = %q", cfg.StatePrefix)
	}
}

func TestFromEnv_MissingRequired(t *testing.T) {
	t.Setenv("STATE_BUCKET", "")
	t.Setenv("QUEUE_URL", "https://queue.example/q1")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for missing STATE_BUCKET")
	}

	t.Setenv("STATE_BUCKET", "wf-state")
	t.Setenv("QUEUE_URL", "")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for missing QUEUE_URL")
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tideflow.yaml")
	data := []byte("state_bucket: wf-state\nstate_prefix: flows\nqueue_url: https://queue.example/q1\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	if cfg.StateBucket != "wf-state" || cfg.StatePrefix != "flows/" || cfg.QueueURL == "" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestFromFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := FromFile(path); err == nil {
		t.Fatalf("expected parse error")
	}

	if _, err := FromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}
