package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	content := `workers: 8
default_memory_limit: 256mb
retry_backoff: 500ms
notifications_log: /var/log/flow/notifications.log
workdir: /srv/builds
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Workers != 8 {
		t.Errorf("workers = %d", cfg.Workers)
	}
	if int64(cfg.DefaultMemoryLimit) != 256*1024*1024 {
		t.Errorf("default_memory_limit = %d", cfg.DefaultMemoryLimit)
	}
	if time.Duration(cfg.RetryBackoff) != 500*time.Millisecond {
		t.Errorf("retry_backoff = %v", time.Duration(cfg.RetryBackoff))
	}
	if cfg.NotificationsLog != "/var/log/flow/notifications.log" {
		t.Errorf("notifications_log = %q", cfg.NotificationsLog)
	}
	if cfg.Workdir != "/srv/builds" {
		t.Errorf("workdir = %q", cfg.Workdir)
	}
}

func TestLoadPartialFileKeepsZeroDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	if err := os.WriteFile(path, []byte("workers: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Workers != 2 || cfg.DefaultMemoryLimit != 0 || cfg.RetryBackoff != 0 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"512b", 512},
		{"64kb", 64 * 1024},
		{"256mb", 256 * 1024 * 1024},
		{"1gb", 1 << 30},
		{"1024", 1024},
		{"128MB", 128 * 1024 * 1024},
	}
	for _, tc := range cases {
		got, err := ParseByteSize(tc.in)
		if err != nil {
			t.Errorf("ParseByteSize(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"", "abc", "-5mb", "10tb"} {
		if _, err := ParseByteSize(bad); err == nil {
			t.Errorf("ParseByteSize(%q) accepted", bad)
		}
	}
}
