package config

import (
	"strings"
	"testing"
	"time"
)

// setRequired populates the variables without which Load refuses to start.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SECRET_KEY", "test-secret-at-least-32-chars-long!!")
	t.Setenv("PLATFORM_TOKEN", "platform-token")
	t.Setenv("ADMIN_USERNAME", "admin")
	t.Setenv("ADMIN_PASSWORD", "hunter2hunter2")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want 8080", cfg.ServerPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.StorePoolSize != 20 || cfg.StorePoolOverflow != 30 {
		t.Errorf("store pool = %d/%d, want 20/30", cfg.StorePoolSize, cfg.StorePoolOverflow)
	}
	if cfg.TokenExpire != 24*time.Hour {
		t.Errorf("TokenExpire = %v, want 24h", cfg.TokenExpire)
	}
	if cfg.IngestQueueSize != 1024 || cfg.IngestWorkers != 8 {
		t.Errorf("ingest = %d/%d, want 1024/8", cfg.IngestQueueSize, cfg.IngestWorkers)
	}
	if cfg.LogWriterBatch != 64 || cfg.LogWriterFlush != 250*time.Millisecond {
		t.Errorf("log writer = %d/%v, want 64/250ms", cfg.LogWriterBatch, cfg.LogWriterFlush)
	}
	if cfg.LiveStatsInterval != 5*time.Second {
		t.Errorf("LiveStatsInterval = %v, want 5s", cfg.LiveStatsInterval)
	}
}

func TestLoadMissingSecretKey(t *testing.T) {
	setRequired(t)
	t.Setenv("SECRET_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() without SECRET_KEY should return error")
	}
}

func TestLoadShortSecretKey(t *testing.T) {
	setRequired(t)
	t.Setenv("SECRET_KEY", "too-short")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() with short SECRET_KEY should return error")
	}
	if !strings.Contains(err.Error(), "SECRET_KEY") {
		t.Errorf("error = %v, want mention of SECRET_KEY", err)
	}
}

func TestLoadMissingPlatformToken(t *testing.T) {
	setRequired(t)
	t.Setenv("PLATFORM_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() without PLATFORM_TOKEN should return error")
	}
}

func TestLoadInvalidInt(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_PORT", "not-a-number")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() with invalid SERVER_PORT should return error")
	}
	if !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Errorf("error = %v, want mention of SERVER_PORT", err)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("PLATFORM_TIMEOUT", "ten seconds")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with invalid PLATFORM_TIMEOUT should return error")
	}
}

func TestLoadReportsAllErrors(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_PORT", "0")
	t.Setenv("LOG_WRITER_BATCH", "0")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() should return error")
	}
	if !strings.Contains(err.Error(), "SERVER_PORT") || !strings.Contains(err.Error(), "LOG_WRITER_BATCH") {
		t.Errorf("error = %v, want both SERVER_PORT and LOG_WRITER_BATCH reported", err)
	}
}

func TestCORSOrigins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"wildcard", "*", []string{"*"}},
		{"list", "https://a.example, https://b.example", []string{"https://a.example", "https://b.example"}},
		{"trailing comma", "https://a.example,", []string{"https://a.example"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{AllowedOrigins: tt.raw}
			got := cfg.CORSOrigins()
			if len(got) != len(tt.want) {
				t.Fatalf("CORSOrigins() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("CORSOrigins()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestMaxStoreConns(t *testing.T) {
	t.Parallel()

	cfg := &Config{StorePoolSize: 20, StorePoolOverflow: 30}
	if got := cfg.MaxStoreConns(); got != 50 {
		t.Errorf("MaxStoreConns() = %d, want 50", got)
	}
}
