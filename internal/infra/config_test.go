package infra

import (
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("STREAM_STORE", "")
	t.Setenv("STREAM_FLUSH_INTERVAL", "")
	t.Setenv("STREAM_POLL_INTERVAL", "")
	t.Setenv("STREAM_KEEPALIVE_INTERVAL", "")
	t.Setenv("STREAM_MAX_ACTIVE", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
}

func TestLoadConfigDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port mismatch: got %q want %q", cfg.Port, "8080")
	}
	if cfg.StoreBackend != "memory" {
		t.Fatalf("StoreBackend mismatch: got %q want %q", cfg.StoreBackend, "memory")
	}
	if cfg.FlushInterval != 250*time.Millisecond {
		t.Fatalf("FlushInterval mismatch: got %s want 250ms", cfg.FlushInterval)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Fatalf("PollInterval mismatch: got %s want 500ms", cfg.PollInterval)
	}
	if cfg.KeepaliveInterval != 15*time.Second {
		t.Fatalf("KeepaliveInterval mismatch: got %s want 15s", cfg.KeepaliveInterval)
	}
	if cfg.MaxActiveStreams != 32 {
		t.Fatalf("MaxActiveStreams mismatch: got %d want 32", cfg.MaxActiveStreams)
	}
	if cfg.OpenAIModel != "gpt-4o-mini" {
		t.Fatalf("OpenAIModel mismatch: got %q want %q", cfg.OpenAIModel, "gpt-4o-mini")
	}
	if cfg.AMQPExchange != "or3.notifications" {
		t.Fatalf("AMQPExchange mismatch: got %q want %q", cfg.AMQPExchange, "or3.notifications")
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "http://localhost:3000" {
		t.Fatalf("CORSAllowedOrigins mismatch: %#v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfigRequiresJWTSecret(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("JWT_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig accepted empty JWT_SECRET")
	}
}

func TestLoadConfigValidatesStoreBackend(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"postgres without url", map[string]string{"STREAM_STORE": "postgres", "DATABASE_URL": ""}},
		{"redis without url", map[string]string{"STREAM_STORE": "redis", "REDIS_URL": ""}},
		{"unknown backend", map[string]string{"STREAM_STORE": "etcd"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatal("LoadConfig accepted invalid store configuration")
			}
		})
	}
}

func TestLoadConfigAcceptsPostgresWithURL(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STREAM_STORE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://example")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StoreBackend != "postgres" {
		t.Fatalf("StoreBackend mismatch: got %q want %q", cfg.StoreBackend, "postgres")
	}
}

func TestLoadConfigRejectsFlushSlowerThanPoll(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STREAM_FLUSH_INTERVAL", "2s")
	t.Setenv("STREAM_POLL_INTERVAL", "1s")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig accepted a flush interval slower than the poll interval")
	}
}

func TestLoadConfigParsesOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STREAM_FLUSH_INTERVAL", "100ms")
	t.Setenv("STREAM_POLL_INTERVAL", "200ms")
	t.Setenv("STREAM_TIMEOUT", "90s")
	t.Setenv("STREAM_MAX_ACTIVE", "4")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://one.example, https://two.example ")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.FlushInterval != 100*time.Millisecond {
		t.Fatalf("FlushInterval mismatch: got %s want 100ms", cfg.FlushInterval)
	}
	if cfg.StreamTimeout != 90*time.Second {
		t.Fatalf("StreamTimeout mismatch: got %s want 90s", cfg.StreamTimeout)
	}
	if cfg.MaxActiveStreams != 4 {
		t.Fatalf("MaxActiveStreams mismatch: got %d want 4", cfg.MaxActiveStreams)
	}
	expected := []string{"https://one.example", "https://two.example"}
	if len(cfg.CORSAllowedOrigins) != len(expected) {
		t.Fatalf("CORSAllowedOrigins mismatch: got %#v want %#v", cfg.CORSAllowedOrigins, expected)
	}
	for i, origin := range expected {
		if cfg.CORSAllowedOrigins[i] != origin {
			t.Fatalf("CORSAllowedOrigins[%d] = %q, want %q", i, cfg.CORSAllowedOrigins[i], origin)
		}
	}
}
