package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoadAppliesDefaultsAndEnvOverrides(t *testing.T) {
	t.Setenv("CHAT_PORT", "9090")
	t.Setenv("GEMINI_API_KEY", "from-env")
	t.Setenv("CHAT_STREAM_TIMEOUT_SECONDS", "120")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfgPath := writeConfig(t, `
port: "8083"
logLevel: "info"
storeDriver: "memory"
jwtSecret: "0123456789abcdef0123456789abcdef"
`)
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("port = %q, want 9090", cfg.Port)
	}
	if cfg.GeminiAPIKey != "from-env" {
		t.Fatalf("geminiAPIKey = %q, want from-env", cfg.GeminiAPIKey)
	}
	if cfg.DefaultModel != "gemini-2.0-flash-lite" || len(cfg.Models) != 2 {
		t.Fatalf("expected builtin models, got default=%q models=%d", cfg.DefaultModel, len(cfg.Models))
	}
	if cfg.StreamTimeout() != 2*time.Minute {
		t.Fatalf("stream timeout = %v, want 2m", cfg.StreamTimeout())
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Fatalf("cors origins = %v", cfg.CORSOrigins)
	}
	if cfg.StorageDriver != "none" || cfg.TitleQueueName != "chat:titles" {
		t.Fatalf("unexpected defaults: storage=%q queue=%q", cfg.StorageDriver, cfg.TitleQueueName)
	}
}

func TestLoadReadsDotEnvNextToConfig(t *testing.T) {
	cfgPath := writeConfig(t, `
port: "8083"
storeDriver: "memory"
models:
  - id: local
    name: Local Llama
    provider: ollama
    upstream: llama3.1:8b
    thinking: true
`)
	envPath := filepath.Join(filepath.Dir(cfgPath), ".env")
	if err := os.WriteFile(envPath, []byte("JWT_SECRET=0123456789abcdef0123456789abcdef\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("JWT_SECRET") })

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.JWTSecret == "" {
		t.Fatal("expected jwtSecret from .env")
	}
	if cfg.Models[0].UpstreamModel() != "llama3.1:8b" || !cfg.Models[0].Thinking {
		t.Fatalf("unexpected model: %+v", cfg.Models[0])
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]struct {
		yaml string
		want string
	}{
		"missing auth": {
			yaml: "port: \"1\"\nstoreDriver: memory\ngeminiAPIKey: k\n",
			want: "authJwksURL or jwtSecret",
		},
		"postgres without dsn": {
			yaml: "port: \"1\"\njwtSecret: s\ngeminiAPIKey: k\n",
			want: "databaseURL",
		},
		"gemini without key": {
			yaml: "port: \"1\"\nstoreDriver: memory\njwtSecret: s\n",
			want: "geminiAPIKey",
		},
		"unknown default": {
			yaml: "port: \"1\"\nstoreDriver: memory\njwtSecret: s\ngeminiAPIKey: k\ndefaultModel: nope\n",
			want: "default model",
		},
		"title without redis": {
			yaml: "port: \"1\"\nstoreDriver: memory\njwtSecret: s\ngeminiAPIKey: k\ntitleModel: gemini-2.0-flash\n",
			want: "redisAddr",
		},
		"minio without bucket": {
			yaml: "port: \"1\"\nstoreDriver: memory\njwtSecret: s\ngeminiAPIKey: k\nstorageDriver: minio\nminioEndpoint: localhost:9000\n",
			want: "minioBucket",
		},
		"bad leeway": {
			yaml: "port: \"1\"\nstoreDriver: memory\njwtSecret: s\ngeminiAPIKey: k\njwtLeeway: soon\n",
			want: "jwtLeeway",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
