package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"streamchat/pkg/ai"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
	LogsDir  string `yaml:"logsDir"`

	StoreDriver string `yaml:"storeDriver"`
	DatabaseURL string `yaml:"databaseURL"`

	AuthJWKSURL string   `yaml:"authJwksURL"`
	JWTSecret   string   `yaml:"jwtSecret"`
	JWTIssuer   string   `yaml:"jwtIssuer"`
	JWTAudience string   `yaml:"jwtAudience"`
	JWTLeeway   string   `yaml:"jwtLeeway"`
	CORSOrigins []string `yaml:"corsOrigins"`

	Models               []ai.ModelDescriptor `yaml:"models"`
	DefaultModel         string               `yaml:"defaultModel"`
	SystemPrompt         string               `yaml:"systemPrompt"`
	StreamTimeoutSeconds int                  `yaml:"streamTimeoutSeconds"`
	GeminiAPIKey         string               `yaml:"geminiAPIKey"`
	GeminiBaseURL        string               `yaml:"geminiBaseURL"`
	OpenAIBaseURL        string               `yaml:"openaiBaseURL"`
	OpenAIAPIKey         string               `yaml:"openaiAPIKey"`
	OllamaBaseURL        string               `yaml:"ollamaBaseURL"`

	RedisAddr        string `yaml:"redisAddr"`
	RedisPassword    string `yaml:"redisPassword"`
	TitleModel       string `yaml:"titleModel"`
	TitleQueueName   string `yaml:"titleQueueName"`
	TitleQueueGroup  string `yaml:"titleQueueGroup"`
	TitleConcurrency int    `yaml:"titleConcurrency"`
	TitleMaxRetries  int    `yaml:"titleMaxRetries"`

	StorageDriver    string `yaml:"storageDriver"`
	MinioEndpoint    string `yaml:"minioEndpoint"`
	MinioAccessKey   string `yaml:"minioAccessKey"`
	MinioSecretKey   string `yaml:"minioSecretKey"`
	MinioBucket      string `yaml:"minioBucket"`
	MinioUseSSL      bool   `yaml:"minioUseSSL"`
	LocalStoragePath string `yaml:"localStoragePath"`
	PublicFilesURL   string `yaml:"publicFilesURL"`
}

// Load reads config from path (defaults to config.yaml). A .env file next to
// it is loaded first without overriding variables already set.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return cfg, fmt.Errorf("load %s: %w", envPath, err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString("CHAT_PORT", &cfg.Port)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("LOGS_DIR", &cfg.LogsDir)
	setString("CHAT_STORE_DRIVER", &cfg.StoreDriver)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("AUTH_JWKS_URL", &cfg.AuthJWKSURL)
	setString("JWT_SECRET", &cfg.JWTSecret)
	setString("JWT_ISSUER", &cfg.JWTIssuer)
	setString("JWT_AUDIENCE", &cfg.JWTAudience)
	setString("JWT_LEEWAY", &cfg.JWTLeeway)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = strings.Split(v, ",")
	}
	setString("CHAT_DEFAULT_MODEL", &cfg.DefaultModel)
	setString("CHAT_SYSTEM_PROMPT", &cfg.SystemPrompt)
	setInt("CHAT_STREAM_TIMEOUT_SECONDS", &cfg.StreamTimeoutSeconds)
	setString("GEMINI_API_KEY", &cfg.GeminiAPIKey)
	setString("GEMINI_BASE_URL", &cfg.GeminiBaseURL)
	setString("OPENAI_BASE_URL", &cfg.OpenAIBaseURL)
	setString("OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	setString("OLLAMA_BASE_URL", &cfg.OllamaBaseURL)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)
	setString("CHAT_TITLE_MODEL", &cfg.TitleModel)
	setString("CHAT_TITLE_QUEUE_NAME", &cfg.TitleQueueName)
	setString("CHAT_TITLE_QUEUE_GROUP", &cfg.TitleQueueGroup)
	setInt("CHAT_TITLE_CONCURRENCY", &cfg.TitleConcurrency)
	setInt("CHAT_TITLE_MAX_RETRIES", &cfg.TitleMaxRetries)
	setString("CHAT_STORAGE_DRIVER", &cfg.StorageDriver)
	setString("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	setString("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	setString("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	setString("MINIO_BUCKET", &cfg.MinioBucket)
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	setString("LOCAL_STORAGE_PATH", &cfg.LocalStoragePath)
	setString("PUBLIC_FILES_URL", &cfg.PublicFilesURL)
}

func applyDefaults(cfg *FileConfig) {
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "postgres"
	}
	if len(cfg.Models) == 0 {
		cfg.Models = ai.BuiltinModels()
		if cfg.DefaultModel == "" {
			cfg.DefaultModel = ai.DefaultModelID
		}
	}
	if cfg.TitleQueueName == "" {
		cfg.TitleQueueName = "chat:titles"
	}
	if cfg.TitleQueueGroup == "" {
		cfg.TitleQueueGroup = "chat-title-workers"
	}
	if cfg.TitleConcurrency <= 0 {
		cfg.TitleConcurrency = 1
	}
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = "none"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or CHAT_PORT)")
	}
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
		}
	case "memory":
	default:
		return fmt.Errorf("config: storeDriver must be postgres or memory, got %q", cfg.StoreDriver)
	}
	if strings.TrimSpace(cfg.AuthJWKSURL) == "" && strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: authJwksURL or jwtSecret is required (AUTH_JWKS_URL / JWT_SECRET)")
	}
	if _, err := ParseJWTLeeway(cfg.JWTLeeway); err != nil {
		return err
	}
	registry, err := ai.NewRegistry(cfg.Models, cfg.DefaultModel)
	if err != nil {
		return fmt.Errorf("config: models: %w", err)
	}
	for _, m := range registry.List() {
		switch m.Provider {
		case ai.ProviderGemini:
			if cfg.GeminiAPIKey == "" {
				return fmt.Errorf("config: model %s needs geminiAPIKey (or GEMINI_API_KEY)", m.ID)
			}
		case ai.ProviderOpenAI:
			if cfg.OpenAIBaseURL == "" {
				return fmt.Errorf("config: model %s needs openaiBaseURL (or OPENAI_BASE_URL)", m.ID)
			}
		case ai.ProviderOllama:
		default:
			return fmt.Errorf("config: model %s has unknown provider %q", m.ID, m.Provider)
		}
	}
	if cfg.TitleModel != "" {
		if _, ok := registry.Lookup(cfg.TitleModel); !ok {
			return fmt.Errorf("config: titleModel %s is not a registered model", cfg.TitleModel)
		}
		if cfg.RedisAddr == "" {
			return errors.New("config: titleModel requires redisAddr (or REDIS_ADDR)")
		}
	}
	if cfg.StreamTimeoutSeconds < 0 {
		return errors.New("config: streamTimeoutSeconds must be >= 0")
	}
	switch cfg.StorageDriver {
	case "none":
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: storageDriver=minio requires minioEndpoint and minioBucket")
		}
	case "local":
		if cfg.LocalStoragePath == "" {
			return errors.New("config: storageDriver=local requires localStoragePath")
		}
	default:
		return fmt.Errorf("config: storageDriver must be none, minio or local, got %q", cfg.StorageDriver)
	}
	return nil
}

// ParseJWTLeeway parses a Go duration. Empty means the verifier default.
func ParseJWTLeeway(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("config: invalid jwtLeeway %q", raw)
	}
	return d, nil
}

// StreamTimeout returns the per-turn deadline, or zero for none.
func (c FileConfig) StreamTimeout() time.Duration {
	return time.Duration(c.StreamTimeoutSeconds) * time.Second
}
