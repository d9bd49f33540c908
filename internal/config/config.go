// Package config loads this service's configuration from environment
// variables, with an optional config/default.yaml overlay for the values
// operators tune without a redeploy. Matches the env-first,
// yaml-second precedence cmd/server/main.go and cmd/ai-service/main.go
// both use, plus a hot-reload watcher grounded on internal/license/watcher.go.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/changedetect"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/ratelimit"
)

// Config is the full set of tunables for the compliance-api service.
type Config struct {
	// HTTP transport
	ListenAddr string `yaml:"listen_addr"`

	// Persistence
	DatabaseURL    string `yaml:"database_url"`
	ReportSpoolDir string `yaml:"report_spool_dir"`

	// Redis-backed rate limiting
	RedisAddr string `yaml:"redis_addr"`

	// Eventing
	NatsURL string `yaml:"nats_url"`

	// Change Detector tunables (spec.md §6)
	DetectCfg changedetect.Config `yaml:"-"`

	// AI providers
	Vision    ProviderConfig `yaml:"vision"`
	Speech    ProviderConfig `yaml:"speech"`
	RemoteGPU ProviderConfig `yaml:"remote_gpu"`

	// Rate limits, one LimitConfig per service (spec.md §4.2)
	RateLimits map[string]ratelimit.LimitConfig `yaml:"rate_limits"`

	// Frame-submission dedup (internal/dedup)
	DedupMaxKeys int           `yaml:"dedup_max_keys"`
	DedupTTL     time.Duration `yaml:"-"`

	// Where captured keyframe JPEGs are written on disk (optional; empty
	// disables keyframe persistence)
	KeyframeDir string `yaml:"keyframe_dir"`

	// Bearer-token auth
	JWTSecret string `yaml:"-"`

	// Clients maps client_id to an argon2id-hashed client_secret, checked
	// by POST /auth/token before issuing access/refresh tokens. Populated
	// from CLIENT_CREDENTIALS ("id:hash,id2:hash2"), never from yaml.
	Clients map[string]string `yaml:"-"`
}

// ProviderConfig is the connection + model info for one AI provider.
type ProviderConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"-"` // never read from yaml, env only
	Model     string        `yaml:"model"`
	EvalModel string        `yaml:"eval_model,omitempty"`
	Timeout   time.Duration `yaml:"-"`
}

// Default returns the baked-in defaults, before any env/yaml overlay is
// applied.
func Default() Config {
	return Config{
		ListenAddr:     ":8080",
		DatabaseURL:    "postgres://localhost:5432/compliance?sslmode=disable",
		ReportSpoolDir: "/var/lib/compliance-api/report_spool",
		RedisAddr:      "localhost:6379",
		NatsURL:        "nats://localhost:4222",
		DetectCfg:      changedetect.DefaultConfig(),
		Vision: ProviderConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o",
			EvalModel: "gpt-4o",
			Timeout:   60 * time.Second,
		},
		Speech: ProviderConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "whisper-1",
			Timeout: 90 * time.Second,
		},
		RemoteGPU: ProviderConfig{
			Timeout: 300 * time.Second,
		},
		RateLimits: map[string]ratelimit.LimitConfig{
			"vision":     {MaxPerMinute: 60, MaxPerHour: 1000},
			"speech":     {MaxPerMinute: 30, MaxPerHour: 500},
			"remote_gpu": {MaxPerMinute: 10, MaxPerHour: 100},
		},
		DedupMaxKeys: 1024,
		DedupTTL:     30 * time.Second,
	}
}

// Load builds a Config by starting from Default(), overlaying
// config/default.yaml (or the path named by CONFIG_FILE) if present, then
// applying environment variable overrides on top — env wins, matching the
// house precedence in cmd/server/main.go and cmd/ai-service/main.go.
func Load() (Config, error) {
	cfg := Default()

	path := getEnv("CONFIG_FILE", "config/default.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.ListenAddr = getEnv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.ReportSpoolDir = getEnv("REPORT_SPOOL_DIR", cfg.ReportSpoolDir)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.NatsURL = getEnv("NATS_URL", cfg.NatsURL)
	cfg.KeyframeDir = getEnv("KEYFRAME_DIR", cfg.KeyframeDir)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)

	cfg.Vision.BaseURL = getEnv("VISION_BASE_URL", cfg.Vision.BaseURL)
	cfg.Vision.APIKey = getEnv("VISION_API_KEY", cfg.Vision.APIKey)
	cfg.Vision.Model = getEnv("VISION_MODEL", cfg.Vision.Model)
	cfg.Vision.EvalModel = getEnv("VISION_EVAL_MODEL", cfg.Vision.EvalModel)

	cfg.Speech.BaseURL = getEnv("SPEECH_BASE_URL", cfg.Speech.BaseURL)
	cfg.Speech.APIKey = getEnv("SPEECH_API_KEY", cfg.Speech.APIKey)
	cfg.Speech.Model = getEnv("SPEECH_MODEL", cfg.Speech.Model)

	cfg.RemoteGPU.BaseURL = getEnv("REMOTE_GPU_BASE_URL", cfg.RemoteGPU.BaseURL)
	cfg.RemoteGPU.APIKey = getEnv("REMOTE_GPU_API_KEY", cfg.RemoteGPU.APIKey)
	cfg.RemoteGPU.Model = getEnv("REMOTE_GPU_MODEL", cfg.RemoteGPU.Model)

	cfg.DedupMaxKeys = getEnvInt("DEDUP_MAX_KEYS", cfg.DedupMaxKeys)
	if v := getEnvInt("DEDUP_TTL_SECONDS", 0); v > 0 {
		cfg.DedupTTL = time.Duration(v) * time.Second
	}

	if raw := os.Getenv("CLIENT_CREDENTIALS"); raw != "" {
		cfg.Clients = parseClientCredentials(raw)
	}
}

// parseClientCredentials parses "client_id:argon2_hash,client_id2:hash2"
// into a lookup map. Malformed entries are skipped rather than failing
// startup; an operator typo in one client shouldn't take the service down.
func parseClientCredentials(raw string) map[string]string {
	clients := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		idx := strings.Index(pair, ":")
		if idx <= 0 {
			continue
		}
		clients[pair[:idx]] = pair[idx+1:]
	}
	return clients
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
