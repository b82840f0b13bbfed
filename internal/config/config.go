package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/felipepmaragno/tutor-gateway/internal/cost"
	"github.com/felipepmaragno/tutor-gateway/internal/domain"
)

type Config struct {
	Addr     string `toml:"addr"`
	LogLevel string `toml:"log_level"`

	// Upstream
	BaseURL        string        `toml:"base_url"`
	APIKeys        string        `toml:"api_keys"`
	KeysSecretName string        `toml:"keys_secret_name"`
	KeysURL        string        `toml:"keys_url"`
	EncryptedKeys  string        `toml:"encrypted_keys"`
	CallTimeout    time.Duration `toml:"call_timeout"`
	Temperature    float64       `toml:"temperature"`
	MaxTokens      int           `toml:"max_tokens"`
	ProviderOrder  []string      `toml:"provider_order"`
	AllowFallbacks bool          `toml:"allow_fallbacks"`
	Referer        string        `toml:"http_referer"`
	Title          string        `toml:"x_title"`

	// Rosters
	Tier        string   `toml:"tier"`
	FreeModels  []string `toml:"free_models"`
	ProModel    string   `toml:"pro_model"`
	VisionModel string   `toml:"vision_model"`

	// Retry policy
	MaxRetryRounds int           `toml:"max_retry_rounds"`
	BaseBackoff    time.Duration `toml:"base_backoff"`
	RetryStatuses  []int         `toml:"retry_statuses"`

	// Sessions
	HistoryCap     int               `toml:"history_cap"`
	TurnsPerMinute int               `toml:"turns_per_minute"`
	OpeningTTL     time.Duration     `toml:"opening_ttl"`
	ModePrompts    map[string]string `toml:"modes"`

	// Per-model prices, merged over the built-in table.
	Pricing map[string]cost.ModelPricing `toml:"pricing"`

	// Infrastructure
	RedisURL     string `toml:"redis_url"`
	DatabaseURL  string `toml:"database_url"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	AWSRegion    string `toml:"aws_region"`
	SNSTopicARN  string `toml:"sns_topic_arn"`
	// Repeats of the same notification for a roster within this window are dropped.
	NotifyDedupTTL   time.Duration `toml:"notify_dedup_ttl"`
	EncryptionKey    string        `toml:"-"`
	AdminTokenHash   string        `toml:"admin_token_hash"`
	AdminAuthEnabled bool          `toml:"admin_auth_enabled"`

	// Horizontal scaling
	UseDistributedCircuitBreaker bool `toml:"distributed_circuit_breaker"`

	// Graceful shutdown
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

var DefaultFreeModels = []string{
	"google/gemini-2.0-flash-lite-preview-02-05:free",
	"google/gemini-2.0-flash-exp:free",
	"google/gemini-exp-1206:free",
	"google/gemini-2.0-flash-thinking-exp:free",
	"google/gemini-exp-1121:free",
	"google/gemini-exp-1114:free",
	"meta-llama/llama-3.1-405b-instruct:free",
	"openchat/openchat-7b:free",
	"qwen/qwen-2-7b-instruct:free",
	"google/learnlm-1.5-pro-experimental:free",
	"liquid/lfm-40b:free",
	"google/gemini-exp-1114",
	"google/gemma-2-9b-it:free",
}

func Default() *Config {
	return &Config{
		Addr:           ":8080",
		LogLevel:       "info",
		BaseURL:        "https://openrouter.ai/api/v1",
		CallTimeout:    30 * time.Second,
		Temperature:    0.7,
		MaxTokens:      1024,
		ProviderOrder:  []string{"DeepInfra", "SambaNova", "Google AI Studio"},
		AllowFallbacks: true,
		Title:          "Tutor-Tron",

		Tier:        string(domain.TierFree),
		FreeModels:  append([]string(nil), DefaultFreeModels...),
		ProModel:    "gpt-5-mini-2025-08-07",
		VisionModel: "meta-llama/llama-3.2-90b-vision-instruct:free",

		MaxRetryRounds: 3,
		BaseBackoff:    2 * time.Second,

		HistoryCap:     25,
		OpeningTTL:     24 * time.Hour,
		NotifyDedupTTL: 10 * time.Minute,
		ModePrompts: map[string]string{
			"explain": "You are a patient tutor. Explain step by step and check understanding as you go. Topic: ",
			"quiz":    "You are a tutor running a quiz, one question at a time, with feedback after each answer. Topic: ",
		},

		ShutdownTimeout: 30 * time.Second,
	}
}

// Load builds the configuration from defaults, the TOML file named by
// CONFIG_FILE when set, and environment overrides, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the values set in a TOML file.
func (c *Config) LoadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Addr = getEnv("ADDR", c.Addr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.BaseURL = getEnv("OPENROUTER_BASE_URL", c.BaseURL)
	c.APIKeys = getEnv("OPENROUTER_API_KEYS", c.APIKeys)
	c.KeysSecretName = getEnv("KEYS_SECRET_NAME", c.KeysSecretName)
	c.KeysURL = getEnv("KEYS_URL", c.KeysURL)
	c.EncryptedKeys = getEnv("OPENROUTER_API_KEYS_ENC", c.EncryptedKeys)
	c.CallTimeout = getDurationEnv("CALL_TIMEOUT_MS", time.Millisecond, c.CallTimeout)
	c.Temperature = getFloatEnv("TEMPERATURE", c.Temperature)
	c.MaxTokens = getIntEnv("MAX_TOKENS", c.MaxTokens)
	c.ProviderOrder = getListEnv("PROVIDER_ORDER", c.ProviderOrder)
	c.AllowFallbacks = getBoolEnv("ALLOW_FALLBACKS", c.AllowFallbacks)
	c.Referer = getEnv("HTTP_REFERER", c.Referer)
	c.Title = getEnv("X_TITLE", c.Title)

	c.Tier = getEnv("TIER", c.Tier)
	c.FreeModels = getListEnv("FREE_MODELS", c.FreeModels)
	c.ProModel = getEnv("PRO_MODEL", c.ProModel)
	c.VisionModel = getEnv("VISION_MODEL", c.VisionModel)

	c.MaxRetryRounds = getIntEnv("MAX_RETRY_ROUNDS", c.MaxRetryRounds)
	c.BaseBackoff = getDurationEnv("BASE_BACKOFF_MS", time.Millisecond, c.BaseBackoff)
	c.RetryStatuses = getIntListEnv("RETRY_STATUSES", c.RetryStatuses)

	c.HistoryCap = getIntEnv("HISTORY_CAP", c.HistoryCap)
	c.TurnsPerMinute = getIntEnv("TURNS_PER_MINUTE", c.TurnsPerMinute)
	c.OpeningTTL = getDurationEnv("OPENING_TTL", time.Second, c.OpeningTTL)

	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.OTLPEndpoint = getEnv("OTLP_ENDPOINT", c.OTLPEndpoint)
	c.AWSRegion = getEnv("AWS_REGION", c.AWSRegion)
	c.SNSTopicARN = getEnv("SNS_TOPIC_ARN", c.SNSTopicARN)
	c.NotifyDedupTTL = getDurationEnv("NOTIFY_DEDUP_TTL", time.Second, c.NotifyDedupTTL)
	c.EncryptionKey = getEnv("ENCRYPTION_KEY", c.EncryptionKey)
	c.AdminTokenHash = getEnv("ADMIN_TOKEN_HASH", c.AdminTokenHash)
	c.AdminAuthEnabled = getBoolEnv("ADMIN_AUTH_ENABLED", c.AdminAuthEnabled)

	c.UseDistributedCircuitBreaker = getBoolEnv("USE_DISTRIBUTED_CB", c.UseDistributedCircuitBreaker)
	c.ShutdownTimeout = getDurationEnv("SHUTDOWN_TIMEOUT", time.Second, c.ShutdownTimeout)
}

func (c *Config) Validate() error {
	var errs []error

	if c.HistoryCap < 1 {
		errs = append(errs, fmt.Errorf("history cap must be at least 1, got %d", c.HistoryCap))
	}
	if c.MaxRetryRounds < 1 {
		errs = append(errs, fmt.Errorf("max retry rounds must be at least 1, got %d", c.MaxRetryRounds))
	}
	if c.BaseBackoff <= 0 {
		errs = append(errs, fmt.Errorf("base backoff must be positive, got %s", c.BaseBackoff))
	}
	if c.NotifyDedupTTL < 0 {
		errs = append(errs, fmt.Errorf("notification dedup ttl must not be negative, got %s", c.NotifyDedupTTL))
	}

	tier, err := domain.ParseTier(c.Tier)
	if err != nil {
		errs = append(errs, err)
	}
	if len(c.FreeModels) == 0 {
		errs = append(errs, errors.New("free model list is empty"))
	}
	if tier == domain.TierPro && c.ProModel == "" {
		errs = append(errs, errors.New("pro tier requires a pro model"))
	}
	if c.EncryptedKeys != "" && c.EncryptionKey == "" {
		errs = append(errs, errors.New("encrypted keys require ENCRYPTION_KEY"))
	}
	if c.AdminAuthEnabled && c.AdminTokenHash == "" {
		errs = append(errs, errors.New("admin auth requires ADMIN_TOKEN_HASH"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getDurationEnv accepts a plain integer counted in unit or a Go duration
// string such as "1500ms".
func getDurationEnv(key string, unit, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * unit
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getIntListEnv(key string, defaultValue []int) []int {
	items := getListEnv(key, nil)
	if items == nil {
		return defaultValue
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, err := strconv.Atoi(item)
		if err != nil {
			return defaultValue
		}
		out = append(out, n)
	}
	return out
}
