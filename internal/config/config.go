package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	JWTSecret   string

	OpenAIAPIKey   string
	OpenAIBaseURL  string
	ChatModel      string
	VisionModel    string
	EmbeddingModel string
	EmbeddingDims  int

	DescribeBatchSize int
	DescribeCacheTTL  time.Duration
	DashboardCacheTTL time.Duration
	RetrieverTopK     int
	MaxUploadSizeMB   int

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("DECKQUIZ")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "DeckQuiz API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("ai.chat_model", "gpt-4o-mini")
	v.SetDefault("ai.vision_model", "gpt-4o-mini")
	v.SetDefault("ai.embedding_model", "text-embedding-3-small")
	v.SetDefault("ai.embedding_dims", 1536)
	v.SetDefault("describe.batch_size", 5)
	v.SetDefault("describe.cache_ttl", "1h")
	v.SetDefault("dashboard.cache_ttl", "5m")
	v.SetDefault("retriever.top_k", 4)
	v.SetDefault("upload.max_size_mb", 25)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "30s")

	describeTTL, err := parseDuration(v, "describe.cache_ttl", time.Hour)
	if err != nil {
		return Config{}, fmt.Errorf("invalid describe cache ttl: %w", err)
	}

	dashboardTTL, err := parseDuration(v, "dashboard.cache_ttl", 5*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("invalid dashboard cache ttl: %w", err)
	}

	baseDelay, err := parseDuration(v, "retry.base_delay", time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("invalid retry base delay: %w", err)
	}

	maxDelay, err := parseDuration(v, "retry.max_delay", 30*time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("invalid retry max delay: %w", err)
	}

	cfg := Config{
		AppName:           v.GetString("app.name"),
		AppEnv:            v.GetString("app.env"),
		AppPort:           v.GetString("app.port"),
		DatabaseURL:       v.GetString("database.url"),
		RedisURL:          v.GetString("redis.url"),
		NATSURL:           v.GetString("nats.url"),
		JWTSecret:         v.GetString("jwt.secret"),
		OpenAIAPIKey:      v.GetString("openai_api_key"),
		OpenAIBaseURL:     v.GetString("openai_base_url"),
		ChatModel:         v.GetString("ai.chat_model"),
		VisionModel:       v.GetString("ai.vision_model"),
		EmbeddingModel:    v.GetString("ai.embedding_model"),
		EmbeddingDims:     v.GetInt("ai.embedding_dims"),
		DescribeBatchSize: v.GetInt("describe.batch_size"),
		DescribeCacheTTL:  describeTTL,
		DashboardCacheTTL: dashboardTTL,
		RetrieverTopK:     v.GetInt("retriever.top_k"),
		MaxUploadSizeMB:   v.GetInt("upload.max_size_mb"),
		RetryMaxAttempts:  v.GetInt("retry.max_attempts"),
		RetryBaseDelay:    baseDelay,
		RetryMaxDelay:     maxDelay,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.DescribeBatchSize <= 0 {
		cfg.DescribeBatchSize = 5
	}

	if cfg.RetrieverTopK <= 0 {
		cfg.RetrieverTopK = 4
	}

	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 3
	}

	if cfg.EmbeddingDims <= 0 {
		cfg.EmbeddingDims = 1536
	}

	if cfg.MaxUploadSizeMB <= 0 {
		cfg.MaxUploadSizeMB = 25
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	raw := v.GetString(key)
	if raw == "" {
		return fallback, nil
	}

	return time.ParseDuration(raw)
}
