package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Tracking  TrackingConfig
	Analysis  AnalysisConfig
}

type AppConfig struct {
	Port    string
	BaseURL string // base for rendered tracking URLs, e.g. https://aff.example.com
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type RedisConfig struct {
	Host string
	Port string
}

type AuthConfig struct {
	APIKeys map[string]string // API key -> name/description
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

type TrackingConfig struct {
	DedupWindow time.Duration // window within which repeat clicks don't add to the unique tally
}

type AnalysisConfig struct {
	CacheTTL        time.Duration // freshness bound for cached niche analyses
	UpstreamTimeout time.Duration // hard bound on a single provider call
	APIKey          string
	Model           string
	URL             string
}

func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	cfg.App.Port = viper.GetString("APP_PORT")
	cfg.App.BaseURL = viper.GetString("APP_BASE_URL")
	if cfg.App.BaseURL == "" {
		cfg.App.BaseURL = "http://localhost:" + cfg.App.Port
	}
	cfg.DB.Host = viper.GetString("DB_HOST")
	cfg.DB.Port = viper.GetString("DB_PORT")
	cfg.DB.User = viper.GetString("DB_USER")
	cfg.DB.Password = viper.GetString("DB_PASSWORD")
	cfg.DB.Name = viper.GetString("DB_NAME")
	cfg.Redis.Host = viper.GetString("REDIS_HOST")
	cfg.Redis.Port = viper.GetString("REDIS_PORT")

	// Auth config - parse API keys from comma-separated string
	// Format: key1:name1,key2:name2
	apiKeysRaw := viper.GetString("API_KEYS")
	cfg.Auth.APIKeys = parseAPIKeys(apiKeysRaw)

	// Rate limit config
	cfg.RateLimit.RequestsPerSecond = viper.GetFloat64("RATE_LIMIT_RPS")
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 10
	}
	cfg.RateLimit.BurstSize = viper.GetInt("RATE_LIMIT_BURST")
	if cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = 20
	}

	// Tracking config
	cfg.Tracking.DedupWindow = viper.GetDuration("DEDUP_WINDOW")
	if cfg.Tracking.DedupWindow == 0 {
		cfg.Tracking.DedupWindow = 60 * time.Second
	}

	// Analysis config
	cfg.Analysis.CacheTTL = viper.GetDuration("ANALYSIS_CACHE_TTL")
	if cfg.Analysis.CacheTTL == 0 {
		cfg.Analysis.CacheTTL = 24 * time.Hour
	}
	cfg.Analysis.UpstreamTimeout = viper.GetDuration("ANALYSIS_UPSTREAM_TIMEOUT")
	if cfg.Analysis.UpstreamTimeout == 0 {
		cfg.Analysis.UpstreamTimeout = 30 * time.Second
	}
	cfg.Analysis.APIKey = viper.GetString("GROQ_API_KEY")
	cfg.Analysis.Model = viper.GetString("GROQ_MODEL")
	if cfg.Analysis.Model == "" {
		cfg.Analysis.Model = "llama-3.3-70b-versatile"
	}
	cfg.Analysis.URL = viper.GetString("GROQ_API_URL")
	if cfg.Analysis.URL == "" {
		cfg.Analysis.URL = "https://api.groq.com/openai/v1/chat/completions"
	}

	return &cfg, nil
}

// parseAPIKeys parses comma-separated API keys in format "key1:name1,key2:name2"
func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	if raw == "" {
		return keys
	}

	pairs := strings.Split(raw, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) == 2 {
			keys[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	return keys
}
