package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Providers ProvidersConfig `mapstructure:"providers"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	I18n      I18nConfig      `mapstructure:"i18n"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

type ProvidersConfig struct {
	OpenAI      OpenAIConfig      `mapstructure:"openai"`
	HuggingFace HuggingFaceConfig `mapstructure:"huggingface"`
}

type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type HuggingFaceConfig struct {
	APIToken string        `mapstructure:"api_token"`
	BaseURL  string        `mapstructure:"base_url"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	PerMinute int         `mapstructure:"per_minute"`
	DailyCap  int         `mapstructure:"daily_cap"`
	GlobalRPS float64     `mapstructure:"global_rps"`
	Store     string      `mapstructure:"store"`
	Redis     RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AssistantConfig struct {
	Name         string `mapstructure:"name"`
	WakeWord     string `mapstructure:"wake_word"`
	WakeWordMode string `mapstructure:"wake_word_mode"`
	Timezone     string `mapstructure:"timezone"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
}

// LoadConfig loads configuration from an optional YAML file and environment
// variables. Env values always win over file values. A missing config file
// is fine: env-only deployments are the common case.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	v.AutomaticEnv()

	// Flat env names used by existing deployments
	v.BindEnv("server.port", "PORT")
	v.BindEnv("providers.openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("providers.openai.base_url", "OPENAI_BASE_URL")
	v.BindEnv("providers.openai.model", "OPENAI_MODEL")
	v.BindEnv("providers.huggingface.api_token", "HF_API_TOKEN")
	v.BindEnv("providers.huggingface.base_url", "HF_BASE_URL")
	v.BindEnv("providers.huggingface.model", "HF_MODEL")
	v.BindEnv("rate_limit.per_minute", "PER_MINUTE")
	v.BindEnv("rate_limit.daily_cap", "DAILY_CAP")
	v.BindEnv("rate_limit.global_rps", "GLOBAL_RPS")
	v.BindEnv("rate_limit.store", "RATELIMIT_STORE")
	v.BindEnv("rate_limit.redis.addr", "REDIS_ADDR")
	v.BindEnv("rate_limit.redis.password", "REDIS_PASSWORD")
	v.BindEnv("rate_limit.redis.db", "REDIS_DB")
	v.BindEnv("assistant.name", "ASSISTANT_NAME")
	v.BindEnv("assistant.wake_word", "WAKE_WORD")
	v.BindEnv("assistant.wake_word_mode", "WAKE_WORD_MODE")
	v.BindEnv("assistant.timezone", "TIMEZONE")
	v.BindEnv("cache.enabled", "CACHE_ENABLED")
	v.BindEnv("cache.ttl", "CACHE_TTL")
	v.BindEnv("cache.max_size", "CACHE_MAX_SIZE")
	v.BindEnv("logging.level", "LOG_LEVEL")
	v.BindEnv("logging.format", "LOG_FORMAT")
	v.BindEnv("logging.output", "LOG_OUTPUT")
	v.BindEnv("logging.file.path", "LOG_FILE_PATH")
	v.BindEnv("metrics.enabled", "METRICS_ENABLED")
	v.BindEnv("metrics.port", "METRICS_PORT")
	v.BindEnv("metrics.path", "METRICS_PATH")
	v.BindEnv("i18n.default_language", "I18N_DEFAULT_LANGUAGE")

	if err := v.ReadInConfig(); err != nil {
		// Only fail when the file exists but cannot be parsed
		if _, statErr := os.Stat(configPath); statErr == nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// ALLOWED_ORIGINS is a single comma-separated env value
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.Server.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				config.Server.AllowedOrigins = append(config.Server.AllowedOrigins, o)
			}
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.openai.model", "gpt-4o-mini")
	v.SetDefault("providers.openai.timeout", 60*time.Second)
	v.SetDefault("providers.huggingface.base_url", "https://api-inference.huggingface.co")
	v.SetDefault("providers.huggingface.model", "mistralai/Mistral-7B-Instruct")
	v.SetDefault("providers.huggingface.timeout", 120*time.Second)
	v.SetDefault("rate_limit.per_minute", 6)
	v.SetDefault("rate_limit.daily_cap", 50)
	v.SetDefault("rate_limit.global_rps", 0)
	v.SetDefault("rate_limit.store", "memory")
	v.SetDefault("rate_limit.redis.addr", "localhost:6379")
	v.SetDefault("assistant.name", "Marion")
	v.SetDefault("assistant.wake_word_mode", "off")
	v.SetDefault("assistant.timezone", "UTC")
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.max_size", 1000)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("i18n.default_language", "en")
	v.SetDefault("i18n.languages", []string{"en", "zh"})
}

func validateConfig(cfg *Config) error {
	switch cfg.Assistant.WakeWordMode {
	case "require", "prefer", "off":
	default:
		return fmt.Errorf("invalid wake word mode: %s", cfg.Assistant.WakeWordMode)
	}
	if cfg.Assistant.WakeWordMode == "require" && cfg.Assistant.WakeWord == "" {
		return fmt.Errorf("wake word is required when wake_word_mode is %q", cfg.Assistant.WakeWordMode)
	}
	switch cfg.RateLimit.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported rate limit store: %s", cfg.RateLimit.Store)
	}
	if cfg.RateLimit.PerMinute <= 0 || cfg.RateLimit.DailyCap <= 0 {
		return fmt.Errorf("rate limit caps must be positive")
	}
	// Provider credentials are deliberately not validated here: the server
	// must come up and serve /api/ping even when unconfigured.
	return nil
}

// Mode reports which provider would serve requests, for the status line.
func (c *Config) Mode() string {
	if c.Providers.OpenAI.APIKey != "" {
		return "openai"
	}
	if c.Providers.HuggingFace.APIToken != "" {
		return "huggingface"
	}
	return "unconfigured"
}
