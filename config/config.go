package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Config struct {
	// Server settings
	ServerPort      string        `json:"server_port" validate:"required,numeric"`
	ReadTimeout     time.Duration `json:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `json:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `json:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" validate:"gt=0"`
	Debug           bool          `json:"debug"`
	Version         string        `json:"version"`

	Log       LogConfig       `json:"log"`
	Gemini    GeminiConfig    `json:"gemini"`
	Limits    LimitsConfig    `json:"limits"`
	Session   SessionConfig   `json:"session"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	CORS      CORSConfig      `json:"cors"`
}

type LogConfig struct {
	Level  string `json:"level" validate:"oneof=debug info warn warning error"`
	Format string `json:"format" validate:"oneof=json text"`
	// Dir enables the rotating log file when non-empty.
	Dir string `json:"dir"`
}

type GeminiConfig struct {
	// APIKey may be empty at startup; calls fail until it is provided.
	APIKey  string        `json:"-"`
	Model   string        `json:"model" validate:"required"`
	BaseURL string        `json:"base_url" validate:"required,url"`
	Timeout time.Duration `json:"timeout" validate:"gte=0"`
}

type LimitsConfig struct {
	MaxVideoSize  int64 `json:"max_video_size" validate:"gt=0"`
	MaxTextLength int   `json:"max_text_length" validate:"gt=0"`
}

type SessionConfig struct {
	Store         string        `json:"store" validate:"oneof=sqlite memory"`
	DBPath        string        `json:"db_path" validate:"required_if=Store sqlite"`
	TTL           time.Duration `json:"ttl" validate:"gt=0"`
	PurgeInterval time.Duration `json:"purge_interval" validate:"gt=0"`
}

type RateLimitConfig struct {
	Enabled           bool `json:"enabled"`
	RequestsPerMinute int  `json:"requests_per_minute" validate:"gt=0"`
	BurstSize         int  `json:"burst_size" validate:"gt=0"`
}

type CORSConfig struct {
	Enabled        bool     `json:"enabled"`
	AllowedOrigins []string `json:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers"`
	MaxAge         int      `json:"max_age"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServerPort:      GetEnv("SERVER_PORT", "8080"),
		ReadTimeout:     getEnvAsDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getEnvAsDuration("WRITE_TIMEOUT", 5*time.Minute),
		IdleTimeout:     getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		Debug:           getEnvAsBool("DEBUG", false),
		Version:         GetEnv("VERSION", "1.0.0"),

		Log: LogConfig{
			Level:  strings.ToLower(GetEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(GetEnv("LOG_FORMAT", "json")),
			Dir:    GetEnv("LOG_DIR", ""),
		},

		Gemini: GeminiConfig{
			APIKey:  GetEnv("GEMINI_API_KEY", GetEnv("API_KEY", "")),
			Model:   GetEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			BaseURL: GetEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
			Timeout: getEnvAsDuration("GEMINI_TIMEOUT", 0),
		},

		Limits: LimitsConfig{
			MaxVideoSize:  getEnvAsInt64("MAX_VIDEO_SIZE", 50*1024*1024),
			MaxTextLength: getEnvAsInt("MAX_TEXT_LENGTH", 1024*1024),
		},

		Session: SessionConfig{
			Store:         strings.ToLower(GetEnv("SESSION_STORE", "sqlite")),
			DBPath:        GetEnv("DB_PATH", "./data/sessions.db"),
			TTL:           getEnvAsDuration("SESSION_TTL", time.Hour),
			PurgeInterval: getEnvAsDuration("SESSION_PURGE_INTERVAL", 5*time.Minute),
		},

		RateLimit: RateLimitConfig{
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_RPM", 60),
			BurstSize:         getEnvAsInt("RATE_LIMIT_BURST", 10),
		},

		CORS: CORSConfig{
			Enabled:        getEnvAsBool("CORS_ENABLED", true),
			AllowedOrigins: getEnvAsStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsStringSlice(
				"CORS_ALLOWED_METHODS",
				[]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			),
			AllowedHeaders: getEnvAsStringSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type"}),
			MaxAge:         getEnvAsInt("CORS_MAX_AGE", 86400),
		},
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if err := validator.New().Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return errors.Errorf("invalid configuration: %s failed on '%s'", fe.Namespace(), fe.Tag())
		}
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		logrus.WithFields(logrus.Fields{
			"key":          key,
			"value":        value,
			"defaultValue": defaultValue,
		}).Warn("Invalid duration, using default")
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		logrus.WithFields(logrus.Fields{
			"key":          key,
			"value":        value,
			"defaultValue": defaultValue,
		}).Warn("Invalid integer, using default")
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
		logrus.WithFields(logrus.Fields{
			"key":          key,
			"value":        value,
			"defaultValue": defaultValue,
		}).Warn("Invalid integer, using default")
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		if value = strings.TrimSpace(value); value != "" {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return parts
		}
	}
	return defaultValue
}
