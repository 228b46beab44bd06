package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL string

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Auth configuration
	JWTSecret string
	TokenTTL  time.Duration

	// Backend behaviour
	SeedFile           string
	RateLimitPerMinute int

	// Monitoring
	EnableMetrics   bool
	MetricsInterval time.Duration

	Gate GateConfig
}

// GateConfig holds the settings of the gate device side.
type GateConfig struct {
	ServerURL      string
	Token          string
	TokenFile      string
	RequestTimeout time.Duration
	RetryMax       int

	// StatsThrottle bounds how often regaining focus refreshes the capacity counters.
	StatsThrottle     time.Duration
	MinTicketIDLength int

	// Viewfinder geometry, in the coordinate space of the camera frame.
	ViewportWidth  float64
	ViewportHeight float64
	InsetTop       float64
	TargetSize     float64
	TargetOffset   float64
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "localhost:6379"),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Auth
		JWTSecret: getEnv("JWT_SECRET", ""),
		TokenTTL:  getEnvAsDuration("TOKEN_TTL", "72h"),

		// Backend
		SeedFile:           getEnv("SEED_FILE", ""),
		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),

		// Monitoring
		EnableMetrics:   getEnvAsBool("ENABLE_METRICS", true),
		MetricsInterval: getEnvAsDuration("METRICS_INTERVAL", "30s"),

		Gate: GateConfig{
			ServerURL:      strings.TrimRight(getEnv("GATE_SERVER_URL", "http://localhost:8090"), "/"),
			Token:          getEnv("GATE_TOKEN", ""),
			TokenFile:      getEnv("GATE_TOKEN_FILE", defaultTokenFile()),
			RequestTimeout: getEnvAsDuration("GATE_REQUEST_TIMEOUT", "5s"),
			RetryMax:       getEnvAsInt("GATE_RETRY_MAX", 2),

			StatsThrottle:     getEnvAsDuration("GATE_STATS_THROTTLE", "30s"),
			MinTicketIDLength: getEnvAsInt("GATE_MIN_TICKET_ID_LENGTH", 3),

			ViewportWidth:  getEnvAsFloat("GATE_VIEWPORT_WIDTH", 390),
			ViewportHeight: getEnvAsFloat("GATE_VIEWPORT_HEIGHT", 844),
			InsetTop:       getEnvAsFloat("GATE_INSET_TOP", 47),
			TargetSize:     getEnvAsFloat("GATE_TARGET_SIZE", 250),
			TargetOffset:   getEnvAsFloat("GATE_TARGET_OFFSET", 100),
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL))
	}
	if c.RateLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative, got %d", c.RateLimitPerMinute))
	}
	if c.MetricsInterval <= 0 {
		errs = append(errs, fmt.Errorf("METRICS_INTERVAL must be positive, got %s", c.MetricsInterval))
	}
	if err := c.Gate.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// PubNubEnabled reports whether check-in notifications can be published.
func (c *Config) PubNubEnabled() bool {
	return c.PubNubPublishKey != "" && c.PubNubSubscribeKey != ""
}

func (g GateConfig) Validate() error {
	var errs []error
	u, err := url.Parse(g.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("GATE_SERVER_URL must be an absolute URL, got %q", g.ServerURL))
	}
	if g.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("GATE_REQUEST_TIMEOUT must be positive, got %s", g.RequestTimeout))
	}
	if g.RetryMax < 0 {
		errs = append(errs, fmt.Errorf("GATE_RETRY_MAX must not be negative, got %d", g.RetryMax))
	}
	if g.StatsThrottle < 0 {
		errs = append(errs, fmt.Errorf("GATE_STATS_THROTTLE must not be negative, got %s", g.StatsThrottle))
	}
	if g.MinTicketIDLength < 1 {
		errs = append(errs, fmt.Errorf("GATE_MIN_TICKET_ID_LENGTH must be at least 1, got %d", g.MinTicketIDLength))
	}
	if g.TargetSize <= 0 || g.TargetSize > g.ViewportWidth {
		errs = append(errs, fmt.Errorf("GATE_TARGET_SIZE must be in (0, %g], got %g", g.ViewportWidth, g.TargetSize))
	}
	if g.ViewportHeight <= 0 {
		errs = append(errs, fmt.Errorf("GATE_VIEWPORT_HEIGHT must be positive, got %g", g.ViewportHeight))
	}
	return errors.Join(errs...)
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".gate-token"
	}
	return dir + string(os.PathSeparator) + "gate-checkin" + string(os.PathSeparator) + "token"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
