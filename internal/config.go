package internal

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Billing       BillingConfig       `mapstructure:"billing"`
	Sweep         SweepConfig         `mapstructure:"sweep"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	OpenAPIValidation bool          `mapstructure:"openapi_validation"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

// SecurityConfig holds the material used to verify tokens issued by the
// host EHR. Either an HMAC secret or an RSA public key must be set.
type SecurityConfig struct {
	JWTSecret    string `mapstructure:"jwt_secret"`
	JWTPublicKey string `mapstructure:"jwt_public_key"`
	JWTIssuer    string `mapstructure:"jwt_issuer"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BillingConfig carries the billing policy constants and the organisation
// identifiers written into EDI envelopes.
type BillingConfig struct {
	AppealWindowDays  int     `mapstructure:"appeal_window_days"`
	WarningThreshold  float64 `mapstructure:"warning_threshold"`
	ResetIntervalDays int     `mapstructure:"reset_interval_days"`

	OrganizationName string `mapstructure:"organization_name"`
	NPI              string `mapstructure:"npi"`
	TaxID            string `mapstructure:"tax_id"`
	SenderID         string `mapstructure:"sender_id"`
	ReceiverID       string `mapstructure:"receiver_id"`
	UsageIndicator   string `mapstructure:"usage_indicator"`
}

type SweepConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	MaxWorkers   int           `mapstructure:"max_workers"`
	JobQueueSize int           `mapstructure:"job_queue_size"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

const (
	DefaultAppealWindowDays  = 90
	DefaultWarningThreshold  = 0.80
	DefaultResetIntervalDays = 7
)

// ApplyDefaults fills zero values with the policy defaults.
func (c *Config) ApplyDefaults() {
	if c.Billing.AppealWindowDays <= 0 {
		c.Billing.AppealWindowDays = DefaultAppealWindowDays
	}
	if c.Billing.WarningThreshold <= 0 {
		c.Billing.WarningThreshold = DefaultWarningThreshold
	}
	if c.Billing.ResetIntervalDays <= 0 {
		c.Billing.ResetIntervalDays = DefaultResetIntervalDays
	}
	if c.Billing.UsageIndicator == "" {
		c.Billing.UsageIndicator = "T"
	}
	if c.Sweep.Interval <= 0 {
		c.Sweep.Interval = time.Hour
	}
	if c.Sweep.MaxWorkers <= 0 {
		c.Sweep.MaxWorkers = 4
	}
	if c.Sweep.JobQueueSize <= 0 {
		c.Sweep.JobQueueSize = 100
	}
	if c.Observability.Metrics.Path == "" {
		c.Observability.Metrics.Path = "/metrics"
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = 20
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 40
	}
}

// LoadConfigFromEnv builds the configuration for container deployments.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("HTTP_BASE_URL", ""),
			AllowedOrigins:    getEnv("HTTP_ALLOWED_ORIGINS", ""),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			OpenAPIValidation: getEnvAsBool("HTTP_OPENAPI_VALIDATION", false),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DB_SOURCE", ""),
		},
		Security: SecurityConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			JWTPublicKey: getEnv("JWT_PUBLIC_KEY", ""),
			JWTIssuer:    getEnv("JWT_ISSUER", ""),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnvAsBool("METRICS_ENABLED", true),
				Path:    getEnv("METRICS_PATH", "/metrics"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Billing: BillingConfig{
			AppealWindowDays:  getEnvAsInt("BILLING_APPEAL_WINDOW_DAYS", DefaultAppealWindowDays),
			WarningThreshold:  getEnvAsFloat("BILLING_WARNING_THRESHOLD", DefaultWarningThreshold),
			ResetIntervalDays: getEnvAsInt("BILLING_RESET_INTERVAL_DAYS", DefaultResetIntervalDays),
			OrganizationName:  getEnv("BILLING_ORGANIZATION_NAME", ""),
			NPI:               getEnv("BILLING_NPI", ""),
			TaxID:             getEnv("BILLING_TAX_ID", ""),
			SenderID:          getEnv("BILLING_SENDER_ID", ""),
			ReceiverID:        getEnv("BILLING_RECEIVER_ID", ""),
			UsageIndicator:    getEnv("BILLING_USAGE_INDICATOR", "P"),
		},
		Sweep: SweepConfig{
			Interval:     getEnvAsDuration("SWEEP_INTERVAL", time.Hour),
			MaxWorkers:   getEnvAsInt("SWEEP_MAX_WORKERS", 4),
			JobQueueSize: getEnvAsInt("SWEEP_JOB_QUEUE_SIZE", 100),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Billing.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("billing config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if c.JWTSecret == "" && c.JWTPublicKey == "" {
		return errors.New("either jwt_secret or jwt_public_key is required")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 characters")
	}
	if c.JWTPublicKey != "" {
		if _, err := c.GetPublicKey(); err != nil {
			return fmt.Errorf("invalid JWT public key: %w", err)
		}
	}
	return nil
}

func (c *SecurityConfig) GetPublicKey() (*rsa.PublicKey, error) {
	keyData, err := base64.StdEncoding.DecodeString(c.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, errors.New("failed to parse PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaPub, nil
}

func (c *BillingConfig) Validate() error {
	if c.WarningThreshold <= 0 || c.WarningThreshold >= 1 {
		return errors.New("warning_threshold must be between 0 and 1")
	}
	if c.AppealWindowDays <= 0 {
		return errors.New("appeal_window_days must be positive")
	}
	if c.ResetIntervalDays <= 0 {
		return errors.New("reset_interval_days must be positive")
	}
	return nil
}

// AppealWindow returns the appeal window as a duration.
func (c BillingConfig) AppealWindow() time.Duration {
	return time.Duration(c.AppealWindowDays) * 24 * time.Hour
}
