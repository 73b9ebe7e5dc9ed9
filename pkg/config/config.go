// Package config assembles the layered application configuration: defaults,
// an optional YAML file, then environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `json:"host" yaml:"host" env:"SERVER_HOST"`
	Port int    `json:"port" yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls persistence.
type DatabaseConfig struct {
	Driver          string `json:"driver" yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" yaml:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" yaml:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" yaml:"port" env:"DATABASE_PORT"`
	User            string `json:"user" yaml:"user" env:"DATABASE_USER"`
	Password        string `json:"password" yaml:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" yaml:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" yaml:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// ConnectionString builds a PostgreSQL connection string from host parameters.
// Prefer DSN when set; this is used as a fallback for host-based config.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" yaml:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// SecurityConfig controls encryption-specific parameters.
type SecurityConfig struct {
	SecretEncryptionKey string `json:"secret_encryption_key" yaml:"secret_encryption_key" env:"SECRET_ENCRYPTION_KEY"`
}

// UserSpec seeds a dev/test login account.
type UserSpec struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Role     string `json:"role" yaml:"role"`
}

// AuthConfig controls HTTP API authentication.
type AuthConfig struct {
	Tokens    []string   `json:"tokens" yaml:"tokens"`
	JWTSecret string     `json:"jwt_secret" yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	Users     []UserSpec `json:"users" yaml:"users"`
}

// CalculationConfig controls the emissions-calculation provider: an optional
// remote factor service with a fallback to the built-in DEFRA-class table.
type CalculationConfig struct {
	ProviderURL     string `json:"provider_url" yaml:"provider_url" env:"CALCULATION_PROVIDER_URL"`
	ProviderAPIKey  string `json:"provider_api_key" yaml:"provider_api_key" env:"CALCULATION_PROVIDER_API_KEY"`
	TimeoutSeconds  int    `json:"timeout_seconds" yaml:"timeout_seconds" env:"CALCULATION_TIMEOUT_SECONDS"`
	MaxAttempts     int    `json:"max_attempts" yaml:"max_attempts" env:"CALCULATION_MAX_ATTEMPTS"`
	FallbackEnabled bool   `json:"fallback_enabled" yaml:"fallback_enabled" env:"CALCULATION_FALLBACK_ENABLED"`
}

// NotificationConfig controls outbound email delivery.
type NotificationConfig struct {
	SMTPHost     string `json:"smtp_host" yaml:"smtp_host" env:"SMTP_HOST"`
	SMTPPort     int    `json:"smtp_port" yaml:"smtp_port" env:"SMTP_PORT"`
	SMTPUsername string `json:"smtp_username" yaml:"smtp_username" env:"SMTP_USERNAME"`
	SMTPPassword string `json:"smtp_password" yaml:"smtp_password" env:"SMTP_PASSWORD"`
	FromAddress  string `json:"from_address" yaml:"from_address" env:"SMTP_FROM_ADDRESS"`
}

// StorageConfig controls where uploaded invoice files and generated reports
// are written.
type StorageConfig struct {
	UploadDir      string `json:"upload_dir" yaml:"upload_dir" env:"STORAGE_UPLOAD_DIR"`
	ReportDir      string `json:"report_dir" yaml:"report_dir" env:"STORAGE_REPORT_DIR"`
	ReportTTLHours int    `json:"report_ttl_hours" yaml:"report_ttl_hours" env:"STORAGE_REPORT_TTL_HOURS"`
}

// TracingConfig configures OTLP/tracing exporters.
type TracingConfig struct {
	Endpoint           string            `json:"endpoint" yaml:"endpoint" env:"TRACING_OTLP_ENDPOINT"`
	Insecure           bool              `json:"insecure" yaml:"insecure" env:"TRACING_OTLP_INSECURE"`
	ServiceName        string            `json:"service_name" yaml:"service_name" env:"TRACING_SERVICE_NAME"`
	ResourceAttributes map[string]string `json:"resource_attributes" yaml:"resource_attributes"`
	AttributesEnv      string            `json:"-" yaml:"-" env:"TRACING_OTLP_ATTRIBUTES"`
}

func (t *TracingConfig) normalize() {
	if t == nil {
		return
	}
	t.MergeAttributes(t.AttributesEnv)
}

// MergeAttributes merges comma-separated key=value pairs into ResourceAttributes.
func (t *TracingConfig) MergeAttributes(raw string) {
	if t == nil {
		return
	}
	pairs := parseAttributePairs(raw)
	if len(pairs) == 0 {
		return
	}
	if t.ResourceAttributes == nil {
		t.ResourceAttributes = make(map[string]string, len(pairs))
	}
	for k, v := range pairs {
		if k == "" {
			continue
		}
		t.ResourceAttributes[k] = v
	}
}

func parseAttributePairs(raw string) map[string]string {
	result := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		key := strings.TrimSpace(kv[0])
		if key == "" {
			continue
		}
		val := ""
		if len(kv) > 1 {
			val = strings.TrimSpace(kv[1])
		}
		result[key] = val
	}
	return result
}

// Config is the top-level configuration structure.
type Config struct {
	Server       ServerConfig        `json:"server" yaml:"server"`
	Database     DatabaseConfig      `json:"database" yaml:"database"`
	Logging      LoggingConfig       `json:"logging" yaml:"logging"`
	Security     SecurityConfig      `json:"security" yaml:"security"`
	Auth         AuthConfig          `json:"auth" yaml:"auth"`
	Calculation  CalculationConfig   `json:"calculation" yaml:"calculation"`
	Notification NotificationConfig  `json:"notification" yaml:"notification"`
	Storage      StorageConfig       `json:"storage" yaml:"storage"`
	Tracing      TracingConfig       `json:"tracing" yaml:"tracing"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "carbonledger",
		},
		Security: SecurityConfig{},
		Auth:     AuthConfig{},
		Calculation: CalculationConfig{
			TimeoutSeconds:  5,
			MaxAttempts:     3,
			FallbackEnabled: true,
		},
		Notification: NotificationConfig{
			SMTPPort:    587,
			FromAddress: "no-reply@carbonledger.local",
		},
		Storage: StorageConfig{
			UploadDir:      "./data/uploads",
			ReportDir:      "./data/reports",
			ReportTTLHours: 24,
		},
		Tracing: TracingConfig{},
	}
}

// Load loads configuration from a file (if present) and environment
// variables, in that order, so env always wins.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when no tagged field was present in the
		// environment; treat that as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)
	cfg.normalize()

	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// LoadConfig is a helper used by tests to load JSON config snippets.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	cfg.normalize()
	return cfg, nil
}

// applyDatabaseURLOverride lets a single DATABASE_URL env var override any
// file-based DSN, matching common container/orchestrator conventions.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	c.Tracing.normalize()
}
