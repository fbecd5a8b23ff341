package internal

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Identity      IdentityConfig      `mapstructure:"identity"`
	Session       SessionConfig       `mapstructure:"session"`
	Gate          GateConfig          `mapstructure:"gate"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Snapshot      SnapshotConfig      `mapstructure:"snapshot"`
	Notify        NotifyConfig        `mapstructure:"notify"`
	Integration   IntegrationConfig   `mapstructure:"integration"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	RequestBurst      int           `mapstructure:"request_burst"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

type IdentityConfig struct {
	MaxFailedAttempts int           `mapstructure:"max_failed_attempts"`
	LockoutDuration   time.Duration `mapstructure:"lockout_duration"`
	IPWhitelist       []string      `mapstructure:"ip_whitelist"`
	IPBlacklist       []string      `mapstructure:"ip_blacklist"`
	BCryptCost        int           `mapstructure:"bcrypt_cost"`
}

type SessionConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type GateConfig struct {
	MaxOperationsPerMinute     int           `mapstructure:"max_operations_per_minute"`
	RequireApprovalForCritical bool          `mapstructure:"require_approval_for_critical"`
	AutoBlockHighRisk          bool          `mapstructure:"auto_block_high_risk"`
	Blacklist                  []string      `mapstructure:"blacklist"`
	Whitelist                  []string      `mapstructure:"whitelist"`
	OperationTimeout           time.Duration `mapstructure:"operation_timeout"`
	MaxSecurityEvents          int           `mapstructure:"max_security_events"`
	MaxUserHistory             int           `mapstructure:"max_user_history"`
}

type AuditConfig struct {
	RetentionDays     int           `mapstructure:"retention_days"`
	MaxEventsInMemory int           `mapstructure:"max_events_in_memory"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize    int           `mapstructure:"sweep_batch_size"`
	LogFile           string        `mapstructure:"log_file"`
	SinkEnabled       bool          `mapstructure:"sink_enabled"`
	SinkWorkers       int           `mapstructure:"sink_workers"`
	SinkQueueSize     int           `mapstructure:"sink_queue_size"`
}

type SnapshotConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	RestoreOnStart  bool          `mapstructure:"restore_on_start"`
	SaveOnShutdown  bool          `mapstructure:"save_on_shutdown"`
	RetainSnapshots int           `mapstructure:"retain_snapshots"`
}

type NotifyConfig struct {
	NATSEnabled   bool          `mapstructure:"nats_enabled"`
	NATSURL       string        `mapstructure:"nats_url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type IntegrationConfig struct {
	Mode string `mapstructure:"mode" validate:"oneof=gate session"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

type LoggingConfig struct {
	Env    string `mapstructure:"env"`
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

const (
	IntegrationModeGate    = "gate"
	IntegrationModeSession = "session"
)

// DefaultConfig returns the configuration used when a key is absent from
// config.yml or the environment.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
			WriteTimeout:      15 * time.Second,
			RequestsPerSecond: 20,
			RequestBurst:      40,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Identity: IdentityConfig{
			MaxFailedAttempts: 5,
			LockoutDuration:   15 * time.Minute,
			BCryptCost:        12,
		},
		Session: SessionConfig{
			Timeout: 30 * time.Minute,
		},
		Gate: GateConfig{
			MaxOperationsPerMinute:     60,
			RequireApprovalForCritical: true,
			AutoBlockHighRisk:          true,
			OperationTimeout:           30 * time.Second,
			MaxSecurityEvents:          10000,
			MaxUserHistory:             100,
		},
		Audit: AuditConfig{
			RetentionDays:     90,
			MaxEventsInMemory: 10000,
			SweepInterval:     24 * time.Hour,
			SweepBatchSize:    500,
			SinkWorkers:       2,
			SinkQueueSize:     1000,
		},
		Snapshot: SnapshotConfig{
			Interval:        time.Hour,
			RestoreOnStart:  true,
			SaveOnShutdown:  true,
			RetainSnapshots: 24,
		},
		Notify: NotifyConfig{
			SubjectPrefix: "familyguard.audit",
			Timeout:       2 * time.Second,
		},
		Integration: IntegrationConfig{
			Mode: IntegrationModeGate,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
			Logging: LoggingConfig{Env: "development", Level: "info", Format: "text"},
		},
	}
}

// LoadConfigFromEnv builds a Config from plain environment variables, used
// for container deployments where no config.yml is mounted.
func LoadConfigFromEnv() *Config {
	cfg := DefaultConfig()

	cfg.Server.Port = getEnvAsInt("HTTP_PORT", cfg.Server.Port)
	cfg.Server.BaseURL = getEnv("HTTP_BASE_URL", cfg.Server.BaseURL)
	cfg.Server.AllowedOrigins = getEnv("HTTP_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	cfg.Database.Source = getEnv("DATABASE_URL", "")
	cfg.Database.Enabled = cfg.Database.Source != ""
	cfg.Database.MaxOpenConns = getEnvAsInt("DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvAsInt("DATABASE_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)

	cfg.Identity.MaxFailedAttempts = getEnvAsInt("IDENTITY_MAX_FAILED_ATTEMPTS", cfg.Identity.MaxFailedAttempts)
	cfg.Identity.LockoutDuration = getEnvAsDuration("IDENTITY_LOCKOUT_DURATION", cfg.Identity.LockoutDuration)
	cfg.Identity.IPWhitelist = getEnvAsList("IDENTITY_IP_WHITELIST")
	cfg.Identity.IPBlacklist = getEnvAsList("IDENTITY_IP_BLACKLIST")
	cfg.Identity.BCryptCost = getEnvAsInt("IDENTITY_BCRYPT_COST", cfg.Identity.BCryptCost)

	cfg.Session.Timeout = getEnvAsDuration("SESSION_TIMEOUT", cfg.Session.Timeout)

	cfg.Gate.MaxOperationsPerMinute = getEnvAsInt("GATE_MAX_OPERATIONS_PER_MINUTE", cfg.Gate.MaxOperationsPerMinute)
	cfg.Gate.RequireApprovalForCritical = getEnvAsBool("GATE_REQUIRE_APPROVAL_FOR_CRITICAL", cfg.Gate.RequireApprovalForCritical)
	cfg.Gate.AutoBlockHighRisk = getEnvAsBool("GATE_AUTO_BLOCK_HIGH_RISK", cfg.Gate.AutoBlockHighRisk)
	cfg.Gate.Blacklist = getEnvAsList("GATE_BLACKLIST")
	cfg.Gate.Whitelist = getEnvAsList("GATE_WHITELIST")
	cfg.Gate.OperationTimeout = getEnvAsDuration("GATE_OPERATION_TIMEOUT", cfg.Gate.OperationTimeout)

	cfg.Audit.RetentionDays = getEnvAsInt("AUDIT_RETENTION_DAYS", cfg.Audit.RetentionDays)
	cfg.Audit.MaxEventsInMemory = getEnvAsInt("AUDIT_MAX_EVENTS_IN_MEMORY", cfg.Audit.MaxEventsInMemory)
	cfg.Audit.SweepInterval = getEnvAsDuration("AUDIT_SWEEP_INTERVAL", cfg.Audit.SweepInterval)
	cfg.Audit.LogFile = getEnv("AUDIT_LOG_FILE", cfg.Audit.LogFile)
	cfg.Audit.SinkEnabled = cfg.Database.Enabled && getEnvAsBool("AUDIT_SINK_ENABLED", true)

	cfg.Snapshot.Enabled = cfg.Database.Enabled && getEnvAsBool("SNAPSHOT_ENABLED", true)
	cfg.Snapshot.Interval = getEnvAsDuration("SNAPSHOT_INTERVAL", cfg.Snapshot.Interval)

	cfg.Notify.NATSURL = getEnv("NATS_URL", "")
	cfg.Notify.NATSEnabled = cfg.Notify.NATSURL != ""

	cfg.Integration.Mode = getEnv("INTEGRATION_MODE", cfg.Integration.Mode)

	cfg.Observability.Logging.Env = getEnv("APP_ENV", cfg.Observability.Logging.Env)
	cfg.Observability.Logging.Level = getEnv("LOG_LEVEL", cfg.Observability.Logging.Level)
	cfg.Observability.Logging.Format = getEnv("LOG_FORMAT", cfg.Observability.Logging.Format)

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

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
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

	if err := c.Identity.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("identity config: %v", err))
	}

	if c.Session.Timeout <= 0 {
		errs = append(errs, "session config: timeout must be positive")
	}

	if err := c.Gate.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("gate config: %v", err))
	}

	if err := c.Audit.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("audit config: %v", err))
	}

	if (c.Audit.SinkEnabled || c.Snapshot.Enabled) && !c.Database.Enabled {
		errs = append(errs, "audit sink and snapshots require database.enabled")
	}

	if c.Notify.NATSEnabled && c.Notify.NATSURL == "" {
		errs = append(errs, "notify config: nats_url is required when nats_enabled")
	}

	switch c.Integration.Mode {
	case IntegrationModeGate, IntegrationModeSession:
	default:
		errs = append(errs, fmt.Sprintf("integration config: unknown mode %q", c.Integration.Mode))
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
	if !c.Enabled {
		return nil
	}
	if c.Source == "" {
		return errors.New("source is required when enabled")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *IdentityConfig) Validate() error {
	if c.MaxFailedAttempts < 1 {
		return errors.New("max_failed_attempts must be at least 1")
	}
	if c.LockoutDuration <= 0 {
		return errors.New("lockout_duration must be positive")
	}
	for _, entry := range append(append([]string{}, c.IPWhitelist...), c.IPBlacklist...) {
		if err := validateAddrOrPrefix(entry); err != nil {
			return err
		}
	}
	return nil
}

func validateAddrOrPrefix(entry string) error {
	if strings.Contains(entry, "/") {
		if _, err := netip.ParsePrefix(entry); err != nil {
			return fmt.Errorf("invalid CIDR %q: %w", entry, err)
		}
		return nil
	}
	if _, err := netip.ParseAddr(entry); err != nil {
		return fmt.Errorf("invalid IP %q: %w", entry, err)
	}
	return nil
}

func (c *GateConfig) Validate() error {
	if c.MaxOperationsPerMinute < 1 {
		return errors.New("max_operations_per_minute must be at least 1")
	}
	if c.OperationTimeout <= 0 {
		return errors.New("operation_timeout must be positive")
	}
	if c.MaxSecurityEvents < 1 {
		return errors.New("max_security_events must be at least 1")
	}
	for _, op := range c.Blacklist {
		for _, allowed := range c.Whitelist {
			if op == allowed {
				return fmt.Errorf("operation %q is both blacklisted and whitelisted", op)
			}
		}
	}
	return nil
}

func (c *AuditConfig) Validate() error {
	if c.RetentionDays < 1 {
		return errors.New("retention_days must be at least 1")
	}
	if c.MaxEventsInMemory < 1 {
		return errors.New("max_events_in_memory must be at least 1")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep_interval must be positive")
	}
	if c.SweepBatchSize < 1 {
		return errors.New("sweep_batch_size must be at least 1")
	}
	return nil
}

// Retention converts RetentionDays into a duration.
func (c *AuditConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
