package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/digital-fte/internal/domain/policy"
	"github.com/garyjia/digital-fte/pkg/utils"
)

// Config holds all application configuration
type Config struct {
	Vault        VaultConfig        `mapstructure:"vault"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Gate         GateConfig         `mapstructure:"gate"`
	Approval     ApprovalConfig     `mapstructure:"approval"`
	Executor     ExecutorConfig     `mapstructure:"executor"`
	Watchers     WatchersConfig     `mapstructure:"watchers"`
	Oracle       OracleConfig       `mapstructure:"oracle"`
	Lark         LarkConfig         `mapstructure:"lark"`
	Email        EmailConfig        `mapstructure:"email"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Server       ServerConfig       `mapstructure:"server"`
	Health       HealthConfig       `mapstructure:"health"`
	Audit        AuditConfig        `mapstructure:"audit"`
	Logger       LoggerConfig       `mapstructure:"logger"`
}

// VaultConfig locates the task vault
type VaultConfig struct {
	Root string `mapstructure:"root"`
}

// OrchestratorConfig tunes the processing loop
type OrchestratorConfig struct {
	Interval             time.Duration `mapstructure:"interval"`
	OracleTimeout        time.Duration `mapstructure:"oracle_timeout"`
	MaxExecutionAttempts int           `mapstructure:"max_execution_attempts"`
}

// GateConfig holds the decision gate policy
type GateConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

// ApprovalConfig holds approval request settings
type ApprovalConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// ExecutorConfig bounds connector calls
type ExecutorConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// WatchersConfig holds settings shared by all watchers plus per-source sections
type WatchersConfig struct {
	CycleTimeout           time.Duration `mapstructure:"cycle_timeout"`
	InitTimeout            time.Duration `mapstructure:"init_timeout"`
	BaseBackoff            time.Duration `mapstructure:"base_backoff"`
	MaxBackoff             time.Duration `mapstructure:"max_backoff"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`

	Inbox InboxWatcherConfig `mapstructure:"inbox"`
	Lark  LarkWatcherConfig  `mapstructure:"lark"`
}

// InboxWatcherConfig configures the filesystem drop folder watcher
type InboxWatcherConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RescanInterval time.Duration `mapstructure:"rescan_interval"`
	SettleTime     time.Duration `mapstructure:"settle_time"`
}

// LarkWatcherConfig configures the Lark group chat watcher
type LarkWatcherConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ChatID       string        `mapstructure:"chat_id"`
	Lookback     time.Duration `mapstructure:"lookback"`
}

// OracleConfig holds OpenAI API configuration
type OracleConfig struct {
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	Model       string `mapstructure:"model"`
	PromptsPath string `mapstructure:"prompts_path"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	AppID               string `mapstructure:"app_id"`
	AppSecret           string `mapstructure:"app_secret"`
	ChatID              string `mapstructure:"chat_id"`
	NotifyReceiveID     string `mapstructure:"notify_receive_id"`
	NotifyReceiveIDType string `mapstructure:"notify_receive_id_type"`
}

// Enabled reports whether Lark credentials are configured
func (c LarkConfig) Enabled() bool {
	return c.AppID != "" && c.AppSecret != ""
}

// EmailConfig holds Amazon SES configuration
type EmailConfig struct {
	Region      string `mapstructure:"region"`
	FromAddress string `mapstructure:"from_address"`
}

// Enabled reports whether outbound email is configured
func (c EmailConfig) Enabled() bool {
	return c.FromAddress != ""
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// HealthConfig holds health monitor configuration
type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// AuditConfig holds audit log configuration
type AuditConfig struct {
	// Timezone picks the calendar used for daily and monthly log files.
	Timezone string `mapstructure:"timezone"`
}

// Location resolves Timezone, defaulting to local time
func (c AuditConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load loads configuration from an optional YAML file, a .env file next to
// the working directory and the environment. An empty configPath uses
// defaults and environment only.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// A relative database path lives inside the vault
	if cfg.Database.Path != "" && !filepath.IsAbs(cfg.Database.Path) {
		cfg.Database.Path = filepath.Join(cfg.Vault.Root, cfg.Database.Path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv applies a .env file without overriding variables already set
func loadDotEnv(path string) error {
	err := gotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("vault.root", "AI_Employee_Vault")

	v.SetDefault("orchestrator.interval", 5*time.Minute)
	v.SetDefault("orchestrator.oracle_timeout", 60*time.Second)
	v.SetDefault("orchestrator.max_execution_attempts", 3)

	v.SetDefault("gate.threshold", policy.DefaultThreshold)
	v.SetDefault("approval.ttl", 24*time.Hour)
	v.SetDefault("executor.timeout", 30*time.Second)

	v.SetDefault("watchers.cycle_timeout", 60*time.Second)
	v.SetDefault("watchers.init_timeout", 30*time.Second)
	v.SetDefault("watchers.base_backoff", 30*time.Second)
	v.SetDefault("watchers.max_backoff", 15*time.Minute)
	v.SetDefault("watchers.max_consecutive_failures", 5)
	v.SetDefault("watchers.inbox.enabled", true)
	v.SetDefault("watchers.inbox.poll_interval", 10*time.Second)
	v.SetDefault("watchers.inbox.rescan_interval", 5*time.Minute)
	v.SetDefault("watchers.inbox.settle_time", 2*time.Second)
	v.SetDefault("watchers.lark.enabled", false)
	v.SetDefault("watchers.lark.poll_interval", 60*time.Second)
	v.SetDefault("watchers.lark.chat_id", "")
	v.SetDefault("watchers.lark.lookback", time.Hour)

	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.base_url", "")
	v.SetDefault("oracle.model", "gpt-4o-mini")
	v.SetDefault("oracle.prompts_path", "")

	v.SetDefault("lark.app_id", "")
	v.SetDefault("lark.app_secret", "")
	v.SetDefault("lark.chat_id", "")
	v.SetDefault("lark.notify_receive_id", "")
	v.SetDefault("lark.notify_receive_id_type", "open_id")

	v.SetDefault("email.region", "")
	v.SetDefault("email.from_address", "")

	v.SetDefault("database.path", "fte.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("health.interval", time.Minute)
	v.SetDefault("audit.timezone", "")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 30)
}

// bindEnvVars binds the conventional names of credentials
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("oracle.api_key", "FTE_ORACLE_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("oracle.base_url", "FTE_ORACLE_BASE_URL", "OPENAI_BASE_URL")
	v.BindEnv("lark.app_id", "FTE_LARK_APP_ID", "LARK_APP_ID")
	v.BindEnv("lark.app_secret", "FTE_LARK_APP_SECRET", "LARK_APP_SECRET")
	v.BindEnv("email.region", "FTE_EMAIL_REGION", "AWS_REGION")
	v.BindEnv("vault.root", "FTE_VAULT_ROOT", "VAULT_PATH")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Vault.Root == "" {
		return fmt.Errorf("vault.root is required")
	}

	if err := (policy.Policy{Threshold: c.Gate.Threshold}).Validate(); err != nil {
		return fmt.Errorf("gate.threshold: %w", err)
	}

	if c.Orchestrator.Interval <= 0 {
		return fmt.Errorf("orchestrator.interval must be positive")
	}
	if c.Orchestrator.OracleTimeout <= 0 {
		return fmt.Errorf("orchestrator.oracle_timeout must be positive")
	}
	if c.Orchestrator.MaxExecutionAttempts < 1 {
		return fmt.Errorf("orchestrator.max_execution_attempts must be at least 1")
	}
	if c.Approval.TTL <= 0 {
		return fmt.Errorf("approval.ttl must be positive")
	}

	if c.Watchers.BaseBackoff <= 0 || c.Watchers.MaxBackoff < c.Watchers.BaseBackoff {
		return fmt.Errorf("watchers backoff must satisfy 0 < base_backoff <= max_backoff")
	}
	if c.Watchers.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("watchers.max_consecutive_failures must be at least 1")
	}
	if c.Watchers.Lark.Enabled {
		if !c.Lark.Enabled() {
			return fmt.Errorf("watchers.lark needs lark.app_id and lark.app_secret")
		}
		if c.Watchers.Lark.ChatID == "" && c.Lark.ChatID == "" {
			return fmt.Errorf("watchers.lark.chat_id is required")
		}
	}

	if c.Email.Enabled() {
		if err := utils.ValidateEmail(c.Email.FromAddress); err != nil {
			return fmt.Errorf("email.from_address: %w", err)
		}
	}

	if c.Server.Enabled && (c.Server.Port < 0 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	if _, err := c.Audit.Location(); err != nil {
		return fmt.Errorf("audit.timezone: %w", err)
	}

	return nil
}

// ValidateEngine checks what `fte start` needs beyond Validate
func (c *Config) ValidateEngine() error {
	if c.Oracle.APIKey == "" {
		return fmt.Errorf("oracle.api_key is required (or set OPENAI_API_KEY)")
	}
	return nil
}

// LarkChatID is the chat the Lark watcher polls
func (c *Config) LarkChatID() string {
	if c.Watchers.Lark.ChatID != "" {
		return c.Watchers.Lark.ChatID
	}
	return c.Lark.ChatID
}
