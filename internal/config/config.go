package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/semmidev/stackvault/internal/domain"
)

const (
	EnvPrefix = "STACKVAULT"

	DriverSDK = "sdk"
	DriverCLI = "cli"

	// DefaultEndpoint is the public S3 endpoint; an override equal to it is ignored.
	DefaultEndpoint = "https://s3.amazonaws.com"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Backup   BackupConfig   `mapstructure:"backup"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Targets  TargetsConfig  `mapstructure:"targets"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogDir   string `mapstructure:"log_dir"`
}

type BackupConfig struct {
	Root            string        `mapstructure:"root"`
	RetentionDays   int           `mapstructure:"retention_days"`
	Compress        bool          `mapstructure:"compress"`
	ArchiveBatch    bool          `mapstructure:"archive_batch"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout"`
	SnapshotTimeout time.Duration `mapstructure:"snapshot_timeout"`
}

type RemoteConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Driver       string `mapstructure:"driver"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	SessionToken string `mapstructure:"session_token"`
	AutoInstall  bool   `mapstructure:"auto_install"`
}

// CustomEndpoint returns the endpoint override, or "" when the default should be used.
func (r RemoteConfig) CustomEndpoint() string {
	ep := strings.TrimRight(strings.TrimSpace(r.Endpoint), "/")
	if ep == "" || ep == DefaultEndpoint {
		return ""
	}
	return ep
}

type TargetConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Container string `mapstructure:"container"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`

	// Redis specific
	DataDir string `mapstructure:"data_dir"`
}

type TargetsConfig struct {
	MySQL      TargetConfig `mapstructure:"mysql"`
	Postgres   TargetConfig `mapstructure:"postgres"`
	Redis      TargetConfig `mapstructure:"redis"`
	ClickHouse TargetConfig `mapstructure:"clickhouse"`
}

func (t TargetsConfig) For(kind domain.TargetKind) TargetConfig {
	switch kind {
	case domain.KindMySQL:
		return t.MySQL
	case domain.KindPostgres:
		return t.Postgres
	case domain.KindRedis:
		return t.Redis
	case domain.KindClickHouse:
		return t.ClickHouse
	}
	return TargetConfig{}
}

type ScheduleConfig struct {
	Backup      string `mapstructure:"backup"`
	Cleanup     string `mapstructure:"cleanup"`
	Binary      string `mapstructure:"binary"`
	WorkDir     string `mapstructure:"workdir"`
	SnapshotDir string `mapstructure:"snapshot_dir"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "stackvault")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_dir", "logs")

	v.SetDefault("backup.root", "backups")
	v.SetDefault("backup.retention_days", 30)
	v.SetDefault("backup.compress", true)
	v.SetDefault("backup.archive_batch", true)
	v.SetDefault("backup.command_timeout", 30*time.Minute)
	v.SetDefault("backup.snapshot_timeout", 5*time.Minute)

	v.SetDefault("remote.enabled", false)
	v.SetDefault("remote.driver", DriverSDK)
	v.SetDefault("remote.bucket", "")
	v.SetDefault("remote.prefix", "backups")
	v.SetDefault("remote.region", "us-east-1")
	v.SetDefault("remote.endpoint", "")
	v.SetDefault("remote.access_key", "")
	v.SetDefault("remote.secret_key", "")
	v.SetDefault("remote.session_token", "")
	v.SetDefault("remote.auto_install", true)

	targets := map[string][2]string{
		"mysql":      {"mysql", "root"},
		"postgres":   {"postgres", "postgres"},
		"redis":      {"redis", ""},
		"clickhouse": {"clickhouse", "default"},
	}
	for name, d := range targets {
		v.SetDefault("targets."+name+".enabled", true)
		v.SetDefault("targets."+name+".container", d[0])
		v.SetDefault("targets."+name+".user", d[1])
		v.SetDefault("targets."+name+".password", "")
		v.SetDefault("targets."+name+".data_dir", "")
	}
	v.SetDefault("targets.redis.data_dir", "/data")

	v.SetDefault("schedule.backup", "0 2 * * *")
	v.SetDefault("schedule.cleanup", "0 3 * * *")
	v.SetDefault("schedule.binary", "")
	v.SetDefault("schedule.workdir", ".")
	v.SetDefault("schedule.snapshot_dir", "crontab-snapshots")

	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.telegram.bot_token", "")
	v.SetDefault("notify.telegram.chat_id", 0)
}

// Load reads the optional config file at path and applies STACKVAULT_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backup.Root) == "" {
		return fmt.Errorf("%w: backup.root is required", domain.ErrConfigurationInvalid)
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("%w: backup.retention_days must be >= 0", domain.ErrConfigurationInvalid)
	}

	if c.Remote.Enabled {
		if strings.TrimSpace(c.Remote.Bucket) == "" {
			return fmt.Errorf("%w: remote.bucket is required when remote sync is enabled", domain.ErrConfigurationInvalid)
		}
		if c.Remote.Driver != DriverSDK && c.Remote.Driver != DriverCLI {
			return fmt.Errorf("%w: remote.driver must be %q or %q", domain.ErrConfigurationInvalid, DriverSDK, DriverCLI)
		}
	}

	for _, kind := range domain.Kinds {
		t := c.Targets.For(kind)
		if t.Enabled && strings.TrimSpace(t.Container) == "" {
			return fmt.Errorf("%w: targets.%s.container is required when enabled", domain.ErrConfigurationInvalid, kind)
		}
	}

	for key, expr := range map[string]string{"schedule.backup": c.Schedule.Backup, "schedule.cleanup": c.Schedule.Cleanup} {
		if expr == "" {
			continue
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrConfigurationInvalid, key, err)
		}
	}

	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == 0) {
		return fmt.Errorf("%w: notify.telegram requires bot_token and chat_id", domain.ErrConfigurationInvalid)
	}

	return nil
}

// EnabledTargets returns the enabled targets in full-run order.
func (c *Config) EnabledTargets() []domain.TargetKind {
	var kinds []domain.TargetKind
	for _, kind := range domain.Kinds {
		if c.Targets.For(kind).Enabled {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}
