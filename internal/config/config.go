package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/shift"
)

type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname" validate:"required"`
	SSLMode  string `yaml:"sslmode" validate:"required"`
}

type CRMConfig struct {
	APIURL                string `yaml:"api_url" validate:"required,url"`
	APIToken              string `yaml:"api_token" validate:"required"`
	BatchSize             int    `yaml:"batch_size" validate:"gte=1"`
	MaxAttempts           int    `yaml:"max_attempts" validate:"gte=1"`
	MaxConcurrency        int    `yaml:"max_concurrency" validate:"gte=1"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds" validate:"gte=1"`
	DelayBetweenMillis    int    `yaml:"delay_between_ms" validate:"gte=0"`
}

func (c CRMConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c CRMConfig) DelayBetween() time.Duration {
	return time.Duration(c.DelayBetweenMillis) * time.Millisecond
}

type ShiftConfig struct {
	WorkStart     string `yaml:"work_start" validate:"required"`
	WorkEnd       string `yaml:"work_end" validate:"required"`
	Overnight     bool   `yaml:"overnight"`
	Timezone      string `yaml:"timezone" validate:"required"`
	EarlyInHours  int    `yaml:"early_in_hours" validate:"gte=0"`
	LateInHours   int    `yaml:"late_in_hours" validate:"gte=0"`
	EarlyOutHours int    `yaml:"early_out_hours" validate:"gte=0"`
	LateOutHours  int    `yaml:"late_out_hours" validate:"gte=0"`
}

type PollerConfig struct {
	IntervalMinutes int `yaml:"interval_minutes" validate:"gte=1"`
	TimeoutSeconds  int `yaml:"timeout_seconds" validate:"gte=1"`
}

func (c PollerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

func (c PollerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type ProcessorConfig struct {
	IntervalMinutes int `yaml:"interval_minutes" validate:"gte=1"`
	LookbackDays    int `yaml:"lookback_days" validate:"gte=1"`
	MaxConcurrency  int `yaml:"max_concurrency" validate:"gte=1"`
}

func (c ProcessorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

type SyncLoopConfig struct {
	IntervalMinutes int `yaml:"interval_minutes" validate:"gte=1"`
}

func (c SyncLoopConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

type RetentionConfig struct {
	RawPunchDays int `yaml:"raw_punch_days" validate:"gte=1"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format" validate:"oneof=text json"`
	Output     string `yaml:"output" validate:"oneof=stdout file both"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	CRM       CRMConfig       `yaml:"crm"`
	Shift     ShiftConfig     `yaml:"shift"`
	Poller    PollerConfig    `yaml:"poller"`
	Processor ProcessorConfig `yaml:"processor"`
	Sync      SyncLoopConfig  `yaml:"sync"`
	Retention RetentionConfig `yaml:"retention"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Load reads config.yaml from the working directory.
func Load() (*Config, error) {
	return LoadFrom("config.yaml")
}

// LoadFrom reads and validates a configuration file. Validation fails fast so
// no pipeline ever runs with an invalid window or tolerance.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Replace ${VAR} placeholders with environment variables.
	content := string(data)
	for _, env := range os.Environ() {
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 {
			continue
		}
		placeholder := "${" + pair[0] + "}"
		content = strings.ReplaceAll(content, placeholder, pair[1])
	}

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	// DB_PORT may arrive as a plain environment variable rather than a
	// placeholder.
	if portStr := os.Getenv("DB_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT value: %w", err)
		}
		cfg.Database.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaults mirror the reference deployment: 08:00-18:00 day shift in
// Africa/Nairobi with 2/2/2/3 hour tolerances, CRM batches of 100 capped at 3
// attempts.
func defaults() *Config {
	cfg := &Config{}
	cfg.Database.Port = 5432
	cfg.Database.SSLMode = "disable"
	cfg.CRM.BatchSize = 100
	cfg.CRM.MaxAttempts = 3
	cfg.CRM.MaxConcurrency = 4
	cfg.CRM.RequestTimeoutSeconds = 30
	cfg.CRM.DelayBetweenMillis = 100
	cfg.Shift.WorkStart = "08:00"
	cfg.Shift.WorkEnd = "18:00"
	cfg.Shift.Timezone = "Africa/Nairobi"
	cfg.Shift.EarlyInHours = 2
	cfg.Shift.LateInHours = 2
	cfg.Shift.EarlyOutHours = 2
	cfg.Shift.LateOutHours = 3
	cfg.Poller.IntervalMinutes = 10
	cfg.Poller.TimeoutSeconds = 10
	cfg.Processor.IntervalMinutes = 60
	cfg.Processor.LookbackDays = 3
	cfg.Processor.MaxConcurrency = 4
	cfg.Sync.IntervalMinutes = 30
	cfg.Retention.RawPunchDays = 90
	cfg.Server.Addr = ":8080"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Logging.Output = "stdout"
	cfg.Logging.File = "logs/bridge.log"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 5
	cfg.Logging.MaxAgeDays = 30
	return cfg
}

// Validate checks struct constraints and that the shift window itself is
// coherent.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := c.Window(); err != nil {
		return err
	}
	return nil
}

// Window builds the immutable shift window value passed into each
// reconciliation and classification run.
func (c *Config) Window() (shift.Window, error) {
	start, err := shift.ParseTimeOfDay(c.Shift.WorkStart)
	if err != nil {
		return shift.Window{}, fmt.Errorf("invalid work_start: %w", err)
	}
	end, err := shift.ParseTimeOfDay(c.Shift.WorkEnd)
	if err != nil {
		return shift.Window{}, fmt.Errorf("invalid work_end: %w", err)
	}
	loc, err := time.LoadLocation(c.Shift.Timezone)
	if err != nil {
		return shift.Window{}, fmt.Errorf("invalid timezone %q: %w", c.Shift.Timezone, err)
	}

	w := shift.Window{
		Start:     start,
		End:       end,
		Overnight: c.Shift.Overnight,
		EarlyIn:   time.Duration(c.Shift.EarlyInHours) * time.Hour,
		LateIn:    time.Duration(c.Shift.LateInHours) * time.Hour,
		EarlyOut:  time.Duration(c.Shift.EarlyOutHours) * time.Hour,
		LateOut:   time.Duration(c.Shift.LateOutHours) * time.Hour,
		Location:  loc,
	}
	if err := w.Validate(); err != nil {
		return shift.Window{}, err
	}
	return w, nil
}

// ConnString assembles the pgx connection string.
func (c DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}
