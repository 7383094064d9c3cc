package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Env        string           `mapstructure:"env" validate:"required,oneof=development test staging production"`
	Addr       string           `mapstructure:"addr" validate:"required"` // e.g. "127.0.0.1:8080" or ":8080" in Docker
	Log        LogConfig        `mapstructure:"log"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	API        APIConfig        `mapstructure:"api"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

type LogConfig struct {
	Dir   string `mapstructure:"dir" validate:"required"`
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

type StorageConfig struct {
	Driver        string `mapstructure:"driver" validate:"oneof=memory postgres sqlite bolt redis"`
	DatabaseURL   string `mapstructure:"database_url" validate:"required_if=Driver postgres"`
	SQLitePath    string `mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
	BoltPath      string `mapstructure:"bolt_path" validate:"required_if=Driver bolt"`
	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"min=0"`
}

// RegistryConfig picks where endpoints come from. "file" re-reads the YAML
// file each sweep; "store" keeps them in the storage backend and upserts the
// file's entries at startup when a file is given.
type RegistryConfig struct {
	Source        string `mapstructure:"source" validate:"oneof=file store"`
	EndpointsFile string `mapstructure:"endpoints_file" validate:"required_if=Source file"`
}

type SchedulerConfig struct {
	Interval    time.Duration `mapstructure:"interval" validate:"min=0"`
	Concurrency int           `mapstructure:"concurrency" validate:"min=1"`
	RunOnStart  bool          `mapstructure:"run_on_start"`
}

type ProbeConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" validate:"gt=0"`
	CaptureResponse bool          `mapstructure:"capture_response"`
	UserAgent       string        `mapstructure:"user_agent"`
}

type APIConfig struct {
	PublicKeys     []string `mapstructure:"public_keys"`
	AdminKeys      []string `mapstructure:"admin_keys"`
	PublicRPM      int      `mapstructure:"public_rpm" validate:"min=0"`
	PublicBurst    int      `mapstructure:"public_burst" validate:"min=0"`
	AdminRPM       int      `mapstructure:"admin_rpm" validate:"min=0"`
	AdminBurst     int      `mapstructure:"admin_burst" validate:"min=0"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

// Load reads the optional YAML file at path, applies environment overrides
// (STORAGE_DRIVER, SCHEDULER_INTERVAL, ...) and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	// default first
	setDefaults(v)

	// Env Config
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindLegacyEnv(v)

	// File Config
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.API.PublicKeys = cleanList(cfg.API.PublicKeys)
	cfg.API.AdminKeys = cleanList(cfg.API.AdminKeys)
	cfg.API.AllowedOrigins = cleanList(cfg.API.AllowedOrigins)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("addr", "127.0.0.1:8080")

	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.level", "info")

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.database_url", "")
	v.SetDefault("storage.sqlite_path", "data/apimonitor.db")
	v.SetDefault("storage.bolt_path", "data/records.db")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)

	v.SetDefault("registry.source", "store")
	v.SetDefault("registry.endpoints_file", "")

	v.SetDefault("scheduler.interval", "5s")
	v.SetDefault("scheduler.concurrency", 8)
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("probe.timeout", "10s")
	v.SetDefault("probe.max_body_bytes", 64<<10)
	v.SetDefault("probe.capture_response", false)
	v.SetDefault("probe.user_agent", "apimonitor/1.0")

	v.SetDefault("api.public_keys", []string{})
	v.SetDefault("api.admin_keys", []string{})
	v.SetDefault("api.public_rpm", 120)
	v.SetDefault("api.public_burst", 60)
	v.SetDefault("api.admin_rpm", 30)
	v.SetDefault("api.admin_burst", 10)
	v.SetDefault("api.allowed_origins", []string{})

	v.SetDefault("prometheus.enabled", true)
	v.SetDefault("prometheus.path", "/metrics")
}

// bindLegacyEnv keeps the short variable names used by existing deployments
// and the preflight check working.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("addr", "ADDR", "API_ADDR")
	_ = v.BindEnv("storage.database_url", "STORAGE_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("api.public_keys", "API_PUBLIC_KEYS", "PUBLIC_API_KEYS")
	_ = v.BindEnv("api.admin_keys", "API_ADMIN_KEYS", "ADMIN_API_KEYS")
	_ = v.BindEnv("api.allowed_origins", "API_ALLOWED_ORIGINS", "ALLOWED_ORIGINS")
	_ = v.BindEnv("registry.endpoints_file", "REGISTRY_ENDPOINTS_FILE", "ENDPOINTS_FILE")
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func validateConfig(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			return formatValidationErrors(ve)
		}
		return err
	}
	return nil
}

func formatValidationErrors(ve validator.ValidationErrors) error {
	var sb strings.Builder
	sb.WriteString("config validation failed:\n")

	for _, fe := range ve {
		fmt.Fprintf(&sb, "- field '%s' failed on '%s'\n", fe.Namespace(), fe.Tag())
	}
	return errors.New(sb.String())
}
