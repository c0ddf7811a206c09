// Package config holds the settings of one provisioning run.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/arcweb/provisioner/tenant"
)

const envPrefix = "ARCWEB_"

// Database holds the connection parameters shared by the admin connection and
// the platform CLI invocations. Host, port, user and password come only from
// the required command-line flags; files and env can set sslmode.
type Database struct {
	Host     string `toml:"-"`
	Port     string `toml:"-"`
	User     string `toml:"-"`
	Password string `toml:"-"`
	SSLMode  string `toml:"sslmode"`
}

// Platform configures the commands run inside tenant containers.
type Platform struct {
	ContainerPrefix string   `toml:"container_prefix"`
	BaseDomain      string   `toml:"base_domain"`
	Language        string   `toml:"language"`
	Binary          string   `toml:"binary"`
	PsqlBinary      string   `toml:"psql_binary"`
	ProbeCommand    []string `toml:"probe_command"`
}

// Readiness bounds the container readiness gate.
type Readiness struct {
	Timeout  time.Duration `toml:"timeout"`
	Interval time.Duration `toml:"interval"`
}

// Redis enables the tenant lock and progress events when URL is set.
type Redis struct {
	URL     string        `toml:"url"`
	LockTTL time.Duration `toml:"lock_ttl"`
}

// Logging selects the slog handler.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the full run configuration.
type Config struct {
	Database        Database  `toml:"database"`
	Platform        Platform  `toml:"platform"`
	Readiness       Readiness `toml:"readiness"`
	Redis           Redis     `toml:"redis"`
	Logging         Logging   `toml:"logging"`
	ContinueOnError bool      `toml:"continue_on_error"`
	ReportPath      string    `toml:"report_path"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: Database{
			Port:    "5432",
			SSLMode: "disable",
		},
		Platform: Platform{
			ContainerPrefix: tenant.DefaultContainerPrefix,
			BaseDomain:      tenant.DefaultBaseDomain,
			Language:        "en_US",
			Binary:          "odoo",
			PsqlBinary:      "psql",
			ProbeCommand:    []string{"odoo", "--version"},
		},
		Readiness: Readiness{
			Timeout:  60 * time.Second,
			Interval: 2 * time.Second,
		},
		Redis: Redis{
			LockTTL: 30 * time.Minute,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load returns the defaults overlaid with the TOML file at path (when path is
// not empty) and then with ARCWEB_* environment variables. Unknown file keys
// are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return Config{}, fmt.Errorf("decode config %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("DB_SSLMODE", &c.Database.SSLMode)
	str("CONTAINER_PREFIX", &c.Platform.ContainerPrefix)
	str("BASE_DOMAIN", &c.Platform.BaseDomain)
	str("REDIS_URL", &c.Redis.URL)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	if v, ok := lookup(envPrefix + "READY_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %sREADY_TIMEOUT: %w", envPrefix, err)
		}
		c.Readiness.Timeout = d
	}
	if v, ok := lookup(envPrefix + "CONTINUE_ON_ERROR"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %sCONTINUE_ON_ERROR: %w", envPrefix, err)
		}
		c.ContinueOnError = b
	}
	return nil
}

// Validate checks the settings every run depends on.
func (c Config) Validate() error {
	var errs []error
	db := c.Database
	if strings.TrimSpace(db.Host) == "" {
		errs = append(errs, errors.New("database host is required"))
	}
	if strings.TrimSpace(db.User) == "" {
		errs = append(errs, errors.New("database user is required"))
	} else if err := tenant.ValidateIdentifier(db.User); err != nil {
		errs = append(errs, fmt.Errorf("database user: %w", err))
	}
	if db.Password == "" {
		errs = append(errs, errors.New("database password is required"))
	}
	if port, err := strconv.Atoi(db.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("database port %q is not a valid port", db.Port))
	}
	if err := tenant.ValidateIdentifier(c.Platform.ContainerPrefix); err != nil {
		errs = append(errs, fmt.Errorf("container prefix: %w", err))
	}
	if strings.TrimSpace(c.Platform.BaseDomain) == "" {
		errs = append(errs, errors.New("base domain is required"))
	}
	if c.Platform.Binary == "" || c.Platform.PsqlBinary == "" {
		errs = append(errs, errors.New("platform binaries are required"))
	}
	if c.Readiness.Timeout <= 0 || c.Readiness.Interval <= 0 {
		errs = append(errs, errors.New("readiness timeout and interval must be positive"))
	}
	if c.Redis.URL != "" && c.Redis.LockTTL <= 0 {
		errs = append(errs, errors.New("redis lock ttl must be positive"))
	}
	return errors.Join(errs...)
}
