// Package cli wires the provisioning command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/arcweb/provisioner/config"
	"github.com/arcweb/provisioner/database"
	"github.com/arcweb/provisioner/events"
	"github.com/arcweb/provisioner/lock"
	"github.com/arcweb/provisioner/logger"
	"github.com/arcweb/provisioner/orchestrator"
	"github.com/arcweb/provisioner/planner"
	"github.com/arcweb/provisioner/platform"
	"github.com/arcweb/provisioner/provision"
)

// Runtime is a container runtime that holds a client connection.
type Runtime interface {
	orchestrator.ContainerRuntime
	Close() error
}

// Options lets tests replace the external collaborators.
type Options struct {
	NewEnsurer func(config.Database) provision.DatabaseEnsurer
	NewRuntime func(orchestrator.ReadyOptions) (Runtime, error)
}

func (o *Options) defaults() {
	if o.NewEnsurer == nil {
		o.NewEnsurer = func(db config.Database) provision.DatabaseEnsurer { return database.NewEnsurer(db) }
	}
	if o.NewRuntime == nil {
		o.NewRuntime = func(ready orchestrator.ReadyOptions) (Runtime, error) {
			rt, err := orchestrator.NewDockerRuntime(ready)
			if err != nil {
				return nil, err
			}
			return rt, nil
		}
	}
}

type flagValues struct {
	configPath string

	dbHost     string
	dbPort     string
	dbUser     string
	dbPassword string

	initMain   bool
	client     string
	allClients bool

	containerPrefix string
	baseDomain      string
	readyTimeout    time.Duration
	continueOnError bool
	reportPath      string
	redisURL        string
	logLevel        string
	logFormat       string
}

// NewRootCmd returns the provisioning command.
func NewRootCmd(opts Options) *cobra.Command {
	opts.defaults()
	var fv flagValues

	cmd := &cobra.Command{
		Use:   "arcweb-provision",
		Short: "Provision tenant databases and Odoo instances",
		Long: "Creates each tenant's database, initializes Odoo inside the tenant container, " +
			"installs the tenant's modules and sets its public domain.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(fv.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd.Flags(), &fv, &cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			slog.SetDefault(logger.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format))

			return run(cmd.Context(), cmd.OutOrStdout(), cfg, planner.Flags{
				InitMain:   fv.initMain,
				Client:     fv.client,
				AllClients: fv.allClients,
			}, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&fv.configPath, "config", "", "Path to a TOML config file")
	f.StringVar(&fv.dbHost, "db_host", "", "Database host")
	f.StringVar(&fv.dbPort, "db_port", "", "Database port")
	f.StringVar(&fv.dbUser, "db_user", "", "Database user")
	f.StringVar(&fv.dbPassword, "db_password", "", "Database password")
	f.BoolVar(&fv.initMain, "init_main", false, "Initialize main website")
	f.StringVar(&fv.client, "client", "", "Specific client to initialize (e.g., client1)")
	f.BoolVar(&fv.allClients, "all_clients", false, "Initialize all clients")
	f.StringVar(&fv.containerPrefix, "container_prefix", "", "Tenant container name prefix")
	f.StringVar(&fv.baseDomain, "base_domain", "", "Public domain of the main site")
	f.DurationVar(&fv.readyTimeout, "ready_timeout", 0, "How long to wait for a tenant container")
	f.BoolVar(&fv.continueOnError, "continue_on_error", false, "Keep provisioning after a tenant fails")
	f.StringVar(&fv.reportPath, "report", "", "Write the run report as TOML to this path")
	f.StringVar(&fv.redisURL, "redis_url", "", "Redis URL for tenant locks and progress events")
	f.StringVar(&fv.logLevel, "log_level", "", "Log level: debug, info, warn, error")
	f.StringVar(&fv.logFormat, "log_format", "", "Log format: text or json")

	for _, name := range []string{"db_host", "db_port", "db_user", "db_password"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

// applyFlags overlays flags the user actually set onto cfg.
func applyFlags(fs *pflag.FlagSet, fv *flagValues, cfg *config.Config) {
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}
	set("db_host", func() { cfg.Database.Host = fv.dbHost })
	set("db_port", func() { cfg.Database.Port = fv.dbPort })
	set("db_user", func() { cfg.Database.User = fv.dbUser })
	set("db_password", func() { cfg.Database.Password = fv.dbPassword })
	set("container_prefix", func() { cfg.Platform.ContainerPrefix = fv.containerPrefix })
	set("base_domain", func() { cfg.Platform.BaseDomain = fv.baseDomain })
	set("ready_timeout", func() { cfg.Readiness.Timeout = fv.readyTimeout })
	set("continue_on_error", func() { cfg.ContinueOnError = fv.continueOnError })
	set("report", func() { cfg.ReportPath = fv.reportPath })
	set("redis_url", func() { cfg.Redis.URL = fv.redisURL })
	set("log_level", func() { cfg.Logging.Level = fv.logLevel })
	set("log_format", func() { cfg.Logging.Format = fv.logFormat })
}

func run(ctx context.Context, out io.Writer, cfg config.Config, flags planner.Flags, opts Options) error {
	specs, err := planner.Plan(flags)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		slog.Info("no tenants selected; use --init_main, --client or --all_clients")
		return nil
	}
	slog.Info("provisioning plan", "tenants", planner.Names(specs))

	runtime, err := opts.NewRuntime(orchestrator.ReadyOptions{
		Timeout:  cfg.Readiness.Timeout,
		Interval: cfg.Readiness.Interval,
		Probe:    cfg.Platform.ProbeCommand,
	})
	if err != nil {
		return err
	}
	defer runtime.Close()

	provOpts := provision.Options{
		ContainerPrefix: cfg.Platform.ContainerPrefix,
		BaseDomain:      cfg.Platform.BaseDomain,
	}
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()

		provOpts.Locker = lock.NewRedisLocker(redisClient, cfg.Redis.LockTTL)
		provOpts.Events = events.NewRedisPublisher(redisClient)
	}

	prov := provision.New(opts.NewEnsurer(cfg.Database), runtime, platform.NewCommands(cfg), provOpts)
	report := provision.NewDriver(prov, cfg.ContinueOnError).Run(ctx, specs)

	if err := report.WriteTable(out); err != nil {
		slog.Warn("write report table failed", "err", err)
	}
	if cfg.ReportPath != "" {
		if err := report.WriteTOML(cfg.ReportPath); err != nil {
			slog.Error("write report file failed", "path", cfg.ReportPath, "err", err)
		} else {
			slog.Info("report written", "path", cfg.ReportPath)
		}
	}
	return report.Err()
}
