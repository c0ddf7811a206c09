// Package provision runs the tenant provisioning workflow: ensure the
// database, bootstrap the platform, install modules and stamp the domain.
package provision

import (
	"context"
	"log/slog"
	"time"

	"github.com/arcweb/provisioner/events"
	"github.com/arcweb/provisioner/lock"
	"github.com/arcweb/provisioner/orchestrator"
	"github.com/arcweb/provisioner/platform"
	"github.com/arcweb/provisioner/tenant"
)

// State is how far a tenant got.
type State string

const (
	StatePlanned              State = "planned"
	StateDatabaseEnsured      State = "database_ensured"
	StatePlatformBootstrapped State = "platform_bootstrapped"
	StateModulesInstalled     State = "modules_installed"
	StateDomainStamped        State = "domain_stamped"
	StateFailed               State = "failed"
	StateSkipped              State = "skipped"
)

// Step names one stage of the workflow.
type Step string

const (
	StepValidate       Step = "validate"
	StepLock           Step = "acquire_lock"
	StepEnsureDatabase Step = "ensure_database"
	StepWaitReady      Step = "wait_ready"
	StepPlatformInit   Step = "platform_initialize"
	StepModuleInstall  Step = "module_install"
	StepDomainStamp    Step = "domain_stamp"
)

const (
	statusRunning   = "running"
	statusFailed    = "failed"
	statusSucceeded = "succeeded"

	maxOutputTail = 2048
)

// DatabaseEnsurer creates the tenant database when it is missing.
type DatabaseEnsurer interface {
	EnsureDatabase(ctx context.Context, spec tenant.Spec) (string, error)
}

// Options tunes a Provisioner. Zero values fall back to defaults.
type Options struct {
	ContainerPrefix string
	BaseDomain      string
	Locker          lock.Locker
	Events          events.Publisher
}

// Provisioner takes one tenant from planned to domain_stamped.
type Provisioner struct {
	db       DatabaseEnsurer
	runtime  orchestrator.ContainerRuntime
	commands platform.Commands
	locker   lock.Locker
	events   events.Publisher
	prefix   string
	domain   string
	log      *slog.Logger
}

// New returns a Provisioner using the given collaborators.
func New(db DatabaseEnsurer, runtime orchestrator.ContainerRuntime, commands platform.Commands, opts Options) *Provisioner {
	if opts.ContainerPrefix == "" {
		opts.ContainerPrefix = tenant.DefaultContainerPrefix
	}
	if opts.BaseDomain == "" {
		opts.BaseDomain = tenant.DefaultBaseDomain
	}
	if opts.Locker == nil {
		opts.Locker = lock.Nop{}
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	return &Provisioner{
		db:       db,
		runtime:  runtime,
		commands: commands,
		locker:   opts.Locker,
		events:   opts.Events,
		prefix:   opts.ContainerPrefix,
		domain:   opts.BaseDomain,
		log:      slog.Default().With("component", "provision"),
	}
}

// Provision runs every step for spec and stops at the first failure. The
// returned Result always describes how far the tenant got.
func (p *Provisioner) Provision(ctx context.Context, spec tenant.Spec) (res Result) {
	name := spec.Name()
	res = Result{
		Tenant:    name,
		Container: spec.ContainerName(p.prefix),
		Domain:    spec.Domain(p.domain),
		Modules:   spec.Modules(),
		State:     StatePlanned,
		StartedAt: time.Now(),
	}
	defer func() { res.Duration = time.Since(res.StartedAt) }()

	runID := runIDFrom(ctx)
	log := p.log.With("tenant", name, "run", runID)

	runStep := func(step Step, message string, done State, fn func() error) bool {
		log.Info("provision step started", "step", step, "message", message)
		p.publish(ctx, runID, name, step, statusRunning, message)
		if err := fn(); err != nil {
			log.Error("provision step failed", "step", step, "err", err)
			p.publish(ctx, runID, name, step, statusFailed, err.Error())
			res.State = StateFailed
			res.FailedStep = step
			res.Err = &StepError{Tenant: name, Step: step, Err: err}
			return false
		}
		if done != "" {
			res.State = done
		}
		p.publish(ctx, runID, name, step, statusSucceeded, "")
		log.Info("provision step completed", "step", step)
		return true
	}

	if !runStep(StepValidate, "validating tenant name", "", spec.Validate) {
		return res
	}

	var release lock.Release
	if !runStep(StepLock, "acquiring tenant lock", "", func() error {
		r, err := p.locker.Acquire(ctx, name)
		release = r
		return err
	}) {
		return res
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("release tenant lock failed", "err", err)
		}
	}()

	if !runStep(StepEnsureDatabase, "ensuring database", StateDatabaseEnsured, func() error {
		db, err := p.db.EnsureDatabase(ctx, spec)
		res.Database = db
		return err
	}) {
		return res
	}

	if !runStep(StepWaitReady, "waiting for container "+res.Container, "", func() error {
		return p.runtime.WaitReady(ctx, res.Container)
	}) {
		return res
	}

	if !runStep(StepPlatformInit, "initializing platform database", StatePlatformBootstrapped, func() error {
		return p.exec(ctx, name, StepPlatformInit, res.Container, p.commands.Initialize(res.Database))
	}) {
		return res
	}

	if !runStep(StepModuleInstall, "installing modules", StateModulesInstalled, func() error {
		return p.exec(ctx, name, StepModuleInstall, res.Container, p.commands.Install(res.Database, res.Modules))
	}) {
		return res
	}

	if !runStep(StepDomainStamp, "setting domain "+res.Domain, StateDomainStamped, func() error {
		return p.exec(ctx, name, StepDomainStamp, res.Container, p.commands.StampDomain(res.Database, res.Domain))
	}) {
		return res
	}

	log.Info("tenant provisioned", "database", res.Database, "domain", res.Domain, "container", res.Container)
	return res
}

func (p *Provisioner) exec(ctx context.Context, name string, step Step, containerName string, cmd platform.Command) error {
	p.log.Info("exec in container", "tenant", name, "container", containerName, "cmd", platform.Redact(cmd.Args))

	out, err := p.runtime.Exec(ctx, containerName, orchestrator.ExecRequest{
		Cmd:   cmd.Args,
		Env:   cmd.Env,
		Stdin: cmd.Stdin,
	})
	if err != nil {
		return &ExternalCommandError{Tenant: name, Step: step, Container: containerName, ExitCode: -1, Err: err}
	}
	if out.ExitCode != 0 {
		return &ExternalCommandError{
			Tenant:    name,
			Step:      step,
			Container: containerName,
			ExitCode:  out.ExitCode,
			Output:    tail(out.Output(), maxOutputTail),
		}
	}
	return nil
}

func (p *Provisioner) publish(ctx context.Context, runID, name string, step Step, status, message string) {
	p.events.Publish(ctx, events.Event{
		RunID:   runID,
		Tenant:  name,
		Step:    string(step),
		Status:  status,
		Message: message,
		At:      time.Now(),
	})
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
