package provision

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arcweb/provisioner/tenant"
)

// TenantProvisioner provisions a single tenant.
type TenantProvisioner interface {
	Provision(ctx context.Context, spec tenant.Spec) Result
}

// Driver provisions a planned list of tenants one at a time.
type Driver struct {
	tenants         TenantProvisioner
	continueOnError bool
	log             *slog.Logger
}

// NewDriver returns a Driver. With continueOnError false the first failed
// tenant ends the run and every later tenant is reported as skipped.
func NewDriver(tenants TenantProvisioner, continueOnError bool) *Driver {
	return &Driver{
		tenants:         tenants,
		continueOnError: continueOnError,
		log:             slog.Default().With("component", "driver"),
	}
}

// Run provisions specs in order and returns the per-tenant report.
func (d *Driver) Run(ctx context.Context, specs []tenant.Spec) *Report {
	report := &Report{
		RunID:           uuid.New().String()[:8],
		ContinueOnError: d.continueOnError,
		StartedAt:       time.Now(),
		Results:         make([]Result, 0, len(specs)),
	}
	ctx = withRunID(ctx, report.RunID)

	if len(specs) == 0 {
		d.log.Info("nothing to provision", "run", report.RunID)
	} else {
		d.log.Info("starting provisioning run", "run", report.RunID, "tenants", len(specs))
	}

	halted := false
	for _, spec := range specs {
		if halted {
			report.Results = append(report.Results, skipped(spec))
			continue
		}
		if err := ctx.Err(); err != nil {
			d.log.Warn("run cancelled", "run", report.RunID, "err", err)
			report.Cancelled = err
			halted = true
			report.Results = append(report.Results, skipped(spec))
			continue
		}

		res := d.tenants.Provision(ctx, spec)
		report.Results = append(report.Results, res)
		if res.Err != nil && !d.continueOnError {
			d.log.Error("halting run after failed tenant", "run", report.RunID, "tenant", res.Tenant, "step", res.FailedStep)
			halted = true
		}
	}

	report.FinishedAt = time.Now()
	d.log.Info("provisioning run finished", "run", report.RunID,
		"succeeded", report.Count(StateDomainStamped),
		"failed", report.Count(StateFailed),
		"skipped", report.Count(StateSkipped),
	)
	return report
}

func skipped(spec tenant.Spec) Result {
	return Result{Tenant: spec.Name(), State: StateSkipped}
}

type runIDKey struct{}

func withRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func runIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
