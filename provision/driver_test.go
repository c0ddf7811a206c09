package provision

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/arcweb/provisioner/planner"
	"github.com/arcweb/provisioner/tenant"
)

func TestDriverFailFastStopsLaterTenants(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.ensurer.fail["client3"] = errors.New("permission denied to create database")

	specs, err := planner.Plan(planner.Flags{AllClients: true})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	report := NewDriver(h.prov, false).Run(context.Background(), specs)

	for k := 4; k <= 10; k++ {
		name := tenant.Client(k).Name()
		if calls := callsFor(h.rec, name); len(calls) != 0 {
			t.Fatalf("steps invoked for %s after client3 failed: %v", name, calls)
		}
	}
	if got := callsFor(h.rec, "client3"); strings.Join(got, "|") != "lock client3|ensure client3" {
		t.Fatalf("client3 calls = %v", got)
	}

	if len(report.Results) != 10 {
		t.Fatalf("results = %d, want 10", len(report.Results))
	}
	if report.Count(StateDomainStamped) != 2 || report.Count(StateFailed) != 1 || report.Count(StateSkipped) != 7 {
		t.Fatalf("counts stamped=%d failed=%d skipped=%d",
			report.Count(StateDomainStamped), report.Count(StateFailed), report.Count(StateSkipped))
	}
	if report.Results[2].FailedStep != StepEnsureDatabase {
		t.Fatalf("client3 failed step = %q", report.Results[2].FailedStep)
	}
	if err := report.Err(); err == nil || !strings.Contains(err.Error(), "client3") {
		t.Fatalf("report.Err() = %v, want client3 failure", err)
	}
}

func TestDriverContinueOnError(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.runtime.exitCodes["arcweb_client2 install"] = 1

	specs := []tenant.Spec{tenant.Client(1), tenant.Client(2), tenant.Client(3)}
	report := NewDriver(h.prov, true).Run(context.Background(), specs)

	want := []State{StateDomainStamped, StateFailed, StateDomainStamped}
	for i, res := range report.Results {
		if res.State != want[i] {
			t.Fatalf("result %d state = %q, want %q", i, res.State, want[i])
		}
	}
	if report.Results[1].State != StateFailed || report.Results[1].FailedStep != StepModuleInstall {
		t.Fatalf("client2 = %+v", report.Results[1])
	}
	if report.Err() == nil {
		t.Fatal("report.Err() = nil with a failed tenant")
	}
	if !report.ContinueOnError {
		t.Fatal("report does not record continue-on-error mode")
	}
}

func TestDriverCombinedPlanProvisionsDuplicate(t *testing.T) {
	t.Parallel()
	h := newHarness()
	specs, err := planner.Plan(planner.Flags{InitMain: true, Client: "client1", AllClients: true})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	report := NewDriver(h.prov, false).Run(context.Background(), specs)
	if err := report.Err(); err != nil {
		t.Fatalf("report.Err() = %v", err)
	}

	ensures := h.rec.mentioning("ensure ")
	if ensures[0] != "ensure main" || ensures[1] != "ensure client1" || ensures[2] != "ensure client1" {
		t.Fatalf("ensure order = %v", ensures)
	}
	if got := len(h.rec.mentioning("stamp arcweb_client1 ")); got != 2 {
		t.Fatalf("client1 stamped %d times, want 2", got)
	}
	if len(report.Results) != 12 {
		t.Fatalf("results = %d, want 12", len(report.Results))
	}
}

func TestDriverEmptyPlan(t *testing.T) {
	t.Parallel()
	h := newHarness()
	report := NewDriver(h.prov, false).Run(context.Background(), nil)
	if len(report.Results) != 0 || report.Err() != nil {
		t.Fatalf("report = %+v", report)
	}
	if len(h.rec.all()) != 0 {
		t.Fatalf("empty plan did work: %v", h.rec.all())
	}
	if report.RunID == "" {
		t.Fatal("missing run id")
	}
}

func TestDriverCancelledContextSkipsTenants(t *testing.T) {
	t.Parallel()
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := NewDriver(h.prov, true).Run(ctx, []tenant.Spec{tenant.Main(), tenant.Client(1)})
	if report.Count(StateSkipped) != 2 {
		t.Fatalf("skipped = %d, want 2", report.Count(StateSkipped))
	}
	if len(h.rec.all()) != 0 {
		t.Fatalf("cancelled run did work: %v", h.rec.all())
	}
	if err := report.Err(); !errors.Is(err, context.Canceled) {
		t.Fatalf("report.Err() = %v, want context.Canceled", err)
	}
}

// cancelAfter cancels the run once the wrapped provisioner finishes a tenant.
type cancelAfter struct {
	inner  TenantProvisioner
	cancel context.CancelFunc
}

func (c cancelAfter) Provision(ctx context.Context, spec tenant.Spec) Result {
	res := c.inner.Provision(ctx, spec)
	c.cancel()
	return res
}

func TestDriverCancelledMidRunFailsReport(t *testing.T) {
	t.Parallel()
	for _, continueOnError := range []bool{false, true} {
		h := newHarness()
		ctx, cancel := context.WithCancel(context.Background())

		specs := []tenant.Spec{tenant.Main(), tenant.Client(1), tenant.Client(2)}
		report := NewDriver(cancelAfter{inner: h.prov, cancel: cancel}, continueOnError).Run(ctx, specs)
		cancel()

		if report.Count(StateDomainStamped) != 1 || report.Count(StateSkipped) != 2 {
			t.Fatalf("continueOnError=%v: stamped=%d skipped=%d, want 1/2",
				continueOnError, report.Count(StateDomainStamped), report.Count(StateSkipped))
		}
		err := report.Err()
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("continueOnError=%v: report.Err() = %v, want context.Canceled", continueOnError, err)
		}
		if !strings.Contains(err.Error(), "2 tenants not provisioned") {
			t.Fatalf("report.Err() = %q, want skipped count", err)
		}
		if !errors.Is(report.Cancelled, context.Canceled) {
			t.Fatalf("Cancelled = %v", report.Cancelled)
		}
		if len(callsFor(h.rec, "client1")) != 0 || len(callsFor(h.rec, "client2")) != 0 {
			t.Fatalf("tenants provisioned after cancel: %v", h.rec.all())
		}
	}
}

func TestReportErrHaltedWithoutFailure(t *testing.T) {
	t.Parallel()
	report := &Report{Results: []Result{
		{Tenant: "main", State: StateDomainStamped},
		{Tenant: "client1", State: StateSkipped},
	}}
	err := report.Err()
	if err == nil || !strings.Contains(err.Error(), "1 tenants not provisioned") {
		t.Fatalf("report.Err() = %v, want halted run error", err)
	}
}

type failingCloser struct {
	bytes.Buffer
	err error
}

func (f *failingCloser) Close() error { return f.err }

func TestReportWriteTOMLReturnsCloseError(t *testing.T) {
	t.Parallel()
	report := &Report{RunID: "run1", Results: []Result{{Tenant: "main", State: StateDomainStamped}}}
	diskFull := errors.New("no space left on device")

	w := &failingCloser{err: diskFull}
	err := report.writeTOML(w)
	if !errors.Is(err, diskFull) {
		t.Fatalf("writeTOML() err = %v, want close error", err)
	}
	if !strings.Contains(w.String(), `run_id = "run1"`) {
		t.Fatalf("encoded report = %q", w.String())
	}

	if err := report.writeTOML(&failingCloser{}); err != nil {
		t.Fatalf("writeTOML() error = %v", err)
	}
}

func TestReportWriteTOMLRecordsCancellation(t *testing.T) {
	t.Parallel()
	report := &Report{RunID: "run2", Cancelled: context.Canceled, Results: []Result{{Tenant: "main", State: StateSkipped}}}
	w := &failingCloser{}
	if err := report.writeTOML(w); err != nil {
		t.Fatalf("writeTOML() error = %v", err)
	}
	if !strings.Contains(w.String(), `cancelled = "context canceled"`) {
		t.Fatalf("encoded report = %q", w.String())
	}
}

// callsFor returns the recorded calls that address tenant name, matching
// whole names so client1 does not match client10.
func callsFor(rec *recorder, name string) []string {
	re := regexp.MustCompile(`(^|[ _=])` + regexp.QuoteMeta(name) + `( |$)`)
	var out []string
	for _, c := range rec.all() {
		if re.MatchString(c) {
			out = append(out, c)
		}
	}
	return out
}

func TestReportOutputs(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.runtime.exitCodes["arcweb_client1 stamp"] = 2
	report := NewDriver(h.prov, false).Run(context.Background(), []tenant.Spec{tenant.Main(), tenant.Client(1), tenant.Client(2)})

	var buf bytes.Buffer
	if err := report.WriteTable(&buf); err != nil {
		t.Fatalf("WriteTable() error = %v", err)
	}
	table := buf.String()
	for _, want := range []string{"TENANT", "main", "domain_stamped", "client1", "domain_stamp", "client2", "skipped"} {
		if !strings.Contains(table, want) {
			t.Fatalf("table missing %q:\n%s", want, table)
		}
	}

	path := filepath.Join(t.TempDir(), "report.toml")
	if err := report.WriteTOML(path); err != nil {
		t.Fatalf("WriteTOML() error = %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	text := string(content)
	for _, want := range []string{
		"run_id = \"" + report.RunID + "\"",
		"[[tenant]]",
		"name = \"client1\"",
		"failed_step = \"domain_stamp\"",
		"exit status 2",
		"state = \"skipped\"",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("report missing %q in:\n%s", want, text)
		}
	}
}
