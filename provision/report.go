package provision

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"
)

// Result is the outcome of one tenant in a run.
type Result struct {
	Tenant     string
	Database   string
	Container  string
	Domain     string
	Modules    []string
	State      State
	FailedStep Step
	Err        error
	StartedAt  time.Time
	Duration   time.Duration
}

// Report collects the results of a run in plan order.
type Report struct {
	RunID           string
	ContinueOnError bool
	StartedAt       time.Time
	FinishedAt      time.Time
	// Cancelled is the context error that stopped the run early, if any.
	Cancelled       error
	Results         []Result
}

// Err returns the first tenant failure. Without one, it reports tenants left
// unprovisioned by a cancelled or halted run. It is nil only when every
// planned tenant was provisioned.
func (r *Report) Err() error {
	for _, res := range r.Results {
		if res.Err != nil {
			return res.Err
		}
	}
	if n := r.Count(StateSkipped); n > 0 {
		if r.Cancelled != nil {
			return fmt.Errorf("run cancelled: %d tenants not provisioned: %w", n, r.Cancelled)
		}
		return fmt.Errorf("run halted: %d tenants not provisioned", n)
	}
	return nil
}

// Count returns how many tenants ended in state.
func (r *Report) Count(state State) int {
	n := 0
	for _, res := range r.Results {
		if res.State == state {
			n++
		}
	}
	return n
}

// WriteTable prints one line per tenant.
func (r *Report) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "TENANT\tSTATE\tFAILED STEP\tDATABASE\tDOMAIN\tDURATION\n")
	for _, res := range r.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			res.Tenant,
			res.State,
			dash(string(res.FailedStep)),
			dash(res.Database),
			dash(res.Domain),
			res.Duration.Round(time.Millisecond),
		)
	}
	return tw.Flush()
}

type reportFile struct {
	RunID           string        `toml:"run_id"`
	ContinueOnError bool          `toml:"continue_on_error"`
	StartedAt       time.Time     `toml:"started_at"`
	FinishedAt      time.Time     `toml:"finished_at"`
	Cancelled       string        `toml:"cancelled,omitempty"`
	Tenants         []tenantEntry `toml:"tenant"`
}

type tenantEntry struct {
	Name       string   `toml:"name"`
	State      string   `toml:"state"`
	FailedStep string   `toml:"failed_step,omitempty"`
	Error      string   `toml:"error,omitempty"`
	Database   string   `toml:"database,omitempty"`
	Container  string   `toml:"container,omitempty"`
	Domain     string   `toml:"domain,omitempty"`
	Modules    []string `toml:"modules,omitempty"`
	DurationMS int64    `toml:"duration_ms"`
}

// WriteTOML writes the report to path.
func (r *Report) WriteTOML(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	return r.writeTOML(f)
}

// writeTOML encodes the report into w and closes it. A failed close means the
// report may be incomplete, so it is returned like an encode error.
func (r *Report) writeTOML(w io.WriteCloser) (err error) {
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close report file: %w", cerr)
		}
	}()

	if err := toml.NewEncoder(w).Encode(r.file()); err != nil {
		return fmt.Errorf("encode report file: %w", err)
	}
	return nil
}

func (r *Report) file() reportFile {
	out := reportFile{
		RunID:           r.RunID,
		ContinueOnError: r.ContinueOnError,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
		Tenants:         make([]tenantEntry, 0, len(r.Results)),
	}
	if r.Cancelled != nil {
		out.Cancelled = r.Cancelled.Error()
	}
	for _, res := range r.Results {
		entry := tenantEntry{
			Name:       res.Tenant,
			State:      string(res.State),
			FailedStep: string(res.FailedStep),
			Database:   res.Database,
			Container:  res.Container,
			Domain:     res.Domain,
			Modules:    res.Modules,
			DurationMS: res.Duration.Milliseconds(),
		}
		if res.Err != nil {
			entry.Error = res.Err.Error()
		}
		out.Tenants = append(out.Tenants, entry)
	}
	return out
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
