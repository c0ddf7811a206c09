package provision

import "fmt"

// ExternalCommandError is returned when a command run inside a tenant
// container fails to start or exits non-zero.
type ExternalCommandError struct {
	Tenant    string
	Step      Step
	Container string
	// ExitCode is -1 when the command could not be run at all.
	ExitCode int
	Output   string
	Err      error
}

func (e *ExternalCommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s for %s in %s: %v", e.Step, e.Tenant, e.Container, e.Err)
	}
	msg := fmt.Sprintf("%s for %s in %s: exit status %d", e.Step, e.Tenant, e.Container, e.ExitCode)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *ExternalCommandError) Unwrap() error {
	return e.Err
}

// StepError records which step of which tenant failed.
type StepError struct {
	Tenant string
	Step   Step
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("provision %s: %s: %v", e.Tenant, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
