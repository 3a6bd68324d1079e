// Package sandbox constructs and validates the Docker invocations that
// isolate untrusted, machine-generated programs from the host.
package sandbox

import "fmt"

// InfraError reports that the container runtime itself misbehaved: daemon
// unreachable, image missing, permission denied. It is deliberately a
// distinct type so callers never confuse an operational failure with a
// failure of the candidate program.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("sandbox infrastructure: %s: %v", e.Op, e.Err)
}

func (e *InfraError) Unwrap() error { return e.Err }

func infraErr(op string, err error) *InfraError {
	return &InfraError{Op: op, Err: err}
}
