package sandbox

import (
	"fmt"
	"time"
)

// Limits is the per-run resource budget requested by the caller.
type Limits struct {
	TimeLimitSeconds float64 `json:"time_limit_seconds" yaml:"time_limit_seconds"`
	MemoryLimitMB    float64 `json:"memory_limit_mb" yaml:"memory_limit_mb"`
}

// Validate rejects non-positive budgets.
func (l Limits) Validate() error {
	if l.TimeLimitSeconds <= 0 {
		return fmt.Errorf("time limit must be positive, got %g", l.TimeLimitSeconds)
	}
	if l.MemoryLimitMB <= 0 {
		return fmt.Errorf("memory limit must be positive, got %g", l.MemoryLimitMB)
	}
	return nil
}

// TimeLimit returns the time budget as a duration.
func (l Limits) TimeLimit() time.Duration {
	return time.Duration(l.TimeLimitSeconds * float64(time.Second))
}

// Policy defines how the container around an untrusted program is locked
// down. The same flags apply to batch and scaffold runs; only the image,
// mounts, and entrypoint differ by mode.
type Policy struct {
	BatchImage    string   // image for test-harness runs (e.g. "python:3.11-slim")
	ScaffoldImage string   // image for scaffold runs
	Images        []string // extra allowlisted images

	// MemoryMultiplier scales the requested memory limit for the outer
	// container so interpreter overhead doesn't starve the candidate. The
	// exact limit is still enforced inside the harness.
	MemoryMultiplier float64

	CPUs        float64 // logical CPUs granted to the container
	PidsLimit   int     // fork-bomb mitigation
	TmpfsSizeMB int     // writable, non-executable scratch space

	// OuterOverhead is added to the candidate's time budget before the
	// container-level timeout wrapper kills the run.
	OuterOverhead time.Duration

	// PassthroughEnv lists host environment variables forwarded into
	// scaffold containers (API keys for the executor LLM).
	PassthroughEnv []string
}

// DefaultPolicy returns safe defaults for executing untrusted code.
func DefaultPolicy() Policy {
	return Policy{
		BatchImage:       "python:3.11-slim",
		ScaffoldImage:    "scaffold-runner",
		MemoryMultiplier: 2.0,
		CPUs:             1.0,
		PidsLimit:        100,
		TmpfsSizeMB:      100,
		OuterOverhead:    10 * time.Second,
		PassthroughEnv:   []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY"},
	}
}

// IsImageAllowed checks an image against the allowlist.
func (p Policy) IsImageAllowed(image string) bool {
	if image == p.BatchImage || image == p.ScaffoldImage {
		return true
	}
	for _, allowed := range p.Images {
		if allowed == image {
			return true
		}
	}
	return false
}

// ContainerMemoryMB returns the outer container ceiling for a requested
// limit, applied to both memory and memory+swap.
func (p Policy) ContainerMemoryMB(limits Limits) int {
	mult := p.MemoryMultiplier
	if mult <= 0 {
		mult = 1.0
	}
	return int(limits.MemoryLimitMB * mult)
}
