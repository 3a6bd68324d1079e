package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// scaffoldGraceSeconds is how much longer the in-container timeout wrapper
// waits beyond the supervisor deadline in scaffold mode. The supervisor is
// the primary kill layer there; the wrapper is the backstop.
const scaffoldGraceSeconds = 5

// DockerSandbox builds locked-down `docker run` invocations. The returned
// commands are plain child processes so the supervisor can stream their
// output and kill them; the Docker SDK is used separately for environment
// validation (see runtime.go).
type DockerSandbox struct {
	Policy Policy
}

// NewDockerSandbox creates a sandbox with the given policy.
func NewDockerSandbox(policy Policy) *DockerSandbox {
	return &DockerSandbox{Policy: policy}
}

// ScaffoldOpts describes one scaffold (long-running program) execution.
type ScaffoldOpts struct {
	Dir       string        // scaffold directory, mounted read-only
	Entry     string        // generated entrypoint source, passed to python -c
	Limits    Limits        // memory budget; time comes from Timeout
	Timeout   time.Duration // overall wall-clock budget
	ModelSpec string        // executor identity forwarded as EXECUTOR_MODEL_SPEC
	LogLevel  string        // forwarded as LOG_LEVEL
}

// BatchOuterSeconds is the container-level wall-clock kill for a batch run:
// the per-test budget times the number of tests, plus fixed overhead. The
// generated harness arms its own per-test alarm underneath this.
func (d *DockerSandbox) BatchOuterSeconds(limits Limits, numTests int) int {
	overhead := int(d.Policy.OuterOverhead.Seconds())
	if overhead <= 0 {
		overhead = 10
	}
	return int(limits.TimeLimitSeconds*float64(numTests)) + overhead
}

// BatchCommand builds the invocation that runs a generated test harness.
func (d *DockerSandbox) BatchCommand(ctx context.Context, script string, limits Limits, numTests int) (*exec.Cmd, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if !d.Policy.IsImageAllowed(d.Policy.BatchImage) {
		return nil, infraErr("image check", fmt.Errorf("image %q not in allowlist", d.Policy.BatchImage))
	}

	outer := d.BatchOuterSeconds(limits, numTests)

	args := []string{"run", "--rm", "--name", containerName()}
	args = append(args, d.securityArgs(limits)...)
	args = append(args, d.Policy.BatchImage,
		"timeout", strconv.Itoa(outer),
		"python", "-c", script,
	)

	return exec.CommandContext(ctx, "docker", args...), nil
}

// ScaffoldCommand builds the invocation that runs a scaffold once. The
// scaffold directory is mounted read-only and the configured API keys are
// forwarded so the program can identify its executor; the container itself
// still has no network, read-only root, and the full flag set.
func (d *DockerSandbox) ScaffoldCommand(ctx context.Context, opts ScaffoldOpts) (*exec.Cmd, error) {
	if err := opts.Limits.Validate(); err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("scaffold timeout must be positive, got %v", opts.Timeout)
	}

	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolving scaffold dir: %w", err)
	}

	args := []string{"run", "--rm", "--name", containerName()}
	args = append(args, d.securityArgs(opts.Limits)...)
	args = append(args, "-v", dir+":/workspace/scaffold:ro")

	if _, err := os.Stat(".env"); err == nil {
		if envPath, err := filepath.Abs(".env"); err == nil {
			args = append(args, "--env-file", envPath)
		}
	}
	for _, key := range d.Policy.PassthroughEnv {
		if val, ok := os.LookupEnv(key); ok {
			args = append(args, "-e", key+"="+val)
		}
	}
	args = append(args, "-e", "EXECUTOR_MODEL_SPEC="+opts.ModelSpec)
	logLevel := opts.LogLevel
	if logLevel == "" {
		logLevel = "INFO"
	}
	args = append(args, "-e", "LOG_LEVEL="+logLevel)

	outer := int(opts.Timeout.Seconds()) + scaffoldGraceSeconds
	args = append(args, d.Policy.ScaffoldImage,
		"timeout", strconv.Itoa(outer),
		"python", "-c", opts.Entry,
	)

	return exec.CommandContext(ctx, "docker", args...), nil
}

// securityArgs renders the isolation flags every run gets, regardless of
// mode. Omitting any one of these weakens the guarantee the sandbox exists
// to provide, so they are not individually configurable.
func (d *DockerSandbox) securityArgs(limits Limits) []string {
	mem := fmt.Sprintf("%dm", d.Policy.ContainerMemoryMB(limits))
	tmpfs := fmt.Sprintf("/tmp:size=%dM,noexec", d.Policy.TmpfsSizeMB)
	return []string{
		"--user", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		"--read-only",
		"--tmpfs", tmpfs,
		"--memory", mem,
		"--memory-swap", mem,
		"--cpus", strconv.FormatFloat(d.Policy.CPUs, 'f', 1, 64),
		"--pids-limit", strconv.Itoa(d.Policy.PidsLimit),
		"--security-opt", "no-new-privileges",
		"--cap-drop", "ALL",
		"--network", "none",
	}
}

func containerName() string {
	return "crucible-" + uuid.New().String()[:8]
}
