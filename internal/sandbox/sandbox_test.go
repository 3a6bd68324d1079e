package sandbox

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

// requiredFlags are the isolation flags no run may omit.
var requiredFlags = []string{
	"--rm",
	"--read-only",
	"--security-opt", "no-new-privileges",
	"--cap-drop", "ALL",
	"--network", "none",
}

func testLimits() Limits {
	return Limits{TimeLimitSeconds: 2.0, MemoryLimitMB: 256}
}

func hasArgPair(args []string, flag, value string) bool {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func hasArg(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func TestBatchCommandSecurityFlags(t *testing.T) {
	sb := NewDockerSandbox(DefaultPolicy())

	cmd, err := sb.BatchCommand(context.Background(), "print('hi')", testLimits(), 3)
	if err != nil {
		t.Fatalf("BatchCommand: %v", err)
	}

	args := cmd.Args
	if args[0] != "docker" || args[1] != "run" {
		t.Fatalf("command = %v, want docker run ...", args[:2])
	}
	for _, flag := range requiredFlags {
		if !hasArg(args, flag) {
			t.Errorf("missing flag %q in %v", flag, args)
		}
	}

	// Memory ceiling is the requested limit times the multiplier, applied
	// to both memory and memory+swap so no swap is available.
	if !hasArgPair(args, "--memory", "512m") {
		t.Errorf("missing --memory 512m in %v", args)
	}
	if !hasArgPair(args, "--memory-swap", "512m") {
		t.Errorf("missing --memory-swap 512m in %v", args)
	}
	if !hasArgPair(args, "--cpus", "1.0") {
		t.Errorf("missing --cpus 1.0 in %v", args)
	}
	if !hasArgPair(args, "--pids-limit", "100") {
		t.Errorf("missing --pids-limit 100 in %v", args)
	}
	if !hasArgPair(args, "--tmpfs", "/tmp:size=100M,noexec") {
		t.Errorf("missing noexec tmpfs in %v", args)
	}
	if !hasArgPair(args, "--user", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid())) {
		t.Errorf("missing --user uid:gid in %v", args)
	}
}

func TestBatchCommandOuterTimeout(t *testing.T) {
	sb := NewDockerSandbox(DefaultPolicy())

	// 2s per test, 3 tests, 10s overhead.
	if got := sb.BatchOuterSeconds(testLimits(), 3); got != 16 {
		t.Errorf("BatchOuterSeconds = %d, want 16", got)
	}

	cmd, err := sb.BatchCommand(context.Background(), "print('hi')", testLimits(), 3)
	if err != nil {
		t.Fatalf("BatchCommand: %v", err)
	}
	if !hasArgPair(cmd.Args, "timeout", "16") {
		t.Errorf("missing timeout 16 wrapper in %v", cmd.Args)
	}

	// The script must be the last argument, after python -c.
	n := len(cmd.Args)
	if cmd.Args[n-3] != "python" || cmd.Args[n-2] != "-c" || cmd.Args[n-1] != "print('hi')" {
		t.Errorf("entrypoint = %v, want python -c <script>", cmd.Args[n-3:])
	}
}

func TestBatchCommandRejectsBadLimits(t *testing.T) {
	sb := NewDockerSandbox(DefaultPolicy())

	for _, limits := range []Limits{
		{TimeLimitSeconds: 0, MemoryLimitMB: 256},
		{TimeLimitSeconds: 2, MemoryLimitMB: 0},
		{TimeLimitSeconds: -1, MemoryLimitMB: 256},
	} {
		if _, err := sb.BatchCommand(context.Background(), "x", limits, 1); err == nil {
			t.Errorf("BatchCommand accepted invalid limits %+v", limits)
		}
	}
}

func TestScaffoldCommandMountsReadOnly(t *testing.T) {
	sb := NewDockerSandbox(DefaultPolicy())
	dir := t.TempDir()

	cmd, err := sb.ScaffoldCommand(context.Background(), ScaffoldOpts{
		Dir:     dir,
		Entry:   "import scaffold",
		Limits:  testLimits(),
		Timeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("ScaffoldCommand: %v", err)
	}

	if !hasArgPair(cmd.Args, "-v", dir+":/workspace/scaffold:ro") {
		t.Errorf("missing read-only scaffold mount in %v", cmd.Args)
	}
	for _, flag := range requiredFlags {
		if !hasArg(cmd.Args, flag) {
			t.Errorf("missing flag %q in %v", flag, cmd.Args)
		}
	}
	// 30s budget plus the in-container grace.
	if !hasArgPair(cmd.Args, "timeout", "35") {
		t.Errorf("missing timeout 35 wrapper in %v", cmd.Args)
	}
}

func TestScaffoldCommandEnvForwarding(t *testing.T) {
	policy := DefaultPolicy()
	policy.PassthroughEnv = []string{"CRUCIBLE_TEST_KEY"}
	sb := NewDockerSandbox(policy)

	t.Setenv("CRUCIBLE_TEST_KEY", "secret")

	cmd, err := sb.ScaffoldCommand(context.Background(), ScaffoldOpts{
		Dir:       t.TempDir(),
		Entry:     "import scaffold",
		Limits:    testLimits(),
		Timeout:   time.Minute,
		ModelSpec: "gpt-test",
		LogLevel:  "DEBUG",
	})
	if err != nil {
		t.Fatalf("ScaffoldCommand: %v", err)
	}

	if !hasArgPair(cmd.Args, "-e", "CRUCIBLE_TEST_KEY=secret") {
		t.Errorf("missing passthrough env in %v", cmd.Args)
	}
	if !hasArgPair(cmd.Args, "-e", "EXECUTOR_MODEL_SPEC=gpt-test") {
		t.Errorf("missing model spec env in %v", cmd.Args)
	}
	if !hasArgPair(cmd.Args, "-e", "LOG_LEVEL=DEBUG") {
		t.Errorf("missing log level env in %v", cmd.Args)
	}
}

func TestScaffoldCommandDefaultLogLevel(t *testing.T) {
	sb := NewDockerSandbox(DefaultPolicy())

	cmd, err := sb.ScaffoldCommand(context.Background(), ScaffoldOpts{
		Dir:     t.TempDir(),
		Entry:   "import scaffold",
		Limits:  testLimits(),
		Timeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("ScaffoldCommand: %v", err)
	}
	if !hasArgPair(cmd.Args, "-e", "LOG_LEVEL=INFO") {
		t.Errorf("missing default LOG_LEVEL=INFO in %v", cmd.Args)
	}
}

func TestScaffoldCommandRequiresTimeout(t *testing.T) {
	sb := NewDockerSandbox(DefaultPolicy())

	_, err := sb.ScaffoldCommand(context.Background(), ScaffoldOpts{
		Dir:    t.TempDir(),
		Entry:  "import scaffold",
		Limits: testLimits(),
	})
	if err == nil {
		t.Fatal("expected error for zero timeout")
	}
}

func TestContainerNamePrefix(t *testing.T) {
	a, b := containerName(), containerName()
	if !strings.HasPrefix(a, "crucible-") {
		t.Errorf("name %q missing crucible- prefix", a)
	}
	if a == b {
		t.Errorf("container names should be unique, got %q twice", a)
	}
}

func TestIsImageAllowed(t *testing.T) {
	p := DefaultPolicy()
	p.Images = []string{"python:3.12-slim"}

	for _, image := range []string{p.BatchImage, p.ScaffoldImage, "python:3.12-slim"} {
		if !p.IsImageAllowed(image) {
			t.Errorf("IsImageAllowed(%q) = false, want true", image)
		}
	}
	if p.IsImageAllowed("ubuntu:latest") {
		t.Error("IsImageAllowed(ubuntu:latest) = true, want false")
	}
}

func TestContainerMemoryMB(t *testing.T) {
	p := DefaultPolicy()

	if got := p.ContainerMemoryMB(Limits{MemoryLimitMB: 256}); got != 512 {
		t.Errorf("ContainerMemoryMB = %d, want 512", got)
	}

	p.MemoryMultiplier = 0 // misconfigured: fall back to exact limit
	if got := p.ContainerMemoryMB(Limits{MemoryLimitMB: 256}); got != 256 {
		t.Errorf("ContainerMemoryMB with zero multiplier = %d, want 256", got)
	}
}

func TestInfraErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("daemon unreachable")
	err := &InfraError{Op: "check", Err: inner}

	if !strings.Contains(err.Error(), "check") || !strings.Contains(err.Error(), "daemon unreachable") {
		t.Errorf("Error() = %q, want op and cause", err.Error())
	}
	if err.Unwrap() != inner {
		t.Error("Unwrap should return the inner error")
	}
}
