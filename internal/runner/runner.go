// Package runner composes the execution core: harness generation, sandbox
// launch, supervision, classification, logging, and history. Each call owns
// one container for its lifetime; nothing is shared across invocations, so
// a Runner is safe to use from many goroutines at once.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelbrown/crucible/internal/execlog"
	"github.com/michaelbrown/crucible/internal/harness"
	"github.com/michaelbrown/crucible/internal/judge"
	"github.com/michaelbrown/crucible/internal/sandbox"
	"github.com/michaelbrown/crucible/internal/storage"
	"github.com/michaelbrown/crucible/internal/supervise"
)

// dockerDaemonExitCode is what the docker CLI exits with when the run never
// reached the container (daemon down, image missing, bad flags). Distinct
// from anything a candidate can produce.
const dockerDaemonExitCode = 125

// supervisorGrace is added to the container-level deadline so the
// in-container timeout wrapper normally fires first; the supervisor is the
// independent outer layer for the batch path.
const supervisorGrace = 5 * time.Second

// Launcher builds the sandboxed invocation for each mode. *sandbox.DockerSandbox
// is the production implementation.
type Launcher interface {
	BatchCommand(ctx context.Context, script string, limits sandbox.Limits, numTests int) (*exec.Cmd, error)
	BatchOuterSeconds(limits sandbox.Limits, numTests int) int
	ScaffoldCommand(ctx context.Context, opts sandbox.ScaffoldOpts) (*exec.Cmd, error)
}

// BatchRequest runs one candidate program against ordered test cases.
type BatchRequest struct {
	Name   string
	Source string
	Tests  []judge.TestCase
	Limits sandbox.Limits
}

// ScaffoldRequest runs one long-lived scaffold once.
type ScaffoldRequest struct {
	Name     string
	Dir      string
	Input    string
	Model    string
	LogLevel string
	Limits   sandbox.Limits
	Timeout  time.Duration

	// Sink, if set, receives output lines as they are produced.
	Sink func(supervise.Line)
}

// Runner orchestrates executions. Logs writer and store may be nil when
// history/transcripts are not wanted (e.g. embedded use).
type Runner struct {
	launcher Launcher
	logs     *execlog.Writer
	store    storage.Store
	log      *zap.Logger
}

// New creates a Runner.
func New(launcher Launcher, logs *execlog.Writer, store storage.Store, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{launcher: launcher, logs: logs, store: store, log: log}
}

// RunTests executes a candidate against its test cases in one container.
// Candidate failures (syntax errors, wrong answers, per-test timeouts) come
// back as data in the BatchResult; the returned error is reserved for
// infrastructure faults and invalid requests.
func (r *Runner) RunTests(ctx context.Context, req BatchRequest) (judge.BatchResult, error) {
	script, err := harness.BuildRunner(req.Source, req.Tests, req.Limits)
	if err != nil {
		return judge.BatchResult{}, err
	}

	cmd, err := r.launcher.BatchCommand(ctx, script, req.Limits, len(req.Tests))
	if err != nil {
		return judge.BatchResult{}, err
	}

	outer := time.Duration(r.launcher.BatchOuterSeconds(req.Limits, len(req.Tests))) * time.Second
	res, err := supervise.Run(cmd, supervise.Options{Timeout: outer + supervisorGrace})
	if err != nil {
		return judge.BatchResult{}, &sandbox.InfraError{Op: "launch", Err: err}
	}
	if res.ExitCode == dockerDaemonExitCode {
		return judge.BatchResult{}, &sandbox.InfraError{Op: "docker run", Err: errFromStderr(res)}
	}

	result := judge.ParseBatch(res)
	switch result.Status {
	case judge.StatusExecutionError, judge.StatusParseError:
		// Environment/contract bug, not a candidate bug: flag loudly so it
		// can be alerted on separately from candidate failures.
		r.log.Error("harness misbehaved",
			zap.String("name", req.Name),
			zap.String("status", string(result.Status)),
			zap.String("error", result.Error),
			zap.Int("exit_code", res.ExitCode),
		)
	default:
		r.log.Debug("batch run finished",
			zap.String("name", req.Name),
			zap.String("status", string(result.Status)),
			zap.Int("passed", result.PassedTests),
			zap.Int("total", result.TotalTests),
			zap.Duration("duration", res.Duration),
		)
	}

	logPath := r.writeLog(execlog.Entry{
		Name:         req.Name,
		Executor:     "n/a",
		Input:        req.Source,
		Stdout:       res.Stdout,
		Stderr:       res.Stderr,
		ErrorMessage: res.ErrorMessage,
	})
	r.record(ctx, &storage.Execution{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Mode:        storage.ModeBatch,
		Status:      string(result.Status),
		ExitCode:    res.ExitCode,
		PassedTests: result.PassedTests,
		TotalTests:  result.TotalTests,
		DurationMS:  res.Duration.Milliseconds(),
		LogPath:     logPath,
	})

	return result, nil
}

// RunScaffold executes a scaffold once, streaming output to the request's
// sink as it runs. The result carries whatever partial output existed at a
// timeout; the returned error again means infrastructure only.
func (r *Runner) RunScaffold(ctx context.Context, req ScaffoldRequest) (*supervise.Result, error) {
	entry, err := harness.BuildScaffoldEntry(req.Input)
	if err != nil {
		return nil, err
	}

	cmd, err := r.launcher.ScaffoldCommand(ctx, sandbox.ScaffoldOpts{
		Dir:       req.Dir,
		Entry:     entry,
		Limits:    req.Limits,
		Timeout:   req.Timeout,
		ModelSpec: req.Model,
		LogLevel:  req.LogLevel,
	})
	if err != nil {
		return nil, err
	}

	res, err := supervise.Run(cmd, supervise.Options{Timeout: req.Timeout, Sink: req.Sink})
	if err != nil {
		return nil, &sandbox.InfraError{Op: "launch", Err: err}
	}
	if res.ExitCode == dockerDaemonExitCode {
		return nil, &sandbox.InfraError{Op: "docker run", Err: errFromStderr(res)}
	}

	state := judge.ClassifyScaffold(res)
	r.log.Debug("scaffold run finished",
		zap.String("name", req.Name),
		zap.String("state", string(state)),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration),
	)

	logPath := r.writeLog(execlog.Entry{
		Name:         req.Name,
		Executor:     req.Model,
		Input:        req.Input,
		Stdout:       res.Stdout,
		Stderr:       res.Stderr,
		ErrorMessage: res.ErrorMessage,
	})
	r.record(ctx, &storage.Execution{
		ID:         uuid.New().String(),
		Name:       req.Name,
		Mode:       storage.ModeScaffold,
		Status:     string(state),
		ExitCode:   res.ExitCode,
		DurationMS: res.Duration.Milliseconds(),
		LogPath:    logPath,
	})

	return res, nil
}

func errFromStderr(res *supervise.Result) error {
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		msg = fmt.Sprintf("docker exited with code %d", res.ExitCode)
	}
	return errors.New(msg)
}

func (r *Runner) writeLog(entry execlog.Entry) string {
	if r.logs == nil {
		return ""
	}
	path, err := r.logs.Write(entry)
	if err != nil {
		r.log.Warn("writing execution log", zap.Error(err))
		return ""
	}
	return path
}

func (r *Runner) record(ctx context.Context, e *storage.Execution) {
	if r.store == nil {
		return
	}
	if err := r.store.CreateExecution(ctx, e); err != nil {
		r.log.Warn("recording execution", zap.Error(err))
	}
}
