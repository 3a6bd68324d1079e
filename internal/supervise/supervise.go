// Package supervise runs one launched process to completion or forcibly
// ends it, without ever blocking the caller past the agreed deadline, while
// preserving whatever partial output was produced.
package supervise

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// TimeoutExitCode is the sentinel the coreutils `timeout` wrapper exits
// with when it kills the contained process. The supervisor treats it
// identically to its own deadline detection.
const TimeoutExitCode = 124

const defaultPollInterval = 100 * time.Millisecond

// Line is one unit of streamed output.
type Line struct {
	Stream string // "stdout" or "stderr"
	Text   string
}

// Options controls one supervised execution.
type Options struct {
	// Timeout is the wall-clock budget. Zero or negative means no deadline.
	Timeout time.Duration
	// PollInterval bounds how late a deadline check can fire. Defaults to
	// 100ms.
	PollInterval time.Duration
	// Sink, if set, receives each output line as it is read, before the
	// process has exited. Called from the supervising goroutine only.
	Sink func(Line)
}

// Result is the outcome of one supervised execution. It is owned by the
// caller; every execution produces a fresh instance.
type Result struct {
	Stdout       string
	Stderr       string
	ExitCode     int
	TimedOut     bool
	ErrorMessage string
	Duration     time.Duration
}

// Succeeded reports a clean exit.
func (r *Result) Succeeded() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// Run starts cmd and supervises it to completion. The returned error is
// non-nil only when the process could not be started at all; once started,
// every outcome (including timeout and nonzero exit) is reported in the
// Result. A Run call is single-use: cmd must not have been started.
func Run(cmd *exec.Cmd, opts Options) (*Result, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	// Own process group, so a deadline kill reaches every descendant. A
	// forked grandchild inherits the pipe write ends; leaving it alive
	// would hold the readers open past the deadline.
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting process: %w", err)
	}

	lines := make(chan Line, 256)
	var readers sync.WaitGroup
	readers.Add(2)
	go readStream(stdout, "stdout", lines, &readers)
	go readStream(stderr, "stderr", lines, &readers)

	// Wait must not run before the pipe readers finish, per os/exec.
	done := make(chan error, 1)
	go func() {
		readers.Wait()
		close(lines)
		done <- cmd.Wait()
	}()

	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var out, errOut strings.Builder
	collect := func(ln Line) {
		if ln.Stream == "stdout" {
			out.WriteString(ln.Text)
		} else {
			errOut.WriteString(ln.Text)
		}
		if opts.Sink != nil {
			opts.Sink(ln)
		}
	}

	timedOut := false
	var waitErr error

supervision:
	for {
		select {
		case ln, ok := <-lines:
			if !ok {
				// Readers finished; the exit status arrives next.
				waitErr = <-done
				break supervision
			}
			collect(ln)
		case waitErr = <-done:
			break supervision
		case <-ticker.C:
			if !timedOut && opts.Timeout > 0 && time.Since(start) > opts.Timeout {
				timedOut = true
				// Killing the whole group closes every copy of the pipe
				// write ends, so the readers drain and the done channel
				// fires; partial output is kept.
				if cmd.Process != nil {
					if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
						_ = cmd.Process.Kill()
					}
				}
			}
		}
	}

	// Drain anything the readers queued before closing.
	for ln := range lines {
		collect(ln)
	}

	res := &Result{
		Stdout:   out.String(),
		Stderr:   errOut.String(),
		Duration: time.Since(start),
	}

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
	}

	if res.ExitCode == TimeoutExitCode {
		timedOut = true
	}
	res.TimedOut = timedOut

	switch {
	case timedOut && opts.Timeout > 0:
		res.ErrorMessage = fmt.Sprintf("Execution timed out after %g seconds", opts.Timeout.Seconds())
	case timedOut:
		res.ErrorMessage = "Execution timed out"
	case res.ExitCode != 0:
		res.ErrorMessage = fmt.Sprintf("Error from process (exit code %d):\n%s", res.ExitCode, res.Stderr)
	}

	return res, nil
}

func readStream(pipe io.Reader, name string, lines chan<- Line, wg *sync.WaitGroup) {
	defer wg.Done()
	reader := bufio.NewReader(pipe)
	for {
		text, err := reader.ReadString('\n')
		if text != "" {
			lines <- Line{Stream: name, Text: text}
		}
		if err != nil {
			return
		}
	}
}
