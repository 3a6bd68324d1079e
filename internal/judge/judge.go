// Package judge turns raw sandbox output into typed, caller-facing results.
//
// For batch runs it decodes the harness wire protocol (one JSON document on
// stdout) into per-test verdicts; for scaffold runs it classifies the
// supervisor result directly. Candidate failures are always data, never
// errors.
package judge

import (
	"encoding/json"
	"strings"

	"github.com/michaelbrown/crucible/internal/supervise"
)

// Verdict classifies a single test case.
type Verdict string

const (
	VerdictPassed       Verdict = "passed"
	VerdictWrongAnswer  Verdict = "wrong_answer"
	VerdictRuntimeError Verdict = "runtime_error"
	VerdictTimeout      Verdict = "timeout"
)

// Status classifies a whole batch run.
type Status string

const (
	StatusCompleted      Status = "completed"
	StatusSyntaxError    Status = "syntax_error"
	StatusExecutionError Status = "execution_error"
	StatusParseError     Status = "parse_error"
	StatusTimeout        Status = "timeout"
)

// TestCase is one (input, expected output) pair, identified by its ordinal
// position in the sequence.
type TestCase struct {
	Input          string `json:"input" yaml:"input"`
	ExpectedOutput string `json:"expected_output" yaml:"expected_output"`
}

// TestOutcome is the immutable verdict for one test case.
type TestOutcome struct {
	Index    int     `json:"test_case"`
	Verdict  Verdict `json:"status"`
	Input    string  `json:"input"`
	Expected string  `json:"expected"`
	Actual   string  `json:"actual,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// BatchResult is the caller-facing outcome of one batch run.
type BatchResult struct {
	Status      Status        `json:"status"`
	TotalTests  int           `json:"total_tests"`
	PassedTests int           `json:"passed_tests"`
	Outcomes    []TestOutcome `json:"outcomes,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Passed reports the all-or-nothing verdict: every test passed and there
// was at least one test.
func (r BatchResult) Passed() bool {
	return r.TotalTests > 0 && r.PassedTests == r.TotalTests
}

// Fraction is the proportion of tests passed, for downstream scoring.
func (r BatchResult) Fraction() float64 {
	if r.TotalTests == 0 {
		return 0
	}
	return float64(r.PassedTests) / float64(r.TotalTests)
}

// wireDoc mirrors the harness stdout protocol. The schema is a stable
// contract with the generated program running inside the sandbox.
type wireDoc struct {
	Status  string        `json:"status"`
	Results []TestOutcome `json:"results"`
	Error   string        `json:"error"`
}

// ParseBatch interprets a supervisor result as a batch run. It never
// guesses partial success: anything that prevented the harness from
// delivering its JSON document is conservatively a zero-test outcome.
func ParseBatch(res *supervise.Result) BatchResult {
	if res.TimedOut {
		return BatchResult{Status: StatusTimeout, Error: res.ErrorMessage}
	}
	if res.ExitCode != 0 {
		return BatchResult{Status: StatusExecutionError, Error: res.ErrorMessage}
	}

	stdout := strings.TrimSpace(res.Stdout)
	if stdout == "" {
		// A successful exit with no document is a contract violation by
		// the harness or image, not a candidate crash.
		return BatchResult{Status: StatusParseError, Error: "harness produced no output"}
	}

	var doc wireDoc
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		return BatchResult{Status: StatusParseError, Error: "decoding harness output: " + err.Error()}
	}

	switch doc.Status {
	case string(StatusSyntaxError):
		return BatchResult{Status: StatusSyntaxError, Error: doc.Error}
	case string(StatusExecutionError):
		return BatchResult{Status: StatusExecutionError, Error: doc.Error}
	case string(StatusCompleted):
		result := BatchResult{
			Status:     StatusCompleted,
			TotalTests: len(doc.Results),
			Outcomes:   doc.Results,
		}
		for _, outcome := range doc.Results {
			if outcome.Verdict == VerdictPassed {
				result.PassedTests++
			}
		}
		return result
	default:
		return BatchResult{Status: StatusParseError, Error: "unexpected harness status " + quote(doc.Status)}
	}
}

// ScaffoldState classifies one scaffold execution.
type ScaffoldState string

const (
	ScaffoldSucceeded ScaffoldState = "succeeded"
	ScaffoldFailed    ScaffoldState = "failed"
	ScaffoldTimedOut  ScaffoldState = "timed_out"
)

// ClassifyScaffold maps a supervisor result onto the scaffold outcome.
// Captured stdout/stderr stay attached to the result in all three states.
func ClassifyScaffold(res *supervise.Result) ScaffoldState {
	switch {
	case res.TimedOut:
		return ScaffoldTimedOut
	case res.ExitCode != 0:
		return ScaffoldFailed
	default:
		return ScaffoldSucceeded
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
