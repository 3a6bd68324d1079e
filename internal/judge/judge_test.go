package judge

import (
	"strings"
	"testing"

	"github.com/michaelbrown/crucible/internal/supervise"
)

func TestParseBatchCompleted(t *testing.T) {
	res := &supervise.Result{
		Stdout: `{"status": "completed", "results": [
			{"test_case": 0, "status": "passed", "input": "1 2", "expected": "3"},
			{"test_case": 1, "status": "wrong_answer", "input": "2 2", "expected": "4", "actual": "5"},
			{"test_case": 2, "status": "runtime_error", "input": "3 3", "expected": "6", "error": "ZeroDivisionError"}
		]}`,
	}

	result := ParseBatch(res)

	if result.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", result.Status)
	}
	if result.TotalTests != 3 || result.PassedTests != 1 {
		t.Errorf("tests = %d/%d, want 1/3", result.PassedTests, result.TotalTests)
	}
	if result.Passed() {
		t.Error("Passed() = true with failures")
	}
	if got := result.Fraction(); got < 0.33 || got > 0.34 {
		t.Errorf("Fraction() = %v, want 1/3", got)
	}
	if result.Outcomes[1].Verdict != VerdictWrongAnswer || result.Outcomes[1].Actual != "5" {
		t.Errorf("outcome 1 = %+v, want wrong_answer with actual 5", result.Outcomes[1])
	}
}

func TestParseBatchAllPassed(t *testing.T) {
	res := &supervise.Result{
		Stdout: `{"status": "completed", "results": [
			{"test_case": 0, "status": "passed", "input": "a", "expected": "b"}
		]}`,
	}

	result := ParseBatch(res)
	if !result.Passed() {
		t.Errorf("Passed() = false: %+v", result)
	}
	if result.Fraction() != 1.0 {
		t.Errorf("Fraction() = %v, want 1.0", result.Fraction())
	}
}

func TestParseBatchEarlyStopOnTimeout(t *testing.T) {
	// The harness stops after the first per-test timeout, so the document
	// carries fewer outcomes than tests were supplied. The count reflects
	// what actually ran.
	res := &supervise.Result{
		Stdout: `{"status": "completed", "results": [
			{"test_case": 0, "status": "passed", "input": "a", "expected": "b"},
			{"test_case": 1, "status": "timeout", "input": "c", "expected": "d", "error": "Execution timed out"}
		]}`,
	}

	result := ParseBatch(res)
	if result.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", result.Status)
	}
	if result.TotalTests != 2 || result.PassedTests != 1 {
		t.Errorf("tests = %d/%d, want 1/2", result.PassedTests, result.TotalTests)
	}
	if result.Outcomes[1].Verdict != VerdictTimeout {
		t.Errorf("verdict = %q, want timeout", result.Outcomes[1].Verdict)
	}
}

func TestParseBatchSyntaxError(t *testing.T) {
	res := &supervise.Result{
		Stdout: `{"status": "syntax_error", "results": [], "error": "invalid syntax (line 3)"}`,
	}

	result := ParseBatch(res)
	if result.Status != StatusSyntaxError {
		t.Fatalf("status = %q, want syntax_error", result.Status)
	}
	if result.Error != "invalid syntax (line 3)" {
		t.Errorf("error = %q", result.Error)
	}
	if result.Passed() {
		t.Error("Passed() = true for syntax error")
	}
}

func TestParseBatchContainerTimeout(t *testing.T) {
	res := &supervise.Result{
		TimedOut:     true,
		ErrorMessage: "Execution timed out after 16 seconds",
	}

	result := ParseBatch(res)
	if result.Status != StatusTimeout {
		t.Fatalf("status = %q, want timeout", result.Status)
	}
	if result.Error != res.ErrorMessage {
		t.Errorf("error = %q, want supervisor message", result.Error)
	}
}

func TestParseBatchNonzeroExit(t *testing.T) {
	res := &supervise.Result{
		ExitCode:     1,
		ErrorMessage: "Error from process (exit code 1):\nMemoryError",
	}

	result := ParseBatch(res)
	if result.Status != StatusExecutionError {
		t.Fatalf("status = %q, want execution_error", result.Status)
	}
}

func TestParseBatchGarbageOutput(t *testing.T) {
	for name, stdout := range map[string]string{
		"empty":          "",
		"whitespace":     "   \n",
		"not json":       "Traceback (most recent call last): ...",
		"unknown status": `{"status": "surprise"}`,
	} {
		res := &supervise.Result{Stdout: stdout}
		result := ParseBatch(res)
		if result.Status != StatusParseError {
			t.Errorf("%s: status = %q, want parse_error", name, result.Status)
		}
		if result.TotalTests != 0 {
			t.Errorf("%s: total = %d, want 0 (never guess partial success)", name, result.TotalTests)
		}
	}
}

func TestParseBatchHarnessExecutionError(t *testing.T) {
	res := &supervise.Result{
		Stdout: `{"status": "execution_error", "results": [], "error": "harness wrapper failed"}`,
	}

	result := ParseBatch(res)
	if result.Status != StatusExecutionError {
		t.Fatalf("status = %q, want execution_error", result.Status)
	}
	if !strings.Contains(result.Error, "harness wrapper failed") {
		t.Errorf("error = %q", result.Error)
	}
}

func TestPassedRequiresAtLeastOneTest(t *testing.T) {
	result := BatchResult{Status: StatusCompleted}
	if result.Passed() {
		t.Error("Passed() = true with zero tests")
	}
	if result.Fraction() != 0 {
		t.Errorf("Fraction() = %v with zero tests, want 0", result.Fraction())
	}
}

func TestClassifyScaffold(t *testing.T) {
	cases := []struct {
		name string
		res  supervise.Result
		want ScaffoldState
	}{
		{"clean exit", supervise.Result{ExitCode: 0}, ScaffoldSucceeded},
		{"nonzero exit", supervise.Result{ExitCode: 1}, ScaffoldFailed},
		{"deadline", supervise.Result{TimedOut: true, ExitCode: -1}, ScaffoldTimedOut},
		{"wrapper kill", supervise.Result{TimedOut: true, ExitCode: 124}, ScaffoldTimedOut},
	}

	for _, tc := range cases {
		if got := ClassifyScaffold(&tc.res); got != tc.want {
			t.Errorf("%s: ClassifyScaffold = %q, want %q", tc.name, got, tc.want)
		}
	}
}
