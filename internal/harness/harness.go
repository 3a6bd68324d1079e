// Package harness emits the self-contained programs that run inside the
// sandbox. The container boundary cannot express per-test-case semantics,
// so batch runs get a generated Python test runner that enforces its own
// inner limits and reports one JSON document on stdout; scaffold runs get a
// small generated entrypoint that feeds the input to the scaffold.
//
// Untrusted candidate source and test data are embedded via JSON escaping;
// raw bytes never reach the generated program text.
package harness

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/michaelbrown/crucible/internal/judge"
	"github.com/michaelbrown/crucible/internal/sandbox"
)

// runnerTemplate is the batch test runner. The inner per-test alarm is one
// second above the requested limit and the address-space cap matches the
// requested memory limit exactly; the outer container enforces the same
// budget independently.
const runnerTemplate = `import io
import json
import resource
import signal
import sys

USER_CODE = %s
TEST_CASES = %s
TIME_LIMIT = %s
MEMORY_LIMIT_MB = %s


def _normalize(text):
    return text.replace('\r\n', '\n').replace('\r', '\n').rstrip()


try:
    _mem_bytes = int(MEMORY_LIMIT_MB * 1024 * 1024)
    resource.setrlimit(resource.RLIMIT_AS, (_mem_bytes, _mem_bytes))
except (ValueError, OSError):
    pass


class _TestTimeout(Exception):
    pass


def _on_alarm(signum, frame):
    raise _TestTimeout()


signal.signal(signal.SIGALRM, _on_alarm)


def _run_tests():
    try:
        compiled = compile(USER_CODE, '<candidate>', 'exec')
    except SyntaxError as exc:
        print(json.dumps({'status': 'syntax_error', 'error': str(exc)}))
        return

    results = []
    for index, case in enumerate(TEST_CASES):
        entry = {
            'test_case': index,
            'input': case['input'],
            'expected': _normalize(case['expected_output']),
        }
        out_buf = io.StringIO()
        err_buf = io.StringIO()
        old = (sys.stdin, sys.stdout, sys.stderr)
        status = None
        error = None
        signal.alarm(int(TIME_LIMIT) + 1)
        try:
            sys.stdin = io.StringIO(case['input'])
            sys.stdout = out_buf
            sys.stderr = err_buf
            exec(compiled, {'__builtins__': __builtins__, '__name__': '__main__'})
        except _TestTimeout:
            status = 'timeout'
        except SystemExit as exc:
            if exc.code not in (None, 0):
                status = 'runtime_error'
                error = 'exited with code ' + str(exc.code)
        except BaseException as exc:
            status = 'runtime_error'
            error = str(exc) or type(exc).__name__
        finally:
            signal.alarm(0)
            sys.stdin, sys.stdout, sys.stderr = old

        if status is None:
            stderr_text = err_buf.getvalue().strip()
            if stderr_text:
                status = 'runtime_error'
                error = stderr_text
            else:
                actual = _normalize(out_buf.getvalue())
                entry['actual'] = actual
                if actual == entry['expected']:
                    status = 'passed'
                else:
                    status = 'wrong_answer'

        entry['status'] = status
        if error is not None:
            entry['error'] = error
        results.append(entry)
        if status == 'timeout':
            break

    print(json.dumps({'status': 'completed', 'results': results}))


try:
    _run_tests()
except BaseException as exc:
    print(json.dumps({'status': 'execution_error', 'error': str(exc)}))
`

// scaffoldTemplate runs a mounted scaffold once against an embedded input.
// The scaffold's own logging goes to stderr via the logging config; its
// answer is whatever process_input returns, printed to stdout.
const scaffoldTemplate = `import logging
import os
import sys

log_level = getattr(logging, os.environ.get('LOG_LEVEL', 'INFO').upper(), logging.INFO)
logging.basicConfig(
    level=log_level,
    format='%(asctime)s [%(levelname)s] %(message)s',
)

input_string = @@INPUT@@

logging.info('Running scaffold execution')
logging.info('Input length: %d characters', len(input_string))
logging.info('Executor: %s', os.environ.get('EXECUTOR_MODEL_SPEC', 'n/a'))

try:
    sys.path.insert(0, '/workspace/scaffold')
    from scaffold import process_input

    result = process_input(input_string)
    print(result)
except Exception as exc:
    logging.error('Error occurred: %s', exc, exc_info=True)
    sys.exit(1)
`

// BuildRunner generates the batch test runner for a candidate program.
func BuildRunner(source string, tests []judge.TestCase, limits sandbox.Limits) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", fmt.Errorf("candidate source is empty")
	}
	if len(tests) == 0 {
		return "", fmt.Errorf("no test cases provided")
	}
	if err := limits.Validate(); err != nil {
		return "", err
	}

	escapedSource, err := json.Marshal(source)
	if err != nil {
		return "", fmt.Errorf("escaping candidate source: %w", err)
	}
	escapedTests, err := json.Marshal(tests)
	if err != nil {
		return "", fmt.Errorf("escaping test cases: %w", err)
	}

	return fmt.Sprintf(runnerTemplate,
		escapedSource,
		escapedTests,
		strconv.FormatFloat(limits.TimeLimitSeconds, 'f', -1, 64),
		strconv.FormatFloat(limits.MemoryLimitMB, 'f', -1, 64),
	), nil
}

// BuildScaffoldEntry generates the entrypoint that drives one scaffold
// execution with the given input payload.
func BuildScaffoldEntry(input string) (string, error) {
	escapedInput, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("escaping input: %w", err)
	}
	return strings.Replace(scaffoldTemplate, "@@INPUT@@", string(escapedInput), 1), nil
}
