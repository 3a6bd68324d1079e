package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"

	"github.com/michaelbrown/crucible/internal/config"
	"github.com/michaelbrown/crucible/internal/judge"
	"github.com/michaelbrown/crucible/internal/runner"
	"github.com/michaelbrown/crucible/internal/sandbox"
	"github.com/michaelbrown/crucible/internal/storage"
	"github.com/michaelbrown/crucible/internal/storage/sqlite"
)

// shellLauncher runs a fixed shell snippet instead of docker.
type shellLauncher struct {
	shell string
}

func (l *shellLauncher) BatchCommand(ctx context.Context, script string, limits sandbox.Limits, numTests int) (*exec.Cmd, error) {
	return exec.CommandContext(ctx, "sh", "-c", l.shell), nil
}

func (l *shellLauncher) BatchOuterSeconds(limits sandbox.Limits, numTests int) int {
	return 10
}

func (l *shellLauncher) ScaffoldCommand(ctx context.Context, opts sandbox.ScaffoldOpts) (*exec.Cmd, error) {
	return exec.CommandContext(ctx, "sh", "-c", l.shell), nil
}

func testServer(t *testing.T, shell string) (*Server, storage.Store) {
	t.Helper()

	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("opening memory db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Limits:   config.LimitsConfig{TimeLimitSeconds: 2, MemoryLimitMB: 256},
		Scaffold: config.ScaffoldConfig{TimeoutSeconds: 30},
	}
	r := runner.New(&shellLauncher{shell: shell}, nil, store, nil)
	return New(cfg, store, r, nil), store
}

func TestHandleJudge(t *testing.T) {
	doc := `{"status": "completed", "results": [{"test_case": 0, "status": "passed", "input": "x", "expected": "x"}]}`
	srv, _ := testServer(t, fmt.Sprintf("echo '%s'", doc))

	body := `{"name": "sum", "source": "print(input())", "test_cases": [{"input": "x", "expected_output": "x"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/judge", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp judgeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Passed || resp.Fraction != 1.0 {
		t.Errorf("response = %+v, want passed", resp)
	}
	if resp.Status != judge.StatusCompleted {
		t.Errorf("status = %q, want completed", resp.Status)
	}
}

func TestHandleJudgeInvalidBody(t *testing.T) {
	srv, _ := testServer(t, "true")

	req := httptest.NewRequest(http.MethodPost, "/api/judge", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleJudgeInfraFailure(t *testing.T) {
	srv, _ := testServer(t, "echo 'daemon down' >&2; exit 125")

	body := `{"source": "print(1)", "test_cases": [{"input": "", "expected_output": "1"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/judge", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandleListAndGetExecutions(t *testing.T) {
	srv, store := testServer(t, "true")
	ctx := context.Background()

	e := &storage.Execution{
		ID:     "abc12345-0000-0000-0000-000000000000",
		Name:   "sum",
		Mode:   storage.ModeBatch,
		Status: "completed",
	}
	if err := store.CreateExecution(ctx, e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/executions?mode=batch", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listed []storage.Execution
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != e.ID {
		t.Errorf("listed = %+v, want the seeded execution", listed)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/executions/abc12345", nil)
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d, body = %s", rec.Code, rec.Body)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/executions/zzz", nil)
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing execution status = %d, want 404", rec.Code)
	}
}

func TestWebsocketRouteSkipsJSONContentType(t *testing.T) {
	srv, _ := testServer(t, "true")

	// A plain GET (no upgrade headers) is rejected by the upgrader; the
	// rejection must not carry the API's JSON content-type, since the
	// route lives outside that middleware.
	req := httptest.NewRequest(http.MethodGet, "/api/run/ws", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for non-upgrade request", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct == "application/json" {
		t.Errorf("content type = %q, want non-JSON on the websocket route", ct)
	}

	// The JSON routes still get the header.
	req = httptest.NewRequest(http.MethodGet, "/api/executions", nil)
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json on API routes", ct)
	}
}
