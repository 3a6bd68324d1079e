package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/crucible/internal/config"
	"github.com/michaelbrown/crucible/internal/judge"
	"github.com/michaelbrown/crucible/internal/runner"
	"github.com/michaelbrown/crucible/internal/sandbox"
)

// sandbox-runner exposes the execution core as MCP tools over stdio, so an
// agent host can judge candidate programs and run scaffolds without the
// HTTP server. History and transcript logging are disabled here; the host
// keeps its own records.

var run *runner.Runner
var cfg *config.Config

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("config error: %v\n", err)
		return
	}
	run = runner.New(sandbox.NewDockerSandbox(cfg.Policy()), nil, nil, nil)

	s := server.NewMCPServer("crucible-sandbox-runner", "0.1.0")

	s.AddTool(mcp.Tool{
		Name:        "run_tests",
		Description: "Judge a Python program against ordered test cases in a locked-down Docker sandbox. Returns per-test verdicts as JSON.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"source": map[string]any{
					"type":        "string",
					"description": "Python source of the candidate program",
				},
				"test_cases": map[string]any{
					"type":        "array",
					"description": "Ordered test cases, each {input, expected_output}",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"input":           map[string]any{"type": "string"},
							"expected_output": map[string]any{"type": "string"},
						},
						"required": []string{"input", "expected_output"},
					},
				},
				"time_limit_seconds": map[string]any{
					"type":        "number",
					"description": "Per-test time limit in seconds (optional)",
				},
				"memory_limit_mb": map[string]any{
					"type":        "number",
					"description": "Memory limit in MB (optional)",
				},
			},
			Required: []string{"source", "test_cases"},
		},
	}, handleRunTests)

	s.AddTool(mcp.Tool{
		Name:        "run_program",
		Description: "Execute a scaffold program directory in a locked-down Docker sandbox with the given input. Returns stdout, stderr, and the outcome.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"dir": map[string]any{
					"type":        "string",
					"description": "Absolute path to the scaffold directory (must contain scaffold.py)",
				},
				"input": map[string]any{
					"type":        "string",
					"description": "Input passed to the scaffold",
				},
				"timeout_seconds": map[string]any{
					"type":        "number",
					"description": "Wall-clock budget in seconds (optional)",
				},
			},
			Required: []string{"dir", "input"},
		},
	}, handleRunProgram)

	if err := server.ServeStdio(s); err != nil {
		fmt.Printf("server error: %v\n", err)
	}
}

func handleRunTests(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	source, _ := args["source"].(string)
	if source == "" {
		return errResult("error: 'source' is required"), nil
	}

	rawTests, _ := args["test_cases"].([]any)
	var tests []judge.TestCase
	for _, raw := range rawTests {
		tc, _ := raw.(map[string]any)
		if tc == nil {
			return errResult("error: each test case must be an object"), nil
		}
		input, _ := tc["input"].(string)
		expected, _ := tc["expected_output"].(string)
		tests = append(tests, judge.TestCase{Input: input, ExpectedOutput: expected})
	}
	if len(tests) == 0 {
		return errResult("error: 'test_cases' must be a non-empty array"), nil
	}

	limits := cfg.DefaultLimits()
	if v, ok := args["time_limit_seconds"].(float64); ok && v > 0 {
		limits.TimeLimitSeconds = v
	}
	if v, ok := args["memory_limit_mb"].(float64); ok && v > 0 {
		limits.MemoryLimitMB = v
	}

	result, err := run.RunTests(ctx, runner.BatchRequest{
		Name:   "mcp",
		Source: source,
		Tests:  tests,
		Limits: limits,
	})
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	body, _ := json.MarshalIndent(result, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(body)}},
		IsError: result.Status != judge.StatusCompleted,
	}, nil
}

func handleRunProgram(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	dir, _ := args["dir"].(string)
	input, _ := args["input"].(string)
	if dir == "" {
		return errResult("error: 'dir' is required"), nil
	}

	timeout := time.Duration(cfg.Scaffold.TimeoutSeconds) * time.Second
	if v, ok := args["timeout_seconds"].(float64); ok && v > 0 {
		timeout = time.Duration(v * float64(time.Second))
	}
	limits := cfg.DefaultLimits()
	limits.TimeLimitSeconds = timeout.Seconds()

	res, err := run.RunScaffold(ctx, runner.ScaffoldRequest{
		Name:    "mcp",
		Dir:     dir,
		Input:   input,
		Model:   cfg.Scaffold.Model,
		Limits:  limits,
		Timeout: timeout,
	})
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	state := judge.ClassifyScaffold(res)
	out := map[string]any{
		"state":       string(state),
		"exit_code":   res.ExitCode,
		"stdout":      res.Stdout,
		"stderr":      res.Stderr,
		"duration_ms": res.Duration.Milliseconds(),
	}
	if res.ErrorMessage != "" {
		out["error"] = res.ErrorMessage
	}

	body, _ := json.MarshalIndent(out, "", "  ")
	text := string(body)
	if len(text) > 8000 {
		text = text[:8000] + "\n... (output truncated)"
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: state != judge.ScaffoldSucceeded,
	}, nil
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
