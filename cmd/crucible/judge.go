package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/michaelbrown/crucible/internal/judge"
	"github.com/michaelbrown/crucible/internal/runner"
)

var (
	timeLimitFlag   float64
	memoryLimitFlag float64
	jsonOutputFlag  bool
)

var judgeCmd = &cobra.Command{
	Use:   "judge <source.py> <tests.json|tests.yaml>",
	Short: "Run a candidate program against test cases",
	Long: `Run a candidate Python program against an ordered list of test cases in
a single locked-down container. Each test feeds the program its input on
stdin and compares stdout against the expected output.

The tests file is a JSON or YAML list of {input, expected_output} pairs.

Examples:
  crucible judge solution.py tests.json
  crucible judge solution.py tests.yaml --time-limit 5 --memory-limit 512`,
	Args: cobra.ExactArgs(2),
	RunE: runJudge,
}

func init() {
	judgeCmd.Flags().Float64Var(&timeLimitFlag, "time-limit", 0, "Per-test time limit in seconds (overrides config)")
	judgeCmd.Flags().Float64Var(&memoryLimitFlag, "memory-limit", 0, "Memory limit in MB (overrides config)")
	judgeCmd.Flags().BoolVar(&jsonOutputFlag, "json", false, "Print the raw result as JSON")
	rootCmd.AddCommand(judgeCmd)
}

func runJudge(cmd *cobra.Command, args []string) error {
	source, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}
	tests, err := loadTestCases(args[1])
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := checkRuntime(cmd.Context(), a.log, a.cfg.Sandbox.BatchImage); err != nil {
		return err
	}

	limits := a.cfg.DefaultLimits()
	if timeLimitFlag > 0 {
		limits.TimeLimitSeconds = timeLimitFlag
	}
	if memoryLimitFlag > 0 {
		limits.MemoryLimitMB = memoryLimitFlag
	}

	result, err := a.runner.RunTests(cmd.Context(), runner.BatchRequest{
		Name:   strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0])),
		Source: string(source),
		Tests:  tests,
		Limits: limits,
	})
	if err != nil {
		return err
	}

	if jsonOutputFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printBatchResult(result)
	}

	if !result.Passed() {
		a.Close()
		os.Exit(1)
	}
	return nil
}

func loadTestCases(path string) ([]judge.TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tests: %w", err)
	}

	var tests []judge.TestCase
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &tests)
	case ".json":
		err = json.Unmarshal(data, &tests)
	default:
		return nil, fmt.Errorf("unsupported tests format %q (want .json, .yaml, or .yml)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing tests: %w", err)
	}
	return tests, nil
}

func printBatchResult(result judge.BatchResult) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	if result.Status != judge.StatusCompleted {
		red.Printf("%s", result.Status)
		if result.Error != "" {
			fmt.Printf(": %s", result.Error)
		}
		fmt.Println()
		return
	}

	for _, o := range result.Outcomes {
		switch o.Verdict {
		case judge.VerdictPassed:
			green.Printf("  test %d: passed\n", o.Index)
		case judge.VerdictTimeout:
			yellow.Printf("  test %d: timeout\n", o.Index)
		default:
			red.Printf("  test %d: %s\n", o.Index, o.Verdict)
			if o.Verdict == judge.VerdictWrongAnswer {
				fmt.Printf("    expected: %s\n    actual:   %s\n", strings.TrimSpace(o.Expected), strings.TrimSpace(o.Actual))
			} else if o.Error != "" {
				fmt.Printf("    %s\n", strings.TrimSpace(o.Error))
			}
		}
	}

	line := fmt.Sprintf("%d/%d tests passed", result.PassedTests, result.TotalTests)
	if result.Passed() {
		green.Println(line)
	} else {
		red.Println(line)
	}
}
