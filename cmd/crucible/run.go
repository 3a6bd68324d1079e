package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/crucible/internal/judge"
	"github.com/michaelbrown/crucible/internal/runner"
	"github.com/michaelbrown/crucible/internal/supervise"
)

var (
	inputFileFlag   string
	scaffoldLogFlag string
	modelFlag       string
	timeoutFlag     int
)

var runCmd = &cobra.Command{
	Use:   "run <scaffold-name> <scaffold-base-dir> [input]",
	Short: "Execute a scaffold program in the sandbox",
	Long: `Execute the scaffold <scaffold-base-dir>/<scaffold-name> once inside a
locked-down container, streaming its output as it runs.

The input is taken from the third argument, from --file, or from stdin
when piped.

Examples:
  crucible run summarizer ./scaffolds "summarize this text"
  crucible run solver ./scaffolds --file problem.txt --timeout 300
  cat problem.txt | crucible run solver ./scaffolds`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&inputFileFlag, "file", "", "Read input from a file")
	runCmd.Flags().StringVar(&scaffoldLogFlag, "log-level", "", "Log level inside the scaffold (DEBUG, INFO, WARNING, ERROR)")
	runCmd.Flags().StringVar(&modelFlag, "model", "", "Executor model spec forwarded to the scaffold (overrides config)")
	runCmd.Flags().IntVar(&timeoutFlag, "timeout", 0, "Wall-clock budget in seconds (overrides config)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	name := args[0]
	dir := filepath.Join(args[1], name)

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("scaffold directory not found: %s", dir)
	}

	input, err := resolveInput(args)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := checkRuntime(cmd.Context(), a.log, a.cfg.Sandbox.ScaffoldImage); err != nil {
		return err
	}

	timeout := time.Duration(a.cfg.Scaffold.TimeoutSeconds) * time.Second
	if timeoutFlag > 0 {
		timeout = time.Duration(timeoutFlag) * time.Second
	}
	model := a.cfg.Scaffold.Model
	if modelFlag != "" {
		model = modelFlag
	}
	limits := a.cfg.DefaultLimits()
	limits.TimeLimitSeconds = timeout.Seconds()

	res, err := a.runner.RunScaffold(cmd.Context(), runner.ScaffoldRequest{
		Name:     name,
		Dir:      dir,
		Input:    input,
		Model:    model,
		LogLevel: scaffoldLogFlag,
		Limits:   limits,
		Timeout:  timeout,
		Sink:     streamSink(os.Stdout, os.Stderr),
	})
	if err != nil {
		return err
	}

	switch judge.ClassifyScaffold(res) {
	case judge.ScaffoldTimedOut:
		color.New(color.FgRed).Fprintf(os.Stderr, "\n%s\n", res.ErrorMessage)
		a.Close()
		os.Exit(supervise.TimeoutExitCode)
	case judge.ScaffoldFailed:
		color.New(color.FgRed).Fprintf(os.Stderr, "\nScaffold failed (exit code %d)\n", res.ExitCode)
		a.Close()
		os.Exit(1)
	default:
		color.New(color.FgGreen).Fprintf(os.Stderr, "\nScaffold finished in %s\n", res.Duration.Round(time.Millisecond))
	}
	return nil
}

// streamSink relays live scaffold output. Lines arrive with their trailing
// newline already attached, so nothing is appended.
func streamSink(stdout, stderr io.Writer) func(supervise.Line) {
	dim := color.New(color.Faint)
	return func(ln supervise.Line) {
		if ln.Stream == "stderr" {
			dim.Fprint(stderr, ln.Text)
		} else {
			fmt.Fprint(stdout, ln.Text)
		}
	}
}

func resolveInput(args []string) (string, error) {
	if len(args) == 3 {
		return args[2], nil
	}
	if inputFileFlag != "" {
		data, err := os.ReadFile(inputFileFlag)
		if err != nil {
			return "", fmt.Errorf("reading input file: %w", err)
		}
		return string(data), nil
	}
	// Piped stdin is the last resort; an interactive terminal means no
	// input was given.
	if info, err := os.Stdin.Stat(); err == nil && info.Mode()&os.ModeCharDevice == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("no input: pass it as an argument, via --file, or on stdin")
}
