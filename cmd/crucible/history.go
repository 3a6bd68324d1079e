package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/crucible/internal/config"
	"github.com/michaelbrown/crucible/internal/storage"
	"github.com/michaelbrown/crucible/internal/storage/sqlite"
)

var (
	statusFilter string
	modeFilter   string
	limitFlag    int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past executions",
	RunE:  runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Show one execution (ID prefixes accepted)",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)

	historyCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (completed, timeout, failed, ...)")
	historyCmd.Flags().StringVar(&modeFilter, "mode", "", "Filter by mode (batch, scaffold)")
	historyCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max executions to show")
}

func openStore() (storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return sqlite.Open(cfg.Storage.DBPath)
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	executions, err := store.ListExecutions(cmd.Context(), storage.ListOptions{
		Status: statusFilter,
		Mode:   storage.Mode(modeFilter),
		Limit:  limitFlag,
	})
	if err != nil {
		return err
	}

	if len(executions) == 0 {
		fmt.Println("No executions found.")
		return nil
	}

	fmt.Printf("%-10s %-10s %-20s %-16s %-8s %-10s %s\n", "ID", "MODE", "NAME", "STATUS", "TESTS", "DURATION", "WHEN")
	fmt.Println(strings.Repeat("─", 90))

	for _, e := range executions {
		name := e.Name
		if len(name) > 18 {
			name = name[:18] + ".."
		}

		tests := "-"
		if e.Mode == storage.ModeBatch {
			tests = fmt.Sprintf("%d/%d", e.PassedTests, e.TotalTests)
		}

		fmt.Printf("%-10s %-10s %-20s %-16s %-8s %-10s %s\n",
			e.ID[:8], e.Mode, name, e.Status, tests,
			(time.Duration(e.DurationMS) * time.Millisecond).Round(time.Millisecond),
			timeAgo(e.CreatedAt))
	}

	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	e, err := store.GetExecution(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:       %s\n", e.ID)
	fmt.Printf("Name:     %s\n", e.Name)
	fmt.Printf("Mode:     %s\n", e.Mode)
	fmt.Printf("Status:   %s\n", e.Status)
	if e.Mode == storage.ModeBatch {
		fmt.Printf("Tests:    %d/%d passed\n", e.PassedTests, e.TotalTests)
	}
	fmt.Printf("Exit:     %d\n", e.ExitCode)
	fmt.Printf("Duration: %s\n", (time.Duration(e.DurationMS) * time.Millisecond).Round(time.Millisecond))
	fmt.Printf("Created:  %s\n", e.CreatedAt.Format(time.RFC3339))
	if e.LogPath != "" {
		fmt.Printf("Log:      %s\n", e.LogPath)
	}
	return nil
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
