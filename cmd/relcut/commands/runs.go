package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/relcut/db"
	"github.com/teranos/relcut/journal"
	"github.com/teranos/relcut/logger"
)

// RunsCmd lists recorded pipeline runs
var RunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded pipeline runs",
	Long: `List pipeline runs from the journal, newest first.

The journal records every run and step outcome, including the durable side
effects failed runs left behind. Use it to decide whether 'relcut resume'
applies.

Examples:
  relcut runs               # last 20 runs
  relcut runs --limit 50    # more history
  relcut runs --steps       # include per-step outcomes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		showSteps, _ := cmd.Flags().GetBool("steps")
		return runRuns(cmd, limit, showSteps)
	},
}

func init() {
	RunsCmd.Flags().Int("limit", 20, "Maximum number of runs to display")
	RunsCmd.Flags().Bool("steps", false, "Show per-step outcomes for the latest run")
}

func runRuns(cmd *cobra.Command, limit int, showSteps bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	conn, err := db.OpenWithMigrations(cfg.Pipeline.JournalPath, logger.Logger)
	if err != nil {
		return err
	}
	defer conn.Close()
	store := journal.NewStore(conn)

	runs, err := store.ListRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	fmt.Printf("%-30s %-12s %-10s %-18s %s\n", "RUN ID", "BRANCH", "STATE", "VERSION", "STARTED")
	fmt.Printf("%-30s %-12s %-10s %-18s %s\n", "------", "------", "-----", "-------", "-------")
	for _, run := range runs {
		version := "-"
		if run.NewVersion != "" {
			version = fmt.Sprintf("%s → %s", run.PreviousVersion, run.NewVersion)
		}
		fmt.Printf("%-30s %-12s %-10s %-18s %s\n",
			truncate(run.ID, 30),
			truncate(run.Branch, 12),
			run.State,
			version,
			run.StartedAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Printf("\nTotal: %d run(s)\n", len(runs))

	if showSteps {
		return printLatestSteps(store, cfg.Repo.Branch)
	}
	return nil
}

func printLatestSteps(store *journal.Store, branch string) error {
	run, err := store.LatestRun(branch)
	if err != nil {
		return err
	}
	if run == nil {
		return nil
	}

	fmt.Printf("\nSteps for %s:\n", run.ID)
	for _, step := range run.Steps {
		detail := ""
		if step.Detail != "" {
			detail = "  " + truncate(step.Detail, 60)
		}
		fmt.Printf("  %-10s %-10s%s\n", step.Name, step.State, detail)
	}
	return nil
}

// truncate truncates a string to maxLen characters
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
