package commands

import (
	"github.com/spf13/cobra"
)

// ResumeCmd re-runs the unfinished steps of the latest failed run
var ResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Re-run the unfinished steps of the latest failed run",
	Long: `Resume the newest failed pipeline run on the configured branch.

Steps that already succeeded are not repeated. Durable side effects a failed
run left behind (the bump commit, the release tag) are detected and kept;
only the remaining steps execute.

Example:
  relcut resume    # after a transient API outage killed the release step`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.ValidateForPipeline(); err != nil {
			return err
		}

		runner, cleanup, err := newRunner(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := runner.Resume(cmd.Context())
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}
