package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/relcut/logger"
	"github.com/teranos/relcut/testprep"
)

// TestprepCmd converts notebooks and runs the test suite
var TestprepCmd = &cobra.Command{
	Use:   "testprep [-- runner-args...]",
	Short: "Convert notebooks and run the test suite",
	Long: `Rebuild the disposable test tree and execute the test runner over it.

The output directory is cleared and recreated on every invocation, every
notebook in the notebook directory is converted into it, and the configured
runner executes inside the result. Arguments after -- are passed to the
runner verbatim; the runner's exit code is this command's exit code.

Examples:
  relcut testprep                  # full suite
  relcut testprep -- -k parser     # pass a filter to the runner
  relcut testprep --skip-convert   # re-run against the existing tree`,
	RunE: func(cmd *cobra.Command, args []string) error {
		skipConvert, _ := cmd.Flags().GetBool("skip-convert")
		return runTestprep(cmd, skipConvert, args)
	},
}

func init() {
	TestprepCmd.Flags().Bool("skip-convert", false, "Skip conversion and run against the existing output tree")
}

func runTestprep(cmd *cobra.Command, skipConvert bool, passthrough []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	runner := testprep.New(cfg.TestPrep, logger.Logger)
	if !skipConvert {
		if err := runner.Prepare(cmd.Context()); err != nil {
			return err
		}
	}

	if err := runner.Run(cmd.Context(), passthrough); err != nil {
		// CI reads the suite result from the exit code; pass it through
		// instead of flattening every failure to 1.
		logger.Cleanup()
		os.Exit(testprep.ExitCode(err))
	}
	return nil
}
