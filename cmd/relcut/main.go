package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/relcut/cmd/relcut/commands"
	"github.com/teranos/relcut/logger"
)

var rootCmd = &cobra.Command{
	Use:   "relcut",
	Short: "relcut - release automation pipeline",
	Long: `relcut - release automation for trunk-based repositories.

On every qualifying push to the protected branch, relcut bumps the patch
version, tags the release, regenerates the changelog, pushes both commits,
and publishes the release. Commits carrying the skip marker are no-ops, so
relcut's own generated commits never re-trigger it.

Available commands:
  run       - Execute the full release pipeline
  resume    - Re-run the unfinished steps of the latest failed run
  runs      - List recorded pipeline runs
  bump      - Bump the patch version in the version file
  changelog - Generate the changelog document
  label     - Label the issues a merged pull request closes
  release   - Publish the release for an existing tag
  testprep  - Convert notebooks and run the test suite

Examples:
  relcut run --event "$GITHUB_EVENT_PATH"   # CI entry point
  relcut resume                             # pick up after an outage
  relcut bump --dry-run                     # preview the next version
  relcut testprep -- -k parser              # run a subset of the suite`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Root().PersistentFlags().GetCount("verbose")
		jsonOutput, _ := cmd.Root().PersistentFlags().GetBool("json")
		if err := logger.Initialize(verbosity, jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json", false, "Structured JSON log output (CI log capture)")
	rootCmd.PersistentFlags().String("config", "", "Path to a relcut.toml (overrides the config search path)")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.ResumeCmd)
	rootCmd.AddCommand(commands.RunsCmd)
	rootCmd.AddCommand(commands.BumpCmd)
	rootCmd.AddCommand(commands.ChangelogCmd)
	rootCmd.AddCommand(commands.LabelCmd)
	rootCmd.AddCommand(commands.ReleaseCmd)
	rootCmd.AddCommand(commands.TestprepCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
