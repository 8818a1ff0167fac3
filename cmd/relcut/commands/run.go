package commands

import (
	"encoding/json"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/relcut/config"
	"github.com/teranos/relcut/errors"
	"github.com/teranos/relcut/pipeline"
)

// RunCmd executes the full release pipeline
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the full release pipeline",
	Long: `Execute the full release pipeline against the protected branch.

Steps, in order:
  bump      - Bump the patch version, commit, tag, push
  label     - Label the issues the triggering pull request closes
  changelog - Regenerate and commit the changelog
  push      - Push the changelog commit
  release   - Publish the release for the new tag

The run is a no-op when the head commit carries the skip marker, so the
pipeline's own generated commits never re-trigger it. Every run and step
outcome is recorded in the journal; a failed run can be picked up with
'relcut resume'.

Examples:
  relcut run                              # push-triggered run
  relcut run --pr 42                      # merged-PR-triggered run
  relcut run --event "$GITHUB_EVENT_PATH" # read the trigger from CI`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prNumber, _ := cmd.Flags().GetInt("pr")
		eventPath, _ := cmd.Flags().GetString("event")
		return runPipeline(cmd, prNumber, eventPath)
	},
}

func init() {
	RunCmd.Flags().Int("pr", 0, "Number of the merged pull request that triggered the run")
	RunCmd.Flags().String("event", "", "Path to the CI event payload JSON")
}

func runPipeline(cmd *cobra.Command, prNumber int, eventPath string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateForPipeline(); err != nil {
		return err
	}

	trigger, err := readTrigger(cfg, prNumber, eventPath)
	if err != nil {
		return err
	}

	runner, cleanup, err := newRunner(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := runner.Run(cmd.Context(), trigger)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

// eventPayload is the slice of the CI event JSON the trigger needs.
type eventPayload struct {
	PullRequest *struct {
		Number int  `json:"number"`
		Merged bool `json:"merged"`
	} `json:"pull_request"`
}

// readTrigger resolves the trigger: an explicit --pr wins, then the event
// payload, then a plain push. Only a merged pull request produces a PR
// trigger; close-without-merge is a plain push for the pipeline's purposes.
func readTrigger(cfg *config.Config, prNumber int, eventPath string) (pipeline.Trigger, error) {
	if prNumber > 0 {
		return pipeline.Trigger{PullNumber: prNumber}, nil
	}
	if eventPath == "" {
		eventPath = cfg.Labeler.EventPayload
	}
	if eventPath == "" {
		return pipeline.Trigger{}, nil
	}

	data, err := os.ReadFile(eventPath)
	if err != nil {
		return pipeline.Trigger{}, errors.Wrapf(err, "failed to read event payload %s", eventPath)
	}
	var event eventPayload
	if err := json.Unmarshal(data, &event); err != nil {
		return pipeline.Trigger{}, errors.Wrapf(err, "failed to parse event payload %s", eventPath)
	}
	if event.PullRequest != nil && event.PullRequest.Merged {
		return pipeline.Trigger{PullNumber: event.PullRequest.Number}, nil
	}
	return pipeline.Trigger{}, nil
}

func printResult(result *pipeline.Result) {
	if result.Skipped {
		pterm.Info.Println("Skip marker present, nothing to do")
		return
	}

	pterm.Success.Printf("Released %s (%s → %s)\n",
		result.Tag, result.PreviousVersion, result.NewVersion)
	if result.ReleaseURL != "" {
		pterm.Printf("  %s\n", pterm.Gray(result.ReleaseURL))
	}
	if len(result.Labeled) > 0 {
		pterm.Printf("  Labeled issues: %v\n", result.Labeled)
	}
	if len(result.LabelFailures) > 0 {
		pterm.Warning.Printf("  Failed to label issues: %v\n", result.LabelFailures)
	}
}
