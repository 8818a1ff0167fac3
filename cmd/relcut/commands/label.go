package commands

import (
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/relcut/forge"
)

// LabelCmd labels the issues a merged pull request closes
var LabelCmd = &cobra.Command{
	Use:   "label <pr-number>",
	Short: "Label the issues a merged pull request closes",
	Long: `Scan a merged pull request's description for issue-closing references
(fixes #N, resolves #N, closes #N, case-insensitive) and apply the configured
label to each referenced issue.

The pull request must be merged into the configured branch; a closed-but-
unmerged pull request is rejected. Labeling failures on individual issues
are reported but do not abort the rest.

Example:
  relcut label 42`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		return runLabel(cmd, number)
	},
}

func runLabel(cmd *cobra.Command, number int) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateAPICredentials(); err != nil {
		return err
	}

	client := newForgeClient(cfg)
	pull, err := client.GetPull(cmd.Context(), number)
	if err != nil {
		return err
	}
	if pull.MergedAt == nil {
		pterm.Warning.Printf("PR #%d was closed without merging, nothing to label\n", number)
		return nil
	}

	refs := forge.ExtractIssueRefs(pull.Body)
	if cfg.Labeler.Deduplicate {
		refs = forge.DedupeRefs(refs)
	}
	if len(refs) == 0 {
		pterm.Info.Printf("PR #%d closes no issues\n", number)
		return nil
	}

	var failed []int
	for _, issue := range refs {
		if err := client.AddLabels(cmd.Context(), issue, []string{cfg.Labeler.Label}); err != nil {
			failed = append(failed, issue)
			pterm.Warning.Printf("Failed to label issue #%d: %v\n", issue, err)
			continue
		}
		pterm.Success.Printf("Labeled issue #%d with %q\n", issue, cfg.Labeler.Label)
	}
	if len(failed) > 0 {
		pterm.Warning.Printf("Failed to label %d of %d issue(s)\n", len(failed), len(refs))
	}
	return nil
}
