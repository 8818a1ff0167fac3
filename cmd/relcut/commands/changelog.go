package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/relcut/gitops"
	"github.com/teranos/relcut/logger"
	"github.com/teranos/relcut/versionfile"
)

// ChangelogCmd generates the changelog document
var ChangelogCmd = &cobra.Command{
	Use:   "changelog",
	Short: "Generate the changelog document",
	Long: `Regenerate the changelog for the current version from closed issues
and merged pull requests, bucketed by label.

Generation is deterministic: the same project history always produces the
same document. By default the result goes to stdout; --write rewrites the
configured changelog file instead. Committing belongs to 'relcut run'.

Examples:
  relcut changelog           # print to stdout
  relcut changelog --write   # rewrite CHANGELOG.md`,
	RunE: func(cmd *cobra.Command, args []string) error {
		write, _ := cmd.Flags().GetBool("write")
		return runChangelog(cmd, write)
	},
}

func init() {
	ChangelogCmd.Flags().Bool("write", false, "Write the document to the configured changelog file")
}

func runChangelog(cmd *cobra.Command, write bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateRepo(); err != nil {
		return err
	}
	if err := cfg.ValidateAPICredentials(); err != nil {
		return err
	}

	repo, err := gitops.Open(cfg.Repo.Path, logger.Logger)
	if err != nil {
		return err
	}
	current, err := versionfile.Read(filepath.Join(cfg.Repo.Path, cfg.Version.File))
	if err != nil {
		return err
	}

	rendered, err := renderChangelog(cmd.Context(), cfg, repo, newForgeClient(cfg), current)
	if err != nil {
		return err
	}

	if !write {
		fmt.Print(rendered)
		return nil
	}

	path := filepath.Join(cfg.Repo.Path, cfg.Changelog.File)
	if err := os.WriteFile(path, []byte(rendered), 0o644); err != nil {
		return err
	}
	pterm.Success.Printf("Wrote %s for version %s\n", cfg.Changelog.File, current)
	return nil
}
