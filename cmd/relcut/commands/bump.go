package commands

import (
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/relcut/versionfile"
)

// BumpCmd bumps the patch version in the version file
var BumpCmd = &cobra.Command{
	Use:   "bump",
	Short: "Bump the patch version in the version file",
	Long: `Bump the patch component of the __version__ assignment in the
configured version file. Only the file is rewritten; committing, tagging,
and pushing belong to 'relcut run'.

Examples:
  relcut bump             # 2.3.5 becomes 2.3.6
  relcut bump --dry-run   # preview without writing`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return runBump(cmd, dryRun)
	},
}

func init() {
	BumpCmd.Flags().Bool("dry-run", false, "Show the next version without rewriting the file")
}

func runBump(cmd *cobra.Command, dryRun bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateRepo(); err != nil {
		return err
	}

	path := filepath.Join(cfg.Repo.Path, cfg.Version.File)
	current, err := versionfile.Read(path)
	if err != nil {
		return err
	}
	next := versionfile.BumpPatch(current)

	if dryRun {
		pterm.Info.Printf("%s → %s (dry run, %s unchanged)\n", current, &next, cfg.Version.File)
		return nil
	}

	if err := versionfile.Write(path, &next); err != nil {
		return err
	}
	pterm.Success.Printf("Bumped %s → %s in %s\n", current, &next, cfg.Version.File)
	return nil
}
