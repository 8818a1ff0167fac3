package commands

import (
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/relcut/errors"
	"github.com/teranos/relcut/forge"
	"github.com/teranos/relcut/gitops"
	"github.com/teranos/relcut/logger"
	"github.com/teranos/relcut/versionfile"
)

// ReleaseCmd publishes the release for an existing tag
var ReleaseCmd = &cobra.Command{
	Use:   "release [tag]",
	Short: "Publish the release for an existing tag",
	Long: `Create the published release for a tag, with the regenerated
changelog as its body. The release is always published directly: never a
draft, never a prerelease.

Creation is idempotent: when a release for the tag already exists, the
command reports it and exits successfully. Without a tag argument the tag is
derived from the current version file.

Examples:
  relcut release          # release the version file's current version
  relcut release 2.3.6    # release a specific tag`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tag := ""
		if len(args) == 1 {
			tag = args[0]
		}
		return runRelease(cmd, tag)
	},
}

func runRelease(cmd *cobra.Command, tag string) error {
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

	var release *semver.Version
	if tag == "" {
		if release, err = versionfile.Read(filepath.Join(cfg.Repo.Path, cfg.Version.File)); err != nil {
			return err
		}
		tag = cfg.Version.TagPrefix + release.String()
	} else {
		literal := strings.TrimPrefix(tag, cfg.Version.TagPrefix)
		if release, err = semver.StrictNewVersion(literal); err != nil {
			return errors.NewMalformedVersion("tag %q is not a release tag", tag)
		}
	}

	if !repo.TagExists(tag) {
		return errors.Newf("tag %s does not exist; run the pipeline (or push the tag) first", tag)
	}

	client := newForgeClient(cfg)
	existing, err := client.GetReleaseByTag(cmd.Context(), tag)
	if err != nil {
		return err
	}
	if existing != nil {
		pterm.Info.Printf("Release for %s already exists: %s\n", tag, existing.HTMLURL)
		return nil
	}

	body, err := renderChangelog(cmd.Context(), cfg, repo, client, release)
	if err != nil {
		return err
	}

	created, err := client.CreateRelease(cmd.Context(), forge.ReleaseRequest{
		TagName:    tag,
		Name:       "v" + release.String(),
		Body:       body,
		Draft:      false,
		Prerelease: false,
	})
	if err != nil {
		return err
	}
	pterm.Success.Printf("Published release %s\n", created.HTMLURL)
	return nil
}
