package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/relcut/changelog"
	"github.com/teranos/relcut/config"
	"github.com/teranos/relcut/db"
	"github.com/teranos/relcut/errors"
	"github.com/teranos/relcut/forge"
	"github.com/teranos/relcut/gitops"
	"github.com/teranos/relcut/journal"
	"github.com/teranos/relcut/logger"
	"github.com/teranos/relcut/pipeline"

	"github.com/Masterminds/semver/v3"
)

// loadConfig resolves configuration, honoring the root --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Root().PersistentFlags().GetString("config"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// newForgeClient builds the API client from configuration.
func newForgeClient(cfg *config.Config) *forge.Client {
	return forge.NewClient(
		cfg.GitHub.APIBaseURL,
		cfg.GitHub.Owner,
		cfg.GitHub.Repo,
		cfg.GitHub.Token,
		cfg.GitHub.RequestsPerMinute,
		logger.Logger,
	)
}

// newRunner wires the full pipeline from configuration. The returned cleanup
// closes the journal database.
func newRunner(cfg *config.Config) (*pipeline.Runner, func(), error) {
	repo, err := gitops.Open(cfg.Repo.Path, logger.Logger)
	if err != nil {
		return nil, nil, err
	}

	conn, err := db.OpenWithMigrations(cfg.Pipeline.JournalPath, logger.Logger)
	if err != nil {
		return nil, nil, err
	}

	runner := pipeline.NewRunner(cfg, repo, newForgeClient(cfg), journal.NewStore(conn), logger.Logger)
	return runner, func() { conn.Close() }, nil
}

// renderChangelog regenerates the changelog document for a version, scoped to
// activity since the previous release tag.
func renderChangelog(ctx context.Context, cfg *config.Config, repo *gitops.Repo, client *forge.Client, v *semver.Version) (string, error) {
	prefix := cfg.Version.TagPrefix
	previousTag, err := repo.LatestSemverTagBefore(prefix, v)
	if err != nil {
		return "", err
	}

	var since time.Time
	if previousTag != "" {
		if since, err = repo.TagCommitTime(previousTag); err != nil {
			return "", err
		}
	}

	items, err := client.ListClosedSince(ctx, since)
	if err != nil {
		return "", errors.Wrap(err, "failed to list closed issues")
	}

	specs := make([]changelog.SectionSpec, 0, len(cfg.Changelog.Sections))
	for _, s := range cfg.Changelog.Sections {
		specs = append(specs, changelog.SectionSpec{Title: s.Title, Labels: s.Labels})
	}

	doc := changelog.Generate(items, v.String(), prefix+v.String(), previousTag,
		cfg.GitHub.WebURL(), time.Now(), changelog.Options{
			Sections:         specs,
			IncludeUnlabeled: cfg.Changelog.IncludeUnlabeled,
			ExcludeLabels:    cfg.Changelog.ExcludeLabels,
			Since:            since,
		})
	return doc.Render(), nil
}
