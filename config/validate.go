package config

import (
	"github.com/teranos/relcut/errors"
)

// ValidateForPipeline checks everything a full pipeline run needs. Any failure
// here is a configuration error raised before the pipeline mutates anything.
func (c *Config) ValidateForPipeline() error {
	if err := c.ValidateRepo(); err != nil {
		return err
	}
	if c.Version.File == "" {
		return errors.WithHint(
			errors.New("version.file is not configured"),
			"set version.file in relcut.toml to the file holding the __version__ line")
	}
	if err := c.ValidateAPICredentials(); err != nil {
		return err
	}
	if c.GitHub.PushToken == "" {
		return errors.WithHint(
			errors.Wrap(errors.ErrMissingCredential, "RELCUT_PUSH_TOKEN"),
			"protected-branch pushes require an elevated token; export RELCUT_PUSH_TOKEN")
	}
	return nil
}

// ValidateAPICredentials checks the general API token and repository identity.
// Absence of a credential is a fatal configuration error, not a skip condition.
func (c *Config) ValidateAPICredentials() error {
	if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
		return errors.New("github.owner and github.repo must be configured")
	}
	if c.GitHub.Token == "" {
		return errors.WithHint(
			errors.Wrap(errors.ErrMissingCredential, "RELCUT_GITHUB_TOKEN"),
			"export RELCUT_GITHUB_TOKEN or set github.token")
	}
	return nil
}

// ValidateRepo checks the repository settings shared by every git-touching command.
func (c *Config) ValidateRepo() error {
	if c.Repo.Path == "" {
		return errors.New("repo.path must not be empty")
	}
	if c.Repo.Branch == "" {
		return errors.New("repo.branch must not be empty")
	}
	return nil
}
