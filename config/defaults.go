package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// DefaultDirPermissions for config directories created on first use
const DefaultDirPermissions = 0o755

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Repository defaults
	v.SetDefault("repo.path", ".")
	v.SetDefault("repo.branch", "main")
	v.SetDefault("repo.remote", "origin")
	v.SetDefault("repo.author_name", "relcut")
	v.SetDefault("repo.author_email", "relcut@users.noreply.github.com")

	// Version source defaults
	v.SetDefault("version.file", "")
	v.SetDefault("version.tag_prefix", "")

	// Changelog defaults (section mapping defaults live in the changelog package)
	v.SetDefault("changelog.file", "CHANGELOG.md")
	v.SetDefault("changelog.include_unlabeled", true)
	v.SetDefault("changelog.exclude_labels", []string{"duplicate", "invalid", "wontfix"})

	// GitHub API defaults
	v.SetDefault("github.api_base_url", "https://api.github.com")
	v.SetDefault("github.requests_per_minute", 60)

	// Pipeline defaults
	v.SetDefault("pipeline.skip_marker", "[skip ci]")
	v.SetDefault("pipeline.step_timeout_seconds", 300)
	v.SetDefault("pipeline.lock_dir", filepath.Join(os.TempDir(), "relcut-locks"))
	v.SetDefault("pipeline.journal_path", "relcut.db")
	// Labeling is best-effort; every other step is fail-fast.
	v.SetDefault("pipeline.steps.label.continue_on_error", true)

	// Labeler defaults
	v.SetDefault("labeler.label", "released")
	v.SetDefault("labeler.deduplicate", true)

	// Test-prep defaults
	v.SetDefault("testprep.notebook_dir", "resources/nbtest")
	v.SetDefault("testprep.output_dir", "tests/nbtest")
	v.SetDefault("testprep.convert_command", "jupytext --to py")
	v.SetDefault("testprep.runner_command", "pytest")
}

// BindSensitiveEnvVars binds credential configuration to environment
// variables so tokens never have to live in a config file.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("github.token", "RELCUT_GITHUB_TOKEN", "GITHUB_TOKEN")
	v.BindEnv("github.push_token", "RELCUT_PUSH_TOKEN")
}
