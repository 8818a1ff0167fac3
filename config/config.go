package config

import (
	"fmt"
	"strings"
)

// Config represents the relcut release-pipeline configuration
type Config struct {
	Repo      RepoConfig      `mapstructure:"repo"`
	Version   VersionConfig   `mapstructure:"version"`
	Changelog ChangelogConfig `mapstructure:"changelog"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Labeler   LabelerConfig   `mapstructure:"labeler"`
	TestPrep  TestPrepConfig  `mapstructure:"testprep"`
}

// RepoConfig identifies the working repository and the branch the pipeline
// mutates. Remote pushes go through RepoConfig.Remote.
type RepoConfig struct {
	Path        string `mapstructure:"path"`         // filesystem path to the checkout (default: ".")
	Branch      string `mapstructure:"branch"`       // protected branch the pipeline targets (default: "main")
	Remote      string `mapstructure:"remote"`       // git remote name (default: "origin")
	AuthorName  string `mapstructure:"author_name"`  // committer identity for generated commits
	AuthorEmail string `mapstructure:"author_email"` //
}

// VersionConfig locates the canonical version source.
// The file must contain a line of the form: __version__ = "1.2.3"
type VersionConfig struct {
	File      string `mapstructure:"file"`       // path to the version source, relative to repo.path
	TagPrefix string `mapstructure:"tag_prefix"` // optional prefix for release tags (e.g. "v")
}

// ChangelogConfig configures changelog generation. Section order and
// label-to-section mapping default to changelog.DefaultSections when the
// sections list is empty.
type ChangelogConfig struct {
	File             string          `mapstructure:"file"`              // output path, relative to repo.path (default: "CHANGELOG.md")
	Sections         []SectionConfig `mapstructure:"sections"`          // ordered section buckets
	IncludeUnlabeled bool            `mapstructure:"include_unlabeled"` // place unlabeled items in the default bucket instead of excluding them
	ExcludeLabels    []string        `mapstructure:"exclude_labels"`    // items carrying any of these labels are dropped entirely
}

// SectionConfig maps a label set to a changelog section
type SectionConfig struct {
	Title  string   `mapstructure:"title"`
	Labels []string `mapstructure:"labels"`
}

// GitHubConfig configures API access to the release host.
//
// Token and PushToken are distinct on purpose: direct pushes to a protected
// branch require an elevated credential that the general API token may lack.
type GitHubConfig struct {
	Owner             string `mapstructure:"owner"`
	Repo              string `mapstructure:"repo"`
	APIBaseURL        string `mapstructure:"api_base_url"`
	Token             string `mapstructure:"token"`      // RELCUT_GITHUB_TOKEN
	PushToken         string `mapstructure:"push_token"` // RELCUT_PUSH_TOKEN
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

// WebURL derives the repository's web URL from the API base URL.
// GitHub Enterprise serves the API under /api/v3 on the web host.
func (g GitHubConfig) WebURL() string {
	host := "https://github.com"
	if g.APIBaseURL != "" && g.APIBaseURL != "https://api.github.com" {
		host = strings.TrimSuffix(strings.TrimRight(g.APIBaseURL, "/"), "/api/v3")
	}
	return fmt.Sprintf("%s/%s/%s", host, g.Owner, g.Repo)
}

// PipelineConfig configures run-level behavior
type PipelineConfig struct {
	SkipMarker         string                `mapstructure:"skip_marker"`          // literal token gating the run (default: "[skip ci]")
	StepTimeoutSeconds int                   `mapstructure:"step_timeout_seconds"` // bound on each step, fatal on expiry
	LockDir            string                `mapstructure:"lock_dir"`             // directory for per-branch run locks
	JournalPath        string                `mapstructure:"journal_path"`         // SQLite run journal
	Steps              map[string]StepPolicy `mapstructure:"steps"`                // per-step overrides, keyed by step name
}

// StepPolicy makes the failure policy of a step explicit rather than implicit.
type StepPolicy struct {
	ContinueOnError bool `mapstructure:"continue_on_error"`
}

// LabelerConfig configures the merged-PR issue labeler
type LabelerConfig struct {
	Label        string `mapstructure:"label"`        // label applied to issues the PR closes
	Deduplicate  bool   `mapstructure:"deduplicate"`  // collapse duplicate issue refs before labeling
	EventPayload string `mapstructure:"event_payload"` // path to the trigger event JSON (CI-provided)
}

// TestPrepConfig configures the companion test-prep runner. It shares nothing
// with the pipeline; it is a separate process lifecycle.
type TestPrepConfig struct {
	NotebookDir    string `mapstructure:"notebook_dir"`    // directory of notebook files
	OutputDir      string `mapstructure:"output_dir"`      // cleared and recreated each invocation
	ConvertCommand string `mapstructure:"convert_command"` // external conversion script, shell-quoted
	RunnerCommand  string `mapstructure:"runner_command"`  // test runner invoked over the output tree
}

// StepPolicyFor returns the configured policy for a step name, or the zero
// policy (fail-fast) when none is set.
func (c *Config) StepPolicyFor(step string) StepPolicy {
	if c.Pipeline.Steps == nil {
		return StepPolicy{}
	}
	return c.Pipeline.Steps[step]
}
