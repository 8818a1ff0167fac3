package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/relcut/config"
	"github.com/teranos/relcut/db"
	"github.com/teranos/relcut/errors"
	"github.com/teranos/relcut/forge"
	"github.com/teranos/relcut/gitops"
	"github.com/teranos/relcut/journal"
	"github.com/teranos/relcut/versionfile"
)

// fakeGit satisfies GitRepo over in-memory state. The working tree is a real
// temp directory so the version and changelog files are real files.
type fakeGit struct {
	path           string
	head           string
	hash           plumbing.Hash
	commits        []fakeCommit
	tags           map[string]plumbing.Hash
	tagTimes       map[string]time.Time
	pushed         []string
	failBranchPush bool
	failTagPush    bool
	counter        int
}

type fakeCommit struct {
	paths      []string
	message    string
	allowEmpty bool
}

func newFakeGit(t *testing.T, headMessage string) *fakeGit {
	t.Helper()
	return &fakeGit{
		path:     t.TempDir(),
		head:     headMessage,
		hash:     plumbing.NewHash("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		tags:     make(map[string]plumbing.Hash),
		tagTimes: make(map[string]time.Time),
	}
}

func (f *fakeGit) Path() string                      { return f.path }
func (f *fakeGit) HeadMessage() (string, error)      { return f.head, nil }
func (f *fakeGit) HeadHash() (plumbing.Hash, error)  { return f.hash, nil }
func (f *fakeGit) TagExists(name string) bool        { _, ok := f.tags[name]; return ok }

func (f *fakeGit) CommitPaths(paths []string, message string, author gitops.Author, allowEmpty bool) (plumbing.Hash, error) {
	f.counter++
	f.hash = plumbing.NewHash(fmt.Sprintf("%040d", f.counter))
	f.commits = append(f.commits, fakeCommit{paths: paths, message: message, allowEmpty: allowEmpty})
	return f.hash, nil
}

func (f *fakeGit) CreateTag(name string, hash plumbing.Hash, message string, author gitops.Author) error {
	if f.TagExists(name) {
		return errors.Wrapf(errors.ErrTagExists, "tag %s", name)
	}
	f.tags[name] = hash
	if _, ok := f.tagTimes[name]; !ok {
		f.tagTimes[name] = time.Now()
	}
	return nil
}

func (f *fakeGit) LatestSemverTagBefore(prefix string, before *semver.Version) (string, error) {
	var bestName string
	var best *semver.Version
	for name := range f.tags {
		literal := name
		if prefix != "" && len(name) > len(prefix) && name[:len(prefix)] == prefix {
			literal = name[len(prefix):]
		}
		v, err := semver.StrictNewVersion(literal)
		if err != nil {
			continue
		}
		if before != nil && !v.LessThan(before) {
			continue
		}
		if best == nil || best.LessThan(v) {
			best, bestName = v, name
		}
	}
	return bestName, nil
}

func (f *fakeGit) TagCommitTime(name string) (time.Time, error) {
	when, ok := f.tagTimes[name]
	if !ok {
		return time.Time{}, errors.Newf("no tag %s", name)
	}
	return when, nil
}

func (f *fakeGit) PushBranch(ctx context.Context, remote, branch, token string) error {
	if f.failBranchPush {
		return errors.WrapRemote(errors.New("connection reset"), "push to "+remote)
	}
	f.pushed = append(f.pushed, "branch:"+branch+":"+token)
	return nil
}

func (f *fakeGit) PushTag(ctx context.Context, remote, tag, token string) error {
	if f.failTagPush {
		return errors.WrapRemote(errors.New("connection reset"), "push to "+remote)
	}
	f.pushed = append(f.pushed, "tag:"+tag)
	return nil
}

// fakeForge satisfies Forge over in-memory state.
type fakeForge struct {
	pull      *forge.Pull
	items     []forge.Item
	labeled   map[int][]string
	failLabel map[int]bool
	releases  map[string]*forge.Release
	createErr error
	created   []forge.ReleaseRequest
}

func newFakeForge() *fakeForge {
	return &fakeForge{
		labeled:   make(map[int][]string),
		failLabel: make(map[int]bool),
		releases:  make(map[string]*forge.Release),
	}
}

func (f *fakeForge) GetPull(ctx context.Context, number int) (*forge.Pull, error) {
	if f.pull == nil || f.pull.Number != number {
		return nil, errors.Newf("no pull %d", number)
	}
	return f.pull, nil
}

func (f *fakeForge) AddLabels(ctx context.Context, number int, labels []string) error {
	if f.failLabel[number] {
		return errors.WrapRemote(errors.New("502 bad gateway"), "add labels")
	}
	f.labeled[number] = append(f.labeled[number], labels...)
	return nil
}

func (f *fakeForge) ListClosedSince(ctx context.Context, since time.Time) ([]forge.Item, error) {
	return f.items, nil
}

func (f *fakeForge) CreateRelease(ctx context.Context, req forge.ReleaseRequest) (*forge.Release, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	release := &forge.Release{
		TagName:    req.TagName,
		Name:       req.Name,
		Body:       req.Body,
		Draft:      req.Draft,
		Prerelease: req.Prerelease,
		HTMLURL:    "https://github.com/acme/widget/releases/tag/" + req.TagName,
	}
	f.releases[req.TagName] = release
	f.created = append(f.created, req)
	return release, nil
}

func (f *fakeForge) GetReleaseByTag(ctx context.Context, tag string) (*forge.Release, error) {
	return f.releases[tag], nil
}

func testConfig(t *testing.T, repoPath string) *config.Config {
	t.Helper()
	return &config.Config{
		Repo: config.RepoConfig{
			Path:        repoPath,
			Branch:      "main",
			Remote:      "origin",
			AuthorName:  "relcut",
			AuthorEmail: "relcut@users.noreply.github.com",
		},
		Version:   config.VersionConfig{File: "__init__.py"},
		Changelog: config.ChangelogConfig{File: "CHANGELOG.md", IncludeUnlabeled: true},
		GitHub: config.GitHubConfig{
			Owner:      "acme",
			Repo:       "widget",
			APIBaseURL: "https://api.github.com",
			Token:      "api-token",
			PushToken:  "push-token",
		},
		Pipeline: config.PipelineConfig{
			SkipMarker:         "[skip ci]",
			StepTimeoutSeconds: 30,
			LockDir:            t.TempDir(),
		},
		Labeler: config.LabelerConfig{Label: "released", Deduplicate: true},
	}
}

func writeVersionFile(t *testing.T, dir, version string) {
	t.Helper()
	content := fmt.Sprintf("__version__ = \"%s\"\n", version)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "__init__.py"), []byte(content), 0o644))
}

func newTestRunner(t *testing.T, git *fakeGit, api *fakeForge, store *journal.Store) *Runner {
	t.Helper()
	return NewRunner(testConfig(t, git.path), git, api, store, zaptest.NewLogger(t).Sugar())
}

func mergedPull(number int, body string) *forge.Pull {
	now := time.Now()
	pull := &forge.Pull{Number: number, Body: body, MergedAt: &now}
	pull.Base.Ref = "main"
	return pull
}

func TestRunSkipsOnMarker(t *testing.T) {
	git := newFakeGit(t, "Update version to 2.3.5 [skip ci]")
	writeVersionFile(t, git.path, "2.3.5")
	runner := newTestRunner(t, git, newFakeForge(), nil)

	result, err := runner.Run(context.Background(), Trigger{})
	require.NoError(t, err)
	assert.True(t, result.Skipped)

	// A skipped run mutates nothing.
	assert.Empty(t, git.commits)
	assert.Empty(t, git.pushed)
	current, err := versionfile.Read(filepath.Join(git.path, "__init__.py"))
	require.NoError(t, err)
	assert.Equal(t, "2.3.5", current.String())
}

func TestRunFullPipeline(t *testing.T) {
	git := newFakeGit(t, "Merge pull request #42 from acme/fix-parser")
	writeVersionFile(t, git.path, "2.3.5")

	api := newFakeForge()
	api.pull = mergedPull(42, "Fixes #12\n\nAlso closes #7, and again fixes #12.")
	api.items = []forge.Item{
		{Number: 12, Title: "Parser crashes on empty input", HTMLURL: "https://github.com/acme/widget/issues/12",
			Labels: []forge.Label{{Name: "bug"}}, ClosedAt: timePtr(time.Now())},
		{Number: 40, Title: "Add streaming mode", HTMLURL: "https://github.com/acme/widget/pull/40",
			Labels:      []forge.Label{{Name: "enhancement"}},
			PullRequest: &forge.PullRef{MergedAt: timePtr(time.Now())}},
	}

	runner := newTestRunner(t, git, api, nil)
	result, err := runner.Run(context.Background(), Trigger{PullNumber: 42})
	require.NoError(t, err)
	assert.False(t, result.Skipped)

	// Version bumped on disk and in the result.
	current, err := versionfile.Read(filepath.Join(git.path, "__init__.py"))
	require.NoError(t, err)
	assert.Equal(t, "2.3.6", current.String())
	assert.Equal(t, "2.3.5", result.PreviousVersion)
	assert.Equal(t, "2.3.6", result.NewVersion)
	assert.Equal(t, "2.3.6", result.Tag)

	// Bump commit, then changelog commit; both stamped with the skip marker.
	require.Len(t, git.commits, 2)
	assert.Contains(t, git.commits[0].message, "2.3.6")
	assert.Contains(t, git.commits[0].message, "[skip ci]")
	assert.Contains(t, git.commits[1].message, "[skip ci]")
	assert.True(t, git.commits[1].allowEmpty)

	// Tag created, branch and tag pushed with the elevated credential.
	assert.True(t, git.TagExists("2.3.6"))
	assert.Contains(t, git.pushed, "tag:2.3.6")
	assert.Contains(t, git.pushed, "branch:main:push-token")

	// Issue refs deduplicated, each labeled exactly once.
	assert.Equal(t, []string{"released"}, api.labeled[12])
	assert.Equal(t, []string{"released"}, api.labeled[7])
	assert.Equal(t, []int{12, 7}, result.Labeled)

	// Changelog written and bucketed.
	body, err := os.ReadFile(filepath.Join(git.path, "CHANGELOG.md"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "2.3.6")
	assert.Contains(t, string(body), "Parser crashes on empty input")

	// Release published, never a draft or prerelease.
	require.Len(t, api.created, 1)
	assert.Equal(t, "2.3.6", api.created[0].TagName)
	assert.Equal(t, "v2.3.6", api.created[0].Name)
	assert.False(t, api.created[0].Draft)
	assert.False(t, api.created[0].Prerelease)
	assert.NotEmpty(t, result.ReleaseURL)
}

func TestLabelStepSkippedOnPlainPush(t *testing.T) {
	git := newFakeGit(t, "Fix flaky test")
	writeVersionFile(t, git.path, "0.1.0")
	api := newFakeForge()

	runner := newTestRunner(t, git, api, nil)
	result, err := runner.Run(context.Background(), Trigger{})
	require.NoError(t, err)
	assert.Empty(t, api.labeled)
	assert.Equal(t, "0.1.1", result.NewVersion)
}

func TestLabelFailurePolicy(t *testing.T) {
	setup := func(t *testing.T) (*fakeGit, *fakeForge) {
		git := newFakeGit(t, "Merge pull request #5")
		writeVersionFile(t, git.path, "1.0.0")
		api := newFakeForge()
		api.pull = mergedPull(5, "Closes #8 and closes #9")
		api.failLabel[8] = true
		return git, api
	}

	t.Run("continue on error keeps the release going", func(t *testing.T) {
		git, api := setup(t)
		runner := newTestRunner(t, git, api, nil)
		runner.cfg.Pipeline.Steps = map[string]config.StepPolicy{
			StepLabel: {ContinueOnError: true},
		}

		result, err := runner.Run(context.Background(), Trigger{PullNumber: 5})
		require.NoError(t, err)
		assert.Equal(t, []int{8}, result.LabelFailures)
		assert.Equal(t, []int{9}, result.Labeled)
		assert.Len(t, api.created, 1)
	})

	t.Run("fail-fast policy aborts the run", func(t *testing.T) {
		git, api := setup(t)
		runner := newTestRunner(t, git, api, nil)

		_, err := runner.Run(context.Background(), Trigger{PullNumber: 5})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "label")
		// One label landed before the failure surfaced.
		assert.Equal(t, []string{"released"}, api.labeled[9])
		assert.Empty(t, api.created)
	})
}

func TestRunFailsOnPushFailure(t *testing.T) {
	git := newFakeGit(t, "Fix parser")
	writeVersionFile(t, git.path, "1.2.3")
	git.failTagPush = true

	runner := newTestRunner(t, git, newFakeForge(), nil)
	_, err := runner.Run(context.Background(), Trigger{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRemoteOperation))
	assert.Contains(t, err.Error(), "bump")
}

func TestReleaseCreateIfAbsent(t *testing.T) {
	git := newFakeGit(t, "Fix parser")
	writeVersionFile(t, git.path, "1.2.3")

	api := newFakeForge()
	api.releases["1.2.4"] = &forge.Release{
		TagName: "1.2.4",
		HTMLURL: "https://github.com/acme/widget/releases/tag/1.2.4",
	}

	runner := newTestRunner(t, git, api, nil)
	result, err := runner.Run(context.Background(), Trigger{})
	require.NoError(t, err)

	assert.Empty(t, api.created)
	assert.Equal(t, "https://github.com/acme/widget/releases/tag/1.2.4", result.ReleaseURL)
}

func TestRunJournalAndResume(t *testing.T) {
	git := newFakeGit(t, "Fix parser")
	writeVersionFile(t, git.path, "2.3.5")

	conn, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "journal.db"), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer conn.Close()
	store := journal.NewStore(conn)

	api := newFakeForge()
	api.createErr = errors.WrapRemote(errors.New("503 unavailable"), "create release")

	runner := newTestRunner(t, git, api, store)
	_, err = runner.Run(context.Background(), Trigger{})
	require.Error(t, err)

	// The failed run left its durable side effects in place.
	current, err := versionfile.Read(filepath.Join(git.path, "__init__.py"))
	require.NoError(t, err)
	assert.Equal(t, "2.3.6", current.String())
	assert.True(t, git.TagExists("2.3.6"))
	commitsAfterFailure := len(git.commits)

	failed, err := store.LatestRun("main")
	require.NoError(t, err)
	require.NotNil(t, failed)
	assert.Equal(t, journal.RunFailed, failed.State)
	assert.Equal(t, "2.3.5", failed.PreviousVersion)
	assert.Equal(t, "2.3.6", failed.NewVersion)

	stepStates := make(map[string]journal.StepState)
	for _, step := range failed.Steps {
		stepStates[step.Name] = step.State
	}
	assert.Equal(t, journal.StepSucceeded, stepStates[StepBump])
	assert.Equal(t, journal.StepSkipped, stepStates[StepLabel])
	assert.Equal(t, journal.StepFailed, stepStates[StepRelease])

	// Resume after the outage: only the release step re-runs.
	api.createErr = nil
	result, err := runner.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, failed.ID, result.RunID)
	assert.Equal(t, "2.3.6", result.NewVersion)
	assert.Len(t, git.commits, commitsAfterFailure)
	require.Len(t, api.created, 1)
	assert.Equal(t, "2.3.6", api.created[0].TagName)

	resumed, err := store.LatestRun("main")
	require.NoError(t, err)
	assert.Equal(t, journal.RunSucceeded, resumed.State)

	// A clean journal has nothing to resume.
	_, err = runner.Resume(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to resume")
}

func TestSkippedRunIsJournaled(t *testing.T) {
	git := newFakeGit(t, "chore: bump [skip ci]")
	writeVersionFile(t, git.path, "1.0.0")

	conn, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "journal.db"), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer conn.Close()
	store := journal.NewStore(conn)

	runner := newTestRunner(t, git, newFakeForge(), store)
	result, err := runner.Run(context.Background(), Trigger{})
	require.NoError(t, err)
	assert.True(t, result.Skipped)

	run, err := store.LatestRun("main")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, journal.RunSkipped, run.State)
	for _, step := range run.Steps {
		assert.Equal(t, journal.StepSkipped, step.State)
	}
}

func timePtr(t time.Time) *time.Time { return &t }
