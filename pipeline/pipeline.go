// Package pipeline orchestrates the release workflow: trigger gate, version
// bump, issue labeling, changelog generation, protected-branch push, and
// release publication.
//
// Control flows strictly left to right. Every step's precondition is "the
// trigger gate did not skip"; no step begins before its predecessor's side
// effects are durably completed, including remote acknowledgement of pushes.
// Steps are idempotent (tag-if-absent, changelog-commit-if-changed,
// release-create-if-absent) so a failed run can be resumed instead of
// re-run from scratch.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"

	"github.com/teranos/relcut/changelog"
	"github.com/teranos/relcut/config"
	"github.com/teranos/relcut/errors"
	"github.com/teranos/relcut/forge"
	"github.com/teranos/relcut/gitops"
	"github.com/teranos/relcut/journal"
	"github.com/teranos/relcut/versionfile"
)

// Step names, in execution order. These are the journal keys.
const (
	StepBump      = "bump"
	StepLabel     = "label"
	StepChangelog = "changelog"
	StepPush      = "push"
	StepRelease   = "release"
)

// StepNames lists the pipeline steps in execution order.
var StepNames = []string{StepBump, StepLabel, StepChangelog, StepPush, StepRelease}

// errStepNotApplicable marks a step that does not apply to this trigger
// (e.g. the labeler on a plain push). Recorded as skipped, not failed.
var errStepNotApplicable = errors.New("step not applicable")

// GitRepo is the slice of gitops.Repo the pipeline depends on.
type GitRepo interface {
	Path() string
	HeadMessage() (string, error)
	HeadHash() (plumbing.Hash, error)
	CommitPaths(paths []string, message string, author gitops.Author, allowEmpty bool) (plumbing.Hash, error)
	CreateTag(name string, hash plumbing.Hash, message string, author gitops.Author) error
	TagExists(name string) bool
	LatestSemverTagBefore(prefix string, before *semver.Version) (string, error)
	TagCommitTime(name string) (time.Time, error)
	PushBranch(ctx context.Context, remote, branch, token string) error
	PushTag(ctx context.Context, remote, tag, token string) error
}

// Forge is the slice of forge.Client the pipeline depends on.
type Forge interface {
	GetPull(ctx context.Context, number int) (*forge.Pull, error)
	AddLabels(ctx context.Context, number int, labels []string) error
	ListClosedSince(ctx context.Context, since time.Time) ([]forge.Item, error)
	CreateRelease(ctx context.Context, req forge.ReleaseRequest) (*forge.Release, error)
	GetReleaseByTag(ctx context.Context, tag string) (*forge.Release, error)
}

// Trigger describes the event that started the run. PullNumber is non-zero
// when the trigger is a merged pull request; the issue labeler only applies
// then.
type Trigger struct {
	PullNumber int
}

// Result summarizes a completed (or skipped) run.
type Result struct {
	RunID           string
	Skipped         bool
	PreviousVersion string
	NewVersion      string
	Tag             string
	ReleaseURL      string
	Labeled         []int
	LabelFailures   []int
}

// Runner executes the pipeline.
type Runner struct {
	cfg    *config.Config
	repo   GitRepo
	api    Forge
	store  *journal.Store
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewRunner creates a pipeline runner. The journal store may be nil, which
// disables run recording (unit tests).
func NewRunner(cfg *config.Config, repo GitRepo, api Forge, store *journal.Store, logger *zap.SugaredLogger) *Runner {
	return &Runner{
		cfg:    cfg,
		repo:   repo,
		api:    api,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// runState carries step-to-step data within one run.
type runState struct {
	resume   bool
	trigger  Trigger
	headHash plumbing.Hash
	prev     *semver.Version
	next     *semver.Version
	tag      string
	rendered string
	result   *Result
}

type stepFunc func(ctx context.Context, st *runState) error

func (r *Runner) steps() []struct {
	name string
	fn   stepFunc
} {
	return []struct {
		name string
		fn   stepFunc
	}{
		{StepBump, r.stepBump},
		{StepLabel, r.stepLabel},
		{StepChangelog, r.stepChangelog},
		{StepPush, r.stepPush},
		{StepRelease, r.stepRelease},
	}
}

// Run executes the full pipeline for a trigger event.
func (r *Runner) Run(ctx context.Context, trigger Trigger) (*Result, error) {
	lock, err := AcquireBranchLock(r.cfg.Pipeline.LockDir, r.cfg.Repo.Branch)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	// Trigger gate. A failure to read the head message is fatal: there is
	// no default-skip fallback.
	message, err := r.repo.HeadMessage()
	if err != nil {
		return nil, errors.Wrap(err, "trigger gate could not read head commit message")
	}
	headHash, err := r.repo.HeadHash()
	if err != nil {
		return nil, err
	}

	runID := fmt.Sprintf("run-%s-%s", r.now().UTC().Format("20060102T150405Z"), shortHash(headHash))
	result := &Result{RunID: runID}

	if ShouldSkip(message, r.cfg.Pipeline.SkipMarker) {
		r.logger.Infow("Skip marker present, pipeline is a no-op",
			"marker", r.cfg.Pipeline.SkipMarker,
			"commit", shortHash(headHash))
		r.recordSkippedRun(runID, headHash)
		result.Skipped = true
		return result, nil
	}

	r.recordRunStart(runID, headHash)

	st := &runState{trigger: trigger, headHash: headHash, result: result}
	for _, step := range r.steps() {
		if err := r.execStep(ctx, runID, step.name, st, step.fn); err != nil {
			r.recordRunFinish(runID, journal.RunFailed)
			return result, err
		}
	}

	r.recordRunFinish(runID, journal.RunSucceeded)
	return result, nil
}

// Resume re-executes the steps of the newest failed run that have not yet
// succeeded. Durable side effects the failed run already pushed (commits,
// tags) are left in place; the idempotent step bodies detect them.
func (r *Runner) Resume(ctx context.Context) (*Result, error) {
	if r.store == nil {
		return nil, errors.New("resume requires a run journal")
	}
	run, err := r.store.LatestRun(r.cfg.Repo.Branch)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, errors.Newf("no runs recorded for branch %s", r.cfg.Repo.Branch)
	}
	if run.State != journal.RunFailed {
		return nil, errors.Newf("latest run %s is %s, nothing to resume", run.ID, run.State)
	}

	lock, err := AcquireBranchLock(r.cfg.Pipeline.LockDir, r.cfg.Repo.Branch)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	headHash, err := r.repo.HeadHash()
	if err != nil {
		return nil, err
	}

	result := &Result{RunID: run.ID}
	st := &runState{resume: true, headHash: headHash, result: result}
	if run.PreviousVersion != "" {
		if st.prev, err = semver.StrictNewVersion(run.PreviousVersion); err != nil {
			return nil, errors.Wrapf(err, "journaled previous version %q", run.PreviousVersion)
		}
	}
	if run.NewVersion != "" {
		if st.next, err = semver.StrictNewVersion(run.NewVersion); err != nil {
			return nil, errors.Wrapf(err, "journaled new version %q", run.NewVersion)
		}
		st.tag = r.cfg.Version.TagPrefix + st.next.String()
		result.PreviousVersion = run.PreviousVersion
		result.NewVersion = run.NewVersion
		result.Tag = st.tag
	}

	done := make(map[string]bool, len(run.Steps))
	for _, step := range run.Steps {
		done[step.Name] = step.State == journal.StepSucceeded || step.State == journal.StepSkipped
	}

	if err := r.store.MarkRunning(run.ID); err != nil {
		return nil, err
	}

	for _, step := range r.steps() {
		if done[step.name] {
			r.logger.Debugw("Step already completed, skipping", "step", step.name)
			continue
		}
		if err := r.execStep(ctx, run.ID, step.name, st, step.fn); err != nil {
			r.recordRunFinish(run.ID, journal.RunFailed)
			return result, err
		}
	}

	r.recordRunFinish(run.ID, journal.RunSucceeded)
	return result, nil
}

// execStep runs one step under the configured timeout, recording its outcome
// in the journal. Timeouts are fatal: a hung external call must not block
// the pipeline indefinitely.
func (r *Runner) execStep(ctx context.Context, runID, name string, st *runState, fn stepFunc) error {
	timeout := time.Duration(r.cfg.Pipeline.StepTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if r.store != nil {
		if err := r.store.StartStep(runID, name); err != nil {
			return err
		}
	}

	r.logger.Infow("Running step", "step", name, "run", runID)
	err := fn(stepCtx, st)

	if errors.Is(err, errStepNotApplicable) {
		r.recordStepFinish(runID, name, journal.StepSkipped, err.Error())
		r.logger.Infow("Step not applicable", "step", name, "reason", err.Error())
		return nil
	}
	if err != nil {
		if stepCtx.Err() != nil {
			err = errors.Wrapf(err, "step %s exceeded its %s timeout", name, timeout)
		}
		r.recordStepFinish(runID, name, journal.StepFailed, err.Error())
		r.logger.Errorw("Step failed", "step", name, "run", runID, "error", err)
		return errors.Wrapf(err, "step %s", name)
	}

	r.recordStepFinish(runID, name, journal.StepSucceeded, "")
	return nil
}

// stepBump reads, bumps, rewrites, commits, tags, and pushes the version.
//
// The commit and tag are durable, externally visible mutations. If a later
// step fails they are NOT rolled back: rollback of pushed git history is
// unsafe. The journal records the partial state for the operator.
func (r *Runner) stepBump(ctx context.Context, st *runState) error {
	versionPath := filepath.Join(r.repo.Path(), r.cfg.Version.File)
	current, err := versionfile.Read(versionPath)
	if err != nil {
		return err
	}

	alreadyBumped := st.resume && st.next != nil && current.Equal(st.next)
	if alreadyBumped {
		r.logger.Infow("Version already bumped by previous attempt",
			"version", current.String())
	} else {
		st.prev = current
		next := versionfile.BumpPatch(current)
		st.next = &next

		if err := versionfile.Write(versionPath, st.next); err != nil {
			return err
		}

		message := fmt.Sprintf("Update version to %s %s", st.next, r.cfg.Pipeline.SkipMarker)
		hash, err := r.repo.CommitPaths([]string{r.cfg.Version.File}, message, r.author(), false)
		if err != nil {
			return err
		}
		st.headHash = hash

		if r.store != nil && st.result.RunID != "" {
			if err := r.store.SetVersions(st.result.RunID, st.prev.String(), st.next.String()); err != nil {
				return err
			}
		}
	}

	st.tag = r.cfg.Version.TagPrefix + st.next.String()
	st.result.NewVersion = st.next.String()
	if st.prev != nil {
		st.result.PreviousVersion = st.prev.String()
	}
	st.result.Tag = st.tag

	// Tag-if-absent on resume; on a fresh run a duplicate tag fails loudly.
	if st.resume && r.repo.TagExists(st.tag) {
		r.logger.Infow("Tag already exists from previous attempt", "tag", st.tag)
	} else {
		if err := r.repo.CreateTag(st.tag, st.headHash, "Release "+st.tag, r.author()); err != nil {
			return err
		}
	}

	if err := r.repo.PushBranch(ctx, r.cfg.Repo.Remote, r.cfg.Repo.Branch, r.cfg.GitHub.PushToken); err != nil {
		return err
	}
	return r.repo.PushTag(ctx, r.cfg.Repo.Remote, st.tag, r.cfg.GitHub.PushToken)
}

// stepLabel labels the issues a merged pull request closes. Each label call
// is an independent remote operation: one failure does not abort the rest.
func (r *Runner) stepLabel(ctx context.Context, st *runState) error {
	if st.trigger.PullNumber == 0 {
		return errors.Wrap(errStepNotApplicable, "trigger is not a pull request")
	}

	pull, err := r.api.GetPull(ctx, st.trigger.PullNumber)
	if err != nil {
		return r.labelOutcome(err, st)
	}
	if pull.MergedAt == nil {
		return errors.Wrap(errStepNotApplicable, "pull request was closed without merging")
	}
	if pull.Base.Ref != r.cfg.Repo.Branch {
		return errors.Wrapf(errStepNotApplicable, "pull request targets %s", pull.Base.Ref)
	}

	refs := forge.ExtractIssueRefs(pull.Body)
	if r.cfg.Labeler.Deduplicate {
		refs = forge.DedupeRefs(refs)
	}
	if len(refs) == 0 {
		r.logger.Infow("No issue-closing references in pull request body", "pr", pull.Number)
		return nil
	}

	for _, issue := range refs {
		if err := r.api.AddLabels(ctx, issue, []string{r.cfg.Labeler.Label}); err != nil {
			st.result.LabelFailures = append(st.result.LabelFailures, issue)
			r.logger.Warnw("Failed to label issue, continuing",
				"issue", issue, "error", err)
			continue
		}
		st.result.Labeled = append(st.result.Labeled, issue)
	}

	if len(st.result.LabelFailures) > 0 {
		return r.labelOutcome(
			errors.Newf("failed to label issues %v", st.result.LabelFailures), st)
	}
	return nil
}

// labelOutcome applies the configured failure policy for the label step.
func (r *Runner) labelOutcome(err error, st *runState) error {
	if r.cfg.StepPolicyFor(StepLabel).ContinueOnError {
		r.logger.Warnw("Labeling incomplete, policy is continue-on-error", "error", err)
		return nil
	}
	return err
}

// stepChangelog regenerates the full changelog document and commits it.
func (r *Runner) stepChangelog(ctx context.Context, st *runState) error {
	rendered, err := r.generateChangelog(ctx, st)
	if err != nil {
		return err
	}
	st.rendered = rendered

	changelogPath := filepath.Join(r.repo.Path(), r.cfg.Changelog.File)
	if err := os.WriteFile(changelogPath, []byte(rendered), 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", r.cfg.Changelog.File)
	}

	// Empty commit allowed: the step must never fail purely because the
	// regenerated document is identical to the previous run's.
	message := fmt.Sprintf("Update changelog for %s %s", st.tag, r.cfg.Pipeline.SkipMarker)
	if _, err := r.repo.CommitPaths([]string{r.cfg.Changelog.File}, message, r.author(), true); err != nil {
		return err
	}
	return nil
}

// generateChangelog recomputes the document from project history. Generation
// is deterministic, so the resume path can regenerate instead of persisting
// the rendered body.
func (r *Runner) generateChangelog(ctx context.Context, st *runState) (string, error) {
	previousTag, err := r.repo.LatestSemverTagBefore(r.cfg.Version.TagPrefix, st.next)
	if err != nil {
		return "", err
	}

	var since time.Time
	if previousTag != "" {
		if since, err = r.repo.TagCommitTime(previousTag); err != nil {
			return "", err
		}
	}

	items, err := r.api.ListClosedSince(ctx, since)
	if err != nil {
		return "", err
	}

	specs := make([]changelog.SectionSpec, 0, len(r.cfg.Changelog.Sections))
	for _, s := range r.cfg.Changelog.Sections {
		specs = append(specs, changelog.SectionSpec{Title: s.Title, Labels: s.Labels})
	}

	doc := changelog.Generate(items, st.next.String(), st.tag, previousTag, r.cfg.GitHub.WebURL(), r.now(), changelog.Options{
		Sections:         specs,
		IncludeUnlabeled: r.cfg.Changelog.IncludeUnlabeled,
		ExcludeLabels:    r.cfg.Changelog.ExcludeLabels,
		Since:            since,
	})
	return doc.Render(), nil
}

// stepPush pushes the changelog commit through the protected-branch
// credential. A failure here does not discard the committed changelog; it
// remains in the local run state for resume.
func (r *Runner) stepPush(ctx context.Context, st *runState) error {
	return r.repo.PushBranch(ctx, r.cfg.Repo.Remote, r.cfg.Repo.Branch, r.cfg.GitHub.PushToken)
}

// stepRelease creates the release if absent. A pre-existing release for the
// tag means a previous attempt got this far; creating twice would fail.
func (r *Runner) stepRelease(ctx context.Context, st *runState) error {
	existing, err := r.api.GetReleaseByTag(ctx, st.tag)
	if err != nil {
		return err
	}
	if existing != nil {
		r.logger.Infow("Release already exists", "tag", st.tag, "url", existing.HTMLURL)
		st.result.ReleaseURL = existing.HTMLURL
		return nil
	}

	if st.rendered == "" {
		if st.rendered, err = r.generateChangelog(ctx, st); err != nil {
			return err
		}
	}

	release, err := r.api.CreateRelease(ctx, forge.ReleaseRequest{
		TagName:    st.tag,
		Name:       "v" + st.next.String(),
		Body:       st.rendered,
		Draft:      false,
		Prerelease: false,
	})
	if err != nil {
		return err
	}
	st.result.ReleaseURL = release.HTMLURL
	return nil
}

func (r *Runner) author() gitops.Author {
	return gitops.Author{
		Name:  r.cfg.Repo.AuthorName,
		Email: r.cfg.Repo.AuthorEmail,
	}
}

func shortHash(hash plumbing.Hash) string {
	s := hash.String()
	if len(s) >= 7 {
		return s[:7]
	}
	return s
}

// Journal helpers. The store is optional; every recording failure is logged
// rather than propagated so journaling problems never mask pipeline errors.

func (r *Runner) recordRunStart(runID string, head plumbing.Hash) {
	if r.store == nil {
		return
	}
	run := &journal.Run{
		ID:         runID,
		Branch:     r.cfg.Repo.Branch,
		HeadCommit: shortHash(head),
		State:      journal.RunRunning,
		StartedAt:  r.now().UTC(),
	}
	if err := r.store.CreateRun(run, StepNames); err != nil {
		r.logger.Warnw("Failed to record run start", "run", runID, "error", err)
	}
}

func (r *Runner) recordSkippedRun(runID string, head plumbing.Hash) {
	if r.store == nil {
		return
	}
	run := &journal.Run{
		ID:         runID,
		Branch:     r.cfg.Repo.Branch,
		HeadCommit: shortHash(head),
		State:      journal.RunSkipped,
		StartedAt:  r.now().UTC(),
	}
	if err := r.store.CreateRun(run, StepNames); err != nil {
		r.logger.Warnw("Failed to record skipped run", "run", runID, "error", err)
		return
	}
	for _, name := range StepNames {
		r.recordStepFinish(runID, name, journal.StepSkipped, "skip marker present")
	}
	r.recordRunFinish(runID, journal.RunSkipped)
}

func (r *Runner) recordStepFinish(runID, name string, state journal.StepState, detail string) {
	if r.store == nil {
		return
	}
	if err := r.store.FinishStep(runID, name, state, detail); err != nil {
		r.logger.Warnw("Failed to record step outcome", "run", runID, "step", name, "error", err)
	}
}

func (r *Runner) recordRunFinish(runID string, state journal.RunState) {
	if r.store == nil {
		return
	}
	if err := r.store.FinishRun(runID, state); err != nil {
		r.logger.Warnw("Failed to record run outcome", "run", runID, "error", err)
	}
}
