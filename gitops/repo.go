// Package gitops wraps the go-git operations the release pipeline needs:
// reading the head commit message, committing the version and changelog
// files, creating release tags, and pushing to the protected branch.
//
// Pushed commits and tags are durable, externally visible mutations that
// cannot be transactionally rolled back. Callers must treat partial
// completion (tag pushed, later step failed) as a recoverable-but-visible
// state; see the journal package.
package gitops

import (
	"context"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/teranos/relcut/errors"
)

// tokenUser is the username GitHub expects alongside an installation or PAT
// credential over HTTPS.
const tokenUser = "x-access-token"

// Author identifies the committer for generated commits.
type Author struct {
	Name  string
	Email string
}

// Repo wraps an opened git repository.
type Repo struct {
	repo   *git.Repository
	path   string
	logger *zap.SugaredLogger
}

// Open opens the repository at path.
func Open(path string, logger *zap.SugaredLogger) (*Repo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open repository at %s", path)
	}
	return &Repo{repo: repo, path: path, logger: logger}, nil
}

// Path returns the filesystem path the repository was opened from.
func (r *Repo) Path() string {
	return r.path
}

// HeadMessage returns the full commit message at HEAD. A failure to read the
// head commit is fatal to the caller: the trigger gate must never fall back
// to a default skip decision.
func (r *Repo) HeadMessage() (string, error) {
	commit, err := r.headCommit()
	if err != nil {
		return "", err
	}
	return commit.Message, nil
}

// HeadHash returns the hash of the commit at HEAD.
func (r *Repo) HeadHash() (plumbing.Hash, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "failed to resolve HEAD")
	}
	return ref.Hash(), nil
}

func (r *Repo) headCommit() (*object.Commit, error) {
	hash, err := r.HeadHash()
	if err != nil {
		return nil, err
	}
	commit, err := r.repo.CommitObject(hash)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read head commit %s", hash)
	}
	return commit, nil
}

// CommitPaths stages the given paths (relative to the worktree root) and
// commits them. With allowEmpty the commit succeeds even when nothing
// changed, so a changelog commit never fails purely because the document is
// identical to the previous run's.
func (r *Repo) CommitPaths(paths []string, message string, author Author, allowEmpty bool) (plumbing.Hash, error) {
	worktree, err := r.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "failed to open worktree")
	}

	for _, p := range paths {
		if _, err := worktree.Add(p); err != nil {
			return plumbing.ZeroHash, errors.Wrapf(err, "failed to stage %s", p)
		}
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author.Name,
			Email: author.Email,
			When:  time.Now(),
		},
		AllowEmptyCommits: allowEmpty,
	})
	if err != nil {
		return plumbing.ZeroHash, errors.Wrapf(err, "failed to commit %v", paths)
	}

	if r.logger != nil {
		r.logger.Infow("Created commit",
			"hash", hash.String()[:7],
			"paths", paths,
			"allow_empty", allowEmpty)
	}
	return hash, nil
}

// CreateTag creates an annotated tag pointing at hash. Duplicate tag creation
// fails loudly with ErrTagExists; an existing tag is never overwritten.
func (r *Repo) CreateTag(name string, hash plumbing.Hash, message string, author Author) error {
	if r.TagExists(name) {
		return errors.Wrapf(errors.ErrTagExists, "tag %s", name)
	}

	_, err := r.repo.CreateTag(name, hash, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  author.Name,
			Email: author.Email,
			When:  time.Now(),
		},
		Message: message,
	})
	if err != nil {
		if errors.Is(err, git.ErrTagExists) {
			return errors.Wrapf(errors.ErrTagExists, "tag %s", name)
		}
		return errors.Wrapf(err, "failed to create tag %s", name)
	}

	if r.logger != nil {
		r.logger.Infow("Created tag", "tag", name, "target", hash.String()[:7])
	}
	return nil
}

// TagExists reports whether a tag reference with the given name exists.
func (r *Repo) TagExists(name string) bool {
	_, err := r.repo.Reference(plumbing.NewTagReferenceName(name), true)
	return err == nil
}

// LatestSemverTag returns the highest semantic-version tag in the repository,
// ignoring the given prefix and any tags that do not parse as versions.
// Returns empty string when no semver tag exists (first release).
func (r *Repo) LatestSemverTag(prefix string) (string, error) {
	return r.latestSemverTag(prefix, nil)
}

// LatestSemverTagBefore returns the highest semantic-version tag strictly
// lower than the given version. Once the new release tag exists, this is how
// the previous release is found for the changelog range.
func (r *Repo) LatestSemverTagBefore(prefix string, before *semver.Version) (string, error) {
	return r.latestSemverTag(prefix, before)
}

func (r *Repo) latestSemverTag(prefix string, before *semver.Version) (string, error) {
	iter, err := r.repo.Tags()
	if err != nil {
		return "", errors.Wrap(err, "failed to list tags")
	}
	defer iter.Close()

	type tagged struct {
		name    string
		version *semver.Version
	}
	var candidates []tagged

	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		literal := name
		if prefix != "" && len(name) > len(prefix) && name[:len(prefix)] == prefix {
			literal = name[len(prefix):]
		}
		v, parseErr := semver.StrictNewVersion(literal)
		if parseErr != nil {
			return nil // not a release tag
		}
		if before != nil && !v.LessThan(before) {
			return nil
		}
		candidates = append(candidates, tagged{name: name, version: v})
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to iterate tags")
	}

	if len(candidates) == 0 {
		return "", nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].version.LessThan(candidates[j].version)
	})
	return candidates[len(candidates)-1].name, nil
}

// TagCommitTime resolves a tag (annotated or lightweight) to its target
// commit's author time. Used to bound the changelog range.
func (r *Repo) TagCommitTime(name string) (time.Time, error) {
	ref, err := r.repo.Reference(plumbing.NewTagReferenceName(name), true)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to resolve tag %s", name)
	}

	hash := ref.Hash()
	if tagObj, tagErr := r.repo.TagObject(hash); tagErr == nil {
		hash = tagObj.Target
	}

	commit, err := r.repo.CommitObject(hash)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to resolve commit for tag %s", name)
	}
	return commit.Author.When, nil
}

// PushBranch pushes the local branch to the remote, authenticating with the
// given token. The push is awaited to remote acknowledgement; an
// already-up-to-date remote is not an error.
func (r *Repo) PushBranch(ctx context.Context, remote, branch, token string) error {
	refspec := gitconfig.RefSpec(
		plumbing.NewBranchReferenceName(branch) + ":" + plumbing.NewBranchReferenceName(branch))
	return r.push(ctx, remote, token, refspec)
}

// PushTag pushes a single tag to the remote.
func (r *Repo) PushTag(ctx context.Context, remote, tag, token string) error {
	refspec := gitconfig.RefSpec(
		plumbing.NewTagReferenceName(tag) + ":" + plumbing.NewTagReferenceName(tag))
	return r.push(ctx, remote, token, refspec)
}

func (r *Repo) push(ctx context.Context, remote, token string, refspecs ...gitconfig.RefSpec) error {
	err := r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remote,
		RefSpecs:   refspecs,
		Auth: &githttp.BasicAuth{
			Username: tokenUser,
			Password: token,
		},
	})
	if err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			if r.logger != nil {
				r.logger.Debugw("Remote already up to date", "remote", remote, "refspecs", refspecs)
			}
			return nil
		}
		return errors.WrapRemote(err, "push to "+remote)
	}

	if r.logger != nil {
		r.logger.Infow("Pushed to remote", "remote", remote, "refspecs", refspecs)
	}
	return nil
}
