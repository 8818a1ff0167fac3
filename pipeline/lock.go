package pipeline

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/teranos/relcut/errors"
)

// BranchLock serializes pipeline runs per branch. Two concurrent runs
// against the same branch would read the same CURRENT_VERSION and compute
// the same NEW_VERSION; the lock makes that race impossible on one host,
// which is where CI schedules runs for a given repository.
type BranchLock struct {
	lock *flock.Flock
}

// AcquireBranchLock takes the run lock for a branch, creating the lock
// directory if needed. Returns ErrRunInProgress when another run holds it.
func AcquireBranchLock(lockDir, branch string) (*BranchLock, error) {
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create lock dir %s", lockDir)
	}

	// Branch names may contain path separators (release/2.x).
	name := strings.ReplaceAll(branch, string(os.PathSeparator), "-") + ".lock"
	lock := flock.New(filepath.Join(lockDir, name))

	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to acquire lock for branch %s", branch)
	}
	if !locked {
		return nil, errors.Wrapf(errors.ErrRunInProgress, "branch %s", branch)
	}
	return &BranchLock{lock: lock}, nil
}

// Release releases the lock. Safe to call on a nil receiver.
func (l *BranchLock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
