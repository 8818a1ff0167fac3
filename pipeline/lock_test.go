package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/relcut/errors"
)

func TestBranchLock(t *testing.T) {
	dir := t.TempDir()

	t.Run("second acquisition fails while held", func(t *testing.T) {
		first, err := AcquireBranchLock(dir, "main")
		require.NoError(t, err)
		defer first.Release()

		_, err = AcquireBranchLock(dir, "main")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrRunInProgress))
	})

	t.Run("release frees the lock", func(t *testing.T) {
		first, err := AcquireBranchLock(dir, "main")
		require.NoError(t, err)
		require.NoError(t, first.Release())

		second, err := AcquireBranchLock(dir, "main")
		require.NoError(t, err)
		require.NoError(t, second.Release())
	})

	t.Run("different branches do not contend", func(t *testing.T) {
		a, err := AcquireBranchLock(dir, "main")
		require.NoError(t, err)
		defer a.Release()

		b, err := AcquireBranchLock(dir, "develop")
		require.NoError(t, err)
		defer b.Release()
	})

	t.Run("branch names with separators are flattened", func(t *testing.T) {
		lock, err := AcquireBranchLock(dir, "release/2.x")
		require.NoError(t, err)
		defer lock.Release()

		_, err = os.Stat(filepath.Join(dir, "release-2.x.lock"))
		assert.NoError(t, err)
	})

	t.Run("nil lock release is a no-op", func(t *testing.T) {
		var lock *BranchLock
		assert.NoError(t, lock.Release())
	})
}
