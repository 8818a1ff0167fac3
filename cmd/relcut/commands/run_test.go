package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/relcut/config"
)

func writeEvent(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestReadTrigger(t *testing.T) {
	cfg := &config.Config{}

	t.Run("explicit pr flag wins", func(t *testing.T) {
		trigger, err := readTrigger(cfg, 42, "")
		require.NoError(t, err)
		assert.Equal(t, 42, trigger.PullNumber)
	})

	t.Run("no event means plain push", func(t *testing.T) {
		trigger, err := readTrigger(cfg, 0, "")
		require.NoError(t, err)
		assert.Zero(t, trigger.PullNumber)
	})

	t.Run("merged pull request event", func(t *testing.T) {
		path := writeEvent(t, `{"pull_request": {"number": 7, "merged": true}}`)
		trigger, err := readTrigger(cfg, 0, path)
		require.NoError(t, err)
		assert.Equal(t, 7, trigger.PullNumber)
	})

	t.Run("closed without merging is a plain push", func(t *testing.T) {
		path := writeEvent(t, `{"pull_request": {"number": 7, "merged": false}}`)
		trigger, err := readTrigger(cfg, 0, path)
		require.NoError(t, err)
		assert.Zero(t, trigger.PullNumber)
	})

	t.Run("push event without pull_request block", func(t *testing.T) {
		path := writeEvent(t, `{"ref": "refs/heads/main"}`)
		trigger, err := readTrigger(cfg, 0, path)
		require.NoError(t, err)
		assert.Zero(t, trigger.PullNumber)
	})

	t.Run("unreadable payload is an error", func(t *testing.T) {
		_, err := readTrigger(cfg, 0, filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
	})

	t.Run("malformed payload is an error", func(t *testing.T) {
		path := writeEvent(t, `{not json`)
		_, err := readTrigger(cfg, 0, path)
		assert.Error(t, err)
	})

	t.Run("configured payload path is the fallback", func(t *testing.T) {
		path := writeEvent(t, `{"pull_request": {"number": 9, "merged": true}}`)
		cfg := &config.Config{}
		cfg.Labeler.EventPayload = path
		trigger, err := readTrigger(cfg, 0, "")
		require.NoError(t, err)
		assert.Equal(t, 9, trigger.PullNumber)
	})
}
