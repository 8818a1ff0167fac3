// Package testprep prepares and executes the notebook-derived test suite.
//
// Notebooks are not directly runnable by the test runner, so each invocation
// rebuilds a disposable output tree: clear the output directory, recreate it,
// convert every notebook into it, then hand the tree to the runner. The
// output directory is owned by this package and never accumulates state
// across invocations.
//
// This is a separate process lifecycle from the release pipeline; the two
// share configuration plumbing and nothing else.
package testprep

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/relcut/config"
	"github.com/teranos/relcut/errors"
)

// notebookExt is the file extension conversion applies to.
const notebookExt = ".ipynb"

// Runner converts notebooks and executes the test runner over the result.
type Runner struct {
	cfg    config.TestPrepConfig
	logger *zap.SugaredLogger
	stdout io.Writer
	stderr io.Writer
}

// New creates a test-prep runner writing subprocess output to stdout/stderr.
func New(cfg config.TestPrepConfig, logger *zap.SugaredLogger) *Runner {
	return &Runner{
		cfg:    cfg,
		logger: logger,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// Prepare clears and recreates the output directory, then converts every
// notebook found in the notebook directory into it. Conversion failures are
// fatal: a partially converted tree must not reach the runner.
func (r *Runner) Prepare(ctx context.Context) error {
	if err := r.validateOutputDir(); err != nil {
		return err
	}

	if err := os.RemoveAll(r.cfg.OutputDir); err != nil {
		return errors.Wrapf(err, "failed to clear output dir %s", r.cfg.OutputDir)
	}
	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create output dir %s", r.cfg.OutputDir)
	}

	notebooks, err := r.listNotebooks()
	if err != nil {
		return err
	}
	if len(notebooks) == 0 {
		r.logger.Warnw("No notebooks found", "dir", r.cfg.NotebookDir)
		return nil
	}

	for _, notebook := range notebooks {
		if err := r.convert(ctx, notebook); err != nil {
			return err
		}
	}

	r.logger.Infow("Converted notebooks",
		"count", len(notebooks),
		"output_dir", r.cfg.OutputDir)
	return nil
}

// Run executes the configured test runner inside the output tree. The
// passthrough arguments are appended to the runner command verbatim, after
// shell-quote splitting of the configured command itself.
func (r *Runner) Run(ctx context.Context, passthrough []string) error {
	words, err := shellquote.Split(r.cfg.RunnerCommand)
	if err != nil {
		return errors.Wrapf(err, "invalid runner command %q", r.cfg.RunnerCommand)
	}
	if len(words) == 0 {
		return errors.New("runner command is not configured")
	}

	args := append(words[1:], passthrough...)
	cmd := exec.CommandContext(ctx, words[0], args...)
	cmd.Dir = r.cfg.OutputDir
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	r.logger.Infow("Running test suite", "command", words[0], "args", args)
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "test runner %s", words[0])
	}
	return nil
}

// validateOutputDir refuses output directories whose removal would destroy
// the working tree. The output dir is cleared with RemoveAll on every run.
func (r *Runner) validateOutputDir() error {
	dir := strings.TrimSpace(r.cfg.OutputDir)
	if dir == "" {
		return errors.New("testprep output dir is not configured")
	}
	clean := filepath.Clean(dir)
	if clean == "." || clean == string(filepath.Separator) || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return errors.Newf("refusing to clear unsafe output dir %q", dir)
	}
	return nil
}

func (r *Runner) listNotebooks() ([]string, error) {
	entries, err := os.ReadDir(r.cfg.NotebookDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read notebook dir %s", r.cfg.NotebookDir)
	}

	var notebooks []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != notebookExt {
			continue
		}
		notebooks = append(notebooks, filepath.Join(r.cfg.NotebookDir, entry.Name()))
	}
	return notebooks, nil
}

// convert runs the conversion command for one notebook. The notebook path and
// the output directory are appended as the final two arguments.
func (r *Runner) convert(ctx context.Context, notebook string) error {
	words, err := shellquote.Split(r.cfg.ConvertCommand)
	if err != nil {
		return errors.Wrapf(err, "invalid convert command %q", r.cfg.ConvertCommand)
	}
	if len(words) == 0 {
		return errors.New("convert command is not configured")
	}

	args := append(words[1:], notebook, r.cfg.OutputDir)
	cmd := exec.CommandContext(ctx, words[0], args...)
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	r.logger.Debugw("Converting notebook", "notebook", notebook)
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "failed to convert %s", notebook)
	}
	return nil
}

// ExitCode maps a Run error to a process exit code, preserving the test
// runner's own code so CI sees the real result.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
