// Package output writes run artifacts: the dataset CSV, the per-column
// quality report, and the run metadata sidecar. Every artifact is staged
// in a run-scoped temporary directory and renamed into place, so a crashed
// or failed run never leaves a partially written file at the destination
// path.
package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/errors"
)

// AtomicWriter stages artifacts inside a run-scoped temporary directory and
// publishes each one with a rename once its content is fully written. The
// staging directory lives under the destination directory so the rename
// never crosses filesystems.
type AtomicWriter struct {
	dir    string
	runID  string
	logger *zap.Logger
}

// NewAtomicWriter creates a writer for one output directory. Each writer
// gets a fresh run ID, so concurrent runs against the same directory never
// collide on staging names.
func NewAtomicWriter(dir string, logger *zap.Logger) (*AtomicWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeWrite, "failed to create output directory")
	}
	return &AtomicWriter{
		dir:    dir,
		runID:  uuid.NewString(),
		logger: logger,
	}, nil
}

// RunID returns the identifier scoping this writer's staging directory.
func (w *AtomicWriter) RunID() string {
	return w.runID
}

// Dir returns the destination directory.
func (w *AtomicWriter) Dir() string {
	return w.dir
}

// StagingDir returns the run-scoped temporary directory artifacts are
// staged in before publication.
func (w *AtomicWriter) StagingDir() string {
	return filepath.Join(w.dir, ".tmp_run_"+w.runID)
}

// WriteFile streams one artifact. The write callback receives the staging
// file; only after it returns successfully and the file is synced does the
// artifact appear under its final name. On any error the staging file is
// removed and the destination path is left untouched. The staging directory
// is removed once it holds no more files.
func (w *AtomicWriter) WriteFile(name string, write func(io.Writer) error) (err error) {
	final := filepath.Join(w.dir, name)
	stagingDir := w.StagingDir()
	staging := filepath.Join(stagingDir, name)

	if err = os.MkdirAll(stagingDir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "failed to create staging directory")
	}

	f, err := os.Create(staging)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "failed to create staging file")
	}

	defer func() {
		if err != nil {
			f.Close()
			os.Remove(staging)
		}
		// Fails while the directory still holds staged files, which is fine.
		os.Remove(stagingDir)
	}()

	if err = write(f); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, fmt.Sprintf("failed to write %s", name))
	}
	if err = f.Sync(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "failed to sync staging file")
	}
	if err = f.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "failed to close staging file")
	}
	if err = os.Rename(staging, final); err != nil {
		os.Remove(staging)
		return errors.Wrap(err, errors.ErrorTypeWrite, fmt.Sprintf("failed to publish %s", name))
	}

	w.logger.Info("wrote artifact", zap.String("path", final))
	return nil
}
