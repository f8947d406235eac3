// Package artifact owns the on-disk artifacts of the pipeline: stage
// completion checks and the small file operations every stage shares.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// MarkerName is written into a stage directory once the stage has finished.
const MarkerName = ".complete"

// IOError reports a filesystem failure on a pipeline artifact.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func ioErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

// Guard decides whether a stage directory holds finished output.
//
// In lenient mode an existing directory is complete. In strict mode only a
// directory carrying MarkerName is, and Begin clears unmarked leftovers of a
// crashed run.
type Guard struct {
	Strict bool
}

// Complete reports whether the stage in dir can be skipped.
func (g Guard) Complete(dir string) (bool, error) {
	ok, err := Exists(dir)
	if err != nil || !ok {
		return false, err
	}
	if !g.Strict {
		return true, nil
	}
	return Exists(filepath.Join(dir, MarkerName))
}

// Begin prepares dir for a stage that is about to run.
func (g Guard) Begin(dir string) error {
	if g.Strict {
		ok, err := Exists(dir)
		if err != nil {
			return err
		}
		if ok {
			slog.Warn("discarding incomplete stage output", slog.String("path", dir))
			if err := os.RemoveAll(dir); err != nil {
				return ioErr("remove", dir, err)
			}
		}
	}
	return EnsureDir(dir)
}

// Abandon removes the output of a stage that returned an error, so the next
// run rebuilds it instead of trusting a partial directory. cause is returned
// unchanged, joined with any removal failure.
func (g Guard) Abandon(dir string, cause error) error {
	slog.Warn("discarding failed stage output", slog.String("path", dir), slog.Any("error", cause))
	if err := os.RemoveAll(dir); err != nil {
		return errors.Join(cause, ioErr("remove", dir, err))
	}
	return cause
}

// Finish marks dir complete.
func (g Guard) Finish(dir string) error {
	marker := filepath.Join(dir, MarkerName)
	return ioErr("write", marker, os.WriteFile(marker, nil, 0o644))
}

// Exists reports whether path exists.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, ioErr("stat", path, err)
}

// EnsureDir creates dir and its parents.
func EnsureDir(dir string) error {
	return ioErr("mkdir", dir, os.MkdirAll(dir, 0o755))
}

// WriteFileAtomic writes data to a temporary sibling and renames it into
// place, so a crash never leaves a truncated file under the final name.
func WriteFileAtomic(path string, data []byte) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return ioErr("create", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ioErr("write", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return ioErr("close", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return ioErr("rename", path, err)
	}
	return nil
}

// CopyFile copies src to dst, replacing dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return ioErr("open", src, err)
	}
	defer in.Close()

	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return ioErr("create", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return ioErr("copy", dst, err)
	}
	return ioErr("close", dst, out.Close())
}
