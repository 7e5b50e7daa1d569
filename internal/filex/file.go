// Package filex implements the temp-file plus atomic rename discipline used
// for every write into a vault tree, and a few directory helpers.
package filex

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// EnsureDir creates dir and its parents.
func EnsureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}
	return abs, nil
}

// AtomicFile is a temp file that becomes target on Commit. Until then the
// target is untouched; Abort (or Close without Commit) removes the temp file.
type AtomicFile struct {
	f         *os.File
	target    string
	committed bool
	closed    bool
}

// CreateAtomic opens a temp file in tempDir for a later rename onto target.
// tempDir must be on the same filesystem as target.
func CreateAtomic(tempDir, target string) (*AtomicFile, error) {
	f, err := os.CreateTemp(tempDir, "write-*")
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}
	return &AtomicFile{f: f, target: target}, nil
}

func (a *AtomicFile) Write(p []byte) (int, error) { return a.f.Write(p) }

// File exposes the temp file, e.g. for ReaderAt access during delta apply.
func (a *AtomicFile) File() *os.File { return a.f }

// Commit flushes the temp file, creates the target's parents and renames.
func (a *AtomicFile) Commit() error {
	if a.closed {
		return errors.New("atomic file already closed")
	}
	a.closed = true

	if err := a.f.Sync(); err != nil {
		_ = a.f.Close()
		_ = os.Remove(a.f.Name())
		return err
	}
	if err := a.f.Close(); err != nil {
		_ = os.Remove(a.f.Name())
		return err
	}
	if err := os.MkdirAll(filepath.Dir(a.target), 0o770); err != nil {
		_ = os.Remove(a.f.Name())
		return err
	}
	if err := os.Rename(a.f.Name(), a.target); err != nil {
		_ = os.Remove(a.f.Name())
		return err
	}
	a.committed = true
	return nil
}

// Abort discards the temp file.
func (a *AtomicFile) Abort() {
	if a.closed {
		return
	}
	a.closed = true
	_ = a.f.Close()
	_ = os.Remove(a.f.Name())
}

// Close aborts unless Commit already succeeded, so it is safe to defer.
func (a *AtomicFile) Close() error {
	if !a.committed {
		a.Abort()
	}
	return nil
}

// WriteAtomic copies r into target through a temp file and returns the
// number of bytes written.
func WriteAtomic(tempDir, target string, r io.Reader) (int64, error) {
	a, err := CreateAtomic(tempDir, target)
	if err != nil {
		return 0, err
	}
	defer a.Close()

	n, err := io.Copy(a, r)
	if err != nil {
		return n, err
	}
	return n, a.Commit()
}

// DirSize sums the sizes of regular files under root for which keep returns
// true. keep receives the slash-separated path relative to root; a nil keep
// counts every file. A missing root has size zero.
func DirSize(root string, keep func(rel string) bool) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if keep != nil && !keep(filepath.ToSlash(rel)) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
