package filestore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/cryptox"
	"github.com/dmitrijs2005/vaultnode/internal/filex"
)

// FileInfo describes a node of a tree. Path is slash separated and relative
// to the tree root.
type FileInfo struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	IsFile   bool      `json:"is_file"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Checksum is one entry of a tree checksum listing.
type Checksum struct {
	MD5  string `json:"md5"`
	Path string `json:"path"`
}

// Tree is a directory of files addressed by canonical relative paths. The
// root directory is created lazily by the first write.
type Tree struct {
	root string
	temp string
}

func (t *Tree) Root() string { return t.root }

func (t *Tree) abs(clean string) string {
	return filepath.Join(t.root, filepath.FromSlash(clean))
}

func (t *Tree) resolve(p string) (string, string, error) {
	clean, err := CleanPath(p)
	if err != nil {
		return "", "", err
	}
	return clean, t.abs(clean), nil
}

func info(clean string, fi fs.FileInfo) FileInfo {
	out := FileInfo{
		Name:     fi.Name(),
		Path:     clean,
		IsFile:   fi.Mode().IsRegular(),
		Modified: fi.ModTime(),
	}
	if out.IsFile {
		out.Size = fi.Size()
	}
	return out
}

func statErr(p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return common.NotFoundf("file %s", p)
	}
	return fmt.Errorf("stat %s: %w", p, err)
}

func (t *Tree) Stat(p string) (FileInfo, error) {
	clean, abs, err := t.resolve(p)
	if err != nil {
		return FileInfo{}, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return FileInfo{}, statErr(clean, err)
	}
	return info(clean, fi), nil
}

// OpenRead opens a regular file for reading.
func (t *Tree) OpenRead(p string) (*os.File, FileInfo, error) {
	st, err := t.Stat(p)
	if err != nil {
		return nil, FileInfo{}, err
	}
	if !st.IsFile {
		return nil, FileInfo{}, common.BadRequestf("%s is a directory", st.Path)
	}
	f, err := os.Open(t.abs(st.Path))
	if err != nil {
		return nil, FileInfo{}, statErr(st.Path, err)
	}
	return f, st, nil
}

// List returns the children of a directory; "" lists the root.
func (t *Tree) List(dir string) ([]FileInfo, error) {
	clean, abs := "", t.root
	if strings.Trim(dir, "/") != "" {
		var err error
		if clean, abs, err = t.resolve(dir); err != nil {
			return nil, err
		}
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if clean == "" && errors.Is(err, fs.ErrNotExist) {
			return []FileInfo{}, nil
		}
		if fi, serr := os.Stat(abs); serr == nil && !fi.IsDir() {
			return nil, common.BadRequestf("%s is not a directory", clean)
		}
		return nil, statErr(clean, err)
	}

	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, info(joinRel(clean, e.Name()), fi))
	}
	return out, nil
}

func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// checkTarget rejects a target whose ancestor is a regular file or which
// is itself a directory. It returns the size of an existing target file.
func (t *Tree) checkTarget(clean string, allowExisting bool) (int64, error) {
	segs := strings.Split(clean, "/")
	for i := 1; i < len(segs); i++ {
		parent := strings.Join(segs[:i], "/")
		fi, err := os.Stat(t.abs(parent))
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return 0, statErr(parent, err)
		}
		if !fi.IsDir() {
			return 0, common.Conflictf("%s is a file", parent)
		}
	}

	fi, err := os.Stat(t.abs(clean))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, statErr(clean, err)
	}
	if fi.IsDir() {
		return 0, common.Conflictf("%s is a directory", clean)
	}
	if !allowExisting {
		return 0, common.Conflictf("%s already exists", clean)
	}
	return fi.Size(), nil
}

// Write replaces the file at p with the content of r through a temp file.
// It returns the bytes written and the size of the file it replaced.
func (t *Tree) Write(p string, r io.Reader) (written, previous int64, err error) {
	clean, abs, err := t.resolve(p)
	if err != nil {
		return 0, 0, err
	}
	if previous, err = t.checkTarget(clean, true); err != nil {
		return 0, 0, err
	}
	written, err = filex.WriteAtomic(t.temp, abs, r)
	if err != nil {
		return 0, 0, fmt.Errorf("write %s: %w", clean, err)
	}
	return written, previous, nil
}

// Rewrite produces a new version of an existing file from its current
// content. fn reads base and writes the replacement; on error the file is
// left untouched.
func (t *Tree) Rewrite(p string, fn func(base *os.File, w io.Writer) error) (written, previous int64, err error) {
	base, st, err := t.OpenRead(p)
	if err != nil {
		return 0, 0, err
	}
	defer base.Close()

	a, err := filex.CreateAtomic(t.temp, t.abs(st.Path))
	if err != nil {
		return 0, 0, err
	}
	defer a.Close()

	cw := &countingWriter{w: a}
	if err := fn(base, cw); err != nil {
		return 0, 0, err
	}
	if err := a.Commit(); err != nil {
		return 0, 0, fmt.Errorf("write %s: %w", st.Path, err)
	}
	return cw.n, st.Size, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (t *Tree) pair(src, dst string) (string, string, error) {
	s, err := CleanPath(src)
	if err != nil {
		return "", "", err
	}
	d, err := CleanPath(dst)
	if err != nil {
		return "", "", err
	}
	if s == d {
		return "", "", common.BadRequestf("source and destination are the same")
	}
	if within(d, s) {
		return "", "", common.BadRequestf("destination %s is inside %s", d, s)
	}
	if _, err := os.Stat(t.abs(s)); err != nil {
		return "", "", statErr(s, err)
	}
	if _, err := t.checkTarget(d, false); err != nil {
		return "", "", err
	}
	return s, d, nil
}

// Move renames src to dst. dst must not exist; its parents are created.
func (t *Tree) Move(src, dst string) error {
	s, d, err := t.pair(src, dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.abs(d)), 0o770); err != nil {
		return err
	}
	return os.Rename(t.abs(s), t.abs(d))
}

// Copy duplicates a file or directory and returns the bytes copied.
func (t *Tree) Copy(src, dst string) (int64, error) {
	s, d, err := t.pair(src, dst)
	if err != nil {
		return 0, err
	}

	var total int64
	err = filepath.WalkDir(t.abs(s), func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(t.abs(s), p)
		if err != nil {
			return err
		}
		target := filepath.Join(t.abs(d), rel)
		if e.IsDir() {
			return os.MkdirAll(target, 0o770)
		}
		if !e.Type().IsRegular() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := filex.WriteAtomic(t.temp, target, f)
		total += n
		return err
	})
	if err != nil {
		return total, fmt.Errorf("copy %s: %w", s, err)
	}
	return total, nil
}

// Delete removes a file, or a directory recursively, and returns the bytes
// of regular files removed.
func (t *Tree) Delete(p string) (int64, error) {
	clean, abs, err := t.resolve(p)
	if err != nil {
		return 0, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return 0, statErr(clean, err)
	}
	size := fi.Size()
	if fi.IsDir() {
		if size, err = filex.DirSize(abs, nil); err != nil {
			return 0, err
		}
	}
	if err := os.RemoveAll(abs); err != nil {
		return 0, fmt.Errorf("delete %s: %w", clean, err)
	}
	return size, nil
}

// Hash is the hex SHA-256 of a file's content.
func (t *Tree) Hash(p string) (string, error) {
	f, _, err := t.OpenRead(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sum, _, err := cryptox.SHA256Hex(f)
	return sum, err
}

// ChecksumTree lists every regular file below the root with its md5, sorted
// by path. skip, when set, excludes files by relative path.
func (t *Tree) ChecksumTree(skip func(rel string) bool) ([]Checksum, error) {
	out := []Checksum{}
	err := filepath.WalkDir(t.root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			if p == t.root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if !e.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(t.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if skip != nil && skip(rel) {
			return nil
		}
		sum, err := cryptox.MD5File(p)
		if err != nil {
			return err
		}
		out = append(out, Checksum{MD5: sum, Path: rel})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Size sums the regular files of the tree.
// SizeOf is the size of the file at p or the total of the files under it.
func (t *Tree) SizeOf(p string) (int64, error) {
	st, err := t.Stat(p)
	if err != nil {
		return 0, err
	}
	if st.IsFile {
		return st.Size, nil
	}
	return filex.DirSize(t.abs(st.Path), nil)
}

func (t *Tree) Size() (int64, error) {
	return filex.DirSize(t.root, nil)
}
