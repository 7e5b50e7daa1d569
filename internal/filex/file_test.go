package filex

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureDir_CreatesNested(t *testing.T) {
	tmp := t.TempDir()

	got, err := EnsureDir(filepath.Join(tmp, "a", "b"))
	require.NoError(t, err)

	fi, err := os.Stat(got)
	require.NoError(t, err)
	require.True(t, fi.IsDir())

	again, err := EnsureDir(filepath.Join(tmp, "a", "b"))
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestWriteAtomic_CreatesParentsAndLeavesNoTemp(t *testing.T) {
	root := t.TempDir()
	temp := filepath.Join(root, ".temp")
	require.NoError(t, os.MkdirAll(temp, 0o700))

	target := filepath.Join(root, "app", "files", "x", "y.bin")
	n, err := WriteAtomic(temp, target, strings.NewReader("payload"))
	require.NoError(t, err)
	require.Equal(t, int64(7), n)

	b, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "payload", string(b))

	entries, err := os.ReadDir(temp)
	require.NoError(t, err)
	require.Empty(t, entries)
}

type failingReader struct{ n int }

func (f *failingReader) Read(p []byte) (int, error) {
	if f.n == 0 {
		return 0, errors.New("connection reset")
	}
	f.n--
	p[0] = 'x'
	return 1, nil
}

func TestWriteAtomic_FailureKeepsOldContent(t *testing.T) {
	root := t.TempDir()
	temp := filepath.Join(root, ".temp")
	require.NoError(t, os.MkdirAll(temp, 0o700))
	target := filepath.Join(root, "f")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o600))

	_, err := WriteAtomic(temp, target, &failingReader{n: 3})
	require.Error(t, err)

	b, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "old", string(b))

	entries, err := os.ReadDir(temp)
	require.NoError(t, err)
	require.Empty(t, entries, "temp file must be removed")
}

func TestAtomicFile_CommitTwiceFails(t *testing.T) {
	root := t.TempDir()
	a, err := CreateAtomic(root, filepath.Join(root, "out"))
	require.NoError(t, err)
	_, err = a.Write([]byte("1"))
	require.NoError(t, err)
	require.NoError(t, a.Commit())
	require.Error(t, a.Commit())
	require.NoError(t, a.Close())

	b, err := os.ReadFile(filepath.Join(root, "out"))
	require.NoError(t, err)
	require.True(t, bytes.Equal(b, []byte("1")))
}

func TestDirSize_Filter(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "files"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "files", "f1"), make([]byte, 10), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "database.archive"), make([]byte, 5), 0o600))

	all, err := DirSize(root, nil)
	require.NoError(t, err)
	require.Equal(t, int64(15), all)

	files, err := DirSize(root, func(rel string) bool { return strings.Contains(rel, "/files/") })
	require.NoError(t, err)
	require.Equal(t, int64(10), files)

	missing, err := DirSize(filepath.Join(root, "nope"), nil)
	require.NoError(t, err)
	require.Zero(t, missing)
}
