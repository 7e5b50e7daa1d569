package filestore

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/cryptox"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"
)

var ns = models.Namespace{UserDID: "did:U", AppDID: "did:A"}

func newTree(t *testing.T) (*Store, *Tree) {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	tr, err := s.Files(ns)
	require.NoError(t, err)
	return s, tr
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"/a/b.txt", "a/b.txt", true},
		{"a/b/", "a/b", true},
		{"", "", false},
		{"/", "", false},
		{"a//b", "", false},
		{"a/../b", "", false},
		{"./a", "", false},
	}
	for _, tt := range tests {
		got, err := CleanPath(tt.in)
		if tt.ok {
			require.NoError(t, err, tt.in)
			assert.Equal(t, tt.want, got)
		} else {
			assert.ErrorIs(t, err, common.ErrorBadRequest, tt.in)
		}
	}
}

func TestWriteStatRead(t *testing.T) {
	_, tr := newTree(t)

	data := frand.Bytes(1234)
	n, prev, err := tr.Write("/avatars/u1.png", bytes.NewReader(data))
	require.NoError(t, err)
	assert.EqualValues(t, 1234, n)
	assert.Zero(t, prev)

	st, err := tr.Stat("avatars/u1.png")
	require.NoError(t, err)
	assert.True(t, st.IsFile)
	assert.EqualValues(t, 1234, st.Size)

	n, prev, err = tr.Write("avatars/u1.png", strings.NewReader("abc"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.EqualValues(t, 1234, prev)

	f, _, err := tr.OpenRead("avatars/u1.png")
	require.NoError(t, err)
	got, _ := io.ReadAll(f)
	f.Close()
	assert.Equal(t, "abc", string(got))

	dir, err := tr.Stat("avatars")
	require.NoError(t, err)
	assert.False(t, dir.IsFile)

	_, err = tr.Stat("nope")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	// no temp files left behind
	entries, err := os.ReadDir(tr.temp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWrite_FileDirectoryClash(t *testing.T) {
	_, tr := newTree(t)
	_, _, err := tr.Write("a/b", strings.NewReader("x"))
	require.NoError(t, err)

	_, _, err = tr.Write("a", strings.NewReader("x"))
	assert.ErrorIs(t, err, common.ErrorConflict)

	_, _, err = tr.Write("a/b/c", strings.NewReader("x"))
	assert.ErrorIs(t, err, common.ErrorConflict)
}

func TestList(t *testing.T) {
	_, tr := newTree(t)

	root, err := tr.List("")
	require.NoError(t, err)
	assert.Empty(t, root)

	_, _, _ = tr.Write("d/x", strings.NewReader("12"))
	_, _, _ = tr.Write("d/y/z", strings.NewReader("3"))

	children, err := tr.List("/d")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "d/x", children[0].Path)
	assert.True(t, children[0].IsFile)
	assert.Equal(t, "d/y", children[1].Path)
	assert.False(t, children[1].IsFile)

	_, err = tr.List("d/x")
	assert.ErrorIs(t, err, common.ErrorBadRequest)
	_, err = tr.List("missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMove(t *testing.T) {
	_, tr := newTree(t)
	_, _, err := tr.Write("a", strings.NewReader("hello"))
	require.NoError(t, err)
	want, err := tr.Hash("a")
	require.NoError(t, err)

	require.NoError(t, tr.Move("a", "x/y/b"))

	_, err = tr.Stat("a")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	got, err := tr.Hash("x/y/b")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.ErrorIs(t, tr.Move("x/y/b", "x/y/b"), common.ErrorBadRequest)
	assert.ErrorIs(t, tr.Move("x", "x/inner"), common.ErrorBadRequest)
	assert.ErrorIs(t, tr.Move("missing", "z"), common.ErrorNotFound)

	_, _, _ = tr.Write("c", strings.NewReader("c"))
	assert.ErrorIs(t, tr.Move("c", "x/y/b"), common.ErrorConflict)
}

func TestCopyDelete(t *testing.T) {
	_, tr := newTree(t)
	_, _, _ = tr.Write("d/1", strings.NewReader("aa"))
	_, _, _ = tr.Write("d/e/2", strings.NewReader("bbb"))

	n, err := tr.Copy("d", "copy")
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	_, err = tr.Copy("d", "copy")
	assert.ErrorIs(t, err, common.ErrorConflict)

	st, err := tr.Stat("copy/e/2")
	require.NoError(t, err)
	assert.EqualValues(t, 3, st.Size)

	removed, err := tr.Delete("d")
	require.NoError(t, err)
	assert.EqualValues(t, 5, removed)

	removed, err = tr.Delete("copy/1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	_, err = tr.Delete("d")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRewrite(t *testing.T) {
	_, tr := newTree(t)
	_, _, _ = tr.Write("f", strings.NewReader("base"))

	n, prev, err := tr.Rewrite("f", func(base *os.File, w io.Writer) error {
		b, err := io.ReadAll(base)
		if err != nil {
			return err
		}
		_, err = w.Write(append(b, "+more"...))
		return err
	})
	require.NoError(t, err)
	assert.EqualValues(t, 9, n)
	assert.EqualValues(t, 4, prev)

	_, _, err = tr.Rewrite("f", func(*os.File, io.Writer) error { return errors.New("boom") })
	require.Error(t, err)
	f, _, _ := tr.OpenRead("f")
	b, _ := io.ReadAll(f)
	f.Close()
	assert.Equal(t, "base+more", string(b))
}

func TestChecksumTreeAndSizes(t *testing.T) {
	s, tr := newTree(t)
	_, _, _ = tr.Write("b", strings.NewReader("bb"))
	_, _, _ = tr.Write("a/c", strings.NewReader("ccc"))

	user, err := s.UserTree(ns.UserDID)
	require.NoError(t, err)
	_, _, err = user.Write(ns.AppDID+"/"+common.ArchiveFileName, strings.NewReader("{}\n"))
	require.NoError(t, err)

	sums, err := user.ChecksumTree(nil)
	require.NoError(t, err)
	require.Len(t, sums, 3)
	assert.Equal(t, "did:A/database.archive", sums[0].Path)
	assert.Equal(t, "did:A/files/a/c", sums[1].Path)
	wantMD5, _, _ := cryptox.MD5Hex(strings.NewReader("ccc"))
	assert.Equal(t, wantMD5, sums[1].MD5)

	onlyFiles, err := user.ChecksumTree(func(rel string) bool { return !IsAppFile(rel) })
	require.NoError(t, err)
	assert.Len(t, onlyFiles, 2)

	size, err := s.UserFileSize(ns.UserDID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)

	total, err := user.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 8, total)

	none, err := s.UserFileSize("did:nobody")
	require.NoError(t, err)
	assert.Zero(t, none)
}

func TestPromoteBackup(t *testing.T) {
	s, tr := newTree(t)
	_, _, _ = tr.Write("old", strings.NewReader("old"))

	b, err := s.BackupTree(ns.UserDID)
	require.NoError(t, err)
	_, _, err = b.Write(ns.AppDID+"/files/new", strings.NewReader("new"))
	require.NoError(t, err)

	require.NoError(t, s.PromoteBackup(ns.UserDID))

	_, err = tr.Stat("old")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = tr.Stat("new")
	assert.NoError(t, err)
	_, err = os.Stat(b.Root())
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, s.PromoteBackup(ns.UserDID), common.ErrorNotFound)
	assert.ErrorIs(t, s.PromoteBackup("../x"), common.ErrorBadRequest)

	users, err := s.Users()
	require.NoError(t, err)
	assert.Equal(t, []string{ns.UserDID}, users)
}
