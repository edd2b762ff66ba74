package fsutil

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetDir_RemovesPreviousRunOutput(t *testing.T) {
	mfs := NewMemoryFileSystem()
	require.NoError(t, WriteFileIn(mfs, "/rec/Sorting_pipeline_tdc/old/sorting.json", []byte("{}")))
	require.NoError(t, WriteFileIn(mfs, "/rec/Sorting_pipeline_tdc/log.txt", []byte("x")))
	require.NoError(t, WriteFileIn(mfs, "/rec/keep.txt", []byte("keep")))

	require.NoError(t, ResetDir(mfs, "/rec/Sorting_pipeline_tdc"))

	assert.Empty(t, mfs.Files("/rec/Sorting_pipeline_tdc"))
	assert.True(t, mfs.Exists("/rec/Sorting_pipeline_tdc"))
	assert.True(t, mfs.Exists("/rec/keep.txt"))
}

func TestResetDir_EmptyPath(t *testing.T) {
	assert.Error(t, ResetDir(NewMemoryFileSystem(), ""))
}

func TestResetDir_OS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Analyzer_binary_pipeline_tdc")
	fsys := OSFileSystem{}
	require.NoError(t, WriteFileIn(fsys, filepath.Join(dir, "stale.json"), []byte("{}")))

	require.NoError(t, ResetDir(fsys, dir))

	assert.True(t, fsys.Exists(dir))
	assert.False(t, fsys.Exists(filepath.Join(dir, "stale.json")))
}

func TestMemoryFileSystem_CreateOpenRoundTrip(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, err := mfs.Create("/out/report.pdf")
	require.NoError(t, err)
	_, err = w.Write([]byte("%PDF-"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := mfs.Open("/out/report.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(data))

	info, err := mfs.Stat("/out/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())
	assert.False(t, info.IsDir())
}

func TestMemoryFileSystem_MissingFile(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_, err := mfs.ReadFile("/nope")
	assert.Error(t, err)
	_, err = mfs.Open("/nope")
	assert.Error(t, err)
	_, err = mfs.Stat("/nope")
	assert.Error(t, err)
	assert.False(t, mfs.Exists("/nope"))
}

func TestMemoryFileSystem_ReadFileReturnsCopy(t *testing.T) {
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/a", []byte("abc"), 0644))

	data, err := mfs.ReadFile("/a")
	require.NoError(t, err)
	data[0] = 'z'

	again, err := mfs.ReadFile("/a")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestMemoryFileSystem_MkdirAllMarksParents(t *testing.T) {
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("/a/b/c", 0755))

	for _, p := range []string{"/a", "/a/b", "/a/b/c"} {
		info, err := mfs.Stat(p)
		require.NoError(t, err, p)
		assert.True(t, info.IsDir(), p)
	}
}
