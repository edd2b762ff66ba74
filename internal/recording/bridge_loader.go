package recording

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/spikesort/internal/fsutil"
)

// CacheDirName is the folder, inside a recording folder, that receives the
// binary exports of the acquisition files.
const CacheDirName = ".spikesort_cache"

// Runner executes one bridge verb and returns its stdout.
type Runner interface {
	Run(ctx context.Context, verb string, args ...string) ([]byte, error)
}

// BridgeLoader exports a stream of split acquisition files to a binary
// folder through the external bridge, then reads that folder.
type BridgeLoader struct {
	Bridge Runner
	FS     fsutil.FileSystem
}

// Load implements Loader.
func (l BridgeLoader) Load(ctx context.Context, folder, stream string) (Stream, error) {
	fsys := l.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	out := filepath.Join(folder, CacheDirName, Slug(stream))
	if err := fsutil.ResetDir(fsys, out); err != nil {
		return nil, &LoadError{Folder: folder, Stream: stream, Err: err}
	}
	_, err := l.Bridge.Run(ctx, "export-stream",
		"--folder", folder,
		"--stream", stream,
		"--mode", "concatenate",
		"--out", out,
	)
	if err != nil {
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "not in") {
			err = fmt.Errorf("%w: %v", ErrStreamNotFound, err)
		}
		return nil, &LoadError{Folder: folder, Stream: stream, Err: err}
	}
	return BinaryFolderLoader{FS: fsys}.Load(ctx, filepath.Join(folder, CacheDirName), stream)
}
