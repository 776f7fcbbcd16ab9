package nsfs

import (
	"context"
	"io"
	"os"
	"sync"

	"bindns/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var fileLogger = logging.GetLogger().WithPrefix("file")

// File is a file node addressed by its virtual path.
type File struct {
	driver      *Driver
	virtualPath string
}

// Attr implements fusefs.Node.
func (f *File) Attr(_ context.Context, a *fuse.Attr) error {
	backing, err := f.driver.resolver.Resolve(f.virtualPath)
	if err != nil {
		return ToFuseError(err)
	}
	info, statErr := os.Stat(backing)
	if statErr != nil {
		return ToFuseError(New(OpGetattr, f.virtualPath, KindNotFound, statErr))
	}
	applyAttr(a, info, f.driver.uid, f.driver.gid)
	a.Inode = f.driver.inodeFor(f.virtualPath)
	return nil
}

// Open implements fusefs.NodeOpener.
func (f *File) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	backing, err := f.driver.resolver.Resolve(f.virtualPath)
	if err != nil {
		return nil, ToFuseError(err)
	}

	fileLogger.Debug("open %q flags=%v", f.virtualPath, req.Flags)
	file, openErr := os.OpenFile(backing, int(req.Flags), 0)
	if openErr != nil {
		return nil, ToFuseError(New(OpOpen, backing, KindNotFound, openErr))
	}

	resp.Flags |= fuse.OpenDirectIO
	return &FileHandle{file: file, virtualPath: f.virtualPath}, nil
}

// Fsync implements fusefs.NodeFsyncer.
func (f *File) Fsync(_ context.Context, req *fuse.FsyncRequest) error {
	backing, err := f.driver.resolver.Resolve(f.virtualPath)
	if err != nil {
		return ToFuseError(err)
	}
	file, openErr := os.OpenFile(backing, os.O_RDONLY, 0)
	if openErr != nil {
		return ToFuseError(New(OpSetattr, backing, KindNotFound, openErr))
	}
	defer file.Close()
	return file.Sync()
}

// FileHandle is an open backing file handle.
type FileHandle struct {
	file        *os.File
	virtualPath string
	mu          sync.RWMutex
}

// Read implements fusefs.HandleReader.
func (fh *FileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fh.mu.RLock()
	defer fh.mu.RUnlock()

	fileLogger.Trace("read %q size=%d offset=%d", fh.virtualPath, req.Size, req.Offset)
	resp.Data = make([]byte, req.Size)
	n, err := fh.file.ReadAt(resp.Data, req.Offset)
	if err != nil && err != io.EOF {
		return ToFuseError(New(OpRead, fh.virtualPath, KindNotFound, err))
	}
	resp.Data = resp.Data[:n]
	return nil
}

// Write implements fusefs.HandleWriter.
func (fh *FileHandle) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	fileLogger.Trace("write %q size=%d offset=%d", fh.virtualPath, len(req.Data), req.Offset)
	n, err := fh.file.WriteAt(req.Data, req.Offset)
	if err != nil {
		return ToFuseError(New(OpWrite, fh.virtualPath, KindNotFound, err))
	}
	resp.Size = n
	return nil
}

// Release implements fusefs.HandleReleaser.
func (fh *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	fileLogger.Debug("release %q", fh.virtualPath)
	return fh.file.Close()
}
