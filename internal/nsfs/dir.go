package nsfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"

	"bindns/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var dirLogger = logging.GetLogger().WithPrefix("dir")

// Dir is a directory node addressed by its virtual path. Every operation
// resolves through the driver's Resolver; Dir itself holds no state beyond
// the path.
type Dir struct {
	driver      *Driver
	virtualPath string
}

// Attr implements fusefs.Node.
func (d *Dir) Attr(_ context.Context, a *fuse.Attr) error {
	dirLogger.Trace("attr %q", d.virtualPath)

	backing, err := d.driver.resolver.Resolve(d.virtualPath)
	if err != nil {
		if d.virtualPath == "/" {
			a.Mode = os.ModeDir | 0o755
			a.Uid = d.driver.uid
			a.Gid = d.driver.gid
			a.Inode = rootInode
			return nil
		}
		return ToFuseError(err)
	}

	info, statErr := os.Stat(backing)
	if statErr != nil {
		return ToFuseError(New(OpGetattr, d.virtualPath, KindNotFound, statErr))
	}
	applyAttr(a, info, d.driver.uid, d.driver.gid)
	a.Inode = d.driver.inodeFor(d.virtualPath)
	return nil
}

// Lookup implements fusefs.NodeStringLookuper.
func (d *Dir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	childPath := filepath.Join(d.virtualPath, name)
	dirLogger.Debug("lookup %q in %q", name, d.virtualPath)

	backing, err := d.driver.resolver.Resolve(childPath)
	if err != nil {
		return nil, ToFuseError(err)
	}

	info, statErr := os.Stat(backing)
	if statErr != nil {
		return nil, ToFuseError(New(OpLookup, childPath, KindNotFound, statErr))
	}
	if info.IsDir() {
		return &Dir{driver: d.driver, virtualPath: childPath}, nil
	}
	return &File{driver: d.driver, virtualPath: childPath}, nil
}

// ReadDirAll implements fusefs.HandleReadDirAller.
func (d *Dir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	dirLogger.Debug("readdir %q", d.virtualPath)

	entries, err := d.driver.resolver.Enumerate(d.virtualPath)
	if err != nil {
		return nil, ToFuseError(err)
	}

	out := make([]fuse.Dirent, 0, len(entries)+2)
	out = append(out, fuse.Dirent{Name: ".", Type: fuse.DT_Dir})
	out = append(out, fuse.Dirent{Name: "..", Type: fuse.DT_Dir})
	for _, e := range entries {
		typ := fuse.DT_File
		if e.Info.IsDir() {
			typ = fuse.DT_Dir
		}
		out = append(out, fuse.Dirent{Name: e.Name, Type: typ})
	}
	return out, nil
}

// backingParentDir resolves the highest-priority backing whose parent
// directory already exists, per spec §4.2's write-target rule, for Mkdir
// and Create. Remove resolves the child path itself instead.
func (d *Dir) backingParentDir() (string, error) {
	backing, err := d.driver.resolver.Resolve(d.virtualPath)
	if err != nil {
		return "", err
	}
	return backing, nil
}

// Mkdir implements fusefs.NodeMkdirer: creates the directory under the
// highest-priority backing whose parent already exists.
func (d *Dir) Mkdir(_ context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	dirLogger.Info("mkdir %q in %q", req.Name, d.virtualPath)

	parentBacking, err := d.backingParentDir()
	if err != nil {
		return nil, ToFuseError(err)
	}
	newBacking := filepath.Join(parentBacking, req.Name)
	if err := os.Mkdir(newBacking, req.Mode.Perm()); err != nil {
		if os.IsExist(err) {
			return nil, ToFuseError(New(OpMkdir, newBacking, KindAlreadyExists, err))
		}
		return nil, ToFuseError(New(OpMkdir, newBacking, KindCreateFailed, err))
	}

	childPath := filepath.Join(d.virtualPath, req.Name)
	return &Dir{driver: d.driver, virtualPath: childPath}, nil
}

// Create implements fusefs.NodeCreater: creates a new file under the
// highest-priority backing whose parent already exists.
func (d *Dir) Create(_ context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	dirLogger.Info("create %q in %q", req.Name, d.virtualPath)

	parentBacking, err := d.backingParentDir()
	if err != nil {
		return nil, nil, ToFuseError(err)
	}
	newBacking := filepath.Join(parentBacking, req.Name)

	f, err := os.OpenFile(newBacking, int(req.Flags)|os.O_CREATE, req.Mode.Perm())
	if err != nil {
		return nil, nil, ToFuseError(New(OpCreate, newBacking, KindCreateFailed, err))
	}

	childPath := filepath.Join(d.virtualPath, req.Name)
	node := &File{driver: d.driver, virtualPath: childPath}
	handle := &FileHandle{file: f, virtualPath: childPath}
	return node, handle, nil
}

// Remove implements fusefs.NodeRemover: unlinks or rmdirs the resolved
// backing entry.
func (d *Dir) Remove(_ context.Context, req *fuse.RemoveRequest) error {
	dirLogger.Info("remove %q from %q (dir=%v)", req.Name, d.virtualPath, req.Dir)

	childPath := filepath.Join(d.virtualPath, req.Name)
	backing, err := d.driver.resolver.Resolve(childPath)
	if err != nil {
		return ToFuseError(err)
	}

	if req.Dir {
		if err := os.Remove(backing); err != nil {
			if isNotEmpty(err) {
				return ToFuseError(New(OpRemove, backing, KindDirectoryNotEmpty, err))
			}
			return ToFuseError(New(OpRemove, backing, KindNotFound, err))
		}
		return nil
	}
	if err := os.Remove(backing); err != nil {
		return ToFuseError(New(OpRemove, backing, KindNotFound, err))
	}
	return nil
}

func isNotEmpty(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ENOTEMPTY
	}
	return false
}

// Rename implements fusefs.NodeRenamer. Both endpoints must resolve into
// the same backing directory tree; a rename that would cross backings
// fails with EXDEV per spec §4.2.
func (d *Dir) Rename(_ context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		return syscall.EINVAL
	}

	oldPath := filepath.Join(d.virtualPath, req.OldName)
	newPath := filepath.Join(target.virtualPath, req.NewName)
	dirLogger.Info("rename %q -> %q", oldPath, newPath)

	oldBacking, oldRoot, err := d.driver.resolver.ResolveEntry(oldPath)
	if err != nil {
		return ToFuseError(err)
	}
	newParentBacking, newRoot, err := d.driver.resolver.ResolveEntry(target.virtualPath)
	if err != nil {
		return ToFuseError(err)
	}
	newBacking := filepath.Join(newParentBacking, req.NewName)

	if oldRoot != newRoot {
		return ToFuseError(New(OpRename, newPath, KindCrossDevice, errCrossDevice))
	}

	if err := os.Rename(oldBacking, newBacking); err != nil {
		return ToFuseError(New(OpRename, newPath, KindNotFound, err))
	}
	return nil
}

var errCrossDevice = plainError("rename target resolves to a different backing directory")
