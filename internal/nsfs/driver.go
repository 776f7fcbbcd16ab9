package nsfs

import (
	"fmt"
	"os"
	"sync"
	"time"

	"bindns/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"golang.org/x/sys/unix"
)

var driverLogger = logging.GetLogger().WithPrefix("driver")

// Driver implements fusefs.FS over a Resolver: it is the bazil.org/fuse
// entry point a session process mounts at its mount point. All path
// resolution flows through resolver; the driver itself only owns inode
// bookkeeping and the live fuse.Conn.
type Driver struct {
	resolver   *Resolver
	mountPoint string
	uid, gid   uint32
	conn       *fuse.Conn

	inodeMu     sync.Mutex
	nextInode   uint64
	pathToInode map[string]uint64
	inodeToPath map[uint64]string
}

// rootInode is always assigned to the mount point itself.
const rootInode uint64 = 1

// NewDriver constructs a Driver over resolver, mounted at mountPoint.
func NewDriver(resolver *Resolver, mountPoint string) *Driver {
	uid := safeIntToUint32(os.Getuid())
	gid := safeIntToUint32(os.Getgid())

	d := &Driver{
		resolver:    resolver,
		mountPoint:  mountPoint,
		uid:         uid,
		gid:         gid,
		nextInode:   rootInode,
		pathToInode: make(map[string]uint64),
		inodeToPath: make(map[uint64]string),
	}
	d.pathToInode["/"] = rootInode
	d.inodeToPath[rootInode] = "/"
	return d
}

// Root implements fusefs.FS.
func (d *Driver) Root() (fusefs.Node, error) {
	return &Dir{driver: d, virtualPath: "/"}, nil
}

// inodeFor returns the inode assigned to virtualPath, allocating a new one
// (monotonically, never recycled) the first time the path is surfaced.
func (d *Driver) inodeFor(virtualPath string) uint64 {
	d.inodeMu.Lock()
	defer d.inodeMu.Unlock()

	if ino, ok := d.pathToInode[virtualPath]; ok {
		return ino
	}
	d.nextInode++
	ino := d.nextInode
	d.pathToInode[virtualPath] = ino
	d.inodeToPath[ino] = virtualPath
	return ino
}

func waitForMount(mountPoint string) error {
	for i := 0; i < 30; i++ {
		if info, err := os.Stat(mountPoint); err == nil && info.IsDir() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("mount point not available after 3 seconds")
}

// Mount mounts the driver at its mount point and serves FUSE requests on a
// background goroutine until the connection closes.
func (d *Driver) Mount() error {
	driverLogger.Info("mounting at %s", d.mountPoint)

	mountOpts := []fuse.MountOption{
		fuse.FSName("bindns"),
		fuse.Subtype("bindns"),
		fuse.AllowOther(),
		fuse.DefaultPermissions(),
		fuse.AsyncRead(),
		fuse.AllowNonEmptyMount(),
	}

	conn, err := fuse.Mount(d.mountPoint, mountOpts...)
	if err != nil {
		return New(OpGetattr, d.mountPoint, KindMountFailed, err)
	}
	d.conn = conn

	go func() {
		if err := fusefs.Serve(conn, d); err != nil {
			driverLogger.Error("fuse server exited: %v", err)
		}
	}()

	if err := waitForMount(d.mountPoint); err != nil {
		conn.Close()
		return New(OpGetattr, d.mountPoint, KindMountFailed, err)
	}

	driverLogger.Info("mounted successfully at %s", d.mountPoint)
	return nil
}

// Unmount tears the FUSE mount down. With force=false a plain unmount is
// attempted and its error (typically EBUSY when files are still open) is
// returned unchanged, per spec §4.6/§8 invariant 8. With force=true, a
// failed plain unmount falls back to a lazy detach (MNT_DETACH) which
// succeeds regardless of open handles — those handles start returning
// ESTALE/EIO on their next syscall, which is the documented cost of a
// forced unmount.
func (d *Driver) Unmount(force bool) error {
	driverLogger.Info("unmounting %s (force=%v)", d.mountPoint, force)
	err := fuse.Unmount(d.mountPoint)
	if err != nil && force {
		driverLogger.Warn("plain unmount failed (%v), falling back to lazy detach", err)
		err = unix.Unmount(d.mountPoint, unix.MNT_DETACH)
	}
	if err != nil {
		return err
	}
	if d.conn != nil {
		d.conn.Close()
	}
	return nil
}

// applyAttr copies host attributes onto a, the shared logic behind both
// Dir.Attr and File.Attr.
func applyAttr(a *fuse.Attr, info os.FileInfo, uid, gid uint32) {
	a.Mode = info.Mode()
	a.Size = safeInt64ToUint64(info.Size())
	a.Mtime = info.ModTime()
	a.Atime = info.ModTime()
	a.Ctime = info.ModTime()
	a.Uid = uid
	a.Gid = gid
	a.BlockSize = 4096
	a.Blocks = safeInt64ToUint64((info.Size() + 511) / 512)
}
