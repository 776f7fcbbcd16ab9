package nsfs

import (
	"bazil.org/fuse/fs"
)

// Node is any filesystem node, file or directory.
type Node interface {
	fs.Node
	fs.NodeSetattrer
}

// Directory is a node that also supports the directory-shaped callbacks:
// lookup, readdir, mkdir, remove (covers both unlink and rmdir), rename,
// and create (for files created directly under it).
type Directory interface {
	Node
	fs.NodeStringLookuper
	fs.HandleReadDirAller
	fs.NodeMkdirer
	fs.NodeRemover
	fs.NodeRenamer
	fs.NodeCreater
}

// FileInterface is a node that also supports opening and fsyncing.
type FileInterface interface {
	Node
	fs.NodeOpener
	fs.NodeFsyncer
}

// FileHandleInterface is an open file handle: readable, writable, and
// releasable.
type FileHandleInterface interface {
	fs.Handle
	fs.HandleReader
	fs.HandleWriter
	fs.HandleReleaser
}
