//go:build fuse

package squashfs

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// fuseNode bridges an Inode into go-fuse/v2's high-level node API. It
// replaces the private glue the original Inode.Lookup/ReadDir/FillAttr
// trio (inode_fuse.go) depended on to back a real mount.
type fuseNode struct {
	fs.Inode
	ino *Inode
}

var (
	_ fs.NodeLookuper   = (*fuseNode)(nil)
	_ fs.NodeReaddirer  = (*fuseNode)(nil)
	_ fs.NodeGetattrer  = (*fuseNode)(nil)
	_ fs.NodeOpener     = (*fuseNode)(nil)
	_ fs.NodeReader     = (*fuseNode)(nil)
	_ fs.NodeReadlinker = (*fuseNode)(nil)
)

// Mount exposes an opened image as a read-only FUSE filesystem at
// mountpoint, using the root inode as the mount's root node.
func Mount(sb *Superblock, mountpoint string, opts *fs.Options) (*fuse.Server, error) {
	root, err := sb.Root()
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &fs.Options{}
	}
	opts.MountOptions.ReadOnly = true
	server, err := fs.Mount(mountpoint, &fuseNode{ino: root}, opts)
	if err != nil {
		return nil, err
	}
	return server, nil
}

func (n *fuseNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child, err := n.ino.LookupRelativeInode(ctx, name)
	if err != nil {
		return nil, fs.ToErrno(err)
	}
	child.FillAttr(&out.Attr)
	node := &fuseNode{ino: child}
	return n.NewInode(ctx, node, fs.StableAttr{Mode: uint32(child.Mode())}), 0
}

func (n *fuseNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	dr, err := n.ino.sb.dirReader(n.ino, nil)
	if err != nil {
		return nil, fs.ToErrno(err)
	}
	return &fuseDirStream{dr: dr, sb: n.ino.sb}, 0
}

func (n *fuseNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if err := n.ino.FillAttr(&out.Attr); err != nil {
		return fs.ToErrno(err)
	}
	return 0
}

func (n *fuseNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if n.ino.IsDir() {
		return nil, 0, syscall.EISDIR
	}
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *fuseNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	nr, err := n.ino.ReadAt(dest, off)
	if err != nil && nr == 0 {
		return nil, fs.ToErrno(err)
	}
	return fuse.ReadResultData(dest[:nr]), 0
}

func (n *fuseNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.ino.Readlink()
	if err != nil {
		return nil, fs.ToErrno(err)
	}
	return target, 0
}

type fuseDirStream struct {
	dr   *dirReader
	sb   *Superblock
	next fuse.DirEntry
	ok   bool
}

func (s *fuseDirStream) HasNext() bool {
	if s.ok {
		return true
	}
	name, typ, _, err := s.dr.nextfull()
	if err != nil {
		return false
	}
	s.next = fuse.DirEntry{Name: name, Mode: uint32(typ.Mode())}
	s.ok = true
	return true
}

func (s *fuseDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	s.ok = false
	return s.next, 0
}

func (s *fuseDirStream) Close() {}
