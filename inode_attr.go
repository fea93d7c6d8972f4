//go:build fuse

package squashfs

import (
	"github.com/hanwen/go-fuse/v2/fuse"
)

// FillAttr populates a FUSE attribute struct from this inode, used by the
// mount adapter in sink_fuse.go.
func (i *Inode) FillAttr(attr *fuse.Attr) error {
	attr.Size = i.Size
	attr.Blocks = uint64(len(i.Blocks)) + 1
	attr.Mode = ModeToUnix(i.Mode())
	attr.Nlink = i.NLink
	attr.Rdev = i.Rdev
	attr.Atime = uint64(i.ModTime)
	attr.Mtime = uint64(i.ModTime)
	attr.Ctime = uint64(i.ModTime)
	return nil
}
