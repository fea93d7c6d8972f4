package squashfs

import (
	"context"
	"encoding/binary"
	"io"
	"io/fs"
	"strings"
	"sync/atomic"
)

// noXattr is the sentinel XattrIdx value an inode carries when it has no
// extended attributes (or when its type doesn't carry an xattr index at
// all; the field is left at this value in that case too).
const noXattr = 0xffffffff

// noFragment is the sentinel FragBlock value meaning "this file's last
// block is a full block, not a fragment tail".
const noFragment = 0xffffffff

// Block-size word flags: bit24 marks a data block as stored verbatim
// (not run through the image's codec), bit25 marks it incompressible
// (packer tried and gave up, also stored verbatim). Both mean "don't
// decompress"; a 0-valued size, handled separately, means "sparse hole".
const (
	blockSizeUncompressedFlag = 1 << 24
	blockSizeIncompressibleFlag = 1 << 25
)

// Inode is a decoded SquashFS inode: the fixed common header plus
// whichever of the ten variant bodies its Type selected.
type Inode struct {
	// refcnt is first to keep 64-bit alignment for sync/atomic on 32-bit
	// platforms.
	refcnt uint64

	sb *Superblock

	Type    uint16
	Perm    uint16
	UidIdx  uint16
	GidIdx  uint16
	ModTime int32
	Ino     uint32

	StartBlock uint64
	NLink      uint32
	Size       uint64 // meaning depends on Type; see the per-variant comments below
	Offset     uint32
	ParentIno  uint32
	SymTarget  []byte
	IdxCount   uint16
	XattrIdx   uint32
	Sparse     uint64
	Rdev       uint32 // device ids for the four device variants (basic/extended block and char)

	FragBlock uint32
	FragOfft  uint32

	Blocks     []uint32
	BlocksOfft []uint64
}

// GetInodeRef decodes the inode whose reference is inor: a metadata block
// offset from InodeTableStart plus an in-block byte offset.
func (sb *Superblock) GetInodeRef(inor inodeRef) (*Inode, error) {
	r, err := sb.newMetaReaderAt(int64(sb.InodeTableStart)+int64(inor.Index()), int(inor.Offset()))
	if err != nil {
		return nil, err
	}

	ino := &Inode{sb: sb, XattrIdx: noXattr, FragBlock: noFragment}

	for _, f := range []interface{}{&ino.Type, &ino.Perm, &ino.UidIdx, &ino.GidIdx, &ino.ModTime, &ino.Ino} {
		if err := binary.Read(r, sb.order, f); err != nil {
			return nil, err
		}
	}

	switch ino.Type {
	case uint16(DirType):
		if err := readBasicDir(r, sb, ino); err != nil {
			return nil, err
		}
	case uint16(XDirType):
		if err := readExtDir(r, sb, ino); err != nil {
			return nil, err
		}
	case uint16(FileType):
		if err := readBasicFile(r, sb, ino); err != nil {
			return nil, err
		}
	case uint16(XFileType):
		if err := readExtFile(r, sb, ino); err != nil {
			return nil, err
		}
	case uint16(SymlinkType):
		if err := readSymlink(r, sb, ino, false); err != nil {
			return nil, err
		}
	case uint16(XSymlinkType):
		if err := readSymlink(r, sb, ino, true); err != nil {
			return nil, err
		}
	case uint16(BlockDevType), uint16(CharDevType):
		if err := readBasicDev(r, sb, ino); err != nil {
			return nil, err
		}
	case uint16(XBlockDevType), uint16(XCharDevType):
		if err := readExtDev(r, sb, ino); err != nil {
			return nil, err
		}
	case uint16(FifoType), uint16(SocketType):
		if err := readBasicIPC(r, sb, ino); err != nil {
			return nil, err
		}
	case uint16(XFifoType), uint16(XSocketType):
		if err := readExtIPC(r, sb, ino); err != nil {
			return nil, err
		}
	default:
		return nil, &InodeTypeError{Type: ino.Type}
	}

	sb.cacheInodeRef(ino.Ino, inor)
	return ino, nil
}

func readBasicDir(r *metaReader, sb *Superblock, ino *Inode) error {
	var u32 uint32
	var u16 uint16
	if err := binary.Read(r, sb.order, &u32); err != nil {
		return err
	}
	ino.StartBlock = uint64(u32)
	if err := binary.Read(r, sb.order, &ino.NLink); err != nil {
		return err
	}
	if err := binary.Read(r, sb.order, &u16); err != nil {
		return err
	}
	ino.Size = uint64(u16)
	if err := binary.Read(r, sb.order, &u16); err != nil {
		return err
	}
	ino.Offset = uint32(u16)
	return binary.Read(r, sb.order, &ino.ParentIno)
}

func readExtDir(r *metaReader, sb *Superblock, ino *Inode) error {
	var u32 uint32
	var u16 uint16
	if err := binary.Read(r, sb.order, &ino.NLink); err != nil {
		return err
	}
	if err := binary.Read(r, sb.order, &u32); err != nil {
		return err
	}
	ino.Size = uint64(u32)
	if err := binary.Read(r, sb.order, &u32); err != nil {
		return err
	}
	ino.StartBlock = uint64(u32)
	if err := binary.Read(r, sb.order, &ino.ParentIno); err != nil {
		return err
	}
	if err := binary.Read(r, sb.order, &ino.IdxCount); err != nil {
		return err
	}
	if err := binary.Read(r, sb.order, &u16); err != nil {
		return err
	}
	ino.Offset = uint32(u16)
	return binary.Read(r, sb.order, &ino.XattrIdx)
}

// readBlockSizes fills in ino.Blocks/BlocksOfft for a regular file, given
// its declared size and fragment index, both of which must already be set.
func readBlockSizes(r *metaReader, sb *Superblock, ino *Inode) error {
	blocks := int(ino.Size / uint64(sb.BlockSize))
	if ino.FragBlock == noFragment && ino.Size%uint64(sb.BlockSize) != 0 {
		blocks++
	}

	ino.Blocks = make([]uint32, blocks)
	ino.BlocksOfft = make([]uint64, blocks)

	offt := uint64(0)
	for i := 0; i < blocks; i++ {
		var u32 uint32
		if err := binary.Read(r, sb.order, &u32); err != nil {
			return err
		}
		ino.Blocks[i] = u32
		ino.BlocksOfft[i] = offt
		offt += uint64(u32) &^ (blockSizeUncompressedFlag | blockSizeIncompressibleFlag)
	}

	if ino.FragBlock != noFragment {
		ino.Blocks = append(ino.Blocks, noFragment) // marks the fragment tail
	}
	return nil
}

func readBasicFile(r *metaReader, sb *Superblock, ino *Inode) error {
	var u32 uint32
	if err := binary.Read(r, sb.order, &u32); err != nil {
		return err
	}
	ino.StartBlock = uint64(u32)
	if err := binary.Read(r, sb.order, &ino.FragBlock); err != nil {
		return err
	}
	if err := binary.Read(r, sb.order, &ino.FragOfft); err != nil {
		return err
	}
	if err := binary.Read(r, sb.order, &u32); err != nil {
		return err
	}
	ino.Size = uint64(u32)
	return readBlockSizes(r, sb, ino)
}

func readExtFile(r *metaReader, sb *Superblock, ino *Inode) error {
	if err := binary.Read(r, sb.order, &ino.StartBlock); err != nil {
		return err
	}
	if err := binary.Read(r, sb.order, &ino.Size); err != nil {
		return err
	}
	if err := binary.Read(r, sb.order, &ino.Sparse); err != nil {
		return err
	}
	if err := binary.Read(r, sb.order, &ino.NLink); err != nil {
		return err
	}
	if err := binary.Read(r, sb.order, &ino.FragBlock); err != nil {
		return err
	}
	if err := binary.Read(r, sb.order, &ino.FragOfft); err != nil {
		return err
	}
	if err := binary.Read(r, sb.order, &ino.XattrIdx); err != nil {
		return err
	}
	return readBlockSizes(r, sb, ino)
}

func readSymlink(r *metaReader, sb *Superblock, ino *Inode, extended bool) error {
	if err := binary.Read(r, sb.order, &ino.NLink); err != nil {
		return err
	}
	var u32 uint32
	if err := binary.Read(r, sb.order, &u32); err != nil {
		return err
	}
	if u32 > 4096 {
		return ErrDirectoryMalformed
	}
	ino.Size = uint64(u32)

	buf := make([]byte, u32)
	if err := r.readFull(buf); err != nil {
		return err
	}
	ino.SymTarget = buf

	if extended {
		return binary.Read(r, sb.order, &ino.XattrIdx)
	}
	return nil
}

func readBasicDev(r *metaReader, sb *Superblock, ino *Inode) error {
	if err := binary.Read(r, sb.order, &ino.NLink); err != nil {
		return err
	}
	return binary.Read(r, sb.order, &ino.Rdev)
}

func readExtDev(r *metaReader, sb *Superblock, ino *Inode) error {
	if err := binary.Read(r, sb.order, &ino.NLink); err != nil {
		return err
	}
	if err := binary.Read(r, sb.order, &ino.Rdev); err != nil {
		return err
	}
	return binary.Read(r, sb.order, &ino.XattrIdx)
}

func readBasicIPC(r *metaReader, sb *Superblock, ino *Inode) error {
	return binary.Read(r, sb.order, &ino.NLink)
}

func readExtIPC(r *metaReader, sb *Superblock, ino *Inode) error {
	if err := binary.Read(r, sb.order, &ino.NLink); err != nil {
		return err
	}
	return binary.Read(r, sb.order, &ino.XattrIdx)
}

// Xattrs decodes the extended attributes attached to this inode, if any.
func (i *Inode) Xattrs() ([]Xattr, error) {
	return i.sb.xattrsFor(i.XattrIdx)
}

// GetUid resolves this inode's uid index through the id table.
func (i *Inode) GetUid() (uint32, error) {
	return i.sb.idLookup(i.UidIdx)
}

// GetGid resolves this inode's gid index through the id table.
func (i *Inode) GetGid() (uint32, error) {
	return i.sb.idLookup(i.GidIdx)
}

// ReadAt implements io.ReaderAt over a regular file's reassembled content:
// data blocks in order, with a trailing fragment slice if the file has one.
func (i *Inode) ReadAt(p []byte, off int64) (int, error) {
	if !Type(i.Type).IsRegular() {
		return 0, fs.ErrInvalid
	}

	if uint64(off) >= i.Size {
		return 0, io.EOF
	}
	if uint64(off+int64(len(p))) > i.Size {
		p = p[:int64(i.Size)-off]
	}

	block := int(off / int64(i.sb.BlockSize))
	offset := int(off % int64(i.sb.BlockSize))
	n := 0

	for {
		var buf []byte

		if i.Blocks[block] == noFragment {
			buf2, err := i.sb.fragmentTail(i.FragBlock, i.FragOfft, uint32(i.Size%uint64(i.sb.BlockSize)))
			if err != nil {
				return n, err
			}
			buf = buf2
		} else if i.Blocks[block] == 0 {
			buf = make([]byte, i.sb.BlockSize)
		} else {
			raw := i.Blocks[block]
			sz := raw &^ (blockSizeUncompressedFlag | blockSizeIncompressibleFlag)
			buf = make([]byte, sz)
			if _, err := i.sb.fs.ReadAt(buf, int64(i.StartBlock+i.BlocksOfft[block])); err != nil {
				return n, err
			}
			if raw&(blockSizeUncompressedFlag|blockSizeIncompressibleFlag) == 0 {
				var err error
				buf, err = i.sb.Comp.decompress(buf, int(i.sb.BlockSize))
				if err != nil {
					return n, err
				}
			}
		}

		if offset > 0 {
			if offset > len(buf) {
				return n, ErrBlockSizeOverflow
			}
			buf = buf[offset:]
		}

		l := copy(p, buf)
		n += l
		if l == len(p) {
			return n, nil
		}

		p = p[l:]
		block++
		offset = 0
	}
}

func (i *Inode) LookupRelativeInode(ctx context.Context, name string) (*Inode, error) {
	if !Type(i.Type).IsDir() {
		return nil, ErrNotDirectory
	}

	dr, err := i.sb.dirReader(i, nil)
	if err != nil {
		return nil, err
	}
	for {
		ename, inoR, err := dr.next()
		if err != nil {
			if err == io.EOF {
				return nil, fs.ErrNotExist
			}
			return nil, err
		}
		if name == ename {
			found, err := i.sb.GetInodeRef(inoR)
			if err != nil {
				return nil, err
			}
			i.sb.cacheInodeRef(found.Ino, inoR)
			return found, nil
		}
	}
}

func (i *Inode) LookupRelativeInodePath(ctx context.Context, name string) (*Inode, error) {
	cur := i

	for {
		if len(name) == 0 {
			return cur, nil
		}
		pos := strings.IndexByte(name, '/')
		if pos == -1 {
			return cur.LookupRelativeInode(ctx, name)
		}
		if pos == 0 {
			name = name[1:]
			continue
		}
		next, err := cur.LookupRelativeInode(ctx, name[:pos])
		if err != nil {
			return nil, err
		}
		cur = next
		name = name[pos+1:]
	}
}

func (i *Inode) Mode() fs.FileMode {
	return UnixToMode(uint32(i.Perm)) | Type(i.Type).Mode()
}

func (i *Inode) IsDir() bool {
	return Type(i.Type).IsDir()
}

func (i *Inode) Readlink() ([]byte, error) {
	switch Type(i.Type).Basic() {
	case SymlinkType:
		return i.SymTarget, nil
	}
	return nil, fs.ErrInvalid
}

func (i *Inode) AddRef(count uint64) uint64 {
	return atomic.AddUint64(&i.refcnt, count)
}

func (i *Inode) DelRef(count uint64) uint64 {
	return atomic.AddUint64(&i.refcnt, ^(count - 1))
}
