package squashfs

import (
	"bytes"
	"encoding/binary"
	"io"
	"reflect"
	"sync"
)

// squashfsMagic is "hsqs" read little-endian, the only magic a v4.0 image
// may carry. Earlier reference decoders in the wild also accepted the
// byte-swapped "sqsh" as a big-endian image; v4.0 images are always
// little-endian so that branch is rejected here rather than honored.
const squashfsMagic = 0x73717368

// SuperblockSize is the fixed on-disk size of the superblock header, the
// same value binarySize() computes from the struct's exported fields.
const SuperblockSize = 96

// Superblock is the 96-byte fixed header at the start of every SquashFS
// 4.0 image, plus the open io.ReaderAt it was parsed from.
//
// https://dr-emann.github.io/squashfs/
type Superblock struct {
	fs    io.ReaderAt
	order binary.ByteOrder

	Magic             uint32
	InodeCnt          uint32
	ModTime           int32
	BlockSize         uint32
	FragCount         uint32
	Comp              Compression
	BlockLog          uint16
	Flags             Flags
	IdCount           uint16
	VMajor            uint16
	VMinor            uint16
	RootInode         uint64
	BytesUsed         uint64
	IdTableStart      uint64
	XattrIdTableStart uint64
	InodeTableStart   uint64
	DirTableStart     uint64
	FragTableStart    uint64
	ExportTableStart  uint64

	fragCache fragCacheEntry

	rootOnce sync.Once
	root     *Inode
	rootErr  error

	inoIdxL sync.RWMutex
	inoIdx  map[uint32]inodeRef

	inoOfft uint64 // set by the InodeOffset option (options.go); nothing in this package reads it
}

// New opens sb by reading and validating the fixed header at offset 0 of
// fs. fs is retained for all later table and data reads.
func New(fs io.ReaderAt, opts ...Option) (*Superblock, error) {
	sb := &Superblock{fs: fs}
	head := make([]byte, sb.binarySize())

	if _, err := fs.ReadAt(head, 0); err != nil {
		return nil, err
	}
	if err := sb.UnmarshalBinary(head); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt(sb); err != nil {
			return nil, err
		}
	}

	return sb, nil
}

func (s *Superblock) UnmarshalBinary(data []byte) error {
	if len(data) < s.binarySize() {
		return ErrTruncated
	}

	switch binary.LittleEndian.Uint32(data[:4]) {
	case squashfsMagic:
		s.order = binary.LittleEndian
	default:
		return ErrInvalidFile
	}

	v := reflect.ValueOf(s).Elem()
	c := v.NumField()
	r := bytes.NewReader(data)

	var err error
	for i := 0; i < c; i++ {
		name := v.Type().Field(i).Name[0]
		if name < 'A' || name > 'Z' {
			continue
		}
		err = binary.Read(r, s.order, v.Field(i).Addr().Interface())
		if err != nil {
			return err
		}
	}

	return s.validate()
}

// validate checks the invariants a reader is required to enforce before
// trusting any table offset in the header: magic (checked above), version,
// block size, and the compression id range. Anything else malformed in
// the header (bad table offsets, for instance) surfaces lazily as the
// corresponding table is first read.
func (s *Superblock) validate() error {
	if s.VMajor != 4 || s.VMinor != 0 {
		return ErrInvalidVersion
	}
	if s.BlockSize < 4096 || s.BlockSize > 1<<20 || s.BlockSize&(s.BlockSize-1) != 0 {
		return ErrInvalidSuper
	}
	if uint32(1)<<s.BlockLog != s.BlockSize {
		return ErrInvalidSuper
	}
	if !s.Comp.Valid() {
		return ErrInvalidSuper
	}
	return nil
}

// Bytes marshals the superblock's exported fields back to their 96-byte
// on-disk layout, the inverse of UnmarshalBinary. Used by the internal
// test-fixture builder to stamp the final header once every table offset
// is known.
func (s *Superblock) Bytes() []byte {
	order := s.order
	if order == nil {
		order = binary.LittleEndian
	}

	buf := &bytes.Buffer{}
	v := reflect.ValueOf(s).Elem()
	c := v.NumField()
	for i := 0; i < c; i++ {
		name := v.Type().Field(i).Name[0]
		if name < 'A' || name > 'Z' {
			continue
		}
		binary.Write(buf, order, v.Field(i).Interface())
	}
	return buf.Bytes()
}

func (s *Superblock) binarySize() int {
	v := reflect.ValueOf(s).Elem()
	c := v.NumField()
	sz := uintptr(0)

	for i := 0; i < c; i++ {
		name := v.Type().Field(i).Name[0]
		if name < 'A' || name > 'Z' {
			continue
		}
		sz += v.Field(i).Type().Size()
	}
	return int(sz)
}

// HasXattrs reports whether the image carries an xattr table; a sentinel
// XattrIdTableStart of all-ones means the image has none.
func (s *Superblock) HasXattrs() bool {
	return s.XattrIdTableStart != 0xFFFFFFFFFFFFFFFF
}

// HasExportTable reports whether the image carries an NFS export table
// (inode-number -> inode-reference), used to resolve absolute inode
// numbers that were never reached through a directory walk.
func (s *Superblock) HasExportTable() bool {
	return s.ExportTableStart != 0xFFFFFFFFFFFFFFFF
}

// Root returns the filesystem's root directory inode, decoding and
// caching it on first call.
func (s *Superblock) Root() (*Inode, error) {
	s.rootOnce.Do(func() {
		s.root, s.rootErr = s.GetInodeRef(inodeRef(s.RootInode))
	})
	return s.root, s.rootErr
}

// cacheInodeRef remembers where on disk inode number ino lives, so a later
// absolute lookup by number (GetInode) doesn't need the export table.
func (s *Superblock) cacheInodeRef(ino uint32, ref inodeRef) {
	s.inoIdxL.Lock()
	if s.inoIdx == nil {
		s.inoIdx = make(map[uint32]inodeRef)
	}
	s.inoIdx[ino] = ref
	s.inoIdxL.Unlock()
}

func (s *Superblock) lookupCachedInodeRef(ino uint32) (inodeRef, bool) {
	s.inoIdxL.RLock()
	ref, ok := s.inoIdx[ino]
	s.inoIdxL.RUnlock()
	return ref, ok
}

// GetInode resolves an absolute inode number to its Inode, the way an NFS
// export handle or a FUSE lookup-by-number does. Numbers reached through
// a prior directory walk resolve from the in-memory cache; anything else
// falls back to the export table, if the image carries one.
func (s *Superblock) GetInode(ino uint64) (*Inode, error) {
	root, err := s.Root()
	if err != nil {
		return nil, err
	}
	if ino == uint64(root.Ino) {
		return root, nil
	}

	if ref, ok := s.lookupCachedInodeRef(uint32(ino)); ok {
		return s.GetInodeRef(ref)
	}

	if s.HasExportTable() {
		ref, err := s.exportLookup(uint32(ino))
		if err == nil {
			return s.GetInodeRef(ref)
		}
	}

	return nil, ErrInodeNotExported
}
