// Package fixture builds small, exact SquashFS 4.0 images in memory so the
// decoder's own tests have something real to read back, without shipping a
// general-purpose image writer as part of the public squashfs package (the
// core is read-only by design). It is not reachable from outside this
// module.
package fixture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/sqfsgo/squashfs"
)

// Writer assembles a SquashFS image in memory and streams it to an
// io.Writer on Finalize. It exists only to produce fixtures for this
// module's tests — see buildImage in squashfs_test.go.
type Writer struct {
	w      io.Writer
	wa     io.WriterAt   // set if w implements WriterAt
	buf    *bytes.Buffer // used when w doesn't implement WriterAt
	offset uint64        // current write offset

	blockSize uint32
	comp      squashfs.Compression
	modTime   int32
	flags     squashfs.Flags

	inodes     []*writerInode
	rootInode  *writerInode
	inodeCount uint32
	inodeMap   map[string]*writerInode // path -> inode mapping

	idTable map[uint32]uint32 // uid/gid -> index mapping
	idList  []uint32          // ordered list of uid/gid values

	srcFS fs.FS // default source filesystem, captured by Add() into each inode

	idTableStart     uint64
	inodeTableStart  uint64
	dirTableStart    uint64
	fragTableStart   uint64
	exportTableStart uint64
	bytesUsed        uint64

	precompressedDirBlocks [][]byte // computed during inode table building

	sb squashfs.Superblock // populated during Finalize
}

// writerInode is one file, directory, symlink or special node being built.
type writerInode struct {
	path string
	name string
	ino  uint32

	mode      fs.FileMode
	size      uint64
	modTime   int64
	uid       uint32
	gid       uint32
	nlink     uint32
	fileType  squashfs.Type
	symTarget string // symlink target path

	srcFS fs.FS // source filesystem to read file data from

	entries []*writerInode // for directories
	parent  *writerInode

	dirOffset uint32                   // offset in directory table
	dirIndex  []squashfs.DirIndexEntry // directory index, XDirType only
	dirData   []byte                   // serialized directory data

	dataBlocks []uint32 // block sizes for file data (bit 24 set when stored uncompressed)
	startBlock uint64   // start position of file data in the image

	inodeBlockStart uint32 // byte offset from inode table start to this inode's metadata block
	inodeOffset     uint32 // offset within the metadata block
}

// Option configures a Writer.
type Option func(*Writer) error

// WithBlockSize sets the block size for the filesystem (default: 131072).
func WithBlockSize(size uint32) Option {
	return func(w *Writer) error {
		w.blockSize = size
		return nil
	}
}

// WithCompression sets the compression codec (default: GZip).
func WithCompression(comp squashfs.Compression) Option {
	return func(w *Writer) error {
		w.comp = comp
		return nil
	}
}

// WithModTime sets the filesystem modification time (default: current time).
func WithModTime(t time.Time) Option {
	return func(w *Writer) error {
		w.modTime = int32(t.Unix())
		return nil
	}
}

// New creates a fixture Writer that will write to w.
//
// If w implements io.WriterAt, Finalize writes the superblock in place at
// offset 0 once every table is written. Otherwise the writer buffers the
// whole image in memory and writes it out in one shot.
func New(w io.Writer, opts ...Option) (*Writer, error) {
	writer := &Writer{
		w:         w,
		blockSize: 131072, // 128KB default
		comp:      squashfs.GZip,
		modTime:   int32(time.Now().Unix()),
		idTable:   make(map[uint32]uint32),
		inodes:    make([]*writerInode, 0),
		inodeMap:  make(map[string]*writerInode),
	}

	if wa, ok := w.(io.WriterAt); ok {
		writer.wa = wa
		writer.offset = squashfs.SuperblockSize
	} else {
		writer.buf = &bytes.Buffer{}
		writer.buf.Write(make([]byte, squashfs.SuperblockSize))
		writer.offset = squashfs.SuperblockSize
	}

	writer.rootInode = &writerInode{
		path:     "",
		name:     "",
		ino:      1,
		mode:     fs.ModeDir | 0755,
		modTime:  time.Now().Unix(),
		uid:      0,
		gid:      0,
		nlink:    2,
		fileType: squashfs.DirType,
		entries:  make([]*writerInode, 0),
	}
	writer.inodes = append(writer.inodes, writer.rootInode)
	writer.inodeCount = 1

	for _, opt := range opts {
		if err := opt(writer); err != nil {
			return nil, err
		}
	}

	return writer, nil
}

// SetCompression changes the codec used for any blocks not yet written.
func (w *Writer) SetCompression(comp squashfs.Compression) {
	w.comp = comp
}

// SetSourceFS sets the filesystem subsequent Add() calls read file data
// from. Can be called again mid-walk to switch sources.
func (w *Writer) SetSourceFS(srcFS fs.FS) {
	w.srcFS = srcFS
}

// Add is an fs.WalkDirFunc: call it via fs.WalkDir(srcFS, ".", w.Add) to
// populate the fixture tree from a fstest.MapFS or any other fs.FS. File
// data isn't read until Finalize.
func (w *Writer) Add(path string, d fs.DirEntry, err error) error {
	if err != nil {
		return err
	}

	if path == "." || path == "" {
		w.inodeMap["."] = w.rootInode
		w.inodeMap[""] = w.rootInode
		return nil
	}

	info, err := d.Info()
	if err != nil {
		return err
	}

	w.inodeCount++
	inode := &writerInode{
		path:    path,
		name:    info.Name(),
		ino:     w.inodeCount,
		mode:    info.Mode(),
		size:    uint64(info.Size()),
		modTime: info.ModTime().Unix(),
		nlink:   1,
		srcFS:   w.srcFS,
	}

	if sys := info.Sys(); sys != nil {
		if statT, ok := sys.(interface {
			Uid() uint32
			Gid() uint32
		}); ok {
			inode.uid = statT.Uid()
			inode.gid = statT.Gid()
		}
	}

	switch {
	case info.Mode().IsDir():
		inode.fileType = squashfs.DirType
		inode.entries = make([]*writerInode, 0)
		inode.nlink = 2
	case info.Mode().IsRegular():
		inode.fileType = squashfs.FileType
	case info.Mode()&fs.ModeSymlink != 0:
		inode.fileType = squashfs.SymlinkType
		if inode.srcFS != nil {
			target, err := fs.ReadLink(inode.srcFS, path)
			if err != nil {
				return fmt.Errorf("failed to read symlink %s: %w", path, err)
			}
			inode.symTarget = target
			inode.size = uint64(len(target))
		}
	case info.Mode()&fs.ModeCharDevice != 0:
		inode.fileType = squashfs.CharDevType
	case info.Mode()&fs.ModeDevice != 0:
		inode.fileType = squashfs.BlockDevType
	case info.Mode()&fs.ModeNamedPipe != 0:
		inode.fileType = squashfs.FifoType
	case info.Mode()&fs.ModeSocket != 0:
		inode.fileType = squashfs.SocketType
	default:
		inode.fileType = squashfs.FileType
	}

	w.inodes = append(w.inodes, inode)
	w.inodeMap[path] = inode

	parentPath := getParentPath(path)
	parent := w.inodeMap[parentPath]
	if parent == nil {
		return fmt.Errorf("parent directory not found for %s", path)
	}

	inode.parent = parent
	parent.entries = append(parent.entries, inode)

	return nil
}

// getParentPath returns the parent directory path.
func getParentPath(path string) string {
	if path == "" || path == "." {
		return ""
	}
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			if i == 0 {
				return "."
			}
			return path[:i]
		}
	}
	return "."
}

// write writes data to the current offset and advances the offset.
func (w *Writer) write(data []byte) error {
	if w.wa != nil {
		_, err := w.wa.WriteAt(data, int64(w.offset))
		if err != nil {
			return err
		}
	} else {
		_, err := w.buf.Write(data)
		if err != nil {
			return err
		}
	}
	w.offset += uint64(len(data))
	return nil
}

// buildIDTable collects the unique uid/gid values used across all inodes.
func (w *Writer) buildIDTable() error {
	seen := make(map[uint32]bool)
	w.idList = make([]uint32, 0)

	for _, inode := range w.inodes {
		if !seen[inode.uid] {
			seen[inode.uid] = true
			w.idList = append(w.idList, inode.uid)
		}
		if !seen[inode.gid] {
			seen[inode.gid] = true
			w.idList = append(w.idList, inode.gid)
		}
	}

	for i, id := range w.idList {
		w.idTable[id] = uint32(i)
	}

	return nil
}

// writeMetadataBlock writes a metadata block, compressed if that's smaller,
// and returns the offset it was written at.
func (w *Writer) writeMetadataBlock(data []byte) (uint64, error) {
	blockStart := w.offset

	compressed, err := compressBlock(w.comp, data)
	if err != nil || len(compressed) >= len(data) {
		header := make([]byte, 2)
		binary.LittleEndian.PutUint16(header, uint16(len(data))|0x8000)
		if err := w.write(header); err != nil {
			return 0, err
		}
		if err := w.write(data); err != nil {
			return 0, err
		}
	} else {
		header := make([]byte, 2)
		binary.LittleEndian.PutUint16(header, uint16(len(compressed)))
		if err := w.write(header); err != nil {
			return 0, err
		}
		if err := w.write(compressed); err != nil {
			return 0, err
		}
	}

	return blockStart, nil
}

// writeIDTable writes the id table's single metadata block and its index.
func (w *Writer) writeIDTable() error {
	idData := make([]byte, len(w.idList)*4)
	for i, id := range w.idList {
		binary.LittleEndian.PutUint32(idData[i*4:], id)
	}

	metadataBlockStart, err := w.writeMetadataBlock(idData)
	if err != nil {
		return err
	}

	w.idTableStart = w.offset

	pointer := make([]byte, 8)
	binary.LittleEndian.PutUint64(pointer, metadataBlockStart)
	return w.write(pointer)
}

func writeBinary(buf *bytes.Buffer, order binary.ByteOrder, data interface{}) error {
	return binary.Write(buf, order, data)
}

// compressBlock runs the codec's encoder, the one piece of the decode
// package's registry a fixture builder needs that the public API doesn't
// otherwise expose.
func compressBlock(comp squashfs.Compression, data []byte) ([]byte, error) {
	return squashfs.Compress(comp, data)
}

// isAllZero reports whether block is entirely zero bytes, the condition
// under which a full-size block can be stored as a sparse hole (a 0-valued
// block-size entry) instead of real data.
func isAllZero(block []byte) bool {
	for _, b := range block {
		if b != 0 {
			return false
		}
	}
	return true
}

// serializeInode encodes one inode's on-disk record.
func (w *Writer) serializeInode(ino *writerInode) ([]byte, error) {
	buf := &bytes.Buffer{}
	order := binary.LittleEndian

	if err := writeBinary(buf, order, ino.fileType); err != nil {
		return nil, err
	}
	if err := writeBinary(buf, order, uint16(ino.mode&0777)); err != nil {
		return nil, err
	}

	uidIdx := w.idTable[ino.uid]
	gidIdx := w.idTable[ino.gid]
	if err := writeBinary(buf, order, uint16(uidIdx)); err != nil {
		return nil, err
	}
	if err := writeBinary(buf, order, uint16(gidIdx)); err != nil {
		return nil, err
	}
	if err := writeBinary(buf, order, int32(ino.modTime)); err != nil {
		return nil, err
	}
	if err := writeBinary(buf, order, ino.ino); err != nil {
		return nil, err
	}

	switch ino.fileType {
	case squashfs.DirType:
		if err := writeBinary(buf, order, uint32(0)); err != nil {
			return nil, err
		}
		if err := writeBinary(buf, order, ino.nlink); err != nil {
			return nil, err
		}
		if err := writeBinary(buf, order, uint16(ino.size)); err != nil {
			return nil, err
		}
		if err := writeBinary(buf, order, uint16(ino.dirOffset)); err != nil {
			return nil, err
		}
		parentIno := uint32(1)
		if ino.parent != nil {
			parentIno = ino.parent.ino
		}
		if err := writeBinary(buf, order, parentIno); err != nil {
			return nil, err
		}
	case squashfs.XDirType:
		if err := writeBinary(buf, order, ino.nlink); err != nil {
			return nil, err
		}
		if err := writeBinary(buf, order, uint32(ino.size)); err != nil {
			return nil, err
		}
		if err := writeBinary(buf, order, uint32(0)); err != nil {
			return nil, err
		}
		parentIno := uint32(1)
		if ino.parent != nil {
			parentIno = ino.parent.ino
		}
		if err := writeBinary(buf, order, parentIno); err != nil {
			return nil, err
		}
		if err := writeBinary(buf, order, uint16(len(ino.dirIndex))); err != nil {
			return nil, err
		}
		if err := writeBinary(buf, order, uint16(ino.dirOffset)); err != nil {
			return nil, err
		}
		if err := writeBinary(buf, order, uint32(0xFFFFFFFF)); err != nil {
			return nil, err
		}
		for _, idx := range ino.dirIndex {
			if err := writeBinary(buf, order, idx.Index); err != nil {
				return nil, err
			}
			if err := writeBinary(buf, order, idx.Start); err != nil {
				return nil, err
			}
			if err := writeBinary(buf, order, uint32(len(idx.Name)-1)); err != nil {
				return nil, err
			}
			if err := writeBinary(buf, order, []byte(idx.Name)); err != nil {
				return nil, err
			}
		}
	case squashfs.FileType:
		if err := writeBinary(buf, order, uint32(ino.startBlock)); err != nil {
			return nil, err
		}
		if err := writeBinary(buf, order, uint32(0xFFFFFFFF)); err != nil { // no fragment
			return nil, err
		}
		if err := writeBinary(buf, order, uint32(0)); err != nil {
			return nil, err
		}
		if err := writeBinary(buf, order, uint32(ino.size)); err != nil {
			return nil, err
		}
		for _, blockSize := range ino.dataBlocks {
			if err := writeBinary(buf, order, blockSize); err != nil {
				return nil, err
			}
		}
	case squashfs.SymlinkType:
		if err := writeBinary(buf, order, ino.nlink); err != nil {
			return nil, err
		}
		if err := writeBinary(buf, order, uint32(len(ino.symTarget))); err != nil {
			return nil, err
		}
		if err := writeBinary(buf, order, []byte(ino.symTarget)); err != nil {
			return nil, err
		}
	case squashfs.CharDevType, squashfs.BlockDevType:
		if err := writeBinary(buf, order, ino.nlink); err != nil {
			return nil, err
		}
		if err := writeBinary(buf, order, uint32(0)); err != nil { // rdev: fixtures don't need real device numbers
			return nil, err
		}
	case squashfs.FifoType, squashfs.SocketType:
		if err := writeBinary(buf, order, ino.nlink); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported inode type %d", ino.fileType)
	}

	return buf.Bytes(), nil
}

const (
	maxMetadataBlockSize = 8192 // SquashFS metadata block size
	indexInterval        = 256  // directory index interval
)

// inodePosition tracks where an inode is located in the metadata blocks.
type inodePosition struct {
	blockNum int    // which metadata block (0, 1, 2, ...)
	offset   uint32 // offset within that block
}

// buildDirectoryEntryData builds directory entry data for one directory inode.
func (w *Writer) buildDirectoryEntryData(inode *writerInode, inodePos map[uint32]inodePosition, blockPositions []uint32) ([]byte, error) {
	if inode.fileType != squashfs.DirType && inode.fileType != squashfs.XDirType {
		return nil, nil
	}

	dirBuf := &bytes.Buffer{}
	order := binary.LittleEndian

	if len(inode.entries) == 0 {
		if err := writeBinary(dirBuf, order, uint32(0)); err != nil {
			return nil, err
		}
		if err := writeBinary(dirBuf, order, uint32(0)); err != nil {
			return nil, err
		}
		if err := writeBinary(dirBuf, order, inode.ino); err != nil {
			return nil, err
		}
		return dirBuf.Bytes(), nil
	}

	if inode.fileType == squashfs.XDirType {
		inode.dirIndex = make([]squashfs.DirIndexEntry, 0)
	}

	entryIdx := 0
	for entryIdx < len(inode.entries) {
		chunkStart := entryIdx
		firstEntryBlock := inodePos[inode.entries[chunkStart].ino].blockNum

		chunkEnd := chunkStart
		for chunkEnd < len(inode.entries) &&
			(chunkEnd-chunkStart) < indexInterval &&
			inodePos[inode.entries[chunkEnd].ino].blockNum == firstEntryBlock {
			chunkEnd++
		}

		chunkEntries := inode.entries[chunkStart:chunkEnd]

		if inode.fileType == squashfs.XDirType {
			inode.dirIndex = append(inode.dirIndex, squashfs.DirIndexEntry{
				Index: uint32(dirBuf.Len()),
				Start: 0, // set in computeDirectoryTableOffsets
				Name:  chunkEntries[0].name,
			})
		}

		if err := writeBinary(dirBuf, order, uint32(len(chunkEntries)-1)); err != nil {
			return nil, err
		}

		blockPos := uint32(0)
		if blockPositions != nil && firstEntryBlock < len(blockPositions) {
			blockPos = blockPositions[firstEntryBlock]
		}
		if err := writeBinary(dirBuf, order, blockPos); err != nil {
			return nil, err
		}

		if err := writeBinary(dirBuf, order, chunkEntries[0].ino); err != nil {
			return nil, err
		}

		for _, entry := range chunkEntries {
			if err := writeBinary(dirBuf, order, uint16(inodePos[entry.ino].offset)); err != nil {
				return nil, err
			}
			if err := writeBinary(dirBuf, order, int16(entry.ino)-int16(chunkEntries[0].ino)); err != nil {
				return nil, err
			}
			if err := writeBinary(dirBuf, order, entry.fileType); err != nil {
				return nil, err
			}
			if err := writeBinary(dirBuf, order, uint16(len(entry.name)-1)); err != nil {
				return nil, err
			}
			if err := writeBinary(dirBuf, order, []byte(entry.name)); err != nil {
				return nil, err
			}
		}

		entryIdx = chunkEnd
	}

	return dirBuf.Bytes(), nil
}

// computeInodePositions determines which metadata block each inode lands in.
func (w *Writer) computeInodePositions() (map[uint32]inodePosition, error) {
	inodePos := make(map[uint32]inodePosition)
	currentBlock := 0
	blockBuf := &bytes.Buffer{}

	for _, ino := range w.inodes {
		data, err := w.serializeInode(ino)
		if err != nil {
			return nil, err
		}

		if blockBuf.Len() > 0 && blockBuf.Len()+len(data) > maxMetadataBlockSize {
			currentBlock++
			blockBuf.Reset()
		}

		inodePos[ino.ino] = inodePosition{
			blockNum: currentBlock,
			offset:   uint32(blockBuf.Len()),
		}

		blockBuf.Write(data)
	}

	return inodePos, nil
}

// computeBlockPositions calculates the byte offsets of each metadata block after compression.
func (w *Writer) computeBlockPositions() ([]uint32, error) {
	tempBuf := &bytes.Buffer{}
	blockBuf := &bytes.Buffer{}
	blockPositions := []uint32{0}

	for _, ino := range w.inodes {
		data, err := w.serializeInode(ino)
		if err != nil {
			return nil, err
		}

		if blockBuf.Len() > 0 && blockBuf.Len()+len(data) > maxMetadataBlockSize {
			blockData := blockBuf.Bytes()
			compressed, _ := compressBlock(w.comp, blockData)

			var blockSize int
			if compressed != nil && len(compressed) < len(blockData) {
				blockSize = 2 + len(compressed)
			} else {
				blockSize = 2 + len(blockData)
			}

			tempBuf.Write(make([]byte, blockSize))
			blockPositions = append(blockPositions, uint32(tempBuf.Len()))
			blockBuf.Reset()
		}

		blockBuf.Write(data)
	}

	return blockPositions, nil
}

// serializeInodesToBuffer writes all inodes as compressed metadata blocks.
func (w *Writer) serializeInodesToBuffer() ([]byte, error) {
	result := &bytes.Buffer{}
	blockBuf := &bytes.Buffer{}

	for _, ino := range w.inodes {
		data, err := w.serializeInode(ino)
		if err != nil {
			return nil, err
		}

		if blockBuf.Len() > 0 && blockBuf.Len()+len(data) > maxMetadataBlockSize {
			if err := w.writeCompressedMetadataBlock(result, blockBuf.Bytes()); err != nil {
				return nil, err
			}
			blockBuf.Reset()
		}

		blockBuf.Write(data)
	}

	if blockBuf.Len() > 0 {
		if err := w.writeCompressedMetadataBlock(result, blockBuf.Bytes()); err != nil {
			return nil, err
		}
	}

	return result.Bytes(), nil
}

// writeCompressedMetadataBlock compresses and appends one metadata block to buf.
func (w *Writer) writeCompressedMetadataBlock(buf *bytes.Buffer, blockData []byte) error {
	compressed, _ := compressBlock(w.comp, blockData)

	header := make([]byte, 2)
	if compressed != nil && len(compressed) < len(blockData) {
		binary.LittleEndian.PutUint16(header, uint16(len(compressed)))
		buf.Write(header)
		buf.Write(compressed)
	} else {
		binary.LittleEndian.PutUint16(header, uint16(len(blockData))|0x8000)
		buf.Write(header)
		buf.Write(blockData)
	}

	return nil
}

// simulateDirectoryIndices pre-walks directory data to compute Index values
// for XDirType entries before the real inode positions are known.
func (w *Writer) simulateDirectoryIndices(inodePos map[uint32]inodePosition) error {
	order := binary.LittleEndian

	for _, inode := range w.inodes {
		if inode.fileType != squashfs.XDirType || len(inodePos) == 0 {
			continue
		}

		dirBuf := &bytes.Buffer{}
		inode.dirIndex = make([]squashfs.DirIndexEntry, 0)

		entryIdx := 0
		for entryIdx < len(inode.entries) {
			chunkStart := entryIdx
			firstEntryBlock := inodePos[inode.entries[chunkStart].ino].blockNum

			chunkEnd := chunkStart
			for chunkEnd < len(inode.entries) &&
				(chunkEnd-chunkStart) < indexInterval &&
				inodePos[inode.entries[chunkEnd].ino].blockNum == firstEntryBlock {
				chunkEnd++
			}

			chunk := inode.entries[chunkStart:chunkEnd]

			inode.dirIndex = append(inode.dirIndex, squashfs.DirIndexEntry{
				Index: uint32(dirBuf.Len()),
				Start: 0,
				Name:  chunk[0].name,
			})

			if err := writeBinary(dirBuf, order, uint32(len(chunk)-1)); err != nil {
				return err
			}
			if err := writeBinary(dirBuf, order, uint32(0)); err != nil {
				return err
			}
			if err := writeBinary(dirBuf, order, chunk[0].ino); err != nil {
				return err
			}
			for _, entry := range chunk {
				if err := writeBinary(dirBuf, order, uint16(0)); err != nil {
					return err
				}
				if err := writeBinary(dirBuf, order, int16(entry.ino)-int16(chunk[0].ino)); err != nil {
					return err
				}
				if err := writeBinary(dirBuf, order, entry.fileType); err != nil {
					return err
				}
				if err := writeBinary(dirBuf, order, uint16(len(entry.name)-1)); err != nil {
					return err
				}
				if err := writeBinary(dirBuf, order, []byte(entry.name)); err != nil {
					return err
				}
			}

			entryIdx = chunkEnd
		}
	}

	return nil
}

func (w *Writer) inodePositionsEqual(a, b map[uint32]inodePosition) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// buildDirectoryDataForAllInodes builds directory data for every directory inode.
func (w *Writer) buildDirectoryDataForAllInodes(inodePos map[uint32]inodePosition, blockPositions []uint32) error {
	globalDirOffset := uint32(0)

	for _, inode := range w.inodes {
		if inode.fileType != squashfs.DirType && inode.fileType != squashfs.XDirType {
			continue
		}

		inode.dirOffset = globalDirOffset
		dirData, err := w.buildDirectoryEntryData(inode, inodePos, blockPositions)
		if err != nil {
			return err
		}

		inode.dirData = dirData
		inode.size = uint64(len(dirData))
		globalDirOffset += uint32(len(dirData))
	}

	return nil
}

func (w *Writer) blockPositionsEqual(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// rebuildDirectoryDataWithBlockPositions rebuilds directory data once block
// positions are known, and checks that directory sizes didn't move.
func (w *Writer) rebuildDirectoryDataWithBlockPositions(inodePos map[uint32]inodePosition, blockPositions []uint32) error {
	globalDirOffset := uint32(0)

	for _, inode := range w.inodes {
		if inode.fileType != squashfs.DirType && inode.fileType != squashfs.XDirType {
			continue
		}

		oldSize := inode.size
		inode.dirOffset = globalDirOffset

		dirData, err := w.buildDirectoryEntryData(inode, inodePos, blockPositions)
		if err != nil {
			return err
		}

		inode.dirData = dirData
		newSize := uint64(len(dirData))
		inode.size = newSize

		if oldSize != 0 && oldSize != newSize {
			return fmt.Errorf("directory size changed from %d to %d for inode %d", oldSize, newSize, inode.ino)
		}

		globalDirOffset += uint32(len(dirData))
	}

	return nil
}

// buildInodeTableToBuffer builds the complete inode table, iterating until
// inode positions and then metadata block positions both stabilize: each
// depends on the other (directory index entries depend on block numbers,
// block numbers depend on compressed sizes, compressed sizes depend on
// directory index entries).
func (w *Writer) buildInodeTableToBuffer() ([]byte, error) {
	var inodePos map[uint32]inodePosition

	for _, ino := range w.inodes {
		if ino.fileType == squashfs.DirType || ino.fileType == squashfs.XDirType {
			ino.size = 0
			ino.dirOffset = 0
			if ino.fileType == squashfs.XDirType {
				ino.dirIndex = nil
			}
		}
	}

	maxIterations := 10
	for iteration := 0; iteration < maxIterations; iteration++ {
		prevInodePos := make(map[uint32]inodePosition)
		for k, v := range inodePos {
			prevInodePos[k] = v
		}

		if err := w.simulateDirectoryIndices(inodePos); err != nil {
			return nil, err
		}

		var err error
		inodePos, err = w.computeInodePositions()
		if err != nil {
			return nil, err
		}

		if iteration > 0 && w.inodePositionsEqual(prevInodePos, inodePos) {
			break
		}

		if iteration == maxIterations-1 {
			return nil, fmt.Errorf("failed to converge inode positions after %d iterations", maxIterations)
		}
	}

	if err := w.buildDirectoryDataForAllInodes(inodePos, nil); err != nil {
		return nil, err
	}

	var blockPositions []uint32
	maxDirIterations := 10

	for dirIter := 0; dirIter < maxDirIterations; dirIter++ {
		if err := w.computeDirectoryTableOffsets(); err != nil {
			return nil, err
		}

		newBlockPositions, err := w.computeBlockPositions()
		if err != nil {
			return nil, err
		}

		if dirIter > 0 && w.blockPositionsEqual(blockPositions, newBlockPositions) {
			blockPositions = newBlockPositions
			break
		}

		blockPositions = newBlockPositions

		if dirIter == maxDirIterations-1 {
			return nil, fmt.Errorf("blockPositions failed to converge after %d iterations", maxDirIterations)
		}

		if err := w.rebuildDirectoryDataWithBlockPositions(inodePos, blockPositions); err != nil {
			return nil, err
		}
	}

	result, err := w.serializeInodesToBuffer()
	if err != nil {
		return nil, err
	}

	for _, ino := range w.inodes {
		ino.inodeBlockStart = blockPositions[inodePos[ino.ino].blockNum]
		ino.inodeOffset = inodePos[ino.ino].offset
	}

	return result, nil
}

// computeDirectoryTableOffsets pre-compresses directory blocks and fills in
// each XDirType index entry's Start field.
func (w *Writer) computeDirectoryTableOffsets() error {
	dirBuf := &bytes.Buffer{}
	inodeOffsets := make(map[uint32]uint32)

	for _, inode := range w.inodes {
		if inode.fileType != squashfs.DirType && inode.fileType != squashfs.XDirType {
			continue
		}
		inodeOffsets[inode.ino] = uint32(dirBuf.Len())
		dirBuf.Write(inode.dirData)
	}

	data := dirBuf.Bytes()
	w.precompressedDirBlocks = make([][]byte, 0)
	blockOffsets := make(map[int]uint32)
	blockIdx := 0
	offset := uint32(0)

	for len(data) > 0 {
		blockSize := len(data)
		if blockSize > maxMetadataBlockSize {
			blockSize = maxMetadataBlockSize
		}

		blockOffsets[blockIdx] = offset

		blockData := data[:blockSize]
		compressed, _ := compressBlock(w.comp, blockData)

		var toWrite []byte
		if compressed != nil && len(compressed) < blockSize {
			header := make([]byte, 2)
			binary.LittleEndian.PutUint16(header, uint16(len(compressed)))
			toWrite = append(header, compressed...)
		} else {
			header := make([]byte, 2)
			binary.LittleEndian.PutUint16(header, uint16(blockSize)|0x8000)
			toWrite = append(header, blockData...)
		}

		w.precompressedDirBlocks = append(w.precompressedDirBlocks, toWrite)
		offset += uint32(len(toWrite))
		data = data[blockSize:]
		blockIdx++
	}

	for _, inode := range w.inodes {
		if inode.fileType != squashfs.XDirType || len(inode.dirIndex) == 0 {
			continue
		}

		inodeStart := inodeOffsets[inode.ino]
		for i := range inode.dirIndex {
			entryOffset := inodeStart + inode.dirIndex[i].Index
			blockNum := int(entryOffset / maxMetadataBlockSize)
			inode.dirIndex[i].Start = blockOffsets[blockNum]
		}
	}

	return nil
}

// writeDirectoryTable writes the pre-compressed directory blocks to disk.
func (w *Writer) writeDirectoryTable() error {
	w.dirTableStart = w.offset

	for _, block := range w.precompressedDirBlocks {
		if err := w.write(block); err != nil {
			return err
		}
	}

	return nil
}

// sortInodes sorts directory entries by name, the order the on-disk
// directory table and the decoder's walk both require.
func sortInodes(inodes []*writerInode) {
	for i := 0; i < len(inodes); i++ {
		for j := i + 1; j < len(inodes); j++ {
			if inodes[i].name > inodes[j].name {
				inodes[i], inodes[j] = inodes[j], inodes[i]
			}
		}
	}
}

// writeFileData writes data blocks for every regular file.
func (w *Writer) writeFileData() error {
	for _, inode := range w.inodes {
		if inode.fileType != squashfs.FileType || inode.size == 0 {
			continue
		}

		if inode.srcFS == nil {
			continue
		}

		data, err := fs.ReadFile(inode.srcFS, inode.path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", inode.path, err)
		}

		inode.startBlock = w.offset

		blockSize := int(w.blockSize)
		inode.dataBlocks = make([]uint32, 0)

		for offset := 0; offset < len(data); offset += blockSize {
			end := offset + blockSize
			if end > len(data) {
				end = len(data)
			}
			block := data[offset:end]

			if end-offset == blockSize && isAllZero(block) {
				inode.dataBlocks = append(inode.dataBlocks, 0)
				continue
			}

			compressed, err := compressBlock(w.comp, block)
			if err != nil || len(compressed) >= len(block) {
				if err := w.write(block); err != nil {
					return err
				}
				inode.dataBlocks = append(inode.dataBlocks, uint32(len(block))|0x01000000)
			} else {
				if err := w.write(compressed); err != nil {
					return err
				}
				inode.dataBlocks = append(inode.dataBlocks, uint32(len(compressed)))
			}
		}
	}
	return nil
}

// prepareDirectories promotes a directory to XDirType once it has enough
// entries to need a directory index.
func (w *Writer) prepareDirectories() error {
	const indexInterval = 256

	for _, inode := range w.inodes {
		if inode.fileType != squashfs.DirType {
			continue
		}

		sortInodes(inode.entries)

		if len(inode.entries) > indexInterval {
			inode.fileType = squashfs.XDirType
		}
	}
	return nil
}

// Finalize writes the complete image: a placeholder superblock, file data,
// directory table, inode table, id table, and finally the real superblock
// once every table's offset is known. The Writer must not be used again
// afterward.
func (w *Writer) Finalize() error {
	placeholder := make([]byte, squashfs.SuperblockSize)
	if err := w.write(placeholder); err != nil {
		return err
	}

	if err := w.buildIDTable(); err != nil {
		return err
	}

	if err := w.writeFileData(); err != nil {
		return err
	}

	if err := w.prepareDirectories(); err != nil {
		return err
	}

	inodeTableData, err := w.buildInodeTableToBuffer()
	if err != nil {
		return err
	}

	if err := w.writeDirectoryTable(); err != nil {
		return err
	}

	w.inodeTableStart = w.offset
	if err := w.write(inodeTableData); err != nil {
		return err
	}

	if err := w.writeIDTable(); err != nil {
		return err
	}

	w.fragTableStart = 0xFFFFFFFFFFFFFFFF   // fixtures never emit fragments
	w.exportTableStart = 0xFFFFFFFFFFFFFFFF // or an export table

	w.bytesUsed = w.offset

	w.buildSuperblock()
	sbData := w.sb.Bytes()

	if w.wa != nil {
		_, err := w.wa.WriteAt(sbData, 0)
		return err
	}

	data := w.buf.Bytes()
	copy(data[0:squashfs.SuperblockSize], sbData)

	_, err = w.w.Write(data)
	return err
}

// buildSuperblock fills in the superblock now that every table offset is known.
func (w *Writer) buildSuperblock() {
	blockLog := uint16(0)
	for i := uint16(0); i < 32; i++ {
		if (1 << i) == w.blockSize {
			blockLog = i
			break
		}
	}

	w.sb.Magic = 0x73717368
	w.sb.InodeCnt = w.inodeCount
	w.sb.ModTime = w.modTime
	w.sb.BlockSize = w.blockSize
	w.sb.FragCount = 0 // fixtures never emit fragments
	w.sb.Comp = w.comp
	w.sb.BlockLog = blockLog
	w.sb.Flags = w.flags
	w.sb.IdCount = uint16(len(w.idList))
	w.sb.VMajor = 4
	w.sb.VMinor = 0
	w.sb.RootInode = 0 // inode at offset 0 in the inode table
	w.sb.BytesUsed = w.bytesUsed
	w.sb.IdTableStart = w.idTableStart
	w.sb.XattrIdTableStart = 0xFFFFFFFFFFFFFFFF // fixtures never emit xattrs
	w.sb.InodeTableStart = w.inodeTableStart
	w.sb.DirTableStart = w.dirTableStart
	w.sb.FragTableStart = w.fragTableStart
	w.sb.ExportTableStart = w.exportTableStart
}
