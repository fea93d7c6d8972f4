package squashfs

import "encoding/binary"

// The id, fragment, and xattr-id tables share one layout: a flat, always
// uncompressed index of 8-byte absolute block offsets sits at the table's
// start (for the xattr-id table, after a 16-byte header; xattr.go reads
// that table itself), one entry per metadata block's worth of fixed-size records; the
// records themselves live in the metadata blocks those offsets point to.
// This gives O(1) lookup by record index: divide to find the block, mod
// to find the in-block byte offset.

// lookupIndexed fetches the bpe-byte record numbered index out of the
// indexed table starting at tableStart.
func (sb *Superblock) lookupIndexed(tableStart uint64, index uint32, bpe int) ([]byte, error) {
	entriesPerBlock := uint32(metaBlockMaxPayload / bpe)
	blockIx := index / entriesPerBlock
	inBlockIx := index % entriesPerBlock

	ptrBuf := make([]byte, 8)
	if _, err := sb.fs.ReadAt(ptrBuf, int64(tableStart)+8*int64(blockIx)); err != nil {
		return nil, err
	}
	blockOff := int64(binary.LittleEndian.Uint64(ptrBuf))
	if sb.order == binary.BigEndian {
		blockOff = int64(binary.BigEndian.Uint64(ptrBuf))
	}

	mr, err := sb.newMetaReaderAt(blockOff, int(inBlockIx)*bpe)
	if err != nil {
		return nil, err
	}
	rec := make([]byte, bpe)
	if err := mr.readFull(rec); err != nil {
		return nil, err
	}
	return rec, nil
}
