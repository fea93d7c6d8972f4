package squashfs

// A metadata block is SquashFS's unit of table storage: a 2-byte header
// (bit15 set means the payload is stored uncompressed, the low 15 bits
// are its on-disk length) followed by up to 8192 bytes of payload. The
// inode and directory tables are chains of these blocks with no index;
// an inodeRef's upper 48 bits are the on-disk byte offset of a block's
// header, relative to the table's start, so locating one is a direct
// seek rather than a walk from the front of the chain.

const metaBlockMaxPayload = 8192

// metaReader streams decompressed bytes out of a chain of metadata
// blocks, advancing to the next block transparently as Read empties the
// current one. Used for inode decode (a single block is usually enough)
// and for directory table walks, which routinely span many blocks.
type metaReader struct {
	sb   *Superblock
	pos  int64 // absolute file offset of the next block's header
	buf  []byte
}

// newMetaReaderAt opens a metadata block chain whose first block's header
// begins at the absolute file offset base, then discards the first
// skip bytes of its decompressed payload (the lower 16 bits of an inode
// or directory reference).
func (sb *Superblock) newMetaReaderAt(base int64, skip int) (*metaReader, error) {
	mr := &metaReader{sb: sb, pos: base}
	if err := mr.fill(); err != nil {
		return nil, err
	}
	if skip > 0 {
		if skip > len(mr.buf) {
			return nil, ErrMetaHeaderInvalid
		}
		mr.buf = mr.buf[skip:]
	}
	return mr, nil
}

// fill reads and decompresses the block at mr.pos into mr.buf, and
// advances mr.pos past it so the next fill reads the following block.
func (mr *metaReader) fill() error {
	hdr := make([]byte, 2)
	if _, err := mr.sb.fs.ReadAt(hdr, mr.pos); err != nil {
		return err
	}
	lenN := mr.sb.order.Uint16(hdr)
	uncompressed := lenN&0x8000 != 0
	ln := int(lenN &^ 0x8000)
	if ln == 0 || ln > metaBlockMaxPayload {
		return ErrMetaHeaderInvalid
	}

	buf := make([]byte, ln)
	if _, err := mr.sb.fs.ReadAt(buf, mr.pos+2); err != nil {
		return err
	}
	if !uncompressed {
		var err error
		buf, err = mr.sb.Comp.decompress(buf, metaBlockMaxPayload)
		if err != nil {
			return err
		}
	}

	mr.pos += 2 + int64(ln)
	mr.buf = buf
	return nil
}

// Read implements io.Reader, transparently chaining to the next metadata
// block once the current one is exhausted.
func (mr *metaReader) Read(p []byte) (int, error) {
	if len(mr.buf) == 0 {
		if err := mr.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, mr.buf)
	mr.buf = mr.buf[n:]
	return n, nil
}

// readFull reads exactly len(p) bytes, chaining across block boundaries
// as needed. Inode and directory-entry decoders use this instead of a
// bare Read since a fixed-size record may straddle two metadata blocks.
func (mr *metaReader) readFull(p []byte) error {
	for n := 0; n < len(p); {
		m, err := mr.Read(p[n:])
		if err != nil {
			return err
		}
		n += m
	}
	return nil
}
