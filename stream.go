package squashfs

// streamChunks reassembles a regular file's content block by block (plus
// its trailing fragment, if any) and hands each piece to yield, splitting
// oversized blocks to respect chunkSize. Unlike ReadAt, which supports
// arbitrary-offset random access, this only ever reads forward, the access
// pattern Extract needs and the one sequential extraction tools want.
func (i *Inode) streamChunks(path string, chunkSize int, yield func([]byte) error) error {
	var total uint64

	emit := func(buf []byte) error {
		total += uint64(len(buf))
		for len(buf) > 0 {
			n := len(buf)
			if chunkSize > 0 && n > chunkSize {
				n = chunkSize
			}
			if err := yield(buf[:n]); err != nil {
				return err
			}
			buf = buf[n:]
		}
		return nil
	}

	for idx, raw := range i.Blocks {
		var buf []byte

		switch {
		case raw == noFragment:
			tail, err := i.sb.fragmentTail(i.FragBlock, i.FragOfft, uint32(i.Size%uint64(i.sb.BlockSize)))
			if err != nil {
				return err
			}
			buf = tail
		case raw == 0:
			buf = make([]byte, i.sb.BlockSize)
		default:
			sz := raw &^ (blockSizeUncompressedFlag | blockSizeIncompressibleFlag)
			buf = make([]byte, sz)
			if _, err := i.sb.fs.ReadAt(buf, int64(i.StartBlock+i.BlocksOfft[idx])); err != nil {
				return err
			}
			if raw&(blockSizeUncompressedFlag|blockSizeIncompressibleFlag) == 0 {
				var err error
				buf, err = i.sb.Comp.decompress(buf, int(i.sb.BlockSize))
				if err != nil {
					return err
				}
			}
		}

		if err := emit(buf); err != nil {
			return err
		}
	}

	if total != i.Size {
		return &FileSizeMismatchError{Path: path, Want: i.Size, Got: total}
	}
	return nil
}
