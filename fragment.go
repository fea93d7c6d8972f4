package squashfs

// fragmentEntry is one 16-byte record of the fragment table: the absolute
// start offset of a compressed fragment block, its on-disk size (with
// bit24 marking the block as stored uncompressed), and 4 reserved bytes.
type fragmentEntry struct {
	Start          uint64
	OnDiskSize     uint32
	IsUncompressed bool
}

const fragBlockUncompressedFlag = 1 << 24

func (sb *Superblock) fragment(index uint32) (fragmentEntry, error) {
	rec, err := sb.lookupIndexed(sb.FragTableStart, index, 16)
	if err != nil {
		return fragmentEntry{}, err
	}
	size := sb.order.Uint32(rec[8:12])
	return fragmentEntry{
		Start:          sb.order.Uint64(rec[0:8]),
		OnDiskSize:     size &^ fragBlockUncompressedFlag,
		IsUncompressed: size&fragBlockUncompressedFlag != 0,
	}, nil
}

// fragCacheEntry holds the single most-recently-decompressed fragment
// block, so small files packed into the same fragment don't each pay a
// fresh decompress. A one-entry cache bounds memory regardless of how
// many files reference the block.
type fragCacheEntry struct {
	valid bool
	start uint64
	data  []byte
}

// fragmentTail returns the size bytes starting at offset within the
// fragment block referenced by index, reading (and, unless stored
// uncompressed, decompressing) that block only if it isn't already the
// cached one.
func (sb *Superblock) fragmentTail(index uint32, offset, size uint32) ([]byte, error) {
	fe, err := sb.fragment(index)
	if err != nil {
		return nil, err
	}

	if !sb.fragCache.valid || sb.fragCache.start != fe.Start {
		raw := make([]byte, fe.OnDiskSize)
		if _, err := sb.fs.ReadAt(raw, int64(fe.Start)); err != nil {
			return nil, err
		}
		if !fe.IsUncompressed {
			raw, err = sb.Comp.decompress(raw, int(sb.BlockSize))
			if err != nil {
				return nil, err
			}
		}
		sb.fragCache = fragCacheEntry{valid: true, start: fe.Start, data: raw}
	}

	end := offset + size
	if end > uint32(len(sb.fragCache.data)) {
		return nil, ErrBlockSizeOverflow
	}
	return sb.fragCache.data[offset:end], nil
}
