package squashfs

// exportLookup resolves an absolute inode number to its reference via the
// optional NFS export table, an indexed table of 8-byte inode references
// keyed by (inode number - 1) laid out exactly like the id table.
func (sb *Superblock) exportLookup(ino uint32) (inodeRef, error) {
	if ino == 0 {
		return 0, ErrInodeNotExported
	}
	rec, err := sb.lookupIndexed(sb.ExportTableStart, ino-1, 8)
	if err != nil {
		return 0, err
	}
	return inodeRef(sb.order.Uint64(rec)), nil
}
