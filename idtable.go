package squashfs

// idLookup resolves a 16-bit uid/gid table index (as carried on every
// inode) into the real 32-bit id. Indices are shared between uid and gid;
// the same table serves both.
func (sb *Superblock) idLookup(idx uint16) (uint32, error) {
	if uint32(idx) >= uint32(sb.IdCount) {
		return 0, ErrInvalidSuper
	}
	rec, err := sb.lookupIndexed(sb.IdTableStart, uint32(idx), 4)
	if err != nil {
		return 0, err
	}
	return sb.order.Uint32(rec), nil
}
