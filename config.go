package squashfs

// ExtractOptions controls an Extract traversal.
type ExtractOptions struct {
	// ChunkSize bounds the size of each OnFileChunk call. Zero means use
	// the image's own block size, which is also the largest chunk any
	// single data block decode can produce anyway.
	ChunkSize int

	// Lenient controls what happens when a per-entry error (one of the
	// kinds isFatalByDefault in errors.go lists) is hit mid-walk: false
	// aborts the traversal immediately, true reports it to Sink.OnWarning
	// and skips just the affected entry. Other errors always abort.
	Lenient bool
}

func (o ExtractOptions) chunkSize(blockSize uint32) int {
	if o.ChunkSize > 0 {
		return o.ChunkSize
	}
	return int(blockSize)
}
