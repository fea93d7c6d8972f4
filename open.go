package squashfs

import "os"

// imageFile wraps an *os.File so Superblock can Close the underlying
// descriptor it opened itself; images handed to New directly (e.g. an
// in-memory []byte via bytes.Reader, or a test fake) are never closed by
// this package.
type imageFile struct {
	*os.File
}

// Open opens the SquashFS image at path and parses its superblock.
func Open(path string, opts ...Option) (*Superblock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	sb, err := New(imageFile{f}, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return sb, nil
}

// Close releases the underlying file descriptor, if Open opened one.
func (s *Superblock) Close() error {
	if f, ok := s.fs.(imageFile); ok {
		return f.Close()
	}
	return nil
}
