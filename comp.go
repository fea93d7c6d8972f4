package squashfs

import "fmt"

// Compression identifies one of the six codecs a SquashFS 4.0 image may
// select in its superblock.
type Compression uint16

const (
	GZip Compression = 1 + iota
	LZMA
	LZO
	XZ
	LZ4
	ZSTD
)

func (s Compression) String() string {
	switch s {
	case GZip:
		return "GZip"
	case LZMA:
		return "LZMA"
	case LZO:
		return "LZO"
	case XZ:
		return "XZ"
	case LZ4:
		return "LZ4"
	case ZSTD:
		return "ZSTD"
	}
	return fmt.Sprintf("Compression(%d)", s)
}

// Valid reports whether s is one of the six ids defined by the format.
// This is checked at open time; whether a decoder is actually registered
// for it is only checked the first time data needs decompressing, so an
// image naming a codec this build can't decode still opens successfully.
func (s Compression) Valid() bool {
	return s >= GZip && s <= ZSTD
}

// decompress runs the registered decoder for s over src, capping the
// decompressed output at maxOut bytes (8192 for metadata blocks, the
// filesystem's block size for data blocks and fragments).
func (s Compression) decompress(src []byte, maxOut int) ([]byte, error) {
	h, ok := compHandlers[s]
	if !ok {
		return nil, &UnsupportedCodecError{Id: s}
	}
	return h.Decompress(src, maxOut)
}

// compress runs the registered encoder for s, used only by the internal
// fixture builder (internal/fixture) to build test images.
func (s Compression) compress(src []byte) ([]byte, error) {
	h, ok := compHandlers[s]
	if !ok || h.Compress == nil {
		return nil, &UnsupportedCodecError{Id: s}
	}
	return h.Compress(src)
}

// Compress exposes the registered encoder for s to internal/fixture, the
// only caller outside this package that needs one: nothing in the decode
// path ever compresses data.
func Compress(s Compression, src []byte) ([]byte, error) {
	return s.compress(src)
}
