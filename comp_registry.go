package squashfs

import (
	"bytes"
	"io"
)

// CompHandler wires a Compression id to concrete (de)compression functions.
// Decompress is required; Compress is only used by the internal test-fixture
// builder (internal/fixture) and may be left nil for codecs this build can
// only read.
type CompHandler struct {
	Decompress func(src []byte, maxOut int) ([]byte, error)
	Compress   func(src []byte) ([]byte, error)
}

var compHandlers = make(map[Compression]*CompHandler)

// RegisterCompHandler registers h as the decoder/encoder pair for id.
// Codec files (comp_*.go) call this from an init().
func RegisterCompHandler(id Compression, h *CompHandler) {
	compHandlers[id] = h
}

// MakeDecompressor adapts a streaming decompressor constructor (one that
// cannot fail at construction time, such as zstd's ZipDecompressor) into
// the (src, maxOut) -> ([]byte, error) shape the registry expects.
func MakeDecompressor(mk func(io.Reader) io.ReadCloser) func([]byte, int) ([]byte, error) {
	return func(src []byte, maxOut int) ([]byte, error) {
		rc := mk(bytes.NewReader(src))
		defer rc.Close()
		return readCapped(rc, maxOut)
	}
}

// MakeDecompressorErr is like MakeDecompressor but for constructors that
// can fail immediately (xz.NewReader parses a header up front, for
// example).
func MakeDecompressorErr(mk func(io.Reader) (io.ReadCloser, error)) func([]byte, int) ([]byte, error) {
	return func(src []byte, maxOut int) ([]byte, error) {
		rc, err := mk(bytes.NewReader(src))
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return readCapped(rc, maxOut)
	}
}

// readCapped copies at most maxOut bytes from r. Squashfs doesn't record
// the exact uncompressed length up front (only an upper bound: 8192 for
// metadata, block_size for data/fragments), so io.EOF before maxOut bytes
// is the common case, not an error.
func readCapped(r io.Reader, maxOut int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(maxOut)
	_, err := io.Copy(&buf, io.LimitReader(r, int64(maxOut)))
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
