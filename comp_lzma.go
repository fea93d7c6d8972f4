package squashfs

import (
	"bytes"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// SquashFS v4's lzma compressor writes a bare lzma1 stream: a 5-byte
// properties header (lc/lp/pb packed into the first byte, dictionary size
// in the next 4) followed directly by compressed data, with neither the
// 8-byte uncompressed-size field nor the end-of-stream marker the classic
// ".lzma" file format carries. ulikunitz/xz/lzma only knows how to read
// that classic 13-byte header, so we synthesize one: the 5 real property
// bytes plus an 8-byte "size unknown" marker (all 0xFF), then decode with
// output capped at maxOut the same way every other codec here is capped.
//
// Some packers emit the full 13-byte header instead; if decoding under
// the synthesized header fails outright, retry treating src as if it
// already carried one.
func decodeLZMA1(src []byte, maxOut int) ([]byte, error) {
	if len(src) < 5 {
		return nil, ErrMetaHeaderInvalid
	}

	header := make([]byte, 13)
	copy(header[:5], src[:5])
	for i := 5; i < 13; i++ {
		header[i] = 0xff
	}

	combined := io.MultiReader(bytes.NewReader(header), bytes.NewReader(src[5:]))
	r, err := lzma.NewReader(combined)
	if err == nil {
		out, err := readCapped(r, maxOut)
		if err == nil {
			return out, nil
		}
	}

	// Fallback: maybe this payload already carries a full legacy header.
	r2, err2 := lzma.NewReader(bytes.NewReader(src))
	if err2 != nil {
		if err != nil {
			return nil, err
		}
		return nil, err2
	}
	return readCapped(r2, maxOut)
}

func init() {
	RegisterCompHandler(LZMA, &CompHandler{
		Decompress: decodeLZMA1,
	})
}
