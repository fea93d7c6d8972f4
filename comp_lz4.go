package squashfs

import (
	"github.com/pierrec/lz4/v4"
)

// SquashFS's lz4 codec stores raw LZ4 blocks (no frame header, no checksum),
// the same format lz4 -1/-9 blocks use internally. pierrec/lz4/v4 exposes
// that directly via UncompressBlock/CompressBlock, unlike its frame API.
func decodeLZ4(src []byte, maxOut int) ([]byte, error) {
	out := make([]byte, maxOut)
	n, err := lz4.UncompressBlock(src, out)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

func encodeLZ4(buf []byte) ([]byte, error) {
	out := make([]byte, lz4.CompressBlockBound(len(buf)))
	var c lz4.Compressor
	n, err := c.CompressBlock(buf, out)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// incompressible: squashfs callers fall back to storing the block
		// uncompressed in this case, mirrored by the bit24 flag in block sizes.
		return buf, nil
	}
	return out[:n], nil
}

func init() {
	RegisterCompHandler(LZ4, &CompHandler{
		Decompress: decodeLZ4,
		Compress:   encodeLZ4,
	})
}
