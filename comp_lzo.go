package squashfs

import (
	"bytes"

	"github.com/anchore/go-lzo"
)

// LZO is the one codec of the six with no maintained pure-Go encoder in
// the ecosystem; go-lzo only decompresses, which is all a read-only
// extractor needs. SquashFS uses the LZO1X variant.
func decodeLZO(src []byte, maxOut int) ([]byte, error) {
	out, err := lzo.Decompress1X(bytes.NewReader(src), len(src), maxOut)
	if err != nil {
		return nil, err
	}
	if len(out) > maxOut {
		out = out[:maxOut]
	}
	return out, nil
}

func init() {
	RegisterCompHandler(LZO, &CompHandler{
		Decompress: decodeLZO,
	})
}
