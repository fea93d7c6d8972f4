package squashfs

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
)

// SquashFS's "gzip" compressor is, despite the name, RFC1950 zlib framing
// around a raw DEFLATE stream - not the gzip container format.
func init() {
	RegisterCompHandler(GZip, &CompHandler{
		Decompress: MakeDecompressorErr(func(r io.Reader) (io.ReadCloser, error) {
			return zlib.NewReader(r)
		}),
		Compress: func(buf []byte) ([]byte, error) {
			var out bytes.Buffer
			w := zlib.NewWriter(&out)
			if _, err := w.Write(buf); err != nil {
				w.Close()
				return nil, err
			}
			if err := w.Close(); err != nil {
				return nil, err
			}
			return out.Bytes(), nil
		},
	})
}
