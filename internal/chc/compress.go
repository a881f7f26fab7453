package chc

import (
	"compress/gzip"
	"io"

	"github.com/andybalholm/brotli"
)

// autoDecompress wraps body with a transparent gzip/br decoder according to
// the response's Content-Encoding, matching the teacher's
// ReverseProxy.uncompress. Unknown or absent encodings pass the body
// through unchanged.
func autoDecompress(encoding string, body io.ReadCloser) io.ReadCloser {
	switch encoding {
	case "gzip":
		r, err := gzip.NewReader(body)
		if err != nil {
			return body
		}
		return &decompressReadCloser{Reader: r, underlying: body}
	case "br":
		return &decompressReadCloser{Reader: brotli.NewReader(body), underlying: body}
	default:
		return body
	}
}

type decompressReadCloser struct {
	io.Reader
	underlying io.ReadCloser
}

func (d *decompressReadCloser) Close() error {
	return d.underlying.Close()
}
