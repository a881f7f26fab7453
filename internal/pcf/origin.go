package pcf

import (
	"context"
	"io"

	"github.com/omalloc/blockcache/internal/xhttp"
)

// OriginResponse is the collaborator-agnostic view of an HTTP response PCF
// needs: status, content length, first-value-per-name headers in their
// original order, and the (unread) body.
type OriginResponse struct {
	StatusCode    int
	ContentLength int64
	Headers       map[string]string
	HeaderOrder   []string
	Body          io.ReadCloser
}

// Origin is the HTTP collaborator PCF delegates actual network fetches to
// (spec §4.3 "open_origin()"/"phase 2" range fetches); CHC supplies the
// concrete implementation sharing its HTTP client (spec §3.6).
type Origin interface {
	// Get issues GET url with Accept-Encoding: identity. rng == nil means
	// a full-file request with no Range header; otherwise a single-range
	// "Range: bytes=rng.Start-rng.End" request.
	Get(ctx context.Context, url string, rng *xhttp.Range) (*OriginResponse, error)
}
