// Package metrics carries a request-scoped metric bag through the range
// proxy's handler, reporting request ID, byte counters, and cache status
// on the response (spec §4.5/§6.6's X-Request-ID/X-Cache headers).
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/omalloc/blockcache/internal/constants"
)

// CacheStatus classifies how a range request was served, reported via the
// X-Cache response header.
type CacheStatus string

const (
	// CacheHit means every block in the requested range was already
	// present; no origin fetch was needed.
	CacheHit CacheStatus = "HIT"
	// CachePartHit means some but not all blocks in the requested range
	// were present; a partial origin fetch filled the rest.
	CachePartHit CacheStatus = "PART-HIT"
	// CacheMiss means no block in the requested range was present.
	CacheMiss CacheStatus = "MISS"
)

type requestMetricKey struct{}

// RequestMetric is the per-request metric bag attached to a range-proxy
// request's context.
type RequestMetric struct {
	StartAt     time.Time
	RequestID   string
	RecvReq     uint64
	SentResp    uint64
	StoreUrl    string
	CacheStatus CacheStatus
	RemoteAddr  string
}

// WithRequestMetric attaches a fresh RequestMetric to req's context,
// reusing any inbound X-Request-ID rather than minting a new one.
func WithRequestMetric(req *http.Request) (*http.Request, *RequestMetric) {
	metric := &RequestMetric{
		StartAt:    time.Now(),
		RequestID:  MustParseRequestID(req.Header),
		RemoteAddr: req.RemoteAddr,
	}
	return req.WithContext(newContext(req.Context(), metric)), metric
}

// FromContext returns the RequestMetric attached by WithRequestMetric, or
// a zero-value one if none was attached.
func FromContext(ctx context.Context) *RequestMetric {
	if v, ok := ctx.Value(requestMetricKey{}).(*RequestMetric); ok {
		return v
	}
	return &RequestMetric{}
}

func newContext(ctx context.Context, metric *RequestMetric) context.Context {
	return context.WithValue(ctx, requestMetricKey{}, metric)
}

// MustParseRequestID returns h's X-Request-ID, generating a new uuid when
// absent.
func MustParseRequestID(h http.Header) string {
	id := h.Get(constants.ProtocolRequestIDKey)
	if id == "" {
		return uuid.NewString()
	}
	return id
}
