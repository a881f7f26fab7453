package xhttp

import (
	"net/http"
	"net/http/httptrace"
)

// ClientIP extracts the originating client address, preferring forwarding headers
// over the raw connection's remote address.
func ClientIP(remoteAddr string, header http.Header) string {
	if addr := header.Get("X-Real-IP"); addr != "" {
		return addr
	}
	if addr := header.Get("X-Forwarded-For"); addr != "" {
		return addr
	}
	return remoteAddr
}

// WithFirstByteTrace attaches an httptrace that invokes onFirstByte the moment the
// first response byte arrives, independent of how long the body takes to drain.
func WithFirstByteTrace(req *http.Request, onFirstByte func()) *http.Request {
	tracer := &httptrace.ClientTrace{
		GotFirstResponseByte: onFirstByte,
	}
	return req.WithContext(httptrace.WithClientTrace(req.Context(), tracer))
}
