package chc

import (
	"context"
	"net/http"

	"github.com/omalloc/blockcache/internal/pcf"
	"github.com/omalloc/blockcache/internal/xhttp"
)

// originAdapter implements pcf.Origin over a CHC's shared HTTP client
// (spec §3.6: "the shared HTTP client is used by both CHC.open_url and
// PCF's range fetches").
type originAdapter struct {
	chc *CHC
}

// Origin returns a pcf.Origin backed by c's shared client.
func (c *CHC) Origin() pcf.Origin {
	return &originAdapter{chc: c}
}

func (o *originAdapter) Get(ctx context.Context, url string, rng *xhttp.Range) (*pcf.OriginResponse, error) {
	opts := []OpenURLOption{}
	if rng != nil {
		opts = append(opts, WithRange(*rng))
	}

	resp, err := o.chc.OpenURL(ctx, url, opts...)
	if err != nil {
		return nil, err
	}

	h := make(http.Header, len(resp.Headers))
	for k, v := range resp.Headers {
		h.Set(k, v)
	}
	length := int64(-1)
	if cr, err := xhttp.ParseContentRange(h); err == nil {
		length = cr.ObjSize
	}

	return &pcf.OriginResponse{
		StatusCode:    resp.StatusCode,
		ContentLength: length,
		Headers:       resp.Headers,
		HeaderOrder:   resp.HeaderOrder,
		Body:          resp.Body,
	}, nil
}
