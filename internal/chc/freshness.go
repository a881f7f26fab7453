package chc

import (
	"net/http"

	"github.com/pquerna/cachecontrol/cacheobject"
)

// defaultCheckCache builds GetFile's default check_cache predicate: the
// cached copy is trusted unless cacheobject reports a reason the stored
// response may not be stored at all (for example no-store or private).
// The expiration time it computes from max-age/Expires is not compared
// against the current time, so an expired but storable copy is trusted.
//
// Grounded on bboehmke-gitmproxy/cache.go's
// cacheobject.UsingRequestResponse(req, status, header, false) call before
// deciding whether a freshly downloaded response may be cached; reused
// here in the opposite direction, on a synthetic GET request, to decide
// whether an *already cached* copy is still usable.
func defaultCheckCache(url string) func(headers map[string]string) bool {
	return func(headers map[string]string) bool {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return true
		}

		h := make(http.Header, len(headers))
		for k, v := range headers {
			h.Set(k, v)
		}

		reasons, _, err := cacheobject.UsingRequestResponse(req, http.StatusOK, h, false)
		if err != nil {
			return true
		}
		return len(reasons) == 0
	}
}
