// Package chc implements the Cached HTTP coordinator (spec §2 component D,
// §3.6, §4.4): a deduplicated, disk-backed HTTP fetch layer sitting on top
// of the LFC, and the Origin collaborator PCF range-reads through.
//
// Grounded on the teacher's server/middleware/caching/locker.go
// (resourceLocker, folded into locker.go, though GetFile's per-URL lock is
// the loading table's per-item lock and resourceLocker is not called), and
// proxy/proxy.go's ReverseProxy.uncompress (gzip/br response decoding,
// folded into open_url's auto_compress option) minus its multi-node
// selector plumbing, which has no analogue in a single-origin coordinator.
//
// Precondition: DownloadFile must not rewrite a URL's data file while the
// same URL is being read through a PCF; the two paths are not synchronized
// with each other.
package chc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulbellamy/ratecounter"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/omalloc/blockcache/contrib/log"
	"github.com/omalloc/blockcache/internal/cacheerr"
	"github.com/omalloc/blockcache/internal/dirs"
	"github.com/omalloc/blockcache/internal/lfc"
	"github.com/omalloc/blockcache/internal/sidecar"
	"github.com/omalloc/blockcache/internal/urlhash"
	"github.com/omalloc/blockcache/internal/xhttp"
)

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chc_cache_hits_total",
		Help: "Number of get_file calls served without a download.",
	})
	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chc_cache_misses_total",
		Help: "Number of get_file calls that triggered a download.",
	})
	bytesDownloaded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chc_bytes_downloaded_total",
		Help: "Total response bytes streamed by download_file.",
	})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses, bytesDownloaded)
}

// Progress is emitted during download_file (spec §4.4).
type Progress struct {
	BytesReceived int64
	ExpectedTotal int64 // -1 when unknown
}

// HttpResponse is what open_url returns: the response plus a body readable
// once (spec §4.4).
type HttpResponse struct {
	StatusCode  int
	Headers     map[string]string
	HeaderOrder []string
	Body        io.ReadCloser
}

type item struct {
	lock *sync.Mutex
}

// CHC is the cached HTTP coordinator (spec §3.6): one shared http.Client,
// one LFC, and the loading table that serializes concurrent get_file calls
// per URL.
type CHC struct {
	lfc    *lfc.LFC
	client *http.Client

	mu      sync.Mutex
	loading map[string]*item

	sf singleflight.Group

	log *log.Helper
}

var (
	singletonOnce sync.Once
	singletonCHC  *CHC
	singletonErr  error
)

// Singleton lazily builds the one process-wide CHC rooted at
// <cacheDir>/http_cache (spec §4.4 "singleton()", §3.6 component F).
func Singleton(cacheDir string, maxSize uint64) (*CHC, error) {
	singletonOnce.Do(func() {
		root, err := dirs.CacheDir(cacheDir)
		if err != nil {
			singletonErr = err
			return
		}
		singletonCHC, singletonErr = New(root, maxSize)
	})
	return singletonCHC, singletonErr
}

// New builds a CHC rooted at dir with its own LFC and HTTP client. Most
// callers should use Singleton; New exists for tests that need isolated
// instances.
func New(dir string, maxSize uint64) (*CHC, error) {
	cache, err := lfc.Open(dir, maxSize)
	if err != nil {
		return nil, err
	}
	return &CHC{
		lfc:     cache,
		loading: make(map[string]*item),
		log:     log.NewHelper(log.With(log.GetLogger(), "module", "chc")),
		client: &http.Client{
			Transport: &http.Transport{
				MaxConnsPerHost:       100,
				MaxIdleConns:          1000,
				MaxIdleConnsPerHost:   100,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				DisableCompression:    true,
			},
		},
	}, nil
}

// Close releases the underlying LFC's index-file handle.
func (c *CHC) Close() error {
	return c.lfc.Close()
}

// openURLOptions configures OpenURL.
type openURLOptions struct {
	method       string
	headers      map[string]string
	autoCompress bool
	rng          *xhttp.Range
}

// OpenURLOption configures a single OpenURL call.
type OpenURLOption func(*openURLOptions)

// WithMethod overrides the default GET method.
func WithMethod(method string) OpenURLOption {
	return func(o *openURLOptions) { o.method = method }
}

// WithHeaders adds request headers.
func WithHeaders(h map[string]string) OpenURLOption {
	return func(o *openURLOptions) { o.headers = h }
}

// WithAutoCompress requests transparent gzip/br decoding of the response.
func WithAutoCompress(v bool) OpenURLOption {
	return func(o *openURLOptions) { o.autoCompress = v }
}

// WithRange requests a single byte range (inclusive end), used by PCF's
// phase-2 fetches.
func WithRange(rng xhttp.Range) OpenURLOption {
	return func(o *openURLOptions) { o.rng = &rng }
}

// OpenURL issues a single HTTP request with no caching (spec §4.4
// "open_url"). Used directly by collaborators, including PCF's Origin.
func (c *CHC) OpenURL(ctx context.Context, url string, opts ...OpenURLOption) (*HttpResponse, error) {
	o := openURLOptions{method: http.MethodGet}
	for _, opt := range opts {
		opt(&o)
	}

	req, err := http.NewRequestWithContext(ctx, o.method, url, nil)
	if err != nil {
		return nil, cacheerr.NewIOError("new_request", url, err)
	}
	req.Header.Set("Accept-Encoding", "identity")
	if o.autoCompress {
		req.Header.Set("Accept-Encoding", "gzip, br")
	}
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}
	if o.rng != nil {
		if o.rng.End < 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", o.rng.Start))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", o.rng.Start, o.rng.End))
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, cacheerr.NewHTTPError(0, err.Error())
	}

	body := resp.Body
	if o.autoCompress {
		body = autoDecompress(resp.Header.Get("Content-Encoding"), body)
	}

	headers := make(map[string]string, len(resp.Header))
	order := make([]string, 0, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
		order = append(order, k)
	}

	return &HttpResponse{
		StatusCode:  resp.StatusCode,
		Headers:     headers,
		HeaderOrder: order,
		Body:        body,
	}, nil
}

// downloadOptions configures DownloadFile.
type downloadOptions struct {
	headers  map[string]string
	progress func(Progress)
}

// DownloadOption configures a single DownloadFile call.
type DownloadOption func(*downloadOptions)

// WithProgress registers a progress callback.
func WithProgress(fn func(Progress)) DownloadOption {
	return func(o *downloadOptions) { o.progress = fn }
}

// WithDownloadHeaders sets request headers for the download.
func WithDownloadHeaders(h map[string]string) DownloadOption {
	return func(o *downloadOptions) { o.headers = h }
}

// DownloadFile streams url's body to dest+"."+<uuid>+".p", emitting progress events,
// then atomically renames to dest and writes the response headers into
// dest's sidecar in write mode (spec §4.4 "download_file"). Non-2xx
// responses fail and the temp file is removed.
func (c *CHC) DownloadFile(ctx context.Context, url, dest string, opts ...DownloadOption) (bool, error) {
	o := downloadOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	resp, err := c.OpenURL(ctx, url, WithHeaders(o.headers))
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, cacheerr.NewHTTPError(resp.StatusCode, "download_file: non-2xx response")
	}

	tmpPath := dest + "." + uuid.NewString() + ".p"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return false, cacheerr.NewIOError("open", tmpPath, err)
	}

	expected := int64(-1)
	if v, ok := resp.Headers["Content-Length"]; ok {
		fmt.Sscanf(v, "%d", &expected)
	}

	counter := ratecounter.NewRateCounter(time.Second)
	var received int64
	buf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				os.Remove(tmpPath)
				return false, cacheerr.NewIOError("write", tmpPath, werr)
			}
			received += int64(n)
			counter.Incr(int64(n))
			bytesDownloaded.Add(float64(n))
			if o.progress != nil {
				o.progress(Progress{BytesReceived: received, ExpectedTotal: expected})
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			f.Close()
			os.Remove(tmpPath)
			return false, cacheerr.NewIOError("read", url, rerr)
		}
	}
	f.Close()

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return false, cacheerr.NewIOError("rename", dest, err)
	}

	sidecarPath := dest + ".i"
	header := sidecar.NewHeader(url, resp.HeaderOrder, resp.Headers)
	if err := os.WriteFile(sidecarPath, sidecar.EncodeHeader(header), 0o644); err != nil {
		return true, cacheerr.NewIOError("write", sidecarPath, err)
	}

	c.log.Infow("msg", "download_file complete", "url", url, "bytes", received, "rate_bps", counter.Rate())
	return true, nil
}

// getFileOptions configures GetFile.
type getFileOptions struct {
	headers    map[string]string
	checkCache func(headers map[string]string) bool
}

// GetFileOption configures a single GetFile call.
type GetFileOption func(*getFileOptions)

// WithCheckCache overrides the default cache-control-driven predicate.
func WithCheckCache(fn func(headers map[string]string) bool) GetFileOption {
	return func(o *getFileOptions) { o.checkCache = fn }
}

// GetFile returns the deduplicated, cached path for url, downloading it on
// first access or when check_cache rejects the cached copy (spec §4.4
// "get_file algorithm"). The default predicate (defaultCheckCache) rejects
// the cached copy only when the stored headers forbid storing it (for
// example no-store or private); it does not compare max-age or Expires
// against the current time.
func (c *CHC) GetFile(ctx context.Context, url string, opts ...GetFileOption) (string, bool, error) {
	o := getFileOptions{checkCache: defaultCheckCache(url)}
	for _, opt := range opts {
		opt(&o)
	}

	key := urlhash.Hash(url)

	c.mu.Lock()
	it, ok := c.loading[url]
	if !ok {
		it = &item{lock: &sync.Mutex{}}
		c.loading[url] = it
	}
	c.mu.Unlock()

	path, err := c.lfc.GetFile(key)
	if err != nil {
		return "", false, err
	}

	var downloaded bool
	it.lock.Lock()
	func() {
		defer it.lock.Unlock()

		if fi, statErr := os.Stat(path); statErr == nil && fi.Size() > 0 {
			if raw, rerr := os.ReadFile(c.lfc.SidecarPath(key)); rerr == nil {
				if hdr, _, derr := sidecar.DecodeHeader(raw); derr == nil && o.checkCache(hdr.Headers) {
					cacheHits.Inc()
					return
				}
			}
		}

		v, dlErr, _ := c.sf.Do(url, func() (any, error) {
			ok, derr := c.DownloadFile(ctx, url, path, WithDownloadHeaders(o.headers))
			return ok, derr
		})
		if dlErr != nil {
			err = dlErr
			return
		}
		downloaded = v.(bool)
		cacheMisses.Inc()
	}()

	c.mu.Lock()
	delete(c.loading, url)
	c.mu.Unlock()

	if err != nil {
		return "", false, err
	}
	if downloaded {
		if err := c.lfc.Update(key, path); err != nil {
			return "", false, err
		}
	}
	return path, downloaded, nil
}

// GetCachedResponseHeaders is a non-blocking peek at the sidecar for url;
// it returns (nil, false) on any I/O or parse error rather than surfacing
// one (spec §4.4 "get_cached_response_headers").
func (c *CHC) GetCachedResponseHeaders(url string) (map[string]string, bool) {
	key := urlhash.Hash(url)
	raw, err := os.ReadFile(c.lfc.SidecarPath(key))
	if err != nil {
		return nil, false
	}
	hdr, _, err := sidecar.DecodeHeader(raw)
	if err != nil || hdr.URL != url {
		return nil, false
	}
	return hdr.Headers, true
}

// LFC exposes the underlying LRU file cache for components (e.g. the range
// proxy's admin endpoints) that need direct access.
func (c *CHC) LFC() *lfc.LFC { return c.lfc }
