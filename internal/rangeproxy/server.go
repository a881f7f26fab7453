// Package rangeproxy implements the loopback range-proxy HTTP server
// (spec §2 component E, §4.5, §6.6): the target URL is the request path,
// percent-encoded, and the response streams straight out of a PCF.
//
// Grounded on the teacher's server/server.go (HTTPServer Start/Stop
// lifecycle over a tableflip.Upgrader, transport.Server interface) with
// its plugin/middleware-chain/local-API-mux machinery stripped — this
// proxy has exactly one route.
package rangeproxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudflare/tableflip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omalloc/blockcache/contrib/log"
	"github.com/omalloc/blockcache/contrib/transport"
	"github.com/omalloc/blockcache/internal/cacheerr"
	"github.com/omalloc/blockcache/internal/constants"
	"github.com/omalloc/blockcache/internal/pcf"
	"github.com/omalloc/blockcache/internal/xhttp"
	"github.com/omalloc/blockcache/metrics"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rangeproxy_requests_total",
		Help: "Range-proxy requests by response status class.",
	}, []string{"status"})
	bytesServed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rangeproxy_bytes_served_total",
		Help: "Total response bytes streamed to range-proxy clients.",
	})
	cacheStatusTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rangeproxy_cache_status_total",
		Help: "Range-proxy requests by cache status (hit/part-hit/miss).",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(requestsTotal, bytesServed, cacheStatusTotal)
}

// Server is the loopback range-proxy (spec §4.5).
type Server struct {
	*http.Server

	addr     string
	flip     *tableflip.Upgrader
	table    *pcf.Table
	listener net.Listener
}

// NewServer builds a range-proxy server rooted at table, listening on addr.
func NewServer(flip *tableflip.Upgrader, addr string, table *pcf.Table) transport.Server {
	s := &Server{
		addr:  addr,
		flip:  flip,
		table: table,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}).ServeHTTP)
	mux.HandleFunc("/", s.handle)

	s.Server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start implements transport.Server.
func (s *Server) Start(ctx context.Context) error {
	s.BaseContext = func(net.Listener) context.Context { return ctx }

	ln, err := s.listen()
	if err != nil {
		return err
	}
	s.listener = ln

	log.Infof("range proxy listening on %s", s.addr)
	if err := s.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop implements transport.Server: shuts the HTTP listener down, then
// clears the process-wide PCF table (spec §4.5 step 5).
func (s *Server) Stop(ctx context.Context) error {
	err := s.Shutdown(ctx)
	s.table.Clear()
	return err
}

func (s *Server) listen() (net.Listener, error) {
	if s.flip != nil {
		return s.flip.Fds.Listen("tcp", s.addr)
	}
	return net.Listen("tcp", s.addr)
}

// decodeURL implements §6.6's decode_url: strip the leading "/" and
// percent-decode the remainder.
func decodeURL(r *http.Request) (string, error) {
	return url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/"))
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	target, err := decodeURL(r)
	if err != nil || target == "" {
		requestsTotal.WithLabelValues("400").Inc()
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	r, reqMetric := metrics.WithRequestMetric(r)
	w.Header().Set(constants.ProtocolRequestIDKey, reqMetric.RequestID)

	ctx := r.Context()
	p, err := s.table.Accrue(ctx, target, nil)
	if err != nil {
		log.Errorf("rangeproxy: accrue %s: %v", target, err)
		requestsTotal.WithLabelValues("502").Inc()
		w.WriteHeader(statusFor(err))
		return
	}
	defer s.table.Release(p)

	length := p.Length()
	rng, hasRange, err := xhttp.ParseRange(r.Header.Get("Range"), length)
	if err != nil {
		requestsTotal.WithLabelValues("416").Inc()
		w.Header().Set("Content-Range", "bytes 0-0/"+strconv.FormatInt(length, 10))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	headers, order := p.ResponseHeaders()
	for _, name := range order {
		if strings.EqualFold(name, "Content-Length") || strings.EqualFold(name, "Content-Range") {
			continue
		}
		w.Header().Set(name, headers[name])
	}

	start, end := int64(0), length
	status := http.StatusOK
	if hasRange {
		start, end = rng.Start, rng.End+1
		status = http.StatusPartialContent
		w.Header().Set("Content-Range", rng.ContentRange(length))
	}

	reqMetric.CacheStatus = cacheStatusFor(p, start, end)
	cacheStatusTotal.WithLabelValues(string(reqMetric.CacheStatus)).Inc()
	w.Header().Set(constants.ProtocolCacheStatusKey, string(reqMetric.CacheStatus))

	w.Header().Set("Content-Length", strconv.FormatInt(end-start, 10))
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(status)

	requestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	if r.Method == http.MethodHead {
		return
	}

	stream := p.Read(ctx, start, end)
	defer stream.Close()

	n, err := io.Copy(w, stream)
	if err != nil {
		log.Errorf("rangeproxy: stream %s: %v", target, err)
	}
	reqMetric.SentResp = uint64(n)
	bytesServed.Add(float64(n))
}

// cacheStatusFor classifies a [start, end) read against p's current block
// coverage: fully present is a hit, partially present is a part-hit, and
// nothing present is a miss.
func cacheStatusFor(p *pcf.PCF, start, end int64) metrics.CacheStatus {
	present, total := p.RangeCoverage(start, end)
	switch {
	case total == 0 || present == total:
		return metrics.CacheHit
	case present == 0:
		return metrics.CacheMiss
	default:
		return metrics.CachePartHit
	}
}

func statusFor(err error) int {
	var httpErr *cacheerr.HTTPError
	if errors.As(err, &httpErr) && httpErr.Status != 0 {
		return httpErr.Status
	}
	return http.StatusBadGateway
}
