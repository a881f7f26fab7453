package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudflare/tableflip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/omalloc/blockcache/conf"
	"github.com/omalloc/blockcache/contrib/config"
	"github.com/omalloc/blockcache/contrib/config/provider/file"
	"github.com/omalloc/blockcache/contrib/log"
	"github.com/omalloc/blockcache/contrib/transport"
	"github.com/omalloc/blockcache/internal/chc"
	"github.com/omalloc/blockcache/internal/lfc"
	"github.com/omalloc/blockcache/internal/pcf"
	"github.com/omalloc/blockcache/internal/rangeproxy"
)

var (
	id, _ = os.Hostname()

	// flagConf is the config flag.
	flagConf string = "config.yaml"
	// flagVerbose is the verbose flag.
	flagVerbose bool

	// Version is the version of the app.
	Version string = "no-set"
	GitHash string = "no-set"
	Built   string = "0"
)

func init() {
	// init flag
	flag.StringVar(&flagConf, "c", "config.yaml", "config file path")
	flag.BoolVar(&flagVerbose, "v", false, "enable verbose log")

	// init logger
	log.SetLogger(log.With(log.DefaultLogger, "ts", log.Timestamp(time.RFC3339), "pid", os.Getpid()))

	// init prometheus
	prometheus.Unregister(collectors.NewGoCollector())
	registerer := prometheus.WrapRegistererWithPrefix("blockcache_", prometheus.DefaultRegisterer)
	registerer.MustRegister(collectors.NewGoCollector(collectors.WithGoCollectorMemStatsMetricsDisabled()))
}

func main() {
	flag.Parse()

	c := config.New[conf.Bootstrap](config.WithSource(file.NewSource(flagConf)))
	defer c.Close()

	bc := &conf.Bootstrap{}
	if err := c.Scan(bc); err != nil {
		log.Fatal(err)
	}

	servers, flip, err := newServers(bc)
	if err != nil {
		log.Fatal(err)
	}

	if err := run(servers, flip, 120*time.Second); err != nil {
		log.Fatal(err)
	}
}

// newServers wires the cache directory, the cached HTTP coordinator, the
// PCF table rooted on it, and the range-proxy server that serves out of
// it: the range proxy sits on the PCF table, which sits on the
// coordinator's LRU file cache and origin client.
func newServers(bc *conf.Bootstrap) ([]transport.Server, *tableflip.Upgrader, error) {
	stopTimeout := 120 * time.Second

	// graceful upgrade
	flip, err := tableflip.New(tableflip.Options{
		PIDFile:        bc.PidFile,
		UpgradeTimeout: stopTimeout,
	})
	if err != nil {
		return nil, nil, err
	}

	// graceful upgrade if we have not parent process
	// remove unix socket file.
	if !flip.HasParent() {
		if strings.HasSuffix(bc.Server.Addr, ".sock") {
			_ = os.Remove(bc.Server.Addr) // remove unix socket
		}
	}

	maxSize := uint64(0)
	if bc.Cache != nil {
		maxSize = bc.Cache.MaxSize
	}
	if maxSize == 0 {
		maxSize = lfc.DefaultMaxSize
	}
	cacheDir := ""
	if bc.Cache != nil {
		cacheDir = bc.Cache.Dir
	}
	coordinator, err := chc.Singleton(cacheDir, maxSize)
	if err != nil {
		return nil, nil, err
	}

	table := pcf.NewTable(coordinator.LFC(), coordinator.Origin())

	servers := []transport.Server{
		rangeproxy.NewServer(flip, bc.Server.Addr, table),
	}

	return servers, flip, nil
}

// run starts every server in its own goroutine, waits for either an
// upgrade request or SIGINT/SIGTERM, then stops each server within a
// bounded window. This replaces the framework-level app runner the
// original multi-plugin bootstrap used, which this cache daemon has no
// use for with a single transport.Server.
func run(servers []transport.Server, flip *tableflip.Upgrader, stopTimeout time.Duration) error {
	errs := make(chan error, len(servers))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, srv := range servers {
		go func(srv transport.Server) {
			if err := srv.Start(ctx); err != nil {
				errs <- err
			}
		}(srv)
	}

	if err := flip.Ready(); err != nil {
		return err
	}
	defer flip.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-flip.Exit():
		log.Infof("received upgrade signal, shutting down")
	case s := <-sig:
		log.Infof("received signal %s, shutting down", s)
	case err := <-errs:
		log.Errorf("server error: %v", err)
	}

	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()

	var stopErr error
	for _, srv := range servers {
		if err := srv.Stop(stopCtx); err != nil {
			stopErr = err
		}
	}
	return stopErr
}
