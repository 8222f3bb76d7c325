package command

import (
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JABClari/zero/pkg/metrics"
	"github.com/JABClari/zero/pkg/page"
	"github.com/JABClari/zero/pkg/volume"
)

func buildLogger() (*zap.Logger, error) {
	if cfg.DevMode {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// serveMetrics starts a Prometheus endpoint for the lifetime of one command
// invocation, if --metrics-addr is set. It registers the collectors lazily
// so a command that never touches the engine doesn't pay for an unused
// registry.
func serveMetrics(log *zap.Logger) {
	if cfg.MetricsAddr == "" {
		return
	}
	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()
}

// openVolume opens the volume at --data-dir, replaying its log if needed,
// and registers the metrics endpoint for the duration of the call.
func openVolume() (*volume.Volume, *zap.Logger, error) {
	log, err := buildLogger()
	if err != nil {
		return nil, nil, err
	}
	serveMetrics(log)
	v, err := volume.Open(dataDir, cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("open volume %s: %w", dataDir, err)
	}
	return v, log, nil
}

func parseStoreID(s string) (page.StoreID, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid store id %q: %w", s, err)
	}
	return page.StoreID(n), nil
}

// exitWithError prints err to stderr and exits the process, mirroring
// etcdutl's cobrautl.ExitWithError without taking on that package as a
// dependency of a module that otherwise doesn't touch etcd at runtime.
func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
