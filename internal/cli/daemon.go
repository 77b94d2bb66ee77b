package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"discover/internal/metrics"
	"discover/internal/ui"
	"discover/pkg/catalog"
)

// shutdownTimeout bounds how long the metrics server drains on exit.
const shutdownTimeout = 5 * time.Second

var (
	daemonInterval time.Duration
	daemonMetrics  string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Check for updates periodically and serve metrics",
	Long: `Run in the foreground, checking every backend for updates on an
interval and serving Prometheus metrics about the catalog and
transactions. Stop it with Ctrl+C or SIGTERM.

Examples:
  discover daemon                          # Use the configured interval
  discover daemon --interval 1h
  discover daemon --metrics-addr :9464
  discover daemon --metrics-addr ""        # Without the metrics endpoint`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().DurationVar(&daemonInterval, "interval", 0, "time between update checks (default from config)")
	daemonCmd.Flags().StringVar(&daemonMetrics, "metrics-addr", "", "address to serve /metrics on (default from config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	interval := cfg.Daemon.CheckInterval.Duration
	if daemonInterval > 0 {
		interval = daemonInterval
	}
	addr := cfg.Daemon.MetricsAddr
	if cmd.Flags().Changed("metrics-addr") {
		addr = daemonMetrics
	}

	c, err := openCatalog(ctx)
	if err != nil {
		return err
	}
	runner.SetInteractive(false)

	stopWatch := collector.Watch()
	defer stopWatch()
	unsub := c.Updates().Subscribe(func(n int) {
		logger.Info("pending updates changed", zap.Int("count", n))
	})
	defer unsub()

	g, ctx := errgroup.WithContext(ctx)
	if addr != "" {
		srv := &http.Server{Addr: addr, Handler: metricsMux(collector), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("addr", addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	g.Go(func() error {
		checkLoop(ctx, c, interval)
		return nil
	})

	if !structured() {
		ui.InfoMsg("discover daemon running: checking every %s", interval)
		if addr != "" {
			ui.MutedMsg("  metrics on http://%s/metrics", addr)
		}
	}
	return g.Wait()
}

// metricsMux serves the collector and the Go runtime metrics on /metrics.
func metricsMux(col *metrics.Collector) *http.ServeMux {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		col,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	return mux
}

// checkLoop checks for updates right away and then every interval until ctx is done. A zero
// interval checks once.
func checkLoop(ctx context.Context, c *catalog.Catalog, interval time.Duration) {
	check := func() {
		start := time.Now()
		if err := c.CheckForUpdates(ctx); err != nil {
			if ctx.Err() == nil {
				logger.Warn("update check failed", zap.Error(err))
			}
			return
		}
		logger.Info("checked for updates",
			zap.Int("updates", c.UpdatesCount()),
			zap.Duration("took", time.Since(start)),
		)
	}

	check()
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			check()
		}
	}
}
