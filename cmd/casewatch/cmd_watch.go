package main

// ---------------------------------------------------------------------------
// cmd_watch.go: live mode: tail sources and syslog, correlate on a ticker
// ---------------------------------------------------------------------------

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/1sec-project/casewatch/internal/collect"
	"github.com/1sec-project/casewatch/internal/core"
	"github.com/1sec-project/casewatch/internal/engine"
	"github.com/1sec-project/casewatch/internal/ingest"
	"github.com/1sec-project/casewatch/internal/metrics"
)

func cmdWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	syslogFlag := fs.Bool("syslog", false, "Enable the syslog listener regardless of config")
	metricsAddr := fs.String("metrics-addr", "", "Serve /metrics on this address")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *syslogFlag {
		cfg.Syslog.Enabled = true
	}
	if *metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = *metricsAddr
	}
	logger := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := engine.NewStream(cfg.Detection)
	handle, reorder := watchPipeline(cfg.Engine, stream, logger)

	mgr := collect.NewManager(logger)
	if err := mgr.StartAll(ctx, cfg.Collect, handle); err != nil {
		errorf("starting collectors: %v", err)
	}
	defer mgr.StopAll()

	var syslogSrv *ingest.SyslogServer
	if cfg.Syslog.Enabled {
		syslogSrv = ingest.NewSyslogServer(&cfg.Syslog, collect.NewParser(cfg.Collect), handle, logger)
		if err := syslogSrv.Start(ctx); err != nil {
			errorf("starting syslog listener: %v", err)
		}
		defer syslogSrv.Stop()
	}

	if mgr.Count() == 0 && syslogSrv == nil {
		errorf("nothing to watch: configure collect.sources or enable syslog")
	}

	pubs := []*engine.Publisher{}
	logPub, err := engine.NewPublisher(logSink{logger: logger}, cfg.Bus.DedupCacheSize, logger)
	if err != nil {
		errorf("%v", err)
	}
	pubs = append(pubs, logPub)

	if cfg.Bus.Enabled {
		bus, err := core.NewAlertBus(&cfg.Bus, logger)
		if err != nil {
			errorf("connecting to bus: %v", err)
		}
		defer bus.Close()
		busPub, err := engine.NewPublisher(bus, cfg.Bus.DedupCacheSize, logger)
		if err != nil {
			errorf("%v", err)
		}
		pubs = append(pubs, busPub)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv, err = startMetricsServer(cfg.Metrics.Addr, logger)
		if err != nil {
			errorf("starting metrics endpoint: %v", err)
		}
	}

	logger.Info().
		Int("collectors", mgr.Count()).
		Bool("syslog", syslogSrv != nil).
		Bool("bus", cfg.Bus.Enabled).
		Dur("interval", cfg.Engine.CorrelateInterval).
		Dur("reorder_window", cfg.Engine.ReorderWindow).
		Msg("casewatch watching")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Engine.CorrelateInterval)
	defer ticker.Stop()

	var expireC <-chan time.Time
	if reorder != nil {
		expire := time.NewTicker(max(cfg.Engine.ReorderWindow/2, 100*time.Millisecond))
		defer expire.Stop()
		expireC = expire.C
	}

loop:
	for {
		select {
		case <-expireC:
			reorder.Expire()
		case <-ticker.C:
			correlateOnce(stream, pubs, logger)
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			break loop
		}
	}

	cancel()
	if reorder != nil {
		reorder.Flush()
	}
	correlateOnce(stream, pubs, logger)

	if metricsSrv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics server shutdown")
		}
	}
	fmt.Fprintf(os.Stderr, "%s stopped after %d events\n", green("✓"), stream.Events())
}

// watchPipeline builds the handler every source delivers to:
// cross-source dedup, then the reorder buffer, then the stream. The returned
// Reorder is nil when reordering is disabled.
func watchPipeline(cfg core.EngineConfig, stream *engine.Stream, logger zerolog.Logger) (collect.Handler, *engine.Reorder) {
	handle := ingestHandler(stream, logger)

	var reorder *engine.Reorder
	if cfg.ReorderWindow > 0 {
		reorder = engine.NewReorder(cfg.ReorderWindow, handle)
		handle = reorder.Push
	}
	if cfg.DedupTTL > 0 {
		handle = dedupHandler(core.NewEventDedup(cfg.DedupTTL, 0), handle)
	}
	return handle, reorder
}

// ingestHandler feeds events into the stream. Out-of-order events are
// counted and dropped.
func ingestHandler(stream *engine.Stream, logger zerolog.Logger) collect.Handler {
	return func(e core.Event) {
		raised, err := stream.Ingest(e)
		if err != nil {
			if errors.Is(err, core.ErrOutOfOrder) {
				logger.Warn().Err(err).Str("type", string(e.Type)).Msg("dropping out-of-order event")
				return
			}
			logger.Error().Err(err).Msg("ingest failed")
			return
		}
		for _, a := range raised {
			logger.Info().
				Str("signal", string(a.Signal)).
				Str("entity", a.Entity.Key()).
				Int("weight", a.Weight).
				Msg("alert raised")
		}
	}
}

// dedupHandler drops lines already delivered by another source. Repeats from
// the same source pass through.
func dedupHandler(dedup *core.EventDedup, next collect.Handler) collect.Handler {
	return func(e core.Event) {
		if dedup.IsDuplicate(e) {
			return
		}
		next(e)
	}
}

// correlateOnce rebuilds cases from every alert so far and hands new alerts
// and changed cases to each publisher.
func correlateOnce(stream *engine.Stream, pubs []*engine.Publisher, logger zerolog.Logger) {
	alerts := stream.Alerts()
	cases := stream.Cases()
	for _, p := range pubs {
		if _, err := p.Publish(alerts, cases); err != nil {
			logger.Warn().Err(err).Msg("publish incomplete, will retry")
		}
	}
}

// logSink reports changed cases through the logger.
type logSink struct {
	logger zerolog.Logger
}

func (s logSink) PublishAlert(core.EventAlert) error { return nil }

func (s logSink) PublishCase(c core.CaseAlert) error {
	ev := s.logger.Info()
	if c.Severity == core.SeverityHigh {
		ev = s.logger.Warn()
	}
	ev.Str("case_id", c.ID).
		Str("entity", c.Entity.Key()).
		Int("score", c.Score).
		Str("severity", c.Severity.String()).
		Int("detections", c.AttackMetrics.TotalDetections).
		Msg("case updated")
	return nil
}

func startMetricsServer(addr string, logger zerolog.Logger) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
	return srv, nil
}
