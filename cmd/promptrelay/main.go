package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/promptrelay/internal/config"
	"github.com/gaspardpetit/promptrelay/internal/drain"
	"github.com/gaspardpetit/promptrelay/internal/gemini"
	"github.com/gaspardpetit/promptrelay/internal/logx"
	"github.com/gaspardpetit/promptrelay/internal/metrics"
	"github.com/gaspardpetit/promptrelay/internal/server"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.ServerConfig
	// defaults < file < .env < env < args
	cfg.SetDefaults()
	cfg.ApplyEnv()
	cfg.ScanPathArgs(os.Args[1:])
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	if err := cfg.LoadDotEnv(cfg.EnvFile); err != nil {
		logx.Log.Fatal().Err(err).Str("path", cfg.EnvFile).Msg("load env file")
	}
	cfg.ApplyEnv()
	cfg.BindFlagsFromCurrent(flag.CommandLine)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "promptrelay version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Printf("promptrelay version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}

	logx.Configure(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logx.Log.Fatal().Err(err).Msg("invalid configuration")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)
	metrics.SetServerBuildInfo(version, buildSHA, buildDate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen, err := gemini.New(ctx, gemini.Options{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("gemini client")
	}

	tracker := drain.New()
	handler, err := server.New(cfg, gen, tracker, reg)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("build server")
	}
	srv := &http.Server{Addr: cfg.ListenAddr(), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	var metricsSrv *http.Server
	if !cfg.MetricsOnMain() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigCh {
			if tracker.IsDraining() || cfg.DrainTimeout == 0 {
				logx.Log.Warn().Msg("termination requested")
				cancel()
				return
			}
			tracker.Start()
			logx.Log.Info().Int64("inflight", tracker.InFlight()).Dur("timeout", cfg.DrainTimeout).Msg("draining; send SIGTERM again to terminate immediately")
			go func() {
				waitCtx, stop := context.WithTimeout(ctx, cfg.DrainTimeout)
				defer stop()
				if tracker.WaitForZero(waitCtx) {
					logx.Log.Info().Msg("drain complete; terminating")
				} else if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
					logx.Log.Warn().Int64("inflight", tracker.InFlight()).Msg("drain timeout exceeded; terminating")
				}
				cancel()
			}()
		}
	}()

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		logx.Log.Fatal().Err(err).Str("addr", srv.Addr).Msg("listen")
	}
	var metricsDone chan struct{}
	if metricsSrv != nil {
		metricsLn, err := net.Listen("tcp", metricsSrv.Addr)
		if err != nil {
			logx.Log.Fatal().Err(err).Str("addr", metricsSrv.Addr).Msg("listen metrics")
		}
		metricsDone = make(chan struct{})
		go func() {
			defer close(metricsDone)
			logx.Log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
			if err := serveUntil(ctx, metricsSrv, metricsLn, shutdownTimeout); err != nil {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}
	logx.Log.Info().Int("port", cfg.Port).Str("model", gen.Model()).Msg("server starting")
	if err := serveUntil(ctx, srv, ln, shutdownTimeout); err != nil {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
	if metricsDone != nil {
		<-metricsDone
	}
}

const shutdownTimeout = 5 * time.Second

// serveUntil serves srv on ln until ctx ends, then shuts it down. It returns
// only after in-flight responses have been written or timeout has passed.
func serveUntil(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), timeout)
	defer stop()
	shutdownErr := srv.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		_ = srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}
	return nil
}
