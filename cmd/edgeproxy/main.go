// edgeproxy terminates HTTP/3-over-QUIC from clients and forwards requests
// to HTTP/2 origin pools behind pluggable load balancing and health checks.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"edgeproxy/internal/config"
	"edgeproxy/internal/h2pool"
	"edgeproxy/internal/healthprobe"
	"edgeproxy/internal/lb"
	"edgeproxy/internal/listener"
	"edgeproxy/internal/logging"
	"edgeproxy/internal/metrics"
	"edgeproxy/internal/proxy"
	"edgeproxy/internal/tlsmaterial"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
	gitHash   = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "edgeproxy",
		Short: "edgeproxy - HTTP/3 to HTTP/2 edge reverse proxy",
		Long: `edgeproxy terminates HTTP/3 over QUIC from clients and forwards
requests to HTTP/2 PRIOR_KNOWLEDGE origin pools, selected by host and
longest-path-prefix routing and balanced across backends with
configurable load-balancing policies and active health checking.`,
		Version: fmt.Sprintf("%s (built: %s, commit: %s)", version, buildTime, gitHash),
		RunE:    run,
	}

	rootCmd.Flags().StringP("config", "c", "", "Configuration file path (required)")
	rootCmd.Flags().String("log-level", "", "Override the configured log level")
	_ = rootCmd.MarkFlagRequired("config")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.WithFields(map[string]interface{}{
		"version": version,
		"listen":  cfg.ListenAddress(),
		"pools":   len(cfg.Upstream),
	}).Info("starting edgeproxy")

	cert, err := tlsmaterial.Load(cfg.Listen.TLS.Cert, cfg.Listen.TLS.Key)
	if err != nil {
		return fmt.Errorf("failed to load TLS material: %w", err)
	}
	tlsConf := tlsmaterial.ServerConfig(cert)

	m := metrics.New()

	backendPool := h2pool.New()
	lbPools := make(map[string]*lb.Pool, len(cfg.Upstream))
	for _, name := range cfg.PoolNames() {
		up := cfg.Upstream[name]
		lbPools[name] = lb.NewPool(name, up)
		for _, b := range up.Backends {
			backendPool.Register(b.Address)
		}
	}

	handler := &proxy.Handler{
		Pools:   cfg.Upstream,
		LBPools: lbPools,
		Backend: backendPool,
		Metrics: m,
		Logger:  logger,
	}

	prober := healthprobe.New(backendPool, logger)
	poolList := make([]*lb.Pool, 0, len(lbPools))
	for _, p := range lbPools {
		poolList = append(poolList, p)
	}
	prober.Start(poolList)
	defer prober.Stop()

	// QUIC transport parameters per spec §6: reasonable defaults for web
	// traffic rather than operator-tunable settings, so they're fixed here
	// instead of surfacing through config.Config.
	ln := listener.New(listener.Config{
		Address:               cfg.ListenAddress(),
		TLSConfig:             tlsConf,
		Handler:               handler,
		Logger:                logger,
		Metrics:               m,
		MaxIdleTimeout:        10 * time.Second,
		KeepAlivePeriod:       5 * time.Second,
		MaxIncomingStreams:    100,
		MaxIncomingUniStreams: 100,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ln.Start(ctx); err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	logger.Info("listener started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.WithField("signal", sig.String()).Info("shutting down")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if err := ln.StartDraining(drainCtx); err != nil {
		logger.WithField("error", err.Error()).Warn("drain did not complete cleanly")
	}

	return nil
}
