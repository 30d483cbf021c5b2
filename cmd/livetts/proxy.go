package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexiqai/livetts/internal/observability"
	"github.com/lexiqai/livetts/internal/proxy"
	"github.com/lexiqai/livetts/internal/resilience"
)

// grpcProxyService is the grpc.health.v1 service that tracks the upstream breaker.
const grpcProxyService = "livetts.proxy"

var proxyFlags struct {
	port          string
	shutdownGrace time.Duration
}

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Forward requests to the signing service",
	Long: `Start the signing proxy. Every request except GET /health is re-issued
against UPSTREAM_BASE with Authorization: Bearer API_KEY attached, and the
upstream status, content type and body are relayed unchanged.

GET /ready and GET /metrics are served on STATUS_PORT when it is set.

Examples:
  # Listen on PORT (default 8080)
  livetts proxy

  # Override the port
  livetts proxy --port 9090`,
	RunE: runProxy,
}

func init() {
	rootCmd.AddCommand(proxyCmd)

	proxyCmd.Flags().StringVarP(&proxyFlags.port, "port", "p", "", "override PORT")
	proxyCmd.Flags().DurationVar(&proxyFlags.shutdownGrace, "shutdown-grace", 30*time.Second, "how long in-flight requests may take on shutdown")
}

func runProxy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if proxyFlags.port != "" {
		cfg.Port = proxyFlags.port
	}
	if err := cfg.ValidateProxy(); err != nil {
		return err
	}

	logger := observability.GetLogger()
	logger.Info().
		Str("port", cfg.Port).
		Str("upstream", cfg.UpstreamBase).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("livetts proxy starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fwd := proxy.NewForwarder(proxy.Config{
		UpstreamBase:        cfg.UpstreamBase,
		APIKey:              cfg.APIKey,
		Timeout:             cfg.UpstreamTimeoutDuration(),
		MaxBodyBytes:        cfg.MaxBodyBytes,
		BreakerMaxFailures:  cfg.BreakerMaxFailures,
		BreakerResetTimeout: time.Duration(cfg.BreakerResetTimeout) * time.Second,
	})

	if cfg.GRPCHealthPort != "" {
		grpcHealth := observability.NewGRPCHealth(grpcProxyService)
		grpcHealth.SetServing(grpcProxyService, true)
		fwd.Breaker().OnStateChange = func(name string, state resilience.CircuitState) {
			observability.UpdateCircuitBreakerState(name, int(state))
			grpcHealth.SetServing(grpcProxyService, state != resilience.StateOpen)
		}
		go func() {
			if err := grpcHealth.Serve(ctx, ":"+cfg.GRPCHealthPort); err != nil {
				logger.Error().Err(err).Msg("gRPC health server stopped")
			}
		}()
		logger.Info().Str("port", cfg.GRPCHealthPort).Msg("gRPC health enabled")
	}

	if cfg.StatusPort != "" {
		status := proxy.NewServer(":"+cfg.StatusPort, proxy.NewStatusHandler(fwd, cfg.MetricsEnabled), 5*time.Second)
		go func() {
			if err := status.Run(ctx, 5*time.Second); err != nil {
				logger.Error().Err(err).Msg("status server stopped")
			}
		}()
		logger.Info().Str("port", cfg.StatusPort).Msg("status endpoints enabled")
	}

	server := proxy.NewServer(":"+cfg.Port, proxy.NewHandler(fwd), cfg.UpstreamTimeoutDuration())

	logger.Info().Str("addr", server.Addr()).Msg("Proxy listening")
	if err := server.Run(ctx, proxyFlags.shutdownGrace); err != nil {
		return err
	}

	logger.Info().Msg("Proxy exited gracefully")
	return nil
}
