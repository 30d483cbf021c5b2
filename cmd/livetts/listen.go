package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lexiqai/livetts/internal/config"
	"github.com/lexiqai/livetts/internal/dispatch"
	"github.com/lexiqai/livetts/internal/live"
	"github.com/lexiqai/livetts/internal/observability"
	"github.com/lexiqai/livetts/internal/proxy"
	"github.com/lexiqai/livetts/internal/text"
	"github.com/lexiqai/livetts/internal/tts"
)

// grpcLiveService is the grpc.health.v1 service that tracks the live session.
const grpcLiveService = "livetts.live"

var listenFlags struct {
	username     string
	noInput      bool
	drainTimeout time.Duration
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Speak a live room's chat and gifts",
	Long: `Connect to the live room of USERNAME and read chat messages and gifts aloud.

Lines typed on stdin are spoken too, unless --no-input is given.

Examples:
  # Use USERNAME from the environment or .env
  livetts listen

  # Override the room
  livetts listen --username @streamer

  # Run without a terminal
  livetts listen --no-input`,
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().StringVarP(&listenFlags.username, "username", "u", "", "override USERNAME")
	listenCmd.Flags().BoolVar(&listenFlags.noInput, "no-input", false, "do not read phrases from stdin")
	listenCmd.Flags().DurationVar(&listenFlags.drainTimeout, "drain-timeout", 30*time.Second, "how long queued speech may take on shutdown")
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenFlags.username != "" {
		cfg.Username = strings.TrimPrefix(strings.TrimSpace(listenFlags.username), "@")
	}
	if err := cfg.ValidateListener(); err != nil {
		return err
	}

	logger := observability.GetLogger()
	logger.Info().
		Str("username", cfg.Username).
		Str("engine", cfg.TTSEngine).
		Bool("read_chat", cfg.ReadChat).
		Bool("read_gifts", cfg.ReadGifts).
		Str("log_level", cfg.LogLevel).
		Msg("livetts listener starting")

	synth, err := tts.NewFromConfig(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := tts.NewQueue(synth, tts.QueueConfig{
		Options:    tts.Options{Voice: cfg.Voice, Rate: cfg.Rate},
		MaxLen:     cfg.MaxLen,
		JobTimeout: cfg.TTSTimeoutDuration(),
	})
	// The worker outlives ctx so Shutdown can drain what is queued.
	go func() {
		if err := queue.Run(context.Background()); err != nil {
			logger.Error().Err(err).Msg("speech queue stopped")
		}
	}()

	filter := text.NewFilter(cfg.MinLen, cfg.MaxLen)
	dispatcher := dispatch.NewDispatcher(queue, filter, dispatch.Config{
		ReadChat:  cfg.ReadChat,
		ReadGifts: cfg.ReadGifts,
		ChatPause: config.Millis(cfg.ChatPause),
		GiftPause: config.Millis(cfg.GiftPause),
	})

	session := live.NewWebSocketSession(live.WebSocketConfig{
		URL:              cfg.LiveFeedURL,
		Username:         cfg.Username,
		APIKey:           cfg.APIKey,
		HandshakeTimeout: cfg.ConnectTimeoutDuration(),
	})
	defer session.Close()

	manager := live.NewManager(session, dispatcher, live.ManagerConfig{
		Username:             cfg.Username,
		ConnectMaxAttempts:   cfg.ConnectMaxAttempts,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:              config.Millis(cfg.ConnectBackoff),
		Multiplier:           1.8,
		MaxBackoff:           config.Millis(cfg.ConnectMaxBackoff),
		ReconnectDelay:       config.Millis(cfg.ReconnectDelay),
		AttemptTimeout:       cfg.ConnectTimeoutDuration(),
	})

	var grpcHealth *observability.GRPCHealth
	if cfg.GRPCHealthPort != "" {
		grpcHealth = observability.NewGRPCHealth(grpcLiveService)
		go func() {
			if err := grpcHealth.Serve(ctx, ":"+cfg.GRPCHealthPort); err != nil {
				logger.Error().Err(err).Msg("gRPC health server stopped")
			}
		}()
		logger.Info().Str("port", cfg.GRPCHealthPort).Msg("gRPC health enabled")
	}
	manager.OnStateChange = func(state live.State) {
		if grpcHealth != nil {
			grpcHealth.SetServing(grpcLiveService, state == live.StateConnected)
		}
	}

	if cfg.StatusPort != "" {
		status := proxy.NewServer(":"+cfg.StatusPort, statusHandler(cfg, manager, queue), 5*time.Second)
		go func() {
			if err := status.Run(ctx, 5*time.Second); err != nil {
				logger.Error().Err(err).Msg("status server stopped")
			}
		}()
		logger.Info().Str("port", cfg.StatusPort).Msg("status endpoints enabled")
	}

	if !listenFlags.noInput {
		input := dispatch.NewInputReader(os.Stdin, queue, filter, config.Millis(cfg.InputPause))
		// Not awaited: a blocked stdin read cannot be interrupted.
		go func() {
			if err := input.Run(ctx); err != nil {
				logger.Warn().Err(err).Msg("input reader stopped")
			}
		}()
	}

	runErr := manager.Run(ctx)
	if runErr != nil && ctx.Err() == nil {
		runErr = fmt.Errorf("could not connect to @%s: %w", cfg.Username, runErr)
	} else {
		runErr = nil
		logger.Info().Msg("Shutting down listener...")
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), listenFlags.drainTimeout)
	defer cancel()
	if err := queue.Shutdown(drainCtx); err != nil {
		logger.Warn().Err(err).Int("pending", queue.Len()).Msg("speech queue not drained")
	}

	if runErr != nil {
		return runErr
	}
	logger.Info().Msg("Listener exited gracefully")
	return nil
}

// statusHandler serves /health, /ready and /metrics for the listener.
func statusHandler(cfg *config.Config, manager *live.Manager, queue *tts.Queue) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", observability.HealthCheckHandler())
	mux.HandleFunc("GET /ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"live": func(ctx context.Context) (bool, error) {
			if state := manager.State(); state != live.StateConnected {
				return false, fmt.Errorf("live session is %s", state)
			}
			return true, nil
		},
		"speech_queue": func(ctx context.Context) (bool, error) {
			if queue.Closed() {
				return false, tts.ErrQueueClosed
			}
			return true, nil
		},
	}))
	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return mux
}
