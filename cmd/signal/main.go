package main

import (
	"context"
	"net/http"
	"os"
	ossignal "os/signal"
	"runtime"
	"syscall"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/internal/core/services"
	httphandlers "huddle/internal/handlers/http"
	"huddle/internal/infrastructure/distributed"
	"huddle/internal/infrastructure/middleware"
	"huddle/internal/infrastructure/monitoring"
	"huddle/internal/infrastructure/repositories"
	"huddle/internal/infrastructure/signal"
	"huddle/internal/infrastructure/streaming"
	webrtcinfra "huddle/internal/infrastructure/webrtc"
	"huddle/pkg/circuitbreaker"
	"huddle/pkg/config"
	"huddle/pkg/logger"
	"huddle/pkg/retry"
	"huddle/pkg/tracing"
	"huddle/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
)

func loadConfig() *config.Config {
	configPaths := []string{"configs/config.yaml", "config.yaml"}
	if path := os.Getenv("HUDDLE_CONFIG"); path != "" {
		configPaths = []string{path}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := config.Load(path)
		if err != nil {
			logger.New("info").Sugar().Fatalw("failed to load config", "path", path, "error", err)
		}
		return cfg
	}
	return config.DefaultConfig()
}

func main() {
	cfg := loadConfig()

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if cfg.Redis.InstanceID == "" {
		cfg.Redis.InstanceID = instanceID()
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	collector := monitoring.NewPrometheusCollector()
	var metrics ports.ConferenceMetrics = collector
	if !cfg.Monitoring.PrometheusEnabled {
		metrics = services.NopMetrics()
	}

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	directory := repoFactory.CreateRoomDirectory()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events ports.EventPublisher
	var bus *distributed.EventBus
	if client := repoFactory.RedisClient(); client != nil {
		bus = distributed.NewEventBus(client, cfg.Redis.InstanceID, cfg.Redis.KeyPrefix+":events", log)
		events = distributed.NewBreakerPublisher(bus, circuitbreaker.DefaultConfig(), log)
		go func() {
			err := bus.Subscribe(ctx, func(env *distributed.Envelope) error {
				log.Debugw("room event from peer instance",
					"instance_id", env.InstanceID,
					"type", env.Event.Type,
					"room", env.Event.Room,
				)
				return nil
			})
			if err != nil && ctx.Err() == nil {
				log.Warnw("event bus subscription ended", "error", err)
			}
		}()
	}

	engine := webrtcinfra.NewEngine(engineConfig(cfg), log)
	workers := cfg.Media.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	pool, err := services.NewWorkerPool(ctx, engine, workers, retry.Config{
		Enabled:      true,
		MaxAttempts:  cfg.Media.WorkerRestart.MaxAttempts,
		InitialDelay: cfg.Media.WorkerRestart.InitialDelay,
		MaxDelay:     cfg.Media.WorkerRestart.MaxDelay,
		Multiplier:   2,
		Jitter:       true,
	}, metrics, log)
	if err != nil {
		log.Fatalw("failed to start media workers", "error", err)
	}

	var hlsOutput ports.HLSOutput
	var hlsFiles *streaming.HLSOutput
	if cfg.HLS.Enabled {
		hlsFiles, err = streaming.NewHLSOutput(cfg.HLS.OutputDir, cfg.HLS.ListenIP, metrics, log)
		if err != nil {
			log.Fatalw("failed to prepare HLS output", "error", err)
		}
		hlsOutput = hlsFiles
	}

	hub := signal.NewHub(log)
	conference := services.NewConferenceService(services.ConferenceConfig{
		Codecs:                 codecs(cfg.Media.Codecs),
		ActiveSpeakerWindow:    cfg.Conference.ActiveSpeakerWindow,
		Placement:              domain.SpeakerPlacement(cfg.Conference.NewProducerPlacement),
		SpeakerInterval:        cfg.Media.SpeakerInterval,
		MaxIncomingBitrate:     cfg.Media.MaxIncomingBitrate,
		InitialOutgoingBitrate: cfg.Media.InitialOutgoingBitrate,
		InstanceID:             cfg.Redis.InstanceID,
		HLS: services.HLSSettings{
			Enabled:  cfg.HLS.Enabled,
			ListenIP: cfg.HLS.ListenIP,
			BasePort: cfg.HLS.BasePort,
		},
	}, pool, hub, directory, events, metrics, hlsOutput, log)

	tokens := services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	var requiredTokens services.TokenService
	if cfg.Auth.Enabled {
		requiredTokens = tokens
	}

	wsConfig := signal.Config{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		RequestTimeout: cfg.Signal.RequestTimeout,
		MaxMessageSize: cfg.Signal.MaxMessageSize,
		SendBuffer:     cfg.Signal.SendBuffer,
		AllowedOrigins: cfg.Signal.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		wsConfig.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		wsConfig.Burst = cfg.RateLimiting.WebSocket.Burst
	}
	wsServer := signal.NewWebSocketServer(wsConfig, conference, requiredTokens, hub, metrics, log)

	checker := monitoring.NewHealthChecker()
	checker.AddWorkerPoolCheck(pool, 0, 2*time.Second)
	checker.AddDirectoryCheck(directory, 0, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		checker.AddRedisCheck(client, 0, 2*time.Second)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	router.GET(cfg.Signal.Path, wsServer.Handle)
	httphandlers.NewRoomHandler(conference, directory, tokens).
		SetupRoutes(router, middleware.RoomTokenMiddleware(requiredTokens))
	httphandlers.NewHealthHandler(checker).SetupRoutes(router, cfg.Monitoring.HealthPath)
	if cfg.HLS.Enabled {
		httphandlers.NewHLSHandler(cfg.HLS.OutputDir).SetupRoutes(router, cfg.HLS.PublicPath)
	}
	if cfg.Monitoring.PrometheusEnabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(collector.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WebSocket connections outlive any write timeout; the signaling
		// server sets per-frame deadlines itself.
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting huddle signaling server",
			"address", cfg.Server.Address,
			"instance_id", cfg.Redis.InstanceID,
			"workers", workers,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during HTTP server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("signaling connections did not drain", "error", err)
	}
	conference.Shutdown(shutdownCtx)
	pool.Close()

	if hlsFiles != nil {
		if err := hlsFiles.Close(); err != nil {
			log.Warnw("failed to close HLS output", "error", err)
		}
	}
	cancel()
	if bus != nil {
		if err := bus.Close(); err != nil {
			log.Warnw("failed to close event bus", "error", err)
		}
	}
	if err := repoFactory.Close(); err != nil {
		log.Warnw("failed to close repositories", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("failed to flush traces", "error", err)
	}

	log.Info("huddle signaling server stopped")
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "huddle"
	}
	return host + "-" + utils.NewID()[:8]
}

func engineConfig(cfg *config.Config) webrtcinfra.EngineConfig {
	var ec webrtcinfra.EngineConfig
	for _, s := range cfg.Media.ICEServers {
		ec.ICEServers = append(ec.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	ec.PortRange.Min = cfg.Media.PortRange.Min
	ec.PortRange.Max = cfg.Media.PortRange.Max
	ec.HandshakeTimeout = cfg.Media.HandshakeTimeout
	return ec
}

func codecs(list []config.Codec) []domain.CodecCapability {
	out := make([]domain.CodecCapability, 0, len(list))
	for _, c := range list {
		out = append(out, domain.CodecCapability{
			Kind:        domain.MediaKind(c.Kind),
			MimeType:    c.MimeType,
			ClockRate:   c.ClockRate,
			Channels:    c.Channels,
			PayloadType: c.PayloadType,
			FmtpLine:    c.Fmtp,
		})
	}
	return out
}
