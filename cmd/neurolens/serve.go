package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"neurolens/internal/api"
	"neurolens/internal/archive"
	"neurolens/internal/auth"
	"neurolens/internal/detection"
	"neurolens/internal/emitter"
	"neurolens/internal/events"
	"neurolens/internal/imagecodec"
	"neurolens/internal/session"
	"neurolens/internal/stream"
	"neurolens/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the streaming and query server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	p, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn("failed to close classifier", "error", err)
		}
	}()

	modelLoaded := &atomic.Bool{}
	if cfg.Classifier.WarmUp {
		logger.Info("warming up model", "model", cfg.Classifier.Model, "backend", p.classifier.Name())
		if err := detection.WarmUp(ctx, p.classifier, imagecodec.Uniform(224, 128)); err != nil {
			logger.Warn("model warm-up failed", "error", err)
		} else {
			modelLoaded.Store(true)
			logger.Info("model warm-up complete")
		}
	} else {
		modelLoaded.Store(true)
	}

	archiveStore, err := openArchive(ctx, cfg.Archive)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	defer archiveStore.Close()
	writer := archive.NewWriter(archiveStore, cfg.Archive.QueueSize, logger)

	sessions := session.NewStore(
		session.WithCapacity(cfg.Session.HistoryCapacity),
		session.WithRemovalHook(writer.Hook()),
		session.WithLogger(logger),
	)

	authenticator, err := auth.NewAuthenticator(auth.Config{
		Enabled:   cfg.Auth.Enabled,
		Username:  cfg.Auth.Username,
		Password:  cfg.Auth.Password,
		JWTSecret: cfg.Auth.JWTSecret,
		TokenTTL:  cfg.Auth.TokenTTL.Duration,
	})
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	bus := events.NewBus()
	defer bus.Close()

	var wg sync.WaitGroup
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mqttEmitter *emitter.MQTTEmitter
	if cfg.MQTT.Enabled {
		mqttEmitter = emitter.NewMQTTEmitter(emitter.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
		}, emitter.WithLogger(logger))
		if err := mqttEmitter.Connect(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer mqttEmitter.Disconnect()

		ch, unsubscribe := bus.SubscribeChannel(256)
		defer unsubscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			mqttEmitter.Run(runCtx, ch)
		}()
	}

	frames, err := stream.NewHandler(stream.Config{
		Codec:      p.codec,
		Locator:    p.locator,
		Classifier: p.classifier,
		Normalizer: p.normalizer,
		Store:      sessions,
		Bus:        bus,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	hub := ws.NewHub(logger)
	wsHandler := ws.NewHandler(hub, frames, sessions, ws.Config{
		ReadLimit:      cfg.Stream.MaxMessageBytes,
		PongWait:       cfg.Stream.PongWait.Duration,
		PingPeriod:     cfg.Stream.PingInterval.Duration,
		WriteWait:      cfg.Stream.WriteWait.Duration,
		AllowedOrigins: cfg.Server.CORSOrigins,
	}, logger)

	var health detection.HealthChecker
	if hc, ok := p.classifier.(detection.HealthChecker); ok {
		health = hc
	}

	server := &api.Server{
		Info: api.Info{
			Name:    "NeuroLens",
			Version: Version,
			Model:   cfg.Classifier.Model,
			Backend: p.classifier.Name(),
		},
		Sessions:      sessions,
		Normalizer:    p.normalizer,
		Connections:   hub,
		Frames:        frames,
		Archive:       archiveStore,
		ArchiveWriter: writer,
		Emitter:       mqttEmitter,
		Health:        health,
		Auth:          authenticator,
		WebSocket:     wsHandler,
		SessionMaxAge: cfg.Session.MaxAge.Duration,
		CORSOrigins:   cfg.Server.CORSOrigins,
		ModelLoaded:   modelLoaded,
		Logger:        logger,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sessions.RunSweeper(runCtx, cfg.Session.SweepInterval.Duration, cfg.Session.MaxAge.Duration)
	}()

	errc := make(chan error, 1)
	handleHTTPServer(runCtx, cfg.Server.Addr, server.Router(), wsHandler, cfg.Server.ShutdownTimeout.Duration, &wg, errc)

	logger.Info("neurolens ready",
		"addr", cfg.Server.Addr,
		"model", cfg.Classifier.Model,
		"policy", string(p.normalizer.Policy()),
		"archive", cfg.Archive.Driver)

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "reason", context.Cause(ctx))
	case err = <-errc:
		logger.Error("server stopped", "error", err)
	}

	cancel()
	wg.Wait()

	removed := sessions.Close()
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if werr := writer.Close(closeCtx); werr != nil {
		logger.Warn("archive writer did not drain", "error", werr)
	}
	logger.Info("exited", "sessions_closed", removed, "archive", writer.Stats())
	return err
}
