package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"neurolens/internal/archive"
	"neurolens/internal/config"
	"neurolens/internal/detection"
	"neurolens/internal/emotion"
	"neurolens/internal/imagecodec"
)

// pipeline is the per-frame collaborators built from configuration
type pipeline struct {
	codec      *imagecodec.Codec
	locator    detection.FaceLocator
	classifier detection.EmotionClassifier
	normalizer *emotion.Normalizer
}

func buildPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	normalizer, err := cfg.Normalizer.Build()
	if err != nil {
		return nil, fmt.Errorf("normalizer: %w", err)
	}

	locator, err := detection.NewFaceLocator(detection.LocatorConfig{
		Backend:       cfg.FaceLocator.Backend,
		Endpoint:      cfg.FaceLocator.Endpoint,
		Margin:        cfg.FaceLocator.Margin,
		MinConfidence: cfg.FaceLocator.MinConfidence,
		Timeout:       cfg.FaceLocator.Timeout.Duration,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("face locator: %w", err)
	}

	classifier, err := detection.NewClassifier(detection.ClassifierConfig{
		Backend:      cfg.Classifier.Backend,
		Endpoint:     cfg.Classifier.Endpoint,
		Model:        cfg.Classifier.Model,
		APIToken:     cfg.Classifier.APIToken,
		MinInputSize: cfg.Classifier.MinInputSize,
		InputSize:    cfg.Classifier.InputSize,
		Timeout:      cfg.Classifier.Timeout.Duration,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}

	return &pipeline{
		codec:      imagecodec.New(imagecodec.WithMaxBytes(cfg.Stream.MaxImageBytes)),
		locator:    locator,
		classifier: classifier,
		normalizer: normalizer,
	}, nil
}

func (p *pipeline) Close() error {
	return detection.Close(p.classifier)
}

func openArchive(ctx context.Context, cfg config.ArchiveConfig) (archive.Store, error) {
	var opts []archive.StoreOption
	switch archive.StoreType(cfg.Driver) {
	case archive.StoreTypeSQLite:
		opts = append(opts, archive.WithSQLitePath(cfg.Path))
	case archive.StoreTypeRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		opts = append(opts, archive.WithRedisClient(client), archive.WithRedisTTL(cfg.RedisTTL.Duration))
	case archive.StoreTypePostgres:
		opts = append(opts, archive.WithPostgresDSN(cfg.PostgresDSN))
	}
	return archive.NewStore(ctx, archive.StoreType(cfg.Driver), opts...)
}
