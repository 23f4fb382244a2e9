package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/docintel/internal/activity"
	"github.com/kalambet/docintel/internal/blob"
	"github.com/kalambet/docintel/internal/broker"
	"github.com/kalambet/docintel/internal/clustering"
	"github.com/kalambet/docintel/internal/composer"
	"github.com/kalambet/docintel/internal/config"
	"github.com/kalambet/docintel/internal/engine"
	"github.com/kalambet/docintel/internal/flashcard"
	"github.com/kalambet/docintel/internal/ingest"
	"github.com/kalambet/docintel/internal/quiz"
	"github.com/kalambet/docintel/internal/rag"
	"github.com/kalambet/docintel/internal/retrieval"
	"github.com/kalambet/docintel/internal/storage"
)

const systemPrompt = "You are a study assistant. Answer only from the document excerpts you are given."

// app holds every long-lived component of a docintel process.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *storage.Store
	vectors   retrieval.VectorStore
	engine    engine.Engine
	embedder  *retrieval.Embedder
	gen       *engine.ChatGenerator
	policy    flashcard.Policy
	blobs     blob.Store
	transport broker.Transport
	producer  *broker.Producer

	closers []func() error
}

func setupLogging(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

// newApp opens storage and connects every backend named in cfg. Backend
// errors surface here, before anything starts serving.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.policy, err = flashcard.ParsePolicy(cfg.Flashcard.Policy); err != nil {
		return nil, err
	}
	if err := broker.ValidateBackend(cfg.Broker.Backend); err != nil {
		return nil, err
	}

	a.store, err = storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	a.vectors, err = retrieval.NewVectorStore(ctx, retrieval.StoreOptions{
		Backend:     cfg.Vector.Backend,
		DB:          a.store.DB(),
		PostgresURL: cfg.Vector.PostgresURL,
		TopK:        cfg.Vector.TopK,
		Dimensions:  cfg.Engine.EmbedDimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}
	if pg, ok := a.vectors.(*retrieval.PostgresStore); ok {
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
	}

	a.engine, err = engine.New(ctx, engine.Options{
		Provider:     cfg.Engine.Provider,
		OllamaURL:    cfg.Engine.OllamaURL,
		GeminiAPIKey: cfg.Engine.GeminiAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating inference engine: %w", err)
	}
	if c, ok := a.engine.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.embedder = retrieval.NewEmbedder(a.engine, cfg.Engine.EmbedModel).
		WithDimensions(cfg.Engine.EmbedDimensions)
	if cfg.Engine.EmbedRateLimit > 0 {
		a.embedder = a.embedder.WithRateLimit(cfg.Engine.EmbedRateLimit, 1)
	}
	a.gen = engine.NewChatGenerator(a.engine, cfg.Engine.ChatModel).WithSystem(systemPrompt)

	localPath := cfg.Blob.LocalPath
	if localPath == "" {
		localPath = filepath.Join(cfg.Storage.DataDir, "blobs")
	}
	a.blobs, err = blob.New(ctx, blob.Options{
		Backend:     cfg.Blob.Backend,
		LocalPath:   localPath,
		S3Bucket:    cfg.Blob.S3Bucket,
		S3Region:    cfg.Blob.S3Region,
		S3Endpoint:  cfg.Blob.S3Endpoint,
		S3AccessKey: cfg.Blob.S3AccessKey,
		S3SecretKey: cfg.Blob.S3SecretKey,
	})
	if err != nil {
		return nil, fmt.Errorf("opening blob store: %w", err)
	}

	switch cfg.Broker.Backend {
	case "kafka":
		a.transport, err = broker.NewKafkaTransport(cfg.Broker.KafkaBrokerList(), cfg.Broker.KafkaAsync, logger)
		if err != nil {
			return nil, err
		}
	default:
		a.transport = broker.NewSQLiteTransport(a.store, a.pollInterval())
	}
	w, err := a.transport.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("creating broker writer: %w", err)
	}
	a.producer = broker.NewProducer(w, logger)
	a.closers = append(a.closers, a.producer.Close)

	return a, nil
}

func (a *app) pollInterval() time.Duration {
	d, err := time.ParseDuration(a.cfg.Broker.PollInterval)
	if err != nil || d <= 0 {
		a.logger.Warn("invalid broker poll interval, using 250ms", "value", a.cfg.Broker.PollInterval)
		return 250 * time.Millisecond
	}
	return d
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("closing resource", "error", err)
		}
	}
	a.closers = nil
}

func (a *app) clustering() *clustering.Service {
	return clustering.NewService(a.vectors, a.store, a.gen, clustering.Options{K: a.cfg.Cluster.K}, a.logger)
}

func (a *app) ragService() *rag.Service {
	return rag.NewService(a.embedder, a.vectors, a.gen, composer.New(a.cfg.Composer.MaxContextTokens), a.logger)
}

// routes binds the in-core handlers to their topics and groups.
func (a *app) routes(clusters *clustering.Service) []broker.Route {
	handlers := activity.NewHandlers(a.store, a.logger)
	return broker.Handlers{
		Clustering:     broker.JSONHandler(clusters.HandleDocumentUpload),
		ActivitySave:   broker.JSONHandler(handlers.Save),
		ActivityStreak: broker.JSONHandler(handlers.Streak),
	}.Routes()
}

// supervisor builds one consumer per route. With the SQLite transport the
// groups are subscribed up front so nothing published before the consumers
// first poll is lost.
func (a *app) supervisor(ctx context.Context, routes []broker.Route) (*broker.Supervisor, error) {
	sup := broker.NewSupervisor(a.logger)
	for _, r := range routes {
		if a.cfg.Broker.Backend != "kafka" {
			if err := a.store.Subscribe(ctx, r.Group, r.Topics); err != nil {
				return nil, fmt.Errorf("subscribing %s: %w", r.Name(), err)
			}
		}
		sup.Add(broker.NewConsumer(r, a.transport, a.logger))
	}
	return sup, nil
}

func (a *app) ingestWorker() *ingest.Worker {
	return ingest.NewWorker(ingest.Deps{
		Jobs:      a.store,
		Documents: a.store,
		Blobs:     a.blobs,
		Embedder:  a.embedder,
		Pages:     a.vectors,
		Publisher: a.producer,
		Logger:    a.logger,
	}, 500*time.Millisecond).WithProjection(a.cfg.Cluster.Dimensions)
}

func (a *app) flashcards() (*flashcard.Service, *flashcard.Generator) {
	gen := flashcard.NewGenerator(a.vectors, a.gen, a.logger).
		WithPolicy(a.policy).
		WithCardsPerPage(a.cfg.Flashcard.CardsPerPage)
	return flashcard.NewService(a.store, a.logger), gen
}

func (a *app) quizzes() (*quiz.Generator, *quiz.Grader) {
	return quiz.NewGenerator(a.vectors, a.gen, a.logger), quiz.NewGrader(a.gen, a.logger)
}
