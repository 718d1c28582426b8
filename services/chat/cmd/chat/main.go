package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"streamchat/internal/usertoken"
	"streamchat/internal/util"
	"streamchat/pkg/ai"
	"streamchat/pkg/queue"
	"streamchat/pkg/storage"
	"streamchat/pkg/store"
	"streamchat/services/chat/internal/app"
	"streamchat/services/chat/internal/config"
	"streamchat/services/chat/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, cleanup, err := util.InitLogger(cfg.LogLevel, "chat", cfg.LogsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		util.Fatal("failed to parse jwt leeway", "err", err)
	}
	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:    cfg.AuthJWKSURL,
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		util.Fatal("failed to init token verifier", "err", err)
	}

	registry, err := ai.NewRegistry(cfg.Models, cfg.DefaultModel)
	if err != nil {
		util.Fatal("failed to build model registry", "err", err)
	}
	clients, err := newVendorClients(cfg)
	if err != nil {
		util.Fatal("failed to init model providers", "err", err)
	}

	dataStore, closeStore, err := openStore(cfg)
	if err != nil {
		util.Fatal("failed to open store", "err", err)
	}
	defer closeStore()

	objects, err := openObjectStore(ctx, cfg)
	if err != nil {
		util.Fatal("failed to init attachment storage", "err", err)
	}

	var (
		titleQueue *queue.RedisJobQueue
		refiner    *app.TitleRefiner
	)
	if cfg.TitleModel != "" {
		titleModel, _ := registry.Lookup(cfg.TitleModel)
		generator, err := clients.generator(titleModel)
		if err != nil {
			util.Fatal("failed to init title generator", "err", err)
		}
		refiner, err = app.NewTitleRefiner(dataStore, generator)
		if err != nil {
			util.Fatal("failed to init title refiner", "err", err)
		}
		titleQueue, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     cfg.TitleQueueName,
			Group:      cfg.TitleQueueGroup,
			MaxRetries: cfg.TitleMaxRetries,
		})
		if err != nil {
			util.Fatal("failed to init title queue", "err", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = titleQueue.Ping(pingCtx)
		cancel()
		if err != nil {
			util.Fatal("failed to reach redis", "addr", cfg.RedisAddr, "err", err)
		}
	}

	appCfg := app.Config{
		Store:        dataStore,
		Registry:     registry,
		Providers:    clients.providers(),
		SystemPrompt: cfg.SystemPrompt,
		Objects:      objects,
	}
	if titleQueue != nil {
		appCfg.Titles = titleQueue
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	httpServer := server.New(server.Config{
		App:           appCore,
		TokenVerifier: tokenVerifier,
		CORSOrigins:   cfg.CORSOrigins,
		StreamTimeout: cfg.StreamTimeout(),
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("chat server listening", "addr", addr, "models", len(registry.List()), "default_model", registry.Default().ID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if titleQueue != nil {
		g.Go(func() error {
			defer titleQueue.Close()
			slog.Info("title workers started", "concurrency", cfg.TitleConcurrency, "model", cfg.TitleModel)
			return titleQueue.Run(gctx, cfg.TitleConcurrency, refiner.Handle)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("chat service stopped with error", "err", err)
		return
	}
	slog.Info("chat service stopped")
}

type vendorClients struct {
	gemini *ai.GeminiClient
	openai *ai.OpenAICompatClient
	ollama *ai.OllamaClient
}

func newVendorClients(cfg config.FileConfig) (vendorClients, error) {
	var clients vendorClients
	if cfg.GeminiAPIKey != "" {
		gemini, err := ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiBaseURL)
		if err != nil {
			return clients, err
		}
		clients.gemini = gemini
	}
	if cfg.OpenAIBaseURL != "" {
		clients.openai = ai.NewOpenAICompatClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey)
	}
	clients.ollama = ai.NewOllamaClient(cfg.OllamaBaseURL)
	return clients, nil
}

func (c vendorClients) providers() ai.Providers {
	p := ai.Providers{ai.ProviderOllama: c.ollama}
	if c.gemini != nil {
		p[ai.ProviderGemini] = c.gemini
	}
	if c.openai != nil {
		p[ai.ProviderOpenAI] = c.openai
	}
	return p
}

func (c vendorClients) generator(model ai.ModelDescriptor) (ai.TextGenerator, error) {
	switch {
	case model.Provider == ai.ProviderGemini && c.gemini != nil:
		return ai.NewGenerator(c.gemini, model.UpstreamModel())
	case model.Provider == ai.ProviderOpenAI && c.openai != nil:
		return ai.NewGenerator(c.openai, model.UpstreamModel())
	case model.Provider == ai.ProviderOllama:
		return ai.NewGenerator(c.ollama, model.UpstreamModel())
	}
	return nil, fmt.Errorf("no client for provider %q", model.Provider)
}

func openStore(cfg config.FileConfig) (store.Store, func(), error) {
	if cfg.StoreDriver == "memory" {
		slog.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
	gormStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return gormStore, func() {
		if err := gormStore.Close(); err != nil {
			slog.Warn("close store failed", "err", err)
		}
	}, nil
}

func openObjectStore(ctx context.Context, cfg config.FileConfig) (storage.ObjectStore, error) {
	switch cfg.StorageDriver {
	case "minio":
		return storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	case "local":
		return storage.NewFileStore(cfg.LocalStoragePath, cfg.PublicFilesURL)
	}
	return nil, nil
}
