package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"taleweaver/internal/app"
	"taleweaver/internal/config"
	"taleweaver/internal/server"
	"taleweaver/internal/story"
	"taleweaver/internal/util"
	"taleweaver/pkg/ai"
	"taleweaver/pkg/events"
	"taleweaver/pkg/storage"
	"taleweaver/pkg/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init postgres store: %v", err)
	}
	sessions, err := store.NewSessionStore(cfg.JWTSecret, time.Duration(cfg.SessionTTLHours)*time.Hour, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("failed to init session store: %v", err)
	}
	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL, cfg.MinioPublicBaseURL)
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}

	gemini, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
	if err != nil {
		log.Fatalf("failed to init gemini client: %v", err)
	}
	textGen := ai.NewGeminiGenerator(gemini, cfg.TextModel)
	imageGen := ai.NewGeminiImageGenerator(gemini, cfg.ImageModel, "16:9")
	pipeline := story.NewPipeline(textGen, story.NewIllustrator(imageGen, objects), cfg.ImageWorkers)

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("failed to init event publisher: %v", err)
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	}

	appCore, err := app.New(app.Config{
		Store:    dataStore,
		Sessions: sessions,
		Pipeline: pipeline,
		Chat:     textGen,
		Events:   publisher,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                    appCore,
		RedisAddr:              cfg.RedisAddr,
		RedisPassword:          cfg.RedisPassword,
		RateLimitPerMinute:     cfg.RateLimitPerMinute,
		GenerateLimitPerMinute: cfg.GenerateLimitPerMinute,
		TrustedProxies:         trustedProxies,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("taleweaver server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
