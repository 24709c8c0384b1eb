package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zabvenie/backend/internal/api"
	"github.com/zabvenie/backend/internal/cache"
	"github.com/zabvenie/backend/internal/campaign"
	"github.com/zabvenie/backend/internal/classifier"
	"github.com/zabvenie/backend/internal/config"
	"github.com/zabvenie/backend/internal/database"
	"github.com/zabvenie/backend/internal/decision"
	"github.com/zabvenie/backend/internal/evidence"
	"github.com/zabvenie/backend/internal/hashing"
	"github.com/zabvenie/backend/internal/legal"
	"github.com/zabvenie/backend/internal/metrics"
	"github.com/zabvenie/backend/internal/notify"
	"github.com/zabvenie/backend/internal/orchestrator"
)

func main() {
	// .env is optional; real deployments pass the environment directly.
	_ = godotenv.Load()

	cfg := loadConfig()
	log.Printf("Starting zabvenie backend (env: %s)", cfg.Server.Env)

	// Hashing keys. The secret lives only in the environment; in production a
	// missing or weak secret refuses to start.
	secret, err := cfg.EvidenceSecret()
	if err != nil {
		log.Fatalf("Evidence secret: %v", err)
	}
	if len(secret) < cfg.Evidence.MinSecretLength {
		log.Printf("WARNING: %s is missing or shorter than %d bytes; evidence hashes are NOT court-grade",
			cfg.Evidence.SecretEnv, cfg.Evidence.MinSecretLength)
		if secret == "" {
			secret = "dev-only-insecure-evidence-secret"
		}
	}

	keys, err := hashing.NewKeyRing([]byte(secret))
	if err != nil {
		log.Fatalf("Derive key ring: %v", err)
	}
	provider := hashing.HMACSHA256{}

	// Stores: Postgres when configured, in-memory otherwise.
	var (
		campaignStore campaign.Store
		evidenceStore evidence.Store
	)
	if dsn := cfg.PostgresDSN(); dsn != "" {
		db, err := database.Open(context.Background(), dsn)
		if err != nil {
			log.Fatalf("Postgres: %v", err)
		}
		defer db.Close()
		campaignStore = campaign.NewPostgresStore(db)
		evidenceStore = evidence.NewPostgresStore(db)
		log.Println("Using Postgres storage")
	} else {
		campaignStore = campaign.NewInMemoryStore()
		evidenceStore = evidence.NewInMemoryStore()
		log.Println("Using in-memory storage (no persistence)")
	}

	ledger := evidence.NewLedger(evidenceStore, provider, keys)
	lookup := legal.NewLookup()
	m := metrics.New()

	// Classifier: local rules, external delegation only when enabled.
	var cls classifier.Classifier = classifier.NewRuleClassifier()
	if cfg.Classifier.ExternalEnabled && cfg.Classifier.ExternalURL != "" {
		cls = classifier.NewExternalClassifier(classifier.ExternalConfig{
			URL:     cfg.Classifier.ExternalURL,
			Timeout: time.Duration(cfg.Classifier.TimeoutSeconds) * time.Second,
		}, cls)
		log.Printf("External classifier enabled: %s (sanitized text only)", cfg.Classifier.ExternalURL)
	}

	// Decision cache: Redis when configured, process-local otherwise.
	var decisionCache decision.Cache = cache.NewMemoryCache()
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Printf("Redis unavailable (%v), falling back to in-process cache", err)
		} else {
			decisionCache = rc
			defer rc.Close()
		}
	}

	engine := decision.NewEngine(campaignStore, ledger, provider, keys, lookup, decision.Options{
		Cache:     decisionCache,
		Metrics:   m,
		DayBucket: cfg.Decision.DayBucket,
	})

	// Webhooks
	registry := notify.NewRegistry()
	dispatcher := notify.NewDispatcher(registry, cfg.Webhooks.Workers, cfg.Webhooks.QueueSize)
	defer dispatcher.Shutdown()

	// Scheduler
	executor := orchestrator.NewDefaultExecutor(
		&orchestrator.NoopMailer{Logger: log.New(log.Writer(), "[Mailer] ", log.LstdFlags)},
		lookup,
	)
	scheduler := orchestrator.NewScheduler(
		campaignStore, ledger, cls, engine, executor, dispatcher, m,
		cfg.SchedulerInterval(),
	)
	if cfg.SchedulerEnabled() {
		scheduler.Start()
		defer scheduler.Stop()
	}

	server := api.NewServer(campaignStore, ledger, evidenceStore, cls, engine, registry, scheduler)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Server.Port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("Received %v, shutting down gracefully...", sig)
	case err := <-errCh:
		log.Fatalf("Server failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

func loadConfig() *config.Config {
	path := os.Getenv("ZABVENIE_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("No config file at %s, using defaults", path)
			return config.Default()
		}
		log.Fatalf("Load config: %v", err)
	}
	// PORT wins over the file (container platforms inject it).
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	return cfg
}
