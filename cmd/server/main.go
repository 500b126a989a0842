package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/leadgen-site/internal/api"
	"github.com/ignite/leadgen-site/internal/auth"
	"github.com/ignite/leadgen-site/internal/config"
	"github.com/ignite/leadgen-site/internal/datanorm"
	"github.com/ignite/leadgen-site/internal/marketplace"
	"github.com/ignite/leadgen-site/internal/pkg/distlock"
	"github.com/ignite/leadgen-site/internal/pkg/logger"
	"github.com/ignite/leadgen-site/internal/ses"
	"github.com/ignite/leadgen-site/internal/storage"
)

const catalogLockKey = "pricing-catalog"

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}

// connectRedis returns nil when Redis is not configured or unreachable.
func connectRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("Warning: Redis connection failed: %v (profile cache disabled, falling back to database locks)", err)
		client.Close()
		return nil
	}
	log.Println("Redis connected")
	return client
}

func main() {
	cfg, err := config.LoadFromEnv(configPath())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.ShouldRedactPII())

	if cfg.Auth.ProfileURL == "" {
		log.Fatal("auth.profile_url (PROFILE_SERVICE_URL) is required")
	}

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()
	log.Printf("Storage backend: %s", cfg.Storage.Type)

	redisClient := connectRedis(ctx, cfg.Redis.URL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var db *sql.DB
	if pg, ok := store.(*storage.PostgresStore); ok {
		db = pg.DB()
	}
	locks := distlock.NewFactory(redisClient, db, catalogLockKey, cfg.Storage.LockTTL())
	pricing := storage.NewLockedPricingStore(store, locks)

	ingester := datanorm.NewIngester(pricing, datanorm.IngestOptions{
		MaxRows:    cfg.Ingest.MaxRows,
		StrictRows: cfg.Ingest.StrictRows,
	})

	var archiver api.UploadArchiver
	if cfg.Storage.S3Bucket != "" {
		awsCfg, err := storage.LoadAWSConfig(ctx, cfg.Storage.AWSRegion, cfg.Storage.GetAWSProfile())
		if err != nil {
			log.Fatalf("Failed to load AWS config for upload archive: %v", err)
		}
		archiver = storage.NewArchiver(storage.NewS3Client(awsCfg, cfg.Storage.Endpoint), cfg.Storage.S3Bucket)
		log.Printf("Upload archive enabled (bucket %s)", cfg.Storage.S3Bucket)
	}

	var notifier marketplace.Notifier
	if cfg.SES.Enabled && cfg.Marketplace.NotifyTo != "" {
		sesClient, err := ses.NewClient(ctx, cfg.SES)
		if err != nil {
			log.Fatalf("Failed to initialize SES: %v", err)
		}
		notifier = marketplace.NewEmailNotifier(sesClient, cfg.Marketplace.NotifyTo)
		log.Println("Registration notifications enabled")
	} else {
		log.Println("Registration notifications disabled (ses.enabled or marketplace.notify_to unset)")
	}
	registrations := marketplace.NewService(store, notifier, cfg.Marketplace.NotifyTimeout())

	var cache auth.ProfileCache
	var healthRedis redis.Cmdable
	if redisClient != nil {
		cache = auth.NewRedisProfileCache(redisClient, cfg.Auth.CacheTTL())
		healthRedis = redisClient
	}
	profiles := auth.NewProfileClient(cfg.Auth, cache, nil)

	handlers := api.NewHandlers(cfg, ingester, store, archiver, registrations)
	server := api.NewServer(cfg.Server, handlers, api.RouteOptions{
		RequireAdmin:  auth.RequireAdmin(profiles, cfg.Auth.AdminRole),
		IntakeLimiter: api.NewIPRateLimiter(cfg.Marketplace.RateLimitPerMinute, cfg.Marketplace.RateLimitBurst),
		Health:        api.NewHealthChecker(store, healthRedis, cfg.Auth.ProfileURL),
	})

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := cfg.Server.Addr()
		log.Printf("Starting server on %s (%s)", addr, cfg.Server.Environment)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
