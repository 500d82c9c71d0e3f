package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-dispatcher/internal/config"
	"github.com/ignite/outreach-dispatcher/internal/content"
	"github.com/ignite/outreach-dispatcher/internal/delivery"
	"github.com/ignite/outreach-dispatcher/internal/dispatch"
	"github.com/ignite/outreach-dispatcher/internal/notify"
	"github.com/ignite/outreach-dispatcher/internal/pkg/distlock"
	"github.com/ignite/outreach-dispatcher/internal/repository/postgres"
	"github.com/ignite/outreach-dispatcher/internal/signals"
	"github.com/ignite/outreach-dispatcher/internal/suppression"
)

const leaseTTL = 5 * time.Minute

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	log.Println("Starting outreach dispatcher...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	// A second dispatcher racing this one would double-send; refuse to
	// start without the lease and leave the decision to an operator.
	lease := distlock.New(redisClient, db, "outreach-dispatcher", leaseTTL)
	acquired, err := lease.Acquire(context.Background())
	if err != nil {
		log.Fatalf("Failed to acquire process lease: %v", err)
	}
	if !acquired {
		log.Fatal("Another dispatcher holds the process lease. " +
			"If you are sure it is dead, remove the lease manually and restart.")
	}
	defer lease.Release(context.Background())
	log.Println("Process lease acquired")

	contacts := postgres.NewContactRepo(db, cfg.Sequence)
	ledger := suppression.NewLedger(postgres.NewSuppressionRepo(db))
	renderer := content.NewTemplateRenderer(cfg.Templates.Dir)

	transport, err := buildTransport(cfg)
	if err != nil {
		log.Fatalf("Failed to build delivery transport: %v", err)
	}

	var notifier dispatch.Notifier = notify.Noop{}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		notifier = notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, nil)
		log.Println("Telegram alerts enabled")
	}

	engine := dispatch.New(dispatch.Options{
		Store:       contacts,
		Suppression: ledger,
		Renderer:    renderer,
		Transport:   transport,
		Notifier:    notifier,
		Roster:      cfg.Roster,
		Windows:     cfg.Windows,
		Sequence:    cfg.Sequence,
		Dispatch:    cfg.Dispatch,
		Location:    cfg.Location(),
	})
	engine.Start()

	webhook := &http.Server{
		Addr:    cfg.Signals.ListenAddr,
		Handler: signals.NewServer(contacts, ledger).Router(),
	}
	go func() {
		log.Printf("Signals webhook listening on %s", cfg.Signals.ListenAddr)
		if err := webhook.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Signals webhook failed: %v", err)
		}
	}()

	notifier.Notify(context.Background(), "DISPATCH: dispatcher started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down dispatcher...")
	engine.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := webhook.Shutdown(shutdownCtx); err != nil {
		log.Printf("Webhook shutdown: %v", err)
	}

	notifier.Notify(context.Background(), "DISPATCH: dispatcher stopped")
	log.Println("Dispatcher stopped")
}

func buildTransport(cfg *config.Config) (dispatch.Transport, error) {
	switch cfg.Delivery.Provider {
	case "mailreef":
		return delivery.NewMailreefTransport(cfg.Delivery.Mailreef.BaseURL, cfg.Delivery.Mailreef.APIKey, nil), nil
	case "ses":
		return delivery.NewSESTransport(context.Background(),
			cfg.Delivery.SES.AccessKey, cfg.Delivery.SES.SecretKey, cfg.Delivery.SES.Region)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Delivery.Provider)
	}
}
