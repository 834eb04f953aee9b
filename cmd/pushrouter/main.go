package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	_ "github.com/joho/godotenv/autoload"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"

	"github.com/lakeshorelabs/go-push-router/internal/api"
	"github.com/lakeshorelabs/go-push-router/internal/consumer"
	"github.com/lakeshorelabs/go-push-router/internal/display"
	"github.com/lakeshorelabs/go-push-router/internal/platform/apns"
	"github.com/lakeshorelabs/go-push-router/internal/platform/fcm"
	"github.com/lakeshorelabs/go-push-router/internal/platform/web"
	"github.com/lakeshorelabs/go-push-router/internal/scheduler"
	"github.com/lakeshorelabs/go-push-router/internal/storage/cache"
	fsStore "github.com/lakeshorelabs/go-push-router/internal/storage/firestore"
	"github.com/lakeshorelabs/go-push-router/internal/storage/kv"
	"github.com/lakeshorelabs/go-push-router/pkg/dispatch"
	"github.com/lakeshorelabs/go-push-router/pushrouter"
	"github.com/lakeshorelabs/go-push-router/pushrouter/config"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-router")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = psClient.Close() }()

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore client failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = fsClient.Close() }()

	// The key-value bridge is load-bearing (preferences, launch replays,
	// the scheduled queue), so Redis is a hard requirement.
	rdb, err := kv.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Error("Failed to connect to Redis", "addr", cfg.Redis.Addr, "err", err)
		os.Exit(1)
	}
	defer func() { _ = rdb.Close() }()
	kvStore := kv.NewStore(rdb)

	// --- Token Store (Decorated) ---
	var tokenStore dispatch.TokenStore = fsStore.NewStore(fsClient)
	logger.Info("TokenStore initialized", "type", "firestore")

	tokenStore = cache.NewCachedTokenStore(tokenStore, cache.WrapRedis(rdb), 24*time.Hour)
	logger.Info("TokenStore upgraded", "type", "redis_cached_firestore")

	// --- Dispatchers ---

	// A. Mobile (FCM)
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
	if err != nil {
		logger.Error("Failed to initialize Firebase App", "err", err)
		os.Exit(1)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		logger.Error("Failed to create FCM messaging client", "err", err)
		os.Exit(1)
	}
	fcmDispatcher := fcm.NewDispatcher(fcmMessaging, cfg.Channel.ID, logger)

	// B. Mobile (APNs) - optional, enabled when a signing key is present.
	var apnsDispatcher dispatch.Dispatcher
	if cfg.APNS.P8Path != "" {
		p8, err := os.ReadFile(cfg.APNS.P8Path)
		if err != nil {
			logger.Error("Failed to read APNs signing key", "path", cfg.APNS.P8Path, "err", err)
			os.Exit(1)
		}
		d, err := apns.NewDispatcher(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: p8,
			Badge:        cfg.Display.Badge,
		}, logger)
		if err != nil {
			logger.Error("Failed to create APNs dispatcher", "err", err)
			os.Exit(1)
		}
		apnsDispatcher = d
		logger.Info("APNs dispatcher enabled", "bundle_id", cfg.APNS.BundleID)
	} else {
		logger.Warn("APNs signing key not configured. APNs delivery disabled.")
	}

	// C. Web (VAPID) - optional.
	var webDispatcher dispatch.WebDispatcher
	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		logger.Warn("VAPID keys missing in configuration. Web Push disabled.")
	} else {
		webDispatcher = web.NewDispatcher(web.VapidConfig{
			PublicKey:       cfg.Vapid.PublicKey,
			PrivateKey:      cfg.Vapid.PrivateKey,
			SubscriberEmail: cfg.Vapid.SubscriberEmail,
		}, logger)
		logger.Info("Web dispatcher enabled", "public_key", cfg.Vapid.PublicKey)
	}

	// --- Display & Scheduler ---
	displayManager := display.NewManager(tokenStore, fcmDispatcher, apnsDispatcher, webDispatcher, kvStore, display.Presentation{
		Alert: cfg.Display.Alert,
		Sound: cfg.Display.Sound,
	}, logger)

	sched := scheduler.New(kvStore, displayManager, logger)
	if err := sched.Start(); err != nil {
		logger.Error("Scheduler failed to start", "err", err)
		os.Exit(1)
	}
	defer sched.Stop()

	// --- Consumers & Service ---
	messages, err := newConsumer(ctx, psClient, cfg.MessageSubscriptionID, cfg.MessageTopicID, cfg.DLQTopicID, cfg, logger)
	if err != nil {
		logger.Error("Message consumer setup failed", "err", err)
		os.Exit(1)
	}

	var taps pushrouter.Source
	if cfg.TapSubscriptionID != "" {
		taps, err = newConsumer(ctx, psClient, cfg.TapSubscriptionID, cfg.TapTopicID, "", cfg, logger)
		if err != nil {
			logger.Error("Tap consumer setup failed", "err", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("No tap subscription configured. Tap handling disabled.")
	}

	service, err := pushrouter.New(cfg, pushrouter.Dependencies{
		Display:   displayManager,
		Tokens:    tokenStore,
		Topics:    fcmDispatcher,
		State:     kvStore,
		Messages:  messages,
		Taps:      taps,
		Validator: fcmDispatcher,
	}, pushrouter.Options{Logger: logger})
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	var ready atomic.Bool
	server := api.New(service, cfg.ListenAddr, ready.Load, logger)

	if err := service.Initialize(ctx); err != nil {
		logger.Error("Service initialization failed", "err", err)
		os.Exit(1)
	}
	ready.Store(true)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	logger.Info("Service is now ready.")

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping...")
	case err := <-serverErr:
		logger.Error("HTTP server failed", "err", err)
	}

	ready.Store(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "err", err)
	}
	service.Shutdown()
	logger.Info("Shutdown complete.")
}

// newConsumer ensures the subscription exists, then wraps it. The DLQ topic
// is optional; without one, failed messages simply redeliver.
func newConsumer(ctx context.Context, psClient *pubsub.Client, subID, topicID, dlqTopicID string, cfg *config.Config, logger *slog.Logger) (*consumer.PubsubConsumer, error) {
	subConfig := &pubsubpb.Subscription{
		Name:               pubsubName(cfg.ProjectID, subID, "subscriptions"),
		Topic:              pubsubName(cfg.ProjectID, topicID, "topics"),
		AckDeadlineSeconds: 10,
	}
	if dlqTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     pubsubName(cfg.ProjectID, dlqTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}

	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", subID)
		}
	}

	return consumer.NewPubsub(psClient, subID, logger), nil
}

func pubsubName(project, id, kind string) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, kind, id)
}
