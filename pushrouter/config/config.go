package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type ChannelConfig struct {
	ID          string
	Name        string
	Description string
}

type DisplayConfig struct {
	Alert bool
	Sound bool
	Badge bool
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type APNSConfig struct {
	KeyID    string
	TeamID   string
	BundleID string
	P8Path   string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID  string
	ListenAddr string

	MessageTopicID        string
	MessageSubscriptionID string
	TapTopicID            string
	TapSubscriptionID     string
	DLQTopicID            string

	Channel ChannelConfig
	Display DisplayConfig
	Redis   RedisConfig
	Vapid   VapidConfig
	APNS    APNSConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("MESSAGE_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "MESSAGE_TOPIC_ID", "source", "env")
		cfg.MessageTopicID = val
	}
	if val := os.Getenv("MESSAGE_SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "MESSAGE_SUBSCRIPTION_ID", "source", "env")
		cfg.MessageSubscriptionID = val
	}
	if val := os.Getenv("TAP_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "TAP_TOPIC_ID", "source", "env")
		cfg.TapTopicID = val
	}
	if val := os.Getenv("TAP_SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "TAP_SUBSCRIPTION_ID", "source", "env")
		cfg.TapSubscriptionID = val
	}
	if val := os.Getenv("DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "DLQ_TOPIC_ID", "source", "env")
		cfg.DLQTopicID = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}

	// APNS Overrides
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_KEY_ID", "source", "env")
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_TEAM_ID", "source", "env")
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_BUNDLE_ID", "source", "env")
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_PATH"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_P8_PATH", "source", "env")
		cfg.APNS.P8Path = val
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.MessageSubscriptionID == "" {
		return nil, fmt.Errorf("message_subscription_id is required (set via YAML or MESSAGE_SUBSCRIPTION_ID env var)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Channel.ID == "" {
		cfg.Channel.ID = "push_router_default"
	}
	if cfg.Channel.Name == "" {
		cfg.Channel.Name = "General"
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
