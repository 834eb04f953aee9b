package config

import (
	"log/slog"
)

type YamlChannelConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type YamlDisplayConfig struct {
	Alert bool `yaml:"alert"`
	Sound bool `yaml:"sound"`
	Badge bool `yaml:"badge"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlAPNSConfig struct {
	KeyID    string `yaml:"key_id"`
	TeamID   string `yaml:"team_id"`
	BundleID string `yaml:"bundle_id"`
	P8Path   string `yaml:"p8_path"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID             string            `yaml:"project_id"`
	ListenAddr            string            `yaml:"listen_addr"`
	MessageTopicID        string            `yaml:"message_topic_id"`
	MessageSubscriptionID string            `yaml:"message_subscription_id"`
	TapTopicID            string            `yaml:"tap_topic_id"`
	TapSubscriptionID     string            `yaml:"tap_subscription_id"`
	DLQTopicID            string            `yaml:"dlq_topic_id"`
	Channel               YamlChannelConfig `yaml:"channel"`
	Display               YamlDisplayConfig `yaml:"display"`
	RedisConfig           YamlRedisConfig   `yaml:"redis"`
	VapidConfig           YamlVapidConfig   `yaml:"vapid"`
	APNSConfig            YamlAPNSConfig    `yaml:"apns"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:             baseCfg.ProjectID,
		ListenAddr:            baseCfg.ListenAddr,
		MessageTopicID:        baseCfg.MessageTopicID,
		MessageSubscriptionID: baseCfg.MessageSubscriptionID,
		TapTopicID:            baseCfg.TapTopicID,
		TapSubscriptionID:     baseCfg.TapSubscriptionID,
		DLQTopicID:            baseCfg.DLQTopicID,
		Channel: ChannelConfig{
			ID:          baseCfg.Channel.ID,
			Name:        baseCfg.Channel.Name,
			Description: baseCfg.Channel.Description,
		},
		Display: DisplayConfig{
			Alert: baseCfg.Display.Alert,
			Sound: baseCfg.Display.Sound,
			Badge: baseCfg.Display.Badge,
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		APNS: APNSConfig{
			KeyID:    baseCfg.APNSConfig.KeyID,
			TeamID:   baseCfg.APNSConfig.TeamID,
			BundleID: baseCfg.APNSConfig.BundleID,
			P8Path:   baseCfg.APNSConfig.P8Path,
		},
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"message_subscription_id", cfg.MessageSubscriptionID,
	)

	return cfg, nil
}
