package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Providers ProvidersConfig
	Auth      AuthConfig
	Retention RetentionConfig
}

type ServerConfig struct {
	Port    string
	Timeout time.Duration
}

type PostgresConfig struct {
	URL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RabbitMQConfig struct {
	URL            string
	Exchange       string
	ScheduledQueue string
}

type ProvidersConfig struct {
	Email    EmailProviderConfig
	SMS      SMSProviderConfig
	WhatsApp WhatsAppProviderConfig
	Push     PushProviderConfig
}

type EmailProviderConfig struct {
	BaseURL  string
	APIKey   string
	From     string
	FromName string
}

type SMSProviderConfig struct {
	BaseURL  string
	APIKey   string
	SenderID string
}

type WhatsAppProviderConfig struct {
	BaseURL string
	Token   string
	Sender  string
}

type PushProviderConfig struct {
	BaseURL string
	APIKey  string
}

type AuthConfig struct {
	JWTSecret string
}

type RetentionConfig struct {
	DaysToKeep int
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.timeout", "10s")
	viper.SetDefault("rabbitmq.exchange", "notifications.direct")
	viper.SetDefault("rabbitmq.scheduledqueue", "notifications.scheduled")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("providers.email.fromname", "Guichet Digital")
	viper.SetDefault("providers.sms.senderid", "GUICHET")
	viper.SetDefault("retention.daystokeep", 90)

	// Read from environment
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
