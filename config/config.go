package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// MercadoPago configuration
	MercadoPago MercadoPagoConfig

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Ticket delivery
	TicketSenderName    string
	TicketSenderAddress string

	// Timeout configuration
	ProviderTimeout time.Duration

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

type MercadoPagoConfig struct {
	BaseURL             string
	AccessToken         string
	PublicKey           string
	WebhookSecret       string
	NotificationURL     string
	StatementDescriptor string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// MercadoPago
		MercadoPago: MercadoPagoConfig{
			BaseURL:             getEnv("MERCADOPAGO_BASE_URL", "https://api.mercadopago.com"),
			AccessToken:         getEnv("MERCADOPAGO_ACCESS_TOKEN", ""),
			PublicKey:           getEnv("MERCADOPAGO_PUBLIC_KEY", ""),
			WebhookSecret:       getEnv("MERCADOPAGO_WEBHOOK_SECRET", ""),
			NotificationURL:     getEnv("WEBHOOK_URL", ""),
			StatementDescriptor: getEnv("STATEMENT_DESCRIPTOR", "INGRESSOS"),
		},

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Ticket delivery
		TicketSenderName:    getEnv("TICKET_SENDER_NAME", "SafeSwap"),
		TicketSenderAddress: getEnv("TICKET_SENDER_ADDRESS", "tickets@safeswap.app"),

		// Timeouts
		ProviderTimeout: getEnvAsDuration("PROVIDER_TIMEOUT", "10s"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
