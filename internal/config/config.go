package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	RabbitMQ RabbitMQConfig
	Partner  PartnerConfig
	Sync     SyncConfig
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RabbitMQConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	VHost    string
}

// PartnerConfig carries the identity used for signed calls to the
// external partner system. APIID and Secret are required: without them
// every signed call would be rejected, so startup fails fast.
type PartnerConfig struct {
	APIID   string
	Secret  string
	Version string
	BaseURL string
}

// SyncConfig tunes the compensation sweep and the message-bus topology.
type SyncConfig struct {
	PageSize       int
	PushTimeout    time.Duration
	PushExchange   string
	PushPrefix     string
	FeedbackPrefix string
	PrefetchCount  int
	ConsumerName   string
}

const (
	defaultPageSize      = 100
	defaultPushTimeout   = 10 * time.Second
	defaultPrefetchCount = 10
	defaultVersion       = "1.0"
)

func Load() (*Config, error) {
	var missing []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	getDefault := func(key, fallback string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		return fallback
	}

	config := &Config{
		Server: ServerConfig{
			Port: get("SERVER_PORT"),
			Host: get("SERVER_HOST"),
		},
		Database: DatabaseConfig{
			Host:     get("DB_HOST"),
			Port:     get("DB_PORT"),
			User:     get("DB_USER"),
			Password: get("DB_PASSWORD"),
			DBName:   get("DB_NAME"),
			SSLMode:  get("DB_SSLMODE"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      os.Getenv("RABBITMQ_URL"),
			Host:     get("RABBITMQ_HOST"),
			Port:     get("RABBITMQ_PORT"),
			User:     get("RABBITMQ_USER"),
			Password: get("RABBITMQ_PASSWORD"),
			VHost:    get("RABBITMQ_VHOST"),
		},
		Partner: PartnerConfig{
			APIID:   get("PARTNER_API_ID"),
			Secret:  get("PARTNER_SECRET"),
			Version: getDefault("PARTNER_VERSION", defaultVersion),
			BaseURL: get("PARTNER_BASE_URL"),
		},
		Sync: SyncConfig{
			PushExchange:   getDefault("SYNC_PUSH_EXCHANGE", "partner.push"),
			PushPrefix:     getDefault("SYNC_PUSH_PREFIX", "partner.push"),
			FeedbackPrefix: getDefault("SYNC_FEEDBACK_PREFIX", "partner.feedback"),
			ConsumerName:   getDefault("SYNC_CONSUMER_NAME", "partner-sync-svc"),
		},
	}

	pageSize, err := intEnv("SYNC_PAGE_SIZE", defaultPageSize)
	if err != nil {
		return nil, err
	}
	config.Sync.PageSize = pageSize

	prefetch, err := intEnv("SYNC_PREFETCH_COUNT", defaultPrefetchCount)
	if err != nil {
		return nil, err
	}
	config.Sync.PrefetchCount = prefetch

	pushTimeout, err := durationEnv("SYNC_PUSH_TIMEOUT", defaultPushTimeout)
	if err != nil {
		return nil, err
	}
	config.Sync.PushTimeout = pushTimeout

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return config, nil
}

func intEnv(key string, fallback int) (int, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, val)
	}
	return parsed, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, val)
	}
	return parsed, nil
}

// ConnectionString returns a DSN string for GORM
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

func (c *RabbitMQConfig) ConnectionURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s%s",
		c.User, c.Password, c.Host, c.Port, c.VHost)
}
