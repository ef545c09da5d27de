package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config agrupa a configuração do serviço por responsabilidade
type Config struct {
	ServiceName string
	Port        string
	Currency    string

	Database  DatabaseConfig
	Payment   PaymentConfig
	Shipping  ShippingConfig
	Trigger   TriggerConfig
	Outbox    OutboxConfig
	Telemetry TelemetryConfig
}

type DatabaseConfig struct {
	User           string
	Password       string
	Host           string
	Port           string
	Name           string
	MaxConns       int32
	RunMigrations  bool
	ConnectRetries int
}

// DSN builds the postgres URL shared by pgxpool and the migration runner.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name,
	)
}

type PaymentConfig struct {
	// Provider é "razorpay" ou "mock"
	Provider   string
	BaseURL    string
	KeyID      string
	KeySecret  string
	MockSecret string
	Timeout    time.Duration
}

type ShippingConfig struct {
	// Provider é "shiprocket" ou "mock"
	Provider        string
	BaseURL         string
	Email           string
	Password        string
	PickupLocation  string
	Timeout         time.Duration
	LeaseDuration   time.Duration
	TokenTTL        time.Duration
	TokenMargin     time.Duration
	RedisAddr       string
	RedisPassword   string
	RedisTokenKey   string
	PackageWeightKg string
	PackageLengthCm string
	PackageBreadth  string
	PackageHeightCm string
}

type TriggerConfig struct {
	// Mode é "none", "sync" ou "dtm"
	Mode          string
	DTMServer     string
	ServiceURL    string
	RetryInterval int64
}

type OutboxConfig struct {
	KafkaBrokers []string
	Topic        string
	PollInterval time.Duration
	BatchSize    int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
}

// LoadConfig lê a configuração das variáveis de ambiente
func LoadConfig() (Config, error) {
	cfg := Config{
		ServiceName: getEnv("SERVICE_NAME", "checkout-service"),
		Port:        getEnv("PORT", "8080"),
		Currency:    strings.ToUpper(getEnv("CURRENCY", "INR")),
		Database: DatabaseConfig{
			User:           getEnv("DATABASE_USER", "root"),
			Password:       getEnv("DATABASE_PASSWORD", "pass"),
			Host:           getEnv("DATABASE_HOST", "localhost"),
			Port:           getEnv("DATABASE_PORT", "5432"),
			Name:           getEnv("DATABASE_NAME", "checkout_db"),
			MaxConns:       int32(getEnvInt("DATABASE_MAX_CONNS", 10)),
			RunMigrations:  getEnvBool("DATABASE_RUN_MIGRATIONS", true),
			ConnectRetries: getEnvInt("DATABASE_CONNECT_RETRIES", 30),
		},
		Payment: PaymentConfig{
			Provider:   strings.ToLower(getEnv("PAYMENT_PROVIDER", "mock")),
			BaseURL:    getEnv("RAZORPAY_BASE_URL", "https://api.razorpay.com"),
			KeyID:      getEnv("RAZORPAY_KEY_ID", ""),
			KeySecret:  getEnv("RAZORPAY_KEY_SECRET", ""),
			MockSecret: getEnv("PAYMENT_MOCK_SECRET", "mock_secret"),
			Timeout:    getEnvDuration("PAYMENT_TIMEOUT", 10*time.Second),
		},
		Shipping: ShippingConfig{
			Provider:        strings.ToLower(getEnv("SHIPPING_PROVIDER", "mock")),
			BaseURL:         getEnv("SHIPROCKET_BASE_URL", "https://apiv2.shiprocket.in"),
			Email:           getEnv("SHIPROCKET_EMAIL", ""),
			Password:        getEnv("SHIPROCKET_PASSWORD", ""),
			PickupLocation:  getEnv("SHIPPING_PICKUP_LOCATION", ""),
			Timeout:         getEnvDuration("SHIPPING_TIMEOUT", 15*time.Second),
			LeaseDuration:   getEnvDuration("SHIPMENT_LEASE", 2*time.Minute),
			TokenTTL:        getEnvDuration("SHIPROCKET_TOKEN_TTL", 9*24*time.Hour),
			TokenMargin:     getEnvDuration("SHIPROCKET_TOKEN_MARGIN", 5*time.Minute),
			RedisAddr:       getEnv("REDIS_ADDR", ""),
			RedisPassword:   getEnv("REDIS_PASSWORD", ""),
			RedisTokenKey:   getEnv("SHIPROCKET_TOKEN_KEY", "checkout:shiprocket:token"),
			PackageWeightKg: getEnv("SHIPPING_PACKAGE_WEIGHT_KG", "0.5"),
			PackageLengthCm: getEnv("SHIPPING_PACKAGE_LENGTH_CM", "20"),
			PackageBreadth:  getEnv("SHIPPING_PACKAGE_BREADTH_CM", "15"),
			PackageHeightCm: getEnv("SHIPPING_PACKAGE_HEIGHT_CM", "5"),
		},
		Trigger: TriggerConfig{
			Mode:          strings.ToLower(getEnv("SHIPMENT_TRIGGER", "none")),
			DTMServer:     getEnv("DTM_SERVER", "http://dtm:36789/api/dtmsvr"),
			ServiceURL:    getEnv("SERVICE_URL", "http://checkout-service:8080"),
			RetryInterval: int64(getEnvInt("DTM_RETRY_INTERVAL", 30)),
		},
		Outbox: OutboxConfig{
			KafkaBrokers: splitCSV(getEnv("KAFKA_BROKERS", "")),
			Topic:        getEnv("KAFKA_ORDER_EVENTS_TOPIC", "order-events"),
			PollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", time.Second),
			BatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 100),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getEnvBool("OTEL_ENABLED", true),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// shipmentStepRequests é o máximo de requisições HTTP de uma etapa da saga
const shipmentStepRequests = 4

func (c Config) validate() error {
	var problems []string

	switch c.Payment.Provider {
	case "mock":
	case "razorpay":
		if c.Payment.KeyID == "" || c.Payment.KeySecret == "" {
			problems = append(problems, "RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown PAYMENT_PROVIDER %q", c.Payment.Provider))
	}

	switch c.Shipping.Provider {
	case "mock":
	case "shiprocket":
		if c.Shipping.Email == "" || c.Shipping.Password == "" {
			problems = append(problems, "SHIPROCKET_EMAIL and SHIPROCKET_PASSWORD are required")
		}
		if c.Shipping.PickupLocation == "" {
			problems = append(problems, "SHIPPING_PICKUP_LOCATION is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown SHIPPING_PROVIDER %q", c.Shipping.Provider))
	}

	// uma etapa da saga pode fazer login, chamada, novo login após 401 e retry
	if floor := shipmentStepRequests * c.Shipping.Timeout; c.Shipping.LeaseDuration < floor {
		problems = append(problems, fmt.Sprintf("SHIPMENT_LEASE must be at least %s (%d x SHIPPING_TIMEOUT)", floor, shipmentStepRequests))
	}

	switch c.Trigger.Mode {
	case "none", "sync", "dtm":
	default:
		problems = append(problems, fmt.Sprintf("unknown SHIPMENT_TRIGGER %q", c.Trigger.Mode))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
