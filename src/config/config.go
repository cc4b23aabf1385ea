package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const TIME_PARSE_FORMAT = "2006-01-02 15:04:05 -07:00"

type Config struct {
	Env             string
	Port            string
	MaintenanceMode bool
	Timezone        string

	RedisHost   string
	KafkaBroker string

	SQSMainQueue          string
	SQSNotificationsQueue string
	AWSSecretID           string
	AWSIAMRoleARN         string
	S3AssetsBucket        string
	SNSSenderID           string

	MpesaBaseURL        string
	MpesaConsumerKey    string
	MpesaConsumerSecret string
	MpesaShortcode      string
	MpesaPasskey        string

	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string
	CallbackURL         string
	CheckoutHost        string

	EmailBackend string
	EmailFrom    string
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string

	JWTSecret        string
	OTPSecret        string
	TicketSigningKey string

	PaymentTTL      time.Duration
	ProviderTimeout time.Duration
	BreakerTrips    int
	BreakerCooldown time.Duration
	JobBackoffBase  time.Duration
	JobMaxAttempts  int
	JobBatchSize    int
	JobConcurrency  int
}

// Load reads the process environment. A .env file is honoured for local runs.
func Load() *Config {
	if os.Getenv("API_ENV") == "local" || os.Getenv("API_ENV") == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("[Config] Error loading .env file: %s\n", err.Error())
		}
	}
	return &Config{
		Env:             getEnv("API_ENV", "local"),
		Port:            getEnv("PORT", "9090"),
		MaintenanceMode: getEnvAsBool("MAINTENANCE_MODE", false),
		Timezone:        getEnv("TIMEZONE", "UTC"),

		RedisHost:   getEnv("REDIS_HOST", ""),
		KafkaBroker: getEnv("KAFKA_BROKER", ""),

		SQSMainQueue:          getEnv("SQS_MAIN_QUEUE", ""),
		SQSNotificationsQueue: getEnv("SQS_NOTIFICATIONS_QUEUE", ""),
		AWSSecretID:           getEnv("AWS_SECRET_ID", ""),
		AWSIAMRoleARN:         getEnv("AWS_IAM_ROLE_ARN", ""),
		S3AssetsBucket:        getEnv("S3_ASSETS_BUCKET", ""),
		SNSSenderID:           getEnv("SNS_SENDER_ID", ""),

		MpesaBaseURL:        getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
		MpesaConsumerKey:    getEnv("MPESA_CONSUMER_KEY", ""),
		MpesaConsumerSecret: getEnv("MPESA_CONSUMER_SECRET", ""),
		MpesaShortcode:      getEnv("MPESA_SHORTCODE", ""),
		MpesaPasskey:        getEnv("MPESA_PASSKEY", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		Currency:            strings.ToLower(getEnv("CURRENCY", "kes")),
		CallbackURL:         getEnv("CALLBACK_URL", ""),
		CheckoutHost:        getEnv("CHECKOUT_HOST", "http://localhost:3000"),

		EmailBackend: getEnv("EMAIL_BACKEND", "smtp"),
		EmailFrom:    getEnv("EMAIL_FROM", "tickets@localhost"),
		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		OTPSecret:        getEnv("OTP_SECRET", ""),
		TicketSigningKey: getEnv("TICKET_SIGNING_KEY", ""),

		PaymentTTL:      getEnvAsDuration("PAYMENT_TTL", 30*time.Minute),
		ProviderTimeout: getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),
		BreakerTrips:    getEnvAsInt("PROVIDER_BREAKER_TRIPS", 5),
		BreakerCooldown: getEnvAsDuration("PROVIDER_BREAKER_COOLDOWN", 30*time.Second),
		JobBackoffBase:  getEnvAsDuration("JOB_BACKOFF_BASE", 30*time.Second),
		JobMaxAttempts:  getEnvAsInt("JOB_MAX_ATTEMPTS", 5),
		JobBatchSize:    getEnvAsInt("JOB_BATCH_SIZE", 50),
		JobConcurrency:  getEnvAsInt("JOB_CONCURRENCY", 8),
	}
}

// Validate reports configuration that makes the process unable to start.
func (c *Config) Validate() error {
	var errs []error
	if os.Getenv("DATABASE_HOST") == "" || os.Getenv("DATABASE_NAME") == "" {
		errs = append(errs, errors.New("DATABASE_HOST and DATABASE_NAME are required"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}
	if len(c.OTPSecret) != 64 {
		errs = append(errs, errors.New("OTP_SECRET must be 32 bytes hex encoded"))
	}
	if len(c.TicketSigningKey) != 64 {
		errs = append(errs, errors.New("TICKET_SIGNING_KEY must be 32 bytes hex encoded"))
	}
	if c.PaymentTTL <= 0 {
		errs = append(errs, errors.New("PAYMENT_TTL must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ApplySecrets overlays provider keys fetched from a secret store.
func (c *Config) ApplySecrets(secrets map[string]string) {
	overlay := map[string]*string{
		"MPESA_CONSUMER_KEY":    &c.MpesaConsumerKey,
		"MPESA_CONSUMER_SECRET": &c.MpesaConsumerSecret,
		"MPESA_PASSKEY":         &c.MpesaPasskey,
		"STRIPE_SECRET_KEY":     &c.StripeSecretKey,
		"STRIPE_WEBHOOK_SECRET": &c.StripeWebhookSecret,
		"SMTP_PASSWORD":         &c.SMTPPassword,
		"JWT_SECRET":            &c.JWTSecret,
		"OTP_SECRET":            &c.OTPSecret,
		"TICKET_SIGNING_KEY":    &c.TicketSigningKey,
	}
	for k, dst := range overlay {
		if v, ok := secrets[k]; ok && v != "" {
			*dst = v
		}
	}
}

func GetDSN() string {
	DATABASE_HOST := os.Getenv("DATABASE_HOST")
	DATABASE_PORT := getEnv("DATABASE_PORT", "5432")
	DATABASE_SSLMODE := getEnv("DATABASE_SSLMODE", "disable")
	DATABASE_TIMEZONE := getEnv("DATABASE_TIMEZONE", "UTC")
	DATABASE_USER := os.Getenv("DATABASE_USER")
	DATABASE_PASSWORD := os.Getenv("DATABASE_PASSWORD")
	DATABASE_NAME := os.Getenv("DATABASE_NAME")
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s", DATABASE_HOST, DATABASE_USER, DATABASE_PASSWORD, DATABASE_NAME, DATABASE_PORT, DATABASE_SSLMODE, DATABASE_TIMEZONE)
	return dsn
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}
