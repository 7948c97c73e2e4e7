package buildCFG

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
)

type ServerConfig struct {
	Port string
}

type RabbitConfig struct {
	Url      string
	Exchange string
	Queue    string
}

type AppConfig struct {
	Env             string
	Version         string
	Currency        string
	SessionTTL      time.Duration
	MigrationsDir   string
	CachePath       string
	IdentityURL     string
	IdentityTimeout time.Duration
	PaymentURL      string
	PaymentTimeout  time.Duration
	TokenTTL        time.Duration
	TracingEndpoint string
	SMTPHost        string
	SMTPPort        string
	MailFrom        string
	SupportEmail    string
}

// Secrets never live in config.yaml; they come from the environment (or .env in dev).
type Secrets struct {
	JWTSecret         string `envconfig:"JWT_SECRET"`
	PaymentKeyID      string `envconfig:"PAYMENT_KEY_ID"`
	PaymentKeySecret  string `envconfig:"PAYMENT_KEY_SECRET"`
	IdentityAPIKey    string `envconfig:"IDENTITY_API_KEY"`
	SMTPPassword      string `envconfig:"SMTP_PASSWORD"`
	AdminUsername     string `envconfig:"ADMIN_USERNAME" default:"admin"`
	AdminPasswordHash string `envconfig:"ADMIN_PASSWORD_HASH"`
}

func BuildServerConfig(cfg *config.Config, log *zerolog.Logger) ServerConfig {
	port := cfg.GetString("server.port")
	if port == "" {
		port = "8080"
		log.Warn().Msg("server.port not set, using 8080")
	}
	return ServerConfig{Port: port}
}

func BuildDBConfig(cfg *config.Config, log *zerolog.Logger) (string, []string, *dbpg.Options, error) {
	master := cfg.GetString("database.master")
	if master == "" {
		return "", nil, nil, errors.New("database.master is required")
	}
	slaves := cfg.GetStringSlice("database.slaves")
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.GetInt("database.max_open_conns"),
		MaxIdleConns:    cfg.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: cfg.GetDuration("database.conn_max_lifetime"),
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	log.Debug().Int("slaves", len(slaves)).Int("max_open", opts.MaxOpenConns).Msg("database config built")
	return master, slaves, opts, nil
}

func BuildRabbitConfig(cfg *config.Config, log *zerolog.Logger) (RabbitConfig, error) {
	rc := RabbitConfig{
		Url:      cfg.GetString("rabbitmq.url"),
		Exchange: cfg.GetString("rabbitmq.exchange"),
		Queue:    cfg.GetString("rabbitmq.queue"),
	}
	if rc.Url == "" || rc.Exchange == "" || rc.Queue == "" {
		return rc, fmt.Errorf("rabbitmq url, exchange and queue are required")
	}
	log.Debug().Str("exchange", rc.Exchange).Str("queue", rc.Queue).Msg("rabbitmq config built")
	return rc, nil
}

func durationOr(cfg *config.Config, key string, def time.Duration) time.Duration {
	if d := cfg.GetDuration(key); d > 0 {
		return d
	}
	return def
}

func stringOr(cfg *config.Config, key, def string) string {
	if s := cfg.GetString(key); s != "" {
		return s
	}
	return def
}

func BuildAppConfig(cfg *config.Config, log *zerolog.Logger) AppConfig {
	app := AppConfig{
		Env:             stringOr(cfg, "app.env", "dev"),
		Version:         stringOr(cfg, "app.version", "dev"),
		Currency:        stringOr(cfg, "checkout.currency", "INR"),
		SessionTTL:      durationOr(cfg, "checkout.session_ttl", 15*time.Minute),
		MigrationsDir:   stringOr(cfg, "database.migrations", "migrations/postgres"),
		CachePath:       stringOr(cfg, "cache.path", "data/cache.db"),
		IdentityURL:     cfg.GetString("identity.url"),
		IdentityTimeout: durationOr(cfg, "identity.timeout", 5*time.Second),
		PaymentURL:      stringOr(cfg, "payment.url", "https://api.razorpay.com"),
		PaymentTimeout:  durationOr(cfg, "payment.timeout", 10*time.Second),
		TokenTTL:        durationOr(cfg, "admin.token_ttl", 12*time.Hour),
		TracingEndpoint: cfg.GetString("tracing.endpoint"),
		SMTPHost:        cfg.GetString("mail.host"),
		SMTPPort:        stringOr(cfg, "mail.port", "587"),
		MailFrom:        cfg.GetString("mail.from"),
		SupportEmail:    cfg.GetString("mail.support"),
	}
	if app.IdentityURL == "" {
		log.Warn().Msg("identity.url not set, user routes will answer 503")
	}
	return app
}

func BuildSecrets(log *zerolog.Logger) (Secrets, error) {
	var s Secrets
	if err := envconfig.Process("", &s); err != nil {
		return s, fmt.Errorf("read secrets from env: %w", err)
	}
	if s.JWTSecret == "" {
		return s, errors.New("JWT_SECRET is required")
	}
	if s.PaymentKeyID == "" || s.PaymentKeySecret == "" {
		log.Warn().Msg("payment credentials missing, checkout will answer PAYMENT_GATEWAY_UNAVAILABLE")
	}
	if s.AdminPasswordHash == "" {
		log.Warn().Msg("ADMIN_PASSWORD_HASH missing, operator login is disabled")
	}
	return s, nil
}
