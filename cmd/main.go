package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"

	"infothon/cmd/buildCFG"
	"infothon/internal/api/api"
	"infothon/internal/auth"
	"infothon/internal/catalog"
	"infothon/internal/checkout"
	rabbitReader "infothon/internal/consumerWorker"
	"infothon/internal/identity"
	"infothon/internal/localcache"
	"infothon/internal/mailer"
	"infothon/internal/obs"
	"infothon/internal/payment"
	"infothon/internal/rabbit"
	"infothon/internal/repo"
	"infothon/internal/service"
	"infothon/internal/team"
)

func main() {
	zlog.Init()
	log := zlog.Logger

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	cfg := config.New()
	if err := cfg.Load("config.yaml", "", ""); err != nil {
		log.Fatal().Msgf("failed to load configuration: %v", err)
	}
	serverCfg := buildCFG.BuildServerConfig(cfg, &log)
	appCfg := buildCFG.BuildAppConfig(cfg, &log)
	secrets, err := buildCFG.BuildSecrets(&log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load secrets")
	}

	shutdownTracer, err := obs.InitTracer("infothon", appCfg.Version, appCfg.Env, appCfg.TracingEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracing")
	}

	masterDSN, slaveDSNs, poolOptions, err := buildCFG.BuildDBConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build DB config")
	}
	db, err := dbpg.New(masterDSN, slaveDSNs, poolOptions)
	if err != nil {
		log.Fatal().Msgf("failed to connect to DB: %v", err)
	}
	if err := db.Master.Ping(); err != nil {
		log.Fatal().Msgf("DB ping failed: %v", err)
	}
	log.Info().Msg("Database connected successfully")

	repository, err := repo.NewRepository(db, &log)
	if err != nil {
		log.Fatal().Msgf("failed to initialize repository: %v", err)
	}
	if err := repository.MigrateUp(appCfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("Migrations applied successfully")

	rabbitCfg, err := buildCFG.BuildRabbitConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load RabbitMQ config")
	}
	var rmq rabbit.Rabbiter
	rmq, err = rabbit.NewRabbit(rabbitCfg.Url, rabbitCfg.Exchange, rabbitCfg.Queue)
	if err != nil {
		log.Fatal().Msgf("Failed to connect to RabbitMQ: %v", err)
	}
	defer rmq.Close()

	cache, err := localcache.NewSQLite(appCfg.CachePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open local cache")
	}
	defer cache.Close()

	users := identity.NewClient(appCfg.IdentityURL, secrets.IdentityAPIKey, appCfg.IdentityTimeout)
	payments := payment.NewClient(appCfg.PaymentURL, secrets.PaymentKeyID, secrets.PaymentKeySecret, appCfg.PaymentTimeout)
	mail := mailer.New(mailer.Config{
		Host:     appCfg.SMTPHost,
		Port:     appCfg.SMTPPort,
		From:     appCfg.MailFrom,
		Password: secrets.SMTPPassword,
		Support:  appCfg.SupportEmail,
	}, &log)

	cat := catalog.Default()
	carts := checkout.NewCartStore(cache)
	purchases := checkout.NewPurchases(users, cache, &log)
	orderCfg := checkout.Config{Currency: appCfg.Currency, SessionTTL: appCfg.SessionTTL}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	rabbitReaderer := rabbitReader.NewReader(rmq, repository, mail, &log)
	rabbitReaderer.Start(workerCtx)

	issuer := auth.NewIssuer(secrets.JWTSecret, appCfg.TokenTTL)
	serviceInstance := service.NewService(service.Deps{
		Catalog:   cat,
		Repo:      repository,
		Carts:     carts,
		Purchases: purchases,
		Checkout: checkout.NewOrchestrator(checkout.Deps{
			Catalog:   cat,
			Repo:      repository,
			Payments:  payments,
			Purchases: purchases,
			Carts:     carts,
			Publisher: rmq,
			Log:       &log,
		}, orderCfg),
		Teams: team.NewOrchestrator(team.Deps{
			Catalog:   cat,
			Repo:      repository,
			Payments:  payments,
			Purchases: purchases,
			Publisher: rmq,
			Log:       &log,
		}, orderCfg),
		Issuer:    issuer,
		Operators: auth.NewOperators(secrets.AdminUsername, secrets.AdminPasswordHash),
	}, &log)
	app := api.NewRouters(&api.Routers{Service: serviceInstance, Users: users, Issuer: issuer, Log: &log})

	srv := &http.Server{
		Addr:              ":" + serverCfg.Port,
		Handler:           app,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrChan := make(chan error, 1)
	go func() {
		log.Info().Msgf("Starting server on %s", serverCfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-signalChan:
		log.Info().Msgf("Received signal %s. Initiating shutdown...", sig)
	case err := <-serverErrChan:
		log.Error().Msgf("Server error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Msgf("Error shutting down server: %v", err)
	}

	cancelWorkers()
	rabbitReaderer.Stop()

	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("failed to flush traces")
	}
	log.Info().Msg("Shutdown complete")
}
