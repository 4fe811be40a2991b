package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"parking-service/internal/broker"
	"parking-service/internal/config"
	"parking-service/internal/db"
	apihttp "parking-service/internal/http"
	"parking-service/internal/payment"
	"parking-service/internal/queue"
	"parking-service/internal/repository"
	"parking-service/internal/service"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	gdb, err := db.Open(cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}

	// The redis backplane is best-effort: without it the broker still fans
	// out in-process.
	var backplane *redis.Client
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, broker runs in-process only")
	} else {
		backplane = rdb
	}
	cancelPing()

	bus := broker.New(backplane, cfg.Broadcast.SendTimeout, cfg.Broadcast.BufferSize, log)

	recordRepo := repository.NewRecordRepository(gdb)
	lprRepo := repository.NewLPRRepository(gdb)
	zoneRepo := repository.NewZoneRepository(gdb)
	billingRepo := repository.NewBillingRepository(gdb)
	spotRepo := repository.NewSpotRepository(gdb)

	gateway := payment.NewClient(payment.Config{
		Address:     cfg.Payment.Address,
		Username:    cfg.Payment.Username,
		Password:    cfg.Payment.Password,
		Gateway:     cfg.Payment.Gateway,
		Provider:    cfg.Payment.Provider,
		Terminal:    cfg.Payment.Terminal,
		CallbackURL: cfg.Payment.CallbackURL,
		Timeout:     cfg.Payment.Timeout,
	}, log)

	records := service.NewRecordStore(recordRepo)
	biller := service.NewBiller(billingRepo, records, zoneRepo, gateway,
		cfg.Correlator.ReissueGrace, cfg.Payment.VerifyPolls, cfg.Payment.VerifyDelay, log)
	correlator := service.NewCorrelator(records, lprRepo, biller, bus,
		cfg.Correlator.FreeTimeBetweenRecords, cfg.Correlator.GracePeriod, log)
	ingestor := service.NewIngestor(lprRepo, spotRepo, zoneRepo, correlator, bus,
		cfg.Correlator.FreeTimeBetweenRecords, cfg.Correlator.IngestRetries, cfg.Rabbit.Workers, log)

	commands := queue.NewRabbitQueue(cfg.Rabbit.URL, cfg.Rabbit.QueueName, cfg.Rabbit.Prefetch, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ingestor.Start(ctx)
	go correlator.RunSweeper(ctx, cfg.Correlator.SweepInterval)

	var consumers sync.WaitGroup
	for i := 0; i < cfg.Rabbit.Workers; i++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			if err := commands.Consume(ctx, ingestor.Handle); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("command consumer stopped")
			}
		}()
	}

	router := gin.New()
	router.Use(gin.Recovery(), apihttp.RequestID())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))

	handler := apihttp.NewHandler(commands, biller, recordRepo, lprRepo, zoneRepo,
		billingRepo, spotRepo, bus, gateway, cfg, log)
	handler.Register(router, apihttp.NewAuthMiddleware(cfg.Auth.JWTSecret))

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}

	consumers.Wait()
	ingestor.Stop()
	_ = commands.Close()
	if backplane != nil {
		_ = backplane.Close()
	}
	log.Info().Msg("stopped")
}
