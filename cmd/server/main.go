package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campuscoin/coin-service/internal/api"
	"github.com/campuscoin/coin-service/internal/config"
	"github.com/campuscoin/coin-service/internal/handler"
	"github.com/campuscoin/coin-service/internal/infrastructure/kafka"
	"github.com/campuscoin/coin-service/internal/infrastructure/redis"
	"github.com/campuscoin/coin-service/internal/models"
	"github.com/campuscoin/coin-service/internal/observability"
	core "github.com/campuscoin/coin-service/internal/repository/postgres"
	service "github.com/campuscoin/coin-service/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	shutdown := observability.Setup("coin-service", cfg.OTLPEndpoint)
	defer shutdown(context.Background())

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	store := core.NewStore(db)
	repos := store.Repos()

	// The achievement catalog is fixed; seeding is idempotent.
	seedCtx, seedCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := repos.Achievements.Seed(seedCtx, models.DefaultAchievements()); err != nil {
		seedCancel()
		log.Fatalf("Failed to seed achievements: %v", err)
	}
	seedCancel()

	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	coinConsumer := kafka.NewConsumer(cfg.KafkaBrokers, service.TopicCoinEvents, "coin-service-audit")
	userConsumer := kafka.NewConsumer(cfg.KafkaBrokers, service.TopicUserEvents, "coin-service-audit-users")
	consumerCtx, stopConsumers := context.WithCancel(context.Background())
	go coinConsumer.Consume(consumerCtx)
	go userConsumer.Consume(consumerCtx)
	defer stopConsumers()
	defer coinConsumer.Close()
	defer userConsumer.Close()

	engine := service.NewAchievementEngine(redisClient)
	authSvc := service.NewAuthService(store, repos, engine, redisClient, producer, cfg.JWTSecret)
	transferSvc := service.NewTransferService(store, repos, engine, redisClient, producer)
	goalSvc := service.NewGoalService(store, repos, engine, redisClient, producer)
	accountSvc := service.NewAccountService(store, repos, engine, producer)

	h := handler.NewHandler(authSvc, transferSvc, goalSvc, accountSvc)
	router := api.SetupRouter(h, redisClient, cfg.JWTSecret)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
