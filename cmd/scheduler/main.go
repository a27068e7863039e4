package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/peervest/lending-engine/internal/config"
	"github.com/peervest/lending-engine/internal/repository"
	"github.com/peervest/lending-engine/internal/service"
)

func main() {
	log.Println("Starting lending sweep scheduler...")

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	uow := repository.NewUnitOfWork(db)
	repos := repository.NewRepos(db)
	publisher := service.NewRedisEventPublisher(redisClient, cfg.Business.EventChannel)
	sweeper := service.NewSweeperService(uow, repos, publisher, cfg.GracePeriod())

	location, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		log.Fatalf("Invalid scheduler timezone: %v", err)
	}

	c := cron.New(cron.WithSeconds(), cron.WithLocation(location))

	_, err = c.AddFunc(cfg.Scheduler.SweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		result, err := sweeper.Sweep(ctx, time.Now().UTC())
		if err != nil {
			log.Printf("Sweep failed: %v", err)
			return
		}
		log.Printf("Sweep finished: %d overdue, %d defaulted", len(result.Overdue), len(result.Defaulted))
	})
	if err != nil {
		log.Fatalf("Error scheduling sweep job: %v", err)
	}

	c.Start()
	log.Println("Scheduler started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down scheduler...")
	<-c.Stop().Done()
	log.Println("Scheduler stopped")
}
