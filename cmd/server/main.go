package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/peervest/lending-engine/internal/config"
	"github.com/peervest/lending-engine/internal/handler"
	"github.com/peervest/lending-engine/internal/repository"
	"github.com/peervest/lending-engine/internal/service"
	"github.com/peervest/lending-engine/pkg/response"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := initDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	redisClient := initRedis(cfg)
	defer redisClient.Close()

	// Repositories and transaction scope
	uow := repository.NewUnitOfWork(db)
	repos := repository.NewRepos(db)

	// Services
	publisher := service.NewRedisEventPublisher(redisClient, cfg.Business.EventChannel)
	ledgerService := service.NewLedgerService(uow, repos)
	loanService := service.NewLoanService(uow, repos, publisher)
	fundingService := service.NewFundingService(uow, publisher, cfg.Business.MaxWriteRetries)
	repaymentService := service.NewRepaymentService(uow, publisher, cfg.Business.MaxWriteRetries)
	reconciliationService := service.NewReconciliationService(
		uow, fundingService, repaymentService, publisher,
		cfg.Business.Currency, cfg.Business.MaxWriteRetries,
	)
	sweeperService := service.NewSweeperService(uow, repos, publisher, cfg.GracePeriod())
	projectionService := service.NewProjectionService(repos, redisClient, cfg.GetProjectionTTL())

	// Handlers
	accountHandler := handler.NewAccountHandler(ledgerService)
	loanHandler := handler.NewLoanHandler(loanService, fundingService, repaymentService, projectionService)
	paymentHandler := handler.NewPaymentHandler(reconciliationService, projectionService)
	adminHandler := handler.NewAdminHandler(sweeperService, projectionService, ledgerService)
	healthHandler := handler.NewHealthHandler(db, redisClient)

	router := setupRoutes(accountHandler, loanHandler, paymentHandler, adminHandler, healthHandler)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func initDB(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	return db, nil
}

func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func setupRoutes(
	accountHandler *handler.AccountHandler,
	loanHandler *handler.LoanHandler,
	paymentHandler *handler.PaymentHandler,
	adminHandler *handler.AdminHandler,
	healthHandler *handler.HealthHandler,
) *mux.Router {
	router := mux.NewRouter()
	router.Use(response.LoggingMiddleware, response.MetricsMiddleware, response.CORSMiddleware)

	// Health and metrics
	router.HandleFunc("/health", healthHandler.Health).Methods("GET")
	router.HandleFunc("/health/ready", healthHandler.Ready).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/accounts", accountHandler.CreateAccount).Methods("POST")
	api.HandleFunc("/accounts/{accountId}/fund", accountHandler.FundWallet).Methods("POST")
	api.HandleFunc("/accounts/{accountId}/withdraw", accountHandler.WithdrawWallet).Methods("POST")
	api.HandleFunc("/accounts/{accountId}/balance", accountHandler.Balance).Methods("GET")
	api.HandleFunc("/accounts/{accountId}/transactions", accountHandler.History).Methods("GET")
	api.HandleFunc("/accounts/{accountId}", accountHandler.Deactivate).Methods("DELETE")

	api.HandleFunc("/loans", loanHandler.CreateLoan).Methods("POST")
	api.HandleFunc("/loans/{loanId}", loanHandler.GetLoan).Methods("GET")
	api.HandleFunc("/loans/{loanId}/events", loanHandler.StatusHistory).Methods("GET")
	api.HandleFunc("/loans/{loanId}/contribute", loanHandler.Contribute).Methods("POST")
	api.HandleFunc("/loans/{loanId}/repay", loanHandler.Repay).Methods("POST")
	api.HandleFunc("/loans/{loanId}/approve", loanHandler.Approve).Methods("POST")
	api.HandleFunc("/loans/{loanId}/reject", loanHandler.Reject).Methods("POST")

	api.HandleFunc("/payments/intents", paymentHandler.CreateIntent).Methods("POST")

	api.HandleFunc("/admin/stats", adminHandler.Stats).Methods("GET")
	api.HandleFunc("/admin/sweep", adminHandler.Sweep).Methods("POST")
	api.HandleFunc("/admin/accounts/{accountId}/verify", adminHandler.VerifyBalance).Methods("GET")

	// Webhook boundary for the external payment processor
	router.HandleFunc("/webhooks/payments", paymentHandler.Webhook).Methods("POST")

	return router
}
