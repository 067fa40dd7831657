package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/clubledger/backend/internal/config"
	"github.com/clubledger/backend/internal/database"
	mW "github.com/clubledger/backend/internal/middleware"
	"github.com/clubledger/backend/internal/provider"
	"github.com/clubledger/backend/internal/services"
	"github.com/clubledger/backend/internal/store"
)

func main() {
	cfg := config.Load()

	db := database.InitDatabase(cfg.Database)
	defer db.Close()

	redisClient := database.InitRedis(cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	entityStore := store.NewPostgresStore(db)
	providerClient := provider.NewHTTPClient(cfg.Provider)

	balanceService := services.NewBalanceService(entityStore)
	ledgerService := services.NewLedgerService(entityStore, balanceService)
	recurringService := services.NewRecurringService(entityStore, providerClient)
	webhookService := services.NewWebhookService(entityStore, providerClient, ledgerService, recurringService)
	duesService := services.NewDuesService(entityStore, ledgerService, redisClient, cfg.Billing)
	membershipService := services.NewMembershipService(entityStore, providerClient, recurringService, balanceService)
	accountService := services.NewAccountService(entityStore, balanceService)

	mW.InitAuthMiddleware(cfg.JWT.SecretKey)

	// Daily scheduler pass; every pass after the first in a month is a no-op.
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	go duesService.Start(schedulerCtx, 24*time.Hour)

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Inbound provider notifications; authenticated by signature, not JWT.
	r.Post("/webhooks/provider", webhookService.HandleWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.AuthMiddleware)

		r.Post("/dues/run", duesService.RunDues)
		r.Post("/memberships/activate", membershipService.ActivateMemberships)
		r.Get("/accounts/{kind}/{id}/balance", accountService.GetAccountBalance)
		r.Get("/accounts/{kind}/{id}/transactions", accountService.ListAccountTransactions)
		r.Post("/accounts/{kind}/{id}/payoff-plans", membershipService.StartPayoffPlan)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
