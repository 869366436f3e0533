package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mscmedsupply/be-commissions/internal/client"
	"github.com/mscmedsupply/be-commissions/internal/commission"
	"github.com/mscmedsupply/be-commissions/internal/config"
	"github.com/mscmedsupply/be-commissions/internal/database"
	"github.com/mscmedsupply/be-commissions/internal/handler"
	"github.com/mscmedsupply/be-commissions/internal/logger"
	"github.com/mscmedsupply/be-commissions/internal/middleware"
	"github.com/mscmedsupply/be-commissions/internal/repository"
	"github.com/mscmedsupply/be-commissions/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Commissions Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxConns:     cfg.Database.MaxConns,
		MinConns:     cfg.Database.MinConns,
		QueryTimeout: cfg.Database.QueryTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize repositories
	orderRepo := repository.NewOrderRepository(db)
	repRepo := repository.NewRepresentativeRepository(db)
	agreementRepo := repository.NewAgreementRepository(db)
	structureRepo := repository.NewStructureRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Initialize collaborators and services
	actors := client.NewContextActorDirectory()
	rateResolver := commission.NewRateResolver(agreementRepo, repRepo)

	commissionService := service.NewCommissionService(orderRepo, structureRepo, auditRepo, rateResolver, actors, log)
	orderService := service.NewOrderService(orderRepo, commissionService, actors, log)
	directoryService := service.NewDirectoryService(repRepo, agreementRepo, actors, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(orderService, commissionService, directoryService, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Order routes
	mux.HandleFunc("/api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListOrders(w, r)
		case http.MethodPost:
			httpHandler.CreateOrder(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("GET /api/v1/orders/get", httpHandler.GetOrder)
	mux.HandleFunc("PATCH /api/v1/orders/update", httpHandler.UpdateOrder)

	// Commission routes
	mux.HandleFunc("POST /api/v1/commissions/calculate", httpHandler.CalculateCommission)
	mux.HandleFunc("POST /api/v1/commissions/recalculate", httpHandler.RecalculateCommission)
	mux.HandleFunc("POST /api/v1/commissions/approve", httpHandler.ApproveCommission)
	mux.HandleFunc("POST /api/v1/commissions/reject", httpHandler.RejectCommission)
	mux.HandleFunc("POST /api/v1/commissions/amend-rates", httpHandler.AmendRates)
	mux.HandleFunc("GET /api/v1/commissions/breakdown", httpHandler.GetBreakdown)
	mux.HandleFunc("GET /api/v1/commissions/pending", httpHandler.ListPendingCommissions)
	mux.HandleFunc("GET /api/v1/commissions/audit", httpHandler.GetAuditTrail)
	mux.HandleFunc("GET /api/v1/commissions/ytd", httpHandler.GetYTD)

	// Directory routes
	mux.HandleFunc("/api/v1/representatives", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListRepresentatives(w, r)
		case http.MethodPost:
			httpHandler.CreateRepresentative(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/agreements", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListAgreements(w, r)
		case http.MethodPost:
			httpHandler.CreateAgreement(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Apply middleware
	var h http.Handler = mux
	h = middleware.Actor(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.RequestID(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
