package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/referlut/referlut-api/internal/api/handlers"
	"github.com/referlut/referlut-api/internal/api/middleware"
	"github.com/referlut/referlut-api/internal/bankdata"
	"github.com/referlut/referlut-api/internal/config"
	"github.com/referlut/referlut-api/internal/ingest"
	"github.com/referlut/referlut-api/internal/insights"
	"github.com/referlut/referlut-api/internal/logger"
	"github.com/referlut/referlut-api/internal/oracle"
	"github.com/referlut/referlut-api/internal/ratelimit"
	"github.com/referlut/referlut-api/internal/stats"
	"github.com/referlut/referlut-api/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("api", "info")
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.New("api", cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := context.Background()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("Failed to open store")
	}
	defer st.Close()

	client := bankdata.NewClient(cfg.BankData.BaseURL, cfg.BankData.SecretID, cfg.BankData.SecretKey)
	limiter := ratelimit.New(st, log)

	var insightsOracle oracle.Oracle
	if cfg.Oracle.APIKey != "" {
		insightsOracle, err = oracle.NewGemini(ctx, cfg.Oracle.APIKey, cfg.Oracle.Model)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create oracle client")
		}
	} else {
		log.Warn().Msg("No oracle API key configured - insight endpoints serve defaults")
		insightsOracle = oracle.Unavailable{}
	}

	accountIngestor := ingest.NewAccountIngestor(client, st, limiter, log)
	aggregator := stats.New(cfg.Stats.LookbackMonths, log)
	insightsSvc := insights.New(insightsOracle, log)

	// Initialize handlers
	bankHandler := handlers.NewBankHandler(client, accountIngestor, st, cfg.BankData.Country, log)
	accountsHandler := handlers.NewAccountsHandler(st, client, limiter, log)
	transactionsHandler := handlers.NewTransactionsHandler(st, log)
	statsHandler := handlers.NewStatsHandler(st, st, aggregator, log)
	aiHandler := handlers.NewAIHandler(st, aggregator, insightsSvc, log)

	// Create router
	mux := http.NewServeMux()

	mux.HandleFunc("/bank/institutions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			bankHandler.ListInstitutions(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/bank/link/initiate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			bankHandler.InitiateLink(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/bank/link/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			bankHandler.LinkCallback(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/accounts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			accountsHandler.ListAccounts(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/accounts/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/accounts/")
		accountID, ok := strings.CutSuffix(rest, "/balances")
		if !ok || accountID == "" {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		accountsHandler.AccountBalances(w, r, accountID)
	})

	mux.HandleFunc("/transactions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			transactionsHandler.ListTransactions(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/statistics/summary", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			statsHandler.Summary(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/statistics/chart", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			statsHandler.Chart(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/ai/insights", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			aiHandler.Insights(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/ai/deals", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			aiHandler.Deals(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(
					middleware.Auth(mux),
				),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTP.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
