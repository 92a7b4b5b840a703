package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/brendanmcoyne/cs411-final/internal/catalog"
	"github.com/brendanmcoyne/cs411-final/internal/config"
	"github.com/brendanmcoyne/cs411-final/internal/database"
	"github.com/brendanmcoyne/cs411-final/internal/ledger"
	"github.com/brendanmcoyne/cs411-final/internal/logger"
	"github.com/brendanmcoyne/cs411-final/internal/marketdata"
	"github.com/brendanmcoyne/cs411-final/internal/valuation"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Connect to the database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Market-data provider behind a short-lived quote cache
	provider := marketdata.NewClient(&cfg.MarketData, log)
	cacheTTL := time.Duration(cfg.MarketData.CacheTTL) * time.Second
	source := marketdata.NewSource(provider, cacheTTL, log)

	// Core components
	cat := catalog.NewCatalog(db, log)
	led := ledger.NewLedger(db, cat, source, log)
	val := valuation.NewService(led, cat, source, log)

	// Setup HTTP server
	mux := http.NewServeMux()
	apiHandler := NewAPIHandler(log, cat, led, val, cfg.MarketData.HistoryDays)

	mux.HandleFunc("GET /api/health", apiHandler.HealthHandler)

	mux.HandleFunc("POST /api/instruments", apiHandler.AddInstrumentHandler)
	mux.HandleFunc("DELETE /api/instruments/{id}", apiHandler.RemoveInstrumentHandler)
	mux.HandleFunc("GET /api/instruments/{ticker}", apiHandler.FindInstrumentHandler)

	mux.HandleFunc("POST /api/buy", apiHandler.BuyHandler)
	mux.HandleFunc("POST /api/sell", apiHandler.SellHandler)

	mux.HandleFunc("GET /api/portfolio/{user}/value", apiHandler.TotalValueHandler)
	mux.HandleFunc("GET /api/portfolio/{user}/breakdown", apiHandler.BreakdownHandler)
	mux.HandleFunc("GET /api/portfolio/{user}/transactions", apiHandler.TransactionsHandler)

	mux.HandleFunc("GET /api/stocks/{ticker}", apiHandler.StockDetailsHandler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info("Starting web server", zap.String("address", addr))

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal("Web server failed", zap.Error(err))
	}
}
