// Package app wires configuration, storage, clients, and services into a
// runnable application. It is the only package that knows concrete
// implementations; everything downstream depends on the interfaces.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/papertrade/internal/clients/alphavantage"
	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/marketcal"
	"github.com/bobmcallan/papertrade/internal/services/marketdata"
	"github.com/bobmcallan/papertrade/internal/services/refresh"
	"github.com/bobmcallan/papertrade/internal/services/trading"
	"github.com/bobmcallan/papertrade/internal/storage/memcache"
	"github.com/bobmcallan/papertrade/internal/storage/rediscache"
	"github.com/bobmcallan/papertrade/internal/storage/surrealdb"
)

// App holds all initialized services and clients.
type App struct {
	Config     *common.Config
	Logger     *common.Logger
	Storage    interfaces.StorageManager
	HotCache   interfaces.HotCache
	MarketData interfaces.MarketDataService
	Trading    interfaces.TradingService
	Refresh    interfaces.RefreshService
	StartupTime time.Time
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes storage, the provider client, and all services.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	// Resolve config path: explicit arg, then env, then binary dir, then
	// development fallback.
	if configPath == "" {
		configPath = os.Getenv("PAPERTRADE_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(getBinaryDir(), "papertrade.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/papertrade.toml"
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	clock := common.RealClock{}

	storageManager, err := surrealdb.NewManager(logger, config, clock)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var hot interfaces.HotCache
	switch config.Cache.Backend {
	case "redis":
		hot, err = rediscache.New(config.Cache.RedisAddress, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect hot cache: %w", err)
		}
	default:
		hot = memcache.New(clock)
	}

	if config.Provider.APIKey == "" {
		logger.Warn().Msg("Provider API key not configured - live price lookups will fail")
	}
	provider := alphavantage.NewClient(config.Provider.APIKey,
		alphavantage.WithBaseURL(config.Provider.BaseURL+"/query"),
		alphavantage.WithTimeout(config.Provider.GetTimeout()),
		alphavantage.WithLogger(logger),
	)

	closeHour, closeMin := config.Market.GetCloseTimeUTC()
	calendar := marketcal.New(closeHour, closeMin, config.Market.Holidays)

	limiter := marketdata.NewRateLimiter(config.RateLimit.PerMinute, config.RateLimit.PerDay, clock)

	marketDataService := marketdata.NewService(
		storageManager.PriceStore(), hot, provider, limiter, calendar, config, logger, clock)
	tradingService := trading.NewService(storageManager.LedgerStore(), marketDataService, logger, clock)
	refreshService := refresh.NewService(
		storageManager.LedgerStore(), marketDataService,
		config.Scheduler.Cron,
		time.Duration(config.Scheduler.ActiveWindowDays)*24*time.Hour,
		logger, clock)

	a := &App{
		Config:      config,
		Logger:      logger,
		Storage:     storageManager,
		HotCache:    hot,
		MarketData:  marketDataService,
		Trading:     tradingService,
		Refresh:     refreshService,
		StartupTime: startupStart,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")
	return a, nil
}

// StartScheduler begins the background price refresher.
func (a *App) StartScheduler() {
	if err := a.Refresh.Start(); err != nil {
		a.Logger.Error().Err(err).Msg("Failed to start price refresher")
	}
}

// Close releases all resources.
func (a *App) Close() {
	a.Refresh.Stop()
	if err := a.HotCache.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Hot cache close failed")
	}
	if err := a.Storage.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Storage close failed")
	}
}
