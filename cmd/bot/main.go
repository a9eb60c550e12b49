package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/rescue-bot/internal/api"
	"github.com/xaenox/rescue-bot/internal/bot"
	"github.com/xaenox/rescue-bot/internal/catalog"
	"github.com/xaenox/rescue-bot/internal/classifier"
	"github.com/xaenox/rescue-bot/internal/geo"
	"github.com/xaenox/rescue-bot/internal/geoip"
	"github.com/xaenox/rescue-bot/internal/llm"
	"github.com/xaenox/rescue-bot/internal/metrics"
	"github.com/xaenox/rescue-bot/internal/models"
	"github.com/xaenox/rescue-bot/internal/responder"
	"github.com/xaenox/rescue-bot/internal/router"
	"github.com/xaenox/rescue-bot/internal/storage"
	"github.com/xaenox/rescue-bot/pkg/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = level
	return zcfg.Build()
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}

	// Initialize logger
	logger, err := newLogger(cfg.Log)
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("Failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		logger.Fatal("Failed to load facility catalog", zap.Error(err), zap.String("path", cfg.Catalog.Path))
	}
	index := geo.NewIndex(cat.Facilities)
	logger.Info("Facility catalog loaded",
		zap.Int("facilities", index.Len()),
		zap.Int("units", len(cat.Units)))

	// Initialize storage
	sessions := storage.NewMemoryStorage(cfg.Session.Timeout)
	defer sessions.Close()

	var ledger storage.DispatchLedger
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory dispatch ledger")
		ledger = storage.NewMemoryLedger()
	} else {
		logger.Info("Using PostgreSQL dispatch ledger")
		ledger, err = storage.NewPostgresLedger(ctx, storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer ledger.Close()

	collector, err := metrics.NewCollector()
	if err != nil {
		logger.Fatal("Failed to register metrics", zap.Error(err))
	}

	openai := llm.NewOpenAI(llm.Config{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: cfg.OpenAI.Temperature,
		Timeout:     cfg.OpenAI.Timeout,
	}, logger)
	if !openai.Configured() {
		logger.Warn("OPENAI_API_KEY is not set; replies will fall back to emergency hotlines")
	}
	generator := collector.InstrumentGenerator(openai)

	var clf classifier.Classifier = classifier.NewSimpleClassifier()
	if cfg.Classifier.Mode == "gpt" && openai.Configured() {
		clf = classifier.NewGPTClassifier(generator, cfg.Geo.City, logger)
	}

	locator := geoip.NewClient(geoip.Config{
		BaseURL:           cfg.GeoIP.BaseURL,
		Timeout:           cfg.GeoIP.Timeout,
		RequestsPerMinute: cfg.GeoIP.RequestsPerMinute,
		HomeCity:          cfg.Geo.City,
		HomeCountry:       cfg.Geo.Country,
	}, logger)

	fleet := responder.NewFleet(cat.Units)
	set, err := responder.NewSet(responder.Deps{
		Index:     index,
		Generator: generator,
		Locator:   locator,
		Sessions:  sessions,
		Ledger:    ledger,
		Fleet:     fleet,
		Logger:    logger,
	}, responder.Config{
		RadiusKm:    cfg.Geo.RadiusKm,
		City:        cfg.Geo.City,
		HomeCity:    cfg.Geo.City,
		HomeCountry: cfg.Geo.Country,
	})
	if err != nil {
		logger.Fatal("Failed to create responders", zap.Error(err))
	}
	responders := make(map[models.Category]router.Responder, len(set))
	for category, r := range set {
		responders[category] = r
	}

	engine := router.New(router.Deps{
		Sessions:   sessions,
		Ledger:     ledger,
		Classifier: clf,
		Responders: responders,
		Fleet:      fleet,
		Index:      index,
		Observer:   collector,
		Logger:     logger,
	})

	sessions.OnExpire(engine.ReleaseSession)

	sweeper, err := storage.NewSweeper(sessions, cfg.Session.SweepSchedule, logger)
	if err != nil {
		logger.Fatal("Failed to schedule session sweep", zap.Error(err))
	}
	sweeper.OnPurge(collector.ObservePurged)
	sweeper.Start()
	defer sweeper.Stop()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: api.NewEngine(engine, collector, logger),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.Telegram.Token != "" {
		b, err := bot.New(cfg.Telegram.Token, engine, logger)
		if err != nil {
			logger.Fatal("Failed to create bot", zap.Error(err))
		}
		g.Go(func() error {
			return b.Start(gctx)
		})
	} else {
		logger.Info("TELEGRAM_TOKEN is not set; chat transport disabled")
	}

	if err := g.Wait(); err != nil {
		logger.Error("Shutting down after error", zap.Error(err))
		return
	}
	logger.Info("Shutdown complete")
}
