package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/valuedesk/backend/internal/api"
	"github.com/valuedesk/backend/internal/batch"
	"github.com/valuedesk/backend/internal/config"
	"github.com/valuedesk/backend/internal/extract"
	"github.com/valuedesk/backend/internal/logger"
	"github.com/valuedesk/backend/internal/storage"
	"github.com/valuedesk/backend/internal/upload"
	"github.com/valuedesk/backend/internal/web"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	exeDir := filepath.Dir(exePath)

	// Load XML configuration
	configPath := filepath.Join(exeDir, "ValuationDesk.config")
	if p := os.Getenv("VALUATION_DESK_CONFIG"); p != "" {
		configPath = p
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Advanced.LogLevel)
	slog.SetDefault(log)

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		log.Error("failed to create directories", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	policy, err := cfg.UploadOptions()
	if err != nil {
		log.Error("invalid upload policy", slog.Any("error", err))
		os.Exit(1)
	}

	var extractor upload.Extractor
	if policy.ExtractionEnabled {
		extractor = extract.NewService(store, extract.WithLogger(log.With(slog.String("component", "extract"))))
	}

	batches := batch.NewManager(batch.NewLocalUploader(store), extractor, batch.Config{
		MaxBatches: cfg.Batches.MaxBatches,
		Defaults:   policy,
	}, log.With(slog.String("component", "batch")))
	defer batches.Close()

	// Start background batch cleanup
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.Batches.CleanupIntervalMinutes) * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := batches.CleanupIdle(time.Duration(cfg.Batches.IdleTimeoutMinutes) * time.Minute); n > 0 {
					log.Info("cleaned up idle batches", slog.Int("count", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	api.SetupMiddleware(e)

	// Configure middleware
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			// Skip logging if disabled in config
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/ws") || path == "/api/health"
		},
	}))

	// Body limit middleware
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	authToken := ""
	if cfg.Security.RequireAuth {
		authToken = cfg.Security.AuthToken
	}

	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:             store,
		Extractor:         extractor,
		Batches:           batches,
		Policy:            policy,
		Version:           Version,
		AllowFileDeletion: cfg.Security.AllowFileDeletion,
		AuthToken:         authToken,
		PingInterval:      time.Duration(cfg.Advanced.WebSocketPingSeconds) * time.Second,
		Logger:            log.With(slog.String("component", "stream")),
	}))

	// Serve the dashboard build if one is present
	dashboard := web.DirFS(cfg.Server.DashboardDirectory)
	if dashboard != nil {
		web.RegisterStaticRoutes(e, dashboard)
	}

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	printBanner(cfg, configPath, dashboard != nil)

	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", slog.Any("error", err))
	}
}

// closableStore is a store that owns resources.
type closableStore interface {
	storage.Store
	Close() error
}

func openStore(ctx context.Context, cfg *config.AppConfig) (closableStore, error) {
	if cfg.Storage.Backend == config.BackendS3 {
		blobs, err := storage.NewS3Blobs(ctx, cfg.S3())
		if err != nil {
			return nil, err
		}
		return storage.NewCatalog(cfg.Storage.CatalogPath, blobs)
	}
	return storage.NewLocalStore(cfg.GetUploadDir(), cfg.Storage.CatalogPath)
}

func printBanner(cfg *config.AppConfig, configPath string, dashboard bool) {
	mode := "API only"
	if dashboard {
		mode = "API + dashboard"
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Valuation Desk Server                           ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Mode:       %-45s║\n", mode)
	fmt.Printf("║  Storage:    %-45s║\n", cfg.Storage.Backend)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
}
