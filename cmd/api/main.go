package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"property-swipe/internal/cache"
	"property-swipe/internal/cleanup"
	"property-swipe/internal/commute"
	"property-swipe/internal/config"
	"property-swipe/internal/database"
	"property-swipe/internal/detail"
	"property-swipe/internal/fetch"
	"property-swipe/internal/grid"
	"property-swipe/internal/handlers"
	"property-swipe/internal/pipeline"
	"property-swipe/internal/ratelimit"
	"property-swipe/internal/reconcile"
	"property-swipe/internal/scheduler"
	"property-swipe/internal/search"
)

func main() {
	// Load configuration
	configPath := getEnv("CONFIG_PATH", "config/config.yaml")
	appConfig, err := config.LoadConfig(configPath)
	if err != nil {
		log.Printf("Warning: Failed to load config from %s: %v. Using defaults.", configPath, err)
		appConfig = config.DefaultConfig()
	} else {
		log.Printf("Loaded configuration from %s", configPath)
	}

	// Initialize database based on configuration
	store, err := openStore(appConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	if err := store.InitSchema(); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	// Initialize Meilisearch
	var searchClient *search.SearchClient
	meilisearchHost := getEnvOrConfig(appConfig.Search.Meilisearch.Host, "MEILISEARCH_HOST", "")
	if meilisearchHost != "" {
		meilisearchKey := getEnvOrConfig(appConfig.Search.Meilisearch.APIKey, "MEILISEARCH_KEY", "")
		searchClient = search.NewSearchClient(meilisearchHost, meilisearchKey)
		if err := searchClient.InitIndex(); err != nil {
			log.Printf("Warning: Failed to initialize search index: %v", err)
		}
	} else {
		log.Println("Meilisearch not configured, search endpoints disabled")
	}

	// One throttle for every outbound request in the process
	throttle := ratelimit.NewThrottle(appConfig.Fetch.GetMinInterval())
	log.Printf("Throttle initialized: one request per %v", throttle.MinInterval())

	fetcher := fetch.NewFetcher(fetch.Config{
		Timeout:     appConfig.Fetch.GetTimeout(),
		UserAgent:   appConfig.Fetch.UserAgent,
		UseHeadless: appConfig.Fetch.UseHeadless,
		ChromePath:  appConfig.Fetch.ChromePath,
	}, throttle)

	cacheStore := cache.NewStore(appConfig.Cache.Dir)

	scanner := grid.NewScanner(fetcher, cacheStore, grid.Config{
		BaseURL:     appConfig.Site.BaseURL,
		Area:        appConfig.Site.Area,
		Query:       appConfig.Site.Query,
		PageSize:    appConfig.Site.PageSize,
		MaxPages:    appConfig.Site.MaxPages(),
		PageMaxAge:  appConfig.Cache.GetGridPageMaxAge(),
		IndexMaxAge: appConfig.Cache.GetListingIndexMaxAge(),
	})

	extractor := detail.NewExtractor(fetcher, cacheStore, appConfig.Site.BaseURL, appConfig.Cache.GetDetailMaxAge())

	oracle := commute.NewOracle(fetcher, cacheStore, commute.Config{
		APIKey:         getEnvOrConfig(appConfig.Commute.APIKey, "COMMUTE_API_KEY", ""),
		Destination:    appConfig.Commute.Destination,
		ArrivalWeekday: appConfig.Commute.GetArrivalWeekday(),
		ArrivalHour:    appConfig.Commute.ArrivalHour,
		MaxAge:         appConfig.Cache.GetCommuteMaxAge(),
	})

	reconciler := reconcile.NewReconciler(store)

	var indexer pipeline.SearchIndexer
	if searchClient != nil {
		indexer = searchClient
	}
	importer := pipeline.NewImporter(scanner, extractor, oracle, cacheStore, reconciler, indexer, pipeline.Config{
		ProcessedVersion: appConfig.Cache.ProcessedVersion,
		ProcessedMaxAge:  appConfig.Cache.GetProcessedMaxAge(),
	})

	// Retention cleanup
	var cleanupSvc *cleanup.Service
	if appConfig.Cleanup.Enabled {
		var deleter cleanup.SearchDeleter
		if searchClient != nil {
			deleter = searchClient
		}
		cleanupSvc = cleanup.NewService(store, deleter, appConfig.Cleanup.RetentionDays, false)
	}

	// Start scheduler
	appScheduler := scheduler.NewScheduler(importer, cleanupSvc, appConfig)
	if err := appScheduler.Start(); err != nil {
		log.Printf("Warning: Failed to start scheduler: %v", err)
	}
	defer appScheduler.Stop()

	if appConfig.Importer.RunOnStart {
		go func() {
			if err := importer.Run(context.Background()); err != nil {
				log.Printf("Startup import cycle failed: %v", err)
			}
		}()
	}

	// Setup Gin router
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     appConfig.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-Api-Key"},
		AllowCredentials: true,
	}))

	handler := handlers.NewListingHandler(store, searchClient, appScheduler, throttle,
		appConfig.Server.MaxTransitMinutes, appConfig.Server.MinPhotos)

	r.GET("/health", handler.HealthCheck)
	r.GET("/api/version", handler.GetVersion)

	api := r.Group("/api", handlers.KeyAuthMiddleware(getEnvOrConfig(appConfig.Server.LoginKey, "LOGIN_KEY", "")))
	{
		api.GET("/listings", handler.GetListings)
		api.GET("/listings/:id", handler.GetListing)
		api.GET("/available", handler.GetAvailableIDs)
		api.GET("/search", handler.SearchListings)
		api.POST("/import/run", handler.TriggerImport)
		api.GET("/ratelimit/stats", handler.GetRateLimitStats)
	}

	port := getEnv("PORT", fmt.Sprintf("%d", appConfig.Server.Port))
	log.Printf("Server starting on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// openStore connects to the configured database backend.
func openStore(cfg *config.Config) (database.ListingStore, error) {
	dbType := cfg.Database.Type
	if dbType == "" {
		dbType = getEnv("DB_TYPE", "postgres")
	}

	if dbType == "mysql" {
		log.Println("Using MySQL with GORM")
		mysqlCfg := cfg.Database.MySQL
		return database.NewGormDB(
			getEnvOrConfig(mysqlCfg.Host, "DB_HOST", "mysql"),
			getEnvOrConfig(portString(mysqlCfg.Port), "DB_PORT", "3306"),
			getEnvOrConfig(mysqlCfg.User, "DB_USER", "swipe_user"),
			getEnvOrConfig(mysqlCfg.Password, "DB_PASSWORD", "swipe_pass"),
			getEnvOrConfig(mysqlCfg.Database, "DB_NAME", "swipe_db"),
		)
	}

	log.Println("Using PostgreSQL")
	pgCfg := cfg.Database.Postgres
	return database.NewDB(
		getEnvOrConfig(pgCfg.Host, "DB_HOST", "db"),
		getEnvOrConfig(portString(pgCfg.Port), "DB_PORT", "5432"),
		getEnvOrConfig(pgCfg.User, "DB_USER", "swipe_user"),
		getEnvOrConfig(pgCfg.Password, "DB_PASSWORD", "swipe_pass"),
		getEnvOrConfig(pgCfg.Database, "DB_NAME", "swipe_db"),
	)
}

func portString(port int) string {
	if port > 0 {
		return fmt.Sprintf("%d", port)
	}
	return ""
}

// getEnv gets environment variable with fallback
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvOrConfig prefers the config value, then the environment, then the
// fallback.
func getEnvOrConfig(configValue, envKey, fallback string) string {
	if configValue != "" {
		return configValue
	}
	return getEnv(envKey, fallback)
}
