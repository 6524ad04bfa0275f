package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"property-swipe/internal/cache"
	"property-swipe/internal/commute"
	"property-swipe/internal/config"
	"property-swipe/internal/database"
	"property-swipe/internal/detail"
	"property-swipe/internal/fetch"
	"property-swipe/internal/grid"
	"property-swipe/internal/pipeline"
	"property-swipe/internal/ratelimit"
	"property-swipe/internal/reconcile"
	"property-swipe/internal/search"
)

// Runs one import cycle and exits. The long-running service in cmd/api does
// the same work on a schedule; this binary exists for cron jobs and manual
// backfills.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	appConfig, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Printf("Warning: Failed to load config from %s: %v. Using defaults.", *configPath, err)
		appConfig = config.DefaultConfig()
	}

	store, err := openStore(appConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	if err := store.InitSchema(); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	var searchClient *search.SearchClient
	if host := getEnvOrConfig(appConfig.Search.Meilisearch.Host, "MEILISEARCH_HOST", ""); host != "" {
		searchClient = search.NewSearchClient(host, getEnvOrConfig(appConfig.Search.Meilisearch.APIKey, "MEILISEARCH_KEY", ""))
		if err := searchClient.InitIndex(); err != nil {
			log.Printf("Warning: Failed to initialize search index: %v", err)
		}
	}

	throttle := ratelimit.NewThrottle(appConfig.Fetch.GetMinInterval())
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

	var indexer pipeline.SearchIndexer
	if searchClient != nil {
		indexer = searchClient
	}
	importer := pipeline.NewImporter(scanner, extractor, oracle, cacheStore, reconcile.NewReconciler(store), indexer, pipeline.Config{
		ProcessedVersion: appConfig.Cache.ProcessedVersion,
		ProcessedMaxAge:  appConfig.Cache.GetProcessedMaxAge(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := importer.Run(ctx); err != nil {
		log.Fatalf("Import cycle failed: %v", err)
	}
}

func openStore(cfg *config.Config) (database.ListingStore, error) {
	dbType := cfg.Database.Type
	if dbType == "" {
		dbType = getEnv("DB_TYPE", "postgres")
	}

	if dbType == "mysql" {
		mysqlCfg := cfg.Database.MySQL
		return database.NewGormDB(
			getEnvOrConfig(mysqlCfg.Host, "DB_HOST", "mysql"),
			getEnvOrConfig(portString(mysqlCfg.Port), "DB_PORT", "3306"),
			getEnvOrConfig(mysqlCfg.User, "DB_USER", "swipe_user"),
			getEnvOrConfig(mysqlCfg.Password, "DB_PASSWORD", "swipe_pass"),
			getEnvOrConfig(mysqlCfg.Database, "DB_NAME", "swipe_db"),
		)
	}

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

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvOrConfig(configValue, envKey, fallback string) string {
	if configValue != "" {
		return configValue
	}
	return getEnv(envKey, fallback)
}
