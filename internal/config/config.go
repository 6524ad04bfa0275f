package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Search   SearchConfig   `yaml:"search"`
	Site     SiteConfig     `yaml:"site"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Cache    CacheConfig    `yaml:"cache"`
	Commute  CommuteConfig  `yaml:"commute"`
	Importer ImporterConfig `yaml:"importer"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Server   ServerConfig   `yaml:"server"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Type     string         `yaml:"type"`
	MySQL    MySQLConfig    `yaml:"mysql"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// MySQLConfig contains MySQL connection settings
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PostgresConfig contains PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// SearchConfig contains search engine settings
type SearchConfig struct {
	Meilisearch MeilisearchConfig `yaml:"meilisearch"`
}

// MeilisearchConfig contains Meilisearch connection settings
type MeilisearchConfig struct {
	Host   string `yaml:"host"`
	APIKey string `yaml:"api_key"`
}

// SiteConfig describes the target property-search site and the saved search
// whose results are ingested.
type SiteConfig struct {
	BaseURL       string            `yaml:"base_url"`
	Area          string            `yaml:"area"`
	Query         map[string]string `yaml:"query"`
	PageSize      int               `yaml:"page_size"`
	MaxProperties int               `yaml:"max_properties"`
}

// MaxPages is the number of grid pages needed to cover MaxProperties.
func (c *SiteConfig) MaxPages() int {
	if c.PageSize <= 0 {
		return 0
	}
	return c.MaxProperties / c.PageSize
}

// FetchConfig contains outbound HTTP settings
type FetchConfig struct {
	MinIntervalMs  int    `yaml:"min_interval_ms"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	UserAgent      string `yaml:"user_agent"`
	UseHeadless    bool   `yaml:"use_headless"`
	ChromePath     string `yaml:"chrome_path"`
}

// GetMinInterval returns the minimum spacing between outbound requests.
func (c *FetchConfig) GetMinInterval() time.Duration {
	return time.Duration(c.MinIntervalMs) * time.Millisecond
}

// GetTimeout returns the per-request timeout as a duration
func (c *FetchConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheConfig contains disk cache settings. Each artifact class has its own
// max age: grid pages are fast-changing, detail pages change over days,
// commute lookups are near-static.
type CacheConfig struct {
	Dir                       string `yaml:"dir"`
	GridPageMaxAgeMinutes     int    `yaml:"grid_page_max_age_minutes"`
	ListingIndexMaxAgeMinutes int    `yaml:"listing_index_max_age_minutes"`
	DetailMaxAgeHours         int    `yaml:"detail_max_age_hours"`
	ProcessedMaxAgeHours      int    `yaml:"processed_max_age_hours"`
	CommuteMaxAgeDays         int    `yaml:"commute_max_age_days"`
	ProcessedVersion          int    `yaml:"processed_version"`
}

func (c *CacheConfig) GetGridPageMaxAge() time.Duration {
	return time.Duration(c.GridPageMaxAgeMinutes) * time.Minute
}

func (c *CacheConfig) GetListingIndexMaxAge() time.Duration {
	return time.Duration(c.ListingIndexMaxAgeMinutes) * time.Minute
}

func (c *CacheConfig) GetDetailMaxAge() time.Duration {
	return time.Duration(c.DetailMaxAgeHours) * time.Hour
}

func (c *CacheConfig) GetProcessedMaxAge() time.Duration {
	return time.Duration(c.ProcessedMaxAgeHours) * time.Hour
}

func (c *CacheConfig) GetCommuteMaxAge() time.Duration {
	return time.Duration(c.CommuteMaxAgeDays) * 24 * time.Hour
}

// CommuteConfig contains distance-matrix lookup settings. The target arrival
// time is the next occurrence of ArrivalWeekday at ArrivalHour, computed
// relative to lookup time.
type CommuteConfig struct {
	Destination    string `yaml:"destination"`
	APIKey         string `yaml:"api_key"`
	ArrivalWeekday string `yaml:"arrival_weekday"`
	ArrivalHour    int    `yaml:"arrival_hour"`
}

// GetArrivalWeekday parses the configured weekday name, defaulting to Monday.
func (c *CommuteConfig) GetArrivalWeekday() time.Weekday {
	switch c.ArrivalWeekday {
	case "Sunday":
		return time.Sunday
	case "Monday":
		return time.Monday
	case "Tuesday":
		return time.Tuesday
	case "Wednesday":
		return time.Wednesday
	case "Thursday":
		return time.Thursday
	case "Friday":
		return time.Friday
	case "Saturday":
		return time.Saturday
	}
	return time.Monday
}

// ImporterConfig contains ingestion cycle settings
type ImporterConfig struct {
	Schedule   string `yaml:"schedule"`
	RunOnStart bool   `yaml:"run_on_start"`
}

// CleanupConfig contains retention settings for physically deleting listings
// that have been marked removed for a long time.
type CleanupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RetentionDays int    `yaml:"retention_days"`
	Schedule      string `yaml:"schedule"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Port              int      `yaml:"port"`
	LoginKey          string   `yaml:"login_key"`
	CORSOrigins       []string `yaml:"cors_origins"`
	MaxTransitMinutes int      `yaml:"max_transit_minutes"`
	MinPhotos         int      `yaml:"min_photos"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			BaseURL:       "https://www.zoopla.co.uk",
			PageSize:      48,
			MaxProperties: 480,
			Query: map[string]string{
				"results_sort": "newest_listings",
				"view_type":    "grid",
			},
		},
		Fetch: FetchConfig{
			MinIntervalMs:  1000,
			TimeoutSeconds: 30,
			UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
			UseHeadless:    false,
			ChromePath:     "/usr/bin/google-chrome",
		},
		Cache: CacheConfig{
			Dir:                       "data",
			GridPageMaxAgeMinutes:     15,
			ListingIndexMaxAgeMinutes: 8,
			DetailMaxAgeHours:         48,
			ProcessedMaxAgeHours:      48,
			CommuteMaxAgeDays:         180,
			ProcessedVersion:          1,
		},
		Commute: CommuteConfig{
			ArrivalWeekday: "Monday",
			ArrivalHour:    9,
		},
		Importer: ImporterConfig{
			Schedule:   "@every 30m",
			RunOnStart: true,
		},
		Cleanup: CleanupConfig{
			Enabled:       true,
			RetentionDays: 90,
			Schedule:      "@daily",
		},
		Server: ServerConfig{
			Port:              3000,
			CORSOrigins:       []string{"http://localhost:8080"},
			MaxTransitMinutes: 45,
			MinPhotos:         3,
		},
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filepath string) (*Config, error) {
	// Start with default config
	config := DefaultConfig()

	// If file doesn't exist, return default config
	if _, err := os.Stat(filepath); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}
