package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Config is filled from MEALCUE_* environment variables, optionally seeded
// from a .env file in the working directory.
type Config struct {
	// Server
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	AppOrigin   string `envconfig:"APP_ORIGIN" default:"http://localhost:8080"`

	// Database
	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	DatabaseURL string `envconfig:"DATABASE_URL" default:"./data/mealcue.db"`

	// Firebase
	FirebaseCredentialsPath string `envconfig:"FIREBASE_CREDENTIALS_PATH"`
	NotificationIcon        string `envconfig:"NOTIFICATION_ICON" default:"/icons/icon-192x192.png"`
	NotificationBadge       string `envconfig:"NOTIFICATION_BADGE" default:"/icons/badge-72x72.png"`

	// Scheduler
	PrepLeadMinutes   int           `envconfig:"PREP_LEAD_MINUTES" default:"30"`
	RestoreWindow     time.Duration `envconfig:"RESTORE_WINDOW" default:"12h"`
	RolloverInterval  time.Duration `envconfig:"ROLLOVER_INTERVAL" default:"1h"`
	PruneInterval     time.Duration `envconfig:"PRUNE_INTERVAL" default:"6h"`
	ReminderRetention time.Duration `envconfig:"REMINDER_RETENTION" default:"168h"`
	TimeZone          string        `envconfig:"TIME_ZONE" default:"Local"`

	// Asset cache
	StaticDir     string   `envconfig:"STATIC_DIR" default:"./web"`
	UpstreamURL   string   `envconfig:"UPSTREAM_URL"`
	CachePrefix   string   `envconfig:"CACHE_PREFIX" default:"mealcue-static"`
	CacheManifest []string `envconfig:"CACHE_MANIFEST" default:"/,/manifest.json,/icons/icon-192x192.png,/icons/icon-512x512.png"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env not found, reading process environment only")
	}

	var cfg Config
	if err := envconfig.Process("MEALCUE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("db_driver", cfg.DBDriver).
		Str("port", cfg.Port).
		Str("app_origin", cfg.AppOrigin).
		Bool("firebase", cfg.FirebaseCredentialsPath != "").
		Int("prep_lead_minutes", cfg.PrepLeadMinutes).
		Int("cache_manifest", len(cfg.CacheManifest)).
		Msg("Configuration loaded")

	return &cfg, nil
}

// Validate checks the combinations envconfig cannot express.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.PrepLeadMinutes <= 0 || c.PrepLeadMinutes > 180 {
		return fmt.Errorf("PREP_LEAD_MINUTES must be between 1 and 180, got %d", c.PrepLeadMinutes)
	}

	u, err := url.Parse(c.AppOrigin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("APP_ORIGIN must be an absolute URL, got %q", c.AppOrigin)
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	if c.FirebaseCredentialsPath == "" {
		log.Warn().Msg("FIREBASE_CREDENTIALS_PATH not set, web push disabled")
	}

	return nil
}

// Location resolves TimeZone; meal times are interpreted in it.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIME_ZONE %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

func (c *Config) PrepLead() time.Duration {
	return time.Duration(c.PrepLeadMinutes) * time.Minute
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// NewForTesting returns a config with every default applied and an
// in-directory sqlite database.
func NewForTesting(dbPath string) *Config {
	return &Config{
		Port:              "0",
		Environment:       "testing",
		LogLevel:          "debug",
		AppOrigin:         "http://localhost:8080",
		DBDriver:          "sqlite",
		DatabaseURL:       dbPath,
		NotificationIcon:  "/icons/icon-192x192.png",
		NotificationBadge: "/icons/badge-72x72.png",
		PrepLeadMinutes:   30,
		RestoreWindow:     12 * time.Hour,
		RolloverInterval:  time.Hour,
		PruneInterval:     6 * time.Hour,
		ReminderRetention: 7 * 24 * time.Hour,
		TimeZone:          "UTC",
		StaticDir:         "./web",
		CachePrefix:       "mealcue-static",
		CacheManifest:     []string{"/", "/manifest.json"},
	}
}
