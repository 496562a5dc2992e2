package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultSeedURL is the listing search crawled when no seed is configured.
const DefaultSeedURL = "https://lista.mercadolivre.com.br/geladeira-frost-free"

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DBDriver    string
	DBPath      string
	PostgresDSN string

	SeedURLs       []string
	AllowedDomains []string
	UserAgent      string
	SelectorsFile  string

	MaxConcurrency int
	RateLimitMs    int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RequestTimeout time.Duration
	MaxPages       int
	MaxPageErrors  int

	RenderJS  bool
	ChromeBin string

	RawExportPath       string
	ProcessedExportPath string
	Dedup               bool

	HTTPAddr        string
	ShutdownTimeout time.Duration

	LogLevel string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		DBDriver:    getEnv("DB_DRIVER", "sqlite"),
		DBPath:      getEnv("DB_PATH", "./data/data.db"),
		PostgresDSN: getEnv("POSTGRES_DSN", "host=localhost port=5432 user=scraper password=scraper123 dbname=marketplace sslmode=disable"),

		SeedURLs:       getEnvList("SEED_URLS", []string{DefaultSeedURL}),
		AllowedDomains: getEnvList("ALLOWED_DOMAINS", nil),
		UserAgent: getEnv("USER_AGENT", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		SelectorsFile: getEnv("SELECTORS_FILE", ""),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 2),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 1000),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay: getEnvDurationMs("RETRY_BASE_DELAY_MS", 1000),
		RequestTimeout: getEnvDurationMs("REQUEST_TIMEOUT_MS", 30000),
		MaxPages:       getEnvInt("MAX_PAGES", 20),
		MaxPageErrors:  getEnvInt("MAX_PAGE_ERRORS", 5),

		RenderJS:  getEnvBool("RENDER_JS", false),
		ChromeBin: getEnv("CHROME_BIN", ""),

		RawExportPath:       getEnv("RAW_EXPORT_PATH", ""),
		ProcessedExportPath: getEnv("PROCESSED_EXPORT_PATH", ""),
		Dedup:               getEnvBool("DEDUP", true),

		HTTPAddr:        getEnv("HTTP_ADDR", ":8501"),
		ShutdownTimeout: getEnvDurationMs("SHUTDOWN_TIMEOUT_MS", 10000),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// DSN returns the data source name for the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == "postgres" {
		return c.PostgresDSN
	}
	return c.DBPath
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDurationMs(key string, fallbackMs int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackMs)) * time.Millisecond
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
