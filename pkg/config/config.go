package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Insights InsightsConfig
	Jobs     JobsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds the shared secret used to verify bearer tokens issued by the
// identity service.
type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// InsightsConfig governs the analytics engine: caching, model persistence and
// I/O deadlines.
type InsightsConfig struct {
	CacheEnabled       bool
	CachePrefix        string
	PatternCacheTTL    time.Duration
	ModelMetaTTL       time.Duration
	ModelDir           string
	ModelFile          string
	MinTrainingSamples int
	TrainingWindow     time.Duration
	TrainingTimeout    time.Duration
	RepositoryTimeout  time.Duration
	StorageTimeout     time.Duration
	TimeZone           string
	DashboardClients   int
	SweepInterval      time.Duration
}

// JobsConfig sizes the maintenance worker pool.
type JobsConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	dashboardClients := v.GetInt("INSIGHTS_DASHBOARD_CLIENTS")
	if dashboardClients <= 0 || dashboardClients > 10 {
		dashboardClients = 10
	}
	minSamples := v.GetInt("INSIGHTS_MIN_TRAINING_SAMPLES")
	if minSamples < 20 {
		minSamples = 20
	}
	cfg.Insights = InsightsConfig{
		CacheEnabled:       v.GetBool("INSIGHTS_CACHE_ENABLED"),
		CachePrefix:        v.GetString("INSIGHTS_CACHE_PREFIX"),
		PatternCacheTTL:    parseDuration(v.GetString("INSIGHTS_PATTERN_CACHE_TTL"), 6*time.Hour),
		ModelMetaTTL:       parseDuration(v.GetString("INSIGHTS_MODEL_META_TTL"), 24*time.Hour),
		ModelDir:           v.GetString("INSIGHTS_MODEL_DIR"),
		ModelFile:          v.GetString("INSIGHTS_MODEL_FILE"),
		MinTrainingSamples: minSamples,
		TrainingWindow:     parseDuration(v.GetString("INSIGHTS_TRAINING_WINDOW"), 180*24*time.Hour),
		TrainingTimeout:    parseDuration(v.GetString("INSIGHTS_TRAINING_TIMEOUT"), 2*time.Minute),
		RepositoryTimeout:  parseDuration(v.GetString("INSIGHTS_REPOSITORY_TIMEOUT"), 5*time.Second),
		StorageTimeout:     parseDuration(v.GetString("INSIGHTS_STORAGE_TIMEOUT"), 2*time.Second),
		TimeZone:           v.GetString("INSIGHTS_TIMEZONE"),
		DashboardClients:   dashboardClients,
		SweepInterval:      parseDuration(v.GetString("INSIGHTS_CACHE_SWEEP_INTERVAL"), time.Hour),
	}

	cfg.Jobs = JobsConfig{
		Workers:    v.GetInt("JOBS_WORKERS"),
		MaxRetries: v.GetInt("JOBS_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("JOBS_RETRY_DELAY"), 5*time.Second),
	}

	return cfg
}

// Location resolves the configured analysis time zone, falling back to UTC.
func (c InsightsConfig) Location() *time.Location {
	if c.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "regiflex")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("INSIGHTS_CACHE_ENABLED", true)
	v.SetDefault("INSIGHTS_CACHE_PREFIX", "insights")
	v.SetDefault("INSIGHTS_PATTERN_CACHE_TTL", "6h")
	v.SetDefault("INSIGHTS_MODEL_META_TTL", "24h")
	v.SetDefault("INSIGHTS_MODEL_DIR", "./cache/models")
	v.SetDefault("INSIGHTS_MODEL_FILE", "cancellation_model.json")
	v.SetDefault("INSIGHTS_MIN_TRAINING_SAMPLES", 20)
	v.SetDefault("INSIGHTS_TRAINING_WINDOW", "4320h")
	v.SetDefault("INSIGHTS_TRAINING_TIMEOUT", "2m")
	v.SetDefault("INSIGHTS_REPOSITORY_TIMEOUT", "5s")
	v.SetDefault("INSIGHTS_STORAGE_TIMEOUT", "2s")
	v.SetDefault("INSIGHTS_TIMEZONE", "UTC")
	v.SetDefault("INSIGHTS_DASHBOARD_CLIENTS", 10)
	v.SetDefault("INSIGHTS_CACHE_SWEEP_INTERVAL", "1h")

	v.SetDefault("JOBS_WORKERS", 1)
	v.SetDefault("JOBS_MAX_RETRIES", 3)
	v.SetDefault("JOBS_RETRY_DELAY", "5s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
