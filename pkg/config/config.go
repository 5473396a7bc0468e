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

	Database    DatabaseConfig
	Redis       RedisConfig
	CORS        CORSConfig
	Log         LogConfig
	Generation  GenerationConfig
	ResultCache ResultCacheConfig
	Persistence PersistenceConfig
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

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GenerationConfig sizes the background run queue and the defaults applied to new runs.
type GenerationConfig struct {
	Workers          int
	QueueSize        int
	EvalWorkers      int
	TimeLimit        time.Duration
	RunRetention     time.Duration
	SweepSchedule    string
	DefaultAlgorithm string
}

// ResultCacheConfig toggles the Redis cache of finished results.
type ResultCacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// PersistenceConfig toggles the PostgreSQL snapshot loader and result store.
// When disabled, snapshots are read from SnapshotDir as <timetable id>.yaml or .json.
// An empty MigrationsDir selects the SQL files embedded in the binary.
type PersistenceConfig struct {
	Enabled       bool
	MigrationsDir string
	SnapshotDir   string
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

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Generation = GenerationConfig{
		Workers:          v.GetInt("GENERATION_WORKERS"),
		QueueSize:        v.GetInt("GENERATION_QUEUE_SIZE"),
		EvalWorkers:      v.GetInt("GENERATION_EVAL_WORKERS"),
		TimeLimit:        parseDuration(v.GetString("GENERATION_TIME_LIMIT"), 0),
		RunRetention:     parseDuration(v.GetString("GENERATION_RUN_RETENTION"), time.Hour),
		SweepSchedule:    v.GetString("GENERATION_SWEEP_SCHEDULE"),
		DefaultAlgorithm: v.GetString("GENERATION_DEFAULT_ALGORITHM"),
	}

	cfg.ResultCache = ResultCacheConfig{
		Enabled: v.GetBool("ENABLE_RESULT_CACHE"),
		TTL:     parseDuration(v.GetString("RESULT_CACHE_TTL"), 30*time.Minute),
	}

	cfg.Persistence = PersistenceConfig{
		Enabled:       v.GetBool("ENABLE_PERSISTENCE"),
		MigrationsDir: v.GetString("MIGRATIONS_DIR"),
		SnapshotDir:   v.GetString("SNAPSHOT_DIR"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "timetable")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GENERATION_WORKERS", 2)
	v.SetDefault("GENERATION_QUEUE_SIZE", 16)
	v.SetDefault("GENERATION_EVAL_WORKERS", 0)
	v.SetDefault("GENERATION_TIME_LIMIT", "")
	v.SetDefault("GENERATION_RUN_RETENTION", "1h")
	v.SetDefault("GENERATION_SWEEP_SCHEDULE", "@every 5m")
	v.SetDefault("GENERATION_DEFAULT_ALGORITHM", "hybrid")

	v.SetDefault("ENABLE_RESULT_CACHE", false)
	v.SetDefault("RESULT_CACHE_TTL", "30m")

	v.SetDefault("ENABLE_PERSISTENCE", false)
	v.SetDefault("MIGRATIONS_DIR", "")
	v.SetDefault("SNAPSHOT_DIR", "snapshots")
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
