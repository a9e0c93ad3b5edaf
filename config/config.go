package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/notification"
	"github.com/alem-hub/streak-engine/pkg/logger"
	"github.com/alem-hub/streak-engine/pkg/timeutil"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	App           AppConfig
	Log           LogConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	HTTP          HTTPConfig
	Scheduler     SchedulerConfig
	Engine        EngineConfig
	Notifications NotificationsConfig

	Features *FeatureFlags
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string
	Environment Environment
	Version     string

	// Timezone определяет календарный день, неделю и тихие часы.
	Timezone string
	Location *time.Location

	ShutdownTimeout time.Duration
}

// LogConfig настраивает pkg/logger.
type LogConfig struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	File       string // пусто - только stdout
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DatabaseConfig holds PostgreSQL connection settings.
// Пустой URL означает хранилище в памяти.
type DatabaseConfig struct {
	URL string

	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	QueryTimeout time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Disabled - работа без Redis: блокировки и счётчики в памяти процесса.
	Disabled bool
}

// HTTPConfig настраивает REST API.
type HTTPConfig struct {
	Addr           string
	AllowedOrigins []string
	GinMode        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// SchedulerConfig holds background job settings.
type SchedulerConfig struct {
	Enabled bool

	SweepCron        string
	GraceResetCron   string
	WeeklyReportCron string

	// SweepLookback - глубина первого обхода после запуска.
	SweepLookback time.Duration

	// WorkerConcurrency - параллелизм по пользователям внутри задачи.
	WorkerConcurrency int

	JobTimeout time.Duration
}

// EngineConfig - правила начисления и восстановления.
type EngineConfig struct {
	AttendancePoints int
	TaskPoints       int
	RestoreBonus     int
	RestoreWindow    time.Duration
	RestoreThreshold int

	// TaskTTL - срок жизни микро-задачи.
	TaskTTL time.Duration

	// LockTTL - аренда распределённой блокировки пользователя.
	LockTTL time.Duration

	// CacheTTL - время жизни журнала в кэше Redis.
	CacheTTL time.Duration

	// CatalogFile - YAML-каталог микро-задач. Пусто - встроенный каталог.
	CatalogFile string
}

// NotificationsConfig настраивает фильтр уведомлений и доставку.
type NotificationsConfig struct {
	DailyCap        int
	QuietHoursStart int
	QuietHoursEnd   int

	// RatePerSecond - общий лимит исходящих уведомлений.
	RatePerSecond float64
	Burst         int

	// WebhookURL - пусто: уведомления только пишутся в лог.
	WebhookURL     string
	WebhookTimeout time.Duration
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App:           loadAppConfig(),
		Log:           loadLogConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		HTTP:          loadHTTPConfig(),
		Scheduler:     loadSchedulerConfig(),
		Engine:        loadEngineConfig(),
		Notifications: loadNotificationsConfig(),
		Features:      LoadFeatureFlags(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func loadAppConfig() AppConfig {
	timezone := getEnv("APP_TIMEZONE", "Asia/Almaty")
	return AppConfig{
		Name:            getEnv("APP_NAME", "streak-engine"),
		Environment:     Environment(getEnv("APP_ENV", string(EnvDevelopment))),
		Version:         getEnv("APP_VERSION", "0.1.0"),
		Timezone:        timezone,
		ShutdownTimeout: getEnvDuration("APP_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Format:     getEnv("LOG_FORMAT", "json"),
		File:       getEnv("LOG_FILE", ""),
		MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
		MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 7),
		Compress:   getEnvBool("LOG_COMPRESS", false),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	url := getEnv("DATABASE_URL", "")
	if url == "" {
		host := getEnv("DB_HOST", "")
		user := getEnv("DB_USER", "")
		if host != "" && user != "" {
			url = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
				user, getEnv("DB_PASSWORD", ""), host, getEnv("DB_PORT", "5432"),
				getEnv("DB_NAME", "postgres"), getEnv("DB_SSLMODE", "require"))
		}
	}

	return DatabaseConfig{
		URL:             url,
		MaxConns:        getEnvInt("DB_MAX_CONNS", 25),
		MinConns:        getEnvInt("DB_MIN_CONNS", 2),
		ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", time.Minute),
		QueryTimeout:    getEnvDuration("DB_QUERY_TIMEOUT", 30*time.Second),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
		Password:     getEnv("REDIS_PASSWORD", ""),
		DB:           getEnvInt("REDIS_DB", 0),
		PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		Disabled:     getEnvBool("REDIS_DISABLED", false),
	}
}

func loadHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Addr:           getEnv("HTTP_ADDR", ":8080"),
		AllowedOrigins: getEnvStringSlice("HTTP_ALLOWED_ORIGINS", []string{"*"}),
		GinMode:        getEnv("GIN_MODE", "release"),
		ReadTimeout:    getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:   getEnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:           getEnvBool("SCHEDULER_ENABLED", true),
		SweepCron:         getEnv("SCHEDULER_SWEEP_CRON", "* * * * *"),
		GraceResetCron:    getEnv("SCHEDULER_GRACE_RESET_CRON", "0 0 * * 1"),
		WeeklyReportCron:  getEnv("SCHEDULER_WEEKLY_REPORT_CRON", "0 18 * * 0"),
		SweepLookback:     getEnvDuration("SCHEDULER_SWEEP_LOOKBACK", 24*time.Hour),
		WorkerConcurrency: getEnvInt("SCHEDULER_WORKER_CONCURRENCY", 8),
		JobTimeout:        getEnvDuration("SCHEDULER_JOB_TIMEOUT", 5*time.Minute),
	}
}

func loadEngineConfig() EngineConfig {
	return EngineConfig{
		AttendancePoints: getEnvInt("ENGINE_ATTENDANCE_POINTS", 10),
		TaskPoints:       getEnvInt("ENGINE_TASK_POINTS", 5),
		RestoreBonus:     getEnvInt("ENGINE_RESTORE_BONUS", 25),
		RestoreWindow:    getEnvDuration("ENGINE_RESTORE_WINDOW", 48*time.Hour),
		RestoreThreshold: getEnvInt("ENGINE_RESTORE_THRESHOLD", 2),
		TaskTTL:          getEnvDuration("ENGINE_TASK_TTL", 48*time.Hour),
		LockTTL:          getEnvDuration("ENGINE_LOCK_TTL", 10*time.Second),
		CacheTTL:         getEnvDuration("ENGINE_CACHE_TTL", 5*time.Minute),
		CatalogFile:      getEnv("ENGINE_CATALOG_FILE", ""),
	}
}

func loadNotificationsConfig() NotificationsConfig {
	return NotificationsConfig{
		DailyCap:        getEnvInt("NOTIFY_DAILY_CAP", 3),
		QuietHoursStart: getEnvInt("NOTIFY_QUIET_START", 22),
		QuietHoursEnd:   getEnvInt("NOTIFY_QUIET_END", 8),
		RatePerSecond:   getEnvFloat("NOTIFY_RATE_PER_SECOND", 20),
		Burst:           getEnvInt("NOTIFY_BURST", 5),
		WebhookURL:      getEnv("NOTIFY_WEBHOOK_URL", ""),
		WebhookTimeout:  getEnvDuration("NOTIFY_WEBHOOK_TIMEOUT", 5*time.Second),
	}
}

// Validate проверяет конфигурацию и возвращает все проблемы одной ошибкой.
// Заодно разрешает часовой пояс.
func (c *Config) Validate() error {
	var errs []string

	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("APP_TIMEZONE %q is not a known timezone", c.App.Timezone))
	}
	c.App.Location = timeutil.LoadLocation(c.App.Timezone)

	if c.App.Environment == EnvProduction && c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required in production")
	}
	if c.Database.MaxConns < 1 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}

	switch c.HTTP.GinMode {
	case "debug", "release", "test":
	default:
		errs = append(errs, "GIN_MODE must be debug, release or test")
	}

	if c.Scheduler.WorkerConcurrency < 1 {
		errs = append(errs, "SCHEDULER_WORKER_CONCURRENCY must be positive")
	}
	for name, v := range map[string]int{
		"ENGINE_ATTENDANCE_POINTS": c.Engine.AttendancePoints,
		"ENGINE_TASK_POINTS":       c.Engine.TaskPoints,
		"ENGINE_RESTORE_BONUS":     c.Engine.RestoreBonus,
	} {
		if v < 0 {
			errs = append(errs, name+" must not be negative")
		}
	}
	if c.Engine.RestoreThreshold < 1 {
		errs = append(errs, "ENGINE_RESTORE_THRESHOLD must be positive")
	}
	if c.Engine.TaskTTL <= 0 || c.Engine.RestoreWindow <= 0 {
		errs = append(errs, "ENGINE_TASK_TTL and ENGINE_RESTORE_WINDOW must be positive")
	}

	n := c.Notifications
	if n.QuietHoursStart < 0 || n.QuietHoursStart > 23 || n.QuietHoursEnd < 0 || n.QuietHoursEnd > 23 {
		errs = append(errs, "NOTIFY_QUIET_START and NOTIFY_QUIET_END must be 0-23")
	}
	if n.DailyCap < 0 {
		errs = append(errs, "NOTIFY_DAILY_CAP must not be negative")
	}
	if n.RatePerSecond <= 0 || n.Burst < 1 {
		errs = append(errs, "NOTIFY_RATE_PER_SECOND and NOTIFY_BURST must be positive")
	}

	if len(errs) > 0 {
		// Порядок проверок по map недетерминирован.
		sort.Strings(errs)
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// LoggerOptions переводит LogConfig в опции pkg/logger.
func (c *Config) LoggerOptions() logger.Options {
	opts := logger.DefaultOptions()
	opts.Level = c.Log.Level
	opts.Format = c.Log.Format
	opts.File = c.Log.File
	opts.MaxSizeMB = c.Log.MaxSizeMB
	opts.MaxBackups = c.Log.MaxBackups
	opts.MaxAgeDays = c.Log.MaxAgeDays
	opts.Compress = c.Log.Compress
	return opts
}

// QuietHours возвращает окно тихих часов в часовом поясе приложения.
func (c *Config) QuietHours() notification.QuietHours {
	return notification.QuietHours{
		Start:    c.Notifications.QuietHoursStart,
		End:      c.Notifications.QuietHoursEnd,
		Location: c.App.Location,
	}
}

// DailyCap возвращает суточный лимит уведомлений.
func (c *Config) DailyCap() notification.DailyCap {
	return notification.DailyCap{Max: c.Notifications.DailyCap, Location: c.App.Location}
}

// --- Helper functions for environment variable parsing ---

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, p := range strings.Split(val, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
