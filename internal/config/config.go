// Пакет config — загрузка и валидация конфигурации Upload Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Upload Module.
type Config struct {
	// --- Compliance API ---

	// Базовый URL compliance API (обязательный)
	APIURL string
	// Базовый URL auth-платформы (по умолчанию — APIURL)
	AuthURL string
	// Учётные данные client_credentials grant
	ClientID     string
	ClientSecret string
	// Путь к CA-сертификату для TLS (пусто — стандартный пул)
	CACertPath string
	// Таймаут HTTP-запросов к API (по умолчанию 120s — загрузка ждёт
	// синхронное AI-извлечение на стороне backend)
	APITimeout time.Duration

	// --- Журнал загрузок (PostgreSQL) ---

	// Хост PostgreSQL. Пусто — журнал отключён, агент работает без БД.
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- Кэш preview-ссылок ---

	// Максимальное количество записей в кэше
	PreviewCacheSize int
	// TTL записи (должен быть короче срока подписи backend)
	PreviewCacheTTL time.Duration

	// --- Watch-режим ---

	// Каталог спула для автоматической загрузки (пусто — режим отключён)
	WatchDir string
	// Период сканирования каталога
	WatchInterval time.Duration
	// Судно по умолчанию для watch-режима
	WatchVesselID string

	// --- Dephealth ---

	// Включение мониторинга зависимостей через topologymetrics
	DephealthEnabled bool
	// Имя группы в метриках
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
	// Лейбл isentry=yes для всех зависимостей
	DephealthIsEntry bool

	// --- Статусный HTTP-сервер ---

	// Порт HTTP-сервера (диапазон 8040-8049)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Compliance API ---

	// UM_API_URL — базовый URL compliance API (обязательный)
	cfg.APIURL, err = getEnvRequired("UM_API_URL")
	if err != nil {
		return nil, err
	}

	// UM_AUTH_URL — URL auth-платформы (по умолчанию — APIURL)
	cfg.AuthURL = getEnvDefault("UM_AUTH_URL", cfg.APIURL)

	// UM_CLIENT_ID / UM_CLIENT_SECRET — учётные данные client_credentials.
	// Не обязательны при запуске: без них сетевые мутации вернут
	// ошибку аутентификации в момент вызова.
	cfg.ClientID = os.Getenv("UM_CLIENT_ID")
	cfg.ClientSecret = os.Getenv("UM_CLIENT_SECRET")

	// UM_CA_CERT_PATH — CA-сертификат для TLS
	cfg.CACertPath = os.Getenv("UM_CA_CERT_PATH")

	// UM_API_TIMEOUT — таймаут запросов к API (по умолчанию 120s)
	cfg.APITimeout, err = getEnvDuration("UM_API_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("UM_API_TIMEOUT: %w", err)
	}

	// --- Журнал загрузок ---

	// UM_DB_HOST — хост PostgreSQL (пусто — журнал отключён)
	cfg.DBHost = os.Getenv("UM_DB_HOST")

	// UM_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("UM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("UM_DB_PORT: %w", err)
	}

	// UM_DB_NAME / UM_DB_USER / UM_DB_PASSWORD / UM_DB_SSL_MODE
	cfg.DBName = getEnvDefault("UM_DB_NAME", "marinedocs")
	cfg.DBUser = getEnvDefault("UM_DB_USER", "marinedocs")
	cfg.DBPassword = os.Getenv("UM_DB_PASSWORD")
	cfg.DBSSLMode = getEnvDefault("UM_DB_SSL_MODE", "disable")

	// --- Кэш preview-ссылок ---

	// UM_PREVIEW_CACHE_SIZE — размер кэша (по умолчанию 256)
	cfg.PreviewCacheSize, err = getEnvInt("UM_PREVIEW_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("UM_PREVIEW_CACHE_SIZE: %w", err)
	}

	// UM_PREVIEW_CACHE_TTL — TTL ссылки (по умолчанию 30m)
	cfg.PreviewCacheTTL, err = getEnvDuration("UM_PREVIEW_CACHE_TTL", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("UM_PREVIEW_CACHE_TTL: %w", err)
	}

	// --- Watch-режим ---

	// UM_WATCH_DIR — каталог спула (пусто — режим отключён)
	cfg.WatchDir = os.Getenv("UM_WATCH_DIR")

	// UM_WATCH_INTERVAL — период сканирования (по умолчанию 30s)
	cfg.WatchInterval, err = getEnvDuration("UM_WATCH_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("UM_WATCH_INTERVAL: %w", err)
	}

	// UM_WATCH_VESSEL_ID — судно по умолчанию для watch-режима
	cfg.WatchVesselID = os.Getenv("UM_WATCH_VESSEL_ID")

	if cfg.WatchDir != "" && cfg.WatchVesselID == "" {
		return nil, fmt.Errorf("UM_WATCH_VESSEL_ID: обязательна при заданном UM_WATCH_DIR")
	}

	// --- Dephealth ---

	// UM_DEPHEALTH_ENABLED — мониторинг зависимостей (по умолчанию false)
	cfg.DephealthEnabled, err = getEnvBool("UM_DEPHEALTH_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("UM_DEPHEALTH_ENABLED: %w", err)
	}

	// UM_DEPHEALTH_GROUP — имя группы в метриках
	cfg.DephealthGroup = getEnvDefault("UM_DEPHEALTH_GROUP", "marinedocs")

	// UM_DEPHEALTH_CHECK_INTERVAL — интервал проверки (по умолчанию 30s)
	cfg.DephealthCheckInterval, err = getEnvDuration("UM_DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("UM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// DEPHEALTH_ISENTRY — лейбл isentry=yes (без префикса UM_, общесистемная)
	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	// --- Сервер ---

	// UM_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("UM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("UM_PORT: %w", err)
	}

	// UM_LOG_LEVEL — уровень логирования (по умолчанию info)
	logLevel := getEnvDefault("UM_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("UM_LOG_LEVEL: %w", err)
	}

	// UM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("UM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("UM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	// UM_HTTP_READ_TIMEOUT — таймаут чтения (по умолчанию 30s)
	cfg.HTTPReadTimeout, err = getEnvDuration("UM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("UM_HTTP_READ_TIMEOUT: %w", err)
	}

	// UM_HTTP_WRITE_TIMEOUT — таймаут записи (по умолчанию 60s)
	cfg.HTTPWriteTimeout, err = getEnvDuration("UM_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("UM_HTTP_WRITE_TIMEOUT: %w", err)
	}

	// UM_HTTP_IDLE_TIMEOUT — таймаут простоя (по умолчанию 120s)
	cfg.HTTPIdleTimeout, err = getEnvDuration("UM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("UM_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Graceful shutdown ---

	// UM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("UM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("UM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// JournalEnabled сообщает, настроен ли локальный журнал загрузок.
// Журнал опционален: без UM_DB_HOST агент работает, но дедупликация
// batch/watch-режимов отключена.
func (c *Config) JournalEnabled() bool {
	return c.DBHost != ""
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL (для dephealth).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
