// Пакет config — загрузка и валидация конфигурации Space Manager
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Space Manager.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8000-8099)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Максимальное количество соединений в пуле
	DBMaxConns int
	// Таймаут ожидания row lock внутри учётной транзакции (0 — без ограничения)
	DBLockTimeout time.Duration

	// --- JWT ---

	// URL JWKS endpoint. Пустое значение отключает аутентификацию.
	JWTJWKSURL string
	// Ожидаемый issuer JWT (опционально)
	JWTIssuer string
	// Claim со списком FQAN субъекта
	JWTGroupsClaim string
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Учёт пространства ---

	// Срок жизни неявных резервирований под запись
	DefaultSpaceLifetime time.Duration
	// Сохранять записи STORED-файлов после окончания записи.
	// false — запись удаляется сразу, резервирование не заполняется
	KeepStoredFiles bool
	// Удалять записи файлов после flush вместо перевода в FLUSHED
	ReturnFlushedSpace bool
	// Удалять просроченные незаписанные файлы при обходе
	ExpireFiles bool
	// Интервал фонового обхода истёкших резервирований и файлов
	SweepInterval time.Duration
	// Размер блока идентификаторов аллокатора токенов
	IDBlockSize int64
	// Количество повторов транзакции при временных ошибках БД
	RetryAttempts int
	// Начальная пауза между повторами
	RetryBackoff time.Duration

	// --- Внешние сервисы ---

	// URL сервиса namespace (удаление записей), опционально
	NamespaceURL string
	// URL pool manager (подсказка выбора LinkGroup), опционально
	PoolManagerURL string
	// Путь к CA-сертификату для TLS-соединений с внешними сервисами
	CACertPath string
	// Время жизни закэшированных решений авторизации
	AuthzCacheTTL time.Duration
	// Размер кэша решений авторизации
	AuthzCacheSize int

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// SM_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("SM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("SM_PORT: %w", err)
	}
	if cfg.Port < 8000 || cfg.Port > 8099 {
		return nil, fmt.Errorf("SM_PORT: значение %d вне допустимого диапазона 8000-8099", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("SM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("SM_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("SM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("SM_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("SM_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("SM_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("SM_DB_PASSWORD"); err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("SM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("SM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	cfg.DBMaxConns, err = getEnvInt("SM_DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("SM_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 {
		return nil, fmt.Errorf("SM_DB_MAX_CONNS: значение %d должно быть положительным", cfg.DBMaxConns)
	}

	cfg.DBLockTimeout, err = getEnvDuration("SM_DB_LOCK_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_DB_LOCK_TIMEOUT: %w", err)
	}

	// --- JWT ---

	cfg.JWTJWKSURL = getEnvDefault("SM_JWT_JWKS_URL", "")
	cfg.JWTIssuer = getEnvDefault("SM_JWT_ISSUER", "")
	cfg.JWTGroupsClaim = getEnvDefault("SM_JWT_GROUPS_CLAIM", "groups")

	cfg.JWKSRefreshInterval, err = getEnvDuration("SM_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("SM_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_JWT_LEEWAY: %w", err)
	}

	// --- Учёт пространства ---

	cfg.DefaultSpaceLifetime, err = getEnvDuration("SM_SPACE_LIFETIME_DEFAULT", 3*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SM_SPACE_LIFETIME_DEFAULT: %w", err)
	}

	if cfg.KeepStoredFiles, err = getEnvBool("SM_KEEP_STORED_FILES", true); err != nil {
		return nil, fmt.Errorf("SM_KEEP_STORED_FILES: %w", err)
	}
	if cfg.ReturnFlushedSpace, err = getEnvBool("SM_RETURN_FLUSHED_SPACE", true); err != nil {
		return nil, fmt.Errorf("SM_RETURN_FLUSHED_SPACE: %w", err)
	}
	if cfg.ExpireFiles, err = getEnvBool("SM_EXPIRE_FILES", true); err != nil {
		return nil, fmt.Errorf("SM_EXPIRE_FILES: %w", err)
	}

	cfg.SweepInterval, err = getEnvDuration("SM_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SM_SWEEP_INTERVAL: %w", err)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("SM_SWEEP_INTERVAL: интервал должен быть положительным")
	}

	cfg.IDBlockSize, err = getEnvInt64("SM_ID_BLOCK_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("SM_ID_BLOCK_SIZE: %w", err)
	}
	if cfg.IDBlockSize < 1 {
		return nil, fmt.Errorf("SM_ID_BLOCK_SIZE: значение %d должно быть положительным", cfg.IDBlockSize)
	}

	cfg.RetryAttempts, err = getEnvInt("SM_RETRY_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("SM_RETRY_ATTEMPTS: %w", err)
	}
	if cfg.RetryAttempts < 0 || cfg.RetryAttempts > 10 {
		return nil, fmt.Errorf("SM_RETRY_ATTEMPTS: значение %d вне допустимого диапазона 0-10", cfg.RetryAttempts)
	}
	cfg.RetryBackoff, err = getEnvDuration("SM_RETRY_BACKOFF", 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("SM_RETRY_BACKOFF: %w", err)
	}

	// --- Внешние сервисы ---

	cfg.NamespaceURL = strings.TrimRight(getEnvDefault("SM_NAMESPACE_URL", ""), "/")
	cfg.PoolManagerURL = strings.TrimRight(getEnvDefault("SM_POOLMANAGER_URL", ""), "/")
	cfg.CACertPath = getEnvDefault("SM_CA_CERT_PATH", "")

	cfg.AuthzCacheTTL, err = getEnvDuration("SM_AUTHZ_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_AUTHZ_CACHE_TTL: %w", err)
	}
	cfg.AuthzCacheSize, err = getEnvInt("SM_AUTHZ_CACHE_SIZE", 4096)
	if err != nil {
		return nil, fmt.Errorf("SM_AUTHZ_CACHE_SIZE: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("SM_DEPHEALTH_GROUP", "goartstore")
	cfg.DephealthCheckInterval, err = getEnvDuration("SM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("SM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s pool_max_conns=%d",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode, c.DBMaxConns,
	)
}

// MigrationURL возвращает URL для golang-migrate (драйвер pgx5).
// Пароль экранируется: в нём допустимы '@', '/' и ':'.
func (c *Config) MigrationURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.DBSSLMode}}.Encode(),
	}
	return u.String()
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.User(c.DBUser),
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   "/" + c.DBName,
	}
	return u.String()
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

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
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
