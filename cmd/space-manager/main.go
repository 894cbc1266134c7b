// Точка входа Space Manager — учёт резервирований пространства хранения.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт аллокатор токенов, клиенты namespace и pool manager, сервисный слой
// и API handlers, запускает обход истёкших записей, topologymetrics
// и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/space-manager/internal/api/handlers"
	"github.com/bigkaa/goartstore/space-manager/internal/api/middleware"
	"github.com/bigkaa/goartstore/space-manager/internal/authz"
	"github.com/bigkaa/goartstore/space-manager/internal/config"
	"github.com/bigkaa/goartstore/space-manager/internal/database"
	"github.com/bigkaa/goartstore/space-manager/internal/idalloc"
	"github.com/bigkaa/goartstore/space-manager/internal/nsclient"
	"github.com/bigkaa/goartstore/space-manager/internal/poolclient"
	"github.com/bigkaa/goartstore/space-manager/internal/repository"
	"github.com/bigkaa/goartstore/space-manager/internal/server"
	"github.com/bigkaa/goartstore/space-manager/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Space Manager запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Хранилище учёта и аллокатор токенов
	store := repository.NewPgStore(pool, cfg.DBLockTimeout)
	idSeq := repository.NewIDSequence(repository.NewTxRunner(pool, cfg.DBLockTimeout))
	ids := idalloc.New(idSeq, cfg.IDBlockSize, logger)

	// 6. Внешние сервисы (пустой URL — интеграция отключена)
	nsClient, err := nsclient.New(cfg.NamespaceURL, cfg.CACertPath, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента namespace", slog.String("error", err.Error()))
		os.Exit(1)
	}
	poolClient, err := poolclient.New(cfg.PoolManagerURL, cfg.CACertPath, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента pool manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.NamespaceURL == "" {
		logger.Warn("SM_NAMESPACE_URL не задан, записи namespace при отмене не удаляются")
	}

	// 7. Services
	authorizer := authz.New(cfg.AuthzCacheSize, cfg.AuthzCacheTTL, logger)
	acc := service.NewAccounting(store, ids, service.RetryPolicy{
		Attempts: cfg.RetryAttempts,
		Backoff:  cfg.RetryBackoff,
	}, logger)
	placement := service.NewPlacementSelector(store.Repos().LinkGroups, authorizer, poolClient, logger)

	linkGroupsSvc := service.NewLinkGroupService(acc, logger)
	spacesSvc := service.NewSpaceService(acc, placement, authorizer, logger)
	filesSvc := service.NewFileService(acc, placement, nsClient, service.NewFilePolicy(cfg), logger)

	// 8. Обход истёкших резервирований и файлов
	sweeper := service.NewSweeper(spacesSvc, filesSvc, cfg.ExpireFiles, cfg.SweepInterval, logger)
	sweeper.Start(ctx)

	// 9. topologymetrics — мониторинг зависимостей
	var deps handlers.DependencyHealth
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:      "space-manager",
		Group:          cfg.DephealthGroup,
		DB:             pgDB,
		PgConnURL:      cfg.DatabaseURL(),
		NamespaceURL:   cfg.NamespaceURL,
		PoolManagerURL: cfg.PoolManagerURL,
		CheckInterval:  cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	} else {
		deps = dephealthSvc
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 10. API handler
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), deps)
	apiHandler := handlers.NewAPIHandler(healthHandler, spacesSvc, filesSvc, linkGroupsSvc, logger)

	// 11. JWT middleware (пустой SM_JWT_JWKS_URL — аутентификация отключена)
	var jwtAuth *middleware.JWTAuth
	if cfg.JWTJWKSURL != "" {
		jwtAuth, err = middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.CACertPath,
			cfg.JWTIssuer,
			cfg.JWTGroupsClaim,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("SM_JWT_JWKS_URL не задан, запросы выполняются без аутентификации")
	}

	// 12. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	runErr := srv.Run()

	// 13. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	sweeper.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("Space Manager остановлен")
}
