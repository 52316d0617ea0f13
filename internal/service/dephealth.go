// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Upload Module мониторит:
//   - Compliance API — HTTP checker к health endpoint (critical: без него
//     невозможны ни загрузка, ни фиксация)
//   - PostgreSQL — SQL checker через существующий pgxpool (connection pool
//     mode). Добавляется только при настроенном журнале: без БД агент
//     работает, поэтому зависимость не critical.
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
//
// Параметры:
//   - serviceID — имя вершины графа текущего приложения (e.g. "upload-module")
//   - group — имя группы в метриках (UM_DEPHEALTH_GROUP)
//   - db — *sql.DB журнала из pgxpool через stdlib.OpenDBFromPool(); nil — журнал отключён
//   - pgConnURL — URL подключения к PostgreSQL (для метрик/лейблов, не для подключения)
//   - apiURL — базовый URL compliance API
//   - checkInterval — интервал проверки зависимостей (UM_DEPHEALTH_CHECK_INTERVAL)
//   - isEntry — при true добавляет лейбл isentry=yes ко всем зависимостям (DEPHEALTH_ISENTRY)
func NewDephealthService(
	serviceID string,
	group string,
	db *sql.DB,
	pgConnURL string,
	apiURL string,
	checkInterval time.Duration,
	isEntry bool,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, db, pgConnURL, apiURL, checkInterval, isEntry, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	db *sql.DB,
	pgConnURL string,
	apiURL string,
	checkInterval time.Duration,
	isEntry bool,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, db, pgConnURL, apiURL, checkInterval, isEntry,
		logger, dephealth.WithRegisterer(registerer))
}

// newDephealthService — внутренний конструктор.
func newDephealthService(
	serviceID string,
	group string,
	db *sql.DB,
	pgConnURL string,
	apiURL string,
	checkInterval time.Duration,
	isEntry bool,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	// Probe path health endpoint compliance API
	apiHealthPath := "/health/ready"

	// Опции зависимости Compliance API
	apiDepOpts := []dephealth.DependencyOption{
		dephealth.FromURL(apiURL),
		dephealth.WithHTTPHealthPath(apiHealthPath),
		dephealth.CheckInterval(checkInterval),
		dephealth.Critical(true),
	}
	if isEntry {
		apiDepOpts = append(apiDepOpts, dephealth.WithLabel("isentry", "yes"))
	}

	// Для compliance API определяем TLS из URL
	if parsed, err := url.Parse(apiURL); err == nil && parsed.Scheme == "https" {
		apiDepOpts = append(apiDepOpts, dephealth.WithHTTPTLSSkipVerify(false))
	}

	opts := make([]dephealth.Option, 0, 3+len(extraOpts))
	opts = append(opts,
		dephealth.WithLogger(logger),
		// Compliance API — HTTP checker к /health/ready
		dephealth.HTTP("compliance-api", apiDepOpts...),
	)

	// PostgreSQL добавляется только при настроенном журнале.
	// Журнал опционален, поэтому зависимость не critical: без БД
	// отключается только дедупликация.
	if db != nil {
		pgDepOpts := []dephealth.DependencyOption{
			dephealth.FromURL(pgConnURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(false),
		}
		if isEntry {
			pgDepOpts = append(pgDepOpts, dephealth.WithLabel("isentry", "yes"))
		}
		opts = append(opts,
			// Connection pool mode через существующий pgxpool: проверка
			// через *sql.DB отражает реальное состояние пула соединений
			dephealth.AddDependency("postgresql", dephealth.TypePostgres,
				pgcheck.New(pgcheck.WithDB(db)), pgDepOpts...),
		)
	}

	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
