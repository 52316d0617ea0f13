// watch.go — автоматическая загрузка из каталога спула.
// Каталог периодически сканируется; новые файлы попадают в batch-очередь,
// загружаются и фиксируются без участия оператора. Элементы с неполной
// формой (извлечение не дало обязательных полей) остаются в очереди
// в статусе extracted и ждут ручной доработки.
package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики watch-режима.
var (
	watchScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "um_watch_scans_total",
		Help: "Общее количество сканирований каталога спула.",
	})
	watchFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "um_watch_files_total",
		Help: "Общее количество файлов, обнаруженных в каталоге спула (по исходу).",
	}, []string{"status"})
)

// watchExtensions — расширения, подхватываемые из каталога спула.
var watchExtensions = map[string]bool{
	".pdf":  true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// WatchService — наблюдатель каталога спула.
type WatchService struct {
	batch    *BatchService
	dir      string
	interval time.Duration
	vesselID string
	logger   *slog.Logger

	mu   sync.Mutex
	seen map[string]bool // пути, уже добавленные в очередь
}

// NewWatchService создаёт наблюдатель каталога спула.
// vesselID — судно-владелец всех подхваченных документов.
func NewWatchService(batch *BatchService, dir string, interval time.Duration, vesselID string, logger *slog.Logger) *WatchService {
	return &WatchService{
		batch:    batch,
		dir:      dir,
		interval: interval,
		vesselID: vesselID,
		logger:   logger.With(slog.String("component", "watch_service")),
		seen:     make(map[string]bool),
	}
}

// Run запускает цикл сканирования. Блокирует до отмены контекста.
func (ws *WatchService) Run(ctx context.Context) error {
	ws.logger.Info("Наблюдение за каталогом спула запущено",
		slog.String("dir", ws.dir),
		slog.Duration("interval", ws.interval),
		slog.String("vessel_id", ws.vesselID),
	)

	ticker := time.NewTicker(ws.interval)
	defer ticker.Stop()

	// Первое сканирование сразу, не дожидаясь тика
	ws.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			ws.logger.Info("Наблюдение за каталогом спула остановлено")
			return ctx.Err()
		case <-ticker.C:
			ws.scan(ctx)
		}
	}
}

// scan выполняет один проход: обнаружение новых файлов, загрузка,
// фиксация завершённых.
func (ws *WatchService) scan(ctx context.Context) {
	watchScansTotal.Inc()

	added := ws.collect(ctx)
	if added > 0 {
		ws.logger.Info("Новые файлы добавлены в очередь", slog.Int("count", added))
	}

	processed, err := ws.batch.ProcessAll(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		ws.logger.Error("Обработка очереди прервана", slog.String("error", err.Error()))
		return
	}
	committed, err := ws.batch.CommitAll(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		ws.logger.Error("Фиксация очереди прервана", slog.String("error", err.Error()))
		return
	}

	if processed > 0 || committed > 0 {
		ws.logger.Info("Проход спула завершён",
			slog.Int("processed", processed),
			slog.Int("committed", committed),
		)
	}
}

// collect добавляет новые файлы каталога в очередь.
// Возвращает количество добавленных.
func (ws *WatchService) collect(ctx context.Context) int {
	entries, err := os.ReadDir(ws.dir)
	if err != nil {
		ws.logger.Error("Чтение каталога спула не удалось",
			slog.String("dir", ws.dir),
			slog.String("error", err.Error()),
		)
		return 0
	}

	added := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !watchExtensions[ext] {
			continue
		}

		path := filepath.Join(ws.dir, entry.Name())
		ws.mu.Lock()
		already := ws.seen[path]
		ws.mu.Unlock()
		if already {
			continue
		}

		if _, err := ws.batch.Add(ctx, ws.vesselID, path); err != nil {
			switch {
			case errors.Is(err, ErrDuplicateFile):
				watchFilesTotal.WithLabelValues("duplicate").Inc()
				ws.logger.Debug("Файл пропущен: уже загружен",
					slog.String("file", entry.Name()),
				)
			default:
				watchFilesTotal.WithLabelValues("rejected").Inc()
				ws.logger.Warn("Файл спула отклонён",
					slog.String("file", entry.Name()),
					slog.String("error", err.Error()),
				)
			}
			// Отклонённый файл не перепроверяется на каждом тике
			ws.markSeen(path)
			continue
		}

		watchFilesTotal.WithLabelValues("queued").Inc()
		ws.markSeen(path)
		added++
	}
	return added
}

// markSeen помечает путь как обработанный.
func (ws *WatchService) markSeen(path string) {
	ws.mu.Lock()
	ws.seen[path] = true
	ws.mu.Unlock()
}
