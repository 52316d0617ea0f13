// upload.go — оркестрация загрузки одного документа.
// Полный pipeline: валидация файла → бинарная загрузка с эмуляцией
// прогресса → сведение извлечённых метаданных в форму → фиксация
// финальных метаданных отдельным вызовом.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/marinedocs/upload-module/internal/apiclient"
	"github.com/bigkaa/marinedocs/upload-module/internal/domain/model"
	"github.com/bigkaa/marinedocs/upload-module/internal/domain/session"
	"github.com/bigkaa/marinedocs/upload-module/internal/reconcile"
	"github.com/bigkaa/marinedocs/upload-module/internal/repository"
	"github.com/bigkaa/marinedocs/upload-module/internal/validate"
)

// Prometheus-метрики загрузки.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "um_uploads_total",
		Help: "Общее количество загрузок документов (по статусу).",
	}, []string{"status"})

	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "um_upload_duration_seconds",
		Help:    "Длительность загрузки (от начала до прихода извлечённых метаданных).",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	activeUploads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "um_active_uploads",
		Help: "Количество активных (in-progress) загрузок.",
	})

	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "um_commits_total",
		Help: "Общее количество фиксаций метаданных (по статусу).",
	}, []string{"status"})
)

// UploadService — оркестратор загрузки документов.
// Владеет сетевыми вызовами; переходы шагов делегируются сессии.
type UploadService struct {
	api     *apiclient.Client
	journal repository.JournalRepository // nil — журнал отключён
	logger  *slog.Logger
}

// NewUploadService создаёт оркестратор загрузки.
// journal может быть nil — тогда фиксации не журналируются.
func NewUploadService(api *apiclient.Client, journal repository.JournalRepository, logger *slog.Logger) *UploadService {
	return &UploadService{
		api:     api,
		journal: journal,
		logger:  logger.With(slog.String("component", "upload_service")),
	}
}

// Upload выполняет фазу бинарной загрузки для сессии.
//
// Pipeline:
//  1. Переход select → uploading (guard: файл и судно выбраны)
//  2. Эмуляция прогресса по таймеру (backend не отдаёт реальный прогресс)
//  3. Multipart POST с минимальными метаданными
//  4. Успех: сведение извлечённых метаданных в форму, переход в review
//  5. Неудача: переход в error, частичная запись не сохраняется
//
// onProgress может быть nil. Обновления прогресса доставляются из
// фоновой горутины до завершения вызова.
func (us *UploadService) Upload(ctx context.Context, sess *session.Session, onProgress ProgressFunc) error {
	start := time.Now()
	activeUploads.Inc()
	defer activeUploads.Dec()

	if err := sess.BeginUpload(); err != nil {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return err
	}

	file := sess.File()
	vesselID := sess.VesselID()
	title := sess.Form().Title

	emulator := NewProgressEmulator(func(p int) {
		sess.SetProgress(p)
		if onProgress != nil {
			onProgress(p)
		}
	})
	emulator.Start()

	body, err := validate.Open(file)
	if err != nil {
		emulator.Stop()
		return us.failUpload(sess, err, "file_error")
	}
	defer body.Close()

	result, err := us.api.Upload(ctx, apiclient.UploadInput{
		VesselID:    vesselID,
		Title:       title,
		FileName:    file.Name,
		ContentType: file.ContentType,
		Body:        body,
	})
	if err != nil {
		emulator.Stop()
		return us.failUpload(sess, err, "api_error")
	}

	defaults := reconcile.Defaults(result.Extracted, result.Classification)
	if err := sess.CompleteUpload(result.Record, result.Extracted, defaults); err != nil {
		emulator.Stop()
		// Сессия закрыта или ID уже установлен — поздний ответ игнорируется
		uploadsTotal.WithLabelValues("stale").Inc()
		us.logger.Warn("Результат загрузки отброшен",
			slog.String("document_id", result.Record.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	emulator.Finish()

	duration := time.Since(start)
	uploadsTotal.WithLabelValues("success").Inc()
	uploadDuration.Observe(duration.Seconds())

	us.logger.Info("Документ загружен, метаданные извлечены",
		slog.String("document_id", result.Record.ID),
		slog.String("vessel_id", vesselID),
		slog.String("file", file.Name),
		slog.Duration("duration", duration),
	)

	return nil
}

// failUpload переводит сессию в error и возвращает исходную ошибку.
func (us *UploadService) failUpload(sess *session.Session, cause error, status string) error {
	uploadsTotal.WithLabelValues(status).Inc()

	if ferr := sess.FailUpload(userMessage(cause)); ferr != nil {
		// Сессия закрыта — поздняя ошибка сети игнорируется
		us.logger.Debug("Ошибка загрузки отброшена: сессия закрыта",
			slog.String("error", cause.Error()),
		)
		return cause
	}

	us.logger.Error("Загрузка документа не удалась",
		slog.String("error", cause.Error()),
	)
	return cause
}

// Commit выполняет фазу фиксации метаданных для сессии.
//
// Успех: переход saving → done, запись в журнал (если настроен).
// Неудача: переход saving → review — правки формы и идентификатор
// записи сохраняются, фиксацию можно повторить по тому же id.
func (us *UploadService) Commit(ctx context.Context, sess *session.Session) (*model.DocumentRecord, error) {
	if err := sess.BeginSave(); err != nil {
		commitsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	record := sess.Record()
	if record == nil {
		commitsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("сессия не содержит записи документа")
	}
	form := sess.Form()

	updated, err := us.api.Update(ctx, record.ID, form)
	if err != nil {
		commitsTotal.WithLabelValues("error").Inc()
		if ferr := sess.FailSave(userMessage(err)); ferr != nil {
			us.logger.Debug("Ошибка фиксации отброшена: сессия закрыта",
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		us.logger.Error("Фиксация метаданных не удалась",
			slog.String("document_id", record.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if err := sess.CompleteSave(); err != nil {
		commitsTotal.WithLabelValues("stale").Inc()
		return nil, err
	}
	commitsTotal.WithLabelValues("success").Inc()

	us.logger.Info("Метаданные документа зафиксированы",
		slog.String("document_id", record.ID),
		slog.String("document_type", form.DocumentType),
		slog.Bool("is_permanent", form.IsPermanent),
	)

	us.recordJournal(ctx, sess, form)

	return updated, nil
}

// recordJournal добавляет запись в журнал загрузок.
// Ошибка журнала не влияет на результат фиксации — только логируется.
func (us *UploadService) recordJournal(ctx context.Context, sess *session.Session, form model.FormState) {
	if us.journal == nil {
		return
	}
	record := sess.Record()
	file := sess.File()
	if record == nil || file == nil {
		return
	}

	entry := &model.JournalEntry{
		DocumentID:   record.ID,
		VesselID:     sess.VesselID(),
		Title:        form.Title,
		DocumentType: form.DocumentType,
		FileName:     file.Name,
		FileSize:     file.Size,
		Checksum:     file.Checksum,
	}
	if err := us.journal.Record(ctx, entry); err != nil {
		us.logger.Warn("Запись в журнал загрузок не удалась",
			slog.String("document_id", record.ID),
			slog.String("error", err.Error()),
		)
	}
}

// userMessage возвращает текст ошибки для показа пользователю.
// Ошибки API уже несут сообщение сервера или строку HTTP-статуса;
// остальные (сеть, файловая система) отдаются как есть.
func userMessage(err error) string {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	var verr *validate.ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	return err.Error()
}
