// batch.go — очередь множественной загрузки документов.
// Каждый элемент очереди несёт собственное состояние; обработка строго
// последовательная (один файл за раз), ошибка одного элемента не
// останавливает остальные. Порядок элементов — порядок добавления.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/marinedocs/upload-module/internal/apiclient"
	"github.com/bigkaa/marinedocs/upload-module/internal/domain/model"
	"github.com/bigkaa/marinedocs/upload-module/internal/reconcile"
	"github.com/bigkaa/marinedocs/upload-module/internal/repository"
	"github.com/bigkaa/marinedocs/upload-module/internal/validate"
)

// ErrDuplicateFile — файл с такой контрольной суммой уже зафиксирован
// для этого судна (по данным журнала).
var ErrDuplicateFile = errors.New("файл уже загружен для этого судна")

// Prometheus-метрики batch-очереди.
var batchFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "um_batch_files_total",
	Help: "Общее количество файлов batch-очереди (по исходу обработки).",
}, []string{"status"})

// BatchService — очередь множественной загрузки для одного судна
// или набора судов. Потокобезопасен.
type BatchService struct {
	api     *apiclient.Client
	journal repository.JournalRepository // nil — дедупликация отключена
	logger  *slog.Logger

	mu    sync.Mutex
	files []*model.DocumentFile
}

// NewBatchService создаёт пустую очередь.
func NewBatchService(api *apiclient.Client, journal repository.JournalRepository, logger *slog.Logger) *BatchService {
	return &BatchService{
		api:     api,
		journal: journal,
		logger:  logger.With(slog.String("component", "batch_service")),
	}
}

// Add валидирует файл и добавляет его в конец очереди.
// Если журнал настроен и файл уже фиксировался для этого судна,
// возвращает ErrDuplicateFile.
func (bs *BatchService) Add(ctx context.Context, vesselID, path string) (*model.DocumentFile, error) {
	if vesselID == "" {
		return nil, fmt.Errorf("не указано судно")
	}

	ref, err := validate.File(path)
	if err != nil {
		return nil, err
	}

	if bs.journal != nil {
		exists, err := bs.journal.ExistsByChecksum(ctx, vesselID, ref.Checksum)
		if err != nil {
			// Недоступность журнала не блокирует загрузку
			bs.logger.Warn("Проверка дубликата не удалась",
				slog.String("file", ref.Name),
				slog.String("error", err.Error()),
			)
		} else if exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateFile, ref.Name)
		}
	}

	entry := &model.DocumentFile{
		ID:         uuid.NewString(),
		File:       *ref,
		VesselID:   vesselID,
		Status:     model.StatusPending,
		IsSelected: true,
		Form:       model.FormState{Title: ref.TitleFromName()},
	}

	bs.mu.Lock()
	bs.files = append(bs.files, entry)
	bs.mu.Unlock()

	bs.logger.Debug("Файл добавлен в очередь",
		slog.String("entry_id", entry.ID),
		slog.String("file", ref.Name),
	)

	snapshot := *entry
	return &snapshot, nil
}

// Files возвращает элементы очереди в порядке добавления (копии).
func (bs *BatchService) Files() []model.DocumentFile {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	result := make([]model.DocumentFile, len(bs.files))
	for i, f := range bs.files {
		result[i] = *f
	}
	return result
}

// SetSelected переключает выбор элемента для batch-редактирования.
func (bs *BatchService) SetSelected(entryID string, selected bool) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	for _, f := range bs.files {
		if f.ID == entryID {
			f.IsSelected = selected
			return nil
		}
	}
	return fmt.Errorf("элемент очереди %s не найден", entryID)
}

// ApplyToSelected применяет правку формы ко всем выбранным элементам.
// Блокировка бессрочности каждого элемента не снимается правками.
func (bs *BatchService) ApplyToSelected(mutate func(*model.FormState)) int {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	applied := 0
	for _, f := range bs.files {
		if !f.IsSelected || f.Status == model.StatusCompleted {
			continue
		}
		mutate(&f.Form)
		if f.Form.PermanentLocked {
			f.Form.IsPermanent = true
		}
		applied++
	}
	return applied
}

// ProcessAll последовательно загружает все ожидающие элементы очереди.
// Ошибка одного элемента фиксируется в нём и не останавливает обработку;
// прерывает цикл только отмена контекста. Возвращает количество
// успешно обработанных элементов.
func (bs *BatchService) ProcessAll(ctx context.Context) (int, error) {
	processed := 0
	for _, entry := range bs.pending() {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if bs.processOne(ctx, entry.ID) {
			processed++
		}
	}
	return processed, nil
}

// pending возвращает снимок элементов в статусе pending.
func (bs *BatchService) pending() []model.DocumentFile {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	var result []model.DocumentFile
	for _, f := range bs.files {
		if f.Status == model.StatusPending {
			result = append(result, *f)
		}
	}
	return result
}

// processOne загружает один элемент очереди. Возвращает true при успехе.
func (bs *BatchService) processOne(ctx context.Context, entryID string) bool {
	entry := bs.setStatus(entryID, model.StatusProcessing, "")
	if entry == nil {
		return false
	}

	body, err := validate.Open(&entry.File)
	if err != nil {
		bs.failEntry(entryID, err)
		return false
	}
	defer body.Close()

	result, err := bs.api.Upload(ctx, apiclient.UploadInput{
		VesselID:    entry.VesselID,
		Title:       entry.Form.Title,
		FileName:    entry.File.Name,
		ContentType: entry.File.ContentType,
		Body:        body,
	})
	if err != nil {
		bs.failEntry(entryID, err)
		return false
	}

	defaults := reconcile.Defaults(result.Extracted, result.Classification)
	// Пользовательский заголовок элемента сохраняется
	if defaults.Title == "" {
		defaults.Title = entry.Form.Title
	}

	bs.mu.Lock()
	for _, f := range bs.files {
		if f.ID == entryID {
			f.Status = model.StatusExtracted
			f.Record = &result.Record
			f.Extracted = result.Extracted
			f.Form = defaults
			f.Err = ""
			break
		}
	}
	bs.mu.Unlock()

	batchFilesTotal.WithLabelValues("extracted").Inc()
	bs.logger.Info("Файл очереди загружен",
		slog.String("entry_id", entryID),
		slog.String("document_id", result.Record.ID),
	)
	return true
}

// CommitAll последовательно фиксирует метаданные всех элементов
// в статусе extracted с полной формой. Элементы с неполной формой
// пропускаются. Возвращает количество зафиксированных элементов.
func (bs *BatchService) CommitAll(ctx context.Context) (int, error) {
	committed := 0
	for _, entry := range bs.extracted() {
		if err := ctx.Err(); err != nil {
			return committed, err
		}
		if !entry.Form.Complete() {
			bs.logger.Debug("Элемент пропущен: форма заполнена не полностью",
				slog.String("entry_id", entry.ID),
			)
			continue
		}
		if bs.commitOne(ctx, entry) {
			committed++
		}
	}
	return committed, nil
}

// extracted возвращает снимок элементов в статусе extracted.
func (bs *BatchService) extracted() []model.DocumentFile {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	var result []model.DocumentFile
	for _, f := range bs.files {
		if f.Status == model.StatusExtracted {
			result = append(result, *f)
		}
	}
	return result
}

// commitOne фиксирует метаданные одного элемента.
func (bs *BatchService) commitOne(ctx context.Context, entry model.DocumentFile) bool {
	if entry.Record == nil {
		return false
	}

	if _, err := bs.api.Update(ctx, entry.Record.ID, entry.Form); err != nil {
		// Элемент остаётся extracted: правки и id сохранены для повтора
		bs.mu.Lock()
		for _, f := range bs.files {
			if f.ID == entry.ID {
				f.Err = userMessage(err)
				break
			}
		}
		bs.mu.Unlock()
		batchFilesTotal.WithLabelValues("commit_error").Inc()
		bs.logger.Error("Фиксация элемента очереди не удалась",
			slog.String("entry_id", entry.ID),
			slog.String("error", err.Error()),
		)
		return false
	}

	bs.setStatus(entry.ID, model.StatusCompleted, "")
	batchFilesTotal.WithLabelValues("completed").Inc()

	if bs.journal != nil {
		je := &model.JournalEntry{
			DocumentID:   entry.Record.ID,
			VesselID:     entry.VesselID,
			Title:        entry.Form.Title,
			DocumentType: entry.Form.DocumentType,
			FileName:     entry.File.Name,
			FileSize:     entry.File.Size,
			Checksum:     entry.File.Checksum,
		}
		if err := bs.journal.Record(ctx, je); err != nil {
			bs.logger.Warn("Запись в журнал загрузок не удалась",
				slog.String("document_id", entry.Record.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return true
}

// failEntry переводит элемент в статус error с текстом для пользователя.
func (bs *BatchService) failEntry(entryID string, cause error) {
	bs.setStatus(entryID, model.StatusError, userMessage(cause))
	batchFilesTotal.WithLabelValues("error").Inc()
	bs.logger.Error("Обработка элемента очереди не удалась",
		slog.String("entry_id", entryID),
		slog.String("error", cause.Error()),
	)
}

// setStatus обновляет статус элемента. Возвращает копию элемента или nil.
func (bs *BatchService) setStatus(entryID string, status model.DocumentStatus, errMsg string) *model.DocumentFile {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	for _, f := range bs.files {
		if f.ID == entryID {
			f.Status = status
			f.Err = errMsg
			snapshot := *f
			return &snapshot
		}
	}
	return nil
}

// Retry возвращает элемент в статус pending для повторной загрузки.
// Допустим только для элементов в статусе error.
func (bs *BatchService) Retry(entryID string) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	for _, f := range bs.files {
		if f.ID != entryID {
			continue
		}
		if f.Status != model.StatusError {
			return fmt.Errorf("повтор допустим только для элементов с ошибкой, статус: %s", f.Status)
		}
		f.Status = model.StatusPending
		f.Err = ""
		f.Record = nil
		f.Extracted = nil
		return nil
	}
	return fmt.Errorf("элемент очереди %s не найден", entryID)
}
