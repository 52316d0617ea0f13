package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/marinedocs/upload-module/internal/apiclient"
	"github.com/bigkaa/marinedocs/upload-module/internal/domain/model"
)

// newTestBatchService создаёт BatchService с mock backend.
func newTestBatchService(t *testing.T, mb *mockBackend, journal *fakeJournal) *BatchService {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	api, err := apiclient.New(mb.server.URL, "", 10*time.Second,
		func(_ context.Context) (string, error) { return "test-token", nil },
		logger)
	if err != nil {
		t.Fatalf("Ошибка создания API-клиента: %v", err)
	}

	if journal == nil {
		return NewBatchService(api, nil, logger)
	}
	return NewBatchService(api, journal, logger)
}

// writeBatchFile создаёт валидный PNG-файл для очереди.
func writeBatchFile(t *testing.T, dir, name string, tail byte) string {
	t.Helper()
	data := append(append([]byte{}, pngData...), tail)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("запись файла: %v", err)
	}
	return path
}

// TestBatch_AddKeepsOrder проверяет порядок добавления и значения
// по умолчанию нового элемента.
func TestBatch_AddKeepsOrder(t *testing.T) {
	mb := newMockBackend(t)
	bs := newTestBatchService(t, mb, nil)
	dir := t.TempDir()

	names := []string{"crew list.png", "smc cert.png", "registry.png"}
	for i, name := range names {
		if _, err := bs.Add(context.Background(), "vessel-1", writeBatchFile(t, dir, name, byte(i))); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}

	files := bs.Files()
	if len(files) != 3 {
		t.Fatalf("len(files) = %d, ожидалось 3", len(files))
	}
	for i, name := range names {
		if files[i].File.Name != name {
			t.Errorf("files[%d] = %q, ожидался %q (порядок добавления)", i, files[i].File.Name, name)
		}
		if files[i].Status != model.StatusPending {
			t.Errorf("files[%d].Status = %s, ожидался pending", i, files[i].Status)
		}
		if !files[i].IsSelected {
			t.Errorf("files[%d] должен быть выбран по умолчанию", i)
		}
	}
	// Заголовок — имя файла без расширения
	if files[0].Form.Title != "crew list" {
		t.Errorf("Title = %q, ожидался crew list", files[0].Form.Title)
	}
}

// TestBatch_AddRejectsInvalid проверяет отказ для непригодного файла.
func TestBatch_AddRejectsInvalid(t *testing.T) {
	mb := newMockBackend(t)
	bs := newTestBatchService(t, mb, nil)

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("plain text"), 0o600); err != nil {
		t.Fatalf("запись файла: %v", err)
	}

	if _, err := bs.Add(context.Background(), "vessel-1", path); err == nil {
		t.Fatal("ожидался отказ для неподдерживаемого файла")
	}
	if len(bs.Files()) != 0 {
		t.Error("отклонённый файл не должен попасть в очередь")
	}
}

// TestBatch_AddDeduplicates проверяет дедупликацию по журналу.
func TestBatch_AddDeduplicates(t *testing.T) {
	mb := newMockBackend(t)
	journal := &fakeJournal{}
	bs := newTestBatchService(t, mb, journal)
	dir := t.TempDir()

	path := writeBatchFile(t, dir, "dup.png", 0x01)

	// Файл уже фиксировался: журнал содержит его контрольную сумму
	first, err := bs.Add(context.Background(), "vessel-1", path)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	_ = journal.Record(context.Background(), &model.JournalEntry{
		DocumentID: "doc-x",
		VesselID:   "vessel-1",
		Checksum:   first.File.Checksum,
	})

	_, err = bs.Add(context.Background(), "vessel-1", path)
	if !errors.Is(err, ErrDuplicateFile) {
		t.Errorf("ожидался ErrDuplicateFile, получено: %v", err)
	}

	// Для другого судна тот же файл — не дубликат
	if _, err := bs.Add(context.Background(), "vessel-2", path); err != nil {
		t.Errorf("файл другого судна не должен считаться дубликатом: %v", err)
	}
}

// TestBatch_ProcessAllContinuesPastFailure проверяет последовательную
// обработку: ошибка одного элемента не останавливает остальные.
func TestBatch_ProcessAllContinuesPastFailure(t *testing.T) {
	mb := newMockBackend(t)
	bs := newTestBatchService(t, mb, nil)
	dir := t.TempDir()

	if _, err := bs.Add(context.Background(), "vessel-1", writeBatchFile(t, dir, "a.png", 0x01)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := bs.Add(context.Background(), "vessel-1", writeBatchFile(t, dir, "b.png", 0x02)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Первый запрос падает, второй успешен
	mb.queueUploads(
		mockResponse{http.StatusInternalServerError, `{"error": "AI extraction failed"}`},
		mockResponse{http.StatusOK, `{"success": true, "id": "doc-b"}`},
	)

	processed, err := bs.ProcessAll(context.Background())
	if err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}
	if processed != 1 {
		t.Errorf("processed = %d, ожидался 1", processed)
	}

	files := bs.Files()
	if files[0].Status != model.StatusError {
		t.Errorf("files[0].Status = %s, ожидался error", files[0].Status)
	}
	if files[0].Err != "AI extraction failed" {
		t.Errorf("files[0].Err = %q, ожидалось сообщение сервера", files[0].Err)
	}
	if files[1].Status != model.StatusExtracted {
		t.Errorf("files[1].Status = %s, ожидался extracted", files[1].Status)
	}
	if files[1].Record == nil || files[1].Record.ID != "doc-b" {
		t.Errorf("files[1].Record = %+v", files[1].Record)
	}
}

// TestBatch_ApplyToSelected проверяет batch-редактирование выбранных
// элементов.
func TestBatch_ApplyToSelected(t *testing.T) {
	mb := newMockBackend(t)
	bs := newTestBatchService(t, mb, nil)
	dir := t.TempDir()

	a, err := bs.Add(context.Background(), "vessel-1", writeBatchFile(t, dir, "a.png", 0x01))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	b, err := bs.Add(context.Background(), "vessel-1", writeBatchFile(t, dir, "b.png", 0x02))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Снимаем выбор со второго
	if err := bs.SetSelected(b.ID, false); err != nil {
		t.Fatalf("SetSelected: %v", err)
	}

	applied := bs.ApplyToSelected(func(f *model.FormState) {
		f.IssuingAuthority = "Panama Maritime Authority"
	})
	if applied != 1 {
		t.Errorf("applied = %d, ожидался 1", applied)
	}

	files := bs.Files()
	for _, f := range files {
		switch f.ID {
		case a.ID:
			if f.Form.IssuingAuthority != "Panama Maritime Authority" {
				t.Error("правка не применена к выбранному элементу")
			}
		case b.ID:
			if f.Form.IssuingAuthority != "" {
				t.Error("правка применена к невыбранному элементу")
			}
		}
	}
}

// TestBatch_CommitAllSkipsIncomplete проверяет фиксацию: элементы
// с неполной формой пропускаются, остальные фиксируются и журналируются.
func TestBatch_CommitAllSkipsIncomplete(t *testing.T) {
	mb := newMockBackend(t)
	journal := &fakeJournal{}
	bs := newTestBatchService(t, mb, journal)
	dir := t.TempDir()

	if _, err := bs.Add(context.Background(), "vessel-1", writeBatchFile(t, dir, "full.png", 0x01)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := bs.Add(context.Background(), "vessel-1", writeBatchFile(t, dir, "partial.png", 0x02)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := bs.ProcessAll(context.Background()); err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}

	// Стираем обязательное поле у второго элемента
	files := bs.Files()
	if err := bs.SetSelected(files[0].ID, false); err != nil {
		t.Fatalf("SetSelected: %v", err)
	}
	bs.ApplyToSelected(func(f *model.FormState) {
		f.DocumentType = ""
	})

	committed, err := bs.CommitAll(context.Background())
	if err != nil {
		t.Fatalf("CommitAll: %v", err)
	}
	if committed != 1 {
		t.Errorf("committed = %d, ожидался 1", committed)
	}

	files = bs.Files()
	if files[0].Status != model.StatusCompleted {
		t.Errorf("files[0].Status = %s, ожидался completed", files[0].Status)
	}
	if files[1].Status != model.StatusExtracted {
		t.Errorf("files[1].Status = %s, элемент с неполной формой остаётся extracted", files[1].Status)
	}

	journal.mu.Lock()
	defer journal.mu.Unlock()
	if len(journal.entries) != 1 {
		t.Errorf("записей в журнале = %d, ожидалась 1", len(journal.entries))
	}
}

// TestBatch_Retry проверяет повтор элемента после ошибки.
func TestBatch_Retry(t *testing.T) {
	mb := newMockBackend(t)
	bs := newTestBatchService(t, mb, nil)
	dir := t.TempDir()

	entry, err := bs.Add(context.Background(), "vessel-1", writeBatchFile(t, dir, "retry.png", 0x01))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	mb.setUpload(http.StatusInternalServerError, `{"error": "temporary failure"}`)
	if _, err := bs.ProcessAll(context.Background()); err != nil {
		t.Fatalf("ProcessAll: %v", err)
	}
	if got := bs.Files()[0].Status; got != model.StatusError {
		t.Fatalf("Status = %s, ожидался error", got)
	}

	// Повтор допустим только из error
	if err := bs.Retry(entry.ID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got := bs.Files()[0].Status; got != model.StatusPending {
		t.Errorf("Status = %s, ожидался pending после Retry", got)
	}

	mb.setUpload(http.StatusOK, `{"success": true, "id": "doc-retry"}`)
	if _, err := bs.ProcessAll(context.Background()); err != nil {
		t.Fatalf("повторный ProcessAll: %v", err)
	}
	if got := bs.Files()[0].Status; got != model.StatusExtracted {
		t.Errorf("Status = %s, ожидался extracted", got)
	}

	// Retry для не-error элемента отклоняется
	if err := bs.Retry(entry.ID); err == nil {
		t.Error("Retry для элемента без ошибки должен быть отклонён")
	}
}
