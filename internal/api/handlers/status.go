// status.go — read-only endpoints состояния агента в watch-режиме.
// GET /api/queue — текущая очередь файлов
// GET /api/journal — последние записи журнала загрузок
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bigkaa/marinedocs/upload-module/internal/domain/model"
)

// defaultJournalLimit — количество записей журнала по умолчанию.
const defaultJournalLimit = 50

// QueueLister — источник текущего состояния batch-очереди.
type QueueLister interface {
	Files() []model.DocumentFile
}

// JournalReader — чтение журнала загрузок.
type JournalReader interface {
	ListRecent(ctx context.Context, limit int) ([]*model.JournalEntry, error)
}

// StatusHandler — обработчик read-only endpoints состояния.
type StatusHandler struct {
	queue   QueueLister
	journal JournalReader
	logger  *slog.Logger
}

// NewStatusHandler создаёт обработчик состояния.
// journal может быть nil — журнал опционален.
func NewStatusHandler(queue QueueLister, journal JournalReader, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		queue:   queue,
		journal: journal,
		logger:  logger.With(slog.String("component", "status_handler")),
	}
}

// queueItemResponse — элемент очереди в ответе API.
type queueItemResponse struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	Status   string `json:"status"`
	Title    string `json:"title,omitempty"`
	Error    string `json:"error,omitempty"`
}

// GetQueue возвращает текущую очередь файлов.
func (h *StatusHandler) GetQueue(w http.ResponseWriter, _ *http.Request) {
	files := h.queue.Files()

	items := make([]queueItemResponse, 0, len(files))
	for _, f := range files {
		items = append(items, queueItemResponse{
			ID:       f.ID,
			FileName: f.File.Name,
			FileSize: f.File.Size,
			Status:   string(f.Status),
			Title:    f.Form.Title,
			Error:    f.Err,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total": len(items),
		"items": items,
	})
}

// GetJournal возвращает последние записи журнала загрузок.
// Параметр limit ограничивает количество записей (по умолчанию 50).
func (h *StatusHandler) GetJournal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "журнал не настроен",
		})
		return
	}

	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "параметр limit должен быть положительным числом",
			})
			return
		}
		limit = parsed
	}

	entries, err := h.journal.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("Чтение журнала не удалось", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "не удалось прочитать журнал загрузок",
		})
		return
	}

	items := make([]journalEntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, journalEntryResponse{
			ID:           e.ID,
			DocumentID:   e.DocumentID,
			VesselID:     e.VesselID,
			Title:        e.Title,
			DocumentType: e.DocumentType,
			FileName:     e.FileName,
			FileSize:     e.FileSize,
			Checksum:     e.Checksum,
			UploadedAt:   e.UploadedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(items),
		"entries": items,
	})
}

// journalEntryResponse — запись журнала в ответе API.
type journalEntryResponse struct {
	ID           string `json:"id"`
	DocumentID   string `json:"documentId"`
	VesselID     string `json:"vesselId"`
	Title        string `json:"title"`
	DocumentType string `json:"documentType"`
	FileName     string `json:"fileName"`
	FileSize     int64  `json:"fileSize"`
	Checksum     string `json:"checksum"`
	UploadedAt   string `json:"uploadedAt"`
}

// writeJSON сериализует ответ в JSON.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
