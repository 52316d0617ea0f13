// journal.go — запись локального журнала загрузок.
package model

import "time"

// JournalEntry — факт успешно зафиксированной загрузки в локальном
// журнале агента. Используется для дедупликации (по контрольной сумме)
// и аудита batch/watch-режимов.
type JournalEntry struct {
	// ID — локальный идентификатор записи журнала.
	ID string
	// DocumentID — идентификатор документа в backend.
	DocumentID string
	// VesselID — судно-владелец.
	VesselID string
	// Title — зафиксированный заголовок документа.
	Title string
	// DocumentType — зафиксированный тип документа.
	DocumentType string
	// FileName — исходное имя файла.
	FileName string
	// FileSize — размер файла в байтах.
	FileSize int64
	// Checksum — SHA-256 содержимого файла (hex).
	Checksum string
	// UploadedAt — время фиксации.
	UploadedAt time.Time
}
