// Пакет model — доменные структуры Upload Module.
// Описывает документ судна на всех этапах загрузки: от выбора файла
// до зафиксированной записи в backend.
package model

import (
	"path/filepath"
	"strings"
	"time"
)

// DocumentStatus — статус документа в batch-очереди.
type DocumentStatus string

const (
	// StatusPending — файл добавлен в очередь, загрузка не начата.
	StatusPending DocumentStatus = "pending"
	// StatusProcessing — идёт загрузка и извлечение метаданных.
	StatusProcessing DocumentStatus = "processing"
	// StatusExtracted — метаданные извлечены, документ ожидает проверки/фиксации.
	StatusExtracted DocumentStatus = "extracted"
	// StatusCompleted — метаданные зафиксированы в backend.
	StatusCompleted DocumentStatus = "completed"
	// StatusError — загрузка или фиксация завершились ошибкой.
	StatusError DocumentStatus = "error"
)

// Vessel — судно из справочника backend (vessel picker).
type Vessel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	IMO  string `json:"imo,omitempty"`
	Flag string `json:"flag,omitempty"`
}

// FileRef — ссылка на локальный файл, выбранный для загрузки.
// Ровно один FileRef на сессию (или на запись DocumentFile в batch-режиме).
type FileRef struct {
	// Path — абсолютный путь к файлу на диске.
	Path string
	// Name — исходное имя файла (с расширением).
	Name string
	// Size — размер файла в байтах.
	Size int64
	// ContentType — MIME-тип, определённый по содержимому.
	ContentType string
	// Checksum — SHA-256 содержимого (hex), для дедупликации в журнале.
	Checksum string
}

// TitleFromName возвращает имя файла без расширения —
// значение по умолчанию для заголовка документа.
func (f FileRef) TitleFromName() string {
	return strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
}

// ExtractedMetadata — структурированные поля, возвращённые AI-извлечением
// backend после загрузки. Даты приходят строками в формате DD/MM/YYYY.
// Клиент никогда не изменяет эти поля — только читает для заполнения формы.
type ExtractedMetadata struct {
	DocumentType   string `json:"documentType,omitempty"`
	Issuer         string `json:"issuer,omitempty"`
	DocumentNumber string `json:"documentNumber,omitempty"`
	IssueDate      string `json:"issueDate,omitempty"`
	ExpiryDate     string `json:"expiryDate,omitempty"`
}

// FormState — редактируемая проекция метаданных документа.
// Именно эти значения подтверждаются пользователем и фиксируются
// на шаге SAVING.
type FormState struct {
	// Title — заголовок документа (по умолчанию — имя файла без расширения).
	Title string
	// DocumentType — тип документа (например, "Safety Management Certificate (SMC)").
	DocumentType string
	// IssuingAuthority — орган, выдавший документ.
	IssuingAuthority string
	// DocumentNumber — номер сертификата/документа.
	DocumentNumber string
	// IssueDate — дата выдачи. nil — не заполнена.
	IssueDate *time.Time
	// ExpiryDate — дата истечения. nil — не заполнена.
	ExpiryDate *time.Time
	// IsPermanent — бессрочный документ. true ⇒ ExpiryDate не фиксируется.
	IsPermanent bool
	// PermanentLocked — признак IsPermanent заблокирован для редактирования
	// (не-сертификаты всегда бессрочные).
	PermanentLocked bool
}

// Complete — предикат полноты формы, открывающий переход REVIEW → SAVING.
// Требуются: заголовок, тип, орган выдачи, дата выдачи и
// (бессрочность ИЛИ дата истечения).
func (f FormState) Complete() bool {
	if f.Title == "" || f.DocumentType == "" || f.IssuingAuthority == "" {
		return false
	}
	if f.IssueDate == nil {
		return false
	}
	return f.IsPermanent || f.ExpiryDate != nil
}

// EffectiveExpiry возвращает дату истечения для фиксации.
// Бессрочный документ всегда фиксируется без даты истечения,
// независимо от значения в форме.
func (f FormState) EffectiveExpiry() *time.Time {
	if f.IsPermanent {
		return nil
	}
	return f.ExpiryDate
}

// DocumentRecord — запись документа, созданная backend после успешной
// загрузки. ID назначается сервером ровно один раз и далее неизменен;
// остальные поля обновляются при фиксации метаданных.
type DocumentRecord struct {
	ID           string `json:"id"`
	VesselID     string `json:"vesselId,omitempty"`
	Title        string `json:"title,omitempty"`
	DocumentType string `json:"documentType,omitempty"`
	Issuer       string `json:"issuer,omitempty"`
	// FilePath — путь файла в хранилище backend (для preview URL).
	FilePath string `json:"file_path,omitempty"`
}

// DocumentFile — элемент batch-очереди: один файл со своим состоянием
// загрузки. IsSelected управляет адресацией batch-редактирования.
type DocumentFile struct {
	// ID — локальный идентификатор элемента очереди.
	ID string
	// File — локальный файл (ровно один на запись).
	File FileRef
	// VesselID — судно-владелец.
	VesselID string
	// Status — статус обработки.
	Status DocumentStatus
	// IsSelected — элемент выбран для batch-редактирования.
	IsSelected bool
	// Form — редактируемые метаданные.
	Form FormState
	// Record — запись backend (после успешной загрузки).
	Record *DocumentRecord
	// Extracted — результат AI-извлечения (после успешной загрузки).
	Extracted *ExtractedMetadata
	// Err — текст последней ошибки (для Status == error).
	Err string
}
