package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/marinedocs/upload-module/internal/domain/model"
)

// journalColumns — список столбцов таблицы upload_journal для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const journalColumns = `id, document_id, vessel_id, title, document_type,
	file_name, file_size, checksum, uploaded_at`

// JournalRepository — интерфейс локального журнала загрузок.
type JournalRepository interface {
	// Record добавляет запись о зафиксированной загрузке.
	// ID и UploadedAt заполняются при вставке, если пустые.
	Record(ctx context.Context, entry *model.JournalEntry) error
	// ExistsByChecksum проверяет, загружался ли файл с такой контрольной
	// суммой для указанного судна (дедупликация batch/watch).
	ExistsByChecksum(ctx context.Context, vesselID, checksum string) (bool, error)
	// ListRecent возвращает последние записи журнала (новые первыми).
	ListRecent(ctx context.Context, limit int) ([]*model.JournalEntry, error)
}

// journalRepo — реализация JournalRepository через pgx.
type journalRepo struct {
	db DBTX
}

// NewJournalRepository создаёт репозиторий журнала загрузок.
func NewJournalRepository(db DBTX) JournalRepository {
	return &journalRepo{db: db}
}

// Record добавляет запись о зафиксированной загрузке.
func (r *journalRepo) Record(ctx context.Context, entry *model.JournalEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.UploadedAt.IsZero() {
		entry.UploadedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO upload_journal (id, document_id, vessel_id, title, document_type,
			file_name, file_size, checksum, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		entry.ID, entry.DocumentID, entry.VesselID, entry.Title, entry.DocumentType,
		entry.FileName, entry.FileSize, entry.Checksum, entry.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи в журнал: %w", err)
	}
	return nil
}

// ExistsByChecksum проверяет наличие загрузки по контрольной сумме.
func (r *journalRepo) ExistsByChecksum(ctx context.Context, vesselID, checksum string) (bool, error) {
	query := `SELECT 1 FROM upload_journal WHERE vessel_id = $1 AND checksum = $2 LIMIT 1`

	var one int
	err := r.db.QueryRow(ctx, query, vesselID, checksum).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки дубликата: %w", err)
	}
	return true, nil
}

// ListRecent возвращает последние записи журнала (новые первыми).
func (r *journalRepo) ListRecent(ctx context.Context, limit int) ([]*model.JournalEntry, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM upload_journal ORDER BY uploaded_at DESC LIMIT $1`,
		journalColumns,
	)

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала: %w", err)
	}
	defer rows.Close()

	var result []*model.JournalEntry
	for rows.Next() {
		e := &model.JournalEntry{}
		if err := rows.Scan(
			&e.ID, &e.DocumentID, &e.VesselID, &e.Title, &e.DocumentType,
			&e.FileName, &e.FileSize, &e.Checksum, &e.UploadedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи журнала: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации журнала: %w", err)
	}

	return result, nil
}
