// Пакет validate — локальная проверка файла перед загрузкой.
//
// Отсекает заведомо непригодные файлы до сетевой мутации: лишний
// размер, неподдерживаемый формат, повреждённый PDF. Побочный продукт
// проверки — FileRef с MIME-типом и контрольной суммой SHA-256
// для дедупликации в журнале.
package validate

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	pdf "github.com/ledongthuc/pdf"

	"github.com/bigkaa/marinedocs/upload-module/internal/domain/model"
)

// MaxFileSize — предельный размер загружаемого файла (10 MiB).
const MaxFileSize = 10 << 20

// Коды ошибок валидации.
const (
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeUnsupportedType = "UNSUPPORTED_TYPE"
	CodeCorruptFile     = "CORRUPT_FILE"
	CodeFileUnreadable  = "FILE_UNREADABLE"
)

// allowedExtensions — поддерживаемые расширения и ожидаемые MIME-типы.
var allowedExtensions = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// ValidationError — отказ локальной проверки файла.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// File проверяет локальный файл и возвращает FileRef для загрузки.
//
// Проверки:
//   - файл существует и читается
//   - размер не превышает MaxFileSize
//   - расширение из списка поддерживаемых (pdf, jpg, jpeg, png)
//   - MIME-тип по содержимому согласуется с расширением
//   - PDF открывается парсером (повреждённый файл отсекается локально)
func File(path string) (*model.FileRef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &ValidationError{
			Code:    CodeFileUnreadable,
			Message: fmt.Sprintf("файл недоступен: %v", err),
		}
	}
	if info.IsDir() {
		return nil, &ValidationError{
			Code:    CodeFileUnreadable,
			Message: fmt.Sprintf("%s — каталог, не файл", path),
		}
	}
	if info.Size() > MaxFileSize {
		return nil, &ValidationError{
			Code: CodeFileTooLarge,
			Message: fmt.Sprintf("размер файла %d байт превышает предел %d байт",
				info.Size(), MaxFileSize),
		}
	}

	ext := strings.ToLower(filepath.Ext(path))
	expectedMIME, ok := allowedExtensions[ext]
	if !ok {
		return nil, &ValidationError{
			Code:    CodeUnsupportedType,
			Message: fmt.Sprintf("расширение %q не поддерживается (допустимы pdf, jpg, jpeg, png)", ext),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ValidationError{
			Code:    CodeFileUnreadable,
			Message: fmt.Sprintf("чтение файла: %v", err),
		}
	}

	// MIME по содержимому: расширение легко подделать
	sniffed := http.DetectContentType(data)
	if !mimeMatches(sniffed, expectedMIME) {
		return nil, &ValidationError{
			Code: CodeUnsupportedType,
			Message: fmt.Sprintf("содержимое файла (%s) не соответствует расширению %s",
				sniffed, ext),
		}
	}

	if ext == ".pdf" {
		if err := preflightPDF(data); err != nil {
			return nil, &ValidationError{
				Code:    CodeCorruptFile,
				Message: fmt.Sprintf("PDF повреждён: %v", err),
			}
		}
	}

	sum := sha256.Sum256(data)

	return &model.FileRef{
		Path:        path,
		Name:        filepath.Base(path),
		Size:        info.Size(),
		ContentType: expectedMIME,
		Checksum:    hex.EncodeToString(sum[:]),
	}, nil
}

// Open открывает проверенный файл для передачи в API-клиент.
func Open(ref *model.FileRef) (io.ReadCloser, error) {
	f, err := os.Open(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("открытие файла %s: %w", ref.Path, err)
	}
	return f, nil
}

// mimeMatches сверяет MIME-тип, определённый по содержимому,
// с ожидаемым для расширения. DetectContentType может добавлять
// параметры (charset), сверяется только базовый тип.
func mimeMatches(sniffed, expected string) bool {
	base := sniffed
	if idx := strings.Index(sniffed, ";"); idx >= 0 {
		base = sniffed[:idx]
	}
	return strings.EqualFold(strings.TrimSpace(base), expected)
}

// preflightPDF открывает PDF парсером без извлечения текста.
// Отсекает файлы, которые backend всё равно не сможет обработать.
func preflightPDF(data []byte) error {
	reader := bytes.NewReader(data)
	doc, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return err
	}
	if doc.NumPage() < 1 {
		return fmt.Errorf("документ не содержит страниц")
	}
	return nil
}
