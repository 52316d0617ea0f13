// Пакет reconcile — сведение извлечённых метаданных в значения формы
// по умолчанию.
//
// Чистые функции без побочных эффектов: повторный вызов на тех же
// входных данных всегда даёт тот же результат. Ошибки разбора дат
// никогда не пробрасываются — нераспознанная дата превращается в nil,
// и поле остаётся для ручного заполнения.
package reconcile

import (
	"strings"
	"time"

	"github.com/bigkaa/marinedocs/upload-module/internal/domain/model"
)

// dateLayouts — форматы дат от AI-извлечения в порядке приоритета.
// Морской стандарт — день первым (DD/MM/YYYY).
var dateLayouts = []string{
	"02/01/2006",
	"2006-01-02",
	"02.01.2006",
	"02-01-2006",
	"2 January 2006",
	"January 2, 2006",
}

// certificateKeywords — маркеры сертификатных типов документов.
// Только сертификаты имеют осмысленный срок действия.
var certificateKeywords = []string{
	"certificate",
	"cert",
	"smc",
	"doc",
	"iopp",
	"issc",
	"mlc",
	"safety management",
	"document of compliance",
	"classification",
	"load line",
	"tonnage",
	"registry",
	"security",
	"pollution",
}

// statutoryCategory — категория backend, означающая сертификат
// независимо от типа документа.
const statutoryCategory = "statutory"

// ParseExtractedDate разбирает строку даты от AI-извлечения.
// Возвращает nil для пустой или нераспознанной строки — никогда
// не возвращает ошибку.
func ParseExtractedDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// IsCertificateDocument классифицирует документ как сертификат.
// Маркерные слова ищутся и в типе документа, и в категории backend;
// категория "statutory" означает сертификат сама по себе.
func IsCertificateDocument(documentType, category string) bool {
	if strings.EqualFold(strings.TrimSpace(category), statutoryCategory) {
		return true
	}
	return containsCertificateKeyword(documentType) || containsCertificateKeyword(category)
}

// containsCertificateKeyword проверяет строку на маркеры сертификата.
func containsCertificateKeyword(value string) bool {
	lower := strings.ToLower(value)
	for _, kw := range certificateKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Defaults сводит извлечённые метаданные в значения формы по умолчанию.
//
// Политика:
//   - не-сертификат ⇒ бессрочный, без даты истечения, переключатель
//     бессрочности заблокирован (только сертификаты истекают)
//   - сертификат с распознанной датой истечения ⇒ срочный, дата из извлечения
//   - сертификат без даты истечения ⇒ срочный, дата для ручного заполнения
//
// Остальные поля копируются из извлечения как есть; отсутствующие
// остаются пустыми для ручного ввода.
func Defaults(extracted *model.ExtractedMetadata, category string) model.FormState {
	form := model.FormState{}
	if extracted == nil {
		// Без извлечения документ считается не-сертификатом,
		// пока пользователь не укажет тип вручную
		form.IsPermanent = true
		return form
	}

	form.DocumentType = extracted.DocumentType
	form.IssuingAuthority = extracted.Issuer
	form.DocumentNumber = extracted.DocumentNumber
	form.IssueDate = ParseExtractedDate(extracted.IssueDate)

	if !IsCertificateDocument(extracted.DocumentType, category) {
		form.IsPermanent = true
		form.ExpiryDate = nil
		form.PermanentLocked = true
		return form
	}

	form.IsPermanent = false
	form.ExpiryDate = ParseExtractedDate(extracted.ExpiryDate)
	return form
}
