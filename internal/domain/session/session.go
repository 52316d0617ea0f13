// Пакет session — конечный автомат загрузки одного документа.
//
// Жизненный цикл: select → uploading → review → saving → done.
// Ошибки двух фаз обрабатываются по-разному:
//   - uploading → error — бинарная загрузка дорогая, повтор только с нуля
//     (error → select по подтверждению пользователя)
//   - saving → review — фиксация метаданных дешёвая, повтор без потери
//     правок и уже загруженного файла
//
// Потокобезопасен через sync.Mutex.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/bigkaa/marinedocs/upload-module/internal/domain/model"
)

// Step — шаг сессии загрузки.
type Step string

const (
	// StepSelect — выбор судна и файла (начальный шаг).
	StepSelect Step = "select"
	// StepUploading — бинарная загрузка и AI-извлечение на backend.
	StepUploading Step = "uploading"
	// StepReview — проверка и правка извлечённых метаданных.
	StepReview Step = "review"
	// StepSaving — фиксация метаданных (PUT).
	StepSaving Step = "saving"
	// StepDone — документ зафиксирован (конечный шаг).
	StepDone Step = "done"
	// StepError — загрузка завершилась ошибкой.
	StepError Step = "error"
)

// Коды TransitionError.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeIncompleteForm    = "INCOMPLETE_FORM"
	CodeSessionClosed     = "SESSION_CLOSED"
	CodeRecordImmutable   = "RECORD_IMMUTABLE"
)

// validTransitions — матрица допустимых переходов.
// done — конечный шаг: «загрузить ещё» создаёт новую сессию.
var validTransitions = map[Step]map[Step]bool{
	StepSelect:    {StepUploading: true},
	StepUploading: {StepReview: true, StepError: true},
	StepReview:    {StepSaving: true},
	StepSaving:    {StepDone: true, StepReview: true}, // неудача фиксации возвращает в review
	StepDone:      {},
	StepError:     {StepSelect: true},
}

// TransitionRecord — запись о переходе между шагами.
type TransitionRecord struct {
	From      Step      `json:"from"`
	To        Step      `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// TransitionError — ошибка перехода или нарушения guard-условия.
type TransitionError struct {
	Code    string // машиночитаемый код
	Message string // человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Session — сессия загрузки одного документа.
// Создаётся при открытии сценария загрузки, сбрасывается через Reset,
// закрывается через Close (поздние ответы сети игнорируются).
type Session struct {
	mu sync.Mutex

	step      Step
	vesselID  string
	file      *model.FileRef
	form      model.FormState
	record    *model.DocumentRecord
	extracted *model.ExtractedMetadata
	errMsg    string
	progress  int
	closed    bool
	history   []TransitionRecord
}

// New создаёт сессию на шаге select.
func New() *Session {
	return &Session{
		step:    StepSelect,
		history: make([]TransitionRecord, 0),
	}
}

// Step возвращает текущий шаг.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// CanTransitionTo проверяет, допустим ли переход на указанный шаг.
// Не проверяет guard-условия (валидность файла, полноту формы).
func (s *Session) CanTransitionTo(target Step) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return validTransitions[s.step][target]
}

// SelectFile привязывает судно и файл к сессии (шаг select).
// Повторный вызов заменяет предыдущий выбор и очищает устаревшие
// извлечённые метаданные прошлой попытки.
func (s *Session) SelectFile(vesselID string, file model.FileRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpen(); err != nil {
		return err
	}
	if s.step != StepSelect {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("выбор файла допустим только на шаге select, текущий: %s", s.step),
		}
	}
	if vesselID == "" {
		return &TransitionError{Code: CodeValidationFailed, Message: "не указано судно"}
	}
	if file.Path == "" || file.Name == "" {
		return &TransitionError{Code: CodeValidationFailed, Message: "не выбран файл"}
	}

	s.vesselID = vesselID
	s.file = &file
	s.extracted = nil
	s.record = nil
	s.errMsg = ""
	s.form = model.FormState{Title: file.TitleFromName()}
	return nil
}

// BeginUpload — переход select → uploading.
// Guard: файл и судно выбраны. Сбрасывает прогресс фазы.
func (s *Session) BeginUpload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpen(); err != nil {
		return err
	}
	if s.file == nil || s.vesselID == "" {
		return &TransitionError{Code: CodeValidationFailed, Message: "файл и судно должны быть выбраны до загрузки"}
	}
	if err := s.transition(StepUploading); err != nil {
		return err
	}
	s.progress = 0
	s.errMsg = ""
	return nil
}

// CompleteUpload применяет результат успешной загрузки:
// запись backend, извлечённые метаданные и значения формы по умолчанию.
// Переход uploading → review. ID записи устанавливается не более одного
// раза за сессию.
func (s *Session) CompleteUpload(record model.DocumentRecord, extracted *model.ExtractedMetadata, defaults model.FormState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpen(); err != nil {
		return err
	}
	if record.ID == "" {
		return &TransitionError{Code: CodeValidationFailed, Message: "backend не вернул идентификатор документа"}
	}
	if s.record != nil && s.record.ID != record.ID {
		return &TransitionError{
			Code:    CodeRecordImmutable,
			Message: fmt.Sprintf("идентификатор документа уже установлен: %s", s.record.ID),
		}
	}
	if err := s.transition(StepReview); err != nil {
		return err
	}

	s.record = &record
	s.extracted = extracted
	// Заголовок остаётся пользовательским, если он уже задан
	if defaults.Title == "" {
		defaults.Title = s.form.Title
	}
	s.form = defaults
	s.progress = 100
	return nil
}

// FailUpload — переход uploading → error.
// Частичная запись документа не сохраняется на стороне клиента.
func (s *Session) FailUpload(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.transition(StepError); err != nil {
		return err
	}
	s.record = nil
	s.extracted = nil
	s.errMsg = message
	return nil
}

// AcknowledgeError — подтверждение ошибки пользователем, переход error → select.
func (s *Session) AcknowledgeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.transition(StepSelect); err != nil {
		return err
	}
	s.errMsg = ""
	s.progress = 0
	return nil
}

// UpdateForm применяет правки пользователя к форме.
// Допустимо на шагах select и review (до начала фиксации).
func (s *Session) UpdateForm(mutate func(*model.FormState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpen(); err != nil {
		return err
	}
	if s.step != StepSelect && s.step != StepReview {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("правка формы недопустима на шаге %s", s.step),
		}
	}
	mutate(&s.form)
	// Блокировка бессрочности не снимается правками
	if s.form.PermanentLocked {
		s.form.IsPermanent = true
	}
	return nil
}

// BeginSave — переход review → saving.
// Guard: предикат полноты формы (title, type, authority, issueDate,
// бессрочность или expiryDate).
func (s *Session) BeginSave() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpen(); err != nil {
		return err
	}
	if s.step == StepReview && !s.form.Complete() {
		return &TransitionError{Code: CodeIncompleteForm, Message: "форма заполнена не полностью"}
	}
	if err := s.transition(StepSaving); err != nil {
		return err
	}
	s.progress = 0
	s.errMsg = ""
	return nil
}

// CompleteSave — переход saving → done.
func (s *Session) CompleteSave() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpen(); err != nil {
		return err
	}
	return s.transition(StepDone)
}

// FailSave — неудача фиксации, переход saving → review.
// Правки формы и идентификатор записи сохраняются для повтора.
func (s *Session) FailSave(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.transition(StepReview); err != nil {
		return err
	}
	s.errMsg = message
	return nil
}

// SetProgress обновляет косметический прогресс текущей фазы.
// Значение монотонно не убывает в пределах фазы и ограничено [0, 100].
func (s *Session) SetProgress(p int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if p < s.progress {
		return
	}
	if p > 100 {
		p = 100
	}
	s.progress = p
}

// Progress возвращает текущий прогресс (0-100).
func (s *Session) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// VesselID возвращает идентификатор судна-владельца.
func (s *Session) VesselID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vesselID
}

// File возвращает выбранный файл (nil до SelectFile).
func (s *Session) File() *model.FileRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	f := *s.file
	return &f
}

// Form возвращает текущее состояние формы (копия).
func (s *Session) Form() model.FormState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form
}

// Record возвращает запись backend (nil до успешной загрузки).
func (s *Session) Record() *model.DocumentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return nil
	}
	r := *s.record
	return &r
}

// Extracted возвращает извлечённые метаданные (nil до успешной загрузки).
func (s *Session) Extracted() *model.ExtractedMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extracted
}

// Err возвращает текст последней ошибки ("" — ошибки нет).
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// History возвращает историю переходов (копия).
func (s *Session) History() []TransitionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]TransitionRecord, len(s.history))
	copy(result, s.history)
	return result
}

// Reset возвращает сессию в начальное состояние: все изменяемые поля
// очищаются, привязка к файлу освобождается. Вне backend ничего
// не сохраняется.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.step = StepSelect
	s.vesselID = ""
	s.file = nil
	s.form = model.FormState{}
	s.record = nil
	s.extracted = nil
	s.errMsg = ""
	s.progress = 0
	s.history = s.history[:0]
}

// Close закрывает сессию. Все последующие мутации возвращают
// SESSION_CLOSED — поздний ответ сети не может «воскресить» сессию.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed сообщает, закрыта ли сессия.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// transition выполняет переход по матрице. Вызывается под мьютексом.
func (s *Session) transition(target Step) error {
	if !validTransitions[s.step][target] {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("переход %s → %s недопустим", s.step, target),
		}
	}
	s.history = append(s.history, TransitionRecord{
		From:      s.step,
		To:        target,
		Timestamp: time.Now().UTC(),
	})
	s.step = target
	return nil
}

// ensureOpen возвращает ошибку для закрытой сессии. Вызывается под мьютексом.
func (s *Session) ensureOpen() error {
	if s.closed {
		return &TransitionError{Code: CodeSessionClosed, Message: "сессия закрыта"}
	}
	return nil
}
