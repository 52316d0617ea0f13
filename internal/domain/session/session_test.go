package session

import (
	"errors"
	"testing"
	"time"

	"github.com/bigkaa/marinedocs/upload-module/internal/domain/model"
)

// testFile возвращает валидный FileRef для тестов.
func testFile() model.FileRef {
	return model.FileRef{
		Path:        "/tmp/smc.pdf",
		Name:        "smc.pdf",
		Size:        1258291,
		ContentType: "application/pdf",
	}
}

// testRecord возвращает запись backend для тестов.
func testRecord() model.DocumentRecord {
	return model.DocumentRecord{ID: "doc-001", FilePath: "vessels/v1/smc.pdf"}
}

// completeForm возвращает форму, удовлетворяющую предикату полноты.
func completeForm() model.FormState {
	issued := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
	expiry := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)
	return model.FormState{
		Title:            "smc",
		DocumentType:     "Safety Management Certificate (SMC)",
		IssuingAuthority: "Panama Maritime Authority",
		IssueDate:        &issued,
		ExpiryDate:       &expiry,
	}
}

// advanceToReview проводит сессию до шага review.
func advanceToReview(t *testing.T, s *Session) {
	t.Helper()
	if err := s.SelectFile("v1", testFile()); err != nil {
		t.Fatalf("SelectFile: неожиданная ошибка: %v", err)
	}
	if err := s.BeginUpload(); err != nil {
		t.Fatalf("BeginUpload: неожиданная ошибка: %v", err)
	}
	if err := s.CompleteUpload(testRecord(), nil, completeForm()); err != nil {
		t.Fatalf("CompleteUpload: неожиданная ошибка: %v", err)
	}
}

// TestNew проверяет начальное состояние сессии.
func TestNew(t *testing.T) {
	s := New()

	if s.Step() != StepSelect {
		t.Errorf("начальный шаг = %q, ожидался %q", s.Step(), StepSelect)
	}
	if s.Record() != nil {
		t.Error("новая сессия не должна иметь записи backend")
	}
	if s.Progress() != 0 {
		t.Errorf("начальный прогресс = %d, ожидался 0", s.Progress())
	}
}

// TestHappyPath проверяет полный успешный проход:
// select → uploading → review → saving → done.
func TestHappyPath(t *testing.T) {
	s := New()
	advanceToReview(t, s)

	if s.Step() != StepReview {
		t.Fatalf("шаг = %q, ожидался review", s.Step())
	}
	if err := s.BeginSave(); err != nil {
		t.Fatalf("BeginSave: неожиданная ошибка: %v", err)
	}
	if err := s.CompleteSave(); err != nil {
		t.Fatalf("CompleteSave: неожиданная ошибка: %v", err)
	}
	if s.Step() != StepDone {
		t.Errorf("шаг = %q, ожидался done", s.Step())
	}
}

// TestReachability_NoShortcuts проверяет, что done и saving недостижимы
// напрямую из select, а error — только из uploading.
func TestReachability_NoShortcuts(t *testing.T) {
	s := New()

	// select → done и select → saving запрещены
	for _, target := range []Step{StepDone, StepSaving, StepReview} {
		if s.CanTransitionTo(target) {
			t.Errorf("select → %s не должен быть допустим", target)
		}
	}

	// BeginSave из select должен вернуть ошибку перехода
	if err := s.SelectFile("v1", testFile()); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	err := s.BeginSave()
	if err == nil {
		t.Fatal("BeginSave из select должен вернуть ошибку")
	}
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("ожидалась TransitionError, получена %T", err)
	}
	if te.Code != CodeInvalidTransition {
		t.Errorf("ожидался код %s, получен %q", CodeInvalidTransition, te.Code)
	}

	// FailUpload из select запрещён — error достижим только из uploading
	if err := s.FailUpload("boom"); err == nil {
		t.Error("FailUpload из select должен вернуть ошибку")
	}
}

// TestBeginUpload_RequiresFileAndVessel проверяет guard выхода из select.
func TestBeginUpload_RequiresFileAndVessel(t *testing.T) {
	s := New()

	err := s.BeginUpload()
	if err == nil {
		t.Fatal("BeginUpload без файла должен вернуть ошибку")
	}
	var te *TransitionError
	if !errors.As(err, &te) || te.Code != CodeValidationFailed {
		t.Errorf("ожидался код %s, получено: %v", CodeValidationFailed, err)
	}

	if err := s.SelectFile("", testFile()); err == nil {
		t.Error("SelectFile без судна должен вернуть ошибку")
	}
}

// TestUploadFailure_ResetsToSelect проверяет цикл uploading → error → select.
// После ошибки загрузки клиент не хранит частичную запись документа.
func TestUploadFailure_ResetsToSelect(t *testing.T) {
	s := New()
	if err := s.SelectFile("v1", testFile()); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	if err := s.BeginUpload(); err != nil {
		t.Fatalf("BeginUpload: %v", err)
	}

	if err := s.FailUpload("HTTP 500"); err != nil {
		t.Fatalf("FailUpload: %v", err)
	}
	if s.Step() != StepError {
		t.Errorf("шаг = %q, ожидался error", s.Step())
	}
	if s.Err() != "HTTP 500" {
		t.Errorf("Err() = %q, ожидался %q", s.Err(), "HTTP 500")
	}
	if s.Record() != nil {
		t.Error("после ошибки загрузки запись backend должна быть очищена")
	}

	if err := s.AcknowledgeError(); err != nil {
		t.Fatalf("AcknowledgeError: %v", err)
	}
	if s.Step() != StepSelect {
		t.Errorf("шаг = %q, ожидался select", s.Step())
	}
	if s.Err() != "" {
		t.Error("после подтверждения текст ошибки должен быть очищен")
	}
}

// TestSaveFailure_StaysInReview проверяет, что неудача фиксации возвращает
// в review с сохранением правок и идентификатора записи.
func TestSaveFailure_StaysInReview(t *testing.T) {
	s := New()
	advanceToReview(t, s)

	if err := s.BeginSave(); err != nil {
		t.Fatalf("BeginSave: %v", err)
	}
	if err := s.FailSave("Document type required"); err != nil {
		t.Fatalf("FailSave: %v", err)
	}

	if s.Step() != StepReview {
		t.Errorf("шаг = %q, ожидался review", s.Step())
	}
	if s.Err() != "Document type required" {
		t.Errorf("Err() = %q, ожидался текст ошибки сервера", s.Err())
	}
	rec := s.Record()
	if rec == nil || rec.ID != "doc-001" {
		t.Error("идентификатор записи должен сохраниться для повтора")
	}
	form := s.Form()
	if form.DocumentType != "Safety Management Certificate (SMC)" {
		t.Error("правки формы должны сохраниться для повтора")
	}

	// Повтор фиксации возможен без повторной загрузки
	if err := s.BeginSave(); err != nil {
		t.Fatalf("повторный BeginSave: %v", err)
	}
	if err := s.CompleteSave(); err != nil {
		t.Fatalf("CompleteSave после повтора: %v", err)
	}
	if s.Step() != StepDone {
		t.Errorf("шаг = %q, ожидался done", s.Step())
	}
}

// TestCompletenessGate перебирает комбинации полей формы и сверяет
// guard BeginSave с предикатом полноты.
func TestCompletenessGate(t *testing.T) {
	date := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for mask := 0; mask < 64; mask++ {
		form := model.FormState{}
		if mask&1 != 0 {
			form.Title = "doc"
		}
		if mask&2 != 0 {
			form.DocumentType = "SMC"
		}
		if mask&4 != 0 {
			form.IssuingAuthority = "PMA"
		}
		if mask&8 != 0 {
			form.IssueDate = &date
		}
		if mask&16 != 0 {
			form.IsPermanent = true
		}
		if mask&32 != 0 {
			form.ExpiryDate = &date
		}

		want := form.Title != "" && form.DocumentType != "" && form.IssuingAuthority != "" &&
			form.IssueDate != nil && (form.IsPermanent || form.ExpiryDate != nil)

		s := New()
		advanceToReview(t, s)
		if err := s.UpdateForm(func(f *model.FormState) { *f = form }); err != nil {
			t.Fatalf("UpdateForm: %v", err)
		}

		err := s.BeginSave()
		if want && err != nil {
			t.Errorf("mask=%06b: форма полная, но BeginSave вернул ошибку: %v", mask, err)
		}
		if !want {
			if err == nil {
				t.Errorf("mask=%06b: форма неполная, но BeginSave прошёл", mask)
				continue
			}
			var te *TransitionError
			if !errors.As(err, &te) || te.Code != CodeIncompleteForm {
				t.Errorf("mask=%06b: ожидался код %s, получено: %v", mask, CodeIncompleteForm, err)
			}
		}
	}
}

// TestRecordID_SetOnce проверяет, что идентификатор записи backend
// устанавливается не более одного раза за сессию.
func TestRecordID_SetOnce(t *testing.T) {
	s := New()
	advanceToReview(t, s)

	// Попытка подменить идентификатор — ошибка RECORD_IMMUTABLE
	err := s.CompleteUpload(model.DocumentRecord{ID: "doc-999"}, nil, completeForm())
	if err == nil {
		t.Fatal("повторный CompleteUpload с другим ID должен вернуть ошибку")
	}
	var te *TransitionError
	if !errors.As(err, &te) || te.Code != CodeRecordImmutable {
		t.Errorf("ожидался код %s, получено: %v", CodeRecordImmutable, err)
	}

	rec := s.Record()
	if rec == nil || rec.ID != "doc-001" {
		t.Errorf("Record().ID = %v, ожидался doc-001", rec)
	}
}

// TestCompleteUpload_RequiresID проверяет, что пустой идентификатор
// от backend отвергается.
func TestCompleteUpload_RequiresID(t *testing.T) {
	s := New()
	if err := s.SelectFile("v1", testFile()); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	if err := s.BeginUpload(); err != nil {
		t.Fatalf("BeginUpload: %v", err)
	}

	if err := s.CompleteUpload(model.DocumentRecord{}, nil, model.FormState{}); err == nil {
		t.Error("CompleteUpload без ID должен вернуть ошибку")
	}
}

// TestClose_IgnoresLateResponses проверяет guard закрытой сессии:
// поздний ответ сети после Close не меняет состояние.
func TestClose_IgnoresLateResponses(t *testing.T) {
	s := New()
	if err := s.SelectFile("v1", testFile()); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	if err := s.BeginUpload(); err != nil {
		t.Fatalf("BeginUpload: %v", err)
	}

	s.Close()

	err := s.CompleteUpload(testRecord(), nil, completeForm())
	if err == nil {
		t.Fatal("CompleteUpload после Close должен вернуть ошибку")
	}
	var te *TransitionError
	if !errors.As(err, &te) || te.Code != CodeSessionClosed {
		t.Errorf("ожидался код %s, получено: %v", CodeSessionClosed, err)
	}

	// Прогресс после закрытия тоже не обновляется
	s.SetProgress(50)
	if s.Progress() != 0 {
		t.Errorf("прогресс после Close = %d, ожидался 0", s.Progress())
	}
	if s.Record() != nil {
		t.Error("закрытая сессия не должна принимать запись backend")
	}
}

// TestProgress_Monotonic проверяет монотонность прогресса в пределах фазы
// и сброс при входе в новую фазу.
func TestProgress_Monotonic(t *testing.T) {
	s := New()
	if err := s.SelectFile("v1", testFile()); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	if err := s.BeginUpload(); err != nil {
		t.Fatalf("BeginUpload: %v", err)
	}

	s.SetProgress(40)
	s.SetProgress(20) // откат игнорируется
	if s.Progress() != 40 {
		t.Errorf("прогресс = %d, ожидался 40", s.Progress())
	}
	s.SetProgress(150) // ограничение сверху
	if s.Progress() != 100 {
		t.Errorf("прогресс = %d, ожидался 100", s.Progress())
	}

	if err := s.CompleteUpload(testRecord(), nil, completeForm()); err != nil {
		t.Fatalf("CompleteUpload: %v", err)
	}
	if err := s.BeginSave(); err != nil {
		t.Fatalf("BeginSave: %v", err)
	}
	// Новая фаза — прогресс сброшен
	if s.Progress() != 0 {
		t.Errorf("прогресс после входа в saving = %d, ожидался 0", s.Progress())
	}
}

// TestUpdateForm_PermanentLocked проверяет, что блокировка бессрочности
// не снимается правками пользователя.
func TestUpdateForm_PermanentLocked(t *testing.T) {
	s := New()
	if err := s.SelectFile("v1", testFile()); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	if err := s.BeginUpload(); err != nil {
		t.Fatalf("BeginUpload: %v", err)
	}

	defaults := model.FormState{
		Title:           "crew list",
		DocumentType:    "Crew List",
		IsPermanent:     true,
		PermanentLocked: true,
	}
	if err := s.CompleteUpload(testRecord(), nil, defaults); err != nil {
		t.Fatalf("CompleteUpload: %v", err)
	}

	if err := s.UpdateForm(func(f *model.FormState) { f.IsPermanent = false }); err != nil {
		t.Fatalf("UpdateForm: %v", err)
	}
	if !s.Form().IsPermanent {
		t.Error("IsPermanent не должен сбрасываться при PermanentLocked")
	}
}

// TestReset проверяет полную очистку сессии.
func TestReset(t *testing.T) {
	s := New()
	advanceToReview(t, s)

	s.Reset()

	if s.Step() != StepSelect {
		t.Errorf("шаг после Reset = %q, ожидался select", s.Step())
	}
	if s.File() != nil || s.Record() != nil || s.Extracted() != nil {
		t.Error("Reset должен очистить файл, запись и метаданные")
	}
	if len(s.History()) != 0 {
		t.Error("Reset должен очистить историю переходов")
	}
}

// TestHistory проверяет запись переходов.
func TestHistory(t *testing.T) {
	s := New()
	advanceToReview(t, s)

	h := s.History()
	if len(h) != 2 {
		t.Fatalf("len(History) = %d, ожидалось 2", len(h))
	}
	if h[0].From != StepSelect || h[0].To != StepUploading {
		t.Errorf("первый переход %s → %s, ожидался select → uploading", h[0].From, h[0].To)
	}
	if h[1].From != StepUploading || h[1].To != StepReview {
		t.Errorf("второй переход %s → %s, ожидался uploading → review", h[1].From, h[1].To)
	}
}
