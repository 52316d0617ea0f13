package service

import (
	"sync"
	"testing"
	"time"
)

// progressRecorder собирает доставленные значения прогресса.
type progressRecorder struct {
	mu     sync.Mutex
	values []int
}

func (r *progressRecorder) record(p int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, p)
}

func (r *progressRecorder) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.values))
	copy(out, r.values)
	return out
}

// TestProgressEmulator_AdvancesToCeiling проверяет продвижение по таймеру
// и остановку на потолке до завершения загрузки.
func TestProgressEmulator_AdvancesToCeiling(t *testing.T) {
	rec := &progressRecorder{}
	em := NewProgressEmulator(rec.record)
	em.Start()
	defer em.Stop()

	// Достаточно тиков, чтобы упереться в потолок
	deadline := time.After(5 * time.Second)
	for em.Percent() < progressCeiling {
		select {
		case <-deadline:
			t.Fatalf("прогресс не достиг потолка: %d", em.Percent())
		case <-time.After(progressTick):
		}
	}

	// Ещё несколько тиков: выше потолка не растёт
	time.Sleep(3 * progressTick)
	if got := em.Percent(); got != progressCeiling {
		t.Errorf("Percent = %d, ожидался потолок %d", got, progressCeiling)
	}

	values := rec.snapshot()
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			t.Errorf("прогресс убывает: %v", values)
			break
		}
	}
}

// TestProgressEmulator_Finish проверяет финальное значение 100.
func TestProgressEmulator_Finish(t *testing.T) {
	rec := &progressRecorder{}
	em := NewProgressEmulator(rec.record)
	em.Start()

	time.Sleep(2 * progressTick)
	em.Finish()

	if got := em.Percent(); got != 100 {
		t.Errorf("Percent = %d, ожидалось 100", got)
	}
	values := rec.snapshot()
	if len(values) == 0 || values[len(values)-1] != 100 {
		t.Errorf("финальное значение = %v, ожидалось 100", values)
	}
}

// TestProgressEmulator_StopSilences проверяет, что после Stop
// обновления не доставляются.
func TestProgressEmulator_StopSilences(t *testing.T) {
	rec := &progressRecorder{}
	em := NewProgressEmulator(rec.record)
	em.Start()

	time.Sleep(2 * progressTick)
	em.Stop()
	count := len(rec.snapshot())

	time.Sleep(3 * progressTick)
	if got := len(rec.snapshot()); got != count {
		t.Errorf("после Stop доставлено ещё %d обновлений", got-count)
	}
}

// TestProgressEmulator_NoDeliveryAfterStopReturns проверяет, что
// обновление в полёте не доставляется после возврата из Stop:
// доставка и Stop сериализованы одной блокировкой.
func TestProgressEmulator_NoDeliveryAfterStopReturns(t *testing.T) {
	var mu sync.Mutex
	stopReturned := false

	em := NewProgressEmulator(func(int) {
		mu.Lock()
		defer mu.Unlock()
		if stopReturned {
			t.Error("обновление доставлено после возврата из Stop")
		}
	})

	// Продвигаем напрямую из параллельной горутины, чтобы состязание
	// со Stop не зависело от периода таймера
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			em.advance()
		}
	}()

	em.Stop()
	mu.Lock()
	stopReturned = true
	mu.Unlock()

	wg.Wait()

	// Прямой вызов после Stop тоже не доставляется
	em.advance()
}

// TestProgressEmulator_Idempotent проверяет повторные Stop/Finish.
func TestProgressEmulator_Idempotent(t *testing.T) {
	em := NewProgressEmulator(nil)
	em.Start()

	em.Stop()
	em.Stop()   // повторный Stop — no-op
	em.Finish() // Finish после Stop — no-op

	if got := em.Percent(); got == 100 {
		t.Error("Finish после Stop не должен выставлять 100")
	}
}

// TestProgressEmulator_FinishThenStop проверяет Stop после Finish.
func TestProgressEmulator_FinishThenStop(t *testing.T) {
	em := NewProgressEmulator(nil)
	em.Start()

	em.Finish()
	em.Stop() // no-op

	if got := em.Percent(); got != 100 {
		t.Errorf("Percent = %d, ожидалось 100", got)
	}
}
