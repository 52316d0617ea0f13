// progress.go — эмуляция прогресса загрузки.
// Backend не отдаёт реальный прогресс извлечения метаданных, поэтому
// индикатор продвигается по таймеру и упирается в потолок до прихода
// ответа. Завершение всегда выставляет 100.
package service

import (
	"sync"
	"time"
)

// Параметры эмуляции прогресса.
const (
	// progressTick — период продвижения индикатора.
	progressTick = 200 * time.Millisecond
	// progressStep — шаг продвижения за тик.
	progressStep = 10
	// progressCeiling — потолок эмуляции: дальше прогресс двигается
	// только реальным завершением загрузки.
	progressCeiling = 90
)

// ProgressFunc — получатель обновлений прогресса (0..100).
type ProgressFunc func(percent int)

// ProgressEmulator продвигает индикатор прогресса по таймеру.
// Значение монотонно растёт до потолка; Finish доводит до 100.
// После возврата из Stop/Finish обновления не доставляются: доставка
// выполняется под внутренней блокировкой, поэтому onProgress не должен
// вызывать методы эмулятора.
type ProgressEmulator struct {
	onProgress ProgressFunc

	mu      sync.Mutex
	percent int
	stopped bool
	done    chan struct{}
}

// NewProgressEmulator создаёт эмулятор. onProgress вызывается из
// фоновой горутины после Start.
func NewProgressEmulator(onProgress ProgressFunc) *ProgressEmulator {
	return &ProgressEmulator{
		onProgress: onProgress,
		done:       make(chan struct{}),
	}
}

// Start запускает продвижение индикатора. Повторный Start после
// Stop — no-op.
func (p *ProgressEmulator) Start() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	go p.run()
}

// run — цикл таймера. Завершается по Stop/Finish.
func (p *ProgressEmulator) run() {
	ticker := time.NewTicker(progressTick)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.advance()
		}
	}
}

// advance продвигает индикатор на шаг, не выходя за потолок.
// Доставка под блокировкой: Stop не вернётся, пока обновление в полёте,
// а после Stop обновления не начинаются.
func (p *ProgressEmulator) advance() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || p.percent >= progressCeiling {
		return
	}
	p.percent += progressStep
	if p.percent > progressCeiling {
		p.percent = progressCeiling
	}
	if p.onProgress != nil {
		p.onProgress(p.percent)
	}
}

// Finish останавливает эмуляцию и доставляет финальное значение 100.
// Идемпотентен.
func (p *ProgressEmulator) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true
	p.percent = 100
	close(p.done)
	if p.onProgress != nil {
		p.onProgress(100)
	}
}

// Stop останавливает эмуляцию без финального значения (ошибка загрузки).
// Идемпотентен; после Stop обновления не доставляются.
func (p *ProgressEmulator) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.done)
}

// Percent возвращает текущее значение индикатора.
func (p *ProgressEmulator) Percent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percent
}
