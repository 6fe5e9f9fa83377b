package watchdog

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	DefaultStallThreshold = 45 * time.Second // Потолок общего времени выполнения
	DefaultStallIdle      = 15 * time.Second // Потолок без прогресса (тишина в stdout)
)

// Причины срабатывания
const (
	ReasonRuntimeExceeded = "runtime_exceeded"
	ReasonIdleTimeout     = "idle_timeout"
)

// Stall — сигнал "команда застряла". Один сигнал на команду до ClearStall.
type Stall struct {
	CommandID string        `json:"command_id"`
	Reason    string        `json:"reason"`
	Elapsed   time.Duration `json:"elapsed"`
	Idle      time.Duration `json:"idle"`
	Hint      string        `json:"hint"`
}

// watch — состояние одной наблюдаемой команды.
// Маленький конечный автомат: armed -> stalled -> cleared (и снова armed).
type watch struct {
	started      time.Time
	lastProgress time.Time
	runtimeTimer *time.Timer
	idleTimer    *time.Timer
	stalled      bool // Debounce-флаг: пока взведен, повторные причины не сигналят
	onStall      func(Stall)
}

// Watchdog детектирует зависание команд по двум независимым причинам:
// абсолютный таймер рантайма (прогресс его НЕ сбрасывает) и idle-таймер,
// который перевзводится каждым RecordProgress.
type Watchdog struct {
	stallThreshold time.Duration
	stallIdle      time.Duration
	logger         *zap.Logger
	stallsTotal    *prometheus.CounterVec // Метрика по reason; может быть nil

	mu      sync.Mutex
	watches map[string]*watch
}

type WatchdogOption func(*Watchdog)

// WithStallCounter подключает счетчик срабатываний (label: reason).
func WithStallCounter(c *prometheus.CounterVec) WatchdogOption {
	return func(w *Watchdog) { w.stallsTotal = c }
}

func NewWatchdog(stallThreshold, stallIdle time.Duration, logger *zap.Logger, opts ...WatchdogOption) *Watchdog {
	if stallThreshold <= 0 {
		stallThreshold = DefaultStallThreshold
	}
	if stallIdle <= 0 {
		stallIdle = DefaultStallIdle
	}
	w := &Watchdog{
		stallThreshold: stallThreshold,
		stallIdle:      stallIdle,
		logger:         logger.Named("stall-watchdog"),
		watches:        make(map[string]*watch),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// StartWatching взводит оба таймера для команды.
// Повторный вызов для того же id — replace, а не stacking: старое наблюдение гасится.
func (wd *Watchdog) StartWatching(commandID string, onStall func(Stall)) {
	wd.mu.Lock()
	defer wd.mu.Unlock()

	if old, ok := wd.watches[commandID]; ok {
		stopTimers(old)
	}

	now := time.Now()
	w := &watch{
		started:      now,
		lastProgress: now,
		onStall:      onStall,
	}
	w.runtimeTimer = time.AfterFunc(wd.stallThreshold, func() {
		wd.fire(commandID, ReasonRuntimeExceeded)
	})
	w.idleTimer = time.AfterFunc(wd.stallIdle, func() {
		wd.fire(commandID, ReasonIdleTimeout)
	})
	wd.watches[commandID] = w
}

// RecordProgress фиксирует прогресс (например, новый chunk stdout) и
// перевзводит ТОЛЬКО idle-таймер. Рантайм-таймер абсолютен по wall-clock.
func (wd *Watchdog) RecordProgress(commandID string) {
	wd.mu.Lock()
	defer wd.mu.Unlock()

	w, ok := wd.watches[commandID]
	if !ok {
		return
	}
	w.lastProgress = time.Now()
	w.idleTimer.Stop()
	w.idleTimer = time.AfterFunc(wd.stallIdle, func() {
		wd.fire(commandID, ReasonIdleTimeout)
	})
}

// ClearStall снимает debounce-флаг: следующая причина снова даст ровно один сигнал.
func (wd *Watchdog) ClearStall(commandID string) {
	wd.mu.Lock()
	defer wd.mu.Unlock()

	if w, ok := wd.watches[commandID]; ok {
		w.stalled = false
	}
}

// StopWatching гасит оба таймера и забывает состояние. No-op для неизвестного id.
func (wd *Watchdog) StopWatching(commandID string) {
	wd.mu.Lock()
	defer wd.mu.Unlock()

	if w, ok := wd.watches[commandID]; ok {
		stopTimers(w)
		delete(wd.watches, commandID)
	}
}

// Watching — для тестов и диагностики.
func (wd *Watchdog) Watching(commandID string) bool {
	wd.mu.Lock()
	defer wd.mu.Unlock()
	_, ok := wd.watches[commandID]
	return ok
}

// fire — общая точка срабатывания обоих таймеров.
// Debounce: пока флаг взведен, вторая причина (idle после runtime) молчит.
func (wd *Watchdog) fire(commandID, reason string) {
	wd.mu.Lock()
	w, ok := wd.watches[commandID]
	if !ok || w.stalled {
		wd.mu.Unlock()
		return
	}
	w.stalled = true

	now := time.Now()
	s := Stall{
		CommandID: commandID,
		Reason:    reason,
		Elapsed:   now.Sub(w.started),
		Idle:      now.Sub(w.lastProgress),
		Hint:      hintFor(reason),
	}
	cb := w.onStall
	wd.mu.Unlock()

	if wd.stallsTotal != nil {
		wd.stallsTotal.WithLabelValues(reason).Inc()
	}
	wd.logger.Warn("command stalled",
		zap.String("command_id", commandID),
		zap.String("reason", reason),
		zap.Duration("elapsed", s.Elapsed),
		zap.Duration("idle", s.Idle),
	)

	if cb != nil {
		wd.safeCall(cb, s)
	}
}

// safeCall изолирует панику обработчика: таймеры остальных команд должны жить.
func (wd *Watchdog) safeCall(cb func(Stall), s Stall) {
	defer func() {
		if r := recover(); r != nil {
			wd.logger.Error("stall callback panicked",
				zap.String("command_id", s.CommandID), zap.Any("panic", r))
		}
	}()
	cb(s)
}

func stopTimers(w *watch) {
	if w.runtimeTimer != nil {
		w.runtimeTimer.Stop()
	}
	if w.idleTimer != nil {
		w.idleTimer.Stop()
	}
}

func hintFor(reason string) string {
	if reason == ReasonRuntimeExceeded {
		return "command exceeded its total runtime ceiling; consider killing it or moving it to background"
	}
	return "no progress observed for too long; the command may be waiting for input"
}
