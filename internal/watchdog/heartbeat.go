package watchdog

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBeatThreshold = 8 * time.Second
	DefaultBeatInterval  = 5 * time.Second
)

// Beat — сигнал "команда все еще выполняется" для UI.
type Beat struct {
	Elapsed time.Duration `json:"elapsed"`
}

// Heartbeat отбивает периодический пульс долгоиграющей команды.
// Первый сигнал строго не раньше threshold, дальше — каждые interval.
// Это не stall-детектор: пульс информирует, а не диагностирует.
type Heartbeat struct {
	threshold time.Duration
	interval  time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	stop    chan struct{}
	started time.Time
	running bool
}

func NewHeartbeat(threshold, interval time.Duration, logger *zap.Logger) *Heartbeat {
	if threshold <= 0 {
		threshold = DefaultBeatThreshold
	}
	if interval <= 0 {
		interval = DefaultBeatInterval
	}
	return &Heartbeat{
		threshold: threshold,
		interval:  interval,
		logger:    logger.Named("heartbeat"),
	}
}

// Start запускает таймер пульса. Повторный Start перезапускает отсчет заново.
func (h *Heartbeat) Start(onBeat func(Beat)) {
	h.mu.Lock()
	h.stopLocked()
	h.started = time.Now()
	h.stop = make(chan struct{})
	h.running = true
	stop := h.stop
	started := h.started
	h.mu.Unlock()

	go h.loop(stop, started, onBeat)
}

func (h *Heartbeat) loop(stop chan struct{}, started time.Time, onBeat func(Beat)) {
	// Фаза 1: тишина до threshold. Никогда не сигналим раньше.
	timer := time.NewTimer(h.threshold)
	defer timer.Stop()

	select {
	case <-stop:
		return
	case <-timer.C:
	}
	h.emit(started, onBeat)

	// Фаза 2: периодический пульс
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.emit(started, onBeat)
		}
	}
}

// emit вызывает callback с защитой от паники:
// упавший обработчик не должен убить цикл пульса.
func (h *Heartbeat) emit(started time.Time, onBeat func(Beat)) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("heartbeat callback panicked", zap.Any("panic", r))
		}
	}()
	onBeat(Beat{Elapsed: time.Since(started)})
}

// Stop отменяет все таймеры. Идемпотентен, безопасен до Start.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	h.stopLocked()
	h.mu.Unlock()
}

func (h *Heartbeat) stopLocked() {
	if h.running {
		close(h.stop)
		h.running = false
	}
}

// Reset — Stop плюс сброс зафиксированного времени старта.
func (h *Heartbeat) Reset() {
	h.mu.Lock()
	h.stopLocked()
	h.started = time.Time{}
	h.mu.Unlock()
}
