package audit

/*
Файл trail.go реализует компонент Audit Trail — неблокирующий движок
персистентности решений и событий жизненного цикла апрувов.

Ключевые особенности архитектуры:
- Non-blocking Logging: запись идет через буферизованный канал, задержки
  хранилища не влияют на время ответа evaluate/approve/reject.
- Batching: события копятся в памяти и пишутся пачками по таймеру или
  при достижении лимита батча.
- Drain Pattern & Graceful Shutdown: при Stop канал закрывается, воркер
  дочитывает остатки и делает Final Flush — потерь при перезагрузке нет.
- Best-effort: отказ хранилища никогда не роняет решение; ошибка уходит
  оператору через канал Errors и в zap.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	defaultBufferSize = 10000
	defaultBatchSize  = 100
	defaultFlushEvery = 500 * time.Millisecond
)

// StorageInterface определяет, куда физически сохраняется аудит
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

// Auditor — контракт для Policy Engine: только неблокирующий Log.
type Auditor interface {
	Log(event Event)
}

type Trail struct {
	ch     chan Event
	repo   StorageInterface
	logger *zap.Logger
	wg     sync.WaitGroup

	batchSize  int
	flushEvery time.Duration

	// Операторский канал ошибок: AuditWriteFailure не пробрасывается вызывающему,
	// но обязан быть видимым
	errs chan error

	fillGauge prometheus.Gauge // Заполненность буфера (backpressure); может быть nil

	// Защита от Log после остановки (0 - открыт, 1 - закрыт)
	isClosed int32
}

type TrailOption func(*Trail)

func WithBufferSize(n int) TrailOption {
	return func(t *Trail) {
		if n > 0 {
			t.ch = make(chan Event, n)
		}
	}
}

func WithBatch(size int, every time.Duration) TrailOption {
	return func(t *Trail) {
		if size > 0 {
			t.batchSize = size
		}
		if every > 0 {
			t.flushEvery = every
		}
	}
}

// WithFillGauge подключает метрику заполненности буфера.
func WithFillGauge(g prometheus.Gauge) TrailOption {
	return func(t *Trail) { t.fillGauge = g }
}

func NewTrail(repo StorageInterface, logger *zap.Logger, opts ...TrailOption) *Trail {
	t := &Trail{
		ch:         make(chan Event, defaultBufferSize),
		repo:       repo,
		logger:     logger.With(zap.String("mod", "audit-trail")),
		batchSize:  defaultBatchSize,
		flushEvery: defaultFlushEvery,
		errs:       make(chan error, 64),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход и ждет, пока воркер допишет все из буфера.
func (t *Trail) Stop() {
	atomic.StoreInt32(&t.isClosed, 1)

	// Крошечная пауза, чтобы конкурентные Log успели проскочить до close
	time.Sleep(10 * time.Millisecond)

	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

// Errors — операторский канал AuditWriteFailure.
func (t *Trail) Errors() <-chan error {
	return t.errs
}

func (t *Trail) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.logger.Warn("audit event dropped: trail is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: переполненный буфер не блокирует Hot Path
	select {
	case t.ch <- event:
		if t.fillGauge != nil {
			t.fillGauge.Set(float64(len(t.ch)))
		}
	default:
		t.logger.Error("audit_buffer_overflow",
			zap.String("project_id", event.ProjectID),
			zap.String("type", string(event.Type)),
		)
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Event, 0, t.batchSize)
	ticker := time.NewTicker(t.flushEvery)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к моменту Final Flush может быть закрыт
		if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
			t.logger.Error("audit flush failed", zap.Error(err))
			t.reportError(err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): дочитали остатки, финальный сброс и выход
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if t.fillGauge != nil {
				t.fillGauge.Set(float64(len(t.ch)))
			}
			if len(batch) >= t.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// reportError — неблокирующая публикация в операторский канал.
func (t *Trail) reportError(err error) {
	select {
	case t.errs <- err:
	default:
	}
}
