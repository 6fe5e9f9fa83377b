package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ReliableStorage оборачивает backend аудита в контур надежности:
// Rate Limiter -> Circuit Breaker -> Retries с экспоненциальным бэкоффом.
// Просевший Postgres или диск не должен устраивать шторм повторов,
// а кратковременный сбой не должен терять батч.
type ReliableStorage struct {
	next    StorageInterface
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliableStorage(next StorageInterface) *ReliableStorage {
	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "audit-storage",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд — открываемся и перестаем долбить хранилище
			return counts.ConsecutiveFailures > 5
		},
	})

	// Батчи пишутся редко, лимит с запасом: защищает только от патологий
	limiter := rate.NewLimiter(rate.Limit(50), 10)

	return &ReliableStorage{
		next:    next,
		cb:      cb,
		limiter: limiter,
	}
}

func (w *ReliableStorage) WriteBatch(ctx context.Context, events []Event) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("audit rate limit: %w", err)
	}

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return w.next.WriteBatch(tCtx, events)
		})

		return nil, retryErr
	})

	return err
}
