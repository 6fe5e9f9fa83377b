package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/shellgate-prototype/internal/domain"
	"github.com/xela07ax/shellgate-prototype/internal/infra"
	"go.uber.org/zap"
)

// ApprovalSignal — решение оператора, прилетающее извне (Console API, ChatOps).
type ApprovalSignal struct {
	TaskID     string `json:"task_id"`
	Approved   bool   `json:"approved"`
	ReviewerID string `json:"reviewer_id"`
	Reviewer   string `json:"reviewer,omitempty"`
	Comment    string `json:"comment,omitempty"`
}

// Decider — то, что слушателю нужно от движка.
type Decider interface {
	ApproveCommand(taskID string, vote domain.Approval) (*domain.ApprovalRequest, error)
	RejectCommand(taskID string, by domain.Approval) (*domain.ApprovalRequest, error)
}

// ListenApprovalSignals — "живучая" подписка на канал решений оператора.
// Обрабатывает переподключения: упавший Redis не убивает HITL-контур,
// заявки продолжают висеть и будут разрешены после восстановления связи.
// Запускается горутиной из main; завершается только по ctx.
func ListenApprovalSignals(ctx context.Context, rdb *redis.Client, logger *zap.Logger, decider Decider) {
	logger = logger.Named("approval-listener")

	for {
		pubsub := rdb.Subscribe(ctx, infra.RedisChanApprovalDecisions)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to subscribe", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		logger.Info("approval signal listener started",
			zap.String("channel", infra.RedisChanApprovalDecisions))

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				applySignal(logger, decider, msg.Payload)
			}
		}

		pubsub.Close()
		time.Sleep(time.Second)
	}
}

func applySignal(logger *zap.Logger, decider Decider, payload string) {
	var sig ApprovalSignal
	if err := json.Unmarshal([]byte(payload), &sig); err != nil {
		logger.Error("invalid approval signal", zap.String("payload", payload), zap.Error(err))
		return
	}
	if sig.TaskID == "" {
		logger.Error("approval signal without task_id", zap.String("payload", payload))
		return
	}

	vote := domain.Approval{
		ApproverID:   sig.ReviewerID,
		ApproverName: sig.Reviewer,
		Reason:       sig.Comment,
		Timestamp:    time.Now(),
	}

	var err error
	if sig.Approved {
		_, err = decider.ApproveCommand(sig.TaskID, vote)
	} else {
		_, err = decider.RejectCommand(sig.TaskID, vote)
	}

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		// Сигнал по уже разрешенной или неизвестной заявке — не фатально
		logger.Warn("approval signal for unknown task", zap.String("task_id", sig.TaskID))
	default:
		logger.Error("failed to apply approval signal",
			zap.String("task_id", sig.TaskID), zap.Error(err))
	}
}
