package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/shellgate-prototype/internal/audit"
	"github.com/xela07ax/shellgate-prototype/internal/infra"
	"go.uber.org/zap"
)

// Feed — read-only лента решений и событий жизненного цикла апрувов
// для внешнего Reporting Layer. Движок в нее только пишет и никогда не читает.
type Feed interface {
	Publish(ctx context.Context, e audit.Event) error
}

// NopFeed — заглушка для тестов и конфигураций без Redis.
type NopFeed struct{}

func (NopFeed) Publish(context.Context, audit.Event) error { return nil }

// RedisFeed транслирует события в Pub/Sub канал.
// Доставка best-effort: подписчиков может не быть, ошибка публикации не
// влияет на решение — она логируется и забывается.
type RedisFeed struct {
	rdb     *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisFeed(rdb *redis.Client, logger *zap.Logger) *RedisFeed {
	return &RedisFeed{
		rdb:     rdb,
		channel: infra.RedisChanEventFeed,
		logger:  logger.Named("event-feed"),
	}
}

func (f *RedisFeed) Publish(ctx context.Context, e audit.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("feed: marshal event: %w", err)
	}
	if err := f.rdb.Publish(ctx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("feed: publish: %w", err)
	}
	return nil
}
