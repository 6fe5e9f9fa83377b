package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "devit"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanApprovalDecisions — канал входящих решений оператора (HITL).
	// Console API публикует сюда approve/reject, слушатель движка их применяет.
	RedisChanApprovalDecisions = RedisNamespace + ":cse:approval-decisions"

	// RedisChanEventFeed — исходящая read-only лента решений и событий апрувов
	// для Reporting Layer.
	RedisChanEventFeed = RedisNamespace + ":cse:events"
)
