package audit

import (
	"time"

	"github.com/xela07ax/shellgate-prototype/internal/domain"
)

// EventType — типы записей Audit Trail
type EventType string

const (
	EventDecision          EventType = "DECISION"
	EventApprovalRequested EventType = "APPROVAL_REQUESTED"
	EventApprovalGranted   EventType = "APPROVAL_GRANTED"
	EventApprovalRejected  EventType = "APPROVAL_REJECTED"
)

// Event — одна строка append-only аудита. Лог пишется по проекту за календарный день.
// Команда всегда усечена (domain.MaxCommandLen): полный вывод мы не храним.
type Event struct {
	ID        string            `json:"id"` // UUID события
	Type      EventType         `json:"type"`
	ProjectID string            `json:"project_id"`
	TaskID    string            `json:"task_id,omitempty"`
	Command   string            `json:"command,omitempty"`
	Action    domain.RuleAction `json:"action,omitempty"`
	Code      string            `json:"code,omitempty"`
	Severity  domain.Severity   `json:"severity,omitempty"`
	Reason    string            `json:"reason,omitempty"`

	// Контекст апрува (для APPROVAL_* событий)
	Approver string `json:"approver,omitempty"`
	Required int    `json:"required,omitempty"`
	Granted  int    `json:"granted,omitempty"` // Сколько подписей собрано на момент события

	Timestamp time.Time `json:"timestamp"`
}

// Day возвращает календарный день события для партиционирования лога.
func (e *Event) Day() string {
	return e.Timestamp.Format("2006-01-02")
}
