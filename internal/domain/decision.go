package domain

import "time"

// MaxCommandLen — лимит на текст команды в Decision и аудите.
// Полный вывод команд мы не храним, только усеченный текст для расследований.
const MaxCommandLen = 500

// DecisionStatus — производный статус решения для UI и очереди оператора
type DecisionStatus string

const (
	DecisionAllowed         DecisionStatus = "allowed"
	DecisionPendingApproval DecisionStatus = "pending_approval"
	DecisionDenied          DecisionStatus = "denied"
)

// CommandContext — контекст исполнения, который передает Execution Layer.
// TaskID обязателен, если вызывающий собирается ждать апрув.
type CommandContext struct {
	TaskID    string `json:"task_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Decision — иммутабельный результат классификации одной команды в один момент времени.
// Повторная оценка того же TaskID перезаписывает запись целиком, частичных мутаций нет.
type Decision struct {
	ID        string         `json:"id"` // UUID решения
	Timestamp time.Time      `json:"timestamp"`
	Command   string         `json:"command"` // Усечено до MaxCommandLen
	ProjectID string         `json:"project_id"`
	Action    RuleAction     `json:"action"`
	Code      string         `json:"code,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Severity  Severity       `json:"severity,omitempty"`
	Context   CommandContext `json:"context"`
	Status    DecisionStatus `json:"status"`
}

// TruncateCommand обрезает команду до лимита хранения.
func TruncateCommand(cmd string) string {
	if len(cmd) > MaxCommandLen {
		return cmd[:MaxCommandLen]
	}
	return cmd
}

// StatusFor выводит статус решения из действия правила.
func StatusFor(action RuleAction) DecisionStatus {
	switch action {
	case ActionDeny:
		return DecisionDenied
	case ActionApproval:
		return DecisionPendingApproval
	}
	return DecisionAllowed
}
