package domain

// RuleAction определяет, что делать с командой
type RuleAction string

const (
	ActionAllow    RuleAction = "allow"    // Пропустить на исполнение (Live)
	ActionDeny     RuleAction = "deny"     // Заблокировать без права обжалования
	ActionApproval RuleAction = "approval" // Требовать ручного подтверждения (HITL)
)

// Valid проверяет, что действие входит в закрытый набор.
// Используется при загрузке override-правил: неизвестное действие — битое правило.
func (a RuleAction) Valid() bool {
	switch a {
	case ActionAllow, ActionDeny, ActionApproval:
		return true
	}
	return false
}

// Severity — порядковая шкала опасности. Критичность определяет кворум апрувов.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank возвращает числовой вес для сортировки и сравнения (low < critical).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Rule — правило безопасности для shell-команды. Чистые данные:
// паттерн компилируется на стороне policy.Store, а не здесь.
// Правила применяются в порядке списка, первый матч побеждает.
type Rule struct {
	ID       string     `json:"id" mapstructure:"id"`
	Action   RuleAction `json:"action" mapstructure:"action"`
	Pattern  string     `json:"pattern" mapstructure:"pattern"` // Регулярка по сырому тексту команды (case-insensitive)
	Reason   string     `json:"reason" mapstructure:"reason"`
	Severity Severity   `json:"severity" mapstructure:"severity"`
	Code     string     `json:"code" mapstructure:"code"` // Стабильный машинный код, e.g. "DANGER_RM_RF_ROOT"
}

// Verdict — результат классификации одной команды.
// Для разрешенных без матча команд Code/Reason пустые.
type Verdict struct {
	Action   RuleAction `json:"action"`
	Code     string     `json:"code,omitempty"`
	Reason   string     `json:"reason,omitempty"`
	Severity Severity   `json:"severity,omitempty"`
}
