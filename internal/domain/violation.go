package domain

import "time"

// Violation — запись о недопущенной команде (deny или approval).
// Только append и wholesale-очистка по проекту, никаких мутаций.
type Violation struct {
	Timestamp time.Time  `json:"timestamp"`
	Command   string     `json:"command"`
	Severity  Severity   `json:"severity"`
	Code      string     `json:"code"`
	Action    RuleAction `json:"action"`
}

// ViolationSummary — rollup по одному проекту для дашборда ИБ.
type ViolationSummary struct {
	Total      int              `json:"total"`
	BySeverity map[Severity]int `json:"by_severity"`
	ByCode     map[string]int   `json:"by_code"`
}
