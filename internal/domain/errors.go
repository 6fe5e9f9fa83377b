package domain

import "errors"

var (
	// ErrNotFound — операция апрува ссылается на TaskID без решения или без активной заявки
	ErrNotFound = errors.New("task not found")

	// ErrApprovalPending — повторный requestApproval для нерешенной заявки
	ErrApprovalPending = errors.New("approval request already pending for this task")

	// ErrInvalidRule — override-правило с некомпилируемым паттерном или битым действием.
	// Не фатальна для загрузки: правило пропускается.
	ErrInvalidRule = errors.New("invalid policy rule")
)
