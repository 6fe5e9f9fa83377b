package domain

import (
	"errors"
	"fmt"
	"time"
)

// Статусы State Machine
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "PENDING"
	StatusApproved ApprovalStatus = "APPROVED"
	StatusRejected ApprovalStatus = "REJECTED"
)

var (
	ErrInvalidTransition = errors.New("invalid approval status transition")
	ErrAlreadyProcessed  = errors.New("approval request already processed")
)

// Approval — одна подпись оператора. Для критичных команд их нужно несколько (кворум).
type Approval struct {
	ApproverID   string    `json:"approver_id"`
	ApproverName string    `json:"approver_name,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ApprovalRequest — заявка Human-in-the-loop, блокирующая исполнение
// команды с действием approval. Ровно одна активная заявка на TaskID.
type ApprovalRequest struct {
	ID          string         `json:"id"`
	TaskID      string         `json:"task_id"`
	Command     string         `json:"command"`
	ProjectID   string         `json:"project_id"`
	Severity    Severity       `json:"severity"`
	Required    int            `json:"required"` // Кворум: сколько апрувов нужно для APPROVED
	RequestedBy string         `json:"requested_by,omitempty"`
	Approvals   []Approval     `json:"approvals"`
	Status      ApprovalStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanTransitionTo проверяет правила конечного автомата:
// из PENDING можно только в терминальные, терминальные — навсегда.
func (a *ApprovalRequest) CanTransitionTo(next ApprovalStatus) error {
	if a.Status != StatusPending {
		return ErrAlreadyProcessed
	}
	if next == StatusPending {
		return ErrInvalidTransition
	}
	return nil
}

// RejectionError — штатный исход отклонения команды человеком.
// Доставляется вызывающему как failure-значение ожидания апрува.
type RejectionError struct {
	TaskID     string
	RejectedBy string
	Reason     string
}

func (e *RejectionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("command rejected by operator (task %s)", e.TaskID)
	}
	return fmt.Sprintf("command rejected by operator (task %s): %s", e.TaskID, e.Reason)
}

// ApprovalResult — итог ожидания. Err заполнен только при отклонении (RejectionError).
type ApprovalResult struct {
	Approved bool
	Request  ApprovalRequest
	Err      error
}
