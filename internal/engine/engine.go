package engine

/*
Файл engine.go реализует Policy Engine — stateful-оркестратор безопасности команд.

Контур работы:
  1. Execution Layer перед отправкой команды в shell зовет EvaluateCommand.
  2. Для действия approval вызывающий получает канал через RequestApproval и
     блокируется на нем (со своим таймаутом — движок ожидание не ограничивает).
  3. Решение человека приходит асинхронно через ApproveCommand/RejectCommand —
     из Console API напрямую или через Redis-слушателя (listener.go).

Все состояние (решения, нарушения, pending-заявки) живет в памяти одного
инстанса и не переживает рестарт. Движок конструируется и инжектится,
никаких синглтонов на уровне пакета.
*/

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/shellgate-prototype/internal/audit"
	"github.com/xela07ax/shellgate-prototype/internal/domain"
	"github.com/xela07ax/shellgate-prototype/internal/policy"
	"go.uber.org/zap"
)

// waiter — разобранный на части future ожидания апрува.
// done буферизован на 1: settle никогда не блокируется, единственность
// разрешения гарантирована удалением из pending под мьютексом.
type waiter struct {
	req     *domain.ApprovalRequest
	done    chan domain.ApprovalResult
	created time.Time
}

type Engine struct {
	classifier *policy.Classifier
	auditor    audit.Auditor
	feed       Feed
	metrics    *Metrics
	logger     *zap.Logger

	mu         sync.Mutex
	decisions  map[string]*domain.Decision   // TaskID -> последнее решение
	violations map[string][]domain.Violation // ProjectID -> история нарушений
	pending    map[string]*waiter            // TaskID -> активная заявка

	quorum map[domain.Severity]int // Severity -> требуемое число апрувов
}

type Option func(*Engine)

// WithApprovalQuorum переопределяет кворум апрувов по severity.
// Дефолтный маппинг (critical=2, остальные=1) сохранен, но не зашит намертво.
func WithApprovalQuorum(q map[domain.Severity]int) Option {
	return func(e *Engine) {
		for s, n := range q {
			if n > 0 {
				e.quorum[s] = n
			}
		}
	}
}

// DefaultQuorum — критичные команды требуют двух подписей, остальные одной.
func DefaultQuorum() map[domain.Severity]int {
	return map[domain.Severity]int{
		domain.SeverityLow:      1,
		domain.SeverityMedium:   1,
		domain.SeverityHigh:     1,
		domain.SeverityCritical: 2,
	}
}

type nopAuditor struct{}

func (nopAuditor) Log(audit.Event) {}

func New(classifier *policy.Classifier, auditor audit.Auditor, feed Feed, metrics *Metrics, logger *zap.Logger, opts ...Option) *Engine {
	if auditor == nil {
		auditor = nopAuditor{}
	}
	if feed == nil {
		feed = NopFeed{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	e := &Engine{
		classifier: classifier,
		auditor:    auditor,
		feed:       feed,
		metrics:    metrics,
		logger:     logger.Named("engine"),
		decisions:  make(map[string]*domain.Decision),
		violations: make(map[string][]domain.Violation),
		pending:    make(map[string]*waiter),
		quorum:     DefaultQuorum(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateCommand классифицирует команду и фиксирует решение.
// Всегда синхронна и неблокирующая, независимо от действия: ожидание
// апрува — отдельный шаг (RequestApproval).
func (e *Engine) EvaluateCommand(command, projectID string, cctx domain.CommandContext) domain.Decision {
	v := e.classifier.Evaluate(command, projectID)

	d := domain.Decision{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Command:   domain.TruncateCommand(command),
		ProjectID: projectID,
		Action:    v.Action,
		Code:      v.Code,
		Reason:    v.Reason,
		Severity:  v.Severity,
		Context:   cctx,
		Status:    domain.StatusFor(v.Action),
	}

	e.mu.Lock()
	if cctx.TaskID != "" {
		// Новая оценка того же TaskID перезаписывает запись целиком
		stored := d
		e.decisions[cctx.TaskID] = &stored
	}
	if d.Action != domain.ActionAllow {
		e.violations[projectID] = append(e.violations[projectID], domain.Violation{
			Timestamp: d.Timestamp,
			Command:   d.Command,
			Severity:  d.Severity,
			Code:      d.Code,
			Action:    d.Action,
		})
	}
	e.mu.Unlock()

	e.metrics.DecisionsTotal.WithLabelValues(string(d.Action), severityLabel(d.Severity)).Inc()

	if d.Action == domain.ActionDeny {
		e.logger.Warn("command denied",
			zap.String("project_id", projectID),
			zap.String("code", d.Code),
			zap.String("severity", string(d.Severity)),
		)
	}

	e.emit(audit.Event{
		Type:      audit.EventDecision,
		ProjectID: projectID,
		TaskID:    cctx.TaskID,
		Command:   d.Command,
		Action:    d.Action,
		Code:      d.Code,
		Severity:  d.Severity,
		Reason:    d.Reason,
	})

	return d
}

// RequestApproval регистрирует ожидание решения человека по TaskID.
// Возвращаемый канал закрывает ровно один исход: approve (кворум собран)
// либо reject. Таймаута нет — вызывающий ограничивает ожидание сам и при
// истечении считает заявку по-прежнему активной (движок ее не отменяет).
func (e *Engine) RequestApproval(taskID, requestedBy string) (<-chan domain.ApprovalResult, error) {
	e.mu.Lock()

	d, ok := e.decisions[taskID]
	if !ok {
		e.mu.Unlock()
		return nil, domain.ErrNotFound
	}

	// Решение не требует апрува — немедленный успех, заявка не создается
	if d.Status != domain.DecisionPendingApproval {
		e.mu.Unlock()
		done := make(chan domain.ApprovalResult, 1)
		done <- domain.ApprovalResult{Approved: true}
		return done, nil
	}

	if _, exists := e.pending[taskID]; exists {
		e.mu.Unlock()
		return nil, domain.ErrApprovalPending
	}

	required := e.quorum[d.Severity]
	if required <= 0 {
		required = 1
	}

	now := time.Now()
	w := &waiter{
		req: &domain.ApprovalRequest{
			ID:          uuid.New().String(),
			TaskID:      taskID,
			Command:     d.Command,
			ProjectID:   d.ProjectID,
			Severity:    d.Severity,
			Required:    required,
			RequestedBy: requestedBy,
			Approvals:   []domain.Approval{},
			Status:      domain.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		done:    make(chan domain.ApprovalResult, 1),
		created: now,
	}
	e.pending[taskID] = w
	projectID := d.ProjectID
	e.mu.Unlock()

	e.metrics.PendingApprovals.Inc()
	e.emit(audit.Event{
		Type:      audit.EventApprovalRequested,
		ProjectID: projectID,
		TaskID:    taskID,
		Command:   w.req.Command,
		Severity:  w.req.Severity,
		Required:  required,
	})

	return w.done, nil
}

// ApproveCommand добавляет одну подпись. Кворум не собран — заявка остается
// pending и future не разрешается (multi-approver для critical).
func (e *Engine) ApproveCommand(taskID string, vote domain.Approval) (*domain.ApprovalRequest, error) {
	if vote.Timestamp.IsZero() {
		vote.Timestamp = time.Now()
	}

	e.mu.Lock()
	w, ok := e.pending[taskID]
	if !ok {
		e.mu.Unlock()
		return nil, domain.ErrNotFound
	}

	w.req.Approvals = append(w.req.Approvals, vote)
	w.req.UpdatedAt = vote.Timestamp

	if len(w.req.Approvals) < w.req.Required {
		snapshot := cloneRequest(w.req)
		e.mu.Unlock()
		e.logger.Info("partial approval recorded",
			zap.String("task_id", taskID),
			zap.Int("granted", len(snapshot.Approvals)),
			zap.Int("required", snapshot.Required),
		)
		return &snapshot, nil
	}

	// Кворум собран: терминальный переход и снятие заявки
	w.req.Status = domain.StatusApproved
	if d, ok := e.decisions[taskID]; ok {
		d.Status = domain.DecisionAllowed
	}
	delete(e.pending, taskID)
	snapshot := cloneRequest(w.req)
	e.mu.Unlock()

	e.metrics.PendingApprovals.Dec()
	e.metrics.ApprovalsTotal.WithLabelValues("approved").Inc()
	e.metrics.ApprovalWaitDuration.Observe(time.Since(w.created).Seconds())

	e.emit(audit.Event{
		Type:      audit.EventApprovalGranted,
		ProjectID: snapshot.ProjectID,
		TaskID:    taskID,
		Command:   snapshot.Command,
		Severity:  snapshot.Severity,
		Approver:  vote.ApproverID,
		Required:  snapshot.Required,
		Granted:   len(snapshot.Approvals),
	})

	w.done <- domain.ApprovalResult{Approved: true, Request: snapshot}
	return &snapshot, nil
}

// RejectCommand — терминальный отказ: одного reject достаточно независимо
// от уже собранных подписей.
func (e *Engine) RejectCommand(taskID string, by domain.Approval) (*domain.ApprovalRequest, error) {
	if by.Timestamp.IsZero() {
		by.Timestamp = time.Now()
	}

	e.mu.Lock()
	w, ok := e.pending[taskID]
	if !ok {
		e.mu.Unlock()
		return nil, domain.ErrNotFound
	}

	w.req.Status = domain.StatusRejected
	w.req.UpdatedAt = by.Timestamp
	if d, ok := e.decisions[taskID]; ok {
		d.Status = domain.DecisionDenied
	}
	delete(e.pending, taskID)
	snapshot := cloneRequest(w.req)
	e.mu.Unlock()

	e.metrics.PendingApprovals.Dec()
	e.metrics.ApprovalsTotal.WithLabelValues("rejected").Inc()
	e.metrics.ApprovalWaitDuration.Observe(time.Since(w.created).Seconds())

	e.emit(audit.Event{
		Type:      audit.EventApprovalRejected,
		ProjectID: snapshot.ProjectID,
		TaskID:    taskID,
		Command:   snapshot.Command,
		Severity:  snapshot.Severity,
		Approver:  by.ApproverID,
		Reason:    by.Reason,
		Required:  snapshot.Required,
		Granted:   len(snapshot.Approvals),
	})

	w.done <- domain.ApprovalResult{
		Approved: false,
		Request:  snapshot,
		Err: &domain.RejectionError{
			TaskID:     taskID,
			RejectedBy: by.ApproverID,
			Reason:     by.Reason,
		},
	}
	return &snapshot, nil
}

// Decision возвращает сохраненное решение по TaskID.
func (e *Engine) Decision(taskID string) (domain.Decision, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.decisions[taskID]
	if !ok {
		return domain.Decision{}, false
	}
	return *d, true
}

// PendingApprovals — очередь оператора: решения, все еще ждущие человека.
func (e *Engine) PendingApprovals() []domain.Decision {
	e.mu.Lock()
	out := make([]domain.Decision, 0, len(e.pending))
	for _, d := range e.decisions {
		if d.Status == domain.DecisionPendingApproval {
			out = append(out, *d)
		}
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// ViolationsSummary — read-only rollup нарушений по проектам. Состояние не трогает.
func (e *Engine) ViolationsSummary() map[string]domain.ViolationSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]domain.ViolationSummary, len(e.violations))
	for projectID, list := range e.violations {
		s := domain.ViolationSummary{
			Total:      len(list),
			BySeverity: make(map[domain.Severity]int),
			ByCode:     make(map[string]int),
		}
		for _, v := range list {
			s.BySeverity[v.Severity]++
			s.ByCode[v.Code]++
		}
		out[projectID] = s
	}
	return out
}

// ClearViolations полностью стирает историю нарушений проекта.
// Решения и pending-заявки не затрагиваются.
func (e *Engine) ClearViolations(projectID string) {
	e.mu.Lock()
	delete(e.violations, projectID)
	e.mu.Unlock()
}

// emit пишет событие в Audit Trail и в ленту.
// Ни аудит, ни лента не имеют права уронить публичный API движка.
func (e *Engine) emit(ev audit.Event) {
	ev.ID = uuid.New().String()
	ev.Timestamp = time.Now()

	func() {
		defer func() {
			if r := recover(); r != nil {
				e.metrics.AuditWriteFailures.Inc()
				e.logger.Error("audit log panicked", zap.Any("panic", r))
			}
		}()
		e.auditor.Log(ev)
	}()

	if err := e.feed.Publish(context.Background(), ev); err != nil {
		e.logger.Warn("event feed publish failed", zap.Error(err))
	}
}

func cloneRequest(req *domain.ApprovalRequest) domain.ApprovalRequest {
	out := *req
	out.Approvals = append([]domain.Approval(nil), req.Approvals...)
	return out
}

func severityLabel(s domain.Severity) string {
	if s == "" {
		return "none"
	}
	return string(s)
}
