package engine

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/shellgate-prototype/internal/audit"
	"github.com/xela07ax/shellgate-prototype/internal/domain"
	"github.com/xela07ax/shellgate-prototype/internal/policy"
	"go.uber.org/zap"
)

// captureAuditor пишет события в память вместо Audit Trail.
type captureAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *captureAuditor) Log(ev audit.Event) {
	a.mu.Lock()
	a.events = append(a.events, ev)
	a.mu.Unlock()
}

func (a *captureAuditor) byType(t audit.EventType) []audit.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.Event
	for _, ev := range a.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type panicAuditor struct{}

func (panicAuditor) Log(audit.Event) { panic("audit down") }

func newTestEngine(t *testing.T, auditor audit.Auditor, opts ...Option) *Engine {
	t.Helper()
	store := policy.NewStore("", zap.NewNop())
	cls := policy.NewClassifier(store, zap.NewNop())
	return New(cls, auditor, nil, nil, zap.NewNop(), opts...)
}

// newCriticalApprovalEngine собирает движок с правилом approval/critical,
// которого нет в дефолтном наборе. Нужен для проверки кворума из двух подписей.
func newCriticalApprovalEngine(t *testing.T, auditor audit.Auditor) *Engine {
	t.Helper()
	override := `
rules:
  - id: prod-deploy
    action: approval
    pattern: 'deploy\s+prod'
    reason: production deploy
    severity: critical
    code: DANGER_PROD_DEPLOY
`
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}
	store := policy.NewStore(path, zap.NewNop())
	cls := policy.NewClassifier(store, zap.NewNop())
	return New(cls, auditor, nil, nil, zap.NewNop())
}

func TestEvaluateCommandDeny(t *testing.T) {
	aud := &captureAuditor{}
	e := newTestEngine(t, aud)

	d := e.EvaluateCommand("rm -rf /", "demo", domain.CommandContext{TaskID: "t1"})

	if d.Action != domain.ActionDeny || d.Code != "DANGER_RM_RF_ROOT" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if d.Severity != domain.SeverityCritical {
		t.Fatalf("severity = %q, want critical", d.Severity)
	}
	if d.Status != domain.DecisionDenied {
		t.Fatalf("status = %q, want denied", d.Status)
	}
	if d.ID == "" {
		t.Fatal("decision must carry an id")
	}

	stored, ok := e.Decision("t1")
	if !ok || stored.ID != d.ID {
		t.Fatalf("decision not stored for task: ok=%v stored=%+v", ok, stored)
	}

	if got := aud.byType(audit.EventDecision); len(got) != 1 {
		t.Fatalf("got %d DECISION events, want 1", len(got))
	}
}

func TestEvaluateCommandAllowNoViolation(t *testing.T) {
	e := newTestEngine(t, nil)

	d := e.EvaluateCommand("ls -la", "demo", domain.CommandContext{TaskID: "t1"})
	if d.Action != domain.ActionAllow || d.Status != domain.DecisionAllowed {
		t.Fatalf("unexpected decision: %+v", d)
	}

	if s := e.ViolationsSummary(); len(s) != 0 {
		t.Fatalf("allow must not record a violation: %+v", s)
	}
	if pending := e.PendingApprovals(); len(pending) != 0 {
		t.Fatalf("allow must not create a pending approval: %+v", pending)
	}
}

func TestEvaluateCommandTruncates(t *testing.T) {
	e := newTestEngine(t, nil)

	long := "echo "
	for len(long) < 2*domain.MaxCommandLen {
		long += "xxxxxxxxxx"
	}
	d := e.EvaluateCommand(long, "demo", domain.CommandContext{})
	if len(d.Command) > domain.MaxCommandLen {
		t.Fatalf("stored command length = %d, want <= %d", len(d.Command), domain.MaxCommandLen)
	}
}

func TestApprovalSingleQuorumFlow(t *testing.T) {
	aud := &captureAuditor{}
	e := newTestEngine(t, aud)

	d := e.EvaluateCommand("chmod 777 ./app", "demo", domain.CommandContext{TaskID: "t1"})
	if d.Status != domain.DecisionPendingApproval {
		t.Fatalf("status = %q, want pending_approval", d.Status)
	}

	done, err := e.RequestApproval("t1", "agent")
	if err != nil {
		t.Fatal(err)
	}

	// Medium требует одной подписи
	req, err := e.ApproveCommand("t1", domain.Approval{ApproverID: "op-1", ApproverName: "Operator"})
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != domain.StatusApproved {
		t.Fatalf("request status = %q, want APPROVED", req.Status)
	}

	select {
	case res := <-done:
		if !res.Approved || res.Err != nil {
			t.Fatalf("unexpected result: %+v", res)
		}
		if len(res.Request.Approvals) != 1 {
			t.Fatalf("approvals = %d, want 1", len(res.Request.Approvals))
		}
	case <-time.After(time.Second):
		t.Fatal("approval future never resolved")
	}

	// Решение переведено в allowed и ушло из очереди оператора
	if stored, _ := e.Decision("t1"); stored.Status != domain.DecisionAllowed {
		t.Fatalf("decision status = %q, want allowed", stored.Status)
	}
	if pending := e.PendingApprovals(); len(pending) != 0 {
		t.Fatalf("queue not drained: %+v", pending)
	}
	if got := aud.byType(audit.EventApprovalGranted); len(got) != 1 {
		t.Fatalf("got %d APPROVAL_GRANTED events, want 1", len(got))
	}
}

func TestApprovalCriticalQuorum(t *testing.T) {
	e := newCriticalApprovalEngine(t, nil)

	e.EvaluateCommand("deploy prod api-gateway", "demo", domain.CommandContext{TaskID: "t1"})
	done, err := e.RequestApproval("t1", "agent")
	if err != nil {
		t.Fatal(err)
	}

	// Первая подпись кворум не собирает
	req, err := e.ApproveCommand("t1", domain.Approval{ApproverID: "op-1"})
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != domain.StatusPending || req.Required != 2 {
		t.Fatalf("after first vote: %+v", req)
	}

	select {
	case res := <-done:
		t.Fatalf("future resolved below quorum: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}

	req, err = e.ApproveCommand("t1", domain.Approval{ApproverID: "op-2"})
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != domain.StatusApproved || len(req.Approvals) != 2 {
		t.Fatalf("after second vote: %+v", req)
	}

	select {
	case res := <-done:
		if !res.Approved {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("future never resolved at quorum")
	}
}

func TestRejectIsTerminal(t *testing.T) {
	aud := &captureAuditor{}
	e := newCriticalApprovalEngine(t, aud)

	e.EvaluateCommand("deploy prod api-gateway", "demo", domain.CommandContext{TaskID: "t1"})
	done, err := e.RequestApproval("t1", "agent")
	if err != nil {
		t.Fatal(err)
	}

	// Одна подпись за, затем отказ: reject побеждает независимо от подписей
	if _, err := e.ApproveCommand("t1", domain.Approval{ApproverID: "op-1"}); err != nil {
		t.Fatal(err)
	}
	req, err := e.RejectCommand("t1", domain.Approval{ApproverID: "op-2", Reason: "not during release freeze"})
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != domain.StatusRejected {
		t.Fatalf("request status = %q, want REJECTED", req.Status)
	}

	select {
	case res := <-done:
		if res.Approved {
			t.Fatal("rejected request resolved as approved")
		}
		var rej *domain.RejectionError
		if !errors.As(res.Err, &rej) {
			t.Fatalf("err = %v, want RejectionError", res.Err)
		}
		if rej.RejectedBy != "op-2" || rej.Reason != "not during release freeze" {
			t.Fatalf("rejection details: %+v", rej)
		}
	case <-time.After(time.Second):
		t.Fatal("future never resolved after reject")
	}

	// Заявки больше нет: поздний approve — ErrNotFound
	if _, err := e.ApproveCommand("t1", domain.Approval{ApproverID: "op-3"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("late approve err = %v, want ErrNotFound", err)
	}
	if stored, _ := e.Decision("t1"); stored.Status != domain.DecisionDenied {
		t.Fatalf("decision status = %q, want denied", stored.Status)
	}
	if got := aud.byType(audit.EventApprovalRejected); len(got) != 1 {
		t.Fatalf("got %d APPROVAL_REJECTED events, want 1", len(got))
	}
}

func TestRequestApprovalErrors(t *testing.T) {
	e := newTestEngine(t, nil)

	if _, err := e.RequestApproval("ghost", "agent"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown task err = %v, want ErrNotFound", err)
	}

	e.EvaluateCommand("chmod 777 ./app", "demo", domain.CommandContext{TaskID: "t1"})
	if _, err := e.RequestApproval("t1", "agent"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RequestApproval("t1", "agent"); !errors.Is(err, domain.ErrApprovalPending) {
		t.Fatalf("duplicate request err = %v, want ErrApprovalPending", err)
	}
}

func TestRequestApprovalImmediateForNonPending(t *testing.T) {
	e := newTestEngine(t, nil)

	e.EvaluateCommand("ls -la", "demo", domain.CommandContext{TaskID: "t1"})

	done, err := e.RequestApproval("t1", "agent")
	if err != nil {
		t.Fatal(err)
	}
	select {
	case res := <-done:
		if !res.Approved {
			t.Fatalf("unexpected result: %+v", res)
		}
	default:
		t.Fatal("non-pending decision must resolve immediately")
	}
}

func TestApprovalConcurrentWaiter(t *testing.T) {
	e := newTestEngine(t, nil)

	e.EvaluateCommand("shutdown -h now", "demo", domain.CommandContext{TaskID: "t1"})
	done, err := e.RequestApproval("t1", "agent")
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		e.ApproveCommand("t1", domain.Approval{ApproverID: "op-1"})
	}()

	select {
	case res := <-done:
		if !res.Approved {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked waiter never woke up")
	}
}

func TestViolationsSummaryAndClear(t *testing.T) {
	e := newTestEngine(t, nil)

	e.EvaluateCommand("rm -rf /", "alpha", domain.CommandContext{})
	e.EvaluateCommand("rm -rf /*", "alpha", domain.CommandContext{})
	e.EvaluateCommand("chmod 777 /etc", "alpha", domain.CommandContext{})
	e.EvaluateCommand("ls", "alpha", domain.CommandContext{})
	e.EvaluateCommand("shutdown now", "beta", domain.CommandContext{})

	s := e.ViolationsSummary()
	a, ok := s["alpha"]
	if !ok || a.Total != 3 {
		t.Fatalf("alpha summary: %+v", a)
	}
	if a.BySeverity[domain.SeverityCritical] != 2 || a.BySeverity[domain.SeverityMedium] != 1 {
		t.Fatalf("alpha by severity: %+v", a.BySeverity)
	}
	if a.ByCode["DANGER_RM_RF_ROOT"] != 2 {
		t.Fatalf("alpha by code: %+v", a.ByCode)
	}
	if b := s["beta"]; b.Total != 1 {
		t.Fatalf("beta summary: %+v", b)
	}

	e.ClearViolations("alpha")
	s = e.ViolationsSummary()
	if _, ok := s["alpha"]; ok {
		t.Fatal("alpha violations survived ClearViolations")
	}
	if s["beta"].Total != 1 {
		t.Fatal("beta violations must be untouched")
	}
}

func TestPendingApprovalsSorted(t *testing.T) {
	e := newTestEngine(t, nil)

	e.EvaluateCommand("chmod 777 a", "demo", domain.CommandContext{TaskID: "t1"})
	time.Sleep(5 * time.Millisecond)
	e.EvaluateCommand("chmod 777 b", "demo", domain.CommandContext{TaskID: "t2"})

	pending := e.PendingApprovals()
	if len(pending) != 2 {
		t.Fatalf("len(pending) = %d, want 2", len(pending))
	}
	if !pending[0].Timestamp.Before(pending[1].Timestamp) {
		t.Fatalf("queue not ordered by timestamp: %v, %v", pending[0].Timestamp, pending[1].Timestamp)
	}
}

// Аудит не имеет права ронять публичный API движка.
func TestEvaluateSurvivesAuditPanic(t *testing.T) {
	e := newTestEngine(t, panicAuditor{})

	d := e.EvaluateCommand("rm -rf /", "demo", domain.CommandContext{TaskID: "t1"})
	if d.Action != domain.ActionDeny {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestWithApprovalQuorumOverride(t *testing.T) {
	e := newTestEngine(t, nil,
		WithApprovalQuorum(map[domain.Severity]int{domain.SeverityMedium: 2}))

	e.EvaluateCommand("chmod 777 ./app", "demo", domain.CommandContext{TaskID: "t1"})
	done, err := e.RequestApproval("t1", "agent")
	if err != nil {
		t.Fatal(err)
	}

	req, err := e.ApproveCommand("t1", domain.Approval{ApproverID: "op-1"})
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != domain.StatusPending || req.Required != 2 {
		t.Fatalf("quorum override ignored: %+v", req)
	}

	select {
	case res := <-done:
		t.Fatalf("future resolved below overridden quorum: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}
}
