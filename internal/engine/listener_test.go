package engine

import (
	"testing"

	"github.com/xela07ax/shellgate-prototype/internal/domain"
	"go.uber.org/zap"
)

// fakeDecider фиксирует последний примененный сигнал.
type fakeDecider struct {
	approved []string
	rejected []string
	votes    []domain.Approval
	err      error
}

func (f *fakeDecider) ApproveCommand(taskID string, vote domain.Approval) (*domain.ApprovalRequest, error) {
	f.approved = append(f.approved, taskID)
	f.votes = append(f.votes, vote)
	return &domain.ApprovalRequest{TaskID: taskID}, f.err
}

func (f *fakeDecider) RejectCommand(taskID string, by domain.Approval) (*domain.ApprovalRequest, error) {
	f.rejected = append(f.rejected, taskID)
	f.votes = append(f.votes, by)
	return &domain.ApprovalRequest{TaskID: taskID}, f.err
}

func TestApplySignalApprove(t *testing.T) {
	d := &fakeDecider{}

	applySignal(zap.NewNop(), d, `{"task_id":"t1","approved":true,"reviewer_id":"op-1","reviewer":"Operator"}`)

	if len(d.approved) != 1 || d.approved[0] != "t1" {
		t.Fatalf("approved = %v", d.approved)
	}
	if len(d.rejected) != 0 {
		t.Fatalf("rejected = %v", d.rejected)
	}
	if d.votes[0].ApproverID != "op-1" || d.votes[0].ApproverName != "Operator" {
		t.Fatalf("vote = %+v", d.votes[0])
	}
}

func TestApplySignalReject(t *testing.T) {
	d := &fakeDecider{}

	applySignal(zap.NewNop(), d, `{"task_id":"t1","approved":false,"reviewer_id":"op-1","comment":"too risky"}`)

	if len(d.rejected) != 1 || d.rejected[0] != "t1" {
		t.Fatalf("rejected = %v", d.rejected)
	}
	if d.votes[0].Reason != "too risky" {
		t.Fatalf("vote = %+v", d.votes[0])
	}
}

func TestApplySignalMalformed(t *testing.T) {
	d := &fakeDecider{}

	// Битый JSON и пустой task_id игнорируются без вызова движка
	applySignal(zap.NewNop(), d, `{not json`)
	applySignal(zap.NewNop(), d, `{"approved":true,"reviewer_id":"op-1"}`)

	if len(d.approved)+len(d.rejected) != 0 {
		t.Fatalf("decider called for malformed signal: %+v", d)
	}
}

func TestApplySignalUnknownTask(t *testing.T) {
	d := &fakeDecider{err: domain.ErrNotFound}

	// ErrNotFound не фатален: сигнал по уже разрешенной заявке
	applySignal(zap.NewNop(), d, `{"task_id":"gone","approved":true,"reviewer_id":"op-1"}`)

	if len(d.approved) != 1 {
		t.Fatalf("approved = %v", d.approved)
	}
}
