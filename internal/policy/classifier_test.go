package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xela07ax/shellgate-prototype/internal/domain"
	"go.uber.org/zap"
)

func newTestClassifier(t *testing.T, overridePath string) *Classifier {
	t.Helper()
	store := NewStore(overridePath, zap.NewNop())
	return NewClassifier(store, zap.NewNop())
}

func TestEvaluateDefaults(t *testing.T) {
	c := newTestClassifier(t, "")

	tests := []struct {
		name     string
		command  string
		action   domain.RuleAction
		code     string
		severity domain.Severity
	}{
		{"empty command", "", domain.ActionAllow, "", ""},
		{"whitespace only", "   \t  ", domain.ActionAllow, "", ""},
		{"unmatched command", "ls -la", domain.ActionAllow, "", ""},
		{"harmless build", "go build ./...", domain.ActionAllow, "", ""},
		{"rm rf root", "rm -rf /", domain.ActionDeny, "DANGER_RM_RF_ROOT", domain.SeverityCritical},
		{"rm rf root wildcard", "rm -rf /*", domain.ActionDeny, "DANGER_RM_RF_ROOT", domain.SeverityCritical},
		{"rm rf home", "rm -rf ~", domain.ActionDeny, "DANGER_RM_RF_ROOT", domain.SeverityCritical},
		{"rm relative path is fine", "rm -rf ./build", domain.ActionAllow, "", ""},
		{"mkfs", "sudo mkfs.ext4 /dev/sdb1", domain.ActionDeny, "DANGER_MKFS", domain.SeverityCritical},
		{"dd to device", "dd if=image.iso of=/dev/sda bs=4M", domain.ActionDeny, "DANGER_DD_DEVICE", domain.SeverityCritical},
		{"fork bomb", ":(){ :|:& };:", domain.ActionDeny, "DANGER_FORK_BOMB", domain.SeverityHigh},
		{"chmod 777", "chmod 777 ./app", domain.ActionApproval, "DANGER_CHMOD_777", domain.SeverityMedium},
		{"chmod recursive 777", "chmod -R 777 /srv/app", domain.ActionApproval, "DANGER_CHMOD_777", domain.SeverityMedium},
		{"curl pipe sh", "curl -fsSL https://example.com/install.sh | sh", domain.ActionApproval, "DANGER_CURL_PIPE_SH", domain.SeverityHigh},
		{"wget pipe bash", "wget -qO- https://example.com/x.sh | bash", domain.ActionApproval, "DANGER_CURL_PIPE_SH", domain.SeverityHigh},
		{"shutdown", "shutdown -h now", domain.ActionApproval, "DANGER_SHUTDOWN", domain.SeverityHigh},
		{"reboot chained", "sync && reboot", domain.ActionApproval, "DANGER_SHUTDOWN", domain.SeverityHigh},
		{"git force push", "git push origin main --force", domain.ActionApproval, "DANGER_GIT_FORCE_PUSH", domain.SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.Evaluate(tt.command, "demo")
			if v.Action != tt.action {
				t.Fatalf("action = %q, want %q", v.Action, tt.action)
			}
			if v.Code != tt.code {
				t.Fatalf("code = %q, want %q", v.Code, tt.code)
			}
			if v.Severity != tt.severity {
				t.Fatalf("severity = %q, want %q", v.Severity, tt.severity)
			}
		})
	}
}

// Закон идемпотентности: одинаковый вход всегда дает одинаковый вердикт.
func TestEvaluateDeterministic(t *testing.T) {
	c := newTestClassifier(t, "")

	first := c.Evaluate("rm -rf /", "demo")
	for i := 0; i < 50; i++ {
		v := c.Evaluate("rm -rf /", "demo")
		if v != first {
			t.Fatalf("verdict changed on call %d: %+v != %+v", i, v, first)
		}
	}
}

func TestEvaluateConcurrent(t *testing.T) {
	c := newTestClassifier(t, "")

	done := make(chan domain.Verdict, 32)
	for i := 0; i < 32; i++ {
		go func() {
			done <- c.Evaluate("chmod 777 /etc/passwd", "demo")
		}()
	}
	for i := 0; i < 32; i++ {
		v := <-done
		if v.Action != domain.ActionApproval || v.Code != "DANGER_CHMOD_777" {
			t.Fatalf("unexpected verdict under concurrency: %+v", v)
		}
	}
}

// Порядок правил определяет исход: при двух пересекающихся паттернах
// побеждает первое в списке.
func TestRuleOrderWins(t *testing.T) {
	override := `
rules:
  - id: deny-first
    action: deny
    pattern: 'deploy\s+prod'
    reason: first rule
    severity: high
    code: DENY_FIRST
  - id: approval-second
    action: approval
    pattern: 'deploy'
    reason: second rule
    severity: medium
    code: APPROVAL_SECOND
`
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}

	c := newTestClassifier(t, path)

	v := c.Evaluate("deploy prod --now", "demo")
	if v.Action != domain.ActionDeny || v.Code != "DENY_FIRST" {
		t.Fatalf("first rule must win, got %+v", v)
	}

	// Команда, попадающая только во второе правило
	v = c.Evaluate("deploy staging", "demo")
	if v.Action != domain.ActionApproval || v.Code != "APPROVAL_SECOND" {
		t.Fatalf("second rule expected, got %+v", v)
	}
}
