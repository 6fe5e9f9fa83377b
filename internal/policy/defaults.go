package policy

import "github.com/xela07ax/shellgate-prototype/internal/domain"

// defaultRules — встроенный набор правил (Zero Config).
// Порядок важен: первый матч побеждает, поэтому deny-правила идут раньше approval.
// Набор паттернов собран по реальным инцидентам автономных агентов:
// рекурсивное удаление корня, форматирование ФС, запись в блочные устройства, fork bomb.
func defaultRules() []domain.Rule {
	return []domain.Rule{
		{
			ID:       "rm-rf-root",
			Action:   domain.ActionDeny,
			Pattern:  `rm\s+(-[rf]+\s+)+(/($|\s)|/\*|~($|\s|/)|--no-preserve-root)`,
			Reason:   "recursive removal of the filesystem root or home directory",
			Severity: domain.SeverityCritical,
			Code:     "DANGER_RM_RF_ROOT",
		},
		{
			ID:       "mkfs",
			Action:   domain.ActionDeny,
			Pattern:  `(^|\s|;|&&|\|\|)mkfs(\.[a-z0-9]+)?\s`,
			Reason:   "filesystem formatting destroys all data on the target device",
			Severity: domain.SeverityCritical,
			Code:     "DANGER_MKFS",
		},
		{
			ID:       "dd-block-device",
			Action:   domain.ActionDeny,
			Pattern:  `\bdd\b.*\bof=/dev/`,
			Reason:   "raw write to a block device",
			Severity: domain.SeverityCritical,
			Code:     "DANGER_DD_DEVICE",
		},
		{
			ID:       "fork-bomb",
			Action:   domain.ActionDeny,
			Pattern:  `:\(\)\s*\{\s*:\|:&\s*\}\s*;\s*:`,
			Reason:   "classic fork bomb exhausts the process table",
			Severity: domain.SeverityHigh,
			Code:     "DANGER_FORK_BOMB",
		},
		{
			ID:       "chmod-777",
			Action:   domain.ActionApproval,
			Pattern:  `chmod\s+(-[a-z]+\s+)*0?777\b`,
			Reason:   "world-writable permissions broaden the attack surface",
			Severity: domain.SeverityMedium,
			Code:     "DANGER_CHMOD_777",
		},
		{
			ID:       "curl-pipe-shell",
			Action:   domain.ActionApproval,
			Pattern:  `(curl|wget)\s+[^|;]*\|\s*(sudo\s+)?(ba|z|da)?sh\b`,
			Reason:   "remote script piped straight into a shell",
			Severity: domain.SeverityHigh,
			Code:     "DANGER_CURL_PIPE_SH",
		},
		{
			ID:       "system-shutdown",
			Action:   domain.ActionApproval,
			Pattern:  `(^|\s|;|&&)(shutdown|reboot|halt|poweroff)\b`,
			Reason:   "system shutdown or reboot interrupts every running workload",
			Severity: domain.SeverityHigh,
			Code:     "DANGER_SHUTDOWN",
		},
		{
			ID:       "git-force-push",
			Action:   domain.ActionApproval,
			Pattern:  `git\s+push\s+.*(--force($|\s)|-f($|\s))`,
			Reason:   "force push rewrites remote history",
			Severity: domain.SeverityMedium,
			Code:     "DANGER_GIT_FORCE_PUSH",
		},
	}
}
