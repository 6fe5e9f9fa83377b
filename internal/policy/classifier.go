package policy

import (
	"strings"

	"github.com/xela07ax/shellgate-prototype/internal/domain"
	"go.uber.org/zap"
)

// Classifier — чистая функция над таблицей правил: команда -> вердикт.
// Никаких сайд-эффектов, безопасен для конкурентных и повторных вызовов
// (идемпотентность — закон: одинаковый вход дает одинаковый вердикт).
type Classifier struct {
	store  *Store
	logger *zap.Logger
}

func NewClassifier(store *Store, logger *zap.Logger) *Classifier {
	return &Classifier{
		store:  store,
		logger: logger.Named("classifier"),
	}
}

// Evaluate сканирует правила в порядке списка, первый матч определяет действие.
// Пустая команда и команда без матча — allow без кода.
// Комбинирования правил и скоринга нет: это таблица, а не ML.
func (c *Classifier) Evaluate(command, projectID string) domain.Verdict {
	if strings.TrimSpace(command) == "" {
		return domain.Verdict{Action: domain.ActionAllow}
	}

	rules := c.store.Load()
	for i := range rules {
		r := &rules[i]
		if r.Matches(command) {
			return domain.Verdict{
				Action:   r.Action,
				Code:     r.Code,
				Reason:   r.Reason,
				Severity: r.Severity,
			}
		}
	}

	// Implicit allow: отсутствие матча — не ошибка, а штатный исход
	return domain.Verdict{Action: domain.ActionAllow}
}
