package policy

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/spf13/viper"
	"github.com/xela07ax/shellgate-prototype/internal/domain"
	"go.uber.org/zap"
)

// CompiledRule — правило с уже скомпилированным паттерном.
// Компиляция выполняется один раз при загрузке, Hot Path классификатора работает только с RAM.
type CompiledRule struct {
	domain.Rule
	re *regexp.Regexp
}

// Matches проверяет сырой текст команды. Паттерны всегда case-insensitive.
func (r *CompiledRule) Matches(command string) bool {
	return r.re.MatchString(command)
}

// Store держит упорядоченный список правил и кэширует его после первой успешной загрузки.
// Инвариант: список никогда не пуст — битый или пустой override молча
// заменяется встроенными дефолтами (классификация не имеет права упасть).
type Store struct {
	mu           sync.RWMutex
	cached       []CompiledRule
	overridePath string // Путь к YAML с кастомными правилами; пустая строка — только дефолты
	logger       *zap.Logger
}

func NewStore(overridePath string, logger *zap.Logger) *Store {
	return &Store{
		overridePath: overridePath,
		logger:       logger.Named("policy-store"),
	}
}

// Load возвращает активный набор правил. Повторные вызовы отдают кэш.
func (s *Store) Load() []CompiledRule {
	s.mu.RLock()
	if s.cached != nil {
		defer s.mu.RUnlock()
		return s.cached
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return s.cached
	}

	s.cached = s.build()
	return s.cached
}

// ClearCache сбрасывает кэш: следующий Load перечитает override-файл.
func (s *Store) ClearCache() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// build собирает активный набор: сначала пробуем override, при любой проблеме — дефолты.
func (s *Store) build() []CompiledRule {
	if s.overridePath != "" {
		if rules := s.loadOverride(); len(rules) > 0 {
			s.logger.Info("policy override loaded", zap.Int("rules", len(rules)))
			return rules
		}
		s.logger.Warn("policy override unusable, falling back to builtin defaults",
			zap.String("path", s.overridePath))
	}
	return compileRules(defaultRules(), s.logger)
}

// loadOverride читает YAML-файл формата { rules: [...] }.
// Отдельное битое правило пропускается, полностью пустой результат — бракуем override целиком.
func (s *Store) loadOverride() []CompiledRule {
	v := viper.New()
	v.SetConfigFile(s.overridePath)

	if err := v.ReadInConfig(); err != nil {
		s.logger.Warn("failed to read policy override", zap.Error(err))
		return nil
	}

	var raw []domain.Rule
	if err := v.UnmarshalKey("rules", &raw); err != nil {
		s.logger.Warn("failed to decode policy override", zap.Error(err))
		return nil
	}

	return compileRules(raw, s.logger)
}

// compileRules отбрасывает некомпилируемые правила (InvalidRule), остальные — в таблицу.
func compileRules(raw []domain.Rule, logger *zap.Logger) []CompiledRule {
	out := make([]CompiledRule, 0, len(raw))
	for _, r := range raw {
		cr, err := compileRule(r)
		if err != nil {
			logger.Warn("skipping invalid policy rule",
				zap.String("rule_id", r.ID), zap.Error(err))
			continue
		}
		out = append(out, cr)
	}
	return out
}

func compileRule(r domain.Rule) (CompiledRule, error) {
	if !r.Action.Valid() {
		return CompiledRule{}, fmt.Errorf("%w: rule %q has unknown action %q",
			domain.ErrInvalidRule, r.ID, r.Action)
	}
	if r.Pattern == "" {
		return CompiledRule{}, fmt.Errorf("%w: rule %q has empty pattern", domain.ErrInvalidRule, r.ID)
	}

	re, err := regexp.Compile("(?i)" + r.Pattern)
	if err != nil {
		return CompiledRule{}, fmt.Errorf("%w: rule %q: %v", domain.ErrInvalidRule, r.ID, err)
	}
	return CompiledRule{Rule: r, re: re}, nil
}

// IsInvalidRule — хелпер для тестов и диагностики.
func IsInvalidRule(err error) bool {
	return errors.Is(err, domain.ErrInvalidRule)
}
