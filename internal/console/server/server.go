package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/shellgate-prototype/internal/console/handler"
	"github.com/xela07ax/shellgate-prototype/internal/infra/auth"
	"go.uber.org/zap"
)

// ConsoleServer — операторский read-only API движка безопасности.
// Транспорт команд и кликов approve/reject живет в другом месте:
// здесь только очередь HITL, rollup нарушений и метрики.
type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка токенов (RS256). nil — dev-режим без аутентификации.
	authValidator auth.TokenValidator

	approvalHandler   *handler.ApprovalHandler   // /v1/approvals/pending
	violationsHandler *handler.ViolationsHandler // /v1/violations
	metricsHandler    http.Handler               // /metrics (Prometheus)
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	approvalH *handler.ApprovalHandler,
	violationsH *handler.ViolationsHandler,
	metricsH http.Handler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:            chi.NewRouter(),
		logger:            logger.Named("console-api"),
		authValidator:     validator,
		approvalHandler:   approvalH,
		violationsHandler: violationsH,
		metricsHandler:    metricsH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		if s.metricsHandler != nil {
			r.Handle("/metrics", s.metricsHandler)
		}
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (RS256 токен, если ключ настроен) ---
	r.Group(func(r chi.Router) {
		if s.authValidator != nil {
			r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		} else {
			s.logger.Warn("console auth disabled: no public key configured")
		}

		// Human-in-the-loop: очередь запросов на проверку
		r.Get("/v1/approvals/pending", s.approvalHandler.List)

		// Нарушения (Observability)
		r.Route("/v1/violations", func(r chi.Router) {
			r.Get("/summary", s.violationsHandler.Summary)
			r.Delete("/{projectID}", s.violationsHandler.Clear)
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
