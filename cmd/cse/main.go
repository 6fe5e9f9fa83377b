package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/shellgate-prototype/internal/audit"
	"github.com/xela07ax/shellgate-prototype/internal/console/handler"
	"github.com/xela07ax/shellgate-prototype/internal/console/server"
	"github.com/xela07ax/shellgate-prototype/internal/domain"
	"github.com/xela07ax/shellgate-prototype/internal/engine"
	"github.com/xela07ax/shellgate-prototype/internal/infra"
	"github.com/xela07ax/shellgate-prototype/internal/infra/auth"
	"github.com/xela07ax/shellgate-prototype/internal/policy"
	"github.com/xela07ax/shellgate-prototype/internal/repository/postgres"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Redis (опционально): входящие сигналы апрувов + исходящая лента событий
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	// 3. Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	// 4. Audit Trail: backend + контур надежности + батчинг
	storage, closeStorage, err := buildAuditStorage(cfg, logger)
	if err != nil {
		log.Fatalf("failed to init audit storage: %v", err)
	}
	defer closeStorage()

	trail := audit.NewTrail(
		audit.NewReliableStorage(storage),
		logger,
		audit.WithBufferSize(cfg.Audit.BufferSize),
		audit.WithBatch(cfg.Audit.BatchSize, cfg.Audit.FlushInterval),
		audit.WithFillGauge(metrics.AuditBufferFill),
	)
	trail.Start()

	// AuditWriteFailure не роняет решения, но обязан быть виден оператору
	go func() {
		for err := range trail.Errors() {
			metrics.AuditWriteFailures.Inc()
			logger.Error("AUDIT WRITE FAILURE", zap.Error(err))
		}
	}()

	// 5. Policy: таблица правил + классификатор
	store := policy.NewStore(cfg.Policy.OverridePath, logger)
	classifier := policy.NewClassifier(store, logger)

	// 6. Core (сборка Policy Engine)
	var feed engine.Feed = engine.NopFeed{}
	if rdb != nil {
		feed = engine.NewRedisFeed(rdb, logger)
	}

	eng := engine.New(classifier, trail, feed, metrics, logger,
		engine.WithApprovalQuorum(quorumFromConfig(cfg.Engine.ApprovalQuorum)),
	)

	// Слушатель решений оператора (HITL): Console/ChatOps -> Redis -> движок
	if rdb != nil {
		go engine.ListenApprovalSignals(appCtx, rdb, logger, eng)
	}

	// 7. Операторский read-only API
	var validator auth.TokenValidator
	if pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey); err == nil {
		validator = auth.NewBaseValidator(pubKey)
	} else {
		logger.Warn("operator token validation disabled", zap.Error(err))
	}

	console := server.NewConsoleServer(
		logger,
		validator,
		handler.NewApprovalHandler(eng),
		handler.NewViolationsHandler(eng),
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	)

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      console,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("CSE console started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-stop // Ждем сигнал
	logger.Info("CSE stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Останавливаем слушателей, затем Drain: дописываем хвост аудита
	cancel()
	trail.Stop()
	if rdb != nil {
		rdb.Close()
	}
	logger.Info("CSE exited properly")
}

// buildAuditStorage выбирает backend аудита по конфигу.
func buildAuditStorage(cfg *infra.Config, logger *zap.Logger) (audit.StorageInterface, func(), error) {
	if cfg.Audit.Backend == "postgres" {
		repo, err := postgres.NewAuditRepo(cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.Ping(ctx); err != nil {
			return nil, nil, err
		}
		return repo, func() { repo.Close() }, nil
	}
	return audit.NewFileStore(cfg.Audit.Dir, logger), func() {}, nil
}

// quorumFromConfig мапит строковые ключи конфига на domain.Severity.
func quorumFromConfig(raw map[string]int) map[domain.Severity]int {
	out := make(map[domain.Severity]int, len(raw))
	for k, v := range raw {
		out[domain.Severity(k)] = v
	}
	return out
}

func buildLogger(cfg infra.LoggerConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = lvl
	}
	return zc.Build()
}
