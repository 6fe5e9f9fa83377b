package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации Command Safety Engine.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Watchdog  WatchdogConfig  `mapstructure:"watchdog"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig описывает настройки операторского HTTP-сервера (read-only API).
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RedisConfig описывает подключение к Redis (сигналы апрувов и лента событий).
// Пустой Addr — работаем без Redis: лента отключена, решения приходят только напрямую.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig — Postgres для аудита, если выбран backend "postgres".
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// PolicyConfig — источник override-правил классификатора.
type PolicyConfig struct {
	OverridePath string `mapstructure:"override_path"`
}

// EngineConfig содержит настройки Policy Engine.
type EngineConfig struct {
	// Кворум апрувов по severity. Незаданные уровни получают дефолт движка.
	ApprovalQuorum map[string]int `mapstructure:"approval_quorum"`
}

// AuditConfig настраивает Audit Trail.
type AuditConfig struct {
	Backend       string        `mapstructure:"backend"` // file | postgres
	Dir           string        `mapstructure:"dir"`     // Для file-backend
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// WatchdogConfig — пороги Stall Watchdog.
type WatchdogConfig struct {
	StallThreshold time.Duration `mapstructure:"stall_threshold"`
	StallIdle      time.Duration `mapstructure:"stall_idle"`
}

// HeartbeatConfig — пороги пульса долгоиграющих команд.
type HeartbeatConfig struct {
	Threshold time.Duration `mapstructure:"threshold"`
	Interval  time.Duration `mapstructure:"interval"`
}

// AuthConfig содержит публичный ключ для проверки операторских токенов (RS256).
// Пустой ключ — операторский API работает без аутентификации (dev-режим).
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Ключ из файла ИЛИ напрямую из ENV (для Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("audit.backend", "file")
	v.SetDefault("audit.dir", "./audit")
	v.SetDefault("audit.buffer_size", 10000)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", 500*time.Millisecond)
	v.SetDefault("watchdog.stall_threshold", 45*time.Second)
	v.SetDefault("watchdog.stall_idle", 15*time.Second)
	v.SetDefault("heartbeat.threshold", 8*time.Second)
	v.SetDefault("heartbeat.interval", 5*time.Second)
}

// loadKeyResource — универсальный хелпер: PEM из ENV или файл по пути из конфига
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
