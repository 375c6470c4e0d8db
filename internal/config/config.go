// Package config загружает конфигурацию процессов Weaver.
//
// Источник — YAML-файл; переменные окружения переопределяют значения
// из файла. Отсутствующий файл не ошибка: используются значения по
// умолчанию. Библиотечные пакеты конфигурацию не читают, они получают
// готовые Config-структуры от cmd.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Weaver/internal/datadoc"
	"github.com/shaiso/Weaver/internal/telemetry"
)

// ErrInvalidConfig — конфигурация некорректна.
var ErrInvalidConfig = errors.New("invalid config")

// Backends хранилища результатов.
const (
	ResultsInline = "inline"
	ResultsRedis  = "redis"
)

// Config — конфигурация процесса.
type Config struct {
	Database  DatabaseConfig            `yaml:"database"`
	RabbitMQ  RabbitMQConfig            `yaml:"rabbitmq"`
	Redis     RedisConfig               `yaml:"redis"`
	Log       telemetry.LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig           `yaml:"scheduler"`
	Agent     AgentConfig               `yaml:"agent"`
	Cluster   ClusterConfig             `yaml:"cluster"`
	Results   ResultsConfig             `yaml:"results"`
	Logs      telemetry.BatchSinkConfig `yaml:"logs"`
	HTTP      HTTPConfig                `yaml:"http"`
}

// DatabaseConfig — Record Store (Postgres).
type DatabaseConfig struct {
	// URL — DSN Postgres; env DB_URL.
	URL string `yaml:"url"`

	// Migrate — создавать таблицы при старте.
	Migrate bool `yaml:"migrate"`
}

// RabbitMQConfig — брокер распределённого кластера.
type RabbitMQConfig struct {
	// URL — env RABBITMQ_URL.
	URL string `yaml:"url"`
}

// RedisConfig — удалённое хранилище результатов.
type RedisConfig struct {
	// URL — env REDIS_URL.
	URL string `yaml:"url"`
}

// SchedulerConfig — сервис weaver-scheduler.
type SchedulerConfig struct {
	MaxRuns             int           `yaml:"max_runs"`
	MaxScheduledTime    time.Duration `yaml:"max_scheduled_time"`
	InsertBatchSize     int           `yaml:"insert_batch_size"`
	DeploymentBatchSize int           `yaml:"deployment_batch_size"`
	LoopIntervalSeconds int           `yaml:"loop_interval_seconds"`

	// LoopCount — число циклов; 0 — без ограничения.
	LoopCount int `yaml:"loop_count"`
}

// LoopInterval возвращает период цикла scheduler.
func (c SchedulerConfig) LoopInterval() time.Duration {
	return time.Duration(c.LoopIntervalSeconds) * time.Second
}

// AgentConfig — сервис weaver-agent.
type AgentConfig struct {
	PrefetchSeconds     int `yaml:"prefetch_seconds"`
	LoopIntervalSeconds int `yaml:"loop_interval_seconds"`

	// SubmissionRate — отправок в секунду; 0 — без ограничения.
	SubmissionRate float64 `yaml:"submission_rate"`

	// Limit — одновременно выполняемых flow runs; 0 — без ограничения.
	Limit int `yaml:"limit"`

	// Flows — имена flows, которые обслуживает agent; пусто — все зарегистрированные.
	Flows []string `yaml:"flows"`
}

// Prefetch возвращает окно prefetch.
func (c AgentConfig) Prefetch() time.Duration {
	return time.Duration(c.PrefetchSeconds) * time.Second
}

// LoopInterval возвращает период poll agent.
func (c AgentConfig) LoopInterval() time.Duration {
	return time.Duration(c.LoopIntervalSeconds) * time.Second
}

// ClusterConfig — распределённый task runner.
type ClusterConfig struct {
	// Workers — воркеры LocalCluster и параллельные work items weaver-worker.
	Workers int `yaml:"workers"`

	// DashboardAddress — адрес /healthz + /metrics LocalCluster.
	DashboardAddress string `yaml:"dashboard_address"`

	// Address — AMQP URL существующего кластера; пусто — LocalCluster.
	Address string `yaml:"address"`

	// Prefetch — work items без подтверждения на каждый обработчик weaver-worker.
	Prefetch int `yaml:"prefetch"`
}

// ResultsConfig — хранение результатов состояний.
type ResultsConfig struct {
	// Format — json или msgpack.
	Format string `yaml:"format"`

	// Backend — inline или redis.
	Backend string `yaml:"backend"`

	// TTL — время жизни результатов в redis.
	TTL time.Duration `yaml:"ttl"`
}

// HTTPConfig — служебный HTTP сервер.
type HTTPConfig struct {
	// Addr — адрес /healthz + /metrics.
	Addr string `yaml:"addr"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	return Config{
		Log: telemetry.LogConfig{Level: "INFO", Format: "json"},
		Scheduler: SchedulerConfig{
			MaxRuns:             100,
			MaxScheduledTime:    100 * 24 * time.Hour,
			InsertBatchSize:     500,
			DeploymentBatchSize: 100,
			LoopIntervalSeconds: 60,
		},
		Agent: AgentConfig{
			PrefetchSeconds:     10,
			LoopIntervalSeconds: 5,
		},
		Cluster: ClusterConfig{
			Workers:  4,
			Prefetch: 5,
		},
		Results: ResultsConfig{
			Format:  datadoc.FormatJSON,
			Backend: ResultsInline,
			TTL:     7 * 24 * time.Hour,
		},
		Logs: telemetry.BatchSinkConfig{
			BatchSize:     100,
			BatchInterval: 2 * time.Second,
			MaxLogSize:    1 << 20,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}

// Load читает конфигурацию из path и применяет переменные окружения.
// Пустой path или отсутствующий файл — значения по умолчанию.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := decode(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// decode разбирает YAML поверх cfg. Неизвестные ключи — ошибка.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// envVar — переопределение поля из окружения.
type envVar struct {
	name  string
	apply func(cfg *Config, value string) error
}

func stringVar(name string, field func(*Config) *string) envVar {
	return envVar{name, func(cfg *Config, v string) error {
		*field(cfg) = v
		return nil
	}}
}

func intVar(name string, field func(*Config) *int) envVar {
	return envVar{name, func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(cfg) = n
		return nil
	}}
}

func floatVar(name string, field func(*Config) *float64) envVar {
	return envVar{name, func(cfg *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(cfg) = f
		return nil
	}}
}

func durationVar(name string, field func(*Config) *time.Duration) envVar {
	return envVar{name, func(cfg *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(cfg) = d
		return nil
	}}
}

var envVars = []envVar{
	stringVar("DB_URL", func(c *Config) *string { return &c.Database.URL }),
	stringVar("RABBITMQ_URL", func(c *Config) *string { return &c.RabbitMQ.URL }),
	stringVar("REDIS_URL", func(c *Config) *string { return &c.Redis.URL }),
	stringVar("LOG_LEVEL", func(c *Config) *string { return &c.Log.Level }),
	stringVar("LOG_FORMAT", func(c *Config) *string { return &c.Log.Format }),

	stringVar("WEAVER_HTTP_ADDR", func(c *Config) *string { return &c.HTTP.Addr }),
	stringVar("WEAVER_RESULTS_FORMAT", func(c *Config) *string { return &c.Results.Format }),
	stringVar("WEAVER_RESULTS_BACKEND", func(c *Config) *string { return &c.Results.Backend }),
	durationVar("WEAVER_RESULTS_TTL", func(c *Config) *time.Duration { return &c.Results.TTL }),

	intVar("WEAVER_SCHEDULER_MAX_RUNS", func(c *Config) *int { return &c.Scheduler.MaxRuns }),
	durationVar("WEAVER_SCHEDULER_MAX_SCHEDULED_TIME", func(c *Config) *time.Duration { return &c.Scheduler.MaxScheduledTime }),
	intVar("WEAVER_SCHEDULER_INSERT_BATCH_SIZE", func(c *Config) *int { return &c.Scheduler.InsertBatchSize }),
	intVar("WEAVER_SCHEDULER_LOOP_INTERVAL_SECONDS", func(c *Config) *int { return &c.Scheduler.LoopIntervalSeconds }),
	intVar("WEAVER_SCHEDULER_LOOP_COUNT", func(c *Config) *int { return &c.Scheduler.LoopCount }),

	intVar("WEAVER_AGENT_PREFETCH_SECONDS", func(c *Config) *int { return &c.Agent.PrefetchSeconds }),
	intVar("WEAVER_AGENT_LOOP_INTERVAL_SECONDS", func(c *Config) *int { return &c.Agent.LoopIntervalSeconds }),
	floatVar("WEAVER_AGENT_SUBMISSION_RATE", func(c *Config) *float64 { return &c.Agent.SubmissionRate }),
	intVar("WEAVER_AGENT_LIMIT", func(c *Config) *int { return &c.Agent.Limit }),

	intVar("WEAVER_CLUSTER_WORKERS", func(c *Config) *int { return &c.Cluster.Workers }),
	stringVar("WEAVER_CLUSTER_DASHBOARD_ADDRESS", func(c *Config) *string { return &c.Cluster.DashboardAddress }),
	stringVar("WEAVER_CLUSTER_ADDRESS", func(c *Config) *string { return &c.Cluster.Address }),

	intVar("WEAVER_LOGS_BATCH_SIZE", func(c *Config) *int { return &c.Logs.BatchSize }),
	durationVar("WEAVER_LOGS_BATCH_INTERVAL", func(c *Config) *time.Duration { return &c.Logs.BatchInterval }),
	intVar("WEAVER_LOGS_MAX_LOG_SIZE", func(c *Config) *int { return &c.Logs.MaxLogSize }),
}

// applyEnv переопределяет поля заданными переменными окружения.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, v := range envVars {
		value, ok := lookup(v.name)
		if !ok || value == "" {
			continue
		}
		if err := v.apply(cfg, value); err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, v.name, value, err)
		}
	}
	return nil
}

// Validate проверяет согласованность конфигурации.
func (c Config) Validate() error {
	if !slices.Contains(datadoc.Formats(), c.Results.Format) {
		return fmt.Errorf("%w: results.format %q (want one of %v)", ErrInvalidConfig, c.Results.Format, datadoc.Formats())
	}
	switch c.Results.Backend {
	case ResultsInline:
	case ResultsRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("%w: results.backend redis requires redis.url", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: results.backend %q", ErrInvalidConfig, c.Results.Backend)
	}
	if c.Scheduler.MaxRuns < 0 || c.Scheduler.InsertBatchSize < 0 || c.Scheduler.LoopCount < 0 {
		return fmt.Errorf("%w: scheduler limits must not be negative", ErrInvalidConfig)
	}
	if c.Agent.SubmissionRate < 0 {
		return fmt.Errorf("%w: agent.submission_rate must not be negative", ErrInvalidConfig)
	}
	return nil
}
