// Copyright 2026 The JobForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构体；API 与 Worker 进程共用
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Store      StoreConfig      `mapstructure:"store"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Events     EventsConfig     `mapstructure:"events"`
	Connectors ConnectorsConfig `mapstructure:"connectors"`
	Features   Features         `mapstructure:"features"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port       int              `mapstructure:"port"`    // 默认 8080
	Host       string           `mapstructure:"host"`    // 默认 0.0.0.0
	Timeout    string           `mapstructure:"timeout"` // 如 "30s"
	Middleware MiddlewareConfig `mapstructure:"middleware"`
}

// MiddlewareConfig 认证与限流中间件配置
type MiddlewareConfig struct {
	Auth          string `mapstructure:"auth"` // none | jwt；默认 none
	JWTKey        string `mapstructure:"jwt_key"`
	JWTTimeout    string `mapstructure:"jwt_timeout"`     // 如 "1h"
	JWTMaxRefresh string `mapstructure:"jwt_max_refresh"` // 如 "1h"
	RateLimit     bool   `mapstructure:"rate_limit"`
	RateLimitRPS  int    `mapstructure:"rate_limit_rps"`
}

// StoreConfig 行存储配置；所有组件（队列/事件/模板/策略/审计/清单）共用
type StoreConfig struct {
	Type     string `mapstructure:"type"`      // memory | postgres
	DSN      string `mapstructure:"dsn"`       // type=postgres 时必填
	PoolSize int    `mapstructure:"pool_size"` // <=0 使用 pgx 默认
}

// QueueConfig 队列语义配置：租约、重试 backoff
type QueueConfig struct {
	LeaseDuration string  `mapstructure:"lease_duration"` // 默认 "60s"
	MaxAttempts   int     `mapstructure:"max_attempts"`   // 任务默认 max_attempts，<=0 时 5
	BackoffBase   string  `mapstructure:"backoff_base"`   // 默认 "30s"
	BackoffFactor float64 `mapstructure:"backoff_factor"` // 默认 2.0
	BackoffCap    string  `mapstructure:"backoff_cap"`    // 默认 "1h"
	ReapInterval  string  `mapstructure:"reap_interval"`  // 租约回收扫描间隔，默认 "5s"
}

// WorkerConfig Worker 进程配置
type WorkerConfig struct {
	ID           string   `mapstructure:"id"`            // 空则取 WORKER_ID/主机名
	Concurrency  int      `mapstructure:"concurrency"`   // 最大并发执行数，<=0 默认 4
	PollInterval string   `mapstructure:"poll_interval"` // Claim 轮询间隔，默认 "2s"
	ClaimLimit   int      `mapstructure:"claim_limit"`   // 每次 Claim 的上限，<=0 默认 10
	JobTypes     []string `mapstructure:"job_types"`     // 空表示注册表内全部类型
	DryRun       bool     `mapstructure:"dry_run"`       // 连接器干跑模式
}

// EventsConfig 事件存储配置
type EventsConfig struct {
	Dedupe   DedupeConfig      `mapstructure:"dedupe"`
	Triggers map[string]string `mapstructure:"triggers"` // subject_type -> 任务类型；features.triggers 开启时生效
}

// DedupeConfig 事件去重（尽力而为）配置；Addr 为空时退化为进程内去重
type DedupeConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPassword string `mapstructure:"redis_password"`
	TTL           string `mapstructure:"ttl"` // 默认 "10m"
}

// ConnectorsConfig 连接器 harness 配置
type ConnectorsConfig struct {
	MaxAttempts    int                             `mapstructure:"max_attempts"`     // 默认 3
	AttemptTimeout string                          `mapstructure:"attempt_timeout"`  // 默认 "30s"
	BackoffBase    string                          `mapstructure:"backoff_base"`     // 默认 "250ms"
	BackoffFactor  float64                         `mapstructure:"backoff_factor"`   // 默认 2.0
	BackoffCap     string                          `mapstructure:"backoff_cap"`      // 默认 "10s"
	RateLimitDelay string                          `mapstructure:"rate_limit_delay"` // 无 Retry-After 时的 429 等待，默认 "1s"
	HostAllowlist  []string                        `mapstructure:"host_allowlist"`   // http/webhook 连接器出站主机白名单
	RateLimits     map[string]ConnectorLimitConfig `mapstructure:"rate_limits"`      // connector_id -> 限流
}

// ConnectorLimitConfig 单个连接器的 QPS + 并发限制
type ConnectorLimitConfig struct {
	QPS           float64 `mapstructure:"qps"`
	MaxConcurrent int     `mapstructure:"max_concurrent"`
	Burst         int     `mapstructure:"burst"`
}

// Features 功能开关，进程启动时解析一次后不可变；全部默认关闭
type Features struct {
	Events    bool `mapstructure:"events"`
	Triggers  bool `mapstructure:"triggers"`
	Autopilot bool `mapstructure:"autopilot"`
	Actions   bool `mapstructure:"actions"`
	Manifests bool `mapstructure:"manifests"`
	Audit     bool `mapstructure:"audit"`
}

// SecretsConfig 密钥解析配置
type SecretsConfig struct {
	Provider   string `mapstructure:"provider"` // env | vault | memory；默认 env
	VaultAddr  string `mapstructure:"vault_addr"`
	VaultToken string `mapstructure:"vault_token"`
	PathPrefix string `mapstructure:"path_prefix"`
}

// RetentionConfig 数据保留配置；保留清扫是唯一的行删除者
type RetentionConfig struct {
	Enable        bool   `mapstructure:"enable"`
	RetentionDays int    `mapstructure:"retention_days"` // <=0 默认 90
	ScanInterval  string `mapstructure:"scan_interval"`  // 默认 "24h"
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// LoadConfig 加载配置文件并叠加 JOBFORGE_ 前缀的环境变量
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("jobforge")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindKeys(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configPath, err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
	}
	return &config, nil
}

// LoadFromEnv 仅从环境变量构建配置；没有配置文件的部署（纯 env）用这个入口
func LoadFromEnv() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("jobforge")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindKeys(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	return &config, nil
}

// bindKeys AutomaticEnv 对 Unmarshal 不生效，未出现在配置文件中的键需要显式绑定
func bindKeys(v *viper.Viper) {
	keys := []string{
		"api.port", "api.host", "api.timeout",
		"api.middleware.auth", "api.middleware.jwt_key", "api.middleware.jwt_timeout",
		"api.middleware.jwt_max_refresh", "api.middleware.rate_limit", "api.middleware.rate_limit_rps",
		"store.type", "store.dsn", "store.pool_size",
		"queue.lease_duration", "queue.max_attempts", "queue.backoff_base",
		"queue.backoff_factor", "queue.backoff_cap", "queue.reap_interval",
		"worker.id", "worker.concurrency", "worker.poll_interval", "worker.claim_limit", "worker.dry_run",
		"events.dedupe.redis_addr", "events.dedupe.redis_db", "events.dedupe.redis_password", "events.dedupe.ttl",
		"connectors.max_attempts", "connectors.attempt_timeout", "connectors.backoff_base",
		"connectors.backoff_factor", "connectors.backoff_cap", "connectors.rate_limit_delay",
		"features.events", "features.triggers", "features.autopilot",
		"features.actions", "features.manifests", "features.audit",
		"secrets.provider", "secrets.vault_addr", "secrets.vault_token", "secrets.path_prefix",
		"retention.enable", "retention.retention_days", "retention.scan_interval",
		"log.level", "log.format", "log.file",
		"monitoring.tracing.enable", "monitoring.tracing.service_name",
		"monitoring.tracing.export_endpoint", "monitoring.tracing.insecure",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

// LoadAPIConfig 加载 API 进程配置：JOBFORGE_CONFIG 指定的文件，否则 configs/api.yaml，
// 文件不存在时退化为纯环境变量
func LoadAPIConfig() (*Config, error) {
	return loadProcessConfig("configs/api.yaml")
}

// LoadWorkerConfig 加载 Worker 进程配置，规则同 LoadAPIConfig，默认 configs/worker.yaml
func LoadWorkerConfig() (*Config, error) {
	return loadProcessConfig("configs/worker.yaml")
}

func loadProcessConfig(defaultPath string) (*Config, error) {
	if p := os.Getenv("JOBFORGE_CONFIG"); p != "" {
		return LoadConfig(p)
	}
	if _, err := os.Stat(defaultPath); err == nil {
		return LoadConfig(defaultPath)
	}
	return LoadFromEnv()
}
