// Copyright 2026 fanjia1024
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
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构体（API 与 Worker 共用）
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Runtime    RuntimeConfig    `mapstructure:"runtime"`
	Queue      QueueConfig      `mapstructure:"queue"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Model      ModelConfig      `mapstructure:"model"`
	Sandbox    SandboxConfig    `mapstructure:"sandbox"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// RuntimeConfig 运行时环境配置
type RuntimeConfig struct {
	// Environment live | test；决定 API Key 前缀（engine_live_ / engine_test_）
	Environment string `mapstructure:"environment"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port    int    `mapstructure:"port"`
	Host    string `mapstructure:"host"`
	Timeout string `mapstructure:"timeout"`
}

// QueueConfig 任务队列存储配置
type QueueConfig struct {
	Type     string `mapstructure:"type"`      // memory | postgres
	DSN      string `mapstructure:"dsn"`       // Postgres 连接串，type=postgres 时必填
	PoolSize int    `mapstructure:"pool_size"` // <=0 使用 pgxpool 默认
}

// RateLimitConfig 滑动窗限流配置；RedisURL 为空时使用进程内实现并告警（fail-open 策略）
type RateLimitConfig struct {
	RedisURL      string `mapstructure:"redis_url"`
	RedisPassword string `mapstructure:"redis_password"`
}

// WorkerConfig Worker 服务配置
type WorkerConfig struct {
	Concurrency       int    `mapstructure:"concurrency"`        // 同时执行 Job 上限，<=0 默认 3
	PollInterval      string `mapstructure:"poll_interval"`      // Claim 轮询间隔，如 "1s"
	HeartbeatInterval string `mapstructure:"heartbeat_interval"` // 心跳间隔，如 "30s"
	ShutdownTimeout   string `mapstructure:"shutdown_timeout"`   // 优雅关闭等待，如 "30s"
	StaleThreshold    string `mapstructure:"stale_threshold"`    // 孤儿租约判定阈值，如 "2m"
}

// ModelConfig 聊天模型提供商配置（OpenAI 兼容 /chat/completions）
type ModelConfig struct {
	BaseURL      string  `mapstructure:"base_url"`
	APIKey       string  `mapstructure:"api_key"`
	DefaultModel string  `mapstructure:"default_model"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	RPM          float64 `mapstructure:"rpm"` // 提供商侧请求平滑（x/time/rate），<=0 不限
}

// SandboxConfig 远程沙箱提供商配置
type SandboxConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// DiscoveryConfig 语义发现服务配置（embedding + 相似度检索）
type DiscoveryConfig struct {
	BaseURL   string  `mapstructure:"base_url"`
	APIKey    string  `mapstructure:"api_key"`
	Threshold float64 `mapstructure:"threshold"` // 默认 0.7
}

// StorageConfig 存储配置
type StorageConfig struct {
	Object ObjectConfig `mapstructure:"object"`
}

// ObjectConfig 对象存储配置（artifacts 与 attachments）
type ObjectConfig struct {
	Type       string `mapstructure:"type"` // memory | rest
	Endpoint   string `mapstructure:"endpoint"`
	Bucket     string `mapstructure:"bucket"`
	AdminToken string `mapstructure:"admin_token"`
}

// SecretsConfig Secret Store 配置（provider 令牌可经 Vault 解析）
type SecretsConfig struct {
	Provider string `mapstructure:"provider"` // env | memory | vault
	Address  string `mapstructure:"address"`
	Token    string `mapstructure:"token"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	applyEnvOverrides(&config)
	return &config, nil
}

// expandEnv 将 "${VAR}" 形式的值替换为环境变量；非该形式原样返回
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		if val := os.Getenv(strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}")); val != "" {
			return val
		}
	}
	return s
}

// replaceEnvVars 替换配置中的环境变量占位（secret 类字段）
func replaceEnvVars(config *Config) {
	config.Model.APIKey = expandEnv(config.Model.APIKey)
	config.Sandbox.APIKey = expandEnv(config.Sandbox.APIKey)
	config.Discovery.APIKey = expandEnv(config.Discovery.APIKey)
	config.Storage.Object.AdminToken = expandEnv(config.Storage.Object.AdminToken)
	config.RateLimit.RedisURL = expandEnv(config.RateLimit.RedisURL)
	config.RateLimit.RedisPassword = expandEnv(config.RateLimit.RedisPassword)
	config.Queue.DSN = expandEnv(config.Queue.DSN)
	config.Secrets.Token = expandEnv(config.Secrets.Token)
}

// applyEnvOverrides 运维环境变量优先于配置文件（部署时不改 yaml 即可调参）
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("WORKER_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Worker.PollInterval = (time.Duration(n) * time.Millisecond).String()
		}
	}
	if v := os.Getenv("WORKER_HEARTBEAT_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Worker.HeartbeatInterval = (time.Duration(n) * time.Millisecond).String()
		}
	}
	if v := os.Getenv("WORKER_SHUTDOWN_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Worker.ShutdownTimeout = (time.Duration(n) * time.Millisecond).String()
		}
	}
	if v := os.Getenv("RATE_LIMIT_REDIS_URL"); v != "" {
		config.RateLimit.RedisURL = v
	}
	if v := os.Getenv("RATE_LIMIT_REDIS_PASSWORD"); v != "" {
		config.RateLimit.RedisPassword = v
	}
	if v := os.Getenv("ENGINE_ENVIRONMENT"); v != "" {
		config.Runtime.Environment = v
	}
}

// Duration 解析时长字段，非法或空时返回 fallback
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Environment 返回部署环境，未配置时默认 test
func (c *Config) Environment() string {
	if c != nil && c.Runtime.Environment == "live" {
		return "live"
	}
	return "test"
}

// LoadAPIConfig 加载 API 配置（configs/api.yaml）
func LoadAPIConfig() (*Config, error) {
	return LoadConfig("configs/api.yaml")
}

// LoadWorkerConfig 加载 Worker 配置（configs/worker.yaml）
func LoadWorkerConfig() (*Config, error) {
	return LoadConfig("configs/worker.yaml")
}
