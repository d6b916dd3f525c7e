// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件 {env}.yaml（如 dev.yaml、prod.yaml）
//  3. YAML 公共配置 common.yaml
//  4. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密钥只存在 .env 或进程环境中（YAML 中不存储任何密钥）。
//
// 配置路径确定策略：
//  1. SetConfigDir 显式指定（--config 命令行参数）
//  2. CONFIG_DIR 环境变量
//  3. 默认搜索 configs/、../configs/、../../configs/
//
// 环境：
//   - 开发: APP_ENV=dev（默认）
//   - 测试: APP_ENV=test
//   - 生产: APP_ENV=prod
package config

import (
	"time"

	"overlay-backend/pkg/logging"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Server ServerConfig   `yaml:"server"`
	Agent  AgentConfig    `yaml:"agent"`
	Stream StreamConfig   `yaml:"stream"`
	LLM    LLMConfig      `yaml:"llm"`
	Redis  RedisConfig    `yaml:"redis"`
	Log    logging.Config `yaml:"log"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port         string   `yaml:"port"`
	AllowOrigins []string `yaml:"allow_origins"` // 为空或包含 "*" 时允许所有来源
}

// AgentConfig 脚本化 Worker 配置
type AgentConfig struct {
	StepDelay time.Duration `yaml:"step_delay"`
	Steps     []string      `yaml:"steps"` // 为空时使用内置步骤
}

// StreamConfig 事件推送配置
type StreamConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // SSE/WS 心跳间隔
	WSPingInterval    time.Duration `yaml:"ws_ping_interval"`   // WebSocket 协议层 ping 间隔
}

// LLMConfig 上游 Responses API 配置
// 注意：APIKey 只从 OPENAI_API_KEY 环境变量读取
type LLMConfig struct {
	APIKey          string        `yaml:"-"`
	BaseURL         string        `yaml:"base_url"`
	Model           string        `yaml:"model"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxDOMChars     int           `yaml:"max_dom_chars"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
}

// RedisConfig 事件日志存储
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`   // 只从 REDIS_PASSWORD 环境变量读取
	URL      string `yaml:"url"` // 直接指定 URL（优先于 host/port/db）
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	APIPort        string
	AllowOrigins   []string
	Agent          AgentConfig
	Stream         StreamConfig
	LLM            LLMConfig
	EventJournal   bool   // 是否将 Run 事件写入 Redis
	RedisURL       string // EventJournal 为 false 时仍会填充，便于排查
	Log            logging.Config
	ConfigFilePath string // 实际加载的 {env}.yaml 路径，未找到时为空
}

// yamlConfigInternal 内部包装，记录配置文件来源（不参与 YAML 序列化）
type yamlConfigInternal struct {
	YAMLConfig `yaml:",inline"`
	loadedFrom string
}
