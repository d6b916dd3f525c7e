package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"overlay-backend/pkg/logging"
)

// Load 加载配置
//  1. 加载 .env（密钥 + APP_ENV）
//  2. 默认值 → common.yaml → {env}.yaml
//  3. 环境变量覆盖
func Load() (*Config, error) {
	loadDotEnv()

	env := parseEnv(getEnv("APP_ENV", "dev"))

	yamlCfg, err := loadYAMLConfig(env)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:            env,
		APIPort:        yamlCfg.Server.Port,
		AllowOrigins:   yamlCfg.Server.AllowOrigins,
		Agent:          yamlCfg.Agent,
		Stream:         yamlCfg.Stream,
		LLM:            yamlCfg.LLM,
		EventJournal:   yamlCfg.Redis.Enabled,
		Log:            yamlCfg.Log,
		ConfigFilePath: yamlCfg.loadedFrom,
	}

	// 密钥只从环境变量读取
	cfg.LLM.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	yamlCfg.Redis.Password = os.Getenv("REDIS_PASSWORD")

	if err := cfg.applyEnvOverrides(yamlCfg.Redis); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv 加载第一个找到的 .env，已存在的环境变量不会被覆盖
func loadDotEnv() {
	for _, dir := range envSearchDirs {
		if err := godotenv.Load(filepath.Join(dir, ".env")); err == nil {
			return
		}
	}
}

// defaultYAMLConfig 代码硬编码默认值
func defaultYAMLConfig() YAMLConfig {
	return YAMLConfig{
		Server: ServerConfig{Port: "8000", AllowOrigins: []string{"*"}},
		Agent:  AgentConfig{StepDelay: 800 * time.Millisecond},
		Stream: StreamConfig{
			HeartbeatInterval: 500 * time.Millisecond,
			WSPingInterval:    30 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:         "https://api.openai.com/v1",
			Model:           "gpt-5",
			Timeout:         60 * time.Second,
			MaxDOMChars:     120000,
			MaxOutputTokens: 800,
		},
		Redis: RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		Log:   logging.Config{Level: "info", Format: "text"},
	}
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml，文件不存在时跳过
func loadYAMLConfig(env Environment) (*yamlConfigInternal, error) {
	cfg := &yamlConfigInternal{YAMLConfig: defaultYAMLConfig()}

	if path := findConfigFile("common.yaml"); path != "" {
		if err := decodeYAMLFile(path, &cfg.YAMLConfig); err != nil {
			return nil, err
		}
	}

	if path := findConfigFile(fmt.Sprintf("%s.yaml", env)); path != "" {
		if err := decodeYAMLFile(path, &cfg.YAMLConfig); err != nil {
			return nil, err
		}
		cfg.loadedFrom = path
	}

	return cfg, nil
}

func decodeYAMLFile(path string, out *YAMLConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides 环境变量覆盖 YAML 配置
func (c *Config) applyEnvOverrides(redis RedisConfig) error {
	c.APIPort = getEnv("API_PORT", c.APIPort)
	if v := os.Getenv("CORS_ALLOW_ORIGINS"); v != "" {
		c.AllowOrigins = splitList(v)
	}

	c.LLM.BaseURL = getEnv("OPENAI_BASE_URL", c.LLM.BaseURL)
	c.LLM.Model = getEnv("OPENAI_MODEL", c.LLM.Model)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	if v := os.Getenv("EVENT_JOURNAL"); v != "" {
		enabled, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("EVENT_JOURNAL: %w", err)
		}
		c.EventJournal = enabled
	}

	// REDIS_URL 同时意味着启用事件日志，除非 EVENT_JOURNAL 显式关闭
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
		if os.Getenv("EVENT_JOURNAL") == "" {
			c.EventJournal = true
		}
	} else {
		c.RedisURL = buildRedisURL(redis)
	}
	return nil
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// String 返回配置摘要（隐藏密钥）
func (c *Config) String() string {
	journal := "off"
	if c.EventJournal {
		journal = maskPassword(c.RedisURL)
	}
	return fmt.Sprintf("Config{Env: %s, Port: %s, LLM: %s@%s, APIKey: %s, Journal: %s}",
		c.Env, c.APIPort, c.LLM.Model, c.LLM.BaseURL, maskSecret(c.LLM.APIKey), journal)
}
