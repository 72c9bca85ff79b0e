package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"mockrelay/pkg/domain"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`
	Server  struct {
		// Addr 监听地址
		Addr string `yaml:"addr"`
		// Upstream 反向代理模式下的真实源站，为空时按正向代理处理绝对 URL
		Upstream string `yaml:"upstream"`
		// PathPrefix 内部端点前缀（WebSocket 与管理接口）
		PathPrefix string `yaml:"pathPrefix"`
	} `yaml:"server"`
	Worker struct {
		// ReplyTimeoutMS 等待客户端答复的超时，0 表示不限
		ReplyTimeoutMS int    `yaml:"replyTimeoutMS"`
		PackageVersion string `yaml:"packageVersion"`
		Checksum       string `yaml:"checksum"`
		// FetchTimeoutMS 放行路径真实请求的超时
		FetchTimeoutMS int `yaml:"fetchTimeoutMS"`
	} `yaml:"worker"`
	CDP struct {
		Enabled     bool     `yaml:"enabled"`
		DevToolsURL string   `yaml:"devToolsURL"`
		Launch      bool     `yaml:"launch"`
		Headless    bool     `yaml:"headless"`
		BrowserPath string   `yaml:"browserPath"`
		BrowserArgs []string `yaml:"browserArgs"`
		Concurrency int      `yaml:"concurrency"`
		QueueCap    int      `yaml:"queueCap"`
	} `yaml:"cdp"`
	Sqlite struct {
		Db     string `yaml:"db"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`
	Events struct {
		Buffer        int   `yaml:"buffer"`
		RetentionDays int   `yaml:"retentionDays"`
		MaxBodyBytes  int64 `yaml:"maxBodyBytes"`
	} `yaml:"events"`
	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	cfg := &Config{Version: "1.0.0"}
	cfg.Server.Addr = "127.0.0.1:8787"
	cfg.Server.PathPrefix = "/__mockrelay"
	cfg.Worker.PackageVersion = domain.PackageVersion
	cfg.Worker.Checksum = domain.IntegrityChecksum
	cfg.Worker.FetchTimeoutMS = 30000
	cfg.CDP.DevToolsURL = "http://localhost:9222"
	cfg.CDP.Concurrency = 32
	cfg.CDP.QueueCap = 1024
	cfg.Sqlite.Db = "mockrelay.db"
	cfg.Sqlite.Prefix = "mockrelay_"
	cfg.Events.Buffer = 1024
	cfg.Events.RetentionDays = 7
	cfg.Events.MaxBodyBytes = 1 << 20
	cfg.Log.Level = "info"
	cfg.Log.Writer = []string{"console"}
	return cfg
}

// Load 依次应用默认值、YAML 文件、.env 与 MOCKRELAY_* 环境变量
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
		}
	}

	// .env 不存在不算错误
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is empty", domain.ErrInvalidConfig)
	}
	if !strings.HasPrefix(c.Server.PathPrefix, "/") {
		return fmt.Errorf("%w: server.pathPrefix must start with /", domain.ErrInvalidConfig)
	}
	if c.Worker.ReplyTimeoutMS < 0 {
		return fmt.Errorf("%w: worker.replyTimeoutMS is negative", domain.ErrInvalidConfig)
	}
	if c.CDP.Enabled && c.CDP.DevToolsURL == "" && !c.CDP.Launch {
		return fmt.Errorf("%w: cdp.devToolsURL is required", domain.ErrInvalidConfig)
	}
	return nil
}

// ReplyTimeout 客户端答复超时
func (c *Config) ReplyTimeout() time.Duration {
	return time.Duration(c.Worker.ReplyTimeoutMS) * time.Millisecond
}

// FetchTimeout 放行请求超时
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Worker.FetchTimeoutMS) * time.Millisecond
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnvOrDefault("MOCKRELAY_ADDR", c.Server.Addr)
	c.Server.Upstream = getEnvOrDefault("MOCKRELAY_UPSTREAM", c.Server.Upstream)
	c.Worker.ReplyTimeoutMS = getEnvIntOrDefault("MOCKRELAY_REPLY_TIMEOUT_MS", c.Worker.ReplyTimeoutMS)
	c.CDP.Enabled = getEnvBoolOrDefault("MOCKRELAY_CDP_ENABLED", c.CDP.Enabled)
	c.CDP.DevToolsURL = getEnvOrDefault("MOCKRELAY_DEVTOOLS_URL", c.CDP.DevToolsURL)
	c.CDP.Launch = getEnvBoolOrDefault("MOCKRELAY_CDP_LAUNCH", c.CDP.Launch)
	c.Sqlite.Db = getEnvOrDefault("MOCKRELAY_DB", c.Sqlite.Db)
	c.Log.Level = getEnvOrDefault("MOCKRELAY_LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnvOrDefault("MOCKRELAY_LOG_FILE", c.Log.File)
	if w := os.Getenv("MOCKRELAY_LOG_WRITER"); w != "" {
		c.Log.Writer = strings.Split(w, ",")
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
