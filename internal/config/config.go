package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimitConfig optionally throttles per-node dispatch via a token
// bucket, guarding a node against a thundering herd of retries.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// TraceConfig optionally enables zstd-compressed JSONL batch capture.
type TraceConfig struct {
	Path string `yaml:"path"`
}

// Config holds client configuration.
type Config struct {
	ReadOnly               bool             `yaml:"readOnly"`
	NodeRequestDeadline    time.Duration    `yaml:"nodeRequestDeadline"`
	PipelineFlushThreshold int              `yaml:"pipelineFlushThreshold"`
	RateLimit              *RateLimitConfig `yaml:"rateLimit"`
	Trace                  *TraceConfig     `yaml:"trace"`

	path string
}

// ValidationError collects configuration issues.
type ValidationError struct {
	Path   string
	Errors []string
}

func (e *ValidationError) Error() string {
	builder := strings.Builder{}
	builder.WriteString("配置校验失败:")
	if e.Path != "" {
		builder.WriteString(" ")
		builder.WriteString(e.Path)
	}
	for _, err := range e.Errors {
		builder.WriteString("\n - ")
		builder.WriteString(err)
	}
	return builder.String()
}

// Load reads configuration file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("配置文件路径为空")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析配置路径失败: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("无法打开配置文件 %s: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("反序列化配置失败: %w", err)
	}

	cfg.path = absPath
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults populates default values.
func (c *Config) ApplyDefaults() {
	if c.NodeRequestDeadline == 0 {
		c.NodeRequestDeadline = time.Second
	}
	if c.PipelineFlushThreshold <= 0 {
		c.PipelineFlushThreshold = 1000
	}
}

// Validate ensures config is usable.
func (c *Config) Validate() error {
	var errs []string
	if c.NodeRequestDeadline <= 0 {
		errs = append(errs, "nodeRequestDeadline 必须为正数")
	}
	if c.PipelineFlushThreshold <= 0 {
		errs = append(errs, "pipelineFlushThreshold 必须为正数")
	}
	if c.RateLimit != nil {
		if c.RateLimit.RequestsPerSecond < 0 {
			errs = append(errs, "rateLimit.requestsPerSecond 不能为负数")
		}
		if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0 {
			errs = append(errs, "rateLimit.burst 必须 > 0")
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Path: c.path, Errors: errs}
	}
	return nil
}

// Default returns a Config with every default applied and nothing file
// backed, for callers assembling ConnectOptions programmatically.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// Summary returns a concise one-line overview.
func (c *Config) Summary() string {
	rl := "off"
	if c.RateLimit != nil && c.RateLimit.RequestsPerSecond > 0 {
		rl = fmt.Sprintf("%.1f/s burst=%d", c.RateLimit.RequestsPerSecond, c.RateLimit.Burst)
	}
	trace := "off"
	if c.Trace != nil && c.Trace.Path != "" {
		trace = c.Trace.Path
	}
	return fmt.Sprintf("readOnly=%t deadline=%s flushThreshold=%d rateLimit=%s trace=%s",
		c.ReadOnly, c.NodeRequestDeadline, c.PipelineFlushThreshold, rl, trace)
}
