// Package config 提供 hivemind 的统一配置管理
//
// 本包采用与上游一致的混合配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义
//   - 支持从 YAML 加载（对应原 Python 实现的 INI 风格分节配置）
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg, err := config.Load("hivemind.yaml")
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 是 hivemind 的完整配置结构，按 spec.md §6 "Configuration (enumerated)"
// 列出的键组织为子配置。
type Config struct {
	// DB 数据库连接配置
	DB DBConfig `yaml:"db"`

	// Hivemind 核心协调器运行参数
	Hivemind HivemindConfig `yaml:"hivemind"`

	// Log 日志配置
	Log LogConfig `yaml:"log"`

	// Keys 密钥文件路径配置
	Keys KeysConfig `yaml:"keys"`

	// Notifiers 是各 notify-<name> 分节，核心对其内容不透明，原样转发给对应通知器。
	Notifiers map[string]NotifierConfig `yaml:"notifiers,omitempty"`
}

// NewConfig 返回填充了默认值的配置。
func NewConfig() *Config {
	return &Config{
		DB:       DefaultDBConfig(),
		Hivemind: DefaultHivemindConfig(),
		Log:      DefaultLogConfig(),
		Keys:     DefaultKeysConfig(),
		Notifiers: map[string]NotifierConfig{},
	}
}

// Load 从 YAML 文件读取配置，缺失字段保留默认值。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate 校验所有子配置。
func (c *Config) Validate() error {
	if err := c.DB.Validate(); err != nil {
		return err
	}
	if err := c.Hivemind.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if err := c.Keys.Validate(); err != nil {
		return err
	}
	return nil
}
