package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LocatorConfig 定位器参数
type LocatorConfig struct {
	Ratio             float64 `json:"ratio"`
	MinMatches        int     `json:"min_matches"`
	MinInliers        int     `json:"min_inliers"`
	TemplateThreshold float64 `json:"template_threshold"`

	// RANSAC 参数
	ReprojThreshold float64 `json:"ransac_reproj_threshold"`
	MaxIters        int     `json:"ransac_max_iters"`
	Confidence      float64 `json:"ransac_confidence"`
	RefineIters     int     `json:"ransac_refine_iters"`

	// 调试预览输出路径，为空不生成
	PreviewPath string `json:"preview_path"`
}

// LogConfig 日志配置
type LogConfig struct {
	Enabled bool   `json:"enabled"`
	Level   string `json:"level"`
	Console bool   `json:"console"`
	File    string `json:"file"`
}

// WorkerConfig 工作节点连接配置
type WorkerConfig struct {
	ServerURL   string `json:"server_url"`
	AccessKey   string `json:"access_key"`
	SecretKey   string `json:"secret_key"`
	AutoConnect bool   `json:"auto_connect"`
}

// RPCConfig gRPC 服务配置
type RPCConfig struct {
	ListenAddr string `json:"listen_addr"`
}

// Config 完整配置
type Config struct {
	Locator LocatorConfig `json:"locator"`
	Log     LogConfig     `json:"log"`
	Worker  WorkerConfig  `json:"worker"`
	RPC     RPCConfig     `json:"rpc"`
}

// DefaultLocatorConfig 默认定位器参数
func DefaultLocatorConfig() LocatorConfig {
	return LocatorConfig{
		Ratio:             0.75,
		MinMatches:        4,
		MinInliers:        0,
		TemplateThreshold: 0.8,
		ReprojThreshold:   3.0,
		MaxIters:          2000,
		Confidence:        0.99,
		RefineIters:       10,
	}
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Locator: DefaultLocatorConfig(),
		Log: LogConfig{
			Enabled: true,
			Level:   "info",
			Console: true,
		},
		Worker: WorkerConfig{
			ServerURL: "localhost:8080",
		},
		RPC: RPCConfig{
			ListenAddr: "localhost:50051",
		},
	}
}

// Validate 检查参数范围
func (c *Config) Validate() error {
	l := c.Locator
	if l.Ratio <= 0 || l.Ratio > 1 {
		return fmt.Errorf("ratio 必须在 (0, 1] 范围内: %v", l.Ratio)
	}
	if l.MinMatches < 3 {
		return fmt.Errorf("min_matches 不能小于 3: %d", l.MinMatches)
	}
	if l.MinInliers < 0 {
		return fmt.Errorf("min_inliers 不能为负数: %d", l.MinInliers)
	}
	if l.TemplateThreshold < -1 || l.TemplateThreshold > 1 {
		return fmt.Errorf("template_threshold 必须在 [-1, 1] 范围内: %v", l.TemplateThreshold)
	}
	if l.ReprojThreshold <= 0 || l.MaxIters <= 0 || l.Confidence <= 0 || l.Confidence > 1 || l.RefineIters < 0 {
		return fmt.Errorf("RANSAC 参数无效")
	}
	return nil
}

// Manager 配置管理器
type Manager struct {
	configDir  string
	configFile string
	mu         sync.RWMutex
}

// NewManager 创建配置管理器
func NewManager() *Manager {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return NewManagerWithDir(filepath.Join(homeDir, ".keylefinder"))
}

// NewManagerWithDir 使用指定目录创建配置管理器
func NewManagerWithDir(configDir string) *Manager {
	return &Manager{
		configDir:  configDir,
		configFile: filepath.Join(configDir, "config.json"),
	}
}

// NewManagerWithFile 使用指定配置文件创建配置管理器
func NewManagerWithFile(configFile string) *Manager {
	return &Manager{
		configDir:  filepath.Dir(configFile),
		configFile: configFile,
	}
}

// Load 加载配置，文件不存在时返回默认配置
// 文件中缺失的字段保留默认值
func (m *Manager) Load() (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := os.Stat(m.configFile); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(m.configFile)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return DefaultConfig(), fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := config.Validate(); err != nil {
		return DefaultConfig(), fmt.Errorf("配置文件无效: %w", err)
	}

	return config, nil
}

// Save 保存配置
func (m *Manager) Save(config *Config) error {
	if err := config.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	// 配置中包含 secret_key
	if err := os.WriteFile(m.configFile, data, 0600); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}

	return nil
}

// Clear 清除配置
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.configFile); os.IsNotExist(err) {
		return nil
	}

	return os.Remove(m.configFile)
}

// GetConfigFile 获取配置文件路径
func (m *Manager) GetConfigFile() string {
	return m.configFile
}

// Exists 检查配置文件是否存在
func (m *Manager) Exists() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, err := os.Stat(m.configFile)
	return err == nil
}

// 全局配置管理器
var defaultManager = NewManager()

// Load 使用默认管理器加载配置
func Load() (*Config, error) {
	return defaultManager.Load()
}

// Save 使用默认管理器保存配置
func Save(config *Config) error {
	return defaultManager.Save(config)
}
