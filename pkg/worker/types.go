// Package worker 以工作节点身份连接调度服务，通过 WebSocket 接收定位任务并回传结果
package worker

import (
	"net"
	"os"
	"runtime"
	"strings"
)

// Version 版本号
const Version = "1.0.0"

// ClientStatus 客户端状态
type ClientStatus string

const (
	StatusDisconnected ClientStatus = "disconnected"
	StatusConnecting   ClientStatus = "connecting"
	StatusConnected    ClientStatus = "connected"
	StatusReconnecting ClientStatus = "reconnecting"
)

// TaskTypeLocate 子图定位任务
const TaskTypeLocate = "locate"

// 任务状态
const (
	TaskStatusRunning   int32 = 1
	TaskStatusCompleted int32 = 2
	TaskStatusCancelled int32 = 3
	TaskStatusFailed    int32 = 4
)

// ClientConfig 客户端配置
type ClientConfig struct {
	// ServerURL 服务端地址 (host:port)
	ServerURL string
	// AccessKey 访问密钥
	AccessKey string
	// SecretKey 秘密密钥
	SecretKey string
	// HeartbeatInterval 心跳间隔（秒）
	HeartbeatInterval int
	// ReconnectDelays 重连延迟序列（秒）
	ReconnectDelays []int
}

// DefaultConfig 默认配置
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		HeartbeatInterval: 5,
		ReconnectDelays:   []int{2, 5, 10, 30, 60},
	}
}

// StatusCallback 状态变更回调函数
type StatusCallback func(status ClientStatus)

// ==================== WebSocket 消息类型 ====================

// ConnectMessage 认证消息
type ConnectMessage struct {
	Type       string      `json:"type"`
	AccessKey  string      `json:"accessKey"`
	SecretKey  string      `json:"secretKey"`
	SystemInfo *SystemInfo `json:"systemInfo,omitempty"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	Hostname     string   `json:"hostname,omitempty"`
	Platform     string   `json:"platform,omitempty"`
	OsVersion    string   `json:"osVersion,omitempty"`
	AgentVersion string   `json:"agentVersion,omitempty"`
	IpAddress    string   `json:"ipAddress,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// ConnectResponse 认证响应
type ConnectResponse struct {
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	AgentId   string `json:"agentId"`
	AgentName string `json:"agentName"`
}

// ServerMessage 服务端消息
type ServerMessage struct {
	MessageId   string       `json:"messageId"`
	Timestamp   int64        `json:"timestamp"`
	ExecuteTask *ExecuteTask `json:"executeTask,omitempty"`
	CancelTask  *CancelTask  `json:"cancelTask,omitempty"`
	Ping        *Ping        `json:"ping,omitempty"`
}

// ExecuteTask 执行任务命令
type ExecuteTask struct {
	TaskId      string `json:"taskId"`
	TaskType    string `json:"taskType"`
	PayloadJson string `json:"payloadJson"`
}

// CancelTask 取消任务命令
type CancelTask struct {
	TaskId string `json:"taskId"`
	Reason string `json:"reason"`
}

// Ping Ping 命令
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// WorkerMessage Worker 消息
type WorkerMessage struct {
	MessageId  string      `json:"messageId"`
	Timestamp  int64       `json:"timestamp"`
	AgentId    string      `json:"agentId,omitempty"`
	TaskAck    *TaskAck    `json:"taskAck,omitempty"`
	TaskResult *TaskResult `json:"taskResult,omitempty"`
	Pong       *Pong       `json:"pong,omitempty"`
	Heartbeat  *Heartbeat  `json:"heartbeat,omitempty"`
}

// TaskAck 任务确认
type TaskAck struct {
	TaskId   string `json:"taskId"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

// TaskResult 任务结果
// Success 表示任务执行完成；是否找到见 ResultJson 中的 status
type TaskResult struct {
	TaskId        string         `json:"taskId"`
	Success       bool           `json:"success"`
	Status        int32          `json:"status"`
	Message       string         `json:"message"`
	ResultJson    string         `json:"resultJson"`
	DurationMs    int64          `json:"durationMs"`
	MatchLocation *MatchLocation `json:"matchLocation,omitempty"`
}

// MatchLocation 匹配位置
type MatchLocation struct {
	X          int32   `json:"x"`
	Y          int32   `json:"y"`
	Width      int32   `json:"width"`
	Height     int32   `json:"height"`
	Confidence float32 `json:"confidence"`
}

// Pong Pong 响应
type Pong struct {
	ClientTimestamp int64 `json:"clientTimestamp"`
	ServerTimestamp int64 `json:"serverTimestamp"`
}

// Heartbeat 心跳消息
type Heartbeat struct {
	ResourceInfo *ResourceInfo `json:"resourceInfo,omitempty"`
	AgentStatus  *AgentStatus  `json:"agentStatus,omitempty"`
}

// ResourceInfo 资源信息
type ResourceInfo struct {
	CpuUsage    float32 `json:"cpuUsage"`
	MemoryUsage float32 `json:"memoryUsage"`
	DiskUsage   float32 `json:"diskUsage"`
}

// AgentStatus Agent 状态
type AgentStatus struct {
	Status            string `json:"status"`
	RunningTasksCount int32  `json:"runningTasksCount"`
}

// GetSystemInfo 获取当前系统信息
func GetSystemInfo() *SystemInfo {
	hostname, _ := os.Hostname()

	platform := strings.ToUpper(runtime.GOOS)
	if platform == "DARWIN" {
		platform = "MACOS"
	}

	return &SystemInfo{
		Hostname:     hostname,
		Platform:     platform,
		OsVersion:    runtime.GOOS + "/" + runtime.GOARCH,
		AgentVersion: Version,
		IpAddress:    getLocalIP(),
		Capabilities: []string{TaskTypeLocate},
	}
}

// getLocalIP 取第一个非回环 IPv4 地址
func getLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return "127.0.0.1"
}
