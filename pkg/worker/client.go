package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/keyle/keylefinder/internal/logger"
)

// TaskHandler 执行服务端下发的任务
type TaskHandler interface {
	// Handle 执行任务并返回结果，ctx 在任务被取消或连接关闭时取消
	Handle(ctx context.Context, task *ExecuteTask) *TaskResult
}

// TaskHandlerFunc 函数形式的 TaskHandler
type TaskHandlerFunc func(ctx context.Context, task *ExecuteTask) *TaskResult

// Handle 调用 f
func (f TaskHandlerFunc) Handle(ctx context.Context, task *ExecuteTask) *TaskResult {
	return f(ctx, task)
}

// Client WebSocket 客户端
type Client struct {
	config *ClientConfig
	conn   *websocket.Conn

	agentID     string
	agentName   string
	isConnected bool

	outgoing chan *WorkerMessage
	stopCh   chan struct{}
	wg       sync.WaitGroup

	// done 在 Disconnect 时关闭，用于终止重连
	done     chan struct{}
	doneOnce sync.Once

	handler        TaskHandler
	onStatusChange StatusCallback

	running   map[string]context.CancelFunc
	runningMu sync.Mutex
	// tasks 跟踪执行中的任务 goroutine，Disconnect 等待其退出
	tasks sync.WaitGroup

	log *logger.Logger
	mu  sync.RWMutex
}

// NewClient 创建新的 WebSocket 客户端
func NewClient(config *ClientConfig, handler TaskHandler) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{
		config:   config,
		handler:  handler,
		outgoing: make(chan *WorkerMessage, 100),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		running:  make(map[string]context.CancelFunc),
		log:      logger.Default(),
	}
}

// SetLogger 设置日志记录器
func (c *Client) SetLogger(l *logger.Logger) {
	if l != nil {
		c.log = l
	}
}

// Connect 连接到服务端
func (c *Client) Connect() error {
	return c.doConnect()
}

// buildWsURL 根据 serverURL 构建 WebSocket URL
//   - localhost:3001 → ws://localhost:3001/ws/agent
//   - http://localhost:3001 → ws://localhost:3001/ws/agent
//   - https://example.com → wss://example.com/ws/agent
//   - example.com → wss://example.com/ws/agent（域名默认 wss）
func buildWsURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "ws://"), strings.HasPrefix(serverURL, "wss://"):
		u, err := url.Parse(serverURL)
		if err != nil {
			return serverURL
		}
		if u.Path == "" || u.Path == "/" {
			u.Path = "/ws/agent"
		}
		return u.String()
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimSuffix(serverURL[7:], "/") + "/ws/agent"
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimSuffix(serverURL[8:], "/") + "/ws/agent"
	}

	if isLocalAddress(serverURL) {
		return "ws://" + serverURL + "/ws/agent"
	}
	return "wss://" + serverURL + "/ws/agent"
}

// isLocalAddress 判断是否为本地地址
func isLocalAddress(addr string) bool {
	host := addr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host == "localhost" || host == "127.0.0.1" || host == "0.0.0.0" || host == "::1" || host == "[::1]"
}

// doConnect 执行连接和认证
func (c *Client) doConnect() error {
	c.mu.RLock()
	serverURL := c.config.ServerURL
	accessKey := c.config.AccessKey
	secretKey := c.config.SecretKey
	c.mu.RUnlock()

	wsURL := buildWsURL(serverURL)
	c.log.Info("正在连接 %s", wsURL)
	c.setStatus(StatusConnecting)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		c.log.Error("WebSocket 连接失败: %v", err)
		c.setStatus(StatusDisconnected)
		return fmt.Errorf("连接失败: %w", err)
	}

	fail := func(msg string, err error) error {
		conn.Close()
		c.setStatus(StatusDisconnected)
		c.log.Error("%s: %v", msg, err)
		return fmt.Errorf("%s: %w", msg, err)
	}

	data, err := json.Marshal(ConnectMessage{
		Type:       "connect",
		AccessKey:  accessKey,
		SecretKey:  secretKey,
		SystemInfo: GetSystemInfo(),
	})
	if err != nil {
		return fail("序列化认证消息失败", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fail("发送认证消息失败", err)
	}

	// 等待认证响应
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, respData, err := conn.ReadMessage()
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		return fail("读取认证响应失败", err)
	}

	var resp ConnectResponse
	if err := json.Unmarshal(respData, &resp); err != nil {
		return fail("解析认证响应失败", err)
	}
	if !resp.Success {
		conn.Close()
		c.setStatus(StatusDisconnected)
		c.log.Error("认证被拒绝: %s", resp.Message)
		return fmt.Errorf("认证被拒绝: %s", resp.Message)
	}

	c.mu.Lock()
	c.conn = conn
	c.agentID = resp.AgentId
	c.agentName = resp.AgentName
	c.isConnected = true
	c.stopCh = make(chan struct{})
	c.outgoing = make(chan *WorkerMessage, 100)
	stopCh, outgoing := c.stopCh, c.outgoing
	c.mu.Unlock()

	c.log.Info("已连接: %s (%s)", resp.AgentName, resp.AgentId)
	c.setStatus(StatusConnected)

	c.wg.Add(3)
	go c.sendLoop(conn, outgoing, stopCh)
	go c.receiveLoop(conn, stopCh)
	go c.heartbeatLoop(stopCh)

	return nil
}

// sendLoop 发送消息循环，连接上唯一的写入方
func (c *Client) sendLoop(conn *websocket.Conn, outgoing <-chan *WorkerMessage, stopCh <-chan struct{}) {
	defer c.wg.Done()

	for {
		select {
		case <-stopCh:
			return
		case msg := <-outgoing:
			data, err := json.Marshal(msg)
			if err != nil {
				c.log.Error("序列化消息失败: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Error("发送消息失败: %v", err)
				return
			}
		}
	}
}

// receiveLoop 接收消息循环
func (c *Client) receiveLoop(conn *websocket.Conn, stopCh <-chan struct{}) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stopCh:
			default:
				c.log.Error("WebSocket 读取错误: %v", err)
				go c.attemptReconnect()
			}
			return
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("解析服务端消息失败: %v", err)
			continue
		}

		c.handleServerMessage(&msg)
	}
}

// handleServerMessage 处理服务端消息
func (c *Client) handleServerMessage(msg *ServerMessage) {
	switch {
	case msg.Ping != nil:
		c.handlePing(msg.MessageId, msg.Ping)
	case msg.ExecuteTask != nil:
		c.handleExecuteTask(msg.ExecuteTask)
	case msg.CancelTask != nil:
		c.handleCancelTask(msg.CancelTask)
	}
}

// handlePing 处理 Ping
func (c *Client) handlePing(msgID string, ping *Ping) {
	c.log.Debug("收到 ping")
	c.sendMessage(&WorkerMessage{
		MessageId: msgID,
		Timestamp: time.Now().UnixMilli(),
		AgentId:   c.AgentID(),
		Pong: &Pong{
			ClientTimestamp: time.Now().UnixMilli(),
			ServerTimestamp: ping.Timestamp,
		},
	})
}

// handleExecuteTask 确认任务并在独立 goroutine 中执行
func (c *Client) handleExecuteTask(task *ExecuteTask) {
	c.log.Info("收到任务: %s (%s)", task.TaskId, task.TaskType)

	accepted, message := true, ""
	switch {
	case c.handler == nil:
		accepted, message = false, "未配置任务处理器"
	case task.TaskType != TaskTypeLocate:
		accepted, message = false, fmt.Sprintf("不支持的任务类型: %s", task.TaskType)
	}

	c.sendMessage(&WorkerMessage{
		MessageId: uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		AgentId:   c.AgentID(),
		TaskAck: &TaskAck{
			TaskId:   task.TaskId,
			Accepted: accepted,
			Message:  message,
		},
	})
	if !accepted {
		c.log.Warn("拒绝任务 %s: %s", task.TaskId, message)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.runningMu.Lock()
	c.running[task.TaskId] = cancel
	c.runningMu.Unlock()

	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		defer cancel()
		result := c.handler.Handle(ctx, task)

		c.runningMu.Lock()
		_, stillRunning := c.running[task.TaskId]
		delete(c.running, task.TaskId)
		c.runningMu.Unlock()

		// 已取消的任务由取消流程回报结果
		if !stillRunning || result == nil {
			return
		}
		result.TaskId = task.TaskId
		c.sendMessage(&WorkerMessage{
			MessageId:  uuid.NewString(),
			Timestamp:  time.Now().UnixMilli(),
			AgentId:    c.AgentID(),
			TaskResult: result,
		})
	}()
}

// handleCancelTask 处理取消任务
func (c *Client) handleCancelTask(cmd *CancelTask) {
	c.log.Info("收到取消任务: %s, 原因: %s", cmd.TaskId, cmd.Reason)

	c.runningMu.Lock()
	cancel, ok := c.running[cmd.TaskId]
	delete(c.running, cmd.TaskId)
	c.runningMu.Unlock()

	if ok {
		cancel()
		c.log.Info("任务已取消: %s", cmd.TaskId)
	} else {
		c.log.Warn("任务不存在或已完成: %s", cmd.TaskId)
	}

	c.sendMessage(&WorkerMessage{
		MessageId: uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		AgentId:   c.AgentID(),
		TaskResult: &TaskResult{
			TaskId:  cmd.TaskId,
			Success: ok,
			Status:  TaskStatusCancelled,
			Message: cmd.Reason,
		},
	})
}

// heartbeatLoop 心跳循环
func (c *Client) heartbeatLoop(stopCh <-chan struct{}) {
	defer c.wg.Done()

	c.mu.RLock()
	interval := c.config.HeartbeatInterval
	c.mu.RUnlock()
	if interval <= 0 {
		interval = 5
	}

	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			c.sendMessage(c.buildHeartbeat())
			c.log.Debug("心跳已发送")
		}
	}
}

// buildHeartbeat 构建心跳消息
func (c *Client) buildHeartbeat() *WorkerMessage {
	c.runningMu.Lock()
	count := len(c.running)
	c.runningMu.Unlock()

	status := "IDLE"
	if count > 0 {
		status = "BUSY"
	}

	return &WorkerMessage{
		MessageId: uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		AgentId:   c.AgentID(),
		Heartbeat: &Heartbeat{
			ResourceInfo: collectResourceInfo(),
			AgentStatus: &AgentStatus{
				Status:            status,
				RunningTasksCount: int32(count),
			},
		},
	}
}

// sendMessage 发送消息到队列，队列满时丢弃
func (c *Client) sendMessage(msg *WorkerMessage) {
	c.mu.RLock()
	outgoing := c.outgoing
	c.mu.RUnlock()

	select {
	case outgoing <- msg:
	default:
		c.log.Warn("发送队列已满，丢弃消息")
	}
}

// closeConn 停止当前连接的循环并关闭连接，返回连接之前是否处于已连接状态
func (c *Client) closeConn(graceful bool) bool {
	c.mu.Lock()
	if !c.isConnected {
		c.mu.Unlock()
		return false
	}
	c.isConnected = false
	close(c.stopCh)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		if graceful {
			// sendLoop 可能仍在写，忽略这里的写入错误
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
		}
		conn.Close()
	}
	return true
}

// Disconnect 断开连接并终止重连，取消所有运行中的任务并等待其退出
func (c *Client) Disconnect() error {
	c.doneOnce.Do(func() { close(c.done) })

	wasConnected := c.closeConn(true)
	c.wg.Wait()

	c.runningMu.Lock()
	for id, cancel := range c.running {
		cancel()
		delete(c.running, id)
	}
	c.runningMu.Unlock()
	c.tasks.Wait()

	c.mu.Lock()
	c.agentID = ""
	c.agentName = ""
	c.mu.Unlock()

	if wasConnected {
		c.log.Info("已断开连接")
	}
	c.setStatus(StatusDisconnected)
	return nil
}

// attemptReconnect 按延迟序列尝试重连
func (c *Client) attemptReconnect() {
	if !c.closeConn(false) {
		return
	}
	c.setStatus(StatusReconnecting)

	c.mu.RLock()
	delays := c.config.ReconnectDelays
	c.mu.RUnlock()

	for i, delay := range delays {
		c.log.Info("%ds 后进行第 %d/%d 次重连", delay, i+1, len(delays))

		select {
		case <-c.done:
			return
		case <-time.After(time.Duration(delay) * time.Second):
		}

		if err := c.doConnect(); err == nil {
			select {
			case <-c.done:
				// 重连期间已调用 Disconnect
				c.closeConn(true)
			default:
				c.log.Info("重连成功")
			}
			return
		}
	}

	c.log.Error("多次重连失败，放弃")
	c.setStatus(StatusDisconnected)
}

// GetStatus 获取当前状态
func (c *Client) GetStatus() (ClientStatus, string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := StatusDisconnected
	if c.isConnected {
		status = StatusConnected
	}
	return status, c.agentID, c.agentName
}

// AgentID 服务端分配的节点 ID
func (c *Client) AgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agentID
}

// IsConnected 检查是否已连接
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// SetStatusCallback 设置状态变更回调
func (c *Client) SetStatusCallback(callback StatusCallback) {
	c.mu.Lock()
	c.onStatusChange = callback
	c.mu.Unlock()
}

// setStatus 设置状态并触发回调
func (c *Client) setStatus(status ClientStatus) {
	c.mu.RLock()
	callback := c.onStatusChange
	c.mu.RUnlock()

	if callback != nil {
		callback(status)
	}
}
