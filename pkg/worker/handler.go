package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/keyle/keylefinder/pkg/screen"
	"github.com/keyle/keylefinder/pkg/vision/cv"
)

// ReferenceScreen 以当前屏幕截图作为参考图
const ReferenceScreen = "screen"

// LocatePayload 定位任务参数
// Reference 与 Query 为文件路径或 data URL；Reference 为 "screen" 时截屏
type LocatePayload struct {
	Reference string `json:"reference"`
	Query     string `json:"query"`
	// Region 截屏区域 "x,y,w,h"，仅在截屏时生效
	Region string `json:"region,omitempty"`
}

// ParseLocatePayload 解析并校验任务参数
func ParseLocatePayload(payloadJSON string) (*LocatePayload, error) {
	var p LocatePayload
	if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
		return nil, fmt.Errorf("解析任务参数失败: %w", err)
	}
	if p.Reference == "" {
		return nil, fmt.Errorf("缺少 reference 参数")
	}
	if p.Query == "" {
		return nil, fmt.Errorf("缺少 query 参数")
	}
	return &p, nil
}

// LocateHandler 执行定位任务
// 文件路径形式的参考图会被缓存，相同参考图的任务共享同一个定位器
type LocateHandler struct {
	opts []cv.LocatorOption

	mu    sync.Mutex
	cache map[string]*cv.Locator

	// capture 截屏函数
	capture func(region *screen.Region) (gocv.Mat, error)
}

// NewLocateHandler 创建定位任务处理器
func NewLocateHandler(opts ...cv.LocatorOption) *LocateHandler {
	return &LocateHandler{
		opts:    opts,
		cache:   make(map[string]*cv.Locator),
		capture: screen.CaptureToMat,
	}
}

// Handle 执行定位任务
func (h *LocateHandler) Handle(ctx context.Context, task *ExecuteTask) *TaskResult {
	start := time.Now()
	failed := func(err error) *TaskResult {
		return &TaskResult{
			TaskId:     task.TaskId,
			Success:    false,
			Status:     TaskStatusFailed,
			Message:    err.Error(),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	payload, err := ParseLocatePayload(task.PayloadJson)
	if err != nil {
		return failed(err)
	}

	loc, release, err := h.locator(payload)
	if err != nil {
		return failed(err)
	}
	defer release()

	if err := ctx.Err(); err != nil {
		return failed(err)
	}

	m, err := loc.LocateDetailed(payload.Query)

	tr := &TaskResult{
		TaskId:     task.TaskId,
		Success:    true,
		Status:     TaskStatusCompleted,
		ResultJson: m.Result().JSON(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		tr.Message = err.Error()
	}
	if m != nil {
		tr.MatchLocation = &MatchLocation{
			X:          int32(m.TopLeft.X),
			Y:          int32(m.TopLeft.Y),
			Width:      int32(m.BottomRight.X - m.TopLeft.X),
			Height:     int32(m.BottomRight.Y - m.TopLeft.Y),
			Confidence: float32(m.Score),
		}
	}
	return tr
}

// locator 获取参考图对应的定位器，release 在任务结束后调用
func (h *LocateHandler) locator(p *LocatePayload) (*cv.Locator, func(), error) {
	if p.Reference == ReferenceScreen {
		var region *screen.Region
		if p.Region != "" {
			r, err := screen.ParseRegion(p.Region)
			if err != nil {
				return nil, nil, err
			}
			region = &r
		}

		mat, err := h.capture(region)
		if err != nil {
			return nil, nil, err
		}
		defer mat.Close()

		loc, err := cv.NewLocatorFromMat(mat, h.opts...)
		if err != nil {
			return nil, nil, err
		}
		return loc, func() { loc.Close() }, nil
	}

	// data URL 不缓存
	if strings.HasPrefix(p.Reference, "data:") {
		loc, err := cv.NewLocator(p.Reference, h.opts...)
		if err != nil {
			return nil, nil, err
		}
		return loc, func() { loc.Close() }, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if loc, ok := h.cache[p.Reference]; ok {
		return loc, func() {}, nil
	}
	loc, err := cv.NewLocator(p.Reference, h.opts...)
	if err != nil {
		return nil, nil, err
	}
	// 加载失败的参考图不缓存，文件可能随后才写入
	if loc.Ready() {
		h.cache[p.Reference] = loc
		return loc, func() {}, nil
	}
	return loc, func() { loc.Close() }, nil
}

// Close 释放缓存的定位器
func (h *LocateHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key, loc := range h.cache {
		loc.Close()
		delete(h.cache, key)
	}
}
