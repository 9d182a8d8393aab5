package cv

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/keyle/keylefinder/internal/logger"
)

// Strategy 单个匹配阶段
type Strategy interface {
	// Method 阶段名称
	Method() MatchMethod
	// Match 成功返回匹配结果，失败返回原因；失败不会中断后续阶段
	Match(ref, query gocv.Mat) (*Match, error)
}

// Locator 在固定的参考图中查找子图
//
// 参考图及其灰度图在构造时生成一次，之后只读；检测器和匹配器在每次调用时新建，
// 因此同一个 Locator 可以被多个 goroutine 同时使用。
// 并发定位时预览图按调用顺序逐个写入，文件中保留最后一次的结果。
type Locator struct {
	ref        gocv.Mat
	refGray    gocv.Mat
	refPath    string
	strategies []Strategy
	preview    string
	previewMu  sync.Mutex
	log        *logger.Logger
}

// grayStrategy 可直接使用缓存灰度参考图的阶段
type grayStrategy interface {
	MatchGray(ref, refGray, query gocv.Mat) (*Match, error)
}

// NewLocator 从文件路径（或 data URL）加载参考图并创建定位器
//
// 参考图无法解码时不返回错误，而是得到一个降级的定位器，之后的每次定位都返回未找到。
// 只有参数非法时返回错误。
func NewLocator(referencePath string, opts ...LocatorOption) (*Locator, error) {
	cfg := defaultLocatorConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("创建定位器失败: %w", err)
	}

	ref, err := ReadImage(referencePath)
	if err != nil {
		cfg.log.Warn("参考图加载失败，所有定位都将返回未找到: %v", err)
		ref.Close()
		ref = gocv.NewMat()
	}

	return newLocator(ref, referencePath, cfg), nil
}

// NewLocatorFromMat 使用已解码的图像创建定位器，内部保存其副本
func NewLocatorFromMat(ref gocv.Mat, opts ...LocatorOption) (*Locator, error) {
	cfg := defaultLocatorConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("创建定位器失败: %w", err)
	}

	owned := gocv.NewMat()
	if !ref.Empty() {
		owned.Close()
		owned = ToBGR(ref)
	}
	return newLocator(owned, "", cfg), nil
}

func newLocator(ref gocv.Mat, path string, cfg *locatorConfig) *Locator {
	refGray := gocv.NewMat()
	if !ref.Empty() {
		refGray.Close()
		refGray = ToGray(ref)
	}
	return &Locator{
		ref:        ref,
		refGray:    refGray,
		refPath:    path,
		strategies: cfg.buildStrategies(),
		preview:    cfg.previewPath,
		log:        cfg.log,
	}
}

// Ready 参考图是否可用
func (l *Locator) Ready() bool {
	return !l.ref.Empty()
}

// ReferencePath 参考图来源，从 Mat 创建时为空
func (l *Locator) ReferencePath() string {
	return l.refPath
}

// Size 参考图尺寸 (width, height)
func (l *Locator) Size() (int, int) {
	return GetResolution(l.ref)
}

// Close 释放参考图
func (l *Locator) Close() {
	l.ref.Close()
	l.refGray.Close()
}

// Locate 在参考图中查找 queryPath 对应的子图
func (l *Locator) Locate(queryPath string) LocateResult {
	m, _ := l.LocateDetailed(queryPath)
	return m.Result()
}

// LocateMat 在参考图中查找已解码的子图
func (l *Locator) LocateMat(query gocv.Mat) LocateResult {
	m, _ := l.LocateMatDetailed(query)
	return m.Result()
}

// LocateDetailed 返回获胜阶段的完整几何信息，全部失败时返回 *NotFoundError
func (l *Locator) LocateDetailed(queryPath string) (*Match, error) {
	query, err := ReadImage(queryPath)
	defer query.Close()
	if err != nil {
		// 解码失败时每个阶段都失败
		stages := make([]error, len(l.strategies))
		for i, s := range l.strategies {
			stages[i] = &StageError{Method: s.Method(), Err: err}
			l.log.LogEvent(categoryOf(s.Method()), false, 0, err.Error())
		}
		nf := &NotFoundError{Stages: stages}
		l.writePreview(query, nil)
		return nil, nf
	}
	return l.LocateMatDetailed(query)
}

// LocateMatDetailed 与 LocateDetailed 相同，查询图已解码
func (l *Locator) LocateMatDetailed(query gocv.Mat) (*Match, error) {
	q := query
	if !query.Empty() && query.Channels() != 3 {
		q = ToBGR(query)
		defer q.Close()
	}

	var stages []error
	for _, s := range l.strategies {
		m, err := l.runStage(s, q)
		if err == nil {
			l.writePreview(q, m)
			return m, nil
		}
		stages = append(stages, &StageError{Method: s.Method(), Err: err})
	}

	l.writePreview(q, nil)
	return nil, &NotFoundError{Stages: stages}
}

// runStage 执行单个阶段并记录日志
func (l *Locator) runStage(s Strategy, query gocv.Mat) (m *Match, err error) {
	startTime := time.Now()
	defer func() {
		// 阶段内部的异常按失败处理
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("阶段异常: %v", r)
		}
		if err == nil && m == nil {
			err = errors.New("无结果")
		}
		elapsed := float64(time.Since(startTime).Microseconds()) / 1000
		if err != nil {
			l.log.LogEvent(categoryOf(s.Method()), false, elapsed, err.Error())
			return
		}
		l.log.LogEvent(categoryOf(s.Method()), true, elapsed,
			fmt.Sprintf("box=(%d,%d)-(%d,%d) scale=%.3f angle=%.1f",
				m.TopLeft.X, m.TopLeft.Y, m.BottomRight.X, m.BottomRight.Y, m.Scale, m.Angle))
	}()

	if l.ref.Empty() {
		return nil, ErrEmptyReference
	}
	if gs, ok := s.(grayStrategy); ok {
		return gs.MatchGray(l.ref, l.refGray, query)
	}
	return s.Match(l.ref, query)
}

// writePreview 按需输出调试预览
func (l *Locator) writePreview(query gocv.Mat, m *Match) {
	if l.preview == "" || l.ref.Empty() {
		return
	}
	label := m.Result().JSON()
	img, err := RenderPreview(l.ref, query, m, label)
	if err != nil {
		l.log.Warn("生成预览失败: %v", err)
		return
	}
	defer img.Close()

	l.previewMu.Lock()
	defer l.previewMu.Unlock()
	if err := WriteImage(l.preview, img); err != nil {
		l.log.Warn("保存预览失败: %v", err)
		return
	}
	l.log.Debug("预览已保存: %s", l.preview)
}

// categoryOf 日志分类
func categoryOf(method MatchMethod) string {
	switch method {
	case MethodFeature:
		return "ORB"
	case MethodTemplate:
		return "TPL"
	default:
		return string(method)
	}
}
