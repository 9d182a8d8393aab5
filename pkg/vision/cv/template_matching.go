package cv

import (
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"
)

// DefaultTemplateThreshold 模板匹配接受阈值
const DefaultTemplateThreshold = 0.8

// TemplateMatcher 模板匹配
type TemplateMatcher interface {
	// Match 返回全局最大相关值及其左上角位置
	Match(ref, query gocv.Mat) (float64, image.Point, error)
}

// NCCTemplateMatcher 基于 TM_CCOEFF_NORMED 的模板匹配，结果范围 [-1, 1]
type NCCTemplateMatcher struct{}

// Match 计算模板匹配结果矩阵并取最大值
func (NCCTemplateMatcher) Match(ref, query gocv.Mat) (float64, image.Point, error) {
	if err := checkSourceLargerThanSearch(ref, query); err != nil {
		return 0, image.Point{}, err
	}

	// 方差为零的模板归一化相关无定义，OpenCV 会返回全 1，这里按不匹配处理
	if isFlat(query) {
		return 0, image.Point{}, nil
	}

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	gocv.MatchTemplate(ref, query, &result, gocv.TmCcoeffNormed, mask)
	if result.Empty() {
		return 0, image.Point{}, fmt.Errorf("模板匹配结果为空")
	}

	_, maxVal, _, maxLoc := gocv.MinMaxLoc(result)
	return float64(maxVal), maxLoc, nil
}

// isFlat 每个通道的像素值都相同
func isFlat(img gocv.Mat) bool {
	channels := gocv.Split(img)
	defer func() {
		for _, ch := range channels {
			ch.Close()
		}
	}()
	for _, ch := range channels {
		minVal, maxVal, _, _ := gocv.MinMaxLoc(ch)
		if maxVal-minVal >= 1 {
			return false
		}
	}
	return true
}

// acceptScore 峰值严格低于阈值时拒绝，等于阈值时接受
func acceptScore(score, threshold float64) bool {
	return !(score < threshold)
}

// TemplateStrategy 模板匹配阶段（不做缩放和旋转搜索）
type TemplateStrategy struct {
	Matcher   TemplateMatcher
	Threshold float64
}

// NewTemplateStrategy 创建模板匹配阶段
func NewTemplateStrategy() *TemplateStrategy {
	return &TemplateStrategy{
		Matcher:   NCCTemplateMatcher{},
		Threshold: DefaultTemplateThreshold,
	}
}

// Method 阶段名称
func (t *TemplateStrategy) Method() MatchMethod {
	return MethodTemplate
}

// Match 在参考图中查找查询图
func (t *TemplateStrategy) Match(ref, query gocv.Mat) (*Match, error) {
	startTime := time.Now()

	if ref.Empty() {
		return nil, ErrEmptyReference
	}
	if query.Empty() {
		return nil, ErrDecodeFailure
	}

	score, maxLoc, err := t.Matcher.Match(ref, query)
	if err != nil {
		return nil, err
	}
	if !acceptScore(score, t.Threshold) {
		return nil, fmt.Errorf("%w: %.4f < %.2f", ErrBelowThreshold, score, t.Threshold)
	}

	h, w := query.Rows(), query.Cols()
	m := Translation(float64(maxLoc.X), float64(maxLoc.Y))

	return &Match{
		Method:      MethodTemplate,
		TopLeft:     Point{X: maxLoc.X, Y: maxLoc.Y},
		BottomRight: Point{X: maxLoc.X + w, Y: maxLoc.Y + h},
		Angle:       0,
		Scale:       1.0,
		Corners:     transformCorners(m, imageCorners(w, h)),
		Transform:   m,
		Score:       score,
		Time:        float64(time.Since(startTime).Milliseconds()),
	}, nil
}
