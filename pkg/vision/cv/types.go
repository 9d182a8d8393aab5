package cv

import (
	"encoding/json"
	"fmt"
	"image"
)

// Status 定位结果状态码
type Status int

const (
	// StatusFound 找到子图
	StatusFound Status = 0
	// StatusNotFound 未找到子图
	StatusNotFound Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "FOUND"
	case StatusNotFound:
		return "NOT_FOUND"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Point 表示二维整数坐标点，JSON 编码为 [x, y]
type Point struct {
	X int
	Y int
}

// MarshalJSON 编码为 [x, y]
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.X, p.Y})
}

// UnmarshalJSON 解码 [x, y]
func (p *Point) UnmarshalJSON(data []byte) error {
	var xy [2]int
	if err := json.Unmarshal(data, &xy); err != nil {
		return fmt.Errorf("解析坐标失败: %w", err)
	}
	p.X, p.Y = xy[0], xy[1]
	return nil
}

// ImagePoint 转换为 image.Point
func (p Point) ImagePoint() image.Point {
	return image.Point{X: p.X, Y: p.Y}
}

// LocateResult 对外的定位结果
//
// StatusNotFound 时不携带任何几何信息; StatusFound 时 TopLeft、BottomRight、Scale 均非空。
type LocateResult struct {
	Status      Status   `json:"status"`
	TopLeft     *Point   `json:"top_left,omitempty"`
	BottomRight *Point   `json:"bottom_right,omitempty"`
	Scale       *float64 `json:"scale,omitempty"`
}

// NotFound 返回未找到结果
func NotFound() LocateResult {
	return LocateResult{Status: StatusNotFound}
}

// Found 是否找到
func (r LocateResult) Found() bool {
	return r.Status == StatusFound
}

// Rect 返回边界框，未找到时返回空矩形
func (r LocateResult) Rect() image.Rectangle {
	if !r.Found() || r.TopLeft == nil || r.BottomRight == nil {
		return image.Rectangle{}
	}
	return image.Rectangle{Min: r.TopLeft.ImagePoint(), Max: r.BottomRight.ImagePoint()}
}

// JSON 返回紧凑 JSON 字符串
func (r LocateResult) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return `{"status":1}`
	}
	return string(data)
}

// MatchMethod 匹配方法
type MatchMethod string

const (
	// MethodFeature ORB 特征点匹配
	MethodFeature MatchMethod = "orb"
	// MethodTemplate 归一化互相关模板匹配
	MethodTemplate MatchMethod = "tpl"
)

// Match 单个阶段的成功匹配结果（内部详细信息）
type Match struct {
	// Method 产生结果的阶段
	Method MatchMethod `json:"method"`
	// TopLeft 轴对齐边界框左上角
	TopLeft Point `json:"top_left"`
	// BottomRight 轴对齐边界框右下角
	BottomRight Point `json:"bottom_right"`
	// Angle 旋转角度（度），仅用于预览
	Angle float64 `json:"angle"`
	// Scale 查询图到参考图的均匀缩放
	Scale float64 `json:"scale"`
	// Corners 查询图四个角点在参考图中的位置（左上、右上、右下、左下）
	Corners [4]Point2f `json:"corners"`
	// Transform 查询图到参考图的 2x3 仿射矩阵
	Transform AffineTransform `json:"transform"`
	// Score 模板匹配峰值，特征点匹配时为内点比例
	Score float64 `json:"score"`
	// Inliers 特征点匹配的内点数量
	Inliers int `json:"inliers,omitempty"`
	// Time 匹配耗时（毫秒）
	Time float64 `json:"time,omitempty"`
}

// Result 转换为对外结果
func (m *Match) Result() LocateResult {
	if m == nil {
		return NotFound()
	}
	tl, br := m.TopLeft, m.BottomRight
	scale := m.Scale
	return LocateResult{
		Status:      StatusFound,
		TopLeft:     &tl,
		BottomRight: &br,
		Scale:       &scale,
	}
}

// Center 边界框中心
func (m *Match) Center() Point {
	return Point{
		X: (m.TopLeft.X + m.BottomRight.X) / 2,
		Y: (m.TopLeft.Y + m.BottomRight.Y) / 2,
	}
}

// Point2f 浮点坐标
type Point2f struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
