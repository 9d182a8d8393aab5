package cv

import (
	"math"

	"github.com/samber/lo"
	"gocv.io/x/gocv"
)

// RANSAC 默认参数，与 OpenCV estimateAffinePartial2D 的默认值一致
const (
	DefaultRansacReprojThreshold = 3.0
	DefaultRansacMaxIters        = 2000
	DefaultRansacConfidence      = 0.99
	DefaultRansacRefineIters     = 10
)

// AffineTransform 2x3 仿射矩阵，将查询图坐标映射到参考图坐标
type AffineTransform [2][3]float64

// Identity 单位变换
func Identity() AffineTransform {
	return AffineTransform{{1, 0, 0}, {0, 1, 0}}
}

// Translation 平移变换
func Translation(tx, ty float64) AffineTransform {
	return AffineTransform{{1, 0, tx}, {0, 1, ty}}
}

// Apply 变换单个点
func (m AffineTransform) Apply(p Point2f) Point2f {
	return Point2f{
		X: m[0][0]*p.X + m[0][1]*p.Y + m[0][2],
		Y: m[1][0]*p.X + m[1][1]*p.Y + m[1][2],
	}
}

// Angle 旋转角度（度），只使用线性部分
func (m AffineTransform) Angle() float64 {
	return math.Atan2(m[1][0], m[0][0]) * 180 / math.Pi
}

// Scale 均匀缩放系数，只使用线性部分
func (m AffineTransform) Scale() float64 {
	return math.Hypot(m[0][0], m[1][0])
}

// Mat 转换为 CV_64F 的 2x3 gocv.Mat，调用方负责 Close
func (m AffineTransform) Mat() gocv.Mat {
	mat := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			mat.SetDoubleAt(r, c, m[r][c])
		}
	}
	return mat
}

// affineFromMat 从 2x3 gocv.Mat 读取仿射矩阵
func affineFromMat(mat gocv.Mat) (AffineTransform, bool) {
	var m AffineTransform
	if mat.Empty() || mat.Rows() != 2 || mat.Cols() != 3 {
		return m, false
	}
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			v := mat.GetDoubleAt(r, c)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return m, false
			}
			m[r][c] = v
		}
	}
	return m, true
}

// imageCorners 返回 w x h 图像的四个角点: 左上、右上、右下、左下
func imageCorners(w, h int) [4]Point2f {
	return [4]Point2f{
		{X: 0, Y: 0},
		{X: float64(w - 1), Y: 0},
		{X: float64(w - 1), Y: float64(h - 1)},
		{X: 0, Y: float64(h - 1)},
	}
}

// transformCorners 将角点映射到参考图坐标
func transformCorners(m AffineTransform, corners [4]Point2f) [4]Point2f {
	var out [4]Point2f
	for i, c := range corners {
		out[i] = m.Apply(c)
	}
	return out
}

// boundingBox 角点的轴对齐边界框，坐标向零截断
func boundingBox(pts [4]Point2f) (Point, Point) {
	xs := lo.Map(pts[:], func(p Point2f, _ int) float64 { return p.X })
	ys := lo.Map(pts[:], func(p Point2f, _ int) float64 { return p.Y })
	return Point{X: int(lo.Min(xs)), Y: int(lo.Min(ys))},
		Point{X: int(lo.Max(xs)), Y: int(lo.Max(ys))}
}

// AffineEstimate 鲁棒估计结果
type AffineEstimate struct {
	Transform AffineTransform
	Inliers   int
	Total     int
}

// InlierRate 内点比例
func (e AffineEstimate) InlierRate() float64 {
	if e.Total == 0 {
		return 0
	}
	return float64(e.Inliers) / float64(e.Total)
}

// RobustAffineEstimator 从匹配点对估计部分仿射变换（平移 + 旋转 + 均匀缩放）
type RobustAffineEstimator interface {
	// Estimate 估计 src -> dst 的变换，无法得到模型时返回 ErrDegenerateGeometry
	Estimate(src, dst []gocv.Point2f) (AffineEstimate, error)
}

// RANSACAffineEstimator 基于 OpenCV estimateAffinePartial2D (RANSAC) 的估计器
type RANSACAffineEstimator struct {
	ReprojThreshold float64
	MaxIters        uint
	Confidence      float64
	RefineIters     uint
}

// NewRANSACAffineEstimator 使用默认参数创建估计器
func NewRANSACAffineEstimator() *RANSACAffineEstimator {
	return &RANSACAffineEstimator{
		ReprojThreshold: DefaultRansacReprojThreshold,
		MaxIters:        DefaultRansacMaxIters,
		Confidence:      DefaultRansacConfidence,
		RefineIters:     DefaultRansacRefineIters,
	}
}

// Estimate 估计部分仿射变换
func (e *RANSACAffineEstimator) Estimate(src, dst []gocv.Point2f) (AffineEstimate, error) {
	if len(src) != len(dst) || len(src) < 2 {
		return AffineEstimate{}, ErrDegenerateGeometry
	}

	srcVec := gocv.NewPoint2fVectorFromPoints(src)
	dstVec := gocv.NewPoint2fVectorFromPoints(dst)
	defer srcVec.Close()
	defer dstVec.Close()

	inliers := gocv.NewMat()
	defer inliers.Close()

	mat := gocv.EstimateAffinePartial2DWithParams(srcVec, dstVec, inliers,
		int(gocv.HomographyMethodRANSAC), e.ReprojThreshold, e.MaxIters, e.Confidence, e.RefineIters)
	defer mat.Close()

	m, ok := affineFromMat(mat)
	if !ok {
		return AffineEstimate{}, ErrDegenerateGeometry
	}
	// 线性部分退化（缩放为 0）同样视为无模型
	if m.Scale() < 1e-9 {
		return AffineEstimate{}, ErrDegenerateGeometry
	}

	return AffineEstimate{
		Transform: m,
		Inliers:   countInliers(inliers),
		Total:     len(src),
	}, nil
}

// countInliers 统计掩码中非零的行数
func countInliers(mask gocv.Mat) int {
	if mask.Empty() {
		return 0
	}
	inliers := 0
	for i := 0; i < mask.Rows(); i++ {
		if mask.GetUCharAt(i, 0) > 0 {
			inliers++
		}
	}
	return inliers
}
