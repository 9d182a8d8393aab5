package cv

import (
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"gocv.io/x/gocv"
)

const (
	// DefaultRatio Lowe 比率测试阈值
	DefaultRatio = 0.75
	// DefaultMinMatches 进行鲁棒估计前所需的最少有效匹配数
	DefaultMinMatches = 4
)

// FeatureExtractor 特征点检测与描述子计算
type FeatureExtractor interface {
	// DetectAndCompute 在灰度图上检测特征点并计算描述子，调用方负责关闭返回的 Mat
	DetectAndCompute(gray gocv.Mat) ([]gocv.KeyPoint, gocv.Mat)
}

// DescriptorMatcher 描述子 KNN 匹配
type DescriptorMatcher interface {
	// KnnMatch 为每个查询描述子找出 k 个最近的参考描述子
	KnnMatch(query, train gocv.Mat, k int) [][]gocv.DMatch
}

// ORBExtractor ORB 特征提取，每次调用新建检测器，可并发使用
type ORBExtractor struct{}

// DetectAndCompute 检测特征点
func (ORBExtractor) DetectAndCompute(gray gocv.Mat) ([]gocv.KeyPoint, gocv.Mat) {
	orb := gocv.NewORB()
	defer orb.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	return orb.DetectAndCompute(gray, mask)
}

// HammingMatcher 汉明距离暴力匹配，每次调用新建匹配器
type HammingMatcher struct{}

// KnnMatch KNN 匹配
func (HammingMatcher) KnnMatch(query, train gocv.Mat, k int) [][]gocv.DMatch {
	matcher := gocv.NewBFMatcherWithParams(gocv.NormHamming, false)
	defer matcher.Close()
	return matcher.KnnMatch(query, train, k)
}

// FilterGoodMatches 比率测试: 最近距离严格小于 ratio * 次近距离才保留
func FilterGoodMatches(matches [][]gocv.DMatch, ratio float64) []gocv.DMatch {
	good := lo.FilterMap(matches, func(m []gocv.DMatch, _ int) (gocv.DMatch, bool) {
		if len(m) < 2 {
			return gocv.DMatch{}, false
		}
		return m[0], float64(m[0].Distance) < ratio*float64(m[1].Distance)
	})

	// 按距离排序
	sort.SliceStable(good, func(i, j int) bool {
		return good[i].Distance < good[j].Distance
	})

	return good
}

// FeatureStrategy 特征点匹配阶段
type FeatureStrategy struct {
	Extractor  FeatureExtractor
	Matcher    DescriptorMatcher
	Estimator  RobustAffineEstimator
	Ratio      float64
	MinMatches int
	MinInliers int
}

// NewFeatureStrategy 使用 ORB + 汉明匹配 + RANSAC 创建特征点匹配阶段
func NewFeatureStrategy() *FeatureStrategy {
	return &FeatureStrategy{
		Extractor:  ORBExtractor{},
		Matcher:    HammingMatcher{},
		Estimator:  NewRANSACAffineEstimator(),
		Ratio:      DefaultRatio,
		MinMatches: DefaultMinMatches,
	}
}

// Method 阶段名称
func (f *FeatureStrategy) Method() MatchMethod {
	return MethodFeature
}

// Match 在参考图中查找查询图
func (f *FeatureStrategy) Match(ref, query gocv.Mat) (*Match, error) {
	if ref.Empty() {
		return nil, ErrEmptyReference
	}
	if query.Empty() {
		return nil, ErrDecodeFailure
	}

	refGray := ToGray(ref)
	defer refGray.Close()

	return f.MatchGray(ref, refGray, query)
}

// MatchGray 与 Match 相同，使用调用方提供的灰度参考图
func (f *FeatureStrategy) MatchGray(ref, refGray, query gocv.Mat) (*Match, error) {
	startTime := time.Now()

	if ref.Empty() || refGray.Empty() {
		return nil, ErrEmptyReference
	}
	if query.Empty() {
		return nil, ErrDecodeFailure
	}

	queryGray := ToGray(query)
	defer queryGray.Close()

	return f.matchGray(refGray, queryGray, startTime)
}

// matchGray 在灰度图上执行匹配
func (f *FeatureStrategy) matchGray(refGray, queryGray gocv.Mat, startTime time.Time) (*Match, error) {
	kpQuery, descQuery := f.Extractor.DetectAndCompute(queryGray)
	kpRef, descRef := f.Extractor.DetectAndCompute(refGray)
	defer descQuery.Close()
	defer descRef.Close()

	if descQuery.Empty() || descRef.Empty() || len(kpQuery) == 0 || len(kpRef) == 0 {
		return nil, fmt.Errorf("%w: 特征点数量 查询=%d 参考=%d", ErrInsufficientFeatures, len(kpQuery), len(kpRef))
	}

	matches := f.Matcher.KnnMatch(descQuery, descRef, 2)
	good := FilterGoodMatches(matches, f.Ratio)
	if len(good) < f.MinMatches {
		return nil, fmt.Errorf("%w: %d < %d", ErrInsufficientFeatures, len(good), f.MinMatches)
	}

	srcPts, dstPts := matchedPoints(kpQuery, kpRef, good)

	est, err := f.Estimator.Estimate(srcPts, dstPts)
	if err != nil {
		return nil, err
	}
	if f.MinInliers > 0 && est.Inliers < f.MinInliers {
		return nil, fmt.Errorf("%w: 内点 %d < %d", ErrDegenerateGeometry, est.Inliers, f.MinInliers)
	}

	m := est.Transform
	corners := transformCorners(m, imageCorners(queryGray.Cols(), queryGray.Rows()))
	topLeft, bottomRight := boundingBox(corners)

	return &Match{
		Method:      MethodFeature,
		TopLeft:     topLeft,
		BottomRight: bottomRight,
		Angle:       m.Angle(),
		Scale:       m.Scale(),
		Corners:     corners,
		Transform:   m,
		Score:       est.InlierRate(),
		Inliers:     est.Inliers,
		Time:        float64(time.Since(startTime).Milliseconds()),
	}, nil
}

// matchedPoints 提取匹配点坐标
func matchedPoints(kpQuery, kpRef []gocv.KeyPoint, matches []gocv.DMatch) ([]gocv.Point2f, []gocv.Point2f) {
	srcPts := make([]gocv.Point2f, len(matches))
	dstPts := make([]gocv.Point2f, len(matches))

	for i, m := range matches {
		srcPts[i] = gocv.Point2f{
			X: float32(kpQuery[m.QueryIdx].X),
			Y: float32(kpQuery[m.QueryIdx].Y),
		}
		dstPts[i] = gocv.Point2f{
			X: float32(kpRef[m.TrainIdx].X),
			Y: float32(kpRef[m.TrainIdx].Y),
		}
	}
	return srcPts, dstPts
}
