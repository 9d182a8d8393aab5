package vision

import (
	"github.com/keyle/keylefinder/pkg/vision/cv"
)

// TargetPos 目标位置枚举，用于指定返回匹配框的哪个位置
type TargetPos int

const (
	// TargetPosMid 中心点（默认）
	TargetPosMid TargetPos = iota
	// TargetPosTopLeft 左上角
	TargetPosTopLeft
	// TargetPosTopRight 右上角
	TargetPosTopRight
	// TargetPosBottomLeft 左下角
	TargetPosBottomLeft
	// TargetPosBottomRight 右下角
	TargetPosBottomRight
)

// GetPosition 从定位结果取对应位置，未找到时返回 false
func (t TargetPos) GetPosition(res cv.LocateResult) (cv.Point, bool) {
	if !res.Found() || res.TopLeft == nil || res.BottomRight == nil {
		return cv.Point{}, false
	}
	tl, br := *res.TopLeft, *res.BottomRight
	switch t {
	case TargetPosTopLeft:
		return tl, true
	case TargetPosTopRight:
		return cv.Point{X: br.X, Y: tl.Y}, true
	case TargetPosBottomLeft:
		return cv.Point{X: tl.X, Y: br.Y}, true
	case TargetPosBottomRight:
		return br, true
	default:
		return cv.Point{X: (tl.X + br.X) / 2, Y: (tl.Y + br.Y) / 2}, true
	}
}
