// Package screen 提供屏幕截图和图像编码功能，截图可直接作为定位器的参考图
package screen

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/go-vgo/robotgo"
	"gocv.io/x/gocv"

	"github.com/keyle/keylefinder/pkg/vision/cv"
)

// Region 屏幕区域
type Region struct {
	X, Y          int
	Width, Height int
}

// ParseRegion 解析 "x,y,w,h" 格式的区域
func ParseRegion(s string) (Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Region{}, fmt.Errorf("区域格式应为 x,y,w,h: %q", s)
	}

	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Region{}, fmt.Errorf("区域参数不是整数: %q", p)
		}
		vals[i] = v
	}

	r := Region{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}
	if r.X < 0 || r.Y < 0 || r.Width <= 0 || r.Height <= 0 {
		return Region{}, fmt.Errorf("区域无效: %q", s)
	}
	return r, nil
}

// Rect 转换为 image.Rectangle
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// CaptureScreen 截取全屏
func CaptureScreen() (image.Image, error) {
	img, err := robotgo.CaptureImg()
	if err != nil {
		return nil, fmt.Errorf("截屏失败: %w", err)
	}
	return img, nil
}

// Clip 将区域裁剪到 width x height 的屏幕内，区域完全在屏幕外时返回 false
func (r Region) Clip(width, height int) (Region, bool) {
	rect := r.Rect().Intersect(image.Rect(0, 0, width, height))
	if rect.Empty() {
		return Region{}, false
	}
	return Region{X: rect.Min.X, Y: rect.Min.Y, Width: rect.Dx(), Height: rect.Dy()}, true
}

// CaptureRegion 截取屏幕区域，超出屏幕的部分会被裁掉
func CaptureRegion(r Region) (image.Image, error) {
	w, h := GetScreenSize()
	clipped, ok := r.Clip(w, h)
	if !ok {
		return nil, fmt.Errorf("区域 %v 超出屏幕范围 %dx%d", r.Rect(), w, h)
	}
	img, err := robotgo.CaptureImg(clipped.X, clipped.Y, clipped.Width, clipped.Height)
	if err != nil {
		return nil, fmt.Errorf("截取区域失败: %w", err)
	}
	return img, nil
}

// CaptureToMat 截屏并转换为 BGR Mat，region 为 nil 时截取全屏
// 调用方负责 Close
func CaptureToMat(region *Region) (gocv.Mat, error) {
	var (
		img image.Image
		err error
	)
	if region != nil {
		img, err = CaptureRegion(*region)
	} else {
		img, err = CaptureScreen()
	}
	if err != nil {
		return gocv.NewMat(), err
	}

	mat, err := cv.ImageToMat(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("截图转换失败: %w", err)
	}
	return mat, nil
}

// GetScreenSize 获取屏幕尺寸
func GetScreenSize() (width, height int) {
	return robotgo.GetScreenSize()
}
