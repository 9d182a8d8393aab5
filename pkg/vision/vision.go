// Package vision 提供子图定位的便捷函数
//
// 基本用法:
//
//	// 一次性定位
//	res, err := vision.Locate("screen.png", "icon.png")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.JSON())
//
//	// 在屏幕上等待图标出现
//	res, err = vision.WaitScreen("icon.png", vision.WithTimeout(5*time.Second))
package vision

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"gocv.io/x/gocv"

	"github.com/keyle/keylefinder/pkg/screen"
	"github.com/keyle/keylefinder/pkg/vision/cv"
)

// ErrTimeout 等待超时
var ErrTimeout = errors.New("等待超时")

// Locate 在 reference 中定位 query
// reference、query: 文件路径、data URL、image.Image 或 gocv.Mat
// 参考图无法加载时返回错误；查询图无法加载或未找到时返回 NotFound 且 err 为 nil
func Locate(reference, query interface{}, opts ...Option) (cv.LocateResult, error) {
	cfg := applyOptions(opts)

	ref, err := cv.LoadImageInput(reference)
	if err != nil {
		return cv.NotFound(), fmt.Errorf("加载参考图失败: %w", err)
	}
	defer ref.Close()

	loc, err := cv.NewLocatorFromMat(ref, cfg.locatorOpts...)
	if err != nil {
		return cv.NotFound(), err
	}
	defer loc.Close()

	return locateInput(loc, query), nil
}

// locateInput 按输入类型调用定位器
func locateInput(loc *cv.Locator, query interface{}) cv.LocateResult {
	if path, ok := query.(string); ok {
		return loc.Locate(path)
	}
	q, err := cv.LoadImageInput(query)
	if err != nil {
		return cv.NotFound()
	}
	defer q.Close()
	return loc.LocateMat(q)
}

// LocateAll 在同一参考图中并发定位多个查询图，结果顺序与 queries 一致
func LocateAll(reference string, queries []string, opts ...Option) ([]cv.LocateResult, error) {
	cfg := applyOptions(opts)

	loc, err := cv.NewLocator(reference, cfg.locatorOpts...)
	if err != nil {
		return nil, err
	}
	defer loc.Close()

	results := make([]cv.LocateResult, len(queries))
	sem := make(chan struct{}, cfg.workers)
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, q string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = loc.Locate(q)
		}(i, q)
	}
	wg.Wait()

	return results, nil
}

// CountFound 统计找到的结果数
func CountFound(results []cv.LocateResult) int {
	return lo.CountBy(results, func(r cv.LocateResult) bool { return r.Found() })
}

// LocateScreen 截屏后在截图中定位 query
func LocateScreen(query string, opts ...Option) (cv.LocateResult, error) {
	cfg := applyOptions(opts)

	shot, err := cfg.capture(cfg.region)
	if err != nil {
		return cv.NotFound(), err
	}
	defer shot.Close()

	loc, err := cv.NewLocatorFromMat(shot, cfg.locatorOpts...)
	if err != nil {
		return cv.NotFound(), err
	}
	defer loc.Close()

	return offsetRegion(loc.Locate(query), cfg.region), nil
}

// WaitScreen 循环截屏直到找到 query 或超时
func WaitScreen(query string, opts ...Option) (cv.LocateResult, error) {
	cfg := applyOptions(opts)

	q, err := cv.ReadImage(query)
	if err != nil {
		return cv.NotFound(), err
	}
	defer q.Close()

	deadline := time.Now().Add(cfg.timeout)
	for {
		shot, err := cfg.capture(cfg.region)
		if err != nil {
			return cv.NotFound(), err
		}
		res, err := locateShot(shot, q, cfg)
		shot.Close()
		if err != nil {
			return cv.NotFound(), err
		}
		if res.Found() {
			return offsetRegion(res, cfg.region), nil
		}

		if time.Now().After(deadline) {
			return cv.NotFound(), ErrTimeout
		}
		time.Sleep(cfg.interval)
	}
}

func locateShot(shot, query gocv.Mat, cfg *options) (cv.LocateResult, error) {
	loc, err := cv.NewLocatorFromMat(shot, cfg.locatorOpts...)
	if err != nil {
		return cv.NotFound(), err
	}
	defer loc.Close()
	return loc.LocateMat(query), nil
}

// offsetRegion 将区域截图内的坐标换算为屏幕坐标
func offsetRegion(res cv.LocateResult, region *screen.Region) cv.LocateResult {
	if region == nil || !res.Found() || res.TopLeft == nil || res.BottomRight == nil {
		return res
	}
	tl := cv.Point{X: res.TopLeft.X + region.X, Y: res.TopLeft.Y + region.Y}
	br := cv.Point{X: res.BottomRight.X + region.X, Y: res.BottomRight.Y + region.Y}
	res.TopLeft, res.BottomRight = &tl, &br
	return res
}
