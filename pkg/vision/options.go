package vision

import (
	"runtime"
	"time"

	"gocv.io/x/gocv"

	"github.com/keyle/keylefinder/pkg/screen"
	"github.com/keyle/keylefinder/pkg/vision/cv"
)

// Option 配置选项函数类型
type Option func(*options)

// options 调用时的临时配置
type options struct {
	locatorOpts []cv.LocatorOption
	region      *screen.Region
	timeout     time.Duration
	interval    time.Duration
	workers     int
	capture     func(region *screen.Region) (gocv.Mat, error)
}

func applyOptions(opts []Option) *options {
	cfg := &options{
		timeout:  10 * time.Second,
		interval: 500 * time.Millisecond,
		workers:  runtime.NumCPU(),
		capture:  screen.CaptureToMat,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.workers < 1 {
		cfg.workers = 1
	}
	return cfg
}

// WithLocatorOptions 传递定位器选项
func WithLocatorOptions(opts ...cv.LocatorOption) Option {
	return func(c *options) {
		c.locatorOpts = append(c.locatorOpts, opts...)
	}
}

// WithRegion 只截取屏幕的指定区域，返回坐标仍为屏幕坐标
func WithRegion(r screen.Region) Option {
	return func(c *options) {
		c.region = &r
	}
}

// WithTimeout 设置等待超时时间
func WithTimeout(timeout time.Duration) Option {
	return func(c *options) {
		c.timeout = timeout
	}
}

// WithInterval 设置截屏间隔
func WithInterval(interval time.Duration) Option {
	return func(c *options) {
		c.interval = interval
	}
}

// WithWorkers 设置批量定位的并发数
func WithWorkers(n int) Option {
	return func(c *options) {
		c.workers = n
	}
}

// withCapture 替换截屏函数
func withCapture(fn func(region *screen.Region) (gocv.Mat, error)) Option {
	return func(c *options) {
		c.capture = fn
	}
}
