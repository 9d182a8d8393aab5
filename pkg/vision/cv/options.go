package cv

import (
	"github.com/keyle/keylefinder/internal/logger"
	"github.com/keyle/keylefinder/pkg/config"
)

// LocatorOption 定位器选项
type LocatorOption func(*locatorConfig)

// locatorConfig 构造定位器时的临时配置
type locatorConfig struct {
	ratio      float64
	minMatches int
	minInliers int
	threshold  float64

	extractor FeatureExtractor
	matcher   DescriptorMatcher
	estimator RobustAffineEstimator
	tmpl      TemplateMatcher

	strategies  []Strategy
	custom      bool
	previewPath string
	log         *logger.Logger
}

// defaultLocatorConfig 默认配置
func defaultLocatorConfig() *locatorConfig {
	return &locatorConfig{
		ratio:      DefaultRatio,
		minMatches: DefaultMinMatches,
		threshold:  DefaultTemplateThreshold,
		extractor:  ORBExtractor{},
		matcher:    HammingMatcher{},
		estimator:  NewRANSACAffineEstimator(),
		tmpl:       NCCTemplateMatcher{},
		log:        logger.Default(),
	}
}

// validate 检查参数
func (c *locatorConfig) validate() error {
	if !(c.ratio > 0 && c.ratio <= 1) {
		return &OptionError{Option: "ratio", Value: c.ratio}
	}
	if c.minMatches < 3 {
		return &OptionError{Option: "min_matches", Value: c.minMatches}
	}
	if c.minInliers < 0 {
		return &OptionError{Option: "min_inliers", Value: c.minInliers}
	}
	if c.threshold < -1 || c.threshold > 1 {
		return &OptionError{Option: "template_threshold", Value: c.threshold}
	}
	if c.extractor == nil || c.matcher == nil || c.estimator == nil || c.tmpl == nil {
		return &OptionError{Option: "backend", Value: "nil"}
	}
	if c.custom && len(c.strategies) == 0 {
		return ErrNoStrategies
	}
	return nil
}

// buildStrategies 构建阶段列表: 特征点匹配在前，模板匹配兜底
func (c *locatorConfig) buildStrategies() []Strategy {
	if c.custom {
		return c.strategies
	}
	return []Strategy{
		&FeatureStrategy{
			Extractor:  c.extractor,
			Matcher:    c.matcher,
			Estimator:  c.estimator,
			Ratio:      c.ratio,
			MinMatches: c.minMatches,
			MinInliers: c.minInliers,
		},
		&TemplateStrategy{
			Matcher:   c.tmpl,
			Threshold: c.threshold,
		},
	}
}

// WithRatio 设置比率测试阈值
func WithRatio(ratio float64) LocatorOption {
	return func(c *locatorConfig) {
		c.ratio = ratio
	}
}

// WithMinMatches 设置最少有效匹配数
func WithMinMatches(n int) LocatorOption {
	return func(c *locatorConfig) {
		c.minMatches = n
	}
}

// WithMinInliers 设置 RANSAC 最少内点数，0 表示不校验
func WithMinInliers(n int) LocatorOption {
	return func(c *locatorConfig) {
		c.minInliers = n
	}
}

// WithTemplateThreshold 设置模板匹配阈值
func WithTemplateThreshold(threshold float64) LocatorOption {
	return func(c *locatorConfig) {
		c.threshold = threshold
	}
}

// WithFeatureExtractor 替换特征提取器
func WithFeatureExtractor(e FeatureExtractor) LocatorOption {
	return func(c *locatorConfig) {
		c.extractor = e
	}
}

// WithDescriptorMatcher 替换描述子匹配器
func WithDescriptorMatcher(m DescriptorMatcher) LocatorOption {
	return func(c *locatorConfig) {
		c.matcher = m
	}
}

// WithAffineEstimator 替换仿射估计器
func WithAffineEstimator(e RobustAffineEstimator) LocatorOption {
	return func(c *locatorConfig) {
		c.estimator = e
	}
}

// WithTemplateMatcher 替换模板匹配器
func WithTemplateMatcher(m TemplateMatcher) LocatorOption {
	return func(c *locatorConfig) {
		c.tmpl = m
	}
}

// WithStrategies 完全自定义阶段列表，按顺序尝试
func WithStrategies(strategies ...Strategy) LocatorOption {
	return func(c *locatorConfig) {
		c.custom = true
		c.strategies = strategies
	}
}

// WithPreview 每次定位后将调试预览图写入 path
func WithPreview(path string) LocatorOption {
	return func(c *locatorConfig) {
		c.previewPath = path
	}
}

// WithLogger 设置日志记录器
func WithLogger(l *logger.Logger) LocatorOption {
	return func(c *locatorConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// LocatorOptionsFromConfig 将配置文件中的定位器参数转换为选项
func LocatorOptionsFromConfig(cfg config.LocatorConfig) []LocatorOption {
	opts := []LocatorOption{
		WithRatio(cfg.Ratio),
		WithMinMatches(cfg.MinMatches),
		WithMinInliers(cfg.MinInliers),
		WithTemplateThreshold(cfg.TemplateThreshold),
		WithAffineEstimator(&RANSACAffineEstimator{
			ReprojThreshold: cfg.ReprojThreshold,
			MaxIters:        uint(max(cfg.MaxIters, 1)),
			Confidence:      cfg.Confidence,
			RefineIters:     uint(max(cfg.RefineIters, 0)),
		}),
	}
	if cfg.PreviewPath != "" {
		opts = append(opts, WithPreview(cfg.PreviewPath))
	}
	return opts
}
