package cv

import (
	"errors"
	"fmt"
	"strings"
)

// 阶段内部的失败原因，均不会从 Locate 中抛出
var (
	// ErrDecodeFailure 图像无法解码
	ErrDecodeFailure = errors.New("图像解码失败")
	// ErrEmptyReference 参考图为空
	ErrEmptyReference = errors.New("参考图为空")
	// ErrInsufficientFeatures 比率测试后剩余的匹配点不足
	ErrInsufficientFeatures = errors.New("有效匹配点不足")
	// ErrDegenerateGeometry 仿射估计无法得到模型
	ErrDegenerateGeometry = errors.New("无法估计仿射变换")
	// ErrBelowThreshold 模板匹配峰值低于阈值
	ErrBelowThreshold = errors.New("匹配度低于阈值")
)

// ErrNoStrategies 没有可用的匹配阶段
var ErrNoStrategies = errors.New("未配置任何匹配策略")

// ImageSizeError 图像尺寸错误
type ImageSizeError struct {
	SourceSize [2]int
	SearchSize [2]int
}

func (e *ImageSizeError) Error() string {
	return fmt.Sprintf("查询图尺寸 %dx%d 大于参考图 %dx%d",
		e.SearchSize[0], e.SearchSize[1], e.SourceSize[0], e.SourceSize[1])
}

// StageError 某个阶段失败的原因
type StageError struct {
	Method MatchMethod
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Method, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NotFoundError 所有阶段均失败
type NotFoundError struct {
	Stages []error
}

func (e *NotFoundError) Error() string {
	if len(e.Stages) == 0 {
		return "未找到子图"
	}
	parts := make([]string, len(e.Stages))
	for i, err := range e.Stages {
		parts[i] = err.Error()
	}
	return "未找到子图: " + strings.Join(parts, "; ")
}

// Unwrap 支持 errors.Is 检查任一阶段的原因
func (e *NotFoundError) Unwrap() []error {
	return e.Stages
}

// OptionError 定位器参数非法
type OptionError struct {
	Option string
	Value  interface{}
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("参数 %s 非法: %v", e.Option, e.Value)
}
