// Package cv 提供子图定位功能
//
// 定位分两个阶段，按顺序执行，首个成功的阶段决定结果:
//   - 特征点匹配 (ORB + 比率测试 + RANSAC 部分仿射估计)
//   - 模板匹配 (归一化互相关，仅在特征点匹配失败时尝试)
//
// 基本用法:
//
//	loc, err := cv.NewLocator("screen.png")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loc.Close()
//
//	res := loc.Locate("button.png")
//	if res.Found() {
//	    fmt.Printf("左上角: %v, 右下角: %v, 缩放: %.2f\n", res.TopLeft, res.BottomRight, *res.Scale)
//	}
//
//	// 自定义参数
//	loc, err := cv.NewLocator("screen.png",
//	    cv.WithRatio(0.7),
//	    cv.WithTemplateThreshold(0.9),
//	    cv.WithPreview("preview.png"),
//	)
package cv
