package cv

import (
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/keyle/keylefinder/pkg/config"
	"gocv.io/x/gocv"
)

// makeReference 生成带随机几何图形的参考图（固定种子）
func makeReference() gocv.Mat {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(235, 235, 235, 0), 480, 640, gocv.MatTypeCV8UC3)
	rnd := rand.New(rand.NewSource(42))
	randColor := func() color.RGBA {
		return color.RGBA{uint8(rnd.Intn(200)), uint8(rnd.Intn(200)), uint8(rnd.Intn(200)), 255}
	}

	for i := 0; i < 160; i++ {
		x, y := rnd.Intn(630), rnd.Intn(470)
		switch i % 3 {
		case 0:
			gocv.Rectangle(&img, image.Rect(x, y, x+8+rnd.Intn(50), y+8+rnd.Intn(40)), randColor(), -1)
		case 1:
			gocv.Circle(&img, image.Pt(x, y), 4+rnd.Intn(22), randColor(), -1)
		default:
			gocv.Line(&img, image.Pt(x, y), image.Pt(rnd.Intn(640), rnd.Intn(480)), randColor(), 1+rnd.Intn(3))
		}
	}

	// 固定图标，供小尺寸裁剪使用
	gocv.Rectangle(&img, image.Rect(304, 204, 330, 232), color.RGBA{200, 40, 40, 255}, -1)
	gocv.Circle(&img, image.Pt(336, 214), 8, color.RGBA{30, 60, 190, 255}, -1)
	gocv.Line(&img, image.Pt(300, 238), image.Pt(347, 201), color.RGBA{20, 140, 60, 255}, 2)
	return img
}

// writeFixture 写入临时目录并返回路径
func writeFixture(t *testing.T, dir, name string, img gocv.Mat) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := WriteImage(path, img); err != nil {
		t.Skipf("跳过测试：无法写入测试图像 %s: %v", path, err)
	}
	return path
}

// fixture 参考图及其路径
type fixture struct {
	dir     string
	ref     gocv.Mat
	refPath string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	ref := makeReference()
	t.Cleanup(func() { ref.Close() })
	return &fixture{
		dir:     dir,
		ref:     ref,
		refPath: writeFixture(t, dir, "reference.png", ref),
	}
}

func (f *fixture) locator(t *testing.T, opts ...LocatorOption) *Locator {
	t.Helper()
	loc, err := NewLocator(f.refPath, opts...)
	if err != nil {
		t.Fatalf("创建定位器失败: %v", err)
	}
	if !loc.Ready() {
		t.Fatalf("参考图应可用: %s", f.refPath)
	}
	t.Cleanup(loc.Close)
	return loc
}

func near(a, b, tol int) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func TestFilterGoodMatchesRatioBoundary(t *testing.T) {
	matches := [][]gocv.DMatch{
		{{QueryIdx: 0, Distance: 75}, {QueryIdx: 0, Distance: 100}}, // 恰好在边界，排除
		{{QueryIdx: 1, Distance: 74}, {QueryIdx: 1, Distance: 100}},
		{{QueryIdx: 2, Distance: 10}}, // 只有一个候选
		{{QueryIdx: 3, Distance: 30}, {QueryIdx: 3, Distance: 32}},
		{{QueryIdx: 4, Distance: 5}, {QueryIdx: 4, Distance: 50}},
	}

	good := FilterGoodMatches(matches, 0.75)
	if len(good) != 2 {
		t.Fatalf("有效匹配数量错误: got %d, want 2", len(good))
	}
	// 按距离升序
	if good[0].QueryIdx != 4 || good[1].QueryIdx != 1 {
		t.Errorf("有效匹配顺序错误: got %d,%d", good[0].QueryIdx, good[1].QueryIdx)
	}
}

func TestAcceptScoreBoundary(t *testing.T) {
	testCases := []struct {
		score float64
		want  bool
	}{
		{0.8, true},
		{0.7999999, false},
		{0.95, true},
		{-0.2, false},
	}
	for _, tc := range testCases {
		if got := acceptScore(tc.score, 0.8); got != tc.want {
			t.Errorf("acceptScore(%v, 0.8) = %v, want %v", tc.score, got, tc.want)
		}
	}
}

func TestAffineTransform(t *testing.T) {
	rad := 30 * math.Pi / 180
	m := AffineTransform{
		{2 * math.Cos(rad), -2 * math.Sin(rad), 10},
		{2 * math.Sin(rad), 2 * math.Cos(rad), 20},
	}

	if math.Abs(m.Angle()-30) > 1e-9 {
		t.Errorf("Angle 错误: got %.6f, want 30", m.Angle())
	}
	if math.Abs(m.Scale()-2) > 1e-9 {
		t.Errorf("Scale 错误: got %.6f, want 2", m.Scale())
	}

	p := Translation(5, -3).Apply(Point2f{X: 1, Y: 1})
	if p.X != 6 || p.Y != -2 {
		t.Errorf("Apply 错误: got (%.1f, %.1f)", p.X, p.Y)
	}

	id := Identity()
	if id.Scale() != 1 || id.Angle() != 0 {
		t.Errorf("Identity 错误: scale=%.2f angle=%.2f", id.Scale(), id.Angle())
	}
}

func TestBoundingBox(t *testing.T) {
	corners := transformCorners(Translation(100.7, 50.2), imageCorners(40, 30))
	tl, br := boundingBox(corners)
	if tl != (Point{X: 100, Y: 50}) {
		t.Errorf("左上角错误: got %+v", tl)
	}
	if br != (Point{X: 139, Y: 79}) {
		t.Errorf("右下角错误: got %+v", br)
	}

	// 向零截断
	tl, _ = boundingBox([4]Point2f{{X: -0.6, Y: -1.4}, {X: 3, Y: 0}, {X: 3, Y: 3}, {X: 0, Y: 3}})
	if tl != (Point{X: 0, Y: -1}) {
		t.Errorf("截断错误: got %+v", tl)
	}
}

func TestLocateResultJSON(t *testing.T) {
	if got := NotFound().JSON(); got != `{"status":1}` {
		t.Errorf("未找到 JSON 错误: %s", got)
	}

	m := &Match{
		TopLeft:     Point{X: 10, Y: 20},
		BottomRight: Point{X: 110, Y: 70},
		Scale:       1.5,
	}
	want := `{"status":0,"top_left":[10,20],"bottom_right":[110,70],"scale":1.5}`
	if got := m.Result().JSON(); got != want {
		t.Errorf("找到 JSON 错误:\n got %s\nwant %s", got, want)
	}

	var nilMatch *Match
	if nilMatch.Result().Found() {
		t.Error("nil Match 应转换为未找到")
	}

	var decoded LocateResult
	if err := json.Unmarshal([]byte(want), &decoded); err != nil {
		t.Fatalf("解析结果失败: %v", err)
	}
	if decoded.Rect() != image.Rect(10, 20, 110, 70) {
		t.Errorf("边界框错误: %v", decoded.Rect())
	}
	if !NotFound().Rect().Empty() {
		t.Error("未找到时边界框应为空")
	}
	if err := json.Unmarshal([]byte(`{"status":0,"top_left":[1]}`), &decoded); err == nil {
		t.Error("坐标格式错误时应返回错误")
	}
}

func TestNewLocatorInvalidOptions(t *testing.T) {
	testCases := []struct {
		name string
		opt  LocatorOption
	}{
		{"ratio=0", WithRatio(0)},
		{"ratio>1", WithRatio(1.5)},
		{"min_matches<3", WithMinMatches(2)},
		{"threshold>1", WithTemplateThreshold(1.2)},
		{"nil extractor", WithFeatureExtractor(nil)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			loc, err := NewLocator("unused.png", tc.opt)
			if err == nil {
				loc.Close()
				t.Fatal("应返回参数错误")
			}
			var optErr *OptionError
			if !errors.As(err, &optErr) {
				t.Errorf("错误类型应为 *OptionError: %v", err)
			}
		})
	}

	_, err := NewLocator("unused.png", WithStrategies())
	if !errors.Is(err, ErrNoStrategies) {
		t.Errorf("空策略列表应返回 ErrNoStrategies: %v", err)
	}
}

func TestLocatorDegradedReference(t *testing.T) {
	loc, err := NewLocator(filepath.Join(t.TempDir(), "missing.png"))
	if err != nil {
		t.Fatalf("参考图解码失败不应返回错误: %v", err)
	}
	defer loc.Close()

	if loc.Ready() {
		t.Error("参考图缺失时 Ready 应为 false")
	}

	res := loc.Locate(filepath.Join(t.TempDir(), "query.png"))
	if res.Found() || res.TopLeft != nil || res.Scale != nil {
		t.Errorf("降级定位器应返回未找到: %s", res.JSON())
	}
}

func TestLocateUndecodableQuery(t *testing.T) {
	f := newFixture(t)
	loc := f.locator(t)

	bogus := filepath.Join(f.dir, "bogus.png")
	if err := os.WriteFile(bogus, []byte("not an image"), 0644); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}

	m, err := loc.LocateDetailed(bogus)
	if m != nil {
		t.Fatal("无法解码的查询图不应有结果")
	}
	if !errors.Is(err, ErrDecodeFailure) {
		t.Errorf("错误应包含 ErrDecodeFailure: %v", err)
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || len(nf.Stages) != 2 {
		t.Errorf("应记录两个阶段的失败: %v", err)
	}
}

// fakeStrategy 用于校验阶段顺序
type fakeStrategy struct {
	method MatchMethod
	match  *Match
	err    error
	calls  int
}

func (s *fakeStrategy) Method() MatchMethod { return s.method }

func (s *fakeStrategy) Match(ref, query gocv.Mat) (*Match, error) {
	s.calls++
	return s.match, s.err
}

func TestLocatorStrategyOrder(t *testing.T) {
	ref := gocv.NewMatWithSize(20, 20, gocv.MatTypeCV8UC3)
	defer ref.Close()
	query := gocv.NewMatWithSize(5, 5, gocv.MatTypeCV8UC3)
	defer query.Close()

	first := &fakeStrategy{method: "a", err: ErrInsufficientFeatures}
	second := &fakeStrategy{method: "b", match: &Match{Method: "b", Scale: 1}}
	third := &fakeStrategy{method: "c", match: &Match{Method: "c", Scale: 1}}

	loc, err := NewLocatorFromMat(ref, WithStrategies(first, second, third))
	if err != nil {
		t.Fatalf("创建定位器失败: %v", err)
	}
	defer loc.Close()

	m, err := loc.LocateMatDetailed(query)
	if err != nil {
		t.Fatalf("应找到结果: %v", err)
	}
	if m.Method != "b" {
		t.Errorf("应由第二个阶段返回结果: got %s", m.Method)
	}
	if first.calls != 1 || second.calls != 1 || third.calls != 0 {
		t.Errorf("阶段调用次数错误: %d %d %d", first.calls, second.calls, third.calls)
	}

	// 返回 nil, nil 的阶段视为失败
	empty := &fakeStrategy{method: "empty"}
	loc2, _ := NewLocatorFromMat(ref, WithStrategies(empty))
	defer loc2.Close()
	if res := loc2.LocateMat(query); res.Found() {
		t.Error("无结果的阶段不应返回找到")
	}
}

func TestLocateIdentityCrop(t *testing.T) {
	f := newFixture(t)
	loc := f.locator(t)

	crop := CropImage(f.ref, [4]int{200, 150, 440, 330})
	defer crop.Close()
	queryPath := writeFixture(t, f.dir, "crop.png", crop)

	m, err := loc.LocateDetailed(queryPath)
	if err != nil {
		t.Fatalf("定位失败: %v", err)
	}
	t.Logf("方法=%s 框=(%d,%d)-(%d,%d) 缩放=%.3f 角度=%.2f 内点=%d",
		m.Method, m.TopLeft.X, m.TopLeft.Y, m.BottomRight.X, m.BottomRight.Y, m.Scale, m.Angle, m.Inliers)

	if !near(m.TopLeft.X, 200, 3) || !near(m.TopLeft.Y, 150, 3) {
		t.Errorf("左上角错误: got (%d, %d), want (200, 150)", m.TopLeft.X, m.TopLeft.Y)
	}
	if !near(m.BottomRight.X, 439, 3) || !near(m.BottomRight.Y, 329, 3) {
		t.Errorf("右下角错误: got (%d, %d), want (439, 329)", m.BottomRight.X, m.BottomRight.Y)
	}
	if math.Abs(m.Scale-1) > 0.02 {
		t.Errorf("缩放错误: got %.4f, want 1.0", m.Scale)
	}

	res := m.Result()
	if !res.Found() || res.TopLeft == nil || res.BottomRight == nil || res.Scale == nil {
		t.Errorf("找到时应包含完整几何信息: %s", res.JSON())
	}
}

func TestLocateIdempotent(t *testing.T) {
	f := newFixture(t)
	loc := f.locator(t)

	crop := CropImage(f.ref, [4]int{80, 60, 360, 280})
	defer crop.Close()
	queryPath := writeFixture(t, f.dir, "crop.png", crop)

	a := loc.Locate(queryPath)
	b := loc.Locate(queryPath)
	if a.Status != b.Status {
		t.Fatalf("两次定位状态不一致: %s vs %s", a.JSON(), b.JSON())
	}
	if !a.Found() {
		t.Fatalf("应找到子图: %s", a.JSON())
	}
	if !near(a.TopLeft.X, b.TopLeft.X, 1) || !near(a.TopLeft.Y, b.TopLeft.Y, 1) ||
		!near(a.BottomRight.X, b.BottomRight.X, 1) || !near(a.BottomRight.Y, b.BottomRight.Y, 1) {
		t.Errorf("两次定位结果不一致: %s vs %s", a.JSON(), b.JSON())
	}
	if math.Abs(*a.Scale-*b.Scale) > 0.01 {
		t.Errorf("两次定位缩放不一致: %.4f vs %.4f", *a.Scale, *b.Scale)
	}
}

func TestLocateScaledCrop(t *testing.T) {
	f := newFixture(t)
	loc := f.locator(t)

	// 缩放系数表示查询图放大多少倍才能覆盖其在参考图中的区域
	testCases := []struct {
		name      string
		rect      [4]int
		factor    float64
		wantScale float64
	}{
		{"缩小一半", [4]int{120, 90, 520, 390}, 0.5, 2.0},
		{"放大两倍", [4]int{220, 160, 420, 310}, 2.0, 0.5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			crop := CropImage(f.ref, tc.rect)
			defer crop.Close()
			scaled := ScaleImage(crop, tc.factor)
			defer scaled.Close()
			queryPath := writeFixture(t, f.dir, "scaled.png", scaled)

			m, err := loc.LocateDetailed(queryPath)
			if err != nil {
				t.Fatalf("定位失败: %v", err)
			}
			if m.Method != MethodFeature {
				t.Errorf("缩放后的查询图应由特征点匹配找到: got %s", m.Method)
			}
			if math.Abs(m.Scale-tc.wantScale)/tc.wantScale > 0.05 {
				t.Errorf("缩放错误: got %.4f, want %.2f ±5%%", m.Scale, tc.wantScale)
			}
			if !near(m.TopLeft.X, tc.rect[0], 6) || !near(m.TopLeft.Y, tc.rect[1], 6) {
				t.Errorf("左上角错误: got (%d, %d), want (%d, %d)", m.TopLeft.X, m.TopLeft.Y, tc.rect[0], tc.rect[1])
			}
		})
	}
}

func TestLocateRotatedCrop(t *testing.T) {
	f := newFixture(t)
	loc := f.locator(t)

	crop := CropImage(f.ref, [4]int{170, 120, 470, 360})
	defer crop.Close()
	rotated := RotateImage(crop, 30)
	defer rotated.Close()
	queryPath := writeFixture(t, f.dir, "rotated.png", rotated)

	m, err := loc.LocateDetailed(queryPath)
	if err != nil {
		t.Fatalf("定位失败: %v", err)
	}
	if m.Method != MethodFeature {
		t.Fatalf("旋转后的查询图必须由特征点匹配找到: got %s", m.Method)
	}
	if math.Abs(math.Abs(m.Angle)-30) > 3 {
		t.Errorf("旋转角度错误: got %.2f, want ±30", m.Angle)
	}
	if math.Abs(m.Scale-1) > 0.05 {
		t.Errorf("缩放错误: got %.4f, want 1.0", m.Scale)
	}
}

func TestLocateNoMatch(t *testing.T) {
	f := newFixture(t)
	loc := f.locator(t)

	solid := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(30, 160, 90, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer solid.Close()
	queryPath := writeFixture(t, f.dir, "solid.png", solid)

	res := loc.Locate(queryPath)
	if res.Found() {
		t.Fatalf("纯色查询图不应找到: %s", res.JSON())
	}
	if res.JSON() != `{"status":1}` {
		t.Errorf("未找到结果不应包含几何信息: %s", res.JSON())
	}
}

func TestLocateFewFeaturesFallback(t *testing.T) {
	f := newFixture(t)
	loc := f.locator(t)

	// 尺寸小于 ORB 的边缘阈值，检测不到特征点，只能由模板匹配找到
	crop := CropImage(f.ref, [4]int{300, 200, 348, 240})
	defer crop.Close()
	queryPath := writeFixture(t, f.dir, "small.png", crop)

	m, err := loc.LocateDetailed(queryPath)
	if err != nil {
		t.Fatalf("定位失败: %v", err)
	}
	if m.Method != MethodTemplate {
		t.Errorf("应由模板匹配找到: got %s", m.Method)
	}
	if m.TopLeft != (Point{X: 300, Y: 200}) || m.BottomRight != (Point{X: 348, Y: 240}) {
		t.Errorf("边界框错误: got (%d,%d)-(%d,%d)", m.TopLeft.X, m.TopLeft.Y, m.BottomRight.X, m.BottomRight.Y)
	}
	if m.Scale != 1.0 || m.Angle != 0 {
		t.Errorf("模板匹配的缩放应为 1、角度应为 0: scale=%.2f angle=%.2f", m.Scale, m.Angle)
	}
	if m.Score < 0.99 {
		t.Errorf("精确裁剪的相关值应接近 1: got %.4f", m.Score)
	}
}

func TestLocateQueryLargerThanReference(t *testing.T) {
	f := newFixture(t)
	loc := f.locator(t, WithStrategies(NewTemplateStrategy()))

	big := ScaleImage(f.ref, 1.5)
	defer big.Close()

	_, err := loc.LocateMatDetailed(big)
	var sizeErr *ImageSizeError
	if !errors.As(err, &sizeErr) {
		t.Errorf("查询图大于参考图时应返回 *ImageSizeError: %v", err)
	}
}

func TestLocateWithPreview(t *testing.T) {
	f := newFixture(t)
	previewPath := filepath.Join(f.dir, "out", "preview.png")
	loc := f.locator(t, WithPreview(previewPath))

	crop := CropImage(f.ref, [4]int{300, 200, 348, 240})
	defer crop.Close()
	queryPath := writeFixture(t, f.dir, "small.png", crop)

	if res := loc.Locate(queryPath); !res.Found() {
		t.Fatalf("应找到子图: %s", res.JSON())
	}

	preview, err := ReadImage(previewPath)
	if err != nil {
		t.Fatalf("预览图未生成: %v", err)
	}
	defer preview.Close()

	w, h := GetResolution(preview)
	if w != 640 || h != 480 {
		t.Errorf("预览图尺寸应与参考图一致: got %dx%d", w, h)
	}
}

func TestWrapText(t *testing.T) {
	measure := func(s string) int { return len([]rune(s)) }

	lines := wrapText("abcdefg", 3, measure)
	if len(lines) != 3 || lines[0] != "abc" || lines[2] != "g" {
		t.Errorf("按宽度换行错误: %q", lines)
	}

	lines = wrapText("ab\ncd", 10, measure)
	if len(lines) != 2 || lines[1] != "cd" {
		t.Errorf("按换行符换行错误: %q", lines)
	}
}

func TestReadImageDataURL(t *testing.T) {
	if _, err := ReadImage("data:image/png;base64,@@@"); !errors.Is(err, ErrDecodeFailure) {
		t.Errorf("非法 base64 应返回 ErrDecodeFailure: %v", err)
	}
	if _, err := ReadImage("data:image/png,raw"); !errors.Is(err, ErrDecodeFailure) {
		t.Errorf("缺少 base64 标记应返回 ErrDecodeFailure: %v", err)
	}
}

func TestLocatorOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultLocatorConfig()
	cfg.Ratio = 0.6
	cfg.MinInliers = 5
	cfg.MaxIters = 500

	c := defaultLocatorConfig()
	for _, opt := range LocatorOptionsFromConfig(cfg) {
		opt(c)
	}
	if err := c.validate(); err != nil {
		t.Fatalf("配置转换后应有效: %v", err)
	}
	if c.ratio != 0.6 || c.minMatches != 4 || c.minInliers != 5 || c.threshold != 0.8 {
		t.Errorf("参数转换错误: %+v", c)
	}
	est, ok := c.estimator.(*RANSACAffineEstimator)
	if !ok || est.MaxIters != 500 || est.ReprojThreshold != 3.0 {
		t.Errorf("RANSAC 参数转换错误: %+v", c.estimator)
	}
	if c.previewPath != "" {
		t.Error("未配置预览路径时不应生成预览")
	}
}

func TestLocatorAccessors(t *testing.T) {
	f := newFixture(t)
	loc := f.locator(t)

	if loc.ReferencePath() != f.refPath {
		t.Errorf("ReferencePath 错误: %s", loc.ReferencePath())
	}
	if w, h := loc.Size(); w != 640 || h != 480 {
		t.Errorf("Size 错误: %dx%d", w, h)
	}
	if loc.refGray.Channels() != 1 || loc.refGray.Cols() != 640 || loc.refGray.Rows() != 480 {
		t.Errorf("灰度参考图应在构造时生成: channels=%d %dx%d",
			loc.refGray.Channels(), loc.refGray.Cols(), loc.refGray.Rows())
	}

	fromMat, err := NewLocatorFromMat(f.ref)
	if err != nil {
		t.Fatalf("创建定位器失败: %v", err)
	}
	defer fromMat.Close()
	if fromMat.ReferencePath() != "" {
		t.Errorf("从 Mat 创建时 ReferencePath 应为空: %s", fromMat.ReferencePath())
	}

	degraded, err := NewLocator(filepath.Join(f.dir, "missing.png"))
	if err != nil {
		t.Fatalf("创建定位器失败: %v", err)
	}
	defer degraded.Close()
	if !degraded.refGray.Empty() {
		t.Error("降级定位器不应有灰度参考图")
	}
}

// degenerateEstimator 总是无法得到模型
type degenerateEstimator struct {
	calls int
}

func (e *degenerateEstimator) Estimate(src, dst []gocv.Point2f) (AffineEstimate, error) {
	e.calls++
	return AffineEstimate{}, ErrDegenerateGeometry
}

func TestLocateDegenerateGeometryFallback(t *testing.T) {
	f := newFixture(t)

	crop := CropImage(f.ref, [4]int{200, 150, 440, 330})
	defer crop.Close()

	est := &degenerateEstimator{}
	loc := f.locator(t, WithAffineEstimator(est))

	m, err := loc.LocateMatDetailed(crop)
	if err != nil {
		t.Fatalf("应由模板匹配兜底找到: %v", err)
	}
	if est.calls != 1 {
		t.Errorf("特征点阶段应调用估计器一次: got %d", est.calls)
	}
	if m.Method != MethodTemplate {
		t.Errorf("几何退化时应由模板匹配找到: got %s", m.Method)
	}
	if m.TopLeft != (Point{X: 200, Y: 150}) {
		t.Errorf("左上角错误: got %+v", m.TopLeft)
	}

	// 只保留特征点阶段时，失败原因应保留在阶段错误中
	feature := NewFeatureStrategy()
	feature.Estimator = est
	only := f.locator(t, WithStrategies(feature))

	_, err = only.LocateMatDetailed(crop)
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Method != MethodFeature {
		t.Fatalf("应返回特征点阶段错误: %v", err)
	}
	if !errors.Is(err, ErrDegenerateGeometry) {
		t.Errorf("阶段错误应包含 ErrDegenerateGeometry: %v", err)
	}
}

func TestLocateMinInliersRejected(t *testing.T) {
	f := newFixture(t)

	crop := CropImage(f.ref, [4]int{200, 150, 440, 330})
	defer crop.Close()

	feature := NewFeatureStrategy()
	feature.MinInliers = 1000
	if _, err := feature.Match(f.ref, crop); !errors.Is(err, ErrDegenerateGeometry) {
		t.Errorf("内点不足应返回 ErrDegenerateGeometry: %v", err)
	}

	loc := f.locator(t, WithMinInliers(1000))
	m, err := loc.LocateMatDetailed(crop)
	if err != nil {
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("未找到时应返回 *NotFoundError: %v", err)
		}
		return
	}
	if m.Method != MethodTemplate {
		t.Errorf("内点不足时特征点阶段不应获胜: got %s", m.Method)
	}
}

func TestTemplateStrategyBelowThreshold(t *testing.T) {
	f := newFixture(t)

	// 与参考图无关的随机色块，保证模板有方差
	query := gocv.NewMatWithSize(80, 80, gocv.MatTypeCV8UC3)
	defer query.Close()
	rnd := rand.New(rand.NewSource(99))
	for y := 0; y < 80; y += 8 {
		for x := 0; x < 80; x += 8 {
			c := color.RGBA{uint8(rnd.Intn(256)), uint8(rnd.Intn(256)), uint8(rnd.Intn(256)), 255}
			gocv.Rectangle(&query, image.Rect(x, y, x+8, y+8), c, -1)
		}
	}
	if isFlat(query) {
		t.Fatal("查询图不应是纯色")
	}

	m, err := NewTemplateStrategy().Match(f.ref, query)
	if m != nil {
		t.Fatalf("无关查询图不应匹配: %+v", m)
	}
	if !errors.Is(err, ErrBelowThreshold) {
		t.Errorf("应返回 ErrBelowThreshold: %v", err)
	}
}

func TestLocateConcurrentPreview(t *testing.T) {
	f := newFixture(t)
	previewPath := filepath.Join(f.dir, "preview.png")
	loc := f.locator(t, WithPreview(previewPath))

	crop := CropImage(f.ref, [4]int{300, 200, 348, 240})
	defer crop.Close()

	var wg sync.WaitGroup
	results := make([]LocateResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = loc.LocateMat(crop)
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if !res.Found() {
			t.Errorf("第 %d 次定位应找到: %s", i, res.JSON())
		}
	}

	preview, err := ReadImage(previewPath)
	if err != nil {
		t.Fatalf("预览图应可读取: %v", err)
	}
	defer preview.Close()
	if w, h := GetResolution(preview); w != 640 || h != 480 {
		t.Errorf("预览图尺寸错误: %dx%d", w, h)
	}
}
