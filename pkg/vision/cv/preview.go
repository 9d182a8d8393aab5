package cv

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"gocv.io/x/gocv"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	previewGreen = color.RGBA{0, 255, 0, 255}
	previewBlue  = color.RGBA{0, 0, 255, 255}
	previewRed   = color.RGBA{255, 0, 0, 255}
)

const (
	labelMargin = 10
	labelTop    = 30
)

var (
	labelFontOnce sync.Once
	labelFont     *truetype.Font
	labelFontErr  error
)

// loadLabelFont 解析内置字体，只解析一次
func loadLabelFont() (*truetype.Font, error) {
	labelFontOnce.Do(func() {
		labelFont, labelFontErr = freetype.ParseFont(goregular.TTF)
	})
	return labelFont, labelFontErr
}

// RenderPreview 生成调试预览图，调用方负责 Close
//
// 找到时将查询图按仿射矩阵叠加到参考图上，绘制外框和中心十字；
// 未找到时只绘制标签文字。
func RenderPreview(ref, query gocv.Mat, m *Match, label string) (gocv.Mat, error) {
	if ref.Empty() {
		return gocv.NewMat(), ErrEmptyReference
	}

	preview := ToBGR(ref)
	fontSize := 14.0

	if m != nil && !query.Empty() {
		overlayQuery(&preview, query, m.Transform)

		pts := make([]image.Point, len(m.Corners))
		for i, c := range m.Corners {
			pts[i] = image.Pt(int(c.X), int(c.Y))
		}
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
		gocv.Polylines(&preview, pv, true, previewGreen, 2)
		pv.Close()

		center := cornerCenter(m.Corners)
		const arm = 10
		gocv.Line(&preview, image.Pt(center.X-arm, center.Y), image.Pt(center.X+arm, center.Y), previewBlue, 2)
		gocv.Line(&preview, image.Pt(center.X, center.Y-arm), image.Pt(center.X, center.Y+arm), previewBlue, 2)
	} else {
		if label == "" {
			label = "Match failed"
		}
		fontSize = 20
	}

	if label == "" {
		return preview, nil
	}

	out, err := drawLabel(preview, label, fontSize)
	preview.Close()
	if err != nil {
		return gocv.NewMat(), err
	}
	return out, nil
}

// overlayQuery 把变换后的查询图覆盖到 dst 上，黑色区域保持原样
func overlayQuery(dst *gocv.Mat, query gocv.Mat, t AffineTransform) {
	tm := t.Mat()
	defer tm.Close()

	overlay := gocv.NewMat()
	defer overlay.Close()
	gocv.WarpAffine(query, &overlay, tm, image.Pt(dst.Cols(), dst.Rows()))

	gray := ToGray(overlay)
	defer gray.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(gray, &mask, 1, 255, gocv.ThresholdBinary)

	invMask := gocv.NewMat()
	defer invMask.Close()
	gocv.BitwiseNot(mask, &invMask)

	bg := gocv.NewMat()
	defer bg.Close()
	gocv.BitwiseAndWithMask(*dst, *dst, &bg, invMask)

	fg := gocv.NewMat()
	defer fg.Close()
	gocv.BitwiseAndWithMask(overlay, overlay, &fg, mask)

	gocv.Add(bg, fg, dst)
}

// cornerCenter 四个角点的平均位置
func cornerCenter(corners [4]Point2f) image.Point {
	var sx, sy float64
	for _, c := range corners {
		sx += c.X
		sy += c.Y
	}
	return image.Pt(int(sx/4), int(sy/4))
}

// drawLabel 在图像左上角绘制自动换行的红色文字
func drawLabel(img gocv.Mat, label string, size float64) (gocv.Mat, error) {
	f, err := loadLabelFont()
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("加载字体失败: %w", err)
	}

	src, err := MatToImage(img)
	if err != nil {
		return gocv.NewMat(), err
	}
	rgba := image.NewRGBA(src.Bounds())
	draw.Draw(rgba, rgba.Bounds(), src, src.Bounds().Min, draw.Src)

	face := truetype.NewFace(f, &truetype.Options{Size: size, DPI: 72})
	defer face.Close()

	maxWidth := rgba.Bounds().Dx() - labelMargin - 10
	lines := wrapText(label, maxWidth, func(s string) int {
		return font.MeasureString(face, s).Ceil()
	})

	c := freetype.NewContext()
	c.SetDPI(72)
	c.SetFont(f)
	c.SetFontSize(size)
	c.SetClip(rgba.Bounds())
	c.SetDst(rgba)
	c.SetSrc(image.NewUniform(previewRed))

	lineHeight := int(size) + 5
	for i, ln := range lines {
		pt := freetype.Pt(labelMargin, labelTop+i*lineHeight)
		if _, err := c.DrawString(ln, pt); err != nil {
			return gocv.NewMat(), fmt.Errorf("绘制文字失败: %w", err)
		}
	}

	return ImageToMat(rgba)
}

// wrapText 按字符换行，单行宽度不超过 maxWidth；遇到 '\n' 强制换行
func wrapText(text string, maxWidth int, measure func(string) int) []string {
	var lines []string
	current := ""
	for _, ch := range text {
		if ch == '\n' {
			lines = append(lines, current)
			current = ""
			continue
		}
		next := current + string(ch)
		if measure(next) > maxWidth && current != "" {
			lines = append(lines, current)
			current = string(ch)
		} else {
			current = next
		}
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}
