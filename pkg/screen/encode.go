package screen

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Format 图像编码格式
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
)

// FormatFromPath 根据扩展名推断格式
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return FormatPNG, nil
	case ".jpg", ".jpeg":
		return FormatJPEG, nil
	case ".bmp":
		return FormatBMP, nil
	case ".tif", ".tiff":
		return FormatTIFF, nil
	default:
		return "", fmt.Errorf("不支持的图像格式: %s", filepath.Ext(path))
	}
}

// MimeType 对应的 MIME 类型
func (f Format) MimeType() string {
	return "image/" + string(f)
}

// Encode 按格式编码图像
// quality 只对 JPEG 生效，范围 1-100，默认 80
func Encode(w io.Writer, img image.Image, format Format, quality int) error {
	if img == nil {
		return fmt.Errorf("图像为空")
	}
	if quality <= 0 || quality > 100 {
		quality = 80
	}

	var err error
	switch format {
	case FormatPNG:
		err = png.Encode(w, img)
	case FormatJPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case FormatBMP:
		err = bmp.Encode(w, img)
	case FormatTIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("不支持的图像格式: %s", format)
	}
	if err != nil {
		return fmt.Errorf("%s 编码失败: %w", strings.ToUpper(string(format)), err)
	}
	return nil
}

// SaveImage 保存图像，格式由扩展名决定
func SaveImage(img image.Image, path string) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建文件失败: %w", err)
	}

	if err := Encode(f, img, format, 95); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("写入文件失败: %w", err)
	}
	return nil
}

// ImageToBase64 将图像转换为 data URL
// format 为空时使用 PNG，截图作为参考图时需要无损
func ImageToBase64(img image.Image, format Format, quality int) (string, error) {
	if format == "" {
		format = FormatPNG
	}

	var buf bytes.Buffer
	if err := Encode(&buf, img, format, quality); err != nil {
		return "", err
	}

	base64Str := base64.StdEncoding.EncodeToString(buf.Bytes())
	return fmt.Sprintf("data:%s;base64,%s", format.MimeType(), base64Str), nil
}

// CaptureToBase64 截屏并转换为 PNG data URL，region 为 nil 时截取全屏
// 结果可直接作为定位器的参考图
func CaptureToBase64(region *Region) (string, error) {
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
		return "", err
	}
	return ImageToBase64(img, FormatPNG, 0)
}
