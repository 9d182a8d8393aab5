package cv

import (
	"encoding/base64"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
)

// ReadImage 读取彩色图像
// 支持文件路径和 data:image/...;base64, 形式的 data URL
func ReadImage(filename string) (gocv.Mat, error) {
	if strings.HasPrefix(filename, "data:image/") {
		return decodeDataURL(filename)
	}
	mat := gocv.IMRead(filename, gocv.IMReadColor)
	if mat.Empty() {
		return mat, fmt.Errorf("%w: %s", ErrDecodeFailure, filename)
	}
	return mat, nil
}

// decodeDataURL 解码 base64 data URL
func decodeDataURL(dataURL string) (gocv.Mat, error) {
	idx := strings.Index(dataURL, ";base64,")
	if idx < 0 {
		return gocv.NewMat(), fmt.Errorf("%w: 不支持的 data URL", ErrDecodeFailure)
	}
	raw, err := base64.StdEncoding.DecodeString(dataURL[idx+len(";base64,"):])
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: base64 解码失败: %v", ErrDecodeFailure, err)
	}
	mat, err := gocv.IMDecode(raw, gocv.IMReadColor)
	if err != nil {
		return mat, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if mat.Empty() {
		return mat, fmt.Errorf("%w: data URL 内容为空", ErrDecodeFailure)
	}
	return mat, nil
}

// WriteImage 保存图像文件
func WriteImage(filename string, img gocv.Mat) error {
	// 确保目录存在
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	if ok := gocv.IMWrite(filename, img); !ok {
		return fmt.Errorf("保存图像失败: %s", filename)
	}
	return nil
}

// ToGray 转换为灰度图
func ToGray(src gocv.Mat) gocv.Mat {
	if src.Channels() == 1 {
		return src.Clone()
	}
	dst := gocv.NewMat()
	if src.Channels() == 4 {
		gocv.CvtColor(src, &dst, gocv.ColorBGRAToGray)
		return dst
	}
	gocv.CvtColor(src, &dst, gocv.ColorBGRToGray)
	return dst
}

// GetResolution 获取图像分辨率 (width, height)
func GetResolution(img gocv.Mat) (int, int) {
	return img.Cols(), img.Rows()
}

// CropImage 裁剪图像
// rect: [xMin, yMin, xMax, yMax]
func CropImage(img gocv.Mat, rect [4]int) gocv.Mat {
	xMin, yMin, xMax, yMax := rect[0], rect[1], rect[2], rect[3]

	// 边界检查
	xMin = max(xMin, 0)
	yMin = max(yMin, 0)
	xMax = min(xMax, img.Cols())
	yMax = min(yMax, img.Rows())

	region := img.Region(image.Rect(xMin, yMin, xMax, yMax))
	defer region.Close()
	return region.Clone()
}

// ResizeImage 调整图像大小
func ResizeImage(img gocv.Mat, width, height int) gocv.Mat {
	dst := gocv.NewMat()
	gocv.Resize(img, &dst, image.Point{X: width, Y: height}, 0, 0, gocv.InterpolationLinear)
	return dst
}

// ScaleImage 按比例缩放图像
func ScaleImage(img gocv.Mat, scale float64) gocv.Mat {
	w := max(1, int(float64(img.Cols())*scale))
	h := max(1, int(float64(img.Rows())*scale))
	return ResizeImage(img, w, h)
}

// RotateImage 绕中心旋转图像，画布尺寸不变
func RotateImage(img gocv.Mat, angle float64) gocv.Mat {
	center := image.Point{X: img.Cols() / 2, Y: img.Rows() / 2}
	rotMat := gocv.GetRotationMatrix2D(center, angle, 1.0)
	defer rotMat.Close()

	dst := gocv.NewMat()
	gocv.WarpAffine(img, &dst, rotMat, image.Point{X: img.Cols(), Y: img.Rows()})
	return dst
}

// ImageToMat 将 image.Image 转换为 gocv.Mat (BGR)
func ImageToMat(img image.Image) (gocv.Mat, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("图像转换失败: %w", err)
	}
	// 转换为 BGR（OpenCV 默认格式）
	dst := gocv.NewMat()
	gocv.CvtColor(mat, &dst, gocv.ColorRGBToBGR)
	mat.Close()
	return dst, nil
}

// MatToImage 将 gocv.Mat 转换为 image.Image
func MatToImage(mat gocv.Mat) (image.Image, error) {
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("Mat 转换失败: %w", err)
	}
	return img, nil
}

// LoadImageInput 加载图像输入
// 支持 string (文件路径或 data URL)、image.Image、gocv.Mat
func LoadImageInput(input interface{}) (gocv.Mat, error) {
	switch v := input.(type) {
	case string:
		return ReadImage(v)
	case image.Image:
		return ImageToMat(v)
	case gocv.Mat:
		return v.Clone(), nil
	case *gocv.Mat:
		return v.Clone(), nil
	default:
		return gocv.Mat{}, fmt.Errorf("不支持的图像输入类型: %T", input)
	}
}

// checkSourceLargerThanSearch 检查源图像是否不小于搜索图像
func checkSourceLargerThanSearch(source, search gocv.Mat) error {
	if source.Rows() < search.Rows() || source.Cols() < search.Cols() {
		return &ImageSizeError{
			SourceSize: [2]int{source.Cols(), source.Rows()},
			SearchSize: [2]int{search.Cols(), search.Rows()},
		}
	}
	return nil
}

// ToBGR 转换为三通道 BGR 图像
func ToBGR(src gocv.Mat) gocv.Mat {
	dst := gocv.NewMat()
	switch src.Channels() {
	case 1:
		gocv.CvtColor(src, &dst, gocv.ColorGrayToBGR)
	case 4:
		gocv.CvtColor(src, &dst, gocv.ColorBGRAToBGR)
	default:
		src.CopyTo(&dst)
	}
	return dst
}
