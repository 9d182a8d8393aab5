//go:build !darwin

package screen

// HasCapturePermission 非 macOS 系统截屏不需要特殊权限
func HasCapturePermission() bool {
	return true
}

// OpenCaptureSettings 非 macOS 无操作
func OpenCaptureSettings() {}

// CapturePermissionHint 非 macOS 无提示
func CapturePermissionHint() string {
	return ""
}
