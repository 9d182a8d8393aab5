//go:build darwin

package screen

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework Cocoa -framework CoreGraphics
#import <Cocoa/Cocoa.h>
#import <CoreGraphics/CoreGraphics.h>

// 没有屏幕录制权限时取不到其他应用的窗口名称
int checkScreenRecordingPermission() {
    if (@available(macOS 10.15, *)) {
        CFArrayRef windowList = CGWindowListCopyWindowInfo(
            kCGWindowListOptionOnScreenOnly | kCGWindowListExcludeDesktopElements,
            kCGNullWindowID
        );
        if (windowList == NULL) {
            return 0;
        }

        CFIndex count = CFArrayGetCount(windowList);
        int hasNames = 0;
        for (CFIndex i = 0; i < count; i++) {
            CFDictionaryRef window = (CFDictionaryRef)CFArrayGetValueAtIndex(windowList, i);
            CFStringRef name = (CFStringRef)CFDictionaryGetValue(window, kCGWindowName);
            if (name != NULL && CFStringGetLength(name) > 0) {
                hasNames = 1;
                break;
            }
        }
        CFRelease(windowList);

        return (count == 0 || hasNames) ? 1 : 0;
    }
    return 1;
}

void openScreenRecordingPreferences() {
    NSString *urlString = @"x-apple.systempreferences:com.apple.preference.security?Privacy_ScreenCapture";
    [[NSWorkspace sharedWorkspace] openURL:[NSURL URLWithString:urlString]];
}
*/
import "C"

// HasCapturePermission 检查屏幕录制权限（不触发弹窗）
func HasCapturePermission() bool {
	return C.checkScreenRecordingPermission() == 1
}

// OpenCaptureSettings 打开屏幕录制设置页面
func OpenCaptureSettings() {
	C.openScreenRecordingPreferences()
}

// CapturePermissionHint 缺少权限时的提示
func CapturePermissionHint() string {
	return "缺少屏幕录制权限，截图将只包含桌面背景。\n" +
		"请在 系统设置 > 隐私与安全性 > 屏幕录制 中授权，授权后需要重启终端。"
}
