package worker

import (
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// collectResourceInfo 采集 CPU、内存、磁盘使用率（百分比）
// 单项采集失败时该项为 0
func collectResourceInfo() *ResourceInfo {
	info := &ResourceInfo{}

	// 间隔为 0 时返回距上次调用的平均值
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		info.CpuUsage = float32(percents[0])
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryUsage = float32(vm.UsedPercent)
	}

	if usage, err := disk.Usage(rootPath()); err == nil {
		info.DiskUsage = float32(usage.UsedPercent)
	}

	return info
}

// rootPath 当前工作目录所在卷的根路径
func rootPath() string {
	wd, err := os.Getwd()
	if err != nil {
		return "/"
	}
	if vol := filepath.VolumeName(wd); vol != "" {
		return vol + string(filepath.Separator)
	}
	return "/"
}
