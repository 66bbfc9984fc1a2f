package crawlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/RecoveryAshes/imgharvest/internal/models"
	"github.com/RecoveryAshes/imgharvest/internal/utils"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceCheckConfig 启动浏览器前的资源检查阈值
type ResourceCheckConfig struct {
	MinAvailableMemory uint64        // 可用内存低于此值时告警(字节)
	CPULoadThreshold   float64       // CPU使用率高于此值时告警(%)
	SampleInterval     time.Duration // CPU采样时长
}

// DefaultResourceCheckConfig 单个无头浏览器实例的经验阈值
func DefaultResourceCheckConfig() ResourceCheckConfig {
	return ResourceCheckConfig{
		MinAvailableMemory: 512 * 1024 * 1024,
		CPULoadThreshold:   90,
		SampleInterval:     100 * time.Millisecond,
	}
}

// 内存压力等级
const (
	pressureNormal    = "normal"
	pressureWarning   = "warning"
	pressureCritical  = "critical"
	pressureEmergency = "emergency"
)

// memoryPressure 按可用内存占比划分压力等级
func memoryPressure(available, total uint64) string {
	if total == 0 {
		return pressureNormal
	}
	ratio := float64(available) / float64(total)
	switch {
	case ratio < 0.05:
		return pressureEmergency
	case ratio < 0.10:
		return pressureCritical
	case ratio < 0.20:
		return pressureWarning
	default:
		return pressureNormal
	}
}

// CheckResources 采集系统内存与CPU快照
// 只产生告警,不会阻止运行; 采集失败时对应字段为0
func CheckResources(cfg ResourceCheckConfig) *models.SystemSnapshot {
	snapshot := &models.SystemSnapshot{}
	var warnings []string

	vmStat, err := mem.VirtualMemory()
	if err != nil {
		utils.Warnf("获取系统内存失败: %v", err)
	} else {
		snapshot.TotalMemory = vmStat.Total
		snapshot.AvailableMemory = vmStat.Available

		if vmStat.Available < cfg.MinAvailableMemory {
			warnings = append(warnings, fmt.Sprintf("可用内存不足: %s (建议至少 %s)",
				utils.FormatBytes(int64(vmStat.Available)), utils.FormatBytes(int64(cfg.MinAvailableMemory))))
		}
		if p := memoryPressure(vmStat.Available, vmStat.Total); p != pressureNormal {
			warnings = append(warnings, "内存压力等级: "+p)
		}
	}

	percentages, err := cpu.Percent(cfg.SampleInterval, false)
	if err != nil || len(percentages) == 0 {
		utils.Debugf("获取CPU使用率失败: %v", err)
	} else {
		snapshot.CPUPercent = percentages[0]
		if cfg.CPULoadThreshold > 0 && snapshot.CPUPercent > cfg.CPULoadThreshold {
			warnings = append(warnings, fmt.Sprintf("CPU负载过高: %.1f%%", snapshot.CPUPercent))
		}
	}

	if len(warnings) > 0 {
		snapshot.Warning = strings.Join(warnings, "; ")
		utils.Warnf("⚠️  系统资源紧张,浏览器可能运行缓慢: %s", snapshot.Warning)
	} else {
		utils.Debugf("系统资源: 可用内存 %s / %s, CPU %.1f%%",
			utils.FormatBytes(int64(snapshot.AvailableMemory)), utils.FormatBytes(int64(snapshot.TotalMemory)), snapshot.CPUPercent)
	}

	return snapshot
}
