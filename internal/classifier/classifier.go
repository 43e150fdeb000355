package classifier

import (
	"fmt"

	"treeguard/internal/models"
)

// Classify 危险分类：读数 + 烟雾阈值 -> 危险类型
// 纯函数，无副作用。优先级固定（不可配置）：
//  1. smokePpm > threshold -> Smoke（火情风险最高，严格大于）
//  2. cutDetected          -> Cut
//  3. tiltDetected         -> Tilt
//  4. 其余                  -> None
//
// 多个危险条件同时为真时也只报告优先级最高的一种。
func Classify(r models.Reading, threshold int) models.HazardKind {
	if r.SmokePpm > threshold {
		return models.HazardSmoke
	}
	if r.CutDetected {
		return models.HazardCut
	}
	if r.TiltDetected {
		return models.HazardTilt
	}
	return models.HazardNone
}

// SeverityFor 危险类型对应的报警级别
func SeverityFor(kind models.HazardKind) models.Severity {
	switch kind {
	case models.HazardSmoke:
		return models.SeverityHigh
	case models.HazardCut:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// MessageFor 构建报警描述
func MessageFor(kind models.HazardKind, r models.Reading, threshold int) string {
	switch kind {
	case models.HazardSmoke:
		return fmt.Sprintf("Smoke level %d ppm exceeds threshold %d on device %d", r.SmokePpm, threshold, r.DeviceID)
	case models.HazardCut:
		return fmt.Sprintf("Cutting detected on device %d", r.DeviceID)
	case models.HazardTilt:
		return fmt.Sprintf("Tilt detected on device %d", r.DeviceID)
	default:
		return ""
	}
}

// StatusFor 危险判定对应的状态字符串（覆盖设备自报的 status）
func StatusFor(kind models.HazardKind) string {
	if kind == models.HazardNone {
		return "normal"
	}
	return string(kind)
}
