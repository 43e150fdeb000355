package models

import "time"

// DeviceStatus 设备状态（每台设备一条，每次摄入时 upsert）
// Online 是查询时从 LastSeenAt 惰性计算的，不依赖后台定时器
type DeviceStatus struct {
	DeviceID   int        `json:"device_id"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	LastHazard HazardKind `json:"last_hazard"`
	Online     bool       `json:"online"`
}
