package models

import "time"

// HazardKind 危险类型
// 优先级固定：Smoke > Cut > Tilt > None（一条读数只报告一种危险）
type HazardKind string

const (
	HazardNone  HazardKind = "none"
	HazardSmoke HazardKind = "smoke"
	HazardCut   HazardKind = "cut"
	HazardTilt  HazardKind = "tilt"
)

// Severity 报警级别
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Alert 报警记录
// 创建后不可变，唯一允许的状态迁移是 unacknowledged -> acknowledged（单向）
type Alert struct {
	ID           string     `json:"id"`
	DeviceID     int        `json:"device_id"`
	Kind         HazardKind `json:"kind"`
	Level        Severity   `json:"level"`
	Message      string     `json:"message"`
	CreatedAt    time.Time  `json:"created_at"`
	Acknowledged bool       `json:"acknowledged"`
	AckBy        *string    `json:"ack_by,omitempty"`
	AckAt        *time.Time `json:"ack_at,omitempty"`
}
