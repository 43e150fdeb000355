package models

import "time"

// ReadingEvent 读数事件（每次成功摄入都广播，无论是否有危险）
// Status 反映危险判定结果，覆盖设备自报的 status 字符串
type ReadingEvent struct {
	DeviceID     int        `json:"device_id"`
	ObservedAt   time.Time  `json:"observed_at"`
	TemperatureC *float64   `json:"temperature_c"`
	HumidityPct  *float64   `json:"humidity_pct"`
	SmokePpm     int        `json:"smoke_ppm"`
	Hazard       HazardKind `json:"hazard"`
	Status       string     `json:"status"`
	Threshold    int        `json:"threshold"`
}

// AlertEvent 报警事件（仅在新建报警时广播）
type AlertEvent struct {
	AlertID   string     `json:"alert_id"`
	DeviceID  int        `json:"device_id"`
	Kind      HazardKind `json:"kind"`
	Level     Severity   `json:"level"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
}
