package models

import "time"

// Vec3 三轴传感器向量（加速度计/陀螺仪）
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// RawPayload 设备上报的原始数据（MQTT/HTTP 共用）
// timestamp 可能是 epoch 秒、设备开机计数器或字符串，由 normalizer 解析
type RawPayload struct {
	DeviceID     int         `json:"deviceId"`
	Timestamp    interface{} `json:"timestamp,omitempty"`
	TemperatureC *float64    `json:"temperatureC,omitempty"`
	HumidityPct  *float64    `json:"humidityPct,omitempty"`
	SmokePpm     *int        `json:"smokePpm,omitempty"`
	Accel        *Vec3       `json:"accel,omitempty"`
	Gyro         *Vec3       `json:"gyro,omitempty"`
	TiltDetected *bool       `json:"tiltDetected,omitempty"`
	CutDetected  *bool       `json:"cutDetected,omitempty"`
	Status       *string     `json:"status,omitempty"`
}

// Reading 标准化后的传感器读数
// TemperatureC/HumidityPct 为 nil 表示传感器未上报（原始值恰好为 0 的约定）
type Reading struct {
	DeviceID     int       `json:"device_id"`
	ObservedAt   time.Time `json:"observed_at"`
	TemperatureC *float64  `json:"temperature_c"`
	HumidityPct  *float64  `json:"humidity_pct"`
	SmokePpm     int       `json:"smoke_ppm"`
	Accel        Vec3      `json:"accel"`
	Gyro         Vec3      `json:"gyro"`
	TiltDetected bool      `json:"tilt_detected"`
	CutDetected  bool      `json:"cut_detected"`
	RawStatus    string    `json:"raw_status"`
}
