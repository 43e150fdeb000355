package normalizer

import (
	"encoding/json"
	"time"

	"treeguard/internal/models"
)

// epochFloor 时间戳解析阈值：大于该值的数字按 Unix epoch 秒解释，
// 否则视为设备开机相对计数器并丢弃（以摄入时间代替）
const epochFloor = 1000000

// 字符串时间戳的候选格式（按顺序尝试）
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC1123,
}

// Normalize 将设备原始数据转换为标准化读数
// 永不失败：缺失/畸形字段降级为安全默认值（0、false、nil），不会拒绝请求。
// deviceId 的合法性由调用方在进入本组件前校验。
func Normalize(raw models.RawPayload, now time.Time) models.Reading {
	r := models.Reading{
		DeviceID:   raw.DeviceID,
		ObservedAt: resolveTimestamp(raw.Timestamp, now),
	}

	// 传感器故障约定：温度/湿度恰好为 0 表示"传感器未上报"，归一化为 nil 而非 0.0。
	// 真实的 0 度/0% 读数与故障在架构上不可区分，该约定按原样保留。
	if raw.TemperatureC != nil && *raw.TemperatureC != 0 {
		v := *raw.TemperatureC
		r.TemperatureC = &v
	}
	if raw.HumidityPct != nil && *raw.HumidityPct != 0 {
		v := *raw.HumidityPct
		r.HumidityPct = &v
	}

	if raw.SmokePpm != nil {
		r.SmokePpm = *raw.SmokePpm
	}
	if raw.Accel != nil {
		r.Accel = *raw.Accel
	}
	if raw.Gyro != nil {
		r.Gyro = *raw.Gyro
	}
	if raw.TiltDetected != nil {
		r.TiltDetected = *raw.TiltDetected
	}
	if raw.CutDetected != nil {
		r.CutDetected = *raw.CutDetected
	}
	if raw.Status != nil {
		r.RawStatus = *raw.Status
	}

	return r
}

// resolveTimestamp 解析设备时间戳
// 数字 > 1,000,000 视为 epoch 秒；较小的正数视为开机计数器，用 now 代替；
// 字符串尝试通用日期解析，失败回退 now；缺失同样回退 now。
func resolveTimestamp(ts interface{}, now time.Time) time.Time {
	switch v := ts.(type) {
	case nil:
		return now
	case float64:
		// encoding/json 将数字解码为 float64
		if v > epochFloor {
			return time.Unix(int64(v), 0)
		}
		return now
	case int:
		if v > epochFloor {
			return time.Unix(int64(v), 0)
		}
		return now
	case int64:
		if v > epochFloor {
			return time.Unix(v, 0)
		}
		return now
	case json.Number:
		if n, err := v.Int64(); err == nil {
			if n > epochFloor {
				return time.Unix(n, 0)
			}
			return now
		}
		return now
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
		return now
	default:
		return now
	}
}
