package repository

import (
	"context"
	"database/sql"
	"fmt"

	"treeguard/internal/models"

	"go.uber.org/zap"
)

// ReadingsRepository 遥测读数仓库（append-only）
type ReadingsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReadingsRepository 创建遥测读数仓库
func NewReadingsRepository(db *sql.DB, logger *zap.Logger) *ReadingsRepository {
	return &ReadingsRepository{
		db:     db,
		logger: logger,
	}
}

// AppendReading 追加一条读数
// 无论是否判定出危险都必须写入：历史数据同时供后续分析/回溯使用
func (r *ReadingsRepository) AppendReading(ctx context.Context, reading *models.Reading) error {
	if reading == nil {
		return fmt.Errorf("reading is required")
	}

	query := `
		INSERT INTO readings (
			device_id,
			observed_at,
			temperature_c,
			humidity_pct,
			smoke_ppm,
			accel_x, accel_y, accel_z,
			gyro_x, gyro_y, gyro_z,
			tilt_detected,
			cut_detected,
			raw_status,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, CURRENT_TIMESTAMP
		)
	`

	// 温度/湿度为 nil 时按 NULL 写入（传感器故障哨兵约定，原样保留）
	var temperature, humidity sql.NullFloat64
	if reading.TemperatureC != nil {
		temperature = sql.NullFloat64{Float64: *reading.TemperatureC, Valid: true}
	}
	if reading.HumidityPct != nil {
		humidity = sql.NullFloat64{Float64: *reading.HumidityPct, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		query,
		reading.DeviceID,
		reading.ObservedAt,
		temperature,
		humidity,
		reading.SmokePpm,
		reading.Accel.X, reading.Accel.Y, reading.Accel.Z,
		reading.Gyro.X, reading.Gyro.Y, reading.Gyro.Z,
		reading.TiltDetected,
		reading.CutDetected,
		reading.RawStatus,
	)

	if err != nil {
		return fmt.Errorf("failed to append reading: %w", err)
	}

	return nil
}
