package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"go.uber.org/zap"
)

// smokeThresholdKey settings 表中烟雾阈值的键
const smokeThresholdKey = "smoke_threshold"

// SettingsRepository 设置仓库
// 阈值由外部（管理界面）拥有和修改，本服务只读。
// 每次摄入都重新读取，不做跨调用缓存：操作员改完阈值必须立即生效。
type SettingsRepository struct {
	db               *sql.DB
	defaultThreshold int
	logger           *zap.Logger
}

// NewSettingsRepository 创建设置仓库
func NewSettingsRepository(db *sql.DB, defaultThreshold int, logger *zap.Logger) *SettingsRepository {
	return &SettingsRepository{
		db:               db,
		defaultThreshold: defaultThreshold,
		logger:           logger,
	}
}

// GetSmokeThreshold 读取当前烟雾阈值
// 未设置时返回默认值；存储错误时返回 (默认值, err)，调用方记录后继续，
// 设置存储故障绝不能阻塞摄入
func (r *SettingsRepository) GetSmokeThreshold(ctx context.Context) (int, error) {
	query := `SELECT value FROM settings WHERE key = $1`

	var value string
	err := r.db.QueryRowContext(ctx, query, smokeThresholdKey).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.defaultThreshold, nil
		}
		return r.defaultThreshold, err
	}

	threshold, err := strconv.Atoi(value)
	if err != nil {
		r.logger.Warn("Invalid smoke threshold setting, using default",
			zap.String("value", value),
			zap.Int("default", r.defaultThreshold),
		)
		return r.defaultThreshold, nil
	}

	return threshold, nil
}
