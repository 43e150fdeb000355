package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"treeguard/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrDuplicateActiveAlert 同一 (device_id, kind) 已存在未确认报警
// 由 alerts 表上的部分唯一索引（WHERE NOT acknowledged）在存储边界强制，
// 是摄入引擎 check-then-create 串行化之外的第二道防线
var ErrDuplicateActiveAlert = errors.New("active alert already exists for device and kind")

// ErrAlertNotFound 报警不存在
var ErrAlertNotFound = errors.New("alert not found")

// pq 唯一约束冲突错误码
const pqUniqueViolation = "23505"

// AlertsRepository 报警仓库
type AlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertsRepository 创建报警仓库
func NewAlertsRepository(db *sql.DB, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{
		db:     db,
		logger: logger,
	}
}

const alertColumns = `
			alert_id,
			device_id,
			kind,
			level,
			message,
			created_at,
			acknowledged,
			ack_by,
			ack_at
`

// CreateAlert 创建报警
// 违反部分唯一索引时返回 ErrDuplicateActiveAlert（调用方视为已抑制，而非失败）
func (r *AlertsRepository) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}
	if alert.ID == "" {
		return fmt.Errorf("alert_id is required")
	}

	query := `
		INSERT INTO alerts (
			alert_id,
			device_id,
			kind,
			level,
			message,
			created_at,
			acknowledged
		) VALUES (
			$1, $2, $3, $4, $5, $6, FALSE
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		alert.ID,
		alert.DeviceID,
		string(alert.Kind),
		string(alert.Level),
		alert.Message,
		alert.CreatedAt,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return ErrDuplicateActiveAlert
		}
		return fmt.Errorf("failed to create alert: %w", err)
	}

	return nil
}

// FindRecentUnacknowledgedAlert 查找抑制窗口内最近的未确认报警（用于去重检查）
// 没有命中时返回 (nil, nil)。已确认的报警不参与抑制：操作员确认后立即重新武装。
func (r *AlertsRepository) FindRecentUnacknowledgedAlert(ctx context.Context, deviceID int, kind models.HazardKind, since time.Time) (*models.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE device_id = $1
		  AND kind = $2
		  AND created_at > $3
		  AND NOT acknowledged
		ORDER BY created_at DESC
		LIMIT 1
	`

	alert, err := r.scanAlert(r.db.QueryRowContext(ctx, query, deviceID, string(kind), since))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // 窗口内没有未确认报警
		}
		return nil, fmt.Errorf("failed to query recent alert: %w", err)
	}

	return alert, nil
}

// GetAlert 根据 alert_id 获取单条报警
func (r *AlertsRepository) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE alert_id = $1
	`

	alert, err := r.scanAlert(r.db.QueryRowContext(ctx, query, alertID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	return alert, nil
}

// AcknowledgeAlert 确认报警（unacknowledged -> acknowledged，单向）
// 已确认的报警上重复调用是幂等 no-op，返回当前行
func (r *AlertsRepository) AcknowledgeAlert(ctx context.Context, alertID, ackBy string, ackAt time.Time) (*models.Alert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}
	if ackBy == "" {
		return nil, fmt.Errorf("ack_by is required")
	}

	query := `
		UPDATE alerts
		SET acknowledged = TRUE,
		    ack_by = $2,
		    ack_at = $3
		WHERE alert_id = $1
		  AND NOT acknowledged
	`

	result, err := r.db.ExecContext(ctx, query, alertID, ackBy, ackAt)
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	// 0 行受影响：要么不存在，要么已经确认过（幂等 no-op）
	if rowsAffected == 0 {
		alert, err := r.GetAlert(ctx, alertID)
		if err != nil {
			return nil, err
		}
		if !alert.Acknowledged {
			return nil, fmt.Errorf("failed to acknowledge alert: alert_id=%s", alertID)
		}
		return alert, nil
	}

	return r.GetAlert(ctx, alertID)
}

// ListRecentAlerts 按创建时间倒序列出最近的报警（操作员查询）
func (r *AlertsRepository) ListRecentAlerts(ctx context.Context, limit int) ([]*models.Alert, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := r.scanAlertRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, nil
}

func (r *AlertsRepository) scanAlert(row *sql.Row) (*models.Alert, error) {
	var alert models.Alert
	var kind, level string
	var ackBy sql.NullString
	var ackAt sql.NullTime

	err := row.Scan(
		&alert.ID,
		&alert.DeviceID,
		&kind,
		&level,
		&alert.Message,
		&alert.CreatedAt,
		&alert.Acknowledged,
		&ackBy,
		&ackAt,
	)
	if err != nil {
		return nil, err
	}

	alert.Kind = models.HazardKind(kind)
	alert.Level = models.Severity(level)
	if ackBy.Valid {
		alert.AckBy = &ackBy.String
	}
	if ackAt.Valid {
		alert.AckAt = &ackAt.Time
	}

	return &alert, nil
}

func (r *AlertsRepository) scanAlertRows(rows *sql.Rows) (*models.Alert, error) {
	var alert models.Alert
	var kind, level string
	var ackBy sql.NullString
	var ackAt sql.NullTime

	err := rows.Scan(
		&alert.ID,
		&alert.DeviceID,
		&kind,
		&level,
		&alert.Message,
		&alert.CreatedAt,
		&alert.Acknowledged,
		&ackBy,
		&ackAt,
	)
	if err != nil {
		return nil, err
	}

	alert.Kind = models.HazardKind(kind)
	alert.Level = models.Severity(level)
	if ackBy.Valid {
		alert.AckBy = &ackBy.String
	}
	if ackAt.Valid {
		alert.AckAt = &ackAt.Time
	}

	return &alert, nil
}
