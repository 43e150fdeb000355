package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"treeguard/internal/models"
	"treeguard/internal/repository"

	"go.uber.org/zap"
)

// AlertDirectory 报警查询与确认接口（由 repository.AlertsRepository 实现）
type AlertDirectory interface {
	ListRecentAlerts(ctx context.Context, limit int) ([]*models.Alert, error)
	AcknowledgeAlert(ctx context.Context, alertID, ackBy string, ackAt time.Time) (*models.Alert, error)
}

// AlertHandler 报警 Handler
type AlertHandler struct {
	alerts AlertDirectory
	logger *zap.Logger
}

// NewAlertHandler 创建报警 Handler
func NewAlertHandler(alerts AlertDirectory, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{
		alerts: alerts,
		logger: logger,
	}
}

// ListAlerts 按创建时间倒序列出最近报警
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	if limit > 500 {
		limit = 500
	}

	alerts, err := h.alerts.ListRecentAlerts(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list alerts", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list alerts"))
		return
	}

	if alerts == nil {
		alerts = []*models.Alert{}
	}
	writeJSON(w, http.StatusOK, Ok(alerts))
}

// ackRequest 确认请求体
type ackRequest struct {
	AckBy string `json:"ack_by"`
}

// AcknowledgeAlert 确认报警（幂等：重复确认返回当前行）
func (h *AlertHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request, alertID string) {
	var req ackRequest
	if err := readBodyJSON(r, 1<<16, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	ackBy := strings.TrimSpace(req.AckBy)
	if ackBy == "" {
		writeJSON(w, http.StatusBadRequest, Fail("ack_by is required"))
		return
	}

	alert, err := h.alerts.AcknowledgeAlert(r.Context(), alertID, ackBy, time.Now())
	if err != nil {
		if errors.Is(err, repository.ErrAlertNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("alert not found"))
			return
		}
		h.logger.Error("Failed to acknowledge alert",
			zap.String("alert_id", alertID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to acknowledge alert"))
		return
	}

	h.logger.Info("Alert acknowledged",
		zap.String("alert_id", alertID),
		zap.String("ack_by", ackBy),
	)

	writeJSON(w, http.StatusOK, Ok(alert))
}
