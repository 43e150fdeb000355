package httpapi

import (
	"context"
	"errors"
	"net/http"

	"treeguard/internal/engine"
	"treeguard/internal/models"

	"go.uber.org/zap"
)

// Ingestor 摄入接口（由 engine.Engine 实现）
type Ingestor interface {
	Ingest(ctx context.Context, raw models.RawPayload) (engine.IngestionResult, error)
}

// IngestHandler 设备读数摄入 Handler（HTTP 上报通道，与 MQTT 通道共用同一引擎）
type IngestHandler struct {
	ingestor Ingestor
	logger   *zap.Logger
}

// NewIngestHandler 创建摄入 Handler
func NewIngestHandler(ingestor Ingestor, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{
		ingestor: ingestor,
		logger:   logger,
	}
}

// PostReading 接收一条设备上报
func (h *IngestHandler) PostReading(w http.ResponseWriter, r *http.Request) {
	var raw models.RawPayload
	if err := readBodyJSON(r, 1<<20, &raw); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	result, err := h.ingestor.Ingest(r.Context(), raw)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidDevice) {
			writeJSON(w, http.StatusBadRequest, Fail("unknown device id"))
			return
		}
		h.logger.Error("Failed to ingest reading",
			zap.Int("device_id", raw.DeviceID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to record reading"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(result))
}
