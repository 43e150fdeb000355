package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterIngestRoutes 注册摄入服务路由
func (r *Router) RegisterIngestRoutes(
	ingest *IngestHandler,
	devices *DeviceHandler,
	alerts *AlertHandler,
	stream *StreamHandler,
) {
	// readings
	r.Handle("/ingest/api/v1/readings", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ingest.PostReading(w, req)
	})

	// devices
	r.Handle("/ingest/api/v1/devices", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		devices.ListDevices(w, req)
	})

	// devices/{id}
	r.Handle("/ingest/api/v1/devices/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(req.URL.Path, "/ingest/api/v1/devices/")
		if id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		deviceID := parseInt(id, -1)
		if deviceID < 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		devices.GetDevice(w, req, deviceID)
	})

	// alerts
	r.Handle("/ingest/api/v1/alerts", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		alerts.ListAlerts(w, req)
	})

	// alerts/{id}/acknowledge
	r.Handle("/ingest/api/v1/alerts/", func(w http.ResponseWriter, req *http.Request) {
		path := req.URL.Path
		if strings.HasSuffix(path, "/acknowledge") && req.Method == http.MethodPut {
			alertID := strings.TrimSuffix(path, "/acknowledge")
			alertID = strings.TrimPrefix(alertID, "/ingest/api/v1/alerts/")
			if alertID != "" && !strings.Contains(alertID, "/") {
				alerts.AcknowledgeAlert(w, req, alertID)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})

	// stream
	r.Handle("/ingest/api/v1/stream", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		stream.Stream(w, req)
	})

	// health
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Ok("ok"))
	})
}
