package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"wisefido-threshold/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server 健康检查 / 指标 HTTP 服务
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer 创建 HTTP 服务
func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	s := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return &Server{httpServer: s, logger: logger}
}

// Start 阻塞监听，正常关闭时返回 nil
func (s *Server) Start() error {
	s.logger.Info("Starting wisefido-threshold HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping wisefido-threshold HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// HealthCheck 依赖健康检查
type HealthCheck func(ctx context.Context) error

// RecentAlarms 最近报警查询（由 repository.AlarmHistoryRepository 实现）
type RecentAlarms interface {
	ListRecent(ctx context.Context, limit int) ([]models.AlarmEvent, error)
}

// Result 响应包装，与 wisefido 其它服务保持一致
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1
)

func ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

func fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: "error", Message: message}
}

// NewRouter 注册 /healthz、/metrics、/api/v1/alarms/recent
// 使用标准库 http.ServeMux（路由很少，不引入第三方路由）
func NewRouter(checks map[string]HealthCheck, alarms RecentAlarms, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		status := make(map[string]string, len(checks))
		healthy := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				healthy = false
				status[name] = err.Error()
				continue
			}
			status[name] = "ok"
		}

		if !healthy {
			writeJSON(w, http.StatusServiceUnavailable, Result[map[string]string]{
				Code: ResultError, Type: "error", Message: "unhealthy", Result: status,
			}, logger)
			return
		}
		writeJSON(w, http.StatusOK, ok(status), logger)
	})

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/api/v1/alarms/recent", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		limit := 50
		if v := req.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 1000 {
				writeJSON(w, http.StatusBadRequest, fail("invalid limit"), logger)
				return
			}
			limit = n
		}

		events, err := alarms.ListRecent(req.Context(), limit)
		if err != nil {
			logger.Error("Failed to list recent alarms", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, fail("failed to list alarms"), logger)
			return
		}
		if events == nil {
			events = []models.AlarmEvent{}
		}
		writeJSON(w, http.StatusOK, ok(events), logger)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Debug("Failed to write response", zap.Error(err))
	}
}
