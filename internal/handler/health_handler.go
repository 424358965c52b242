package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout はヘルスチェック時のDB疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthChecker はストアの疎通確認を行うインターフェース。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
// checkerがnilの場合（インメモリストア）は常に正常を返す。
type HealthHandler struct {
	checker   HealthChecker
	storeName string
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(checker HealthChecker, storeName string) *HealthHandler {
	return &HealthHandler{checker: checker, storeName: storeName}
}

// Health はストアの疎通を確認して結果を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.checker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := h.checker.PingContext(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Store: h.storeName})
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Store: h.storeName})
}
