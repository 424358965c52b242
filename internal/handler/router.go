package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/runnerz/internal/metrics"
	"github.com/hitoshi/runnerz/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.HTTPStatusRecorder
	TrustProxy        bool

	// ラン
	RunService RunServiceInterface

	// ユーザー
	UserFetcher UserFetcher

	// ヘルスチェック・メトリクス
	HealthChecker   HealthChecker
	StoreName       string
	MetricsGatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP(TrustProxy時) → RequestID → Logging → Metrics → Recovery → SecurityHeaders → CORS → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	if deps.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	runHandler := NewRunHandler(deps.RunService)
	userHandler := NewUserHandler(deps.UserFetcher)
	healthHandler := NewHealthHandler(deps.HealthChecker, deps.StoreName)

	// --- レート制限対象外のルート ---
	r.Get("/health", healthHandler.Health)
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- APIルート ---
	// ミドルウェアスタック: RateLimit(General) → RateLimit(Write)
	r.Route("/api", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// ラン管理
		r.Route("/runs", func(r chi.Router) {
			r.Use(deps.RateLimiter.WriteMiddleware())

			r.Get("/", runHandler.ListRuns)
			r.Post("/", runHandler.CreateRun)
			r.Get("/location/{location}", runHandler.ListRunsByLocation)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", runHandler.GetRun)
				r.Put("/", runHandler.UpdateRun)
				r.Delete("/", runHandler.DeleteRun)
			})
		})

		// ユーザープロフィール（外部サービス）
		r.Route("/users", func(r chi.Router) {
			r.Get("/", userHandler.ListUsers)
			r.Get("/{id}", userHandler.GetUser)
		})
	})

	return r
}
