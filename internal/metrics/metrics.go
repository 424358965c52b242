// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層・ミドルウェア・シードローダーから利用する。
type MetricsCollector interface {
	RecordStoreOperation(op string, result string)
	RecordStoreLatency(op string, duration time.Duration)
	RecordUserFetch(result string)
	RecordUserFetchLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordRunsSeeded(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	storeOps         *prometheus.CounterVec
	storeLatency     *prometheus.HistogramVec
	userFetch        *prometheus.CounterVec
	userFetchLatency prometheus.Histogram
	httpStatus       *prometheus.CounterVec
	runsSeeded       prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runnerz_store_operations_total",
			Help: "ランストア操作の合計数（操作・結果別）",
		}, []string{"op", "result"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "runnerz_store_latency_seconds",
			Help:    "ランストア操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		userFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runnerz_user_fetch_total",
			Help: "ユーザーサービス呼び出しの合計数（結果別）",
		}, []string{"result"}),
		userFetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "runnerz_user_fetch_latency_seconds",
			Help:    "ユーザーサービス呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runnerz_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		runsSeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runnerz_runs_seeded_total",
			Help: "シードデータから投入されたランの合計数",
		}),
	}

	reg.MustRegister(
		c.storeOps,
		c.storeLatency,
		c.userFetch,
		c.userFetchLatency,
		c.httpStatus,
		c.runsSeeded,
	)

	return c
}

// RecordStoreOperation はストア操作の結果を記録する。
func (c *Collector) RecordStoreOperation(op string, result string) {
	c.storeOps.WithLabelValues(op, result).Inc()
}

// RecordStoreLatency はストア操作のレイテンシを記録する。
func (c *Collector) RecordStoreLatency(op string, duration time.Duration) {
	c.storeLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordUserFetch はユーザーサービス呼び出しの結果を記録する。
// resultは "ok", "transport", "status", "decode" のいずれか。
func (c *Collector) RecordUserFetch(result string) {
	c.userFetch.WithLabelValues(result).Inc()
}

// RecordUserFetchLatency はユーザーサービス呼び出しのレイテンシを記録する。
func (c *Collector) RecordUserFetchLatency(duration time.Duration) {
	c.userFetchLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRunsSeeded は投入されたラン数を記録する。
func (c *Collector) RecordRunsSeeded(count int) {
	c.runsSeeded.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
