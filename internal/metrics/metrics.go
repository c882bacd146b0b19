// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やミドルウェアから利用する。
type MetricsCollector interface {
	RecordAICall(kind, outcome string)
	RecordAILatency(kind string, duration time.Duration)
	RecordAuthEvent(event, outcome string)
	RecordTaskCompleted(source string)
	RecordHTTPStatus(statusCode int)
	RecordSessionsCleaned(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	aiCalls         *prometheus.CounterVec
	aiLatency       *prometheus.HistogramVec
	authEvents      *prometheus.CounterVec
	tasksCompleted  *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	sessionsCleaned prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		aiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ieltsprep_ai_calls_total",
			Help: "生成AI呼び出しの種類別・結果別の合計数",
		}, []string{"kind", "outcome"}),
		aiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ieltsprep_ai_latency_seconds",
			Help:    "生成AI呼び出しのレイテンシ（秒）",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"kind"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ieltsprep_auth_events_total",
			Help: "認証イベントの種類別・結果別の合計数",
		}, []string{"event", "outcome"}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ieltsprep_tasks_completed_total",
			Help: "完了した学習タスクの機能別の合計数",
		}, []string{"source"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ieltsprep_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ieltsprep_sessions_cleaned_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.aiCalls,
		c.aiLatency,
		c.authEvents,
		c.tasksCompleted,
		c.httpStatus,
		c.sessionsCleaned,
	)

	return c
}

// RecordAICall は生成AI呼び出しの結果を記録する。
func (c *Collector) RecordAICall(kind, outcome string) {
	c.aiCalls.WithLabelValues(kind, outcome).Inc()
}

// RecordAILatency は生成AI呼び出しのレイテンシを記録する。
func (c *Collector) RecordAILatency(kind string, duration time.Duration) {
	c.aiLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordAuthEvent は認証イベントを記録する。
func (c *Collector) RecordAuthEvent(event, outcome string) {
	c.authEvents.WithLabelValues(event, outcome).Inc()
}

// RecordTaskCompleted は学習タスクの完了を記録する。
func (c *Collector) RecordTaskCompleted(source string) {
	c.tasksCompleted.WithLabelValues(source).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsCleaned は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int) {
	c.sessionsCleaned.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
