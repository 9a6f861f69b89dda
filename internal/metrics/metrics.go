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
// 認証サービス、Session Store、Session Gate、バックエンドクライアントから利用する。
type MetricsCollector interface {
	RecordLogin(method, result string)
	RecordExchange(result string)
	RecordBackendRequest(operation string, statusCode int, duration time.Duration)
	RecordGateTransition(from, to string)
	RecordStaleSessionWrite(operation string)
	RecordRegistryCleanup(deleted int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	exchanges       *prometheus.CounterVec
	backendStatus   *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec
	gateTransitions *prometheus.CounterVec
	staleWrites     *prometheus.CounterVec
	registryPurged  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moviecritics_login_total",
			Help: "ログイン方式と結果別のログイン試行数",
		}, []string{"method", "result"}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moviecritics_oauth_exchange_total",
			Help: "OAuthトークン交換の結果別の回数",
		}, []string{"result"}),
		backendStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moviecritics_backend_requests_total",
			Help: "操作とHTTPステータスコード別のバックエンド呼び出し数（通信失敗は0）",
		}, []string{"operation", "status_code"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moviecritics_backend_request_duration_seconds",
			Help:    "バックエンド呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		gateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moviecritics_gate_transitions_total",
			Help: "Session Gateの状態遷移数",
		}, []string{"from", "to"}),
		staleWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moviecritics_stale_session_writes_total",
			Help: "後続の試行に追い越されて拒否されたセッション書き込み数",
		}, []string{"operation"}),
		registryPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moviecritics_session_registry_purged_total",
			Help: "クリーンアップで削除されたセッションレジストリのレコード数",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.exchanges,
		c.backendStatus,
		c.backendLatency,
		c.gateTransitions,
		c.staleWrites,
		c.registryPurged,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(method, result string) {
	c.logins.WithLabelValues(method, result).Inc()
}

// RecordExchange はOAuthトークン交換の結果を記録する。
func (c *Collector) RecordExchange(result string) {
	c.exchanges.WithLabelValues(result).Inc()
}

// RecordBackendRequest はバックエンド呼び出しのステータスとレイテンシを記録する。
func (c *Collector) RecordBackendRequest(operation string, statusCode int, duration time.Duration) {
	c.backendStatus.WithLabelValues(operation, strconv.Itoa(statusCode)).Inc()
	c.backendLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordGateTransition はSession Gateの状態遷移を記録する。
func (c *Collector) RecordGateTransition(from, to string) {
	c.gateTransitions.WithLabelValues(from, to).Inc()
}

// RecordStaleSessionWrite は拒否されたセッション書き込みを記録する。
func (c *Collector) RecordStaleSessionWrite(operation string) {
	c.staleWrites.WithLabelValues(operation).Inc()
}

// RecordRegistryCleanup はクリーンアップで削除したレコード数を記録する。
func (c *Collector) RecordRegistryCleanup(deleted int64) {
	c.registryPurged.Add(float64(deleted))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
