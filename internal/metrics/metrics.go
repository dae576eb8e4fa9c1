// Package metrics 以 Prometheus 暴露房間、儲存與 HTTP 指標
//
// 指標：
//   - roomsync_room_events_total{kind,result}：Actor 處理的事件數
//   - roomsync_room_event_duration_seconds{kind}：事件處理時間
//   - roomsync_broadcast_sends_total{result}：廣播發送數
//   - roomsync_broadcast_duration_seconds：單次廣播時間
//   - roomsync_active_sessions：已登記的 Session 數
//   - roomsync_active_rooms：運行中的 Actor 數
//   - roomsync_store_ops_total{op,result}、roomsync_store_op_duration_seconds{op}
//   - roomsync_http_requests_total{method,route,status}、roomsync_http_request_duration_seconds{route}
package metrics

import (
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/koopa0/roomsync/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace 指標命名空間
const Namespace = "roomsync"

// Metrics 實現 room.Observer、storage.Observer 與 handler.HTTPObserver
type Metrics struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	sends         *prometheus.CounterVec
	broadcastTime prometheus.Histogram
	sessions      prometheus.Gauge
	rooms         prometheus.Gauge
	storeOps      *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New 在獨立的 Registry 上建立指標
//
// 每個實例一個 Registry，測試之間不會重複註冊。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "room",
			Name:      "events_total",
			Help:      "Room actor events processed, by kind and result",
		}, []string{"kind", "result"}),

		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "room",
			Name:      "event_duration_seconds",
			Help:      "Room actor event processing duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		sends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "broadcast",
			Name:      "sends_total",
			Help:      "Broadcast sends to sessions, by result",
		}, []string{"result"}),

		broadcastTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "broadcast",
			Name:      "duration_seconds",
			Help:      "Time to fan a state out to every session of a room",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),

		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_sessions",
			Help:      "Registered sessions across all room actors",
		}),

		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_rooms",
			Help:      "Running room actors",
		}),

		storeOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "store",
			Name:      "ops_total",
			Help:      "Durable store operations, by op and result",
		}, []string{"op", "result"}),

		storeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "store",
			Name:      "op_duration_seconds",
			Help:      "Durable store operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by method, route and status",
		}, []string{"method", "route", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Registry 返回底層 Registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler 返回 /metrics 處理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveEvent 實現 room.Observer
func (m *Metrics) ObserveEvent(kind string, d time.Duration, err error) {
	m.events.WithLabelValues(kind, result(err)).Inc()
	m.eventDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveBroadcast 實現 room.Observer
func (m *Metrics) ObserveBroadcast(recipients, failed int, d time.Duration) {
	m.sends.WithLabelValues("ok").Add(float64(recipients - failed))
	if failed > 0 {
		m.sends.WithLabelValues("error").Add(float64(failed))
	}
	m.broadcastTime.Observe(d.Seconds())
}

// SessionsChanged 實現 room.Observer
func (m *Metrics) SessionsChanged(delta int) {
	m.sessions.Add(float64(delta))
}

// ActorStarted 實現 room.Observer
func (m *Metrics) ActorStarted() { m.rooms.Inc() }

// ActorStopped 實現 room.Observer
func (m *Metrics) ActorStopped() { m.rooms.Dec() }

// ObserveStoreOp 實現 storage.Observer
func (m *Metrics) ObserveStoreOp(op string, d time.Duration, err error) {
	m.storeOps.WithLabelValues(op, result(err)).Inc()
	m.storeDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveHTTP 實現 handler.HTTPObserver
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// result 錯誤分類標籤
func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case apperrors.IsInvalidInput(err):
		return "invalid_input"
	case apperrors.IsUnavailable(err):
		return "unavailable"
	case apperrors.IsTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}
