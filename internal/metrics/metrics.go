// Package metrics 提供监控指标收集功能
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once           sync.Once
	registry       *prometheus.Registry
	defaultMetrics *Metrics
)

// Metrics 封装所有监控指标
type Metrics struct {
	// 连接指标
	OpenConnections  prometheus.Gauge
	ConnectionsTotal prometheus.Counter
	DisconnectsTotal prometheus.Counter

	// 消息指标
	MessagesIn  prometheus.Counter
	MessagesOut prometheus.Counter
	MessageSize prometheus.Histogram

	// 错误指标
	Overflows       prometheus.Counter
	TransportErrors prometheus.Counter

	// 认证指标
	AuthSuccess prometheus.Counter
	AuthFailure prometheus.Counter
}

// NewMetrics 创建新的Metrics实例
func NewMetrics(namespace string) *Metrics {
	registry = prometheus.NewRegistry()

	return &Metrics{
		OpenConnections: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "当前打开的连接数",
		}),
		ConnectionsTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "接受的连接总数",
		}),
		DisconnectsTotal: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "关闭的连接总数",
		}),
		MessagesIn: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_in_total",
			Help:      "重组完成并派发的入站消息总数",
		}),
		MessagesOut: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_out_total",
			Help:      "写出的出站消息总数",
		}),
		MessageSize: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_size_bytes",
			Help:      "入站消息大小分布",
			Buckets:   []float64{64, 256, 1024, 4096, 16384, 65536},
		}),
		Overflows: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overflows_total",
			Help:      "因超出接收缓冲区而终止的连接数",
		}),
		TransportErrors: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "传输层读写错误总数",
		}),
		AuthSuccess: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_success_total",
			Help:      "认证成功计数",
		}),
		AuthFailure: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failure_total",
			Help:      "认证失败计数",
		}),
	}
}

// GetRegistry 获取Prometheus注册表
func GetRegistry() *prometheus.Registry {
	return registry
}

// Default 获取默认指标实例
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = NewMetrics("wspump")
	})
	return defaultMetrics
}

// 便捷方法，用于快速记录指标

// ConnectionOpened 记录连接建立
func ConnectionOpened() {
	m := Default()
	m.OpenConnections.Inc()
	m.ConnectionsTotal.Inc()
}

// ConnectionClosed 记录连接关闭
func ConnectionClosed() {
	m := Default()
	m.OpenConnections.Dec()
	m.DisconnectsTotal.Inc()
}

// MessageReceived 记录收到消息
func MessageReceived(sizeBytes float64) {
	m := Default()
	m.MessagesIn.Inc()
	m.MessageSize.Observe(sizeBytes)
}

// MessageSent 记录发出消息
func MessageSent() {
	Default().MessagesOut.Inc()
}

// RecordOverflow 记录缓冲区溢出终止
func RecordOverflow() {
	Default().Overflows.Inc()
}

// RecordTransportError 记录传输错误
func RecordTransportError() {
	Default().TransportErrors.Inc()
}

// RecordAuthSuccess 记录认证成功
func RecordAuthSuccess() {
	Default().AuthSuccess.Inc()
}

// RecordAuthFailure 记录认证失败
func RecordAuthFailure() {
	Default().AuthFailure.Inc()
}
