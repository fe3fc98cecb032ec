// Package observe 提供注入式的業務指標實作 (Prometheus)
// 生命週期跟著 process 由 main 建立並注入，不使用隱藏的全域單例，
// 也不攔截或修補任何共用儲存驅動。
package observe

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openbank/openbank-core/internal/app/core/domain"
	"github.com/openbank/openbank-core/internal/app/core/usecase"
)

// Metrics 實作 usecase.Recorder，並提供 SessionCoordinator 用的掛鉤。
type Metrics struct {
	registry *prometheus.Registry

	transactionsTotal   *prometheus.CounterVec
	transactionDuration *prometheus.HistogramVec
	transactionAmount   *prometheus.HistogramVec
	sessionsTotal       *prometheus.CounterVec
	sessionDuration     *prometheus.HistogramVec
}

// New 建立並註冊所有指標（含 Go runtime 與 process 預設指標）。
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		transactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openbank_transactions_total",
			Help: "Total number of transactions",
		}, []string{"type", "account", "status"}),
		transactionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "openbank_transaction_duration_seconds",
			Help:    "Transaction processing duration in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2},
		}, []string{"type"}),
		transactionAmount: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "openbank_transaction_amount_cents",
			Help:    "Transaction amount in cents",
			Buckets: prometheus.ExponentialBuckets(100, 10, 7),
		}, []string{"type"}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openbank_sessions_total",
			Help: "Total number of storage sessions by outcome",
		}, []string{"outcome"}),
		sessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "openbank_session_duration_seconds",
			Help:    "Storage session duration in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2},
		}, []string{"outcome"}),
	}
	registry.MustRegister(
		m.transactionsTotal,
		m.transactionDuration,
		m.transactionAmount,
		m.sessionsTotal,
		m.sessionDuration,
	)
	return m
}

// TransactionCommitted 引擎在每次成功 commit 後呼叫。
func (m *Metrics) TransactionCommitted(txType domain.TransactionType, account domain.AccountKind, amountCents int64, elapsed time.Duration) {
	m.transactionsTotal.WithLabelValues(string(txType), string(account), "committed").Inc()
	m.transactionDuration.WithLabelValues(string(txType)).Observe(elapsed.Seconds())
	m.transactionAmount.WithLabelValues(string(txType)).Observe(float64(amountCents))
}

// TransactionAborted 引擎在每次失敗（abort）後呼叫。
func (m *Metrics) TransactionAborted(txType domain.TransactionType, reason string, elapsed time.Duration) {
	m.transactionsTotal.WithLabelValues(string(txType), "", "aborted").Inc()
	m.transactionDuration.WithLabelValues(string(txType)).Observe(elapsed.Seconds())
}

// SessionHook 回傳給 SessionCoordinator 用的 commit/abort 掛鉤。
func (m *Metrics) SessionHook() usecase.SessionHook {
	return func(outcome usecase.SessionOutcome, elapsed time.Duration) {
		m.sessionsTotal.WithLabelValues(string(outcome)).Inc()
		m.sessionDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
	}
}

// Handler 回傳 /metrics 的 HTTP handler。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var _ usecase.Recorder = (*Metrics)(nil)
