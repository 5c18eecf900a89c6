// Package metrics 提供 Prometheus helper，包含摄取与生命周期相关指标
package metrics

import (
	"context"
	"fmt"
	"net/http"

	pkglogger "github.com/quantfold/optionvault/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标集合
type Metrics struct {
	// 成功写入的合约行数
	ContractsUpserted prometheus.Counter
	// 按 (symbol, expiration) 分组的摄取事务数
	IngestGroupsTotal *prometheus.CounterVec
	// 单个分组事务耗时
	IngestGroupDuration prometheus.Histogram
	// 锁冲突重试次数
	LockRetriesTotal prometheus.Counter
	// 归档到历史表的行数
	ContractsArchived prometheus.Counter
	// 过期数据清理删除的行数
	ContractsPurged prometheus.Counter
	// 当前存活合约行数
	LiveContracts prometheus.Gauge
	// 当前存活标的数
	LiveSymbols prometheus.Gauge
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		ContractsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Name:      "contracts_upserted_total",
			Help:      "Total contract rows written by ingestion",
		}),
		IngestGroupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Name:      "ingest_groups_total",
			Help:      "Ingestion group transactions by outcome",
		}, []string{"outcome"}),
		IngestGroupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: serviceName,
			Name:      "ingest_group_duration_seconds",
			Help:      "Duration of one (symbol, expiration) ingestion transaction",
			Buckets:   prometheus.DefBuckets,
		}),
		LockRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Name:      "lock_retries_total",
			Help:      "Retries caused by advisory lock contention",
		}),
		ContractsArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Name:      "contracts_archived_total",
			Help:      "Expired contract rows moved to the historical table",
		}),
		ContractsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Name:      "contracts_purged_total",
			Help:      "Stale contract rows deleted without archiving",
		}),
		LiveContracts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Name:      "live_contracts",
			Help:      "Live contract rows after the last maintenance run",
		}),
		LiveSymbols: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Name:      "live_symbols",
			Help:      "Distinct symbols after the last maintenance run",
		}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register() error {
	collectors := []prometheus.Collector{
		m.ContractsUpserted,
		m.IngestGroupsTotal,
		m.IngestGroupDuration,
		m.LockRetriesTotal,
		m.ContractsArchived,
		m.ContractsPurged,
		m.LiveContracts,
		m.LiveSymbols,
	}

	for _, c := range collectors {
		if err := prometheus.DefaultRegisterer.Register(c); err != nil {
			pkglogger.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}

	return nil
}

// StartHTTPServer 启动 Prometheus HTTP 服务器
func StartHTTPServer(port int, path string) {
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	pkglogger.Info(context.Background(), "Starting Prometheus HTTP server", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			pkglogger.Error(context.Background(), "Failed to start Prometheus HTTP server", "error", err)
		}
	}()
}
