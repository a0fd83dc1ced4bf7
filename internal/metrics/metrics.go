// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ステージ名のラベル値
const (
	StageDiscovery = "discovery"
	StageDownload  = "download"
	StagePublish   = "publish"
)

// MetricsCollector はメトリクス収集のインターフェース。
// パイプラインの各ステージから利用する。
type MetricsCollector interface {
	RecordDiscovered(collectionID string, inserted int)
	RecordCatalogStatus(statusCode int)
	RecordDownload(success bool, elapsed time.Duration)
	RecordPublish(success bool, attempts int)
	RecordStageDuration(stage string, elapsed time.Duration)
	RecordFilesCleaned(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	discovered      prometheus.Counter
	catalogStatus   *prometheus.CounterVec
	downloads       *prometheus.CounterVec
	downloadLatency prometheus.Histogram
	publishes       *prometheus.CounterVec
	publishAttempts prometheus.Histogram
	stageDuration   *prometheus.HistogramVec
	filesCleaned    prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		discovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediasync_items_discovered_total",
			Help: "新規に発見されたカタログアイテムの合計数",
		}),
		catalogStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediasync_catalog_http_status_total",
			Help: "カタログAPIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediasync_downloads_total",
			Help: "結果別のダウンロード数",
		}, []string{"result"}),
		downloadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediasync_download_duration_seconds",
			Help:    "1アイテムのダウンロード所要時間（秒）",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediasync_publishes_total",
			Help: "結果別の公開数",
		}, []string{"result"}),
		publishAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediasync_publish_attempts",
			Help:    "1アイテムの公開に要した試行回数",
			Buckets: []float64{1, 2, 3, 5},
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mediasync_stage_duration_seconds",
			Help:    "ステージごとの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		filesCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediasync_files_cleaned_total",
			Help: "公開済みとして削除されたローカルファイル数",
		}),
	}

	reg.MustRegister(
		c.discovered,
		c.catalogStatus,
		c.downloads,
		c.downloadLatency,
		c.publishes,
		c.publishAttempts,
		c.stageDuration,
		c.filesCleaned,
	)

	return c
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}

// RecordDiscovered は新規発見件数を記録する。
func (c *Collector) RecordDiscovered(collectionID string, inserted int) {
	c.discovered.Add(float64(inserted))
}

// RecordCatalogStatus はカタログAPIのHTTPステータスコードを記録する。
func (c *Collector) RecordCatalogStatus(statusCode int) {
	c.catalogStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordDownload はダウンロード結果と所要時間を記録する。
func (c *Collector) RecordDownload(success bool, elapsed time.Duration) {
	c.downloads.WithLabelValues(resultLabel(success)).Inc()
	c.downloadLatency.Observe(elapsed.Seconds())
}

// RecordPublish は公開結果と試行回数を記録する。
func (c *Collector) RecordPublish(success bool, attempts int) {
	c.publishes.WithLabelValues(resultLabel(success)).Inc()
	c.publishAttempts.Observe(float64(attempts))
}

// RecordStageDuration はステージの所要時間を記録する。
func (c *Collector) RecordStageDuration(stage string, elapsed time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RecordFilesCleaned は削除したローカルファイル数を記録する。
func (c *Collector) RecordFilesCleaned(count int) {
	c.filesCleaned.Add(float64(count))
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type NopCollector struct{}

func (NopCollector) RecordDiscovered(string, int)              {}
func (NopCollector) RecordCatalogStatus(int)                   {}
func (NopCollector) RecordDownload(bool, time.Duration)        {}
func (NopCollector) RecordPublish(bool, int)                   {}
func (NopCollector) RecordStageDuration(string, time.Duration) {}
func (NopCollector) RecordFilesCleaned(int)                    {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
