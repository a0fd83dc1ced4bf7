package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	var _ MetricsCollector = (*Collector)(nil)
	var _ MetricsCollector = NopCollector{}
}

// findFamily はレジストリから指定名のメトリクスファミリーを探す。
func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labeledCounter はラベル値に一致するカウンタ値を返す。
func labeledCounter(mf *dto.MetricFamily, label, value string) float64 {
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestRecordDiscovered_AddsInsertedCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDiscovered("chan-a", 50)
	c.RecordDiscovered("chan-a", 7)

	mf := findFamily(t, reg, "mediasync_items_discovered_total")
	if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 57 {
		t.Errorf("items_discovered_total = %v, want 57", got)
	}
}

func TestRecordDownload_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDownload(true, 2*time.Second)
	c.RecordDownload(true, 3*time.Second)
	c.RecordDownload(false, time.Second)

	mf := findFamily(t, reg, "mediasync_downloads_total")
	if got := labeledCounter(mf, "result", "success"); got != 2 {
		t.Errorf("success = %v, want 2", got)
	}
	if got := labeledCounter(mf, "result", "failed"); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}

	hist := findFamily(t, reg, "mediasync_download_duration_seconds")
	if got := hist.GetMetric()[0].GetHistogram().GetSampleCount(); got != 3 {
		t.Errorf("sample count = %d, want 3", got)
	}
}

func TestRecordPublish_ObservesAttempts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPublish(false, 3)
	c.RecordPublish(true, 1)

	mf := findFamily(t, reg, "mediasync_publishes_total")
	if got := labeledCounter(mf, "result", "failed"); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	hist := findFamily(t, reg, "mediasync_publish_attempts")
	if got := hist.GetMetric()[0].GetHistogram().GetSampleSum(); got != 4 {
		t.Errorf("attempts sum = %v, want 4", got)
	}
}

func TestRecordCatalogStatus_LabelsStatusCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCatalogStatus(200)
	c.RecordCatalogStatus(200)
	c.RecordCatalogStatus(403)

	mf := findFamily(t, reg, "mediasync_catalog_http_status_total")
	if got := labeledCounter(mf, "status_code", "200"); got != 2 {
		t.Errorf("200 = %v, want 2", got)
	}
	if got := labeledCounter(mf, "status_code", "403"); got != 1 {
		t.Errorf("403 = %v, want 1", got)
	}
}

func TestRecordStageDuration_PerStage(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordStageDuration(StageDownload, time.Second)
	c.RecordStageDuration(StagePublish, time.Second)

	mf := findFamily(t, reg, "mediasync_stage_duration_seconds")
	if len(mf.GetMetric()) != 2 {
		t.Errorf("stage series = %d, want 2", len(mf.GetMetric()))
	}
}

// TestHandler_ReturnsPrometheusFormat はテキスト形式でメトリクスが公開されることを検証する。
func TestHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordFilesCleaned(3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "mediasync_files_cleaned_total 3") {
		t.Errorf("response should contain mediasync_files_cleaned_total 3, got:\n%s", body)
	}
}

// TestMultipleCollectors_IndependentRegistries は別レジストリへの二重登録でpanicしないことを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	a := NewCollector(prometheus.NewRegistry())
	b := NewCollector(prometheus.NewRegistry())
	if a == nil || b == nil {
		t.Fatal("expected non-nil collectors")
	}
}
