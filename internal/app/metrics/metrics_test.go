package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	io_prometheus_client "github.com/prometheus/client_model/go"
)

func TestInstrumentHandlerRecordsMetrics(t *testing.T) {
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodGet, "/companies/acme", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	if !metricCounterGreaterOrEqual(t, "service_layer_http_requests_total", map[string]string{
		"method": "GET",
		"path":   "/companies/:id",
		"status": "202",
	}, 1) {
		t.Fatalf("expected http request counter to increment")
	}

	if !metricHistogramCountGreaterOrEqual(t, "service_layer_http_request_duration_seconds", map[string]string{
		"method": "GET",
		"path":   "/companies/:id",
	}, 1) {
		t.Fatalf("expected http duration histogram to record samples")
	}
}

func metricCounterGreaterOrEqual(t *testing.T, name string, labels map[string]string, min float64) bool {
	t.Helper()
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric, labels) && metric.GetCounter() != nil {
				return metric.GetCounter().GetValue() >= min
			}
		}
	}
	return false
}

func metricHistogramCountGreaterOrEqual(t *testing.T, name string, labels map[string]string, min uint64) bool {
	t.Helper()
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric, labels) && metric.GetHistogram() != nil {
				return metric.GetHistogram().GetSampleCount() >= min
			}
		}
	}
	return false
}

func labelsMatch(metric *io_prometheus_client.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	matched := 0
	for _, lbl := range metric.GetLabel() {
		if val, ok := labels[lbl.GetName()]; ok && val == lbl.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/", "/"},
		{"//", "/"},
		{"/healthz", "/healthz"},
		{"/system/status", "/system"},
		{"/companies", "/companies"},
		{"/companies/", "/companies"},
		{"/companies/acme-co", "/companies/:id"},
		{"/companies/acme-co/", "/companies/:id"},
		{"/facilities/fac-1/activities", "/facilities/fac-1"},
		{"/reports/rep-1/download", "/reports/rep-1"},
		{"companies", "/companies"},
		{"companies/", "/companies"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := canonicalPath(tt.input)
			if result != tt.expected {
				t.Errorf("canonicalPath(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}
	sr.WriteHeader(http.StatusNotFound)
	if sr.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", sr.status)
	}

	rec2 := httptest.NewRecorder()
	sr2 := &statusRecorder{ResponseWriter: rec2, status: 0}
	n, err := sr2.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 bytes written, got %d", n)
	}
	if sr2.status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", sr2.status)
	}

	rec3 := httptest.NewRecorder()
	sr3 := &statusRecorder{ResponseWriter: rec3, status: http.StatusCreated}
	sr3.Write([]byte("test"))
	if sr3.status != http.StatusCreated {
		t.Errorf("expected status 201 preserved, got %d", sr3.status)
	}
}

func TestMetaLabel(t *testing.T) {
	tests := []struct {
		name     string
		meta     map[string]string
		expected string
	}{
		{name: "nil map", meta: nil, expected: "unknown"},
		{name: "empty map", meta: map[string]string{}, expected: "unknown"},
		{name: "resource key", meta: map[string]string{"resource": "res-1"}, expected: "res-1"},
		{name: "facility_id key", meta: map[string]string{"facility_id": "fac-1"}, expected: "fac-1"},
		{name: "company_id key", meta: map[string]string{"company_id": "co-1"}, expected: "co-1"},
		{name: "invoice_id key", meta: map[string]string{"invoice_id": "inv-1"}, expected: "inv-1"},
		{name: "report_id key", meta: map[string]string{"report_id": "rep-1"}, expected: "rep-1"},
		{
			name:     "resource takes precedence",
			meta:     map[string]string{"resource": "res-1", "facility_id": "fac-1"},
			expected: "res-1",
		},
		{
			name:     "empty resource falls through",
			meta:     map[string]string{"resource": "", "facility_id": "fac-1"},
			expected: "fac-1",
		},
		{
			name:     "all empty returns unknown",
			meta:     map[string]string{"resource": "", "facility_id": ""},
			expected: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := metaLabel(tt.meta)
			if result != tt.expected {
				t.Errorf("metaLabel(%v) = %q, want %q", tt.meta, result, tt.expected)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	h := Handler()
	if h == nil {
		t.Fatal("Handler() should return non-nil handler")
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected non-empty metrics response")
	}
}

func TestInstrumentHandler_MetricsPathPassthrough(t *testing.T) {
	called := false
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Error("expected /metrics path to pass through to handler")
	}
}

func TestObservationHooks(t *testing.T) {
	hooks := ObservationHooks("test_ns", "test_sub", "test_op")

	if hooks.OnStart == nil {
		t.Fatal("OnStart should not be nil")
	}
	if hooks.OnComplete == nil {
		t.Fatal("OnComplete should not be nil")
	}

	hooks.OnStart(nil, map[string]string{"resource": "test-res"})
	hooks.OnComplete(nil, map[string]string{"resource": "test-res"}, nil, 100*time.Millisecond)
	hooks.OnComplete(nil, map[string]string{"resource": "test-res"}, fmt.Errorf("test error"), 50*time.Millisecond)

	hooks2 := ObservationHooks("test_ns", "test_sub", "test_op")
	if hooks2.OnStart == nil || hooks2.OnComplete == nil {
		t.Fatal("cached hooks should be valid")
	}
}

// TestDomainHookFactories checks each carbon-domain hook constructor returns
// a usable pair of callbacks, mirroring how calculation/ocr/reporting/
// analytics invoke them around their own operations.
func TestDomainHookFactories(t *testing.T) {
	cases := []struct {
		name string
		make func() bool
	}{
		{"CalculationProviderHooks", func() bool { h := CalculationProviderHooks(); return h.OnStart != nil && h.OnComplete != nil }},
		{"OCRExtractionHooks", func() bool { h := OCRExtractionHooks(); return h.OnStart != nil && h.OnComplete != nil }},
		{"CBAMReportHooks", func() bool { h := CBAMReportHooks(); return h.OnStart != nil && h.OnComplete != nil }},
		{"ROIReportHooks", func() bool { h := ROIReportHooks(); return h.OnStart != nil && h.OnComplete != nil }},
		{"BenchmarkRefreshHooks", func() bool { h := BenchmarkRefreshHooks(); return h.OnStart != nil && h.OnComplete != nil }},
		{"AnomalyDetectionHooks", func() bool { h := AnomalyDetectionHooks(); return h.OnStart != nil && h.OnComplete != nil }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !tc.make() {
				t.Errorf("%s returned an incomplete ObservationHooks", tc.name)
			}
		})
	}
}
