package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.FirstTokenLatency.Record(ctx, 0.42)
	m.BargeInCancelLatency.Record(ctx, 0.05)

	rm := collect(t, reader)
	hist := findMetric(rm, "loqua.generation.first_token_latency")
	if hist == nil {
		t.Fatal("first token latency histogram not found")
	}
	data, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", hist.Data)
	}
	if len(data.DataPoints) != 1 || data.DataPoints[0].Count != 1 {
		t.Errorf("unexpected data points: %+v", data.DataPoints)
	}
	if data.DataPoints[0].Sum != 0.42 {
		t.Errorf("sum = %v, want 0.42", data.DataPoints[0].Sum)
	}
}

func TestCounterWithAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordVADEvent(ctx, "speech_start")
	m.RecordVADEvent(ctx, "speech_start")
	m.RecordVADEvent(ctx, "silence")

	rm := collect(t, reader)
	c := findMetric(rm, "loqua.vad.events")
	if c == nil {
		t.Fatal("vad events counter not found")
	}
	data, ok := c.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", c.Data)
	}

	byType := map[string]int64{}
	for _, dp := range data.DataPoints {
		typ, _ := dp.Attributes.Value(attribute.Key("type"))
		byType[typ.AsString()] = dp.Value
	}
	if byType["speech_start"] != 2 {
		t.Errorf("speech_start count = %d, want 2", byType["speech_start"])
	}
	if byType["silence"] != 1 {
		t.Errorf("silence count = %d, want 1", byType["silence"])
	}
}

func TestActiveSessionsUpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	g := findMetric(rm, "loqua.active_sessions")
	if g == nil {
		t.Fatal("active sessions gauge not found")
	}
	data, ok := g.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", g.Data)
	}
	if len(data.DataPoints) != 1 || data.DataPoints[0].Value != 1 {
		t.Errorf("active sessions = %+v, want 1", data.DataPoints)
	}
}

func TestRecordSessionError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSessionError(ctx, "STT_UNAVAILABLE")

	rm := collect(t, reader)
	c := findMetric(rm, "loqua.session.errors")
	if c == nil {
		t.Fatal("session errors counter not found")
	}
	data := c.Data.(metricdata.Sum[int64])
	if len(data.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(data.DataPoints))
	}
	code, _ := data.DataPoints[0].Attributes.Value(attribute.Key("code"))
	if code.AsString() != "STT_UNAVAILABLE" {
		t.Errorf("code attribute = %q", code.AsString())
	}
}

func TestMetricsRecordWithExplicitAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.STTRestarts.Add(ctx, 1, metric.WithAttributes(Attr("status", "ok")))

	rm := collect(t, reader)
	if findMetric(rm, "loqua.stt.restarts") == nil {
		t.Fatal("stt restarts counter not found")
	}
}
