package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"otlp without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
			c.Tracing.Endpoint = ""
		}, true},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
		{"missing service", func(c *Config) { c.ServiceName = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", "")
			t.Setenv("LOG_FORMAT", "")
			t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg := DefaultConfig()
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging not overridden: %+v", cfg.Logging)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.Exporter != "otlp" || cfg.Tracing.Endpoint != "collector:4317" {
		t.Errorf("tracing not overridden: %+v", cfg.Tracing)
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger.NewComponentLogger("reconciler").
		WithRunID("run-1").
		WithResource("table", "converge-dev-shop").
		Info("table active")
	logger.Debug("filtered out")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid JSON log line: %v", err)
	}
	want := map[string]string{
		"component": "reconciler",
		"run_id":    "run-1",
		"kind":      "table",
		"resource":  "converge-dev-shop",
		"message":   "table active",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("field %s = %v, want %s", k, entry[k], v)
		}
	}
}

func TestMetricsDisabledIsSafe(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	m.RecordRunStarted("deploy")
	m.RecordStep("bucket", "deploy", "created", time.Second)
	m.RecordError("timeout")
	if m.Registry() != nil {
		t.Error("expected no registry for disabled metrics")
	}

	var nilMetrics *Metrics
	nilMetrics.RecordWaiterPoll("x")
}

func TestMetricsRecorded(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatal(err)
	}
	m.RecordStep("table", "deploy", "created", 3*time.Second)
	m.RecordError("timeout")
	m.RecordArtifactUpload("code.zip", false)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"converge_steps_executed_total",
		"converge_step_duration_seconds",
		"converge_errors_by_class_total",
		"converge_artifact_uploads_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
}

func TestEventPublisher(t *testing.T) {
	ep := NewEventPublisher()
	var all, failures []Event
	ep.Subscribe(func(e Event) { all = append(all, e) }, nil)
	ep.Subscribe(func(e Event) { failures = append(failures, e) }, FilterByType(EventTypeStepFailed))

	ep.PublishStepCompleted("run-1", "bucket", "b", "created", time.Second)
	ep.PublishStepFailed("run-1", "table", "t", errors.New("timed out"))

	if len(all) != 2 || len(failures) != 1 {
		t.Fatalf("unexpected delivery: all=%d failures=%d", len(all), len(failures))
	}
	if all[0].ID == "" || all[0].Timestamp.IsZero() {
		t.Error("expected ID and timestamp to be filled in")
	}
	if failures[0].Level != EventLevelError {
		t.Errorf("expected error level, got %s", failures[0].Level)
	}

	var nilPublisher *EventPublisher
	nilPublisher.Publish(Event{Type: EventTypeRunStarted})
}

func TestTracerDisabled(t *testing.T) {
	tr, err := NewTracer(TracingConfig{Enabled: false}, "converge", "dev", nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, span := tr.StartRunSpan(context.Background(), "run-1", "deploy")
	_, step := tr.StartStepSpan(ctx, "bucket", "b", "deploy")
	RecordError(step, errors.New("boom"))
	step.End()
	RecordSuccess(span)
	span.End()
	if TraceID(ctx) != "" {
		t.Error("expected no trace ID from a no-op tracer")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Error(err)
	}
}
