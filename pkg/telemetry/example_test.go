package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/converge/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.NewComponentLogger("cli")
	logger.Info("converge started")

	// Output can vary, so we don't specify output for this example
}

// Example_stepEvents demonstrates subscribing to step progress.
func Example_stepEvents() {
	events := telemetry.NewEventPublisher()
	events.Subscribe(func(e telemetry.Event) {
		fmt.Printf("%s %s: %s\n", e.Kind, e.Resource, e.Outcome)
	}, telemetry.FilterByType(telemetry.EventTypeStepCompleted))

	events.PublishStepCompleted("run-1", "table", "converge-dev-shop", "created", 2*time.Second)
	events.PublishStepCompleted("run-1", "role", "converge-dev-shop", "unchanged", time.Millisecond)

	// Output:
	// table converge-dev-shop: created
	// role converge-dev-shop: unchanged
}

// Example_metrics demonstrates recording step metrics.
func Example_metrics() {
	cfg := telemetry.DefaultConfig()
	metrics, _ := telemetry.NewMetrics(cfg.Metrics)

	timer := telemetry.NewTimer()
	metrics.RecordRunStarted("deploy")
	metrics.RecordStep("bucket", "deploy", "created", timer.Duration())
	metrics.RecordWaiterPoll("table active")
	metrics.RecordRunCompleted("deploy", "success", timer.Duration())

	families, _ := metrics.Registry().Gather()
	fmt.Println(len(families) > 0)

	// Output:
	// true
}
