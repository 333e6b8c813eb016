package journal_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/journal"
	"github.com/openfroyo/converge/pkg/provider/memory"
)

// Example_history journals a destroy run and reads it back.
func Example_history() {
	ctx := context.Background()

	j, err := journal.Open(ctx, journal.Config{Path: ":memory:"})
	if err != nil {
		panic(err)
	}
	defer j.Close()

	cfg := &config.DeploymentConfig{
		DeploymentID: "dev",
		ServiceName:  "svc",
		Region:       "eu-west-2",
		CodePath:     "app",
	}
	cfg.ApplyDefaults()

	p := memory.New("eu-west-2", memory.Options{})
	r, err := engine.NewReconciler(cfg, engine.Options{Client: p.Client(), Journal: j})
	if err != nil {
		panic(err)
	}
	if _, err := r.Destroy(ctx); err != nil {
		panic(err)
	}

	runs, err := j.ListRuns(ctx, journal.Filter{DeploymentID: "dev"})
	if err != nil {
		panic(err)
	}
	run, err := j.GetRun(ctx, runs[0].ID)
	if err != nil {
		panic(err)
	}
	fmt.Println(run.Operation, run.Status, len(run.Steps))
	fmt.Println(run.Steps[0].Label, run.Steps[0].Outcome)
	// Output:
	// destroy succeeded 12
	// function:version absent
}
