package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/converge/pkg/build"
	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/digest"
	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/provider"
	"github.com/openfroyo/converge/pkg/provider/memory"
	"github.com/openfroyo/converge/pkg/telemetry"
	"github.com/openfroyo/converge/pkg/waiter"
)

// staticBuilder serves fixed archive bodies.
type staticBuilder struct {
	code, layer []byte
	builds      int
}

func (b *staticBuilder) BuildCode(context.Context) (*build.Artifact, error) {
	b.builds++
	return &build.Artifact{Name: build.CodeArchive, Body: b.code, Digest: digest.Sum(b.code)}, nil
}

func (b *staticBuilder) BuildLayer(context.Context) (*build.Artifact, error) {
	b.builds++
	return &build.Artifact{Name: build.LayerArchive, Body: b.layer, Digest: digest.Sum(b.layer)}, nil
}

// recordingJournal keeps every journal call.
type recordingJournal struct {
	runs     []engine.RunRecord
	steps    []engine.StepResult
	statuses []string
	err      error
}

func (j *recordingJournal) StartRun(_ context.Context, run engine.RunRecord) error {
	j.runs = append(j.runs, run)
	return j.err
}

func (j *recordingJournal) RecordStep(_ context.Context, _ string, step engine.StepResult) error {
	j.steps = append(j.steps, step)
	return j.err
}

func (j *recordingJournal) FinishRun(_ context.Context, _, status string, _ time.Time, _ error) error {
	j.statuses = append(j.statuses, status)
	return j.err
}

type denyGuard struct{}

func (denyGuard) CheckRolePolicy(context.Context, string, string) error {
	return errors.New("wildcard resource")
}

var fastWait = waiter.Options{Interval: 0, MaxAttempts: 10}

func testConfig() *config.DeploymentConfig {
	cfg := &config.DeploymentConfig{
		DeploymentID: "dev",
		ServiceName:  "svc",
		Region:       "eu-west-2",
		CodePath:     "code",
		Functions: []config.FunctionConfig{
			{Name: "new", Handler: "h.new", NeedsSharedCode: true},
			{Name: "resume", Handler: "h.resume", NeedsSharedCode: true},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func slowProvider() *memory.Provider {
	return memory.New("eu-west-2", memory.Options{
		TableCreatePolls:   2,
		TableDeletePolls:   2,
		FunctionPolls:      2,
		UpdatePolls:        1,
		RolePropagateCalls: 2,
	})
}

func newReconciler(t *testing.T, p *memory.Provider, cfg *config.DeploymentConfig, b build.Builder, mods ...func(*engine.Options)) *engine.Reconciler {
	t.Helper()
	opts := engine.Options{
		Client:  p.Client(),
		Builder: b,
		Wait:    fastWait,
	}
	for _, m := range mods {
		m(&opts)
	}
	r, err := engine.NewReconciler(cfg, opts)
	if err != nil {
		t.Fatalf("NewReconciler() error: %v", err)
	}
	return r
}

func outcomes(r *engine.Report) map[string]engine.Outcome {
	out := make(map[string]engine.Outcome, len(r.Steps))
	for _, s := range r.Steps {
		out[s.Label] = s.Outcome
	}
	return out
}

func labels(r *engine.Report) []string {
	var out []string
	for _, s := range r.Steps {
		out = append(out, s.Label)
	}
	return out
}

func TestShowListsEveryResource(t *testing.T) {
	cfg := testConfig()
	r := newReconciler(t, memory.New("eu-west-2", memory.Options{}), cfg, &staticBuilder{})

	entries := r.Show()
	if len(entries) != 6+len(cfg.Functions) {
		t.Fatalf("expected %d entries, got %d", 6+len(cfg.Functions), len(entries))
	}

	want := []string{"bucket", "code-package", "layer-package", "table", "role", "layer", "function:new", "function:resume"}
	for i, e := range entries {
		if e.Label != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], e.Label)
		}
		if e.Exists != nil {
			t.Errorf("Show must not report existence for %s", e.Label)
		}
	}
	if entries[0].Name != "converge-dev-svc" {
		t.Errorf("unexpected bucket name %q", entries[0].Name)
	}
	if entries[1].Name != "converge-dev-svc/code.zip" {
		t.Errorf("unexpected code package name %q", entries[1].Name)
	}
	if entries[7].Name != "converge-dev-svc-resume" {
		t.Errorf("unexpected function name %q", entries[7].Name)
	}

	if shared := engine.Entries(cfg, engine.Sequence(cfg)); !slices.Equal(shared, entries) {
		t.Errorf("Entries() = %v, Show() = %v", shared, entries)
	}
}

func TestDeployIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := slowProvider()
	b := &staticBuilder{code: []byte("code-v1"), layer: []byte("layer-v1")}
	r := newReconciler(t, p, testConfig(), b)

	report, err := r.Deploy(ctx)
	if err != nil {
		t.Fatalf("first Deploy() error: %v", err)
	}
	if report.Status != engine.RunStatusSucceeded {
		t.Errorf("expected succeeded, got %s", report.Status)
	}
	if got := report.Count(engine.OutcomeCreated); got != 8 {
		t.Errorf("expected 8 created steps, got %d: %v", got, outcomes(report))
	}
	if b.builds != 2 {
		t.Errorf("expected each package built once per run, got %d builds", b.builds)
	}

	p.ResetCalls()
	report, err = r.Deploy(ctx)
	if err != nil {
		t.Fatalf("second Deploy() error: %v", err)
	}
	if got := report.Count(engine.OutcomeUnchanged); got != 8 {
		t.Errorf("expected 8 unchanged steps, got %v", outcomes(report))
	}
	if calls := p.MutatingCalls(); len(calls) != 0 {
		t.Errorf("converged deploy issued mutating calls: %v", calls)
	}
}

func TestDeployCreatesResources(t *testing.T) {
	ctx := context.Background()
	p := slowProvider()
	cfg := testConfig()
	r := newReconciler(t, p, cfg, &staticBuilder{code: []byte("code"), layer: []byte("layer")})

	if _, err := r.Deploy(ctx); err != nil {
		t.Fatalf("Deploy() error: %v", err)
	}

	if got := p.BucketNames(); !slices.Equal(got, []string{"converge-dev-svc"}) {
		t.Errorf("unexpected buckets %v", got)
	}
	if got := p.ObjectKeys("converge-dev-svc"); !slices.Equal(got, []string{"code.zip", "layer.zip"}) {
		t.Errorf("unexpected objects %v", got)
	}
	if got := p.TableNames(); !slices.Equal(got, []string{"converge-dev-svc"}) {
		t.Errorf("unexpected tables %v", got)
	}
	if got := p.LayerVersionCount(engine.LayerName(cfg)); got != 1 {
		t.Errorf("expected 1 layer version, got %d", got)
	}

	fn, ok := p.Function("converge-dev-svc-new")
	if !ok {
		t.Fatal("function new was not created")
	}
	if fn.Environment[engine.EnvTable] != engine.TableName(cfg) {
		t.Errorf("unexpected table env %q", fn.Environment[engine.EnvTable])
	}
	if fn.Environment[engine.EnvResumeFunction] != "converge-dev-svc-resume" {
		t.Errorf("unexpected resume env %q", fn.Environment[engine.EnvResumeFunction])
	}
	if fn.Environment[engine.EnvRegion] != "eu-west-2" {
		t.Errorf("unexpected region env %q", fn.Environment[engine.EnvRegion])
	}
	if len(fn.Layers) != 1 {
		t.Errorf("expected the shared layer attached, got %v", fn.Layers)
	}
	if fn.Timeout != 30 {
		t.Errorf("expected timeout 30, got %d", fn.Timeout)
	}
	roleARN := "arn:aws:iam::" + memory.AccountID + ":role/" + engine.RoleName(cfg)
	for _, name := range []string{"converge-dev-svc-new", "converge-dev-svc-resume"} {
		if fn, _ := p.Function(name); fn.Role != roleARN {
			t.Errorf("%s: expected role %q, got %q", name, roleARN, fn.Role)
		}
	}
	if got := p.PublishedVersions("converge-dev-svc-new"); got != 1 {
		t.Errorf("expected 1 published version, got %d", got)
	}
}

func TestDeployWaitsForRolePropagation(t *testing.T) {
	p := slowProvider()
	r := newReconciler(t, p, testConfig(), &staticBuilder{code: []byte("c"), layer: []byte("l")})

	if _, err := r.Deploy(context.Background()); err != nil {
		t.Fatalf("Deploy() error: %v", err)
	}

	creates := 0
	for _, c := range p.Calls() {
		if c.Operation == "CreateFunction" {
			creates++
		}
	}
	// Two rejected attempts while the role propagates, then one per function.
	if creates != 4 {
		t.Errorf("expected 4 CreateFunction calls, got %d", creates)
	}
}

func TestDeployUploadsOnlyChangedPackages(t *testing.T) {
	ctx := context.Background()
	p := slowProvider()
	cfg := testConfig()
	b := &staticBuilder{code: []byte("code-v1"), layer: []byte("layer-v1")}

	if _, err := newReconciler(t, p, cfg, b).Deploy(ctx); err != nil {
		t.Fatalf("Deploy() error: %v", err)
	}

	b.code = []byte("code-v2")
	p.ResetCalls()
	report, err := newReconciler(t, p, cfg, b).Deploy(ctx)
	if err != nil {
		t.Fatalf("redeploy error: %v", err)
	}

	got := outcomes(report)
	want := map[string]engine.Outcome{
		"bucket":          engine.OutcomeUnchanged,
		"code-package":    engine.OutcomeUpdated,
		"layer-package":   engine.OutcomeUnchanged,
		"table":           engine.OutcomeUnchanged,
		"role":            engine.OutcomeUnchanged,
		"layer":           engine.OutcomeUnchanged,
		"function:new":    engine.OutcomeUpdated,
		"function:resume": engine.OutcomeUpdated,
	}
	for label, o := range want {
		if got[label] != o {
			t.Errorf("%s: expected %s, got %s", label, o, got[label])
		}
	}

	var ops []string
	for _, c := range p.MutatingCalls() {
		ops = append(ops, c.Operation+" "+c.Target)
	}
	for _, op := range ops {
		if strings.Contains(op, "layer.zip") || strings.HasPrefix(op, "PublishLayerVersion") ||
			strings.HasPrefix(op, "UpdateFunctionConfiguration") {
			t.Errorf("unexpected mutating call %s", op)
		}
	}
	if !slices.Contains(ops, "PutObject converge-dev-svc/code.zip") {
		t.Errorf("expected code package upload, got %v", ops)
	}

	fn, _ := p.Function("converge-dev-svc-new")
	if fn.CodeSha256 != digest.Sum([]byte("code-v2")).String() {
		t.Errorf("function code not updated: %s", fn.CodeSha256)
	}
	if got := p.PublishedVersions("converge-dev-svc-new"); got != 2 {
		t.Errorf("expected 2 published versions, got %d", got)
	}
}

func TestDeployLayerChangeRebindsSharedFunctions(t *testing.T) {
	ctx := context.Background()
	p := slowProvider()
	cfg := testConfig()
	cfg.Functions = []config.FunctionConfig{
		{Name: "new", Handler: "h.new", NeedsSharedCode: true},
		{Name: "resume", Handler: "h.resume", NeedsSharedCode: true},
		{Name: "version", Handler: "h.version"},
	}
	b := &staticBuilder{code: []byte("code"), layer: []byte("layer-v1")}

	if _, err := newReconciler(t, p, cfg, b).Deploy(ctx); err != nil {
		t.Fatalf("Deploy() error: %v", err)
	}

	b.layer = []byte("layer-v2")
	report, err := newReconciler(t, p, cfg, b).Deploy(ctx)
	if err != nil {
		t.Fatalf("redeploy error: %v", err)
	}
	got := outcomes(report)
	if got["layer"] != engine.OutcomeUpdated {
		t.Errorf("layer: expected updated, got %s", got["layer"])
	}
	if got["function:new"] != engine.OutcomeUpdated {
		t.Errorf("function:new: expected updated, got %s", got["function:new"])
	}
	if got["function:version"] != engine.OutcomeUnchanged {
		t.Errorf("function:version: expected unchanged, got %s", got["function:version"])
	}

	fn, _ := p.Function("converge-dev-svc-new")
	if len(fn.Layers) != 1 || !strings.HasSuffix(fn.Layers[0], ":2") {
		t.Errorf("expected layer version 2 bound, got %v", fn.Layers)
	}
	if got := p.LayerVersionCount(engine.LayerName(cfg)); got != 2 {
		t.Errorf("expected 2 layer versions, got %d", got)
	}
	if fn, _ := p.Function("converge-dev-svc-version"); len(fn.Layers) != 0 {
		t.Errorf("function without shared code got layers %v", fn.Layers)
	}
}

func TestDeployAppliesConfigurationDrift(t *testing.T) {
	ctx := context.Background()
	p := slowProvider()
	cfg := testConfig()
	b := &staticBuilder{code: []byte("code"), layer: []byte("layer")}

	if _, err := newReconciler(t, p, cfg, b).Deploy(ctx); err != nil {
		t.Fatalf("Deploy() error: %v", err)
	}

	cfg.FunctionTimeout = 60
	p.ResetCalls()
	if _, err := newReconciler(t, p, cfg, b).Deploy(ctx); err != nil {
		t.Fatalf("redeploy error: %v", err)
	}

	for _, c := range p.MutatingCalls() {
		if c.Operation == "UpdateFunctionCode" {
			t.Errorf("code updated without code drift: %s", c)
		}
	}
	fn, _ := p.Function("converge-dev-svc-resume")
	if fn.Timeout != 60 {
		t.Errorf("expected timeout 60, got %d", fn.Timeout)
	}
}

func TestDeployFailFastAndResume(t *testing.T) {
	ctx := context.Background()
	p := slowProvider()
	cfg := testConfig()
	b := &staticBuilder{code: []byte("code"), layer: []byte("layer")}
	r := newReconciler(t, p, cfg, b)

	p.FailNext("CreateTable", errors.New("throttled"))
	report, err := r.Deploy(ctx)
	if err == nil {
		t.Fatal("expected deploy to fail")
	}
	if report.Status != engine.RunStatusFailed {
		t.Errorf("expected failed status, got %s", report.Status)
	}
	if got := labels(report); !slices.Equal(got, []string{"bucket", "code-package", "layer-package", "table"}) {
		t.Errorf("deploy did not stop at the failing step: %v", got)
	}

	var ee *engine.EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("expected EngineError, got %T", err)
	}
	if ee.Kind != engine.KindTable || ee.Resource != engine.TableName(cfg) || ee.Class != engine.ErrorClassTransport {
		t.Errorf("unexpected error identity: %+v", ee)
	}
	if len(p.RoleNames()) != 0 {
		t.Error("role created after a failed step")
	}

	report, err = r.Deploy(ctx)
	if err != nil {
		t.Fatalf("resumed Deploy() error: %v", err)
	}
	got := outcomes(report)
	if got["bucket"] != engine.OutcomeUnchanged || got["code-package"] != engine.OutcomeUnchanged {
		t.Errorf("converged steps were redone: %v", got)
	}
	if got["table"] != engine.OutcomeCreated || got["function:resume"] != engine.OutcomeCreated {
		t.Errorf("remaining steps not created: %v", got)
	}
}

func TestDeployTimesOut(t *testing.T) {
	p := memory.New("eu-west-2", memory.Options{TableCreatePolls: 100})
	r := newReconciler(t, p, testConfig(), &staticBuilder{code: []byte("c"), layer: []byte("l")},
		func(o *engine.Options) { o.Wait = waiter.Options{MaxAttempts: 3} })

	_, err := r.Deploy(context.Background())
	if !engine.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !errors.Is(err, waiter.ErrTimeout) {
		t.Errorf("timeout should wrap waiter.ErrTimeout: %v", err)
	}
}

func TestDeployGuardRejectsRole(t *testing.T) {
	p := memory.New("eu-west-2", memory.Options{})
	r := newReconciler(t, p, testConfig(), &staticBuilder{code: []byte("c"), layer: []byte("l")},
		func(o *engine.Options) { o.Guard = denyGuard{} })

	report, err := r.Deploy(context.Background())
	if !engine.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if last := report.Steps[len(report.Steps)-1]; last.Label != "role" || last.Outcome != engine.OutcomeFailed {
		t.Errorf("expected failing role step, got %+v", last)
	}
	if len(p.FunctionNames()) != 0 {
		t.Error("functions created despite rejected role")
	}
}

func TestRolePolicyIsScoped(t *testing.T) {
	p := memory.New("eu-west-2", memory.Options{})
	cfg := testConfig()
	if _, err := newReconciler(t, p, cfg, &staticBuilder{code: []byte("c"), layer: []byte("l")}).Deploy(context.Background()); err != nil {
		t.Fatalf("Deploy() error: %v", err)
	}

	doc, ok := p.RolePolicy(engine.RoleName(cfg), engine.RolePolicyName)
	if !ok {
		t.Fatal("inline policy missing")
	}
	var policy engine.PolicyDocument
	if err := json.Unmarshal([]byte(doc), &policy); err != nil {
		t.Fatalf("policy is not JSON: %v", err)
	}
	if len(policy.Statement) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(policy.Statement))
	}
	tableARN := "arn:aws:dynamodb:eu-west-2:" + memory.AccountID + ":table/converge-dev-svc"
	resumeARN := "arn:aws:lambda:eu-west-2:" + memory.AccountID + ":function:converge-dev-svc-resume"
	if policy.Statement[0].Resource != tableARN {
		t.Errorf("table statement resource %q, want %q", policy.Statement[0].Resource, tableARN)
	}
	if policy.Statement[1].Resource != resumeARN {
		t.Errorf("invoke statement resource %q, want %q", policy.Statement[1].Resource, resumeARN)
	}

	attached := p.AttachedPolicies(engine.RoleName(cfg))
	want := "arn:aws:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole"
	if !slices.Equal(attached, []string{want}) {
		t.Errorf("unexpected attached policies %v", attached)
	}
}

func TestRolePolicyDriftIsRepaired(t *testing.T) {
	ctx := context.Background()
	p := memory.New("eu-west-2", memory.Options{})
	cfg := testConfig()
	b := &staticBuilder{code: []byte("c"), layer: []byte("l")}
	r := newReconciler(t, p, cfg, b)

	if _, err := r.Deploy(ctx); err != nil {
		t.Fatalf("Deploy() error: %v", err)
	}
	if err := p.PutRolePolicy(ctx, engine.RoleName(cfg), engine.RolePolicyName, `{"Version":"2012-10-17","Statement":[]}`); err != nil {
		t.Fatalf("PutRolePolicy() error: %v", err)
	}

	report, err := r.Deploy(ctx)
	if err != nil {
		t.Fatalf("redeploy error: %v", err)
	}
	if got := outcomes(report)["role"]; got != engine.OutcomeUpdated {
		t.Errorf("expected role updated, got %s", got)
	}
}

func TestLayerDigestMismatchFails(t *testing.T) {
	p := memory.New("eu-west-2", memory.Options{})
	client := p.Client()
	client.Functions = skewedLayers{p}

	r, err := engine.NewReconciler(testConfig(), engine.Options{
		Client:  client,
		Builder: &staticBuilder{code: []byte("c"), layer: []byte("l")},
		Wait:    fastWait,
	})
	if err != nil {
		t.Fatalf("NewReconciler() error: %v", err)
	}

	_, err = r.Deploy(context.Background())
	if !engine.IsDeployment(err) {
		t.Fatalf("expected deployment error, got %v", err)
	}
}

// skewedLayers reports a digest that never matches the uploaded package.
type skewedLayers struct {
	provider.FunctionService
}

func (s skewedLayers) ListLayerVersions(ctx context.Context, layer string) ([]provider.LayerVersion, error) {
	versions, err := s.FunctionService.ListLayerVersions(ctx, layer)
	for i := range versions {
		versions[i].CodeSha256 = "skewed"
	}
	return versions, err
}

func TestDestroyWalksInReverse(t *testing.T) {
	ctx := context.Background()
	p := slowProvider()
	r := newReconciler(t, p, testConfig(), &staticBuilder{code: []byte("c"), layer: []byte("l")})

	if _, err := r.Deploy(ctx); err != nil {
		t.Fatalf("Deploy() error: %v", err)
	}
	p.ResetCalls()
	report, err := r.Destroy(ctx)
	if err != nil {
		t.Fatalf("Destroy() error: %v", err)
	}

	var show []string
	for _, e := range r.Show() {
		show = append(show, e.Label)
	}
	slices.Reverse(show)
	if got := labels(report); !slices.Equal(got, show) {
		t.Errorf("destroy order %v, want %v", got, show)
	}
	if got := report.Count(engine.OutcomeDeleted); got != 8 {
		t.Errorf("expected 8 deleted steps, got %v", outcomes(report))
	}

	if len(p.BucketNames())+len(p.TableNames())+len(p.RoleNames())+len(p.FunctionNames()) != 0 {
		t.Error("resources left behind after destroy")
	}

	calls := p.MutatingCalls()
	first := func(op, target string) int {
		for i, c := range calls {
			if c.Operation == op && c.Target == target {
				return i
			}
		}
		return -1
	}
	cfg := testConfig()
	order := []struct{ op, target string }{
		{"DeleteFunction", "converge-dev-svc-resume"},
		{"DeleteFunction", "converge-dev-svc-new"},
		{"DeleteLayerVersion", engine.LayerName(cfg) + ":1"},
		{"DeleteRole", engine.RoleName(cfg)},
		{"DeleteTable", engine.TableName(cfg)},
		{"DeleteObject", engine.BucketName(cfg) + "/layer.zip"},
		{"DeleteObject", engine.BucketName(cfg) + "/code.zip"},
		{"DeleteBucket", engine.BucketName(cfg)},
	}
	prev := -1
	for _, o := range order {
		i := first(o.op, o.target)
		if i <= prev {
			t.Fatalf("%s %s out of order in %v", o.op, o.target, calls)
		}
		prev = i
	}
	if last := calls[len(calls)-1]; last.Operation != "DeleteBucket" {
		t.Errorf("expected DeleteBucket last, got %s", last)
	}
}

func TestStatusAfterDestroyReportsAbsence(t *testing.T) {
	ctx := context.Background()
	p := memory.New("eu-west-2", memory.Options{})
	cfg := testConfig()
	r := newReconciler(t, p, cfg, &staticBuilder{code: []byte("c"), layer: []byte("l")})

	if _, err := r.Deploy(ctx); err != nil {
		t.Fatalf("Deploy() error: %v", err)
	}
	if _, err := r.Destroy(ctx); err != nil {
		t.Fatalf("Destroy() error: %v", err)
	}

	entries, err := r.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if len(entries) != len(r.Show()) {
		t.Fatalf("expected %d entries, got %d", len(r.Show()), len(entries))
	}
	for _, e := range entries {
		if e.Exists == nil || *e.Exists {
			t.Errorf("%s: expected absent after destroy, got %v", e.Label, e.Exists)
		}
	}
	if got := p.ObjectKeys(engine.BucketName(cfg)); len(got) != 0 {
		t.Errorf("objects left behind: %v", got)
	}
	if got := p.LayerVersionCount(engine.LayerName(cfg)); got != 0 {
		t.Errorf("expected no layer versions, got %d", got)
	}
}

func TestDestroyTreatsAbsenceAsSuccess(t *testing.T) {
	p := memory.New("eu-west-2", memory.Options{})
	r := newReconciler(t, p, testConfig(), &staticBuilder{})

	report, err := r.Destroy(context.Background())
	if err != nil {
		t.Fatalf("Destroy() of nothing failed: %v", err)
	}
	for _, s := range report.Steps {
		if s.Outcome != engine.OutcomeAbsent {
			t.Errorf("%s: expected absent, got %s", s.Label, s.Outcome)
		}
	}
}

func TestDestroyIsBestEffort(t *testing.T) {
	ctx := context.Background()
	p := memory.New("eu-west-2", memory.Options{})
	r := newReconciler(t, p, testConfig(), &staticBuilder{code: []byte("c"), layer: []byte("l")})

	if _, err := r.Deploy(ctx); err != nil {
		t.Fatalf("Deploy() error: %v", err)
	}
	p.FailNext("DeleteRole", errors.New("boom"))

	report, err := r.Destroy(ctx)
	if err == nil {
		t.Fatal("expected destroy error")
	}
	if len(report.Steps) != 8 {
		t.Fatalf("destroy stopped early: %v", labels(report))
	}
	got := outcomes(report)
	if got["role"] != engine.OutcomeFailed {
		t.Errorf("role: expected failed, got %s", got["role"])
	}
	if got["table"] != engine.OutcomeDeleted || got["bucket"] != engine.OutcomeDeleted {
		t.Errorf("later steps were skipped: %v", got)
	}

	// The role is still there; a second destroy finishes the job.
	report, err = r.Destroy(ctx)
	if err != nil {
		t.Fatalf("second Destroy() error: %v", err)
	}
	if got := outcomes(report)["role"]; got != engine.OutcomeDeleted {
		t.Errorf("role: expected deleted, got %s", got)
	}
}

func TestStatusReportsExistence(t *testing.T) {
	ctx := context.Background()
	p := memory.New("eu-west-2", memory.Options{})
	r := newReconciler(t, p, testConfig(), &staticBuilder{code: []byte("c"), layer: []byte("l")})

	check := func(want bool) {
		t.Helper()
		entries, err := r.Status(ctx)
		if err != nil {
			t.Fatalf("Status() error: %v", err)
		}
		for _, e := range entries {
			if e.Exists == nil || *e.Exists != want {
				t.Errorf("%s: expected exists=%v, got %v", e.Label, want, e.Exists)
			}
		}
	}

	check(false)
	if _, err := r.Deploy(ctx); err != nil {
		t.Fatalf("Deploy() error: %v", err)
	}
	check(true)
}

func TestRunIsJournaledAndPublished(t *testing.T) {
	p := memory.New("eu-west-2", memory.Options{})
	j := &recordingJournal{err: errors.New("disk full")}
	tel := telemetry.Discard()

	var events []telemetry.Event
	tel.Events.Subscribe(func(e telemetry.Event) { events = append(events, e) },
		telemetry.FilterByType(telemetry.EventTypeStepCompleted, telemetry.EventTypeRunCompleted))

	r := newReconciler(t, p, testConfig(), &staticBuilder{code: []byte("c"), layer: []byte("l")},
		func(o *engine.Options) {
			o.Journal = j
			o.Telemetry = tel
		})

	report, err := r.Deploy(context.Background())
	if err != nil {
		t.Fatalf("journal failures must not fail the run: %v", err)
	}
	if len(j.runs) != 1 || j.runs[0].ID != report.RunID || j.runs[0].Operation != engine.OperationDeploy {
		t.Errorf("unexpected run records %+v", j.runs)
	}
	if len(j.steps) != 8 {
		t.Errorf("expected 8 journaled steps, got %d", len(j.steps))
	}
	if !slices.Equal(j.statuses, []string{engine.RunStatusSucceeded}) {
		t.Errorf("unexpected statuses %v", j.statuses)
	}
	if len(events) != 9 {
		t.Errorf("expected 8 step events and 1 run event, got %d", len(events))
	}
	for _, e := range events {
		if e.RunID != report.RunID {
			t.Errorf("event %s carries run %s, want %s", e.Type, e.RunID, report.RunID)
		}
	}
}

func TestNewReconcilerRejectsMissingClient(t *testing.T) {
	_, err := engine.NewReconciler(testConfig(), engine.Options{})
	if !engine.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}
