package orchestrator

import (
	"context"
	"os/exec"
	"testing"

	"github.com/arcadiaforge/arcadiaforge/internal/assistant"
	"github.com/arcadiaforge/arcadiaforge/internal/checkpoint"
	"github.com/arcadiaforge/arcadiaforge/internal/feature"
	"github.com/arcadiaforge/arcadiaforge/internal/stall"
	"github.com/arcadiaforge/arcadiaforge/internal/store"
)

func openTest(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// initGitRepo makes workDir a minimal git repo with one commit, so
// vcs.CurrentCommit resolves and pickSessionType doesn't treat it as an
// empty project on git grounds alone.
func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	run("commit", "--allow-empty", "-m", "initial")
	return dir
}

type stubTools struct{}

func (stubTools) Execute(ctx context.Context, name string, input map[string]any) (string, bool, error) {
	return "ok", false, nil
}

type stubPrompter struct{}

func (stubPrompter) Prompt(ctx context.Context, sessionType SessionType, auditFeatures []int) (string, string, error) {
	return "system prompt for " + string(sessionType), "go", nil
}

func newOrchestrator(t *testing.T, db *store.Store, client assistant.Client, projectDir string) *Orchestrator {
	t.Helper()
	fs := feature.New(db)
	cps := checkpoint.New(db, fs, projectDir)
	sm := stall.New(db)
	return &Orchestrator{
		DB: db, Features: fs, Checkpoints: cps, StallMgr: sm,
		Client: client, Tools: stubTools{}, Prompts: stubPrompter{},
		ProjectDir: projectDir,
		Config:     Config{MaxIterations: 5},
	}
}

func TestPickSessionTypeInitializerOnEmptyProject(t *testing.T) {
	db := openTest(t)
	o := newOrchestrator(t, db, nil, t.TempDir())

	stats, err := o.Features.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	typ, _, err := o.pickSessionType(context.Background(), stats, false)
	if err != nil {
		t.Fatalf("pickSessionType: %v", err)
	}
	if typ != TypeInitializer {
		t.Fatalf("expected initializer, got %s", typ)
	}
}

func TestPickSessionTypeRejectsNewRequirementsOnEmptyProject(t *testing.T) {
	db := openTest(t)
	o := newOrchestrator(t, db, nil, t.TempDir())
	o.Config.NewRequirementsText = "build a thing"

	stats, _ := o.Features.Stats(context.Background())
	_, _, err := o.pickSessionType(context.Background(), stats, false)
	if err == nil {
		t.Fatalf("expected the first-run guard to reject new requirements on an empty project")
	}
}

func TestPickSessionTypeCodingWhenFeaturesExist(t *testing.T) {
	db := openTest(t)
	dir := initGitRepo(t)
	o := newOrchestrator(t, db, nil, dir)
	if _, err := o.Features.Add(context.Background(), "seed", []string{"step"}, feature.CategoryFunctional); err != nil {
		t.Fatalf("add: %v", err)
	}

	stats, _ := o.Features.Stats(context.Background())
	typ, _, err := o.pickSessionType(context.Background(), stats, true)
	if err != nil {
		t.Fatalf("pickSessionType: %v", err)
	}
	if typ != TypeCoding {
		t.Fatalf("expected coding, got %s", typ)
	}
}

func TestPickSessionTypeAuditOnCadence(t *testing.T) {
	db := openTest(t)
	dir := initGitRepo(t)
	o := newOrchestrator(t, db, nil, dir)
	ctx := context.Background()
	for i := 0; i < AuditCadenceFeatures; i++ {
		f, err := o.Features.Add(ctx, "seed", []string{"step"}, feature.CategoryFunctional)
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		if _, err := o.Features.Mark(ctx, f.Index, true); err != nil {
			t.Fatalf("mark: %v", err)
		}
	}

	stats, _ := o.Features.Stats(ctx)
	typ, _, err := o.pickSessionType(ctx, stats, true)
	if err != nil {
		t.Fatalf("pickSessionType: %v", err)
	}
	if typ != TypeAudit {
		t.Fatalf("expected audit once cadence threshold is crossed, got %s", typ)
	}
}

func TestRunReachesCompleteOnFirstSession(t *testing.T) {
	db := openTest(t)
	dir := initGitRepo(t)

	client := &assistant.FakeClient{Turns: []assistant.FakeTurn{
		{Events: []assistant.StreamEvent{{Kind: assistant.EventText, Text: "SESSION COMPLETE"}}, FinishReason: "end_turn"},
	}}
	o := newOrchestrator(t, db, client, dir)
	if _, err := o.Features.Add(context.Background(), "seed", []string{"step"}, feature.CategoryFunctional); err != nil {
		t.Fatalf("add: %v", err)
	}
	f, err := o.Features.List(context.Background(), nil)
	if err != nil || len(f) == 0 {
		t.Fatalf("list: %v", err)
	}
	if _, err := o.Features.Mark(context.Background(), f[0].Index, true); err != nil {
		t.Fatalf("mark: %v", err)
	}

	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != FinalComplete {
		t.Fatalf("expected complete, got %s (%s)", result.Status, result.Reason)
	}
}

func TestRunStopsAfterThreeConsecutiveSessionErrors(t *testing.T) {
	db := openTest(t)
	dir := initGitRepo(t)

	// One scripted failure; every retry within a session and every
	// subsequent session exhausts the script and keeps erroring, which
	// is exactly the "nothing but trouble" case under test.
	client := &assistant.FakeClient{Turns: []assistant.FakeTurn{{Err: errTransient}}}
	o := newOrchestrator(t, db, client, dir)
	if _, err := o.Features.Add(context.Background(), "seed", []string{"step"}, feature.CategoryFunctional); err != nil {
		t.Fatalf("add: %v", err)
	}

	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != FinalFailed {
		t.Fatalf("expected failed after three consecutive session errors, got %s", result.Status)
	}
}

func TestRequestPauseStopsTheLoop(t *testing.T) {
	db := openTest(t)
	dir := initGitRepo(t)

	client := &assistant.FakeClient{Turns: []assistant.FakeTurn{
		{Events: []assistant.StreamEvent{{Kind: assistant.EventText, Text: "still working"}}, FinishReason: "end_turn"},
	}}
	o := newOrchestrator(t, db, client, dir)
	if _, err := o.Features.Add(context.Background(), "seed", []string{"step"}, feature.CategoryFunctional); err != nil {
		t.Fatalf("add: %v", err)
	}
	o.RequestPause()

	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != FinalPaused {
		t.Fatalf("expected paused, got %s", result.Status)
	}
}

var errTransient = fakeTransientErr("transient failure")

type fakeTransientErr string

func (e fakeTransientErr) Error() string { return string(e) }
