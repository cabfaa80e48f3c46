package execution

import (
	"context"
	"testing"
)

// testRunner is a minimal job body for stage tests.
type testRunner struct {
	fail   bool
	result any
	ran    *[]string
	name   string
}

func (r testRunner) Run(_ context.Context, j *Job, _ map[string]any) (any, error) {
	if r.ran != nil {
		*r.ran = append(*r.ran, j.Name)
	}
	if r.fail {
		return nil, Jobf("job %s failed", j.Name)
	}
	return r.result, nil
}

// testGenerator emits one child per configured name.
type testGenerator struct {
	children []string
	fail     bool
	ran      *[]string
}

func (g testGenerator) Generate(_ context.Context, j *Job, _ map[string]any) ([]*Job, error) {
	if g.fail {
		return nil, Jobf("generator %s failed", j.Name)
	}
	var out []*Job
	for _, name := range g.children {
		out = append(out, NewChildJob(name, j, nil, testRunner{ran: g.ran}))
	}
	return out, nil
}

func TestStageGeneratorExpansion(t *testing.T) {
	env := NewEnv(nil)
	var ran []string

	generator := NewJob("g", env, nil, testGenerator{children: []string{"c1", "c2"}, ran: &ran})
	after := NewJob("after", env, nil, testRunner{ran: &ran})
	stage := NewStage("s", env, generator, after)
	stage.InitPolicies(nil)

	result, err := stage.RunWrapped(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunWrapped: %v", err)
	}
	if !result.Success {
		t.Fatal("stage should succeed")
	}

	// Children run right after the generator, before the next declared job.
	want := []string{"g.c1", "g.c2", "after"}
	if len(ran) != len(want) {
		t.Fatalf("ran %v, want %v", ran, want)
	}
	for i := range want {
		if ran[i] != want[i] {
			t.Fatalf("ran %v, want %v", ran, want)
		}
	}

	// The report holds the generator, both children and the declared job.
	for _, name := range []string{"g", "g.c1", "g.c2", "after"} {
		if _, ok := result.Result[name]; !ok {
			t.Errorf("report missing job %q", name)
		}
	}

	// The generator's recorded result is the stringified child name list.
	if got := result.Result["g"].Result; got != "[c1 c2]" {
		t.Errorf("generator result = %q, want %q", got, "[c1 c2]")
	}

	// Ephemeral children are removed from the job list after running.
	if len(stage.Jobs) != 2 {
		t.Errorf("expected 2 declared jobs after the run, got %d", len(stage.Jobs))
	}
}

func TestStageFailedGeneratorReportsEmptyList(t *testing.T) {
	env := NewEnv(nil)
	generator := NewJob("g", env, nil, testGenerator{fail: true})
	stage := NewStage("s", env, generator)
	stage.InitPolicies(nil)

	result, err := stage.RunWrapped(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunWrapped: %v", err)
	}
	if result.Success {
		t.Fatal("stage should fail")
	}
	if got := result.Result["g"].Result; got != "[]" {
		t.Errorf("failed generator result = %q, want %q", got, "[]")
	}
}

func TestStageFailureCounting(t *testing.T) {
	env := NewEnv(nil)
	ok := NewJob("ok", env, nil, testRunner{})
	bad := NewJob("bad", env, nil, testRunner{fail: true})
	stage := NewStage("s", env, ok, bad)
	stage.InitPolicies(nil)

	result, err := stage.RunWrapped(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunWrapped: %v", err)
	}
	if result.Success {
		t.Error("stage with a failed non-optional job should fail")
	}
	if result.Failures != 1 {
		t.Errorf("failures = %d, want 1", result.Failures)
	}
	if result.Result["ok"].Success != true || result.Result["bad"].Success != false {
		t.Errorf("unexpected job results: %+v", result.Result)
	}
}

func TestStageOptionalJobsNeverFatal(t *testing.T) {
	env := NewEnv(nil)
	bad1 := NewJob("bad1", env, nil, testRunner{fail: true})
	bad2 := NewJob("bad2", env, nil, testRunner{fail: true})
	stage := NewStage("s", env, bad1, bad2)
	stage.InitPolicies(map[string]any{"optional": []any{"bad1", "bad2"}})

	result, err := stage.RunWrapped(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunWrapped: %v", err)
	}
	if !result.Success {
		t.Error("stage with only optional failures should succeed")
	}
	if result.Failures != 2 {
		t.Errorf("failures = %d, want 2", result.Failures)
	}
}

func TestStageOptionalityFollowsParentChain(t *testing.T) {
	env := NewEnv(nil)
	generator := NewJob("g", env, nil, testGenerator{children: []string{"child"}})
	stage := NewStage("s", env, generator)
	stage.InitPolicies(map[string]any{"optional": []any{"g"}})

	// Make the generated child fail by rebuilding the generator with a
	// failing child body.
	stage.Jobs[0] = NewJob("g", env, nil, failingChildGenerator{})
	stage.Jobs[0].InitPolicies(nil)

	result, err := stage.RunWrapped(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunWrapped: %v", err)
	}
	if !result.Success {
		t.Error("failure of a child of an optional generator should not be fatal")
	}
	if result.Failures != 1 {
		t.Errorf("failures = %d, want 1", result.Failures)
	}
}

type failingChildGenerator struct{}

func (failingChildGenerator) Generate(_ context.Context, j *Job, _ map[string]any) ([]*Job, error) {
	return []*Job{NewChildJob("child", j, nil, testRunner{fail: true})}, nil
}

func TestStageReset(t *testing.T) {
	env := NewEnv(nil)
	job := NewJob("j", env, nil, testRunner{})
	stage := NewStage("s", env, job)
	stage.InitPolicies(nil)

	if _, err := stage.RunWrapped(context.Background(), nil); err != nil {
		t.Fatalf("RunWrapped: %v", err)
	}

	fresh := NewEnv(nil)
	stage.Reset(fresh)
	if stage.next != 0 || len(stage.result.Result) != 0 {
		t.Error("Reset should rewind the cursor and clear the report")
	}
	if job.Env != fresh {
		t.Error("Reset should cascade the environment to jobs")
	}

	result, err := stage.RunWrapped(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunWrapped after Reset: %v", err)
	}
	if !result.Success || len(result.Result) != 1 {
		t.Errorf("re-run after Reset failed: %+v", result)
	}
}
