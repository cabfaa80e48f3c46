package execution

import (
	"testing"
)

const descriptionJSON = `{
  "policies": {"optional": ["stage-a"], "discard_response_on_failure": true},
  "stages": ["stage-a", {"name": "stage-b", "policies": {"optional": ["job-x"]}}],
  "jobs": {
    "job-z": {"type": "TypeZ", "stage": "stage-b", "args": {"n": 1}, "policies": {}},
    "job-a": {"type": "TypeA", "stage": "stage-a", "args": {}, "policies": {}},
    "job-m": {"type": "TypeM", "stage": "stage-b", "args": {}, "policies": {}}
  }
}`

func TestParseDescriptionPreservesJobOrder(t *testing.T) {
	desc, err := ParseDescription([]byte(descriptionJSON))
	if err != nil {
		t.Fatalf("ParseDescription: %v", err)
	}

	if len(desc.Stages) != 2 || desc.Stages[0].Name != "stage-a" || desc.Stages[1].Name != "stage-b" {
		t.Fatalf("stages: %+v", desc.Stages)
	}
	if opt, ok := desc.Stages[1].Policies["optional"]; !ok {
		t.Errorf("stage-b policies lost: %v", opt)
	}

	// Declaration order is execution order: job-z before job-m even though
	// lexicographically later.
	wantOrder := []string{"job-z", "job-a", "job-m"}
	if len(desc.Jobs) != len(wantOrder) {
		t.Fatalf("jobs: %+v", desc.Jobs)
	}
	for i, want := range wantOrder {
		if desc.Jobs[i].Name != want {
			t.Fatalf("job order %d = %q, want %q", i, desc.Jobs[i].Name, want)
		}
	}
}

func TestParseDescriptionYAML(t *testing.T) {
	raw := []byte(`
policies:
  optional: [a]
stages:
  - a
jobs:
  j:
    type: DummyJob
    stage: a
    args:
      message: hi
`)
	desc, err := ParseDescription(raw)
	if err != nil {
		t.Fatalf("ParseDescription: %v", err)
	}
	if len(desc.Jobs) != 1 || desc.Jobs[0].Type != "DummyJob" {
		t.Fatalf("jobs: %+v", desc.Jobs)
	}
	if desc.Jobs[0].Args["message"] != "hi" {
		t.Errorf("args: %v", desc.Jobs[0].Args)
	}
}

func TestBuildRejectsMissingStage(t *testing.T) {
	desc := &Description{
		Policies: map[string]any{},
		Stages:   []StageDescription{{Name: "declared", Policies: map[string]any{}}},
		Jobs: []JobDescription{
			{Name: "j", Type: "DummyJob", Stage: "undeclared", Policies: map[string]any{}},
		},
	}
	if _, err := Build(desc, NewEnv(nil)); err == nil {
		t.Fatal("expected a construction error for an undeclared stage")
	}
}

func TestBuildAssignsJobsToStages(t *testing.T) {
	desc, err := ParseDescription([]byte(descriptionJSON))
	if err != nil {
		t.Fatalf("ParseDescription: %v", err)
	}
	pipeline, err := Build(desc, NewEnv(nil))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(pipeline.Stages) != 2 {
		t.Fatalf("stages: %d", len(pipeline.Stages))
	}
	if len(pipeline.Stages[0].Jobs) != 1 || len(pipeline.Stages[1].Jobs) != 2 {
		t.Errorf("job distribution wrong: %d / %d",
			len(pipeline.Stages[0].Jobs), len(pipeline.Stages[1].Jobs))
	}
	// Unknown job types resolve to no-op jobs, not errors.
	if pipeline.Stages[0].Jobs[0] == nil {
		t.Error("unknown type should still produce a job")
	}
}
