package execution

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Description is the declarative pipeline shape: pipeline policies, an
// ordered stage list and an ordered job table. YAML is a JSON superset, so
// one parser covers both file formats; parsing goes through yaml.Node to
// keep the document order of the jobs table (job declaration order is
// execution order within a stage).
type Description struct {
	Policies map[string]any
	Stages   []StageDescription
	Jobs     []JobDescription
}

// StageDescription declares one stage and its policies.
type StageDescription struct {
	Name     string
	Policies map[string]any
}

// JobDescription declares one job: its registered type, target stage,
// static args and policies.
type JobDescription struct {
	Name     string
	Type     string
	Stage    string
	Args     map[string]any
	Policies map[string]any
}

// ParseDescription decodes a pipeline description document.
func ParseDescription(raw []byte) (*Description, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("parse pipeline description: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, fmt.Errorf("parse pipeline description: empty document")
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse pipeline description: document is not a mapping")
	}

	desc := &Description{Policies: map[string]any{}}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i].Value
		value := doc.Content[i+1]
		switch key {
		case "policies":
			if err := value.Decode(&desc.Policies); err != nil {
				return nil, fmt.Errorf("parse pipeline policies: %w", err)
			}
		case "stages":
			stages, err := parseStages(value)
			if err != nil {
				return nil, err
			}
			desc.Stages = stages
		case "jobs":
			jobs, err := parseJobs(value)
			if err != nil {
				return nil, err
			}
			desc.Jobs = jobs
		}
	}
	return desc, nil
}

func parseStages(node *yaml.Node) ([]StageDescription, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("parse stages: not a list")
	}
	var out []StageDescription
	for _, entry := range node.Content {
		switch entry.Kind {
		case yaml.ScalarNode:
			out = append(out, StageDescription{Name: entry.Value, Policies: map[string]any{}})
		case yaml.MappingNode:
			var stage struct {
				Name     string         `yaml:"name"`
				Policies map[string]any `yaml:"policies"`
			}
			if err := entry.Decode(&stage); err != nil {
				return nil, fmt.Errorf("parse stage entry: %w", err)
			}
			if stage.Name == "" {
				return nil, fmt.Errorf("parse stage entry: missing name")
			}
			if stage.Policies == nil {
				stage.Policies = map[string]any{}
			}
			out = append(out, StageDescription{Name: stage.Name, Policies: stage.Policies})
		default:
			return nil, fmt.Errorf("parse stage entry: unsupported node kind")
		}
	}
	return out, nil
}

func parseJobs(node *yaml.Node) ([]JobDescription, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse jobs: not a mapping")
	}
	var out []JobDescription
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var job struct {
			Type     string         `yaml:"type"`
			Stage    string         `yaml:"stage"`
			Args     map[string]any `yaml:"args"`
			Policies map[string]any `yaml:"policies"`
		}
		if err := node.Content[i+1].Decode(&job); err != nil {
			return nil, fmt.Errorf("parse job %q: %w", name, err)
		}
		if job.Policies == nil {
			job.Policies = map[string]any{}
		}
		out = append(out, JobDescription{
			Name:     name,
			Type:     job.Type,
			Stage:    job.Stage,
			Args:     job.Args,
			Policies: job.Policies,
		})
	}
	return out, nil
}

// Build materializes a pipeline from a description against the given
// environment. Jobs referencing an undeclared stage fail construction.
func Build(desc *Description, env *Env) (*Pipeline, error) {
	type stageBucket struct {
		policies map[string]any
		jobs     []*Job
	}

	order := make([]string, 0, len(desc.Stages))
	buckets := make(map[string]*stageBucket, len(desc.Stages))
	for _, stage := range desc.Stages {
		order = append(order, stage.Name)
		buckets[stage.Name] = &stageBucket{policies: stage.Policies}
	}

	for _, jd := range desc.Jobs {
		bucket, ok := buckets[jd.Stage]
		if !ok {
			return nil, fmt.Errorf("build pipeline: job %q references missing stage %q", jd.Name, jd.Stage)
		}
		job := FromString(jd.Type, jd.Name, env, jd.Args)
		job.InitPolicies(jd.Policies)
		bucket.jobs = append(bucket.jobs, job)
	}

	stages := make([]*Stage, 0, len(order))
	for _, name := range order {
		bucket := buckets[name]
		stage := NewStage(name, env, bucket.jobs...)
		stage.InitPolicies(bucket.policies)
		stages = append(stages, stage)
	}

	pipeline := NewPipeline(env, stages...)
	pipeline.InitPolicies(desc.Policies)
	return pipeline, nil
}
