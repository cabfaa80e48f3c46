package jobs

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"

	"github.com/rakunlabs/anonymizer/internal/execution"
	"github.com/rakunlabs/anonymizer/internal/model"
)

func levelHierarchy() map[string]any {
	return map[string]any{
		"attribute-name": "port",
		"attribute-type": "interval",
		"attribute-generalization": []any{
			map[string]any{"interval": []any{"<=1024", ">1024"}},
			map[string]any{"interval": []any{"*"}},
		},
	}
}

func levelEnv(value string) *execution.Env {
	env := execution.NewEnv(&execution.Services{})
	env.Data = &model.Request{
		Type: model.NewTypeSet(),
		Data: []model.Component{
			model.NewAttribute("port-1", value, "port", model.TypeAnonymizableLocal),
		},
	}
	return env
}

func TestApplyAnonymizationLevel(t *testing.T) {
	env := levelEnv("443")
	job := execution.FromString("local.ApplyAnonymizationLevel", "level", env, map[string]any{
		"level":                 1,
		"attributes":            []any{"port"},
		"objects":               []any{},
		"attribute_hierarchies": []any{levelHierarchy()},
	})

	result, err := job.RunWrapped(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunWrapped: %v", err)
	}
	if !result.Success {
		t.Fatal("job should succeed")
	}
	att := env.Data.Data[0].(*model.Attribute)
	if att.Value != "<=1024" {
		t.Errorf("value = %q, want <=1024", att.Value)
	}
}

// The ladder for "443" is ["443", "<=1024", "*"]: level 2 is the coarsest
// valid level, level 3 exceeds the ladder depth.
func TestApplyAnonymizationLevelBounds(t *testing.T) {
	run := func(level int) (execution.JobResult, *execution.Env) {
		env := levelEnv("443")
		job := execution.FromString("local.ApplyAnonymizationLevel", "level", env, map[string]any{
			"level":                 level,
			"attributes":            []any{"port"},
			"objects":               []any{},
			"attribute_hierarchies": []any{levelHierarchy()},
		})
		result, err := job.RunWrapped(context.Background(), nil)
		if err != nil {
			t.Fatalf("RunWrapped: %v", err)
		}
		return result, env
	}

	result, env := run(2)
	if !result.Success {
		t.Fatal("level == depth-1 should succeed")
	}
	if got := env.Data.Data[0].(*model.Attribute).Value; got != "*" {
		t.Errorf("coarsest value = %q, want *", got)
	}

	result, _ = run(3)
	if result.Success {
		t.Fatal("level == ladder depth should fail")
	}
}

func TestApplyAnonymizationLevelInsideObjects(t *testing.T) {
	env := execution.NewEnv(&execution.Services{})
	env.Data = &model.Request{
		Type: model.NewTypeSet(),
		Data: []model.Component{
			model.NewObject("flow-1", []model.Component{
				model.NewAttribute("port-1", "80", "port", model.TypeAnonymizableLocal),
			}, "flow", model.TypeAnonymizableLocal),
		},
	}
	job := execution.FromString("local.ApplyAnonymizationLevel", "level", env, map[string]any{
		"level":                 1,
		"attributes":            []any{"port"},
		"objects":               []any{"flow"},
		"attribute_hierarchies": []any{levelHierarchy()},
	})
	result, err := job.RunWrapped(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunWrapped: %v", err)
	}
	if !result.Success {
		t.Fatal("job should succeed")
	}
	obj := env.Data.Data[0].(*model.Object)
	if got := obj.Value[0].(*model.Attribute).Value; got != "<=1024" {
		t.Errorf("value = %q, want <=1024", got)
	}
}

func writeTestKey(t *testing.T, dir, name string) {
	t.Helper()
	entity, err := openpgp.NewEntity("test", "", "test@example.org", nil)
	if err != nil {
		t.Fatalf("NewEntity: %v", err)
	}
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatalf("armor: %v", err)
	}
	if err := entity.Serialize(w); err != nil {
		t.Fatalf("serialize key: %v", err)
	}
	w.Close()
	if err := os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
}

func TestApplyPGPEncryption(t *testing.T) {
	dir := t.TempDir()
	writeTestKey(t, dir, "key.gpg")

	env := execution.NewEnv(&execution.Services{PGPKeyDir: dir})
	env.Data = &model.Request{
		Type: model.NewTypeSet(),
		Data: []model.Component{
			model.NewAttribute("host-1", "secret.example.org", "host", model.TypeAnonymizableLocal),
		},
	}

	job := execution.FromString("local.ApplyPGPEncryption", "pgp", env, map[string]any{
		"key":        "key.gpg",
		"attributes": []any{"host"},
		"objects":    []any{},
	})
	result, err := job.RunWrapped(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunWrapped: %v", err)
	}
	if !result.Success {
		t.Fatal("job should succeed")
	}

	att := env.Data.Data[0].(*model.Attribute)
	if !strings.HasPrefix(att.Value, "-----BEGIN PGP MESSAGE-----") {
		t.Errorf("value is not armored ciphertext: %q", att.Value)
	}
	if strings.Contains(att.Value, "secret.example.org") {
		t.Error("plaintext leaked into the encrypted value")
	}
}

func TestApplyPGPEncryptionMissingKey(t *testing.T) {
	env := execution.NewEnv(&execution.Services{PGPKeyDir: t.TempDir()})
	env.Data = &model.Request{Type: model.NewTypeSet()}

	job := execution.FromString("local.ApplyPGPEncryption", "pgp", env, map[string]any{
		"key":        "missing.gpg",
		"attributes": []any{"host"},
		"objects":    []any{},
	})
	result, err := job.RunWrapped(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunWrapped: %v", err)
	}
	if result.Success {
		t.Fatal("missing key should fail the job")
	}
}

func TestLocalFromPetsGeneratesChildren(t *testing.T) {
	env := execution.NewEnv(&execution.Services{})
	job := execution.FromString("local.FromPets", "pets", env, map[string]any{
		"pets": []any{
			map[string]any{"scheme": "suppression", "metadata": map[string]any{"level": 1}},
			map[string]any{"scheme": "pgp", "metadata": map[string]any{}},
			map[string]any{"scheme": "k-anonymity", "metadata": map[string]any{"k": 2}},
		},
		"attributes":            []any{"port"},
		"objects":               []any{},
		"attribute_hierarchies": []any{levelHierarchy()},
		"object_hierarchies":    []any{},
	})

	generator, ok := jobImplOf(job)
	if !ok {
		t.Fatal("local.FromPets must be a generator")
	}
	children, err := generator.Generate(context.Background(), job, job.Args)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// k-anonymity is not a local scheme and is skipped.
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
	if children[0].Name != "pets.apply-suppression" || children[1].Name != "pets.apply-pgp" {
		t.Errorf("children: %q, %q", children[0].Name, children[1].Name)
	}
	if children[1].Args["key"] != defaultPGPKeyFile {
		t.Errorf("pgp child should default to %s", defaultPGPKeyFile)
	}
}

func TestLocalFromPrivacyPolicy(t *testing.T) {
	env := execution.NewEnv(&execution.Services{})
	env.Set("privacy", &model.PrivacyPolicy{
		Attributes: []model.AttributePolicy{
			{Name: "port", Pets: []model.Pet{{Scheme: "suppression", Metadata: model.PetMetadata{Level: 1}}}},
			{Name: "ip-src", Pets: []model.Pet{{Scheme: "k-anonymity", Metadata: model.PetMetadata{K: 3}}}},
		},
	})
	env.Set("hierarchy", &model.HierarchyPolicy{
		HierarchyAttributes: []model.HierarchyAttribute{{AttributeName: "port", AttributeType: "interval"}},
	})

	job := execution.FromString("local.FromPrivacyPolicy", "local", env, map[string]any{
		"privacy_policy_location":   "privacy",
		"hierarchy_policy_location": "hierarchy",
	})
	generator, ok := jobImplOf(job)
	if !ok {
		t.Fatal("local.FromPrivacyPolicy must be a generator")
	}
	children, err := generator.Generate(context.Background(), job, job.Args)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(children) != 1 || children[0].Name != "local.from-pets" {
		t.Fatalf("children: %+v", children)
	}
	attributes, _ := children[0].Args["attributes"].([]string)
	if len(attributes) != 1 || attributes[0] != "port" {
		t.Errorf("only locally-anonymizable attributes should be listed: %v", attributes)
	}
}

// jobImplOf exposes a job's generator body for direct tests.
func jobImplOf(j *execution.Job) (execution.Generator, bool) {
	return execution.GeneratorImpl(j)
}
