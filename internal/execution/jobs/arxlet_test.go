package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rakunlabs/anonymizer/internal/execution"
	"github.com/rakunlabs/anonymizer/internal/model"
)

func regexHierarchy(name string) map[string]any {
	return map[string]any{
		"attribute-name": name,
		"attribute-type": "regex",
		"attribute-generalization": []any{
			map[string]any{"regex": []any{`\.\d+$`}},
		},
	}
}

func TestArxletFromPetsAnonymizesAttributes(t *testing.T) {
	var received model.ARXletAttributeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/attributes" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode([]string{"10.0.0*", "10.0.1*"})
	}))
	defer server.Close()

	env := execution.NewEnv(&execution.Services{})
	env.Data = &model.Request{
		Type: model.NewTypeSet(),
		Data: []model.Component{
			model.NewAttribute("ip-1", "10.0.0.1", "ip-src", model.TypeAnonymizableARXlet),
			model.NewAttribute("ip-2", "10.0.1.9", "ip-src", model.TypeAnonymizableARXlet),
			model.NewAttribute("ip-3", "192.168.0.1", "ip-src"), // not arxlet-anonymizable
		},
	}

	job := execution.FromString("arxlet.FromPets", "pets", env, map[string]any{
		"pets":                  []any{map[string]any{"scheme": "k-anonymity", "metadata": map[string]any{"k": 2}}},
		"attributes":            []any{"ip-src"},
		"objects":               []any{},
		"attribute_hierarchies": []any{regexHierarchy("ip-src")},
		"object_hierarchies":    []any{},
		"arxlet_url":            server.URL,
	})
	result, err := job.RunWrapped(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunWrapped: %v", err)
	}
	if !result.Success {
		t.Fatal("job should succeed")
	}

	// Only the backend-tagged attributes went out, with their ladders.
	if len(received.Data) != 2 {
		t.Fatalf("sent %d attributes, want 2", len(received.Data))
	}
	if len(received.Data[0].Hierarchies) != 2 || received.Data[0].Hierarchies[1] != "10.0.0*" {
		t.Errorf("ladder: %v", received.Data[0].Hierarchies)
	}
	if len(received.Pets) != 1 || received.Pets[0].Scheme != model.SchemeKAnonymity {
		t.Errorf("pets: %+v", received.Pets)
	}

	// Values were overwritten in place, untagged attributes untouched.
	if got := env.Data.Data[0].(*model.Attribute).Value; got != "10.0.0*" {
		t.Errorf("value = %q", got)
	}
	if got := env.Data.Data[2].(*model.Attribute).Value; got != "192.168.0.1" {
		t.Errorf("untagged attribute changed: %q", got)
	}
}

func TestArxletFromPetsAnonymizesObjects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/objects" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode([][]model.ARXletAttribute{
			{{Type: "ip-src", Value: "10.0.0*"}},
		})
	}))
	defer server.Close()

	env := execution.NewEnv(&execution.Services{})
	env.Data = &model.Request{
		Type: model.NewTypeSet(),
		Data: []model.Component{
			model.NewObject("flow-1", []model.Component{
				model.NewAttribute("ip-1", "10.0.0.1", "ip-src", model.TypeAnonymizableARXlet),
				model.NewAttribute("host-1", "example.org", "host", model.TypeAnonymizableARXlet),
			}, "flow", model.TypeAnonymizableARXlet),
		},
	}

	objectHierarchy := map[string]any{
		"misp-object-template":  "flow",
		"attribute-hierarchies": []any{regexHierarchy("ip-src")},
	}
	job := execution.FromString("arxlet.FromPets", "pets", env, map[string]any{
		"pets":                  []any{map[string]any{"scheme": "k-anonymity", "metadata": map[string]any{"k": 2}}},
		"attributes":            []any{},
		"objects":               []any{map[string]any{"type": "flow", "values": []any{"ip-src"}}},
		"attribute_hierarchies": []any{},
		"object_hierarchies":    []any{objectHierarchy},
		"arxlet_url":            server.URL,
	})
	result, err := job.RunWrapped(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunWrapped: %v", err)
	}
	if !result.Success {
		t.Fatal("job should succeed")
	}

	obj := env.Data.Data[0].(*model.Object)
	if got := obj.Value[0].(*model.Attribute).Value; got != "10.0.0*" {
		t.Errorf("sensitive attribute not updated: %q", got)
	}
	if got := obj.Value[1].(*model.Attribute).Value; got != "example.org" {
		t.Errorf("non-sensitive attribute changed: %q", got)
	}
}

func TestArxletFromPetsMissingHierarchyFails(t *testing.T) {
	env := execution.NewEnv(&execution.Services{})
	env.Data = &model.Request{
		Type: model.NewTypeSet(),
		Data: []model.Component{
			model.NewAttribute("ip-1", "10.0.0.1", "ip-src", model.TypeAnonymizableARXlet),
		},
	}
	job := execution.FromString("arxlet.FromPets", "pets", env, map[string]any{
		"pets":                  []any{map[string]any{"scheme": "k-anonymity", "metadata": map[string]any{"k": 2}}},
		"attributes":            []any{"ip-src"},
		"objects":               []any{},
		"attribute_hierarchies": []any{},
		"object_hierarchies":    []any{},
		"arxlet_url":            "http://unused",
	})
	result, err := job.RunWrapped(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunWrapped: %v", err)
	}
	if result.Success {
		t.Fatal("missing hierarchy should fail the job")
	}
}

func arxletPolicyEnv(t *testing.T) *execution.Env {
	t.Helper()
	env := execution.NewEnv(&execution.Services{Context: fakeContext{}})
	env.Set("privacy", &model.PrivacyPolicy{
		Attributes: []model.AttributePolicy{
			{Name: "ip-src", Pets: []model.Pet{{Scheme: "k-anonymity", Metadata: model.PetMetadata{K: 3}}}},
		},
		Templates: []model.Template{
			{
				Name: "flow",
				Attributes: []model.AttributePolicy{
					{Name: "src", Pets: []model.Pet{{Scheme: "k-anonymity", Metadata: model.PetMetadata{K: 2}}}},
					{Name: "dst", Pets: []model.Pet{{Scheme: "k-anonymity", Metadata: model.PetMetadata{K: 2}}}},
				},
				KAnonymity: true,
			},
			{
				Name: "person",
				Attributes: []model.AttributePolicy{
					{Name: "name", Pets: []model.Pet{{Scheme: "l-diversity/distinct", Metadata: model.PetMetadata{L: 2}}}},
				},
				KMap: true,
				K:    4,
			},
		},
	})
	env.Set("hierarchy", &model.HierarchyPolicy{
		HierarchyAttributes: []model.HierarchyAttribute{
			{AttributeName: "ip-src", AttributeType: "regex"},
		},
		HierarchyObjects: []model.HierarchyObject{
			{MispObjectTemplate: "flow"},
			{MispObjectTemplate: "person"},
		},
	})
	return env
}

type fakeContext struct{}

func (fakeContext) Lookup(context.Context, []string, bool, []string, bool) ([]*model.Request, error) {
	return nil, nil
}
func (fakeContext) Record(context.Context, *model.Request) error { return nil }

func TestArxletFromPrivacyPolicyGeneration(t *testing.T) {
	env := arxletPolicyEnv(t)
	job := execution.FromString("arxlet.FromPrivacyPolicy", "arxlet", env, map[string]any{
		"privacy_policy_location":   "privacy",
		"hierarchy_policy_location": "hierarchy",
		"arxlet_url":                "http://arxlet",
	})

	generator, ok := execution.GeneratorImpl(job)
	if !ok {
		t.Fatal("arxlet.FromPrivacyPolicy must be a generator")
	}
	children, err := generator.Generate(context.Background(), job, job.Args)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// One FromPets batch plus one KMap per k-map template.
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
	if children[0].Name != "arxlet.apply_pets" {
		t.Errorf("first child = %q", children[0].Name)
	}
	if children[1].Name != "arxlet.apply_k_map_person" {
		t.Errorf("second child = %q", children[1].Name)
	}

	// The PET batch holds the attribute-level k-anonymity plus the flow
	// template's, emitted once despite two attributes requesting it. The
	// k-map template's l-diversity PET is intentionally absent.
	pets, _ := children[0].Args["pets"].([]any)
	if len(pets) != 2 {
		t.Fatalf("pet batch: %+v", pets)
	}
	for _, raw := range pets {
		pet := raw.(model.ARXletPet)
		if pet.Scheme != model.SchemeKAnonymity {
			t.Errorf("unexpected scheme in batch: %s", pet.Scheme)
		}
	}

	if got := execution.ArgInt(children[1].Args, "k"); got != 4 {
		t.Errorf("k-map child k = %d, want 4", got)
	}
	target, err := execution.ParseArg[map[string]any](children[1].Args["object"])
	if err != nil || target["type"] != "person" {
		t.Errorf("k-map child target: %v, %v", target, err)
	}
}

func TestArxletKMapUsesContextPopulation(t *testing.T) {
	var received model.ARXletObjectRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/objects") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&received)
		json.NewEncoder(w).Encode([][]model.ARXletAttribute{
			{{Type: "name", Value: "*"}},
		})
	}))
	defer server.Close()

	stored := &model.Request{
		Type: model.NewTypeSet(),
		Data: []model.Component{
			model.NewObject("person-0", []model.Component{
				model.NewAttribute("name-0", "alice", "name", model.TypeAnonymizableARXlet),
			}, "person", model.TypeAnonymizableARXlet),
		},
	}

	env := execution.NewEnv(&execution.Services{Context: staticContext{requests: []*model.Request{stored}}})
	env.Data = &model.Request{
		Type: model.NewTypeSet(),
		Data: []model.Component{
			model.NewObject("person-1", []model.Component{
				model.NewAttribute("name-1", "bob", "name", model.TypeAnonymizableARXlet),
			}, "person", model.TypeAnonymizableARXlet),
		},
	}

	hierarchy := map[string]any{
		"misp-object-template": "person",
		"attribute-hierarchies": []any{
			map[string]any{
				"attribute-name": "name",
				"attribute-type": "static",
				"attribute-generalization": []any{
					map[string]any{"generalization": []any{"alice", "*"}},
					map[string]any{"generalization": []any{"bob", "*"}},
				},
			},
		},
	}

	job := execution.FromString("arxlet.KMap", "kmap", env, map[string]any{
		"k":                4,
		"object":           map[string]any{"type": "person", "values": []any{"name"}},
		"object_hierarchy": hierarchy,
		"arxlet_url":       server.URL,
	})
	result, err := job.RunWrapped(context.Background(), nil)
	if err != nil {
		t.Fatalf("RunWrapped: %v", err)
	}
	if !result.Success {
		t.Fatal("job should succeed")
	}

	// The PET carries the context population from the store.
	if len(received.Pets) != 1 || received.Pets[0].Scheme != model.SchemeKMap {
		t.Fatalf("pets: %+v", received.Pets)
	}
	if len(received.Pets[0].Metadata.Context) != 1 {
		t.Errorf("population: %+v", received.Pets[0].Metadata.Context)
	}

	obj := env.Data.Data[0].(*model.Object)
	if got := obj.Value[0].(*model.Attribute).Value; got != "*" {
		t.Errorf("value = %q, want *", got)
	}
}

type staticContext struct {
	requests []*model.Request
}

func (s staticContext) Lookup(context.Context, []string, bool, []string, bool) ([]*model.Request, error) {
	return s.requests, nil
}
func (staticContext) Record(context.Context, *model.Request) error { return nil }
