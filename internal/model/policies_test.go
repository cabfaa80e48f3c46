package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestHierarchyValuesInterval(t *testing.T) {
	hierarchy := HierarchyAttribute{
		AttributeName: "port",
		AttributeType: "interval",
		Generalizations: []AttributeGeneralization{
			{Interval: []string{"<=10", "11-50", ">50"}},
		},
	}

	got := HierarchyValues("42", hierarchy)
	want := []string{"42", "11-50"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("interval ladder: got %v, want %v", got, want)
	}
}

func TestHierarchyValuesIntervalEdges(t *testing.T) {
	hierarchy := HierarchyAttribute{
		AttributeType: "interval",
		Generalizations: []AttributeGeneralization{
			{Interval: []string{"<=10", "11-50", ">50"}},
		},
	}

	// bisect-left on the right endpoints ["10", "50"].
	cases := map[string]string{
		"05": "<=10",
		"10": "<=10",
		"49": "11-50",
		"50": "11-50",
		"51": ">50",
	}
	for value, want := range cases {
		got := HierarchyValues(value, hierarchy)
		if len(got) != 2 || got[1] != want {
			t.Errorf("value %q: got %v, want [.. %s]", value, got, want)
		}
	}
}

func TestHierarchyValuesIntervalMultipleGeneralizations(t *testing.T) {
	hierarchy := HierarchyAttribute{
		AttributeType: "interval",
		Generalizations: []AttributeGeneralization{
			{Interval: []string{"<=10", "11-50", ">50"}},
			{Interval: []string{"<=50", ">50"}},
		},
	}
	got := HierarchyValues("42", hierarchy)
	want := []string{"42", "11-50", "<=50"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestHierarchyValuesRegex(t *testing.T) {
	hierarchy := HierarchyAttribute{
		AttributeType: "regex",
		Generalizations: []AttributeGeneralization{
			{Regex: []string{`\.\d+$`, `\.\d+\.\d+$`, `\.\d+\.\d+\.\d+$`}},
		},
	}
	got := HierarchyValues("10.0.0.1", hierarchy)
	want := []string{"10.0.0.1", "10.0.0*", "10.0*", "10*"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("regex ladder: got %v, want %v", got, want)
	}
}

func TestHierarchyValuesStatic(t *testing.T) {
	hierarchy := HierarchyAttribute{
		AttributeType: "static",
		Generalizations: []AttributeGeneralization{
			{Generalization: []string{"malware-x", "malware", "threat"}},
			{Generalization: []string{"phishing-y", "phishing", "threat"}},
		},
	}

	got := HierarchyValues("phishing-y", hierarchy)
	want := []string{"phishing-y", "phishing", "threat"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("static ladder: got %v, want %v", got, want)
	}

	if got := HierarchyValues("unknown", hierarchy); len(got) != 0 {
		t.Fatalf("unknown static value should resolve to no ladder, got %v", got)
	}
}

func TestPrivacyPolicyDecoding(t *testing.T) {
	raw := []byte(`{
		"creator": "analyst",
		"organization": "org",
		"version": "1",
		"attributes": [{
			"name": "ip-src",
			"type": "quasi-identifying",
			"pets": [{"scheme": "k-anonymity", "metadata": {"k": 3}}],
			"dp": true,
			"dp-policy": {
				"scheme": "laplace",
				"metadata": {"epsilon": 0.5, "delta": 0, "sensitivity": 1, "upper": 10, "lower": 0}
			}
		}],
		"templates": [{
			"name": "flow",
			"attributes": [],
			"k-anonymity": true,
			"k-map": false,
			"k": 5,
			"dp": false
		}]
	}`)

	var policy PrivacyPolicy
	if err := json.Unmarshal(raw, &policy); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(policy.Attributes) != 1 || policy.Attributes[0].Pets[0].Metadata.K != 3 {
		t.Fatalf("attribute policy not decoded: %+v", policy.Attributes)
	}
	if policy.Attributes[0].DpPolicy == nil || policy.Attributes[0].DpPolicy.Metadata.Epsilon != 0.5 {
		t.Fatalf("dp policy not decoded: %+v", policy.Attributes[0].DpPolicy)
	}
	if !policy.Templates[0].KAnonymity || policy.Templates[0].K != 5 {
		t.Fatalf("template not decoded: %+v", policy.Templates[0])
	}
}

func TestHierarchyPolicyDecoding(t *testing.T) {
	raw := []byte(`{
		"organization": "org",
		"version": "1",
		"creator": "analyst",
		"hierarchy-objects": [{
			"misp-object-template": "flow",
			"attribute-hierarchies": [{
				"attribute-name": "port",
				"attribute-type": "interval",
				"attribute-generalization": [{"generalization": [], "interval": ["<=1024", ">1024"], "regex": []}]
			}]
		}],
		"hierarchy-attributes": [{
			"attribute-name": "ip-src",
			"attribute-type": "regex",
			"attribute-generalization": [{"generalization": [], "interval": [], "regex": ["\\.\\d+$"]}]
		}]
	}`)

	var policy HierarchyPolicy
	if err := json.Unmarshal(raw, &policy); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if policy.HierarchyObjects[0].MispObjectTemplate != "flow" {
		t.Fatalf("hierarchy object not decoded: %+v", policy.HierarchyObjects)
	}
	if policy.HierarchyAttributes[0].AttributeType != "regex" {
		t.Fatalf("hierarchy attribute not decoded: %+v", policy.HierarchyAttributes)
	}
}
