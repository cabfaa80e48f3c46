package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func sampleRequest() *Request {
	return &Request{
		Type: NewTypeSet("misp"),
		Data: []Component{
			NewAttribute("ip-src-1", "10.0.0.1", "ip-src", TypeAnonymizableARXlet),
			NewObject("flow-1", []Component{
				NewAttribute("port-1", "443", "port", TypeAnonymizableFlaskDP),
				NewAttribute("host-1", "example.org", "host", TypeAnonymizableLocal),
			}, "flow", TypeAnonymizableARXlet),
		},
	}
}

func TestRequestDictRoundTrip(t *testing.T) {
	request := sampleRequest()

	rebuilt, err := RequestFromDict(request.ToDict())
	if err != nil {
		t.Fatalf("RequestFromDict: %v", err)
	}
	if !reflect.DeepEqual(request, rebuilt) {
		t.Fatalf("round-trip mismatch:\n got %#v\nwant %#v", rebuilt, request)
	}
}

func TestRequestJSONRoundTrip(t *testing.T) {
	request := sampleRequest()

	raw, err := json.Marshal(request)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var rebuilt Request
	if err := json.Unmarshal(raw, &rebuilt); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(request, &rebuilt) {
		t.Fatalf("round-trip mismatch:\n got %#v\nwant %#v", &rebuilt, request)
	}
}

func TestHashIgnoresTypeInsertionOrder(t *testing.T) {
	a := &Request{
		Type: NewTypeSet("x", "y", "z"),
		Data: []Component{NewAttribute("n", "v", "b", "a", "c")},
	}
	b := &Request{
		Type: NewTypeSet("z", "y", "x"),
		Data: []Component{NewAttribute("n", "v", "c", "b", "a")},
	}
	if a.Hash() != b.Hash() {
		t.Fatalf("hashes differ for permuted type sets: %s vs %s", a.Hash(), b.Hash())
	}
}

func TestHashDependsOnContent(t *testing.T) {
	a := &Request{Type: NewTypeSet(), Data: []Component{NewAttribute("n", "v")}}
	b := &Request{Type: NewTypeSet(), Data: []Component{NewAttribute("n", "w")}}
	if a.Hash() == b.Hash() {
		t.Fatal("hashes equal for different content")
	}
}

func TestTypeSetOperations(t *testing.T) {
	ts := NewTypeSet("a", "b")
	if !ts.Is("a") || !ts.Is("a", "b") {
		t.Error("Is should report contained types")
	}
	if ts.Is("a", "c") {
		t.Error("Is should require every type")
	}
	if !ts.Any("c", "b") {
		t.Error("Any should report a single match")
	}

	ts.Merge("c")
	if !ts.Is("c") {
		t.Error("Merge should add types")
	}

	ts.Retain("a", "c")
	if ts.Is("b") || !ts.Is("a", "c") {
		t.Errorf("Retain should keep only the listed types, got %v", ts.Sorted())
	}
}

func TestContainerAlgebra(t *testing.T) {
	request := &Request{
		Type: NewTypeSet(),
		Data: []Component{
			NewAttribute("a1", "1", "common", "only-a"),
			NewAttribute("a2", "2", "common"),
			NewObject("o1", nil, "common", "only-o"),
		},
	}

	one := request.TypesOne()
	for _, want := range []string{"common", "only-a", "only-o", "attribute", "object"} {
		if !one.Is(want) {
			t.Errorf("TypesOne missing %q", want)
		}
	}

	all := request.TypesAll()
	if !all.Is("common") || len(all) != 1 {
		t.Errorf("TypesAll should be exactly {common}, got %v", all.Sorted())
	}

	counts := request.TypesCount()
	if counts["common"] != 3 || counts["only-a"] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}

	if got := request.TypesGet("common", "only-a"); len(got) != 1 {
		t.Errorf("TypesGet AND filter: expected 1, got %d", len(got))
	}
	if got := request.TypesSearch("only-a", "only-o"); len(got) != 2 {
		t.Errorf("TypesSearch OR filter: expected 2, got %d", len(got))
	}
	if got := request.TypesRemove("only-a", "only-o"); len(got) != 1 {
		t.Errorf("TypesRemove: expected 1 component with none of the types, got %d", len(got))
	}
	if got := request.TypesPrune("common", "only-a"); len(got) != 2 {
		t.Errorf("TypesPrune: expected 2 components missing at least one type, got %d", len(got))
	}
}

func TestAllObjectsAllAttributes(t *testing.T) {
	attributes := &Request{Data: []Component{NewAttribute("a", "1"), NewAttribute("b", "2")}}
	if !attributes.AllAttributes() || attributes.AllObjects() {
		t.Error("attribute-only request misclassified")
	}
	objects := &Request{Data: []Component{NewObject("o", nil)}}
	if !objects.AllObjects() || objects.AllAttributes() {
		t.Error("object-only request misclassified")
	}
}

func TestFromDictRejectsWrongKind(t *testing.T) {
	dict := sampleRequest().ToDict()
	dict["#modeltype"] = "object"
	if _, err := RequestFromDict(dict); err == nil {
		t.Fatal("expected an error for a non-request dict")
	}
}
