package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ARXletVersion is the wire protocol version spoken with the ARXlet
// service.
const ARXletVersion = "0.2"

// PET scheme identifiers understood by ARXlet.
const (
	SchemeKAnonymity             = "k-anonymity"
	SchemeKMap                   = "k-map"
	SchemeDistinctLDiversity     = "l-diversity/distinct"
	SchemeEntropyLDiversity      = "l-diversity/entropy"
	SchemeRecursiveCLDiversity   = "l-diversity/recursive"
	SchemeHierarchicalTCloseness = "t-closeness/hierarchical"
	SchemeOrderedTCloseness      = "t-closeness/ordered"
)

// ARXletMetadata is the union of the metadata fields of every ARXlet PET.
// Only the fields relevant to the scheme are serialized.
type ARXletMetadata struct {
	K         int                `json:"k,omitempty"`
	L         int                `json:"l,omitempty"`
	C         float64            `json:"c,omitempty"`
	T         float64            `json:"t,omitempty"`
	Attribute string             `json:"attribute,omitempty"`
	Context   [][]ARXletObject   `json:"context,omitempty"`
}

// ARXletPet is one PET descriptor in an ARXlet request.
type ARXletPet struct {
	Scheme   string         `json:"scheme"`
	Metadata ARXletMetadata `json:"metadata"`
}

// ARXletAttribute is a typed value inside an object payload.
type ARXletAttribute struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ARXletHierarchy carries the generalization ladder of one attribute.
type ARXletHierarchy struct {
	Type   string   `json:"type"`
	Values []string `json:"values"`
}

// ARXletObject is one row of an object anonymization context: parallel
// attribute values and hierarchies.
type ARXletObject struct {
	Values      []ARXletAttribute `json:"values"`
	Hierarchies []ARXletHierarchy `json:"hierarchies"`
}

// AttributeData pairs an attribute value with its hierarchy ladder.
type AttributeData struct {
	Value       string   `json:"value"`
	Hierarchies []string `json:"hierarchies"`
}

// ARXletAttributeRequest is the body of the /attributes endpoint.
type ARXletAttributeRequest struct {
	Data []AttributeData `json:"data"`
	Pets []ARXletPet     `json:"pets"`
}

// ARXletObjectRequest is the body of the /objects endpoint.
type ARXletObjectRequest struct {
	Data []ARXletObject `json:"data"`
	Pets []ARXletPet    `json:"pets"`
}

// ErrUnknownScheme reports a PET scheme that ARXlet does not implement.
type ErrUnknownScheme struct {
	Scheme string
}

func (e ErrUnknownScheme) Error() string {
	return fmt.Sprintf("unknown ARXlet scheme %q", e.Scheme)
}

// PetFromScheme builds the ARXlet PET descriptor for a scheme string and a
// generic metadata bag. Sensitive names the sensitive attribute for the
// diversity/closeness families; context supplies the k-map population.
func PetFromScheme(scheme string, metadata PetMetadata, sensitive string, context [][]ARXletObject) (ARXletPet, error) {
	switch {
	case contains(scheme, SchemeKAnonymity):
		return ARXletPet{Scheme: SchemeKAnonymity, Metadata: ARXletMetadata{K: metadata.K}}, nil
	case contains(scheme, SchemeDistinctLDiversity):
		if sensitive == "" {
			return ARXletPet{}, fmt.Errorf("scheme %s requires a sensitive attribute", scheme)
		}
		return ARXletPet{Scheme: SchemeDistinctLDiversity, Metadata: ARXletMetadata{Attribute: sensitive, L: metadata.L}}, nil
	case contains(scheme, SchemeEntropyLDiversity):
		if sensitive == "" {
			return ARXletPet{}, fmt.Errorf("scheme %s requires a sensitive attribute", scheme)
		}
		return ARXletPet{Scheme: SchemeEntropyLDiversity, Metadata: ARXletMetadata{Attribute: sensitive, L: metadata.L}}, nil
	case contains(scheme, SchemeRecursiveCLDiversity):
		if sensitive == "" {
			return ARXletPet{}, fmt.Errorf("scheme %s requires a sensitive attribute", scheme)
		}
		return ARXletPet{Scheme: SchemeRecursiveCLDiversity, Metadata: ARXletMetadata{Attribute: sensitive, L: metadata.L, C: metadata.C}}, nil
	case contains(scheme, SchemeHierarchicalTCloseness):
		if sensitive == "" {
			return ARXletPet{}, fmt.Errorf("scheme %s requires a sensitive attribute", scheme)
		}
		return ARXletPet{Scheme: SchemeHierarchicalTCloseness, Metadata: ARXletMetadata{Attribute: sensitive, T: metadata.T}}, nil
	case contains(scheme, SchemeOrderedTCloseness):
		if sensitive == "" {
			return ARXletPet{}, fmt.Errorf("scheme %s requires a sensitive attribute", scheme)
		}
		return ARXletPet{Scheme: SchemeOrderedTCloseness, Metadata: ARXletMetadata{Attribute: sensitive, T: metadata.T}}, nil
	case contains(scheme, SchemeKMap):
		if context == nil {
			return ARXletPet{}, fmt.Errorf("scheme %s requires a context population", scheme)
		}
		return ARXletPet{Scheme: SchemeKMap, Metadata: ARXletMetadata{K: metadata.K, Context: context}}, nil
	default:
		return ARXletPet{}, ErrUnknownScheme{Scheme: scheme}
	}
}

// ParseARXletPet accepts an ARXletPet instance, a map, or a JSON string and
// returns the normalized descriptor.
func ParseARXletPet(arg any) (ARXletPet, error) {
	switch v := arg.(type) {
	case ARXletPet:
		return v, nil
	case string:
		var pet ARXletPet
		if err := json.Unmarshal([]byte(v), &pet); err != nil {
			return ARXletPet{}, err
		}
		return pet, nil
	default:
		raw, err := json.Marshal(arg)
		if err != nil {
			return ARXletPet{}, err
		}
		var pet ARXletPet
		if err := json.Unmarshal(raw, &pet); err != nil {
			return ARXletPet{}, err
		}
		return pet, nil
	}
}

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}
