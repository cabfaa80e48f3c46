package model

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DpMetadata carries the numeric parameters of a differential privacy
// mechanism.
type DpMetadata struct {
	Epsilon     float64 `json:"epsilon"`
	Delta       float64 `json:"delta"`
	Sensitivity float64 `json:"sensitivity"`
	Upper       float64 `json:"upper"`
	Lower       float64 `json:"lower"`
}

// DpPolicy binds a DP scheme to its metadata for a single attribute type.
type DpPolicy struct {
	Scheme   string     `json:"scheme"`
	Metadata DpMetadata `json:"metadata"`
}

// DpObjectPolicy is the object-template flavor: it may target a subset of
// the template's attributes, or all of them.
type DpObjectPolicy struct {
	DpPolicy
	AttributeNames []string `json:"attribute-names"`
	ApplyToAll     bool     `json:"apply-to-all"`
}

// PetMetadata carries the parameters of a non-DP PET. Unused fields stay at
// their zero value.
type PetMetadata struct {
	L     int     `json:"l"`
	C     float64 `json:"c"`
	K     int     `json:"k"`
	T     float64 `json:"t"`
	Level int     `json:"level"`
}

// Pet is one privacy-enhancing technique request from the policy.
type Pet struct {
	Scheme   string      `json:"scheme"`
	Metadata PetMetadata `json:"metadata"`
}

// AttributePolicy binds an attribute type to its PETs and optional DP
// policy.
type AttributePolicy struct {
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Pets     []Pet     `json:"pets"`
	Dp       bool      `json:"dp"`
	DpPolicy *DpPolicy `json:"dp-policy,omitempty"`
}

// Template describes an object template: its attribute policies plus the
// template-level k-anonymity / k-map flags and optional DP policy.
type Template struct {
	Name       string            `json:"name"`
	UUID       string            `json:"uuid,omitempty"`
	Attributes []AttributePolicy `json:"attributes"`
	KAnonymity bool              `json:"k-anonymity"`
	KMap       bool              `json:"k-map"`
	K          int               `json:"k"`
	Dp         bool              `json:"dp"`
	DpPolicy   *DpObjectPolicy   `json:"dp-policy,omitempty"`
}

// PrivacyPolicy is the inbound policy document binding attribute types and
// object templates to PETs.
type PrivacyPolicy struct {
	Creator      string            `json:"creator"`
	UUID         string            `json:"uuid,omitempty"`
	Organization string            `json:"organization"`
	Version      string            `json:"version"`
	Attributes   []AttributePolicy `json:"attributes"`
	Templates    []Template        `json:"templates"`
}

// AttributeGeneralization is one rung description of a hierarchy ladder.
// Which of the three fields is populated depends on the hierarchy kind.
type AttributeGeneralization struct {
	Generalization []string `json:"generalization"`
	Interval       []string `json:"interval"`
	Regex          []string `json:"regex"`
}

// HierarchyAttribute associates an attribute type with its generalization
// ladder. Kind is one of "interval", "regex" or "static".
type HierarchyAttribute struct {
	AttributeName   string                    `json:"attribute-name"`
	AttributeType   string                    `json:"attribute-type"`
	Generalizations []AttributeGeneralization `json:"attribute-generalization"`
}

// HierarchyObject scopes attribute hierarchies to one object template.
type HierarchyObject struct {
	MispObjectTemplate   string               `json:"misp-object-template"`
	AttributeHierarchies []HierarchyAttribute `json:"attribute-hierarchies"`
}

// HierarchyPolicy is the inbound hierarchy policy document.
type HierarchyPolicy struct {
	Description          string               `json:"hierarchy-description,omitempty"`
	UUID                 string               `json:"uuid,omitempty"`
	Organization         string               `json:"organization"`
	Version              string               `json:"version"`
	Creator              string               `json:"creator"`
	HierarchyObjects     []HierarchyObject    `json:"hierarchy-objects"`
	HierarchyAttributes  []HierarchyAttribute `json:"hierarchy-attributes"`
}

// HierarchyValues resolves the generalization ladder for a concrete value:
// the value itself followed by each progressively coarser generalization.
//
// Interval hierarchies contribute one label per generalization, located by
// bisecting the right endpoints of all labels but the last. Labels follow
// the policy standard ["<=x", "x-y", ..., ">y"], so the endpoint list is
// already ordered. Regex hierarchies hold a single generalization whose
// patterns are each substituted with "*" in turn. Static hierarchies
// enumerate explicit ladders keyed by their first (original) value.
func HierarchyValues(value string, hierarchy HierarchyAttribute) []string {
	var ret []string
	switch hierarchy.AttributeType {
	case "interval":
		ret = append(ret, value)
		for _, gen := range hierarchy.Generalizations {
			intervals := gen.Interval
			if len(intervals) == 0 {
				continue
			}
			endpoints := make([]string, 0, len(intervals)-1)
			for _, interval := range intervals[:len(intervals)-1] {
				endpoints = append(endpoints, rightEndpoint(interval))
			}
			// Numeric comparison when both sides parse as numbers, so that
			// "443" sorts before "1024"; plain string order otherwise.
			key, keyErr := strconv.ParseFloat(value, 64)
			idx := sort.Search(len(endpoints), func(i int) bool {
				bound, err := strconv.ParseFloat(endpoints[i], 64)
				if keyErr != nil || err != nil {
					return endpoints[i] >= value
				}
				return bound >= key
			})
			ret = append(ret, intervals[idx])
		}
	case "regex":
		ret = append(ret, value)
		if len(hierarchy.Generalizations) == 0 {
			break
		}
		for _, pattern := range hierarchy.Generalizations[0].Regex {
			re, err := regexp.Compile(pattern)
			if err != nil {
				continue
			}
			ret = append(ret, re.ReplaceAllString(value, "*"))
		}
	case "static":
		for _, gen := range hierarchy.Generalizations {
			if len(gen.Generalization) > 0 && gen.Generalization[0] == value {
				ret = append(ret, gen.Generalization...)
				break
			}
		}
	}
	return ret
}

// rightEndpoint extracts the upper bound of an interval label such as
// "<=10", "11-50" or ">50".
func rightEndpoint(interval string) string {
	i := strings.Trim(interval, "<=>")
	if idx := strings.Index(i, "-"); idx >= 0 {
		i = i[idx+1:]
	}
	return i
}
