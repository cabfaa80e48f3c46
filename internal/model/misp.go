package model

import (
	"encoding/json"
	"strconv"
)

// MISPVersion is the MISP API version this service targets.
const MISPVersion = "2.5.9"

// Threat level identifiers as carried on the MISP wire.
const (
	ThreatLevelHigh      = "1"
	ThreatLevelMedium    = "2"
	ThreatLevelLow       = "3"
	ThreatLevelUndefined = "4"
)

// MISPAttribute is a single indicator inside an event or object.
type MISPAttribute struct {
	UUID           string `json:"uuid,omitempty"`
	ObjectRelation string `json:"object_relation"`
	Value          string `json:"value"`
}

// MISPObject groups attributes under a named template.
type MISPObject struct {
	Name       string          `json:"name"`
	UUID       string          `json:"uuid,omitempty"`
	Timestamp  string          `json:"timestamp"`
	Attributes []MISPAttribute `json:"Attribute"`
}

// MISPTag is an event tag.
type MISPTag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Event is a MISP event as received in the inbound payload.
type Event struct {
	UUID          string          `json:"uuid,omitempty"`
	Date          string          `json:"date,omitempty"`
	Timestamp     string          `json:"timestamp,omitempty"`
	Info          string          `json:"info,omitempty"`
	ThreatLevelID string          `json:"threat_level_id"`
	Attributes    []MISPAttribute `json:"Attribute,omitempty"`
	Objects       []MISPObject    `json:"Object,omitempty"`
	Tags          []MISPTag       `json:"Tag,omitempty"`
}

// ThreatLevelInt returns the numeric threat level, 0 when unparsable.
func (e *Event) ThreatLevelInt() int {
	n, err := strconv.Atoi(e.ThreatLevelID)
	if err != nil {
		return 0
	}
	return n
}

// EventAnon is the composite inbound payload: the event plus its side-car
// privacy and hierarchy policies and optional extra audit fields.
type EventAnon struct {
	Event           Event           `json:"Event"`
	PrivacyPolicy   PrivacyPolicy   `json:"Privacy-policy"`
	HierarchyPolicy HierarchyPolicy `json:"Hierarchy-policy"`
	Audit           map[string]any  `json:"Audit,omitempty"`
}

// EventMISP is the single-event wrapper used by the MISP API.
type EventMISP struct {
	Event Event `json:"Event"`
}

// DecodeEventAnon validates and decodes an EventAnon payload.
func DecodeEventAnon(raw []byte) (*EventAnon, error) {
	var body EventAnon
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	return &body, nil
}
