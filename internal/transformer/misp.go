package transformer

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/anonymizer/internal/model"
)

// Tags stamped on every transformed component: one candidacy tag per
// anonymization backend.
var (
	objectTypes = []string{
		model.TypeAnonymizableARXlet,
		model.TypeAnonymizableFlaskDP,
		model.TypeAnonymizableLocal,
	}
	attributeTypes = []string{
		model.TypeAnonymizableARXlet,
		model.TypeAnonymizableFlaskDP,
		model.TypeAnonymizableLocal,
	}
)

func attributeTags(att *model.MISPAttribute) []string {
	return append([]string{att.ObjectRelation}, attributeTypes...)
}

func objectTags(obj *model.MISPObject) []string {
	return append([]string{obj.Name}, objectTypes...)
}

func objectName(obj *model.MISPObject) string {
	if obj.UUID == "" {
		obj.UUID = uuid.NewString()
	}
	return obj.Name + "-" + obj.UUID
}

func attributeName(att *model.MISPAttribute) string {
	if att.UUID == "" {
		att.UUID = uuid.NewString()
	}
	return att.ObjectRelation + "-" + att.UUID
}

// MispTransformer handles the EventAnon payload: a MISP event with
// privacy/hierarchy policy side-cars.
type MispTransformer struct{}

func (*MispTransformer) Parse(raw []byte) (any, error) {
	body, err := model.DecodeEventAnon(raw)
	if err != nil {
		return nil, fmt.Errorf("body is not a valid EventAnon: %w", err)
	}
	return body, nil
}

func (*MispTransformer) Transform(body any) (*model.Request, error) {
	eventAnon, ok := body.(*model.EventAnon)
	if !ok {
		return nil, fmt.Errorf("expected EventAnon body, got %T", body)
	}
	event := &eventAnon.Event
	if event.UUID == "" {
		event.UUID = uuid.NewString()
	}

	var data []model.Component
	for i := range event.Objects {
		obj := &event.Objects[i]
		var attributes []model.Component
		for k := range obj.Attributes {
			att := &obj.Attributes[k]
			attributes = append(attributes, model.NewAttribute(attributeName(att), att.Value, attributeTags(att)...))
		}
		data = append(data, model.NewObject(objectName(obj), attributes, objectTags(obj)...))
	}
	for i := range event.Attributes {
		att := &event.Attributes[i]
		data = append(data, model.NewAttribute(attributeName(att), att.Value, attributeTags(att)...))
	}
	// Requests carry no default type.
	return &model.Request{Type: model.NewTypeSet(), Data: data}, nil
}

func (*MispTransformer) Update(body any, data *model.Request) (bool, error) {
	eventAnon, ok := body.(*model.EventAnon)
	if !ok {
		return false, fmt.Errorf("expected EventAnon body, got %T", body)
	}
	event := &eventAnon.Event
	updated := false

	for i := range event.Objects {
		obj := &event.Objects[i]
		var objData *model.Object
		for _, c := range data.TypesGet(objectTags(obj)...) {
			if candidate, ok := c.(*model.Object); ok && candidate.Name == objectName(obj) {
				objData = candidate
				break
			}
		}
		if objData == nil {
			return updated, fmt.Errorf("unable to find data for object %q with UUID %q", obj.Name, obj.UUID)
		}
		for k := range obj.Attributes {
			att := &obj.Attributes[k]
			attData, err := findAttribute(objData.TypesGet(attributeTags(att)...), att)
			if err != nil {
				return updated, err
			}
			if att.Value != attData.Value {
				updated = true
				att.Value = attData.Value
			}
		}
	}
	for i := range event.Attributes {
		att := &event.Attributes[i]
		attData, err := findAttribute(data.TypesGet(attributeTags(att)...), att)
		if err != nil {
			return updated, err
		}
		if att.Value != attData.Value {
			updated = true
			att.Value = attData.Value
		}
	}
	return updated, nil
}

func findAttribute(candidates []model.Component, att *model.MISPAttribute) (*model.Attribute, error) {
	for _, c := range candidates {
		if candidate, ok := c.(*model.Attribute); ok && candidate.Name == attributeName(att) {
			return candidate, nil
		}
	}
	return nil, fmt.Errorf("unable to find data for attribute %q with UUID %q", att.ObjectRelation, att.UUID)
}

func (*MispTransformer) Snapshot(body any) map[string]any {
	eventAnon, ok := body.(*model.EventAnon)
	if !ok {
		return map[string]any{}
	}

	ret := map[string]any{}

	// A unique identifier prevents losing identical audits.
	ret["uuid"] = ulid.Make().String()

	tags := make([]string, 0, len(eventAnon.Event.Tags))
	for _, tag := range eventAnon.Event.Tags {
		tags = append(tags, tag.ID)
	}
	ret["tags"] = tags
	ret["severity"] = eventAnon.Event.ThreatLevelInt()
	ret["date"] = eventAnon.Event.Date
	ret["published"] = false
	ret["uploaded"] = false

	for _, attribute := range eventAnon.Event.Attributes {
		if attribute.ObjectRelation == "event_type" {
			ret["event_type"] = attribute.Value
			break
		}
	}

	for k, v := range eventAnon.Audit {
		ret[k] = v
	}
	return ret
}
