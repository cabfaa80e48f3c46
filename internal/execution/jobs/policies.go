package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/rakunlabs/anonymizer/internal/execution"
	"github.com/rakunlabs/anonymizer/internal/model"
)

func init() {
	execution.Register("policies.ReadPrivacyPolicy", newRunnerFactory(readPrivacyPolicy{}))
	execution.Register("policies.ReadHierarchyPolicy", newRunnerFactory(readHierarchyPolicy{}))
}

// resolveAddress walks a dotted path ("a.b.c") through the inbound JSON
// payload and returns the addressed sub-object.
func resolveAddress(j *execution.Job, address string) (map[string]any, error) {
	data := j.Env.Raw
	for _, intermediate := range strings.Split(address, ".") {
		dict, ok := data.(map[string]any)
		if !ok {
			return nil, execution.Jobf("reached recursion end before %q", intermediate)
		}
		next, ok := dict[intermediate]
		if !ok {
			return nil, execution.Jobf("intermediate object %s not present", intermediate)
		}
		data = next
	}
	dict, ok := data.(map[string]any)
	if !ok {
		return nil, execution.Jobf("target address is not a JSON object")
	}
	return dict, nil
}

// decodeStrict re-encodes a JSON sub-tree into a typed policy document.
func decodeStrict(dict map[string]any, out any) error {
	raw, err := json.Marshal(dict)
	if err != nil {
		return execution.Jobf("unserializable policy document: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return execution.Jobf("policy document does not match schema: %v", err)
	}
	return nil
}

// readPrivacyPolicy reads a privacy policy from a dotted address in the
// inbound payload, validates it and stores it at env.<location>.
type readPrivacyPolicy struct{}

func (readPrivacyPolicy) Run(_ context.Context, j *execution.Job, args map[string]any) (any, error) {
	if err := j.VerifyParameters(args, "address", "location"); err != nil {
		return nil, err
	}
	address := execution.ArgString(args, "address")
	location := execution.ArgString(args, "location")

	dict, err := resolveAddress(j, address)
	if err != nil {
		return nil, err
	}
	var policy model.PrivacyPolicy
	if err := decodeStrict(dict, &policy); err != nil {
		return nil, err
	}
	slog.Debug("storing privacy policy", "job", j.Name, "location", location)
	j.Env.Set(location, &policy)
	return nil, nil
}

// readHierarchyPolicy reads a hierarchy policy from a dotted address in
// the inbound payload, validates it and stores it at env.<location>.
type readHierarchyPolicy struct{}

func (readHierarchyPolicy) Run(_ context.Context, j *execution.Job, args map[string]any) (any, error) {
	if err := j.VerifyParameters(args, "address", "location"); err != nil {
		return nil, err
	}
	address := execution.ArgString(args, "address")
	location := execution.ArgString(args, "location")

	dict, err := resolveAddress(j, address)
	if err != nil {
		return nil, err
	}
	var policy model.HierarchyPolicy
	if err := decodeStrict(dict, &policy); err != nil {
		return nil, err
	}
	slog.Debug("storing hierarchy policy", "job", j.Name, "location", location)
	j.Env.Set(location, &policy)
	return nil, nil
}
