package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"

	"github.com/rakunlabs/anonymizer/internal/client"
	"github.com/rakunlabs/anonymizer/internal/execution"
	"github.com/rakunlabs/anonymizer/internal/model"
)

func init() {
	execution.Register("stix.StixPong", newRunnerFactory(stixPong{}))
	execution.Register("stix.TransformMISPEvent", newRunnerFactory(transformMISPEvent{}))
}

// stixPong replies with the STIX document stored at env.<object_location>.
type stixPong struct{}

func (stixPong) Run(_ context.Context, j *execution.Job, args map[string]any) (any, error) {
	if err := j.VerifyParameters(args, "object_location"); err != nil {
		return nil, err
	}
	location := execution.ArgString(args, "object_location")
	document, err := execution.EnvAs[map[string]any](j.Env, location)
	if err != nil {
		return nil, err
	}
	if _, err := json.Marshal(document); err != nil {
		return nil, execution.Jobf("unserializable STIX object: %v", err)
	}
	return nil, reply(j, document)
}

// transformMISPEvent converts the MISP event at env.<event_location> to a
// STIX document via the converter collaborator and stores it at
// env.<destination>. STIX 2.1 is the default; 1.x versions other than
// 1.1.1/1.2 fall back to 1.1.1.
type transformMISPEvent struct{}

func (transformMISPEvent) Run(ctx context.Context, j *execution.Job, args map[string]any) (any, error) {
	if err := j.VerifyParameters(args, "event_location", "destination"); err != nil {
		return nil, err
	}
	location := execution.ArgString(args, "event_location")
	destination := execution.ArgString(args, "destination")
	version := execution.ArgString(args, "stix_version")
	if version == "" {
		version = "2.1"
	}
	if strings.HasPrefix(version, "1") {
		if version != "1.1.1" && version != "1.2" {
			version = "1.1.1"
		}
	} else if !slices.Contains(client.STIXVersions, version) {
		return nil, execution.Jobf("invalid STIX version")
	}

	slog.Info("retrieving MISP event", "job", j.Name)
	event, err := execution.EnvAs[*model.Event](j.Env, location)
	if err != nil {
		return nil, err
	}

	slog.Info("parsing MISP event", "job", j.Name, "version", version)
	stix := client.NewSTIX(j.Env.Services.STIX.URL, connectionSettings(j))
	document, err := stix.Convert(ctx, *event, version)
	if err != nil {
		return nil, clientJobError(err)
	}

	slog.Info("storing STIX object", "job", j.Name, "location", destination)
	if existing, err := j.Env.Get(destination); err == nil {
		slog.Warn("overriding existing object", "job", j.Name, "type", existing)
	}
	j.Env.Set(destination, document)
	return nil, nil
}
