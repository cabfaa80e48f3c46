package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rakunlabs/anonymizer/internal/client"
	"github.com/rakunlabs/anonymizer/internal/execution"
	"github.com/rakunlabs/anonymizer/internal/model"
	"github.com/rakunlabs/anonymizer/internal/transformer"
)

func init() {
	execution.Register("misp.MispPong", newRunnerFactory(mispPong{}))
	execution.Register("misp.UpdateEvent", newRunnerFactory(updateEvent{}))
	execution.Register("misp.PostEvent", newRunnerFactory(postEvent{}))
	execution.Register("misp.ExtractEventFromEventAnon", newRunnerFactory(extractEventFromEventAnon{}))
}

func mispSettings(j *execution.Job, args map[string]any) (url, key string, ssl bool) {
	url = j.Env.Services.MISP.URL
	key = j.Env.Services.MISP.Key
	ssl = j.Env.Services.MISP.SSL
	if v := execution.ArgString(args, "misp_url"); v != "" {
		url = v
	}
	if v := execution.ArgString(args, "misp_key"); v != "" {
		key = v
	}
	if v, ok := args["misp_ssl"].(bool); ok {
		ssl = v
	}
	return url, key, ssl
}

// mispPong replies with the JSON form of a MISP model stored at
// env.<object_location>.
type mispPong struct{}

func (mispPong) Run(_ context.Context, j *execution.Job, args map[string]any) (any, error) {
	if err := j.VerifyParameters(args, "object_location"); err != nil {
		return nil, err
	}
	location := execution.ArgString(args, "object_location")
	value, err := j.Env.Get(location)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, execution.Jobf("unserializable MISP object at %s: %v", location, err)
	}
	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, execution.Jobf("unserializable MISP object at %s: %v", location, err)
	}
	return nil, reply(j, body)
}

// updateEvent writes the (anonymized) Request values back into the MISP
// event stored at env.<event_location>, through the MISP transformer's
// update path.
type updateEvent struct{}

func (updateEvent) Run(_ context.Context, j *execution.Job, args map[string]any) (any, error) {
	if err := j.VerifyParameters(args, "event_location"); err != nil {
		return nil, err
	}
	location := execution.ArgString(args, "event_location")
	eventAnon, err := execution.EnvAs[*model.EventAnon](j.Env, location)
	if err != nil {
		return nil, err
	}
	if j.Env.Data == nil {
		return nil, execution.Jobf("environment attribute not found: data")
	}

	slog.Info("updating event", "job", j.Name)
	updated, err := (&transformer.MispTransformer{}).Update(eventAnon, j.Env.Data)
	if err != nil {
		return nil, execution.Jobf("unable to update event: %v", err)
	}
	slog.Info("event update finished", "job", j.Name, "updated", updated)
	return nil, nil
}

// postEvent uploads a MISP event and records the upload on this request's
// audit entry.
type postEvent struct{}

func (postEvent) Run(ctx context.Context, j *execution.Job, args map[string]any) (any, error) {
	if err := j.VerifyParameters(args, "event_location", "publish"); err != nil {
		return nil, err
	}
	location := execution.ArgString(args, "event_location")
	publish := execution.ArgBool(args, "publish")
	eventAnon := execution.ArgBool(args, "event_anon")
	url, key, ssl := mispSettings(j, args)

	var event model.Event
	if eventAnon {
		wrapped, err := execution.EnvAs[*model.EventAnon](j.Env, location)
		if err != nil {
			return nil, err
		}
		event = wrapped.Event
	} else {
		stored, err := execution.EnvAs[*model.Event](j.Env, location)
		if err != nil {
			return nil, err
		}
		event = *stored
	}

	misp := client.NewMISP(url, key, ssl, connectionSettings(j))
	slog.Info("uploading to MISP", "job", j.Name, "url", misp.URL())
	if err := misp.PostEvent(ctx, event, publish); err != nil {
		return nil, clientJobError(err)
	}
	slog.Info("uploaded event to MISP", "job", j.Name, "url", misp.URL())

	if audits := j.Env.Services.Audits; audits != nil {
		_, err := audits.Update(ctx, j.Env.AuditTimestamp, func(audit map[string]any) map[string]any {
			audit["uploaded"] = true
			audit["published"] = publish
			return audit
		})
		if err != nil {
			return nil, execution.Jobf("unable to update audit: %v", err)
		}
	}
	return nil, nil
}

// extractEventFromEventAnon moves the inner event out of an EventAnon
// wrapper into env.<destination>.
type extractEventFromEventAnon struct{}

func (extractEventFromEventAnon) Run(_ context.Context, j *execution.Job, args map[string]any) (any, error) {
	if err := j.VerifyParameters(args, "source", "destination"); err != nil {
		return nil, err
	}
	source := execution.ArgString(args, "source")
	destination := execution.ArgString(args, "destination")

	eventAnon, err := execution.EnvAs[*model.EventAnon](j.Env, source)
	if err != nil {
		return nil, err
	}
	event := eventAnon.Event
	slog.Info("storing MISP event", "job", j.Name, "location", destination)
	if existing, err := j.Env.Get(destination); err == nil {
		slog.Warn("overriding existing object", "job", j.Name, "type", existing)
	}
	j.Env.Set(destination, &event)
	return nil, nil
}
