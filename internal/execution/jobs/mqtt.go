package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rakunlabs/anonymizer/internal/client"
	"github.com/rakunlabs/anonymizer/internal/execution"
)

func init() {
	execution.Register("mqtt.Publish", newRunnerFactory(mqttPublish{}))
}

// mqttPublish serializes the JSON payload at env.<location> and publishes
// it to a broker topic. Broker coordinates default to the configured
// service and can be overridden per job.
type mqttPublish struct{}

func (mqttPublish) Run(_ context.Context, j *execution.Job, args map[string]any) (any, error) {
	if err := j.VerifyParameters(args, "location"); err != nil {
		return nil, err
	}
	location := execution.ArgString(args, "location")

	defaults := j.Env.Services.MQTT
	settings := client.MQTTSettings{
		Host:     defaults.Host,
		Port:     defaults.Port,
		Username: defaults.Username,
		Password: defaults.Password,
		SSL:      defaults.SSL,
		ClientID: defaults.ClientID,
	}
	topic := defaults.Topic
	if v := execution.ArgString(args, "topic"); v != "" {
		topic = v
	}
	if v := execution.ArgString(args, "mqtt_host"); v != "" {
		settings.Host = v
	}
	if _, ok := args["mqtt_port"]; ok {
		settings.Port = execution.ArgInt(args, "mqtt_port")
	}
	if v := execution.ArgString(args, "mqtt_username"); v != "" {
		settings.Username = v
	}
	if v := execution.ArgString(args, "mqtt_password"); v != "" {
		// A configured default password can be disabled with "None".
		if v == "None" {
			settings.Password = ""
		} else {
			settings.Password = v
		}
	}
	if v, ok := args["mqtt_ssl"].(bool); ok {
		settings.SSL = v
	}

	slog.Info("retrieving MQTT payload", "job", j.Name, "location", location)
	payload, err := j.Env.Get(location)
	if err != nil {
		return nil, err
	}
	if _, err := json.Marshal(payload); err != nil {
		return nil, execution.Jobf("unserializable MQTT payload: %v", err)
	}

	slog.Info("publishing MQTT message", "job", j.Name, "topic", topic)
	mqtt := client.NewMQTT(settings, connectionSettings(j))
	if err := mqtt.Connect(); err != nil {
		return nil, clientJobError(err)
	}
	defer mqtt.Disconnect()

	if err := mqtt.Publish(topic, payload); err != nil {
		return nil, clientJobError(err)
	}
	return nil, nil
}
