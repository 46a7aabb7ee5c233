package publish

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/greenhaven/hydro-controller/internal/model"
)

// MQTT publishes measurements and controller actions to topics rooted at
// a configured prefix. Measurements are published retained, one topic per
// sensor, so a subscriber connecting late still sees the last known value;
// action messages are not retained.
type MQTT struct {
	client mqtt.Client
	prefix string
	qos    byte
}

// NewMQTT connects to brokerURL and returns a ready Publisher. clientID
// must be unique per process against the broker.
func NewMQTT(brokerURL, clientID, topicPrefix string) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", brokerURL, token.Error())
	}

	return &MQTT{client: client, prefix: topicPrefix, qos: 1}, nil
}

type measurementPayload struct {
	SensorID  string  `json:"sensor_id"`
	TimestampMS int64 `json:"ts_ms"`
	Kind      string  `json:"kind"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
}

func (m *MQTT) PublishMeasurement(meas model.Measurement) error {
	payload, err := json.Marshal(measurementPayload{
		SensorID:    meas.SensorID,
		TimestampMS: unixMillis(meas.Timestamp),
		Kind:        string(meas.Kind),
		Value:       meas.Value,
		Unit:        meas.Unit,
	})
	if err != nil {
		return fmt.Errorf("marshal measurement for %s: %w", meas.SensorID, err)
	}
	topic := fmt.Sprintf("%s/sensors/%s/measurement", m.prefix, meas.SensorID)
	token := m.client.Publish(topic, m.qos, true, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish measurement to %s: %w", topic, err)
	}
	return nil
}

type actionPayload struct {
	ControllerID string `json:"controller_id"`
	TimestampMS  int64  `json:"ts_ms"`
	Kind         string `json:"kind"`
	Details      string `json:"details"`
}

func (m *MQTT) PublishAction(a model.ControllerAction) error {
	payload, err := json.Marshal(actionPayload{
		ControllerID: a.ControllerID,
		TimestampMS:  unixMillis(a.Timestamp),
		Kind:         string(a.Kind),
		Details:      a.Details,
	})
	if err != nil {
		return fmt.Errorf("marshal action for %s: %w", a.ControllerID, err)
	}
	topic := fmt.Sprintf("%s/controllers/%s/action", m.prefix, a.ControllerID)
	token := m.client.Publish(topic, m.qos, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish action to %s: %w", topic, err)
	}
	return nil
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
