package emergency

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sensor datagram type discriminators. Unknown values are ignored by the bridge.
const (
	SensorTypeFireAlert   = "FIRE_ALERT"
	SensorTypeUserMessage = "USER_MESSAGE"
)

// errNoSensorType is returned when a sensor datagram carries no type field.
var errNoSensorType = errors.New("sensor datagram has no type field")

// SensorEvent is one decoded UDP datagram from a field sensor.
type SensorEvent struct {
	// Type is the datagram discriminator (FIRE_ALERT, USER_MESSAGE, ...).
	Type string
	// SmokeLevel is the reported smoke reading of a FIRE_ALERT.
	SmokeLevel float64
	// SensorID identifies the reporting sensor node.
	SensorID string
	// Payload is the full decoded datagram, forwarded verbatim to admins.
	Payload map[string]any
}

// ParseSensorEvent decodes a sensor datagram from its JSON text form.
func ParseSensorEvent(data []byte) (*SensorEvent, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode sensor datagram: %w", err)
	}

	typeValue, ok := payload["type"].(string)
	if !ok || typeValue == "" {
		return nil, errNoSensorType
	}

	event := &SensorEvent{
		Type:    typeValue,
		Payload: payload,
	}

	if level, ok := payload["smoke_level"].(float64); ok {
		event.SmokeLevel = level
	}

	if id, ok := payload["sensor_id"].(string); ok {
		event.SensorID = id
	}

	return event, nil
}
