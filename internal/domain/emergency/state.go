package emergency

import "time"

// AlertSource identifies what triggered an alarm transition.
type AlertSource string

const (
	// SourceManual marks an alarm triggered by an admin.
	SourceManual AlertSource = "manual_trigger"
	// SourceSensor marks an alarm triggered by a field sensor.
	SourceSensor AlertSource = "esp8266_sensor"
)

// AlarmState is the process-wide emergency flag with the time of its last
// transition. It is owned by the relay hub and must only be mutated there.
type AlarmState struct {
	// Active reports whether an emergency is currently in progress.
	Active bool
	// ChangedAt is when the state last transitioned.
	ChangedAt time.Time
}

// Activate marks the alarm active and records the transition time.
// It fires unconditionally, callers that need idempotence check Active first.
func (s *AlarmState) Activate(now time.Time) {
	s.Active = true
	s.ChangedAt = now
}

// Clear marks the alarm inactive and records the transition time.
func (s *AlarmState) Clear(now time.Time) {
	s.Active = false
	s.ChangedAt = now
}
