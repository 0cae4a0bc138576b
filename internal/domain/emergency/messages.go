package emergency

import "time"

// Message type discriminators of the client, admin and sensor wire protocols.
const (
	TypeConnected      = "connected"
	TypeRegisterName   = "register_name"
	TypeStatusUpdate   = "status_update"
	TypeFireAlert      = "fire_alert"
	TypeClearAlert     = "clear_alert"
	TypeAdminMessage   = "admin_message"
	TypeBroadcast      = "broadcast"
	TypeTriggerAlarm   = "trigger_alarm"
	TypeClearAlarm     = "clear_alarm"
	TypeUserStatus     = "user_status"
	TypeNewUserMessage = "new_user_message"
	TypeAlertCleared   = "alert_cleared"
)

// Timestamp formats a wire protocol timestamp.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// UserStatusRecord is the last-known status of one user, keyed by StableID.
// It survives reconnects with the same (name, token) pair and is deleted when
// the owning connection disconnects.
type UserStatusRecord struct {
	Status    string `json:"status"`
	Name      string `json:"name"`
	Timestamp string `json:"timestamp"`
}

// StatusSnapshot is the live system state reported to admins and the status API.
type StatusSnapshot struct {
	AlertActive      bool                          `json:"alert_active"`
	ConnectedClients int                           `json:"connected_clients"`
	ConnectedAdmins  int                           `json:"connected_admins"`
	UserStatus       map[StableID]UserStatusRecord `json:"user_status"`
}

// ClientEnvelope is a message received from a client socket.
type ClientEnvelope struct {
	Type string `json:"type"`
	// Name and FCMToken accompany register_name.
	Name     string `json:"name,omitempty"`
	FCMToken string `json:"fcm_token,omitempty"`
	// Status accompanies status_update.
	Status string `json:"status,omitempty"`
}

// AdminEnvelope is a message received from an admin socket.
type AdminEnvelope struct {
	Type        string `json:"type"`
	Message     string `json:"message,omitempty"`
	MapData     string `json:"map_data,omitempty"`
	MapFilename string `json:"map_filename,omitempty"`
}

// ConnectedMessage greets a client right after the handshake.
type ConnectedMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

// FireAlertMessage tells clients an emergency is in progress.
// Source lets front ends distinguish sensor alarms from manual ones.
type FireAlertMessage struct {
	Type      string      `json:"type"`
	Source    AlertSource `json:"source"`
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp"`
}

// ClearAlertMessage tells clients the emergency is over.
type ClearAlertMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
}

// AdminTextMessage carries a plain admin announcement to clients.
type AdminTextMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
}

// BroadcastMessage carries an admin broadcast with an optional evacuation map.
type BroadcastMessage struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	From        string `json:"from"`
	Timestamp   string `json:"timestamp"`
	MapData     string `json:"map_data,omitempty"`
	MapFilename string `json:"map_filename,omitempty"`
}

// AdminStatusMessage refreshes an admin dashboard with the live state.
type AdminStatusMessage struct {
	Type             string                        `json:"type"`
	AlertActive      bool                          `json:"alert_active"`
	ConnectedClients int                           `json:"connected_clients"`
	UserStatus       map[StableID]UserStatusRecord `json:"user_status"`
}

// UserStatusMessage notifies admins of one user's status change.
type UserStatusMessage struct {
	Type      string   `json:"type"`
	ClientID  StableID `json:"client_id"`
	Status    string   `json:"status"`
	Name      string   `json:"name"`
	Timestamp string   `json:"timestamp"`
}

// AdminFireAlertMessage carries the raw sensor alert details to admins.
type AdminFireAlertMessage struct {
	Type      string         `json:"type"`
	AlertData map[string]any `json:"alert_data"`
	Timestamp string         `json:"timestamp"`
}

// NewUserMessage forwards a message from a physical terminal to admins.
type NewUserMessage struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// AlertClearedMessage confirms alarm clearance to admins.
type AlertClearedMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}
