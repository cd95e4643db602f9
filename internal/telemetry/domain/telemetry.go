package domain

import "time"

// EventType names an identity event.
type EventType string

const (
	EventLoginSucceeded       EventType = "login_succeeded"
	EventLoginFailed          EventType = "login_failed"
	EventLogout               EventType = "logout"
	EventLogoutAll            EventType = "logout_all"
	EventSessionEvicted       EventType = "session_evicted"
	EventAuthenticateRejected EventType = "authenticate_rejected"
	EventUserRegistered       EventType = "user_registered"
	EventUserDeleted          EventType = "user_deleted"
)

// Event is one identity event. UserID, SessionID and Reason are empty when
// unknown; Reason is the internal failure kind and is never shown to clients.
type Event struct {
	Type      EventType
	UserID    string
	SessionID string
	Reason    string
	Source    string
	CreatedAt time.Time
}
