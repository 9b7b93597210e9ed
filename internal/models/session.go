package models

// SessionState is the local view of authentication.
type SessionState struct {
	Token      string `json:"token,omitempty"`
	IsLoggedIn bool   `json:"is_logged_in"`
}

// LoggedOut is the empty session.
var LoggedOut = SessionState{}

// LoggedInAs returns a logged-in session for token.
func LoggedInAs(token string) SessionState {
	return SessionState{Token: token, IsLoggedIn: token != ""}
}

// AuthEventType is the kind of event carried on the auth broadcast channel.
type AuthEventType string

const (
	AuthEventLogin  AuthEventType = "LOGIN"
	AuthEventLogout AuthEventType = "LOGOUT"
)

// AuthEvent is the payload exchanged between client instances.
type AuthEvent struct {
	Type  AuthEventType `json:"type"`
	Token string        `json:"token,omitempty"`
	// Origin names the publishing instance for logs. Receivers do not use it
	// to drop their own events; the session equality guards absorb echoes.
	Origin string `json:"origin,omitempty"`
}
