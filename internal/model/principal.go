package model

// Principal is the authenticated caller of a key operation. SessionID
// identifies one signed-in session and scopes ephemeral presentation state
// such as which secrets are revealed.
type Principal struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	SessionID string `json:"-"`
}
