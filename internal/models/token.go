package models

// Token pair issued by the API on login and refresh
// Either field may be empty, the client treats a missing refresh as no session
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (p TokenPair) IsZero() bool {
	return p.Access == "" && p.Refresh == ""
}

// Credential login answer
// When MFARequired is set only SessionID is filled, tokens come after the second step
type LoginResult struct {
	MFARequired bool       `json:"mfa_requerido"`
	SessionID   string     `json:"session_id,omitempty"`
	Access      string     `json:"access,omitempty"`
	Refresh     string     `json:"refresh,omitempty"`
	User        *LoginUser `json:"usuario,omitempty"`
}

func (r LoginResult) Tokens() TokenPair {
	return TokenPair{Access: r.Access, Refresh: r.Refresh}
}

type LoginUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"rol"`
}
