package session

import "encoding/json"

// Session is the credential pair shared by every request a client makes.
//
// An empty string means the token is absent. User is an opaque payload owned by
// collaborators (typically the profile returned at login); it is persisted and
// cleared together with the tokens.
type Session struct {
	AccessToken  string          `json:"authToken,omitempty"`
	RefreshToken string          `json:"refreshToken,omitempty"`
	User         json.RawMessage `json:"user,omitempty"`
}

// Empty reports whether the session holds no credentials (logged out).
func (s Session) Empty() bool {
	return s.AccessToken == "" && s.RefreshToken == ""
}

// Valid reports whether the session satisfies the store invariant: either both
// tokens are absent or the access token is present.
func (s Session) Valid() bool {
	return s.Empty() || s.AccessToken != ""
}

// Clone returns a copy that does not share the User buffer.
func (s Session) Clone() Session {
	out := s
	if len(s.User) > 0 {
		out.User = append(json.RawMessage(nil), s.User...)
	}
	return out
}
