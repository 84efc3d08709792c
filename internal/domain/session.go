package domain

// Status is the Session Context lifecycle state.
type Status int

const (
	StatusUninitialized Status = iota
	StatusLoading
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusLoading:
		return "loading"
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Credentials is the token triple minted by login, signup and refresh.
type Credentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       ID     `json:"userId"`
}

// Valid reports whether the access token and user id are both present.
func (c Credentials) Valid() bool {
	return c.AccessToken != "" && !c.UserID.IsZero()
}

// Session is a point-in-time snapshot of the client session broadcast to
// callers. AccessToken and UserID are either both set or both empty.
type Session struct {
	Status       Status
	AccessToken  string
	RefreshToken string
	UserID       ID
	User         *User
	IsLoading    bool
	IsConnected  bool
}

// Authenticated returns true if the session carries a usable credential.
func (s Session) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.AccessToken != "" && !s.UserID.IsZero()
}
