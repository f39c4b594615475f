package model

const (
	RoleTrader = "trader"
	RoleAdmin  = "admin"
)

// Actor is the authenticated caller behind a request.
type Actor struct {
	ID     string `json:"id"`
	Role   string `json:"role"`
	APIKey string `json:"-"`
}

func (a *Actor) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}

// RequestMeta carries transport details recorded with audit entries.
type RequestMeta struct {
	RequestID string
	IP        string
	UserAgent string
	Path      string
	Body      []byte
}
