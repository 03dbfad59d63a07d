package domain

import "time"

// Member represents one connection's participation meta.
// No transport or lifecycle logic here.
type Member struct {
	// ClientToken is the browser-scoped token from the session cookie.
	// Several connections (tabs) may share it.
	ClientToken string
	ConnectedAt time.Time
}

// NewMember stamps the member with its connect time.
func NewMember(clientToken string, now time.Time) *Member {
	return &Member{ClientToken: clientToken, ConnectedAt: now}
}
