package types

import "github.com/golang-jwt/jwt/v5"

// Claims identifies a ticketing agent or partner admin. Subject is the agent id.
type Claims struct {
	Role      string `json:"role"`
	PartnerID uint   `json:"partner_id,omitempty"`
	jwt.RegisteredClaims
}

const (
	ROLE_AGENT = "agent"
	ROLE_ADMIN = "admin"
)
