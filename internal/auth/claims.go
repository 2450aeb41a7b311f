package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess TokenType = "access"
	// TokenTypeOrder lets a guest read and retry one order without an account.
	TokenTypeOrder TokenType = "order"
)

// Claims are the only supported JWT claims shape for this service.
// Access tokens are minted by the identity service and carry UserID and Role.
// Order tokens are minted here and carry only OrderID.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id,omitempty"`
	Role      string    `json:"role,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	TokenType TokenType `json:"token_type"`
}
