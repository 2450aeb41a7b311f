package auth

import (
	"errors"
	"time"

	"bundle-platform/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Manager struct {
	secret    []byte
	issuer    string
	audience  string
	accessTTL time.Duration
	guestTTL  time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	guestTTL := cfg.GuestTokenTTL
	if guestTTL <= 0 {
		guestTTL = 24 * time.Hour
	}
	return &Manager{
		secret:    []byte(cfg.JWTSecret),
		issuer:    cfg.JWTIssuer,
		audience:  cfg.JWTAudience,
		accessTTL: cfg.AccessTokenTTL,
		guestTTL:  guestTTL,
	}, nil
}

var ErrOrderMismatch = errors.New("order token does not match order")

/* ===================== ISSUE TOKENS ===================== */

// IssueAccess mints an access token. Production access tokens come from the
// identity service; this exists for operators and tests sharing the secret.
func (m *Manager) IssueAccess(now time.Time, userID, role string) (string, error) {
	return m.issue(now, Claims{UserID: userID, Role: role, TokenType: TokenTypeAccess}, m.accessTTL)
}

// IssueOrderToken mints the signed guest handle for one order.
func (m *Manager) IssueOrderToken(now time.Time, orderID string) (string, error) {
	if orderID == "" {
		return "", errors.New("order_id missing")
	}
	return m.issue(now, Claims{OrderID: orderID, TokenType: TokenTypeOrder}, m.guestTTL)
}

/* ===================== VERIFY TOKEN ===================== */

func (m *Manager) Verify(tokenString string, expected TokenType, now time.Time) (Claims, error) {
	var claims Claims

	// Time-based claims are checked below against now.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}

	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second), // clock skew tolerance
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}

	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	validator := jwt.NewValidator(opts...)
	if err := validator.Validate(claims.RegisteredClaims); err != nil {
		return Claims{}, err
	}

	if claims.TokenType != expected {
		return Claims{}, errors.New("token_type mismatch")
	}

	switch expected {
	case TokenTypeAccess:
		if claims.UserID == "" {
			return Claims{}, errors.New("user_id missing")
		}
		if claims.Role == "" {
			return Claims{}, errors.New("role missing in access token")
		}
	case TokenTypeOrder:
		if claims.OrderID == "" {
			return Claims{}, errors.New("order_id missing")
		}
	}

	return claims, nil
}

// VerifyOrderToken checks that tokenString grants access to orderID.
func (m *Manager) VerifyOrderToken(tokenString, orderID string, now time.Time) error {
	claims, err := m.Verify(tokenString, TokenTypeOrder, now)
	if err != nil {
		return err
	}
	if claims.OrderID != orderID {
		return ErrOrderMismatch
	}
	return nil
}

/* ===================== INTERNAL ISSUE ===================== */

func (m *Manager) issue(now time.Time, claims Claims, ttl time.Duration) (string, error) {
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Audience:  audienceOrNil(m.audience),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
