package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"cityeye-service/internal/model"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrSessionExpired = errors.New("session expired")
)

type SessionState string

const (
	SessionActive  SessionState = "ACTIVE"
	SessionExpired SessionState = "EXPIRED"
)

type Claims struct {
	UserID     uuid.UUID      `json:"user_id"`
	CustomerID *uuid.UUID     `json:"customer_id,omitempty"`
	Role       model.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// State reports whether the session behind the claims is still usable at now.
func (c *Claims) State(now time.Time) SessionState {
	if c.ExpiresAt != nil && !now.Before(c.ExpiresAt.Time) {
		return SessionExpired
	}
	return SessionActive
}

type Parser struct {
	secret []byte
	now    func() time.Time
}

func NewParser(secret string) *Parser {
	return &Parser{secret: []byte(secret), now: time.Now}
}

func (p *Parser) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now), jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	switch claims.Role {
	case model.UserRoleAdmin, model.UserRoleCustomerAdmin, model.UserRoleEngineer:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	if claims.Role != model.UserRoleAdmin && claims.CustomerID == nil {
		return nil, fmt.Errorf("%w: missing customer_id", ErrInvalidToken)
	}
	return claims, nil
}

func (p *Parser) Issue(claims Claims, ttl time.Duration) (string, error) {
	now := p.now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}
