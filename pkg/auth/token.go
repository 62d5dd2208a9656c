package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	ScopeEventsRead  = "events:read"
	ScopeEventsWrite = "events:write"
	DefaultScope     = ScopeEventsRead + "," + ScopeEventsWrite
)

// APIClaims identify the tenant an API caller acts for.
type APIClaims struct {
	jwt.RegisteredClaims
	CompanyID int64  `json:"company_id"`
	Scope     string `json:"scope"`
}

type TokenManager struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
}

func NewTokenManager(signingKey []byte, ttl time.Duration, issuer string) *TokenManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if issuer == "" {
		issuer = "automation"
	}
	return &TokenManager{signingKey: signingKey, ttl: ttl, issuer: issuer}
}

func (m *TokenManager) Generate(companyID int64, scope string) (string, error) {
	if scope == "" {
		scope = DefaultScope
	}
	now := time.Now()
	claims := APIClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   strconv.FormatInt(companyID, 10),
			Issuer:    m.issuer,
		},
		CompanyID: companyID,
		Scope:     scope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

func (m *TokenManager) Validate(tokenString string) (*APIClaims, error) {
	if len(m.signingKey) == 0 {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &APIClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(m.issuer))

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*APIClaims)
	if !ok || !token.Valid || claims.CompanyID <= 0 {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (c *APIClaims) HasScope(required string) bool {
	scopes := strings.Split(c.Scope, ",")
	for _, scope := range scopes {
		if strings.TrimSpace(scope) == required {
			return true
		}
	}
	return false
}
