package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medrex/consent-ledger/pkg/config"
	"github.com/medrex/consent-ledger/pkg/types"
)

// Claims are the bearer token claims. Subject is the ledger identity id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenValidator issues and validates HS256 bearer tokens
type TokenValidator struct {
	secret   []byte
	issuer   string
	audience string
}

// NewTokenValidator creates a token validator
func NewTokenValidator(secret, issuer, audience string) *TokenValidator {
	return &TokenValidator{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}
}

// NewTokenValidatorFromConfig returns nil when JWT is disabled
func NewTokenValidatorFromConfig(cfg config.JWTConfig) *TokenValidator {
	if !cfg.Enabled {
		return nil
	}
	return NewTokenValidator(cfg.SecretKey, cfg.Issuer, cfg.Audience)
}

// ValidateJWT parses and validates a token and returns its claims
func (tv *TokenValidator) ValidateJWT(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if tv.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tv.issuer))
	}
	if tv.audience != "" {
		opts = append(opts, jwt.WithAudience(tv.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tv.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

// GenerateToken signs a token for identityID valid for ttl
func (tv *TokenValidator) GenerateToken(identityID string, role types.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			Issuer:    tv.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if tv.audience != "" {
		claims.Audience = jwt.ClaimStrings{tv.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tv.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// bearerToken extracts the token from an Authorization header value
func bearerToken(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
