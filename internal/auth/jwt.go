package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

type Claims struct {
	Role string `json:"role"`

	jwt.RegisteredClaims
}

// JWT signs and verifies control-surface tokens with a shared HS256 secret.
type JWT struct {
	Secret   []byte
	Issuer   string
	TokenTTL time.Duration
}

func (j JWT) Sign(claims Claims) (token string, expiresAt time.Time, err error) {
	now := time.Now().UTC()
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.NotBefore == nil {
		claims.NotBefore = jwt.NewNumericDate(now.Add(-5 * time.Second))
	}
	if claims.ExpiresAt == nil {
		ttl := j.TokenTTL
		if ttl <= 0 {
			ttl = 12 * time.Hour
		}
		expiresAt = now.Add(ttl)
		claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	} else {
		expiresAt = claims.ExpiresAt.Time
	}
	if claims.Issuer == "" {
		claims.Issuer = j.Issuer
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := t.SignedString(j.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, expiresAt, nil
}

func (j JWT) Verify(token string) (Claims, error) {
	if len(j.Secret) == 0 {
		return Claims{}, errors.New("jwt secret is empty")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if j.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.Issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return j.Secret, nil
	}, opts...)
	if err != nil {
		return Claims{}, err
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	return *c, nil
}
