package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "worksuite"

var errMissingSecret = errors.New("auth secret is not configured")

// Claims represents the signed token payload. A token is only a capability:
// it must still be redeemed against the live session named by SessionID.
type Claims struct {
	AccountID string `json:"uid"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	ClientID  string `json:"cid,omitempty"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// SignToken signs claims with HS256, stamping iat and exp = now + ttl.
func SignToken(claims Claims, secret []byte, ttl time.Duration) (string, error) {
	return signTokenAt(claims, secret, ttl, time.Now())
}

func signTokenAt(claims Claims, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errMissingSecret
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	if strings.TrimSpace(claims.AccountID) == "" {
		return "", errors.New("account id is required")
	}
	now = now.UTC()
	claims.Issuer = issuer
	claims.Subject = claims.AccountID
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks the signature and expiry of token. Every failure,
// including malformed input, yields ErrInvalidToken.
func VerifyToken(token string, secret []byte) (*Claims, error) {
	return verifyTokenAt(token, secret, time.Now)
}

func verifyTokenAt(token string, secret []byte, now func() time.Time) (*Claims, error) {
	return parseToken(token, secret,
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(now),
	)
}

// ParseTokenIgnoringExpiry verifies the signature but skips time-based claim
// validation. It exists for logout, which must still locate the session of a
// stale token.
func ParseTokenIgnoringExpiry(token string, secret []byte) (*Claims, error) {
	return parseToken(token, secret, jwt.WithoutClaimsValidation())
}

func parseToken(token string, secret []byte, opts ...jwt.ParserOption) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(secret) == 0 {
		return nil, ErrInvalidToken
	}
	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
	)
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.AccountID) == "" || strings.TrimSpace(claims.SessionID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
