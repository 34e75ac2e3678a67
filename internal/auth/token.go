package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dydact/scrive-aci-sub002/internal"
)

// Claims is the subset of the host EHR token the engine relies on. The
// subject carries the numeric user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid subject %q", c.Subject)
	}
	return id, nil
}

// TokenVerifier validates bearer tokens issued by the host platform.
type TokenVerifier struct {
	secret    []byte
	publicKey *rsa.PublicKey
	issuer    string
}

func NewTokenVerifier(cfg internal.SecurityConfig) (*TokenVerifier, error) {
	v := &TokenVerifier{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.JWTIssuer,
	}
	if cfg.JWTPublicKey != "" {
		key, err := cfg.GetPublicKey()
		if err != nil {
			return nil, err
		}
		v.publicKey = key
	}
	if len(v.secret) == 0 && v.publicKey == nil {
		return nil, errors.New("no token verification key configured")
	}
	return v, nil
}

func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "RS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(v.secret) == 0 {
				return nil, errors.New("HMAC tokens are not accepted")
			}
			return v.secret, nil
		case *jwt.SigningMethodRSA:
			if v.publicKey == nil {
				return nil, errors.New("RSA tokens are not accepted")
			}
			return v.publicKey, nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, internal.ErrTokenExpired
		}
		return nil, internal.NewUnauthorizedError("Invalid token", internal.ErrCodeInvalidToken).WithCause(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, internal.ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, internal.NewUnauthorizedError("Invalid token", internal.ErrCodeInvalidToken).WithCause(err)
	}
	return claims, nil
}

// SignHS256 issues a token in the host platform's format. The seed command
// uses it to hand out development tokens.
func SignHS256(secret, issuer string, userID int64, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
