// Package auth issues and verifies the signed access tokens handed to clients.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ken-lyk/qrkeeper/internal/common"
)

// DefaultTokenTTL applies when a caller asks for a non-positive ttl and the
// service was built without one.
const DefaultTokenTTL = 15 * time.Minute

// Claims carries the registered claims plus the subject's display name and role.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// Principal is what a verified token says about its bearer.
type Principal struct {
	SubjectID string
	Name      string
	Role      string
	ExpiresAt time.Time
}

// GenerateToken signs an HS256 token for subjectID valid for validityDuration.
func GenerateToken(subjectID, name, role string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		Name: name,
		Role: role,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken verifies tokenString and returns its principal. Every failure
// wraps common.ErrInvalidToken; expired tokens also wrap common.ErrTokenExpired.
func ParseToken(tokenString string, secretKey []byte) (*Principal, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", common.ErrInvalidToken, common.ErrTokenExpired)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, common.ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", common.ErrInvalidToken)
	}

	p := &Principal{SubjectID: claims.Subject, Name: claims.Name, Role: claims.Role}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// TokenService binds a secret and a default ttl taken from config.
// It holds no mutable state and is safe for concurrent use.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}
}

// TTL is the lifetime applied by Issue when no explicit ttl is given.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Issue signs a token for the subject. A non-positive ttl uses the default.
func (s *TokenService) Issue(subjectID, name, role string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	return GenerateToken(subjectID, name, role, s.secret, ttl)
}

// Verify checks signature, algorithm, expiry and subject.
func (s *TokenService) Verify(token string) (*Principal, error) {
	return ParseToken(token, s.secret)
}
