// Package token issues and validates the bearer tokens callers present to
// the registry API. The subject of a token is the caller's registry address.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

// Claims carries the caller address alongside the registered claim set.
type Claims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// Service signs and validates HS256 access tokens.
type Service struct {
	signingKey []byte
	issuer     string
}

func NewService(signingKey string, issuer string) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
	}
}

// GenerateAccessToken mints a token binding the caller address for expiresIn.
func (s *Service) GenerateAccessToken(caller id.Address, expiresIn time.Duration) (string, error) {
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Address: caller.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})
	return newToken.SignedString(s.signingKey)
}

// ValidateToken checks the signature and expiry, returning the caller address.
func (s *Service) ValidateToken(tokenString string) (id.Address, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	caller, err := id.ParseAddress(claims.Address)
	if err != nil {
		return "", dErrors.New(dErrors.CodeUnauthorized, "token subject is not a registry address")
	}
	return caller, nil
}
