package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StaffClaims is the JWT payload for staff sessions. Credential issuance is
// owned by the separate staff auth system; this module only validates.
type StaffClaims struct {
	Reviewer string `json:"reviewer"`
	IsStaff  bool   `json:"is_staff"`
	jwt.RegisteredClaims
}

// GenerateStaffToken creates a signed staff token. Used by tooling and tests.
func GenerateStaffToken(reviewer string, secret string, ttl time.Duration) (string, error) {
	claims := &StaffClaims{
		Reviewer: reviewer,
		IsStaff:  true,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "coalition-staff",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign staff token: %w", err)
	}
	return signed, nil
}

// ValidateStaffToken parses and validates a staff token.
func ValidateStaffToken(tokenString, secret string) (*StaffClaims, error) {
	claims := &StaffClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
