package jwtutil

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin may drive the scheduler; other roles only reach tenant-scoped routes.
const RoleAdmin = "admin"

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningKey      string
	ExpirationHours int
}

// OperatorClaims are carried by tokens used against the admin API
type OperatorClaims struct {
	Role      string `json:"role,omitempty"`
	TenantKey string `json:"tenant_key,omitempty"` // empty means any tenant
	jwt.RegisteredClaims
}

// CanAccessTenant reports whether the token is scoped to key (or unscoped).
func (c *OperatorClaims) CanAccessTenant(key string) bool {
	return c.TenantKey == "" || c.TenantKey == key
}

// JWTUtil is a utility for JWT token operations
type JWTUtil struct {
	config *JWTConfig
	now    func() time.Time
}

// NewJWTUtil creates a new JWT utility with the given configuration
func NewJWTUtil(config *JWTConfig) *JWTUtil {
	return &JWTUtil{
		config: config,
		now:    time.Now,
	}
}

// GenerateToken signs an operator token for subject
func (j *JWTUtil) GenerateToken(subject, role, tenantKey string) (string, error) {
	if j.config == nil || j.config.SigningKey == "" {
		return "", errors.New("JWT configuration not provided")
	}

	now := j.now()
	claims := OperatorClaims{
		Role:      role,
		TenantKey: tenantKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(j.config.ExpirationHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.config.SigningKey))
}

// ValidateToken validates and parses the JWT token
func (j *JWTUtil) ValidateToken(tokenString string) (*OperatorClaims, error) {
	if j.config == nil || j.config.SigningKey == "" {
		return nil, errors.New("JWT configuration not provided")
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&OperatorClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(j.config.SigningKey), nil
		},
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*OperatorClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
