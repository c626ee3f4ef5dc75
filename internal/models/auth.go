package models

import "github.com/golang-jwt/jwt/v5"

// UserRole identifies the caller's staff role.
type UserRole string

const (
	RoleAdmin        UserRole = "admin"
	RoleClinician    UserRole = "clinician"
	RoleReceptionist UserRole = "receptionist"
)

// JWTClaims captures the custom claims carried by access tokens.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}
