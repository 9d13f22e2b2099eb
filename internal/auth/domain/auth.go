// Package domain holds the identity claims the billing API trusts.
package domain

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are issued by the identity collaborator. Subject is the account id.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Timezone string `json:"tz,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) AccountID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotConfigured = errors.New("auth_not_configured")
)
