// Package auth maps user identifiers to authorization roles.
package auth

import (
	"context"
	"fmt"

	"github.com/DavidSuperwave/leadengine/internal/leads"
)

// Static authorizes from a configured admin list. Everyone else is a
// regular user.
type Static struct {
	admins map[string]struct{}
}

// NewStatic builds a Static authorizer from the admin user IDs.
func NewStatic(adminIDs []string) *Static {
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		if id == "" {
			continue
		}
		admins[id] = struct{}{}
	}
	return &Static{admins: admins}
}

// Authorize returns the role for a user ID.
func (s *Static) Authorize(_ context.Context, userID string) (leads.Role, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	if _, ok := s.admins[userID]; ok {
		return leads.RoleAdmin, nil
	}
	return leads.RoleUser, nil
}
