package models

import "strings"

// Global role tags carried by the user record of the dashboard.
const (
	RoleAdmin          = "admin"
	RoleProjectManager = "project_manager"
	RoleStaff          = "staff"
	RoleClient         = "client"
)

// User is the slice of the dashboard user record the chat core reads.
type User struct {
	UserID    int64  `json:"user_id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// DisplayName joins first and last name.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// ManagerTier reports staff that sees every project conversation.
func (u User) ManagerTier() bool {
	return u.Role == RoleAdmin || u.Role == RoleProjectManager
}
