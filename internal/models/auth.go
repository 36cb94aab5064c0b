package models

import "slices"

type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleOrgAdmin   Role = "ORG_ADMIN"
	RoleEventHead  Role = "EVENT_HEAD"
	RoleTeamMember Role = "TEAM_MEMBER"
	RoleUser       Role = "USER"
)

var (
	AdminRoles = []Role{RoleSuperAdmin, RoleOrgAdmin, RoleEventHead}
	StaffRoles = []Role{RoleSuperAdmin, RoleOrgAdmin, RoleEventHead, RoleTeamMember}
)

// Actor is the verified caller of an operation. Roles only ever come from a
// verified token, never from request payloads.
type Actor struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Roles  []Role `json:"roles"`
	System bool   `json:"-"`
}

// SystemActor is used by background jobs such as the lottery scheduler.
var SystemActor = Actor{UserID: "system", Roles: []Role{RoleSuperAdmin}, System: true}

func (a Actor) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if slices.Contains(a.Roles, r) {
			return true
		}
	}
	return false
}

func (a Actor) IsAdmin() bool { return a.HasRole(AdminRoles...) }

func (a Actor) IsStaff() bool { return a.HasRole(StaffRoles...) }

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// M2MConfig holds client-credential settings for service-to-service calls.
type M2MConfig struct {
	KeycloakURL   string
	KeycloakRealm string
	ClientID      string
	ClientSecret  string
}
