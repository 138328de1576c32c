package access

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleParent   Role = "parent"
	RoleChild    Role = "child"
	RoleGuardian Role = "guardian"
)

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleParent, RoleChild, RoleGuardian:
		return true
	}
	return false
}

type Capability string

const (
	ManageFamily   Capability = "manage_family"
	ManageCalendar Capability = "manage_calendar"
	ManageGrocery  Capability = "manage_grocery"
	ManageChores   Capability = "manage_chores"
	ManageMeals    Capability = "manage_meals"
	InviteMembers  Capability = "invite_members"
)

// Capabilities lists every capability in a stable order.
var Capabilities = []Capability{
	ManageFamily, ManageCalendar, ManageGrocery, ManageChores, ManageMeals, InviteMembers,
}

// Permissions is the capability snapshot stored with a membership.
type Permissions struct {
	ManageFamily   bool `json:"manage_family"`
	ManageCalendar bool `json:"manage_calendar"`
	ManageGrocery  bool `json:"manage_grocery"`
	ManageChores   bool `json:"manage_chores"`
	ManageMeals    bool `json:"manage_meals"`
	InviteMembers  bool `json:"invite_members"`
}

// Allows reports whether c is granted. Unknown capabilities are denied.
func (p Permissions) Allows(c Capability) bool {
	switch c {
	case ManageFamily:
		return p.ManageFamily
	case ManageCalendar:
		return p.ManageCalendar
	case ManageGrocery:
		return p.ManageGrocery
	case ManageChores:
		return p.ManageChores
	case ManageMeals:
		return p.ManageMeals
	case InviteMembers:
		return p.InviteMembers
	}
	return false
}

// DerivePermissions maps a role to its capability set. Parents may invite
// only when the family allows it at the time the snapshot is taken.
func DerivePermissions(role Role, allowChildrenToInvite bool) Permissions {
	switch role {
	case RoleAdmin:
		return Permissions{
			ManageFamily:   true,
			ManageCalendar: true,
			ManageGrocery:  true,
			ManageChores:   true,
			ManageMeals:    true,
			InviteMembers:  true,
		}
	case RoleParent:
		return Permissions{
			ManageCalendar: true,
			ManageGrocery:  true,
			ManageChores:   true,
			ManageMeals:    true,
			InviteMembers:  allowChildrenToInvite,
		}
	case RoleGuardian:
		return Permissions{
			ManageCalendar: true,
			ManageGrocery:  true,
			ManageChores:   true,
			ManageMeals:    true,
		}
	}
	return Permissions{}
}
