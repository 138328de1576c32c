package access

import (
	"errors"
	"slices"
	"time"
)

var (
	ErrAlreadyMember      = errors.New("user is already a member of this family")
	ErrMemberLimitReached = errors.New("family member limit reached")
	ErrNotMember          = errors.New("user is not a member of this family")
	ErrCreatorRemoval     = errors.New("family creator cannot be removed")
	ErrInvalidRole        = errors.New("invalid family role")
)

// DefaultMaxMembers applies when a family has no explicit limit.
const DefaultMaxMembers = 10

type Settings struct {
	AllowChildrenToInvite bool `json:"allow_children_to_invite"`
	MaxMembers            int  `json:"max_members"`
}

type Member struct {
	UserID      string      `json:"user_id"`
	Role        Role        `json:"role"`
	Permissions Permissions `json:"permissions"`
	JoinedAt    time.Time   `json:"joined_at"`
}

type Family struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	InviteCode string    `json:"invite_code"`
	CreatedBy  string    `json:"created_by"`
	Settings   Settings  `json:"settings"`
	Members    []Member  `json:"members"`
	CreatedAt  time.Time `json:"created_at"`
}

// Member returns the membership record for userID.
func (f Family) Member(userID string) (Member, bool) {
	i := f.memberIndex(userID)
	if i < 0 {
		return Member{}, false
	}
	return f.Members[i], true
}

func (f Family) memberIndex(userID string) int {
	return slices.IndexFunc(f.Members, func(m Member) bool { return m.UserID == userID })
}

// IsAuthorized reports whether userID may exercise c in f. The creator is
// always authorized; everyone else is judged by their stored snapshot.
func IsAuthorized(f Family, userID string, c Capability) bool {
	if userID != "" && userID == f.CreatedBy {
		return true
	}
	m, ok := f.Member(userID)
	if !ok {
		return false
	}
	return m.Permissions.Allows(c)
}

// AddMember returns a copy of f with userID appended. Permissions are derived
// from role and the family's current settings and stored as a snapshot.
func AddMember(f Family, userID string, role Role, maxMembers int, now time.Time) (Family, error) {
	if !role.Valid() {
		return f, ErrInvalidRole
	}
	if f.memberIndex(userID) >= 0 {
		return f, ErrAlreadyMember
	}
	if len(f.Members) >= maxMembers {
		return f, ErrMemberLimitReached
	}

	out := f
	out.Members = append(slices.Clone(f.Members), Member{
		UserID:      userID,
		Role:        role,
		Permissions: DerivePermissions(role, f.Settings.AllowChildrenToInvite),
		JoinedAt:    now,
	})
	return out, nil
}

// ChangeRole returns a copy of f with userID's role replaced and the
// permission snapshot recomputed from the current settings.
func ChangeRole(f Family, userID string, role Role) (Family, error) {
	if !role.Valid() {
		return f, ErrInvalidRole
	}
	i := f.memberIndex(userID)
	if i < 0 {
		return f, ErrNotMember
	}

	out := f
	out.Members = slices.Clone(f.Members)
	out.Members[i].Role = role
	out.Members[i].Permissions = DerivePermissions(role, f.Settings.AllowChildrenToInvite)
	return out, nil
}

// RemoveMember returns a copy of f without userID.
func RemoveMember(f Family, userID string) (Family, error) {
	if userID == f.CreatedBy {
		return f, ErrCreatorRemoval
	}
	i := f.memberIndex(userID)
	if i < 0 {
		return f, ErrNotMember
	}

	out := f
	out.Members = slices.Delete(slices.Clone(f.Members), i, i+1)
	return out, nil
}
