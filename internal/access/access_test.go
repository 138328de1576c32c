package access

import (
	"errors"
	"testing"
	"time"
)

var joined = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newFamily(allowInvite bool) Family {
	return Family{
		ID:         "fam-1",
		Name:       "Test Family",
		InviteCode: "ABCDEF01",
		CreatedBy:  "U1",
		Settings:   Settings{AllowChildrenToInvite: allowInvite, MaxMembers: 5},
		Members: []Member{
			{UserID: "U1", Role: RoleChild, Permissions: DerivePermissions(RoleChild, allowInvite), JoinedAt: joined},
		},
	}
}

func TestDerivePermissions(t *testing.T) {
	all := Permissions{true, true, true, true, true, true}
	manage := Permissions{ManageCalendar: true, ManageGrocery: true, ManageChores: true, ManageMeals: true}
	manageInvite := manage
	manageInvite.InviteMembers = true

	tests := []struct {
		role  Role
		allow bool
		want  Permissions
	}{
		{RoleAdmin, false, all},
		{RoleAdmin, true, all},
		{RoleParent, false, manage},
		{RoleParent, true, manageInvite},
		{RoleGuardian, true, manage},
		{RoleGuardian, false, manage},
		{RoleChild, true, Permissions{}},
		{RoleChild, false, Permissions{}},
		{Role("owner"), true, Permissions{}},
	}

	for _, tt := range tests {
		got := DerivePermissions(tt.role, tt.allow)
		if got != tt.want {
			t.Errorf("DerivePermissions(%q, %v) = %+v, want %+v", tt.role, tt.allow, got, tt.want)
		}
	}
}

func TestPermissionsAllows(t *testing.T) {
	p := DerivePermissions(RoleParent, false)
	for _, c := range Capabilities {
		want := c != ManageFamily && c != InviteMembers
		if got := p.Allows(c); got != want {
			t.Errorf("parent Allows(%q) = %v, want %v", c, got, want)
		}
	}
	if p.Allows(Capability("launch_rockets")) {
		t.Error("unknown capability should be denied")
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Guardian ")
	if err != nil {
		t.Fatalf("ParseRole error: %v", err)
	}
	if r != RoleGuardian {
		t.Errorf("ParseRole = %q, want %q", r, RoleGuardian)
	}
	if _, err := ParseRole("owner"); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("ParseRole(owner) err = %v, want ErrInvalidRole", err)
	}
}

func TestIsAuthorizedCreatorOverride(t *testing.T) {
	f := newFamily(false)
	f, err := AddMember(f, "U2", RoleChild, 5, joined)
	if err != nil {
		t.Fatalf("add member: %v", err)
	}

	if IsAuthorized(f, "U2", ManageChores) {
		t.Error("child U2 should not manage chores")
	}
	// U1 is stored as a child but created the family.
	for _, c := range Capabilities {
		if !IsAuthorized(f, "U1", c) {
			t.Errorf("creator should be authorized for %q", c)
		}
	}
}

func TestIsAuthorizedNonMember(t *testing.T) {
	f := newFamily(true)
	if IsAuthorized(f, "stranger", ManageCalendar) {
		t.Error("non-member should not be authorized")
	}
	if IsAuthorized(Family{}, "", ManageCalendar) {
		t.Error("empty user should not match an empty creator")
	}
}

func TestAddMember(t *testing.T) {
	f := newFamily(true)
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	got, err := AddMember(f, "U2", RoleParent, 5, now)
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	if len(got.Members) != 2 {
		t.Fatalf("members = %d, want 2", len(got.Members))
	}
	m, ok := got.Member("U2")
	if !ok {
		t.Fatal("U2 not found after add")
	}
	if m.Role != RoleParent {
		t.Errorf("role = %q, want %q", m.Role, RoleParent)
	}
	if !m.Permissions.InviteMembers {
		t.Error("parent should be able to invite when family allows it")
	}
	if !m.JoinedAt.Equal(now) {
		t.Errorf("joined_at = %v, want %v", m.JoinedAt, now)
	}
	if len(f.Members) != 1 {
		t.Errorf("input family mutated: members = %d, want 1", len(f.Members))
	}
}

func TestAddMemberAlreadyMember(t *testing.T) {
	f := newFamily(false)
	if _, err := AddMember(f, "U1", RoleAdmin, 5, joined); !errors.Is(err, ErrAlreadyMember) {
		t.Errorf("err = %v, want ErrAlreadyMember", err)
	}
}

func TestAddMemberLimit(t *testing.T) {
	f := newFamily(false)
	f, err := AddMember(f, "U2", RoleChild, 2, joined)
	if err != nil {
		t.Fatalf("add U2: %v", err)
	}
	if _, err := AddMember(f, "U3", RoleChild, 2, joined); !errors.Is(err, ErrMemberLimitReached) {
		t.Errorf("err = %v, want ErrMemberLimitReached", err)
	}
}

func TestAddMemberInvalidRole(t *testing.T) {
	if _, err := AddMember(newFamily(false), "U2", Role("boss"), 5, joined); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("err = %v, want ErrInvalidRole", err)
	}
}

func TestPermissionSnapshotStable(t *testing.T) {
	f := newFamily(true)
	f, err := AddMember(f, "U2", RoleParent, 5, joined)
	if err != nil {
		t.Fatalf("add member: %v", err)
	}

	f.Settings.AllowChildrenToInvite = false
	if !IsAuthorized(f, "U2", InviteMembers) {
		t.Error("settings change must not revoke a stored invite permission")
	}

	f, err = AddMember(f, "U3", RoleParent, 5, joined)
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	if IsAuthorized(f, "U3", InviteMembers) {
		t.Error("parent added after the change should not invite")
	}
}

func TestChangeRoleRecomputes(t *testing.T) {
	f := newFamily(true)
	f, _ = AddMember(f, "U2", RoleChild, 5, joined)
	f.Settings.AllowChildrenToInvite = false

	got, err := ChangeRole(f, "U2", RoleParent)
	if err != nil {
		t.Fatalf("change role: %v", err)
	}
	m, _ := got.Member("U2")
	if m.Role != RoleParent {
		t.Errorf("role = %q, want parent", m.Role)
	}
	if want := DerivePermissions(RoleParent, false); m.Permissions != want {
		t.Errorf("permissions = %+v, want %+v", m.Permissions, want)
	}
	if orig, _ := f.Member("U2"); orig.Role != RoleChild {
		t.Error("input family mutated by ChangeRole")
	}

	if _, err := ChangeRole(f, "nobody", RoleAdmin); !errors.Is(err, ErrNotMember) {
		t.Errorf("err = %v, want ErrNotMember", err)
	}
}

func TestRemoveMember(t *testing.T) {
	f := newFamily(false)
	f, _ = AddMember(f, "U2", RoleGuardian, 5, joined)

	got, err := RemoveMember(f, "U2")
	if err != nil {
		t.Fatalf("remove member: %v", err)
	}
	if _, ok := got.Member("U2"); ok {
		t.Error("U2 still present after removal")
	}
	if _, ok := f.Member("U2"); !ok {
		t.Error("input family mutated by RemoveMember")
	}

	if _, err := RemoveMember(f, "U1"); !errors.Is(err, ErrCreatorRemoval) {
		t.Errorf("err = %v, want ErrCreatorRemoval", err)
	}
	if _, err := RemoveMember(f, "U9"); !errors.Is(err, ErrNotMember) {
		t.Errorf("err = %v, want ErrNotMember", err)
	}
}

// --- invite codes ---

func TestNewInviteCodeFormat(t *testing.T) {
	seen := make(map[string]bool)
	for range 200 {
		code, err := NewInviteCode()
		if err != nil {
			t.Fatalf("new invite code: %v", err)
		}
		if !ValidInviteCode(code) {
			t.Fatalf("code %q does not match ^[0-9A-F]{8}$", code)
		}
		seen[code] = true
	}
	if len(seen) < 190 {
		t.Errorf("only %d distinct codes in 200 draws", len(seen))
	}
}

func TestValidInviteCode(t *testing.T) {
	tests := map[string]bool{
		"0A1B2C3D":  true,
		"FFFFFFFF":  true,
		"0a1b2c3d":  false,
		"0A1B2C3":   false,
		"0A1B2C3D4": false,
		"GHIJKLMN":  false,
		"":          false,
	}
	for code, want := range tests {
		if got := ValidInviteCode(code); got != want {
			t.Errorf("ValidInviteCode(%q) = %v, want %v", code, got, want)
		}
	}
}

func TestGenerateUniqueInviteCodeRetries(t *testing.T) {
	calls := 0
	var rejected []string
	code, err := GenerateUniqueInviteCode(func(c string) (bool, error) {
		calls++
		if calls <= 3 {
			rejected = append(rejected, c)
			return true, nil
		}
		return false, nil
	}, 10)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if calls != 4 {
		t.Errorf("exists called %d times, want 4", calls)
	}
	if !ValidInviteCode(code) {
		t.Errorf("code %q has wrong format", code)
	}
	for _, r := range rejected {
		if r == code {
			t.Errorf("returned code %q was reported as taken", code)
		}
	}
}

func TestGenerateUniqueInviteCodeExhausted(t *testing.T) {
	calls := 0
	_, err := GenerateUniqueInviteCode(func(string) (bool, error) {
		calls++
		return true, nil
	}, 0)
	if !errors.Is(err, ErrCodeGenerationExhausted) {
		t.Fatalf("err = %v, want ErrCodeGenerationExhausted", err)
	}
	if calls != DefaultInviteAttempts {
		t.Errorf("exists called %d times, want %d", calls, DefaultInviteAttempts)
	}
}

func TestGenerateUniqueInviteCodeCheckError(t *testing.T) {
	boom := errors.New("db down")
	_, err := GenerateUniqueInviteCode(func(string) (bool, error) { return false, boom }, 5)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
}

func TestGenerateInviteCodeWithSource(t *testing.T) {
	codes := []string{"AAAAAAAA", "BBBBBBBB"}
	i := 0
	code, err := GenerateInviteCodeWith(func() (string, error) {
		c := codes[i]
		i++
		return c, nil
	}, func(c string) (bool, error) {
		return c == "AAAAAAAA", nil
	}, 5)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if code != "BBBBBBBB" {
		t.Errorf("code = %q, want BBBBBBBB", code)
	}

	boom := errors.New("entropy")
	if _, err := GenerateInviteCodeWith(func() (string, error) { return "", boom }, nil, 5); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
}
