package store

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/homebase/internal/access"
	"github.com/dukerupert/homebase/internal/database"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupFamilyTestDB(t *testing.T) *FamilyStore {
	t.Helper()
	return NewFamilyStore(openTestDB(t))
}

func TestFamilyCreate(t *testing.T) {
	fs := setupFamilyTestDB(t)

	f, err := fs.Create("The Smiths", "U1", access.Settings{})
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	if f.ID == "" {
		t.Error("expected generated family ID")
	}
	if !access.ValidInviteCode(f.InviteCode) {
		t.Errorf("invite code %q has wrong format", f.InviteCode)
	}
	if f.Settings.MaxMembers != access.DefaultMaxMembers {
		t.Errorf("max_members = %d, want %d", f.Settings.MaxMembers, access.DefaultMaxMembers)
	}

	got, err := fs.GetByID(f.ID)
	if err != nil {
		t.Fatalf("get family: %v", err)
	}
	if got == nil {
		t.Fatal("family not found after create")
	}
	if got.Name != "The Smiths" {
		t.Errorf("name = %q, want %q", got.Name, "The Smiths")
	}
	if len(got.Members) != 1 {
		t.Fatalf("members = %d, want 1", len(got.Members))
	}
	creator := got.Members[0]
	if creator.UserID != "U1" || creator.Role != access.RoleAdmin {
		t.Errorf("creator = %+v, want U1 admin", creator)
	}
	if creator.Permissions != access.DerivePermissions(access.RoleAdmin, false) {
		t.Errorf("creator permissions = %+v", creator.Permissions)
	}
}

func TestFamilyCreateDistinctCodes(t *testing.T) {
	fs := setupFamilyTestDB(t)

	seen := make(map[string]bool)
	for range 20 {
		f, err := fs.Create("F", "U1", access.Settings{})
		if err != nil {
			t.Fatalf("create family: %v", err)
		}
		if seen[f.InviteCode] {
			t.Fatalf("duplicate invite code %q", f.InviteCode)
		}
		seen[f.InviteCode] = true
	}
}

func TestFamilyGetNotFound(t *testing.T) {
	fs := setupFamilyTestDB(t)

	got, err := fs.GetByID("missing")
	if err != nil {
		t.Fatalf("get family: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing family")
	}

	got, err = fs.GetByInviteCode("not-a-code")
	if err != nil {
		t.Fatalf("get by invite code: %v", err)
	}
	if got != nil {
		t.Error("expected nil for malformed invite code")
	}
}

func TestFamilyInviteCodeLookup(t *testing.T) {
	fs := setupFamilyTestDB(t)

	f, err := fs.Create("F", "U1", access.Settings{})
	if err != nil {
		t.Fatalf("create family: %v", err)
	}

	exists, err := fs.InviteCodeExists(f.InviteCode)
	if err != nil {
		t.Fatalf("invite code exists: %v", err)
	}
	if !exists {
		t.Error("expected invite code to exist")
	}

	got, err := fs.GetByInviteCode(f.InviteCode)
	if err != nil {
		t.Fatalf("get by invite code: %v", err)
	}
	if got == nil || got.ID != f.ID {
		t.Errorf("got %+v, want family %s", got, f.ID)
	}
}

func TestFamilyMembers(t *testing.T) {
	fs := setupFamilyTestDB(t)

	f, err := fs.Create("F", "U1", access.Settings{AllowChildrenToInvite: true, MaxMembers: 3})
	if err != nil {
		t.Fatalf("create family: %v", err)
	}

	f, err = fs.AddMember(f.ID, "U2", access.RoleParent)
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	m, ok := f.Member("U2")
	if !ok || !m.Permissions.InviteMembers {
		t.Errorf("U2 = %+v, want parent with invite", m)
	}

	if _, err := fs.AddMember(f.ID, "U2", access.RoleChild); !errors.Is(err, access.ErrAlreadyMember) {
		t.Errorf("duplicate add err = %v, want ErrAlreadyMember", err)
	}

	if _, err := fs.JoinByInviteCode(f.InviteCode, "U3", access.RoleChild); err != nil {
		t.Fatalf("join by invite code: %v", err)
	}
	if _, err := fs.AddMember(f.ID, "U4", access.RoleChild); !errors.Is(err, access.ErrMemberLimitReached) {
		t.Errorf("over limit err = %v, want ErrMemberLimitReached", err)
	}

	if err := fs.RemoveMember(f.ID, "U1"); !errors.Is(err, access.ErrCreatorRemoval) {
		t.Errorf("remove creator err = %v, want ErrCreatorRemoval", err)
	}
	if err := fs.RemoveMember(f.ID, "U3"); err != nil {
		t.Fatalf("remove member: %v", err)
	}

	got, _ := fs.GetByID(f.ID)
	if len(got.Members) != 2 {
		t.Errorf("members = %d, want 2", len(got.Members))
	}
	if _, err := fs.AddMember("missing", "U5", access.RoleChild); !errors.Is(err, ErrNotFound) {
		t.Errorf("add to missing family err = %v, want ErrNotFound", err)
	}
}

func TestFamilySettingsKeepSnapshots(t *testing.T) {
	fs := setupFamilyTestDB(t)

	f, _ := fs.Create("F", "U1", access.Settings{AllowChildrenToInvite: true})
	if _, err := fs.AddMember(f.ID, "U2", access.RoleParent); err != nil {
		t.Fatalf("add member: %v", err)
	}

	if _, err := fs.UpdateSettings(f.ID, access.Settings{AllowChildrenToInvite: false}); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	ok, err := fs.Authorize(f.ID, "U2", access.InviteMembers)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !ok {
		t.Error("stored snapshot should still allow U2 to invite")
	}

	if _, err := fs.AddMember(f.ID, "U3", access.RoleParent); err != nil {
		t.Fatalf("add member: %v", err)
	}
	ok, _ = fs.Authorize(f.ID, "U3", access.InviteMembers)
	if ok {
		t.Error("parent added after settings change should not invite")
	}

	// A role change picks up the current settings.
	if _, err := fs.ChangeMemberRole(f.ID, "U2", access.RoleParent); err != nil {
		t.Fatalf("change role: %v", err)
	}
	ok, _ = fs.Authorize(f.ID, "U2", access.InviteMembers)
	if ok {
		t.Error("role change should recompute invite permission")
	}
}

func TestFamilyAuthorizeCreatorOverride(t *testing.T) {
	fs := setupFamilyTestDB(t)

	f, _ := fs.Create("F", "U1", access.Settings{})
	if _, err := fs.ChangeMemberRole(f.ID, "U1", access.RoleChild); err != nil {
		t.Fatalf("demote creator: %v", err)
	}

	for _, c := range access.Capabilities {
		ok, err := fs.Authorize(f.ID, "U1", c)
		if err != nil {
			t.Fatalf("authorize: %v", err)
		}
		if !ok {
			t.Errorf("creator denied %q", c)
		}
	}

	ok, err := fs.Authorize("missing", "U1", access.ManageFamily)
	if err != nil || ok {
		t.Errorf("missing family = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestFamilyListForUserAndDelete(t *testing.T) {
	fs := setupFamilyTestDB(t)

	a, _ := fs.Create("Alpha", "U1", access.Settings{})
	b, _ := fs.Create("Beta", "U2", access.Settings{})
	if _, err := fs.AddMember(b.ID, "U1", access.RoleGuardian); err != nil {
		t.Fatalf("add member: %v", err)
	}

	families, err := fs.ListForUser("U1")
	if err != nil {
		t.Fatalf("list for user: %v", err)
	}
	if len(families) != 2 || families[0].ID != a.ID || families[1].ID != b.ID {
		t.Errorf("families = %+v, want [Alpha Beta]", families)
	}

	if err := fs.Delete(a.ID); err != nil {
		t.Fatalf("delete family: %v", err)
	}
	families, _ = fs.ListForUser("U1")
	if len(families) != 1 {
		t.Errorf("after delete families = %d, want 1", len(families))
	}
}

func TestFamilyJoinLimit(t *testing.T) {
	fs := setupFamilyTestDB(t).WithJoinLimit(2, time.Hour)

	f, _ := fs.Create("F", "U1", access.Settings{})
	for range 2 {
		// A wrong guess still spends an attempt.
		if _, err := fs.JoinByInviteCode("00000000", "U9", access.RoleChild); !errors.Is(err, ErrNotFound) {
			t.Fatalf("guess err = %v, want ErrNotFound", err)
		}
	}
	if _, err := fs.JoinByInviteCode(f.InviteCode, "U9", access.RoleChild); !errors.Is(err, access.ErrTooManyAttempts) {
		t.Errorf("third attempt err = %v, want ErrTooManyAttempts", err)
	}
	if _, err := fs.JoinByInviteCode(f.InviteCode, "U2", access.RoleChild); err != nil {
		t.Errorf("other user join: %v", err)
	}
}

// codeSequence returns codes in order, repeating the last one.
func codeSequence(codes ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		c := codes[min(i, len(codes)-1)]
		i++
		return c, nil
	}
}

// A stale existence check lets a taken code through to the insert, as a
// concurrent creator would; the UNIQUE index must force a fresh attempt.
func staleCheck(querier, string) (bool, error) { return false, nil }

func TestFamilyCreateRetriesOnCodeConflict(t *testing.T) {
	fs := setupFamilyTestDB(t)
	fs.newCode = codeSequence("AAAAAAAA")
	first, err := fs.Create("First", "U1", access.Settings{})
	if err != nil {
		t.Fatalf("create first family: %v", err)
	}

	fs.newCode = codeSequence("AAAAAAAA", "BBBBBBBB")
	fs.codeTaken = staleCheck
	second, err := fs.Create("Second", "U2", access.Settings{})
	if err != nil {
		t.Fatalf("create after conflict: %v", err)
	}
	if second.InviteCode != "BBBBBBBB" {
		t.Errorf("invite code = %q, want BBBBBBBB", second.InviteCode)
	}

	families, err := fs.ListForUser("U2")
	if err != nil {
		t.Fatalf("list for user: %v", err)
	}
	if len(families) != 1 || families[0].ID != second.ID {
		t.Errorf("U2 families = %+v, want only the second family", families)
	}
	if got, _ := fs.GetByInviteCode("AAAAAAAA"); got == nil || got.ID != first.ID {
		t.Errorf("AAAAAAAA resolves to %+v, want first family", got)
	}
}

func TestFamilyCreateCodeExhausted(t *testing.T) {
	tests := []struct {
		name  string
		stale bool
	}{
		{"existence check", false},
		{"unique conflict", true},
	}

	for _, tt := range tests {
		fs := setupFamilyTestDB(t).WithLimits(3, 0)
		fs.newCode = codeSequence("CCCCCCCC")
		if _, err := fs.Create("Taken", "U1", access.Settings{}); err != nil {
			t.Fatalf("%s: create first family: %v", tt.name, err)
		}
		if tt.stale {
			fs.codeTaken = staleCheck
		}

		_, err := fs.Create("Again", "U2", access.Settings{})
		if !errors.Is(err, access.ErrCodeGenerationExhausted) {
			t.Errorf("%s: err = %v, want ErrCodeGenerationExhausted", tt.name, err)
		}
		if families, _ := fs.ListForUser("U2"); len(families) != 0 {
			t.Errorf("%s: failed create left %d families behind", tt.name, len(families))
		}
	}
}

func TestFamilyCleanupJoins(t *testing.T) {
	fs := setupFamilyTestDB(t).WithJoinLimit(5, time.Millisecond)

	for _, u := range []string{"U1", "U2", "U3"} {
		fs.JoinByInviteCode("00000000", u, access.RoleChild)
	}
	if n := fs.joins.Len(); n != 3 {
		t.Fatalf("tracked users = %d, want 3", n)
	}

	time.Sleep(5 * time.Millisecond)
	fs.CleanupJoins()
	if n := fs.joins.Len(); n != 0 {
		t.Errorf("tracked users after cleanup = %d, want 0", n)
	}
}

func TestFamilyMemberChangesOnMissingFamily(t *testing.T) {
	fs := setupFamilyTestDB(t)

	if _, err := fs.ChangeMemberRole("missing", "U1", access.RoleChild); !errors.Is(err, ErrNotFound) {
		t.Errorf("change role err = %v, want ErrNotFound", err)
	}
	if err := fs.RemoveMember("missing", "U1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("remove member err = %v, want ErrNotFound", err)
	}

	f, _ := fs.Create("F", "U1", access.Settings{})
	if _, err := fs.ChangeMemberRole(f.ID, "U2", access.RoleChild); err == nil {
		t.Error("changing a non-member's role should fail")
	}
	if err := fs.RemoveMember(f.ID, "U2"); err == nil {
		t.Error("removing a non-member should fail")
	}
	got, _ := fs.GetByID(f.ID)
	if len(got.Members) != 1 || got.Members[0].Role != access.RoleAdmin {
		t.Errorf("members = %+v, want creator unchanged", got.Members)
	}
}
