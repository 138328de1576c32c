package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/homebase/internal/access"
)

type FamilyStore struct {
	db             *sql.DB
	inviteAttempts int
	maxMembers     int
	joins          *access.Limiter
	now            func() time.Time
	newCode        func() (string, error)
	codeTaken      func(q querier, code string) (bool, error)
}

func NewFamilyStore(db *sql.DB) *FamilyStore {
	return &FamilyStore{
		db:             db,
		inviteAttempts: access.DefaultInviteAttempts,
		maxMembers:     access.DefaultMaxMembers,
		joins:          access.NewLimiter(access.DefaultJoinLimit, access.DefaultJoinWindow),
		now:            func() time.Time { return time.Now().UTC() },
		newCode:        access.NewInviteCode,
		codeTaken:      inviteCodeExists,
	}
}

// WithLimits overrides the invite code attempt budget and the member limit
// used for families that do not set their own.
func (s *FamilyStore) WithLimits(inviteAttempts, maxMembers int) *FamilyStore {
	if inviteAttempts > 0 {
		s.inviteAttempts = inviteAttempts
	}
	if maxMembers > 0 {
		s.maxMembers = maxMembers
	}
	return s
}

const familyCols = `id, name, invite_code, created_by, allow_children_to_invite, max_members, created_at`
const memberCols = `user_id, role, manage_family, manage_calendar, manage_grocery, manage_chores, manage_meals, invite_members, joined_at`

func scanFamily(scanner interface{ Scan(...any) error }) (*access.Family, error) {
	var f access.Family
	err := scanner.Scan(&f.ID, &f.Name, &f.InviteCode, &f.CreatedBy,
		&f.Settings.AllowChildrenToInvite, &f.Settings.MaxMembers, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func scanMember(scanner interface{ Scan(...any) error }) (*access.Member, error) {
	var m access.Member
	p := &m.Permissions
	err := scanner.Scan(&m.UserID, &m.Role, &p.ManageFamily, &p.ManageCalendar, &p.ManageGrocery,
		&p.ManageChores, &p.ManageMeals, &p.InviteMembers, &m.JoinedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts a family with a fresh invite code and its creator as admin.
// The code check and the insert share a transaction, and a UNIQUE violation
// from a concurrent creator restarts the whole attempt.
func (s *FamilyStore) Create(name, createdBy string, settings access.Settings) (*access.Family, error) {
	if settings.MaxMembers <= 0 {
		settings.MaxMembers = s.maxMembers
	}

	var lastErr error
	for range s.inviteAttempts {
		f, err := s.create(name, createdBy, settings)
		if err == nil {
			return f, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", access.ErrCodeGenerationExhausted, lastErr)
}

func (s *FamilyStore) create(name, createdBy string, settings access.Settings) (*access.Family, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	code, err := access.GenerateInviteCodeWith(s.newCode, func(code string) (bool, error) {
		return s.codeTaken(tx, code)
	}, s.inviteAttempts)
	if err != nil {
		return nil, err
	}

	now := s.now()
	f := access.Family{
		ID:         uuid.NewString(),
		Name:       name,
		InviteCode: code,
		CreatedBy:  createdBy,
		Settings:   settings,
		CreatedAt:  now,
	}
	if _, err := tx.Exec(
		`INSERT INTO families (id, name, invite_code, created_by, allow_children_to_invite, max_members, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Name, f.InviteCode, f.CreatedBy, settings.AllowChildrenToInvite, settings.MaxMembers, now,
	); err != nil {
		return nil, fmt.Errorf("insert family: %w", err)
	}

	f, err = access.AddMember(f, createdBy, access.RoleAdmin, settings.MaxMembers, now)
	if err != nil {
		return nil, err
	}
	if err := insertMember(tx, f.ID, f.Members[0]); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit family: %w", err)
	}
	return &f, nil
}

func insertMember(q querier, familyID string, m access.Member) error {
	p := m.Permissions
	_, err := q.Exec(
		`INSERT INTO family_members (family_id, `+memberCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		familyID, m.UserID, string(m.Role), p.ManageFamily, p.ManageCalendar, p.ManageGrocery,
		p.ManageChores, p.ManageMeals, p.InviteMembers, m.JoinedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return access.ErrAlreadyMember
	}
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func inviteCodeExists(q querier, code string) (bool, error) {
	var count int
	if err := q.QueryRow(`SELECT COUNT(*) FROM families WHERE invite_code = ?`, code).Scan(&count); err != nil {
		return false, fmt.Errorf("check invite code: %w", err)
	}
	return count > 0, nil
}

// InviteCodeExists is a point-in-time read; see Create for the race-free path.
func (s *FamilyStore) InviteCodeExists(code string) (bool, error) {
	return inviteCodeExists(s.db, code)
}

func (s *FamilyStore) GetByID(id string) (*access.Family, error) {
	return getFamily(s.db, `SELECT `+familyCols+` FROM families WHERE id = ?`, id)
}

func (s *FamilyStore) GetByInviteCode(code string) (*access.Family, error) {
	if !access.ValidInviteCode(code) {
		return nil, nil
	}
	return getFamily(s.db, `SELECT `+familyCols+` FROM families WHERE invite_code = ?`, code)
}

func getFamily(q querier, query string, arg any) (*access.Family, error) {
	f, err := scanFamily(q.QueryRow(query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family: %w", err)
	}
	members, err := listMembers(q, f.ID)
	if err != nil {
		return nil, err
	}
	f.Members = members
	return f, nil
}

func listMembers(q querier, familyID string) ([]access.Member, error) {
	rows, err := q.Query(
		`SELECT `+memberCols+` FROM family_members WHERE family_id = ? ORDER BY joined_at ASC, id ASC`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []access.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// ListForUser returns every family userID belongs to, without members.
func (s *FamilyStore) ListForUser(userID string) ([]access.Family, error) {
	rows, err := s.db.Query(
		`SELECT f.id, f.name, f.invite_code, f.created_by, f.allow_children_to_invite, f.max_members, f.created_at
		 FROM families f
		 JOIN family_members fm ON f.id = fm.family_id
		 WHERE fm.user_id = ?
		 ORDER BY f.name ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list families for user: %w", err)
	}
	defer rows.Close()

	var families []access.Family
	for rows.Next() {
		f, err := scanFamily(rows)
		if err != nil {
			return nil, fmt.Errorf("scan family: %w", err)
		}
		families = append(families, *f)
	}
	return families, rows.Err()
}

// AddMember adds userID with a permission snapshot derived from the family's
// settings at this moment.
func (s *FamilyStore) AddMember(familyID, userID string, role access.Role) (*access.Family, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	f, err := getFamily(tx, `SELECT `+familyCols+` FROM families WHERE id = ?`, familyID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ErrNotFound
	}

	limit := f.Settings.MaxMembers
	if limit <= 0 {
		limit = s.maxMembers
	}
	updated, err := access.AddMember(*f, userID, role, limit, s.now())
	if err != nil {
		return nil, err
	}
	added, _ := updated.Member(userID)
	if err := insertMember(tx, familyID, added); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit member: %w", err)
	}
	return &updated, nil
}

// WithJoinLimit replaces the per-user budget for JoinByInviteCode attempts.
func (s *FamilyStore) WithJoinLimit(limit int, period time.Duration) *FamilyStore {
	s.joins = access.NewLimiter(limit, period)
	return s
}

// CleanupJoins forgets join-attempt windows that have expired.
func (s *FamilyStore) CleanupJoins() {
	s.joins.Cleanup()
}

// JoinByInviteCode adds userID to the family owning code. Attempts are
// counted per user, successful or not.
func (s *FamilyStore) JoinByInviteCode(code, userID string, role access.Role) (*access.Family, error) {
	if !s.joins.Allow(userID) {
		return nil, access.ErrTooManyAttempts
	}
	f, err := s.GetByInviteCode(code)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ErrNotFound
	}
	return s.AddMember(f.ID, userID, role)
}

// ChangeMemberRole replaces a member's role and recomputes the stored
// snapshot from the family's current settings.
func (s *FamilyStore) ChangeMemberRole(familyID, userID string, role access.Role) (*access.Family, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	f, err := getFamily(tx, `SELECT `+familyCols+` FROM families WHERE id = ?`, familyID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ErrNotFound
	}

	updated, err := access.ChangeRole(*f, userID, role)
	if err != nil {
		return nil, err
	}
	m, _ := updated.Member(userID)
	p := m.Permissions
	_, err = tx.Exec(
		`UPDATE family_members
		 SET role = ?, manage_family = ?, manage_calendar = ?, manage_grocery = ?, manage_chores = ?, manage_meals = ?, invite_members = ?
		 WHERE family_id = ? AND user_id = ?`,
		string(role), p.ManageFamily, p.ManageCalendar, p.ManageGrocery, p.ManageChores, p.ManageMeals, p.InviteMembers,
		familyID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("update member role: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit member role: %w", err)
	}
	return &updated, nil
}

func (s *FamilyStore) RemoveMember(familyID, userID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	f, err := getFamily(tx, `SELECT `+familyCols+` FROM families WHERE id = ?`, familyID)
	if err != nil {
		return err
	}
	if f == nil {
		return ErrNotFound
	}
	if _, err := access.RemoveMember(*f, userID); err != nil {
		return err
	}

	_, err = tx.Exec(`DELETE FROM family_members WHERE family_id = ? AND user_id = ?`, familyID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit member removal: %w", err)
	}
	return nil
}

// UpdateSettings changes family settings. Stored member snapshots are left
// untouched; only later joins and role changes see the new values.
func (s *FamilyStore) UpdateSettings(familyID string, settings access.Settings) (*access.Family, error) {
	if settings.MaxMembers <= 0 {
		settings.MaxMembers = s.maxMembers
	}
	res, err := s.db.Exec(
		`UPDATE families SET allow_children_to_invite = ?, max_members = ?, updated_at = ? WHERE id = ?`,
		settings.AllowChildrenToInvite, settings.MaxMembers, s.now(), familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("update family settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetByID(familyID)
}

// Authorize loads the family and applies access.IsAuthorized.
func (s *FamilyStore) Authorize(familyID, userID string, c access.Capability) (bool, error) {
	f, err := s.GetByID(familyID)
	if err != nil {
		return false, err
	}
	if f == nil {
		return false, nil
	}
	return access.IsAuthorized(*f, userID, c), nil
}

func (s *FamilyStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM families WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete family: %w", err)
	}
	return nil
}

// ErrNotFound is returned by mutating calls that target a missing row.
var ErrNotFound = errors.New("not found")
