package pto

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/warp/pto-service/record"
)

const (
	minSearchLength  = 2
	localSearchFloor = 5
	maxSearchResults = 10

	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

// Match sources reported in UserMatch.Source.
const (
	SourceLocal     = "local"
	SourceDirectory = "directory"
)

// UserMatch is one search hit. UserID is empty for directory-only accounts.
type UserMatch struct {
	UserID      string `json:"user_id,omitempty"`
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Source      string `json:"source"`
}

// ManagerRef is a manager or executive manager of one of a user's teams.
type ManagerRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	TeamID string `json:"team_id"`
}

// UserUpdate edits a profile. Nil fields are left unchanged. Balance maps
// cannot be set here; see SetAllocation and BalanceCalculator.
type UserUpdate struct {
	DisplayName     *string             `json:"display_name,omitempty"`
	Email           *string             `json:"email,omitempty"`
	TeamMemberships *[]TeamMembership   `json:"team_memberships,omitempty"`
	EmploymentType  *EmploymentType     `json:"employment_type,omitempty"`
	Availability    *map[string]float64 `json:"availability,omitempty"`
	IsAdmin         *bool               `json:"is_admin,omitempty"`
	Accounting      *Accounting         `json:"pto_accounting,omitempty"`
	HireDate        *string             `json:"hire_date,omitempty"`
	Status          *string             `json:"status,omitempty"`
}

// UserService manages user records and identity lookups.
type UserService struct {
	records   *record.Store
	directory Directory
	balances  *BalanceCalculator
	logger    *zap.Logger
}

func NewUserService(records *record.Store, directory Directory, balances *BalanceCalculator, logger *zap.Logger) *UserService {
	return &UserService{records: records, directory: directory, balances: balances, logger: logger}
}

// =============================================================================
// IDENTITY
// =============================================================================

// GetOrCreateCurrentUser returns the user for the caller's directory account,
// creating it with default employment values on first sight.
func (s *UserService) GetOrCreateCurrentUser(ctx context.Context) (*User, error) {
	if s.directory == nil {
		return nil, ErrNoCaller
	}
	acct, err := s.directory.CurrentUser(ctx)
	if err != nil {
		if errors.Is(err, ErrNoCaller) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrNoCaller, err)
	}
	if acct == nil || acct.AccountID == "" {
		return nil, ErrNoCaller
	}

	recs, err := s.records.FindByField(ctx, Users, "account_id", acct.AccountID)
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 {
		return decodeOne[User](recs[0])
	}

	u := User{
		ID:          acct.AccountID,
		AccountID:   acct.AccountID,
		DisplayName: acct.DisplayName,
		Email:       acct.Email,
	}
	created, err := s.create(ctx, u)
	if record.IsConflict(err) {
		// The id is taken, by a concurrent first login or an admin create.
		return s.Get(ctx, u.ID)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("user created from directory", zap.String("account_id", acct.AccountID))
	return created, nil
}

// SearchUsers matches local users by name or email and tops up from the
// directory when fewer than five match locally.
func (s *UserService) SearchUsers(ctx context.Context, query string) ([]UserMatch, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < minSearchLength {
		return []UserMatch{}, nil
	}

	recs, err := s.records.Query(ctx, Users, record.Or(
		record.ContainsFold("display_name", query),
		record.ContainsFold("email", query),
	))
	if err != nil {
		return nil, err
	}
	local, err := decodeAll[User](recs)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(local, func(i, j int) bool { return local[i].DisplayName < local[j].DisplayName })

	out := make([]UserMatch, 0, maxSearchResults)
	known := map[string]bool{}
	for _, u := range local {
		if len(out) == maxSearchResults {
			break
		}
		out = append(out, UserMatch{
			UserID:      u.ID,
			AccountID:   u.AccountID,
			DisplayName: u.DisplayName,
			Email:       u.Email,
			Source:      SourceLocal,
		})
		if u.AccountID != "" {
			known[u.AccountID] = true
		}
	}

	if len(out) >= localSearchFloor || s.directory == nil {
		return out, nil
	}

	accounts, err := s.directory.SearchUsers(ctx, query)
	if err != nil {
		s.logger.Warn("directory search failed, returning local matches",
			zap.String("query", query),
			zap.Error(err),
		)
		return out, nil
	}
	for _, a := range accounts {
		if len(out) == maxSearchResults {
			break
		}
		if !a.Active || a.AccountID == "" || known[a.AccountID] {
			continue
		}
		known[a.AccountID] = true
		out = append(out, UserMatch{
			AccountID:   a.AccountID,
			DisplayName: a.DisplayName,
			Email:       a.Email,
			Source:      SourceDirectory,
		})
	}
	return out, nil
}

// GetUserManagers lists the managers of the teams the user is a Member of.
// Duplicates are dropped; the first occurrence wins.
func (s *UserService) GetUserManagers(ctx context.Context, userID string) ([]ManagerRef, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := []ManagerRef{}
	seen := map[string]bool{}
	add := func(ref ManagerRef) {
		if ref.ID == "" || seen[ref.ID] {
			return
		}
		seen[ref.ID] = true
		out = append(out, ref)
	}

	for _, m := range u.TeamMemberships {
		if m.Role != RoleMember {
			continue
		}
		rec, err := s.records.GetByID(ctx, Teams, m.TeamID)
		if err != nil {
			return nil, err
		}
		team, err := decodeOne[Team](rec)
		if err != nil {
			return nil, err
		}
		if team == nil {
			s.logger.Warn("membership references missing team",
				zap.String("user_id", userID),
				zap.String("team_id", m.TeamID),
			)
			continue
		}
		add(ManagerRef{ID: team.ManagerID, Name: team.ManagerName, Email: team.ManagerEmail, Role: RoleManager, TeamID: team.ID})
		add(ManagerRef{ID: team.ExecutiveManagerID, Name: team.ExecutiveManagerName, Email: team.ExecutiveManagerEmail, Role: RoleExecutiveManager, TeamID: team.ID})
	}
	return out, nil
}

// =============================================================================
// ADMINISTRATION
// =============================================================================

// Get returns a user or a NotFoundError.
func (s *UserService) Get(ctx context.Context, id string) (*User, error) {
	rec, err := s.records.GetByID(ctx, Users, id)
	if err != nil {
		return nil, err
	}
	u, err := decodeOne[User](rec)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, &record.NotFoundError{Collection: Users, ID: id}
	}
	return u, nil
}

// List returns every user ordered by display name.
func (s *UserService) List(ctx context.Context) ([]User, error) {
	recs, err := s.records.Query(ctx, Users)
	if err != nil {
		return nil, err
	}
	users, err := decodeAll[User](recs)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(users, func(i, j int) bool { return users[i].DisplayName < users[j].DisplayName })
	return users, nil
}

// Create stores a new user. Missing employment and allocation values take
// the defaults. An id that is already stored fails with *record.ConflictError
// and the stored user is left as it was.
func (s *UserService) Create(ctx context.Context, u User) (*User, error) {
	if strings.TrimSpace(u.DisplayName) == "" && strings.TrimSpace(u.Email) == "" {
		return nil, invalid("display_name", "a display name or email is required")
	}
	return s.create(ctx, u)
}

func (s *UserService) create(ctx context.Context, u User) (*User, error) {
	if err := validateAllocation(u.Allocation); err != nil {
		return nil, err
	}
	applyDefaults(&u)
	if err := validateProfile(&u); err != nil {
		return nil, err
	}
	rec, err := record.From(u)
	if err != nil {
		return nil, err
	}
	created, err := s.records.Create(ctx, Users, rec)
	if err != nil {
		return nil, err
	}
	return decodeOne[User](created)
}

// Update applies a profile edit and recomputes the derived flags.
func (s *UserService) Update(ctx context.Context, id string, in UserUpdate) (*User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := record.Record{}
	if in.DisplayName != nil {
		u.DisplayName = *in.DisplayName
		fields["display_name"] = u.DisplayName
	}
	if in.Email != nil {
		u.Email = *in.Email
		fields["email"] = u.Email
	}
	if in.TeamMemberships != nil {
		u.TeamMemberships = *in.TeamMemberships
		fields["team_memberships"] = u.TeamMemberships
	}
	if in.EmploymentType != nil {
		u.EmploymentType = *in.EmploymentType
		fields["employment_type"] = string(u.EmploymentType)
	}
	if in.Availability != nil {
		u.Availability = *in.Availability
		fields["availability"] = u.Availability
	}
	if in.IsAdmin != nil {
		fields["is_admin"] = *in.IsAdmin
	}
	if in.Accounting != nil {
		u.Accounting = *in.Accounting
		fields["pto_accounting"] = string(u.Accounting)
	}
	if in.HireDate != nil {
		u.HireDate = *in.HireDate
		fields["hire_date"] = u.HireDate
	}
	if in.Status != nil {
		u.Status = *in.Status
		fields["status"] = u.Status
	}

	if err := validateProfile(u); err != nil {
		return nil, err
	}
	return s.writeProfile(ctx, u, fields)
}

// SetAllocation replaces the yearly allocation and recalculates the balance.
func (s *UserService) SetAllocation(ctx context.Context, id string, alloc DayCounts) (*Balance, error) {
	if err := validateAllocation(alloc); err != nil {
		return nil, err
	}
	if _, err := s.records.Update(ctx, Users, id, record.Record{"pto_allocation": alloc}); err != nil {
		return nil, err
	}
	return s.balances.Recalculate(ctx, id)
}

// Deactivate marks a user inactive. The record and its requests are kept.
func (s *UserService) Deactivate(ctx context.Context, id string) (*User, error) {
	updated, err := s.records.Update(ctx, Users, id, record.Record{"status": UserStatusInactive})
	if err != nil {
		return nil, err
	}
	return decodeOne[User](updated)
}

// setMemberships stores a new membership list with the flags it implies.
func (s *UserService) setMemberships(ctx context.Context, u *User, memberships []TeamMembership) (*User, error) {
	u.TeamMemberships = memberships
	if err := validateProfile(u); err != nil {
		return nil, err
	}
	return s.writeProfile(ctx, u, record.Record{"team_memberships": memberships})
}

func (s *UserService) writeProfile(ctx context.Context, u *User, fields record.Record) (*User, error) {
	u.deriveFlags()
	fields["is_manager"] = u.IsManager
	fields["is_executive_manager"] = u.IsExecutiveManager
	fields["capacity"] = u.Capacity
	fields["employment_type"] = string(u.EmploymentType)

	updated, err := s.records.Update(ctx, Users, u.ID, fields)
	if err != nil {
		return nil, err
	}
	return decodeOne[User](updated)
}

// =============================================================================
// DEFAULTS AND CHECKS
// =============================================================================

func applyDefaults(u *User) {
	if u.EmploymentType == "" {
		u.EmploymentType = FullTime
	}
	if u.Availability == nil {
		u.Availability = StandardAvailability()
	}
	if u.Accounting == "" {
		u.Accounting = StandardYear
	}
	if u.Allocation == nil {
		u.Allocation = StandardAllocation()
	}
	// Balances start from the allocation; recalculation owns them afterwards.
	u.Used = zeroCounts()
	u.Remaining = remainingDays(u.Allocation, u.Used)
	if u.TeamMemberships == nil {
		u.TeamMemberships = []TeamMembership{}
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	u.deriveFlags()
}

func validateAllocation(alloc DayCounts) error {
	for lt, v := range alloc {
		if !lt.Valid() {
			return invalid("pto_allocation", "unknown leave type %q", lt)
		}
		if v.IsNegative() {
			return invalid("pto_allocation", "%s allocation is negative", lt)
		}
	}
	return nil
}

func validateProfile(u *User) error {
	if u.EmploymentType != FullTime && u.EmploymentType != PartTime {
		return invalid("employment_type", "unknown employment type %q", u.EmploymentType)
	}
	if u.Accounting != "" && u.Accounting != WorkYear && u.Accounting != StandardYear {
		return invalid("pto_accounting", "unknown accounting %q", u.Accounting)
	}
	if u.HireDate != "" {
		if _, err := ParseDate(u.HireDate); err != nil {
			return invalid("hire_date", "not a date: %q", u.HireDate)
		}
	}
	if u.Status != "" && u.Status != UserStatusActive && u.Status != UserStatusInactive {
		return invalid("status", "unknown status %q", u.Status)
	}
	seen := map[string]bool{}
	for _, m := range u.TeamMemberships {
		if m.TeamID == "" {
			return invalid("team_memberships", "team_id is required")
		}
		if !m.Role.Valid() {
			return invalid("team_memberships", "unknown role %q", m.Role)
		}
		if seen[m.TeamID] {
			return invalid("team_memberships", "team %s listed twice", m.TeamID)
		}
		seen[m.TeamID] = true
	}
	return nil
}
