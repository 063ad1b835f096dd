package pto

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/warp/pto-service/record"
)

// TeamUpdate edits a team. Nil fields are left unchanged.
type TeamUpdate struct {
	Name                  *string `json:"name,omitempty"`
	Department            *string `json:"department,omitempty"`
	BusinessUnit          *string `json:"business_unit,omitempty"`
	ManagerID             *string `json:"manager_id,omitempty"`
	ManagerName           *string `json:"manager_name,omitempty"`
	ManagerEmail          *string `json:"manager_email,omitempty"`
	ExecutiveManagerID    *string `json:"executive_manager_id,omitempty"`
	ExecutiveManagerName  *string `json:"executive_manager_name,omitempty"`
	ExecutiveManagerEmail *string `json:"executive_manager_email,omitempty"`
}

func (u TeamUpdate) fields() record.Record {
	out := record.Record{}
	set := func(name string, v *string) {
		if v != nil {
			out[name] = *v
		}
	}
	set("name", u.Name)
	set("department", u.Department)
	set("business_unit", u.BusinessUnit)
	set("manager_id", u.ManagerID)
	set("manager_name", u.ManagerName)
	set("manager_email", u.ManagerEmail)
	set("executive_manager_id", u.ExecutiveManagerID)
	set("executive_manager_name", u.ExecutiveManagerName)
	set("executive_manager_email", u.ExecutiveManagerEmail)
	return out
}

// TeamService manages teams and their memberships. Memberships live on the
// user records.
type TeamService struct {
	records *record.Store
	users   *UserService
	logger  *zap.Logger
}

func NewTeamService(records *record.Store, users *UserService, logger *zap.Logger) *TeamService {
	return &TeamService{records: records, users: users, logger: logger}
}

func (s *TeamService) Create(ctx context.Context, t Team) (*Team, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, invalid("name", "required")
	}
	rec, err := record.From(t)
	if err != nil {
		return nil, err
	}
	created, err := s.records.Create(ctx, Teams, rec)
	if err != nil {
		return nil, err
	}
	return decodeOne[Team](created)
}

func (s *TeamService) Get(ctx context.Context, id string) (*Team, error) {
	rec, err := s.records.GetByID(ctx, Teams, id)
	if err != nil {
		return nil, err
	}
	t, err := decodeOne[Team](rec)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, &record.NotFoundError{Collection: Teams, ID: id}
	}
	return t, nil
}

// List returns every team ordered by name.
func (s *TeamService) List(ctx context.Context) ([]Team, error) {
	recs, err := s.records.Query(ctx, Teams)
	if err != nil {
		return nil, err
	}
	teams, err := decodeAll[Team](recs)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(teams, func(i, j int) bool { return teams[i].Name < teams[j].Name })
	return teams, nil
}

func (s *TeamService) Update(ctx context.Context, id string, in TeamUpdate) (*Team, error) {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, invalid("name", "required")
	}
	updated, err := s.records.Update(ctx, Teams, id, in.fields())
	if err != nil {
		return nil, err
	}
	return decodeOne[Team](updated)
}

// Delete removes the team. Memberships pointing at it are left on the users
// and skipped by manager lookups.
func (s *TeamService) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	if !s.records.Delete(ctx, Teams, id) {
		return false, nil
	}
	s.logger.Info("team deleted", zap.String("team_id", id))
	return true, nil
}

// AddMember puts a user on a team with role, replacing any earlier role
// on the same team.
func (s *TeamService) AddMember(ctx context.Context, teamID, userID string, role Role) (*User, error) {
	if !role.Valid() {
		return nil, invalid("role", "unknown role %q", role)
	}
	if _, err := s.Get(ctx, teamID); err != nil {
		return nil, err
	}
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	memberships := make([]TeamMembership, 0, len(u.TeamMemberships)+1)
	replaced := false
	for _, m := range u.TeamMemberships {
		if m.TeamID == teamID {
			m.Role = role
			replaced = true
		}
		memberships = append(memberships, m)
	}
	if !replaced {
		memberships = append(memberships, TeamMembership{TeamID: teamID, Role: role})
	}

	s.logger.Info("team member set",
		zap.String("team_id", teamID),
		zap.String("user_id", userID),
		zap.String("role", string(role)),
	)
	return s.users.setMemberships(ctx, u, memberships)
}

// RemoveMember takes a user off a team. Removing a non-member is a no-op.
func (s *TeamService) RemoveMember(ctx context.Context, teamID, userID string) (*User, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	memberships := make([]TeamMembership, 0, len(u.TeamMemberships))
	for _, m := range u.TeamMemberships {
		if m.TeamID != teamID {
			memberships = append(memberships, m)
		}
	}
	if len(memberships) == len(u.TeamMemberships) {
		return u, nil
	}
	return s.users.setMemberships(ctx, u, memberships)
}

// Members returns the users with a membership on the team.
func (s *TeamService) Members(ctx context.Context, teamID string) ([]User, error) {
	if _, err := s.Get(ctx, teamID); err != nil {
		return nil, err
	}
	recs, err := s.records.Query(ctx, Users, func(r record.Record) bool {
		list, _ := r["team_memberships"].([]any)
		for _, item := range list {
			if m, ok := item.(map[string]any); ok && m["team_id"] == teamID {
				return true
			}
		}
		return false
	})
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
