// Package pto implements paid-time-off requests, approvals and balances on
// top of the record store.
package pto

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENUMERATIONS
// =============================================================================

type LeaveType string

const (
	LeaveVacation LeaveType = "vacation"
	LeaveSick     LeaveType = "sick"
	LeavePersonal LeaveType = "personal"
	LeaveHoliday  LeaveType = "holiday"
	LeaveOther    LeaveType = "other"
)

// LeaveTypes lists every leave type in display order.
var LeaveTypes = []LeaveType{LeaveVacation, LeaveSick, LeavePersonal, LeaveHoliday, LeaveOther}

func (l LeaveType) Valid() bool {
	for _, lt := range LeaveTypes {
		if l == lt {
			return true
		}
	}
	return false
}

// Status is the request state. pending is initial; approved and declined are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDeclined Status = "declined"
)

type ScheduleType string

const (
	FullDay          ScheduleType = "FULL_DAY"
	HalfDayMorning   ScheduleType = "HALF_DAY_MORNING"
	HalfDayAfternoon ScheduleType = "HALF_DAY_AFTERNOON"
)

const (
	hoursPerFullDay = 8
	hoursPerHalfDay = 4
)

func (s ScheduleType) Valid() bool {
	return s == FullDay || s == HalfDayMorning || s == HalfDayAfternoon
}

// Hours is 8 for a full day and 4 otherwise.
func (s ScheduleType) Hours() float64 {
	if s == FullDay {
		return hoursPerFullDay
	}
	return hoursPerHalfDay
}

// Days is the balance cost of one schedule row: 1 for a full day, 0.5 otherwise.
func (s ScheduleType) Days() decimal.Decimal {
	if s == FullDay {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromFloat(0.5)
}

type Role string

const (
	RoleMember           Role = "Member"
	RoleManager          Role = "Manager"
	RoleExecutiveManager Role = "Executive Manager"
)

func (r Role) Valid() bool {
	return r == RoleMember || r == RoleManager || r == RoleExecutiveManager
}

type EmploymentType string

const (
	FullTime EmploymentType = "full_time"
	PartTime EmploymentType = "part_time"
)

// WeeklyCapacity is 40 hours for full time and 20 for part time.
func (e EmploymentType) WeeklyCapacity() float64 {
	if e == PartTime {
		return 20
	}
	return 40
}

type Accounting string

const (
	WorkYear     Accounting = "work_year"
	StandardYear Accounting = "standard_year"
)

// =============================================================================
// DAY COUNTS
// =============================================================================

// DayCounts holds a day quantity per leave type. Missing types read as zero.
// It serialises to a JSON object of numbers.
type DayCounts map[LeaveType]decimal.Decimal

// Get returns the count for lt, or zero.
func (d DayCounts) Get(lt LeaveType) decimal.Decimal {
	if v, ok := d[lt]; ok {
		return v
	}
	return decimal.Zero
}

func (d DayCounts) MarshalJSON() ([]byte, error) {
	out := make(map[LeaveType]json.Number, len(d))
	for k, v := range d {
		out[k] = json.Number(v.String())
	}
	return json.Marshal(out)
}

// Equal reports whether both maps hold the same value for every leave type.
func (d DayCounts) Equal(other DayCounts) bool {
	seen := map[LeaveType]bool{}
	for k := range d {
		seen[k] = true
	}
	for k := range other {
		seen[k] = true
	}
	for k := range seen {
		if !d.Get(k).Equal(other.Get(k)) {
			return false
		}
	}
	return true
}

// StandardAllocation is the default yearly allocation for new users.
func StandardAllocation() DayCounts {
	return DayCounts{
		LeaveVacation: decimal.NewFromInt(20),
		LeaveSick:     decimal.NewFromInt(10),
		LeavePersonal: decimal.NewFromInt(1),
		LeaveHoliday:  decimal.Zero,
		LeaveOther:    decimal.Zero,
	}
}

// StandardAvailability is 8 hours Monday to Friday and nothing at weekends.
func StandardAvailability() map[string]float64 {
	return map[string]float64{
		"monday": 8, "tuesday": 8, "wednesday": 8, "thursday": 8, "friday": 8,
		"saturday": 0, "sunday": 0,
	}
}

// =============================================================================
// ENTITIES
// =============================================================================

// TeamMembership links a user to a team with a role.
type TeamMembership struct {
	TeamID string `json:"team_id"`
	Role   Role   `json:"role"`
}

// User is an identity record. Used and remaining day counts are derived by
// balance recalculation and never edited directly.
type User struct {
	ID                 string             `json:"user_id,omitempty"`
	AccountID          string             `json:"account_id,omitempty"`
	DisplayName        string             `json:"display_name"`
	Email              string             `json:"email"`
	TeamMemberships    []TeamMembership   `json:"team_memberships"`
	EmploymentType     EmploymentType     `json:"employment_type"`
	Capacity           float64            `json:"capacity"`
	Availability       map[string]float64 `json:"availability,omitempty"`
	IsAdmin            bool               `json:"is_admin"`
	IsManager          bool               `json:"is_manager"`
	IsExecutiveManager bool               `json:"is_executive_manager"`
	Accounting         Accounting         `json:"pto_accounting"`
	Allocation         DayCounts          `json:"pto_allocation"`
	Used               DayCounts          `json:"used_pto_days_in_period"`
	Remaining          DayCounts          `json:"remaining_pto_days_in_period"`
	HireDate           string             `json:"hire_date,omitempty"`
	Status             string             `json:"status,omitempty"`
	CreatedAt          time.Time          `json:"created_at,omitzero"`
	UpdatedAt          time.Time          `json:"updated_at,omitzero"`
}

// deriveFlags recomputes the manager flags and weekly capacity.
func (u *User) deriveFlags() {
	u.IsManager, u.IsExecutiveManager = false, false
	for _, m := range u.TeamMemberships {
		switch m.Role {
		case RoleManager:
			u.IsManager = true
		case RoleExecutiveManager:
			u.IsExecutiveManager = true
		}
	}
	if u.EmploymentType == "" {
		u.EmploymentType = FullTime
	}
	u.Capacity = u.EmploymentType.WeeklyCapacity()
}

// Team is an organisational unit with an optional manager and executive manager.
type Team struct {
	ID                    string    `json:"team_id,omitempty"`
	Name                  string    `json:"name"`
	Department            string    `json:"department,omitempty"`
	BusinessUnit          string    `json:"business_unit,omitempty"`
	ManagerID             string    `json:"manager_id,omitempty"`
	ManagerName           string    `json:"manager_name,omitempty"`
	ManagerEmail          string    `json:"manager_email,omitempty"`
	ExecutiveManagerID    string    `json:"executive_manager_id,omitempty"`
	ExecutiveManagerName  string    `json:"executive_manager_name,omitempty"`
	ExecutiveManagerEmail string    `json:"executive_manager_email,omitempty"`
	CreatedAt             time.Time `json:"created_at,omitzero"`
	UpdatedAt             time.Time `json:"updated_at,omitzero"`
}

// Snapshot is the requester/manager identity copied onto requests and their
// schedules at submission time. It is intentionally not a live reference:
// the audit trail keeps the names and emails as they were when submitted.
type Snapshot struct {
	RequesterID           string `json:"requester_id"`
	RequesterName         string `json:"requester_name,omitempty"`
	RequesterEmail        string `json:"requester_email,omitempty"`
	ManagerID             string `json:"manager_id,omitempty"`
	ManagerName           string `json:"manager_name,omitempty"`
	ManagerEmail          string `json:"manager_email,omitempty"`
	ExecutiveManagerID    string `json:"executive_manager_id,omitempty"`
	ExecutiveManagerName  string `json:"executive_manager_name,omitempty"`
	ExecutiveManagerEmail string `json:"executive_manager_email,omitempty"`
}

// Request is a leave request over a date range.
type Request struct {
	ID string `json:"pto_request_id,omitempty"`
	Snapshot
	LeaveType     LeaveType `json:"leave_type"`
	Reason        string    `json:"reason,omitempty"`
	Status        Status    `json:"status"`
	StartDate     string    `json:"start_date"`
	EndDate       string    `json:"end_date"`
	TotalDays     float64   `json:"total_days"`
	TotalHours    float64   `json:"total_hours"`
	SubmittedAt   time.Time `json:"submitted_at,omitzero"`
	ReviewedAt    time.Time `json:"reviewed_at,omitzero"`
	ReviewerID    string    `json:"reviewer_id,omitempty"`
	DeclineReason string    `json:"decline_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitzero"`
	UpdatedAt     time.Time `json:"updated_at,omitzero"`

	// DailySchedules is joined in memory on reads; it is not stored on the request.
	DailySchedules []DailySchedule `json:"daily_schedules,omitempty"`
}

// DailySchedule is one calendar day of a request.
type DailySchedule struct {
	ID           string       `json:"pto_daily_schedule_id,omitempty"`
	RequestID    string       `json:"pto_request_id"`
	Date         string       `json:"date"`
	ScheduleType ScheduleType `json:"schedule_type"`
	LeaveType    LeaveType    `json:"leave_type"`
	Hours        float64      `json:"hours"`
	Snapshot
	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Account is a user as reported by the host identity directory.
type Account struct {
	AccountID   string `json:"accountId" yaml:"accountId"`
	DisplayName string `json:"displayName" yaml:"displayName"`
	Email       string `json:"emailAddress" yaml:"emailAddress"`
	Active      bool   `json:"active" yaml:"active"`
}
