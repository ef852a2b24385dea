package store

import "time"

// Role values are a closed enum; see internal/rbac.
const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleLeadBroker = "LEAD_BROKER"
	RoleSubBroker  = "SUB_BROKER"
)

// Lead pipeline statuses (closed enum).
const (
	LeadStatusNew          = "NEW"
	LeadStatusContacted    = "CONTACTED"
	LeadStatusQualified    = "QUALIFIED"
	LeadStatusProposalSent = "PROPOSAL_SENT"
	LeadStatusNegotiating  = "NEGOTIATING"
	LeadStatusClosedWon    = "CLOSED_WON"
	LeadStatusClosedLost   = "CLOSED_LOST"
)

func ValidLeadStatus(status string) bool {
	switch status {
	case LeadStatusNew, LeadStatusContacted, LeadStatusQualified,
		LeadStatusProposalSent, LeadStatusNegotiating,
		LeadStatusClosedWon, LeadStatusClosedLost:
		return true
	default:
		return false
	}
}

type User struct {
	ID           string
	Phone        string
	Name         string
	PasswordHash string
	Role         string
	CompanyID    *string
	ManagerID    *string
	CompanyName  string
	CreatedAt    time.Time
}

// UserUpdate carries partial user changes; nil fields are left untouched.
type UserUpdate struct {
	Name         *string
	Phone        *string
	Role         *string
	CompanyID    *string
	PasswordHash *string
}

type UserFilter struct {
	Role      string
	CompanyID string
	ManagerID string
	IDs       []string
}

// BrokerFilter narrows the broker directory listing.
type BrokerFilter struct {
	Role           string
	UnassignedOnly bool
	CompanyID      string
	IncludeID      string
}

// BrokerInfo is a directory row: a broker plus the company they manage.
type BrokerInfo struct {
	ID                 string
	Name               string
	Phone              string
	Role               string
	ManagedCompanyID   *string
	ManagedCompanyName *string
}

// SubBrokerInfo is a reports row with the broker's current lead load.
type SubBrokerInfo struct {
	ID        string
	Name      string
	Phone     string
	LeadCount int
}

type Company struct {
	ID              string
	Name            string
	LeadBrokerID    string
	LeadBrokerName  string
	LeadBrokerPhone string
	EmployeeCount   int
	LeadCount       int
	CreatedAt       time.Time
}

type Lead struct {
	ID          string
	Name        string
	Phone       string
	Email       *string
	Status      string
	Notes       string
	IsPriority  bool
	OwnerID     string
	OwnerName   string
	CompanyID   string
	CompanyName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LeadUpdate carries partial lead changes; nil fields are left untouched.
type LeadUpdate struct {
	Name       *string
	Phone      *string
	Email      *string
	Status     *string
	Notes      *string
	IsPriority *bool
	OwnerID    *string
}

type LeadFilter struct {
	CompanyID string   // empty = all companies
	OwnerIDs  []string // empty = any owner
	Search    string   // substring match on name/phone
}

type FollowUp struct {
	ID            string
	Notes         string
	ReminderDate  time.Time
	Completed     bool
	LeadID        string
	LeadName      string
	LeadPhone     string
	LeadStatus    string
	LeadCompanyID string
	UserID        string
	UserName      string
	UserPhone     string
	CreatedAt     time.Time
}

// FollowUpFilter narrows the follow-up listing. Exactly one of UserIDs or
// LeadBrokerID is set for scoped callers; both empty means unrestricted.
type FollowUpFilter struct {
	LeadID       string
	UserIDs      []string
	LeadBrokerID string // follow-ups on leads of the company this broker manages
	Completed    *bool
	Due          string // "future", "past" or empty
}

// Scope restricts aggregate queries to a slice of the data. Zero value
// means unrestricted (super admin).
type Scope struct {
	CompanyID string
	OwnerIDs  []string // lead owners
	UserIDs   []string // follow-up assignees
}

// Unrestricted reports whether the scope places no restriction at all.
func (s Scope) Unrestricted() bool {
	return s.CompanyID == "" && len(s.OwnerIDs) == 0 && len(s.UserIDs) == 0
}
