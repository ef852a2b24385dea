package rbac

type Role string
type Action string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleLeadBroker Role = "LEAD_BROKER"
	RoleSubBroker  Role = "SUB_BROKER"
)

const (
	ActionManageCompanies Action = "manage_companies"
	ActionCreateUsers     Action = "create_users"
	ActionReassignLeads   Action = "reassign_leads"
	ActionViewReports     Action = "view_reports"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleSuperAdmin:
		return true
	case RoleLeadBroker:
		return action == ActionCreateUsers || action == ActionReassignLeads || action == ActionViewReports
	case RoleSubBroker:
		return false
	default:
		return false
	}
}

// Valid reports whether role is one of the three closed enum values.
func Valid(role string) bool {
	switch Role(role) {
	case RoleSuperAdmin, RoleLeadBroker, RoleSubBroker:
		return true
	default:
		return false
	}
}

// Normalize maps unknown role strings to the least privileged role.
func Normalize(role string) Role {
	if Valid(role) {
		return Role(role)
	}
	return RoleSubBroker
}
