package app

import (
	"context"
	"database/sql"
	"errors"

	"brokerhub/api/internal/store"
)

// Report chains deeper than this are treated as data corruption and cut
// off rather than walked forever.
const maxReportDepth = 8

// reportClosure returns the user plus every transitive report, walking the
// manager tree breadth first with a visited set so cycles terminate.
func (s *Service) reportClosure(ctx context.Context, userID string) ([]string, error) {
	visited := map[string]bool{userID: true}
	closure := []string{userID}
	frontier := []string{userID}

	for depth := 0; depth < maxReportDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			reports, err := s.store.ListDirectReportIDs(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, reportID := range reports {
				if visited[reportID] {
					continue
				}
				visited[reportID] = true
				closure = append(closure, reportID)
				next = append(next, reportID)
			}
		}
		frontier = next
	}
	return closure, nil
}

// leadScope resolves which leads the caller may see. Super admins are
// unrestricted, lead brokers see their managed company, sub-brokers see
// only the leads they own. The report chain widens follow-up visibility,
// never lead visibility.
func (s *Service) leadScope(ctx context.Context, session Session) (store.Scope, error) {
	switch session.Role {
	case store.RoleSuperAdmin:
		return store.Scope{}, nil
	case store.RoleLeadBroker:
		company, err := s.store.GetCompanyByLeadBroker(ctx, session.UserID)
		if err == nil {
			return store.Scope{CompanyID: company.ID}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return store.Scope{}, err
		}
		// A broker without a company only sees what they own.
		return store.Scope{OwnerIDs: []string{session.UserID}}, nil
	default:
		return store.Scope{OwnerIDs: []string{session.UserID}}, nil
	}
}

// followUpScope resolves which follow-ups the caller may see, expressed as
// the set of assignees.
func (s *Service) followUpScope(ctx context.Context, session Session) (store.Scope, error) {
	switch session.Role {
	case store.RoleSuperAdmin:
		return store.Scope{}, nil
	case store.RoleLeadBroker:
		company, err := s.store.GetCompanyByLeadBroker(ctx, session.UserID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Scope{UserIDs: []string{session.UserID}}, nil
		}
		if err != nil {
			return store.Scope{}, err
		}
		employees, err := s.store.ListUsers(ctx, store.UserFilter{CompanyID: company.ID})
		if err != nil {
			return store.Scope{}, err
		}
		userIDs := make([]string, 0, len(employees)+1)
		seen := map[string]bool{}
		for _, employee := range employees {
			userIDs = append(userIDs, employee.ID)
			seen[employee.ID] = true
		}
		if !seen[session.UserID] {
			userIDs = append(userIDs, session.UserID)
		}
		return store.Scope{UserIDs: userIDs}, nil
	default:
		userIDs, err := s.reportClosure(ctx, session.UserID)
		if err != nil {
			return store.Scope{}, err
		}
		return store.Scope{UserIDs: userIDs}, nil
	}
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// canSeeLead reports whether the lead falls inside the caller's scope.
func canSeeLead(scope store.Scope, lead store.Lead) bool {
	if scope.Unrestricted() {
		return true
	}
	if scope.CompanyID != "" {
		return lead.CompanyID == scope.CompanyID
	}
	for _, ownerID := range scope.OwnerIDs {
		if lead.OwnerID == ownerID {
			return true
		}
	}
	return false
}
