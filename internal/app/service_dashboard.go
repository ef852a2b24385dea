package app

import (
	"context"
	"strconv"

	"brokerhub/api/internal/store"
)

// Every closed-won lead is valued at a flat amount for the revenue figure.
const leadValueUSD = 10000

const activityLimit = 5

// DashboardStats aggregates the caller's visible pipeline.
func (s *Service) DashboardStats(ctx context.Context, session Session) (map[string]any, error) {
	leadScope, err := s.leadScope(ctx, session)
	if err != nil {
		return nil, err
	}
	followUpScope, err := s.followUpScope(ctx, session)
	if err != nil {
		return nil, err
	}

	totalLeads, err := s.store.CountLeads(ctx, leadScope)
	if err != nil {
		return nil, err
	}
	closedWon, err := s.store.CountClosedWonLeads(ctx, leadScope)
	if err != nil {
		return nil, err
	}
	openFollowUps, err := s.store.CountOpenFollowUps(ctx, followUpScope)
	if err != nil {
		return nil, err
	}
	dueToday, err := s.store.CountFollowUpsDueToday(ctx, followUpScope)
	if err != nil {
		return nil, err
	}

	stats := map[string]any{
		"totalLeads":    totalLeads,
		"closedWon":     closedWon,
		"revenue":       formatUSD(closedWon * leadValueUSD),
		"openFollowUps": openFollowUps,
		"dueToday":      dueToday,
	}

	switch session.Role {
	case store.RoleSuperAdmin:
		totalCompanies, err := s.store.CountCompanies(ctx)
		if err != nil {
			return nil, err
		}
		totalUsers, err := s.store.CountUsers(ctx)
		if err != nil {
			return nil, err
		}
		stats["totalCompanies"] = totalCompanies
		stats["totalUsers"] = totalUsers
	case store.RoleLeadBroker:
		if session.CompanyID != "" {
			employees, err := s.store.ListUsers(ctx, store.UserFilter{CompanyID: session.CompanyID})
			if err != nil {
				return nil, err
			}
			teamSize := 0
			for _, employee := range employees {
				if employee.Role == store.RoleSubBroker {
					teamSize++
				}
			}
			stats["teamSize"] = teamSize
		}
	}
	return stats, nil
}

// DashboardActivities returns the newest leads and the most overdue
// incomplete follow-ups inside the caller's scope.
func (s *Service) DashboardActivities(ctx context.Context, session Session) (map[string]any, error) {
	leadScope, err := s.leadScope(ctx, session)
	if err != nil {
		return nil, err
	}
	followUpScope, err := s.followUpScope(ctx, session)
	if err != nil {
		return nil, err
	}

	recent, err := s.store.RecentLeads(ctx, leadScope, activityLimit)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.PendingFollowUps(ctx, followUpScope, activityLimit)
	if err != nil {
		return nil, err
	}

	recentItems := make([]map[string]any, 0, len(recent))
	for _, lead := range recent {
		recentItems = append(recentItems, leadPayload(lead))
	}
	pendingItems := make([]map[string]any, 0, len(pending))
	for _, followUp := range pending {
		pendingItems = append(pendingItems, followUpPayload(followUp))
	}

	return map[string]any{
		"recentLeads":      recentItems,
		"pendingFollowUps": pendingItems,
	}, nil
}

// formatUSD renders a whole-dollar amount with thousands separators, for
// example 10000 becomes "$10,000".
func formatUSD(amount int) string {
	digits := strconv.Itoa(amount)
	negative := false
	if len(digits) > 0 && digits[0] == '-' {
		negative = true
		digits = digits[1:]
	}

	var out []byte
	for i, c := range []byte(digits) {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}

	result := "$" + string(out)
	if negative {
		result = "-" + result
	}
	return result
}
