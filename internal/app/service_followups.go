package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"brokerhub/api/internal/store"
	"brokerhub/api/internal/util"
)

type CreateFollowUpInput struct {
	LeadID       string `json:"leadId"`
	Notes        string `json:"notes"`
	ReminderDate string `json:"reminderDate"`
	UserID       string `json:"userId"`
}

type FollowUpQuery struct {
	LeadID    string
	UserID    string
	Completed *bool
	Due       string // "future", "past" or empty
}

func followUpPayload(followUp store.FollowUp) map[string]any {
	return map[string]any{
		"id":           followUp.ID,
		"notes":        followUp.Notes,
		"reminderDate": followUp.ReminderDate.Format(time.RFC3339),
		"completed":    followUp.Completed,
		"lead": map[string]any{
			"id":     followUp.LeadID,
			"name":   followUp.LeadName,
			"phone":  followUp.LeadPhone,
			"status": followUp.LeadStatus,
		},
		"user": map[string]any{
			"id":   followUp.UserID,
			"name": followUp.UserName,
		},
		"createdAt": followUp.CreatedAt.Format(time.RFC3339),
	}
}

// ListFollowUps returns visible follow-ups ordered by reminder date.
func (s *Service) ListFollowUps(ctx context.Context, session Session, query FollowUpQuery) ([]map[string]any, error) {
	filter := store.FollowUpFilter{
		Completed: query.Completed,
		Due:       query.Due,
	}

	if query.LeadID != "" {
		if _, err := s.visibleLead(ctx, session, query.LeadID); err != nil {
			return nil, err
		}
		filter.LeadID = query.LeadID
	} else {
		switch session.Role {
		case store.RoleSuperAdmin:
		case store.RoleLeadBroker:
			filter.LeadBrokerID = session.UserID
		default:
			userIDs, err := s.reportClosure(ctx, session.UserID)
			if err != nil {
				return nil, err
			}
			filter.UserIDs = userIDs
		}
	}

	if query.UserID != "" {
		scope, err := s.followUpScope(ctx, session)
		if err != nil {
			return nil, err
		}
		if !scope.Unrestricted() && !containsID(scope.UserIDs, query.UserID) {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "assignee is outside your scope", nil)
		}
		filter.UserIDs = []string{query.UserID}
		filter.LeadBrokerID = ""
	}

	followUps, err := s.store.ListFollowUps(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(followUps))
	for _, followUp := range followUps {
		items = append(items, followUpPayload(followUp))
	}
	return items, nil
}

// CreateFollowUp schedules a reminder against a visible lead. Sub-brokers
// always assign to themselves.
func (s *Service) CreateFollowUp(ctx context.Context, session Session, input CreateFollowUpInput) (map[string]any, error) {
	if input.LeadID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "leadId is required", nil)
	}
	notes := strings.TrimSpace(input.Notes)
	if notes == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "notes are required", nil)
	}
	reminderDate, err := time.Parse(time.RFC3339, input.ReminderDate)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "reminderDate must be RFC 3339", nil)
	}

	lead, err := s.visibleLead(ctx, session, input.LeadID)
	if err != nil {
		return nil, err
	}

	userID := input.UserID
	if userID == "" {
		userID = session.UserID
	}
	if session.Role == store.RoleSubBroker && userID != session.UserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "sub-brokers cannot assign follow-ups to others", nil)
	}
	if userID != session.UserID {
		assignee, err := s.store.GetUserByID(ctx, userID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "assignee not found", nil)
		}
		if err != nil {
			return nil, err
		}
		if assignee.CompanyID == nil || *assignee.CompanyID != lead.CompanyID {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "assignee must belong to the lead's company", nil)
		}
	}

	followUp := store.FollowUp{
		ID:           util.NewID("fu"),
		Notes:        notes,
		ReminderDate: reminderDate,
		LeadID:       lead.ID,
		UserID:       userID,
	}
	if err := s.store.CreateFollowUp(ctx, followUp); err != nil {
		return nil, err
	}

	created, err := s.store.GetFollowUp(ctx, followUp.ID)
	if err != nil {
		return nil, err
	}
	return followUpPayload(created), nil
}

// SetFollowUpCompleted marks a follow-up done or reopens it.
func (s *Service) SetFollowUpCompleted(ctx context.Context, session Session, followUpID string, completed bool) (map[string]any, error) {
	followUp, err := s.store.GetFollowUp(ctx, followUpID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "follow-up not found", nil)
	}
	if err != nil {
		return nil, err
	}

	if !canCompleteFollowUp(session, followUp) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "follow-up is outside your scope", nil)
	}

	if err := s.store.SetFollowUpCompleted(ctx, followUpID, completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "follow-up not found", nil)
		}
		return nil, err
	}

	updated, err := s.store.GetFollowUp(ctx, followUpID)
	if err != nil {
		return nil, err
	}
	return followUpPayload(updated), nil
}

// canCompleteFollowUp reports whether session may toggle the completed
// flag: the assignee, a super admin, or anyone in the lead's company.
func canCompleteFollowUp(session Session, followUp store.FollowUp) bool {
	if followUp.UserID == session.UserID || session.Role == store.RoleSuperAdmin {
		return true
	}
	return session.CompanyID != "" && session.CompanyID == followUp.LeadCompanyID
}
