package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"brokerhub/api/internal/rbac"
	"brokerhub/api/internal/store"
	"brokerhub/api/internal/util"
)

type CreateLeadInput struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	Status     string `json:"status"`
	Notes      string `json:"notes"`
	IsPriority bool   `json:"isPriority"`
	OwnerID    string `json:"ownerId"`
	CompanyID  string `json:"companyId"`
}

type UpdateLeadInput struct {
	Name       *string `json:"name"`
	Phone      *string `json:"phone"`
	Email      *string `json:"email"`
	Status     *string `json:"status"`
	Notes      *string `json:"notes"`
	IsPriority *bool   `json:"isPriority"`
	OwnerID    *string `json:"ownerId"`
}

func leadPayload(lead store.Lead) map[string]any {
	payload := map[string]any{
		"id":         lead.ID,
		"name":       lead.Name,
		"phone":      lead.Phone,
		"status":     lead.Status,
		"notes":      lead.Notes,
		"isPriority": lead.IsPriority,
		"owner": map[string]any{
			"id":   lead.OwnerID,
			"name": lead.OwnerName,
		},
		"companyId":   lead.CompanyID,
		"companyName": lead.CompanyName,
		"createdAt":   lead.CreatedAt.Format(time.RFC3339),
		"updatedAt":   lead.UpdatedAt.Format(time.RFC3339),
	}
	if lead.Email != nil {
		payload["email"] = *lead.Email
	}
	return payload
}

// LeadListQuery narrows the lead listing. Owner and company filters must
// fall inside the caller's scope.
type LeadListQuery struct {
	Search    string
	OwnerID   string
	CompanyID string
}

// ListLeads returns the caller's visible leads, newest first, optionally
// narrowed by a name or phone substring, an owner or a company.
func (s *Service) ListLeads(ctx context.Context, session Session, query LeadListQuery) ([]map[string]any, error) {
	scope, err := s.leadScope(ctx, session)
	if err != nil {
		return nil, err
	}

	filter := store.LeadFilter{
		CompanyID: scope.CompanyID,
		OwnerIDs:  scope.OwnerIDs,
		Search:    strings.TrimSpace(query.Search),
	}

	if query.CompanyID != "" {
		if scope.CompanyID != "" && query.CompanyID != scope.CompanyID {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "company is outside your scope", nil)
		}
		if len(scope.OwnerIDs) > 0 && query.CompanyID != session.CompanyID {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "company is outside your scope", nil)
		}
		filter.CompanyID = query.CompanyID
	}

	if query.OwnerID != "" {
		if len(scope.OwnerIDs) > 0 && !containsID(scope.OwnerIDs, query.OwnerID) {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "owner is outside your scope", nil)
		}
		if scope.CompanyID != "" {
			owner, err := s.store.GetUserByID(ctx, query.OwnerID)
			if errors.Is(err, sql.ErrNoRows) {
				return nil, domainError(http.StatusForbidden, "FORBIDDEN", "owner is outside your scope", nil)
			}
			if err != nil {
				return nil, err
			}
			if owner.CompanyID == nil || *owner.CompanyID != scope.CompanyID {
				return nil, domainError(http.StatusForbidden, "FORBIDDEN", "owner is outside your scope", nil)
			}
		}
		filter.OwnerIDs = []string{query.OwnerID}
	}

	leads, err := s.store.ListLeads(ctx, filter)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(leads))
	for _, lead := range leads {
		items = append(items, leadPayload(lead))
	}
	return items, nil
}

func (s *Service) GetLead(ctx context.Context, session Session, leadID string) (map[string]any, error) {
	lead, err := s.visibleLead(ctx, session, leadID)
	if err != nil {
		return nil, err
	}
	return leadPayload(lead), nil
}

// visibleLead loads a lead and enforces the caller's scope on it.
func (s *Service) visibleLead(ctx context.Context, session Session, leadID string) (store.Lead, error) {
	lead, err := s.store.GetLead(ctx, leadID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Lead{}, domainError(http.StatusNotFound, "NOT_FOUND", "lead not found", nil)
	}
	if err != nil {
		return store.Lead{}, err
	}

	scope, err := s.leadScope(ctx, session)
	if err != nil {
		return store.Lead{}, err
	}
	if !canSeeLead(scope, lead) {
		return store.Lead{}, domainError(http.StatusForbidden, "FORBIDDEN", "lead is outside your scope", nil)
	}
	return lead, nil
}

// CreateLead registers a lead. The owner must be an employee of the lead's
// company; sub-brokers always own what they create.
func (s *Service) CreateLead(ctx context.Context, session Session, input CreateLeadInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if !validPhone(input.Phone) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "phone must be 10 digits", nil)
	}

	status := input.Status
	if status == "" {
		status = store.LeadStatusNew
	}
	if !store.ValidLeadStatus(status) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown lead status", nil)
	}

	companyID := input.CompanyID
	ownerID := input.OwnerID

	switch session.Role {
	case store.RoleSuperAdmin:
		if companyID == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "companyId is required", nil)
		}
	case store.RoleLeadBroker:
		company, err := s.store.GetCompanyByLeadBroker(ctx, session.UserID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusConflict, "NO_COMPANY", "you must be assigned a company before adding leads", nil)
		}
		if err != nil {
			return nil, err
		}
		companyID = company.ID
		if ownerID == "" {
			ownerID = session.UserID
		}
	default:
		if input.OwnerID != "" && input.OwnerID != session.UserID {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "sub-brokers cannot assign leads to others", nil)
		}
		if session.CompanyID == "" {
			return nil, domainError(http.StatusConflict, "NO_COMPANY", "you must belong to a company before adding leads", nil)
		}
		companyID = session.CompanyID
		ownerID = session.UserID
	}

	company, err := s.store.GetCompany(ctx, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "company not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if ownerID == "" {
		ownerID = company.LeadBrokerID
	}

	owner, err := s.store.GetUserByID(ctx, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "owner not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if owner.CompanyID == nil || *owner.CompanyID != companyID {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "owner must belong to the lead's company", nil)
	}

	lead := store.Lead{
		ID:         util.NewID("lead"),
		Name:       name,
		Phone:      input.Phone,
		Status:     status,
		Notes:      input.Notes,
		IsPriority: input.IsPriority,
		OwnerID:    ownerID,
		CompanyID:  companyID,
	}
	if email := strings.TrimSpace(input.Email); email != "" {
		lead.Email = &email
	}

	if err := s.store.CreateLead(ctx, lead); err != nil {
		return nil, err
	}

	s.indexLead(ctx, lead.ID)
	created, err := s.store.GetLead(ctx, lead.ID)
	if err != nil {
		return nil, err
	}
	return leadPayload(created), nil
}

// UpdateLead changes lead fields. Reassignment via ownerId requires the
// reassign permission and stays inside the lead's company.
func (s *Service) UpdateLead(ctx context.Context, session Session, leadID string, input UpdateLeadInput) (map[string]any, error) {
	lead, err := s.visibleLead(ctx, session, leadID)
	if err != nil {
		return nil, err
	}

	var upd store.LeadUpdate
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name cannot be empty", nil)
		}
		upd.Name = &name
	}
	if input.Phone != nil {
		if !validPhone(*input.Phone) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "phone must be 10 digits", nil)
		}
		upd.Phone = input.Phone
	}
	if input.Email != nil {
		upd.Email = input.Email
	}
	if input.Status != nil {
		if !store.ValidLeadStatus(*input.Status) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown lead status", nil)
		}
		upd.Status = input.Status
	}
	if input.Notes != nil {
		upd.Notes = input.Notes
	}
	if input.IsPriority != nil {
		upd.IsPriority = input.IsPriority
	}

	if input.OwnerID != nil {
		if !s.Can(session.Role, rbac.ActionReassignLeads) {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "your role cannot reassign leads", nil)
		}
		newOwner, err := s.store.GetUserByID(ctx, *input.OwnerID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "owner not found", nil)
		}
		if err != nil {
			return nil, err
		}
		if newOwner.CompanyID == nil || *newOwner.CompanyID != lead.CompanyID {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "owner must belong to the lead's company", nil)
		}
		upd.OwnerID = input.OwnerID
	}

	if err := s.store.UpdateLead(ctx, leadID, upd); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "lead not found", nil)
		}
		return nil, err
	}

	s.indexLead(ctx, leadID)
	updated, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	return leadPayload(updated), nil
}

// DeleteLead removes a lead and all of its follow-ups. The visibility
// scope already limits sub-brokers to leads they own.
func (s *Service) DeleteLead(ctx context.Context, session Session, leadID string) error {
	if _, err := s.visibleLead(ctx, session, leadID); err != nil {
		return err
	}

	if err := s.store.DeleteLeadCascade(ctx, leadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "lead not found", nil)
		}
		return err
	}
	s.unindexLead(leadID)
	return nil
}
