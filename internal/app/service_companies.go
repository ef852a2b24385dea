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

type CompanyInput struct {
	Name         string `json:"name"`
	LeadBrokerID string `json:"leadBrokerId"`
}

func companyPayload(company store.Company) map[string]any {
	return map[string]any{
		"id":   company.ID,
		"name": company.Name,
		"leadBroker": map[string]any{
			"id":    company.LeadBrokerID,
			"name":  company.LeadBrokerName,
			"phone": company.LeadBrokerPhone,
		},
		"employeeCount": company.EmployeeCount,
		"leadCount":     company.LeadCount,
		"createdAt":     company.CreatedAt.Format(time.RFC3339),
	}
}

// ListCompanies returns every company for super admins and the caller's
// own company for lead brokers.
func (s *Service) ListCompanies(ctx context.Context, session Session) ([]map[string]any, error) {
	switch session.Role {
	case store.RoleSuperAdmin:
		companies, err := s.store.ListCompanies(ctx)
		if err != nil {
			return nil, err
		}
		items := make([]map[string]any, 0, len(companies))
		for _, company := range companies {
			items = append(items, companyPayload(company))
		}
		return items, nil
	case store.RoleLeadBroker:
		company, err := s.store.GetCompanyByLeadBroker(ctx, session.UserID)
		if errors.Is(err, sql.ErrNoRows) {
			return []map[string]any{}, nil
		}
		if err != nil {
			return nil, err
		}
		return []map[string]any{companyPayload(company)}, nil
	default:
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "companies are not visible to this role", nil)
	}
}

func (s *Service) GetCompany(ctx context.Context, session Session, companyID string) (map[string]any, error) {
	company, err := s.store.GetCompany(ctx, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "company not found", nil)
	}
	if err != nil {
		return nil, err
	}

	switch session.Role {
	case store.RoleSuperAdmin:
	case store.RoleLeadBroker:
		if company.LeadBrokerID != session.UserID {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "company belongs to another broker", nil)
		}
	default:
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "companies are not visible to this role", nil)
	}
	return companyPayload(company), nil
}

// CreateCompany creates a company and assigns its lead broker. The broker
// becomes an employee of the new company in the same transaction.
func (s *Service) CreateCompany(ctx context.Context, session Session, input CompanyInput) (map[string]any, error) {
	if err := s.requireCompanyManager(session); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if name == "" || input.LeadBrokerID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name and leadBrokerId are required", nil)
	}

	broker, err := s.store.GetUserByID(ctx, input.LeadBrokerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "lead broker not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if broker.Role != store.RoleLeadBroker {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "assigned user must be a lead broker", nil)
	}

	if _, err := s.store.GetCompanyByLeadBroker(ctx, broker.ID); err == nil {
		return nil, domainError(http.StatusConflict, "BROKER_ALREADY_ASSIGNED", "lead broker already manages a company", nil)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	companyID := util.NewID("comp")
	if err := s.store.CreateCompany(ctx, companyID, name, broker.ID); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, domainError(http.StatusConflict, "BROKER_ALREADY_ASSIGNED", "lead broker already manages a company", nil)
		}
		return nil, err
	}

	company, err := s.store.GetCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return companyPayload(company), nil
}

// UpdateCompany renames a company or moves it to a different lead broker.
func (s *Service) UpdateCompany(ctx context.Context, session Session, companyID string, input CompanyInput) (map[string]any, error) {
	if err := s.requireCompanyManager(session); err != nil {
		return nil, err
	}

	company, err := s.store.GetCompany(ctx, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "company not found", nil)
	}
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = company.Name
	}
	leadBrokerID := input.LeadBrokerID
	if leadBrokerID == "" {
		leadBrokerID = company.LeadBrokerID
	}

	brokerChanged := leadBrokerID != company.LeadBrokerID
	if brokerChanged {
		broker, err := s.store.GetUserByID(ctx, leadBrokerID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "lead broker not found", nil)
		}
		if err != nil {
			return nil, err
		}
		if broker.Role != store.RoleLeadBroker {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "assigned user must be a lead broker", nil)
		}
		if existing, err := s.store.GetCompanyByLeadBroker(ctx, leadBrokerID); err == nil && existing.ID != companyID {
			return nil, domainError(http.StatusConflict, "BROKER_ALREADY_ASSIGNED", "lead broker already manages a company", nil)
		} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	if err := s.store.UpdateCompany(ctx, companyID, name, leadBrokerID, brokerChanged); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, domainError(http.StatusConflict, "BROKER_ALREADY_ASSIGNED", "lead broker already manages a company", nil)
		}
		return nil, err
	}

	updated, err := s.store.GetCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return companyPayload(updated), nil
}

// DeleteCompany removes an empty company. Companies with leads or with
// employees beyond the lead broker are protected.
func (s *Service) DeleteCompany(ctx context.Context, session Session, companyID string) error {
	if err := s.requireCompanyManager(session); err != nil {
		return err
	}

	if _, err := s.store.GetCompany(ctx, companyID); errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "company not found", nil)
	} else if err != nil {
		return err
	}

	employees, leads, err := s.store.CompanyDependentCounts(ctx, companyID)
	if err != nil {
		return err
	}
	if leads > 0 || employees > 1 {
		return domainError(http.StatusConflict, "COMPANY_NOT_EMPTY", "company still has leads or employees", map[string]any{
			"employees": employees,
			"leads":     leads,
		})
	}

	if err := s.store.DeleteCompany(ctx, companyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "company not found", nil)
		}
		return err
	}
	return nil
}

func (s *Service) requireCompanyManager(session Session) error {
	if !s.Can(session.Role, rbac.ActionManageCompanies) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only super admins manage companies", nil)
	}
	return nil
}
