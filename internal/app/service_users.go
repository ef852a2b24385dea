package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"brokerhub/api/internal/authpw"
	"brokerhub/api/internal/rbac"
	"brokerhub/api/internal/store"
	"brokerhub/api/internal/util"
)

type CreateUserInput struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	CompanyID string `json:"companyId"`
	ManagerID string `json:"managerId"`
}

type UpdateUserInput struct {
	Name      *string `json:"name"`
	Phone     *string `json:"phone"`
	Password  *string `json:"password"`
	Role      *string `json:"role"`
	CompanyID *string `json:"companyId"`
}

func userPayload(user store.User) map[string]any {
	payload := map[string]any{
		"id":        user.ID,
		"name":      user.Name,
		"phone":     user.Phone,
		"role":      user.Role,
		"createdAt": user.CreatedAt.Format(time.RFC3339),
	}
	if user.CompanyID != nil {
		payload["companyId"] = *user.CompanyID
		payload["companyName"] = user.CompanyName
	}
	if user.ManagerID != nil {
		payload["managerId"] = *user.ManagerID
	}
	return payload
}

func validPhone(phone string) bool {
	if len(phone) != 10 {
		return false
	}
	for _, c := range phone {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ListUsers returns the user directory the caller may administer: every
// user for super admins, company employees for lead brokers.
func (s *Service) ListUsers(ctx context.Context, session Session) ([]map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionViewReports) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "user management requires a broker role", nil)
	}

	var filter store.UserFilter
	if session.Role == store.RoleLeadBroker {
		if session.CompanyID == "" {
			return []map[string]any{}, nil
		}
		filter.CompanyID = session.CompanyID
	}

	users, err := s.store.ListUsers(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userPayload(user))
	}
	return items, nil
}

func (s *Service) GetUser(ctx context.Context, session Session, userID string) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "user not found", nil)
	}
	if err != nil {
		return nil, err
	}

	if !s.canAdminister(session, user) && session.UserID != user.ID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "user is outside your scope", nil)
	}
	return userPayload(user), nil
}

// canAdminister reports whether session may manage the target user's
// account.
func (s *Service) canAdminister(session Session, target store.User) bool {
	switch session.Role {
	case store.RoleSuperAdmin:
		return true
	case store.RoleLeadBroker:
		return target.Role == store.RoleSubBroker &&
			target.CompanyID != nil && session.CompanyID != "" &&
			*target.CompanyID == session.CompanyID
	default:
		return false
	}
}

// ListBrokers returns the lead broker directory. unassignedOnly narrows to
// brokers without a company; companyID narrows to the broker managing that
// company; includeID keeps the current broker visible when editing a
// company. Any authenticated caller may read the directory.
func (s *Service) ListBrokers(ctx context.Context, session Session, unassignedOnly bool, companyID, includeID string) ([]map[string]any, error) {
	brokers, err := s.store.ListBrokers(ctx, store.BrokerFilter{
		Role:           store.RoleLeadBroker,
		UnassignedOnly: unassignedOnly,
		CompanyID:      companyID,
		IncludeID:      includeID,
	})
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(brokers))
	for _, broker := range brokers {
		item := map[string]any{
			"id":    broker.ID,
			"name":  broker.Name,
			"phone": broker.Phone,
			"role":  broker.Role,
		}
		if broker.ManagedCompanyID != nil {
			item["managedCompany"] = map[string]any{
				"id":   *broker.ManagedCompanyID,
				"name": derefString(broker.ManagedCompanyName),
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// ListSubBrokers returns sub-brokers with lead counts: company-wide for
// lead brokers, direct reports for sub-brokers.
func (s *Service) ListSubBrokers(ctx context.Context, session Session, companyID string) ([]map[string]any, error) {
	var managerID string
	switch session.Role {
	case store.RoleSuperAdmin:
		if companyID == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "companyId is required", nil)
		}
	case store.RoleLeadBroker:
		if session.CompanyID == "" {
			return []map[string]any{}, nil
		}
		companyID = session.CompanyID
	default:
		managerID = session.UserID
		companyID = ""
	}

	subBrokers, err := s.store.ListSubBrokers(ctx, managerID, companyID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(subBrokers))
	for _, subBroker := range subBrokers {
		items = append(items, map[string]any{
			"id":        subBroker.ID,
			"name":      subBroker.Name,
			"phone":     subBroker.Phone,
			"leadCount": subBroker.LeadCount,
		})
	}
	return items, nil
}

// CreateUser creates a user account. Super admins may create any role;
// lead brokers may only create sub-brokers inside their own company.
func (s *Service) CreateUser(ctx context.Context, session Session, input CreateUserInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if !validPhone(input.Phone) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "phone must be 10 digits", nil)
	}

	if !s.Can(session.Role, rbac.ActionCreateUsers) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "sub-brokers cannot create users", nil)
	}

	role := input.Role
	companyID := input.CompanyID
	managerID := input.ManagerID

	switch session.Role {
	case store.RoleSuperAdmin:
		if role == "" {
			role = store.RoleLeadBroker
		}
	case store.RoleLeadBroker:
		if role != "" && role != store.RoleSubBroker {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "lead brokers can only create sub-brokers", nil)
		}
		role = store.RoleSubBroker
		if session.CompanyID == "" {
			return nil, domainError(http.StatusConflict, "NO_COMPANY", "you must be assigned a company before adding sub-brokers", nil)
		}
		companyID = session.CompanyID
		if managerID == "" {
			managerID = session.UserID
		}
	}

	switch role {
	case store.RoleSuperAdmin, store.RoleLeadBroker, store.RoleSubBroker:
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown role", nil)
	}

	if role == store.RoleSubBroker {
		if companyID == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "sub-brokers need a company", nil)
		}
		company, err := s.store.GetCompany(ctx, companyID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "company not found", nil)
		}
		if err != nil {
			return nil, err
		}
		if managerID == "" {
			managerID = company.LeadBrokerID
		}
		manager, err := s.store.GetUserByID(ctx, managerID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "manager not found", nil)
		}
		if err != nil {
			return nil, err
		}
		if manager.CompanyID == nil || *manager.CompanyID != companyID {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "manager must belong to the same company", nil)
		}
	}

	hash, err := authpw.HashPassword(input.Password)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}

	user := store.User{
		ID:           util.NewID("user"),
		Phone:        input.Phone,
		Name:         name,
		PasswordHash: hash,
		Role:         role,
	}
	if companyID != "" {
		user.CompanyID = &companyID
	}
	if role == store.RoleSubBroker && managerID != "" {
		user.ManagerID = &managerID
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, domainError(http.StatusConflict, "PHONE_TAKEN", "phone number is already registered", nil)
		}
		return nil, err
	}

	created, err := s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return userPayload(created), nil
}

// UpdateUser changes a user's profile. Callers may always update their own
// name, phone and password.
func (s *Service) UpdateUser(ctx context.Context, session Session, userID string, input UpdateUserInput) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "user not found", nil)
	}
	if err != nil {
		return nil, err
	}

	if !s.canAdminister(session, user) && session.UserID != user.ID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "user is outside your scope", nil)
	}

	var upd store.UserUpdate
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
	if input.Password != nil {
		hash, err := authpw.HashPassword(*input.Password)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		}
		upd.PasswordHash = &hash
	}

	// Role and company moves are reserved for super admins.
	if input.Role != nil || input.CompanyID != nil {
		if session.Role != store.RoleSuperAdmin {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "only super admins change role or company", nil)
		}
		if input.Role != nil {
			if !rbac.Valid(*input.Role) {
				return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown role", nil)
			}
			upd.Role = input.Role
		}
		if input.CompanyID != nil {
			if _, err := s.store.GetCompany(ctx, *input.CompanyID); errors.Is(err, sql.ErrNoRows) {
				return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "company not found", nil)
			} else if err != nil {
				return nil, err
			}
			upd.CompanyID = input.CompanyID
		}
	}

	if err := s.store.UpdateUser(ctx, userID, upd); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, domainError(http.StatusConflict, "PHONE_TAKEN", "phone number is already registered", nil)
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "user not found", nil)
		}
		return nil, err
	}

	updated, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return userPayload(updated), nil
}

// DeleteUser removes a user account. Accounts still referenced by leads,
// follow-ups or a managed company are protected.
func (s *Service) DeleteUser(ctx context.Context, session Session, userID string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "user not found", nil)
	}
	if err != nil {
		return err
	}

	if session.UserID == user.ID {
		return domainError(http.StatusConflict, "SELF_DELETE", "you cannot delete your own account", nil)
	}
	if !s.canAdminister(session, user) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "user is outside your scope", nil)
	}

	leads, followUps, companies, err := s.store.UserDependentCounts(ctx, userID)
	if err != nil {
		return err
	}
	if leads > 0 || followUps > 0 || companies > 0 {
		return domainError(http.StatusConflict, "USER_HAS_DEPENDENTS", "reassign the user's leads, follow-ups and company first", map[string]any{
			"leads":     leads,
			"followUps": followUps,
			"companies": companies,
		})
	}

	if err := s.store.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "user not found", nil)
		}
		return err
	}
	return nil
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
