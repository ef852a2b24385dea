package app

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"brokerhub/api/internal/store"
)

// memStore is an in-memory dataStore used by the HTTP tests. It mirrors
// the Postgres behavior the service depends on: sql.ErrNoRows for missing
// rows and unique-violation errors for duplicate phones and doubly
// assigned lead brokers.
type memStore struct {
	mu        sync.Mutex
	users     map[string]store.User
	companies map[string]memCompany
	leads     map[string]store.Lead
	followUps map[string]store.FollowUp
	refresh   map[string]memRefresh
	revoked   map[string]bool
	clock     time.Time
}

type memCompany struct {
	ID           string
	Name         string
	LeadBrokerID string
	CreatedAt    time.Time
}

type memRefresh struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]store.User),
		companies: make(map[string]memCompany),
		leads:     make(map[string]store.Lead),
		followUps: make(map[string]store.FollowUp),
		refresh:   make(map[string]memRefresh),
		revoked:   make(map[string]bool),
		clock:     time.Now().Add(-time.Hour),
	}
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505"}
}

// tick returns a strictly increasing timestamp so creation order is
// deterministic in sorted listings.
func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) hydrateUser(user store.User) store.User {
	if user.CompanyID != nil {
		if company, ok := m.companies[*user.CompanyID]; ok {
			user.CompanyName = company.Name
		}
	}
	return user
}

func (m *memStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return m.hydrateUser(user), nil
}

func (m *memStore) GetUserByPhone(_ context.Context, phone string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Phone == phone {
			return m.hydrateUser(user), nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) CreateUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Phone == user.Phone {
			return uniqueViolation()
		}
	}
	user.CreatedAt = m.tick()
	m.users[user.ID] = user
	return nil
}

func (m *memStore) UpdateUser(_ context.Context, userID string, upd store.UserUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	if upd.Phone != nil {
		for id, existing := range m.users {
			if id != userID && existing.Phone == *upd.Phone {
				return uniqueViolation()
			}
		}
		user.Phone = *upd.Phone
	}
	if upd.Name != nil {
		user.Name = *upd.Name
	}
	if upd.Role != nil {
		user.Role = *upd.Role
	}
	if upd.CompanyID != nil {
		companyID := *upd.CompanyID
		user.CompanyID = &companyID
	}
	if upd.PasswordHash != nil {
		user.PasswordHash = *upd.PasswordHash
	}
	m.users[userID] = user
	return nil
}

func (m *memStore) DeleteUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.users, userID)
	return nil
}

func (m *memStore) ListUsers(_ context.Context, filter store.UserFilter) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.User, 0)
	for _, user := range m.users {
		if filter.Role != "" && user.Role != filter.Role {
			continue
		}
		if filter.CompanyID != "" && (user.CompanyID == nil || *user.CompanyID != filter.CompanyID) {
			continue
		}
		if filter.ManagerID != "" && (user.ManagerID == nil || *user.ManagerID != filter.ManagerID) {
			continue
		}
		if len(filter.IDs) > 0 && !containsStr(filter.IDs, user.ID) {
			continue
		}
		items = append(items, m.hydrateUser(user))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (m *memStore) CountUsers(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), nil
}

func (m *memStore) UserDependentCounts(_ context.Context, userID string) (leads, followUps, companies int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lead := range m.leads {
		if lead.OwnerID == userID {
			leads++
		}
	}
	for _, followUp := range m.followUps {
		if followUp.UserID == userID {
			followUps++
		}
	}
	for _, company := range m.companies {
		if company.LeadBrokerID == userID {
			companies++
		}
	}
	return leads, followUps, companies, nil
}

func (m *memStore) ListBrokers(_ context.Context, filter store.BrokerFilter) ([]store.BrokerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.BrokerInfo, 0)
	for _, user := range m.users {
		var managed *memCompany
		for _, company := range m.companies {
			if company.LeadBrokerID == user.ID {
				c := company
				managed = &c
				break
			}
		}

		match := user.Role == filter.Role
		if match && filter.UnassignedOnly && managed != nil {
			match = false
		}
		if match && filter.CompanyID != "" && (managed == nil || managed.ID != filter.CompanyID) {
			match = false
		}
		if !match && filter.IncludeID != "" && user.ID == filter.IncludeID {
			match = true
		}
		if !match {
			continue
		}

		info := store.BrokerInfo{ID: user.ID, Name: user.Name, Phone: user.Phone, Role: user.Role}
		if managed != nil {
			id, name := managed.ID, managed.Name
			info.ManagedCompanyID = &id
			info.ManagedCompanyName = &name
		}
		items = append(items, info)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (m *memStore) ListSubBrokers(_ context.Context, managerID, companyID string) ([]store.SubBrokerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.SubBrokerInfo, 0)
	for _, user := range m.users {
		if user.Role != store.RoleSubBroker {
			continue
		}
		if managerID != "" {
			if user.ManagerID == nil || *user.ManagerID != managerID {
				continue
			}
		} else if user.CompanyID == nil || *user.CompanyID != companyID {
			continue
		}
		leadCount := 0
		for _, lead := range m.leads {
			if lead.OwnerID == user.ID {
				leadCount++
			}
		}
		items = append(items, store.SubBrokerInfo{ID: user.ID, Name: user.Name, Phone: user.Phone, LeadCount: leadCount})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (m *memStore) ListDirectReportIDs(_ context.Context, managerID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0)
	for _, user := range m.users {
		if user.ManagerID != nil && *user.ManagerID == managerID {
			ids = append(ids, user.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memStore) hydrateCompany(company memCompany) store.Company {
	item := store.Company{
		ID:           company.ID,
		Name:         company.Name,
		LeadBrokerID: company.LeadBrokerID,
		CreatedAt:    company.CreatedAt,
	}
	if broker, ok := m.users[company.LeadBrokerID]; ok {
		item.LeadBrokerName = broker.Name
		item.LeadBrokerPhone = broker.Phone
	}
	for _, user := range m.users {
		if user.CompanyID != nil && *user.CompanyID == company.ID {
			item.EmployeeCount++
		}
	}
	for _, lead := range m.leads {
		if lead.CompanyID == company.ID {
			item.LeadCount++
		}
	}
	return item
}

func (m *memStore) ListCompanies(_ context.Context) ([]store.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Company, 0)
	for _, company := range m.companies {
		items = append(items, m.hydrateCompany(company))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (m *memStore) GetCompany(_ context.Context, companyID string) (store.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	company, ok := m.companies[companyID]
	if !ok {
		return store.Company{}, sql.ErrNoRows
	}
	return m.hydrateCompany(company), nil
}

func (m *memStore) GetCompanyByLeadBroker(_ context.Context, brokerID string) (store.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, company := range m.companies {
		if company.LeadBrokerID == brokerID {
			return m.hydrateCompany(company), nil
		}
	}
	return store.Company{}, sql.ErrNoRows
}

func (m *memStore) CreateCompany(_ context.Context, companyID, name, leadBrokerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, company := range m.companies {
		if company.LeadBrokerID == leadBrokerID {
			return uniqueViolation()
		}
	}
	m.companies[companyID] = memCompany{ID: companyID, Name: name, LeadBrokerID: leadBrokerID, CreatedAt: m.tick()}
	if broker, ok := m.users[leadBrokerID]; ok {
		id := companyID
		broker.CompanyID = &id
		m.users[leadBrokerID] = broker
	}
	return nil
}

func (m *memStore) UpdateCompany(_ context.Context, companyID, name, leadBrokerID string, brokerChanged bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	company, ok := m.companies[companyID]
	if !ok {
		return sql.ErrNoRows
	}
	if brokerChanged {
		for id, other := range m.companies {
			if id != companyID && other.LeadBrokerID == leadBrokerID {
				return uniqueViolation()
			}
		}
	}
	company.Name = name
	company.LeadBrokerID = leadBrokerID
	m.companies[companyID] = company
	if brokerChanged {
		if broker, ok := m.users[leadBrokerID]; ok {
			id := companyID
			broker.CompanyID = &id
			m.users[leadBrokerID] = broker
		}
	}
	return nil
}

func (m *memStore) DeleteCompany(_ context.Context, companyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.companies[companyID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.companies, companyID)
	for id, user := range m.users {
		if user.CompanyID != nil && *user.CompanyID == companyID {
			user.CompanyID = nil
			m.users[id] = user
		}
	}
	return nil
}

func (m *memStore) CompanyDependentCounts(_ context.Context, companyID string) (employees, leads int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.CompanyID != nil && *user.CompanyID == companyID {
			employees++
		}
	}
	for _, lead := range m.leads {
		if lead.CompanyID == companyID {
			leads++
		}
	}
	return employees, leads, nil
}

func (m *memStore) CountCompanies(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.companies), nil
}

func (m *memStore) hydrateLead(lead store.Lead) store.Lead {
	if owner, ok := m.users[lead.OwnerID]; ok {
		lead.OwnerName = owner.Name
	}
	if company, ok := m.companies[lead.CompanyID]; ok {
		lead.CompanyName = company.Name
	}
	return lead
}

func leadMatchesScope(lead store.Lead, companyID string, ownerIDs []string) bool {
	if companyID != "" && lead.CompanyID != companyID {
		return false
	}
	if len(ownerIDs) > 0 && !containsStr(ownerIDs, lead.OwnerID) {
		return false
	}
	return true
}

func (m *memStore) ListLeads(_ context.Context, filter store.LeadFilter) ([]store.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Lead, 0)
	for _, lead := range m.leads {
		if !leadMatchesScope(lead, filter.CompanyID, filter.OwnerIDs) {
			continue
		}
		if filter.Search != "" {
			needle := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(lead.Name), needle) &&
				!strings.Contains(strings.ToLower(lead.Phone), needle) {
				continue
			}
		}
		items = append(items, m.hydrateLead(lead))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (m *memStore) GetLead(_ context.Context, leadID string) (store.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[leadID]
	if !ok {
		return store.Lead{}, sql.ErrNoRows
	}
	return m.hydrateLead(lead), nil
}

func (m *memStore) CreateLead(_ context.Context, lead store.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead.CreatedAt = m.tick()
	lead.UpdatedAt = lead.CreatedAt
	m.leads[lead.ID] = lead
	return nil
}

func (m *memStore) UpdateLead(_ context.Context, leadID string, upd store.LeadUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[leadID]
	if !ok {
		return sql.ErrNoRows
	}
	if upd.Name != nil {
		lead.Name = *upd.Name
	}
	if upd.Phone != nil {
		lead.Phone = *upd.Phone
	}
	if upd.Email != nil {
		lead.Email = upd.Email
	}
	if upd.Status != nil {
		lead.Status = *upd.Status
	}
	if upd.Notes != nil {
		lead.Notes = *upd.Notes
	}
	if upd.IsPriority != nil {
		lead.IsPriority = *upd.IsPriority
	}
	if upd.OwnerID != nil {
		lead.OwnerID = *upd.OwnerID
	}
	lead.UpdatedAt = m.tick()
	m.leads[leadID] = lead
	return nil
}

func (m *memStore) DeleteLeadCascade(_ context.Context, leadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leads[leadID]; !ok {
		return sql.ErrNoRows
	}
	for id, followUp := range m.followUps {
		if followUp.LeadID == leadID {
			delete(m.followUps, id)
		}
	}
	delete(m.leads, leadID)
	return nil
}

func (m *memStore) CountLeads(_ context.Context, scope store.Scope) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, lead := range m.leads {
		if leadMatchesScope(lead, scope.CompanyID, scope.OwnerIDs) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) CountClosedWonLeads(_ context.Context, scope store.Scope) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, lead := range m.leads {
		if lead.Status == store.LeadStatusClosedWon && leadMatchesScope(lead, scope.CompanyID, scope.OwnerIDs) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) RecentLeads(_ context.Context, scope store.Scope, limit int) ([]store.Lead, error) {
	items, err := m.ListLeads(context.Background(), store.LeadFilter{CompanyID: scope.CompanyID, OwnerIDs: scope.OwnerIDs})
	if err != nil {
		return nil, err
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memStore) hydrateFollowUp(followUp store.FollowUp) store.FollowUp {
	if lead, ok := m.leads[followUp.LeadID]; ok {
		followUp.LeadName = lead.Name
		followUp.LeadPhone = lead.Phone
		followUp.LeadStatus = lead.Status
		followUp.LeadCompanyID = lead.CompanyID
	}
	if user, ok := m.users[followUp.UserID]; ok {
		followUp.UserName = user.Name
		followUp.UserPhone = user.Phone
	}
	return followUp
}

func (m *memStore) ListFollowUps(_ context.Context, filter store.FollowUpFilter) ([]store.FollowUp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var brokerCompanyID string
	if filter.LeadBrokerID != "" {
		for _, company := range m.companies {
			if company.LeadBrokerID == filter.LeadBrokerID {
				brokerCompanyID = company.ID
				break
			}
		}
	}

	todayStart := time.Now().Truncate(24 * time.Hour)
	items := make([]store.FollowUp, 0)
	for _, followUp := range m.followUps {
		hydrated := m.hydrateFollowUp(followUp)
		if filter.LeadID != "" && hydrated.LeadID != filter.LeadID {
			continue
		}
		if len(filter.UserIDs) > 0 && !containsStr(filter.UserIDs, hydrated.UserID) {
			continue
		}
		if filter.LeadBrokerID != "" && hydrated.LeadCompanyID != brokerCompanyID {
			continue
		}
		if filter.Completed != nil && hydrated.Completed != *filter.Completed {
			continue
		}
		switch filter.Due {
		case "future":
			if hydrated.ReminderDate.Before(todayStart) {
				continue
			}
		case "past":
			if !hydrated.ReminderDate.Before(todayStart) {
				continue
			}
		}
		items = append(items, hydrated)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ReminderDate.Before(items[j].ReminderDate) })
	return items, nil
}

func (m *memStore) GetFollowUp(_ context.Context, followUpID string) (store.FollowUp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	followUp, ok := m.followUps[followUpID]
	if !ok {
		return store.FollowUp{}, sql.ErrNoRows
	}
	return m.hydrateFollowUp(followUp), nil
}

func (m *memStore) CreateFollowUp(_ context.Context, followUp store.FollowUp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	followUp.CreatedAt = m.tick()
	m.followUps[followUp.ID] = followUp
	return nil
}

func (m *memStore) SetFollowUpCompleted(_ context.Context, followUpID string, completed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	followUp, ok := m.followUps[followUpID]
	if !ok {
		return sql.ErrNoRows
	}
	followUp.Completed = completed
	m.followUps[followUpID] = followUp
	return nil
}

func (m *memStore) CountOpenFollowUps(_ context.Context, scope store.Scope) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, followUp := range m.followUps {
		if followUp.Completed {
			continue
		}
		if len(scope.UserIDs) > 0 && !containsStr(scope.UserIDs, followUp.UserID) {
			continue
		}
		count++
	}
	return count, nil
}

func (m *memStore) CountFollowUpsDueToday(_ context.Context, scope store.Scope) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	todayStart := time.Now().Truncate(24 * time.Hour)
	tomorrowStart := todayStart.Add(24 * time.Hour)
	count := 0
	for _, followUp := range m.followUps {
		if followUp.Completed {
			continue
		}
		if followUp.ReminderDate.Before(todayStart) || !followUp.ReminderDate.Before(tomorrowStart) {
			continue
		}
		if len(scope.UserIDs) > 0 && !containsStr(scope.UserIDs, followUp.UserID) {
			continue
		}
		count++
	}
	return count, nil
}

func (m *memStore) PendingFollowUps(_ context.Context, scope store.Scope, limit int) ([]store.FollowUp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	items := make([]store.FollowUp, 0)
	for _, followUp := range m.followUps {
		if followUp.Completed || followUp.ReminderDate.After(now) {
			continue
		}
		if len(scope.UserIDs) > 0 && !containsStr(scope.UserIDs, followUp.UserID) {
			continue
		}
		items = append(items, m.hydrateFollowUp(followUp))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ReminderDate.Before(items[j].ReminderDate) })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[tokenHash] = memRefresh{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.refresh[tokenHash]
	if !ok || record.revoked || time.Now().After(record.expiresAt) {
		return store.User{}, sql.ErrNoRows
	}
	user, ok := m.users[record.userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return m.hydrateUser(user), nil
}

func (m *memStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.refresh[tokenHash]; ok {
		record.revoked = true
		m.refresh[tokenHash] = record
	}
	return nil
}

func (m *memStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = true
	return nil
}

func (m *memStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[jti], nil
}

func (m *memStore) Ping(_ context.Context) error {
	return nil
}

func containsStr(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}
