package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"brokerhub/api/internal/auth"
	"brokerhub/api/internal/authpw"
	"brokerhub/api/internal/config"
	"brokerhub/api/internal/rbac"
	"brokerhub/api/internal/search"
	"brokerhub/api/internal/store"
	"brokerhub/api/internal/util"
)

// Session is the authenticated caller attached to each request.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Phone        string
	Role         string
	CompanyID    string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByPhone(ctx context.Context, phone string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUser(ctx context.Context, userID string, upd store.UserUpdate) error
	DeleteUser(ctx context.Context, userID string) error
	ListUsers(ctx context.Context, filter store.UserFilter) ([]store.User, error)
	CountUsers(ctx context.Context) (int, error)
	UserDependentCounts(ctx context.Context, userID string) (leads, followUps, companies int, err error)
	ListBrokers(ctx context.Context, filter store.BrokerFilter) ([]store.BrokerInfo, error)
	ListSubBrokers(ctx context.Context, managerID, companyID string) ([]store.SubBrokerInfo, error)
	ListDirectReportIDs(ctx context.Context, managerID string) ([]string, error)

	ListCompanies(ctx context.Context) ([]store.Company, error)
	GetCompany(ctx context.Context, companyID string) (store.Company, error)
	GetCompanyByLeadBroker(ctx context.Context, brokerID string) (store.Company, error)
	CreateCompany(ctx context.Context, companyID, name, leadBrokerID string) error
	UpdateCompany(ctx context.Context, companyID, name, leadBrokerID string, brokerChanged bool) error
	DeleteCompany(ctx context.Context, companyID string) error
	CompanyDependentCounts(ctx context.Context, companyID string) (employees, leads int, err error)
	CountCompanies(ctx context.Context) (int, error)

	ListLeads(ctx context.Context, filter store.LeadFilter) ([]store.Lead, error)
	GetLead(ctx context.Context, leadID string) (store.Lead, error)
	CreateLead(ctx context.Context, lead store.Lead) error
	UpdateLead(ctx context.Context, leadID string, upd store.LeadUpdate) error
	DeleteLeadCascade(ctx context.Context, leadID string) error
	CountLeads(ctx context.Context, scope store.Scope) (int, error)
	CountClosedWonLeads(ctx context.Context, scope store.Scope) (int, error)
	RecentLeads(ctx context.Context, scope store.Scope, limit int) ([]store.Lead, error)

	ListFollowUps(ctx context.Context, filter store.FollowUpFilter) ([]store.FollowUp, error)
	GetFollowUp(ctx context.Context, followUpID string) (store.FollowUp, error)
	CreateFollowUp(ctx context.Context, followUp store.FollowUp) error
	SetFollowUpCompleted(ctx context.Context, followUpID string, completed bool) error
	CountOpenFollowUps(ctx context.Context, scope store.Scope) (int, error)
	CountFollowUpsDueToday(ctx context.Context, scope store.Scope) (int, error)
	PendingFollowUps(ctx context.Context, scope store.Scope, limit int) ([]store.FollowUp, error)

	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	Ping(ctx context.Context) error
}

// sessionStore is the fast path for refresh tokens. Nil means refresh
// sessions live in Postgres.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	passwd   *authpw.Service
	search   *search.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, searchService *search.Service) *Service {
	return &Service{
		cfg:    cfg,
		store:  dataStore,
		passwd: authpw.NewService(dataStore),
		search: searchService,
	}
}

// NewWithSessionStore wires a Redis-backed refresh token store in front of
// Postgres.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchService *search.Service) *Service {
	service := New(cfg, dataStore, searchService)
	service.sessions = sessions
	return service
}

// Bootstrap seeds the first super admin when the users table is empty.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := authpw.HashPassword(s.cfg.AdminPassword)
	if err != nil {
		return err
	}

	admin := store.User{
		ID:           util.NewID("user"),
		Phone:        s.cfg.AdminPhone,
		Name:         s.cfg.AdminName,
		PasswordHash: hash,
		Role:         store.RoleSuperAdmin,
	}
	if err := s.store.CreateUser(ctx, admin); err != nil {
		return err
	}
	log.Printf("bootstrap: seeded super admin %s", admin.Phone)
	return nil
}

// Login authenticates by phone and password and issues a session.
func (s *Service) Login(ctx context.Context, phone, password string) (Session, error) {
	user, err := s.passwd.SignIn(ctx, phone, password)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid phone or password", nil)
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the old token is revoked and a fresh
// session is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)

	var user store.User
	var err error
	if s.sessions != nil {
		user, err = s.sessions.LookupRefreshSession(ctx, tokenHash)
	} else {
		user, err = s.store.LookupRefreshSession(ctx, tokenHash)
	}
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "refresh token is invalid or expired", nil)
	}

	if err := s.revokeRefresh(ctx, tokenHash); err != nil {
		return Session{}, err
	}

	// Re-read the user so role or company changes take effect on refresh.
	fresh, err := s.store.GetUserByID(ctx, user.ID)
	if err == nil {
		user = fresh
	}
	return s.issueSession(ctx, user)
}

func (s *Service) revokeRefresh(ctx context.Context, tokenHash string) error {
	if s.sessions != nil {
		return s.sessions.RevokeRefreshSession(ctx, tokenHash)
	}
	return s.store.RevokeRefreshSession(ctx, tokenHash)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	companyID := ""
	if user.CompanyID != nil {
		companyID = *user.CompanyID
	}

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:       user.ID,
		Phone:     user.Phone,
		Role:      user.Role,
		CompanyID: companyID,
		JTI:       jti,
		Exp:       expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	refreshHash := auth.HashToken(refresh)
	if s.sessions != nil {
		err = s.sessions.SaveRefreshSession(ctx, refreshHash, user, refreshExpires)
	} else {
		err = s.store.SaveRefreshSession(ctx, refreshHash, user.ID, refreshExpires)
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Phone:        user.Phone,
		Role:         user.Role,
		CompanyID:    companyID,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token and loads the current user.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	companyID := ""
	if user.CompanyID != nil {
		companyID = *user.CompanyID
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Phone:     user.Phone,
		Role:      user.Role,
		CompanyID: companyID,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes the access token and the refresh token, best effort.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.revokeRefresh(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Search runs a scoped lead search through the search facade. Without a
// facade it scans the store directly.
func (s *Service) Search(ctx context.Context, session Session, text string, limit, offset int) (search.Response, error) {
	scope, err := s.leadScope(ctx, session)
	if err != nil {
		return search.Response{}, err
	}

	if s.search != nil {
		return s.search.Search(search.Query{
			Text:      text,
			CompanyID: scope.CompanyID,
			OwnerIDs:  scope.OwnerIDs,
			Limit:     limit,
			Offset:    offset,
		}), nil
	}

	leads, err := s.store.ListLeads(ctx, store.LeadFilter{
		CompanyID: scope.CompanyID,
		OwnerIDs:  scope.OwnerIDs,
		Search:    text,
	})
	if err != nil {
		return search.Response{}, err
	}
	if limit <= 0 {
		limit = 20
	}
	results := make([]search.Result, 0, limit)
	for i, lead := range leads {
		if i < offset {
			continue
		}
		if len(results) >= limit {
			break
		}
		results = append(results, search.Result{
			ID:         lead.ID,
			Name:       lead.Name,
			Phone:      lead.Phone,
			Status:     lead.Status,
			OwnerID:    lead.OwnerID,
			OwnerName:  lead.OwnerName,
			CompanyID:  lead.CompanyID,
			IsPriority: lead.IsPriority,
		})
	}
	return search.Response{Results: results, Total: len(leads), Query: text}, nil
}

func (s *Service) indexLead(ctx context.Context, leadID string) {
	if s.search == nil {
		return
	}
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return
	}
	email := ""
	if lead.Email != nil {
		email = *lead.Email
	}
	s.search.IndexLead(search.LeadRecord{
		ID:         lead.ID,
		Name:       lead.Name,
		Phone:      lead.Phone,
		Email:      email,
		Status:     lead.Status,
		Notes:      lead.Notes,
		OwnerID:    lead.OwnerID,
		OwnerName:  lead.OwnerName,
		CompanyID:  lead.CompanyID,
		IsPriority: lead.IsPriority,
	})
}

func (s *Service) unindexLead(leadID string) {
	if s.search == nil {
		return
	}
	s.search.DeleteLead(leadID)
}
