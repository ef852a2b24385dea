package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"brokerhub/api/internal/auth"
	"brokerhub/api/internal/authpw"
	"brokerhub/api/internal/config"
	"brokerhub/api/internal/store"
	"brokerhub/api/internal/util"
)

const (
	testSecret   = "test-secret"
	testPassword = "secret123"
)

// Hashing is expensive, so every fixture user shares one hash.
var fixtureHash = func() string {
	hash, err := authpw.HashPassword(testPassword)
	if err != nil {
		panic(err)
	}
	return hash
}()

type testEnv struct {
	t       *testing.T
	ms      *memStore
	service *Service
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := newMemStore()
	service := &Service{
		cfg: config.Config{
			TokenSecret: testSecret,
			AccessTTL:   15 * time.Minute,
			RefreshTTL:  24 * time.Hour,
		},
		store:  ms,
		passwd: authpw.NewService(ms),
	}
	return &testEnv{
		t:       t,
		ms:      ms,
		service: service,
		handler: NewHTTPServer(service, "*").Handler(),
	}
}

// fixtures is a two-company world. Acme is managed by alice, with bob
// reporting to her and carol reporting to bob. Beta is managed by dave
// with erin reporting to him.
type fixtures struct {
	admin store.User
	alice store.User
	bob   store.User
	carol store.User
	dave  store.User
	erin  store.User

	acme string
	beta string

	leadBob   string // Acme, owned by bob
	leadCarol string // Acme, owned by carol
	leadAlice string // Acme, owned by alice
	leadErin  string // Beta, owned by erin
}

func (e *testEnv) addUser(id, name, phone, role string, companyID, managerID string) store.User {
	e.t.Helper()
	user := store.User{
		ID:           id,
		Phone:        phone,
		Name:         name,
		PasswordHash: fixtureHash,
		Role:         role,
	}
	if companyID != "" {
		user.CompanyID = &companyID
	}
	if managerID != "" {
		user.ManagerID = &managerID
	}
	if err := e.ms.CreateUser(context.Background(), user); err != nil {
		e.t.Fatalf("seed user %s: %v", id, err)
	}
	return user
}

func (e *testEnv) addLead(id, name, phone, status, ownerID, companyID string) string {
	e.t.Helper()
	err := e.ms.CreateLead(context.Background(), store.Lead{
		ID:        id,
		Name:      name,
		Phone:     phone,
		Status:    status,
		OwnerID:   ownerID,
		CompanyID: companyID,
	})
	if err != nil {
		e.t.Fatalf("seed lead %s: %v", id, err)
	}
	return id
}

func (e *testEnv) addFollowUp(id, leadID, userID, notes string, reminder time.Time) string {
	e.t.Helper()
	err := e.ms.CreateFollowUp(context.Background(), store.FollowUp{
		ID:           id,
		Notes:        notes,
		ReminderDate: reminder,
		LeadID:       leadID,
		UserID:       userID,
	})
	if err != nil {
		e.t.Fatalf("seed follow-up %s: %v", id, err)
	}
	return id
}

func (e *testEnv) seed() fixtures {
	e.t.Helper()
	ctx := context.Background()

	f := fixtures{
		admin: e.addUser("user_admin", "Root Admin", "9000000001", store.RoleSuperAdmin, "", ""),
		alice: e.addUser("user_alice", "Alice Broker", "9000000002", store.RoleLeadBroker, "", ""),
		dave:  e.addUser("user_dave", "Dave Broker", "9000000005", store.RoleLeadBroker, "", ""),
	}

	f.acme = "comp_acme"
	if err := e.ms.CreateCompany(ctx, f.acme, "Acme Estates", f.alice.ID); err != nil {
		e.t.Fatalf("seed acme: %v", err)
	}
	f.beta = "comp_beta"
	if err := e.ms.CreateCompany(ctx, f.beta, "Beta Properties", f.dave.ID); err != nil {
		e.t.Fatalf("seed beta: %v", err)
	}

	f.bob = e.addUser("user_bob", "Bob Seller", "9000000003", store.RoleSubBroker, f.acme, f.alice.ID)
	f.carol = e.addUser("user_carol", "Carol Junior", "9000000004", store.RoleSubBroker, f.acme, f.bob.ID)
	f.erin = e.addUser("user_erin", "Erin Scout", "9000000006", store.RoleSubBroker, f.beta, f.dave.ID)

	f.leadBob = e.addLead("lead_bob", "Victor Vendor", "5550000001", store.LeadStatusNew, f.bob.ID, f.acme)
	f.leadCarol = e.addLead("lead_carol", "Wendy Walker", "5550000002", store.LeadStatusContacted, f.carol.ID, f.acme)
	f.leadAlice = e.addLead("lead_alice", "Xavier Young", "5550000003", store.LeadStatusQualified, f.alice.ID, f.acme)
	f.leadErin = e.addLead("lead_erin", "Yolanda Zhu", "5550000004", store.LeadStatusNew, f.erin.ID, f.beta)

	return f
}

// token mints an access token the way issueSession does, reading the
// user's current company assignment from the store.
func (e *testEnv) token(userID string) string {
	e.t.Helper()
	user, err := e.ms.GetUserByID(context.Background(), userID)
	if err != nil {
		e.t.Fatalf("token for %s: %v", userID, err)
	}
	companyID := ""
	if user.CompanyID != nil {
		companyID = *user.CompanyID
	}
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:       user.ID,
		Phone:     user.Phone,
		Role:      user.Role,
		CompanyID: companyID,
		JTI:       util.NewID("jti"),
		Exp:       time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		e.t.Fatalf("issue token: %v", err)
	}
	return token
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
}

func wantErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	wantStatus(t, rec, status)
	payload := decodeMap(t, rec)
	if payload["code"] != code {
		t.Fatalf("error code = %v, want %s (body %s)", payload["code"], code, rec.Body.String())
	}
}

func listLen(t *testing.T, rec *httptest.ResponseRecorder, key string) int {
	t.Helper()
	wantStatus(t, rec, http.StatusOK)
	payload := decodeMap(t, rec)
	items, ok := payload[key].([]any)
	if !ok {
		t.Fatalf("response %s is not a list: %s", key, rec.Body.String())
	}
	return len(items)
}
