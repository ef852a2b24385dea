package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"brokerhub/api/internal/auth"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		var body struct {
			Phone    string `json:"phone"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Phone, body.Password)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		payload := map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
			"phone":         session.Phone,
			"role":          session.Role,
		}
		if session.CompanyID != "" {
			payload["companyId"] = session.CompanyID
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		limit, ok := queryInt(w, r, "limit", 20)
		if !ok {
			return
		}
		offset, ok := queryInt(w, r, "offset", 0)
		if !ok {
			return
		}
		payload, err := s.service.Search(r.Context(), session, q, limit, offset)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/dashboard/stats" {
		payload, err := s.service.DashboardStats(r.Context(), session)
		s.respond(w, payload, err)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/dashboard/activities" {
		payload, err := s.service.DashboardActivities(r.Context(), session)
		s.respond(w, payload, err)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" {
		switch parts[1] {
		case "companies":
			s.handleCompanies(w, r, session, parts[2:])
			return
		case "users":
			s.handleUsers(w, r, session, parts[2:])
			return
		case "leads":
			s.handleLeads(w, r, session, parts[2:])
			return
		case "followups":
			s.handleFollowUps(w, r, session, parts[2:])
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func sessionPayload(session Session) map[string]any {
	payload := map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"phone":        session.Phone,
		"role":         session.Role,
	}
	if session.CompanyID != "" {
		payload["companyId"] = session.CompanyID
	}
	return payload
}

func (s *HTTPServer) handleCompanies(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListCompanies(r.Context(), session)
		s.respond(w, map[string]any{"companies": items}, err)
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body CompanyInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateCompany(r.Context(), session, body)
		s.respondCreated(w, payload, err)
	case len(rest) == 1 && r.Method == http.MethodGet:
		payload, err := s.service.GetCompany(r.Context(), session, rest[0])
		s.respond(w, payload, err)
	case len(rest) == 1 && (r.Method == http.MethodPut || r.Method == http.MethodPatch):
		var body CompanyInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateCompany(r.Context(), session, rest[0], body)
		s.respond(w, payload, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		err := s.service.DeleteCompany(r.Context(), session, rest[0])
		s.respond(w, map[string]any{"ok": true}, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListUsers(r.Context(), session)
		s.respond(w, map[string]any{"users": items}, err)
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body CreateUserInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateUser(r.Context(), session, body)
		s.respondCreated(w, payload, err)
	case len(rest) == 1 && rest[0] == "brokers" && r.Method == http.MethodGet:
		unassigned := r.URL.Query().Get("unassigned") == "true"
		companyID := strings.TrimSpace(r.URL.Query().Get("companyId"))
		includeID := strings.TrimSpace(r.URL.Query().Get("includeId"))
		items, err := s.service.ListBrokers(r.Context(), session, unassigned, companyID, includeID)
		s.respond(w, map[string]any{"brokers": items}, err)
	case len(rest) == 1 && rest[0] == "subbrokers" && r.Method == http.MethodGet:
		companyID := strings.TrimSpace(r.URL.Query().Get("companyId"))
		items, err := s.service.ListSubBrokers(r.Context(), session, companyID)
		s.respond(w, map[string]any{"subBrokers": items}, err)
	case len(rest) == 1 && r.Method == http.MethodGet:
		payload, err := s.service.GetUser(r.Context(), session, rest[0])
		s.respond(w, payload, err)
	case len(rest) == 1 && (r.Method == http.MethodPatch || r.Method == http.MethodPut):
		var body UpdateUserInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateUser(r.Context(), session, rest[0], body)
		s.respond(w, payload, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		err := s.service.DeleteUser(r.Context(), session, rest[0])
		s.respond(w, map[string]any{"ok": true}, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleLeads(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		query := LeadListQuery{
			Search:    r.URL.Query().Get("search"),
			OwnerID:   strings.TrimSpace(r.URL.Query().Get("ownerId")),
			CompanyID: strings.TrimSpace(r.URL.Query().Get("companyId")),
		}
		items, err := s.service.ListLeads(r.Context(), session, query)
		s.respond(w, map[string]any{"leads": items}, err)
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body CreateLeadInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateLead(r.Context(), session, body)
		s.respondCreated(w, payload, err)
	case len(rest) == 1 && r.Method == http.MethodGet:
		payload, err := s.service.GetLead(r.Context(), session, rest[0])
		s.respond(w, payload, err)
	case len(rest) == 1 && (r.Method == http.MethodPatch || r.Method == http.MethodPut):
		var body UpdateLeadInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateLead(r.Context(), session, rest[0], body)
		s.respond(w, payload, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		err := s.service.DeleteLead(r.Context(), session, rest[0])
		s.respond(w, map[string]any{"ok": true}, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleFollowUps(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		query := FollowUpQuery{
			LeadID: strings.TrimSpace(r.URL.Query().Get("leadId")),
			UserID: strings.TrimSpace(r.URL.Query().Get("userId")),
			Due:    strings.TrimSpace(r.URL.Query().Get("due")),
		}
		if query.Due == "" {
			query.Due = strings.TrimSpace(r.URL.Query().Get("reminderDate"))
		}
		if raw := r.URL.Query().Get("completed"); raw != "" {
			completed := raw == "true"
			query.Completed = &completed
		}
		if query.Due != "" && query.Due != "future" && query.Due != "past" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "due must be future or past", nil)
			return
		}
		items, err := s.service.ListFollowUps(r.Context(), session, query)
		s.respond(w, map[string]any{"followUps": items}, err)
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body CreateFollowUpInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateFollowUp(r.Context(), session, body)
		s.respondCreated(w, payload, err)
	case len(rest) == 1 && (r.Method == http.MethodPatch || r.Method == http.MethodPut):
		var body struct {
			Completed *bool `json:"completed"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Completed == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "completed is required", nil)
			return
		}
		payload, err := s.service.SetFollowUpCompleted(r.Context(), session, rest[0], *body.Completed)
		s.respond(w, payload, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) respond(w http.ResponseWriter, payload any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) respondCreated(w http.ResponseWriter, payload any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", name+" must be an integer", nil)
		return 0, false
	}
	return parsed, true
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
