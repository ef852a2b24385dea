package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// placeholders renders "$start,$start+1,..." for expanding IN lists.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ",")
}

const userColumns = `u.id, u.phone, u.name, u.password_hash, u.role, u.company_id, u.manager_id, COALESCE(c.name, ''), u.created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Phone, &user.Name, &user.PasswordHash, &user.Role,
		&user.CompanyID, &user.ManagerID, &user.CompanyName, &user.CreatedAt)
	return user, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users u
		LEFT JOIN companies c ON c.id = u.company_id
		WHERE u.id = $1
	`, userID)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByPhone(ctx context.Context, phone string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users u
		LEFT JOIN companies c ON c.id = u.company_id
		WHERE u.phone = $1
	`, phone)
	return scanUser(row)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, phone, name, password_hash, role, company_id, manager_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Phone, user.Name, user.PasswordHash, user.Role, user.CompanyID, user.ManagerID)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, userID string, upd UserUpdate) error {
	sets := []string{}
	args := []any{userID}
	argN := 2

	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s=$%d", column, argN))
		args = append(args, value)
		argN++
	}

	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Phone != nil {
		add("phone", *upd.Phone)
	}
	if upd.Role != nil {
		add("role", *upd.Role)
	}
	if upd.CompanyID != nil {
		add("company_id", *upd.CompanyID)
	}
	if upd.PasswordHash != nil {
		add("password_hash", *upd.PasswordHash)
	}
	if len(sets) == 0 {
		return nil
	}

	result, err := s.db.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id=$1`, args...)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, filter UserFilter) ([]User, error) {
	where := []string{"TRUE"}
	args := []any{}
	argN := 1

	if filter.Role != "" {
		where = append(where, fmt.Sprintf("u.role=$%d", argN))
		args = append(args, filter.Role)
		argN++
	}
	if filter.CompanyID != "" {
		where = append(where, fmt.Sprintf("u.company_id=$%d", argN))
		args = append(args, filter.CompanyID)
		argN++
	}
	if filter.ManagerID != "" {
		where = append(where, fmt.Sprintf("u.manager_id=$%d", argN))
		args = append(args, filter.ManagerID)
		argN++
	}
	if len(filter.IDs) > 0 {
		where = append(where, fmt.Sprintf("u.id IN (%s)", placeholders(argN, len(filter.IDs))))
		for _, id := range filter.IDs {
			args = append(args, id)
		}
		argN += len(filter.IDs)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users u
		LEFT JOIN companies c ON c.id = u.company_id
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY u.name ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// UserDependentCounts returns the rows that still reference a user: leads
// they own, follow-ups assigned to them, and companies they lead-broker.
func (s *PostgresStore) UserDependentCounts(ctx context.Context, userID string) (leads, followUps, companies int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM leads WHERE owner_id=$1),
			(SELECT COUNT(*) FROM follow_ups WHERE user_id=$1),
			(SELECT COUNT(*) FROM companies WHERE lead_broker_id=$1)
	`, userID).Scan(&leads, &followUps, &companies)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("user dependent counts: %w", err)
	}
	return leads, followUps, companies, nil
}

func (s *PostgresStore) ListBrokers(ctx context.Context, filter BrokerFilter) ([]BrokerInfo, error) {
	where := []string{"u.role=$1"}
	args := []any{filter.Role}
	argN := 2

	if filter.UnassignedOnly {
		where = append(where, "mc.id IS NULL")
	}
	if filter.CompanyID != "" {
		where = append(where, fmt.Sprintf("mc.id=$%d", argN))
		args = append(args, filter.CompanyID)
		argN++
	}

	condition := strings.Join(where, " AND ")
	if filter.IncludeID != "" {
		condition = fmt.Sprintf("(%s) OR u.id=$%d", condition, argN)
		args = append(args, filter.IncludeID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.phone, u.role, mc.id, mc.name
		FROM users u
		LEFT JOIN companies mc ON mc.lead_broker_id = u.id
		WHERE `+condition+`
		ORDER BY u.name ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list brokers: %w", err)
	}
	defer rows.Close()

	items := make([]BrokerInfo, 0)
	for rows.Next() {
		var item BrokerInfo
		if err := rows.Scan(&item.ID, &item.Name, &item.Phone, &item.Role, &item.ManagedCompanyID, &item.ManagedCompanyName); err != nil {
			return nil, fmt.Errorf("scan broker: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate brokers: %w", err)
	}
	return items, nil
}

// ListSubBrokers lists SUB_BROKER users either by manager or by company,
// each with their current lead count.
func (s *PostgresStore) ListSubBrokers(ctx context.Context, managerID, companyID string) ([]SubBrokerInfo, error) {
	where := "u.manager_id=$1"
	arg := managerID
	if managerID == "" {
		where = "u.company_id=$1"
		arg = companyID
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.phone,
			(SELECT COUNT(*) FROM leads l WHERE l.owner_id = u.id)
		FROM users u
		WHERE u.role='SUB_BROKER' AND `+where+`
		ORDER BY u.name ASC
	`, arg)
	if err != nil {
		return nil, fmt.Errorf("list sub-brokers: %w", err)
	}
	defer rows.Close()

	items := make([]SubBrokerInfo, 0)
	for rows.Next() {
		var item SubBrokerInfo
		if err := rows.Scan(&item.ID, &item.Name, &item.Phone, &item.LeadCount); err != nil {
			return nil, fmt.Errorf("scan sub-broker: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sub-brokers: %w", err)
	}
	return items, nil
}

// ListDirectReportIDs returns the ids of users managed by managerID.
// Callers traverse the report tree level by level.
func (s *PostgresStore) ListDirectReportIDs(ctx context.Context, managerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE manager_id=$1`, managerID)
	if err != nil {
		return nil, fmt.Errorf("list direct reports: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan report id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report ids: %w", err)
	}
	return ids, nil
}

const companyColumns = `c.id, c.name, c.lead_broker_id, u.name, u.phone,
	(SELECT COUNT(*) FROM users e WHERE e.company_id = c.id),
	(SELECT COUNT(*) FROM leads l WHERE l.company_id = c.id),
	c.created_at`

func scanCompany(row interface{ Scan(...any) error }) (Company, error) {
	var item Company
	err := row.Scan(&item.ID, &item.Name, &item.LeadBrokerID, &item.LeadBrokerName,
		&item.LeadBrokerPhone, &item.EmployeeCount, &item.LeadCount, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) ListCompanies(ctx context.Context) ([]Company, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+companyColumns+`
		FROM companies c
		JOIN users u ON u.id = c.lead_broker_id
		ORDER BY c.name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	items := make([]Company, 0)
	for rows.Next() {
		item, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, companyID string) (Company, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+companyColumns+`
		FROM companies c
		JOIN users u ON u.id = c.lead_broker_id
		WHERE c.id = $1
	`, companyID)
	return scanCompany(row)
}

func (s *PostgresStore) GetCompanyByLeadBroker(ctx context.Context, brokerID string) (Company, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+companyColumns+`
		FROM companies c
		JOIN users u ON u.id = c.lead_broker_id
		WHERE c.lead_broker_id = $1
	`, brokerID)
	return scanCompany(row)
}

// CreateCompany inserts the company and links the lead broker as an
// employee in one transaction.
func (s *PostgresStore) CreateCompany(ctx context.Context, companyID, name, leadBrokerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create company: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO companies (id, name, lead_broker_id)
		VALUES ($1, $2, $3)
	`, companyID, name, leadBrokerID); err != nil {
		_ = tx.Rollback()
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("insert company: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET company_id=$2 WHERE id=$1
	`, leadBrokerID, companyID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("link lead broker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create company: %w", err)
	}
	return nil
}

// UpdateCompany renames the company and, when the broker changes, rewires
// lead_broker_id and moves the new broker into the company transactionally.
func (s *PostgresStore) UpdateCompany(ctx context.Context, companyID, name, leadBrokerID string, brokerChanged bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update company: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE companies SET name=$2, lead_broker_id=$3 WHERE id=$1
	`, companyID, name, leadBrokerID); err != nil {
		_ = tx.Rollback()
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("update company: %w", err)
	}

	if brokerChanged {
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET company_id=$2 WHERE id=$1
		`, leadBrokerID, companyID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("link new lead broker: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update company: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCompany(ctx context.Context, companyID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM companies WHERE id=$1`, companyID)
	if err != nil {
		return fmt.Errorf("delete company: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete company rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) CompanyDependentCounts(ctx context.Context, companyID string) (employees, leads int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users WHERE company_id=$1),
			(SELECT COUNT(*) FROM leads WHERE company_id=$1)
	`, companyID).Scan(&employees, &leads)
	if err != nil {
		return 0, 0, fmt.Errorf("company dependent counts: %w", err)
	}
	return employees, leads, nil
}

func (s *PostgresStore) CountCompanies(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM companies`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count companies: %w", err)
	}
	return count, nil
}

const leadColumns = `l.id, l.name, l.phone, l.email, l.status, l.notes, l.is_priority,
	l.owner_id, u.name, l.company_id, c.name, l.created_at, l.updated_at`

func scanLead(row interface{ Scan(...any) error }) (Lead, error) {
	var item Lead
	err := row.Scan(&item.ID, &item.Name, &item.Phone, &item.Email, &item.Status,
		&item.Notes, &item.IsPriority, &item.OwnerID, &item.OwnerName,
		&item.CompanyID, &item.CompanyName, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func leadWhere(filter LeadFilter) (string, []any) {
	where := []string{"TRUE"}
	args := []any{}
	argN := 1

	if filter.CompanyID != "" {
		where = append(where, fmt.Sprintf("l.company_id=$%d", argN))
		args = append(args, filter.CompanyID)
		argN++
	}
	if len(filter.OwnerIDs) > 0 {
		where = append(where, fmt.Sprintf("l.owner_id IN (%s)", placeholders(argN, len(filter.OwnerIDs))))
		for _, id := range filter.OwnerIDs {
			args = append(args, id)
		}
		argN += len(filter.OwnerIDs)
	}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("(l.name ILIKE '%%' || $%d || '%%' OR l.phone ILIKE '%%' || $%d || '%%')", argN, argN))
		args = append(args, filter.Search)
		argN++
	}
	return strings.Join(where, " AND "), args
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]Lead, error) {
	condition, args := leadWhere(filter)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+leadColumns+`
		FROM leads l
		JOIN users u ON u.id = l.owner_id
		JOIN companies c ON c.id = l.company_id
		WHERE `+condition+`
		ORDER BY l.created_at DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	items := make([]Lead, 0)
	for rows.Next() {
		item, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, leadID string) (Lead, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+leadColumns+`
		FROM leads l
		JOIN users u ON u.id = l.owner_id
		JOIN companies c ON c.id = l.company_id
		WHERE l.id = $1
	`, leadID)
	return scanLead(row)
}

func (s *PostgresStore) CreateLead(ctx context.Context, lead Lead) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (id, name, phone, email, status, notes, is_priority, owner_id, company_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, lead.ID, lead.Name, lead.Phone, lead.Email, lead.Status, lead.Notes, lead.IsPriority, lead.OwnerID, lead.CompanyID)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateLead(ctx context.Context, leadID string, upd LeadUpdate) error {
	sets := []string{"updated_at=NOW()"}
	args := []any{leadID}
	argN := 2

	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s=$%d", column, argN))
		args = append(args, value)
		argN++
	}

	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Phone != nil {
		add("phone", *upd.Phone)
	}
	if upd.Email != nil {
		add("email", *upd.Email)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.Notes != nil {
		add("notes", *upd.Notes)
	}
	if upd.IsPriority != nil {
		add("is_priority", *upd.IsPriority)
	}
	if upd.OwnerID != nil {
		add("owner_id", *upd.OwnerID)
	}

	result, err := s.db.ExecContext(ctx, `UPDATE leads SET `+strings.Join(sets, ", ")+` WHERE id=$1`, args...)
	if err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update lead rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteLeadCascade removes the lead's follow-ups and then the lead inside
// one transaction so no orphan follow-up can survive a partial failure.
func (s *PostgresStore) DeleteLeadCascade(ctx context.Context, leadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete lead: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM follow_ups WHERE lead_id=$1`, leadID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete lead follow-ups: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM leads WHERE id=$1`, leadID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete lead: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete lead rows: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete lead: %w", err)
	}
	return nil
}

func scopeWhere(prefix string, scope Scope, ownerColumn string, argN *int, where *[]string, args *[]any) {
	if scope.CompanyID != "" {
		*where = append(*where, fmt.Sprintf("%scompany_id=$%d", prefix, *argN))
		*args = append(*args, scope.CompanyID)
		*argN++
	}
	ids := scope.OwnerIDs
	if ownerColumn == "user_id" {
		ids = scope.UserIDs
	}
	if len(ids) > 0 {
		*where = append(*where, fmt.Sprintf("%s%s IN (%s)", prefix, ownerColumn, placeholders(*argN, len(ids))))
		for _, id := range ids {
			*args = append(*args, id)
		}
		*argN += len(ids)
	}
}

func (s *PostgresStore) CountLeads(ctx context.Context, scope Scope) (int, error) {
	where := []string{"TRUE"}
	args := []any{}
	argN := 1
	scopeWhere("", scope, "owner_id", &argN, &where, &args)

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads WHERE `+strings.Join(where, " AND "), args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count leads: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountClosedWonLeads(ctx context.Context, scope Scope) (int, error) {
	where := []string{"status='CLOSED_WON'"}
	args := []any{}
	argN := 1
	scopeWhere("", scope, "owner_id", &argN, &where, &args)

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads WHERE `+strings.Join(where, " AND "), args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count closed-won leads: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) RecentLeads(ctx context.Context, scope Scope, limit int) ([]Lead, error) {
	where := []string{"TRUE"}
	args := []any{}
	argN := 1
	scopeWhere("l.", scope, "owner_id", &argN, &where, &args)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT `+leadColumns+`
		FROM leads l
		JOIN users u ON u.id = l.owner_id
		JOIN companies c ON c.id = l.company_id
		WHERE %s
		ORDER BY l.created_at DESC
		LIMIT $%d
	`, strings.Join(where, " AND "), argN), args...)
	if err != nil {
		return nil, fmt.Errorf("recent leads: %w", err)
	}
	defer rows.Close()

	items := make([]Lead, 0)
	for rows.Next() {
		item, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recent lead: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent leads: %w", err)
	}
	return items, nil
}

const followUpColumns = `f.id, f.notes, f.reminder_date, f.completed,
	f.lead_id, l.name, l.phone, l.status, l.company_id,
	f.user_id, u.name, u.phone, f.created_at`

func scanFollowUp(row interface{ Scan(...any) error }) (FollowUp, error) {
	var item FollowUp
	err := row.Scan(&item.ID, &item.Notes, &item.ReminderDate, &item.Completed,
		&item.LeadID, &item.LeadName, &item.LeadPhone, &item.LeadStatus, &item.LeadCompanyID,
		&item.UserID, &item.UserName, &item.UserPhone, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) ListFollowUps(ctx context.Context, filter FollowUpFilter) ([]FollowUp, error) {
	where := []string{"TRUE"}
	args := []any{}
	argN := 1

	if filter.LeadID != "" {
		where = append(where, fmt.Sprintf("f.lead_id=$%d", argN))
		args = append(args, filter.LeadID)
		argN++
	}
	if len(filter.UserIDs) > 0 {
		where = append(where, fmt.Sprintf("f.user_id IN (%s)", placeholders(argN, len(filter.UserIDs))))
		for _, id := range filter.UserIDs {
			args = append(args, id)
		}
		argN += len(filter.UserIDs)
	}
	if filter.LeadBrokerID != "" {
		where = append(where, fmt.Sprintf("l.company_id IN (SELECT id FROM companies WHERE lead_broker_id=$%d)", argN))
		args = append(args, filter.LeadBrokerID)
		argN++
	}
	if filter.Completed != nil {
		where = append(where, fmt.Sprintf("f.completed=$%d", argN))
		args = append(args, *filter.Completed)
		argN++
	}
	switch filter.Due {
	case "future":
		where = append(where, "f.reminder_date >= date_trunc('day', NOW())")
	case "past":
		where = append(where, "f.reminder_date < date_trunc('day', NOW())")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+followUpColumns+`
		FROM follow_ups f
		JOIN leads l ON l.id = f.lead_id
		JOIN users u ON u.id = f.user_id
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY f.reminder_date ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list follow-ups: %w", err)
	}
	defer rows.Close()

	items := make([]FollowUp, 0)
	for rows.Next() {
		item, err := scanFollowUp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan follow-up: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate follow-ups: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetFollowUp(ctx context.Context, followUpID string) (FollowUp, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+followUpColumns+`
		FROM follow_ups f
		JOIN leads l ON l.id = f.lead_id
		JOIN users u ON u.id = f.user_id
		WHERE f.id = $1
	`, followUpID)
	return scanFollowUp(row)
}

func (s *PostgresStore) CreateFollowUp(ctx context.Context, followUp FollowUp) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO follow_ups (id, notes, reminder_date, completed, lead_id, user_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, followUp.ID, followUp.Notes, followUp.ReminderDate, followUp.Completed, followUp.LeadID, followUp.UserID)
	if err != nil {
		return fmt.Errorf("insert follow-up: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetFollowUpCompleted(ctx context.Context, followUpID string, completed bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE follow_ups SET completed=$2 WHERE id=$1
	`, followUpID, completed)
	if err != nil {
		return fmt.Errorf("update follow-up: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update follow-up rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) CountOpenFollowUps(ctx context.Context, scope Scope) (int, error) {
	where := []string{"completed=FALSE"}
	args := []any{}
	argN := 1
	if len(scope.UserIDs) > 0 {
		where = append(where, fmt.Sprintf("user_id IN (%s)", placeholders(argN, len(scope.UserIDs))))
		for _, id := range scope.UserIDs {
			args = append(args, id)
		}
	}

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM follow_ups WHERE `+strings.Join(where, " AND "), args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count open follow-ups: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountFollowUpsDueToday(ctx context.Context, scope Scope) (int, error) {
	where := []string{
		"completed=FALSE",
		"reminder_date >= date_trunc('day', NOW())",
		"reminder_date < date_trunc('day', NOW()) + interval '1 day'",
	}
	args := []any{}
	argN := 1
	if len(scope.UserIDs) > 0 {
		where = append(where, fmt.Sprintf("user_id IN (%s)", placeholders(argN, len(scope.UserIDs))))
		for _, id := range scope.UserIDs {
			args = append(args, id)
		}
	}

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM follow_ups WHERE `+strings.Join(where, " AND "), args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count due follow-ups: %w", err)
	}
	return count, nil
}

// PendingFollowUps lists incomplete follow-ups due now or earlier, soonest
// first.
func (s *PostgresStore) PendingFollowUps(ctx context.Context, scope Scope, limit int) ([]FollowUp, error) {
	where := []string{"f.completed=FALSE", "f.reminder_date <= NOW()"}
	args := []any{}
	argN := 1
	if len(scope.UserIDs) > 0 {
		where = append(where, fmt.Sprintf("f.user_id IN (%s)", placeholders(argN, len(scope.UserIDs))))
		for _, id := range scope.UserIDs {
			args = append(args, id)
		}
		argN += len(scope.UserIDs)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT `+followUpColumns+`
		FROM follow_ups f
		JOIN leads l ON l.id = f.lead_id
		JOIN users u ON u.id = f.user_id
		WHERE %s
		ORDER BY f.reminder_date ASC
		LIMIT $%d
	`, strings.Join(where, " AND "), argN), args...)
	if err != nil {
		return nil, fmt.Errorf("pending follow-ups: %w", err)
	}
	defer rows.Close()

	items := make([]FollowUp, 0)
	for rows.Next() {
		item, err := scanFollowUp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending follow-up: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending follow-ups: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		LEFT JOIN companies c ON c.id = u.company_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	row := s.db.QueryRowContext(ctx, query, tokenHash)
	user, err := scanUser(row)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
