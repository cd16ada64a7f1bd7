package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"shifttrack.service/internal/core/model"
	"shifttrack.service/internal/store"
)

type EmployeeRepository struct {
	q DBTX
}

const employeeColumns = `id, telegram_user_id, username, first_name, last_name, display_name, is_active, role_override`

func scanEmployee(row interface{ Scan(...any) error }) (*model.Employee, error) {
	var (
		e                             model.Employee
		username, firstName, lastName sql.NullString
	)
	err := row.Scan(&e.ID, &e.TelegramUserID, &username, &firstName, &lastName, &e.DisplayName, &e.IsActive, &e.RoleOverride)
	if err != nil {
		return nil, err
	}
	e.Username = username.String
	e.FirstName = firstName.String
	e.LastName = lastName.String
	return &e, nil
}

// DisplayName derives the employee display name from the chat identity:
// first+last name, then @username, then a stable fallback.
func DisplayName(user store.ChatUserInput) string {
	parts := make([]string, 0, 2)
	if user.FirstName != "" {
		parts = append(parts, user.FirstName)
	}
	if user.LastName != "" {
		parts = append(parts, user.LastName)
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	if user.Username != "" {
		return "@" + user.Username
	}
	return "user:" + strconv.FormatInt(user.ID, 10)
}

func (r *EmployeeRepository) UpsertFromChat(ctx context.Context, user store.ChatUserInput) (*model.Employee, error) {
	query := `INSERT INTO employees (telegram_user_id, username, first_name, last_name, display_name, is_active, role_override)
              VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, TRUE, 'NONE')
              ON CONFLICT (telegram_user_id) DO UPDATE
              SET username = NULLIF($2, ''),
                  first_name = NULLIF($3, ''),
                  last_name = NULLIF($4, ''),
                  display_name = $5
              RETURNING ` + employeeColumns

	employee, err := scanEmployee(r.q.QueryRowContext(ctx, query,
		strconv.FormatInt(user.ID, 10), user.Username, user.FirstName, user.LastName, DisplayName(user)))
	if err != nil {
		return nil, fmt.Errorf("upsert employee: %w", err)
	}
	return employee, nil
}

func (r *EmployeeRepository) FindByID(ctx context.Context, id int64) (*model.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE id = $1`
	employee, err := scanEmployee(r.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find employee: %w", err)
	}
	return employee, nil
}

func (r *EmployeeRepository) FindByTelegramUserID(ctx context.Context, telegramUserID string) (*model.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE telegram_user_id = $1`
	employee, err := scanEmployee(r.q.QueryRowContext(ctx, query, telegramUserID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find employee by chat identity: %w", err)
	}
	return employee, nil
}

func (r *EmployeeRepository) ListAdminChatIDs(ctx context.Context) ([]string, error) {
	query := `SELECT telegram_user_id FROM employees WHERE role_override = 'ADMIN' AND is_active`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list admin chat ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
