// Package journal persists the auditable movement trail the relay builds
// from completed scan submissions. It is additive to the in-memory session
// history, which is never persisted.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"eduguard/internal/scan"
)

// Movement is one journaled scan attempt, success or failure alike.
type Movement struct {
	ID              string            `json:"id"`
	Code            string            `json:"code"`
	Movement        scan.MovementMode `json:"movement_type"`
	Success         bool              `json:"success"`
	ErrorMessage    *string           `json:"error_message,omitempty"`
	StudentID       *string           `json:"student_id,omitempty"`
	StudentName     *string           `json:"student_name,omitempty"`
	Grade           *string           `json:"grade,omitempty"`
	Class           *string           `json:"class,omitempty"`
	OperatorID      string            `json:"operator_id"`
	OperatorName    string            `json:"operator_name"`
	Location        string            `json:"location"`
	Device          string            `json:"device"`
	ParentsNotified int               `json:"parents_notified"`
	OccurredAt      time.Time         `json:"occurred_at"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Repository persists movements in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FromEvent maps a queue event onto a journal row.
func FromEvent(evt scan.Event) Movement {
	m := Movement{
		ID:           evt.ID,
		Code:         evt.Code,
		Movement:     evt.Mode,
		Success:      evt.Result.Success,
		OperatorID:   evt.OperatorID,
		OperatorName: evt.OperatorName,
		Location:     evt.Location,
		Device:       evt.Device,
		OccurredAt:   evt.Result.At,
	}
	if evt.Result.Success {
		m.Movement = evt.Result.Movement
		m.ParentsNotified = evt.Result.ParentsNotified
		if s := evt.Result.Student; s != nil {
			m.StudentID = &s.ID
			m.StudentName = &s.Name
			m.Grade = &s.Grade
			m.Class = &s.Class
		}
	} else {
		msg := evt.Result.Error
		m.ErrorMessage = &msg
	}
	return m
}

// Insert writes a new movement row.
func (r *Repository) Insert(ctx context.Context, m Movement) (Movement, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.OccurredAt.IsZero() {
		m.OccurredAt = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO movements (id, code, movement_type, success, error_message,
			student_id, student_name, grade, class,
			operator_id, operator_name, location, device, parents_notified, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at
	`, m.ID, m.Code, m.Movement, m.Success, m.ErrorMessage,
		m.StudentID, m.StudentName, m.Grade, m.Class,
		m.OperatorID, m.OperatorName, m.Location, m.Device, m.ParentsNotified, m.OccurredAt)
	if err := row.Scan(&m.CreatedAt); err != nil {
		return Movement{}, err
	}
	return m, nil
}

// Get returns a single movement by id.
func (r *Repository) Get(ctx context.Context, id string) (*Movement, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, code, movement_type, success, error_message,
			student_id, student_name, grade, class,
			operator_id, operator_name, location, device, parents_notified, occurred_at, created_at
		FROM movements WHERE id = $1
	`, id)
	var m Movement
	if err := scanRow(row, &m); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// List returns movements with basic filters, newest first.
func (r *Repository) List(ctx context.Context, studentID, operatorID string, mode scan.MovementMode, limit, offset int) ([]Movement, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, code, movement_type, success, error_message,
		student_id, student_name, grade, class,
		operator_id, operator_name, location, device, parents_notified, occurred_at, created_at
	FROM movements`
	args := []any{}
	clauses := []string{}
	if studentID != "" {
		clauses = append(clauses, "student_id = $"+itoa(len(args)+1))
		args = append(args, studentID)
	}
	if operatorID != "" {
		clauses = append(clauses, "operator_id = $"+itoa(len(args)+1))
		args = append(args, operatorID)
	}
	if mode != "" {
		clauses = append(clauses, "movement_type = $"+itoa(len(args)+1))
		args = append(args, mode)
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses, " AND ")
	}
	query += " ORDER BY occurred_at DESC LIMIT $" + itoa(len(args)+1) + " OFFSET $" + itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Movement
	for rows.Next() {
		var m Movement
		if err := scanRow(rows, &m); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// CountForDay returns how many movements a student logged on a given day,
// for the daily admin tally.
func (r *Repository) CountForDay(ctx context.Context, studentID string, day time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM movements
		WHERE student_id = $1 AND success AND occurred_at::date = $2::date
	`, studentID, day).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner, m *Movement) error {
	return row.Scan(&m.ID, &m.Code, &m.Movement, &m.Success, &m.ErrorMessage,
		&m.StudentID, &m.StudentName, &m.Grade, &m.Class,
		&m.OperatorID, &m.OperatorName, &m.Location, &m.Device, &m.ParentsNotified, &m.OccurredAt, &m.CreatedAt)
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }

func joinClauses(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += sep + parts[i]
	}
	return out
}
