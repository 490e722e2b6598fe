// ABOUTME: Lead persistence methods for the SQLite store.
// ABOUTME: Create, lookup by external id or contact info, update, and counts.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const leadColumns = `id, external_id, email, phone, first_name, last_name,
	project, lead_status, lifecycle_stage, status, source, created_at, updated_at`

// CreateLead inserts a new lead row.
func (s *SQLiteStore) CreateLead(ctx context.Context, lead *Lead) error {
	if lead.Status == "" {
		lead.Status = LeadStatusNew
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now()
	}
	if lead.UpdatedAt.IsZero() {
		lead.UpdatedAt = lead.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (`+leadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.ExternalID, lead.Email, lead.Phone, lead.FirstName, lead.LastName,
		lead.Project, lead.LeadStatus, lead.LifecycleStage, lead.Status, lead.Source,
		lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating lead: %w", err)
	}
	return nil
}

// GetLeadByExternalID looks up a lead by its CRM object id.
func (s *SQLiteStore) GetLeadByExternalID(ctx context.Context, externalID string) (*Lead, error) {
	if externalID == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE external_id = ?`, externalID)
	return scanLead(row)
}

// FindLeadByContact looks up a lead by email first, then phone. Either argument
// may be empty.
func (s *SQLiteStore) FindLeadByContact(ctx context.Context, email, phone string) (*Lead, error) {
	if email != "" {
		row := s.db.QueryRowContext(ctx,
			`SELECT `+leadColumns+` FROM leads WHERE email = ?`, email)
		lead, err := scanLead(row)
		if err == nil {
			return lead, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	if phone != "" {
		row := s.db.QueryRowContext(ctx,
			`SELECT `+leadColumns+` FROM leads WHERE phone = ?`, phone)
		return scanLead(row)
	}
	return nil, ErrNotFound
}

// UpdateLead overwrites the mutable fields of an existing lead.
func (s *SQLiteStore) UpdateLead(ctx context.Context, lead *Lead) error {
	lead.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET
			external_id = ?, email = ?, phone = ?, first_name = ?, last_name = ?,
			project = ?, lead_status = ?, lifecycle_stage = ?, status = ?,
			source = ?, updated_at = ?
		WHERE id = ?`,
		lead.ExternalID, lead.Email, lead.Phone, lead.FirstName, lead.LastName,
		lead.Project, lead.LeadStatus, lead.LifecycleStage, lead.Status,
		lead.Source, lead.UpdatedAt, lead.ID,
	)
	if err != nil {
		return fmt.Errorf("updating lead: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating lead: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLeads returns leads ordered by most recent update, optionally filtered by
// local status.
func (s *SQLiteStore) ListLeads(ctx context.Context, status string, limit int) ([]*Lead, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+leadColumns+` FROM leads WHERE status = ? ORDER BY updated_at DESC LIMIT ?`,
			status, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+leadColumns+` FROM leads ORDER BY updated_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing leads: %w", err)
	}
	defer rows.Close()

	var out []*Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lead)
	}
	return out, rows.Err()
}

// CountLeadsByStatus returns the number of leads in each local status.
func (s *SQLiteStore) CountLeadsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM leads GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting leads: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning lead count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (*Lead, error) {
	var lead Lead
	err := row.Scan(&lead.ID, &lead.ExternalID, &lead.Email, &lead.Phone,
		&lead.FirstName, &lead.LastName, &lead.Project, &lead.LeadStatus,
		&lead.LifecycleStage, &lead.Status, &lead.Source,
		&lead.CreatedAt, &lead.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning lead: %w", err)
	}
	return &lead, nil
}
