package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/brokerwire/callstats/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const organizationColumns = `id, org_id, name, node_persistent_id, timezone, is_active, created_at`

func scanOrganization(row pgx.Row) (*models.Organization, error) {
	var o models.Organization
	err := row.Scan(&o.ID, &o.OrgID, &o.Name, &o.SourceNodeID, &o.Timezone, &o.IsActive, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrganizations returns organizations ordered by name.
func (db *DB) ListOrganizations(ctx context.Context, activeOnly bool) ([]*models.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY name`

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return orgs, nil
}

// GetOrganization returns an organization by its external org_id.
func (db *DB) GetOrganization(ctx context.Context, orgID string) (*models.Organization, error) {
	o, err := scanOrganization(db.Pool.QueryRow(ctx, `
		SELECT `+organizationColumns+`
		FROM organizations
		WHERE org_id = $1
	`, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return o, nil
}

// CreateOrganization inserts a new organization.
func (db *DB) CreateOrganization(ctx context.Context, org *models.Organization) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO organizations (id, org_id, name, node_persistent_id, timezone, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, org.ID, org.OrgID, org.Name, org.SourceNodeID, org.Timezone, org.IsActive, org.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("create organization %s: %w", org.OrgID, ErrConflict)
		}
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

// UpdateOrganization writes the mutable fields of an organization.
func (db *DB) UpdateOrganization(ctx context.Context, org *models.Organization) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE organizations
		SET name = $2, node_persistent_id = $3, timezone = $4, is_active = $5
		WHERE org_id = $1
	`, org.OrgID, org.Name, org.SourceNodeID, org.Timezone, org.IsActive)
	if err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureOrganization inserts org if no organization with its org_id exists.
func (db *DB) EnsureOrganization(ctx context.Context, org *models.Organization) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO organizations (id, org_id, name, node_persistent_id, timezone, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (org_id) DO NOTHING
	`, org.ID, org.OrgID, org.Name, org.SourceNodeID, org.Timezone, org.IsActive, org.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("ensure organization: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
