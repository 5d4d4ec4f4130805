package sqlstore

import (
	"context"
	"fmt"

	"github.com/warp/claims-engine/reference"
)

// =============================================================================
// REFERENCE TABLES (reference.Store)
// =============================================================================

func (s *Store) ListCriteria(ctx context.Context) ([]reference.Criterion, error) {
	defer s.readLock()()

	rows, err := s.conn().query(ctx, `
		SELECT criterion_key, description, factor FROM injury_criteria ORDER BY criterion_key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list injury criteria: %w", err)
	}
	defer rows.Close()

	result := []reference.Criterion{}
	for rows.Next() {
		var (
			c      reference.Criterion
			factor string
		)
		if err := rows.Scan(&c.Key, &c.Description, &factor); err != nil {
			return nil, fmt.Errorf("failed to scan injury criterion: %w", err)
		}
		c.Factor = parseDecimal(factor)
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) ListClaimTypes(ctx context.Context) ([]reference.ClaimType, error) {
	defer s.readLock()()

	rows, err := s.conn().query(ctx, `SELECT code, name FROM claim_types ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list claim types: %w", err)
	}
	defer rows.Close()

	result := []reference.ClaimType{}
	for rows.Next() {
		var ct reference.ClaimType
		if err := rows.Scan(&ct.Code, &ct.Name); err != nil {
			return nil, fmt.Errorf("failed to scan claim type: %w", err)
		}
		result = append(result, ct)
	}
	return result, rows.Err()
}

func (s *Store) ListParameters(ctx context.Context) (map[string]string, error) {
	defer s.readLock()()

	rows, err := s.conn().query(ctx, `SELECT param_key, param_value FROM system_parameters`)
	if err != nil {
		return nil, fmt.Errorf("failed to list system parameters: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan system parameter: %w", err)
		}
		result[k] = v
	}
	return result, rows.Err()
}

// ReplaceReference swaps every reference table in one transaction.
func (s *Store) ReplaceReference(ctx context.Context, data *reference.Data) error {
	defer s.writeLock()()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	c := conn{q: tx, dialect: s.dialect}

	for _, table := range []string{"injury_criteria", "claim_types", "system_parameters"} {
		if _, err := c.exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	for _, cr := range data.Criteria {
		if _, err := c.exec(ctx, `
			INSERT INTO injury_criteria (criterion_key, description, factor) VALUES (?, ?, ?)
		`, cr.Key, cr.Description, cr.Factor.String()); err != nil {
			return fmt.Errorf("failed to insert criterion %s: %w", cr.Key, err)
		}
	}
	for _, ct := range data.ClaimTypes {
		if _, err := c.exec(ctx, `
			INSERT INTO claim_types (code, name) VALUES (?, ?)
		`, ct.Code, ct.Name); err != nil {
			return fmt.Errorf("failed to insert claim type %s: %w", ct.Code, err)
		}
	}
	for k, v := range data.Parameters.Raw {
		if _, err := c.exec(ctx, `
			INSERT INTO system_parameters (param_key, param_value) VALUES (?, ?)
		`, k, v); err != nil {
			return fmt.Errorf("failed to insert parameter %s: %w", k, err)
		}
	}
	return tx.Commit()
}
