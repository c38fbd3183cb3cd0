package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bibflow/bibflow/internal/record"
)

// InsertMatchKeyConfig creates a match-key configuration. A duplicate
// id surfaces as a unique violation.
func (s *Store) InsertMatchKeyConfig(ctx context.Context, cfg record.MatchKeyConfig) error {
	params, err := marshalNullableDocument(cfg.Params)
	if err != nil {
		return fmt.Errorf("insert match key config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO match_key_config (id, matcher, method, "update", params)
		VALUES ($1, $2, $3, $4, $5)
	`, cfg.ID, nullableString(cfg.Matcher), nullableString(cfg.Method), cfg.Update, params)
	if err != nil {
		return fmt.Errorf("insert match key config: %w", err)
	}
	return nil
}

// UpdateMatchKeyConfig replaces an existing configuration. Returns
// false when no configuration with the id exists.
func (s *Store) UpdateMatchKeyConfig(ctx context.Context, cfg record.MatchKeyConfig) (bool, error) {
	params, err := marshalNullableDocument(cfg.Params)
	if err != nil {
		return false, fmt.Errorf("update match key config: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE match_key_config
		SET matcher = $2, method = $3, "update" = $4, params = $5
		WHERE id = $1
	`, cfg.ID, nullableString(cfg.Matcher), nullableString(cfg.Method), cfg.Update, params)
	if err != nil {
		return false, fmt.Errorf("update match key config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update match key config: rows affected: %w", err)
	}
	return n > 0, nil
}

// SelectMatchKeyConfig retrieves one configuration by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) SelectMatchKeyConfig(ctx context.Context, id string) (record.MatchKeyConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, matcher, method, "update", params
		FROM match_key_config
		WHERE id = $1
	`, id)
	return scanMatchKeyConfig(row.Scan)
}

// DeleteMatchKeyConfig removes a configuration together with its
// clusters, memberships and values via the foreign-key cascades.
// Returns false when no configuration with the id exists.
func (s *Store) DeleteMatchKeyConfig(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM match_key_config WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete match key config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete match key config: rows affected: %w", err)
	}
	return n > 0, nil
}

// SelectMatchKeyConfigs lists all configurations ordered by id.
func (s *Store) SelectMatchKeyConfigs(ctx context.Context) ([]record.MatchKeyConfig, error) {
	return s.queryMatchKeyConfigs(ctx, `
		SELECT id, matcher, method, "update", params
		FROM match_key_config
		ORDER BY id
	`)
}

// AvailableMatchKeyConfigs lists the configurations that participate
// in ingest-time clustering, that is everything not marked for manual
// maintenance only.
func (s *Store) AvailableMatchKeyConfigs(ctx context.Context) ([]record.MatchKeyConfig, error) {
	return s.queryMatchKeyConfigs(ctx, `
		SELECT id, matcher, method, "update", params
		FROM match_key_config
		WHERE "update" != $1
		ORDER BY id
	`, record.UpdateManual)
}

func (s *Store) queryMatchKeyConfigs(ctx context.Context, query string, args ...any) ([]record.MatchKeyConfig, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query match key configs: %w", err)
	}
	defer rows.Close()

	var configs []record.MatchKeyConfig
	for rows.Next() {
		cfg, err := scanMatchKeyConfig(rows.Scan)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate match key configs: %w", err)
	}
	return configs, nil
}

func scanMatchKeyConfig(scan func(...any) error) (record.MatchKeyConfig, error) {
	var (
		cfg     record.MatchKeyConfig
		matcher sql.NullString
		method  sql.NullString
		params  sql.NullString
	)
	if err := scan(&cfg.ID, &matcher, &method, &cfg.Update, &params); err != nil {
		return record.MatchKeyConfig{}, err
	}
	cfg.Matcher = matcher.String
	cfg.Method = method.String
	doc, err := unmarshalDocument(params)
	if err != nil {
		return record.MatchKeyConfig{}, fmt.Errorf("scan match key config: %w", err)
	}
	cfg.Params = doc
	return cfg, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
