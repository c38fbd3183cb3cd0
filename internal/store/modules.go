package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bibflow/bibflow/internal/record"
)

// UpsertModule creates or replaces a code module registration.
func (s *Store) UpsertModule(ctx context.Context, m record.CodeModule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO modules (id, type, url, function, script, hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			type = $2, url = $3, function = $4, script = $5, hash = $6
	`, m.ID, m.Type, nullableString(m.URL), nullableString(m.Function),
		nullableString(m.Script), m.Hash)
	if err != nil {
		return fmt.Errorf("upsert module: %w", err)
	}
	return nil
}

// SelectModule retrieves one module registration by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) SelectModule(ctx context.Context, id string) (record.CodeModule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, url, function, script, hash
		FROM modules
		WHERE id = $1
	`, id)
	return scanModule(row.Scan)
}

// DeleteModule removes a module registration. Returns false when no
// module with the id exists.
func (s *Store) DeleteModule(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM modules WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete module: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete module: rows affected: %w", err)
	}
	return n > 0, nil
}

// SelectModules lists all module registrations ordered by id.
func (s *Store) SelectModules(ctx context.Context) ([]record.CodeModule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, url, function, script, hash
		FROM modules
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query modules: %w", err)
	}
	defer rows.Close()

	var modules []record.CodeModule
	for rows.Next() {
		m, err := scanModule(rows.Scan)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate modules: %w", err)
	}
	return modules, nil
}

func scanModule(scan func(...any) error) (record.CodeModule, error) {
	var (
		m        record.CodeModule
		url      sql.NullString
		function sql.NullString
		script   sql.NullString
	)
	if err := scan(&m.ID, &m.Type, &url, &function, &script, &m.Hash); err != nil {
		return record.CodeModule{}, err
	}
	m.URL = url.String
	m.Function = function.String
	m.Script = script.String
	return m, nil
}
