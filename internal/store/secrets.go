package store

import (
	"context"
	"fmt"
	"time"
)

// Secret describes a stored secret. Values never leave the store through it.
type Secret struct {
	Name      string    `json:"name"`
	Sessions  []string  `json:"associatedWithSessionIds"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListSecrets returns every secret name with the sessions it is attached to.
func (s *Store) ListSecrets(ctx context.Context) ([]Secret, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.name, s.created_at, s.updated_at, COALESCE(l.session_id, '')
		FROM secrets s
		LEFT JOIN secrets_to_sessions l ON l.secret_name = s.name
		ORDER BY s.name, l.session_id`)
	if err != nil {
		return nil, fmt.Errorf("listing secrets: %w", err)
	}
	defer rows.Close()

	secrets := []Secret{}
	index := map[string]int{}
	for rows.Next() {
		var (
			name, session    string
			created, updated int64
		)
		if err := rows.Scan(&name, &created, &updated, &session); err != nil {
			return nil, fmt.Errorf("scanning secret: %w", err)
		}
		i, ok := index[name]
		if !ok {
			secrets = append(secrets, Secret{
				Name:      name,
				Sessions:  []string{},
				CreatedAt: fromMillis(created),
				UpdatedAt: fromMillis(updated),
			})
			i = len(secrets) - 1
			index[name] = i
		}
		if session != "" {
			secrets[i].Sessions = append(secrets[i].Sessions, session)
		}
	}
	return secrets, rows.Err()
}

// PutSecret creates or replaces a secret value.
func (s *Store) PutSecret(ctx context.Context, name, value string) error {
	if name == "" {
		return fmt.Errorf("secret name is required")
	}
	sealed, err := s.seal(value)
	if err != nil {
		return fmt.Errorf("sealing secret %s: %w", name, err)
	}
	if sealed == nil {
		sealed = []byte{}
	}
	now := s.stamp()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO secrets (name, value, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, sealed, now, now)
	if err != nil {
		return fmt.Errorf("saving secret %s: %w", name, err)
	}
	return nil
}

// DeleteSecret removes a secret and its session links.
func (s *Store) DeleteSecret(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting secret %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("secret %s: %w", name, ErrNotFound)
	}
	return nil
}

// AssociateSecret makes a secret visible to a session. Repeating it is a no-op.
func (s *Store) AssociateSecret(ctx context.Context, name, sessionID string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM secrets WHERE name = ?`, name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("looking up secret %s: %w", name, err)
	}
	if exists == 0 {
		return fmt.Errorf("secret %s: %w", name, ErrNotFound)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO secrets_to_sessions (secret_name, session_id) VALUES (?, ?)`,
		name, sessionID)
	if err != nil {
		return fmt.Errorf("associating secret %s: %w", name, err)
	}
	return nil
}

// DisassociateSecret removes the link between a secret and a session.
func (s *Store) DisassociateSecret(ctx context.Context, name, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM secrets_to_sessions WHERE secret_name = ? AND session_id = ?`,
		name, sessionID)
	if err != nil {
		return fmt.Errorf("disassociating secret %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("secret %s on session %s: %w", name, sessionID, ErrNotFound)
	}
	return nil
}

// SecretsForSession returns the decrypted secrets attached to a session.
func (s *Store) SecretsForSession(ctx context.Context, sessionID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.name, s.value
		FROM secrets s
		JOIN secrets_to_sessions l ON l.secret_name = s.name
		WHERE l.session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session secrets: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var (
			name   string
			sealed []byte
		)
		if err := rows.Scan(&name, &sealed); err != nil {
			return nil, fmt.Errorf("scanning secret: %w", err)
		}
		value, err := s.open(sealed)
		if err != nil {
			return nil, fmt.Errorf("opening secret %s: %w", name, err)
		}
		out[name] = value
	}
	return out, rows.Err()
}
