package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// App is the metadata row for a generated project. ExternalID names the
// project's directory and is the id used in API paths.
type App struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"externalId"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

const appColumns = `id, external_id, name, created_at, updated_at`

func scanApp(row interface{ Scan(...any) error }) (App, error) {
	var (
		app              App
		created, updated int64
	)
	if err := row.Scan(&app.ID, &app.ExternalID, &app.Name, &created, &updated); err != nil {
		return App{}, err
	}
	app.CreatedAt = fromMillis(created)
	app.UpdatedAt = fromMillis(updated)
	return app, nil
}

// CreateApp inserts a new app with a fresh external id.
func (s *Store) CreateApp(ctx context.Context, name string) (App, error) {
	now := s.stamp()
	externalID := uuid.NewString()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO apps (external_id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		externalID, name, now, now)
	if err != nil {
		return App{}, fmt.Errorf("inserting app: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return App{}, fmt.Errorf("reading app id: %w", err)
	}
	return App{
		ID:         id,
		ExternalID: externalID,
		Name:       name,
		CreatedAt:  fromMillis(now),
		UpdatedAt:  fromMillis(now),
	}, nil
}

// GetApp looks an app up by external id.
func (s *Store) GetApp(ctx context.Context, externalID string) (App, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+appColumns+` FROM apps WHERE external_id = ?`, externalID)
	app, err := scanApp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return App{}, fmt.Errorf("app %s: %w", externalID, ErrNotFound)
	}
	if err != nil {
		return App{}, fmt.Errorf("loading app: %w", err)
	}
	return app, nil
}

// ListApps returns every app ordered by last update; order is "asc" or "desc".
func (s *Store) ListApps(ctx context.Context, order string) ([]App, error) {
	dir := "DESC"
	if order == "asc" {
		dir = "ASC"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+appColumns+` FROM apps ORDER BY updated_at `+dir+`, id `+dir)
	if err != nil {
		return nil, fmt.Errorf("listing apps: %w", err)
	}
	defer rows.Close()

	apps := []App{}
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning app: %w", err)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// RenameApp changes an app's display name.
func (s *Store) RenameApp(ctx context.Context, externalID, name string) (App, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE apps SET name = ?, updated_at = ? WHERE external_id = ?`,
		name, s.stamp(), externalID)
	if err != nil {
		return App{}, fmt.Errorf("renaming app: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return App{}, fmt.Errorf("app %s: %w", externalID, ErrNotFound)
	}
	return s.GetApp(ctx, externalID)
}

// TouchApp bumps updated_at after file changes.
func (s *Store) TouchApp(ctx context.Context, externalID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE apps SET updated_at = ? WHERE external_id = ?`, s.stamp(), externalID)
	if err != nil {
		return fmt.Errorf("touching app: %w", err)
	}
	return nil
}

// DeleteApp removes the app row.
func (s *Store) DeleteApp(ctx context.Context, externalID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM apps WHERE external_id = ?`, externalID)
	if err != nil {
		return fmt.Errorf("deleting app: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting app: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("app %s: %w", externalID, ErrNotFound)
	}
	return nil
}
