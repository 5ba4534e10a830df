package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	DeploymentSucceeded = "succeeded"
	DeploymentFailed    = "failed"
)

// Deployment records one attempt to ship an app.
type Deployment struct {
	ID        string    `json:"id"`
	AppID     string    `json:"appId"`
	Provider  string    `json:"provider"`
	Status    string    `json:"status"`
	URL       string    `json:"url,omitempty"`
	Output    string    `json:"output,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateDeployment inserts d, filling ID and CreatedAt when empty.
func (s *Store) CreateDeployment(ctx context.Context, d Deployment) (Deployment, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := s.stamp()
	if !d.CreatedAt.IsZero() {
		now = d.CreatedAt.UTC().UnixMilli()
	}
	d.CreatedAt = fromMillis(now)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deployments (id, app_id, provider, status, url, output, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.AppID, d.Provider, d.Status, d.URL, d.Output, now)
	if err != nil {
		return Deployment{}, fmt.Errorf("recording deployment: %w", err)
	}
	return d, nil
}

// ListDeployments returns an app's deployments, newest first.
func (s *Store) ListDeployments(ctx context.Context, appID string) ([]Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_id, provider, status, url, output, created_at
		FROM deployments WHERE app_id = ?
		ORDER BY created_at DESC, rowid DESC`, appID)
	if err != nil {
		return nil, fmt.Errorf("listing deployments: %w", err)
	}
	defer rows.Close()

	out := []Deployment{}
	for rows.Next() {
		var (
			d       Deployment
			created int64
		)
		if err := rows.Scan(&d.ID, &d.AppID, &d.Provider, &d.Status, &d.URL, &d.Output, &created); err != nil {
			return nil, fmt.Errorf("scanning deployment: %w", err)
		}
		d.CreatedAt = fromMillis(created)
		out = append(out, d)
	}
	return out, rows.Err()
}
