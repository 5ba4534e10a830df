package sandbox

import "time"

// Status represents the current state of a sandbox container.
type Status string

const (
	StatusCreating Status = "creating"
	StatusReady    Status = "ready"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
	StatusExpired  Status = "expired"
)

// Resources are the container limits.
type Resources struct {
	CPU    string `json:"cpu"`
	Memory string `json:"memory"`
}

// Sandbox is an app running in its own container.
type Sandbox struct {
	ID          string    `json:"id"`
	AppID       string    `json:"appId"`
	Container   string    `json:"container"`
	ContainerID string    `json:"containerId,omitempty"`
	Image       string    `json:"image"`
	Status      Status    `json:"status"`
	Port        int       `json:"port"`
	HostPort    string    `json:"hostPort,omitempty"`
	URL         string    `json:"url,omitempty"`
	Resources   Resources `json:"resources"`
	Error       string    `json:"error,omitempty"`
	BuildDir    string    `json:"buildDir"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`

	// removed is set once the record leaves the registry, so an in-flight
	// launch knows to tear down what it started.
	removed bool
}

func (s *Sandbox) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
