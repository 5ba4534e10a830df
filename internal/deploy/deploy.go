// Package deploy ships built apps to Modal or to a long-lived local
// Docker container and records each attempt.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zpdzap/codelive/internal/metrics"
	"github.com/zpdzap/codelive/internal/shell"
	"github.com/zpdzap/codelive/internal/store"
)

// ErrUnknownProvider is returned for provider names that are not registered.
var ErrUnknownProvider = errors.New("unknown deployment provider")

// outputTail is how many output lines are kept on a deployment record.
const outputTail = 40

// Source copies an app's files into a directory.
type Source interface {
	CopyTo(appID, dst string) error
}

// Result is what a provider reports after a deployment.
type Result struct {
	URL    string
	Output string
}

// Provider deploys one app.
type Provider interface {
	Name() string
	Deploy(ctx context.Context, appID string) (Result, error)
}

// Recorder persists deployment records.
type Recorder interface {
	CreateDeployment(ctx context.Context, d store.Deployment) (store.Deployment, error)
}

// Service dispatches deployments to providers.
type Service struct {
	providers map[string]Provider
	recorder  Recorder
	log       logrus.FieldLogger
}

// NewService registers providers by name.
func NewService(recorder Recorder, log logrus.FieldLogger, providers ...Provider) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Service{providers: map[string]Provider{}, recorder: recorder, log: log}
	for _, p := range providers {
		s.providers[p.Name()] = p
	}
	return s
}

// Providers lists registered provider names.
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Deploy runs the named provider and records the outcome. A failed
// deployment is recorded and also returned as an error.
func (s *Service) Deploy(ctx context.Context, appID, provider string) (store.Deployment, error) {
	p, ok := s.providers[provider]
	if !ok {
		return store.Deployment{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	log := s.log.WithFields(logrus.Fields{"app_id": appID, "provider": provider})
	log.Info("deploying app")

	start := time.Now()
	res, err := p.Deploy(ctx, appID)
	metrics.RecordDeployment(provider, time.Since(start), err)

	record := store.Deployment{
		AppID:    appID,
		Provider: provider,
		Status:   store.DeploymentSucceeded,
		URL:      res.URL,
		Output:   shell.Tail(res.Output, outputTail),
	}
	if err != nil {
		record.Status = store.DeploymentFailed
		record.Output = shell.Tail(err.Error(), outputTail)
		log.WithError(err).Warn("deployment failed")
	} else {
		log.WithField("url", res.URL).Info("deployment succeeded")
	}

	saved, recErr := s.recorder.CreateDeployment(context.WithoutCancel(ctx), record)
	if recErr != nil {
		log.WithError(recErr).Error("recording deployment")
		saved = record
	}
	if err != nil {
		return saved, fmt.Errorf("deploying to %s: %w", provider, err)
	}
	return saved, nil
}
