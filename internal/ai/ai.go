// Package ai talks to hosted language models to generate and edit projects.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/zpdzap/codelive/internal/metrics"
	"github.com/zpdzap/codelive/internal/store"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderXAI       = "xai"
	ProviderGemini    = "gemini"
	ProviderCustom    = "custom"
)

var (
	ErrUnknownProvider = errors.New("unknown ai provider")
	ErrNoAPIKey        = errors.New("no api key configured")
)

// Endpoint is a resolved provider: where to send requests and with what.
type Endpoint struct {
	Provider string
	BaseURL  string
	Model    string
	Key      string
}

var defaults = map[string]Endpoint{
	ProviderOpenAI:    {BaseURL: "https://api.openai.com/v1", Model: "gpt-4o"},
	ProviderAnthropic: {BaseURL: "https://api.anthropic.com/v1", Model: "claude-3-5-sonnet-latest"},
	ProviderXAI:       {BaseURL: "https://api.x.ai/v1", Model: "grok-2-latest"},
	ProviderGemini:    {BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai", Model: "gemini-1.5-pro"},
	ProviderCustom:    {},
}

// Resolve picks the endpoint described by the settings row. An explicit
// aiBaseUrl overrides the provider default.
func Resolve(s store.Settings) (Endpoint, error) {
	provider := s.AIProvider
	if provider == "" {
		provider = ProviderXAI
	}
	ep, ok := defaults[provider]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	ep.Provider = provider
	if s.AIModel != "" {
		ep.Model = s.AIModel
	}
	if s.AIBaseURL != "" {
		ep.BaseURL = s.AIBaseURL
	}
	ep.BaseURL = strings.TrimRight(ep.BaseURL, "/")
	ep.Key = s.APIKey()

	if ep.BaseURL == "" {
		return Endpoint{}, fmt.Errorf("provider %s: aiBaseUrl is required", provider)
	}
	if ep.Model == "" {
		return Endpoint{}, fmt.Errorf("provider %s: aiModel is required", provider)
	}
	if ep.Key == "" && provider != ProviderCustom {
		return Endpoint{}, fmt.Errorf("provider %s: %w", provider, ErrNoAPIKey)
	}
	return ep, nil
}

// SettingsSource supplies the current settings row.
type SettingsSource interface {
	GetSettings(ctx context.Context) (store.Settings, error)
}

type Options struct {
	RequestsPerMinute int
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// Client sends prompts to whichever provider the settings select.
type Client struct {
	settings SettingsSource
	http     *http.Client
	limiter  *rate.Limiter
	log      logrus.FieldLogger
}

func New(settings SettingsSource, opts Options, log logrus.FieldLogger) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 2 * time.Minute
		}
		hc = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	burst := 1
	if opts.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RequestsPerMinute))
		burst = opts.RequestsPerMinute
	}
	return &Client{
		settings: settings,
		http:     hc,
		limiter:  rate.NewLimiter(limit, burst),
		log:      log,
	}
}

// Complete sends one system+user exchange and returns the model's text.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	s, err := c.settings.GetSettings(ctx)
	if err != nil {
		return "", fmt.Errorf("loading settings: %w", err)
	}
	ep, err := Resolve(s)
	if err != nil {
		return "", err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	start := time.Now()
	var text string
	if ep.Provider == ProviderAnthropic {
		text, err = c.anthropic(ctx, ep, system, prompt)
	} else {
		text, err = c.chatCompletion(ctx, ep, system, prompt)
	}
	metrics.RecordAIRequest(ep.Provider, time.Since(start), err)

	log := c.log.WithFields(logrus.Fields{"provider": ep.Provider, "model": ep.Model, "duration": time.Since(start).Round(time.Millisecond)})
	if err != nil {
		log.WithError(err).Warn("ai request failed")
		return "", err
	}
	log.Debug("ai request complete")
	return text, nil
}

// Healthcheck verifies the configured provider answers.
func (c *Client) Healthcheck(ctx context.Context) error {
	text, err := c.Complete(ctx, "You are a health check. Reply with the single word: ok", "ping")
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("provider returned an empty reply")
	}
	return nil
}
