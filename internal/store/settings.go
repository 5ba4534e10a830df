package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Settings is the single row of user configuration.
type Settings struct {
	BaseDir           string `json:"baseDir"`
	DefaultLanguage   string `json:"defaultLanguage"`
	AIProvider        string `json:"aiProvider"`
	AIModel           string `json:"aiModel"`
	AIBaseURL         string `json:"aiBaseUrl"`
	OpenAIKey         string `json:"openaiKey"`
	AnthropicKey      string `json:"anthropicKey"`
	XAIKey            string `json:"xaiKey"`
	GeminiKey         string `json:"geminiKey"`
	CustomAPIKey      string `json:"customApiKey"`
	EnabledAnalytics  bool   `json:"enabledAnalytics"`
	InstallID         string `json:"installId"`
	SubscriptionEmail string `json:"subscriptionEmail"`
}

// APIKey returns the key configured for the active provider.
func (s Settings) APIKey() string {
	switch s.AIProvider {
	case "openai":
		return s.OpenAIKey
	case "anthropic":
		return s.AnthropicKey
	case "xai", "Xai":
		return s.XAIKey
	case "gemini", "Gemini":
		return s.GeminiKey
	case "custom":
		return s.CustomAPIKey
	}
	return ""
}

// SettingsUpdate carries a partial update; nil fields are left unchanged.
type SettingsUpdate struct {
	BaseDir           *string `json:"baseDir,omitempty"`
	DefaultLanguage   *string `json:"defaultLanguage,omitempty"`
	AIProvider        *string `json:"aiProvider,omitempty"`
	AIModel           *string `json:"aiModel,omitempty"`
	AIBaseURL         *string `json:"aiBaseUrl,omitempty"`
	OpenAIKey         *string `json:"openaiKey,omitempty"`
	AnthropicKey      *string `json:"anthropicKey,omitempty"`
	XAIKey            *string `json:"xaiKey,omitempty"`
	GeminiKey         *string `json:"geminiKey,omitempty"`
	CustomAPIKey      *string `json:"customApiKey,omitempty"`
	EnabledAnalytics  *bool   `json:"enabledAnalytics,omitempty"`
	SubscriptionEmail *string `json:"subscriptionEmail,omitempty"`
}

var ErrInvalidSettings = errors.New("invalid settings")

// GetSettings returns the settings row, creating it with defaults on first use.
func (s *Store) GetSettings(ctx context.Context) (Settings, error) {
	settings, err := s.loadSettings(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO config (id, install_id) VALUES (1, ?)`, uuid.NewString()); err != nil {
			return Settings{}, fmt.Errorf("initializing settings: %w", err)
		}
		settings, err = s.loadSettings(ctx)
	}
	if err != nil {
		return Settings{}, fmt.Errorf("loading settings: %w", err)
	}
	return settings, nil
}

func (s *Store) loadSettings(ctx context.Context) (Settings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT base_dir, default_language, ai_provider, ai_model, ai_base_url,
		       openai_key, anthropic_key, xai_key, gemini_key, custom_api_key,
		       enabled_analytics, install_id, subscription_email
		FROM config WHERE id = 1`)

	var (
		st        Settings
		keys      [5][]byte
		analytics int
	)
	if err := row.Scan(&st.BaseDir, &st.DefaultLanguage, &st.AIProvider, &st.AIModel, &st.AIBaseURL,
		&keys[0], &keys[1], &keys[2], &keys[3], &keys[4],
		&analytics, &st.InstallID, &st.SubscriptionEmail); err != nil {
		return Settings{}, err
	}
	st.EnabledAnalytics = analytics != 0

	targets := []*string{&st.OpenAIKey, &st.AnthropicKey, &st.XAIKey, &st.GeminiKey, &st.CustomAPIKey}
	for i, sealed := range keys {
		plain, err := s.open(sealed)
		if err != nil {
			return Settings{}, fmt.Errorf("opening api key: %w", err)
		}
		*targets[i] = plain
	}
	return st, nil
}

// UpdateSettings applies a partial update and returns the new settings.
func (s *Store) UpdateSettings(ctx context.Context, u SettingsUpdate) (Settings, error) {
	if u.DefaultLanguage != nil && *u.DefaultLanguage != "typescript" && *u.DefaultLanguage != "javascript" {
		return Settings{}, fmt.Errorf("%w: defaultLanguage must be typescript or javascript", ErrInvalidSettings)
	}
	if _, err := s.GetSettings(ctx); err != nil {
		return Settings{}, err
	}

	var (
		sets []string
		args []any
	)
	text := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, *v)
		}
	}
	var sealErr error
	secret := func(col string, v *string) {
		if v == nil || sealErr != nil {
			return
		}
		sealed, err := s.seal(*v)
		if err != nil {
			sealErr = err
			return
		}
		sets = append(sets, col+" = ?")
		args = append(args, sealed)
	}

	text("base_dir", u.BaseDir)
	text("default_language", u.DefaultLanguage)
	text("ai_provider", u.AIProvider)
	text("ai_model", u.AIModel)
	text("ai_base_url", u.AIBaseURL)
	text("subscription_email", u.SubscriptionEmail)
	secret("openai_key", u.OpenAIKey)
	secret("anthropic_key", u.AnthropicKey)
	secret("xai_key", u.XAIKey)
	secret("gemini_key", u.GeminiKey)
	secret("custom_api_key", u.CustomAPIKey)
	if sealErr != nil {
		return Settings{}, fmt.Errorf("sealing api key: %w", sealErr)
	}
	if u.EnabledAnalytics != nil {
		sets = append(sets, "enabled_analytics = ?")
		if *u.EnabledAnalytics {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}

	if len(sets) > 0 {
		query := `UPDATE config SET ` + strings.Join(sets, ", ") + ` WHERE id = 1`
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return Settings{}, fmt.Errorf("updating settings: %w", err)
		}
	}
	return s.GetSettings(ctx)
}
