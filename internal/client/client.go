// Package client is a typed client for the Codelive API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zpdzap/codelive/internal/git"
	"github.com/zpdzap/codelive/internal/preview"
	"github.com/zpdzap/codelive/internal/store"
)

// Client calls the API at BaseURL.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a client for the server at baseURL (e.g. http://127.0.0.1:2150).
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is an error reported by the server in the response envelope.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %s (%d)", e.Message, e.Status)
}

type envelope struct {
	Error  bool            `json:"error"`
	Result json.RawMessage `json:"result"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal response (%s): %w", resp.Status, err)
	}
	if env.Error || resp.StatusCode >= 400 {
		var msg string
		if json.Unmarshal(env.Result, &msg) != nil {
			msg = string(env.Result)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	return nil
}

func appPath(appID string, rest ...string) string {
	p := "/api/apps/" + url.PathEscape(appID)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

func (c *Client) ListApps(ctx context.Context) ([]store.App, error) {
	var apps []store.App
	return apps, c.do(ctx, http.MethodGet, "/api/apps", nil, &apps)
}

func (c *Client) CreateApp(ctx context.Context, name, prompt string) (store.App, error) {
	var app store.App
	err := c.do(ctx, http.MethodPost, "/api/apps", map[string]string{"name": name, "prompt": prompt}, &app)
	return app, err
}

func (c *Client) DeleteApp(ctx context.Context, appID string) error {
	return c.do(ctx, http.MethodDelete, appPath(appID), nil, nil)
}

// PreviewRequest mirrors the body of POST /preview-sandbox.
type PreviewRequest struct {
	Port       int               `json:"port,omitempty"`
	TTLSeconds int               `json:"ttlSeconds,omitempty"`
	CPU        string            `json:"cpu,omitempty"`
	Memory     string            `json:"memory,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
}

func (c *Client) CreatePreview(ctx context.Context, appID string, req PreviewRequest) (preview.Preview, error) {
	var p preview.Preview
	return p, c.do(ctx, http.MethodPost, appPath(appID, "preview-sandbox"), req, &p)
}

func (c *Client) ListPreviews(ctx context.Context, appID string) ([]preview.Preview, error) {
	var ps []preview.Preview
	return ps, c.do(ctx, http.MethodGet, appPath(appID, "preview-sandbox"), nil, &ps)
}

func (c *Client) DeletePreview(ctx context.Context, appID, id string) error {
	return c.do(ctx, http.MethodDelete, appPath(appID, "preview-sandbox", id), nil, nil)
}

func (c *Client) PreviewLogs(ctx context.Context, appID, id string) ([]string, error) {
	var lines []string
	return lines, c.do(ctx, http.MethodGet, appPath(appID, "preview-sandbox", id, "logs"), nil, &lines)
}

// StreamLogs follows a preview's output over a websocket. The channel is
// closed when the preview ends, the server goes away, or ctx is done.
func (c *Client) StreamLogs(ctx context.Context, appID, id string) (<-chan string, error) {
	u := "ws" + strings.TrimPrefix(c.baseURL, "http") + appPath(appID, "preview-sandbox", id, "stream")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial log stream: %w", err)
	}

	out := make(chan string, 64)
	done := make(chan struct{})
	go func() {
		// Unblocks ReadMessage when ctx ends first.
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case out <- string(msg):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) Deploy(ctx context.Context, appID, provider string) (store.Deployment, error) {
	var d store.Deployment
	return d, c.do(ctx, http.MethodPost, appPath(appID, "deploy"), map[string]string{"provider": provider}, &d)
}

func (c *Client) Changes(ctx context.Context, appID string) ([]git.Change, error) {
	var changes []git.Change
	return changes, c.do(ctx, http.MethodGet, appPath(appID, "changes"), nil, &changes)
}

func (c *Client) Diff(ctx context.Context, appID string) (string, error) {
	var out struct {
		Diff string `json:"diff"`
	}
	err := c.do(ctx, http.MethodGet, appPath(appID, "diff"), nil, &out)
	return out.Diff, err
}

// Commit records the app's uncommitted changes. It returns the empty
// commit and false when there was nothing to commit.
func (c *Client) Commit(ctx context.Context, appID, message string) (git.Commit, bool, error) {
	var out struct {
		Committed bool        `json:"committed"`
		Commit    *git.Commit `json:"commit"`
	}
	if err := c.do(ctx, http.MethodPost, appPath(appID, "commit"), map[string]string{"message": message}, &out); err != nil {
		return git.Commit{}, false, err
	}
	if !out.Committed || out.Commit == nil {
		return git.Commit{}, false, nil
	}
	return *out.Commit, true, nil
}

// Ping checks that the server is up.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable at %s: %w", c.baseURL, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthz: %s", resp.Status)
	}
	return nil
}
