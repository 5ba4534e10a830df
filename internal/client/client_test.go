package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(w http.ResponseWriter, status int, isErr bool, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": isErr, "result": v})
}

func TestListAppsAndErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/apps", func(w http.ResponseWriter, r *http.Request) {
		result(w, http.StatusOK, false, []map[string]any{{"externalId": "a1", "name": "Todo"}})
	})
	mux.HandleFunc("/api/apps/missing", func(w http.ResponseWriter, r *http.Request) {
		result(w, http.StatusNotFound, true, "app missing: not found")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, time.Second)
	apps, err := c.ListApps(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "Todo", apps[0].Name)

	err = c.DeleteApp(context.Background(), "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "err = %v", err)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "app missing: not found", apiErr.Message)
}

func TestCommit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "/api/apps/a1/commit", r.URL.Path)
		if calls == 1 {
			result(w, http.StatusOK, false, map[string]any{"committed": true, "commit": map[string]string{"sha": "abc", "message": body["message"]}})
			return
		}
		result(w, http.StatusOK, false, map[string]any{"committed": false})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	commit, ok, err := c.Commit(context.Background(), "a1", "save")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", commit.SHA)
	assert.Equal(t, "save", commit.Message)

	_, ok, err = c.Commit(context.Background(), "a1", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStreamLogs(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/apps/a1/preview-sandbox/p1/stream", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("one"))
		conn.WriteMessage(websocket.TextMessage, []byte("two"))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	lines, err := c.StreamLogs(ctx, "a1", "p1")
	require.NoError(t, err)

	var got []string
	for l := range lines {
		got = append(got, l)
	}
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestStreamLogsReleasesWatcherWhenServerCloses(t *testing.T) {
	before := runtime.NumGoroutine()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte("bye"))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}))

	// A context that is never cancelled must not pin the stream goroutines.
	lines, err := New(srv.URL, time.Second).StreamLogs(context.Background(), "a1", "p1")
	require.NoError(t, err)
	for range lines {
	}
	srv.Close()

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	c := New(srv.URL, time.Second)
	assert.NoError(t, c.Ping(context.Background()))
	srv.Close()
	assert.Error(t, c.Ping(context.Background()))
}
