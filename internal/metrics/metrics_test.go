package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/", "/"},
		{"/healthz", "/healthz"},
		{"/api/settings", "/api/settings"},
		{"/api/apps/8c1f/files", "/api/apps/:id/files"},
		{"/api/apps/8c1f/preview-sandbox/abc/logs", "/api/apps/:id/preview-sandbox"},
		{"/api/secrets/TOKEN", "/api/secrets/:id"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, canonicalPath(tt.in), tt.in)
	}
}

func TestInstrumentHandlerCountsStatus(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/apps/:id", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/apps/xyz", nil))
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/apps/:id", "418"))

	assert.Equal(t, before+1, after)
}

func TestRecordDeployment(t *testing.T) {
	before := testutil.ToFloat64(deployments.WithLabelValues("modal", "failed"))
	RecordDeployment("modal", time.Second, errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(deployments.WithLabelValues("modal", "failed")))
}

func TestHandlerExposesNamespace(t *testing.T) {
	PreviewStarted()
	PreviewEnded("deleted")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "codelive_preview_ended_total"))
}
