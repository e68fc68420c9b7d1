package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codynhanpham/nidaq-audioplayer/internal/transport"
)

func TestHandleHealthzReportsTransportState(t *testing.T) {
	machine := transport.NewMachine()
	s := NewServer("", machine)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"transport_state":"idle"`)
}

func TestHandleVersionReturnsConfiguredVersion(t *testing.T) {
	prev := Version
	Version = "test-build"
	defer func() { Version = prev }()

	s := NewServer("", transport.NewMachine())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	s.router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"test-build"`)
}

func TestHandleMetricsExposesPrometheusFormat(t *testing.T) {
	s := NewServer("", transport.NewMachine())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
