package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-cubeb/internal/conf"
)

func TestMetricsHandlerExposesBackendMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	m.Backend.UpdateActiveStreams(1)

	mux := http.NewServeMux()
	m.RegisterHandlers(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "cubeb_active_streams 1")
}

func TestNewEndpointRequiresMetricsEnabled(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	settings := conf.Default()
	_, err = NewEndpoint(settings, m)
	require.Error(t, err)

	settings.Metrics.Enabled = true
	settings.Metrics.Listen = "127.0.0.1:0"
	e, err := NewEndpoint(settings, m)
	require.NoError(t, err)
	assert.Same(t, m, e.GetMetrics())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.NoError(t, e.Run(ctx))
}
