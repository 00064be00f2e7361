package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPServer_HealthAndMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.ListenAddr = "127.0.0.1:0"
	d := newTestDaemon(t, cfg)
	require.NoError(t, d.Start(context.Background()))
	require.NotNil(t, d.httpServer)

	srv := httptest.NewServer(d.httpServer.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	var report HealthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, HealthStatusHealthy, report.Status)
	require.True(t, report.Running)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "memoryd_running 1"), string(body))
}

func TestHTTPServer_UnhealthyWhenStopped(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	srv := httptest.NewServer(NewHTTPServer("", d).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHTTPServer_StartStop(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	s := NewHTTPServer("127.0.0.1:0", d)
	require.NoError(t, s.Start(context.Background()))

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()

	require.NoError(t, s.Stop(context.Background()))
}
