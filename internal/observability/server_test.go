// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ingeniia/authsvc/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startServer(t *testing.T, ready ReadinessChecker) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0", ready, logging.Discard())
	_, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, server.Stop(ctx))
		http.DefaultClient.CloseIdleConnections()
	})
	return server
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec,noctx // test-only loopback URL
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Metrics(t *testing.T) {
	server := startServer(t, nil)

	server.Metrics().RecordOutcome("login", "success")
	server.Metrics().ObserveRequest("POST", "/api/v1/auth/login", 200, 15*time.Millisecond)
	server.Metrics().RecordRateLimited("login")

	status, body := get(t, "http://"+server.Addr()+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "go_")
	assert.Contains(t, body, "process_")
	assert.Contains(t, body, `authsvc_operation_outcomes_total{operation="login",outcome="success"} 1`)
	assert.Contains(t, body, "authsvc_http_request_duration_seconds_bucket")
	assert.Contains(t, body, `authsvc_rate_limited_total{bucket="login"} 1`)
}

func TestServer_Probes(t *testing.T) {
	t.Run("liveness", func(t *testing.T) {
		server := startServer(t, nil)
		status, body := get(t, "http://"+server.Addr()+"/healthz/liveness")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "ok", strings.TrimSpace(body))
	})

	t.Run("ready", func(t *testing.T) {
		server := startServer(t, func(context.Context) error { return nil })
		status, _ := get(t, "http://"+server.Addr()+"/healthz/readiness")
		assert.Equal(t, http.StatusOK, status)
	})

	t.Run("not ready", func(t *testing.T) {
		server := startServer(t, func(context.Context) error { return errors.New("database down") })
		status, body := get(t, "http://"+server.Addr()+"/healthz/readiness")
		assert.Equal(t, http.StatusServiceUnavailable, status)
		assert.Equal(t, "not ready", strings.TrimSpace(body))
	})
}

func TestServer_StartTwice(t *testing.T) {
	server := startServer(t, nil)
	_, err := server.Start()
	require.Error(t, err)
}

func TestServer_StopWithoutStart(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, logging.Discard())
	require.NoError(t, server.Stop(context.Background()))
	assert.Empty(t, server.Addr())
}

func TestServer_StartInvalidAddr(t *testing.T) {
	server := NewServer("256.0.0.1:bad", nil, logging.Discard())
	_, err := server.Start()
	require.Error(t, err)

	// A failed start leaves the server restartable.
	server.addr = "127.0.0.1:0"
	_, err = server.Start()
	require.NoError(t, err)
	require.NoError(t, server.Stop(context.Background()))
}

func TestMetrics_RecordOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordOutcome("register", "success")
	m.RecordOutcome("register", "success")
	m.RecordOutcome("register", "captcha_failed")

	assert.InDelta(t, 2, testutil.ToFloat64(m.OutcomesTotal.WithLabelValues("register", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.OutcomesTotal.WithLabelValues("register", "captcha_failed")), 0)
}
