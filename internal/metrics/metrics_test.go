package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveToolCall(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveToolCall("calculate_math", "success", 20*time.Millisecond)
	m.ObserveToolCall("calculate_math", "success", 10*time.Millisecond)
	m.ObserveToolCall("calculate_math", "error", time.Millisecond)
	m.ObserveToolCall("unknown", "not_found", 0)

	require.Equal(t, 2.0, testutil.ToFloat64(m.toolCallsTotal.WithLabelValues("calculate_math", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.toolCallsTotal.WithLabelValues("calculate_math", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.toolCallsTotal.WithLabelValues("unknown", "not_found")))
	require.Equal(t, 1, testutil.CollectAndCount(m.toolCallSeconds))
}

func TestSessionGaugeAndUpdates(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SessionStarted()
	require.Equal(t, 1.0, testutil.ToFloat64(m.sessionsActive))

	m.ObserveUpdate("output_delta")
	m.ObserveUpdate("output_delta")
	m.ObserveBargeIn()
	m.SessionEnded("stopped", 3*time.Second)

	require.Equal(t, 0.0, testutil.ToFloat64(m.sessionsActive))
	require.Equal(t, 2.0, testutil.ToFloat64(m.updatesTotal.WithLabelValues("output_delta")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.bargeInsTotal))
	require.Equal(t, 1, testutil.CollectAndCount(m.sessionSeconds))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveUpdate("x")
	m.ObserveToolCall("x", "success", time.Second)
	m.ObserveBargeIn()
	m.SessionStarted()
	m.SessionEnded("stopped", time.Second)
}

func TestExporterHandler(t *testing.T) {
	m := New(nil)
	m.ObserveBargeIn()
	exp := NewExporter(m.Collectors()...)

	srv := httptest.NewServer(exp.Handler())
	defer srv.Close()

	body := get(t, srv.URL+"/metrics")
	require.Contains(t, body, "talkingbot_barge_ins_total 1")
	require.Contains(t, body, "go_goroutines")

	require.Equal(t, "ok", get(t, srv.URL+"/health"))
}

func TestExporterServeAndShutdown(t *testing.T) {
	exp := NewExporter(New(nil).Collectors()...)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- exp.ServeListener(lis) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + lis.Addr().String() + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, exp.Shutdown(context.Background()))
	require.NoError(t, <-done)
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return strings.TrimSpace(string(body))
}
