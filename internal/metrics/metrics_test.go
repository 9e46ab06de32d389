package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	m := New()

	m.ConnectionAccepted()
	m.ConnectionAccepted()
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.AuthFailed("timed_out")
	m.MessageReceived()
	m.MessageSent()
	m.SetSessions(3)
	m.ObserveTick(0.001)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsLive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authFailures.WithLabelValues("timed_out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesSent))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessions))
	assert.Equal(t, 1, testutil.CollectAndCount(m.tickDuration))
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionAccepted()
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.AuthFailed("failed")
		m.MessageReceived()
		m.MessageSent()
		m.SetSessions(1)
		m.ObserveTick(1)
	})
}

func TestHandler(t *testing.T) {
	t.Parallel()

	m := New()
	m.ConnectionAccepted()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "evercrawl_connections_accepted_total 1")
}
