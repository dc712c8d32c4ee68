package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionGauge(t *testing.T) {
	m := New()

	m.SessionStarted()
	m.SessionStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsActive))

	m.SessionEnded()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsTotal))
}

func TestTurnOutcomes(t *testing.T) {
	m := New()

	m.TurnFinished("completed", 1500*time.Millisecond)
	m.TurnFinished("completed", time.Second)
	m.TurnFinished("cancelled", 200*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turnsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turnsTotal.WithLabelValues("cancelled")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.turnDuration))
}

func TestEventCounters(t *testing.T) {
	m := New()

	m.EventSent("audio_chunk")
	m.EventDropped("audio_chunk")
	m.EventDropped("end_of_session")
	m.FrameDropped()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsSent.WithLabelValues("audio_chunk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsDropped.WithLabelValues("end_of_session")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDropped))
}

func TestNilMetricsIgnoresCalls(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted()
		m.SessionEnded()
		m.TurnFinished("failed", time.Second)
		m.EventSent("error")
		m.EventDropped("error")
		m.FrameDropped()
	})
}

func TestRegisterTwiceIsAllowed(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()

	require.NoError(t, m.Register(reg))
	require.NoError(t, m.Register(reg))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	reg, err := NewRegistry(m)
	require.NoError(t, err)

	m.SessionStarted()

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "ema_gateway_sessions_active 1"))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
