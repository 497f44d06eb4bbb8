package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"inviter/internal/invite"
	logx "inviter/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestObserver(t *testing.T) {
	t.Parallel()
	m := New("inviter")
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	m.ObserveAttempt(invite.Record{Handle: "a", Outcome: invite.OutcomeInvited, AttemptedAt: at}, 300*time.Millisecond)
	m.ObserveAttempt(invite.Record{Handle: "b", Outcome: invite.OutcomeRateLimitedGlobal, AttemptedAt: at.Add(time.Minute)}, time.Second)
	m.ObserveBackoff(invite.OutcomeRateLimitedGlobal, time.Hour)
	m.ObserveWait("slot", 30*time.Minute)
	m.ObserveWait("slot", 30*time.Minute)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("invited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("peer_flood")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.attempts.WithLabelValues("error")))
	assert.Equal(t, 3600.0, testutil.ToFloat64(m.backoffSeconds.WithLabelValues("peer_flood")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.waits.WithLabelValues("slot")))
	assert.Equal(t, float64(at.Add(time.Minute).Unix()), testutil.ToFloat64(m.lastAttempt))
	assert.Equal(t, 7, testutil.CollectAndCount(m.attempts))
}

func TestFuncCollectors(t *testing.T) {
	t.Parallel()
	m := New("inviter")
	m.GaugeFunc("inviter", "pending_candidates", "pending", func() float64 { return 12 })
	m.CounterFunc("inviter", "eventbus_dropped_total", "dropped", func() float64 { return 3 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, "inviter_pending_candidates 12")
	assert.Contains(t, body, "inviter_eventbus_dropped_total 3")
	assert.Contains(t, body, `inviter_invite_attempts_total{outcome="not_mutual"} 0`)
	assert.Contains(t, body, "go_goroutines")
}

func get(t *testing.T, h http.Handler, target string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	s := NewServer(ServerConfig{}, nil, logx.Nop())
	s.AddCheck("db", func(context.Context) error { return nil })

	rec := get(t, s.Handler(), "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var rep healthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, "ok", rep.Status)
	assert.Equal(t, "ok", rep.Checks["db"])

	s.AddCheck("supervisor", func(context.Context) error { return errors.New("invite.scheduler: ledger down") })
	rec = get(t, s.Handler(), "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, "degraded", rep.Status)
	assert.Equal(t, "invite.scheduler: ledger down", rep.Checks["supervisor"])
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	m := New("inviter")
	h := NewServer(ServerConfig{Token: "s3cret"}, m.Handler(), logx.Nop()).Handler()

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/metrics", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/metrics?token=nope", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz", map[string]string{"Authorization": "Bearer nope"}).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/metrics?token=s3cret", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz", map[string]string{"Authorization": "Bearer s3cret"}).Code)
}

func TestPprofRoutesOptional(t *testing.T) {
	t.Parallel()
	off := NewServer(ServerConfig{}, nil, logx.Nop()).Handler()
	assert.Equal(t, http.StatusNotFound, get(t, off, "/debug/pprof/", nil).Code)

	on := NewServer(ServerConfig{Pprof: true}, nil, logx.Nop()).Handler()
	assert.Equal(t, http.StatusOK, get(t, on, "/debug/pprof/", nil).Code)
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:9090": true,
		"[::1]:9090":     true,
		":9090":          false,
		"0.0.0.0:9090":   false,
		"10.0.0.5:9090":  false,
		"nonsense":       false,
	}
	for addr, want := range tests {
		assert.Equal(t, want, isLoopbackAddr(addr), addr)
	}
}

func TestRunRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := NewServer(ServerConfig{Addr: "0.0.0.0:0"}, nil, logx.Nop())
	assert.ErrorIs(t, s.Run(context.Background()), ErrInsecureBind)
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(ServerConfig{}, New("inviter").Handler(), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	client := &http.Client{Timeout: 5 * time.Second}
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = client.Get("http://" + ln.Addr().String() + "/healthz")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	client.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
