package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qxb-in/ot/internal/config"
	"github.com/qxb-in/ot/internal/protocol"
	"github.com/qxb-in/ot/internal/proxyerr"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func serveAsync(mgr *Manager, client *fakeClient) <-chan error {
	done := make(chan error, 1)
	go func() { done <- mgr.Serve(context.Background(), client) }()
	return done
}

func TestNewManagerFromConfig(t *testing.T) {
	cfg := config.Default()
	rec := &fakeRecognizer{name: "fake"}

	mgr := NewManager(&cfg.Session, newRegistry(rec), testLogger(), nil)
	defer mgr.Stop()

	assert.Equal(t, cfg.Session.MaxSessions, mgr.maxSessions)
	assert.Equal(t, cfg.Session.GetMaxDuration(), mgr.maxDuration)
	assert.Equal(t, cfg.Session.QueueCapacity, mgr.opts.QueueCapacity)
	assert.Equal(t, 0, mgr.GetActiveSessionCount())
}

func TestManagerCapacity(t *testing.T) {
	rec := &fakeRecognizer{name: "fake"}
	opts := testOptions()
	opts.ConfigTimeout = 5 * time.Second
	mgr := NewManagerWithOptions(opts, 1, 0, newRegistry(rec), testLogger(), nil)
	defer mgr.Stop()

	first := newFakeClient()
	firstDone := serveAsync(mgr, first)
	waitFor(t, func() bool { return mgr.GetActiveSessionCount() == 1 })

	infos := mgr.GetAllSessions()
	require.Len(t, infos, 1)
	assert.Equal(t, "awaiting_config", infos[0].State)
	s, ok := mgr.GetSession(infos[0].ID)
	require.True(t, ok)
	assert.Equal(t, StateAwaitingConfig, s.State())

	second := newFakeClient(config16k())
	err := mgr.Serve(context.Background(), second)
	require.Error(t, err)
	assert.Equal(t, proxyerr.KindCapacity, proxyerr.KindOf(err))

	out := second.messages()
	require.Len(t, out, 1)
	assert.Equal(t, "capacity_exceeded", out[0].Code)
	assert.True(t, second.isClosed())
	assert.Equal(t, 0, rec.connectCount(), "rejected session must not touch the vendor")

	close(first.in)
	<-firstDone
	assert.Equal(t, 0, mgr.GetActiveSessionCount())
	_, ok = mgr.GetSession(infos[0].ID)
	assert.False(t, ok)
}

func TestManagerServesSession(t *testing.T) {
	rec := cumulativeRecognizer("你", "你好")
	mgr := NewManagerWithOptions(testOptions(), 4, 0, newRegistry(rec), testLogger(), nil)
	defer mgr.Stop()

	client := newFakeClient(config16k(),
		protocol.AudioAppend(chunk100ms(1)),
		protocol.AudioAppend(chunk100ms(2)),
		protocol.End(),
	)
	require.NoError(t, mgr.Serve(context.Background(), client))
	assert.Equal(t, 0, mgr.GetActiveSessionCount())

	out := client.messages()
	require.NotEmpty(t, out)
	assert.Equal(t, protocol.KindTranscriptCompleted, out[len(out)-1].Kind)
	assert.Equal(t, "你好", out[len(out)-1].Text)
}

func TestManagerStopCancelsSessions(t *testing.T) {
	rec := &fakeRecognizer{name: "fake"}
	mgr := NewManagerWithOptions(testOptions(), 4, time.Hour, newRegistry(rec), testLogger(), nil)

	client := newFakeClient(config16k())
	done := serveAsync(mgr, client)
	waitFor(t, func() bool { return rec.connCount() == 1 })

	mgr.Stop()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, proxyerr.KindInternal, proxyerr.KindOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("session not cancelled by Stop")
	}
	out := client.messages()
	require.NotEmpty(t, out)
	assert.Equal(t, "internal_error", out[len(out)-1].Code)
	assert.True(t, rec.conn(0).isClosed())

	// A stopped manager admits nothing
	late := newFakeClient(config16k())
	err := mgr.Serve(context.Background(), late)
	assert.Equal(t, proxyerr.KindCapacity, proxyerr.KindOf(err))
}

func TestManagerStopDuringAdmission(t *testing.T) {
	rec := &fakeRecognizer{name: "fake"}
	mgr := NewManagerWithOptions(testOptions(), 0, 0, newRegistry(rec), testLogger(), nil)

	const clients = 16
	results := make([]<-chan error, 0, clients)
	for i := 0; i < clients; i++ {
		results = append(results, serveAsync(mgr, newFakeClient(config16k())))
	}
	mgr.Stop()

	// Every client was either admitted and cancelled or turned away
	for _, done := range results {
		select {
		case err := <-done:
			require.Error(t, err)
			assert.Contains(t, []proxyerr.Kind{proxyerr.KindInternal, proxyerr.KindCapacity}, proxyerr.KindOf(err))
		case <-time.After(2 * time.Second):
			t.Fatal("session outlived Stop")
		}
	}
	assert.Equal(t, 0, mgr.GetActiveSessionCount())
}

func TestManagerReapsExpiredSessions(t *testing.T) {
	rec := &fakeRecognizer{name: "fake"}
	mgr := NewManagerWithOptions(testOptions(), 4, time.Millisecond, newRegistry(rec), testLogger(), nil)
	defer mgr.Stop()

	client := newFakeClient(config16k())
	done := serveAsync(mgr, client)
	waitFor(t, func() bool { return rec.connCount() == 1 })
	time.Sleep(10 * time.Millisecond)

	mgr.reapExpired()

	select {
	case err := <-done:
		assert.Equal(t, proxyerr.KindCapacity, proxyerr.KindOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("expired session not reaped")
	}
	out := client.messages()
	require.NotEmpty(t, out)
	assert.Contains(t, out[len(out)-1].Detail, "maximum duration")
}
