package provider_test

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qxb-in/ot/internal/provider"
	"github.com/qxb-in/ot/internal/provider/vendortest"
	"github.com/qxb-in/ot/internal/proxyerr"
)

func TestSocketEcho(t *testing.T) {
	srv := vendortest.NewServer(t, func(t *testing.T, r *http.Request, conn *websocket.Conn) {
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(typ, data)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sock, err := provider.Dial(ctx, srv.WSURL("/"), nil, provider.DialOptions{})
	require.NoError(t, err)
	defer sock.Close()

	require.NoError(t, sock.WriteText([]byte("hello")))
	require.NoError(t, sock.WriteBinary([]byte{1, 2, 3}))
	require.NoError(t, sock.WriteJSON(map[string]int{"a": 1}))

	msg, err := sock.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, provider.Message{Type: websocket.TextMessage, Data: []byte("hello")}, msg)

	msg, err = sock.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, provider.Message{Type: websocket.BinaryMessage, Data: []byte{1, 2, 3}}, msg)

	msg, err = sock.Next(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(msg.Data))
}

func TestSocketNormalCloseIsEOF(t *testing.T) {
	srv := vendortest.NewServer(t, func(t *testing.T, r *http.Request, conn *websocket.Conn) {
		vendortest.CloseNormal(conn)
	})

	sock, err := provider.Dial(context.Background(), srv.WSURL("/"), nil, provider.DialOptions{})
	require.NoError(t, err)
	defer sock.Close()

	_, err = sock.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestSocketAbnormalCloseIsNetworkError(t *testing.T) {
	srv := vendortest.NewServer(t, func(t *testing.T, r *http.Request, conn *websocket.Conn) {
		conn.UnderlyingConn().Close()
	})

	sock, err := provider.Dial(context.Background(), srv.WSURL("/"), nil, provider.DialOptions{})
	require.NoError(t, err)
	defer sock.Close()

	_, err = sock.Next(context.Background())
	assert.Equal(t, proxyerr.KindNetwork, proxyerr.KindOf(err))
}

func TestSocketCloseUnblocksNext(t *testing.T) {
	srv := vendortest.NewServer(t, func(t *testing.T, r *http.Request, conn *websocket.Conn) {
		conn.ReadMessage()
	})

	sock, err := provider.Dial(context.Background(), srv.WSURL("/"), nil, provider.DialOptions{})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := sock.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sock.Close())
	require.NoError(t, sock.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, provider.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}

	assert.ErrorIs(t, sock.WriteText([]byte("x")), provider.ErrClosed)
}

func TestSocketNextContext(t *testing.T) {
	srv := vendortest.NewServer(t, func(t *testing.T, r *http.Request, conn *websocket.Conn) {
		conn.ReadMessage()
	})

	sock, err := provider.Dial(context.Background(), srv.WSURL("/"), nil, provider.DialOptions{})
	require.NoError(t, err)
	defer sock.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sock.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialClassification(t *testing.T) {
	tests := []struct {
		status int
		want   proxyerr.Kind
	}{
		{http.StatusUnauthorized, proxyerr.KindAuth},
		{http.StatusForbidden, proxyerr.KindAuth},
		{http.StatusNotFound, proxyerr.KindNetwork},
		{http.StatusServiceUnavailable, proxyerr.KindNetwork},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := vendortest.NewRejectingServer(t, tt.status)
			_, err := provider.Dial(context.Background(), srv.WSURL("/"), nil, provider.DialOptions{})
			assert.Equal(t, tt.want, proxyerr.KindOf(err))
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		_, err := provider.Dial(context.Background(), "ws://127.0.0.1:1/", nil, provider.DialOptions{HandshakeTimeout: time.Second})
		assert.Equal(t, proxyerr.KindNetwork, proxyerr.KindOf(err))
	})
}
