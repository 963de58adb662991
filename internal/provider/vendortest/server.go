// Package vendortest provides fake vendor endpoints for adapter and
// session tests.
package vendortest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler serves one upgraded vendor connection
type Handler func(t *testing.T, r *http.Request, conn *websocket.Conn)

// Server is a fake vendor websocket endpoint
type Server struct {
	*httptest.Server
}

// NewServer starts a websocket server running h for every connection. The
// server is closed when the test ends.
func NewServer(t *testing.T, h Handler) *Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		h(t, r, conn)
	}))
	t.Cleanup(srv.Close)
	return &Server{Server: srv}
}

// NewRejectingServer answers every handshake with status
func NewRejectingServer(t *testing.T, status int) *Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(status), status)
	}))
	t.Cleanup(srv.Close)
	return &Server{Server: srv}
}

// WSURL returns the ws:// URL of the server with path appended
func (s *Server) WSURL(path string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + path
}

// CloseNormal sends a normal closure frame
func CloseNormal(conn *websocket.Conn) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
