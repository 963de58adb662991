package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/qxb-in/ot/internal/protocol"
	"github.com/qxb-in/ot/internal/proxyerr"
)

// maxClientMessage bounds one inbound websocket message; base64 audio
// chunks of a few hundred milliseconds fit comfortably
const maxClientMessage = 4 << 20

type inbound struct {
	msg protocol.Message
	err error
}

// wsClient adapts a client websocket to session.ClientConn. A single pump
// goroutine owns reads so a ReadMessage deadline never tears down the
// socket, which coder/websocket does when a Read context expires.
type wsClient struct {
	conn    *websocket.Conn
	dialect protocol.Dialect
	logger  *slog.Logger

	msgs    chan inbound
	done    chan struct{} // closed when the pump stops
	readErr error

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	closeStatus websocket.StatusCode
	closeReason string
	closed      bool
}

func newWSClient(conn *websocket.Conn, dialect protocol.Dialect, logger *slog.Logger) *wsClient {
	conn.SetReadLimit(maxClientMessage)
	ctx, cancel := context.WithCancel(context.Background())
	c := &wsClient{
		conn:        conn,
		dialect:     dialect,
		logger:      logger,
		msgs:        make(chan inbound),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		closeStatus: websocket.StatusNormalClosure,
	}
	go c.pump()
	return c
}

func (c *wsClient) pump() {
	defer close(c.done)
	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && c.ctx.Err() == nil {
				c.logger.Debug("Client websocket read failed", slog.String("error", err.Error()))
			}
			c.readErr = proxyerr.Wrap(proxyerr.KindClientGone, err, "client connection closed")
			return
		}

		var in inbound
		switch typ {
		case websocket.MessageBinary:
			in.msg = protocol.AudioAppend(data)
		default:
			in.msg, in.err = protocol.Parse(data)
		}

		select {
		case c.msgs <- in:
		case <-c.ctx.Done():
			return
		}
	}
}

// ReadMessage returns the next client message
func (c *wsClient) ReadMessage(ctx context.Context) (protocol.Message, error) {
	select {
	case in := <-c.msgs:
		return in.msg, in.err
	case <-c.done:
		return protocol.Message{}, c.readErr
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

// WriteMessage encodes msg in the client's dialect. An error message also
// picks the close status used when the connection is closed.
func (c *wsClient) WriteMessage(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Encode(msg, c.dialect)
	if err != nil {
		return err
	}
	if msg.Kind == protocol.KindError {
		c.setCloseStatus(statusFor(proxyerr.Kind(msg.Code)), msg.Code)
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsClient) setCloseStatus(status websocket.StatusCode, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeStatus = status
	c.closeReason = reason
}

// Close performs the closing handshake and stops the pump. Safe to call
// more than once.
func (c *wsClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	status, reason := c.closeStatus, c.closeReason
	c.mu.Unlock()

	err := c.conn.Close(status, reason)
	c.cancel()
	<-c.done
	return err
}

// statusFor maps an error kind to a websocket close status
func statusFor(kind proxyerr.Kind) websocket.StatusCode {
	switch kind {
	case proxyerr.KindCapacity:
		return websocket.StatusTryAgainLater
	case proxyerr.KindInvalidConfig, proxyerr.KindConfigTimeout:
		return websocket.StatusPolicyViolation
	default:
		return websocket.StatusInternalError
	}
}

// handleRealtime implements the /v1/realtime websocket endpoint
func (h *HTTPServer) handleRealtime(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.config.HTTP.AllowedOrigins,
	})
	if err != nil {
		h.logger.Warn("Websocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Debug("Realtime client connected", slog.String("remote_addr", r.RemoteAddr))
	client := newWSClient(conn, h.dialect, h.logger)

	if err := h.sessions.Serve(r.Context(), client); err != nil {
		h.logger.Debug("Realtime session ended with error",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
	}
}
