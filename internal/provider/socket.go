package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qxb-in/ot/internal/proxyerr"
)

// DialOptions tunes vendor websocket connections
type DialOptions struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
}

func (o DialOptions) withDefaults() DialOptions {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 16 << 20
	}
	return o
}

// Message is one websocket message read from a vendor
type Message struct {
	Type int // websocket.TextMessage or websocket.BinaryMessage
	Data []byte
}

// Socket wraps a vendor websocket with serialized writes, a read pump and
// an idempotent Close that unblocks pending reads
type Socket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	in      chan Message
	readErr error // set by the read pump before in is closed

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to a vendor websocket. Handshake rejections with 401 or 403
// are reported as auth errors, everything else as network errors.
func Dial(ctx context.Context, url string, header http.Header, opts DialOptions) (*Socket, error) {
	opts = opts.withDefaults()

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.HandshakeTimeout,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			return conn, nil
		},
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, classifyHandshake(resp, err)
	}
	conn.SetReadLimit(opts.ReadLimit)

	s := &Socket{
		conn:         conn,
		writeTimeout: opts.WriteTimeout,
		in:           make(chan Message, 16),
		done:         make(chan struct{}),
	}
	go s.readLoop()

	return s, nil
}

func classifyHandshake(resp *http.Response, err error) error {
	if resp != nil {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &proxyerr.Error{
				Kind:    proxyerr.KindAuth,
				Code:    fmt.Sprintf("%d", resp.StatusCode),
				Message: fmt.Sprintf("vendor rejected credentials: %s", string(body)),
				Cause:   err,
			}
		}
		return &proxyerr.Error{
			Kind:    proxyerr.KindNetwork,
			Code:    fmt.Sprintf("%d", resp.StatusCode),
			Message: "vendor handshake failed",
			Cause:   err,
		}
	}
	return proxyerr.Wrap(proxyerr.KindNetwork, err, "failed to connect to vendor")
}

// readLoop pumps messages until the connection fails or is closed
func (s *Socket) readLoop() {
	defer close(s.in)
	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readErr = err
			return
		}
		select {
		case s.in <- Message{Type: typ, Data: data}:
		case <-s.done:
			return
		}
	}
}

// Next returns the next vendor message. A normal close by the vendor is
// reported as io.EOF, abnormal termination as a network error and reads
// after Close as ErrClosed.
func (s *Socket) Next(ctx context.Context) (Message, error) {
	select {
	case <-s.done:
		return Message{}, ErrClosed
	default:
	}

	select {
	case msg, ok := <-s.in:
		if ok {
			return msg, nil
		}
		if s.isClosed() {
			return Message{}, ErrClosed
		}
		if websocket.IsCloseError(s.readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Message{}, io.EOF
		}
		return Message{}, proxyerr.Wrap(proxyerr.KindNetwork, s.readErr, "vendor connection lost")
	case <-s.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// WriteText sends a text message
func (s *Socket) WriteText(data []byte) error {
	return s.write(websocket.TextMessage, data)
}

// WriteBinary sends a binary message
func (s *Socket) WriteBinary(data []byte) error {
	return s.write(websocket.BinaryMessage, data)
}

// WriteJSON marshals v and sends it as a text message
func (s *Socket) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal vendor request: %w", err)
	}
	return s.write(websocket.TextMessage, data)
}

func (s *Socket) write(typ int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.isClosed() {
		return ErrClosed
	}

	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteMessage(typ, data); err != nil {
		return proxyerr.Wrap(proxyerr.KindNetwork, err, "vendor write failed")
	}
	return nil
}

// Close sends a close frame and releases the connection. Safe to call more
// than once.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Socket) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
