package session

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/qxb-in/ot/internal/audio"
	"github.com/qxb-in/ot/internal/protocol"
	"github.com/qxb-in/ot/internal/provider"
	"github.com/qxb-in/ot/internal/proxyerr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testOptions() Options {
	return Options{
		ConfigTimeout:     time.Second,
		DrainTimeout:      time.Second,
		WriteTimeout:      time.Second,
		QueueCapacity:     16,
		ReconnectMaxTries: 2,
		ReconnectBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(time.Millisecond)
		},
	}
}

// fakeClient is a scripted client connection. Closing in simulates a
// client disconnect.
type fakeClient struct {
	in chan protocol.Message

	mu  sync.Mutex
	out []protocol.Message

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeClient(msgs ...protocol.Message) *fakeClient {
	c := &fakeClient{
		in:     make(chan protocol.Message, 64),
		closed: make(chan struct{}),
	}
	for _, m := range msgs {
		c.in <- m
	}
	return c
}

func (c *fakeClient) ReadMessage(ctx context.Context) (protocol.Message, error) {
	select {
	case msg, ok := <-c.in:
		if !ok {
			return protocol.Message{}, io.EOF
		}
		return msg, nil
	case <-c.closed:
		return protocol.Message{}, io.ErrClosedPipe
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

func (c *fakeClient) WriteMessage(_ context.Context, msg protocol.Message) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, msg)
	return nil
}

func (c *fakeClient) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeClient) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeClient) messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.out...)
}

type received struct {
	ev  provider.Event
	err error
}

// fakeConn is a recognizer connection whose events are pushed by hooks
type fakeConn struct {
	results chan received

	mu          sync.Mutex
	sent        []audio.Chunk
	closeSends  int
	sendErr     error // returned once by the next SendAudio
	onSend      func(c *fakeConn, n int)
	onCloseSend func(c *fakeConn)

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		results: make(chan received, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) emit(ev provider.Event) {
	c.results <- received{ev: ev}
}

func (c *fakeConn) fail(err error) {
	c.results <- received{err: err}
}

func (c *fakeConn) interim(seg, text string) {
	c.emit(provider.Event{Kind: provider.EventInterim, SegmentID: seg, Text: text})
}

func (c *fakeConn) final(seg, text string) {
	c.emit(provider.Event{Kind: provider.EventFinal, SegmentID: seg, Text: text})
}

func (c *fakeConn) eos() {
	c.emit(provider.Event{Kind: provider.EventEOS})
}

func (c *fakeConn) SendAudio(_ context.Context, chunk audio.Chunk) error {
	select {
	case <-c.closed:
		return proxyerr.New(proxyerr.KindNetwork, "connection closed")
	default:
	}
	c.mu.Lock()
	if err := c.sendErr; err != nil {
		c.sendErr = nil
		c.mu.Unlock()
		return err
	}
	c.sent = append(c.sent, chunk)
	n := len(c.sent)
	hook := c.onSend
	c.mu.Unlock()
	if hook != nil {
		hook(c, n)
	}
	return nil
}

func (c *fakeConn) CloseSend(context.Context) error {
	c.mu.Lock()
	c.closeSends++
	hook := c.onCloseSend
	c.mu.Unlock()
	if hook != nil {
		hook(c)
	}
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (provider.Event, error) {
	select {
	case r := <-c.results:
		return r.ev, r.err
	case <-c.closed:
		return provider.Event{}, provider.ErrClosed
	case <-ctx.Done():
		return provider.Event{}, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentChunks() []audio.Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audio.Chunk(nil), c.sent...)
}

func (c *fakeConn) closeSendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeSends
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeRecognizer hands out fakeConns, failing the first connects with
// connectErrs. setup configures each connection by its index.
type fakeRecognizer struct {
	name        string
	connectErrs []error
	setup       func(idx int, c *fakeConn)

	mu       sync.Mutex
	connects int
	conns    []*fakeConn
	opts     []provider.RecognizeOptions
}

func (r *fakeRecognizer) Name() string {
	return r.name
}

func (r *fakeRecognizer) Connect(_ context.Context, opts provider.RecognizeOptions) (provider.RecognizerConn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects++
	r.opts = append(r.opts, opts)
	if len(r.connectErrs) > 0 {
		err := r.connectErrs[0]
		r.connectErrs = r.connectErrs[1:]
		return nil, err
	}
	c := newFakeConn()
	if r.setup != nil {
		r.setup(len(r.conns), c)
	}
	r.conns = append(r.conns, c)
	return c, nil
}

func (r *fakeRecognizer) connectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects
}

func (r *fakeRecognizer) conn(i int) *fakeConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= len(r.conns) {
		return nil
	}
	return r.conns[i]
}

func (r *fakeRecognizer) connCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func newRegistry(rec provider.Recognizer) *provider.Registry {
	reg := provider.NewRegistry()
	reg.RegisterRecognizer(rec)
	return reg
}

func config16k() protocol.Message {
	return protocol.SessionUpdate(protocol.SessionConfig{
		Language:   "zh",
		SampleRate: 16000,
		Channels:   1,
		BitDepth:   16,
	})
}

// chunk100ms returns 100ms of 16kHz mono PCM16 filled with b
func chunk100ms(b byte) []byte {
	data := make([]byte, 3200)
	for i := range data {
		data[i] = b
	}
	return data
}
