package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/qxb-in/ot/internal/audio"
	"github.com/qxb-in/ot/internal/metrics"
	"github.com/qxb-in/ot/internal/provider"
	"github.com/qxb-in/ot/internal/proxyerr"
)

// link owns the vendor connection of one session. The sender and reader
// loops both use it; the first loop to hit a network error reconnects and
// bumps the generation so the other loop picks up the new connection.
// Only one reconnect phase is allowed per session.
type link struct {
	rec        provider.Recognizer
	opts       provider.RecognizeOptions
	maxTries   uint
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu          sync.Mutex
	conn        provider.RecognizerConn
	gen         uint64
	reconnected bool
	sendClosed  bool
	closed      bool
	failed      error // set when the reconnect phase gave up
}

func newLink(rec provider.Recognizer, opts provider.RecognizeOptions, o Options, logger *slog.Logger, m *metrics.Metrics) *link {
	tries := o.ReconnectMaxTries
	if tries <= 0 {
		tries = 1
	}
	newBackOff := o.ReconnectBackOff
	if newBackOff == nil {
		newBackOff = defaultBackOff
	}
	return &link{
		rec:        rec,
		opts:       opts,
		maxTries:   uint(tries),
		newBackOff: newBackOff,
		logger:     logger,
		metrics:    m,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// open establishes the first connection. A network failure here spends the
// session's reconnect phase.
func (l *link) open(ctx context.Context) error {
	conn, err := l.rec.Connect(ctx, l.opts)
	if err != nil {
		if !proxyerr.IsRetryable(err) {
			return err
		}
		l.logger.Warn("Vendor connect failed, retrying",
			slog.String("vendor", l.rec.Name()),
			slog.String("error", err.Error()),
		)
		l.mu.Lock()
		l.reconnected = true
		l.mu.Unlock()
		if conn, err = l.redial(ctx); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		conn.Close()
		return proxyerr.New(proxyerr.KindClientGone, "session closed while connecting")
	}
	l.conn = conn
	l.gen = 1
	return nil
}

// redial connects with backoff; auth failures stop retrying at once
func (l *link) redial(ctx context.Context) (provider.RecognizerConn, error) {
	attempt := 0
	conn, err := backoff.Retry(ctx, func() (provider.RecognizerConn, error) {
		attempt++
		c, err := l.rec.Connect(ctx, l.opts)
		if err == nil {
			return c, nil
		}
		if !proxyerr.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		l.logger.Debug("Vendor reconnect attempt failed",
			slog.String("vendor", l.rec.Name()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		return nil, err
	},
		backoff.WithBackOff(l.newBackOff()),
		backoff.WithMaxTries(l.maxTries),
		backoff.WithMaxElapsedTime(0),
	)
	l.metrics.RecordReconnect(l.rec.Name(), err == nil)
	return conn, err
}

// current returns the live connection and its generation
func (l *link) current() (provider.RecognizerConn, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn, l.gen
}

// recover replaces the connection of generation gen after cause. It returns
// nil when a usable connection is in place, either because this call
// reconnected or because the other loop already did.
func (l *link) recover(ctx context.Context, gen uint64, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return cause
	}
	if l.gen != gen {
		return nil
	}
	if l.reconnected {
		return cause
	}
	l.reconnected = true

	l.logger.Warn("Vendor connection lost, reconnecting",
		slog.String("vendor", l.rec.Name()),
		slog.Uint64("generation", gen),
		slog.String("error", cause.Error()),
	)
	l.conn.Close()

	conn, err := l.redial(ctx)
	if err != nil {
		l.logger.Error("Vendor reconnect failed",
			slog.String("vendor", l.rec.Name()),
			slog.String("error", err.Error()),
		)
		l.failed = err
		return err
	}
	if l.sendClosed {
		if err := conn.CloseSend(ctx); err != nil {
			conn.Close()
			l.failed = err
			return err
		}
	}

	l.conn = conn
	l.gen++
	l.logger.Info("Vendor reconnected",
		slog.String("vendor", l.rec.Name()),
		slog.Uint64("generation", l.gen),
	)
	return nil
}

// settle decides what to do with err from the connection of generation
// gen. An error from a connection the other loop has already replaced is
// retried on the new one; once the reconnect phase has failed every loop
// reports that failure.
func (l *link) settle(gen uint64, err error) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false, err
	}
	if l.gen != gen {
		return true, nil
	}
	if l.failed != nil {
		return false, l.failed
	}
	return false, err
}

// send transmits one chunk, reconnecting once on a network error
func (l *link) send(ctx context.Context, chunk audio.Chunk) error {
	for {
		conn, gen := l.current()
		err := conn.SendAudio(ctx, chunk)
		if err == nil || ctx.Err() != nil {
			return err
		}
		retry, err := l.settle(gen, err)
		if retry {
			continue
		}
		if !proxyerr.IsRetryable(err) {
			return err
		}
		if rerr := l.recover(ctx, gen, err); rerr != nil {
			return rerr
		}
	}
}

// closeSend signals end of audio on the live connection
func (l *link) closeSend(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.sendClosed = true
		conn, gen := l.conn, l.gen
		l.mu.Unlock()

		err := conn.CloseSend(ctx)
		if err == nil || ctx.Err() != nil {
			return err
		}
		replaced, err := l.settle(gen, err)
		if replaced {
			// recover already half-closed the replacement
			return nil
		}
		if !proxyerr.IsRetryable(err) {
			return err
		}
		if rerr := l.recover(ctx, gen, err); rerr != nil {
			return rerr
		}
	}
}

// receive returns the next event and the generation it came from
func (l *link) receive(ctx context.Context) (provider.Event, uint64, error) {
	for {
		conn, gen := l.current()
		ev, err := conn.Receive(ctx)
		if err == nil {
			return ev, gen, nil
		}
		if ctx.Err() != nil {
			return provider.Event{}, gen, err
		}
		retry, err := l.settle(gen, err)
		if retry {
			continue
		}
		if !proxyerr.IsRetryable(err) {
			return provider.Event{}, gen, err
		}
		if rerr := l.recover(ctx, gen, err); rerr != nil {
			return provider.Event{}, gen, rerr
		}
	}
}

// close releases the live connection. Safe to call more than once.
func (l *link) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	if l.conn != nil {
		l.conn.Close()
	}
}
