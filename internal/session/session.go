package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/qxb-in/ot/internal/audio"
	"github.com/qxb-in/ot/internal/config"
	"github.com/qxb-in/ot/internal/metrics"
	"github.com/qxb-in/ot/internal/protocol"
	"github.com/qxb-in/ot/internal/provider"
	"github.com/qxb-in/ot/internal/proxyerr"
	"github.com/qxb-in/ot/internal/transcript"
)

var (
	// errFinished ends the relay loops once the vendor signalled end of stream
	errFinished = errors.New("vendor stream finished")

	errDrainTimeout = errors.New("drain timeout")
)

// ClientConn is the client side of a session. ReadMessage must honour ctx
// without tearing down the connection, so an error can still be written
// after a read deadline.
type ClientConn interface {
	ReadMessage(ctx context.Context) (protocol.Message, error)
	WriteMessage(ctx context.Context, msg protocol.Message) error
	Close() error
}

// Options tunes a session
type Options struct {
	ConfigTimeout     time.Duration
	DrainTimeout      time.Duration
	WriteTimeout      time.Duration // for the final error message
	QueueCapacity     int
	ReconnectMaxTries int
	ReconnectBackOff  func() backoff.BackOff // nil selects exponential backoff
}

// OptionsFromConfig builds session options from the session config section
func OptionsFromConfig(c *config.SessionConfig) Options {
	return Options{
		ConfigTimeout:     c.GetConfigTimeoutDuration(),
		DrainTimeout:      c.GetDrainTimeoutDuration(),
		WriteTimeout:      2 * time.Second,
		QueueCapacity:     c.QueueCapacity,
		ReconnectMaxTries: c.ReconnectMaxTries,
	}
}

// SessionInfo is a point-in-time snapshot of a session
type SessionInfo struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	Vendor        string    `json:"vendor,omitempty"`
	Language      string    `json:"language,omitempty"`
	SampleRate    int       `json:"sample_rate,omitempty"`
	StartTime     time.Time `json:"start_time"`
	Duration      string    `json:"duration"`
	ChunksIn      uint64    `json:"chunks_in"`
	ChunksQueued  uint64    `json:"chunks_queued"`
	ChunksDropped uint64    `json:"chunks_dropped"`
	QueueDepth    int       `json:"queue_depth"`
	QueueCapacity int       `json:"queue_capacity"`
	InputEnded    bool      `json:"input_ended"`
	DeltasOut     uint64    `json:"deltas_out"`

	Transcript transcript.Stats `json:"transcript"`
}

// Session relays one client connection to a vendor recognizer
type Session struct {
	ID        string
	StartTime time.Time

	client   ClientConn
	registry *provider.Registry
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics

	queue   *audio.Queue
	tracker *transcript.Tracker
	link    *link

	mu           sync.RWMutex
	state        State
	config       protocol.SessionConfig
	vendorName   string
	cancel       context.CancelCauseFunc
	pendingCause error

	chunksIn  atomic.Uint64
	deltasOut atomic.Uint64

	// Published by readVendor after each tracker update
	transcriptStats atomic.Pointer[transcript.Stats]
}

// New creates a session in the awaiting_config state
func New(id string, client ClientConn, registry *provider.Registry, opts Options, logger *slog.Logger, m *metrics.Metrics) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	logger = logger.With(slog.String("session_id", id))

	q := audio.NewQueue(opts.QueueCapacity, logger)
	q.OnDrop(m.RecordQueueDrop)

	return &Session{
		ID:        id,
		StartTime: time.Now(),
		client:    client,
		registry:  registry,
		opts:      opts,
		logger:    logger,
		metrics:   m,
		queue:     q,
		tracker:   transcript.NewTracker(logger),
		state:     StateAwaitingConfig,
	}
}

// Run drives the session until it reaches closed. It returns nil when the
// vendor finished the stream or the drain timed out, and the fatal error
// otherwise.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s.mu.Lock()
	s.cancel = cancel
	if s.pendingCause != nil {
		cancel(s.pendingCause)
	}
	s.mu.Unlock()

	err := s.run(ctx)
	if ctx.Err() != nil {
		// Cancelled from outside: report why rather than the context error
		var perr *proxyerr.Error
		if cause := context.Cause(ctx); errors.As(cause, &perr) {
			err = cause
		}
	}
	return s.finish(err)
}

// Cancel stops the session with cause. The client is told cause unless it
// is a client disconnect.
func (s *Session) Cancel(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel(cause)
		return
	}
	s.pendingCause = cause
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns a snapshot of the session
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := SessionInfo{
		ID:            s.ID,
		State:         s.state.String(),
		Vendor:        s.vendorName,
		Language:      s.config.Language,
		SampleRate:    s.config.SampleRate,
		StartTime:     s.StartTime,
		Duration:      time.Since(s.StartTime).Round(time.Millisecond).String(),
		ChunksIn:      s.chunksIn.Load(),
		ChunksQueued:  s.queue.Pushed(),
		ChunksDropped: s.queue.Dropped(),
		QueueDepth:    s.queue.Len(),
		QueueCapacity: s.queue.Cap(),
		InputEnded:    s.queue.Closed(),
		DeltasOut:     s.deltasOut.Load(),
	}
	if st := s.transcriptStats.Load(); st != nil {
		info.Transcript = *st
	}
	return info
}

func (s *Session) run(ctx context.Context) error {
	cfg, err := s.awaitConfig(ctx)
	if err != nil {
		return err
	}

	rec, err := s.registry.Recognizer(cfg.Vendor)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.config = cfg
	s.vendorName = rec.Name()
	s.mu.Unlock()

	s.logger.Info("Session configured",
		slog.String("vendor", rec.Name()),
		slog.String("language", cfg.Language),
		slog.Int("sample_rate", cfg.SampleRate),
		slog.Int("channels", cfg.Channels),
		slog.Int("bit_depth", cfg.BitDepth),
	)

	s.link = newLink(rec, provider.RecognizeOptions{
		SessionID:  s.ID,
		Language:   cfg.Language,
		Model:      cfg.Model,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
	}, s.opts, s.logger, s.metrics)

	if err := s.link.open(ctx); err != nil {
		return err
	}

	s.transition(StateStreaming, "vendor connected")
	return s.stream(ctx, cfg)
}

// awaitConfig reads the first client message, which must configure the session
func (s *Session) awaitConfig(ctx context.Context) (protocol.SessionConfig, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.opts.ConfigTimeout)
	defer cancel()

	msg, err := s.client.ReadMessage(readCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return protocol.SessionConfig{}, proxyerr.New(proxyerr.KindConfigTimeout,
				"no session.update received within %s", s.opts.ConfigTimeout)
		}
		if proxyerr.Is(err, proxyerr.KindInvalidConfig) {
			return protocol.SessionConfig{}, err
		}
		return protocol.SessionConfig{}, clientGone(err)
	}

	if msg.Kind != protocol.KindSessionUpdate || msg.Config == nil {
		return protocol.SessionConfig{}, proxyerr.New(proxyerr.KindInvalidConfig,
			"first message must be %s", protocol.TypeSessionUpdate)
	}
	return *msg.Config, nil
}

func (s *Session) stream(ctx context.Context, cfg protocol.SessionConfig) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readClient(gctx, cfg) })
	g.Go(func() error { return s.sendVendor(gctx) })
	g.Go(func() error { return s.readVendor(gctx) })

	err := g.Wait()
	if errors.Is(err, errFinished) {
		return nil
	}
	return err
}

// readClient is the only producer of the audio queue. After End it waits
// for the vendor to finish, bounded by the drain timeout.
func (s *Session) readClient(ctx context.Context, cfg protocol.SessionConfig) error {
	for {
		msg, err := s.client.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if proxyerr.Is(err, proxyerr.KindInvalidConfig) {
				s.logger.Warn("Ignoring malformed client message", slog.String("error", err.Error()))
				continue
			}
			return clientGone(err)
		}

		switch msg.Kind {
		case protocol.KindAudioAppend:
			pcm, err := audio.ToPCM16(msg.Audio, cfg.BitDepth)
			if err != nil {
				s.logger.Warn("Dropping unconvertible audio chunk",
					slog.Int("bytes", len(msg.Audio)),
					slog.String("error", err.Error()),
				)
				continue
			}
			s.chunksIn.Add(1)
			s.metrics.RecordAudioChunk()
			s.queue.Push(audio.NewChunk(pcm, cfg.SampleRate, cfg.Channels))

		case protocol.KindEnd:
			s.transition(StateDraining, "client end")
			s.queue.Close()
			return s.awaitDrain(ctx)

		default:
			s.logger.Debug("Ignoring client message", slog.Int("kind", int(msg.Kind)))
		}
	}
}

func (s *Session) awaitDrain(ctx context.Context) error {
	timer := time.NewTimer(s.opts.DrainTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
		return errDrainTimeout
	}
}

// sendVendor forwards queued audio in submission order and signals end of
// audio once the queue is closed and empty
func (s *Session) sendVendor(ctx context.Context) error {
	for {
		chunk, err := s.queue.Pop(ctx)
		if errors.Is(err, audio.ErrQueueClosed) {
			s.logger.Debug("Audio queue drained, ending vendor input")
			if err := s.link.closeSend(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		}
		if err != nil {
			return nil
		}

		if err := s.link.send(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// readVendor is the only writer to the client while streaming and the only
// user of the tracker
func (s *Session) readVendor(ctx context.Context) error {
	name := s.vendorName
	var gen uint64

	for {
		ev, evGen, err := s.link.receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if evGen != gen {
			if gen != 0 {
				s.logger.Info("Resetting transcript state for new vendor connection",
					slog.Uint64("generation", evGen))
				s.tracker.Reset()
				s.publishTranscriptStats()
			}
			gen = evGen
		}
		s.metrics.RecordVendorEvent(name, ev.Kind.String())

		switch ev.Kind {
		case provider.EventInterim, provider.EventFinal:
			for _, out := range s.tracker.Update(ev.SegmentID, ev.Text, ev.Kind == provider.EventFinal) {
				msg := protocol.Delta(out.SegmentID, out.Text)
				if out.Kind == transcript.KindCompleted {
					msg = protocol.Completed(out.SegmentID, out.Text)
				}
				if err := s.client.WriteMessage(ctx, msg); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return clientGone(err)
				}
				if out.Kind == transcript.KindDelta {
					s.deltasOut.Add(1)
					s.metrics.RecordDelta()
				}
			}
			s.publishTranscriptStats()

		case provider.EventError:
			return proxyerr.Vendor(ev.Code, ev.Detail)

		case provider.EventEOS:
			s.logger.Info("Vendor stream finished")
			return errFinished

		default:
			s.logger.Debug("Ignoring vendor event", slog.String("kind", ev.Kind.String()))
		}
	}
}

func (s *Session) publishTranscriptStats() {
	st := s.tracker.GetStats()
	s.transcriptStats.Store(&st)
}

// finish tears the session down exactly once and reports the outcome
func (s *Session) finish(err error) error {
	reason := "completed"
	state := s.State()

	switch {
	case err == nil:
	case errors.Is(err, errDrainTimeout):
		reason = "drain_timeout"
		s.logger.Warn("Vendor did not finish within drain timeout",
			slog.Duration("drain_timeout", s.opts.DrainTimeout))
		err = nil
	default:
		kind := proxyerr.KindOf(err)
		reason = string(kind)
		if kind == proxyerr.KindClientGone {
			s.logger.Info("Client disconnected",
				slog.String("state", state.String()),
				slog.String("error", err.Error()),
			)
			break
		}
		s.logger.Error("Session failed",
			slog.String("kind", string(kind)),
			slog.String("state", state.String()),
			slog.String("error", err.Error()),
		)
		if isVendorKind(kind) {
			s.metrics.RecordVendorError(s.vendorName, string(kind))
		}
		s.notify(err)
	}

	if s.link != nil {
		s.link.close()
	}
	s.queue.Close()
	s.transition(StateClosed, reason)
	if cerr := s.client.Close(); cerr != nil {
		s.logger.Debug("Client close failed", slog.String("error", cerr.Error()))
	}
	s.metrics.RecordSessionClosed(reason, time.Since(s.StartTime).Seconds())
	return err
}

// notify makes a best-effort attempt to tell the client why the session ends
func (s *Session) notify(err error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()
	if werr := s.client.WriteMessage(ctx, protocol.ErrorFrom(err)); werr != nil {
		s.logger.Debug("Could not deliver error to client", slog.String("error", werr.Error()))
	}
}

// transition moves the session to state to, refusing illegal steps
func (s *Session) transition(to State, reason string) bool {
	s.mu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.mu.Unlock()
		s.logger.Warn("Refused session state transition",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
			slog.String("reason", reason),
		)
		return false
	}
	s.state = to
	s.mu.Unlock()

	s.logger.Info("Session state changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("reason", reason),
	)
	s.metrics.RecordStateTransition(from.String(), to.String())
	return true
}

// clientGone classifies an unclassified client read or write failure
func clientGone(err error) error {
	var perr *proxyerr.Error
	if errors.As(err, &perr) {
		return err
	}
	return proxyerr.Wrap(proxyerr.KindClientGone, err, "client connection closed")
}

func isVendorKind(kind proxyerr.Kind) bool {
	switch kind {
	case proxyerr.KindAuth, proxyerr.KindNetwork, proxyerr.KindVendorProtocol, proxyerr.KindFrameDecode:
		return true
	}
	return false
}
