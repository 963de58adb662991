package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qxb-in/ot/internal/config"
	"github.com/qxb-in/ot/internal/metrics"
	"github.com/qxb-in/ot/internal/protocol"
	"github.com/qxb-in/ot/internal/provider"
	"github.com/qxb-in/ot/internal/proxyerr"
)

// reapInterval is how often sessions are checked against the max duration
const reapInterval = 30 * time.Second

// Manager runs sessions and bounds how many are active at once
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	metrics  *metrics.Metrics
	registry *provider.Registry

	opts        Options
	maxSessions int
	maxDuration time.Duration

	// Cleanup management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a session manager and starts its reaper
func NewManager(cfg *config.SessionConfig, registry *provider.Registry, logger *slog.Logger, m *metrics.Metrics) *Manager {
	return NewManagerWithOptions(OptionsFromConfig(cfg), cfg.MaxSessions, cfg.GetMaxDuration(), registry, logger, m)
}

// NewManagerWithOptions creates a manager with explicit session options
func NewManagerWithOptions(opts Options, maxSessions int, maxDuration time.Duration, registry *provider.Registry, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions:    make(map[string]*Session),
		logger:      logger,
		metrics:     m,
		registry:    registry,
		opts:        opts,
		maxSessions: maxSessions,
		maxDuration: maxDuration,
		ctx:         ctx,
		cancel:      cancel,
	}

	if maxDuration > 0 {
		mgr.wg.Add(1)
		go mgr.startReaper(reapInterval)
	}
	return mgr
}

// Serve runs a session for client until it closes. When the manager is at
// capacity the client gets a capacity_exceeded error and is closed before
// any vendor resource is allocated.
func (m *Manager) Serve(ctx context.Context, client ClientConn) error {
	s, err := m.admit(client)
	if err != nil {
		m.metrics.RecordSessionRejected()
		m.logger.Warn("Rejecting session",
			slog.String("error", err.Error()),
			slog.Int("max_sessions", m.maxSessions),
		)
		wctx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
		defer cancel()
		if werr := client.WriteMessage(wctx, protocol.ErrorFrom(err)); werr != nil {
			m.logger.Debug("Could not deliver rejection", slog.String("error", werr.Error()))
		}
		client.Close()
		return err
	}
	defer m.remove(s)

	// Sessions end with the manager as well as with the caller
	stop := context.AfterFunc(m.ctx, func() {
		s.Cancel(proxyerr.New(proxyerr.KindInternal, "server shutting down"))
	})
	defer stop()

	return s.Run(ctx)
}

// admit registers a new session unless the manager is full or stopped
func (m *Manager) admit(client ClientConn) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return nil, proxyerr.New(proxyerr.KindCapacity, "server is shutting down")
	}
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return nil, proxyerr.New(proxyerr.KindCapacity, "maximum of %d concurrent sessions reached", m.maxSessions)
	}

	id := uuid.NewString()
	s := New(id, client, m.registry, m.opts, m.logger, m.metrics)
	m.sessions[id] = s
	m.wg.Add(1)

	m.metrics.RecordSessionCreated()
	m.metrics.SetActiveSessions(len(m.sessions))
	m.logger.Info("Created new session",
		slog.String("session_id", id),
		slog.Int("active_sessions", len(m.sessions)),
	)
	return s, nil
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetActiveSessions(count)
	m.logger.Info("Session removed",
		slog.String("session_id", s.ID),
		slog.Duration("duration", time.Since(s.StartTime)),
		slog.Int("active_sessions", count),
	)
	m.wg.Done()
}

// GetSession returns a session by id
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// GetActiveSessionCount returns the number of active sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns snapshots of all active sessions, oldest first
func (m *Manager) GetAllSessions() []SessionInfo {
	m.mu.RLock()
	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartTime.Before(infos[j].StartTime)
	})
	return infos
}

// Stop cancels every session and waits for them to close
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	// Cancel under the lock so admit cannot add to wg once Wait starts
	m.mu.Lock()
	count := len(m.sessions)
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()

	m.logger.Info("Session manager stopped",
		slog.Int("sessions_cancelled", count),
	)
}

// startReaper cancels sessions that outlive the max duration
func (m *Manager) startReaper(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("Session reaper started",
		slog.Duration("interval", interval),
		slog.Duration("max_duration", m.maxDuration),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session reaper stopping")
			return
		case <-ticker.C:
			m.reapExpired()
		}
	}
}

func (m *Manager) reapExpired() {
	now := time.Now()
	var expired []*Session

	m.mu.RLock()
	for _, s := range m.sessions {
		if now.Sub(s.StartTime) > m.maxDuration {
			expired = append(expired, s)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}
	m.logger.Info("Cancelling expired sessions", slog.Int("count", len(expired)))
	for _, s := range expired {
		s.Cancel(proxyerr.New(proxyerr.KindCapacity, "session exceeded maximum duration of %s", m.maxDuration))
	}
}
