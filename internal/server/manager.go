package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/AlfredBerg/rod-maps-scraper/internal/session"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

var ErrTooManySessions = errors.New("too many active sessions")

// Runner drives one session to completion and returns the artifact name.
type Runner func(ctx context.Context, sess *session.Session) (string, error)

// ActiveSession is a running session as reported by /status.
type ActiveSession struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	Count     int       `json:"count"`
	StartedAt time.Time `json:"started_at"`
	Stopping  bool      `json:"stopping"`
}

// Manager runs sessions in the background. Sessions are forgotten as soon as they finish.
type Manager struct {
	run         Runner
	maxSessions int
	notifier    session.Notifier
	logger      *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
	wg       conc.WaitGroup
}

func NewManager(run Runner, maxSessions int, notifier session.Notifier, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		run:         run,
		maxSessions: maxSessions,
		notifier:    notifier,
		logger:      logger,
		sessions:    map[string]*session.Session{},
	}
}

// Start creates a session for query and runs it without blocking the caller.
func (m *Manager) Start(query string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return nil, ErrTooManySessions
	}

	sess := session.New(query, m.notifier)
	m.sessions[sess.ID] = sess

	m.wg.Go(func() {
		defer m.forget(sess.ID)
		logger := m.logger.With(zap.String("session", sess.ID), zap.String("query", query))
		logger.Info("session started")
		filename, err := m.run(context.Background(), sess)
		if err != nil {
			logger.Error("session failed", zap.Error(err))
			return
		}
		logger.Info("session finished", zap.String("filename", filename), zap.Bool("stopped", sess.Stopped()))
	})
	return sess, nil
}

// Stop requests cancellation of one session, or of all active sessions when id is empty. It
// returns the number of sessions asked to stop.
func (m *Manager) Stop(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != "" {
		sess, ok := m.sessions[id]
		if !ok {
			return 0
		}
		sess.Stop()
		return 1
	}
	for _, sess := range m.sessions {
		sess.Stop()
	}
	return len(m.sessions)
}

func (m *Manager) Active() []ActiveSession {
	m.mu.Lock()
	out := make([]ActiveSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, ActiveSession{
			ID:        sess.ID,
			Query:     sess.Query,
			Count:     sess.Count(),
			StartedAt: sess.StartedAt,
			Stopping:  sess.Stopped(),
		})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Wait blocks until every started session has returned. A panicking runner is logged, not rethrown.
func (m *Manager) Wait() {
	if r := m.wg.WaitAndRecover(); r != nil {
		m.logger.Error("session runner panicked", zap.Error(r.AsError()))
	}
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}
