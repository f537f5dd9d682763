package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/AlfredBerg/rod-maps-scraper/internal/listing"
	"github.com/google/uuid"
)

// Session is one scrape invocation for a single query. Every pipeline stage receives it explicitly,
// so concurrent sessions never share a stop switch or a counter.
type Session struct {
	ID        string
	Query     string
	StartedAt time.Time

	stopped atomic.Bool
	count   atomic.Int64

	// serializes counter increments with their update_count event
	admitLock sync.Mutex
	doneOnce  sync.Once
	notifier  Notifier
}

func New(query string, notifier Notifier) *Session {
	if notifier == nil {
		notifier = Discard
	}
	return &Session{
		ID:        uuid.NewString(),
		Query:     query,
		StartedAt: time.Now(),
		notifier:  notifier,
	}
}

// Stop requests cooperative cancellation. It is idempotent and does not interrupt in-flight work.
func (s *Session) Stop() {
	s.stopped.Store(true)
}

func (s *Session) Stopped() bool {
	return s.stopped.Load()
}

func (s *Session) Count() int {
	return int(s.count.Load())
}

// Admit counts an accepted record and publishes the new count. Ineligible records are refused.
func (s *Session) Admit(r listing.Record) bool {
	if !r.Eligible() {
		return false
	}
	s.admitLock.Lock()
	defer s.admitLock.Unlock()

	n := s.count.Add(1)
	s.notifier.Notify(Event{Name: EventUpdateCount, SessionID: s.ID, Count: int(n)})
	return true
}

// Done publishes the terminal notification. Nothing is published if the session was stopped,
// and it fires at most once.
func (s *Session) Done(filename string) bool {
	if s.Stopped() {
		return false
	}
	fired := false
	s.doneOnce.Do(func() {
		s.notifier.Notify(Event{Name: EventScrapingDone, SessionID: s.ID, Count: s.Count(), Filename: filename})
		fired = true
	})
	return fired
}
