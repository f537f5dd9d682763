package session

import (
	"go.uber.org/zap"
)

const (
	EventUpdateCount  = "update_count"
	EventScrapingDone = "scraping_done"
)

type Event struct {
	Name      string
	SessionID string
	Count     int
	Filename  string
}

// Notifier receives progress events. Implementations must not block for long, the listing pass
// emits synchronously.
type Notifier interface {
	Notify(e Event)
}

type NotifierFunc func(e Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(Event) {})

type multi []Notifier

func (m multi) Notify(e Event) {
	for _, n := range m {
		n.Notify(e)
	}
}

// Multi fans every event out to all non-nil notifiers in order.
func Multi(notifiers ...Notifier) Notifier {
	var m multi
	for _, n := range notifiers {
		if n != nil {
			m = append(m, n)
		}
	}
	return m
}

// LogNotifier writes events to the logger, used by the foreground scrape command.
func LogNotifier(logger *zap.Logger) Notifier {
	return NotifierFunc(func(e Event) {
		switch e.Name {
		case EventUpdateCount:
			logger.Debug("record admitted", zap.String("session", e.SessionID), zap.Int("count", e.Count))
		case EventScrapingDone:
			logger.Info("scraping done", zap.String("session", e.SessionID),
				zap.Int("count", e.Count), zap.String("filename", e.Filename))
		}
	})
}
