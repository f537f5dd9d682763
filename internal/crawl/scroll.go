package crawl

import (
	"time"

	"github.com/AlfredBerg/rod-maps-scraper/internal/session"
	"go.uber.org/zap"
)

// Feed is a lazily rendered, scrollable list.
type Feed interface {
	ScrollBy(dy int) error
	// Count is the number of items currently rendered
	Count() (int, error)
}

// Scroller drives a feed until its rendered item count stops changing. There is no end-of-list
// marker, exhaustion is inferred once StableThreshold consecutive samples are unchanged.
type Scroller struct {
	Step            int
	Settle          time.Duration
	StableThreshold int
	// MaxIterations caps a feed that never stops growing, 0 is unbounded
	MaxIterations int

	Logger *zap.Logger
	// Sleep waits out the settle interval, defaults to time.Sleep
	Sleep func(time.Duration)
}

type ScrollResult struct {
	Iterations int
	Count      int
	Converged  bool
	Cancelled  bool
}

func (s Scroller) Scroll(sess *session.Session, feed Feed) ScrollResult {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := s.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	threshold := s.StableThreshold
	if threshold <= 0 {
		threshold = 1
	}

	res := ScrollResult{}
	last, err := feed.Count()
	if err != nil {
		logger.Debug("initial count failed", zap.Error(err))
		last = 0
	}
	res.Count = last

	stable := 0
	for s.MaxIterations <= 0 || res.Iterations < s.MaxIterations {
		if sess.Stopped() {
			res.Cancelled = true
			return res
		}
		res.Iterations++

		if err := feed.ScrollBy(s.Step); err != nil {
			logger.Debug("scroll failed", zap.Int("iteration", res.Iterations), zap.Error(err))
		}
		sleep(s.Settle)

		count, err := feed.Count()
		if err != nil {
			logger.Debug("count failed", zap.Int("iteration", res.Iterations), zap.Error(err))
			count = last
		}

		if count == last {
			stable++
		} else {
			stable = 0
		}
		last = count
		res.Count = count

		if stable >= threshold {
			res.Converged = true
			return res
		}
	}

	logger.Warn("feed still changing at the iteration cap",
		zap.Int("iterations", res.Iterations), zap.Int("count", res.Count))
	return res
}
