// Package suggest drives type-ahead suggestions for one client: input is
// debounced, each settled query gets its own cancellable fetch, and replies
// for anything but the latest query are dropped.
package suggest

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/onehubexpress/search/internal/debounce"
	"github.com/onehubexpress/search/internal/models"
	"github.com/onehubexpress/search/internal/observability"
)

type Fetcher interface {
	Suggest(ctx context.Context, req *models.SearchRequest) (*models.SuggestionResult, error)
}

// Update is what a session delivers for a settled query.
type Update struct {
	Query       string
	Suggestions []string
	Source      string
	Err         error
}

type Options struct {
	Delay        time.Duration
	MinLength    int
	FetchTimeout time.Duration
}

type Session struct {
	fetcher Fetcher
	deliver func(Update)
	opts    Options
	logger  *zap.Logger

	base      context.Context
	debouncer *debounce.Debouncer[models.SearchRequest]

	mu      sync.Mutex
	current string
	cancel  context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewSession starts a session bound to ctx. deliver runs on a fetch goroutine
// while the session lock is held and must not call back into the session.
func NewSession(ctx context.Context, fetcher Fetcher, opts Options, deliver func(Update), logger *zap.Logger) *Session {
	if opts.MinLength <= 0 {
		opts.MinLength = 3
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	s := &Session{
		fetcher: fetcher,
		deliver: deliver,
		opts:    opts,
		logger:  logger,
		base:    ctx,
	}
	s.debouncer = debounce.New(opts.Delay, s.settle)
	return s
}

// Type records the latest input. The fetch happens once typing pauses.
func (s *Session) Type(req models.SearchRequest) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.current = req.Query
	s.mu.Unlock()

	s.debouncer.Push(req)
}

func (s *Session) settle(req models.SearchRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || req.Query != s.current {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	if utf8.RuneCountInString(strings.TrimSpace(req.Query)) < s.opts.MinLength {
		s.deliver(Update{Query: req.Query, Suggestions: []string{}})
		return
	}

	ctx, cancel := context.WithTimeout(s.base, s.opts.FetchTimeout)
	s.cancel = cancel
	s.wg.Add(1)
	go s.fetch(ctx, cancel, req)
}

func (s *Session) fetch(ctx context.Context, cancel context.CancelFunc, req models.SearchRequest) {
	defer s.wg.Done()
	defer cancel()

	res, err := s.fetcher.Suggest(ctx, &req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || req.Query != s.current || ctx.Err() == context.Canceled {
		observability.StaleSuggestionsDiscarded.Inc()
		s.logger.Debug("discarding stale suggestions",
			zap.String("query", req.Query),
			zap.String("current", s.current),
		)
		return
	}

	if err != nil {
		s.deliver(Update{Query: req.Query, Suggestions: []string{}, Err: err})
		return
	}
	s.deliver(Update{Query: req.Query, Suggestions: res.Suggestions, Source: res.Source})
}

// Close cancels pending and in-flight work and waits for fetches to return.
func (s *Session) Close() {
	s.debouncer.Stop()

	s.mu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
}
