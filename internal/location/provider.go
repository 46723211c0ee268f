package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/onehubexpress/search/internal/models"
)

const (
	DefaultTimeout         = 5 * time.Second
	DefaultRefreshInterval = 60 * time.Second
)

var ErrUnsupported = errors.New("geolocation is not supported")

// Geolocator is a platform capability that can report the caller's position.
type Geolocator interface {
	Locate(ctx context.Context) (models.Coordinates, error)
}

// State is an immutable snapshot. Each refresh replaces it.
type State struct {
	Enabled     bool
	Loading     bool
	Err         error
	Coordinates *models.Coordinates
	UpdatedAt   time.Time
}

type Provider struct {
	geo     Geolocator
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.RWMutex
	state State

	refreshMu sync.Mutex
}

// NewProvider returns a disabled provider when geo is nil.
func NewProvider(geo Geolocator, timeout time.Duration, logger *zap.Logger) *Provider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := &Provider{geo: geo, timeout: timeout, logger: logger}
	if geo == nil {
		p.state = State{Err: ErrUnsupported}
	} else {
		p.state = State{Enabled: true}
	}
	return p
}

func (p *Provider) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Current returns the last known coordinates, or nil when none are usable.
// While a refresh is in flight the previous fix is still reported.
func (p *Provider) Current() models.Location {
	s := p.State()
	if s.Err != nil || s.Coordinates == nil {
		return nil
	}
	return *s.Coordinates
}

// Refresh asks the geolocator for a fresh fix. Concurrent calls are
// serialized.
func (p *Provider) Refresh(ctx context.Context) State {
	if p.geo == nil {
		return p.State()
	}

	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	prev := p.State()
	p.set(State{Enabled: true, Loading: true, Coordinates: prev.Coordinates, UpdatedAt: prev.UpdatedAt})

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	coords, err := p.geo.Locate(ctx)
	if err == nil {
		err = coords.Validate()
	}
	if err != nil {
		p.logger.Warn("location refresh failed", zap.Error(err))
		next := State{Enabled: true, Err: err, UpdatedAt: time.Now()}
		p.set(next)
		return next
	}

	next := State{Enabled: true, Coordinates: &coords, UpdatedAt: time.Now()}
	p.set(next)
	return next
}

// Start refreshes immediately and then every interval until ctx is done.
func (p *Provider) Start(ctx context.Context, interval time.Duration) {
	if p.geo == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	go func() {
		p.Refresh(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Refresh(ctx)
			}
		}
	}()
}

func (p *Provider) set(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}
