package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Observer reports current connectivity and delivers transition callbacks.
// The sync layer treats connectivity as state, never as an error.
type Observer interface {
	Online() bool
	OnChange(handler func(online bool))
}

// Prober polls a reachability URL and derives online/offline transitions from
// the outcome. Any 2xx-4xx response counts as reachable: the endpoint being
// up matters, not whether it liked the probe request.
type Prober struct {
	probeURL string
	interval time.Duration
	client   *http.Client
	logger   *zerolog.Logger

	mu       sync.RWMutex
	online   bool
	handlers []func(online bool)
}

// NewProber builds a prober with sane defaults. The initial state is offline
// until the first probe succeeds.
func NewProber(probeURL string, interval time.Duration, logger *zerolog.Logger) *Prober {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Prober{
		probeURL: probeURL,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

// Online returns the last observed connectivity state.
func (p *Prober) Online() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

// OnChange registers a transition handler. Handlers run synchronously from
// the probe loop, one transition at a time.
func (p *Prober) OnChange(handler func(online bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler)
}

// Start probes immediately, then on every tick until ctx is done.
func (p *Prober) Start(ctx context.Context) {
	p.logger.Info().Str("url", p.probeURL).Dur("interval", p.interval).Msg("connectivity prober started")
	defer p.logger.Info().Msg("connectivity prober stopped")

	p.probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) {
	p.set(p.reachable(ctx))
}

func (p *Prober) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

func (p *Prober) set(online bool) {
	p.mu.Lock()
	if p.online == online {
		p.mu.Unlock()
		return
	}
	p.online = online
	handlers := append(([]func(bool))(nil), p.handlers...)
	p.mu.Unlock()

	p.logger.Info().Bool("online", online).Msg("connectivity changed")
	for _, handler := range handlers {
		handler(online)
	}
}

// Manual is an Observer driven by explicit SetOnline calls. It backs tests
// and deployments where reachability is managed externally.
type Manual struct {
	mu       sync.RWMutex
	online   bool
	handlers []func(online bool)
}

// NewManual returns a Manual observer with the given starting state.
func NewManual(online bool) *Manual {
	return &Manual{online: online}
}

func (m *Manual) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

func (m *Manual) OnChange(handler func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// SetOnline updates the state and fires handlers on an actual transition.
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	handlers := append(([]func(bool))(nil), m.handlers...)
	m.mu.Unlock()

	for _, handler := range handlers {
		handler(online)
	}
}
