package relay

import (
	"sync"

	"github.com/layer-3/relayauth/pkg/signal"
	"github.com/layer-3/relayauth/ports"
)

// Pool is a set of relays keyed by URL that announces additions and removals
type Pool struct {
	mu      sync.RWMutex
	relays  map[string]*Relay
	order   []string
	added   *signal.Value[ports.RelayAdapter]
	removed *signal.Value[string]
}

// NewPool creates an empty pool
func NewPool() *Pool {
	return &Pool{
		relays:  make(map[string]*Relay),
		added:   signal.New[ports.RelayAdapter](nil),
		removed: signal.New(""),
	}
}

var _ ports.RelayPool = (*Pool)(nil)

// Add inserts a relay; it returns false if the URL is already present
func (p *Pool) Add(r *Relay) bool {
	p.mu.Lock()
	if _, ok := p.relays[r.URL()]; ok {
		p.mu.Unlock()
		return false
	}
	p.relays[r.URL()] = r
	p.order = append(p.order, r.URL())
	p.mu.Unlock()

	p.added.Set(r)
	return true
}

// Remove deletes a relay and closes its signals
func (p *Pool) Remove(url string) bool {
	p.mu.Lock()
	r, ok := p.relays[url]
	if !ok {
		p.mu.Unlock()
		return false
	}
	delete(p.relays, url)
	for i, u := range p.order {
		if u == url {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	p.removed.Set(url)
	r.Close()
	return true
}

// Get returns the relay for url
func (p *Pool) Get(url string) (*Relay, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.relays[url]
	return r, ok
}

// Relays returns the relays in insertion order
func (p *Pool) Relays() []ports.RelayAdapter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ports.RelayAdapter, 0, len(p.order))
	for _, url := range p.order {
		out = append(out, p.relays[url])
	}
	return out
}

func (p *Pool) OnAdded(fn func(ports.RelayAdapter)) func() {
	return p.added.Subscribe(fn)
}

func (p *Pool) OnRemoved(fn func(url string)) func() {
	return p.removed.Subscribe(fn)
}
