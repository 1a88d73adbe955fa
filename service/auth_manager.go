package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/layer-3/relayauth/core"
	"github.com/layer-3/relayauth/pkg/signal"
	"github.com/layer-3/relayauth/ports"
)

// DefaultChallengeTTL is how long a challenge stays offered for a decision
const DefaultChallengeTTL = 10 * time.Minute

// Option customizes an AuthManager
type Option func(*AuthManager)

// WithLogger sets the logger used for transitions and swallowed errors
func WithLogger(logger watermill.LoggerAdapter) Option {
	return func(m *AuthManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests)
func WithClock(now func() time.Time) Option {
	return func(m *AuthManager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithChallengeTTL overrides DefaultChallengeTTL. Zero disables expiry.
func WithChallengeTTL(ttl time.Duration) Option {
	return func(m *AuthManager) {
		if ttl >= 0 {
			m.ttl = ttl
		}
	}
}

// WithAuthTimeout bounds every authentication attempt. Zero means attempts
// only end on confirmation, disconnection or caller cancellation.
func WithAuthTimeout(timeout time.Duration) Option {
	return func(m *AuthManager) {
		if timeout >= 0 {
			m.authTimeout = timeout
		}
	}
}

// WithEventPublisher publishes every status change
func WithEventPublisher(publisher ports.EventPublisher) Option {
	return func(m *AuthManager) {
		m.publisher = publisher
	}
}

// WithSigner starts the manager with a signer available
func WithSigner(signer ports.Signer) Option {
	return func(m *AuthManager) {
		m.signer = signer
	}
}

type relayEntry struct {
	// mu serializes signal handling for this relay; it is always taken
	// before AuthManager.mu
	mu      sync.Mutex
	adapter ports.RelayAdapter
	unsubs  []func()
	attempt *attempt // guarded by AuthManager.mu
}

// AuthManager drives the auth lifecycle of many relays at once
type AuthManager struct {
	mu         sync.Mutex
	relays     map[string]*relayEntry
	states     map[string]*core.RelayAuthState
	prefs      map[string]core.Preference
	rejected   map[string]struct{}
	signer     ports.Signer
	poolUnsubs []func()
	destroyed  bool
	dirty      bool
	publishing bool

	store       ports.PreferenceStore
	publisher   ports.EventPublisher
	logger      watermill.LoggerAdapter
	now         func() time.Time
	ttl         time.Duration
	authTimeout time.Duration

	statesOut  *signal.Value[map[string]core.RelayAuthState]
	pendingOut *signal.Value[[]core.PendingChallenge]
}

// NewAuthManager creates a manager and loads persisted preferences from
// store. A nil store keeps preferences in memory only.
func NewAuthManager(store ports.PreferenceStore, opts ...Option) *AuthManager {
	m := &AuthManager{
		relays:     make(map[string]*relayEntry),
		states:     make(map[string]*core.RelayAuthState),
		prefs:      make(map[string]core.Preference),
		rejected:   make(map[string]struct{}),
		store:      store,
		logger:     watermill.NopLogger{},
		now:        time.Now,
		ttl:        DefaultChallengeTTL,
		statesOut:  signal.New(map[string]core.RelayAuthState{}),
		pendingOut: signal.New([]core.PendingChallenge{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	m.loadPreferences()
	return m
}

// States streams a snapshot of every relay state after each mutation
func (m *AuthManager) States() ports.Signal[map[string]core.RelayAuthState] {
	return m.statesOut
}

// PendingChallenges streams the relays awaiting a user decision. It is
// always published before the matching States snapshot.
func (m *AuthManager) PendingChallenges() ports.Signal[[]core.PendingChallenge] {
	return m.pendingOut
}

// MonitorRelay starts tracking a relay. Monitoring a tracked URL is a no-op.
func (m *AuthManager) MonitorRelay(adapter ports.RelayAdapter) {
	if adapter == nil {
		return
	}
	url := adapter.URL()
	entry := &relayEntry{adapter: adapter}

	entry.mu.Lock()
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		entry.mu.Unlock()
		return
	}
	if _, ok := m.relays[url]; ok {
		m.mu.Unlock()
		entry.mu.Unlock()
		return
	}

	// subscribe before reading so no change between the two is lost; any
	// signal fired meanwhile waits on entry.mu
	entry.unsubs = []func(){
		adapter.Connected().Subscribe(func(v bool) { m.onConnected(entry, v) }),
		adapter.Challenge().Subscribe(func(v string) { m.onChallenge(entry, v) }),
		adapter.Authenticated().Subscribe(func(v bool) { m.onAuthenticated(entry, v) }),
	}

	st := &core.RelayAuthState{
		URL:       url,
		Connected: adapter.Connected().Get(),
		Status:    core.StatusNoChallenge,
	}
	m.relays[url] = entry
	m.states[url] = st

	var changes []core.TransitionEvent
	var auto *attempt
	if adapter.Authenticated().Get() {
		st.Status = core.StatusAuthenticated
	} else if challenge := adapter.Challenge().Get(); challenge != "" {
		changes, auto = m.receiveChallengeLocked(entry, st, challenge)
	}
	signer := m.signer
	m.mu.Unlock()
	entry.mu.Unlock()

	m.logger.Debug("Monitoring relay", watermill.LogFields{"relay": url})
	m.notify(changes)
	m.publish()
	m.startAuto(entry, auto, signer)
}

// UnmonitorRelay stops tracking a relay and drops its state. Unknown URLs
// are ignored.
func (m *AuthManager) UnmonitorRelay(url string) {
	m.mu.Lock()
	entry, ok := m.relays[url]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.relays, url)
	delete(m.states, url)
	if entry.attempt != nil {
		entry.attempt.fail(core.ErrRelayNotMonitored)
		entry.attempt = nil
	}
	m.mu.Unlock()

	for _, unsub := range entry.unsubs {
		unsub()
	}

	m.logger.Debug("Stopped monitoring relay", watermill.LogFields{"relay": url})
	m.publish()
}

// WatchPool monitors every relay in pool and follows its additions and
// removals until Destroy.
func (m *AuthManager) WatchPool(pool ports.RelayPool) {
	unsubs := []func(){
		pool.OnAdded(m.MonitorRelay),
		pool.OnRemoved(m.UnmonitorRelay),
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		for _, unsub := range unsubs {
			unsub()
		}
		return
	}
	m.poolUnsubs = append(m.poolUnsubs, unsubs...)
	m.mu.Unlock()

	for _, adapter := range pool.Relays() {
		m.MonitorRelay(adapter)
	}
}

// GetRelayState returns a copy of one relay's state
func (m *AuthManager) GetRelayState(url string) (core.RelayAuthState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[url]
	if !ok {
		return core.RelayAuthState{}, false
	}
	return st.Clone(), true
}

// GetAllStates returns a copy of every relay state keyed by URL
func (m *AuthManager) GetAllStates() map[string]core.RelayAuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statesLocked()
}

// GetPendingChallenges computes the pending projection at the current time
func (m *AuthManager) GetPendingChallenges() []core.PendingChallenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingLocked()
}

// HasSignerAvailable reports whether a signer is set
func (m *AuthManager) HasSignerAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signer != nil
}

// Destroy releases every subscription, aborts in-flight attempts and closes
// both output streams. Calling it again does nothing.
func (m *AuthManager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	entries := make([]*relayEntry, 0, len(m.relays))
	for _, entry := range m.relays {
		entries = append(entries, entry)
		if entry.attempt != nil {
			entry.attempt.fail(core.ErrManagerDestroyed)
			entry.attempt = nil
		}
	}
	poolUnsubs := m.poolUnsubs
	m.poolUnsubs = nil
	m.relays = make(map[string]*relayEntry)
	m.states = make(map[string]*core.RelayAuthState)
	m.mu.Unlock()

	for _, unsub := range poolUnsubs {
		unsub()
	}
	for _, entry := range entries {
		for _, unsub := range entry.unsubs {
			unsub()
		}
	}

	m.pendingOut.Close()
	m.statesOut.Close()
	m.logger.Debug("Auth manager destroyed", nil)
}

func (m *AuthManager) onConnected(entry *relayEntry, connected bool) {
	entry.mu.Lock()
	m.mu.Lock()
	st, ok := m.liveStateLocked(entry)
	if !ok {
		m.mu.Unlock()
		entry.mu.Unlock()
		return
	}

	var changes []core.TransitionEvent
	st.Connected = connected
	if !connected {
		inFlight := entry.attempt != nil
		if inFlight {
			entry.attempt.fail(core.ErrRelayDisconnected)
		}
		// an attempt still Authenticating resolves the relay as Failed itself
		if !inFlight || st.Status != core.StatusAuthenticating {
			changes = m.applyLocked(st, core.Event{Type: core.EventDisconnected})
		}
	}
	m.mu.Unlock()
	entry.mu.Unlock()

	m.notify(changes)
	m.publish()
}

func (m *AuthManager) onChallenge(entry *relayEntry, challenge string) {
	entry.mu.Lock()
	m.mu.Lock()
	st, ok := m.liveStateLocked(entry)
	if !ok {
		m.mu.Unlock()
		entry.mu.Unlock()
		return
	}

	var changes []core.TransitionEvent
	var auto *attempt
	if challenge == "" {
		changes = m.applyLocked(st, core.Event{Type: core.EventChallengeLost})
	} else {
		changes, auto = m.receiveChallengeLocked(entry, st, challenge)
	}
	signer := m.signer
	m.mu.Unlock()
	entry.mu.Unlock()

	m.notify(changes)
	m.publish()
	m.startAuto(entry, auto, signer)
}

func (m *AuthManager) onAuthenticated(entry *relayEntry, authenticated bool) {
	if authenticated {
		m.confirmRelay(entry, nil)
	}
}

// confirmRelay applies AuthSucceeded and resolves the in-flight attempt,
// releasing the slot so a re-auth challenge can start a fresh one. A non-nil
// only limits the confirmation to that attempt while it is still current.
func (m *AuthManager) confirmRelay(entry *relayEntry, only *attempt) {
	entry.mu.Lock()
	m.mu.Lock()
	st, ok := m.liveStateLocked(entry)
	if !ok || (only != nil && entry.attempt != only) {
		m.mu.Unlock()
		entry.mu.Unlock()
		return
	}

	changes := m.applyLocked(st, core.Event{Type: core.EventAuthSucceeded})
	if a := entry.attempt; a != nil && st.Status == core.StatusAuthenticated {
		a.confirm()
		entry.attempt = nil
	}
	m.mu.Unlock()
	entry.mu.Unlock()

	m.notify(changes)
	m.publish()
}

// receiveChallengeLocked feeds a challenge through the state machine and, on
// auto-auth, registers the attempt the caller must start once unlocked.
func (m *AuthManager) receiveChallengeLocked(entry *relayEntry, st *core.RelayAuthState, challenge string) ([]core.TransitionEvent, *attempt) {
	pref := m.prefs[NormalizeURL(st.URL)]
	if pref == core.PreferenceAlways && m.signer == nil {
		// auto-auth waits for a signer; see SetSigner
		pref = core.PreferenceUnset
	}

	if st.Status != core.StatusAuthenticating {
		at := m.now()
		st.Challenge = challenge
		st.ChallengeReceivedAt = &at
	}

	from := st.Status
	res := core.Transition(from, core.ChallengeEvent(challenge, pref))
	changes := m.commitLocked(st, from, core.EventChallengeReceived, res)

	if !res.ShouldAutoAuth || entry.attempt != nil {
		return changes, nil
	}
	return changes, m.beginAttemptLocked(entry)
}

// applyLocked runs a state machine event against st
func (m *AuthManager) applyLocked(st *core.RelayAuthState, event core.Event) []core.TransitionEvent {
	from := st.Status
	return m.commitLocked(st, from, event.Type, core.Transition(from, event))
}

func (m *AuthManager) commitLocked(st *core.RelayAuthState, from core.AuthStatus, trigger core.EventType, res core.Result) []core.TransitionEvent {
	st.Status = res.Status
	if res.ClearChallenge {
		st.Challenge = ""
		st.ChallengeReceivedAt = nil
	}
	if from == res.Status {
		return nil
	}

	m.logger.Debug("Relay auth transition", watermill.LogFields{
		"relay":   st.URL,
		"from":    string(from),
		"to":      string(res.Status),
		"trigger": string(trigger),
	})
	return []core.TransitionEvent{{
		RelayURL:   st.URL,
		From:       from,
		To:         res.Status,
		Trigger:    trigger,
		OccurredAt: m.now(),
	}}
}

// liveStateLocked returns the state for entry unless it has been unmonitored
func (m *AuthManager) liveStateLocked(entry *relayEntry) (*core.RelayAuthState, bool) {
	url := entry.adapter.URL()
	if current, ok := m.relays[url]; !ok || current != entry {
		return nil, false
	}
	st, ok := m.states[url]
	return st, ok
}

func (m *AuthManager) statesLocked() map[string]core.RelayAuthState {
	out := make(map[string]core.RelayAuthState, len(m.states))
	for url, st := range m.states {
		out[url] = st.Clone()
	}
	return out
}

func (m *AuthManager) pendingLocked() []core.PendingChallenge {
	out := []core.PendingChallenge{}
	if m.signer == nil {
		return out
	}

	now := m.now()
	for _, st := range m.states {
		if st.Status != core.StatusChallengeReceived || st.Challenge == "" || st.ChallengeReceivedAt == nil {
			continue
		}
		if m.ttl > 0 && now.Sub(*st.ChallengeReceivedAt) >= m.ttl {
			continue
		}
		key := NormalizeURL(st.URL)
		if _, rejected := m.rejected[key]; rejected {
			continue
		}
		if m.prefs[key] == core.PreferenceNever {
			continue
		}
		out = append(out, core.PendingChallenge{
			RelayURL:   st.URL,
			Challenge:  st.Challenge,
			ReceivedAt: *st.ChallengeReceivedAt,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].RelayURL < out[j].RelayURL
	})
	return out
}

// publish republishes pending challenges then states. Concurrent calls
// coalesce into the running drain loop, so subscribers see snapshots in
// order and may call back into the manager.
func (m *AuthManager) publish() {
	m.mu.Lock()
	m.dirty = true
	if m.publishing {
		m.mu.Unlock()
		return
	}
	m.publishing = true
	for m.dirty && !m.destroyed {
		m.dirty = false
		pending := m.pendingLocked()
		states := m.statesLocked()
		m.mu.Unlock()

		m.pendingOut.Set(pending)
		m.statesOut.Set(states)

		m.mu.Lock()
	}
	m.publishing = false
	m.mu.Unlock()
}

// notify forwards status changes to the event publisher; failures are logged
func (m *AuthManager) notify(changes []core.TransitionEvent) {
	if m.publisher == nil {
		return
	}
	for _, change := range changes {
		if err := m.publisher.PublishTransition(context.Background(), change); err != nil {
			m.logger.Error("Failed to publish transition", err, watermill.LogFields{"relay": change.RelayURL})
		}
	}
}
