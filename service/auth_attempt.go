package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"
	"github.com/layer-3/relayauth/core"
	"github.com/layer-3/relayauth/ports"
)

// ErrAuthInProgress is returned when a relay already has an attempt running
var ErrAuthInProgress = errors.New("authentication already in progress")

// attempt is one in-flight authentication. The relay's signal handlers
// resolve it: confirm on authenticated, fail on disconnect or teardown.
// Whichever comes first wins; the other is a no-op.
type attempt struct {
	id        string
	confirmed chan struct{}
	failed    chan struct{}
	err       error

	resolveOnce sync.Once
}

func newAttempt() *attempt {
	return &attempt{
		id:        uuid.New().String(),
		confirmed: make(chan struct{}),
		failed:    make(chan struct{}),
	}
}

func (a *attempt) confirm() {
	a.resolveOnce.Do(func() { close(a.confirmed) })
}

func (a *attempt) fail(err error) {
	a.resolveOnce.Do(func() {
		a.err = err
		close(a.failed)
	})
}

// Authenticate completes authentication for a relay holding a challenge. It
// returns once the relay confirms, or fails when the adapter errors, the
// relay disconnects or ctx ends. Failures leave the relay Failed.
func (m *AuthManager) Authenticate(ctx context.Context, url string) error {
	entry, err := m.lookup(url)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	m.mu.Lock()
	st, ok := m.liveStateLocked(entry)
	switch {
	case !ok:
		err = core.ErrRelayNotMonitored
	case st.Challenge == "":
		err = core.ErrNoChallenge
	case m.signer == nil:
		err = core.ErrSignerUnavailable
	case entry.attempt != nil:
		err = ErrAuthInProgress
	}
	if err != nil {
		m.mu.Unlock()
		entry.mu.Unlock()
		return fmt.Errorf("cannot authenticate %s: %w", url, err)
	}

	var changes []core.TransitionEvent
	if st.Status != core.StatusAuthenticating {
		changes = m.applyLocked(st, core.Event{Type: core.EventUserAccepted})
	}
	a := m.beginAttemptLocked(entry)
	signer := m.signer
	m.mu.Unlock()
	entry.mu.Unlock()

	m.notify(changes)
	m.publish()
	return m.runAttempt(ctx, entry, a, signer)
}

// Retry re-attempts a Failed relay using the adapter's current challenge
func (m *AuthManager) Retry(ctx context.Context, url string) error {
	entry, err := m.lookup(url)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	m.mu.Lock()
	st, ok := m.liveStateLocked(entry)
	var challenge string
	switch {
	case !ok:
		err = core.ErrRelayNotMonitored
	case st.Status != core.StatusFailed:
		err = core.ErrNotFailed
	case m.signer == nil:
		err = core.ErrSignerUnavailable
	default:
		if challenge = entry.adapter.Challenge().Get(); challenge == "" {
			err = core.ErrNoChallenge
		}
	}
	if err != nil {
		m.mu.Unlock()
		entry.mu.Unlock()
		return fmt.Errorf("cannot retry %s: %w", url, err)
	}

	at := m.now()
	st.Challenge = challenge
	st.ChallengeReceivedAt = &at
	changes := m.commitLocked(st, st.Status, core.EventUserAccepted, core.Result{Status: core.StatusAuthenticating})
	a := m.beginAttemptLocked(entry)
	signer := m.signer
	m.mu.Unlock()
	entry.mu.Unlock()

	m.notify(changes)
	m.publish()
	return m.runAttempt(ctx, entry, a, signer)
}

// Reject declines a relay's challenge. With rememberForSession the relay is
// also kept out of the pending projection until a preference is set.
func (m *AuthManager) Reject(url string, rememberForSession bool) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	if rememberForSession {
		m.rejected[NormalizeURL(url)] = struct{}{}
	}
	entry, ok := m.relays[url]
	m.mu.Unlock()

	var changes []core.TransitionEvent
	if ok {
		entry.mu.Lock()
		m.mu.Lock()
		if st, live := m.liveStateLocked(entry); live {
			changes = m.applyLocked(st, core.Event{Type: core.EventUserRejected})
		}
		m.mu.Unlock()
		entry.mu.Unlock()
	}

	m.notify(changes)
	m.publish()
}

// RejectForSession is Reject with rememberForSession set
func (m *AuthManager) RejectForSession(url string) {
	m.Reject(url, true)
}

// ClearSessionRejections forgets every rejection made this session
func (m *AuthManager) ClearSessionRejections() {
	m.mu.Lock()
	m.rejected = make(map[string]struct{})
	m.mu.Unlock()
	m.publish()
}

// SetSigner sets or clears (nil) the signer. When a signer becomes
// available, relays waiting with preference Always authenticate at once.
func (m *AuthManager) SetSigner(signer ports.Signer) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	wasAbsent := m.signer == nil
	m.signer = signer

	var candidates []*relayEntry
	if wasAbsent && signer != nil {
		for url, st := range m.states {
			if st.Status == core.StatusChallengeReceived && m.prefs[NormalizeURL(url)] == core.PreferenceAlways {
				candidates = append(candidates, m.relays[url])
			}
		}
	}
	m.mu.Unlock()

	for _, entry := range candidates {
		m.promote(entry)
	}
	m.publish()
}

// promote moves a waiting Always relay into Authenticating and starts the
// attempt, re-checking everything under the relay's lock
func (m *AuthManager) promote(entry *relayEntry) {
	entry.mu.Lock()
	m.mu.Lock()
	st, ok := m.liveStateLocked(entry)
	if !ok || m.signer == nil || entry.attempt != nil ||
		st.Status != core.StatusChallengeReceived ||
		m.prefs[NormalizeURL(st.URL)] != core.PreferenceAlways {
		m.mu.Unlock()
		entry.mu.Unlock()
		return
	}
	changes := m.applyLocked(st, core.Event{Type: core.EventUserAccepted})
	a := m.beginAttemptLocked(entry)
	signer := m.signer
	m.mu.Unlock()
	entry.mu.Unlock()

	m.notify(changes)
	m.publish()
	m.startAuto(entry, a, signer)
}

func (m *AuthManager) lookup(url string) (*relayEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return nil, core.ErrManagerDestroyed
	}
	entry, ok := m.relays[url]
	if !ok {
		return nil, fmt.Errorf("relay %s: %w", url, core.ErrRelayNotMonitored)
	}
	return entry, nil
}

func (m *AuthManager) beginAttemptLocked(entry *relayEntry) *attempt {
	a := newAttempt()
	entry.attempt = a
	return a
}

// startAuto runs an auto-auth attempt in the background
func (m *AuthManager) startAuto(entry *relayEntry, a *attempt, signer ports.Signer) {
	if a == nil {
		return
	}
	go func() {
		if err := m.runAttempt(context.Background(), entry, a, signer); err != nil {
			m.logger.Info("Automatic relay authentication failed", watermill.LogFields{
				"relay":   entry.adapter.URL(),
				"attempt": a.id,
				"error":   err.Error(),
			})
		}
	}()
}

// runAttempt sends the signed challenge and waits jointly for the send to
// return and for the relay to confirm. Disconnection, teardown or ctx
// ending before confirmation resolves the attempt as failed; once confirmed
// it succeeds.
func (m *AuthManager) runAttempt(ctx context.Context, entry *relayEntry, a *attempt, signer ports.Signer) error {
	if m.authTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.authTimeout)
		defer cancel()
	}

	url := entry.adapter.URL()
	logger := m.logger.With(watermill.LogFields{"relay": url, "attempt": a.id})
	logger.Debug("Authenticating relay", nil)

	sent := make(chan error, 1)
	go func() {
		sent <- entry.adapter.Authenticate(ctx, signer)
	}()

	sendCh, confirmCh, failedCh := sent, a.confirmed, a.failed
	var err error
wait:
	for sendCh != nil || confirmCh != nil {
		select {
		case sendErr := <-sendCh:
			sendCh = nil
			switch {
			case sendErr != nil && confirmCh == nil:
				logger.Debug("Authentication send failed after confirmation", watermill.LogFields{"error": sendErr.Error()})
			case sendErr != nil:
				err = fmt.Errorf("%w: %w", core.ErrAuthFailed, sendErr)
				break wait
			case confirmCh != nil && entry.adapter.Authenticated().Get():
				// the adapter flipped its flag before we could observe a change
				m.confirmRelay(entry, a)
			}
		case <-confirmCh:
			// confirmed; a later disconnect belongs to the next lifecycle
			confirmCh, failedCh = nil, nil
		case <-failedCh:
			err = a.err
			break wait
		case <-ctx.Done():
			if confirmCh == nil {
				break wait
			}
			err = fmt.Errorf("%w: %w", core.ErrAuthFailed, ctx.Err())
			break wait
		}
	}

	if sendCh != nil {
		// observe the adapter's late result so it is never dropped silently
		go func(ch <-chan error) {
			if lateErr := <-ch; lateErr != nil {
				logger.Debug("Late authentication error", watermill.LogFields{"error": lateErr.Error()})
			}
		}(sendCh)
	}

	m.finishAttempt(entry, a, err)
	if err != nil {
		return fmt.Errorf("authenticate %s: %w", url, err)
	}
	logger.Info("Relay authenticated", nil)
	return nil
}

// finishAttempt clears the attempt and, on failure, moves the relay to
// Failed only if it is still Authenticating
func (m *AuthManager) finishAttempt(entry *relayEntry, a *attempt, err error) {
	entry.mu.Lock()
	m.mu.Lock()
	current := entry.attempt == a
	if current {
		entry.attempt = nil
	}

	var changes []core.TransitionEvent
	if err != nil && current {
		if st, ok := m.liveStateLocked(entry); ok && st.Status == core.StatusAuthenticating {
			changes = m.applyLocked(st, core.Event{Type: core.EventAuthFailed})
		}
	}
	m.mu.Unlock()
	entry.mu.Unlock()

	m.notify(changes)
	if len(changes) > 0 {
		m.publish()
	}
}
