package service

import (
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/layer-3/relayauth/core"
)

// PreferencesKey is the store key holding every preference as one JSON object
const PreferencesKey = "preferences"

// SetPreference stores a decision for a relay and clears any session
// rejection for it
func (m *AuthManager) SetPreference(url string, pref core.Preference) error {
	if !pref.Valid() {
		return fmt.Errorf("%w: %q", core.ErrInvalidPreference, pref)
	}

	key := NormalizeURL(url)
	m.mu.Lock()
	m.prefs[key] = pref
	delete(m.rejected, key)
	snapshot := m.preferencesLocked()
	m.mu.Unlock()

	m.savePreferences(snapshot)
	m.publish()
	return nil
}

// GetPreference returns the decision for a relay, PreferenceUnset if none
func (m *AuthManager) GetPreference(url string) core.Preference {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefs[NormalizeURL(url)]
}

// RemovePreference forgets the decision for a relay
func (m *AuthManager) RemovePreference(url string) {
	key := NormalizeURL(url)
	m.mu.Lock()
	if _, ok := m.prefs[key]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.prefs, key)
	delete(m.rejected, key)
	snapshot := m.preferencesLocked()
	m.mu.Unlock()

	m.savePreferences(snapshot)
	m.publish()
}

// GetAllPreferences returns a copy of every stored decision keyed by
// normalized URL
func (m *AuthManager) GetAllPreferences() map[string]core.Preference {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.preferencesLocked()
}

func (m *AuthManager) preferencesLocked() map[string]core.Preference {
	out := make(map[string]core.Preference, len(m.prefs))
	for k, v := range m.prefs {
		out[k] = v
	}
	return out
}

// loadPreferences reads persisted preferences. Storage and decoding errors
// are logged and leave the map empty.
func (m *AuthManager) loadPreferences() {
	if m.store == nil {
		return
	}

	raw, err := m.store.Get(PreferencesKey)
	if err != nil {
		m.logger.Error("Failed to load auth preferences", err, nil)
		return
	}
	if raw == "" {
		return
	}

	var stored map[string]core.Preference
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		m.logger.Error("Failed to decode auth preferences", err, nil)
		return
	}
	for url, pref := range stored {
		if !pref.Valid() {
			continue
		}
		m.prefs[NormalizeURL(url)] = pref
	}
}

// savePreferences persists a snapshot; failures are logged, the in-memory
// map stays authoritative
func (m *AuthManager) savePreferences(prefs map[string]core.Preference) {
	if m.store == nil {
		return
	}

	payload, err := json.Marshal(prefs)
	if err != nil {
		m.logger.Error("Failed to encode auth preferences", err, nil)
		return
	}
	if err := m.store.Set(PreferencesKey, string(payload)); err != nil {
		m.logger.Error("Failed to save auth preferences", err, watermill.LogFields{"count": len(prefs)})
	}
}
