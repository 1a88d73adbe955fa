package core

import "time"

// AuthStatus is the authentication status of a single relay
type AuthStatus string

const (
	StatusNoChallenge       AuthStatus = "no_challenge"
	StatusChallengeReceived AuthStatus = "challenge_received"
	StatusAuthenticating    AuthStatus = "authenticating"
	StatusAuthenticated     AuthStatus = "authenticated"
	StatusFailed            AuthStatus = "failed"
)

// HoldsChallenge reports whether a relay in this status keeps its challenge
func (s AuthStatus) HoldsChallenge() bool {
	return s == StatusChallengeReceived || s == StatusAuthenticating
}

// Preference is a user's standing decision about authenticating to a relay
type Preference string

const (
	PreferenceUnset  Preference = ""
	PreferenceAlways Preference = "always"
	PreferenceNever  Preference = "never"
	PreferenceAsk    Preference = "ask"
)

// Valid reports whether p is one of the storable preferences
func (p Preference) Valid() bool {
	switch p {
	case PreferenceAlways, PreferenceNever, PreferenceAsk:
		return true
	}
	return false
}

// RelayAuthState is the authentication record kept for one monitored relay
type RelayAuthState struct {
	URL                 string     `json:"url"`
	Connected           bool       `json:"connected"`
	Status              AuthStatus `json:"status"`
	Challenge           string     `json:"challenge,omitempty"`             // Empty when no challenge is held
	ChallengeReceivedAt *time.Time `json:"challenge_received_at,omitempty"` // Nil when no challenge is held
}

// Clone returns a copy that shares no memory with s
func (s RelayAuthState) Clone() RelayAuthState {
	out := s
	if s.ChallengeReceivedAt != nil {
		at := *s.ChallengeReceivedAt
		out.ChallengeReceivedAt = &at
	}
	return out
}

// PendingChallenge is a relay waiting on a user decision
type PendingChallenge struct {
	RelayURL   string    `json:"relay_url"`
	Challenge  string    `json:"challenge"`
	ReceivedAt time.Time `json:"received_at"`
}

// TransitionEvent describes a status change of one relay
type TransitionEvent struct {
	RelayURL   string     `json:"relay_url"`
	From       AuthStatus `json:"from"`
	To         AuthStatus `json:"to"`
	Trigger    EventType  `json:"trigger"`
	OccurredAt time.Time  `json:"occurred_at"`
}
