package core

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []AuthStatus{
	StatusNoChallenge,
	StatusChallengeReceived,
	StatusAuthenticating,
	StatusAuthenticated,
	StatusFailed,
}

func TestTransition_Table(t *testing.T) {
	tests := []struct {
		name  string
		from  AuthStatus
		event Event
		want  Result
	}{
		{"fresh challenge always", StatusNoChallenge, ChallengeEvent("abc", PreferenceAlways), Result{Status: StatusAuthenticating, ShouldAutoAuth: true}},
		{"fresh challenge unset", StatusNoChallenge, ChallengeEvent("abc", PreferenceUnset), Result{Status: StatusChallengeReceived}},
		{"fresh challenge ask", StatusNoChallenge, ChallengeEvent("abc", PreferenceAsk), Result{Status: StatusChallengeReceived}},
		{"fresh challenge never", StatusNoChallenge, ChallengeEvent("abc", PreferenceNever), Result{Status: StatusChallengeReceived}},
		{"user accepts", StatusChallengeReceived, Event{Type: EventUserAccepted}, Result{Status: StatusAuthenticating}},
		{"user rejects", StatusChallengeReceived, Event{Type: EventUserRejected}, Result{Status: StatusNoChallenge, ClearChallenge: true}},
		{"new challenge always", StatusChallengeReceived, ChallengeEvent("def", PreferenceAlways), Result{Status: StatusAuthenticating, ShouldAutoAuth: true}},
		{"new challenge ask", StatusChallengeReceived, ChallengeEvent("def", PreferenceAsk), Result{Status: StatusChallengeReceived}},
		{"success", StatusAuthenticating, Event{Type: EventAuthSucceeded}, Result{Status: StatusAuthenticated, ClearChallenge: true}},
		{"failure", StatusAuthenticating, Event{Type: EventAuthFailed}, Result{Status: StatusFailed, ClearChallenge: true}},
		{"challenge while authenticating", StatusAuthenticating, ChallengeEvent("new", PreferenceAlways), Result{Status: StatusAuthenticating}},
		{"reauth ask", StatusAuthenticated, ChallengeEvent("re", PreferenceUnset), Result{Status: StatusChallengeReceived}},
		{"reauth always", StatusAuthenticated, ChallengeEvent("re", PreferenceAlways), Result{Status: StatusAuthenticating, ShouldAutoAuth: true}},
		{"failed then always", StatusFailed, ChallengeEvent("x", PreferenceAlways), Result{Status: StatusAuthenticating, ShouldAutoAuth: true}},
		{"failed then ask", StatusFailed, ChallengeEvent("x", PreferenceAsk), Result{Status: StatusChallengeReceived}},
		{"challenge lost", StatusChallengeReceived, Event{Type: EventChallengeLost}, Result{Status: StatusNoChallenge, ClearChallenge: true}},
		{"challenge lost while authenticating", StatusAuthenticating, Event{Type: EventChallengeLost}, Result{Status: StatusAuthenticating}},
		{"accept without challenge", StatusNoChallenge, Event{Type: EventUserAccepted}, Result{Status: StatusNoChallenge}},
		{"reject when failed", StatusFailed, Event{Type: EventUserRejected}, Result{Status: StatusFailed}},
		{"success while challenge received", StatusChallengeReceived, Event{Type: EventAuthSucceeded}, Result{Status: StatusAuthenticated, ClearChallenge: true}},
		{"stray success when failed", StatusFailed, Event{Type: EventAuthSucceeded}, Result{Status: StatusFailed}},
		{"stray success without challenge", StatusNoChallenge, Event{Type: EventAuthSucceeded}, Result{Status: StatusNoChallenge}},
		{"repeated success", StatusAuthenticated, Event{Type: EventAuthSucceeded}, Result{Status: StatusAuthenticated}},
		{"failure when authenticated", StatusAuthenticated, Event{Type: EventAuthFailed}, Result{Status: StatusAuthenticated}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transition(tt.from, tt.event))
		})
	}
}

func TestTransition_DisconnectAlwaysResets(t *testing.T) {
	for _, status := range allStatuses {
		got := Transition(status, Event{Type: EventDisconnected})
		assert.Equal(t, StatusNoChallenge, got.Status, "from %s", status)
		assert.True(t, got.ClearChallenge, "from %s", status)
		assert.False(t, got.ShouldAutoAuth, "from %s", status)
	}
}

// relayModel applies transitions the way the manager stores challenges, so
// the challenge invariant can be checked over arbitrary event sequences.
type relayModel struct {
	status    AuthStatus
	challenge string
}

func (m *relayModel) apply(e Event) {
	res := Transition(m.status, e)
	if e.Type == EventChallengeReceived && m.status != StatusAuthenticating {
		m.challenge = e.Challenge
	}
	if res.ClearChallenge {
		m.challenge = ""
	}
	m.status = res.Status
}

func TestTransition_ChallengeInvariantOverSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	prefs := []Preference{PreferenceUnset, PreferenceAlways, PreferenceNever, PreferenceAsk}
	events := []func() Event{
		func() Event { return ChallengeEvent("c", prefs[rng.Intn(len(prefs))]) },
		func() Event { return Event{Type: EventChallengeLost} },
		func() Event { return Event{Type: EventAuthSucceeded} },
		func() Event { return Event{Type: EventAuthFailed} },
		func() Event { return Event{Type: EventDisconnected} },
		func() Event { return Event{Type: EventUserAccepted} },
		func() Event { return Event{Type: EventUserRejected} },
	}

	for run := 0; run < 500; run++ {
		m := &relayModel{status: StatusNoChallenge}
		for step := 0; step < 30; step++ {
			m.apply(events[rng.Intn(len(events))]())

			require.Equal(t, m.status.HoldsChallenge(), m.challenge != "",
				"run %d step %d: status=%s challenge=%q", run, step, m.status, m.challenge)
			if m.status == StatusAuthenticated {
				require.Empty(t, m.challenge)
			}
		}
	}
}

func TestPreference_Valid(t *testing.T) {
	assert.True(t, PreferenceAlways.Valid())
	assert.True(t, PreferenceNever.Valid())
	assert.True(t, PreferenceAsk.Valid())
	assert.False(t, PreferenceUnset.Valid())
	assert.False(t, Preference("sometimes").Valid())
}
