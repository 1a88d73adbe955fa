package core

// EventType identifies an input to the auth state machine
type EventType string

const (
	EventChallengeReceived EventType = "challenge_received"
	EventChallengeLost     EventType = "challenge_lost"
	EventAuthSucceeded     EventType = "auth_succeeded"
	EventAuthFailed        EventType = "auth_failed"
	EventDisconnected      EventType = "disconnected"
	EventUserAccepted      EventType = "user_accepted"
	EventUserRejected      EventType = "user_rejected"
)

// Event is an input to the state machine. Challenge and Preference are only
// read for EventChallengeReceived.
type Event struct {
	Type       EventType
	Challenge  string
	Preference Preference
}

// ChallengeEvent builds an EventChallengeReceived
func ChallengeEvent(challenge string, pref Preference) Event {
	return Event{Type: EventChallengeReceived, Challenge: challenge, Preference: pref}
}

// Result is the outcome of a transition
type Result struct {
	Status         AuthStatus
	ClearChallenge bool
	ShouldAutoAuth bool
}

// Transition computes the next status for a relay. It is pure and total:
// pairs with no defined transition return the input status and no effects.
func Transition(status AuthStatus, event Event) Result {
	switch event.Type {
	case EventDisconnected:
		return Result{Status: StatusNoChallenge, ClearChallenge: true}

	case EventAuthSucceeded:
		// a repeated or stray confirmation never revives a Failed relay
		if status == StatusAuthenticating || status == StatusChallengeReceived {
			return Result{Status: StatusAuthenticated, ClearChallenge: true}
		}

	case EventChallengeReceived:
		if status == StatusAuthenticating {
			return Result{Status: status}
		}
		if event.Preference == PreferenceAlways {
			return Result{Status: StatusAuthenticating, ShouldAutoAuth: true}
		}
		return Result{Status: StatusChallengeReceived}

	case EventChallengeLost:
		if status == StatusChallengeReceived {
			return Result{Status: StatusNoChallenge, ClearChallenge: true}
		}

	case EventUserAccepted:
		if status == StatusChallengeReceived {
			return Result{Status: StatusAuthenticating}
		}

	case EventUserRejected:
		if status == StatusChallengeReceived {
			return Result{Status: StatusNoChallenge, ClearChallenge: true}
		}

	case EventAuthFailed:
		if status == StatusAuthenticating {
			return Result{Status: StatusFailed, ClearChallenge: true}
		}
	}

	return Result{Status: status}
}
