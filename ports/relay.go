package ports

import (
	"context"
)

// Signal is a live value: readable now, observable for changes
type Signal[T any] interface {
	Get() T
	Subscribe(fn func(T)) (unsubscribe func())
}

// Signer is the capability to sign AUTH challenges. The manager only checks
// for its presence; signing happens inside RelayAdapter.Authenticate.
type Signer interface {
	// Identity returns the public identity the signatures prove control of
	Identity() string

	// Sign signs an opaque payload
	Sign(payload []byte) ([]byte, error)
}

// RelayAdapter translates one transport connection into auth signals
type RelayAdapter interface {
	// URL is the relay endpoint, used as the state key
	URL() string

	// Connected mirrors transport connectivity
	Connected() Signal[bool]

	// Challenge is the latest server challenge, empty when none is held
	Challenge() Signal[string]

	// Authenticated reports whether the relay accepted our AUTH
	Authenticated() Signal[bool]

	// Authenticate signs the current challenge and transmits it
	Authenticate(ctx context.Context, signer Signer) error
}

// RelayPool emits lifecycle events for a dynamic set of relays
type RelayPool interface {
	Relays() []RelayAdapter
	OnAdded(fn func(RelayAdapter)) (unsubscribe func())
	OnRemoved(fn func(url string)) (unsubscribe func())
}
