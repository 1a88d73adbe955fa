// Package relay provides a signal-backed RelayAdapter that a transport layer
// drives, and a pool that announces relays as they come and go.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/layer-3/relayauth/core"
	"github.com/layer-3/relayauth/pkg/signal"
	"github.com/layer-3/relayauth/ports"
)

// AuthEventKind is the NIP-42 client authentication event kind
const AuthEventKind = 22242

// AuthResponse is a signed answer to a relay challenge, ready for the wire
type AuthResponse struct {
	RelayURL  string `json:"relay"`
	Challenge string `json:"challenge"`
	Identity  string `json:"identity"`
	Signature []byte `json:"signature"`
}

// Sender transmits an AuthResponse over the relay connection
type Sender func(ctx context.Context, resp AuthResponse) error

// Relay implements ports.RelayAdapter. The transport calls SetConnected,
// SetChallenge and SetAuthenticated as frames arrive.
type Relay struct {
	url           string
	connected     *signal.Value[bool]
	challenge     *signal.Value[string]
	authenticated *signal.Value[bool]
	send          Sender
}

// NewRelay creates a disconnected relay
func NewRelay(url string, send Sender) *Relay {
	return &Relay{
		url:           url,
		connected:     signal.New(false),
		challenge:     signal.New(""),
		authenticated: signal.New(false),
		send:          send,
	}
}

var _ ports.RelayAdapter = (*Relay)(nil)

func (r *Relay) URL() string                       { return r.url }
func (r *Relay) Connected() ports.Signal[bool]     { return r.connected }
func (r *Relay) Challenge() ports.Signal[string]   { return r.challenge }
func (r *Relay) Authenticated() ports.Signal[bool] { return r.authenticated }

// SetConnected updates connectivity. Losing the connection also drops the
// challenge and the authenticated flag, in that order after connectivity.
func (r *Relay) SetConnected(connected bool) {
	r.connected.Set(connected)
	if !connected {
		if r.challenge.Get() != "" {
			r.challenge.Set("")
		}
		if r.authenticated.Get() {
			r.authenticated.Set(false)
		}
	}
}

// SetChallenge records a challenge from an AUTH frame. A new challenge
// invalidates any earlier authentication.
func (r *Relay) SetChallenge(challenge string) {
	if challenge != "" && r.authenticated.Get() {
		r.authenticated.Set(false)
	}
	r.challenge.Set(challenge)
}

// SetAuthenticated records the relay's verdict on our AUTH event
func (r *Relay) SetAuthenticated(ok bool) {
	r.authenticated.Set(ok)
}

// Authenticate signs the current challenge and hands it to the sender
func (r *Relay) Authenticate(ctx context.Context, signer ports.Signer) error {
	if signer == nil {
		return core.ErrSignerUnavailable
	}
	if !r.connected.Get() {
		return core.ErrRelayDisconnected
	}
	challenge := r.challenge.Get()
	if challenge == "" {
		return core.ErrNoChallenge
	}

	payload, err := AuthPayload(r.url, challenge)
	if err != nil {
		return err
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return fmt.Errorf("failed to sign challenge: %w", err)
	}

	if r.send == nil {
		return nil
	}
	if err := r.send(ctx, AuthResponse{
		RelayURL:  r.url,
		Challenge: challenge,
		Identity:  signer.Identity(),
		Signature: sig,
	}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}
	return nil
}

// Close drops every subscriber of the relay's signals
func (r *Relay) Close() {
	r.connected.Close()
	r.challenge.Close()
	r.authenticated.Close()
}

// AuthPayload is the canonical byte string signed for a challenge
func AuthPayload(relayURL, challenge string) ([]byte, error) {
	payload, err := json.Marshal(struct {
		Kind      int    `json:"kind"`
		Relay     string `json:"relay"`
		Challenge string `json:"challenge"`
	}{
		Kind:      AuthEventKind,
		Relay:     relayURL,
		Challenge: challenge,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode auth payload: %w", err)
	}
	return payload, nil
}
