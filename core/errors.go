package core

import "errors"

var (
	ErrRelayNotMonitored = errors.New("relay is not monitored")
	ErrNoChallenge       = errors.New("relay has no challenge")
	ErrSignerUnavailable = errors.New("no signer available")
	ErrNotFailed         = errors.New("relay is not in failed state")
	ErrAuthFailed        = errors.New("relay authentication failed")
	ErrRelayDisconnected = errors.New("relay disconnected during authentication")
	ErrInvalidPreference = errors.New("invalid auth preference")
	ErrManagerDestroyed  = errors.New("auth manager destroyed")
)

var (
	// ErrInvalidToken is returned when a control token cannot be verified
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when a control token has expired
	ErrTokenExpired = errors.New("token has expired")
)
