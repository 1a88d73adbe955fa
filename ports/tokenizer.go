package ports

import "time"

// ControlTokenizer issues and verifies bearer tokens for the control API
type ControlTokenizer interface {
	Issue(subject string, ttl time.Duration) (string, error)
	Verify(token string) (subject string, err error)
}
