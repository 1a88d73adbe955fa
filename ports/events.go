package ports

import (
	"context"

	"github.com/layer-3/relayauth/core"
)

// EventPublisher publishes relay auth status changes to other processes
type EventPublisher interface {
	PublishTransition(ctx context.Context, event core.TransitionEvent) error
}
