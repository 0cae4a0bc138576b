package push

import (
	"context"

	"github.com/firewatch/fire-relay/internal/logger"
)

// Notification is one push message addressed to a token set.
type Notification struct {
	// Title is the short headline shown by the platform.
	Title string
	// Body is the notification text.
	Body string
	// Data is the data payload delivered alongside the notification.
	Data map[string]string
}

// Dispatcher delivers a notification to a set of device tokens. Delivery is
// best-effort: implementations log partial failures and never propagate them
// to the alarm path.
type Dispatcher interface {
	Dispatch(ctx context.Context, tokens []string, n Notification) error
}

// NopDispatcher discards every notification. It keeps the relay usable in
// development setups without a push gateway.
type NopDispatcher struct{}

// Dispatch logs the discarded notification and returns nil.
func (NopDispatcher) Dispatch(ctx context.Context, tokens []string, n Notification) error {
	logger.InfoKV(ctx, "Push dispatch disabled, dropping notification", "title", n.Title, "tokens", len(tokens))

	return nil
}
