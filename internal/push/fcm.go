package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/firewatch/fire-relay/internal/logger"
)

// batchSize is the FCM limit on tokens per multicast request.
const batchSize = 500

// FCMDispatcher sends high-priority push notifications through Firebase Cloud
// Messaging so offline devices still receive emergency alerts.
type FCMDispatcher struct {
	client *messaging.Client
}

// NewFCMDispatcher initializes the Firebase app from a service account file.
// A missing or unreadable credentials file is a startup failure: the caller
// must not start serving without a working push gateway.
func NewFCMDispatcher(ctx context.Context, credentialsFile string) (*FCMDispatcher, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize messaging client: %w", err)
	}

	return &FCMDispatcher{client: client}, nil
}

// Dispatch sends one batched multicast per 500 tokens with high-priority
// delivery hints for Android and iOS. Not sending to zero recipients is not a
// fault. Per-token failures are logged and never abort the rest of the batch.
func (d *FCMDispatcher) Dispatch(ctx context.Context, tokens []string, n Notification) error {
	if len(tokens) == 0 {
		logger.Warn(ctx, "No push tokens registered, skipping dispatch")

		return nil
	}

	logger.InfoKV(ctx, "Dispatching push notification", "title", n.Title, "tokens", len(tokens))

	for len(tokens) > 0 {
		batch := tokens
		if len(batch) > batchSize {
			batch = tokens[:batchSize]
		}

		tokens = tokens[len(batch):]

		response, err := d.client.SendEachForMulticast(ctx, buildMessage(batch, n))
		if err != nil {
			return fmt.Errorf("send multicast: %w", err)
		}

		for i, resp := range response.Responses {
			if resp.Error == nil {
				continue
			}

			logger.WarnKV(ctx, "Push delivery failed for token", "token", batch[i], "error", resp.Error)
		}

		logger.InfoKV(ctx, "Push batch sent", "success", response.SuccessCount, "failure", response.FailureCount)
	}

	return nil
}

// buildMessage constructs the multicast request with platform priority hints.
func buildMessage(tokens []string, n Notification) *messaging.MulticastMessage {
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   n.Data,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
		},
	}
}
