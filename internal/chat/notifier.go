package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/termgate/termgate/internal/infrastructure/logging"
)

// Notifier posts replies to the chat transport's callback URL with retries.
// Used when the webhook operates in asynchronous mode.
type Notifier struct {
	client *retryablehttp.Client
	url    string
	logger *logging.Logger
}

// NewNotifier creates a notifier for the given callback URL.
func NewNotifier(url string, logger *logging.Logger) *Notifier {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = nil // we log ourselves

	return &Notifier{
		client: client,
		url:    url,
		logger: logger,
	}
}

// Send delivers one reply. Errors are returned after retries are exhausted.
func (n *Notifier) Send(ctx context.Context, reply Reply) error {
	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build reply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Error("reply delivery failed",
			zap.String("user_id", reply.UserID),
			zap.String("message_id", reply.MessageID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to deliver reply: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("reply delivery rejected: status %d", resp.StatusCode)
	}
	return nil
}
