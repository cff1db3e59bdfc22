package llm

import (
	"context"
	"time"

	"github.com/fabfab/hearings-ai/logger"
)

type retryClient struct {
	next    Client
	retries int
	backoff time.Duration
	logger  *logger.Logger
}

// WithRetry retries retryable failures of next up to retries times, doubling
// the wait after each attempt.
func WithRetry(next Client, retries int, backoff time.Duration, log *logger.Logger) Client {
	if log == nil {
		log = logger.NewNop()
	}
	return &retryClient{next: next, retries: retries, backoff: backoff, logger: log}
}

func (c *retryClient) Generate(ctx context.Context, messages []Message) (string, error) {
	wait := c.backoff
	for attempt := 0; ; attempt++ {
		reply, err := c.next.Generate(ctx, messages)
		if err == nil {
			return reply, nil
		}
		if attempt >= c.retries || !isRetryable(err) {
			return "", err
		}
		c.logger.Warn("model call failed, retrying", "attempt", attempt+1, "wait", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
		wait *= 2
	}
}
