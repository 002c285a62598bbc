package providers

import (
	"context"
	"time"

	"github.com/guichetdigital/notification-service/internal/models"
)

// Message is the rendered, channel-agnostic payload handed to an adapter.
// Which fields matter depends on the channel: email uses To/Subject/Body,
// SMS and WhatsApp use To/Body (and MediaURL), push uses UserID/Title/Body.
type Message struct {
	To       string
	UserID   string
	Subject  string
	Title    string
	Body     string
	MediaURL string
	Data     map[string]string
}

// DispatchResult is the uniform outcome of one delivery attempt. Adapters
// report failures as values so the orchestrator updates persisted state the
// same way whatever the cause.
type DispatchResult struct {
	Success   bool
	MessageID string
	Error     string
}

func failure(reason string) DispatchResult {
	return DispatchResult{Success: false, Error: reason}
}

// Sender is the single-channel send contract every adapter implements.
type Sender interface {
	Channel() models.Channel
	Send(ctx context.Context, msg *Message) DispatchResult
}

// defaultBatchSize and defaultBatchPause bound bulk sends so a burst does
// not trip provider rate limits.
const (
	defaultBatchSize  = 50
	defaultBatchPause = 500 * time.Millisecond
)

// sendBatched fans msgs out through send in fixed-size batches with a pause
// between batches. Results come back in input order.
func sendBatched(ctx context.Context, msgs []*Message, send func(context.Context, *Message) DispatchResult) []DispatchResult {
	results := make([]DispatchResult, len(msgs))
	for start := 0; start < len(msgs); start += defaultBatchSize {
		end := start + defaultBatchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		for i := start; i < end; i++ {
			results[i] = send(ctx, msgs[i])
		}
		if end < len(msgs) {
			select {
			case <-ctx.Done():
				for i := end; i < len(msgs); i++ {
					results[i] = failure(ctx.Err().Error())
				}
				return results
			case <-time.After(defaultBatchPause):
			}
		}
	}
	return results
}
