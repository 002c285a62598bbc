package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guichetdigital/notification-service/internal/models"
	"github.com/guichetdigital/notification-service/internal/preference"
	"github.com/guichetdigital/notification-service/internal/providers"
	"github.com/guichetdigital/notification-service/internal/queue"
	"github.com/guichetdigital/notification-service/internal/store"
	"github.com/guichetdigital/notification-service/internal/template"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrDuplicateRequest signals that a send with the same request id was
// already processed inside the idempotency window.
var ErrDuplicateRequest = errors.New("notification request already processed")

const (
	maxRetries     = 3
	retryWindow    = 24 * time.Hour
	bulkBatchSize  = 100
	bulkBatchPause = time.Second
	defaultDays    = 90
)

// Orchestrator is the notification dispatch core: it resolves recipients,
// selects channels, renders content, persists per-channel records and drives
// the provider adapters.
type Orchestrator struct {
	store      store.NotificationStore
	senders    map[models.Channel]providers.Sender
	scheduler  queue.Scheduler
	rdb        *redis.Client
	log        *zap.Logger
	now        func() time.Time
	batchPause time.Duration
}

func NewOrchestrator(
	st store.NotificationStore,
	senders []providers.Sender,
	scheduler queue.Scheduler,
	rdb *redis.Client,
	log *zap.Logger,
) *Orchestrator {
	byChannel := make(map[models.Channel]providers.Sender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}
	return &Orchestrator{
		store:      st,
		senders:    byChannel,
		scheduler:  scheduler,
		rdb:        rdb,
		log:        log,
		now:        time.Now,
		batchPause: bulkBatchPause,
	}
}

// Send resolves the recipient, fans the payload out into one record per
// active channel and dispatches each record unless quiet hours defer it.
// Returned records reflect post-dispatch state when dispatch ran inline.
func (o *Orchestrator) Send(ctx context.Context, payload *models.NotificationPayload) ([]*models.Notification, error) {
	if payload.RequestID != "" {
		duplicate, err := o.checkIdempotency(ctx, payload.RequestID)
		if err != nil {
			o.log.Warn("idempotency check failed", zap.Error(err))
		} else if duplicate {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, payload.RequestID)
		}
	}

	user, err := o.store.GetUser(ctx, payload.RecipientID)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.Resolve(payload.Type)
	if err != nil {
		return nil, err
	}

	candidates := payload.Channels
	if len(candidates) == 0 {
		candidates = tmpl.Channels
	}
	active := preference.ActiveChannels(candidates, user.Preferences)

	now := o.now()
	scheduledFor := payload.ScheduledFor
	if scheduledFor == nil &&
		payload.Priority != models.PriorityUrgent &&
		preference.IsQuietHours(user.Preferences, now) {
		next := preference.NextAvailableTime(user.Preferences, now)
		scheduledFor = &next
	}

	vars := map[string]string{"firstName": user.FirstName}
	for k, v := range payload.Data {
		vars[k] = v
	}
	message := template.Render(tmpl, vars)
	title := payload.Title
	if title == "" {
		title = template.RenderSubject(tmpl, vars)
	}

	records := make([]*models.Notification, 0, len(active))
	for _, ch := range active {
		n := &models.Notification{
			ID:           uuid.New().String(),
			Type:         payload.Type,
			Channel:      ch,
			Title:        title,
			Message:      message,
			Data:         payload.Data,
			ReceiverID:   user.ID,
			CreatedAt:    now,
			ScheduledFor: scheduledFor,
		}
		if err := o.store.Create(ctx, n); err != nil {
			return records, fmt.Errorf("persist notification: %w", err)
		}
		records = append(records, n)
	}

	if scheduledFor != nil && scheduledFor.After(now) {
		o.enqueueScheduled(ctx, records, *scheduledFor)
		return records, nil
	}

	for _, n := range records {
		if err := o.dispatchOne(ctx, n, user); err != nil {
			return records, err
		}
	}
	return records, nil
}

// enqueueScheduled hands deferred records to the scheduler queue. Without a
// scheduler the rows simply stay pending until the next sweep.
func (o *Orchestrator) enqueueScheduled(ctx context.Context, records []*models.Notification, dueAt time.Time) {
	if o.scheduler == nil {
		return
	}
	for _, n := range records {
		msg := queue.ScheduledMessage{
			NotificationID: n.ID,
			ReceiverID:     n.ReceiverID,
			DueAt:          dueAt,
			PublishedAt:    o.now(),
		}
		if err := o.scheduler.PublishScheduled(ctx, msg); err != nil {
			o.log.Error("enqueue scheduled notification failed",
				zap.String("notification_id", n.ID), zap.Error(err))
		}
	}
}

// dispatchOne runs a single delivery attempt and records the outcome on the
// notification. The adapter never mutates the record itself.
func (o *Orchestrator) dispatchOne(ctx context.Context, n *models.Notification, user *models.User) error {
	now := o.now()

	// The persisted record is the in-app delivery, nothing to call out to.
	if n.Channel == models.ChannelInApp {
		return o.markDelivered(ctx, n, now, "")
	}

	sender, ok := o.senders[n.Channel]
	if !ok {
		return o.markFailed(ctx, n, now, fmt.Sprintf("no provider configured for channel %s", n.Channel))
	}

	msg := &providers.Message{
		UserID:  user.ID,
		Subject: n.Title,
		Title:   n.Title,
		Body:    n.Message,
		Data:    n.Data,
	}
	switch n.Channel {
	case models.ChannelEmail:
		msg.To = user.Email
	case models.ChannelSMS, models.ChannelWhatsApp:
		msg.To = user.Phone
		msg.MediaURL = n.Data["mediaUrl"]
	}

	res := sender.Send(ctx, msg)
	if !res.Success {
		return o.markFailed(ctx, n, now, res.Error)
	}
	return o.markDelivered(ctx, n, now, res.MessageID)
}

func (o *Orchestrator) markDelivered(ctx context.Context, n *models.Notification, now time.Time, externalID string) error {
	n.SentAt = &now
	n.DeliveredAt = &now
	n.FailedAt = nil
	n.ErrorMessage = ""
	n.ExternalID = externalID
	if err := o.store.Update(ctx, n); err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

func (o *Orchestrator) markFailed(ctx context.Context, n *models.Notification, now time.Time, reason string) error {
	n.SentAt = &now
	n.DeliveredAt = nil
	n.FailedAt = &now
	n.ErrorMessage = reason
	n.RetryCount++
	if err := o.store.Update(ctx, n); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return fmt.Errorf("dispatch %s to %s failed: %s", n.Channel, n.ReceiverID, reason)
}

// SendBulk fans one payload out to many recipients in batches of 100 with a
// pause between batches. Per-recipient failures are logged, never raised, so
// one bad recipient cannot abort the run.
func (o *Orchestrator) SendBulk(ctx context.Context, recipientIDs []string, payload *models.NotificationPayload) {
	for start := 0; start < len(recipientIDs); start += bulkBatchSize {
		end := start + bulkBatchSize
		if end > len(recipientIDs) {
			end = len(recipientIDs)
		}

		var wg sync.WaitGroup
		for _, id := range recipientIDs[start:end] {
			wg.Add(1)
			go func(recipientID string) {
				defer wg.Done()
				p := *payload
				p.RecipientID = recipientID
				p.RequestID = ""
				if _, err := o.Send(ctx, &p); err != nil {
					o.log.Error("bulk send failed for recipient",
						zap.String("recipient_id", recipientID), zap.Error(err))
				}
			}(id)
		}
		wg.Wait()

		if end < len(recipientIDs) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.batchPause):
			}
		}
	}
}

// RetryFailed sweeps recent failed notifications that still have retry
// budget and re-attempts each. Best effort: failures are logged only.
func (o *Orchestrator) RetryFailed(ctx context.Context) {
	cutoff := o.now().Add(-retryWindow)
	failed, err := o.store.Find(ctx, store.Filter{
		FailedOnly:    true,
		MaxRetryCount: maxRetries,
		CreatedAfter:  &cutoff,
	})
	if err != nil {
		o.log.Error("load failed notifications", zap.Error(err))
		return
	}

	for _, n := range failed {
		user, err := o.store.GetUser(ctx, n.ReceiverID)
		if err != nil {
			o.log.Error("retry skipped, recipient lookup failed",
				zap.String("notification_id", n.ID), zap.Error(err))
			continue
		}
		if err := o.dispatchOne(ctx, n, user); err != nil {
			o.log.Warn("retry attempt failed",
				zap.String("notification_id", n.ID),
				zap.Int("retry_count", n.RetryCount),
				zap.Error(err))
		}
	}
}

// DispatchScheduled is the scheduler-queue handler: it re-loads a deferred
// record and runs the normal dispatch path once its due time has passed.
func (o *Orchestrator) DispatchScheduled(ctx context.Context, msg queue.ScheduledMessage) error {
	found, err := o.store.Find(ctx, store.Filter{ID: msg.NotificationID})
	if err != nil {
		return fmt.Errorf("load scheduled notification: %w", err)
	}
	if len(found) == 0 {
		o.log.Warn("scheduled notification vanished", zap.String("notification_id", msg.NotificationID))
		return nil
	}
	n := found[0]
	if n.DeliveredAt != nil || n.FailedAt != nil {
		return nil
	}
	user, err := o.store.GetUser(ctx, n.ReceiverID)
	if err != nil {
		return err
	}
	return o.dispatchOne(ctx, n, user)
}

// GetStats aggregates the window grouped by (type, channel) and reports the
// delivery rate. A window with no terminal notifications has a nil rate.
func (o *Orchestrator) GetStats(ctx context.Context, start, end time.Time) (*models.StatsReport, error) {
	report, err := o.store.Stats(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if total := report.Delivered + report.Failed; total > 0 {
		rate := float64(report.Delivered) / float64(total) * 100
		report.DeliveryRate = &rate
	}
	return report, nil
}

// Cleanup purges read notifications older than the retention cutoff. Unread
// records are kept whatever their age.
func (o *Orchestrator) Cleanup(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep <= 0 {
		daysToKeep = defaultDays
	}
	cutoff := o.now().AddDate(0, 0, -daysToKeep)
	deleted, err := o.store.Delete(ctx, store.Filter{
		OnlyRead:      true,
		CreatedBefore: &cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup notifications: %w", err)
	}
	o.log.Info("notification cleanup done",
		zap.Int("days_to_keep", daysToKeep), zap.Int64("deleted", deleted))
	return deleted, nil
}

// checkIdempotency claims the request key in redis for 24h. A key that is
// already claimed means a duplicate request.
func (o *Orchestrator) checkIdempotency(ctx context.Context, requestID string) (bool, error) {
	if o.rdb == nil {
		return false, nil
	}
	key := fmt.Sprintf("notification:idempotency:%s", requestID)
	claimed, err := o.rdb.SetNX(ctx, key, "processing", 24*time.Hour).Result()
	if err != nil {
		return false, err
	}
	return !claimed, nil
}
