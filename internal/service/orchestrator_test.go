package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/guichetdigital/notification-service/internal/models"
	"github.com/guichetdigital/notification-service/internal/providers"
	"github.com/guichetdigital/notification-service/internal/queue"
	"github.com/guichetdigital/notification-service/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore is an in-memory NotificationStore for orchestrator tests.
type memStore struct {
	mu            sync.Mutex
	notifications map[string]*models.Notification
	users         map[string]*models.User
}

func newMemStore(users ...*models.User) *memStore {
	s := &memStore{
		notifications: make(map[string]*models.Notification),
		users:         make(map[string]*models.User),
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memStore) Create(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.notifications[n.ID] = &cp
	return nil
}

func (s *memStore) Update(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[n.ID]; !ok {
		return fmt.Errorf("notification %s not found", n.ID)
	}
	cp := *n
	s.notifications[n.ID] = &cp
	return nil
}

func matches(n *models.Notification, f store.Filter) bool {
	if f.ID != "" && n.ID != f.ID {
		return false
	}
	if f.ReceiverID != "" && n.ReceiverID != f.ReceiverID {
		return false
	}
	if f.FailedOnly && n.FailedAt == nil {
		return false
	}
	if f.MaxRetryCount > 0 && n.RetryCount >= f.MaxRetryCount {
		return false
	}
	if f.OnlyRead && !n.IsRead {
		return false
	}
	if f.CreatedAfter != nil && n.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !n.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

func (s *memStore) Find(_ context.Context, f store.Filter) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Notification
	for _, n := range s.notifications {
		if matches(n, f) {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, f store.Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, n := range s.notifications {
		if matches(n, f) {
			delete(s.notifications, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrRecipientNotFound, id)
	}
	return u, nil
}

func (s *memStore) Stats(_ context.Context, start, end time.Time) (*models.StatsReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report := &models.StatsReport{StartDate: start, EndDate: end}
	for _, n := range s.notifications {
		if n.CreatedAt.Before(start) || !n.CreatedAt.Before(end) {
			continue
		}
		if n.DeliveredAt != nil {
			report.Delivered++
		}
		if n.FailedAt != nil {
			report.Failed++
		}
	}
	return report, nil
}

func (s *memStore) get(id string) *models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifications[id]
}

// stubSender is a scripted provider adapter.
type stubSender struct {
	mu      sync.Mutex
	channel models.Channel
	result  providers.DispatchResult
	calls   []*providers.Message
}

func newStubSender(ch models.Channel) *stubSender {
	return &stubSender{
		channel: ch,
		result:  providers.DispatchResult{Success: true, MessageID: "ext-1"},
	}
}

func (s *stubSender) Channel() models.Channel { return s.channel }

func (s *stubSender) Send(_ context.Context, msg *providers.Message) providers.DispatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, msg)
	return s.result
}

func (s *stubSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// stubScheduler records published scheduled messages.
type stubScheduler struct {
	mu       sync.Mutex
	messages []queue.ScheduledMessage
}

func (s *stubScheduler) PublishScheduled(_ context.Context, msg queue.ScheduledMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *stubScheduler) IsConnected() bool { return true }

func boolPtr(b bool) *bool { return &b }

func jean() *models.User {
	return &models.User{
		ID:        "u1",
		Email:     "jean@example.sn",
		Phone:     "771234567",
		FirstName: "Jean",
	}
}

type fixture struct {
	orch      *Orchestrator
	store     *memStore
	scheduler *stubScheduler
	senders   map[models.Channel]*stubSender
}

func newFixture(t *testing.T, users ...*models.User) *fixture {
	t.Helper()
	st := newMemStore(users...)
	stubs := map[models.Channel]*stubSender{
		models.ChannelEmail:    newStubSender(models.ChannelEmail),
		models.ChannelSMS:      newStubSender(models.ChannelSMS),
		models.ChannelWhatsApp: newStubSender(models.ChannelWhatsApp),
		models.ChannelPush:     newStubSender(models.ChannelPush),
	}
	senders := make([]providers.Sender, 0, len(stubs))
	for _, s := range stubs {
		senders = append(senders, s)
	}
	sched := &stubScheduler{}
	orch := NewOrchestrator(st, senders, sched, nil, zap.NewNop())
	orch.batchPause = time.Millisecond
	return &fixture{orch: orch, store: st, scheduler: sched, senders: stubs}
}

func TestSend_FanOutAndRender(t *testing.T) {
	f := newFixture(t, jean())
	f.orch.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }

	records, err := f.orch.Send(context.Background(), &models.NotificationPayload{
		Type:        models.TypeDemandeRecue,
		RecipientID: "u1",
		Title:       "T",
		Message:     "ignored-by-template",
		Data:        map[string]string{"trackingNumber": "DEM-001"},
	})
	require.NoError(t, err)
	require.Len(t, records, 3)

	channels := []models.Channel{records[0].Channel, records[1].Channel, records[2].Channel}
	assert.Equal(t, []models.Channel{
		models.ChannelEmail, models.ChannelSMS, models.ChannelInApp,
	}, channels)

	for _, n := range records {
		assert.Equal(t,
			"Bonjour Jean, votre demande DEM-001 a été reçue et sera traitée dans les meilleurs délais.",
			n.Message)
		assert.Equal(t, "T", n.Title)
		assert.NotNil(t, n.DeliveredAt)
		assert.Nil(t, n.FailedAt)
	}

	assert.Equal(t, 1, f.senders[models.ChannelEmail].callCount())
	assert.Equal(t, 1, f.senders[models.ChannelSMS].callCount())
}

func TestSend_RecipientNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Send(context.Background(), &models.NotificationPayload{
		Type:        models.TypeDemandeRecue,
		RecipientID: "ghost",
	})
	assert.ErrorIs(t, err, models.ErrRecipientNotFound)
}

func TestSend_UnknownType(t *testing.T) {
	f := newFixture(t, jean())
	_, err := f.orch.Send(context.Background(), &models.NotificationPayload{
		Type:        models.NotificationType("NOPE"),
		RecipientID: "u1",
	})
	assert.ErrorIs(t, err, models.ErrUnknownType)
}

func TestSend_PreferenceFiltering(t *testing.T) {
	user := jean()
	user.Preferences = &models.NotificationPreferences{SMS: boolPtr(false)}
	f := newFixture(t, user)

	records, err := f.orch.Send(context.Background(), &models.NotificationPayload{
		Type:        models.TypeDemandeRecue,
		RecipientID: "u1",
		Data:        map[string]string{"trackingNumber": "DEM-002"},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, n := range records {
		assert.NotEqual(t, models.ChannelSMS, n.Channel)
	}
	assert.Zero(t, f.senders[models.ChannelSMS].callCount())
}

func TestSend_ChannelOverride(t *testing.T) {
	f := newFixture(t, jean())
	records, err := f.orch.Send(context.Background(), &models.NotificationPayload{
		Type:        models.TypeDemandeRecue,
		RecipientID: "u1",
		Channels:    []models.Channel{models.ChannelEmail},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.ChannelEmail, records[0].Channel)
}

func TestSend_QuietHoursDefersNonUrgent(t *testing.T) {
	user := jean()
	user.Preferences = &models.NotificationPreferences{
		QuietHours: &models.QuietHours{Start: "22:00", End: "08:00"},
	}
	f := newFixture(t, user)
	now := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	f.orch.now = func() time.Time { return now }

	records, err := f.orch.Send(context.Background(), &models.NotificationPayload{
		Type:        models.TypeDemandeRecue,
		RecipientID: "u1",
		Priority:    models.PriorityNormal,
		Data:        map[string]string{"trackingNumber": "DEM-003"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, records)

	wantDue := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	for _, n := range records {
		require.NotNil(t, n.ScheduledFor)
		assert.Equal(t, wantDue, *n.ScheduledFor)
		assert.Nil(t, n.DeliveredAt)
		assert.Nil(t, n.FailedAt)
	}
	// nothing dispatched inline, everything handed to the scheduler
	assert.Zero(t, f.senders[models.ChannelEmail].callCount())
	assert.Len(t, f.scheduler.messages, len(records))
}

func TestSend_UrgentBypassesQuietHours(t *testing.T) {
	user := jean()
	user.Preferences = &models.NotificationPreferences{
		QuietHours: &models.QuietHours{Start: "22:00", End: "08:00"},
	}
	f := newFixture(t, user)
	f.orch.now = func() time.Time { return time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC) }

	records, err := f.orch.Send(context.Background(), &models.NotificationPayload{
		Type:        models.TypeDemandeRecue,
		RecipientID: "u1",
		Priority:    models.PriorityUrgent,
		Data:        map[string]string{"trackingNumber": "DEM-004"},
	})
	require.NoError(t, err)
	for _, n := range records {
		assert.Nil(t, n.ScheduledFor)
		assert.NotNil(t, n.DeliveredAt)
	}
	assert.Empty(t, f.scheduler.messages)
}

func TestSend_DispatchFailureRecordsStateAndPropagates(t *testing.T) {
	f := newFixture(t, jean())
	f.senders[models.ChannelEmail].result = providers.DispatchResult{
		Success: false, Error: "provider unavailable",
	}

	records, err := f.orch.Send(context.Background(), &models.NotificationPayload{
		Type:        models.TypeDemandeRecue,
		RecipientID: "u1",
		Channels:    []models.Channel{models.ChannelEmail},
	})
	require.Error(t, err)
	require.Len(t, records, 1)

	n := records[0]
	assert.NotNil(t, n.FailedAt)
	assert.Nil(t, n.DeliveredAt)
	assert.Equal(t, 1, n.RetryCount)
	assert.Equal(t, "provider unavailable", n.ErrorMessage)

	// persisted state matches the returned record
	stored := f.store.get(n.ID)
	require.NotNil(t, stored)
	assert.NotNil(t, stored.FailedAt)
	assert.Nil(t, stored.DeliveredAt)
}

func TestSendBulk_ResilientToBadRecipients(t *testing.T) {
	f := newFixture(t, jean())

	f.orch.SendBulk(context.Background(), []string{"u1", "ghost"}, &models.NotificationPayload{
		Type: models.TypeDemandeRecue,
		Data: map[string]string{"trackingNumber": "DEM-005"},
	})

	forJean, err := f.store.Find(context.Background(), store.Filter{ReceiverID: "u1"})
	require.NoError(t, err)
	assert.NotEmpty(t, forJean)

	forGhost, err := f.store.Find(context.Background(), store.Filter{ReceiverID: "ghost"})
	require.NoError(t, err)
	assert.Empty(t, forGhost)
}

func TestRetryFailed_RespectsRetryBound(t *testing.T) {
	f := newFixture(t, jean())
	now := time.Now()
	failedAt := now.Add(-time.Hour)

	exhausted := &models.Notification{
		ID: "n-exhausted", Type: models.TypeDemandeRecue, Channel: models.ChannelEmail,
		ReceiverID: "u1", CreatedAt: now.Add(-2 * time.Hour),
		FailedAt: &failedAt, RetryCount: 3,
	}
	retryable := &models.Notification{
		ID: "n-retryable", Type: models.TypeDemandeRecue, Channel: models.ChannelEmail,
		ReceiverID: "u1", CreatedAt: now.Add(-2 * time.Hour),
		FailedAt: &failedAt, RetryCount: 1,
	}
	stale := &models.Notification{
		ID: "n-stale", Type: models.TypeDemandeRecue, Channel: models.ChannelEmail,
		ReceiverID: "u1", CreatedAt: now.Add(-48 * time.Hour),
		FailedAt: &failedAt, RetryCount: 1,
	}
	require.NoError(t, f.store.Create(context.Background(), exhausted))
	require.NoError(t, f.store.Create(context.Background(), retryable))
	require.NoError(t, f.store.Create(context.Background(), stale))

	f.orch.RetryFailed(context.Background())

	// only the recent record with retry budget was re-attempted
	assert.Equal(t, 1, f.senders[models.ChannelEmail].callCount())
	assert.NotNil(t, f.store.get("n-exhausted").FailedAt)
	assert.NotNil(t, f.store.get("n-stale").FailedAt)
}

func TestRetryFailed_SuccessClearsFailureState(t *testing.T) {
	f := newFixture(t, jean())
	now := time.Now()
	failedAt := now.Add(-time.Hour)
	n := &models.Notification{
		ID: "n-1", Type: models.TypeDemandeRecue, Channel: models.ChannelEmail,
		ReceiverID: "u1", CreatedAt: now.Add(-2 * time.Hour),
		FailedAt: &failedAt, ErrorMessage: "timeout", RetryCount: 1,
	}
	require.NoError(t, f.store.Create(context.Background(), n))

	f.orch.RetryFailed(context.Background())

	stored := f.store.get("n-1")
	assert.NotNil(t, stored.DeliveredAt)
	assert.Nil(t, stored.FailedAt)
	assert.Empty(t, stored.ErrorMessage)
	assert.Equal(t, 1, stored.RetryCount)
}

func TestCleanup_OnlyOldReadRecords(t *testing.T) {
	f := newFixture(t, jean())
	now := time.Now()
	mk := func(id string, ageDays int, read bool) *models.Notification {
		return &models.Notification{
			ID: id, Type: models.TypeDemandeRecue, Channel: models.ChannelInApp,
			ReceiverID: "u1", CreatedAt: now.AddDate(0, 0, -ageDays), IsRead: read,
		}
	}
	require.NoError(t, f.store.Create(context.Background(), mk("old-read", 100, true)))
	require.NoError(t, f.store.Create(context.Background(), mk("old-unread", 100, false)))
	require.NoError(t, f.store.Create(context.Background(), mk("fresh-read", 10, true)))

	deleted, err := f.orch.Cleanup(context.Background(), 90)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Nil(t, f.store.get("old-read"))
	assert.NotNil(t, f.store.get("old-unread"))
	assert.NotNil(t, f.store.get("fresh-read"))
}

func TestGetStats_DeliveryRate(t *testing.T) {
	f := newFixture(t, jean())
	now := time.Now()
	delivered := now.Add(-time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.Create(context.Background(), &models.Notification{
			ID: fmt.Sprintf("d-%d", i), Type: models.TypeDemandeRecue,
			Channel: models.ChannelEmail, ReceiverID: "u1",
			CreatedAt: now.Add(-time.Hour), DeliveredAt: &delivered,
		}))
	}
	require.NoError(t, f.store.Create(context.Background(), &models.Notification{
		ID: "f-1", Type: models.TypeDemandeRecue,
		Channel: models.ChannelEmail, ReceiverID: "u1",
		CreatedAt: now.Add(-time.Hour), FailedAt: &delivered,
	}))

	report, err := f.orch.GetStats(context.Background(), now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	require.NotNil(t, report.DeliveryRate)
	assert.InDelta(t, 75.0, *report.DeliveryRate, 0.001)
}

func TestGetStats_EmptyWindowHasNoRate(t *testing.T) {
	f := newFixture(t, jean())
	now := time.Now()
	report, err := f.orch.GetStats(context.Background(), now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	assert.Nil(t, report.DeliveryRate)
}

func TestSend_DuplicateRequestID(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	f := newFixture(t, jean())
	f.orch.rdb = rdb

	payload := &models.NotificationPayload{
		Type:        models.TypeDemandeRecue,
		RecipientID: "u1",
		RequestID:   "req-42",
		Data:        map[string]string{"trackingNumber": "DEM-006"},
	}
	_, err = f.orch.Send(context.Background(), payload)
	require.NoError(t, err)

	_, err = f.orch.Send(context.Background(), payload)
	assert.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestDispatchScheduled(t *testing.T) {
	f := newFixture(t, jean())
	due := time.Now().Add(-time.Minute)
	pending := &models.Notification{
		ID: "sched-1", Type: models.TypeDemandeRecue, Channel: models.ChannelEmail,
		ReceiverID: "u1", CreatedAt: time.Now().Add(-9 * time.Hour), ScheduledFor: &due,
	}
	require.NoError(t, f.store.Create(context.Background(), pending))

	err := f.orch.DispatchScheduled(context.Background(), queue.ScheduledMessage{
		NotificationID: "sched-1", ReceiverID: "u1", DueAt: due,
	})
	require.NoError(t, err)
	assert.NotNil(t, f.store.get("sched-1").DeliveredAt)

	// a second delivery of the same message is a no-op
	require.NoError(t, f.orch.DispatchScheduled(context.Background(), queue.ScheduledMessage{
		NotificationID: "sched-1", ReceiverID: "u1", DueAt: due,
	}))
	assert.Equal(t, 1, f.senders[models.ChannelEmail].callCount())
}
