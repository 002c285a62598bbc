package store

import (
	"context"
	"time"

	"github.com/guichetdigital/notification-service/internal/models"
)

// Filter narrows Find and Delete queries. Zero-valued fields are ignored.
type Filter struct {
	ID            string
	ReceiverID    string
	FailedOnly    bool
	MaxRetryCount int  // when > 0, keep rows with RetryCount below this bound
	OnlyRead      bool // keep rows the recipient has acknowledged
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// NotificationStore is the persistence boundary of the dispatch core.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	Update(ctx context.Context, n *models.Notification) error
	Find(ctx context.Context, f Filter) ([]*models.Notification, error)
	Delete(ctx context.Context, f Filter) (int64, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	Stats(ctx context.Context, start, end time.Time) (*models.StatsReport, error)
}
