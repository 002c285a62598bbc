package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/guichetdigital/notification-service/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements NotificationStore on a pgx connection pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const notificationColumns = `
	id, type, channel, title, message, data, receiver_id,
	created_at, scheduled_for, sent_at, delivered_at, failed_at,
	retry_count, error_message, external_id, is_read`

func (s *PostgresStore) Create(ctx context.Context, n *models.Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("marshal notification data: %w", err)
	}
	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = s.db.Exec(ctx, query,
		n.ID, n.Type, n.Channel, n.Title, n.Message, data, n.ReceiverID,
		n.CreatedAt, n.ScheduledFor, n.SentAt, n.DeliveredAt, n.FailedAt,
		n.RetryCount, n.ErrorMessage, n.ExternalID, n.IsRead,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, n *models.Notification) error {
	query := `
		UPDATE notifications
		SET scheduled_for = $2, sent_at = $3, delivered_at = $4, failed_at = $5,
		    retry_count = $6, error_message = $7, external_id = $8, is_read = $9
		WHERE id = $1
	`
	ct, err := s.db.Exec(ctx, query,
		n.ID, n.ScheduledFor, n.SentAt, n.DeliveredAt, n.FailedAt,
		n.RetryCount, n.ErrorMessage, n.ExternalID, n.IsRead,
	)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("notification %s not found", n.ID)
	}
	return nil
}

// buildWhere translates a Filter into a WHERE clause with $n placeholders.
func buildWhere(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ID != "" {
		add("id = $%d", f.ID)
	}
	if f.ReceiverID != "" {
		add("receiver_id = $%d", f.ReceiverID)
	}
	if f.FailedOnly {
		conds = append(conds, "failed_at IS NOT NULL")
	}
	if f.MaxRetryCount > 0 {
		add("retry_count < $%d", f.MaxRetryCount)
	}
	if f.OnlyRead {
		conds = append(conds, "is_read = true")
	}
	if f.CreatedAfter != nil {
		add("created_at >= $%d", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		add("created_at < $%d", *f.CreatedBefore)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *PostgresStore) Find(ctx context.Context, f Filter) ([]*models.Notification, error) {
	where, args := buildWhere(f)
	query := `SELECT ` + notificationColumns + ` FROM notifications` + where + ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		var data []byte
		if err := rows.Scan(
			&n.ID, &n.Type, &n.Channel, &n.Title, &n.Message, &data, &n.ReceiverID,
			&n.CreatedAt, &n.ScheduledFor, &n.SentAt, &n.DeliveredAt, &n.FailedAt,
			&n.RetryCount, &n.ErrorMessage, &n.ExternalID, &n.IsRead,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, fmt.Errorf("unmarshal notification data: %w", err)
			}
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, f Filter) (int64, error) {
	where, args := buildWhere(f)
	ct, err := s.db.Exec(ctx, "DELETE FROM notifications"+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete notifications: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, email, phone, first_name, last_name, notification_preferences
		FROM users
		WHERE id = $1
	`
	var u models.User
	var prefs []byte
	err := s.db.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.Email, &u.Phone, &u.FirstName, &u.LastName, &prefs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrRecipientNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &u.Preferences); err != nil {
			return nil, fmt.Errorf("unmarshal preferences: %w", err)
		}
	}
	return &u, nil
}

func (s *PostgresStore) Stats(ctx context.Context, start, end time.Time) (*models.StatsReport, error) {
	report := &models.StatsReport{StartDate: start, EndDate: end}

	groupQuery := `
		SELECT type, channel, COUNT(*), COALESCE(SUM(retry_count), 0)
		FROM notifications
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY type, channel
		ORDER BY type, channel
	`
	rows, err := s.db.Query(ctx, groupQuery, start, end)
	if err != nil {
		return nil, fmt.Errorf("query stats groups: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var g models.ChannelStat
		if err := rows.Scan(&g.Type, &g.Channel, &g.Count, &g.RetrySum); err != nil {
			return nil, fmt.Errorf("scan stats group: %w", err)
		}
		report.ByGroup = append(report.ByGroup, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalsQuery := `
		SELECT
			COUNT(*) FILTER (WHERE delivered_at IS NOT NULL),
			COUNT(*) FILTER (WHERE failed_at IS NOT NULL)
		FROM notifications
		WHERE created_at >= $1 AND created_at < $2
	`
	if err := s.db.QueryRow(ctx, totalsQuery, start, end).Scan(&report.Delivered, &report.Failed); err != nil {
		return nil, fmt.Errorf("query stats totals: %w", err)
	}
	return report, nil
}
