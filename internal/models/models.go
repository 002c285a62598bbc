package models

import (
	"errors"
	"time"
)

// NotificationType identifies the business event behind a notification.
type NotificationType string

const (
	TypeDemandeRecue       NotificationType = "DEMANDE_RECUE"
	TypeDemandeAssignee    NotificationType = "DEMANDE_ASSIGNEE"
	TypeDemandeValidee     NotificationType = "DEMANDE_VALIDEE"
	TypeDocumentManquant   NotificationType = "DOCUMENT_MANQUANT"
	TypeDocumentPret       NotificationType = "DOCUMENT_PRET"
	TypeRdvConfirme        NotificationType = "RDV_CONFIRME"
	TypeRappelRdv          NotificationType = "RAPPEL_RDV"
	TypeStatutChange       NotificationType = "STATUT_CHANGE"
	TypeSystemAlert        NotificationType = "SYSTEM_ALERT"
	TypePaymentReceived    NotificationType = "PAYMENT_RECEIVED"
	TypeSignatureRequested NotificationType = "SIGNATURE_REQUESTED"
)

// Channel is one delivery medium. IN_APP needs no external provider, the
// persisted record itself is the delivery.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelPush     Channel = "PUSH"
	ChannelInApp    Channel = "IN_APP"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var (
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrUnknownType       = errors.New("unknown notification type")
)

// Notification is the persisted record for one (recipient, channel) delivery.
// A send fans out into one record per active channel.
//
// At most one of DeliveredAt/FailedAt is ever set; neither means the record
// is still pending or scheduled.
type Notification struct {
	ID           string            `json:"id"`
	Type         NotificationType  `json:"type"`
	Channel      Channel           `json:"channel"`
	Title        string            `json:"title"`
	Message      string            `json:"message"`
	Data         map[string]string `json:"data,omitempty"`
	ReceiverID   string            `json:"receiver_id"`
	CreatedAt    time.Time         `json:"created_at"`
	ScheduledFor *time.Time        `json:"scheduled_for,omitempty"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time        `json:"delivered_at,omitempty"`
	FailedAt     *time.Time        `json:"failed_at,omitempty"`
	RetryCount   int               `json:"retry_count"`
	ErrorMessage string            `json:"error_message,omitempty"`
	ExternalID   string            `json:"external_id,omitempty"`
	IsRead       bool              `json:"is_read"`
}

// NotificationPayload is a send request. Channels overrides the template's
// default channel list when present.
type NotificationPayload struct {
	Type         NotificationType  `json:"type" binding:"required"`
	RecipientID  string            `json:"recipient_id"`
	Title        string            `json:"title"`
	Message      string            `json:"message"`
	Data         map[string]string `json:"data,omitempty"`
	Channels     []Channel         `json:"channels,omitempty"`
	Priority     Priority          `json:"priority,omitempty"`
	ScheduledFor *time.Time        `json:"scheduled_for,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
}

// QuietHours is a daily recurring window, "HH:MM" local times. The window
// may wrap midnight (Start > End).
type QuietHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// NotificationPreferences holds per-channel opt-outs. A nil flag means the
// channel stays enabled; only an explicit false disables it.
type NotificationPreferences struct {
	Email      *bool       `json:"email,omitempty"`
	SMS        *bool       `json:"sms,omitempty"`
	WhatsApp   *bool       `json:"whatsapp,omitempty"`
	Push       *bool       `json:"push,omitempty"`
	InApp      *bool       `json:"in_app,omitempty"`
	QuietHours *QuietHours `json:"quiet_hours,omitempty"`
}

type User struct {
	ID          string                   `json:"id"`
	Email       string                   `json:"email"`
	Phone       string                   `json:"phone"`
	FirstName   string                   `json:"first_name"`
	LastName    string                   `json:"last_name"`
	Preferences *NotificationPreferences `json:"notification_preferences,omitempty"`
}

// Template is a static content pattern for one notification type.
type Template struct {
	ID        string
	Name      string
	Channels  []Channel
	Subject   string
	Content   string
	Variables []string
}

// ChannelStat aggregates one (type, channel) group inside a stats window.
type ChannelStat struct {
	Type     NotificationType `json:"type"`
	Channel  Channel          `json:"channel"`
	Count    int64            `json:"count"`
	RetrySum int64            `json:"retry_sum"`
}

// StatsReport summarizes deliveries inside a window. DeliveryRate is nil
// when the window holds no terminal notifications.
type StatsReport struct {
	StartDate    time.Time     `json:"start_date"`
	EndDate      time.Time     `json:"end_date"`
	ByGroup      []ChannelStat `json:"by_group"`
	Delivered    int64         `json:"delivered"`
	Failed       int64         `json:"failed"`
	DeliveryRate *float64      `json:"delivery_rate,omitempty"`
}

// APIResponse is the HTTP envelope used by every handler.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message"`
}
