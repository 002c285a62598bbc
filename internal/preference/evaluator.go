package preference

import (
	"time"

	"github.com/guichetdigital/notification-service/internal/models"
)

// ActiveChannels removes every channel the recipient has explicitly turned
// off. A nil preference set, or an unset flag, keeps the channel (fail-open).
func ActiveChannels(requested []models.Channel, prefs *models.NotificationPreferences) []models.Channel {
	if prefs == nil {
		return requested
	}
	out := make([]models.Channel, 0, len(requested))
	for _, ch := range requested {
		if disabled(ch, prefs) {
			continue
		}
		out = append(out, ch)
	}
	return out
}

func disabled(ch models.Channel, prefs *models.NotificationPreferences) bool {
	var flag *bool
	switch ch {
	case models.ChannelEmail:
		flag = prefs.Email
	case models.ChannelSMS:
		flag = prefs.SMS
	case models.ChannelWhatsApp:
		flag = prefs.WhatsApp
	case models.ChannelPush:
		flag = prefs.Push
	case models.ChannelInApp:
		flag = prefs.InApp
	}
	return flag != nil && !*flag
}

// IsQuietHours reports whether now falls inside the recipient's quiet-hours
// window. Windows may wrap midnight (start > end).
func IsQuietHours(prefs *models.NotificationPreferences, now time.Time) bool {
	if prefs == nil || prefs.QuietHours == nil {
		return false
	}
	start, okStart := parseClock(prefs.QuietHours.Start)
	end, okEnd := parseClock(prefs.QuietHours.End)
	if !okStart || !okEnd {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

// NextAvailableTime returns the next occurrence of the quiet-hours end time,
// or now unchanged when no quiet hours are configured.
func NextAvailableTime(prefs *models.NotificationPreferences, now time.Time) time.Time {
	if prefs == nil || prefs.QuietHours == nil {
		return now
	}
	end, ok := parseClock(prefs.QuietHours.End)
	if !ok {
		return now
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), end/60, end%60, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// parseClock turns "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
