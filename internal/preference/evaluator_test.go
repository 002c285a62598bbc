package preference

import (
	"testing"
	"time"

	"github.com/guichetdigital/notification-service/internal/models"
	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool { return &b }

func at(hour, minute int) time.Time {
	return time.Date(2026, time.March, 10, hour, minute, 0, 0, time.UTC)
}

func TestActiveChannels_NilPrefsReturnsInput(t *testing.T) {
	in := []models.Channel{models.ChannelEmail, models.ChannelSMS}
	out := ActiveChannels(in, nil)
	assert.Equal(t, in, out)
}

func TestActiveChannels_DropsOnlyExplicitlyDisabled(t *testing.T) {
	prefs := &models.NotificationPreferences{
		SMS:  boolPtr(false),
		Push: boolPtr(true),
		// email unset: stays enabled
	}
	in := []models.Channel{
		models.ChannelEmail, models.ChannelSMS, models.ChannelPush, models.ChannelInApp,
	}
	out := ActiveChannels(in, prefs)
	assert.Equal(t, []models.Channel{
		models.ChannelEmail, models.ChannelPush, models.ChannelInApp,
	}, out)
}

func TestActiveChannels_NeverAddsChannels(t *testing.T) {
	prefs := &models.NotificationPreferences{WhatsApp: boolPtr(true)}
	out := ActiveChannels([]models.Channel{models.ChannelEmail}, prefs)
	assert.Equal(t, []models.Channel{models.ChannelEmail}, out)
}

func TestIsQuietHours_WrapsMidnight(t *testing.T) {
	prefs := &models.NotificationPreferences{
		QuietHours: &models.QuietHours{Start: "22:00", End: "08:00"},
	}
	assert.True(t, IsQuietHours(prefs, at(23, 30)))
	assert.True(t, IsQuietHours(prefs, at(3, 0)))
	assert.False(t, IsQuietHours(prefs, at(12, 0)))
}

func TestIsQuietHours_SameDayWindow(t *testing.T) {
	prefs := &models.NotificationPreferences{
		QuietHours: &models.QuietHours{Start: "09:00", End: "17:00"},
	}
	assert.True(t, IsQuietHours(prefs, at(12, 0)))
	assert.False(t, IsQuietHours(prefs, at(20, 0)))
}

func TestIsQuietHours_Unconfigured(t *testing.T) {
	assert.False(t, IsQuietHours(nil, at(3, 0)))
	assert.False(t, IsQuietHours(&models.NotificationPreferences{}, at(3, 0)))
}

func TestIsQuietHours_MalformedWindowFailsOpen(t *testing.T) {
	prefs := &models.NotificationPreferences{
		QuietHours: &models.QuietHours{Start: "midnight", End: "08:00"},
	}
	assert.False(t, IsQuietHours(prefs, at(3, 0)))
}

func TestNextAvailableTime_EndLaterToday(t *testing.T) {
	prefs := &models.NotificationPreferences{
		QuietHours: &models.QuietHours{Start: "22:00", End: "08:00"},
	}
	now := at(3, 0)
	next := NextAvailableTime(prefs, now)
	assert.Equal(t, at(8, 0), next)
}

func TestNextAvailableTime_EndAlreadyPassedAdvancesToTomorrow(t *testing.T) {
	prefs := &models.NotificationPreferences{
		QuietHours: &models.QuietHours{Start: "22:00", End: "08:00"},
	}
	now := at(23, 30)
	next := NextAvailableTime(prefs, now)
	assert.Equal(t, at(8, 0).AddDate(0, 0, 1), next)
}

func TestNextAvailableTime_NoQuietHours(t *testing.T) {
	now := at(14, 0)
	assert.Equal(t, now, NextAvailableTime(nil, now))
}
