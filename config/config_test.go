package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/debate")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":5300", cfg.ListenAddr)
	assert.Equal(t, 10*time.Minute, cfg.InvitationTimeout)
	assert.Equal(t, 5*time.Minute, cfg.CaseReadTime)
	assert.Equal(t, 2*time.Minute, cfg.LinkFollowTime)
	assert.Equal(t, 7*time.Minute, cfg.DispatchLeadTime())
	assert.Equal(t, 30*time.Second, cfg.AttendancePollInterval)
	assert.Equal(t, 2*time.Minute, cfg.AttendanceGracePeriod)
	assert.Equal(t, time.Minute, cfg.RefreshCheckPeriod)
	assert.Equal(t, 8, cfg.DefaultRoomCount)
	assert.Equal(t, 20, cfg.ScheduleHourUTC)

	// slot duration = debate + analysis + slack
	assert.Equal(t, 6*time.Minute+14*time.Minute+2*time.Minute, cfg.SlotDuration)
	assert.Equal(t, []DayTime{{Hour: 17, Minute: 30}, {Hour: 17, Minute: 55}}, cfg.SlotStarts)
	assert.Equal(t, "Europe/Moscow", cfg.Location.String())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/debate")
	t.Setenv("INVITATION_TIMEOUT", "120")
	t.Setenv("SLOT_DURATION_MINUTES", "30")
	t.Setenv("SLOT_START_TIMES", "10:00, 12:15,18:45")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.InvitationTimeout)
	assert.Equal(t, 30*time.Minute, cfg.SlotDuration)
	assert.Equal(t, []DayTime{{10, 0}, {12, 15}, {18, 45}}, cfg.SlotStarts)
}

func TestLoadRejectsBadStartTimes(t *testing.T) {
	t.Setenv("SLOT_START_TIMES", "25:00")
	_, err := Load()
	assert.Error(t, err)
}

func TestParseDayTimes(t *testing.T) {
	_, err := ParseDayTimes("")
	assert.Error(t, err)

	_, err = ParseDayTimes("17-30")
	assert.Error(t, err)

	_, err = ParseDayTimes("17:61")
	assert.Error(t, err)

	got, err := ParseDayTimes(" 09:05 ,23:59")
	require.NoError(t, err)
	assert.Equal(t, []DayTime{{9, 5}, {23, 59}}, got)
}
