package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"debate-tournament-system/models"
)

func newTestCoordinator(t *testing.T, db *gorm.DB, notifier NotificationSender) *ConfirmationCoordinator {
	t.Helper()
	dispatcher := NewCaseDispatcher(db, notifier, 7*time.Minute, 2*time.Minute)
	attendance := NewAttendanceGuard(db, fakeLister{}, notifier, time.Second, time.Second, time.UTC)
	c := NewConfirmationCoordinator(db, notifier, dispatcher, attendance, time.Minute, time.UTC)
	t.Cleanup(func() {
		c.Shutdown()
		dispatcher.Shutdown()
		attendance.Shutdown()
	})
	return c
}

func TestConfirmBothPlayersConfirmsMatch(t *testing.T) {
	db := newTestDB(t)
	notifier := &recordNotifier{}
	c := newTestCoordinator(t, db, notifier)

	p1 := seedPlayer(t, db, "Alice Cooper", 100)
	p2 := seedPlayer(t, db, "Bob Martin", 200)
	room := seedRoom(t, db, "Debate Room 1", "https://conf.example/r/abc")
	slot := seedPairedSlot(t, db, room, p1, p2, time.Now().UTC().Add(time.Hour), false)
	require.NoError(t, db.Create(&models.Case{
		Title:    "Salary negotiation",
		Content:  "Negotiate a raise.",
		Roles:    "**Employee**\n**Manager**",
		IsActive: true,
	}).Error)

	var confirmedHook []uint
	c.OnConfirmed = func(slotID uint) { confirmedHook = append(confirmedHook, slotID) }

	require.NoError(t, c.Confirm(context.Background(), slot.ID, p1.ID))

	var mid models.Slot
	require.NoError(t, db.First(&mid, slot.ID).Error)
	assert.True(t, mid.Player1Confirmed)
	assert.Equal(t, models.StatusScheduled, mid.Status)
	assert.Empty(t, confirmedHook)

	require.NoError(t, c.Confirm(context.Background(), slot.ID, p2.ID))

	var got models.Slot
	require.NoError(t, db.First(&got, slot.ID).Error)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.True(t, got.Player2Confirmed)
	require.NotNil(t, got.CaseID)
	assert.Contains(t, got.PersonalizedCase, "Alice Cooper")
	assert.Contains(t, got.PersonalizedCase, "Player 2")
	assert.Equal(t, []uint{slot.ID}, confirmedHook)

	var players []models.Player
	require.NoError(t, db.Order("id").Find(&players).Error)
	assert.Equal(t, 1, players[0].MatchesPlayed)
	assert.Equal(t, 1, players[1].MatchesPlayed)
	assert.Equal(t, 0, players[0].MatchesPlayedCycle)

	var usages int64
	require.NoError(t, db.Model(&models.CaseUsage{}).Count(&usages).Error)
	assert.EqualValues(t, 2, usages)
}

func TestDeclineCancelsAndEliminatesInKnockout(t *testing.T) {
	db := newTestDB(t)
	notifier := &recordNotifier{}
	c := newTestCoordinator(t, db, notifier)

	p1 := seedPlayer(t, db, "Alice Cooper", 100)
	p2 := seedPlayer(t, db, "Bob Martin", 200)
	room := seedRoom(t, db, "Debate Room 1", "https://conf.example/r/abc")
	slot := seedPairedSlot(t, db, room, p1, p2, time.Now().UTC().Add(time.Hour), true)

	var canceledHook []uint
	c.OnCanceled = func(slotID uint) { canceledHook = append(canceledHook, slotID) }

	require.NoError(t, c.Decline(context.Background(), slot.ID, p2.ID))

	var got models.Slot
	require.NoError(t, db.First(&got, slot.ID).Error)
	assert.Equal(t, models.StatusCanceled, got.Status)
	assert.Nil(t, got.Player1ID)
	assert.Nil(t, got.Player2ID)
	assert.False(t, got.IsOccupied)
	assert.Equal(t, []uint{slot.ID}, canceledHook)

	var decliner, opponent models.Player
	require.NoError(t, db.First(&decliner, p2.ID).Error)
	require.NoError(t, db.First(&opponent, p1.ID).Error)
	assert.True(t, decliner.Eliminated)
	assert.Equal(t, 1, decliner.DeclinesCount)
	assert.False(t, opponent.Eliminated)

	assert.Len(t, notifier.all(), 2)
}

func TestDeclineWithoutEliminationKeepsPlayer(t *testing.T) {
	db := newTestDB(t)
	c := newTestCoordinator(t, db, &recordNotifier{})

	p1 := seedPlayer(t, db, "Alice Cooper", 100)
	p2 := seedPlayer(t, db, "Bob Martin", 200)
	room := seedRoom(t, db, "Debate Room 1", "https://conf.example/r/abc")
	slot := seedPairedSlot(t, db, room, p1, p2, time.Now().UTC().Add(time.Hour), false)

	require.NoError(t, c.Decline(context.Background(), slot.ID, p1.ID))

	var decliner models.Player
	require.NoError(t, db.First(&decliner, p1.ID).Error)
	assert.False(t, decliner.Eliminated)
	assert.Equal(t, 1, decliner.DeclinesCount)
}

func TestLateConfirmAfterCancelIsNoOp(t *testing.T) {
	db := newTestDB(t)
	c := newTestCoordinator(t, db, &recordNotifier{})

	p1 := seedPlayer(t, db, "Alice Cooper", 100)
	p2 := seedPlayer(t, db, "Bob Martin", 200)
	room := seedRoom(t, db, "Debate Room 1", "https://conf.example/r/abc")
	slot := seedPairedSlot(t, db, room, p1, p2, time.Now().UTC().Add(time.Hour), false)

	require.NoError(t, c.Decline(context.Background(), slot.ID, p2.ID))
	require.NoError(t, c.Confirm(context.Background(), slot.ID, p1.ID))

	var got models.Slot
	require.NoError(t, db.First(&got, slot.ID).Error)
	assert.Equal(t, models.StatusCanceled, got.Status)
	assert.False(t, got.Player1Confirmed)

	var p models.Player
	require.NoError(t, db.First(&p, p1.ID).Error)
	assert.Zero(t, p.MatchesPlayed)
}

func TestAssignCasePrefersUnseen(t *testing.T) {
	db := newTestDB(t)
	c := newTestCoordinator(t, db, &recordNotifier{})

	p1 := seedPlayer(t, db, "Alice Cooper", 100)
	p2 := seedPlayer(t, db, "Bob Martin", 200)
	room := seedRoom(t, db, "Debate Room 1", "https://conf.example/r/abc")
	slot := seedPairedSlot(t, db, room, p1, p2, time.Now().UTC().Add(time.Hour), false)

	seen := models.Case{Title: "Seen", Content: "seen", IsActive: true}
	fresh := models.Case{Title: "Fresh", Content: "fresh", IsActive: true}
	require.NoError(t, db.Create(&seen).Error)
	require.NoError(t, db.Create(&fresh).Error)
	require.NoError(t, db.Create(&models.CaseUsage{PlayerID: p1.ID, CaseID: seen.ID, SlotID: slot.ID}).Error)

	loaded, err := loadSlot(db, slot.ID)
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		assigned, err := c.assignCase(tx, loaded)
		require.NoError(t, err)
		require.NotNil(t, assigned)
		assert.Equal(t, fresh.ID, assigned.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestInvitationTimeoutCancelsUnanswered(t *testing.T) {
	db := newTestDB(t)
	notifier := &recordNotifier{}
	c := newTestCoordinator(t, db, notifier)
	c.sleep = noSleep

	p1 := seedPlayer(t, db, "Alice Cooper", 100)
	p2 := seedPlayer(t, db, "Bob Martin", 200)
	room := seedRoom(t, db, "Debate Room 1", "https://conf.example/r/abc")
	slot := seedPairedSlot(t, db, room, p1, p2, time.Now().UTC().Add(time.Hour), false)

	// p1 answered, p2 never did
	require.NoError(t, c.Confirm(context.Background(), slot.ID, p1.ID))
	c.handleTimeout(context.Background(), slot.ID, p2.ID)

	var got models.Slot
	require.NoError(t, db.First(&got, slot.ID).Error)
	assert.Equal(t, models.StatusCanceled, got.Status)

	// an answered player's timeout does nothing
	slot2 := seedPairedSlot(t, db, room, p1, p2, time.Now().UTC().Add(2*time.Hour), false)
	require.NoError(t, c.Confirm(context.Background(), slot2.ID, p1.ID))
	c.handleTimeout(context.Background(), slot2.ID, p1.ID)

	got = models.Slot{}
	require.NoError(t, db.First(&got, slot2.ID).Error)
	assert.Equal(t, models.StatusScheduled, got.Status)
}
