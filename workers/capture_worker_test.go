package workers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"debate-tournament-system/models"
	"debate-tournament-system/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.Player{},
		&models.Room{},
		&models.Case{},
		&models.CaseUsage{},
		&models.Slot{},
	))
	return db
}

type stubNotifier struct {
	messages []string
}

func (s *stubNotifier) Notify(ctx context.Context, chatID int64, text string) error {
	s.messages = append(s.messages, text)
	return nil
}

func (s *stubNotifier) SendWithActions(ctx context.Context, chatID int64, text string, slotID uint) error {
	return s.Notify(ctx, chatID, text)
}

func TestBuildTranscriptFiltersWindowAndSpeakers(t *testing.T) {
	start := time.Date(2026, 8, 31, 17, 30, 0, 0, time.UTC)
	end := start.Add(6 * time.Minute)

	entries := []services.TranscriptEntry{
		{ParticipantName: "Bob Martin", Text: "counterpoint", CreatedAt: start.Add(2 * time.Minute)},
		{ParticipantName: "ALICE cooper", Text: "  opening statement ", CreatedAt: start.Add(time.Minute)},
		{ParticipantName: "Moderator Person", Text: "welcome", CreatedAt: start.Add(time.Minute)},
		{ParticipantName: "Alice Cooper", Text: "too early", CreatedAt: start.Add(-time.Minute)},
		{ParticipantName: "Bob Martin", Text: "too late", CreatedAt: end.Add(time.Minute)},
	}

	transcript, seen1, seen2 := buildTranscript(entries, "Alice Cooper", "Bob Martin", start, end)

	assert.True(t, seen1)
	assert.True(t, seen2)
	assert.Equal(t, "Alice Cooper: opening statement\nBob Martin: counterpoint", transcript)
}

func TestBuildTranscriptReportsMissingSpeaker(t *testing.T) {
	start := time.Date(2026, 8, 31, 17, 30, 0, 0, time.UTC)
	end := start.Add(6 * time.Minute)

	entries := []services.TranscriptEntry{
		{ParticipantName: "Alice Cooper", Text: "hello?", CreatedAt: start.Add(time.Minute)},
	}

	transcript, seen1, seen2 := buildTranscript(entries, "Alice Cooper", "Bob Martin", start, end)
	assert.True(t, seen1)
	assert.False(t, seen2)
	assert.Equal(t, "Alice Cooper: hello?", transcript)

	transcript, seen1, seen2 = buildTranscript(nil, "Alice Cooper", "Bob Martin", start, end)
	assert.Empty(t, transcript)
	assert.False(t, seen1)
	assert.False(t, seen2)
}

func seedConfirmedPair(t *testing.T, db *gorm.DB, elimination bool) (*models.Slot, *models.Player, *models.Player) {
	t.Helper()
	p1 := &models.Player{ChatID: 100, FullName: "Alice Cooper", Registered: true, MatchesPlayed: 1, MatchesPlayedCycle: 1}
	p2 := &models.Player{ChatID: 200, FullName: "Bob Martin", Registered: true, MatchesPlayed: 1, MatchesPlayedCycle: 1}
	require.NoError(t, db.Create(p1).Error)
	require.NoError(t, db.Create(p2).Error)
	room := &models.Room{Name: "Debate Room 1", URL: "https://conf.example/r/abc", IsActive: true}
	require.NoError(t, db.Create(room).Error)

	start := time.Now().UTC().Add(-30 * time.Minute)
	slot := &models.Slot{
		RoomID:      &room.ID,
		StartTime:   start,
		EndTime:     start.Add(22 * time.Minute),
		Player1ID:   &p1.ID,
		Player2ID:   &p2.ID,
		IsOccupied:  true,
		Status:      models.StatusConfirmed,
		Elimination: elimination,
	}
	require.NoError(t, db.Create(slot).Error)

	loaded, err := (&CaptureWorker{db: db}).loadSlot(context.Background(), slot.ID)
	require.NoError(t, err)
	return loaded, p1, p2
}

func TestCancelUnplayedRefundsCounters(t *testing.T) {
	db := newTestDB(t)
	notifier := &stubNotifier{}
	w := NewCaptureWorker(db, nil, notifier, nil, 14*time.Minute, 5*time.Minute, time.UTC)

	slot, p1, p2 := seedConfirmedPair(t, db, true)
	w.cancelUnplayed(context.Background(), slot)

	var got models.Slot
	require.NoError(t, db.First(&got, slot.ID).Error)
	assert.Equal(t, models.StatusCanceled, got.Status)
	assert.False(t, got.IsOccupied)

	var a, b models.Player
	require.NoError(t, db.First(&a, p1.ID).Error)
	require.NoError(t, db.First(&b, p2.ID).Error)
	assert.Zero(t, a.MatchesPlayed)
	assert.Zero(t, a.MatchesPlayedCycle)
	assert.Zero(t, b.MatchesPlayed)
	assert.False(t, a.Eliminated)
	assert.False(t, b.Eliminated)
	assert.Len(t, notifier.messages, 2)

	// a second call finds the slot already canceled and does nothing
	w.cancelUnplayed(context.Background(), slot)
	require.NoError(t, db.First(&a, p1.ID).Error)
	assert.Zero(t, a.MatchesPlayed)
}

func TestCancelAbsentAppliesNoShowRules(t *testing.T) {
	db := newTestDB(t)
	notifier := &stubNotifier{}
	w := NewCaptureWorker(db, nil, notifier, nil, 14*time.Minute, 5*time.Minute, time.UTC)

	slot, p1, p2 := seedConfirmedPair(t, db, true)
	w.cancelAbsent(context.Background(), slot, slot.Player2, slot.Player1)

	var got models.Slot
	require.NoError(t, db.First(&got, slot.ID).Error)
	assert.Equal(t, models.StatusCanceled, got.Status)

	var present, absent models.Player
	require.NoError(t, db.First(&present, p1.ID).Error)
	require.NoError(t, db.First(&absent, p2.ID).Error)
	assert.True(t, absent.Eliminated)
	assert.Equal(t, 1, absent.DeclinesCount)
	assert.False(t, present.Eliminated)
	assert.Equal(t, 1, present.MatchesPlayed)
	assert.Len(t, notifier.messages, 2)
}
