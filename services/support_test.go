package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"debate-tournament-system/models"
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

// recordNotifier captures outgoing messages instead of calling the gateway.
type recordNotifier struct {
	mu       sync.Mutex
	messages []string
	chats    []int64
}

func (r *recordNotifier) Notify(ctx context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
	r.chats = append(r.chats, chatID)
	return nil
}

func (r *recordNotifier) SendWithActions(ctx context.Context, chatID int64, text string, slotID uint) error {
	return r.Notify(ctx, chatID, fmt.Sprintf("[actions slot=%d] %s", slotID, text))
}

func (r *recordNotifier) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func seedPlayer(t *testing.T, db *gorm.DB, name string, chatID int64) *models.Player {
	t.Helper()
	p := &models.Player{
		ChatID:     chatID,
		FullName:   name,
		Registered: true,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func seedRoom(t *testing.T, db *gorm.DB, name, url string) *models.Room {
	t.Helper()
	r := &models.Room{Name: name, URL: url, IsActive: true}
	require.NoError(t, db.Create(r).Error)
	return r
}

func seedPairedSlot(t *testing.T, db *gorm.DB, room *models.Room, p1, p2 *models.Player, start time.Time, elimination bool) *models.Slot {
	t.Helper()
	s := &models.Slot{
		RoomID:      &room.ID,
		StartTime:   start,
		EndTime:     start.Add(22 * time.Minute),
		Player1ID:   &p1.ID,
		Player2ID:   &p2.ID,
		IsOccupied:  true,
		Status:      models.StatusScheduled,
		Elimination: elimination,
	}
	require.NoError(t, db.Create(s).Error)
	return s
}

// fakeLister serves canned room participants.
type fakeLister struct {
	fn  func() []Participant
	err error
}

func (f fakeLister) GetParticipants(ctx context.Context, roomID string) ([]Participant, error) {
	if f.fn == nil {
		return nil, f.err
	}
	return f.fn(), f.err
}

func noSleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	default:
		return true
	}
}
