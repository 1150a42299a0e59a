// services/match_scheduler.go
package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"debate-tournament-system/config"
	"debate-tournament-system/models"
)

// RoomCreator is the slice of the conferencing provider the scheduler needs.
type RoomCreator interface {
	CreateRoom(ctx context.Context, title string) (*RoomInfo, error)
}

// MatchScheduler provisions rooms and slots for a tournament day and pairs
// eligible players into the free slots.
type MatchScheduler struct {
	DB    *gorm.DB
	Rooms RoomCreator

	RoomCount         int
	SlotStarts        []config.DayTime
	SlotDuration      time.Duration
	InvitationTimeout time.Duration
	Location          *time.Location

	// Elimination marks newly paired slots as knockout matches.
	Elimination bool

	// SendConfirmation fans the pairing out to the confirmation handshake.
	// Wired at boot; pairing still commits when it is nil.
	SendConfirmation func(ctx context.Context, slot *models.Slot, p1, p2 *models.Player)

	pause func(ctx context.Context, d time.Duration) bool
	now   func() time.Time
}

func NewMatchScheduler(db *gorm.DB, rooms RoomCreator, cfg *config.Config) *MatchScheduler {
	return &MatchScheduler{
		DB:                db,
		Rooms:             rooms,
		RoomCount:         cfg.DefaultRoomCount,
		SlotStarts:        cfg.SlotStarts,
		SlotDuration:      cfg.SlotDuration,
		InvitationTimeout: cfg.InvitationTimeout,
		Location:          cfg.Location,
		pause:             sleepCtx,
		now:               time.Now,
	}
}

// CreateRoomsAndSlots tops the room pool up to RoomCount and creates the
// day's slot grid: one slot per room per configured start time. Existing
// slots are left untouched, so the call is safe to repeat.
func (s *MatchScheduler) CreateRoomsAndSlots(ctx context.Context, day time.Time) error {
	var rooms []models.Room
	if err := s.DB.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&rooms).Error; err != nil {
		return fmt.Errorf("failed to load rooms: %w", err)
	}

	for i := len(rooms); i < s.RoomCount; i++ {
		name := fmt.Sprintf("Debate Room %d", i+1)
		info, err := s.Rooms.CreateRoom(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to provision room %q: %w", name, err)
		}
		room := models.Room{Name: name, URL: info.URL, IsActive: true}
		if err := s.DB.WithContext(ctx).Create(&room).Error; err != nil {
			return fmt.Errorf("failed to save room %q: %w", name, err)
		}
		rooms = append(rooms, room)
		log.Printf("[Scheduler] Provisioned room %q", name)
		// pause between provider calls to avoid tripping its rate limit
		if !s.pause(ctx, time.Second) {
			return ctx.Err()
		}
	}

	year, month, dayOfMonth := day.In(s.Location).Date()
	created := 0
	for _, room := range rooms {
		for _, at := range s.SlotStarts {
			start := time.Date(year, month, dayOfMonth, at.Hour, at.Minute, 0, 0, s.Location).UTC()
			var count int64
			if err := s.DB.WithContext(ctx).Model(&models.Slot{}).
				Where("room_id = ? AND start_time = ?", room.ID, start).
				Count(&count).Error; err != nil {
				return fmt.Errorf("failed to check slot existence: %w", err)
			}
			if count > 0 {
				continue
			}
			roomID := room.ID
			slot := models.Slot{
				RoomID:    &roomID,
				StartTime: start,
				EndTime:   start.Add(s.SlotDuration),
				Status:    models.StatusScheduled,
			}
			if err := s.DB.WithContext(ctx).Create(&slot).Error; err != nil {
				return fmt.Errorf("failed to create slot: %w", err)
			}
			created++
		}
	}
	if created > 0 {
		log.Printf("[Scheduler] Created %d slots for %s", created, day.In(s.Location).Format("02.01.2006"))
	}
	return nil
}

// SchedulePairings provisions the day's grid, then pairs eligible players
// into the earliest round's free slots in priority order and sends out
// confirmation requests. Returns how many matches were paired.
func (s *MatchScheduler) SchedulePairings(ctx context.Context, day time.Time) (int, error) {
	if err := s.CreateRoomsAndSlots(ctx, day); err != nil {
		return 0, err
	}

	dayStart := startOfDay(day, s.Location)
	dayEnd := dayStart.Add(24 * time.Hour)

	// canceled slots were freed by a decline or no-show and go back into the
	// pool; slots starting before the invitation could play out are skipped
	minStart := s.now().UTC().Add(s.InvitationTimeout)
	if minStart.Before(dayStart) {
		minStart = dayStart
	}
	var slots []models.Slot
	if err := s.DB.WithContext(ctx).
		Where("start_time >= ? AND start_time < ?", minStart, dayEnd).
		Where("is_occupied = ?", false).
		Order("start_time, room_id").
		Find(&slots).Error; err != nil {
		return 0, fmt.Errorf("failed to load free slots: %w", err)
	}
	if len(slots) == 0 {
		log.Printf("[Scheduler] No free slots for %s", day.In(s.Location).Format("02.01.2006"))
		return 0, nil
	}

	// this round is the earliest start time still open; later rounds get
	// their own pairing run
	round := slots[0].StartTime
	n := 0
	for n < len(slots) && slots[n].StartTime.Equal(round) {
		n++
	}
	slots = slots[:n]

	players, err := s.eligiblePlayers(ctx, dayStart, dayEnd)
	if err != nil {
		return 0, err
	}
	pairs := pairPlayers(players, len(slots))
	if len(pairs) == 0 {
		log.Printf("[Scheduler] Not enough eligible players to pair for %s", day.In(s.Location).Format("02.01.2006"))
		return 0, nil
	}

	paired := 0
	for i, pair := range pairs {
		slot := slots[i]
		res := s.DB.WithContext(ctx).Model(&models.Slot{}).
			Where("id = ? AND is_occupied = ?", slot.ID, false).
			Updates(map[string]interface{}{
				"player1_id":  pair[0].ID,
				"player2_id":  pair[1].ID,
				"is_occupied": true,
				"status":      models.StatusScheduled,
				"elimination": s.Elimination,
			})
		if res.Error != nil {
			return paired, fmt.Errorf("failed to assign slot %d: %w", slot.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			// somebody grabbed the slot since we listed it
			continue
		}
		paired++
		log.Printf("[Scheduler] Paired %s vs %s at %s", pair[0].FullName, pair[1].FullName,
			slot.StartTime.In(s.Location).Format("15:04"))
		if s.SendConfirmation != nil {
			p1, p2 := pair[0], pair[1]
			assigned := slot
			p1ID, p2ID := p1.ID, p2.ID
			assigned.Player1ID, assigned.Player2ID = &p1ID, &p2ID
			assigned.IsOccupied = true
			assigned.Status = models.StatusScheduled
			assigned.Elimination = s.Elimination
			s.SendConfirmation(ctx, &assigned, &p1, &p2)
		}
	}
	log.Printf("[Scheduler] Scheduled %d matches for %s", paired, day.In(s.Location).Format("02.01.2006"))
	return paired, nil
}

// eligiblePlayers returns registered, non-eliminated, reachable players who
// are not already booked that day, most-deserving first: fewest matches
// played, then fewest declines.
func (s *MatchScheduler) eligiblePlayers(ctx context.Context, dayStart, dayEnd time.Time) ([]models.Player, error) {
	booked := s.DB.Model(&models.Slot{}).
		Select("player1_id").
		Where("start_time >= ? AND start_time < ?", dayStart, dayEnd).
		Where("player1_id IS NOT NULL")
	booked2 := s.DB.Model(&models.Slot{}).
		Select("player2_id").
		Where("start_time >= ? AND start_time < ?", dayStart, dayEnd).
		Where("player2_id IS NOT NULL")

	var players []models.Player
	err := s.DB.WithContext(ctx).
		Where("registered = ? AND eliminated = ? AND chat_id <> 0", true, false).
		Where("id NOT IN (?) AND id NOT IN (?)", booked, booked2).
		Order("matches_played, declines_count, id").
		Find(&players).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load eligible players: %w", err)
	}
	return players, nil
}

// pairPlayers pairs adjacent players from an already prioritized list,
// stopping when players or slots run out.
func pairPlayers(players []models.Player, maxPairs int) [][2]models.Player {
	var pairs [][2]models.Player
	for i := 0; i+1 < len(players) && len(pairs) < maxPairs; i += 2 {
		pairs = append(pairs, [2]models.Player{players[i], players[i+1]})
	}
	return pairs
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	year, month, day := t.In(loc).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc).UTC()
}
