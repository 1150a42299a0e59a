// services/attendance.go
package services

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"debate-tournament-system/models"
	"debate-tournament-system/utils"
)

// ParticipantLister is the slice of the conferencing provider the guard
// needs: who is inside a room right now.
type ParticipantLister interface {
	GetParticipants(ctx context.Context, roomID string) ([]Participant, error)
}

// AttendanceGuard polls room presence around a match's start time. Both
// players seen inside the room keeps the match alive; a player still absent
// when the grace period runs out gets the match canceled against them.
// Presence also counts as confirmation for a slot the buttons never moved
// out of scheduled, through the same conditional update the handshake uses.
type AttendanceGuard struct {
	DB       *gorm.DB
	Rooms    ParticipantLister
	Notifier NotificationSender

	PollInterval time.Duration
	GracePeriod  time.Duration
	Location     *time.Location

	// OnPresent fires once both players are in the room.
	OnPresent func(slotID uint)

	watchers *watcherSet

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewAttendanceGuard(db *gorm.DB, rooms ParticipantLister, notifier NotificationSender, pollInterval, gracePeriod time.Duration, loc *time.Location) *AttendanceGuard {
	return &AttendanceGuard{
		DB:           db,
		Rooms:        rooms,
		Notifier:     notifier,
		PollInterval: pollInterval,
		GracePeriod:  gracePeriod,
		Location:     loc,
		watchers:     newWatcherSet(),
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

// Watch arms presence polling for a slot. Idempotent: a slot already being
// watched keeps its existing watcher.
func (g *AttendanceGuard) Watch(slotID uint) {
	g.watchers.start(slotKey(slotID), false, func(ctx context.Context) {
		g.watch(ctx, slotID)
	})
}

// Cancel stops the watcher for a slot and waits for it to exit.
func (g *AttendanceGuard) Cancel(slotID uint) {
	g.watchers.cancel(slotKey(slotID))
}

// Shutdown stops every active watcher.
func (g *AttendanceGuard) Shutdown() {
	g.watchers.shutdown()
}

func (g *AttendanceGuard) watch(ctx context.Context, slotID uint) {
	slot, err := loadSlot(g.DB.WithContext(ctx), slotID)
	if err != nil {
		log.Printf("[Attendance] Failed to load slot %d: %v", slotID, err)
		return
	}
	if slot == nil || slot.Player1 == nil || slot.Player2 == nil || slot.Room == nil {
		return
	}

	if !g.sleep(ctx, slot.StartTime.Sub(g.now())) {
		return
	}

	deadline := slot.StartTime.Add(g.GracePeriod)
	roomID := RoomIDFromURL(slot.Room.URL)
	name1 := utils.NormalizeName(slot.Player1.FullName)
	name2 := utils.NormalizeName(slot.Player2.FullName)

	for {
		current, err := loadSlot(g.DB.WithContext(ctx), slotID)
		if err != nil {
			log.Printf("[Attendance] Failed to reload slot %d: %v", slotID, err)
			return
		}
		if current == nil || (current.Status != models.StatusScheduled && current.Status != models.StatusConfirmed) {
			return
		}

		participants, err := g.Rooms.GetParticipants(ctx, roomID)
		if err != nil {
			// a failed poll counts as nobody seen, the next tick retries
			log.Printf("[Attendance] Poll for slot %d failed: %v", slotID, err)
		}
		// each poll is its own snapshot: both players have to be in the
		// room at the same time
		p1Present, p2Present := false, false
		for _, p := range participants {
			n := utils.NormalizeName(p.Name)
			if utils.NamesMatch(n, name1) {
				p1Present = true
			}
			if utils.NamesMatch(n, name2) {
				p2Present = true
			}
		}

		if p1Present && p2Present {
			g.markPresent(ctx, slotID)
			return
		}
		if !g.now().Before(deadline) {
			g.handleNoShow(ctx, slotID, p1Present, p2Present)
			return
		}
		if !g.sleep(ctx, g.PollInterval) {
			return
		}
	}
}

// markPresent records both players as confirmed-by-presence and promotes a
// still-scheduled slot to confirmed. A slot already confirmed just gets its
// flags refreshed.
func (g *AttendanceGuard) markPresent(ctx context.Context, slotID uint) {
	err := g.DB.WithContext(ctx).
		Model(&models.Slot{}).
		Where("id = ? AND status IN ?", slotID, []models.MatchStatus{models.StatusScheduled, models.StatusConfirmed}).
		Updates(map[string]interface{}{
			"player1_confirmed": true,
			"player2_confirmed": true,
			"status":            models.StatusConfirmed,
		}).Error
	if err != nil {
		log.Printf("[Attendance] Failed to record presence for slot %d: %v", slotID, err)
		return
	}
	log.Printf("[Attendance] Both players present for slot %d", slotID)
	if g.OnPresent != nil {
		g.OnPresent(slotID)
	}
}

// handleNoShow cancels the match against the absent player(s): declines are
// counted, elimination applies in knockout slots, and whoever did show up is
// told the match is off.
func (g *AttendanceGuard) handleNoShow(ctx context.Context, slotID uint, p1Present, p2Present bool) {
	type absentee struct {
		player  *models.Player
		present *models.Player
	}
	var (
		notifyAbsent []absentee
		start        time.Time
		elimination  bool
	)

	err := g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slot, err := loadSlot(tx, slotID)
		if err != nil {
			return err
		}
		if slot == nil || (slot.Status != models.StatusScheduled && slot.Status != models.StatusConfirmed) {
			return nil
		}

		res := tx.Model(&models.Slot{}).
			Where("id = ? AND status IN ?", slotID, []models.MatchStatus{models.StatusScheduled, models.StatusConfirmed}).
			Updates(map[string]interface{}{
				"status":      models.StatusCanceled,
				"is_occupied": false,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		start = slot.StartTime
		elimination = slot.Elimination

		punish := func(p *models.Player, opponent *models.Player) error {
			updates := map[string]interface{}{
				"declines_count": gorm.Expr("declines_count + 1"),
			}
			if slot.Elimination {
				updates["eliminated"] = true
			}
			if err := tx.Model(&models.Player{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
				return err
			}
			notifyAbsent = append(notifyAbsent, absentee{player: p, present: opponent})
			return nil
		}

		if !p1Present && slot.Player1 != nil {
			var opp *models.Player
			if p2Present {
				opp = slot.Player2
			}
			if err := punish(slot.Player1, opp); err != nil {
				return err
			}
		}
		if !p2Present && slot.Player2 != nil {
			var opp *models.Player
			if p1Present {
				opp = slot.Player1
			}
			if err := punish(slot.Player2, opp); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[Attendance] No-show handling for slot %d failed: %v", slotID, err)
		return
	}
	if len(notifyAbsent) == 0 {
		return
	}

	log.Printf("[Attendance] Slot %d canceled, %d player(s) absent", slotID, len(notifyAbsent))
	for _, a := range notifyAbsent {
		consequence := ""
		if elimination {
			consequence = "You are eliminated from the tournament."
		}
		if err := g.Notifier.Notify(ctx, a.player.ChatID,
			msgMatchCanceled(start, g.Location, "you", "did not join the room in time", consequence)); err != nil {
			log.Printf("[Attendance] Failed to notify %s: %v", a.player.FullName, err)
		}
		if a.present != nil {
			if err := g.Notifier.Notify(ctx, a.present.ChatID, msgMissingOpponent(a.player.FullName)); err != nil {
				log.Printf("[Attendance] Failed to notify %s: %v", a.present.FullName, err)
			}
		}
	}
}
