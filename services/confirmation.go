// services/confirmation.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"debate-tournament-system/models"
)

// ConfirmationCoordinator drives the two-party accept/decline handshake for a
// scheduled slot. Every state transition is a single conditional UPDATE
// filtered on the expected prior status; when RowsAffected comes back zero a
// concurrent event (late confirm vs timeout, explicit decline vs presence
// detection) already won and the handler backs off silently.
type ConfirmationCoordinator struct {
	DB         *gorm.DB
	Notifier   NotificationSender
	Dispatcher *CaseDispatcher
	Attendance *AttendanceGuard

	InvitationTimeout time.Duration
	Location          *time.Location

	// OnConfirmed fans out to concerns wired at boot (transcript capture).
	OnConfirmed func(slotID uint)
	// OnCanceled tears the same concerns down.
	OnCanceled func(slotID uint)

	timeouts *watcherSet
	sleep    func(ctx context.Context, d time.Duration) bool
}

func NewConfirmationCoordinator(db *gorm.DB, notifier NotificationSender, dispatcher *CaseDispatcher, attendance *AttendanceGuard, invitationTimeout time.Duration, loc *time.Location) *ConfirmationCoordinator {
	return &ConfirmationCoordinator{
		DB:                db,
		Notifier:          notifier,
		Dispatcher:        dispatcher,
		Attendance:        attendance,
		InvitationTimeout: invitationTimeout,
		Location:          loc,
		timeouts:          newWatcherSet(),
		sleep:             sleepCtx,
	}
}

func loadSlot(tx *gorm.DB, slotID uint) (*models.Slot, error) {
	var slot models.Slot
	err := tx.Preload("Player1").Preload("Player2").Preload("Room").Preload("Case").
		First(&slot, "id = ?", slotID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

// SendRequests delivers the confirmation prompt to both players (each sees
// the other as opponent) and arms one invitation-timeout watcher per player.
func (c *ConfirmationCoordinator) SendRequests(ctx context.Context, slot *models.Slot, p1, p2 *models.Player) {
	if err := c.Notifier.SendWithActions(ctx, p1.ChatID, msgMatchScheduled(p2.FullName, slot.StartTime, c.Location), slot.ID); err != nil {
		log.Printf("[Confirmation] Failed to send request to %s: %v", p1.FullName, err)
	}
	if err := c.Notifier.SendWithActions(ctx, p2.ChatID, msgMatchScheduled(p1.FullName, slot.StartTime, c.Location), slot.ID); err != nil {
		log.Printf("[Confirmation] Failed to send request to %s: %v", p2.FullName, err)
	}
	c.armTimeout(slot.ID, p1.ID)
	c.armTimeout(slot.ID, p2.ID)
	// delivery and attendance are armed right away: delivery re-checks the
	// slot at fire time, and showing up in the room counts as confirmation
	c.Dispatcher.Arm(slot.ID)
	c.Attendance.Watch(slot.ID)
}

func timeoutKey(slotID, playerID uint) string {
	return fmt.Sprintf("%d:%d", slotID, playerID)
}

func (c *ConfirmationCoordinator) armTimeout(slotID, playerID uint) {
	c.timeouts.start(timeoutKey(slotID, playerID), true, func(ctx context.Context) {
		if !c.sleep(ctx, c.InvitationTimeout) {
			return
		}
		c.handleTimeout(ctx, slotID, playerID)
	})
}

func (c *ConfirmationCoordinator) handleTimeout(ctx context.Context, slotID, playerID uint) {
	var pending bool
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slot, err := loadSlot(tx, slotID)
		if err != nil {
			return err
		}
		if slot == nil || slot.Status != models.StatusScheduled || !slot.IsPlayer(playerID) {
			return nil
		}
		confirmed := (slot.Player1ID != nil && *slot.Player1ID == playerID && slot.Player1Confirmed) ||
			(slot.Player2ID != nil && *slot.Player2ID == playerID && slot.Player2Confirmed)
		pending = !confirmed
		return nil
	})
	if err != nil {
		log.Printf("[Confirmation] Timeout check for slot %d failed: %v", slotID, err)
		return
	}
	if !pending {
		return
	}

	log.Printf("[Confirmation] Player %d did not answer for slot %d in time", playerID, slotID)
	if err := c.cancel(ctx, slotID, playerID, "did not confirm in time"); err != nil {
		log.Printf("[Confirmation] Timeout cancellation for slot %d failed: %v", slotID, err)
	}
}

// Confirm records one player's acceptance. When the second acceptance lands,
// the slot moves to confirmed, a case is assigned and personalized, and the
// delivery/attendance watchers are armed.
func (c *ConfirmationCoordinator) Confirm(ctx context.Context, slotID, playerID uint) error {
	var (
		confirmed *models.Slot
		opponent  *models.Player
		slotStart time.Time
	)

	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slot, err := loadSlot(tx, slotID)
		if err != nil {
			return err
		}
		if slot == nil {
			log.Printf("[Confirmation] Confirm for missing slot %d ignored", slotID)
			return nil
		}
		if slot.Status != models.StatusScheduled || !slot.IsPlayer(playerID) {
			// stale action or not this player's match
			return nil
		}

		column := "player1_confirmed"
		if slot.Player2ID != nil && *slot.Player2ID == playerID {
			column = "player2_confirmed"
		}
		res := tx.Model(&models.Slot{}).
			Where("id = ? AND status = ?", slotID, models.StatusScheduled).
			Update(column, true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if column == "player1_confirmed" {
			slot.Player1Confirmed = true
		} else {
			slot.Player2Confirmed = true
		}

		if !(slot.Player1Confirmed && slot.Player2Confirmed) {
			opponent = slot.OpponentOf(playerID)
			slotStart = slot.StartTime
			return nil
		}

		// Second acceptance: counters, case, state.
		counters := map[string]interface{}{
			"matches_played": gorm.Expr("matches_played + 1"),
		}
		if slot.Elimination {
			counters["matches_played_cycle"] = gorm.Expr("matches_played_cycle + 1")
		}
		if err := tx.Model(&models.Player{}).
			Where("id IN ?", []uint{*slot.Player1ID, *slot.Player2ID}).
			Updates(counters).Error; err != nil {
			return err
		}

		assigned, err := c.assignCase(tx, slot)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{"status": models.StatusConfirmed}
		if assigned != nil {
			personalized := PersonalizeCase(slot.Player1.FullName, slot.Player2.FullName, assigned.Content, assigned.Roles)
			updates["case_id"] = assigned.ID
			updates["personalized_case"] = personalized
			slot.CaseID = &assigned.ID
			slot.Case = assigned
			slot.PersonalizedCase = personalized
		} else {
			log.Printf("[Confirmation] No active case available for slot %d", slotID)
		}

		res = tx.Model(&models.Slot{}).
			Where("id = ? AND status = ?", slotID, models.StatusScheduled).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		slot.Status = models.StatusConfirmed
		confirmed = slot
		return nil
	})
	if err != nil {
		return err
	}

	switch {
	case confirmed != nil:
		c.cancelTimeouts(slotID)
		text := msgMatchConfirmed(confirmed, c.Location)
		if err := c.Notifier.Notify(ctx, confirmed.Player1.ChatID, text); err != nil {
			log.Printf("[Confirmation] Failed to notify %s: %v", confirmed.Player1.FullName, err)
		}
		if err := c.Notifier.Notify(ctx, confirmed.Player2.ChatID, text); err != nil {
			log.Printf("[Confirmation] Failed to notify %s: %v", confirmed.Player2.FullName, err)
		}
		c.Dispatcher.Arm(confirmed.ID)
		c.Attendance.Watch(confirmed.ID)
		if c.OnConfirmed != nil {
			c.OnConfirmed(confirmed.ID)
		}
	case opponent != nil:
		if err := c.Notifier.Notify(ctx, opponent.ChatID,
			msgOpponentUpdate(slotStart, c.Location, "Your opponent confirmed their participation.")); err != nil {
			log.Printf("[Confirmation] Failed to notify opponent: %v", err)
		}
	}
	return nil
}

// Decline cancels the pairing on behalf of a player.
func (c *ConfirmationCoordinator) Decline(ctx context.Context, slotID, playerID uint) error {
	return c.cancel(ctx, slotID, playerID, "declined the match")
}

// cancel moves a scheduled slot to canceled, frees it, eliminates the
// declining player when the slot runs in elimination mode, and notifies both
// sides. Re-entrant calls on a slot that already left scheduled are no-ops.
func (c *ConfirmationCoordinator) cancel(ctx context.Context, slotID, playerID uint, reason string) error {
	type outcome struct {
		start       time.Time
		elimination bool
		canceling   *models.Player
		remaining   *models.Player
	}
	var result *outcome

	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slot, err := loadSlot(tx, slotID)
		if err != nil {
			return err
		}
		if slot == nil || slot.Status != models.StatusScheduled || !slot.IsPlayer(playerID) {
			return nil
		}

		res := tx.Model(&models.Slot{}).
			Where("id = ? AND status = ?", slotID, models.StatusScheduled).
			Updates(map[string]interface{}{
				"status":            models.StatusCanceled,
				"player1_id":        nil,
				"player2_id":        nil,
				"player1_confirmed": false,
				"player2_confirmed": false,
				"is_occupied":       false,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		canceling := slot.Player1
		remaining := slot.Player2
		if slot.Player2ID != nil && *slot.Player2ID == playerID {
			canceling, remaining = slot.Player2, slot.Player1
		}

		if canceling != nil {
			updates := map[string]interface{}{
				"declines_count": gorm.Expr("declines_count + 1"),
			}
			if slot.Elimination {
				updates["eliminated"] = true
			}
			if err := tx.Model(&models.Player{}).Where("id = ?", canceling.ID).Updates(updates).Error; err != nil {
				return err
			}
		}

		result = &outcome{
			start:       slot.StartTime,
			elimination: slot.Elimination,
			canceling:   canceling,
			remaining:   remaining,
		}
		return nil
	})
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}

	// Stop every watcher before the slot can be re-paired.
	c.cancelTimeouts(slotID)
	c.Dispatcher.Cancel(slotID)
	c.Attendance.Cancel(slotID)
	if c.OnCanceled != nil {
		c.OnCanceled(slotID)
	}

	consequence := ""
	if result.elimination {
		consequence = "This participant is eliminated from the tournament."
	}
	if result.canceling != nil {
		if err := c.Notifier.Notify(ctx, result.canceling.ChatID,
			msgMatchCanceled(result.start, c.Location, result.canceling.FullName, reason, consequence)); err != nil {
			log.Printf("[Confirmation] Failed to notify %s: %v", result.canceling.FullName, err)
		}
	}
	if result.remaining != nil {
		who := "your opponent"
		if result.canceling != nil {
			who = "your opponent " + result.canceling.FullName
		}
		if err := c.Notifier.Notify(ctx, result.remaining.ChatID,
			msgMatchCanceled(result.start, c.Location, who, reason, consequence)); err != nil {
			log.Printf("[Confirmation] Failed to notify %s: %v", result.remaining.FullName, err)
		}
	}
	return nil
}

// assignCase picks an active case neither player has seen, falling back to
// any active case once both have seen everything, and records usage history.
func (c *ConfirmationCoordinator) assignCase(tx *gorm.DB, slot *models.Slot) (*models.Case, error) {
	seen := tx.Model(&models.CaseUsage{}).
		Select("case_id").
		Where("player_id IN ?", []uint{*slot.Player1ID, *slot.Player2ID})

	var selected models.Case
	err := tx.Where("is_active = ?", true).
		Where("id NOT IN (?)", seen).
		Order(randomOrder(tx)).
		First(&selected).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = tx.Where("is_active = ?", true).Order(randomOrder(tx)).First(&selected).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
	}
	if err != nil {
		return nil, err
	}

	usage := []models.CaseUsage{
		{PlayerID: *slot.Player1ID, CaseID: selected.ID, SlotID: slot.ID},
		{PlayerID: *slot.Player2ID, CaseID: selected.ID, SlotID: slot.ID},
	}
	if err := tx.Create(&usage).Error; err != nil {
		return nil, err
	}
	return &selected, nil
}

// randomOrder returns the dialect's random ordering expression; sqlite in
// tests spells it RANDOM() same as postgres.
func randomOrder(tx *gorm.DB) string {
	return "RANDOM()"
}

func (c *ConfirmationCoordinator) cancelTimeouts(slotID uint) {
	// Both per-player watchers share the slot prefix; cancel any that exist.
	c.timeouts.mu.Lock()
	keys := make([]string, 0, 2)
	prefix := fmt.Sprintf("%d:", slotID)
	for key := range c.timeouts.active {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	c.timeouts.mu.Unlock()
	for _, key := range keys {
		c.timeouts.cancel(key)
	}
}

// Shutdown stops all pending invitation timers.
func (c *ConfirmationCoordinator) Shutdown() {
	c.timeouts.shutdown()
}
