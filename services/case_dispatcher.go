// services/case_dispatcher.go
package services

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"debate-tournament-system/models"
)

// CaseDispatcher delivers case material ahead of a confirmed match, then the
// room link closer to start. One watcher per slot; re-arming replaces the
// previous timer (the delivery schedule follows whatever the slot says at
// fire time, so a replaced timer never sends stale material).
type CaseDispatcher struct {
	DB       *gorm.DB
	Notifier NotificationSender

	// LeadTime before start for the case, LinkLeadTime for the room URL.
	LeadTime     time.Duration
	LinkLeadTime time.Duration

	watchers *watcherSet

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewCaseDispatcher(db *gorm.DB, notifier NotificationSender, leadTime, linkLeadTime time.Duration) *CaseDispatcher {
	return &CaseDispatcher{
		DB:           db,
		Notifier:     notifier,
		LeadTime:     leadTime,
		LinkLeadTime: linkLeadTime,
		watchers:     newWatcherSet(),
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

// Arm schedules delivery for a slot. An already armed slot is re-armed.
func (d *CaseDispatcher) Arm(slotID uint) {
	d.watchers.start(slotKey(slotID), true, func(ctx context.Context) {
		d.runDelivery(ctx, slotID)
	})
}

// Cancel stops a pending delivery and waits for the watcher to exit.
func (d *CaseDispatcher) Cancel(slotID uint) {
	d.watchers.cancel(slotKey(slotID))
}

// Shutdown stops every pending delivery.
func (d *CaseDispatcher) Shutdown() {
	d.watchers.shutdown()
}

func (d *CaseDispatcher) runDelivery(ctx context.Context, slotID uint) {
	slot, err := loadSlot(d.DB.WithContext(ctx), slotID)
	if err != nil {
		log.Printf("[Dispatcher] Failed to load slot %d: %v", slotID, err)
		return
	}
	if slot == nil {
		return
	}

	if !d.sleep(ctx, slot.StartTime.Add(-d.LeadTime).Sub(d.now())) {
		return
	}

	// Reload: the slot may have been canceled while we slept.
	slot, err = loadSlot(d.DB.WithContext(ctx), slotID)
	if err != nil {
		log.Printf("[Dispatcher] Failed to reload slot %d: %v", slotID, err)
		return
	}
	if !deliverable(slot) {
		return
	}

	if slot.PersonalizedCase == "" {
		log.Printf("[Dispatcher] Slot %d confirmed without case material, skipping case delivery", slotID)
	} else {
		text := msgCaseDelivery(slot.PersonalizedCase)
		if err := d.Notifier.Notify(ctx, slot.Player1.ChatID, text); err != nil {
			log.Printf("[Dispatcher] Failed to deliver case to %s: %v", slot.Player1.FullName, err)
		}
		if err := d.Notifier.Notify(ctx, slot.Player2.ChatID, text); err != nil {
			log.Printf("[Dispatcher] Failed to deliver case to %s: %v", slot.Player2.FullName, err)
		}
		log.Printf("[Dispatcher] Case delivered for slot %d", slotID)
	}

	if !d.sleep(ctx, slot.StartTime.Add(-d.LinkLeadTime).Sub(d.now())) {
		return
	}

	slot, err = loadSlot(d.DB.WithContext(ctx), slotID)
	if err != nil {
		log.Printf("[Dispatcher] Failed to reload slot %d: %v", slotID, err)
		return
	}
	if !deliverable(slot) {
		return
	}

	link := msgRoomLink(slot.Room.URL)
	if err := d.Notifier.Notify(ctx, slot.Player1.ChatID, link); err != nil {
		log.Printf("[Dispatcher] Failed to send link to %s: %v", slot.Player1.FullName, err)
	}
	if err := d.Notifier.Notify(ctx, slot.Player2.ChatID, link); err != nil {
		log.Printf("[Dispatcher] Failed to send link to %s: %v", slot.Player2.FullName, err)
	}
	log.Printf("[Dispatcher] Room link sent for slot %d", slotID)
}

// deliverable reports whether the slot is still a live confirmed match with
// both players attached.
func deliverable(slot *models.Slot) bool {
	return slot != nil &&
		slot.Status == models.StatusConfirmed &&
		slot.Player1 != nil && slot.Player2 != nil &&
		slot.Room != nil
}
