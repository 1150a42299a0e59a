// workers/capture_worker.go
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gosimple/slug"
	"gorm.io/gorm"

	"debate-tournament-system/models"
	"debate-tournament-system/services"
	"debate-tournament-system/utils"
)

// ConferenceAPI is the slice of the conferencing provider the capture worker
// needs: transcript records and room rotation after a match.
type ConferenceAPI interface {
	GetTranscripts(ctx context.Context, roomID string) ([]services.TranscriptEntry, error)
	RotateRoom(ctx context.Context, name, oldURL string) (*services.RoomInfo, error)
}

// CaptureWorker runs one goroutine per confirmed match: it waits for the
// debate window to close, pulls the transcription records, stores the parsed
// transcript, archives the raw payload, rotates the room so shared links die,
// and hands the slot to the result pipeline.
type CaptureWorker struct {
	db         *gorm.DB
	conference ConferenceAPI
	notifier   services.NotificationSender
	results    *services.MatchResultService
	location   *time.Location

	// analyzeTime is the tail of the slot reserved for adjudication; the
	// debate itself ends at EndTime - analyzeTime. flushDelay gives the
	// provider time to persist the last utterances before we fetch.
	analyzeTime time.Duration
	flushDelay  time.Duration

	mu     sync.Mutex
	active map[uint]*captureTask

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

type captureTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCaptureWorker(db *gorm.DB, conference ConferenceAPI, notifier services.NotificationSender, results *services.MatchResultService, analyzeTime, flushDelay time.Duration, loc *time.Location) *CaptureWorker {
	return &CaptureWorker{
		db:          db,
		conference:  conference,
		notifier:    notifier,
		results:     results,
		location:    loc,
		analyzeTime: analyzeTime,
		flushDelay:  flushDelay,
		active:      make(map[uint]*captureTask),
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// Arm schedules capture for a slot, replacing any pending capture for it.
func (w *CaptureWorker) Arm(slotID uint) {
	w.CancelSlot(slotID)

	ctx, cancel := context.WithCancel(context.Background())
	task := &captureTask{cancel: cancel, done: make(chan struct{})}
	w.mu.Lock()
	w.active[slotID] = task
	w.mu.Unlock()

	go func() {
		defer func() {
			close(task.done)
			w.mu.Lock()
			if w.active[slotID] == task {
				delete(w.active, slotID)
			}
			w.mu.Unlock()
		}()
		w.capture(ctx, slotID)
	}()
}

// CancelSlot stops a pending capture and waits for its goroutine to exit.
func (w *CaptureWorker) CancelSlot(slotID uint) {
	w.mu.Lock()
	task, ok := w.active[slotID]
	w.mu.Unlock()
	if !ok {
		return
	}
	task.cancel()
	<-task.done
}

// Shutdown stops every pending capture.
func (w *CaptureWorker) Shutdown() {
	w.mu.Lock()
	tasks := make([]*captureTask, 0, len(w.active))
	for _, t := range w.active {
		tasks = append(tasks, t)
	}
	w.mu.Unlock()
	for _, t := range tasks {
		t.cancel()
		<-t.done
	}
}

func (w *CaptureWorker) capture(ctx context.Context, slotID uint) {
	slot, err := w.loadSlot(ctx, slotID)
	if err != nil {
		log.Printf("[Capture] Failed to load slot %d: %v", slotID, err)
		return
	}
	if slot == nil || slot.Status != models.StatusConfirmed {
		return
	}

	debateEnd := slot.EndTime.Add(-w.analyzeTime)
	if !w.sleep(ctx, debateEnd.Sub(w.now())) {
		return
	}

	slot, err = w.loadSlot(ctx, slotID)
	if err != nil {
		log.Printf("[Capture] Failed to reload slot %d: %v", slotID, err)
		return
	}
	if slot == nil || slot.Status != models.StatusConfirmed || slot.Player1 == nil || slot.Player2 == nil || slot.Room == nil {
		return
	}

	if !w.sleep(ctx, w.flushDelay) {
		return
	}

	roomID := services.RoomIDFromURL(slot.Room.URL)
	entries, err := w.conference.GetTranscripts(ctx, roomID)
	if err != nil {
		log.Printf("[Capture] Failed to fetch transcripts for slot %d: %v", slotID, err)
		return
	}

	transcript, seen1, seen2 := buildTranscript(entries, slot.Player1.FullName, slot.Player2.FullName, slot.StartTime, debateEnd)

	switch {
	case !seen1 && !seen2:
		log.Printf("[Capture] Nobody spoke in slot %d, canceling without penalty", slotID)
		w.cancelUnplayed(ctx, slot)
	case !seen1 || !seen2:
		absent, present := slot.Player1, slot.Player2
		if seen1 {
			absent, present = slot.Player2, slot.Player1
		}
		log.Printf("[Capture] %s never spoke in slot %d, canceling", absent.FullName, slotID)
		w.cancelAbsent(ctx, slot, absent, present)
	default:
		if err := w.db.WithContext(ctx).Model(&models.Slot{}).
			Where("id = ?", slot.ID).
			Update("transcript", transcript).Error; err != nil {
			log.Printf("[Capture] Failed to store transcript for slot %d: %v", slotID, err)
			return
		}
		slot.Transcript = transcript
		w.archiveRaw(ctx, slot, entries)

		err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return w.results.ProcessSlot(ctx, tx, slot)
		})
		if err != nil {
			// the sweep will pick the stored transcript up later
			log.Printf("[Capture] Result pipeline for slot %d failed: %v", slotID, err)
		} else if slot.TranscriptProcessed {
			w.results.SendSummaries(ctx, slot)
		}
	}

	w.rotateRoom(ctx, slot.Room)
}

func (w *CaptureWorker) loadSlot(ctx context.Context, slotID uint) (*models.Slot, error) {
	var slot models.Slot
	err := w.db.WithContext(ctx).
		Preload("Player1").Preload("Player2").Preload("Room").Preload("Case").
		First(&slot, "id = ?", slotID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

// buildTranscript filters the provider records to the debate window and the
// two known players, returning "Name: text" lines in utterance order plus
// which players were heard at all.
func buildTranscript(entries []services.TranscriptEntry, name1, name2 string, from, to time.Time) (string, bool, bool) {
	n1 := utils.NormalizeName(name1)
	n2 := utils.NormalizeName(name2)

	sorted := make([]services.TranscriptEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	var lines []string
	seen1, seen2 := false, false
	for _, e := range sorted {
		if e.CreatedAt.Before(from) || e.CreatedAt.After(to) {
			continue
		}
		n := utils.NormalizeName(e.ParticipantName)
		switch {
		case utils.NamesMatch(n, n1):
			seen1 = true
			lines = append(lines, name1+": "+strings.TrimSpace(e.Text))
		case utils.NamesMatch(n, n2):
			seen2 = true
			lines = append(lines, name2+": "+strings.TrimSpace(e.Text))
		}
	}
	return strings.Join(lines, "\n"), seen1, seen2
}

// cancelUnplayed releases a slot neither player joined. The participation
// counters taken at confirmation are handed back and nobody is eliminated.
func (w *CaptureWorker) cancelUnplayed(ctx context.Context, slot *models.Slot) {
	canceled := false
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Slot{}).
			Where("id = ? AND status = ?", slot.ID, models.StatusConfirmed).
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
		canceled = true

		refund := map[string]interface{}{
			"matches_played": gorm.Expr("matches_played - 1"),
		}
		if slot.Elimination {
			refund["matches_played_cycle"] = gorm.Expr("matches_played_cycle - 1")
		}
		return tx.Model(&models.Player{}).
			Where("id IN ?", []uint{*slot.Player1ID, *slot.Player2ID}).
			Updates(refund).Error
	})
	if err != nil {
		log.Printf("[Capture] Failed to cancel slot %d: %v", slot.ID, err)
		return
	}
	if !canceled {
		return
	}
	text := "Neither participant joined the match, so it was canceled. It will not count against you."
	if err := w.notifier.Notify(ctx, slot.Player1.ChatID, text); err != nil {
		log.Printf("[Capture] Failed to notify %s: %v", slot.Player1.FullName, err)
	}
	if err := w.notifier.Notify(ctx, slot.Player2.ChatID, text); err != nil {
		log.Printf("[Capture] Failed to notify %s: %v", slot.Player2.FullName, err)
	}
}

// cancelAbsent applies the no-show rules when one player spoke and the other
// never did: the absent player collects a decline and, in knockout slots, is
// eliminated.
func (w *CaptureWorker) cancelAbsent(ctx context.Context, slot *models.Slot, absent, present *models.Player) {
	canceled := false
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Slot{}).
			Where("id = ? AND status = ?", slot.ID, models.StatusConfirmed).
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
		canceled = true

		updates := map[string]interface{}{
			"declines_count": gorm.Expr("declines_count + 1"),
		}
		if slot.Elimination {
			updates["eliminated"] = true
		}
		return tx.Model(&models.Player{}).Where("id = ?", absent.ID).Updates(updates).Error
	})
	if err != nil {
		log.Printf("[Capture] Failed to cancel slot %d: %v", slot.ID, err)
		return
	}
	if !canceled {
		return
	}

	consequence := ""
	if slot.Elimination {
		consequence = "You are eliminated from the tournament."
	}
	if err := w.notifier.Notify(ctx, absent.ChatID, fmt.Sprintf(
		"Your match at %s was canceled because you never joined the debate. %s",
		slot.StartTime.In(w.location).Format("15:04"), consequence)); err != nil {
		log.Printf("[Capture] Failed to notify %s: %v", absent.FullName, err)
	}
	if err := w.notifier.Notify(ctx, present.ChatID, fmt.Sprintf(
		"Your opponent %s never joined the debate. The match is canceled.", absent.FullName)); err != nil {
		log.Printf("[Capture] Failed to notify %s: %v", present.FullName, err)
	}
}

// archiveRaw stores the unfiltered provider payload in object storage.
// Best effort: an archive outage never blocks scoring.
func (w *CaptureWorker) archiveRaw(ctx context.Context, slot *models.Slot, entries []services.TranscriptEntry) {
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		log.Printf("[Capture] Failed to encode raw transcript for slot %d: %v", slot.ID, err)
		return
	}
	key := fmt.Sprintf("transcripts/%s/%s.json",
		slot.StartTime.In(w.location).Format("2006-01-02"),
		slug.Make(fmt.Sprintf("%s-%s", slot.Room.Name, slot.StartTime.In(w.location).Format("15-04"))))
	if err := utils.ArchiveTranscript(ctx, key, string(raw)); err != nil {
		log.Printf("[Capture] Failed to archive transcript for slot %d: %v", slot.ID, err)
	}
}

// rotateRoom disables the used room and persists the replacement URL so the
// next match in this room gets a fresh link.
func (w *CaptureWorker) rotateRoom(ctx context.Context, room *models.Room) {
	info, err := w.conference.RotateRoom(ctx, room.Name, room.URL)
	if err != nil {
		log.Printf("[Capture] Failed to rotate room %q: %v", room.Name, err)
		return
	}
	if err := w.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ?", room.ID).
		Update("url", info.URL).Error; err != nil {
		log.Printf("[Capture] Failed to persist new URL for room %q: %v", room.Name, err)
		return
	}
	log.Printf("[Capture] Rotated room %q", room.Name)
}

// sleepCtx waits for d or until ctx is canceled, reporting whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
