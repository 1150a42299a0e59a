// services/match_result.go
package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"debate-tournament-system/models"
	"debate-tournament-system/utils"
)

// WinnerAnalyzer adjudicates a transcript against its case material.
type WinnerAnalyzer interface {
	AnalyzeWinner(ctx context.Context, transcript, caseContext string) (string, error)
}

// MatchResultService turns a captured transcript into a match outcome:
// verdict from the judge, winner bookkeeping, elimination, and summaries.
type MatchResultService struct {
	DB       *gorm.DB
	Judge    WinnerAnalyzer
	Notifier NotificationSender
	Location *time.Location

	now func() time.Time
}

func NewMatchResultService(db *gorm.DB, judge WinnerAnalyzer, notifier NotificationSender, loc *time.Location) *MatchResultService {
	return &MatchResultService{
		DB:       db,
		Judge:    judge,
		Notifier: notifier,
		Location: loc,
		now:      time.Now,
	}
}

// ProcessSlot resolves one match inside the caller's transaction. Slots with
// no transcript, a missing player, or an already processed transcript are
// left untouched. The processed flag is written in the same transaction as
// the outcome, so a crash never leaves a half-scored match behind.
func (s *MatchResultService) ProcessSlot(ctx context.Context, tx *gorm.DB, slot *models.Slot) error {
	if slot.TranscriptProcessed || slot.Transcript == "" || slot.Player1 == nil || slot.Player2 == nil {
		return nil
	}

	caseContext := slot.PersonalizedCase
	if caseContext == "" && slot.Case != nil {
		caseContext = slot.Case.Content
	}

	verdict, err := s.Judge.AnalyzeWinner(ctx, slot.Transcript, caseContext)
	if err != nil {
		// the slot stays unprocessed so the sweep retries once the judge
		// is reachable again
		return fmt.Errorf("judge analysis for slot %d failed: %w", slot.ID, err)
	}

	winner := parseVerdictWinner(verdict, slot.Player1.FullName, slot.Player2.FullName)
	len1, len2 := speechLengths(slot.Transcript, slot.Player1.FullName, slot.Player2.FullName)
	if winner == 0 {
		// the verdict named nobody cleanly: strictly shorter cumulative
		// speech wins, tie goes to player 2
		if len1 < len2 {
			winner = 1
		} else {
			winner = 2
		}
	}

	if err := tx.Model(&models.Player{}).Where("id = ?", *slot.Player1ID).
		Update("total_transcript_length", gorm.Expr("total_transcript_length + ?", len1)).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.Player{}).Where("id = ?", *slot.Player2ID).
		Update("total_transcript_length", gorm.Expr("total_transcript_length + ?", len2)).Error; err != nil {
		return err
	}

	winnerID, loserID := *slot.Player1ID, *slot.Player2ID
	if winner == 2 {
		winnerID, loserID = loserID, winnerID
	}
	if err := tx.Model(&models.Player{}).Where("id = ?", winnerID).
		Update("wins_count", gorm.Expr("wins_count + 1")).Error; err != nil {
		return err
	}
	if slot.Elimination {
		if err := tx.Model(&models.Player{}).Where("id = ?", loserID).
			Update("eliminated", true).Error; err != nil {
			return err
		}
	}

	firstIsWinner := winner == 1
	res := tx.Model(&models.Slot{}).
		Where("id = ? AND transcript_processed = ?", slot.ID, false).
		Updates(map[string]interface{}{
			"first_is_winner":      firstIsWinner,
			"player1_analysis":     verdict,
			"player2_analysis":     verdict,
			"status":               models.StatusCompleted,
			"transcript_processed": true,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	slot.FirstIsWinner = &firstIsWinner
	slot.Player1Analysis = verdict
	slot.Player2Analysis = verdict
	slot.Status = models.StatusCompleted
	slot.TranscriptProcessed = true
	log.Printf("[Results] Slot %d resolved, winner: player %d", slot.ID, winner)
	return nil
}

// ProcessPending sweeps confirmed matches whose transcripts were captured but
// never scored, for instance because the process died mid-pipeline. Only
// matches comfortably past their end time are picked up.
func (s *MatchResultService) ProcessPending(ctx context.Context) error {
	cutoff := s.now().Add(-2 * time.Hour)

	var slots []models.Slot
	err := s.DB.WithContext(ctx).
		Preload("Player1").Preload("Player2").Preload("Case").
		Where("end_time < ? AND status = ? AND transcript_processed = ?",
			cutoff, models.StatusConfirmed, false).
		Find(&slots).Error
	if err != nil {
		return err
	}

	for i := range slots {
		slot := &slots[i]
		if slot.Transcript == "" {
			continue
		}
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.ProcessSlot(ctx, tx, slot)
		})
		if err != nil {
			log.Printf("[Results] Failed to process slot %d: %v", slot.ID, err)
			continue
		}
		if slot.TranscriptProcessed {
			s.SendSummaries(ctx, slot)
		}
	}
	return nil
}

// SendSummaries delivers the outcome to both players.
func (s *MatchResultService) SendSummaries(ctx context.Context, slot *models.Slot) {
	if slot.Player1 == nil || slot.Player2 == nil || slot.FirstIsWinner == nil {
		return
	}
	winnerName := slot.Player2.FullName
	if *slot.FirstIsWinner {
		winnerName = slot.Player1.FullName
	}
	text := msgMatchSummary(slot, winnerName, slot.Player1Analysis)
	if err := s.Notifier.Notify(ctx, slot.Player1.ChatID, text); err != nil {
		log.Printf("[Results] Failed to send summary to %s: %v", slot.Player1.FullName, err)
	}
	if err := s.Notifier.Notify(ctx, slot.Player2.ChatID, text); err != nil {
		log.Printf("[Results] Failed to send summary to %s: %v", slot.Player2.FullName, err)
	}
}

// parseVerdictWinner reads the first non-empty verdict line. It returns 1 or
// 2 when exactly one player is named, 0 when the verdict is ambiguous.
func parseVerdictWinner(verdict, name1, name2 string) int {
	var line string
	for _, l := range strings.Split(verdict, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = strings.ToLower(l)
			break
		}
	}
	if line == "" {
		return 0
	}

	first := strings.Contains(line, "player 1")
	second := strings.Contains(line, "player 2")
	if !first && !second {
		first = name1 != "" && strings.Contains(line, strings.ToLower(name1))
		second = name2 != "" && strings.Contains(line, strings.ToLower(name2))
	}
	switch {
	case first && !second:
		return 1
	case second && !first:
		return 2
	default:
		return 0
	}
}

// speechLengths sums each player's cumulative utterance length over a
// transcript of "Name: text" lines.
func speechLengths(transcript, name1, name2 string) (int, int) {
	n1 := utils.NormalizeName(name1)
	n2 := utils.NormalizeName(name2)
	var len1, len2 int
	for _, line := range strings.Split(transcript, "\n") {
		speaker, text, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		n := utils.NormalizeName(speaker)
		length := len([]rune(strings.TrimSpace(text)))
		if utils.NamesMatch(n, n1) {
			len1 += length
		} else if utils.NamesMatch(n, n2) {
			len2 += length
		}
	}
	return len1, len2
}
