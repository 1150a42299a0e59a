// services/notifier.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"debate-tournament-system/models"
)

// NotificationSender is the messaging-channel capability the orchestrator
// needs: plain texts and texts carrying confirm/decline actions. The channel
// answers actions asynchronously through the callback webhook.
type NotificationSender interface {
	Notify(ctx context.Context, chatID int64, text string) error
	SendWithActions(ctx context.Context, chatID int64, text string, slotID uint) error
}

// Notifier delivers messages through the external bot gateway.
type Notifier struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewNotifier(baseURL, token string) *Notifier {
	return &Notifier{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type actionButton struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Callback string `json:"callback"`
}

func (n *Notifier) post(ctx context.Context, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.BaseURL+"/api/v1/messages", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.Token)

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call bot gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("bot gateway returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Notify sends a plain text message to a player.
func (n *Notifier) Notify(ctx context.Context, chatID int64, text string) error {
	return n.post(ctx, map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	})
}

// SendWithActions sends a text with confirm/decline buttons. The gateway
// reports the chosen action back through the confirmation callback webhook,
// keyed by slot ID.
func (n *Notifier) SendWithActions(ctx context.Context, chatID int64, text string, slotID uint) error {
	return n.post(ctx, map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
		"actions": []actionButton{
			{ID: uuid.NewString(), Label: "✅ I'll be there", Callback: fmt.Sprintf("confirm:%d:confirm", slotID)},
			{ID: uuid.NewString(), Label: "❌ Can't make it", Callback: fmt.Sprintf("confirm:%d:decline", slotID)},
		},
	})
}

// Message templates. Times are rendered in the tournament's local timezone
// by the caller passing a localized time.

func msgMatchScheduled(opponent string, start time.Time, loc *time.Location) string {
	local := start.In(loc)
	return fmt.Sprintf(
		"Your match is scheduled!\n\n📅 Date: %s\n⏰ Time: %s\n🧑‍💻 Opponent: %s\n\nPlease confirm your participation:\n✅ I'll be there - confirm\n❌ Can't make it - decline\n",
		local.Format("02.01.2006"), local.Format("15:04"), opponent,
	)
}

func msgMatchConfirmed(slot *models.Slot, loc *time.Location) string {
	local := slot.StartTime.In(loc)
	return fmt.Sprintf(
		"✅ Match confirmed!\n\n📅 Date: %s\n⏰ Time: %s\nOpponents: %s and %s",
		local.Format("02.01.2006"), local.Format("15:04"),
		slot.Player1.FullName, slot.Player2.FullName,
	)
}

func msgOpponentUpdate(start time.Time, loc *time.Location, reason string) string {
	return fmt.Sprintf("ℹ️ Update on your match at %s:\n%s",
		start.In(loc).Format("15:04"), reason)
}

func msgMatchCanceled(start time.Time, loc *time.Location, who, reason, consequence string) string {
	return fmt.Sprintf(
		"Your match scheduled for %s has been canceled.\nReason: %s %s.\n%s",
		start.In(loc).Format("02.01.2006 15:04"), who, reason, consequence,
	)
}

func msgCaseDelivery(caseText string) string {
	return "📋 Your case:\n\n" + caseText
}

func msgRoomLink(url string) string {
	return "🔗 Room link: " + url
}

func msgMissingOpponent(name string) string {
	return fmt.Sprintf("Your opponent %s did not join the room. The match is canceled.", name)
}

func msgMatchSummary(slot *models.Slot, winnerName, analysis string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Match results for %s:\n", slot.StartTime.Format("15:04"))
	if winnerName != "" {
		fmt.Fprintf(&b, "Winner: %s\n", winnerName)
		if slot.Elimination {
			b.WriteString("The other participant is eliminated.\n")
		}
	} else {
		b.WriteString("No winner could be determined.\n")
	}
	if analysis != "" {
		b.WriteString("\nAnalysis of the round:\n")
		b.WriteString(analysis)
	}
	return b.String()
}
