package models

import "time"

// MatchStatus is the lifecycle state of a slot's pairing.
type MatchStatus string

const (
	StatusScheduled MatchStatus = "scheduled"
	StatusConfirmed MatchStatus = "confirmed"
	StatusCompleted MatchStatus = "completed"
	StatusCanceled  MatchStatus = "canceled"
)

// Slot is the unit of scheduling: a room reserved for a fixed time window,
// holding either no players or exactly two. Canceling a pairing clears the
// player references and frees the slot for reuse; slots are never hard-deleted
// while occupied.
//
// Invariant: Player1ID and Player2ID are both nil or both set, and IsOccupied
// is true exactly when both are set. TranscriptProcessed flips false->true at
// most once and permanently guards the result pipeline against reprocessing.
type Slot struct {
	ID     uint  `gorm:"primaryKey" json:"id"`
	RoomID *uint `gorm:"index" json:"room_id,omitempty"`
	Room   *Room `json:"room,omitempty"`

	StartTime time.Time `gorm:"not null;index" json:"start_time"` // UTC
	EndTime   time.Time `gorm:"not null;index" json:"end_time"`   // UTC

	Player1ID *uint   `gorm:"index" json:"player1_id,omitempty"`
	Player2ID *uint   `gorm:"index" json:"player2_id,omitempty"`
	Player1   *Player `gorm:"foreignKey:Player1ID" json:"player1,omitempty"`
	Player2   *Player `gorm:"foreignKey:Player2ID" json:"player2,omitempty"`

	Player1Confirmed bool `gorm:"default:false" json:"player1_confirmed"`
	Player2Confirmed bool `gorm:"default:false" json:"player2_confirmed"`

	IsOccupied  bool        `gorm:"default:false;index" json:"is_occupied"`
	Status      MatchStatus `gorm:"type:varchar(16);index" json:"status,omitempty"`
	Elimination bool        `gorm:"default:false" json:"elimination"`

	CaseID           *uint  `gorm:"index" json:"case_id,omitempty"`
	Case             *Case  `json:"case,omitempty"`
	PersonalizedCase string `gorm:"type:text" json:"personalized_case,omitempty"`

	Transcript          string `gorm:"type:text" json:"transcript,omitempty"`
	TranscriptProcessed bool   `gorm:"default:false" json:"transcript_processed"`

	// FirstIsWinner is nil until the result pipeline has run: true means
	// player 1 won, false means player 2 won.
	FirstIsWinner   *bool  `json:"first_is_winner,omitempty"`
	Player1Analysis string `gorm:"type:text" json:"player1_analysis,omitempty"`
	Player2Analysis string `gorm:"type:text" json:"player2_analysis,omitempty"`

	Timestamps
}

// OpponentOf returns the other player's loaded record, or nil.
func (s *Slot) OpponentOf(playerID uint) *Player {
	if s.Player1 != nil && s.Player1.ID == playerID {
		return s.Player2
	}
	if s.Player2 != nil && s.Player2.ID == playerID {
		return s.Player1
	}
	return nil
}

// IsPlayer reports whether the given player occupies this slot.
func (s *Slot) IsPlayer(playerID uint) bool {
	return (s.Player1ID != nil && *s.Player1ID == playerID) ||
		(s.Player2ID != nil && *s.Player2ID == playerID)
}
