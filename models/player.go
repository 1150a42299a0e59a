package models

// Player is a registered tournament participant.
// Stats are mutated only by the confirmation flow (declines, elimination on
// decline) and the result pipeline (wins, elimination, speech length).
// Players are never deleted while a tournament is running.
type Player struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	ChatID   int64  `gorm:"uniqueIndex" json:"chat_id"` // messaging channel address
	FullName string `gorm:"type:text" json:"full_name"`

	University string `gorm:"type:text" json:"university,omitempty"`
	Contact    string `gorm:"type:text" json:"contact,omitempty"`
	Registered bool   `gorm:"default:false;index" json:"registered"`

	TimePreference string `gorm:"type:varchar(32)" json:"time_preference,omitempty"`

	MatchesPlayed      int  `gorm:"default:0" json:"matches_played"`
	MatchesPlayedCycle int  `gorm:"default:0" json:"matches_played_cycle"`
	DeclinesCount      int  `gorm:"default:0" json:"declines_count"`
	WinsCount          int  `gorm:"default:0;index" json:"wins_count"`
	Eliminated         bool `gorm:"default:false" json:"eliminated"`

	// Cumulative length of this player's spoken text across all processed
	// transcripts, in characters.
	TotalTranscriptLength int `gorm:"default:0" json:"total_transcript_length"`

	Timestamps
}
