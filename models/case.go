package models

import "time"

// Case is an immutable piece of debate material: the scenario text plus a
// block describing the two roles. Only active cases are eligible for
// assignment.
type Case struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Title    string `gorm:"type:text;not null" json:"title"`
	Content  string `gorm:"type:text;not null" json:"content"`
	Roles    string `gorm:"type:text" json:"roles,omitempty"`
	IsActive bool   `gorm:"default:true;index" json:"is_active"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// CaseUsage records that a player has seen a case, so the same case is not
// assigned to them twice while unseen cases remain.
type CaseUsage struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	PlayerID uint      `gorm:"index;not null" json:"player_id"`
	CaseID   uint      `gorm:"index;not null" json:"case_id"`
	SlotID   uint      `gorm:"index;not null" json:"slot_id"`
	UsedAt   time.Time `json:"used_at" gorm:"autoCreateTime"`
}
