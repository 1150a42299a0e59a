package models

import "time"

// Room is a video-conferencing room provisioned through the external
// provider. After a match finishes the room is rotated (disabled on the
// provider side and recreated under the same name) so that previously shared
// URLs stop working; the row keeps its identity, only the URL changes.
type Room struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"type:text;not null" json:"name"`
	URL      string `gorm:"type:text;not null;uniqueIndex" json:"url"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
