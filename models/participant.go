package models

import (
	"time"
)

const (
	ParticipantStatusConfirmed = "confirmed"
	ParticipantStatusWithdrawn = "withdrawn"
)

// ScrimParticipant binds a team to a scrim slot. The (scrim_id, team_id)
// pair is unique; a withdrawn row is re-confirmed on rejoin rather than
// duplicated.
type ScrimParticipant struct {
	ID      string `json:"id" gorm:"primaryKey"`
	ScrimID string `json:"scrim_id" gorm:"not null;uniqueIndex:idx_scrim_team"`
	TeamID  string `json:"team_id" gorm:"not null;uniqueIndex:idx_scrim_team"`
	Status  string `json:"status" gorm:"default:'confirmed'"`

	// Slot is the 1-based voice channel assignment. Confirmed
	// participants of a scrim hold pairwise distinct slots; a
	// withdrawal vacates the slot for the next joiner.
	Slot int `json:"slot" gorm:"default:0"`

	// ChecksPassed is a frozen JSON snapshot of which requirement
	// categories passed at admission time. The underlying player facts
	// drift afterwards; the snapshot does not.
	ChecksPassed string `json:"checks_passed" gorm:"type:text"`

	JoinedAt  time.Time `json:"joined_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
