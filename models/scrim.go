package models

import (
	"time"
)

const (
	ScrimStatusScheduled  = "scheduled"
	ScrimStatusInProgress = "in_progress"
	ScrimStatusCompleted  = "completed"
	ScrimStatusCancelled  = "cancelled"
)

// Scrim is a scheduled, capacity-limited event that teams join.
type Scrim struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Title       string    `json:"title" gorm:"not null"`
	Game        string    `json:"game" gorm:"not null"`
	ScheduledAt time.Time `json:"scheduled_at" gorm:"not null"`
	CreatorID   string    `json:"creator_id" gorm:"not null;index"`
	Status      string    `json:"status" gorm:"default:'scheduled';index"`
	BannerURL   string    `json:"banner_url,omitempty"`

	// RegisteredTeams is maintained only by the admission controller's
	// conditional update and never exceeds MaxTeams.
	MaxTeams        int `json:"max_teams" gorm:"default:20"`
	RegisteredTeams int `json:"registered_teams" gorm:"default:0"`

	// Eligibility requirements. Nil bounds and an empty tier list mean
	// unrestricted.
	RequireDiscord   bool   `json:"require_discord" gorm:"default:true"`
	RequireApex      bool   `json:"require_apex" gorm:"default:true"`
	MinLevel         *int   `json:"min_level,omitempty"`
	MaxLevel         *int   `json:"max_level,omitempty"`
	MinRankScore     *int   `json:"min_rank_score,omitempty"`
	MaxRankScore     *int   `json:"max_rank_score,omitempty"`
	AllowedRankTiers string `json:"allowed_rank_tiers,omitempty"` // comma-separated

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`

	// Relationships
	Participants []ScrimParticipant   `json:"participants,omitempty" gorm:"foreignKey:ScrimID"`
	Channels     *ScrimChannelSet     `json:"channels,omitempty" gorm:"foreignKey:ScrimID"`
	Matches      []Match              `json:"matches,omitempty" gorm:"foreignKey:ScrimID"`

	// Calculated fields (not stored in DB)
	ConfirmedCount int64 `json:"confirmed_count,omitempty" gorm:"-"`
	AvailableSlots int64 `json:"available_slots,omitempty" gorm:"-"`
}

// IsTerminal reports whether no further transitions are possible.
func (s *Scrim) IsTerminal() bool {
	return s.Status == ScrimStatusCompleted || s.Status == ScrimStatusCancelled
}
