package models

import (
	"time"
)

// PlayerProfile is a local snapshot of the per-player facts the
// eligibility evaluator consumes: chat-account link, game-account
// verification, level and rank. Owned and managed solely by this
// service, populated by the roster sync worker from the stats service.
// Facts may lag the upstream source; the evaluator never refreshes them.
type PlayerProfile struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	UserID       string    `json:"user_id" gorm:"uniqueIndex;not null"`
	Username     string    `json:"username" gorm:"index;not null"`
	DiscordID    string    `json:"discord_id,omitempty"` // guild member id, empty when unlinked
	ApexPlayerID string    `json:"apex_player_id,omitempty"`
	ApexVerified bool      `json:"apex_verified" gorm:"default:false"`
	Level        int       `json:"level" gorm:"default:0"`
	RankScore    int       `json:"rank_score" gorm:"default:0"`
	RankTier     string    `json:"rank_tier" gorm:"type:varchar(32);default:'Unranked'"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
