package models

import (
	"time"
)

// Match records a single game session played as part of a scrim.
type Match struct {
	ID        string     `json:"id" gorm:"primaryKey"`
	ScrimID   string     `json:"scrim_id" gorm:"not null;index"`
	MapName   string     `json:"map_name,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	CreatedAt time.Time  `json:"created_at" gorm:"autoCreateTime"`

	Results []MatchResult `json:"results,omitempty" gorm:"foreignKey:MatchID"`
}

// MatchResult is one team's final placement for a match.
type MatchResult struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	MatchID    string    `json:"match_id" gorm:"not null;uniqueIndex:idx_match_team"`
	TeamID     string    `json:"team_id" gorm:"not null;uniqueIndex:idx_match_team"`
	Placement  int       `json:"placement" gorm:"not null"`
	Score      int       `json:"score" gorm:"default:0"`
	TotalKills int       `json:"total_kills" gorm:"default:0"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}
