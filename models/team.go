package models

import (
	"time"
)

const (
	TeamRoleOwner   = "owner"
	TeamRoleManager = "manager"
	TeamRolePlayer  = "player"
)

// Team is a read model owned by the surrounding team service; this
// service only consults it for membership and authorization.
type Team struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"not null"`
	OwnerID   string    `json:"owner_id" gorm:"not null;index"`
	LogoURL   string    `json:"logo_url,omitempty"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	Members []TeamMember `json:"members,omitempty" gorm:"foreignKey:TeamID"`
}

type TeamMember struct {
	ID       string    `json:"id" gorm:"primaryKey"`
	TeamID   string    `json:"team_id" gorm:"not null;uniqueIndex:idx_team_user"`
	UserID   string    `json:"user_id" gorm:"not null;uniqueIndex:idx_team_user"`
	Role     string    `json:"role" gorm:"type:varchar(20);default:'player'"`
	JoinedAt time.Time `json:"joined_at" gorm:"autoCreateTime"`
}

// CanManageTeam reports whether the role is allowed to act for the team
// (withdraw it from a scrim, for example).
func CanManageTeam(role string) bool {
	return role == TeamRoleOwner || role == TeamRoleManager
}
