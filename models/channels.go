package models

import (
	"strings"
	"time"
)

// ScrimChannelSet holds the Discord resource handles provisioned for a
// scrim: one coordination text channel plus a bounded set of per-team
// voice channels under a dedicated category. Owned 1:1 by the scrim.
// Provisioning is idempotent; teardown stamps TornDownAt rather than
// deleting the row so the handle history survives for audit.
type ScrimChannelSet struct {
	ID            string `json:"id" gorm:"primaryKey"`
	ScrimID       string `json:"scrim_id" gorm:"uniqueIndex;not null"`
	GuildID       string `json:"guild_id" gorm:"not null"`
	CategoryID    string `json:"category_id"`
	TextChannelID string `json:"text_channel_id"`

	// VoiceChannelIDs is comma-separated in admission-slot order.
	VoiceChannelIDs string `json:"voice_channel_ids" gorm:"type:text"`

	// RequestedSlots is the scrim capacity at provisioning time;
	// DedicatedSlots is what was actually created after clamping. Teams
	// beyond DedicatedSlots share the text channel as their
	// coordination surface.
	RequestedSlots int `json:"requested_slots" gorm:"default:0"`
	DedicatedSlots int `json:"dedicated_slots" gorm:"default:0"`

	TeardownDueAt *time.Time `json:"teardown_due_at,omitempty" gorm:"index"`
	TornDownAt    *time.Time `json:"torn_down_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// VoiceIDs splits the stored id list; never returns empty strings.
func (c *ScrimChannelSet) VoiceIDs() []string {
	if c.VoiceChannelIDs == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(c.VoiceChannelIDs, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// JoinVoiceIDs is the inverse of VoiceIDs.
func JoinVoiceIDs(ids []string) string {
	return strings.Join(ids, ",")
}
