package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"scrim-coordination-system/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxDedicatedVoiceSlots caps how many per-team voice channels a single
// scrim provisions. When a scrim's capacity exceeds it, the excess
// teams share the coordination text channel; the stored handle records
// requested vs dedicated so callers can see the clamp.
const MaxDedicatedVoiceSlots = 20

const voiceChannelUserLimit = 3 // standard squad size

// ChannelOrchestrator translates scrim lifecycle changes into Discord
// channel operations. Every call is best-effort: a failure is logged
// with the scrim id and operation name, counted, and swallowed. Nothing
// here may roll back or block a committed scrim or participant change.
type ChannelOrchestrator struct {
	DB      *gorm.DB
	API     DiscordAPI
	GuildID string

	failures sync.Map // op name -> *int64
}

func NewChannelOrchestrator(db *gorm.DB, api DiscordAPI, guildID string) *ChannelOrchestrator {
	return &ChannelOrchestrator{DB: db, API: api, GuildID: guildID}
}

func (o *ChannelOrchestrator) recordFailure(op, scrimID string, err error) {
	counter, _ := o.failures.LoadOrStore(op, new(int64))
	atomic.AddInt64(counter.(*int64), 1)
	log.Printf("[ORCH] %s failed for scrim %s: %v", op, scrimID, err)
}

// FailureCounts snapshots the per-operation failure counters.
func (o *ChannelOrchestrator) FailureCounts() map[string]int64 {
	counts := make(map[string]int64)
	o.failures.Range(func(key, value any) bool {
		counts[key.(string)] = atomic.LoadInt64(value.(*int64))
		return true
	})
	return counts
}

// Provision creates the scrim's channel set: a category, one
// coordination text channel and up to MaxDedicatedVoiceSlots per-team
// voice channels. Idempotent: when a handle already exists it is
// returned unchanged and no Discord calls are made.
func (o *ChannelOrchestrator) Provision(ctx context.Context, scrimID string) (*models.ScrimChannelSet, error) {
	var existing models.ScrimChannelSet
	err := o.DB.First(&existing, "scrim_id = ?", scrimID).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		o.recordFailure("provision", scrimID, err)
		return nil, err
	}

	var scrim models.Scrim
	if err := o.DB.First(&scrim, "id = ?", scrimID).Error; err != nil {
		o.recordFailure("provision", scrimID, err)
		return nil, err
	}

	requested := scrim.MaxTeams
	dedicated := requested
	if dedicated > MaxDedicatedVoiceSlots {
		dedicated = MaxDedicatedVoiceSlots
	}

	shortID := scrimID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	name := slug.Make(fmt.Sprintf("scrim-%s-%s", shortID, scrim.Title))
	var created []string

	cleanup := func() {
		for _, id := range created {
			if err := o.API.DeleteChannel(ctx, id); err != nil {
				o.recordFailure("provision_cleanup", scrimID, err)
			}
		}
	}

	categoryID, err := o.API.CreateCategory(ctx, name)
	if err != nil {
		o.recordFailure("provision", scrimID, err)
		return nil, err
	}
	created = append(created, categoryID)

	topic := fmt.Sprintf("Scrim: %s | Max Teams: %d", scrim.Title, scrim.MaxTeams)
	textID, err := o.API.CreateTextChannel(ctx, name, categoryID, topic)
	if err != nil {
		o.recordFailure("provision", scrimID, err)
		cleanup()
		return nil, err
	}
	created = append(created, textID)

	voiceIDs := make([]string, 0, dedicated)
	for i := 1; i <= dedicated; i++ {
		voiceID, err := o.API.CreateVoiceChannel(ctx,
			fmt.Sprintf("Team %d Voice", i), categoryID, voiceChannelUserLimit)
		if err != nil {
			o.recordFailure("provision", scrimID, err)
			cleanup()
			return nil, err
		}
		created = append(created, voiceID)
		voiceIDs = append(voiceIDs, voiceID)
	}

	handle := models.ScrimChannelSet{
		ID:              uuid.NewString(),
		ScrimID:         scrimID,
		GuildID:         o.GuildID,
		CategoryID:      categoryID,
		TextChannelID:   textID,
		VoiceChannelIDs: models.JoinVoiceIDs(voiceIDs),
		RequestedSlots:  requested,
		DedicatedSlots:  dedicated,
	}

	// A racing provision may have stored a handle while we were
	// creating channels; the conflict guard keeps the stored row
	// authoritative and we discard our duplicates.
	res := o.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scrim_id"}},
		DoNothing: true,
	}).Create(&handle)
	if res.Error != nil {
		o.recordFailure("provision", scrimID, res.Error)
		cleanup()
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		cleanup()
		if err := o.DB.First(&existing, "scrim_id = ?", scrimID).Error; err != nil {
			o.recordFailure("provision", scrimID, err)
			return nil, err
		}
		return &existing, nil
	}

	log.Printf("[ORCH] provisioned channels for scrim %s (%d/%d dedicated voice slots)",
		scrimID, dedicated, requested)
	return &handle, nil
}

// Notify posts a message to the scrim's coordination channel.
// Best-effort: a missing handle or a failed post is logged and dropped.
func (o *ChannelOrchestrator) Notify(ctx context.Context, scrimID, message string) {
	var handle models.ScrimChannelSet
	if err := o.DB.First(&handle, "scrim_id = ?", scrimID).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			o.recordFailure("notify", scrimID, err)
		}
		return
	}
	if handle.TornDownAt != nil || handle.TextChannelID == "" {
		return
	}
	if err := o.API.PostMessage(ctx, handle.TextChannelID, message); err != nil {
		o.recordFailure("notify", scrimID, err)
	}
}

// Relocate moves a team member into their team's voice channel. No-op
// when the member has no active voice presence, when the slot falls
// outside the dedicated range (those teams coordinate in the text
// channel), or when the scrim has no handle.
func (o *ChannelOrchestrator) Relocate(ctx context.Context, memberID string, slot int, scrimID string) {
	var handle models.ScrimChannelSet
	if err := o.DB.First(&handle, "scrim_id = ?", scrimID).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			o.recordFailure("relocate", scrimID, err)
		}
		return
	}
	voiceIDs := handle.VoiceIDs()
	if slot < 1 || slot > len(voiceIDs) {
		return
	}
	if err := o.API.MoveMember(ctx, memberID, voiceIDs[slot-1]); err != nil {
		if errors.Is(err, ErrMemberNotInVoice) {
			return
		}
		o.recordFailure("relocate", scrimID, err)
	}
}

// Teardown deletes the scrim's channels and stamps the handle as torn
// down. Each delete is individually error-isolated so one stuck channel
// does not strand the rest; the handle is only stamped when every
// delete went through, letting the sweeper retry later.
func (o *ChannelOrchestrator) Teardown(ctx context.Context, scrimID string) error {
	var handle models.ScrimChannelSet
	if err := o.DB.First(&handle, "scrim_id = ?", scrimID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		o.recordFailure("teardown", scrimID, err)
		return err
	}
	if handle.TornDownAt != nil {
		return nil
	}

	failed := false
	ids := append(handle.VoiceIDs(), handle.TextChannelID, handle.CategoryID)
	for _, id := range ids {
		if id == "" {
			continue
		}
		if err := o.API.DeleteChannel(ctx, id); err != nil {
			o.recordFailure("teardown", scrimID, err)
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("teardown incomplete for scrim %s", scrimID)
	}

	now := time.Now()
	if err := o.DB.Model(&handle).Update("torn_down_at", &now).Error; err != nil {
		o.recordFailure("teardown", scrimID, err)
		return err
	}
	log.Printf("[ORCH] tore down channels for scrim %s", scrimID)
	return nil
}

// ScheduleTeardown stamps the handle with a due time; the teardown
// worker executes it after the grace period. Best-effort.
func (o *ChannelOrchestrator) ScheduleTeardown(scrimID string, due time.Time) {
	err := o.DB.Model(&models.ScrimChannelSet{}).
		Where("scrim_id = ? AND torn_down_at IS NULL", scrimID).
		Update("teardown_due_at", &due).Error
	if err != nil {
		o.recordFailure("schedule_teardown", scrimID, err)
	}
}
