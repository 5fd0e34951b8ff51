package services

import (
	"errors"

	"scrim-coordination-system/models"

	"gorm.io/gorm"
)

// scrimTransitions is the full lifecycle graph. Completed and cancelled
// are terminal; there are no backward edges.
var scrimTransitions = map[string][]string{
	models.ScrimStatusScheduled:  {models.ScrimStatusInProgress, models.ScrimStatusCancelled},
	models.ScrimStatusInProgress: {models.ScrimStatusCompleted, models.ScrimStatusCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to string) bool {
	for _, next := range scrimTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionScrim flips a scrim's status with a conditional update
// guarded on the expected current status, so two concurrent commands
// cannot both fire the same transition. extra carries columns set
// alongside the status (completed_at, cancelled_at). Returns
// ErrInvalidStateTransition without mutating anything when the edge is
// illegal or the stored status no longer matches from.
func TransitionScrim(tx *gorm.DB, scrimID, from, to string, extra map[string]interface{}) error {
	if !CanTransition(from, to) {
		return ErrInvalidStateTransition
	}

	updates := map[string]interface{}{"status": to}
	for col, val := range extra {
		updates[col] = val
	}

	res := tx.Model(&models.Scrim{}).
		Where("id = ? AND status = ?", scrimID, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var scrim models.Scrim
		if err := tx.First(&scrim, "id = ?", scrimID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrScrimNotFound
			}
			return err
		}
		return ErrInvalidStateTransition
	}
	return nil
}
