package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"scrim-coordination-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AdmissionController enforces the capacity and uniqueness invariants
// on scrim joins. The slot claim is a single conditional update against
// the scrim row, so concurrent joins for the same scrim serialize on
// the row lock and can never collectively exceed capacity.
type AdmissionController struct {
	DB *gorm.DB
}

func NewAdmissionController(db *gorm.DB) *AdmissionController {
	return &AdmissionController{DB: db}
}

const (
	admissionAttempts = 3
	admissionBackoff  = 50 * time.Millisecond
)

// TryAdmit claims a slot for the team and creates (or re-confirms) the
// participant record, all in one transaction. checksSnapshot is the
// frozen eligibility snapshot stored on the participant. Transient
// store failures are retried a bounded number of times with backoff;
// domain errors are returned immediately.
func (a *AdmissionController) TryAdmit(scrimID, teamID, checksSnapshot string) (*models.ScrimParticipant, error) {
	var lastErr error
	for attempt := 0; attempt < admissionAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(admissionBackoff << (attempt - 1))
		}
		participant, err := a.tryAdmitOnce(scrimID, teamID, checksSnapshot)
		if err == nil {
			return participant, nil
		}
		if IsDomainError(err) {
			return nil, err
		}
		lastErr = err
		log.Printf("[ADMISSION] transient failure admitting team %s to scrim %s (attempt %d): %v",
			teamID, scrimID, attempt+1, err)
	}
	return nil, fmt.Errorf("admission failed after %d attempts: %w", admissionAttempts, lastErr)
}

func (a *AdmissionController) tryAdmitOnce(scrimID, teamID, checksSnapshot string) (*models.ScrimParticipant, error) {
	var participant *models.ScrimParticipant

	err := a.DB.Transaction(func(tx *gorm.DB) error {
		// The conditional increment is the atomic slot claim. It also
		// takes the row lock that serializes every other join (and
		// withdrawal) for this scrim until commit.
		claim := tx.Model(&models.Scrim{}).
			Where("id = ? AND status = ? AND registered_teams < max_teams",
				scrimID, models.ScrimStatusScheduled).
			Update("registered_teams", gorm.Expr("registered_teams + 1"))
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			return a.diagnoseRejection(tx, scrimID)
		}

		// Slot assignment runs under the claim's row lock. The counter
		// only tracks how many slots are taken; which slots are free
		// depends on withdrawals, so the slot is the lowest one no
		// confirmed participant holds.
		slot, err := lowestFreeSlot(tx, scrimID)
		if err != nil {
			return err
		}

		// Uniqueness check runs under the claim's row lock, so a
		// concurrent duplicate join is already serialized behind us.
		var existing models.ScrimParticipant
		err = tx.Where("scrim_id = ? AND team_id = ?", scrimID, teamID).First(&existing).Error
		switch {
		case err == nil:
			if existing.Status == models.ParticipantStatusConfirmed {
				// Rolling back releases the slot we just claimed.
				return ErrAlreadyAdmitted
			}
			// A withdrawn team rejoins by re-confirming its row; the
			// (scrim_id, team_id) uniqueness holds.
			existing.Status = models.ParticipantStatusConfirmed
			existing.Slot = slot
			existing.ChecksPassed = checksSnapshot
			existing.JoinedAt = time.Now()
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			participant = &existing
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			p := models.ScrimParticipant{
				ID:           uuid.NewString(),
				ScrimID:      scrimID,
				TeamID:       teamID,
				Status:       models.ParticipantStatusConfirmed,
				Slot:         slot,
				ChecksPassed: checksSnapshot,
				JoinedAt:     time.Now(),
			}
			if err := tx.Create(&p).Error; err != nil {
				return err
			}
			participant = &p
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return participant, nil
}

// lowestFreeSlot returns the smallest slot number no confirmed
// participant of the scrim holds. Must run inside the admission
// transaction after the slot claim, so the confirmed set cannot change
// underneath it.
func lowestFreeSlot(tx *gorm.DB, scrimID string) (int, error) {
	var taken []int
	err := tx.Model(&models.ScrimParticipant{}).
		Where("scrim_id = ? AND status = ?", scrimID, models.ParticipantStatusConfirmed).
		Order("slot ASC").
		Pluck("slot", &taken).Error
	if err != nil {
		return 0, err
	}

	slot := 1
	for _, held := range taken {
		if held == slot {
			slot++
		} else if held > slot {
			break
		}
	}
	return slot, nil
}

// diagnoseRejection decides why the slot claim matched no row.
func (a *AdmissionController) diagnoseRejection(tx *gorm.DB, scrimID string) error {
	var scrim models.Scrim
	if err := tx.First(&scrim, "id = ?", scrimID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrScrimNotFound
		}
		return err
	}
	if scrim.Status != models.ScrimStatusScheduled {
		return ErrScrimNotJoinable
	}
	return ErrScrimFull
}

// Withdraw flips the team's participant row to withdrawn and releases
// its slot, in one transaction. Authorization (team owner or manager)
// is the caller's responsibility.
func (a *AdmissionController) Withdraw(scrimID, teamID string) error {
	return a.DB.Transaction(func(tx *gorm.DB) error {
		// Same lock as TryAdmit: touch the scrim row first so joins and
		// withdrawals for one scrim serialize consistently.
		release := tx.Model(&models.Scrim{}).
			Where("id = ? AND registered_teams > 0", scrimID).
			Update("registered_teams", gorm.Expr("registered_teams - 1"))
		if release.Error != nil {
			return release.Error
		}
		if release.RowsAffected == 0 {
			var scrim models.Scrim
			if err := tx.First(&scrim, "id = ?", scrimID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrScrimNotFound
				}
				return err
			}
			return ErrNotParticipant
		}

		res := tx.Model(&models.ScrimParticipant{}).
			Where("scrim_id = ? AND team_id = ? AND status = ?",
				scrimID, teamID, models.ParticipantStatusConfirmed).
			Update("status", models.ParticipantStatusWithdrawn)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Rollback restores the counter.
			return ErrNotParticipant
		}
		return nil
	})
}

// ConfirmedCount returns how many teams currently hold a slot.
func (a *AdmissionController) ConfirmedCount(scrimID string) (int64, error) {
	var count int64
	err := a.DB.Model(&models.ScrimParticipant{}).
		Where("scrim_id = ? AND status = ?", scrimID, models.ParticipantStatusConfirmed).
		Count(&count).Error
	return count, err
}
