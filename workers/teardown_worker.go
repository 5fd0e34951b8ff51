package workers

import (
	"context"
	"log"
	"time"

	"scrim-coordination-system/models"
	"scrim-coordination-system/services"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// TeardownWorker executes deferred channel teardowns. Due times live in
// the database, so teardowns scheduled before a restart still happen.
type TeardownWorker struct {
	db           *gorm.DB
	orchestrator *services.ChannelOrchestrator
	interval     time.Duration

	// safetyGrace catches scrims that finished without a due time ever
	// being stamped (crash between state change and scheduling).
	safetyGrace time.Duration

	scheduler gocron.Scheduler
}

func NewTeardownWorker(db *gorm.DB, orch *services.ChannelOrchestrator) *TeardownWorker {
	return &TeardownWorker{
		db:           db,
		orchestrator: orch,
		interval:     30 * time.Second,
		safetyGrace:  30 * time.Minute,
	}
}

func (w *TeardownWorker) Start() {
	sched, _ := gocron.NewScheduler()
	w.scheduler = sched
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(func() {
			w.Sweep(context.Background())
		}),
	)
	log.Println("🔁 Starting Teardown Worker (deferred channel cleanup)…")
}

func (w *TeardownWorker) Stop() {
	if w.scheduler != nil {
		_ = w.scheduler.Shutdown()
	}
}

// Sweep tears down every channel set whose due time has passed. Before
// acting it re-reads the scrim: a scrim moved back to a live status
// since scheduling keeps its channels and loses its due time.
func (w *TeardownWorker) Sweep(ctx context.Context) {
	now := time.Now()

	var due []models.ScrimChannelSet
	err := w.db.
		Where("torn_down_at IS NULL AND teardown_due_at IS NOT NULL AND teardown_due_at <= ?", now).
		Find(&due).Error
	if err != nil {
		log.Printf("[TEARDOWN] DB error listing due channel sets: %v", err)
		return
	}

	// Safety net: finished scrims whose handle never got a due time.
	var orphaned []models.ScrimChannelSet
	err = w.db.
		Joins("JOIN scrims ON scrims.id = scrim_channel_sets.scrim_id").
		Where("scrim_channel_sets.torn_down_at IS NULL AND scrim_channel_sets.teardown_due_at IS NULL").
		Where("scrims.status IN ? AND scrims.updated_at <= ?",
			[]string{models.ScrimStatusCompleted, models.ScrimStatusCancelled}, now.Add(-w.safetyGrace)).
		Find(&orphaned).Error
	if err != nil {
		log.Printf("[TEARDOWN] DB error listing orphaned channel sets: %v", err)
	} else {
		due = append(due, orphaned...)
	}

	for _, handle := range due {
		var scrim models.Scrim
		if err := w.db.First(&scrim, "id = ?", handle.ScrimID).Error; err != nil {
			log.Printf("[TEARDOWN] Failed to load scrim %s: %v", handle.ScrimID, err)
			continue
		}

		if !scrim.IsTerminal() {
			log.Printf("[TEARDOWN] Scrim %s is back in status %s, keeping channels", scrim.ID, scrim.Status)
			w.db.Model(&models.ScrimChannelSet{}).
				Where("scrim_id = ?", handle.ScrimID).
				Update("teardown_due_at", nil)
			continue
		}

		if err := w.orchestrator.Teardown(ctx, handle.ScrimID); err != nil {
			// Teardown failures stay un-stamped; the next sweep retries.
			log.Printf("[TEARDOWN] Teardown incomplete for scrim %s: %v", handle.ScrimID, err)
		} else {
			log.Printf("✅ Tore down channels for scrim %s", handle.ScrimID)
		}
	}
}
