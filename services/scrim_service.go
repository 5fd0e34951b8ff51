package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"scrim-coordination-system/models"
	"scrim-coordination-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const orchestrationTimeout = 30 * time.Second

// DefaultTeardownGrace is how long after results are recorded the
// scrim's channels stay up so participants can review the outcome.
const DefaultTeardownGrace = 5 * time.Minute

// ScrimService sequences eligibility, admission and orchestration. It
// owns no state of its own; it is the only component that calls more
// than one of the others in sequence. Orchestration always runs as
// detached work after the authoritative write commits.
type ScrimService struct {
	DB           *gorm.DB
	Admission    *AdmissionController
	Orchestrator *ChannelOrchestrator
	Roster       RosterSource

	// TeardownGrace delays channel teardown after results or
	// cancellation. Zero means DefaultTeardownGrace.
	TeardownGrace time.Duration

	// OnTeamAdmitted is the hook point for the surrounding
	// notification code (email dispatch). Called from the detached
	// orchestration path, never inline with the request.
	OnTeamAdmitted func(scrim models.Scrim, participant models.ScrimParticipant)

	orchWG sync.WaitGroup
}

func NewScrimService(db *gorm.DB, orch *ChannelOrchestrator, roster RosterSource) *ScrimService {
	return &ScrimService{
		DB:            db,
		Admission:     NewAdmissionController(db),
		Orchestrator:  orch,
		Roster:        roster,
		TeardownGrace: DefaultTeardownGrace,
	}
}

// dispatch runs fn detached from the request path with its own error
// boundary. The caller's response never waits on it.
func (s *ScrimService) dispatch(fn func(ctx context.Context)) {
	s.orchWG.Add(1)
	go func() {
		defer s.orchWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), orchestrationTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Drain waits for in-flight orchestration work. Used at shutdown and in
// tests.
func (s *ScrimService) Drain() {
	s.orchWG.Wait()
}

func (s *ScrimService) teardownGrace() time.Duration {
	if s.TeardownGrace > 0 {
		return s.TeardownGrace
	}
	return DefaultTeardownGrace
}

// CreateScrim handles POST /scrims (multipart form).
func (s *ScrimService) CreateScrim(c *fiber.Ctx) error {
	creatorID, _ := c.Locals("user_id").(string)
	title := strings.TrimSpace(c.FormValue("title"))
	game := strings.TrimSpace(c.FormValue("game"))
	scheduledAtStr := c.FormValue("scheduled_at")

	if title == "" || game == "" || scheduledAtStr == "" {
		return c.Status(400).JSON(fiber.Map{"error": "title, game, and scheduled_at are required"})
	}

	scheduledAt, err := time.Parse(time.RFC3339, scheduledAtStr)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid scheduled_at (use RFC3339)"})
	}

	maxTeams := 20
	if v := c.FormValue("max_teams"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 2 {
			maxTeams = n
		} else {
			return c.Status(400).JSON(fiber.Map{"error": "max_teams must be an integer >= 2"})
		}
	}

	parseBound := func(field string) (*int, error) {
		v := c.FormValue(field)
		if v == "" {
			return nil, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%s must be a non-negative integer", field)
		}
		return &n, nil
	}

	var bounds [4]*int
	for i, field := range []string{"min_level", "max_level", "min_rank_score", "max_rank_score"} {
		b, err := parseBound(field)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		bounds[i] = b
	}

	requireDiscord := strings.ToLower(c.FormValue("require_discord")) != "false"
	requireApex := strings.ToLower(c.FormValue("require_apex")) != "false"

	var bannerURL string
	if banner, err := c.FormFile("banner"); err == nil && banner.Size > 0 {
		ext := filepath.Ext(banner.Filename)
		if ext == "" {
			ext = ".jpg"
		}
		key := "scrims/banners/" + uuid.NewString() + ext
		url, err := utils.UploadFileToR2(banner, key)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": "failed to upload banner"})
		}
		bannerURL = url
	}

	scrim := models.Scrim{
		ID:               uuid.NewString(),
		Title:            title,
		Game:             game,
		ScheduledAt:      scheduledAt,
		CreatorID:        creatorID,
		Status:           models.ScrimStatusScheduled,
		BannerURL:        bannerURL,
		MaxTeams:         maxTeams,
		RequireDiscord:   requireDiscord,
		RequireApex:      requireApex,
		MinLevel:         bounds[0],
		MaxLevel:         bounds[1],
		MinRankScore:     bounds[2],
		MaxRankScore:     bounds[3],
		AllowedRankTiers: strings.TrimSpace(c.FormValue("allowed_rank_tiers")),
	}

	if err := s.DB.Create(&scrim).Error; err != nil {
		log.Printf("ERROR creating scrim: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "DB insert failed"})
	}

	s.dispatch(func(ctx context.Context) {
		if _, err := s.Orchestrator.Provision(ctx, scrim.ID); err != nil {
			return
		}
		s.Orchestrator.Notify(ctx, scrim.ID, fmt.Sprintf(
			"New scrim created: **%s**\nScheduled: %s\nGame: %s\nMax Teams: %d",
			scrim.Title, scrim.ScheduledAt.Format(time.RFC1123), scrim.Game, scrim.MaxTeams))
	})

	return c.Status(201).JSON(scrim)
}

// GetAllScrims handles GET /scrims.
func (s *ScrimService) GetAllScrims(c *fiber.Ctx) error {
	var scrims []models.Scrim
	err := s.DB.
		Preload("Channels").
		Order("scheduled_at DESC").
		Find(&scrims).Error
	if err != nil {
		log.Printf("ERROR fetching scrims: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to fetch scrims"})
	}
	return c.JSON(scrims)
}

// GetScrimByID handles GET /scrims/:id.
func (s *ScrimService) GetScrimByID(c *fiber.Ctx) error {
	id := c.Params("id")
	var scrim models.Scrim
	err := s.DB.
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at ASC")
		}).
		Preload("Channels").
		Preload("Matches.Results").
		First(&scrim, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "scrim not found"})
		}
		log.Printf("ERROR fetching scrim %s: %v", id, err)
		return c.Status(500).JSON(fiber.Map{"error": "DB error"})
	}

	confirmed, err := s.Admission.ConfirmedCount(id)
	if err == nil {
		scrim.ConfirmedCount = confirmed
		scrim.AvailableSlots = int64(scrim.MaxTeams) - confirmed
	}
	return c.JSON(scrim)
}

// JoinScrim handles POST /scrims/:id/join. Eligibility runs first on a
// materialized roster, then the atomic admission, then detached
// orchestration. An orchestration failure never unwinds the admission.
func (s *ScrimService) JoinScrim(c *fiber.Ctx) error {
	scrimID := c.Params("id")
	actingUserID, _ := c.Locals("user_id").(string)

	var req struct {
		TeamID string `json:"team_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.TeamID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "team_id is required"})
	}

	var team models.Team
	if err := s.DB.First(&team, "id = ?", req.TeamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "team not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error fetching team"})
	}

	if _, ok := s.memberRole(req.TeamID, actingUserID); !ok {
		return c.Status(403).JSON(fiber.Map{"error": "you are not a member of this team"})
	}

	var scrim models.Scrim
	if err := s.DB.First(&scrim, "id = ?", scrimID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "scrim not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error fetching scrim"})
	}

	roster, err := s.Roster.TeamRoster(req.TeamID)
	if err != nil {
		log.Printf("ERROR materializing roster for team %s: %v", req.TeamID, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to load team roster"})
	}
	if len(roster) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "team has no members"})
	}

	requirements := RequirementsFromScrim(&scrim)
	result := Evaluate(requirements, roster)
	if !result.Admitted {
		eligErr := &EligibilityError{FailedChecks: result.FailedChecks}
		return c.Status(403).JSON(fiber.Map{
			"error":         eligErr.Error(),
			"failed_checks": eligErr.FailedChecks,
		})
	}

	participant, err := s.Admission.TryAdmit(scrimID, req.TeamID, snapshotChecks(requirements, result))
	if err != nil {
		switch {
		case errors.Is(err, ErrScrimNotFound):
			return c.Status(404).JSON(fiber.Map{"error": "scrim not found"})
		case errors.Is(err, ErrScrimFull):
			return c.Status(409).JSON(fiber.Map{"error": "scrim is full"})
		case errors.Is(err, ErrAlreadyAdmitted):
			return c.Status(409).JSON(fiber.Map{"error": "team is already participating in this scrim"})
		case errors.Is(err, ErrScrimNotJoinable):
			return c.Status(409).JSON(fiber.Map{"error": "scrim is not accepting teams"})
		default:
			log.Printf("ERROR admitting team %s to scrim %s: %v", req.TeamID, scrimID, err)
			return c.Status(500).JSON(fiber.Map{"error": "failed to join scrim"})
		}
	}

	// Admission is durable; everything from here on is best-effort.
	admitted := *participant
	s.dispatch(func(ctx context.Context) {
		if _, err := s.Orchestrator.Provision(ctx, scrimID); err == nil {
			for _, entry := range roster {
				if entry.DiscordID != "" {
					s.Orchestrator.Relocate(ctx, entry.DiscordID, admitted.Slot, scrimID)
				}
			}
			registered, _ := s.Admission.ConfirmedCount(scrimID)
			s.Orchestrator.Notify(ctx, scrimID, fmt.Sprintf(
				"**%s** has joined the scrim! Teams registered: %d/%d",
				team.Name, registered, scrim.MaxTeams))
		}
		if s.OnTeamAdmitted != nil {
			s.OnTeamAdmitted(scrim, admitted)
		}
	})

	return c.Status(201).JSON(fiber.Map{
		"message":     "joined scrim successfully",
		"participant": participant,
		"team_name":   team.Name,
	})
}

// LeaveScrim handles DELETE /scrims/:id/teams/:team_id. Only the team
// owner or a manager may withdraw the team.
func (s *ScrimService) LeaveScrim(c *fiber.Ctx) error {
	scrimID := c.Params("id")
	teamID := c.Params("team_id")
	actingUserID, _ := c.Locals("user_id").(string)

	role, ok := s.memberRole(teamID, actingUserID)
	if !ok || !models.CanManageTeam(role) {
		return c.Status(403).JSON(fiber.Map{
			"error": fmt.Sprintf("%s: only the team owner or a manager can withdraw the team", ErrNotAuthorized),
		})
	}

	if err := s.Admission.Withdraw(scrimID, teamID); err != nil {
		switch {
		case errors.Is(err, ErrScrimNotFound):
			return c.Status(404).JSON(fiber.Map{"error": "scrim not found"})
		case errors.Is(err, ErrNotParticipant):
			return c.Status(404).JSON(fiber.Map{"error": "team is not participating in this scrim"})
		default:
			log.Printf("ERROR withdrawing team %s from scrim %s: %v", teamID, scrimID, err)
			return c.Status(500).JSON(fiber.Map{"error": "failed to leave scrim"})
		}
	}

	s.dispatch(func(ctx context.Context) {
		s.Orchestrator.Notify(ctx, scrimID, "A team has withdrawn from the scrim.")
	})

	return c.JSON(fiber.Map{"message": "left scrim successfully"})
}

// StartMatch handles POST /scrims/:id/start. Creator only; moves the
// scrim to in_progress and opens a match.
func (s *ScrimService) StartMatch(c *fiber.Ctx) error {
	scrimID := c.Params("id")
	actingUserID, _ := c.Locals("user_id").(string)

	var req struct {
		MapName string `json:"map_name"`
	}
	_ = c.BodyParser(&req)

	var scrim models.Scrim
	if err := s.DB.First(&scrim, "id = ?", scrimID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "scrim not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error"})
	}
	if scrim.CreatorID != actingUserID {
		return c.Status(403).JSON(fiber.Map{"error": "only the creator can start the match"})
	}

	now := time.Now()
	match := models.Match{
		ID:        uuid.NewString(),
		ScrimID:   scrimID,
		MapName:   req.MapName,
		StartTime: &now,
	}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := TransitionScrim(tx, scrimID, scrim.Status, models.ScrimStatusInProgress, nil); err != nil {
			return err
		}
		return tx.Create(&match).Error
	})
	if err != nil {
		if errors.Is(err, ErrInvalidStateTransition) {
			return c.Status(409).JSON(fiber.Map{
				"error":  "scrim cannot start a match from its current status",
				"status": scrim.Status,
			})
		}
		log.Printf("ERROR starting match for scrim %s: %v", scrimID, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to start match"})
	}

	s.dispatch(func(ctx context.Context) {
		if _, err := s.Orchestrator.Provision(ctx, scrimID); err != nil {
			return
		}
		mapName := match.MapName
		if mapName == "" {
			mapName = "the selected map"
		}
		s.Orchestrator.Notify(ctx, scrimID, fmt.Sprintf(
			"**Match started!** Map: %s. Good luck to all teams!", mapName))
	})

	return c.Status(201).JSON(fiber.Map{"message": "match started", "match": match})
}

type resultEntry struct {
	TeamID     string `json:"team_id"`
	Placement  int    `json:"placement"`
	Score      int    `json:"score"`
	TotalKills int    `json:"total_kills"`
}

func validateResults(entries []resultEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: results must be a non-empty array", ErrInvalidResultsPayload)
	}
	for i, entry := range entries {
		if entry.TeamID == "" || entry.Placement < 1 {
			return fmt.Errorf("%w: results[%d] must have a team_id and a placement >= 1",
				ErrInvalidResultsPayload, i)
		}
	}
	return nil
}

// RecordResults handles POST /scrims/:id/results. Creator only;
// completes the scrim, persists the results, and schedules the
// deferred channel teardown. Teardown never runs inside this request.
func (s *ScrimService) RecordResults(c *fiber.Ctx) error {
	scrimID := c.Params("id")
	actingUserID, _ := c.Locals("user_id").(string)

	var req struct {
		Results []resultEntry `json:"results"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if err := validateResults(req.Results); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	var scrim models.Scrim
	if err := s.DB.First(&scrim, "id = ?", scrimID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "scrim not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error"})
	}
	if scrim.CreatorID != actingUserID {
		return c.Status(403).JSON(fiber.Map{"error": "only the creator can record results"})
	}

	now := time.Now()
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := TransitionScrim(tx, scrimID, scrim.Status, models.ScrimStatusCompleted,
			map[string]interface{}{"completed_at": &now}); err != nil {
			return err
		}

		var match models.Match
		err := tx.Where("scrim_id = ?", scrimID).Order("created_at DESC").First(&match).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			match = models.Match{ID: uuid.NewString(), ScrimID: scrimID, StartTime: &now}
			if err := tx.Create(&match).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if err := tx.Where("match_id = ?", match.ID).Delete(&models.MatchResult{}).Error; err != nil {
			return err
		}
		for _, entry := range req.Results {
			row := models.MatchResult{
				ID:         uuid.NewString(),
				MatchID:    match.ID,
				TeamID:     entry.TeamID,
				Placement:  entry.Placement,
				Score:      entry.Score,
				TotalKills: entry.TotalKills,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return tx.Model(&match).Update("end_time", &now).Error
	})
	if err != nil {
		if errors.Is(err, ErrInvalidStateTransition) {
			return c.Status(409).JSON(fiber.Map{
				"error":  "results can only be recorded for a scrim in progress",
				"status": scrim.Status,
			})
		}
		log.Printf("ERROR recording results for scrim %s: %v", scrimID, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to record results"})
	}

	grace := s.teardownGrace()
	s.Orchestrator.ScheduleTeardown(scrimID, now.Add(grace))

	s.dispatch(func(ctx context.Context) {
		s.Orchestrator.Notify(ctx, scrimID, fmt.Sprintf(
			"**Match results recorded.** GG to all participants! Channels close in %s.",
			grace.Round(time.Second)))
	})

	return c.JSON(fiber.Map{"message": "match results recorded"})
}

// CancelScrim handles POST /scrims/:id/cancel. Creator or admin; legal
// from any non-terminal state. No further admissions or matches are
// permitted afterwards.
func (s *ScrimService) CancelScrim(c *fiber.Ctx) error {
	scrimID := c.Params("id")
	actingUserID, _ := c.Locals("user_id").(string)
	roles, _ := c.Locals("user_roles").([]string)

	var scrim models.Scrim
	if err := s.DB.First(&scrim, "id = ?", scrimID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "scrim not found"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error"})
	}

	isAdmin := false
	for _, role := range roles {
		if role == "admin" {
			isAdmin = true
			break
		}
	}
	if scrim.CreatorID != actingUserID && !isAdmin {
		return c.Status(403).JSON(fiber.Map{"error": "only the creator or an admin can cancel the scrim"})
	}

	now := time.Now()
	err := TransitionScrim(s.DB, scrimID, scrim.Status, models.ScrimStatusCancelled,
		map[string]interface{}{"cancelled_at": &now})
	if err != nil {
		if errors.Is(err, ErrInvalidStateTransition) {
			return c.Status(409).JSON(fiber.Map{
				"error":  "scrim is already finished",
				"status": scrim.Status,
			})
		}
		log.Printf("ERROR cancelling scrim %s: %v", scrimID, err)
		return c.Status(500).JSON(fiber.Map{"error": "failed to cancel scrim"})
	}

	s.Orchestrator.ScheduleTeardown(scrimID, now)
	s.dispatch(func(ctx context.Context) {
		s.Orchestrator.Notify(ctx, scrimID, "This scrim has been cancelled.")
	})

	return c.JSON(fiber.Map{"message": "scrim cancelled"})
}

// GetScrimChannels handles GET /scrims/:id/channels. Exposes the
// provisioned handle including how many dedicated voice slots were
// actually created vs requested.
func (s *ScrimService) GetScrimChannels(c *fiber.Ctx) error {
	scrimID := c.Params("id")
	var handle models.ScrimChannelSet
	if err := s.DB.First(&handle, "scrim_id = ?", scrimID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "no channels provisioned for this scrim"})
		}
		return c.Status(500).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(handle)
}

// OrchestrationStats handles GET /orchestration/stats.
func (s *ScrimService) OrchestrationStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"failures": s.Orchestrator.FailureCounts()})
}

// memberRole returns the acting user's role within the team.
func (s *ScrimService) memberRole(teamID, userID string) (string, bool) {
	if userID == "" {
		return "", false
	}
	var member models.TeamMember
	err := s.DB.Where("team_id = ? AND user_id = ?", teamID, userID).First(&member).Error
	if err != nil {
		return "", false
	}
	return member.Role, true
}

// snapshotChecks freezes which enabled requirement categories passed at
// admission time, stored on the participant for audit.
func snapshotChecks(req Requirements, result EligibilityResult) string {
	failed := make(map[Check]bool, len(result.FailedChecks))
	for _, check := range result.FailedChecks {
		failed[check] = true
	}
	snapshot := make(map[Check]bool)
	for _, check := range EnabledChecks(req) {
		snapshot[check] = !failed[check]
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "{}"
	}
	return string(data)
}
