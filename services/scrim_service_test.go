package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"scrim-coordination-system/middleware"
	"scrim-coordination-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type serviceTestCase struct {
	*testing.T
	db  *gorm.DB
	api *fakeDiscordAPI
	svc *ScrimService
	app *fiber.App
}

func newServiceTestCase(t *testing.T) *serviceTestCase {
	db := newTestDB(t)
	api := newFakeDiscordAPI()
	orch := NewChannelOrchestrator(db, api, "guild-1")
	svc := NewScrimService(db, orch, NewDBRosterSource(db))
	svc.TeardownGrace = time.Minute

	app := fiber.New()
	secured := app.Group("/", middleware.UserContextMiddleware())
	secured.Post("/scrims/:id/join", svc.JoinScrim)
	secured.Delete("/scrims/:id/teams/:team_id", svc.LeaveScrim)
	secured.Post("/scrims/:id/start", svc.StartMatch)
	secured.Post("/scrims/:id/results", svc.RecordResults)
	secured.Post("/scrims/:id/cancel", svc.CancelScrim)

	admin := secured.Group("/admin", middleware.RequireAdmin())
	admin.Get("/orchestration/stats", svc.OrchestrationStats)

	return &serviceTestCase{T: t, db: db, api: api, svc: svc, app: app}
}

func (tc *serviceTestCase) request(method, path, userID string, body interface{}) *http.Response {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(tc.T, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := tc.app.Test(req, -1)
	require.NoError(tc.T, err)
	return resp
}

func (tc *serviceTestCase) scrimStatus(scrimID string) string {
	var scrim models.Scrim
	require.NoError(tc.T, tc.db.First(&scrim, "id = ?", scrimID).Error)
	return scrim.Status
}

func eligibleTeam(tc *serviceTestCase, name string) *models.Team {
	return seedTeam(tc.T, tc.db, name, []seedMember{
		{userID: name + "-owner", role: models.TeamRoleOwner, discordID: "d-" + name + "-1",
			apexVerified: true, level: 100, rankScore: 5000, rankTier: "Platinum"},
		{userID: name + "-p2", role: models.TeamRolePlayer, discordID: "d-" + name + "-2",
			apexVerified: true, level: 90, rankScore: 4500, rankTier: "Gold"},
	})
}

func TestJoinScrimSucceeds(t *testing.T) {
	tc := newServiceTestCase(t)
	scrim := seedScrim(t, tc.db, 20)
	team := eligibleTeam(tc, "alpha")

	resp := tc.request("POST", "/scrims/"+scrim.ID+"/join", "alpha-owner",
		fiber.Map{"team_id": team.ID})
	assert.Equal(t, 201, resp.StatusCode)

	tc.svc.Drain()

	var participant models.ScrimParticipant
	require.NoError(t, tc.db.First(&participant, "scrim_id = ? AND team_id = ?", scrim.ID, team.ID).Error)
	assert.Equal(t, models.ParticipantStatusConfirmed, participant.Status)
	assert.Equal(t, 1, participant.Slot)
	assert.NotEmpty(t, participant.ChecksPassed)

	// Channels were provisioned and the join announced.
	var handle models.ScrimChannelSet
	require.NoError(t, tc.db.First(&handle, "scrim_id = ?", scrim.ID).Error)
	assert.Positive(t, tc.api.postCount())
}

// A completely dead external API must not affect the join outcome.
func TestJoinScrimSurvivesDiscordOutage(t *testing.T) {
	tc := newServiceTestCase(t)
	tc.api.failCreate = true
	tc.api.failPost = true
	scrim := seedScrim(t, tc.db, 20)
	team := eligibleTeam(tc, "alpha")

	resp := tc.request("POST", "/scrims/"+scrim.ID+"/join", "alpha-owner",
		fiber.Map{"team_id": team.ID})
	assert.Equal(t, 201, resp.StatusCode)

	tc.svc.Drain()

	var participant models.ScrimParticipant
	require.NoError(t, tc.db.First(&participant, "scrim_id = ? AND team_id = ?", scrim.ID, team.ID).Error)
	assert.Equal(t, models.ParticipantStatusConfirmed, participant.Status)

	counts := tc.svc.Orchestrator.FailureCounts()
	assert.Positive(t, counts["provision"])
}

func TestJoinScrimRejectsIneligibleTeamWithAllFailures(t *testing.T) {
	tc := newServiceTestCase(t)
	scrim := seedScrim(t, tc.db, 20)
	scrim.MinLevel = intPtr(150)
	scrim.AllowedRankTiers = "Diamond,Master"
	require.NoError(t, tc.db.Save(scrim).Error)

	team := eligibleTeam(tc, "alpha") // levels 100/90, Platinum/Gold

	resp := tc.request("POST", "/scrims/"+scrim.ID+"/join", "alpha-owner",
		fiber.Map{"team_id": team.ID})
	assert.Equal(t, 403, resp.StatusCode)

	var body struct {
		FailedChecks []Check `json:"failed_checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []Check{CheckLevelMin, CheckRankTier}, body.FailedChecks)

	var count int64
	tc.db.Model(&models.ScrimParticipant{}).Where("scrim_id = ?", scrim.ID).Count(&count)
	assert.Zero(t, count)
}

func TestJoinScrimRequiresTeamMembership(t *testing.T) {
	tc := newServiceTestCase(t)
	scrim := seedScrim(t, tc.db, 20)
	team := eligibleTeam(tc, "alpha")

	resp := tc.request("POST", "/scrims/"+scrim.ID+"/join", "stranger",
		fiber.Map{"team_id": team.ID})
	assert.Equal(t, 403, resp.StatusCode)
}

func TestJoinScrimDuplicateIsConflict(t *testing.T) {
	tc := newServiceTestCase(t)
	scrim := seedScrim(t, tc.db, 20)
	team := eligibleTeam(tc, "alpha")

	resp := tc.request("POST", "/scrims/"+scrim.ID+"/join", "alpha-owner",
		fiber.Map{"team_id": team.ID})
	require.Equal(t, 201, resp.StatusCode)

	resp = tc.request("POST", "/scrims/"+scrim.ID+"/join", "alpha-owner",
		fiber.Map{"team_id": team.ID})
	assert.Equal(t, 409, resp.StatusCode)
	tc.svc.Drain()
}

func TestLeaveScrimRequiresManagerRole(t *testing.T) {
	tc := newServiceTestCase(t)
	scrim := seedScrim(t, tc.db, 20)
	team := eligibleTeam(tc, "alpha")

	resp := tc.request("POST", "/scrims/"+scrim.ID+"/join", "alpha-owner",
		fiber.Map{"team_id": team.ID})
	require.Equal(t, 201, resp.StatusCode)

	// A plain player cannot withdraw the team.
	resp = tc.request("DELETE", fmt.Sprintf("/scrims/%s/teams/%s", scrim.ID, team.ID), "alpha-p2", nil)
	assert.Equal(t, 403, resp.StatusCode)

	// The owner can.
	resp = tc.request("DELETE", fmt.Sprintf("/scrims/%s/teams/%s", scrim.ID, team.ID), "alpha-owner", nil)
	assert.Equal(t, 200, resp.StatusCode)
	tc.svc.Drain()

	var participant models.ScrimParticipant
	require.NoError(t, tc.db.First(&participant, "scrim_id = ? AND team_id = ?", scrim.ID, team.ID).Error)
	assert.Equal(t, models.ParticipantStatusWithdrawn, participant.Status)
}

func TestStartMatchCreatorOnly(t *testing.T) {
	tc := newServiceTestCase(t)
	scrim := seedScrim(t, tc.db, 20)

	resp := tc.request("POST", "/scrims/"+scrim.ID+"/start", "not-the-creator", nil)
	assert.Equal(t, 403, resp.StatusCode)
	assert.Equal(t, models.ScrimStatusScheduled, tc.scrimStatus(scrim.ID))

	resp = tc.request("POST", "/scrims/"+scrim.ID+"/start", "creator-1",
		fiber.Map{"map_name": "Worlds Edge"})
	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, models.ScrimStatusInProgress, tc.scrimStatus(scrim.ID))
	tc.svc.Drain()

	var match models.Match
	require.NoError(t, tc.db.First(&match, "scrim_id = ?", scrim.ID).Error)
	assert.Equal(t, "Worlds Edge", match.MapName)
	require.NotNil(t, match.StartTime)
}

func TestRecordResultsBeforeStartIsRejectedUnchanged(t *testing.T) {
	tc := newServiceTestCase(t)
	scrim := seedScrim(t, tc.db, 20)

	resp := tc.request("POST", "/scrims/"+scrim.ID+"/results", "creator-1",
		fiber.Map{"results": []fiber.Map{{"team_id": "team-1", "placement": 1}}})
	assert.Equal(t, 409, resp.StatusCode)

	assert.Equal(t, models.ScrimStatusScheduled, tc.scrimStatus(scrim.ID))

	var count int64
	tc.db.Model(&models.MatchResult{}).Count(&count)
	assert.Zero(t, count)
}

func TestRecordResultsValidatesPayload(t *testing.T) {
	tc := newServiceTestCase(t)
	scrim := seedScrim(t, tc.db, 20)
	require.Equal(t, 201, tc.request("POST", "/scrims/"+scrim.ID+"/start", "creator-1", nil).StatusCode)

	for _, body := range []fiber.Map{
		{"results": []fiber.Map{}},
		{"results": []fiber.Map{{"team_id": "", "placement": 1}}},
		{"results": []fiber.Map{{"team_id": "team-1", "placement": 0}}},
	} {
		resp := tc.request("POST", "/scrims/"+scrim.ID+"/results", "creator-1", body)
		assert.Equal(t, 400, resp.StatusCode)
	}
	assert.Equal(t, models.ScrimStatusInProgress, tc.scrimStatus(scrim.ID))
	tc.svc.Drain()
}

func TestRecordResultsCompletesAndDefersTeardown(t *testing.T) {
	tc := newServiceTestCase(t)
	scrim := seedScrim(t, tc.db, 3)
	team := eligibleTeam(tc, "alpha")

	require.Equal(t, 201, tc.request("POST", "/scrims/"+scrim.ID+"/join", "alpha-owner",
		fiber.Map{"team_id": team.ID}).StatusCode)
	tc.svc.Drain()
	require.Equal(t, 201, tc.request("POST", "/scrims/"+scrim.ID+"/start", "creator-1", nil).StatusCode)

	resp := tc.request("POST", "/scrims/"+scrim.ID+"/results", "creator-1",
		fiber.Map{"results": []fiber.Map{
			{"team_id": team.ID, "placement": 1, "score": 25, "total_kills": 12},
		}})
	assert.Equal(t, 200, resp.StatusCode)
	tc.svc.Drain()

	assert.Equal(t, models.ScrimStatusCompleted, tc.scrimStatus(scrim.ID))

	var scrimRow models.Scrim
	require.NoError(t, tc.db.First(&scrimRow, "id = ?", scrim.ID).Error)
	require.NotNil(t, scrimRow.CompletedAt)

	var result models.MatchResult
	require.NoError(t, tc.db.First(&result, "team_id = ?", team.ID).Error)
	assert.Equal(t, 1, result.Placement)
	assert.Equal(t, 25, result.Score)

	// Teardown is scheduled for later, never executed in the request.
	var handle models.ScrimChannelSet
	require.NoError(t, tc.db.First(&handle, "scrim_id = ?", scrim.ID).Error)
	require.NotNil(t, handle.TeardownDueAt)
	assert.Nil(t, handle.TornDownAt)
	assert.Empty(t, tc.api.deletedIDs())
}

func TestCancelScrimAuthorization(t *testing.T) {
	tc := newServiceTestCase(t)
	scrim := seedScrim(t, tc.db, 20)

	resp := tc.request("POST", "/scrims/"+scrim.ID+"/cancel", "random-user", nil)
	assert.Equal(t, 403, resp.StatusCode)

	// An admin may cancel someone else's scrim.
	req := httptest.NewRequest("POST", "/scrims/"+scrim.ID+"/cancel", nil)
	req.Header.Set("X-User-ID", "moderator-1")
	req.Header.Set("X-User-Roles", "admin")
	adminResp, err := tc.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 200, adminResp.StatusCode)
	tc.svc.Drain()

	assert.Equal(t, models.ScrimStatusCancelled, tc.scrimStatus(scrim.ID))

	// Terminal: no further joins.
	team := eligibleTeam(tc, "alpha")
	resp = tc.request("POST", "/scrims/"+scrim.ID+"/join", "alpha-owner",
		fiber.Map{"team_id": team.ID})
	assert.Equal(t, 409, resp.StatusCode)
}

func TestOrchestrationStatsRequiresAdminRole(t *testing.T) {
	tc := newServiceTestCase(t)

	resp := tc.request("GET", "/admin/orchestration/stats", "regular-user", nil)
	assert.Equal(t, 403, resp.StatusCode)

	req := httptest.NewRequest("GET", "/admin/orchestration/stats", nil)
	req.Header.Set("X-User-ID", "operator-1")
	req.Header.Set("X-User-Roles", "admin")
	adminResp, err := tc.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 200, adminResp.StatusCode)
}

func TestCancelCompletedScrimIsConflict(t *testing.T) {
	tc := newServiceTestCase(t)
	scrim := seedScrim(t, tc.db, 20)
	require.Equal(t, 201, tc.request("POST", "/scrims/"+scrim.ID+"/start", "creator-1", nil).StatusCode)
	require.Equal(t, 200, tc.request("POST", "/scrims/"+scrim.ID+"/results", "creator-1",
		fiber.Map{"results": []fiber.Map{{"team_id": "team-1", "placement": 1}}}).StatusCode)
	tc.svc.Drain()

	resp := tc.request("POST", "/scrims/"+scrim.ID+"/cancel", "creator-1", nil)
	assert.Equal(t, 409, resp.StatusCode)
	assert.Equal(t, models.ScrimStatusCompleted, tc.scrimStatus(scrim.ID))
}
