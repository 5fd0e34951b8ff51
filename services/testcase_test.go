package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"scrim-coordination-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoErrorf(t, err, "gorm.Open failed: %s", err)

	sqlitedb, err := db.DB()
	require.NoError(t, err)
	sqlitedb.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.Scrim{},
		&models.ScrimParticipant{},
		&models.ScrimChannelSet{},
		&models.Team{},
		&models.TeamMember{},
		&models.PlayerProfile{},
		&models.Match{},
		&models.MatchResult{},
	)
	require.NoErrorf(t, err, "Migration failed with: %s", err)

	return db
}

func intPtr(n int) *int {
	return &n
}

func seedScrim(t *testing.T, db *gorm.DB, maxTeams int) *models.Scrim {
	scrim := &models.Scrim{
		ID:          uuid.NewString(),
		Title:       "Friday Night Scrims",
		Game:        "apex",
		ScheduledAt: time.Now().Add(24 * time.Hour),
		CreatorID:   "creator-1",
		Status:      models.ScrimStatusScheduled,
		MaxTeams:    maxTeams,
	}
	require.NoError(t, db.Create(scrim).Error)
	return scrim
}

type seedMember struct {
	userID       string
	role         string
	discordID    string
	apexVerified bool
	level        int
	rankScore    int
	rankTier     string
}

func seedTeam(t *testing.T, db *gorm.DB, name string, members []seedMember) *models.Team {
	team := &models.Team{
		ID:      uuid.NewString(),
		Name:    name,
		OwnerID: members[0].userID,
	}
	require.NoError(t, db.Create(team).Error)

	for i, m := range members {
		require.NoError(t, db.Create(&models.TeamMember{
			ID:       uuid.NewString(),
			TeamID:   team.ID,
			UserID:   m.userID,
			Role:     m.role,
			JoinedAt: time.Now().Add(time.Duration(i) * time.Second),
		}).Error)
		require.NoError(t, db.Create(&models.PlayerProfile{
			ID:           uuid.NewString(),
			UserID:       m.userID,
			Username:     m.userID,
			DiscordID:    m.discordID,
			ApexVerified: m.apexVerified,
			Level:        m.level,
			RankScore:    m.rankScore,
			RankTier:     m.rankTier,
		}).Error)
	}
	return team
}

// fakeDiscordAPI records calls and can be told to fail per operation.
type fakeDiscordAPI struct {
	mu sync.Mutex

	nextID  int
	created []string
	deleted []string
	posts   []string
	moves   map[string]string // member id -> channel id

	failCreate  bool
	failPost    bool
	failDelete  map[string]bool
	failMove    error
}

func newFakeDiscordAPI() *fakeDiscordAPI {
	return &fakeDiscordAPI{
		moves:      make(map[string]string),
		failDelete: make(map[string]bool),
	}
}

func (f *fakeDiscordAPI) newChannel(prefix string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return "", fmt.Errorf("discord api (HTTP 503): service unavailable")
	}
	f.nextID++
	id := fmt.Sprintf("%s-%d", prefix, f.nextID)
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeDiscordAPI) CreateCategory(ctx context.Context, name string) (string, error) {
	return f.newChannel("cat")
}

func (f *fakeDiscordAPI) CreateTextChannel(ctx context.Context, name, parentID, topic string) (string, error) {
	return f.newChannel("text")
}

func (f *fakeDiscordAPI) CreateVoiceChannel(ctx context.Context, name, parentID string, userLimit int) (string, error) {
	return f.newChannel("voice")
}

func (f *fakeDiscordAPI) PostMessage(ctx context.Context, channelID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPost {
		return fmt.Errorf("discord api (HTTP 503): service unavailable")
	}
	f.posts = append(f.posts, content)
	return nil
}

func (f *fakeDiscordAPI) MoveMember(ctx context.Context, memberID, voiceChannelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMove != nil {
		return f.failMove
	}
	f.moves[memberID] = voiceChannelID
	return nil
}

func (f *fakeDiscordAPI) DeleteChannel(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete[channelID] {
		return fmt.Errorf("discord api (HTTP 500): internal error")
	}
	f.deleted = append(f.deleted, channelID)
	return nil
}

func (f *fakeDiscordAPI) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

func (f *fakeDiscordAPI) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}
