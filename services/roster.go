package services

import (
	"gorm.io/gorm"
)

// RosterSource materializes the per-member facts the eligibility
// evaluator consumes. Implementations may serve stale data; callers
// that need freshness must refresh upstream first.
type RosterSource interface {
	TeamRoster(teamID string) ([]RosterEntry, error)
}

// DBRosterSource builds rosters from the locally synced player
// profiles (see workers.RosterSyncWorker). A member without a synced
// profile still yields an entry, with zero-valued facts; the evaluator
// then fails whichever checks the missing facts cannot satisfy.
type DBRosterSource struct {
	DB *gorm.DB
}

func NewDBRosterSource(db *gorm.DB) *DBRosterSource {
	return &DBRosterSource{DB: db}
}

func (r *DBRosterSource) TeamRoster(teamID string) ([]RosterEntry, error) {
	type row struct {
		UserID       string
		Username     string
		DiscordID    string
		ApexVerified bool
		Level        int
		RankScore    int
		RankTier     string
	}
	var rows []row
	err := r.DB.Raw(`
        SELECT
            tm.user_id,
            COALESCE(pp.username, '') AS username,
            COALESCE(pp.discord_id, '') AS discord_id,
            COALESCE(pp.apex_verified, FALSE) AS apex_verified,
            COALESCE(pp.level, 0) AS level,
            COALESCE(pp.rank_score, 0) AS rank_score,
            COALESCE(pp.rank_tier, 'Unranked') AS rank_tier
        FROM team_members tm
        LEFT JOIN player_profiles pp ON pp.user_id = tm.user_id
        WHERE tm.team_id = ?
        ORDER BY tm.joined_at ASC
    `, teamID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	roster := make([]RosterEntry, 0, len(rows))
	for _, row := range rows {
		roster = append(roster, RosterEntry{
			UserID:        row.UserID,
			Username:      row.Username,
			DiscordID:     row.DiscordID,
			DiscordLinked: row.DiscordID != "",
			ApexVerified:  row.ApexVerified,
			Level:         row.Level,
			RankScore:     row.RankScore,
			RankTier:      row.RankTier,
		})
	}
	return roster, nil
}
