package services

import (
	"strings"

	"scrim-coordination-system/models"
)

// Check names a single eligibility requirement category.
type Check string

const (
	CheckDiscordLink      Check = "discord_link"
	CheckApexVerification Check = "apex_verification"
	CheckLevelMin         Check = "level_min"
	CheckLevelMax         Check = "level_max"
	CheckRankScoreMin     Check = "rank_score_min"
	CheckRankScoreMax     Check = "rank_score_max"
	CheckRankTier         Check = "rank_tier"
)

// checkOrder fixes the evaluation (and failure reporting) order.
var checkOrder = []Check{
	CheckDiscordLink,
	CheckApexVerification,
	CheckLevelMin,
	CheckLevelMax,
	CheckRankScoreMin,
	CheckRankScoreMax,
	CheckRankTier,
}

// Requirements is the per-scrim predicate set. Nil bounds and an empty
// tier list are unrestricted.
type Requirements struct {
	RequireDiscord   bool
	RequireApex      bool
	MinLevel         *int
	MaxLevel         *int
	MinRankScore     *int
	MaxRankScore     *int
	AllowedRankTiers []string
}

// RosterEntry holds the externally-sourced facts for one team member.
// The roster must be fully materialized before evaluation; Evaluate
// performs no I/O.
type RosterEntry struct {
	UserID        string
	Username      string
	DiscordID     string // guild member id, empty when unlinked
	DiscordLinked bool
	ApexVerified  bool
	Level         int
	RankScore     int
	RankTier      string
}

type EligibilityResult struct {
	Admitted     bool    `json:"admitted"`
	FailedChecks []Check `json:"failed_checks,omitempty"`
}

// RequirementsFromScrim converts the stored scrim fields into the
// evaluator's requirement set.
func RequirementsFromScrim(s *models.Scrim) Requirements {
	req := Requirements{
		RequireDiscord: s.RequireDiscord,
		RequireApex:    s.RequireApex,
		MinLevel:       s.MinLevel,
		MaxLevel:       s.MaxLevel,
		MinRankScore:   s.MinRankScore,
		MaxRankScore:   s.MaxRankScore,
	}
	for _, tier := range strings.Split(s.AllowedRankTiers, ",") {
		tier = strings.TrimSpace(tier)
		if tier != "" {
			req.AllowedRankTiers = append(req.AllowedRankTiers, tier)
		}
	}
	return req
}

// Evaluate runs each enabled check against every roster entry. A
// category fails for the team when any member fails it; the weakest
// member determines team eligibility. Disabled categories are skipped.
// All failed checks are reported, not just the first, so a team can fix
// everything in one pass. An empty roster passes vacuously; rejecting
// empty teams is a structural concern handled by the caller.
func Evaluate(req Requirements, roster []RosterEntry) EligibilityResult {
	var failed []Check
	for _, check := range checkOrder {
		pred, enabled := checkPredicate(req, check)
		if !enabled {
			continue
		}
		for _, entry := range roster {
			if !pred(entry) {
				failed = append(failed, check)
				break
			}
		}
	}
	return EligibilityResult{Admitted: len(failed) == 0, FailedChecks: failed}
}

// EnabledChecks lists the checks the requirement set actually enforces,
// in evaluation order. Used to freeze the admission snapshot.
func EnabledChecks(req Requirements) []Check {
	var enabled []Check
	for _, check := range checkOrder {
		if _, on := checkPredicate(req, check); on {
			enabled = append(enabled, check)
		}
	}
	return enabled
}

func checkPredicate(req Requirements, check Check) (func(RosterEntry) bool, bool) {
	switch check {
	case CheckDiscordLink:
		return func(e RosterEntry) bool { return e.DiscordLinked }, req.RequireDiscord
	case CheckApexVerification:
		return func(e RosterEntry) bool { return e.ApexVerified }, req.RequireApex
	case CheckLevelMin:
		if req.MinLevel == nil {
			return nil, false
		}
		return func(e RosterEntry) bool { return e.Level >= *req.MinLevel }, true
	case CheckLevelMax:
		if req.MaxLevel == nil {
			return nil, false
		}
		return func(e RosterEntry) bool { return e.Level <= *req.MaxLevel }, true
	case CheckRankScoreMin:
		if req.MinRankScore == nil {
			return nil, false
		}
		return func(e RosterEntry) bool { return e.RankScore >= *req.MinRankScore }, true
	case CheckRankScoreMax:
		if req.MaxRankScore == nil {
			return nil, false
		}
		return func(e RosterEntry) bool { return e.RankScore <= *req.MaxRankScore }, true
	case CheckRankTier:
		if len(req.AllowedRankTiers) == 0 {
			return nil, false
		}
		allowed := make(map[string]bool, len(req.AllowedRankTiers))
		for _, tier := range req.AllowedRankTiers {
			allowed[tier] = true
		}
		return func(e RosterEntry) bool { return allowed[e.RankTier] }, true
	}
	return nil, false
}
