package model

import "time"

// scopeHalfLifeDays is the staleness half-life table from the data model:
// a decision is stale once now - max(last_reviewed_at, created_at) exceeds
// its scope's threshold.
var scopeHalfLifeDays = map[Scope]int{
	ScopeStrategic:     730,
	ScopeArchitectural: 180,
	ScopeLibrary:       90,
	ScopeConfig:        30,
	ScopeOperational:   14,
	ScopeUnknown:       90,
}

// StalenessThreshold returns the half-life for a scope, defaulting to the
// unknown-scope value for any scope not in the table.
func StalenessThreshold(s Scope) time.Duration {
	days, ok := scopeHalfLifeDays[s]
	if !ok {
		days = scopeHalfLifeDays[ScopeUnknown]
	}
	return time.Duration(days) * 24 * time.Hour
}

// IsStale reports whether a decision with the given scope, created_at, and
// optional last_reviewed_at is stale as of now.
func IsStale(scope Scope, createdAt time.Time, lastReviewedAt *time.Time, now time.Time) bool {
	anchor := createdAt
	if lastReviewedAt != nil && lastReviewedAt.After(anchor) {
		anchor = *lastReviewedAt
	}
	return now.Sub(anchor) > StalenessThreshold(scope)
}
