package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ListingStatus is the normalized form of the vendor's free-text status.
type ListingStatus string

const (
	StatusActive        ListingStatus = "active"
	StatusUnderContract ListingStatus = "under_contract"
	StatusSold          ListingStatus = "sold"
	StatusUnknown       ListingStatus = "unknown"
)

// ParseStatus maps a raw MLS status ("Active Under Contract", "Pending",
// "Closed", ...) onto ListingStatus. Matching is case-insensitive substring.
func ParseStatus(raw string) ListingStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	compact := strings.Join(strings.Fields(s), "")
	switch {
	case s == "":
		return StatusUnknown
	case strings.Contains(s, "contract"), strings.Contains(s, "pending"):
		return StatusUnderContract
	case strings.Contains(s, "sold"), strings.Contains(s, "closed"):
		return StatusSold
	case strings.Contains(s, "active"), strings.Contains(compact, "comingsoon"):
		return StatusActive
	default:
		return StatusUnknown
	}
}

// IsStrictlyActive reports whether a raw status survives active-only mode.
// A missing status does not.
func IsStrictlyActive(raw string) bool {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return false
	}
	for _, word := range []string{"contract", "pending", "sold"} {
		if strings.Contains(s, word) {
			return false
		}
	}
	return true
}

func (s ListingStatus) Valid() bool {
	switch s {
	case StatusActive, StatusUnderContract, StatusSold, StatusUnknown:
		return true
	}
	return false
}

// CachedProperty is one row of the property cache. PropertyData holds the
// vendor record untouched.
type CachedProperty struct {
	ListingID    string          `json:"listing_id" db:"listing_id"`
	PropertyData json.RawMessage `json:"property_data" db:"property_data"`
	Status       ListingStatus   `json:"status" db:"status"`
	ContentHash  string          `json:"-" db:"content_hash"`
	LastUpdated  time.Time       `json:"last_updated" db:"last_updated"`
	IsActive     bool            `json:"is_active" db:"is_active"`
}

type PropertyFilter struct {
	Status          ListingStatus // empty = any
	IncludeInactive bool
	Limit           int
	Offset          int
}

type CacheStats struct {
	Total         int        `json:"total"`
	Active        int        `json:"active"`
	UnderContract int        `json:"under_contract"`
	Inactive      int        `json:"inactive"`
	Newest        *time.Time `json:"newest_update"`
	Oldest        *time.Time `json:"oldest_update"`
}

type CacheStatus struct {
	CacheStats
	Region     string      `json:"region"`
	TTLSeconds int         `json:"ttl_seconds"`
	Stale      bool        `json:"stale"`
	Refreshing bool        `json:"refreshing"`
	LastRun    *RefreshRun `json:"last_run,omitempty"`
}
