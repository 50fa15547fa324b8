package models

import (
	"fmt"
	"time"
)

// HourWindow restricts an action to a daily window of wall-clock hours.
// Start is inclusive, End exclusive. A window may not wrap midnight.
type HourWindow struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// Contains reports whether t's hour falls inside the window.
func (w HourWindow) Contains(t time.Time) bool {
	h := t.Hour()
	return h >= w.Start && h < w.End
}

// ConsentConditions are optional constraints attached to a grant.
type ConsentConditions struct {
	AllowedHours *HourWindow `json:"allowed_hours,omitempty" yaml:"allowed_hours,omitempty"`
	MaxPerDay    int         `json:"max_per_day,omitempty" yaml:"max_per_day,omitempty"`
}

// Consent is the single logical authorization record for one
// (user, action type) pair. Re-granting reuses the same record; revocation
// flips IsGranted and stamps RevokedAt.
type Consent struct {
	ID         string             `json:"id"`
	UserID     string             `json:"user_id"`
	ActionType string             `json:"action_type"`
	Scope      string             `json:"scope,omitempty"`
	IsGranted  bool               `json:"is_granted"`
	Conditions *ConsentConditions `json:"conditions,omitempty"`

	GrantedAt time.Time  `json:"granted_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	UseCount   int        `json:"use_count"`

	// DayUseCount tracks uses on UseDay (UTC date, RFC 3339 date form) for
	// the max_per_day condition. Reset when the date rolls over.
	DayUseCount int    `json:"day_use_count,omitempty"`
	UseDay      string `json:"use_day,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidAt reports whether the grant is usable at the given instant, ignoring
// usage-rate conditions.
func (c *Consent) ValidAt(now time.Time) (bool, string) {
	if c == nil || !c.IsGranted {
		return false, "no consent granted for this action"
	}
	if c.RevokedAt != nil {
		return false, "consent has been revoked"
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false, "consent has expired"
	}
	return true, ""
}

// CheckConditions evaluates the time-window condition at the given instant.
// The max_per_day cap is enforced atomically by the store, not here.
func (c *Consent) CheckConditions(now time.Time) (bool, string) {
	if c.Conditions == nil {
		return true, ""
	}
	if w := c.Conditions.AllowedHours; w != nil && !w.Contains(now) {
		return false, fmt.Sprintf("action only allowed between %02d:00 and %02d:00", w.Start, w.End)
	}
	return true, ""
}

// UseDayKey formats the UTC date used for per-day usage counting.
func UseDayKey(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
