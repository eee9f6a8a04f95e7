package db

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a user or plant row does not exist.
var ErrNotFound = errors.New("not found")

// DefaultWateringIntervalDays is used when a plant has no usable interval.
const DefaultWateringIntervalDays = 1

// User is the owner of plants and the holder of push destinations.
//
// Destinations were historically stored in two shapes: the push_tokens array
// and the older single push_token column. Callers should read them through
// Destinations rather than touching either field.
type User struct {
	ID         string    `json:"id"`
	PushTokens []string  `json:"push_tokens"`
	PushToken  *string   `json:"push_token,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Destinations returns the user's push destinations with both storage shapes
// merged, blanks dropped and duplicates removed. Order follows first appearance.
func (u *User) Destinations() []string {
	raw := make([]string, 0, len(u.PushTokens)+1)
	raw = append(raw, u.PushTokens...)
	if u.PushToken != nil {
		raw = append(raw, *u.PushToken)
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, token := range raw {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

// Plant is a watering schedule owned by exactly one user.
type Plant struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id"`
	Name                 string     `json:"name"`
	WateringIntervalDays int        `json:"watering_interval_days"`
	NextDueAt            *time.Time `json:"next_due_at,omitempty"`
	LastNotifiedAt       *time.Time `json:"last_notified_at,omitempty"`
	LastWateredAt        *time.Time `json:"last_watered_at,omitempty"`
}

// Interval returns the watering interval in days, falling back to
// DefaultWateringIntervalDays when the stored value is missing or not positive.
func (p *Plant) Interval() int {
	if p.WateringIntervalDays <= 0 {
		return DefaultWateringIntervalDays
	}
	return p.WateringIntervalDays
}
