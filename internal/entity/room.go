// Structure of Room Model in Carewire.

package entity

import "time"

// Kind of an activity log entry.
type ActivityType string

const (
	ActivityJoin    ActivityType = "JOIN"
	ActivityLeave   ActivityType = "LEAVE"
	ActivityMessage ActivityType = "MESSAGE"
	ActivityError   ActivityType = "ERROR"
)

// ActivityEntry is one row of a room's bounded activity log.
type ActivityEntry struct {
	Type       ActivityType `json:"type"`
	SessionID  string       `json:"session_id"`
	IdentityID string       `json:"identity_id,omitempty"`
	At         time.Time    `json:"at"`
	Detail     string       `json:"detail,omitempty"`
}

// Room groups the sessions receiving broadcasts for one patient.
// Created on first join, destroyed on last-member departure, idle reap or
// administrative deletion.
type Room struct {
	Key          string
	CreatedAt    time.Time
	LastActivity time.Time
	Members      map[string]struct{}
	Activity     []ActivityEntry
}

// RoomInfo is the read-model of a room served by the stats accessors.
type RoomInfo struct {
	Key          string    `json:"key"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MemberCount  int       `json:"member_count"`
}
