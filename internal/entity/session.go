// Structure of Session Model in Carewire.

package entity

import (
	"sync"
	"time"
)

// Identity resolved out of the connection handshake.
type Identity struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Advisory latency classification of a live connection.
type ConnectionQuality string

const (
	QualityExcellent ConnectionQuality = "EXCELLENT"
	QualityGood      ConnectionQuality = "GOOD"
	QualityFair      ConnectionQuality = "FAIR"
	QualityPoor      ConnectionQuality = "POOR"
)

// Session is the server-side state of one live client connection.
// It is created on connection accept and survives transport loss for the
// configured retention window so queued events can be redelivered.
// Heartbeat, quality and room membership are mutated concurrently by the
// health monitor and the room registry, hence the internal lock.
type Session struct {
	ID          string
	Identity    *Identity
	ConnectedAt time.Time

	mu             sync.Mutex
	addr           string
	lastHeartbeat  time.Time
	heartbeatCount int
	reconnectCount int
	quality        ConnectionQuality
	rooms          map[string]struct{}
}

// NewSession constructs a fresh session for a connection from addr.
func NewSession(id string, addr string) *Session {
	return &Session{
		ID:          id,
		addr:        addr,
		ConnectedAt: time.Now(),
		quality:     QualityGood,
		rooms:       make(map[string]struct{}),
	}
}

// Addr returns the source address of the session's current transport.
func (s *Session) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// SetAddr rebinds the session to the address a resumed transport came from,
// so admission accounting releases the slot that is actually held.
func (s *Session) SetAddr(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addr = addr
}

// RecordHeartbeat stores the latest heartbeat round-trip result.
func (s *Session) RecordHeartbeat(at time.Time, quality ConnectionQuality) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = at
	s.heartbeatCount++
	s.quality = quality
}

// Heartbeat returns the latest heartbeat timestamp and the total count.
func (s *Session) Heartbeat() (time.Time, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat, s.heartbeatCount
}

// Quality returns the current advisory quality tier.
func (s *Session) Quality() ConnectionQuality {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quality
}

// MarkReconnected bumps and returns the reconnect counter.
func (s *Session) MarkReconnected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnectCount++
	return s.reconnectCount
}

// Reconnects returns how many times this session resumed a lost transport.
func (s *Session) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectCount
}

// AddRoom records a room membership on the session side.
func (s *Session) AddRoom(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[key] = struct{}{}
}

// RemoveRoom drops a room membership on the session side.
func (s *Session) RemoveRoom(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, key)
}

// InRoom reports whether the session currently holds membership in key.
func (s *Session) InRoom(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[key]
	return ok
}

// RoomKeys returns a snapshot of the session's room memberships.
func (s *Session) RoomKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.rooms))
	for key := range s.rooms {
		keys = append(keys, key)
	}
	return keys
}

// IdentityID returns the resolved identity id, empty until authenticated.
func (s *Session) IdentityID() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.ID
}
