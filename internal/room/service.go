// Service layer of the internal package room.
// Membership tracking, activity logging, idle reaping and deletion broadcast
// for the per-patient notification rooms of Carewire.

package room

import (
	"Carewire/internal/entity"
	"Carewire/internal/errors"
	"Carewire/pkg/log"
	"context"
	"sort"
	"sync"
	"time"
)

// Conf carries the room registry knobs.
type Conf struct {
	ActivityLogMax int              // bounded activity ring size per room
	IdleThreshold  time.Duration    // rooms untouched beyond this get reaped
	ReapInterval   time.Duration    // period of the idle sweep
	Clock          func() time.Time // injectable clock for tests, nil => time.Now
}

func (c *Conf) norm() {
	if c.ActivityLogMax <= 0 {
		c.ActivityLogMax = 1000
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = 24 * time.Hour
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = time.Hour
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Emitter delivers gateway events to sessions. Implemented by the gateway
// service and attached after construction to break the wiring cycle.
type Emitter interface {
	// EmitToSession pushes an event to one session, queueing if detached.
	EmitToSession(ctx context.Context, sessionID string, event string, payload interface{}) error
	// DetachRoom removes a room membership from the session side bookkeeping.
	DetachRoom(ctx context.Context, sessionID string, roomKey string)
}

// Service layer of internal package room which encapsulates the channel
// registry of the Carewire gateway.
type Service interface {
	// AttachEmitter wires the gateway back in, must be called before Start.
	AttachEmitter(emitter Emitter)
	// Join adds a session to a room, lazily creating it, and notifies the
	// other members with an updated member count.
	Join(ctx context.Context, sess *entity.Session, key string) error
	// Leave removes a session from a room, deleting the room once empty.
	Leave(ctx context.Context, sess *entity.Session, key string) error
	// LeaveAll removes a session from every room it joined.
	LeaveAll(ctx context.Context, sess *entity.Session)
	// Delete administratively removes a room, notifying and detaching members.
	Delete(ctx context.Context, key string, reason string) error
	// LogMessage appends a MESSAGE activity entry to every room the session is in.
	LogMessage(ctx context.Context, sess *entity.Session, detail string)
	// LogError appends an ERROR activity entry to every room the session is in.
	LogError(ctx context.Context, sess *entity.Session, detail string)
	// Members returns the session ids currently joined to a room.
	Members(key string) ([]string, error)
	// Activity returns a copy of a room's bounded activity log.
	Activity(key string) ([]entity.ActivityEntry, error)
	// Stats returns the read-model of every live room.
	Stats() []entity.RoomInfo
	// Start launches the periodic idle-room reaper.
	Start(ctx context.Context)
	// Stop cancels the reaper.
	Stop()
}

// state wraps one room with its own lock; concurrent joins and leaves on the
// same room must not corrupt the member set or lose activity entries.
type state struct {
	mu      sync.Mutex
	room    entity.Room
	deleted bool // set under mu once the state left the registry, stale handles must not mutate it
}

// Object of this will be passed around from main to routers to API.
// Helps to access the service layer interface and call methods.
type service struct {
	mu       sync.RWMutex
	rooms    map[string]*state
	emitter  Emitter
	roomRepo Repository
	conf     Conf
	logger   log.Logger
	stopOnce sync.Once
	stopCh   chan struct{}
}

// Helps to access the service layer interface and call methods. Service object is passed from main.
func NewService(conf Conf, roomRepo Repository, logger log.Logger) Service {
	conf.norm()
	return &service{
		rooms:    make(map[string]*state),
		roomRepo: roomRepo,
		conf:     conf,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

func (s *service) AttachEmitter(emitter Emitter) {
	s.emitter = emitter
}

func (s *service) Join(ctx context.Context, sess *entity.Session, key string) error {
	if sess.Identity == nil {
		// The gateway rejects unauthenticated connections before any room
		// interaction, this guards against bookkeeping slips
		return errors.RoomAccessDenied("")
	}
	now := s.conf.Clock()

	var (
		memberCount int
		others      []string
	)
	for {
		s.mu.Lock()
		st, ok := s.rooms[key]
		if !ok {
			// Created lazily on first join
			st = &state{room: entity.Room{
				Key:          key,
				CreatedAt:    now,
				LastActivity: now,
				Members:      make(map[string]struct{}),
			}}
			s.rooms[key] = st
			s.logger.WithCtx(ctx).Info().Msgf("Created room %s", key)
		}
		s.mu.Unlock()

		st.mu.Lock()
		if st.deleted {
			// A concurrent last-leave or admin delete orphaned this state
			// between the registry lookup and the room lock, retry against
			// the registry
			st.mu.Unlock()
			continue
		}
		if _, member := st.room.Members[sess.ID]; member {
			// Joining twice is idempotent with respect to membership
			st.room.LastActivity = now
			st.mu.Unlock()
			return nil
		}
		st.room.Members[sess.ID] = struct{}{}
		st.room.LastActivity = now
		s.appendActivityLocked(st, entity.ActivityEntry{
			Type:       entity.ActivityJoin,
			SessionID:  sess.ID,
			IdentityID: sess.IdentityID(),
			At:         now,
		})
		memberCount = len(st.room.Members)
		others = s.membersExceptLocked(st, sess.ID)
		st.mu.Unlock()
		break
	}

	sess.AddRoom(key)
	// Mirror is advisory, failures are logged inside the repository
	_ = s.roomRepo.AddMember(ctx, s.logger, key, sess.ID)

	s.notify(ctx, others, entity.EventRoomUpdate, entity.RoomUpdate{Room: key, MemberCount: memberCount})
	return nil
}

func (s *service) Leave(ctx context.Context, sess *entity.Session, key string) error {
	s.mu.RLock()
	st, ok := s.rooms[key]
	s.mu.RUnlock()
	if !ok {
		return errors.RoomNotFound("")
	}
	now := s.conf.Clock()

	st.mu.Lock()
	if st.deleted {
		// Room vanished while we held a stale handle, just fix up the
		// session side bookkeeping
		st.mu.Unlock()
		sess.RemoveRoom(key)
		return nil
	}
	if _, member := st.room.Members[sess.ID]; !member {
		st.mu.Unlock()
		return nil
	}
	delete(st.room.Members, sess.ID)
	st.room.LastActivity = now
	s.appendActivityLocked(st, entity.ActivityEntry{
		Type:       entity.ActivityLeave,
		SessionID:  sess.ID,
		IdentityID: sess.IdentityID(),
		At:         now,
	})
	memberCount := len(st.room.Members)
	remaining := s.membersExceptLocked(st, sess.ID)
	if memberCount == 0 {
		// Marked while the lock that saw the empty member set is still
		// held, so a concurrent join retries instead of landing here
		st.deleted = true
	}
	st.mu.Unlock()

	sess.RemoveRoom(key)
	_ = s.roomRepo.RemoveMember(ctx, s.logger, key, sess.ID)

	if memberCount == 0 {
		// Last member departed, the room goes away right now instead of
		// waiting for the idle reaper
		s.removeRoom(ctx, key, st)
		return nil
	}
	s.notify(ctx, remaining, entity.EventRoomUpdate, entity.RoomUpdate{Room: key, MemberCount: memberCount})
	return nil
}

func (s *service) LeaveAll(ctx context.Context, sess *entity.Session) {
	for _, key := range sess.RoomKeys() {
		if err := s.Leave(ctx, sess, key); err != nil {
			s.logger.WithCtx(ctx).Error().Err(err).Msgf("Couldn't remove session %s from room %s", sess.ID, key)
		}
	}
}

func (s *service) Delete(ctx context.Context, key string, reason string) error {
	s.mu.RLock()
	st, ok := s.rooms[key]
	s.mu.RUnlock()
	if !ok {
		return errors.RoomNotFound("")
	}

	st.mu.Lock()
	// From here on no join may land in this state
	st.deleted = true
	members := s.membersExceptLocked(st, "")
	st.mu.Unlock()

	// Notify every member first, then force their transports out
	s.notify(ctx, members, entity.EventRoomDeleted, entity.RoomDeleted{Room: key, Reason: reason})
	for _, sessionID := range members {
		if s.emitter != nil {
			s.emitter.DetachRoom(ctx, sessionID, key)
		}
		_ = s.roomRepo.RemoveMember(ctx, s.logger, key, sessionID)
	}
	s.removeRoom(ctx, key, st)
	s.logger.WithCtx(ctx).Info().Msgf("Administratively deleted room %s with %d members", key, len(members))
	return nil
}

func (s *service) LogMessage(ctx context.Context, sess *entity.Session, detail string) {
	s.logActivity(sess, entity.ActivityMessage, detail)
}

func (s *service) LogError(ctx context.Context, sess *entity.Session, detail string) {
	s.logActivity(sess, entity.ActivityError, detail)
}

func (s *service) logActivity(sess *entity.Session, typ entity.ActivityType, detail string) {
	now := s.conf.Clock()
	for _, key := range sess.RoomKeys() {
		s.mu.RLock()
		st, ok := s.rooms[key]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		st.mu.Lock()
		st.room.LastActivity = now
		s.appendActivityLocked(st, entity.ActivityEntry{
			Type:       typ,
			SessionID:  sess.ID,
			IdentityID: sess.IdentityID(),
			At:         now,
			Detail:     detail,
		})
		st.mu.Unlock()
	}
}

func (s *service) Members(key string) ([]string, error) {
	s.mu.RLock()
	st, ok := s.rooms[key]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.RoomNotFound("")
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.membersExceptLocked(st, ""), nil
}

func (s *service) Activity(key string) ([]entity.ActivityEntry, error) {
	s.mu.RLock()
	st, ok := s.rooms[key]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.RoomNotFound("")
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	entries := make([]entity.ActivityEntry, len(st.room.Activity))
	copy(entries, st.room.Activity)
	return entries, nil
}

func (s *service) Stats() []entity.RoomInfo {
	s.mu.RLock()
	states := make([]*state, 0, len(s.rooms))
	for _, st := range s.rooms {
		states = append(states, st)
	}
	s.mu.RUnlock()

	infos := make([]entity.RoomInfo, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		infos = append(infos, entity.RoomInfo{
			Key:          st.room.Key,
			CreatedAt:    st.room.CreatedAt,
			LastActivity: st.room.LastActivity,
			MemberCount:  len(st.room.Members),
		})
		st.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

func (s *service) Start(ctx context.Context) {
	go s.reaper(ctx)
}

func (s *service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// ===== idle reaping =====

func (s *service) reaper(ctx context.Context) {
	ticker := time.NewTicker(s.conf.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.reapOnce(ctx, s.conf.Clock())
		}
	}
}

// reapOnce removes rooms whose last activity predates the idle threshold,
// members or not. A populated idle room means leaked bookkeeping, which is
// exactly what this safety net is for.
func (s *service) reapOnce(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-s.conf.IdleThreshold)

	s.mu.RLock()
	stale := make([]string, 0)
	for key, st := range s.rooms {
		st.mu.Lock()
		if st.room.LastActivity.Before(cutoff) {
			stale = append(stale, key)
		}
		st.mu.Unlock()
	}
	s.mu.RUnlock()

	for _, key := range stale {
		s.mu.RLock()
		st, ok := s.rooms[key]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		st.mu.Lock()
		st.deleted = true
		members := s.membersExceptLocked(st, "")
		st.mu.Unlock()
		if len(members) > 0 {
			s.logger.WithCtx(ctx).Warn().Msgf("Reaping idle room %s which still had %d members", key, len(members))
			s.notify(ctx, members, entity.EventRoomDeleted, entity.RoomDeleted{Room: key, Reason: "idle"})
			for _, sessionID := range members {
				if s.emitter != nil {
					s.emitter.DetachRoom(ctx, sessionID, key)
				}
				_ = s.roomRepo.RemoveMember(ctx, s.logger, key, sessionID)
			}
		} else {
			s.logger.WithCtx(ctx).Info().Msgf("Reaping idle room %s", key)
		}
		s.removeRoom(ctx, key, st)
	}
	return len(stale)
}

// ===== helpers =====

// appendActivityLocked appends to the bounded activity ring, oldest out first.
// Caller must hold st.mu.
func (s *service) appendActivityLocked(st *state, entry entity.ActivityEntry) {
	st.room.Activity = append(st.room.Activity, entry)
	if overflow := len(st.room.Activity) - s.conf.ActivityLogMax; overflow > 0 {
		st.room.Activity = st.room.Activity[overflow:]
	}
}

// membersExceptLocked snapshots the member set minus one session id.
// Caller must hold st.mu.
func (s *service) membersExceptLocked(st *state, except string) []string {
	members := make([]string, 0, len(st.room.Members))
	for id := range st.room.Members {
		if id != except {
			members = append(members, id)
		}
	}
	sort.Strings(members)
	return members
}

// removeRoom drops one state from the registry. The pointer comparison keeps
// a freshly recreated room under the same key alive when removal raced a join.
func (s *service) removeRoom(ctx context.Context, key string, st *state) {
	st.mu.Lock()
	st.deleted = true
	st.mu.Unlock()

	s.mu.Lock()
	if cur, ok := s.rooms[key]; ok && cur == st {
		delete(s.rooms, key)
	}
	s.mu.Unlock()
	_ = s.roomRepo.DeleteRoom(ctx, s.logger, key)
	s.logger.WithCtx(ctx).Info().Msgf("Removed room %s", key)
}

func (s *service) notify(ctx context.Context, sessionIDs []string, event string, payload interface{}) {
	if s.emitter == nil {
		return
	}
	for _, sessionID := range sessionIDs {
		if err := s.emitter.EmitToSession(ctx, sessionID, event, payload); err != nil {
			s.logger.WithCtx(ctx).Warn().Err(err).Msgf("Couldn't notify session %s with %s", sessionID, event)
		}
	}
}
