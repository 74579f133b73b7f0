// Service layer of the internal package gateway.
// Session lifecycle, the inbound event boundary and the emit API which the
// document-processing pipeline uses to push lifecycle events to clients.

package gateway

import (
	"Carewire/internal/admission"
	"Carewire/internal/config"
	"Carewire/internal/entity"
	"Carewire/internal/errors"
	"Carewire/internal/health"
	"Carewire/internal/identity"
	"Carewire/internal/queue"
	"Carewire/internal/room"
	"Carewire/pkg/log"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

// EventHandler processes one generic inbound event for business collaborators.
// Registered per event name; runs inside the gateway's timeout boundary.
type EventHandler func(ctx context.Context, sess *entity.Session, frame entity.Frame) error

// Service layer of internal package gateway which owns every live session of
// the Carewire notification layer.
type Service interface {
	// HandleConnection upgrades the request and runs the connection until
	// the transport closes.
	HandleConnection(gctx *gin.Context)
	// RegisterHandler attaches a business handler to a generic event name.
	RegisterHandler(event string, handler EventHandler)
	// EmitToSession pushes an event to one session, queueing while detached.
	EmitToSession(ctx context.Context, sessionID string, event string, payload interface{}) error
	// EmitToRoom pushes an event to every member of a room except the listed ones.
	EmitToRoom(ctx context.Context, key string, event string, payload interface{}, except ...string) error
	// DetachRoom clears a room membership from the session side bookkeeping.
	DetachRoom(ctx context.Context, sessionID string, roomKey string)
	// Ping implements health.Pinger over the session's transport.
	Ping(sessionID string, sentAt time.Time) error
	// Stats reports live gateway state for the observability endpoint.
	Stats(ctx context.Context) gin.H
	// Close shuts down every connection and the session sweeper.
	Close()
}

// sessionState pairs a session with its current transport.
// conn is nil while the session is detached waiting for a reconnect.
type sessionState struct {
	sess       *entity.Session
	mu         sync.Mutex
	conn       *conn
	detachedAt time.Time
}

func (st *sessionState) attach(c *conn) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.conn = c
	st.detachedAt = time.Time{}
}

func (st *sessionState) detach(now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.conn = nil
	st.detachedAt = now
}

func (st *sessionState) transport() (*conn, time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.conn, st.detachedAt
}

// Object of this will be passed around from main to routers to API.
// Helps to access the service layer interface and call methods.
type service struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState

	conf config.GatewayConf
	dev  bool

	identitySvc  identity.Service
	admissionSvc admission.Service
	healthSvc    health.Service
	queueSvc     queue.Service
	roomSvc      room.Service
	roomRepo     room.Repository

	hmu      sync.RWMutex
	handlers map[string]EventHandler

	upgrader websocket.Upgrader
	logger   log.Logger
	stopOnce sync.Once
	stopCh   chan struct{}
}

// Helps to access the service layer interface and call methods. Service object is passed from main.
// The returned service also implements room.Emitter and health.Pinger.
func NewService(conf config.GatewayConf, dev bool, identitySvc identity.Service, admissionSvc admission.Service,
	healthSvc health.Service, queueSvc queue.Service, roomSvc room.Service, roomRepo room.Repository,
	logger log.Logger) Service {
	conf.Norm()
	s := &service{
		sessions:     make(map[string]*sessionState),
		conf:         conf,
		dev:          dev,
		identitySvc:  identitySvc,
		admissionSvc: admissionSvc,
		healthSvc:    healthSvc,
		queueSvc:     queueSvc,
		roomSvc:      roomSvc,
		roomRepo:     roomRepo,
		handlers:     make(map[string]EventHandler),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
		stopCh: make(chan struct{}),
	}
	go s.sweeper()
	return s
}

// ===== connection lifecycle =====

func (s *service) HandleConnection(gctx *gin.Context) {
	addr := gctx.ClientIP()

	// Admission first, identity second, both before any room interaction
	if admerr := s.admissionSvc.Admit(gctx, addr); admerr != nil {
		gwerr := errors.Normalize(admerr)
		gctx.JSON(gwerr.Status, gwerr.Redacted(s.dev))
		return
	}
	ident, iderr := s.identitySvc.Resolve(gctx, gctx.Query("subjectId"))
	if iderr != nil {
		s.admissionSvc.Release(gctx, addr)
		gwerr := errors.Normalize(iderr)
		gctx.JSON(gwerr.Status, gwerr.Redacted(s.dev))
		return
	}

	st, resumed := s.adopt(gctx, gctx.Query("sessionId"), ident, addr)

	// The session id travels in a response header so clients can resume
	// after a transport drop and collect their queued events
	header := http.Header{}
	header.Set("X-Session-ID", st.sess.ID)
	ws, upgerr := s.upgrader.Upgrade(gctx.Writer, gctx.Request, header)
	if upgerr != nil {
		s.admissionSvc.Release(gctx, addr)
		s.logger.WithCtx(gctx).Error().Err(upgerr).Msg("Websocket upgrade failed")
		return
	}

	c := newConn(ws)
	st.attach(c)
	go c.writePump(s.logger)

	ws.SetPongHandler(func(appData string) error {
		if sentAt, ok := pongSentAt(appData); ok {
			s.healthSvc.Pong(st.sess.ID, sentAt)
		}
		return nil
	})
	s.healthSvc.Track(st.sess, s)

	if resumed {
		reconnects := st.sess.MarkReconnected()
		s.logger.WithCtx(gctx).Info().Msgf("Session %s reconnected (%d times so far)", st.sess.ID, reconnects)
		// Redeliver whatever queued up while the transport was gone,
		// original enqueue order, before live traffic interleaves
		res := s.queueSvc.Flush(gctx, st.sess.ID, func(event string, payload interface{}) error {
			return c.push(entity.Push{Event: event, Data: payload})
		})
		s.logger.WithCtx(gctx).Info().Msgf("Flushed queue of session %s: %+v", st.sess.ID, res)
	} else {
		s.logger.WithCtx(gctx).Info().Msgf("Session %s connected for subject %s from %s", st.sess.ID, ident.ID, addr)
	}

	s.readLoop(gctx, st, c)
}

// adopt resumes a retained detached session or registers a fresh one.
func (s *service) adopt(ctx context.Context, priorID string, ident entity.Identity, addr string) (*sessionState, bool) {
	if priorID != "" {
		s.mu.RLock()
		st, ok := s.sessions[priorID]
		s.mu.RUnlock()
		if ok {
			c, _ := st.transport()
			// Only a detached session of the same subject may be resumed
			if c == nil && st.sess.IdentityID() == ident.ID {
				st.sess.SetAddr(addr)
				return st, true
			}
		}
	}

	sess := entity.NewSession(xid.New().String(), addr)
	sess.Identity = &ident
	st := &sessionState{sess: sess, detachedAt: time.Now()}

	s.mu.Lock()
	s.sessions[sess.ID] = st
	s.mu.Unlock()

	_ = s.roomRepo.AddClient(ctx, s.logger, sess.ID)
	return st, false
}

// readLoop processes inbound frames in arrival order until the transport dies.
func (s *service) readLoop(ctx context.Context, st *sessionState, c *conn) {
	for {
		_, raw, readerr := c.ws.ReadMessage()
		if readerr != nil {
			s.disconnect(ctx, st, c, closeReason(readerr))
			return
		}
		s.dispatch(ctx, st, c, raw)
	}
}

// disconnect runs the transport-close path: a structured notice, then cleanup.
// The session object is retained for the retention window so queued events
// can still reach a reconnecting client.
func (s *service) disconnect(ctx context.Context, st *sessionState, c *conn, reason string) {
	notice := errors.ConnectionClosed(reason)
	// Best effort, the peer is usually already gone
	_ = c.push(entity.Push{Event: entity.EventDisconnectInfo, Data: entity.DisconnectInfo{
		Code:   notice.Code,
		Reason: notice.Message,
	}})
	c.close()

	s.healthSvc.Untrack(st.sess.ID)
	s.roomSvc.LeaveAll(ctx, st.sess)
	s.admissionSvc.Release(ctx, st.sess.Addr())
	_ = s.roomRepo.RemoveClient(ctx, s.logger, st.sess.ID)

	st.detach(time.Now())
	s.logger.WithCtx(ctx).Info().Msgf("Session %s disconnected: %s", st.sess.ID, reason)
}

// closeReason extracts a readable reason out of a websocket read error.
func closeReason(err error) string {
	if closeErr, ok := err.(*websocket.CloseError); ok {
		if closeErr.Text != "" {
			return closeErr.Text
		}
		return fmt.Sprintf("close code %d", closeErr.Code)
	}
	return err.Error()
}

// ===== inbound event boundary =====

// dispatch walks one inbound frame through the boundary state machine:
// validate, rate-check, then run the routed handler under the event timeout.
func (s *service) dispatch(ctx context.Context, st *sessionState, c *conn, raw []byte) {
	var frame entity.Frame
	if jsonerr := json.Unmarshal(raw, &frame); jsonerr != nil {
		s.reject(ctx, st, c, errors.EventValidationFailed("", map[string]interface{}{"cause": jsonerr.Error()}))
		return
	}
	if _, valerr := govalidator.ValidateStruct(frame); valerr != nil {
		verrs := valerr.(govalidator.Errors).Errors()
		s.reject(ctx, st, c, errors.GenerateValidationErrorResponse(verrs))
		return
	}

	if admerr := s.admissionSvc.CheckEvent(ctx, st.sess.Addr()); admerr != nil {
		// Fail closed: tell the client which limit tripped, then cut the
		// transport to bound resource use
		s.reject(ctx, st, c, errors.Normalize(admerr))
		c.close()
		return
	}

	if gwerr := s.runBounded(ctx, st.sess, frame); gwerr != nil {
		s.reject(ctx, st, c, *gwerr)
	}
}

// reject logs a boundary failure with full detail and surfaces the redacted
// form to the client on the error event.
func (s *service) reject(ctx context.Context, st *sessionState, c *conn, gwerr errors.ErrorResponse) {
	s.logger.WithCtx(ctx).Error().Err(gwerr).Msgf("Event boundary failure %s for session %s", gwerr.Code, st.sess.ID)
	s.roomSvc.LogError(ctx, st.sess, gwerr.Code)
	if pusherr := c.push(entity.Push{Event: entity.EventError, Data: gwerr.Redacted(s.dev)}); pusherr != nil {
		s.logger.WithCtx(ctx).Warn().Err(pusherr).Msgf("Couldn't surface error %s to session %s", gwerr.Code, st.sess.ID)
	}
}

// runBounded executes the routed handler under the event-handling timeout.
// A timed out event surfaces EVENT_TIMEOUT and processing continues, one
// slow event is not fatal to the connection.
func (s *service) runBounded(ctx context.Context, sess *entity.Session, frame entity.Frame) *errors.ErrorResponse {
	tctx, cancel := context.WithTimeout(ctx, s.conf.EventTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.InternalServerError(fmt.Sprintf("panic while handling %s: %v", frame.Event, r))
			}
		}()
		done <- s.route(tctx, sess, frame)
	}()

	select {
	case routeerr := <-done:
		if routeerr == nil {
			return nil
		}
		gwerr := errors.Normalize(routeerr)
		return &gwerr
	case <-tctx.Done():
		gwerr := errors.EventTimeout(frame.Event)
		return &gwerr
	}
}

// route maps an inbound event onto the registry commands or a registered
// business handler. Unknown events are logged and acknowledged as no-ops.
func (s *service) route(ctx context.Context, sess *entity.Session, frame entity.Frame) error {
	switch frame.Event {
	case entity.EventJoinPatientRoom:
		cmd, cmderr := parseRoomCommand(frame)
		if cmderr != nil {
			return cmderr
		}
		return s.roomSvc.Join(ctx, sess, cmd.Room)
	case entity.EventLeavePatientRoom:
		cmd, cmderr := parseRoomCommand(frame)
		if cmderr != nil {
			return cmderr
		}
		return s.roomSvc.Leave(ctx, sess, cmd.Room)
	default:
		// Generic inbound message: audit-logged in every room the session
		// holds membership in, then handed to business collaborators
		s.roomSvc.LogMessage(ctx, sess, frame.Event)
		s.hmu.RLock()
		handler, ok := s.handlers[frame.Event]
		s.hmu.RUnlock()
		if !ok {
			s.logger.WithCtx(ctx).Debug().Msgf("No handler registered for event %s, ignoring", frame.Event)
			return nil
		}
		if herr := handler(ctx, sess, frame); herr != nil {
			if gwerr, isgw := herr.(errors.ErrorResponse); isgw {
				return gwerr
			}
			return errors.EventHandlerError(fmt.Sprintf("Handler for %s failed: %s", frame.Event, herr.Error()))
		}
		return nil
	}
}

// parseRoomCommand decodes and validates a join/leave payload.
func parseRoomCommand(frame entity.Frame) (entity.RoomCommand, error) {
	var cmd entity.RoomCommand
	if jsonerr := json.Unmarshal(frame.Data, &cmd); jsonerr != nil {
		return cmd, errors.EventValidationFailed("", map[string]interface{}{"cause": jsonerr.Error()})
	}
	if _, valerr := govalidator.ValidateStruct(cmd); valerr != nil {
		verrs := valerr.(govalidator.Errors).Errors()
		return cmd, errors.GenerateValidationErrorResponse(verrs)
	}
	return cmd, nil
}

func (s *service) RegisterHandler(event string, handler EventHandler) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.handlers[event] = handler
}

// ===== emit API =====

func (s *service) EmitToSession(ctx context.Context, sessionID string, event string, payload interface{}) error {
	s.mu.RLock()
	st, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return errors.ConnectionError("Unknown session.", map[string]interface{}{"session_id": sessionID})
	}
	c, _ := st.transport()
	if c == nil {
		// Transport is gone but the session lives, buffer for redelivery
		return s.queueSvc.Enqueue(ctx, sessionID, event, payload)
	}
	return c.push(entity.Push{Event: event, Data: payload})
}

func (s *service) EmitToRoom(ctx context.Context, key string, event string, payload interface{}, except ...string) error {
	members, merr := s.roomSvc.Members(key)
	if merr != nil {
		return merr
	}
	skip := make(map[string]struct{}, len(except))
	for _, id := range except {
		skip[id] = struct{}{}
	}
	for _, sessionID := range members {
		if _, skipped := skip[sessionID]; skipped {
			continue
		}
		if emiterr := s.EmitToSession(ctx, sessionID, event, payload); emiterr != nil {
			s.logger.WithCtx(ctx).Warn().Err(emiterr).Msgf("Couldn't emit %s to session %s in room %s", event, sessionID, key)
		}
	}
	return nil
}

func (s *service) DetachRoom(ctx context.Context, sessionID string, roomKey string) {
	s.mu.RLock()
	st, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		st.sess.RemoveRoom(roomKey)
	}
}

// Ping implements health.Pinger over the session's current transport.
func (s *service) Ping(sessionID string, sentAt time.Time) error {
	s.mu.RLock()
	st, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return errors.ConnectionError("Unknown session.", nil)
	}
	c, _ := st.transport()
	if c == nil {
		return errors.ConnectionError("Session has no live transport.", nil)
	}
	return c.ping(sentAt)
}

// ===== observability =====

func (s *service) Stats(ctx context.Context) gin.H {
	s.mu.RLock()
	connected, detached := 0, 0
	qualities := map[entity.ConnectionQuality]int{}
	for _, st := range s.sessions {
		c, _ := st.transport()
		if c != nil {
			connected++
			qualities[st.sess.Quality()]++
		} else {
			detached++
		}
	}
	s.mu.RUnlock()

	return gin.H{
		"sessions_connected": connected,
		"sessions_detached":  detached,
		"quality":            qualities,
		"rooms":              s.roomSvc.Stats(),
		"queue_depths":       s.queueSvc.Depths(),
		"tracked_addresses":  s.admissionSvc.Records(),
	}
}

// ===== retention sweeping =====

// sweeper reaps detached sessions whose retention window elapsed, discarding
// their queues. Grounded on the same pattern as the room reaper: ticker plus
// stop channel owned by the gateway's lifecycle.
func (s *service) sweeper() {
	interval := s.conf.SessionRetention / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.sweepOnce(now)
		}
	}
}

func (s *service) sweepOnce(now time.Time) {
	cutoff := now.Add(-s.conf.SessionRetention)
	ctx := context.Background()

	s.mu.Lock()
	expired := make([]*sessionState, 0)
	for id, st := range s.sessions {
		c, detachedAt := st.transport()
		if c == nil && !detachedAt.IsZero() && detachedAt.Before(cutoff) {
			expired = append(expired, st)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, st := range expired {
		s.queueSvc.Drop(ctx, st.sess.ID)
		s.logger.Info().Msgf("Reaped detached session %s after retention window", st.sess.ID)
	}
}

func (s *service) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	states := make([]*sessionState, 0, len(s.sessions))
	for id, st := range s.sessions {
		states = append(states, st)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, st := range states {
		if c, _ := st.transport(); c != nil {
			c.close()
		}
	}
	s.healthSvc.Stop()
}
