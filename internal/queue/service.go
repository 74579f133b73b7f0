// Service layer of the internal package queue.
// Bounded per-session buffering of outbound events while a session is unreachable.

package queue

import (
	"Carewire/internal/entity"
	"Carewire/internal/errors"
	"Carewire/pkg/log"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conf carries the redelivery policy knobs.
type Conf struct {
	MaxLen      int              // queued messages allowed per session
	MaxAttempts int              // delivery attempts before a message is given up
	MaxAge      time.Duration    // message age before it expires
	Clock       func() time.Time // injectable clock for tests, nil => time.Now
}

func (c *Conf) norm() {
	if c.MaxLen <= 0 {
		c.MaxLen = 1000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 5 * time.Minute
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// FlushResult summarizes what happened to each message taken during a flush.
type FlushResult struct {
	Delivered int
	Expired   int
	Exhausted int
	Failed    int
}

// DeliverFunc attempts redelivery of one message to the session's transport.
type DeliverFunc func(event string, payload interface{}) error

// Service layer of internal package queue which encapsulates the offline
// delivery buffer of the Carewire gateway.
type Service interface {
	// Enqueue buffers an event for an unreachable session, fails with
	// CONNECTION_ERROR once the session's queue is full.
	Enqueue(ctx context.Context, sessionID string, event string, payload interface{}) error
	// Flush atomically takes the session's queue and redelivers it in
	// original enqueue order, single pass, best effort.
	Flush(ctx context.Context, sessionID string, deliver DeliverFunc) FlushResult
	// Drop discards a session's queue on session destruction.
	Drop(ctx context.Context, sessionID string)
	// Len returns the current queue length of a session.
	Len(sessionID string) int
	// Depths returns a snapshot of every non-empty queue's length.
	Depths() map[string]int
}

// Object of this will be passed around from main to routers to API.
// Helps to access the service layer interface and call methods.
type service struct {
	mu     sync.Mutex
	queues map[string][]*entity.QueuedMessage
	conf   Conf
	logger log.Logger
}

// Helps to access the service layer interface and call methods. Service object is passed from main.
func NewService(conf Conf, logger log.Logger) Service {
	conf.norm()
	return &service{
		queues: make(map[string][]*entity.QueuedMessage),
		conf:   conf,
		logger: logger,
	}
}

func (s *service) Enqueue(ctx context.Context, sessionID string, event string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[sessionID]
	if len(q) >= s.conf.MaxLen {
		// Callers decide whether to drop or escalate, the queue never grows unbounded
		s.logger.WithCtx(ctx).Warn().Msgf("Outbound queue full for session %s, rejecting %s", sessionID, event)
		return errors.ConnectionError("Outbound queue is full for this session.", map[string]interface{}{
			"reason": "queue full",
			"event":  event,
		})
	}
	s.queues[sessionID] = append(q, &entity.QueuedMessage{
		ID:       uuid.New().String(),
		Event:    event,
		Payload:  payload,
		QueuedAt: s.conf.Clock(),
	})
	return nil
}

func (s *service) Flush(ctx context.Context, sessionID string, deliver DeliverFunc) FlushResult {
	// Take the whole queue atomically, no secondary queuing happens below
	s.mu.Lock()
	taken := s.queues[sessionID]
	delete(s.queues, sessionID)
	s.mu.Unlock()

	var res FlushResult
	now := s.conf.Clock()
	for _, msg := range taken {
		if msg.Attempts >= s.conf.MaxAttempts {
			// Attempt-exhausted messages are dropped with a trace, never silently
			s.logger.WithCtx(ctx).Warn().Msgf("Dropping message %s (%s) for session %s, %d attempts exhausted",
				msg.ID, msg.Event, sessionID, msg.Attempts)
			res.Exhausted++
			continue
		}
		if now.Sub(msg.QueuedAt) > s.conf.MaxAge {
			s.logger.WithCtx(ctx).Warn().Msgf("Dropping message %s (%s) for session %s, older than %s",
				msg.ID, msg.Event, sessionID, s.conf.MaxAge)
			res.Expired++
			continue
		}
		msg.Attempts++
		if err := deliver(msg.Event, msg.Payload); err != nil {
			// Best effort, single pass: a failed redelivery is logged and gone
			s.logger.WithCtx(ctx).Error().Err(err).Msgf("Redelivery of message %s (%s) to session %s failed",
				msg.ID, msg.Event, sessionID)
			res.Failed++
			continue
		}
		res.Delivered++
	}
	return res
}

func (s *service) Drop(ctx context.Context, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[sessionID]; ok && len(q) > 0 {
		s.logger.WithCtx(ctx).Info().Msgf("Discarding %d queued messages of destroyed session %s", len(q), sessionID)
	}
	delete(s.queues, sessionID)
}

func (s *service) Len(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[sessionID])
}

func (s *service) Depths() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	depths := make(map[string]int, len(s.queues))
	for id, q := range s.queues {
		if len(q) > 0 {
			depths[id] = len(q)
		}
	}
	return depths
}
