// Service layer of the internal package admission.
// Per source address connection counting and event rate limiting.

package admission

import (
	"Carewire/internal/entity"
	"Carewire/internal/errors"
	"Carewire/pkg/log"
	"context"
	"sync"
	"time"
)

// Conf carries the admission policy knobs.
type Conf struct {
	MaxConnPerAddr     int              // concurrent connections allowed per address
	MaxEventsPerWindow int              // events allowed inside the rolling window
	EventWindow        time.Duration    // length of the rolling window
	Clock              func() time.Time // injectable clock for tests, nil => time.Now
}

func (c *Conf) norm() {
	if c.MaxConnPerAddr <= 0 {
		c.MaxConnPerAddr = 10
	}
	if c.MaxEventsPerWindow <= 0 {
		c.MaxEventsPerWindow = 100
	}
	if c.EventWindow <= 0 {
		c.EventWindow = 60 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Service layer of internal package admission which guards the gateway
// against connection and event floods from a single address.
type Service interface {
	// Admit accounts a new connection, fails with RATE_LIMIT_CONNECTIONS over the limit.
	Admit(ctx context.Context, addr string) error
	// CheckEvent accounts one inbound event, fails with RATE_LIMIT_EVENTS over the limit.
	CheckEvent(ctx context.Context, addr string) error
	// Release decrements the connection count, deleting drained records.
	Release(ctx context.Context, addr string)
	// Records returns the number of tracked addresses.
	Records() int
}

// Object of this will be passed around from main to routers to API.
// Helps to access the service layer interface and call methods.
type service struct {
	mu      sync.Mutex
	records map[string]*entity.AdmissionRecord
	conf    Conf
	logger  log.Logger
}

// Helps to access the service layer interface and call methods. Service object is passed from main.
func NewService(conf Conf, logger log.Logger) Service {
	conf.norm()
	return &service{
		records: make(map[string]*entity.AdmissionRecord),
		conf:    conf,
		logger:  logger,
	}
}

func (s *service) Admit(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[addr]
	if !ok {
		// Created lazily on first connection from this address
		rec = &entity.AdmissionRecord{}
		s.records[addr] = rec
	}
	if rec.Connections >= s.conf.MaxConnPerAddr {
		s.logger.WithCtx(ctx).Warn().Msgf("Rejected connection number %d from %s", rec.Connections+1, addr)
		return errors.RateLimitConnections("")
	}
	rec.Connections++
	return nil
}

func (s *service) CheckEvent(ctx context.Context, addr string) error {
	now := s.conf.Clock()
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[addr]
	if !ok {
		rec = &entity.AdmissionRecord{}
		s.records[addr] = rec
	}
	// Entries older than the rolling window are pruned lazily
	rec.Events = pruneWindow(rec.Events, now.Add(-s.conf.EventWindow))
	if len(rec.Events) >= s.conf.MaxEventsPerWindow {
		s.logger.WithCtx(ctx).Warn().Msgf("Event rate limit hit for %s", addr)
		return errors.RateLimitEvents("")
	}
	rec.Events = append(rec.Events, now)
	return nil
}

func (s *service) Release(ctx context.Context, addr string) {
	now := s.conf.Clock()
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[addr]
	if !ok {
		return
	}
	if rec.Connections > 0 {
		rec.Connections--
	}
	rec.Events = pruneWindow(rec.Events, now.Add(-s.conf.EventWindow))
	// Drop drained records to avoid unbounded growth from address churn
	if rec.Connections == 0 && len(rec.Events) == 0 {
		delete(s.records, addr)
	}
}

func (s *service) Records() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Helper to slice off timestamps which fell out of the rolling window.
func pruneWindow(events []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(events) && !events[idx].After(cutoff) {
		idx++
	}
	return events[idx:]
}
