// Service layer of the internal package health.
// Heartbeat probing and latency based quality classification per session.

package health

import (
	"Carewire/internal/entity"
	"Carewire/pkg/log"
	"sync"
	"time"
)

// Conf carries the heartbeat policy knobs.
type Conf struct {
	Interval    time.Duration // probe interval per live session
	ExcellentLt time.Duration // latency below this is EXCELLENT
	GoodLt      time.Duration // latency below this is GOOD
	FairLt      time.Duration // latency below this is FAIR, else POOR
}

func (c *Conf) norm() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.ExcellentLt <= 0 {
		c.ExcellentLt = 50 * time.Millisecond
	}
	if c.GoodLt <= 0 {
		c.GoodLt = 100 * time.Millisecond
	}
	if c.FairLt <= 0 {
		c.FairLt = 200 * time.Millisecond
	}
}

// Pinger sends a transport level heartbeat probe stamped with its send time.
// Implemented by the gateway's websocket connection wrapper.
type Pinger interface {
	Ping(sessionID string, sentAt time.Time) error
}

// Service layer of internal package health which owns one probe loop per
// tracked session. Quality is advisory only, the monitor never closes a
// session; a silent peer is the transport layer's liveness call.
type Service interface {
	// Track starts the heartbeat loop for a session.
	Track(sess *entity.Session, pinger Pinger)
	// Untrack cancels the heartbeat loop of a session, preventing leaks.
	Untrack(sessionID string)
	// Pong records a heartbeat reply, reclassifying the session's quality.
	Pong(sessionID string, sentAt time.Time)
	// Stop cancels every probe loop owned by the monitor.
	Stop()
}

type tracked struct {
	sess *entity.Session
	stop chan struct{}
}

// Object of this will be passed around from main to routers to API.
// Helps to access the service layer interface and call methods.
type service struct {
	mu      sync.Mutex
	tracked map[string]*tracked
	conf    Conf
	logger  log.Logger
}

// Helps to access the service layer interface and call methods. Service object is passed from main.
func NewService(conf Conf, logger log.Logger) Service {
	conf.norm()
	return &service{
		tracked: make(map[string]*tracked),
		conf:    conf,
		logger:  logger,
	}
}

func (s *service) Track(sess *entity.Session, pinger Pinger) {
	t := &tracked{sess: sess, stop: make(chan struct{})}

	s.mu.Lock()
	if prev, ok := s.tracked[sess.ID]; ok {
		// A reconnect replaced the transport, stop the stale loop first
		close(prev.stop)
	}
	s.tracked[sess.ID] = t
	s.mu.Unlock()

	go s.probe(t, pinger)
}

func (s *service) probe(t *tracked, pinger Pinger) {
	ticker := time.NewTicker(s.conf.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case now := <-ticker.C:
			if err := pinger.Ping(t.sess.ID, now); err != nil {
				// The transport will notice a dead peer on its own,
				// a failed probe is only worth a debug line here
				s.logger.Debug().Err(err).Msgf("Heartbeat probe failed for session %s", t.sess.ID)
			}
		}
	}
}

func (s *service) Untrack(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tracked[sessionID]; ok {
		close(t.stop)
		delete(s.tracked, sessionID)
	}
}

func (s *service) Pong(sessionID string, sentAt time.Time) {
	s.mu.Lock()
	t, ok := s.tracked[sessionID]
	s.mu.Unlock()
	if !ok {
		// Session got untracked between probe and reply
		return
	}
	now := time.Now()
	t.sess.RecordHeartbeat(now, Classify(now.Sub(sentAt), s.conf))
}

func (s *service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tracked {
		close(t.stop)
		delete(s.tracked, id)
	}
}

// Classify maps a heartbeat round-trip latency onto a quality tier.
// Pure function, boundary values fall into the worse bracket.
func Classify(latency time.Duration, conf Conf) entity.ConnectionQuality {
	conf.norm()
	switch {
	case latency < conf.ExcellentLt:
		return entity.QualityExcellent
	case latency < conf.GoodLt:
		return entity.QualityGood
	case latency < conf.FairLt:
		return entity.QualityFair
	default:
		return entity.QualityPoor
	}
}
