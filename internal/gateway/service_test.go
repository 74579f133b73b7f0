// Gateway end to end tests in Carewire.
// A real gin server with real websocket clients, only the DB mirror is mocked.

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
	"Carewire/pkg/validations"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"
)

// Global instance of log.Logger to be used during gateway testing.
var logger log.Logger

// Global context
var ctx context.Context = context.Background()

const (
	mockServiceKey = "MockServiceKey"
	mockAdminKey   = "MockAdminKey"
)

// mirrorRepository swallows DB mirror writes during gateway tests.
type mirrorRepository struct{}

func (mirrorRepository) AddClient(ctx context.Context, logger log.Logger, sessionID string) error {
	return nil
}

func (mirrorRepository) RemoveClient(ctx context.Context, logger log.Logger, sessionID string) error {
	return nil
}

func (mirrorRepository) AddMember(ctx context.Context, logger log.Logger, roomKey string, sessionID string) error {
	return nil
}

func (mirrorRepository) RemoveMember(ctx context.Context, logger log.Logger, roomKey string, sessionID string) error {
	return nil
}

func (mirrorRepository) DeleteRoom(ctx context.Context, logger log.Logger, roomKey string) error {
	return nil
}

// harness wires a full gateway stack onto an httptest server.
type harness struct {
	srv      *httptest.Server
	gateway  Service
	roomSvc  room.Service
	queueSvc queue.Service
}

func (h *harness) teardown() {
	h.roomSvc.Stop()
	h.gateway.Close()
	h.srv.Close()
}

func (h *harness) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/api/gateway/connect?" + query
}

// Helper to build up a full gateway stack for testing Carewire.
func setupHarness(t *testing.T, conf config.GatewayConf) *harness {
	conf.Norm()

	identitySvc := identity.NewService("MockSigningSecret", logger)
	admissionSvc := admission.NewService(admission.Conf{
		MaxConnPerAddr:     conf.MaxConnPerAddr,
		MaxEventsPerWindow: conf.MaxEventsPerWindow,
		EventWindow:        conf.EventWindow,
	}, logger)
	healthSvc := health.NewService(health.Conf{
		Interval:    conf.HeartbeatInterval,
		ExcellentLt: conf.QualityExcellentLt,
		GoodLt:      conf.QualityGoodLt,
		FairLt:      conf.QualityFairLt,
	}, logger)
	queueSvc := queue.NewService(queue.Conf{
		MaxLen:      conf.MsgQueueMax,
		MaxAttempts: conf.MsgMaxAttempts,
		MaxAge:      conf.MsgMaxAge,
	}, logger)
	roomRepo := mirrorRepository{}
	roomSvc := room.NewService(room.Conf{
		ActivityLogMax: conf.ActivityLogMax,
		IdleThreshold:  conf.RoomIdleThreshold,
		ReapInterval:   conf.RoomReapInterval,
	}, roomRepo, logger)
	gw := NewService(conf, true, identitySvc, admissionSvc, healthSvc, queueSvc, roomSvc, roomRepo, logger)
	roomSvc.AttachEmitter(gw)

	adminHash, bcrerr := bcrypt.GenerateFromPassword([]byte(mockAdminKey), bcrypt.MinCost)
	if bcrerr != nil {
		t.Fatal(bcrerr)
	}
	serviceAuth := ServiceAuthMiddleware(logger, mockServiceKey)
	adminAuth := AdminAuthMiddleware(logger, string(adminHash))

	router := gin.New()
	APIHandlers(router, gw, serviceAuth, logger)
	room.APIHandlers(router, roomSvc, serviceAuth, adminAuth, logger)

	h := &harness{
		srv:      httptest.NewServer(router),
		gateway:  gw,
		roomSvc:  roomSvc,
		queueSvc: queueSvc,
	}
	t.Cleanup(h.teardown)
	return h
}

// dial opens a websocket client against the harness, failing the test on error.
func dial(t *testing.T, h *harness, query string) (*websocket.Conn, *http.Response) {
	ws, resp, dialerr := websocket.DefaultDialer.Dial(h.wsURL(query), nil)
	if dialerr != nil {
		t.Fatalf("dial failed: %v", dialerr)
	}
	t.Cleanup(func() { ws.Close() })
	return ws, resp
}

// dialFrom opens a websocket client presenting a forwarded client address,
// returning the dial error instead of failing the test.
func dialFrom(t *testing.T, h *harness, query string, addr string) (*websocket.Conn, *http.Response, error) {
	hdr := http.Header{"X-Forwarded-For": []string{addr}}
	ws, resp, dialerr := websocket.DefaultDialer.Dial(h.wsURL(query), hdr)
	if dialerr == nil {
		t.Cleanup(func() { ws.Close() })
	}
	return ws, resp, dialerr
}

// push mirrors the outbound wire format with an undecoded payload.
type push struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// readPush reads one outbound frame with a bounded wait.
func readPush(t *testing.T, ws *websocket.Conn) push {
	var p push
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	if readerr := ws.ReadJSON(&p); readerr != nil {
		t.Fatalf("expected a frame, got read error: %v", readerr)
	}
	return p
}

// sendFrame writes one inbound frame.
func sendFrame(t *testing.T, ws *websocket.Conn, event string, data interface{}) {
	payload, mrserr := json.Marshal(map[string]interface{}{"event": event, "data": data})
	if mrserr != nil {
		t.Fatal(mrserr)
	}
	if writeerr := ws.WriteMessage(websocket.TextMessage, payload); writeerr != nil {
		t.Fatal(writeerr)
	}
}

// waitFor polls a condition until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger = log.New("test")
	govalidator.SetFieldsRequiredByDefault(true)
	validations.RegisterCustomValidations(ctx, logger)
	os.Exit(m.Run())
}

func TestConnectWithoutSubjectIsRejected(t *testing.T) {
	h := setupHarness(t, config.GatewayConf{})

	resp, geterr := http.Get(h.srv.URL + "/api/gateway/connect")
	assert.NoError(t, geterr)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var gwerr errors.ErrorResponse
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&gwerr))
	assert.Equal(t, errors.CodeAuthMissingToken, gwerr.Code)
}

func TestConnectReturnsSessionIDHeader(t *testing.T) {
	h := setupHarness(t, config.GatewayConf{})

	_, resp := dial(t, h, "subjectId=patient-1")
	assert.NotEmpty(t, resp.Header.Get("X-Session-ID"))
}

func TestJoinBroadcastsRoomUpdate(t *testing.T) {
	h := setupHarness(t, config.GatewayConf{})

	alice, _ := dial(t, h, "subjectId=clinician-1")
	sendFrame(t, alice, entity.EventJoinPatientRoom, map[string]string{"room": "patient-123"})

	waitFor(t, func() bool {
		members, err := h.roomSvc.Members("patient-123")
		return err == nil && len(members) == 1
	}, "alice never joined patient-123")

	bob, _ := dial(t, h, "subjectId=clinician-2")
	sendFrame(t, bob, entity.EventJoinPatientRoom, map[string]string{"room": "patient-123"})

	// Only the prior member hears about the join
	p := readPush(t, alice)
	assert.Equal(t, entity.EventRoomUpdate, p.Event)
	var update entity.RoomUpdate
	assert.NoError(t, json.Unmarshal(p.Data, &update))
	assert.Equal(t, entity.RoomUpdate{Room: "patient-123", MemberCount: 2}, update)

	// Bob dropping the transport leaves the room behind with one member
	bob.Close()
	p = readPush(t, alice)
	assert.Equal(t, entity.EventRoomUpdate, p.Event)
	assert.NoError(t, json.Unmarshal(p.Data, &update))
	assert.Equal(t, entity.RoomUpdate{Room: "patient-123", MemberCount: 1}, update)

	members, err := h.roomSvc.Members("patient-123")
	assert.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestMalformedFrameSurfacesValidationError(t *testing.T) {
	h := setupHarness(t, config.GatewayConf{})

	ws, _ := dial(t, h, "subjectId=clinician-1")
	assert.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("this is not json")))

	p := readPush(t, ws)
	assert.Equal(t, entity.EventError, p.Event)
	var gwerr errors.ErrorResponse
	assert.NoError(t, json.Unmarshal(p.Data, &gwerr))
	assert.Equal(t, errors.CodeEventValidationFailed, gwerr.Code)

	// The connection survives a malformed frame
	assert.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{\"no\":\"event\"}")))
	p = readPush(t, ws)
	assert.Equal(t, entity.EventError, p.Event)
}

func TestParseRoomCommandValidation(t *testing.T) {
	frame := entity.Frame{Event: entity.EventJoinPatientRoom, Data: json.RawMessage(`{"room":"patient-123"}`)}
	cmd, err := parseRoomCommand(frame)
	assert.NoError(t, err)
	assert.Equal(t, "patient-123", cmd.Room)

	for _, room := range []string{"patient 123", "patient/123", ""} {
		frame.Data, _ = json.Marshal(map[string]string{"room": room})
		_, err = parseRoomCommand(frame)
		assert.Error(t, err, "room key %q must not validate", room)
	}
}

func TestJoinWithBadRoomKeyIsRejected(t *testing.T) {
	h := setupHarness(t, config.GatewayConf{})

	ws, _ := dial(t, h, "subjectId=clinician-1")
	sendFrame(t, ws, entity.EventJoinPatientRoom, map[string]string{"room": "no spaces allowed"})

	p := readPush(t, ws)
	assert.Equal(t, entity.EventError, p.Event)
	var gwerr errors.ErrorResponse
	assert.NoError(t, json.Unmarshal(p.Data, &gwerr))
	assert.Equal(t, errors.CodeEventValidationFailed, gwerr.Code)
}

func TestConnectionCapRejectsHandshake(t *testing.T) {
	h := setupHarness(t, config.GatewayConf{MaxConnPerAddr: 1})

	dial(t, h, "subjectId=clinician-1")
	_, resp, dialerr := websocket.DefaultDialer.Dial(h.wsURL("subjectId=clinician-2"), nil)
	assert.Error(t, dialerr)
	if resp != nil {
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	}
}

func TestEventFloodClosesConnection(t *testing.T) {
	h := setupHarness(t, config.GatewayConf{MaxEventsPerWindow: 2})

	ws, _ := dial(t, h, "subjectId=clinician-1")
	for i := 0; i < 3; i++ {
		sendFrame(t, ws, "noop", nil)
	}

	// The violation is fatal to the connection; the error frame itself is
	// best effort since the transport is being cut
	var readerr error
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var p push
		if readerr = ws.ReadJSON(&p); readerr != nil {
			break
		}
		if p.Event == entity.EventError {
			var gwerr errors.ErrorResponse
			if json.Unmarshal(p.Data, &gwerr) == nil {
				assert.Equal(t, errors.CodeRateLimitEvents, gwerr.Code)
			}
		}
	}
	// The read must fail because the server cut the transport, not because
	// the client side deadline ran out
	if neterr, ok := readerr.(net.Error); ok {
		assert.False(t, neterr.Timeout())
	}
}

func TestReconnectFlushesQueuedEvents(t *testing.T) {
	h := setupHarness(t, config.GatewayConf{})

	ws, resp := dial(t, h, "subjectId=clinician-1")
	sessionID := resp.Header.Get("X-Session-ID")
	assert.NotEmpty(t, sessionID)

	ws.Close()
	waitFor(t, func() bool {
		return h.gateway.Stats(ctx)["sessions_detached"] == 1
	}, "session never detached")

	// Emits targeting the detached session buffer up for redelivery
	assert.NoError(t, h.gateway.EmitToSession(ctx, sessionID, entity.EventFileAdded, map[string]string{"file": "scan.pdf"}))
	assert.NoError(t, h.gateway.EmitToSession(ctx, sessionID, entity.EventFileStatus, map[string]string{"status": "processing"}))
	assert.Equal(t, 2, h.queueSvc.Len(sessionID))

	// Resume with the retained session id, the queue drains in enqueue order
	ws2, resp2 := dial(t, h, "subjectId=clinician-1&sessionId="+sessionID)
	assert.Equal(t, sessionID, resp2.Header.Get("X-Session-ID"))

	p := readPush(t, ws2)
	assert.Equal(t, entity.EventFileAdded, p.Event)
	p = readPush(t, ws2)
	assert.Equal(t, entity.EventFileStatus, p.Event)
	assert.Equal(t, 0, h.queueSvc.Len(sessionID))
}

func TestReconnectWithForeignSubjectGetsFreshSession(t *testing.T) {
	h := setupHarness(t, config.GatewayConf{})

	ws, resp := dial(t, h, "subjectId=clinician-1")
	sessionID := resp.Header.Get("X-Session-ID")
	ws.Close()
	waitFor(t, func() bool {
		return h.gateway.Stats(ctx)["sessions_detached"] == 1
	}, "session never detached")

	// A different subject cannot adopt the retained session
	_, resp2 := dial(t, h, "subjectId=clinician-2&sessionId="+sessionID)
	assert.NotEqual(t, sessionID, resp2.Header.Get("X-Session-ID"))
}

func TestResumeFromNewAddressKeepsAdmissionBalanced(t *testing.T) {
	h := setupHarness(t, config.GatewayConf{MaxConnPerAddr: 1})

	ws, resp, dialerr := dialFrom(t, h, "subjectId=clinician-1", "203.0.113.1")
	assert.NoError(t, dialerr)
	sessionID := resp.Header.Get("X-Session-ID")
	assert.NotEmpty(t, sessionID)

	ws.Close()
	waitFor(t, func() bool {
		return h.gateway.Stats(ctx)["sessions_detached"] == 1
	}, "session never detached")

	// The retained session resumes from a different address and drops again
	ws2, resp2, dialerr2 := dialFrom(t, h, "subjectId=clinician-1&sessionId="+sessionID, "203.0.113.2")
	assert.NoError(t, dialerr2)
	assert.Equal(t, sessionID, resp2.Header.Get("X-Session-ID"))
	ws2.Close()
	waitFor(t, func() bool {
		return h.gateway.Stats(ctx)["sessions_detached"] == 1
	}, "resumed session never detached")

	// The disconnect released the slot of the address the resumed transport
	// actually held, so a fresh connection from there fits under the cap
	_, _, dialerr3 := dialFrom(t, h, "subjectId=clinician-2", "203.0.113.2")
	assert.NoError(t, dialerr3)
}

func TestNotifyRoomDeliversToMembers(t *testing.T) {
	h := setupHarness(t, config.GatewayConf{})

	ws, _ := dial(t, h, "subjectId=clinician-1")
	sendFrame(t, ws, entity.EventJoinPatientRoom, map[string]string{"room": "patient-123"})
	waitFor(t, func() bool {
		members, err := h.roomSvc.Members("patient-123")
		return err == nil && len(members) == 1
	}, "member never joined patient-123")

	body, _ := json.Marshal(map[string]interface{}{
		"event": entity.EventProcessingComplete,
		"data":  map[string]interface{}{"documentId": "doc-9", "stage": "done"},
	})
	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/api/notify/patient-123", bytes.NewReader(body))
	req.Header.Set("X-Service-Key", mockServiceKey)
	resp, posterr := http.DefaultClient.Do(req)
	assert.NoError(t, posterr)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	p := readPush(t, ws)
	assert.Equal(t, entity.EventProcessingComplete, p.Event)
}

func TestNotifyUnknownRoom(t *testing.T) {
	h := setupHarness(t, config.GatewayConf{})

	body, _ := json.Marshal(map[string]interface{}{"event": entity.EventFileAdded})
	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/api/notify/patient-404", bytes.NewReader(body))
	req.Header.Set("X-Service-Key", mockServiceKey)
	resp, posterr := http.DefaultClient.Do(req)
	assert.NoError(t, posterr)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatsRequiresServiceKey(t *testing.T) {
	h := setupHarness(t, config.GatewayConf{})

	scenarios := []struct {
		key  string
		want int
	}{
		{"", http.StatusUnauthorized},
		{"WrongKey", http.StatusForbidden},
		{mockServiceKey, http.StatusOK},
	}
	for _, sc := range scenarios {
		req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/api/gateway/stats", nil)
		if sc.key != "" {
			req.Header.Set("X-Service-Key", sc.key)
		}
		resp, geterr := http.DefaultClient.Do(req)
		assert.NoError(t, geterr)
		assert.Equal(t, sc.want, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestAdminRoomDeleteNotifiesMembers(t *testing.T) {
	h := setupHarness(t, config.GatewayConf{})

	ws, _ := dial(t, h, "subjectId=clinician-1")
	sendFrame(t, ws, entity.EventJoinPatientRoom, map[string]string{"room": "patient-123"})
	waitFor(t, func() bool {
		members, err := h.roomSvc.Members("patient-123")
		return err == nil && len(members) == 1
	}, "member never joined patient-123")

	req, _ := http.NewRequest(http.MethodDelete, h.srv.URL+"/api/room/patient-123", nil)
	req.Header.Set("X-Admin-Key", mockAdminKey)
	resp, delerr := http.DefaultClient.Do(req)
	assert.NoError(t, delerr)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	p := readPush(t, ws)
	assert.Equal(t, entity.EventRoomDeleted, p.Event)
	var deleted entity.RoomDeleted
	assert.NoError(t, json.Unmarshal(p.Data, &deleted))
	assert.Equal(t, "patient-123", deleted.Room)

	_, err := h.roomSvc.Members("patient-123")
	assert.Error(t, err)
}

func TestHandlerErrorsAreSurfaced(t *testing.T) {
	h := setupHarness(t, config.GatewayConf{})
	h.gateway.RegisterHandler("acknowledge", func(ctx context.Context, sess *entity.Session, frame entity.Frame) error {
		return fmt.Errorf("downstream store unavailable")
	})

	ws, _ := dial(t, h, "subjectId=clinician-1")
	sendFrame(t, ws, "acknowledge", nil)

	p := readPush(t, ws)
	assert.Equal(t, entity.EventError, p.Event)
	var gwerr errors.ErrorResponse
	assert.NoError(t, json.Unmarshal(p.Data, &gwerr))
	assert.Equal(t, errors.CodeEventHandlerError, gwerr.Code)
}

func TestSlowHandlerTimesOutWithoutKillingConnection(t *testing.T) {
	h := setupHarness(t, config.GatewayConf{EventTimeout: 50 * time.Millisecond})
	h.gateway.RegisterHandler("archiveDocument", func(ctx context.Context, sess *entity.Session, frame entity.Frame) error {
		time.Sleep(500 * time.Millisecond)
		return nil
	})

	ws, _ := dial(t, h, "subjectId=clinician-1")
	sendFrame(t, ws, "archiveDocument", nil)

	p := readPush(t, ws)
	assert.Equal(t, entity.EventError, p.Event)
	var gwerr errors.ErrorResponse
	assert.NoError(t, json.Unmarshal(p.Data, &gwerr))
	assert.Equal(t, errors.CodeEventTimeout, gwerr.Code)

	// One overrunning handler is not fatal, later frames still process
	sendFrame(t, ws, entity.EventJoinPatientRoom, map[string]string{"room": "patient-123"})
	waitFor(t, func() bool {
		members, err := h.roomSvc.Members("patient-123")
		return err == nil && len(members) == 1
	}, "connection did not survive the handler timeout")
}

func TestSweeperReapsRetainedSessions(t *testing.T) {
	h := setupHarness(t, config.GatewayConf{SessionRetention: time.Second})

	ws, resp := dial(t, h, "subjectId=clinician-1")
	sessionID := resp.Header.Get("X-Session-ID")
	ws.Close()

	waitFor(t, func() bool {
		return h.gateway.Stats(ctx)["sessions_detached"] == 1
	}, "session never detached")
	assert.NoError(t, h.gateway.EmitToSession(ctx, sessionID, entity.EventFileAdded, nil))

	// Past the retention window the session and its queue disappear
	waitFor(t, func() bool {
		return h.gateway.Stats(ctx)["sessions_detached"] == 0
	}, "session never reaped")
	assert.Equal(t, 0, h.queueSvc.Len(sessionID))

	emiterr := h.gateway.EmitToSession(ctx, sessionID, entity.EventFileAdded, nil)
	assert.Error(t, emiterr)
}
