// Room REST API tests in Carewire.

package room

import (
	"Carewire/internal/test"
	"bytes"
	"net/http"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

// Global instance of gin MockRouter to be used during room API testing.
var mockRouter *gin.Engine

// Helper to build up a mock router instance for testing Carewire.
func setupMockRouter() {
	mockRouter = test.MockRouter()

	// Middleware behavior is covered by the gateway tests, the REST
	// handlers are exercised with pass-through auth here
	passAuth := func(gctx *gin.Context) { gctx.Next() }

	service, _ := newTestService(Conf{})
	for _, key := range []string{"patient-members", "patient-activity", "patient-doomed"} {
		if err := service.Join(ctx, newTestSession("session-"+key), key); err != nil {
			logger.Fatal().Err(err).Msg("Couldn't seed room " + key + ", Aborting test run.")
		}
	}

	// Register internal package room handler
	APIHandlers(mockRouter, service, passAuth, passAuth, logger)
}

func TestMain(m *testing.M) {
	// Load test.env
	enverr := godotenv.Load("../../config/test.env")
	if enverr != nil {
		// Error during loading test.env, abort test run immediately
		os.Exit(4)
	}
	setupMockRouter()
	os.Exit(m.Run())
}

func TestGetMembersAPI(t *testing.T) {
	scenarios := map[string]test.RequestAPITest{
		"KnownRoom": {
			Method:       http.MethodGet,
			Path:         "/api/room/patient-members/members",
			Body:         bytes.NewReader([]byte{}),
			WantResponse: []int{http.StatusOK},
		},
		"UnknownRoom": {
			Method:       http.MethodGet,
			Path:         "/api/room/patient-404/members",
			Body:         bytes.NewReader([]byte{}),
			WantResponse: []int{http.StatusNotFound},
		},
	}
	for name, request := range scenarios {
		request := request
		t.Run(name, func(t *testing.T) {
			test.ExecuteAPITest(logger, t, mockRouter, request)
		})
	}
}

func TestGetActivityAPI(t *testing.T) {
	scenarios := map[string]test.RequestAPITest{
		"KnownRoom": {
			Method:       http.MethodGet,
			Path:         "/api/room/patient-activity/activity",
			Body:         bytes.NewReader([]byte{}),
			WantResponse: []int{http.StatusOK},
		},
		"UnknownRoom": {
			Method:       http.MethodGet,
			Path:         "/api/room/patient-404/activity",
			Body:         bytes.NewReader([]byte{}),
			WantResponse: []int{http.StatusNotFound},
		},
	}
	for name, request := range scenarios {
		request := request
		t.Run(name, func(t *testing.T) {
			test.ExecuteAPITest(logger, t, mockRouter, request)
		})
	}
}

func TestDeleteRoomAPI(t *testing.T) {
	// First deletion succeeds, repeating it hits an unknown room
	test.ExecuteAPITest(logger, t, mockRouter, test.RequestAPITest{
		Method:       http.MethodDelete,
		Path:         "/api/room/patient-doomed",
		Body:         bytes.NewReader([]byte{}),
		WantResponse: []int{http.StatusOK},
	})
	test.ExecuteAPITest(logger, t, mockRouter, test.RequestAPITest{
		Method:       http.MethodDelete,
		Path:         "/api/room/patient-doomed",
		Body:         bytes.NewReader([]byte{}),
		WantResponse: []int{http.StatusNotFound},
	})
}
