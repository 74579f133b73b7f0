// The main file of Carewire.

package main

import (
	"Carewire/internal/admission"
	"Carewire/internal/config"
	"Carewire/internal/gateway"
	"Carewire/internal/health"
	"Carewire/internal/identity"
	"Carewire/internal/queue"
	"Carewire/internal/room"
	"Carewire/pkg/cleanup"
	"Carewire/pkg/db"
	"Carewire/pkg/log"
	"Carewire/pkg/middlewares"
	"Carewire/pkg/validations"
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/gin-gonic/gin"
)

var (
	// Indicates the current version of Carewire.
	Version = "1.0.0"
	// Address and Port to be used by gin.
	srvaddr, srvport string
)

func init() {
	if len(os.Getenv("ENV")) == 0 {
		fmt.Println("os couldn't load ENV.")
		os.Exit(-1)
	}
	if os.Getenv("ENV") == "DEV" {
		// Load DEV configurations
		config.LoadDevConfig()
		// This is the preferred mode used by gin server in DEV environment
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	// Fetching addr and port depending upon env flag
	srvaddr, srvport = os.Getenv("SRV_ADDR"), os.Getenv("SRV_PORT")
}

func main() {
	// Initializing the logger
	logger := log.New(Version)
	logger.Info().Msg(fmt.Sprintf("Welcome to Carewire: v%s", Version))
	logger.Info().Msg(fmt.Sprintf("Carewire Environment: %s", os.Getenv("ENV")))

	ctx := context.Background()
	dev := os.Getenv("ENV") == "DEV"

	// Opening a connection to the Redis mirror and verifying it with a PING.
	client := db.NewDbConnection(ctx, logger)
	client.CheckDbConnection(ctx, logger)

	// Registering custom validation tags to be used by services in Carewire.
	govalidator.SetFieldsRequiredByDefault(true)
	validations.RegisterCustomValidations(ctx, logger)

	// Building every service layer of the gateway from environment tunables.
	conf := config.GatewayConfFromEnv(logger)
	conf.Norm()

	identitySvc := identity.NewService(os.Getenv("GATEWAY_SIGNING_KEY"), logger)
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
	roomRepo := room.NewRepository(client)
	roomSvc := room.NewService(room.Conf{
		ActivityLogMax: conf.ActivityLogMax,
		IdleThreshold:  conf.RoomIdleThreshold,
		ReapInterval:   conf.RoomReapInterval,
	}, roomRepo, logger)
	gwSvc := gateway.NewService(conf, dev, identitySvc, admissionSvc, healthSvc, queueSvc, roomSvc, roomRepo, logger)

	// The room service pushes roomUpdate and roomDeleted broadcasts through the gateway.
	roomSvc.AttachEmitter(gwSvc)
	roomSvc.Start(ctx)

	// Initializing the gin server.
	server := gin.New()

	// Forcing gin to use custom Logger instead of the default one.
	server.Use(log.LoggerGinExtension(logger))
	server.Use(gin.Recovery())
	server.Use(middlewares.CORSMiddleware(os.Getenv("CORS_ALLOWED_ORIGIN")))
	server.Use(middlewares.CorrelationMiddleware(logger))

	// Middlewares guarding the service and admin surfaces.
	serviceAuth := gateway.ServiceAuthMiddleware(logger, os.Getenv("SERVICE_KEY"))
	adminAuth := gateway.AdminAuthMiddleware(logger, os.Getenv("ADMIN_KEY_HASH"))

	// Running Router() which routes all of the REST API groups and paths.
	Router(server, gwSvc, roomSvc, serviceAuth, adminAuth, logger)

	// Running the server with defined addr and port.
	srv := &http.Server{
		Addr:    srvaddr + ":" + srvport,
		Handler: server,
	}

	// ListenAndServe is a blocking operation, putting it a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Error in ListenAndServe()")
		}
	}()

	// Graceful shutdown of Carewire server triggered due to system interruptions.
	wait := cleanup.GracefulShutdown(context.Background(), logger, 5*time.Second, map[string]cleanup.Operation{
		"Gin": func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
		"Gateway": func(ctx context.Context) error {
			gwSvc.Close()
			return nil
		},
		"Rooms": func(ctx context.Context) error {
			roomSvc.Stop()
			return nil
		},
		"Redis-server": func(ctx context.Context) error {
			return client.CloseDbConnection(ctx)
		},
	})
	<-wait
}
