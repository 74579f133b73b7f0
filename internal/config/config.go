// loads up the .env files to be used internally by Carewire.

package config

import (
	"Carewire/pkg/log"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// uses go package: godotenv to load up development enviroment variables
func LoadDevConfig() {
	err := godotenv.Load("config/dev.env")
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(-1)
	}
}

// GatewayConf carries every tunable recognized by the notification gateway.
// Zero values are replaced by the documented defaults in norm().
type GatewayConf struct {
	// Heartbeat probing
	HeartbeatInterval time.Duration
	// Latency breakpoints for connection quality classification
	QualityExcellentLt time.Duration
	QualityGoodLt      time.Duration
	QualityFairLt      time.Duration
	// Offline delivery queue
	MsgQueueMax    int
	MsgMaxAttempts int
	MsgMaxAge      time.Duration
	// Admission rate limiting
	MaxConnPerAddr     int
	MaxEventsPerWindow int
	EventWindow        time.Duration
	// Inbound event handling boundary
	EventTimeout time.Duration
	// Room registry
	ActivityLogMax    int
	RoomIdleThreshold time.Duration
	RoomReapInterval  time.Duration
	// How long a session survives transport loss waiting for a reconnect
	SessionRetention time.Duration
}

// norm fills in defaults for unset tunables.
func (c *GatewayConf) Norm() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.QualityExcellentLt <= 0 {
		c.QualityExcellentLt = 50 * time.Millisecond
	}
	if c.QualityGoodLt <= 0 {
		c.QualityGoodLt = 100 * time.Millisecond
	}
	if c.QualityFairLt <= 0 {
		c.QualityFairLt = 200 * time.Millisecond
	}
	if c.MsgQueueMax <= 0 {
		c.MsgQueueMax = 1000
	}
	if c.MsgMaxAttempts <= 0 {
		c.MsgMaxAttempts = 3
	}
	if c.MsgMaxAge <= 0 {
		c.MsgMaxAge = 5 * time.Minute
	}
	if c.MaxConnPerAddr <= 0 {
		c.MaxConnPerAddr = 10
	}
	if c.MaxEventsPerWindow <= 0 {
		c.MaxEventsPerWindow = 100
	}
	if c.EventWindow <= 0 {
		c.EventWindow = 60 * time.Second
	}
	if c.EventTimeout <= 0 {
		c.EventTimeout = 30 * time.Second
	}
	if c.ActivityLogMax <= 0 {
		c.ActivityLogMax = 1000
	}
	if c.RoomIdleThreshold <= 0 {
		c.RoomIdleThreshold = 24 * time.Hour
	}
	if c.RoomReapInterval <= 0 {
		c.RoomReapInterval = time.Hour
	}
	if c.SessionRetention <= 0 {
		c.SessionRetention = 5 * time.Minute
	}
}

// GatewayConfFromEnv builds a GatewayConf out of environment variables,
// falling back to defaults for anything unset or unparsable.
func GatewayConfFromEnv(logger log.Logger) GatewayConf {
	conf := GatewayConf{
		HeartbeatInterval:  envDuration(logger, "HEARTBEAT_INTERVAL"),
		QualityExcellentLt: envDuration(logger, "QUALITY_EXCELLENT_LT"),
		QualityGoodLt:      envDuration(logger, "QUALITY_GOOD_LT"),
		QualityFairLt:      envDuration(logger, "QUALITY_FAIR_LT"),
		MsgQueueMax:        envInt(logger, "MSG_QUEUE_MAX"),
		MsgMaxAttempts:     envInt(logger, "MSG_MAX_ATTEMPTS"),
		MsgMaxAge:          envDuration(logger, "MSG_MAX_AGE"),
		MaxConnPerAddr:     envInt(logger, "MAX_CONN_PER_ADDR"),
		MaxEventsPerWindow: envInt(logger, "MAX_EVENTS_PER_WINDOW"),
		EventWindow:        envDuration(logger, "EVENT_WINDOW"),
		EventTimeout:       envDuration(logger, "EVENT_TIMEOUT"),
		ActivityLogMax:     envInt(logger, "ACTIVITY_LOG_MAX"),
		RoomIdleThreshold:  envDuration(logger, "ROOM_IDLE_THRESHOLD"),
		RoomReapInterval:   envDuration(logger, "ROOM_REAP_INTERVAL"),
		SessionRetention:   envDuration(logger, "SESSION_RETENTION"),
	}
	conf.Norm()
	return conf
}

// Helper to read a duration tunable from ENV, 0 means unset.
func envDuration(logger log.Logger, key string) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0
	}
	d, prserr := time.ParseDuration(raw)
	if prserr != nil {
		// Couldn't parse the duration, default will be used instead
		logger.Warn().Err(prserr).Msg("Couldn't parse ENV: " + key)
		return 0
	}
	return d
}

// Helper to read an integer tunable from ENV, 0 means unset.
func envInt(logger log.Logger, key string) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0
	}
	n, prserr := strconv.Atoi(raw)
	if prserr != nil {
		// Couldn't convert to int, default will be used instead
		logger.Warn().Err(prserr).Msg("Couldn't parse ENV: " + key)
		return 0
	}
	return n
}
