// Package logger provides structured logging for the CoSim control plane
// using zerolog.
//
// Initialize is called once at process start in each cmd/ binary; component
// loggers (Orchestrator, Agent, Signaling, Quota, DB) attach a "component"
// field so log aggregation can filter by subsystem.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global logger instance. Use the component helpers below for
// subsystem-scoped logging.
var Log zerolog.Logger

// Initialize configures the global logger.
//
//	logger.Initialize("info", false, "orchestrator") // production JSON
//	logger.Initialize("debug", true, "simagent")     // pretty console
func Initialize(level string, pretty bool, service string) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", service).Logger()
	Log.Info().Str("level", logLevel.String()).Bool("pretty", pretty).Msg("logger initialized")
}

func component(name string) *zerolog.Logger {
	l := Log.With().Str("component", name).Logger()
	return &l
}

// Orchestrator returns a logger scoped to the Session Orchestrator.
func Orchestrator() *zerolog.Logger { return component("orchestrator") }

// Agent returns a logger scoped to the Simulation Agent.
func Agent() *zerolog.Logger { return component("simagent") }

// Signaling returns a logger scoped to the Media Signaling Plane.
func Signaling() *zerolog.Logger { return component("signaling") }

// Quota returns a logger scoped to quota enforcement.
func Quota() *zerolog.Logger { return component("quota") }

// DB returns a logger scoped to persistence.
func DB() *zerolog.Logger { return component("db") }

// Events returns a logger scoped to the NATS event bus.
func Events() *zerolog.Logger { return component("events") }

// PodAlloc returns a logger scoped to node-pool allocation.
func PodAlloc() *zerolog.Logger { return component("podalloc") }
