// Package http provides the HTTP server implementation for the workflow
// engine.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/agentboard/orchestrator/internal/workflow"
	v1 "github.com/agentboard/orchestrator/internal/transport/http/v1"
)

// NewServer creates and configures the HTTP server exposing the workflow
// and run APIs.
func NewServer(defs *workflow.Definitions, sched *workflow.Scheduler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(defs, sched)
	v1Handler.RegisterRoutes(e)

	return e
}
