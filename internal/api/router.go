package api

import (
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/pspdemo/isoload/internal/api/controllers"
	"github.com/pspdemo/isoload/internal/app"
)

func RegisterRoutes(e *echo.Echo, app *app.Context, coordinator controllers.Acquirer) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	acqCtrl := &controllers.AcquisitionController{App: app, Coordinator: coordinator}

	// Current acquisition: start, inspect, cancel
	e.POST("/api/acquisitions/current", acqCtrl.Start)
	e.GET("/api/acquisitions/current", acqCtrl.Current)
	e.DELETE("/api/acquisitions/current", acqCtrl.Cancel)

	// History
	e.GET("/api/acquisitions", acqCtrl.List)
	e.GET("/api/acquisitions/:id", acqCtrl.Get)
}
