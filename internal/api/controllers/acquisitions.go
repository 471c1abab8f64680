package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/pspdemo/isoload/internal/app"
	"github.com/pspdemo/isoload/internal/domain"
	"github.com/pspdemo/isoload/internal/store"
)

// Acquirer is the part of the coordinator the API drives.
type Acquirer interface {
	Ensure(ctx context.Context) (<-chan domain.Event, error)
	Cancel() bool
	Status() domain.Status
}

type AcquisitionController struct {
	App         *app.Context
	Coordinator Acquirer
}

// Start kicks off an acquisition and returns without waiting for it.
func (ctrl *AcquisitionController) Start(c *echo.Context) error {
	events, err := ctrl.Coordinator.Ensure(c.Request().Context())
	if errors.Is(err, domain.ErrInFlight) {
		return c.JSON(http.StatusConflict, StartResponse{Started: false, Status: ctrl.Coordinator.Status()})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}

	// Nobody watches the stream over HTTP; clients poll the status instead
	go func() {
		for ev := range events {
			if ev.Kind == domain.EventFailed {
				ctrl.App.Logger.Warn("Acquisition %s failed: %v", ev.JobID, ev.Err)
			}
		}
	}()

	return c.JSON(http.StatusAccepted, StartResponse{Started: true, Status: ctrl.Coordinator.Status()})
}

func (ctrl *AcquisitionController) Current(c *echo.Context) error {
	return c.JSON(http.StatusOK, ctrl.Coordinator.Status())
}

func (ctrl *AcquisitionController) Cancel(c *echo.Context) error {
	if !ctrl.Coordinator.Cancel() {
		return c.JSON(http.StatusNotFound, CancelResponse{Canceled: false})
	}
	return c.JSON(http.StatusOK, CancelResponse{Canceled: true})
}

// List returns the acquisition history, newest first.
func (ctrl *AcquisitionController) List(c *echo.Context) error {
	if ctrl.App.Store == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "history store disabled"})
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
		}
		limit = n
	}

	items, err := ctrl.App.Store.ListAcquisitions(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	if items == nil {
		items = []*domain.AcquisitionRecord{}
	}
	return c.JSON(http.StatusOK, HistoryResponse{Items: items})
}

func (ctrl *AcquisitionController) Get(c *echo.Context) error {
	if ctrl.App.Store == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "history store disabled"})
	}

	rec, err := ctrl.App.Store.GetAcquisition(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, rec)
}
