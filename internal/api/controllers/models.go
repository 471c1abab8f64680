package controllers

import "github.com/pspdemo/isoload/internal/domain"

// StartResponse is returned when an acquisition is started or rejected.
type StartResponse struct {
	Started bool          `json:"started"`
	Status  domain.Status `json:"status"`
}

type CancelResponse struct {
	Canceled bool `json:"canceled"`
}

type HistoryResponse struct {
	Items []*domain.AcquisitionRecord `json:"items"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
