package models

import (
	"time"

	"github.com/RMahshie/qubitcal/internal/hwconfig"
	"github.com/RMahshie/qubitcal/internal/state"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Body struct {
		Status  string    `json:"status" example:"healthy" doc:"Service health status"`
		Version string    `json:"version" example:"1.0.0" doc:"API version"`
		Time    time.Time `json:"time" doc:"Current server time"`
	}
}

// GetStateResponse returns the current machine state
type GetStateResponse struct {
	Body *state.Machine
}

// GetConfigResponse returns the controller configuration built from the state
type GetConfigResponse struct {
	Body *hwconfig.Config
}

// StartSpectroscopyRequest represents a request to run resonator spectroscopy
type StartSpectroscopyRequest struct {
	Body struct {
		Simulate      *bool    `json:"simulate,omitempty" doc:"Use the loopback simulator instead of the execution service"`
		NAvg          int      `json:"n_avg,omitempty" minimum:"0" maximum:"1000000" doc:"Averaging repetitions"`
		DepletionTime *int     `json:"depletion_time,omitempty" minimum:"0" doc:"Wait between measurements in ns"`
		SweepStart    *float64 `json:"sweep_start,omitempty" doc:"First frequency offset in Hz"`
		SweepStop     *float64 `json:"sweep_stop,omitempty" doc:"Exclusive upper offset bound in Hz"`
		SweepStep     *float64 `json:"sweep_step,omitempty" doc:"Offset step in Hz"`
		SaveState     *bool    `json:"save_state,omitempty" doc:"Write fitted resonances back to the state"`
		Sequential    *bool    `json:"sequential,omitempty" doc:"Measure the resonators one after another instead of simultaneously"`
	}
}

// StartSpectroscopyResponse represents the finished run
type StartSpectroscopyResponse struct {
	Body RunResults
}

// GetRunRequest represents a request addressed to one run
type GetRunRequest struct {
	ID string `path:"id" doc:"Run ID"`
}

// GetRunResponse represents the status of a run
type GetRunResponse struct {
	Body *SpectroscopyRun
}

// GetRunResultsResponse represents a run with its channel results
type GetRunResultsResponse struct {
	Body RunResults
}

// ListRunsResponse represents recent runs
type ListRunsResponse struct {
	Body struct {
		Runs []*SpectroscopyRun `json:"runs" doc:"Most recent runs first"`
	}
}

// ListRunsRequest represents a request for recent runs
type ListRunsRequest struct {
	Limit int `query:"limit" default:"20" minimum:"1" maximum:"200" doc:"Maximum number of runs"`
}

// GetArchiveURLResponse represents a download link for archived run data
type GetArchiveURLResponse struct {
	Body struct {
		Key       string `json:"key" doc:"Archive object key"`
		URL       string `json:"url" doc:"Pre-signed download URL"`
		ExpiresIn int    `json:"expires_in" doc:"Seconds until the URL expires"`
	}
}

// GetTracesResponse carries the archived raw traces of a run
type GetTracesResponse struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}
