package api

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/RMahshie/qubitcal/internal/api/handlers"
)

// RegisterRoutes sets up all API routes
func RegisterRoutes(api huma.API, h *handlers.SpectroscopyHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "getState",
		Method:      http.MethodGet,
		Path:        "/api/state",
		Summary:     "Get machine state",
		Description: "Returns the stored machine state",
		Tags:        []string{"State"},
	}, h.GetState)

	huma.Register(api, huma.Operation{
		OperationID: "getConfig",
		Method:      http.MethodGet,
		Path:        "/api/config",
		Summary:     "Get controller configuration",
		Description: "Builds the controller configuration from the stored state",
		Tags:        []string{"State"},
	}, h.GetConfig)

	huma.Register(api, huma.Operation{
		OperationID: "startSpectroscopy",
		Method:      http.MethodPost,
		Path:        "/api/spectroscopy",
		Summary:     "Run resonator spectroscopy",
		Description: "Sweeps every readout resonator, fits the traces and returns the finished run",
		Tags:        []string{"Spectroscopy"},
	}, h.StartSpectroscopy)

	huma.Register(api, huma.Operation{
		OperationID: "listRuns",
		Method:      http.MethodGet,
		Path:        "/api/runs",
		Summary:     "List runs",
		Description: "Returns the most recent spectroscopy runs",
		Tags:        []string{"Spectroscopy"},
	}, h.ListRuns)

	huma.Register(api, huma.Operation{
		OperationID: "getRun",
		Method:      http.MethodGet,
		Path:        "/api/runs/{id}",
		Summary:     "Get run status",
		Description: "Returns the status and progress of a run",
		Tags:        []string{"Spectroscopy"},
	}, h.GetRun)

	huma.Register(api, huma.Operation{
		OperationID: "getRunResults",
		Method:      http.MethodGet,
		Path:        "/api/runs/{id}/results",
		Summary:     "Get run results",
		Description: "Returns the per-resonator traces and fits of a completed run",
		Tags:        []string{"Spectroscopy"},
	}, h.GetRunResults)

	huma.Register(api, huma.Operation{
		OperationID: "getRunArchive",
		Method:      http.MethodGet,
		Path:        "/api/runs/{id}/archive",
		Summary:     "Get archived run data",
		Description: "Returns a pre-signed URL for the raw traces of a run",
		Tags:        []string{"Spectroscopy"},
	}, h.GetArchiveURL)

	huma.Register(api, huma.Operation{
		OperationID: "getRunTraces",
		Method:      http.MethodGet,
		Path:        "/api/runs/{id}/traces",
		Summary:     "Download run traces",
		Description: "Returns the archived raw traces of a run",
		Tags:        []string{"Spectroscopy"},
	}, h.GetTraces)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteRun",
		Method:        http.MethodDelete,
		Path:          "/api/runs/{id}",
		Summary:       "Delete run",
		Description:   "Removes a finished run with its results and archived data",
		Tags:          []string{"Spectroscopy"},
		DefaultStatus: http.StatusNoContent,
	}, h.DeleteRun)
}
